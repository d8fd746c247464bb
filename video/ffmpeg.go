package video

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"time"

	ffmpeg "github.com/u2takey/ffmpeg-go"

	"github.com/badespider/videoeditor-sub000/errors"
	"github.com/badespider/videoeditor-sub000/log"
)

// runFFmpeg executes a compiled ffmpeg invocation with a hard timeout,
// capturing stderr for error reporting.
func runFFmpeg(ctx context.Context, jobID, op string, stream *ffmpeg.Stream, timeout time.Duration) error {
	var stderr bytes.Buffer
	cmd := stream.OverWriteOutput().Compile()
	cmd.Stderr = &stderr

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return errors.NewMediaToolchainError(op, fmt.Sprintf("could not start ffmpeg: %s", err), "")
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-runCtx.Done():
		_ = cmd.Process.Kill()
		<-done
		return errors.NewMediaToolchainError(op, fmt.Sprintf("timed out after %s", timeout), stderr.String())
	case err := <-done:
		if err != nil {
			return errors.NewMediaToolchainError(op, err.Error(), stderr.String())
		}
	}
	log.Log(jobID, "ffmpeg step finished", "op", op, "took", time.Since(start).Round(time.Millisecond))
	return nil
}

// assertOutput fails when an expected intermediate is missing or empty, so a
// silently-broken encode surfaces at the step that produced it.
func assertOutput(op, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return errors.NewMediaToolchainError(op, fmt.Sprintf("expected output %s is missing", path), "")
	}
	if info.Size() == 0 {
		return errors.NewMediaToolchainError(op, fmt.Sprintf("expected output %s is empty", path), "")
	}
	return nil
}

// formatTime renders seconds in ffmpeg's HH:MM:SS.mmm syntax.
func formatTime(timeSeconds float64) string {
	timeMillis := int64(timeSeconds * 1000)
	duration := time.Duration(timeMillis) * time.Millisecond
	formattedTime := time.Date(0, 1, 1, 0, 0, 0, 0, time.UTC).Add(duration)
	return formattedTime.Format("15:04:05.000")
}
