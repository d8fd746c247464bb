package video

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	ffmpeg "github.com/u2takey/ffmpeg-go"

	"github.com/badespider/videoeditor-sub000/log"
)

// Upload preprocessing policy. Large or high-bitrate sources are shrunk
// before the long haul to the understanding service; everything else just
// gets its moov atom moved up front.
const (
	maxUploadSizeMB    = 400
	maxUploadHeight    = 720
	maxUploadBitrateK  = 2500
	remuxTimeout       = 600 * time.Second
	progressLogEvery   = 30 * time.Second
	transcodeMinTime   = 900 * time.Second
	transcodeMaxTime   = 7200 * time.Second
	transcodeFixedTime = 600 * time.Second
)

// NeedsTranscode reports whether the probed source exceeds the upload
// policy: too big, too tall, too high a bitrate, or not H.264.
func NeedsTranscode(iv InputVideo) bool {
	if iv.SizeBytes > maxUploadSizeMB*1024*1024 {
		return true
	}
	track, ok := iv.VideoTrack()
	if !ok {
		return false
	}
	if track.Height > maxUploadHeight {
		return true
	}
	if track.Bitrate > maxUploadBitrateK*1000 {
		return true
	}
	if !strings.EqualFold(track.Codec, "h264") {
		return true
	}
	return false
}

// TargetBitrateKbps sizes the video bitrate so the transcode lands near the
// upload size cap, clamped to a sane range for the source resolution.
func TargetBitrateKbps(durationSec float64, sourceHeight int64) int {
	if durationSec <= 0 {
		durationSec = 1
	}
	kbps := int(float64(maxUploadSizeMB*8*1024) / durationSec)

	min, max := 800, 1800
	switch {
	case sourceHeight >= 1080:
		min, max = 2000, 4000
	case sourceHeight >= 720:
		min, max = 1200, 2500
	}
	if kbps < min {
		return min
	}
	if kbps > max {
		return max
	}
	return kbps
}

// TranscodeTimeout scales the encode deadline with the source duration.
func TranscodeTimeout(durationSec float64) time.Duration {
	timeout := time.Duration(durationSec*2)*time.Second + transcodeFixedTime
	if timeout < transcodeMinTime {
		timeout = transcodeMinTime
	}
	if timeout > transcodeMaxTime {
		timeout = transcodeMaxTime
	}
	return timeout
}

// OptimizeForUpload prepares the source for upload to the understanding
// service: a full 720p transcode when the policy demands it, otherwise a
// stream-copy remux that only moves the moov atom to the front.
func OptimizeForUpload(ctx context.Context, jobID, srcPath, outPath string, iv InputVideo) error {
	if !NeedsTranscode(iv) {
		log.Log(jobID, "source within upload policy, remuxing with faststart")
		stream := ffmpeg.Input(srcPath).
			Output(outPath, ffmpeg.KwArgs{
				"c":       "copy",
				"movflags": "+faststart",
			})
		if err := runFFmpeg(ctx, jobID, "faststart remux", stream, remuxTimeout); err != nil {
			return err
		}
		return assertOutput("faststart remux", outPath)
	}

	track, _ := iv.VideoTrack()
	bitrateKbps := TargetBitrateKbps(iv.Duration, track.Height)
	timeout := TranscodeTimeout(iv.Duration)
	log.Log(jobID, "transcoding source for upload",
		"size_mb", iv.SizeBytes/1024/1024, "height", track.Height, "codec", track.Codec,
		"target_kbps", bitrateKbps, "timeout", timeout)

	progressPath := outPath + ".progress"
	defer os.Remove(progressPath)

	monitorCtx, stopMonitor := context.WithCancel(ctx)
	defer stopMonitor()
	go monitorProgress(monitorCtx, jobID, progressPath, iv.Duration)

	args := ffmpeg.KwArgs{
		"c:v":      "libx264",
		"preset":   "fast",
		"pix_fmt":  "yuv420p",
		"b:v":      fmt.Sprintf("%dk", bitrateKbps),
		"maxrate":  fmt.Sprintf("%dk", bitrateKbps*12/10),
		"bufsize":  "3000k",
		"r":        30,
		"c:a":      "aac",
		"b:a":      "64k",
		"ar":       44100,
		"ac":       2,
		"movflags": "+faststart",
		"progress": progressPath,
	}
	if vf := transcodeFilter(track.Height); vf != "" {
		args["vf"] = vf
	}
	stream := ffmpeg.Input(srcPath).Output(outPath, args)
	if err := runFFmpeg(ctx, jobID, "upload transcode", stream, timeout); err != nil {
		return err
	}
	return assertOutput("upload transcode", outPath)
}

// transcodeFilter downscales tall sources to 720p. Sources already at or
// below the cap keep their resolution; upscaling only wastes bitrate.
func transcodeFilter(height int64) string {
	if height <= maxUploadHeight {
		return ""
	}
	return "scale=1280:720:force_original_aspect_ratio=decrease,pad=1280:720:(ow-iw)/2:(oh-ih)/2,setsar=1"
}

// monitorProgress tails ffmpeg's -progress file and logs the encode position
// periodically so long transcodes are visibly alive.
func monitorProgress(ctx context.Context, jobID, progressPath string, totalDuration float64) {
	ticker := time.NewTicker(progressLogEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			outTime := lastOutTime(progressPath)
			if outTime <= 0 {
				continue
			}
			pct := 0.0
			if totalDuration > 0 {
				pct = outTime / totalDuration * 100
			}
			log.Log(jobID, "transcode progress", "position", fmt.Sprintf("%.0fs", outTime), "pct", fmt.Sprintf("%.1f", pct))
		}
	}
}

// lastOutTime extracts the most recent out_time_ms entry from a -progress
// file. Returns seconds, or 0 when unavailable.
func lastOutTime(progressPath string) float64 {
	file, err := os.Open(progressPath)
	if err != nil {
		return 0
	}
	defer file.Close()

	var last float64
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "out_time_ms=") {
			continue
		}
		if micros, err := strconv.ParseInt(strings.TrimPrefix(line, "out_time_ms="), 10, 64); err == nil {
			last = float64(micros) / 1e6
		}
	}
	return last
}
