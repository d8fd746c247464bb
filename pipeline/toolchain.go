package pipeline

import (
	"context"

	"github.com/badespider/videoeditor-sub000/video"
)

// Toolchain is the media-tool surface the worker drives. Production uses
// FFmpegToolchain; tests substitute a stub so no encoder binaries run.
type Toolchain interface {
	Probe(ctx context.Context, path string) (video.InputVideo, error)
	Duration(ctx context.Context, path string) (float64, error)
	Optimize(ctx context.Context, jobID, srcPath, outPath string, iv video.InputVideo) error
	ExtractAudioClip(ctx context.Context, jobID, srcPath string, start, end float64, outPath string) error
	ConcatAudioMP3(ctx context.Context, jobID string, inputs []string, outPath string) error
	Stitch(ctx context.Context, jobID, workDir string, scenes []video.StitchScene, outPath string, onScene func(done int)) error
	Protect(ctx context.Context, jobID, workDir, srcPath, outPath string) error
}

type FFmpegToolchain struct{}

func (FFmpegToolchain) Probe(ctx context.Context, path string) (video.InputVideo, error) {
	return video.ProbeFile(ctx, path)
}

func (FFmpegToolchain) Duration(ctx context.Context, path string) (float64, error) {
	return video.MediaDuration(ctx, path)
}

func (FFmpegToolchain) Optimize(ctx context.Context, jobID, srcPath, outPath string, iv video.InputVideo) error {
	return video.OptimizeForUpload(ctx, jobID, srcPath, outPath, iv)
}

func (FFmpegToolchain) ExtractAudioClip(ctx context.Context, jobID, srcPath string, start, end float64, outPath string) error {
	return video.ExtractAudioClip(ctx, jobID, srcPath, start, end, outPath)
}

func (FFmpegToolchain) ConcatAudioMP3(ctx context.Context, jobID string, inputs []string, outPath string) error {
	return video.ConcatAudioMP3(ctx, jobID, inputs, outPath)
}

func (FFmpegToolchain) Stitch(ctx context.Context, jobID, workDir string, scenes []video.StitchScene, outPath string, onScene func(done int)) error {
	return video.ElasticStitch(ctx, jobID, workDir, scenes, outPath, onScene)
}

func (FFmpegToolchain) Protect(ctx context.Context, jobID, workDir, srcPath, outPath string) error {
	return video.ApplyProtection(ctx, jobID, workDir, srcPath, outPath)
}
