package video

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	ffmpeg "github.com/u2takey/ffmpeg-go"

	"github.com/badespider/videoeditor-sub000/log"
)

// Elastic stitching: every scene's video segment is time-stretched to the
// length of its narration, then everything is concatenated and muxed with
// the narration track.
const (
	minStretchFactor = 0.1
	maxStretchFactor = 10.0
	sceneTimeout     = 900 * time.Second
	concatTimeout    = 3600 * time.Second
)

// StitchScene is one scene of the final cut: a source range plus the
// narration audio whose length the video must be stretched to.
type StitchScene struct {
	Index      int
	SourcePath string
	Start      float64
	End        float64
	AudioPath  string
	AudioLen   float64
}

// StretchFactor is the setpts multiplier fitting a source span to the
// narration length, clamped so extreme ratios stay watchable.
func StretchFactor(targetLen, sourceLen float64) float64 {
	if sourceLen <= 0 {
		return 1.0
	}
	factor := targetLen / sourceLen
	if factor < minStretchFactor {
		return minStretchFactor
	}
	if factor > maxStretchFactor {
		return maxStretchFactor
	}
	return factor
}

// ElasticStitch renders the final recap from scenes: extract each source
// span, stretch it to its narration length, concatenate all spans, join the
// narration audio and mux the two.
func ElasticStitch(ctx context.Context, jobID, workDir string, scenes []StitchScene, outPath string, onScene func(done int)) error {
	if len(scenes) == 0 {
		return fmt.Errorf("no scenes to stitch")
	}

	stitchDir := filepath.Join(workDir, "stitch")
	if err := os.MkdirAll(stitchDir, 0755); err != nil {
		return err
	}

	videoParts := make([]string, 0, len(scenes))
	audioParts := make([]string, 0, len(scenes))
	for i, scene := range scenes {
		rawPath := filepath.Join(stitchDir, fmt.Sprintf("raw_%03d.mp4", i))
		if err := extractSceneClip(ctx, jobID, scene, rawPath); err != nil {
			return err
		}

		sourceLen := scene.End - scene.Start
		factor := StretchFactor(scene.AudioLen, sourceLen)
		stretchedPath := filepath.Join(stitchDir, fmt.Sprintf("stretched_%03d.mp4", i))
		if err := stretchClip(ctx, jobID, rawPath, stretchedPath, factor); err != nil {
			return err
		}
		log.Log(jobID, "scene prepared", "scene", scene.Index, "source_len", fmt.Sprintf("%.1fs", sourceLen),
			"audio_len", fmt.Sprintf("%.1fs", scene.AudioLen), "stretch", fmt.Sprintf("%.2f", factor))

		videoParts = append(videoParts, stretchedPath)
		audioParts = append(audioParts, scene.AudioPath)
		if onScene != nil {
			onScene(i + 1)
		}
	}

	concatVideoPath := filepath.Join(stitchDir, "video_concat.mp4")
	if err := concatVideo(ctx, jobID, videoParts, concatVideoPath); err != nil {
		return err
	}

	concatAudioPath := filepath.Join(stitchDir, "audio_concat.m4a")
	if err := ConcatAudio(ctx, jobID, audioParts, concatAudioPath); err != nil {
		return err
	}

	return muxFinal(ctx, jobID, concatVideoPath, concatAudioPath, outPath)
}

// extractSceneClip re-encodes the source span without audio. Re-encoding
// here keeps keyframes clean for the later stretch and concat steps.
func extractSceneClip(ctx context.Context, jobID string, scene StitchScene, outPath string) error {
	if scene.End <= scene.Start {
		return fmt.Errorf("scene %d has invalid range %f..%f", scene.Index, scene.Start, scene.End)
	}
	stream := ffmpeg.Input(scene.SourcePath, ffmpeg.KwArgs{
		"ss": formatTime(scene.Start),
		"t":  formatTime(scene.End - scene.Start),
	}).
		Output(outPath, ffmpeg.KwArgs{
			"an":      "",
			"c:v":     "libx264",
			"b:v":     "2M",
			"pix_fmt": "yuv420p",
			"preset":  "fast",
		})
	if err := runFFmpeg(ctx, jobID, "extract scene", stream, sceneTimeout); err != nil {
		return err
	}
	return assertOutput("extract scene", outPath)
}

func stretchClip(ctx context.Context, jobID, srcPath, outPath string, factor float64) error {
	stream := ffmpeg.Input(srcPath).
		Output(outPath, ffmpeg.KwArgs{
			"vf":      fmt.Sprintf("setpts=%.6f*PTS", factor),
			"an":      "",
			"c:v":     "libx264",
			"pix_fmt": "yuv420p",
			"preset":  "fast",
		})
	if err := runFFmpeg(ctx, jobID, "stretch scene", stream, sceneTimeout); err != nil {
		return err
	}
	return assertOutput("stretch scene", outPath)
}

func concatVideo(ctx context.Context, jobID string, inputs []string, outPath string) error {
	listPath := filepath.Join(filepath.Dir(outPath), "video_concat.txt")
	if err := writeConcatList(listPath, inputs); err != nil {
		return err
	}
	defer os.Remove(listPath)

	stream := ffmpeg.Input(listPath, ffmpeg.KwArgs{"f": "concat", "safe": 0}).
		Output(outPath, ffmpeg.KwArgs{
			"an":      "",
			"c:v":     "libx264",
			"pix_fmt": "yuv420p",
			"preset":  "fast",
		})
	if err := runFFmpeg(ctx, jobID, "concat video", stream, concatTimeout); err != nil {
		return err
	}
	return assertOutput("concat video", outPath)
}

// muxFinal pairs the stretched video with the narration track. Video is
// stream-copied; -shortest guards against drift between the two.
func muxFinal(ctx context.Context, jobID, videoPath, audioPath, outPath string) error {
	videoIn := ffmpeg.Input(videoPath)
	audioIn := ffmpeg.Input(audioPath)
	stream := ffmpeg.Output([]*ffmpeg.Stream{videoIn, audioIn}, outPath, ffmpeg.KwArgs{
		"c:v":      "copy",
		"c:a":      "aac",
		"shortest": "",
		"movflags": "+faststart",
	})
	if err := runFFmpeg(ctx, jobID, "final mux", stream, concatTimeout); err != nil {
		return err
	}
	return assertOutput("final mux", outPath)
}

// PostTransform adjusts the rendered video's look. Values are centered on
// 1.0 (hue on 0 degrees).
type PostTransform struct {
	Brightness float64
	Saturation float64
	Contrast   float64
	HueDegrees float64
}

func (t PostTransform) filter() string {
	return fmt.Sprintf("eq=brightness=%.3f:saturation=%.3f:contrast=%.3f,hue=h=%.2f",
		t.Brightness-1.0, t.Saturation, t.Contrast, t.HueDegrees)
}

// ApplyPostTransforms re-encodes the video through an eq/hue filter chain,
// keeping audio untouched.
func ApplyPostTransforms(ctx context.Context, jobID, srcPath, outPath string, transform PostTransform) error {
	stream := ffmpeg.Input(srcPath).
		Output(outPath, ffmpeg.KwArgs{
			"vf":      transform.filter(),
			"c:v":     "libx264",
			"pix_fmt": "yuv420p",
			"preset":  "fast",
			"c:a":     "copy",
		})
	if err := runFFmpeg(ctx, jobID, "post transform", stream, concatTimeout); err != nil {
		return err
	}
	return assertOutput("post transform", outPath)
}
