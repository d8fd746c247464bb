package video

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"

	ffmpeg "github.com/u2takey/ffmpeg-go"

	"github.com/badespider/videoeditor-sub000/log"
)

const protectChunkSeconds = 2.5

// ChunkRanges splits a duration into consecutive spans of at most
// protectChunkSeconds.
func ChunkRanges(duration float64) [][2]float64 {
	var ranges [][2]float64
	for start := 0.0; start < duration; start += protectChunkSeconds {
		end := start + protectChunkSeconds
		if end > duration {
			end = duration
		}
		if end-start < 0.05 {
			break
		}
		ranges = append(ranges, [2]float64{start, end})
	}
	return ranges
}

// randomTransform picks a slight look adjustment for one chunk.
func randomTransform(rng *rand.Rand) PostTransform {
	return PostTransform{
		Brightness: 0.98 + rng.Float64()*0.04,
		Saturation: 0.96 + rng.Float64()*0.08,
		Contrast:   0.98 + rng.Float64()*0.04,
		HueDegrees: -2.0 + rng.Float64()*4.0,
	}
}

// ApplyProtection re-renders the recap in short chunks, each with its own
// slight color jitter, then concatenates them back together.
func ApplyProtection(ctx context.Context, jobID, workDir, srcPath, outPath string) error {
	duration, err := MediaDuration(ctx, srcPath)
	if err != nil {
		return err
	}
	ranges := ChunkRanges(duration)
	if len(ranges) == 0 {
		return fmt.Errorf("nothing to protect: %s has no duration", srcPath)
	}

	protectDir := filepath.Join(workDir, "protect")
	if err := os.MkdirAll(protectDir, 0755); err != nil {
		return err
	}

	rng := rand.New(rand.NewSource(int64(duration * 1000)))
	log.Log(jobID, "applying chunked color jitter", "chunks", len(ranges))

	chunks := make([]string, 0, len(ranges))
	for i, r := range ranges {
		chunkPath := filepath.Join(protectDir, fmt.Sprintf("chunk_%04d.mp4", i))
		transform := randomTransform(rng)
		stream := ffmpeg.Input(srcPath, ffmpeg.KwArgs{
			"ss": formatTime(r[0]),
			"t":  formatTime(r[1] - r[0]),
		}).
			Output(chunkPath, ffmpeg.KwArgs{
				"vf":      transform.filter(),
				"c:v":     "libx264",
				"pix_fmt": "yuv420p",
				"preset":  "fast",
				"c:a":     "aac",
				"b:a":     "192k",
			})
		if err := runFFmpeg(ctx, jobID, "protect chunk", stream, sceneTimeout); err != nil {
			return err
		}
		if err := assertOutput("protect chunk", chunkPath); err != nil {
			return err
		}
		chunks = append(chunks, chunkPath)
	}

	listPath := filepath.Join(protectDir, "chunks.txt")
	if err := writeConcatList(listPath, chunks); err != nil {
		return err
	}
	defer os.Remove(listPath)

	stream := ffmpeg.Input(listPath, ffmpeg.KwArgs{"f": "concat", "safe": 0}).
		Output(outPath, ffmpeg.KwArgs{
			"c":        "copy",
			"movflags": "+faststart",
		})
	if err := runFFmpeg(ctx, jobID, "protect concat", stream, concatTimeout); err != nil {
		return err
	}
	return assertOutput("protect concat", outPath)
}
