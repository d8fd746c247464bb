package video

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	ffmpeg "github.com/u2takey/ffmpeg-go"
)

const audioClipTimeout = 600 * time.Second

// ExtractAudioClip pulls the original audio of a time range as stereo MP3,
// used for dialogue passages preserved inside a narration.
func ExtractAudioClip(ctx context.Context, jobID, srcPath string, start, end float64, outPath string) error {
	if end <= start {
		return fmt.Errorf("invalid audio clip range %f..%f", start, end)
	}
	stream := ffmpeg.Input(srcPath, ffmpeg.KwArgs{"ss": formatTime(start), "t": formatTime(end - start)}).
		Output(outPath, ffmpeg.KwArgs{
			"vn":  "",
			"ac":  2,
			"ar":  44100,
			"c:a": "libmp3lame",
			"b:a": "192k",
		})
	if err := runFFmpeg(ctx, jobID, "extract audio clip", stream, audioClipTimeout); err != nil {
		return err
	}
	return assertOutput("extract audio clip", outPath)
}

// WriteSilentAudio writes a quarter-second silent MP3, used as a stand-in
// when speech synthesis fails for a single narration.
func WriteSilentAudio(outPath string) error {
	stream := ffmpeg.Input("anullsrc=r=44100:cl=stereo", ffmpeg.KwArgs{"f": "lavfi"}).
		Output(outPath, ffmpeg.KwArgs{
			"t":   0.25,
			"q:a": 9,
			"c:a": "libmp3lame",
		})
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := runFFmpeg(ctx, "", "silent placeholder", stream, 30*time.Second); err != nil {
		return err
	}
	return assertOutput("silent placeholder", outPath)
}

// ConcatAudio joins audio files in order into an AAC m4a track.
func ConcatAudio(ctx context.Context, jobID string, inputs []string, outPath string) error {
	if len(inputs) == 0 {
		return fmt.Errorf("no audio inputs to concatenate")
	}
	listPath := filepath.Join(filepath.Dir(outPath), "audio_concat.txt")
	if err := writeConcatList(listPath, inputs); err != nil {
		return err
	}
	defer os.Remove(listPath)

	stream := ffmpeg.Input(listPath, ffmpeg.KwArgs{"f": "concat", "safe": 0}).
		Output(outPath, ffmpeg.KwArgs{
			"c:a": "aac",
			"b:a": "192k",
		})
	if err := runFFmpeg(ctx, jobID, "concat audio", stream, audioClipTimeout); err != nil {
		return err
	}
	return assertOutput("concat audio", outPath)
}

// ConcatAudioMP3 joins MP3 files into one MP3, re-encoding to tolerate
// differing source parameters.
func ConcatAudioMP3(ctx context.Context, jobID string, inputs []string, outPath string) error {
	if len(inputs) == 0 {
		return fmt.Errorf("no audio inputs to concatenate")
	}
	listPath := outPath + ".txt"
	if err := writeConcatList(listPath, inputs); err != nil {
		return err
	}
	defer os.Remove(listPath)

	stream := ffmpeg.Input(listPath, ffmpeg.KwArgs{"f": "concat", "safe": 0}).
		Output(outPath, ffmpeg.KwArgs{
			"c:a": "libmp3lame",
			"b:a": "192k",
			"ar":  44100,
			"ac":  2,
		})
	if err := runFFmpeg(ctx, jobID, "concat audio", stream, audioClipTimeout); err != nil {
		return err
	}
	return assertOutput("concat audio", outPath)
}

// writeConcatList writes a concat-demuxer file list. Single quotes inside
// paths are escaped per the demuxer's quoting rules.
func writeConcatList(listPath string, inputs []string) error {
	var sb strings.Builder
	for _, input := range inputs {
		escaped := strings.ReplaceAll(input, "'", `'\''`)
		fmt.Fprintf(&sb, "file '%s'\n", escaped)
	}
	return os.WriteFile(listPath, []byte(sb.String()), 0644)
}
