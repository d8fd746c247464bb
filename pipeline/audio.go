package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/badespider/videoeditor-sub000/clients"
	"github.com/badespider/videoeditor-sub000/log"
	"github.com/badespider/videoeditor-sub000/script"
)

// synthesizeAudio turns the narration texts into audio files. Chapters whose
// text carries an original-audio marker get the source dialogue clipped out
// and appended after the synthesized part; the marker never reaches the
// voice or the stored narration.
func (w *Worker) synthesizeAudio(ctx context.Context, jobID, workDir, srcPath string,
	chunks []string, introText, outroText string) (intro, outro BookendAudio, chapterAudio []ChapterAudio, narrations []string, err error) {

	audioDir := filepath.Join(workDir, "audio")
	if err := os.MkdirAll(audioDir, 0o755); err != nil {
		return intro, outro, nil, nil, fmt.Errorf("failed to create audio dir: %w", err)
	}

	type chapterPlan struct {
		text   string
		marker *script.Marker
	}

	items := []clients.TTSItem{{Text: introText, OutPath: filepath.Join(audioDir, "000_intro.mp3")}}
	plans := make([]chapterPlan, len(chunks))
	for i, chunk := range chunks {
		text, marker := script.ParseMarker(chunk)
		plans[i] = chapterPlan{text: text, marker: marker}
		items = append(items, clients.TTSItem{
			Text:    text,
			OutPath: filepath.Join(audioDir, fmt.Sprintf("chapter_%03d_tts.mp3", i)),
		})
	}
	items = append(items, clients.TTSItem{Text: outroText, OutPath: filepath.Join(audioDir, "999_outro.mp3")})

	results := w.tts.GenerateBatch(ctx, jobID, items)

	intro = BookendAudio{Text: introText, Path: results[0].Path, Duration: results[0].Duration}
	last := results[len(results)-1]
	outro = BookendAudio{Text: outroText, Path: last.Path, Duration: last.Duration}

	chapterAudio = make([]ChapterAudio, len(chunks))
	narrations = make([]string, len(chunks))
	for i, plan := range plans {
		res := results[i+1]
		path, duration := res.Path, res.Duration
		narrations[i] = plan.text

		if plan.marker != nil && !res.Placeholder {
			path, duration = w.appendOriginalAudio(ctx, jobID, audioDir, srcPath, i, *plan.marker, path, duration)
		}
		chapterAudio[i] = ChapterAudio{Path: path, Duration: duration}
	}
	return intro, outro, chapterAudio, narrations, nil
}

// appendOriginalAudio clips the marked dialogue from the source and splices
// it after the synthesized narration. Any failure keeps the synthesized
// audio alone.
func (w *Worker) appendOriginalAudio(ctx context.Context, jobID, audioDir, srcPath string,
	index int, marker script.Marker, ttsPath string, ttsDuration float64) (string, float64) {

	clipPath := filepath.Join(audioDir, fmt.Sprintf("chapter_%03d_clip.mp3", index))
	if err := w.tools.ExtractAudioClip(ctx, jobID, srcPath, marker.Start, marker.End, clipPath); err != nil {
		log.LogError(jobID, "failed to clip original audio", err, "chapter", index)
		return ttsPath, ttsDuration
	}

	combinedPath := filepath.Join(audioDir, fmt.Sprintf("chapter_%03d.mp3", index))
	if err := w.tools.ConcatAudioMP3(ctx, jobID, []string{ttsPath, clipPath}, combinedPath); err != nil {
		log.LogError(jobID, "failed to append original audio", err, "chapter", index)
		return ttsPath, ttsDuration
	}

	log.Log(jobID, "appended original audio", "chapter", index, "speaker", marker.Speaker, "clip_len", marker.End-marker.Start)
	return combinedPath, ttsDuration + (marker.End - marker.Start)
}
