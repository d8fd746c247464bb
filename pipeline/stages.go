package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/badespider/videoeditor-sub000/characters"
	"github.com/badespider/videoeditor-sub000/clients"
	"github.com/badespider/videoeditor-sub000/log"
	"github.com/badespider/videoeditor-sub000/script"
	"github.com/badespider/videoeditor-sub000/state"
	"github.com/badespider/videoeditor-sub000/video"
)

// drive runs the pipeline stages in order. The returned videoNo is set as
// soon as the remote upload succeeds so the caller can clean up the remote
// copy on any later failure.
func (w *Worker) drive(ctx context.Context, job *state.Job, workDir string) (videoNo string, err error) {
	jobID := job.ID

	w.setStatus(ctx, jobID, state.StatusProcessing, 1, "Initializing")
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create work dir: %w", err)
	}

	// fetch the source
	w.setProgress(ctx, jobID, 5, "Downloading video")
	srcPath := filepath.Join(workDir, "source"+sourceExt(job.Filename))
	done := stageTimer("download")
	err = w.blobs.DownloadFile(ctx, w.cfg.BucketVideos, job.VideoID, srcPath)
	done()
	if err != nil {
		return "", fmt.Errorf("failed to download source video: %w", err)
	}

	w.setProgress(ctx, jobID, 6, "Analyzing video")
	iv, err := w.tools.Probe(ctx, srcPath)
	if err != nil {
		return "", err
	}
	sourceDuration := iv.Duration
	log.Log(jobID, "probed source", "duration", sourceDuration, "size_bytes", iv.SizeBytes, "format", iv.Format)

	// shrink or remux the copy sent for analysis
	w.setProgress(ctx, jobID, 7, "Optimizing for analysis")
	uploadPath := filepath.Join(workDir, "upload.mp4")
	done = stageTimer("optimize")
	err = w.tools.Optimize(ctx, jobID, srcPath, uploadPath, iv)
	done()
	if err != nil {
		return "", err
	}

	// hand the video to the understanding service
	w.setProgress(ctx, jobID, 10, "Uploading for analysis")
	callbackURL := ""
	if w.cfg.WebhookConfigured() {
		token, tokenErr := w.manager.IssueWebhookToken(ctx, jobID)
		if tokenErr != nil {
			log.LogError(jobID, "failed to issue webhook token, falling back to polling", tokenErr)
		} else {
			callbackURL = w.cfg.CallbackURL(jobID, token)
		}
	}
	done = stageTimer("remote_upload")
	videoNo, err = w.memories.Upload(ctx, jobID, uploadPath, callbackURL)
	done()
	if err != nil {
		return "", err
	}
	log.Log(jobID, "uploaded for analysis", "video_no", videoNo, "webhook", callbackURL != "")

	w.setProgress(ctx, jobID, 15, "Waiting for video analysis")
	done = stageTimer("analysis_wait")
	err = w.waitForParsing(ctx, jobID, videoNo, callbackURL != "")
	done()
	if err != nil {
		return videoNo, err
	}
	w.setProgress(ctx, jobID, 20, "Video analysis complete")

	if w.cancelled(ctx, jobID) {
		return videoNo, errCancelled
	}

	// story extraction: chapters and transcript fetched together; chapters
	// are required, narration still works without dialogue grounding
	w.setProgress(ctx, jobID, 25, "Understanding the story")
	var raw []clients.ChapterSummary
	var transcript []clients.TranscriptSegment
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		var sumErr error
		raw, sumErr = w.memories.GetChapterSummary(groupCtx, videoNo)
		return sumErr
	})
	group.Go(func() error {
		segments, trErr := w.memories.GetAudioTranscription(groupCtx, videoNo)
		if trErr != nil {
			log.LogError(jobID, "transcription unavailable", trErr)
			return nil
		}
		transcript = segments
		return nil
	})
	if waitErr := group.Wait(); waitErr != nil {
		return videoNo, waitErr
	}
	chapters, err := NormalizeChapters(jobID, raw, sourceDuration)
	if err != nil {
		return videoNo, err
	}
	log.Log(jobID, "chapters normalized", "count", len(chapters))

	movie, err := w.memories.ExtractAllMovieData(ctx, jobID, videoNo, len(chapters), job.CharacterGuide)
	if err != nil {
		log.LogError(jobID, "movie data extraction failed", err)
		movie = clients.MovieData{}
	}
	transcript = applySpeakerMapping(transcript, movie.SpeakerMapping)
	w.setProgress(ctx, jobID, 30, "Story extracted")

	// per-series character roster
	guide := firstNonBlank(job.CharacterGuide, movie.CharacterGuide)
	if w.chars != nil && w.cfg.EnableCharacterExtraction && job.SeriesID != "" {
		w.setProgress(ctx, jobID, 32, "Identifying characters")
		roster, charErr := w.chars.Extract(ctx, jobID, characters.ExtractInput{
			SeriesID:    job.SeriesID,
			VideoNo:     videoNo,
			Transcript:  transcript,
			PlotSummary: movie.PlotSummary,
		})
		if charErr != nil {
			log.LogError(jobID, "character extraction failed", charErr)
		} else if len(roster) > 0 {
			guide = characters.Guide(roster)
		}
	}

	targetSeconds, capped := CapTargetSeconds(job.TargetDurationMinutes*60, sourceDuration)
	if capped {
		log.Log(jobID, "capping target duration", "requested_min", job.TargetDurationMinutes, "target_sec", targetSeconds)
	}

	if w.cancelled(ctx, jobID) {
		return videoNo, errCancelled
	}

	// narration text
	w.setProgress(ctx, jobID, 35, "Writing narration")
	chunks, err := w.narrationChunks(ctx, job, chapters, movie, transcript, targetSeconds, guide)
	if err != nil {
		return videoNo, err
	}
	w.setProgress(ctx, jobID, 48, "Narration ready")

	introText := w.narrator.Intro(ctx, jobID, firstNonBlank(movie.Title, job.Filename), movie.PlotSummary)
	outroText := w.narrator.Outro()

	// speech synthesis
	w.setStatus(ctx, jobID, state.StatusGeneratingAudio, 50, "Generating narration audio")
	done = stageTimer("tts")
	intro, outro, chapterAudio, narrations, err := w.synthesizeAudio(ctx, jobID, workDir, srcPath, chunks, introText, outroText)
	done()
	if err != nil {
		return videoNo, err
	}
	w.setProgress(ctx, jobID, 65, "Narration audio ready")

	// scene assembly
	var matches map[int]MatchResult
	if w.matcher != nil && job.EnableSceneMatcher && job.HasScript && len(transcript) > 0 {
		matches = w.matcher.Match(jobID, chapters, narrations, transcript)
	}
	scenes := BuildScenes(jobID, chapters, narrations, sourceDuration, intro, outro, chapterAudio, matches, w.cfg.SceneMatcherThreshold)

	if w.cancelled(ctx, jobID) {
		return videoNo, errCancelled
	}

	w.setStatus(ctx, jobID, state.StatusStitching, 70, "Stitching the recap")
	scenes = FitDuration(jobID, scenes, targetSeconds)
	if _, updErr := w.manager.UpdateJob(ctx, jobID, state.JobUpdate{TotalScenes: state.IntPtr(len(scenes))}); updErr != nil {
		log.LogError(jobID, "failed to record scene count", updErr)
	}

	stitchScenes := make([]video.StitchScene, len(scenes))
	for i, s := range scenes {
		stitchScenes[i] = video.StitchScene{
			Index:      s.ID,
			SourcePath: srcPath,
			Start:      s.VideoStart,
			End:        s.VideoEnd,
			AudioPath:  s.AudioPath,
			AudioLen:   s.AudioLen,
		}
	}
	outPath := filepath.Join(workDir, "recap.mp4")
	done = stageTimer("stitch")
	err = w.tools.Stitch(ctx, jobID, workDir, stitchScenes, outPath, func(finished int) {
		progress := 70 + finished*20/len(stitchScenes)
		if _, updErr := w.manager.UpdateJob(ctx, jobID, state.JobUpdate{
			Progress:        state.IntPtr(progress),
			ProcessedScenes: state.IntPtr(finished),
			CurrentStep:     state.StrPtr(fmt.Sprintf("Stitching scene %d/%d", finished, len(stitchScenes))),
		}); updErr != nil {
			log.LogError(jobID, "failed to update stitch progress", updErr)
		}
	})
	done()
	if err != nil {
		return videoNo, err
	}

	finalPath := outPath
	if job.EnableCopyrightProtection && w.cfg.EnableCopyrightProtection {
		protectedPath := filepath.Join(workDir, "recap_protected.mp4")
		done = stageTimer("protect")
		err = w.tools.Protect(ctx, jobID, workDir, outPath, protectedPath)
		done()
		if err != nil {
			return videoNo, err
		}
		finalPath = protectedPath
	}

	// publish
	w.setProgress(ctx, jobID, 90, "Uploading the finished recap")
	objectName := jobID + "/recap.mp4"
	done = stageTimer("publish")
	err = w.blobs.UploadFile(ctx, w.cfg.BucketOutput, objectName, finalPath)
	done()
	if err != nil {
		return videoNo, fmt.Errorf("failed to upload recap: %w", err)
	}
	outputURL, err := w.blobs.PresignedURL(ctx, w.cfg.BucketOutput, objectName, outputURLExpiry)
	if err != nil {
		return videoNo, fmt.Errorf("failed to presign recap url: %w", err)
	}

	manifest := make([]state.Scene, len(scenes))
	for i, s := range scenes {
		manifest[i] = state.Scene{
			Index:         s.ID,
			Title:         s.Title,
			StartTime:     s.VideoStart,
			EndTime:       s.VideoEnd,
			Duration:      s.AudioLen,
			NarrationText: truncateNarration(s.Narration),
			Processed:     true,
		}
	}
	if _, err := w.manager.CompleteJobIfNotFailed(ctx, jobID, outputURL, manifest, len(scenes)); err != nil {
		return videoNo, fmt.Errorf("failed to mark job completed: %w", err)
	}
	return videoNo, nil
}

// narrationChunks returns one narration text per chapter, either split from
// the user's uploaded script or generated from the extracted story.
func (w *Worker) narrationChunks(ctx context.Context, job *state.Job, chapters []script.Chapter,
	movie clients.MovieData, transcript []clients.TranscriptSegment, targetSeconds float64, guide string) ([]string, error) {

	if job.HasScript {
		text, found, err := w.blobs.DownloadScript(ctx, job.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to download user script: %w", err)
		}
		if found {
			return script.SplitUserScript(text, chapters)
		}
		log.Log(job.ID, "job flagged with script but none stored, generating narration")
	}

	return w.narrator.Generate(ctx, job.ID, script.GenerateRequest{
		Chapters:       chapters,
		Movie:          movie,
		Transcript:     transcript,
		KeyMoments:     momentsByChapter(movie.KeyMoments),
		TargetSeconds:  targetSeconds,
		CharacterGuide: guide,
	})
}

// applySpeakerMapping rewrites generic diarization labels into the character
// names unified extraction identified, so the matcher, character extractor
// and narrator all see who actually speaks.
func applySpeakerMapping(segments []clients.TranscriptSegment, mapping map[string]string) []clients.TranscriptSegment {
	if len(mapping) == 0 {
		return segments
	}
	for i, s := range segments {
		if name, ok := mapping[s.Speaker]; ok && strings.TrimSpace(name) != "" {
			segments[i].Speaker = name
		}
	}
	return segments
}

func momentsByChapter(moments []clients.KeyMoment) map[int][]clients.KeyMoment {
	if len(moments) == 0 {
		return nil
	}
	byChapter := map[int][]clients.KeyMoment{}
	for _, m := range moments {
		byChapter[m.ChapterIndex] = append(byChapter[m.ChapterIndex], m)
	}
	return byChapter
}

func sourceExt(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		return ".mp4"
	}
	return ext
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
