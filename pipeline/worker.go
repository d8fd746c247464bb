package pipeline

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/badespider/videoeditor-sub000/characters"
	"github.com/badespider/videoeditor-sub000/clients"
	"github.com/badespider/videoeditor-sub000/config"
	"github.com/badespider/videoeditor-sub000/errors"
	"github.com/badespider/videoeditor-sub000/log"
	"github.com/badespider/videoeditor-sub000/metrics"
	"github.com/badespider/videoeditor-sub000/script"
	"github.com/badespider/videoeditor-sub000/state"
)

const (
	idleSleep  = 2 * time.Second
	errorSleep = 5 * time.Second

	outputURLExpiry      = 7 * 24 * time.Hour
	manifestNarrationMax = 200
)

// Understanding is the slice of the video-understanding API the worker
// drives.
type Understanding interface {
	Upload(ctx context.Context, jobID, filePath, callbackURL string) (string, error)
	WaitForProcessing(ctx context.Context, jobID, videoNo string, onTick func(elapsed time.Duration)) error
	GetChapterSummary(ctx context.Context, videoNo string) ([]clients.ChapterSummary, error)
	GetAudioTranscription(ctx context.Context, videoNo string) ([]clients.TranscriptSegment, error)
	ExtractAllMovieData(ctx context.Context, jobID, videoNo string, chapterCount int, characterGuide string) (clients.MovieData, error)
	DeleteVideo(ctx context.Context, videoNo string) error
}

// BlobStore is the object-store surface the worker needs.
type BlobStore interface {
	DownloadFile(ctx context.Context, bucket, objectName, filePath string) error
	UploadFile(ctx context.Context, bucket, objectName, filePath string) error
	PresignedURL(ctx context.Context, bucket, objectName string, expires time.Duration) (string, error)
	DownloadScript(ctx context.Context, jobID string) (string, bool, error)
}

// Narrator writes the recap text.
type Narrator interface {
	Generate(ctx context.Context, jobID string, req script.GenerateRequest) ([]string, error)
	Intro(ctx context.Context, jobID, title, plotSummary string) string
	Outro() string
}

// Speech synthesizes narration audio.
type Speech interface {
	GenerateBatch(ctx context.Context, jobID string, items []clients.TTSItem) []clients.TTSResult
}

// CharacterExtractor builds the per-series character roster. Optional.
type CharacterExtractor interface {
	Extract(ctx context.Context, jobID string, in characters.ExtractInput) ([]characters.Character, error)
}

// Deps bundles the worker's external collaborators so tests can substitute
// each one.
type Deps struct {
	Blobs         BlobStore
	Understanding Understanding
	Narrator      Narrator
	Speech        Speech
	Characters    CharacterExtractor
	Toolchain     Toolchain
}

// Worker pulls job ids off the queues and runs the recap pipeline to a
// terminal state. Run several concurrently for parallelism; the queues
// hand each id to exactly one worker.
type Worker struct {
	cfg     *config.Cli
	manager *state.JobManager

	blobs    BlobStore
	memories Understanding
	narrator Narrator
	tts      Speech
	chars    CharacterExtractor
	tools    Toolchain
	matcher  *SceneMatcher
}

func NewWorker(cfg *config.Cli, manager *state.JobManager, deps Deps) *Worker {
	w := &Worker{
		cfg:      cfg,
		manager:  manager,
		blobs:    deps.Blobs,
		memories: deps.Understanding,
		narrator: deps.Narrator,
		tts:      deps.Speech,
		chars:    deps.Characters,
		tools:    deps.Toolchain,
	}
	if cfg.EnableSceneMatcher {
		w.matcher = NewSceneMatcher(cfg.SceneMatcherThreshold)
	}
	return w
}

// Run is the worker loop: priority queue first, then the default queue,
// then a short idle sleep. Exits when the context is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		jobID, err := w.manager.GetNextJob(ctx)
		if err != nil {
			log.LogNoJobID("failed to poll job queues", "err", err)
			sleepCtx(ctx, errorSleep)
			continue
		}
		if jobID == "" {
			sleepCtx(ctx, idleSleep)
			continue
		}
		w.Process(ctx, jobID)
	}
}

// Process runs one job to a terminal state. Upstream video records and the
// scratch directory are removed on every exit path.
func (w *Worker) Process(ctx context.Context, jobID string) {
	job, err := w.manager.GetJob(ctx, jobID)
	if err != nil {
		log.LogError(jobID, "failed to load dequeued job", err)
		return
	}
	if job == nil {
		log.Log(jobID, "dequeued job no longer exists")
		return
	}
	if job.Status.Terminal() {
		log.Log(jobID, "dequeued job already terminal", "status", job.Status)
		return
	}

	metrics.Metrics.JobsStarted.Inc()
	ctx = log.WithLogValues(ctx, "job_id", jobID)
	workDir := filepath.Join(w.cfg.TempDir, jobID)
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			log.LogError(jobID, "failed to remove work dir", err)
		}
	}()

	started := time.Now()
	videoNo, err := w.runJob(ctx, job, workDir)

	if videoNo != "" {
		// upstream retention is not our storage; remove the analysis copy
		if delErr := w.memories.DeleteVideo(context.WithoutCancel(ctx), videoNo); delErr != nil {
			log.LogError(jobID, "failed to delete remote video", delErr, "video_no", videoNo)
		}
	}

	if err != nil {
		metrics.Metrics.JobsFailed.Inc()
		log.LogError(jobID, "job failed", err, "elapsed", time.Since(started).Round(time.Second))
		if _, failErr := w.manager.FailJobIfNotCompleted(ctx, jobID, failureMessage(err)); failErr != nil {
			log.LogError(jobID, "failed to mark job failed", failErr)
		}
		return
	}

	metrics.Metrics.JobsCompleted.Inc()
	log.Log(jobID, "job completed", "elapsed", time.Since(started).Round(time.Second))
}

// runJob converts panics into job failures so one bad job never kills the
// worker loop.
func (w *Worker) runJob(ctx context.Context, job *state.Job, workDir string) (videoNo string, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.LogCtx(ctx, "panic in pipeline", "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("pipeline panic: %v", r)
		}
	}()
	return w.drive(ctx, job, workDir)
}

var errCancelled = stderrors.New("cancelled by request")

// cancelled reads the advisory cancel flag. Checked at stage boundaries;
// stages themselves never abort mid-flight.
func (w *Worker) cancelled(ctx context.Context, jobID string) bool {
	job, err := w.manager.GetJob(ctx, jobID)
	if err != nil || job == nil {
		return false
	}
	return job.CancelRequested
}

// failureMessage maps an internal error to the message surfaced on the job
// record. Raw stderr and URLs stay in the logs.
func failureMessage(err error) string {
	if stderrors.Is(err, errCancelled) {
		return errCancelled.Error()
	}
	var invalid *errors.InputInvalidError
	if stderrors.As(err, &invalid) {
		return invalid.Msg
	}
	var fatal *errors.FatalExternalError
	if stderrors.As(err, &fatal) {
		return fmt.Sprintf("%s service error: %s", fatal.Service, fatal.Msg)
	}
	var media *errors.MediaToolchainError
	if stderrors.As(err, &media) {
		return fmt.Sprintf("video processing failed during %s", media.Op)
	}
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, context.Canceled) {
		return "processing was interrupted"
	}
	return "internal error while processing the video"
}

func (w *Worker) setProgress(ctx context.Context, jobID string, progress int, step string) {
	if _, err := w.manager.UpdateJob(ctx, jobID, state.JobUpdate{
		Progress:    state.IntPtr(progress),
		CurrentStep: state.StrPtr(step),
	}); err != nil {
		log.LogError(jobID, "failed to update progress", err, "progress", progress)
	}
}

func (w *Worker) setStatus(ctx context.Context, jobID string, status state.Status, progress int, step string) {
	if _, err := w.manager.UpdateJob(ctx, jobID, state.JobUpdate{
		Status:      state.StatusPtr(status),
		Progress:    state.IntPtr(progress),
		CurrentStep: state.StrPtr(step),
	}); err != nil {
		log.LogError(jobID, "failed to update status", err, "status", status)
	}
}

// stageTimer returns a done func that records the stage duration.
func stageTimer(stage string) func() {
	start := time.Now()
	return func() {
		metrics.Metrics.StageDurationSec.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

func truncateNarration(text string) string {
	if len(text) <= manifestNarrationMax {
		return text
	}
	return text[:manifestNarrationMax]
}
