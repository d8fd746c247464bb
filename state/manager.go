package state

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/badespider/videoeditor-sub000/crypto"
	"github.com/badespider/videoeditor-sub000/log"
)

// JobSubmission carries everything the API layer knows about a new job. ID
// may be pre-allocated by the caller so dependent objects (like a user
// script) can be stored before the job becomes visible to workers.
type JobSubmission struct {
	ID                        string
	VideoID                   string
	Filename                  string
	TargetDurationMinutes     float64
	CharacterGuide            string
	EnableSceneMatcher        bool
	EnableCopyrightProtection bool
	HasScript                 bool
	SeriesID                  string
	UserID                    string
	PlanTier                  string
	IsPriority                bool
}

// JobManager owns the job lifecycle: creation, queue dispatch, atomic
// updates with terminal-state guardrails, listing and retention.
type JobManager struct {
	store Store
}

func NewJobManager(store Store) *JobManager {
	return &JobManager{store: store}
}

func (m *JobManager) Store() Store { return m.store }

// CreateJob writes the initial record and enqueues the id, on the priority
// queue when the submission is flagged.
func (m *JobManager) CreateJob(ctx context.Context, sub JobSubmission) (string, error) {
	id := sub.ID
	if id == "" {
		id = uuid.New().String()
	}
	ts := now()
	job := &Job{
		ID:                        id,
		VideoID:                   sub.VideoID,
		Filename:                  sub.Filename,
		Status:                    StatusPending,
		Progress:                  0,
		CurrentStep:               "Queued",
		Scenes:                    []Scene{},
		TargetDurationMinutes:     sub.TargetDurationMinutes,
		CharacterGuide:            sub.CharacterGuide,
		EnableSceneMatcher:        sub.EnableSceneMatcher,
		EnableCopyrightProtection: sub.EnableCopyrightProtection,
		HasScript:                 sub.HasScript,
		SeriesID:                  sub.SeriesID,
		UserID:                    sub.UserID,
		PlanTier:                  sub.PlanTier,
		IsPriority:                sub.IsPriority,
		CreatedAt:                 ts,
		UpdatedAt:                 ts,
	}
	if err := m.store.PutJob(ctx, job); err != nil {
		return "", err
	}

	queue := QueueDefault
	if sub.IsPriority {
		queue = QueuePriority
	}
	if err := m.store.QueuePush(ctx, queue, id); err != nil {
		return "", err
	}
	log.Log(id, "job created", "queue", queue, "video_id", sub.VideoID, "priority", sub.IsPriority)
	return id, nil
}

// GetNextJob pops from the priority queue first, then the default queue.
// Non-blocking; returns ("", nil) when both are empty.
func (m *JobManager) GetNextJob(ctx context.Context) (string, error) {
	for _, queue := range []string{QueuePriority, QueueDefault} {
		id, ok, err := m.store.QueuePop(ctx, queue)
		if err != nil {
			return "", err
		}
		if ok {
			return id, nil
		}
	}
	return "", nil
}

func (m *JobManager) GetJob(ctx context.Context, id string) (*Job, error) {
	return m.store.GetJob(ctx, id)
}

// UpdateJob applies the non-nil fields of the patch atomically. Returns true
// when a changed record was written and published.
func (m *JobManager) UpdateJob(ctx context.Context, id string, update JobUpdate) (bool, error) {
	return m.store.AtomicUpdateJob(ctx, id, update.apply)
}

// RequestCancel flags a running job for cancellation. The worker honors the
// flag at the next stage boundary; terminal jobs are untouched.
func (m *JobManager) RequestCancel(ctx context.Context, id string) (bool, error) {
	return m.store.AtomicUpdateJob(ctx, id, func(job *Job) bool {
		if job.CancelRequested {
			return false
		}
		job.CancelRequested = true
		return true
	})
}

// FailJobIfNotCompleted marks the job failed unless it already completed.
// The terminal guardrail in the store makes the late loser a no-op.
func (m *JobManager) FailJobIfNotCompleted(ctx context.Context, id, message string) (bool, error) {
	return m.store.AtomicUpdateJob(ctx, id, func(job *Job) bool {
		job.Status = StatusFailed
		job.ErrorMessage = message
		job.CurrentStep = "Failed"
		return true
	})
}

// CompleteJobIfNotFailed marks the job completed unless it already failed.
func (m *JobManager) CompleteJobIfNotFailed(ctx context.Context, id, outputURL string, scenes []Scene, processedScenes int) (bool, error) {
	return m.store.AtomicUpdateJob(ctx, id, func(job *Job) bool {
		job.Status = StatusCompleted
		job.Progress = 100
		job.CurrentStep = "Complete!"
		job.OutputURL = outputURL
		job.Scenes = scenes
		job.TotalScenes = len(scenes)
		job.ProcessedScenes = processedScenes
		return true
	})
}

// ListJobs scans job records with an in-memory filter, newest first.
func (m *JobManager) ListJobs(ctx context.Context, status Status, userID string, limit, offset int) ([]Job, error) {
	keys, err := m.store.ListJobKeys(ctx, 1000)
	if err != nil {
		return nil, err
	}
	jobs := make([]Job, 0, len(keys))
	for _, id := range keys {
		job, err := m.store.GetJob(ctx, id)
		if err != nil || job == nil {
			continue
		}
		if status != "" && job.Status != status {
			continue
		}
		if userID != "" && job.UserID != userID {
			continue
		}
		jobs = append(jobs, *job)
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	if offset >= len(jobs) {
		return []Job{}, nil
	}
	jobs = jobs[offset:]
	if limit > 0 && limit < len(jobs) {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

func (m *JobManager) DeleteJob(ctx context.Context, id string) error {
	return m.store.DeleteJob(ctx, id)
}

// CleanupOldJobs removes terminal jobs older than maxAge. Returns the number
// removed.
func (m *JobManager) CleanupOldJobs(ctx context.Context, maxAge time.Duration) (int, error) {
	keys, err := m.store.ListJobKeys(ctx, 1000)
	if err != nil {
		return 0, err
	}
	cutoff := now().Add(-maxAge)
	removed := 0
	for _, id := range keys {
		job, err := m.store.GetJob(ctx, id)
		if err != nil || job == nil {
			continue
		}
		if !job.Status.Terminal() {
			continue
		}
		if job.UpdatedAt.After(cutoff) {
			continue
		}
		if err := m.store.DeleteJob(ctx, id); err != nil {
			log.LogError(id, "failed to remove expired job", err)
			continue
		}
		removed++
	}
	return removed, nil
}

// Webhook key plumbing shared by the worker (issues tokens) and the webhook
// handler (validates them).

func (m *JobManager) IssueWebhookToken(ctx context.Context, jobID string) (string, error) {
	token, err := crypto.NewWebhookToken()
	if err != nil {
		return "", err
	}
	if err := m.store.SetEX(ctx, WebhookTokenKey(jobID), token, WebhookTokenTTL); err != nil {
		return "", err
	}
	return token, nil
}

func (m *JobManager) LookupWebhookToken(ctx context.Context, jobID string) (string, bool, error) {
	return m.store.Get(ctx, WebhookTokenKey(jobID))
}
