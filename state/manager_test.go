package state

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/badespider/videoeditor-sub000/config"
)

func newTestManager(t *testing.T) (*JobManager, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	return NewJobManager(store), store
}

func TestCreateJobQueuesByPriority(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()

	defaultID, err := m.CreateJob(ctx, JobSubmission{VideoID: "v1", Filename: "a.mp4"})
	require.NoError(t, err)
	priorityID, err := m.CreateJob(ctx, JobSubmission{VideoID: "v2", Filename: "b.mp4", IsPriority: true})
	require.NoError(t, err)

	n, err := store.QueueLen(ctx, QueuePriority)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	// priority queue drains first even though the default job was created first
	next, err := m.GetNextJob(ctx)
	require.NoError(t, err)
	require.Equal(t, priorityID, next)

	next, err = m.GetNextJob(ctx)
	require.NoError(t, err)
	require.Equal(t, defaultID, next)

	next, err = m.GetNextJob(ctx)
	require.NoError(t, err)
	require.Empty(t, next)
}

func TestCreateJobInitialRecord(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	id, err := m.CreateJob(ctx, JobSubmission{
		VideoID:               "v1",
		Filename:              "movie.mp4",
		TargetDurationMinutes: 5,
		PlanTier:              "creator",
	})
	require.NoError(t, err)

	job, err := m.GetJob(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, job)
	require.Equal(t, StatusPending, job.Status)
	require.Equal(t, 0, job.Progress)
	require.Equal(t, "Queued", job.CurrentStep)
	require.Equal(t, "creator", job.PlanTier)
	require.False(t, job.CreatedAt.IsZero())
}

func TestUpdateJobPublishParsimony(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()
	id, err := m.CreateJob(ctx, JobSubmission{VideoID: "v1"})
	require.NoError(t, err)

	changed, err := m.UpdateJob(ctx, id, JobUpdate{Progress: IntPtr(5), CurrentStep: StrPtr("Downloading video")})
	require.NoError(t, err)
	require.True(t, changed)
	require.Len(t, store.Published, 1)

	// identical patch changes nothing and must not publish
	changed, err = m.UpdateJob(ctx, id, JobUpdate{Progress: IntPtr(5), CurrentStep: StrPtr("Downloading video")})
	require.NoError(t, err)
	require.False(t, changed)
	require.Len(t, store.Published, 1)

	var payload UpdatePayload
	require.NoError(t, json.Unmarshal([]byte(store.Published[0].Payload), &payload))
	require.Equal(t, id, payload.JobID)
	require.Equal(t, 5, payload.Progress)
	require.Equal(t, "Downloading video", payload.CurrentStep)
}

func TestTerminalStateIsAbsorbing(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	id, err := m.CreateJob(ctx, JobSubmission{VideoID: "v1"})
	require.NoError(t, err)

	won, err := m.CompleteJobIfNotFailed(ctx, id, "http://out/final.mp4", []Scene{{Index: 0, Title: "Intro"}}, 1)
	require.NoError(t, err)
	require.True(t, won)

	// the late failure is a no-op
	won, err = m.FailJobIfNotCompleted(ctx, id, "timeout talking to tts")
	require.NoError(t, err)
	require.False(t, won)

	job, err := m.GetJob(ctx, id)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, job.Status)
	require.Equal(t, "http://out/final.mp4", job.OutputURL)
	require.Empty(t, job.ErrorMessage)

	// and so is a regular progress update
	changed, err := m.UpdateJob(ctx, id, JobUpdate{Progress: IntPtr(50)})
	require.NoError(t, err)
	require.False(t, changed)
}

func TestTerminalRaceExactlyOneWinner(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()
	id, err := m.CreateJob(ctx, JobSubmission{VideoID: "v1"})
	require.NoError(t, err)
	store.Published = nil

	var wg sync.WaitGroup
	results := make([]bool, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		results[0], _ = m.CompleteJobIfNotFailed(ctx, id, "http://out", nil, 0)
	}()
	go func() {
		defer wg.Done()
		results[1], _ = m.FailJobIfNotCompleted(ctx, id, "boom")
	}()
	wg.Wait()

	require.NotEqual(t, results[0], results[1], "exactly one terminal setter must win")
	require.Len(t, store.Published, 1, "exactly one pub/sub message carries the terminal status")

	job, err := m.GetJob(ctx, id)
	require.NoError(t, err)
	require.True(t, job.Status.Terminal())
	if results[0] {
		require.Equal(t, StatusCompleted, job.Status)
	} else {
		require.Equal(t, StatusFailed, job.Status)
	}
}

func TestUpdateMissingJob(t *testing.T) {
	m, _ := newTestManager(t)
	changed, err := m.UpdateJob(context.Background(), "nope", JobUpdate{Progress: IntPtr(1)})
	require.NoError(t, err)
	require.False(t, changed)
}

func TestListJobsFilterAndOrder(t *testing.T) {
	defer func() { config.Clock = config.RealTimestampGenerator{} }()

	m, _ := newTestManager(t)
	ctx := context.Background()

	config.Clock = config.FixedTimestampGenerator{Timestamp: 1000}
	first, err := m.CreateJob(ctx, JobSubmission{VideoID: "v1", UserID: "u1"})
	require.NoError(t, err)
	config.Clock = config.FixedTimestampGenerator{Timestamp: 2000}
	second, err := m.CreateJob(ctx, JobSubmission{VideoID: "v2", UserID: "u2"})
	require.NoError(t, err)
	config.Clock = config.FixedTimestampGenerator{Timestamp: 3000}
	third, err := m.CreateJob(ctx, JobSubmission{VideoID: "v3", UserID: "u1"})
	require.NoError(t, err)

	jobs, err := m.ListJobs(ctx, "", "", 0, 0)
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	require.Equal(t, third, jobs[0].ID)
	require.Equal(t, second, jobs[1].ID)
	require.Equal(t, first, jobs[2].ID)

	jobs, err = m.ListJobs(ctx, "", "u1", 0, 0)
	require.NoError(t, err)
	require.Len(t, jobs, 2)

	jobs, err = m.ListJobs(ctx, StatusPending, "", 1, 1)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, second, jobs[0].ID)
}

func TestCleanupOldJobs(t *testing.T) {
	defer func() { config.Clock = config.RealTimestampGenerator{} }()

	m, _ := newTestManager(t)
	ctx := context.Background()

	config.Clock = config.FixedTimestampGenerator{Timestamp: 1000}
	oldDone, err := m.CreateJob(ctx, JobSubmission{VideoID: "v1"})
	require.NoError(t, err)
	_, err = m.FailJobIfNotCompleted(ctx, oldDone, "old failure")
	require.NoError(t, err)

	stillRunning, err := m.CreateJob(ctx, JobSubmission{VideoID: "v2"})
	require.NoError(t, err)

	config.Clock = config.FixedTimestampGenerator{Timestamp: 1000 + int64((48 * time.Hour).Seconds())}
	removed, err := m.CleanupOldJobs(ctx, 24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	job, err := m.GetJob(ctx, oldDone)
	require.NoError(t, err)
	require.Nil(t, job)

	job, err = m.GetJob(ctx, stillRunning)
	require.NoError(t, err)
	require.NotNil(t, job)
}

func TestIssueAndLookupWebhookToken(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	token, err := m.IssueWebhookToken(ctx, "job-1")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	stored, ok, err := m.LookupWebhookToken(ctx, "job-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, token, stored)

	_, ok, err = m.LookupWebhookToken(ctx, "job-2")
	require.NoError(t, err)
	require.False(t, ok)
}
