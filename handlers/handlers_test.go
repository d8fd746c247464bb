package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/require"

	"github.com/badespider/videoeditor-sub000/config"
	"github.com/badespider/videoeditor-sub000/state"
)

type stubScripts struct {
	mu    sync.Mutex
	saved map[string][]byte
}

func (s *stubScripts) UploadScript(ctx context.Context, jobID string, content []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saved == nil {
		s.saved = map[string][]byte{}
	}
	s.saved[jobID] = content
	return nil
}

func newTestRouter(t *testing.T) (*httprouter.Router, *state.MemoryStore, *stubScripts) {
	t.Helper()
	store := state.NewMemoryStore()
	scripts := &stubScripts{}
	d := &RecapHandlersCollection{
		Config:  &config.Cli{WorkerCount: 2},
		Manager: state.NewJobManager(store),
		Scripts: scripts,
	}

	router := httprouter.New()
	router.GET("/ok", d.Ok())
	router.GET("/api/health", d.Healthcheck())
	router.POST("/api/jobs", d.CreateJob())
	router.GET("/api/jobs/:id", d.GetJob())
	router.GET("/api/jobs", d.ListJobs())
	router.DELETE("/api/jobs/:id", d.DeleteJob())
	return router, store, scripts
}

func postJSON(router *httprouter.Router, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestCreateJobValidation(t *testing.T) {
	router, _, _ := newTestRouter(t)

	for name, body := range map[string]string{
		"empty object":     `{}`,
		"missing filename": `{"video_id": "obj-1"}`,
		"blank video id":   `{"video_id": "", "filename": "movie.mp4"}`,
		"bad plan tier":    `{"video_id": "obj-1", "filename": "movie.mp4", "plan_tier": "enterprise"}`,
		"unknown field":    `{"video_id": "obj-1", "filename": "movie.mp4", "color": "red"}`,
		"not json":         `{{`,
	} {
		rr := postJSON(router, "/api/jobs", body)
		require.Equal(t, http.StatusBadRequest, rr.Code, name)
	}
}

func TestCreateJobEnqueues(t *testing.T) {
	router, store, _ := newTestRouter(t)
	ctx := context.Background()

	rr := postJSON(router, "/api/jobs", `{"video_id": "obj-1", "filename": "movie.mp4", "target_duration_minutes": 10}`)
	require.Equal(t, http.StatusCreated, rr.Code)

	var resp CreateJobResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.JobID)
	require.Equal(t, state.StatusPending, resp.Status)

	job, err := store.GetJob(ctx, resp.JobID)
	require.NoError(t, err)
	require.NotNil(t, job)
	require.Equal(t, 10.0, job.TargetDurationMinutes)
	require.False(t, job.IsPriority)

	depth, err := store.QueueLen(ctx, state.QueueDefault)
	require.NoError(t, err)
	require.Equal(t, int64(1), depth)
}

func TestCreateJobPriorityTier(t *testing.T) {
	router, store, _ := newTestRouter(t)
	ctx := context.Background()

	rr := postJSON(router, "/api/jobs", `{"video_id": "obj-1", "filename": "movie.mp4", "plan_tier": "studio"}`)
	require.Equal(t, http.StatusCreated, rr.Code)

	depth, err := store.QueueLen(ctx, state.QueuePriority)
	require.NoError(t, err)
	require.Equal(t, int64(1), depth)
}

func TestCreateJobStoresScript(t *testing.T) {
	router, store, scripts := newTestRouter(t)
	ctx := context.Background()

	rr := postJSON(router, "/api/jobs", `{"video_id": "obj-1", "filename": "movie.mp4", "script": "My own narration."}`)
	require.Equal(t, http.StatusCreated, rr.Code)

	var resp CreateJobResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, []byte("My own narration."), scripts.saved[resp.JobID])

	job, err := store.GetJob(ctx, resp.JobID)
	require.NoError(t, err)
	require.True(t, job.HasScript)
}

func TestGetJob(t *testing.T) {
	router, store, _ := newTestRouter(t)
	ctx := context.Background()

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/jobs/nope", nil))
	require.Equal(t, http.StatusNotFound, rr.Code)

	require.NoError(t, store.PutJob(ctx, &state.Job{ID: "job-1", Status: state.StatusProcessing, Progress: 42}))

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/jobs/job-1", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var job state.Job
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &job))
	require.Equal(t, 42, job.Progress)
}

func TestListJobsFilters(t *testing.T) {
	router, store, _ := newTestRouter(t)
	ctx := context.Background()

	require.NoError(t, store.PutJob(ctx, &state.Job{ID: "a", Status: state.StatusCompleted, UserID: "u1"}))
	require.NoError(t, store.PutJob(ctx, &state.Job{ID: "b", Status: state.StatusFailed, UserID: "u1"}))
	require.NoError(t, store.PutJob(ctx, &state.Job{ID: "c", Status: state.StatusCompleted, UserID: "u2"}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/jobs?status=completed&user_id=u1", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var resp ListJobsResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Count)
	require.Equal(t, "a", resp.Jobs[0].ID)
}

func TestDeleteJobCancelsRunning(t *testing.T) {
	router, store, _ := newTestRouter(t)
	ctx := context.Background()

	require.NoError(t, store.PutJob(ctx, &state.Job{ID: "job-1", Status: state.StatusProcessing}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/api/jobs/job-1", nil))
	require.Equal(t, http.StatusAccepted, rr.Code)

	job, err := store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.True(t, job.CancelRequested)
	require.Equal(t, state.StatusProcessing, job.Status)
}

func TestDeleteJobRemovesTerminal(t *testing.T) {
	router, store, _ := newTestRouter(t)
	ctx := context.Background()

	require.NoError(t, store.PutJob(ctx, &state.Job{ID: "job-1", Status: state.StatusCompleted}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/api/jobs/job-1", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	job, err := store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.Nil(t, job)
}

func TestHealthcheck(t *testing.T) {
	router, store, _ := newTestRouter(t)
	require.NoError(t, store.QueuePush(context.Background(), state.QueueDefault, "job-1"))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var resp HealthcheckResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, "healthy", resp.Status)
	require.Equal(t, int64(1), resp.QueueDepth[state.QueueDefault])
	require.True(t, resp.WorkerEnabled)
}

func TestOk(t *testing.T) {
	router, _, _ := newTestRouter(t)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/ok", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.True(t, strings.Contains(rr.Body.String(), "OK"))
}
