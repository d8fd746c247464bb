package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/julienschmidt/httprouter"

	"github.com/badespider/videoeditor-sub000/config"
	"github.com/badespider/videoeditor-sub000/log"
	"github.com/badespider/videoeditor-sub000/metrics"
	"github.com/badespider/videoeditor-sub000/state"
)

// ScriptStore is the slice of the object store the job API needs.
type ScriptStore interface {
	UploadScript(ctx context.Context, jobID string, content []byte) error
}

type RecapHandlersCollection struct {
	Config  *config.Cli
	Manager *state.JobManager
	Scripts ScriptStore
}

func (d *RecapHandlersCollection) Ok() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		if _, err := io.WriteString(w, "OK"); err != nil {
			log.LogNoJobID("failed to write HTTP response", "path", req.URL.Path)
		}
	}
}

type HealthcheckResponse struct {
	Status        string           `json:"status"`
	QueueDepth    map[string]int64 `json:"queue_depth"`
	WorkerEnabled bool             `json:"worker_enabled"`
}

// Healthcheck reports queue depths alongside liveness and refreshes the
// queue-depth gauges while it is at it.
func (d *RecapHandlersCollection) Healthcheck() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		depths := map[string]int64{}
		for _, queue := range []string{state.QueuePriority, state.QueueDefault} {
			depth, err := d.Manager.Store().QueueLen(req.Context(), queue)
			if err != nil {
				log.LogNoJobID("healthcheck queue depth failed", "queue", queue, "err", err)
				continue
			}
			depths[queue] = depth
			metrics.Metrics.QueueDepth.WithLabelValues(queue).Set(float64(depth))
		}
		writeJSON(w, http.StatusOK, HealthcheckResponse{
			Status:        "healthy",
			QueueDepth:    depths,
			WorkerEnabled: d.Config.WorkerCount > 0,
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	payload, err := json.Marshal(body)
	if err != nil {
		log.LogNoJobID("failed to marshal response", "err", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(payload); err != nil {
		log.LogNoJobID("failed to write HTTP response", "err", err)
	}
}
