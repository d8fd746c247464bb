package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
	"github.com/xeipuuv/gojsonschema"

	"github.com/badespider/videoeditor-sub000/errors"
	"github.com/badespider/videoeditor-sub000/log"
	"github.com/badespider/videoeditor-sub000/state"
)

type CreateJobRequest struct {
	VideoID                   string  `json:"video_id"`
	Filename                  string  `json:"filename"`
	TargetDurationMinutes     float64 `json:"target_duration_minutes"`
	CharacterGuide            string  `json:"character_guide"`
	EnableSceneMatcher        bool    `json:"enable_scene_matcher"`
	EnableCopyrightProtection bool    `json:"enable_copyright_protection"`
	SeriesID                  string  `json:"series_id"`
	UserID                    string  `json:"user_id"`
	PlanTier                  string  `json:"plan_tier"`
	Script                    string  `json:"script"`
}

type CreateJobResponse struct {
	JobID  string       `json:"job_id"`
	Status state.Status `json:"status"`
}

// CreateJob validates the submission, stores an optional narration script
// next to the source video, and enqueues the job. Paid tiers land on the
// priority queue.
func (d *RecapHandlersCollection) CreateJob() httprouter.Handle {
	schema := inputSchemasCompiled["CreateJob"]
	return func(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		payload, err := io.ReadAll(req.Body)
		if err != nil {
			errors.WriteHTTPInternalServerError(w, "Cannot read body", err)
			return
		}

		result, err := schema.Validate(gojsonschema.NewBytesLoader(payload))
		if err != nil {
			errors.WriteHTTPBadRequest(w, "Body is not valid JSON", err)
			return
		}
		if !result.Valid() {
			errors.WriteHTTPBadBodySchema("CreateJob", w, result.Errors())
			return
		}

		var body CreateJobRequest
		if err := json.Unmarshal(payload, &body); err != nil {
			errors.WriteHTTPBadRequest(w, "Cannot parse body", err)
			return
		}
		if body.PlanTier == "" {
			body.PlanTier = "none"
		}

		// pre-allocate the id so the script object exists before any
		// worker can pop the job
		jobID := uuid.New().String()
		script := strings.TrimSpace(body.Script)
		if script != "" {
			if err := d.Scripts.UploadScript(req.Context(), jobID, []byte(script)); err != nil {
				errors.WriteHTTPInternalServerError(w, "Failed to store script", err)
				return
			}
		}

		_, err = d.Manager.CreateJob(req.Context(), state.JobSubmission{
			ID:                        jobID,
			VideoID:                   body.VideoID,
			Filename:                  body.Filename,
			TargetDurationMinutes:     body.TargetDurationMinutes,
			CharacterGuide:            body.CharacterGuide,
			EnableSceneMatcher:        body.EnableSceneMatcher,
			EnableCopyrightProtection: body.EnableCopyrightProtection,
			HasScript:                 script != "",
			SeriesID:                  body.SeriesID,
			UserID:                    body.UserID,
			PlanTier:                  body.PlanTier,
			IsPriority:                body.PlanTier == "creator" || body.PlanTier == "studio",
		})
		if err != nil {
			errors.WriteHTTPInternalServerError(w, "Failed to create job", err)
			return
		}

		writeJSON(w, http.StatusCreated, CreateJobResponse{JobID: jobID, Status: state.StatusPending})
	}
}

func (d *RecapHandlersCollection) GetJob() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, params httprouter.Params) {
		job, err := d.Manager.GetJob(req.Context(), params.ByName("id"))
		if err != nil {
			errors.WriteHTTPInternalServerError(w, "Failed to load job", err)
			return
		}
		if job == nil {
			errors.WriteHTTPNotFound(w, "Job not found", nil)
			return
		}
		writeJSON(w, http.StatusOK, job)
	}
}

type ListJobsResponse struct {
	Jobs  []state.Job `json:"jobs"`
	Count int         `json:"count"`
}

func (d *RecapHandlersCollection) ListJobs() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		query := req.URL.Query()
		limit := parseIntParam(query.Get("limit"), 50, 200)
		offset := parseIntParam(query.Get("offset"), 0, 1<<20)

		jobs, err := d.Manager.ListJobs(req.Context(), state.Status(query.Get("status")), query.Get("user_id"), limit, offset)
		if err != nil {
			errors.WriteHTTPInternalServerError(w, "Failed to list jobs", err)
			return
		}
		writeJSON(w, http.StatusOK, ListJobsResponse{Jobs: jobs, Count: len(jobs)})
	}
}

// DeleteJob cancels a running job (advisory, honored at the next stage
// boundary) or removes a terminal one.
func (d *RecapHandlersCollection) DeleteJob() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, params httprouter.Params) {
		jobID := params.ByName("id")
		job, err := d.Manager.GetJob(req.Context(), jobID)
		if err != nil {
			errors.WriteHTTPInternalServerError(w, "Failed to load job", err)
			return
		}
		if job == nil {
			errors.WriteHTTPNotFound(w, "Job not found", nil)
			return
		}

		if !job.Status.Terminal() {
			if _, err := d.Manager.RequestCancel(req.Context(), jobID); err != nil {
				errors.WriteHTTPInternalServerError(w, "Failed to cancel job", err)
				return
			}
			log.Log(jobID, "cancellation requested")
			writeJSON(w, http.StatusAccepted, map[string]interface{}{"job_id": jobID, "cancelling": true})
			return
		}

		if err := d.Manager.DeleteJob(req.Context(), jobID); err != nil {
			errors.WriteHTTPInternalServerError(w, "Failed to delete job", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"job_id": jobID, "deleted": true})
	}
}

func parseIntParam(value string, fallback, max int) int {
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return fallback
	}
	if n > max {
		return max
	}
	return n
}
