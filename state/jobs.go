package state

import (
	"encoding/json"
	"time"

	"github.com/badespider/videoeditor-sub000/config"
)

// now returns the clocked wall time so tests can pin timestamps.
func now() time.Time {
	return time.Unix(config.Clock.GetTimestampUTC(), 0).UTC()
}

type Status string

const (
	StatusPending         Status = "pending"
	StatusProcessing      Status = "processing"
	StatusGeneratingAudio Status = "generating_audio"
	StatusStitching       Status = "stitching"
	StatusCompleted       Status = "completed"
	StatusFailed          Status = "failed"
)

// Terminal states are absorbing: once a job is completed or failed no
// further mutation is permitted.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Scene is one entry of the manifest stored on a completed job.
type Scene struct {
	Index         int     `json:"index"`
	Title         string  `json:"title"`
	StartTime     float64 `json:"start_time"`
	EndTime       float64 `json:"end_time"`
	Duration      float64 `json:"duration"`
	NarrationText string  `json:"narration_text"`
	Processed     bool    `json:"processed"`
}

// Job is the durable job record held in the state store.
type Job struct {
	ID       string `json:"job_id"`
	VideoID  string `json:"video_id"`
	Filename string `json:"filename"`

	Status          Status  `json:"status"`
	Progress        int     `json:"progress"`
	CurrentStep     string  `json:"current_step"`
	TotalScenes     int     `json:"total_scenes"`
	ProcessedScenes int     `json:"processed_scenes"`
	ErrorMessage    string  `json:"error_message"`
	OutputURL       string  `json:"output_url"`
	Scenes          []Scene `json:"scenes"`

	TargetDurationMinutes     float64 `json:"target_duration_minutes,omitempty"`
	CharacterGuide            string  `json:"character_guide,omitempty"`
	EnableSceneMatcher        bool    `json:"enable_scene_matcher"`
	EnableCopyrightProtection bool    `json:"enable_copyright_protection"`
	HasScript                 bool    `json:"has_script"`
	SeriesID                  string  `json:"series_id,omitempty"`
	UserID                    string  `json:"user_id,omitempty"`
	PlanTier                  string  `json:"plan_tier"`
	IsPriority                bool    `json:"is_priority"`

	// advisory: set by the API layer, honored at the next stage boundary
	CancelRequested bool `json:"cancel_requested,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// JobUpdate is a typed patch: nil fields are left untouched. The transform
// inside the atomic update applies each set field and reports whether
// anything actually changed, so no-op updates never publish.
type JobUpdate struct {
	Status          *Status
	Progress        *int
	CurrentStep     *string
	TotalScenes     *int
	ProcessedScenes *int
	ErrorMessage    *string
	OutputURL       *string
	Scenes          []Scene
	HasScript       *bool
	CancelRequested *bool
}

func (u *JobUpdate) apply(job *Job) bool {
	changed := false
	if u.Status != nil && *u.Status != job.Status {
		job.Status = *u.Status
		changed = true
	}
	if u.Progress != nil && *u.Progress != job.Progress {
		job.Progress = *u.Progress
		changed = true
	}
	if u.CurrentStep != nil && *u.CurrentStep != job.CurrentStep {
		job.CurrentStep = *u.CurrentStep
		changed = true
	}
	if u.TotalScenes != nil && *u.TotalScenes != job.TotalScenes {
		job.TotalScenes = *u.TotalScenes
		changed = true
	}
	if u.ProcessedScenes != nil && *u.ProcessedScenes != job.ProcessedScenes {
		job.ProcessedScenes = *u.ProcessedScenes
		changed = true
	}
	if u.ErrorMessage != nil && *u.ErrorMessage != job.ErrorMessage {
		job.ErrorMessage = *u.ErrorMessage
		changed = true
	}
	if u.OutputURL != nil && *u.OutputURL != job.OutputURL {
		job.OutputURL = *u.OutputURL
		changed = true
	}
	if u.Scenes != nil {
		job.Scenes = u.Scenes
		changed = true
	}
	if u.HasScript != nil && *u.HasScript != job.HasScript {
		job.HasScript = *u.HasScript
		changed = true
	}
	if u.CancelRequested != nil && *u.CancelRequested != job.CancelRequested {
		job.CancelRequested = *u.CancelRequested
		changed = true
	}
	return changed
}

// Helpers for building patches without pointer noise at call sites.

func StatusPtr(s Status) *Status { return &s }
func IntPtr(i int) *int          { return &i }
func StrPtr(s string) *string    { return &s }
func BoolPtr(b bool) *bool       { return &b }

// UpdatePayload is the small pub/sub fan-out published on every state
// change, carrying just enough for clients to refresh.
type UpdatePayload struct {
	JobID       string `json:"job_id"`
	Status      Status `json:"status"`
	Progress    int    `json:"progress"`
	CurrentStep string `json:"current_step"`
}

func marshalUpdatePayload(job *Job) string {
	payload, _ := json.Marshal(UpdatePayload{
		JobID:       job.ID,
		Status:      job.Status,
		Progress:    job.Progress,
		CurrentStep: job.CurrentStep,
	})
	return string(payload)
}
