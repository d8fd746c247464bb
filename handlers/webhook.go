package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/julienschmidt/httprouter"

	"github.com/badespider/videoeditor-sub000/config"
	"github.com/badespider/videoeditor-sub000/crypto"
	"github.com/badespider/videoeditor-sub000/errors"
	"github.com/badespider/videoeditor-sub000/log"
	"github.com/badespider/videoeditor-sub000/metrics"
	"github.com/badespider/videoeditor-sub000/state"
)

// Signature header spellings seen from callback senders, checked in order.
var signatureHeaders = []string{
	"X-Memories-Signature",
	"X-Webhook-Signature",
	"X-Signature",
	"X-Hub-Signature-256",
}

type WebhookHandlersCollection struct {
	Config  *config.Cli
	Manager *state.JobManager
}

type callbackBody struct {
	VideoNo string `json:"video_no"`
	Status  string `json:"status"`
	Code    string `json:"code"`
	Msg     string `json:"msg"`
	Data    struct {
		VideoNo string `json:"video_no"`
		Status  string `json:"status"`
	} `json:"data"`
}

// MemoriesCallback receives parse notifications from the understanding
// service. Auth is the per-job token minted at upload time; an HMAC
// signature is verified only when a signature header arrives and a secret
// is configured. Accepted callbacks write the status key and publish on the
// job's webhook channel.
func (d *WebhookHandlersCollection) MemoriesCallback() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		jobID := req.URL.Query().Get("job_id")
		if jobID == "" {
			metrics.Metrics.WebhookCallbackCount.WithLabelValues("bad_request").Inc()
			errors.WriteHTTPBadRequest(w, "job_id is required", nil)
			return
		}

		token := req.URL.Query().Get("token")
		if token == "" {
			metrics.Metrics.WebhookCallbackCount.WithLabelValues("unauthorized").Inc()
			errors.WriteHTTPUnauthorized(w, "token is required", nil)
			return
		}
		stored, found, err := d.Manager.LookupWebhookToken(req.Context(), jobID)
		if err != nil {
			metrics.Metrics.WebhookCallbackCount.WithLabelValues("error").Inc()
			errors.WriteHTTPInternalServerError(w, "Failed to check token", err)
			return
		}
		if !found || !crypto.TokensEqual(stored, token) {
			metrics.Metrics.WebhookCallbackCount.WithLabelValues("unauthorized").Inc()
			errors.WriteHTTPUnauthorized(w, "invalid token", nil)
			return
		}

		body, err := io.ReadAll(req.Body)
		if err != nil {
			metrics.Metrics.WebhookCallbackCount.WithLabelValues("bad_request").Inc()
			errors.WriteHTTPBadRequest(w, "Cannot read body", err)
			return
		}

		if d.Config.WebhookSecret != "" {
			if sig := d.signature(req); sig != "" && !crypto.VerifyHMACSHA256(d.Config.WebhookSecret, body, sig) {
				metrics.Metrics.WebhookCallbackCount.WithLabelValues("unauthorized").Inc()
				errors.WriteHTTPUnauthorized(w, "invalid signature", nil)
				return
			}
		}

		var payload callbackBody
		if err := json.Unmarshal(body, &payload); err != nil {
			metrics.Metrics.WebhookCallbackCount.WithLabelValues("bad_request").Inc()
			errors.WriteHTTPBadRequest(w, "Body is not valid JSON", err)
			return
		}

		status := payload.Status
		if status == "" {
			status = payload.Data.Status
		}
		// senders that only report success omit the status field
		if status == "" && payload.Code == "0000" {
			status = "PARSE"
		}
		videoNo := payload.VideoNo
		if videoNo == "" {
			videoNo = payload.Data.VideoNo
		}

		notification := state.WebhookNotification{
			JobID:     jobID,
			VideoNo:   videoNo,
			Status:    status,
			Code:      payload.Code,
			Msg:       payload.Msg,
			Timestamp: config.Clock.GetTimestampUTC(),
		}

		store := d.Manager.Store()
		if err := store.SetEX(req.Context(), state.WebhookStatusKey(jobID), notification.Marshal(), state.WebhookStatusTTL); err != nil {
			metrics.Metrics.WebhookCallbackCount.WithLabelValues("error").Inc()
			errors.WriteHTTPInternalServerError(w, "Failed to record callback", err)
			return
		}
		if err := store.Publish(req.Context(), state.WebhookChannel(jobID), notification.Marshal()); err != nil {
			// waiter recovers from the status key on its next poll
			log.LogError(jobID, "failed to publish webhook notification", err)
		}

		metrics.Metrics.WebhookCallbackCount.WithLabelValues("accepted").Inc()
		log.Log(jobID, "webhook callback accepted", "status", status, "video_no", videoNo)
		writeJSON(w, http.StatusOK, map[string]bool{"received": true})
	}
}

// MemoriesCallbackTest lets operators verify reachability of the callback
// URL from outside.
func (d *WebhookHandlersCollection) MemoriesCallbackTest() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"ok":                 true,
			"webhook_configured": d.Config.WebhookConfigured(),
		})
	}
}

func (d *WebhookHandlersCollection) signature(req *http.Request) string {
	if d.Config.WebhookSignatureHeader != "" {
		if v := req.Header.Get(d.Config.WebhookSignatureHeader); v != "" {
			return v
		}
	}
	for _, h := range signatureHeaders {
		if v := req.Header.Get(h); v != "" {
			return v
		}
	}
	return ""
}
