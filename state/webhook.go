package state

import "encoding/json"

// WebhookNotification is the payload the webhook handler writes to the
// status key and publishes on the webhook channel; the waiting worker
// consumes it from either side.
type WebhookNotification struct {
	JobID     string `json:"job_id"`
	VideoNo   string `json:"video_no,omitempty"`
	Status    string `json:"status"`
	Code      string `json:"code,omitempty"`
	Msg       string `json:"msg,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

func (n WebhookNotification) Marshal() string {
	payload, _ := json.Marshal(n)
	return string(payload)
}

func ParseWebhookNotification(raw string) (WebhookNotification, error) {
	var n WebhookNotification
	err := json.Unmarshal([]byte(raw), &n)
	return n, err
}
