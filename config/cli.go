package config

import (
	"flag"
	"fmt"
	"net/url"
	"strings"
)

type Cli struct {
	Port     int
	PromPort int

	RedisURL string

	// object store
	StoreEndpoint       string
	StorePublicEndpoint string
	StoreAccessKey      string
	StoreSecretKey      string
	StoreSecure         bool
	BucketVideos        string
	BucketAudio         string
	BucketOutput        string

	// video understanding service
	MemoriesURL    string
	MemoriesAPIKey string

	// text generation
	LLMAPIKey  string
	LLMBaseURL string
	LLMModel   string

	// text to speech
	TTSAPIKey  string
	TTSVoiceID string
	TTSModelID string

	// webhook callbacks from the understanding service
	WebhookBaseURL         string
	WebhookSecret          string
	WebhookSignatureHeader string

	WorkerCount int
	TempDir     string

	EnableSceneMatcher        bool
	SceneMatcherThreshold     float64
	EnableCopyrightProtection bool
	EnableCharacterExtraction bool

	RetentionMaxAgeHours int
}

// WebhookConfigured reports whether the webhook base URL is usable for
// callbacks from the understanding service. Placeholder values from env
// templates are treated as unset so the worker falls back to polling.
func (cli *Cli) WebhookConfigured() bool {
	u := strings.TrimSpace(cli.WebhookBaseURL)
	if len(u) <= 15 {
		return false
	}
	if !strings.HasPrefix(u, "https://") {
		return false
	}
	lower := strings.ToLower(u)
	if strings.Contains(lower, "abc123") || strings.Contains(lower, "example") {
		return false
	}
	return true
}

// CallbackURL builds the webhook callback URL carrying the job id and its
// one-time token.
func (cli *Cli) CallbackURL(jobID, token string) string {
	base := strings.TrimRight(cli.WebhookBaseURL, "/")
	return fmt.Sprintf("%s/api/webhooks/memories?job_id=%s&token=%s", base, url.QueryEscape(jobID), url.QueryEscape(token))
}

func parseURL(s string, dest **url.URL) error {
	u, err := url.Parse(s)
	if err != nil {
		return err
	}
	if _, err = url.ParseQuery(u.RawQuery); err != nil {
		return err
	}
	*dest = u
	return nil
}

func URLVarFlag(fs *flag.FlagSet, dest **url.URL, name, value, usage string) {
	if err := parseURL(value, dest); err != nil {
		panic(err)
	}
	fs.Func(name, usage, func(s string) error {
		return parseURL(s, dest)
	})
}
