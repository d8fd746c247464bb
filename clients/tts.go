package clients

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/sync/errgroup"

	"github.com/badespider/videoeditor-sub000/errors"
	"github.com/badespider/videoeditor-sub000/log"
	"github.com/badespider/videoeditor-sub000/metrics"
	"github.com/badespider/videoeditor-sub000/video"
)

const (
	ttsService        = "elevenlabs"
	ttsRequestTimeout = 60 * time.Second
	ttsBatchSize      = 5
	ttsBatchGap       = 1 * time.Second

	DefaultTTSVoice = "21m00Tcm4TlvDq8ikWAM"
	DefaultTTSModel = "eleven_multilingual_v2"
	TurboTTSModel   = "eleven_turbo_v2_5"
)

// WordAlignment is one spoken word with its timestamps, reconstructed from
// the character-level alignment the API returns.
type WordAlignment struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// TTSResult describes one synthesized clip. Placeholder is set when
// synthesis failed and a short silent clip was written instead so the rest
// of the pipeline can keep going.
type TTSResult struct {
	Path           string
	Duration       float64
	WordAlignments []WordAlignment
	Placeholder    bool
}

// TTSItem is one narration to synthesize into OutPath.
type TTSItem struct {
	Text    string
	OutPath string
}

// TTSClient synthesizes narration audio with per-word timing via the
// ElevenLabs with-timestamps endpoint.
type TTSClient struct {
	BaseURL string
	APIKey  string
	VoiceID string
	ModelID string

	httpClient *retryablehttp.Client
}

func NewTTSClient(apiKey, voiceID, modelID string) *TTSClient {
	if voiceID == "" {
		voiceID = DefaultTTSVoice
	}
	if modelID == "" {
		modelID = DefaultTTSModel
	}
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.RetryWaitMin = 500 * time.Millisecond
	client.RetryWaitMax = 5 * time.Second
	client.Logger = log.NewRetryableHTTPLogger()
	client.HTTPClient = &http.Client{Timeout: ttsRequestTimeout}

	return &TTSClient{
		BaseURL:    "https://api.elevenlabs.io",
		APIKey:     apiKey,
		VoiceID:    voiceID,
		ModelID:    modelID,
		httpClient: client,
	}
}

type ttsRequest struct {
	Text          string           `json:"text"`
	ModelID       string           `json:"model_id"`
	VoiceSettings ttsVoiceSettings `json:"voice_settings"`
}

type ttsVoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

type ttsResponse struct {
	AudioBase64 string       `json:"audio_base64"`
	Alignment   ttsAlignment `json:"alignment"`
}

type ttsAlignment struct {
	Characters          []string  `json:"characters"`
	CharacterStartTimes []float64 `json:"character_start_times_seconds"`
	CharacterEndTimes   []float64 `json:"character_end_times_seconds"`
}

// Generate synthesizes one narration to outPath. Empty text and synthesis
// failures both produce a short silent placeholder instead of an error.
func (c *TTSClient) Generate(ctx context.Context, jobID, text, outPath string) TTSResult {
	if strings.TrimSpace(text) == "" {
		log.Log(jobID, "empty narration, writing silent placeholder", "out", outPath)
		if perr := video.WriteSilentAudio(outPath); perr != nil {
			log.LogError(jobID, "could not write silent placeholder", perr, "out", outPath)
		}
		return TTSResult{Path: outPath, Duration: 0.25, Placeholder: true}
	}
	result, err := c.generate(ctx, text, outPath)
	if err == nil {
		return result
	}
	log.LogError(jobID, "tts synthesis failed, writing silent placeholder", err, "out", outPath)
	if perr := video.WriteSilentAudio(outPath); perr != nil {
		log.LogError(jobID, "could not write silent placeholder", perr, "out", outPath)
	}
	return TTSResult{Path: outPath, Duration: 0.25, Placeholder: true}
}

func (c *TTSClient) generate(ctx context.Context, text, outPath string) (TTSResult, error) {
	payload, err := json.Marshal(ttsRequest{
		Text:    text,
		ModelID: c.ModelID,
		VoiceSettings: ttsVoiceSettings{
			Stability:       0.5,
			SimilarityBoost: 0.75,
		},
	})
	if err != nil {
		return TTSResult{}, err
	}

	url := fmt.Sprintf("%s/v1/text-to-speech/%s/with-timestamps", c.BaseURL, c.VoiceID)
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, url, payload)
	if err != nil {
		return TTSResult{}, err
	}
	req.Header.Set("xi-api-key", c.APIKey)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.Metrics.TTSRequestDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return TTSResult{}, errors.NewTransientExternalError(ttsService, err)
	}
	defer resp.Body.Close()

	var body ttsResponse
	if resp.StatusCode != http.StatusOK {
		buf := make([]byte, 2048)
		n, _ := resp.Body.Read(buf)
		return TTSResult{}, errors.NewFatalExternalError(ttsService, fmt.Sprint(resp.StatusCode), errors.SanitizeStderr(string(buf[:n])))
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return TTSResult{}, errors.NewTransientExternalError(ttsService, fmt.Errorf("decoding tts response: %w", err))
	}

	audio, err := base64.StdEncoding.DecodeString(body.AudioBase64)
	if err != nil {
		return TTSResult{}, fmt.Errorf("invalid audio payload: %w", err)
	}
	if err := os.WriteFile(outPath, audio, 0644); err != nil {
		return TTSResult{}, err
	}

	words := WordsFromAlignment(body.Alignment.Characters, body.Alignment.CharacterStartTimes, body.Alignment.CharacterEndTimes)
	duration := AlignmentDuration(body.Alignment.CharacterStartTimes, body.Alignment.CharacterEndTimes)
	if duration <= 0 {
		// alignment was absent or nonsensical, measure the file instead
		if probed, perr := video.MediaDuration(ctx, outPath); perr == nil {
			duration = probed
		}
	}

	return TTSResult{Path: outPath, Duration: duration, WordAlignments: words}, nil
}

// GenerateBatch synthesizes items in parallel groups, pausing between
// groups to stay under the provider's concurrency limits. Results are
// returned in item order.
func (c *TTSClient) GenerateBatch(ctx context.Context, jobID string, items []TTSItem) []TTSResult {
	results := make([]TTSResult, len(items))
	for base := 0; base < len(items); base += ttsBatchSize {
		end := base + ttsBatchSize
		if end > len(items) {
			end = len(items)
		}

		group, groupCtx := errgroup.WithContext(ctx)
		for i := base; i < end; i++ {
			i := i
			group.Go(func() error {
				results[i] = c.Generate(groupCtx, jobID, items[i].Text, items[i].OutPath)
				return nil
			})
		}
		_ = group.Wait()

		if end < len(items) {
			select {
			case <-ctx.Done():
				for i := end; i < len(items); i++ {
					results[i] = TTSResult{Path: items[i].OutPath, Placeholder: true}
				}
				return results
			case <-time.After(ttsBatchGap):
			}
		}
	}
	return results
}

// AlignmentDuration is the span from the first character start to the last
// character end. Returns 0 when the alignment is missing or inverted.
func AlignmentDuration(starts, ends []float64) float64 {
	if len(starts) == 0 || len(ends) == 0 {
		return 0
	}
	d := ends[len(ends)-1] - starts[0]
	if d < 0 {
		return 0
	}
	return d
}

// WordsFromAlignment folds the character-level alignment into words,
// splitting on spaces.
func WordsFromAlignment(chars []string, starts, ends []float64) []WordAlignment {
	if len(chars) != len(starts) || len(chars) != len(ends) {
		return nil
	}
	var words []WordAlignment
	var current strings.Builder
	var wordStart, wordEnd float64
	flush := func() {
		if current.Len() == 0 {
			return
		}
		words = append(words, WordAlignment{Word: current.String(), Start: wordStart, End: wordEnd})
		current.Reset()
	}
	for i, ch := range chars {
		if ch == " " || ch == "\n" || ch == "\t" {
			flush()
			continue
		}
		if current.Len() == 0 {
			wordStart = starts[i]
		}
		wordEnd = ends[i]
		current.WriteString(ch)
	}
	flush()
	return words
}
