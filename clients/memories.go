package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/badespider/videoeditor-sub000/errors"
	"github.com/badespider/videoeditor-sub000/log"
)

// Video parse states reported by the understanding service.
const (
	VideoStatusUnparsed   = "UNPARSE"
	VideoStatusParsed     = "PARSE"
	VideoStatusParseError = "PARSE_ERROR"
)

const (
	memoriesService = "memories"

	uploadTimeout     = 600 * time.Second
	statusTimeout     = 30 * time.Second
	summaryTimeout    = 120 * time.Second
	transcriptTimeout = 120 * time.Second
	chatTimeout       = 180 * time.Second

	statusRetries      = 3
	statusBackoffStep  = 5 * time.Second
	PollInterval       = 10 * time.Second
	MaxProcessingWait  = 1800 * time.Second
	extractionAttempts = 3
)

// envelope is the API's uniform response wrapper.
type envelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type UploadResult struct {
	VideoNo  string `json:"videoNo"`
	VideoNo2 string `json:"video_no"`
	Status   string `json:"videoStatus"`
}

// ChapterSummary is one chapter as returned by the summary endpoint. Start
// and end arrive either as seconds or as HH:MM:SS strings.
type ChapterSummary struct {
	Title   string `json:"title"`
	Start   string `json:"start"`
	End     string `json:"end"`
	Summary string `json:"summary"`
}

type TranscriptSegment struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Text    string  `json:"text"`
	Speaker string  `json:"speaker,omitempty"`
}

// MovieData is the bundle returned by unified extraction in a single call.
type MovieData struct {
	Title          string            `json:"title"`
	Characters     []MovieCharacter  `json:"characters"`
	CharacterGuide string            `json:"character_guide"`
	Locations      []string          `json:"locations"`
	Factions       []string          `json:"factions"`
	Relationships  []string          `json:"relationships"`
	Scenes         []SceneBinding    `json:"scenes"`
	PlotSummary    string            `json:"plot_summary"`
	KeyMoments     []KeyMoment       `json:"key_moments"`
	SpeakerMapping map[string]string `json:"speaker_mapping"`
}

type MovieCharacter struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	Role       string `json:"role"`
	Appearance string `json:"appearance"`
}

type SceneBinding struct {
	Chapter           int      `json:"chapter"`
	Location          string   `json:"location"`
	CharactersPresent []string `json:"characters_present"`
	Action            string   `json:"action"`
}

type KeyMoment struct {
	ChapterIndex int     `json:"chapter_index"`
	Start        float64 `json:"start"`
	End          float64 `json:"end"`
	Speaker      string  `json:"speaker"`
	Dialogue     string  `json:"dialogue"`
	Importance   string  `json:"importance"`
	LeadIn       string  `json:"lead_in"`
}

func (m MovieData) Empty() bool {
	return len(m.Characters) == 0 && len(m.Scenes) == 0 && m.PlotSummary == ""
}

// MemoriesClient talks to the video-understanding service: upload, parse
// status, chapter summaries, transcripts, visual chat and unified extraction.
type MemoriesClient struct {
	BaseURL string
	APIKey  string

	httpClient *retryablehttp.Client
}

func NewMemoriesClient(baseURL, apiKey string) *MemoriesClient {
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 1 * time.Second
	client.Logger = log.NewRetryableHTTPLogger()
	// per-call deadlines come from the request contexts
	client.HTTPClient = &http.Client{}

	return &MemoriesClient{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		APIKey:     apiKey,
		httpClient: client,
	}
}

// Upload sends the video file as multipart form data. The callback URL is
// optional; when present the service notifies our webhook on parse
// completion. Returns the service-side video number.
func (c *MemoriesClient) Upload(ctx context.Context, jobID, filePath, callbackURL string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to open upload file: %w", err)
	}
	defer file.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filepath.Base(filePath))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, file); err != nil {
		return "", fmt.Errorf("failed to read upload file: %w", err)
	}
	if err := writer.WriteField("unique_id", jobID); err != nil {
		return "", err
	}
	if callbackURL != "" {
		if err := writer.WriteField("callback", callbackURL); err != nil {
			return "", err
		}
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/serve/api/v1/upload", body.Bytes())
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", c.APIKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	data, err := c.do(req)
	if err != nil {
		return "", err
	}
	var result UploadResult
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fmt.Errorf("failed to parse upload response: %w", err)
	}
	videoNo := result.VideoNo
	if videoNo == "" {
		videoNo = result.VideoNo2
	}
	if videoNo == "" {
		return "", errors.NewFatalExternalError(memoriesService, "", "upload response missing video number")
	}
	return videoNo, nil
}

// GetVideoStatus polls the parse state of an uploaded video. Transient
// failures are retried with linear backoff before giving up.
func (c *MemoriesClient) GetVideoStatus(ctx context.Context, jobID, videoNo string) (string, error) {
	payload, err := json.Marshal(map[string]any{
		"video_nos": []string{videoNo},
		"unique_id": jobID,
		"page":      1,
		"size":      10,
	})
	if err != nil {
		return "", err
	}

	var lastErr error
	for attempt := 1; attempt <= statusRetries+1; attempt++ {
		status, err := c.fetchStatus(ctx, payload, videoNo)
		if err == nil {
			return status, nil
		}
		lastErr = err
		if !errors.IsTransientExternal(err) || attempt > statusRetries {
			break
		}
		delay := statusBackoffStep * time.Duration(attempt)
		log.Log(jobID, "transient status error, backing off", "attempt", attempt, "delay", delay, "err", err)
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}
	}
	return "", lastErr
}

func (c *MemoriesClient) fetchStatus(ctx context.Context, payload []byte, videoNo string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, statusTimeout)
	defer cancel()
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/serve/api/v1/list_videos", payload)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", c.APIKey)
	req.Header.Set("Content-Type", "application/json")

	data, err := c.do(req)
	if err != nil {
		return "", err
	}

	var listing struct {
		Videos []struct {
			VideoNo     string `json:"videoNo"`
			VideoStatus string `json:"videoStatus"`
			Status      string `json:"status"`
		} `json:"videos"`
	}
	if err := json.Unmarshal(data, &listing); err != nil {
		return "", fmt.Errorf("failed to parse status response: %w", err)
	}
	for _, v := range listing.Videos {
		if v.VideoNo != videoNo {
			continue
		}
		return NormalizeVideoStatus(firstNonEmpty(v.VideoStatus, v.Status)), nil
	}
	return VideoStatusUnparsed, nil
}

// NormalizeVideoStatus folds service-specific failure spellings into
// PARSE_ERROR.
func NormalizeVideoStatus(status string) string {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "FAIL", "FAILED", "ERROR", VideoStatusParseError:
		return VideoStatusParseError
	case VideoStatusParsed:
		return VideoStatusParsed
	default:
		return VideoStatusUnparsed
	}
}

// WaitForProcessing polls until the video reaches PARSE, fails on
// PARSE_ERROR, or times out. Used when no webhook base URL is configured.
func (c *MemoriesClient) WaitForProcessing(ctx context.Context, jobID, videoNo string, onTick func(elapsed time.Duration)) error {
	deadline := time.Now().Add(MaxProcessingWait)
	start := time.Now()
	lastStatus := ""
	lastKeepAlive := time.Now()

	for {
		if time.Now().After(deadline) {
			return errors.NewFatalExternalError(memoriesService, "", fmt.Sprintf("video parsing timed out after %s", MaxProcessingWait))
		}

		status, err := c.GetVideoStatus(ctx, jobID, videoNo)
		if err != nil {
			return err
		}

		switch status {
		case VideoStatusParsed:
			log.Log(jobID, "video parsed", "video_no", videoNo, "elapsed", time.Since(start).Round(time.Second))
			return nil
		case VideoStatusParseError:
			return errors.NewFatalExternalError(memoriesService, "", "video parsing failed on the understanding service")
		}

		if status != lastStatus {
			log.Log(jobID, "video parse status", "video_no", videoNo, "status", status)
			lastStatus = status
			lastKeepAlive = time.Now()
		} else {
			keepAliveEvery := 120 * time.Second
			if status == VideoStatusUnparsed {
				keepAliveEvery = 60 * time.Second
			}
			if time.Since(lastKeepAlive) >= keepAliveEvery {
				log.Log(jobID, "still waiting for video parse", "video_no", videoNo, "elapsed", time.Since(start).Round(time.Second))
				lastKeepAlive = time.Now()
			}
		}

		if onTick != nil {
			onTick(time.Since(start))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(PollInterval):
		}
	}
}

// GetChapterSummary asks for chaptered summaries of a parsed video.
func (c *MemoriesClient) GetChapterSummary(ctx context.Context, videoNo string) ([]ChapterSummary, error) {
	ctx, cancel := context.WithTimeout(ctx, summaryTimeout)
	defer cancel()
	url := fmt.Sprintf("%s/serve/api/v1/generate_summary?video_no=%s&type=CHAPTER", c.BaseURL, videoNo)
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", c.APIKey)

	data, err := c.do(req)
	if err != nil {
		return nil, err
	}

	// the field name has changed across service versions
	var payload struct {
		Items    []ChapterSummary `json:"items"`
		Chapters []ChapterSummary `json:"chapters"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse chapter summary: %w", err)
	}
	if len(payload.Items) > 0 {
		return payload.Items, nil
	}
	return payload.Chapters, nil
}

// GetAudioTranscription fetches the speech transcript, normalizing the
// field-name variants the service has shipped over time.
func (c *MemoriesClient) GetAudioTranscription(ctx context.Context, videoNo string) ([]TranscriptSegment, error) {
	ctx, cancel := context.WithTimeout(ctx, transcriptTimeout)
	defer cancel()
	url := fmt.Sprintf("%s/serve/api/v1/get_audio_transcription?video_no=%s", c.BaseURL, videoNo)
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", c.APIKey)

	data, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Transcriptions []rawTranscript `json:"transcriptions"`
		Transcription  []rawTranscript `json:"transcription"`
		Items          []rawTranscript `json:"items"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse transcript: %w", err)
	}
	raw := payload.Transcriptions
	if len(raw) == 0 {
		raw = payload.Transcription
	}
	if len(raw) == 0 {
		raw = payload.Items
	}

	segments := make([]TranscriptSegment, 0, len(raw))
	for _, r := range raw {
		segments = append(segments, TranscriptSegment{
			Start:   r.start(),
			End:     r.end(),
			Text:    firstNonEmpty(r.Text, r.Content),
			Speaker: r.Speaker,
		})
	}
	return segments, nil
}

type rawTranscript struct {
	Start     json.Number `json:"start"`
	StartTime json.Number `json:"startTime"`
	End       json.Number `json:"end"`
	EndTime   json.Number `json:"endTime"`
	Text      string      `json:"text"`
	Content   string      `json:"content"`
	Speaker   string      `json:"speaker"`
}

func (r rawTranscript) start() float64 { return firstNumber(r.Start, r.StartTime) }
func (r rawTranscript) end() float64   { return firstNumber(r.End, r.EndTime) }

// Chat runs a visual question over one or more uploaded videos.
func (c *MemoriesClient) Chat(ctx context.Context, videoNos []string, prompt string) (string, error) {
	payload, err := json.Marshal(map[string]any{
		"video_nos": videoNos,
		"prompt":    prompt,
	})
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, chatTimeout)
	defer cancel()
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/serve/api/v1/chat", payload)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", c.APIKey)
	req.Header.Set("Content-Type", "application/json")

	data, err := c.do(req)
	if err != nil {
		return "", err
	}
	var result struct {
		Content string `json:"content"`
		Answer  string `json:"answer"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		// some deployments return the answer as a bare string
		var s string
		if err2 := json.Unmarshal(data, &s); err2 == nil {
			return s, nil
		}
		return "", fmt.Errorf("failed to parse chat response: %w", err)
	}
	return firstNonEmpty(result.Content, result.Answer), nil
}

// ExtractAllMovieData performs unified extraction: characters, locations,
// factions, relationships, scene bindings, plot summary, key moments and the
// speaker mapping, all in one chat call. Falls back to an empty bundle after
// repeated failures so the pipeline can continue degraded.
func (c *MemoriesClient) ExtractAllMovieData(ctx context.Context, jobID, videoNo string, chapterCount int, characterGuide string) (MovieData, error) {
	prompt := buildUnifiedExtractionPrompt(chapterCount, characterGuide)

	for attempt := 1; attempt <= extractionAttempts; attempt++ {
		answer, err := c.Chat(ctx, []string{videoNo}, prompt)
		if err != nil {
			log.Log(jobID, "unified extraction attempt failed", "attempt", attempt, "err", err)
			continue
		}
		data, err := parseMovieData(answer)
		if err != nil {
			log.Log(jobID, "unified extraction returned unparseable JSON", "attempt", attempt, "err", err)
			continue
		}
		return data, nil
	}
	log.Log(jobID, "unified extraction exhausted attempts, continuing with empty movie data")
	return MovieData{SpeakerMapping: map[string]string{}}, nil
}

// parseMovieData slices the answer between the first "{" and the last "}"
// before decoding, since models wrap JSON in prose and code fences.
func parseMovieData(answer string) (MovieData, error) {
	start := strings.Index(answer, "{")
	end := strings.LastIndex(answer, "}")
	if start < 0 || end <= start {
		return MovieData{}, fmt.Errorf("no JSON object in extraction answer")
	}
	var data MovieData
	if err := json.Unmarshal([]byte(answer[start:end+1]), &data); err != nil {
		return MovieData{}, err
	}
	if data.SpeakerMapping == nil {
		data.SpeakerMapping = map[string]string{}
	}
	return data, nil
}

func buildUnifiedExtractionPrompt(chapterCount int, characterGuide string) string {
	var sb strings.Builder
	sb.WriteString("Analyze this video in full and answer with a single JSON object, no prose.\n")
	sb.WriteString("The object must have these keys:\n")
	sb.WriteString(`  "title": the work's title if identifiable, else a fitting one` + "\n")
	sb.WriteString(`  "characters": [{"name","type","role","appearance"}] for every named character` + "\n")
	sb.WriteString(`  "character_guide": one paragraph describing who is who` + "\n")
	sb.WriteString(`  "locations": list of distinct locations` + "\n")
	sb.WriteString(`  "factions": list of groups/sides if any` + "\n")
	sb.WriteString(`  "relationships": list of "A - relation - B" strings` + "\n")
	fmt.Fprintf(&sb, "  \"scenes\": [{\"chapter\" (0-%d),\"location\",\"characters_present\",\"action\"}]\n", chapterCount-1)
	sb.WriteString(`  "plot_summary": 3-5 sentences` + "\n")
	sb.WriteString(`  "key_moments": [{"chapter_index","start","end","speaker","dialogue","importance","lead_in"}] — the most dramatic spoken lines with exact timestamps in seconds` + "\n")
	sb.WriteString(`  "speaker_mapping": {"Speaker 1": "Character Name", ...}` + "\n")
	if characterGuide != "" {
		sb.WriteString("\nKnown character guide from the user, use these names:\n")
		sb.WriteString(characterGuide)
		sb.WriteString("\n")
	}
	return sb.String()
}

// DeleteVideo removes the uploaded video from the understanding service.
// Best-effort at job completion and in the failure path.
func (c *MemoriesClient) DeleteVideo(ctx context.Context, videoNo string) error {
	payload, err := json.Marshal(map[string]any{"video_nos": []string{videoNo}})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, statusTimeout)
	defer cancel()
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodDelete, c.BaseURL+"/serve/api/v1/delete_videos", payload)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", c.APIKey)
	req.Header.Set("Content-Type", "application/json")

	_, err = c.do(req)
	return err
}

// do executes the request, unwraps the {code,msg,data} envelope and
// classifies failures as transient or fatal.
func (c *MemoriesClient) do(req *retryablehttp.Request) (json.RawMessage, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.NewTransientExternalError(memoriesService, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.NewTransientExternalError(memoriesService, err)
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, errors.NewTransientExternalError(memoriesService, fmt.Errorf("http %d: %s", resp.StatusCode, errors.SanitizeStderr(string(body))))
	}
	if resp.StatusCode >= 400 {
		return nil, errors.NewFatalExternalError(memoriesService, fmt.Sprint(resp.StatusCode), errors.SanitizeStderr(string(body)))
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, errors.NewFatalExternalError(memoriesService, "", fmt.Sprintf("invalid response envelope: %s", errors.SanitizeStderr(string(body))))
	}
	if env.Code != "0000" {
		if errors.IsTransientServiceFailure(env.Code, env.Msg) {
			return nil, errors.NewTransientExternalError(memoriesService, fmt.Errorf("code %s: %s", env.Code, env.Msg))
		}
		return nil, errors.NewFatalExternalError(memoriesService, env.Code, env.Msg)
	}
	return env.Data, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstNumber(values ...json.Number) float64 {
	for _, v := range values {
		if v == "" {
			continue
		}
		if f, err := v.Float64(); err == nil {
			return f
		}
	}
	return 0
}
