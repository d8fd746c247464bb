package clients

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"github.com/badespider/videoeditor-sub000/errors"
	"github.com/badespider/videoeditor-sub000/metrics"
)

const (
	llmService        = "llm"
	llmDefaultModel   = "gpt-4o-mini"
	llmRequestTimeout = 120 * time.Second
)

// LLMClient generates narration text, intros and character analyses through
// an OpenAI-compatible chat endpoint.
type LLMClient struct {
	client openai.Client
	model  string
}

func NewLLMClient(apiKey, baseURL, model string) *LLMClient {
	if model == "" {
		model = llmDefaultModel
	}
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(&http.Client{Timeout: llmRequestTimeout}),
		option.WithMaxRetries(2),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &LLMClient{
		client: openai.NewClient(opts...),
		model:  model,
	}
}

// Complete runs a single chat turn and returns the trimmed assistant text.
func (c *LLMClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	messages := []openai.ChatCompletionMessageParamUnion{}
	if systemPrompt != "" {
		messages = append(messages, openai.SystemMessage(systemPrompt))
	}
	messages = append(messages, openai.UserMessage(userPrompt))

	start := time.Now()
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(c.model),
		Messages: messages,
	})
	metrics.Metrics.LLMRequestDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		var apiErr *openai.Error
		if stderrors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 && apiErr.StatusCode != http.StatusTooManyRequests {
			return "", errors.NewFatalExternalError(llmService, "", apiErr.Error())
		}
		return "", errors.NewTransientExternalError(llmService, err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.NewTransientExternalError(llmService, fmt.Errorf("completion had no choices"))
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
