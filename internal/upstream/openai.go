package upstream

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/router-for-me/MealPlanProxy/internal/config"
)

// OpenAIProvider calls an OpenAI compatible chat completions endpoint.
type OpenAIProvider struct {
	client openai.Client
}

// NewOpenAIProvider constructs a provider that makes exactly one attempt per call.
func NewOpenAIProvider(cfg config.UpstreamConfig, httpClient *http.Client) *OpenAIProvider {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if baseURL := strings.TrimSpace(cfg.BaseURL); baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL+"/"))
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	return &OpenAIProvider{client: openai.NewClient(opts...)}
}

// Complete sends the system and user messages and returns the first choice.
func (p *OpenAIProvider) Complete(ctx context.Context, req ChatRequest) (Completion, error) {
	resp, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(req.System),
			openai.UserMessage(req.User),
		},
		Model:       openai.ChatModel(req.Model),
		Temperature: openai.Float(req.Temperature),
	})
	if err != nil {
		return Completion{}, classifyError(err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return Completion{}, NewError(0, "", ErrEmptyResponse)
	}
	return Completion{
		Content:          resp.Choices[0].Message.Content,
		Model:            resp.Model,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}, nil
}

func classifyError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		message := apiErr.Message
		if code := strings.TrimSpace(apiErr.Code); code != "" {
			message = code + ": " + message
		}
		return NewError(apiErr.StatusCode, message, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewError(http.StatusGatewayTimeout, "request timed out", err)
	}
	return NewError(0, "", err)
}
