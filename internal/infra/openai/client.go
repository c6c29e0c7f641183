package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"engagement-hub/internal/infra/metrics"
)

// ErrRateLimited возвращается, когда API ответило 429.
var ErrRateLimited = errors.New("openai: rate limited")

// Client выполняет Chat Completions запросы через openai-go.
type Client struct {
	api   openai.Client
	model string
}

// NewClient создаёт клиента OpenAI.
func NewClient(apiKey, baseURL, model string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithRequestTimeout(timeout),
		option.WithMaxRetries(1),
	}
	if strings.TrimSpace(baseURL) != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimRight(baseURL, "/")+"/"))
	}
	return &Client{api: openai.NewClient(opts...), model: model}
}

// ChatRequest описывает один запрос к модели.
type ChatRequest struct {
	System      string
	User        string
	JSON        bool
	Temperature float64
	MaxTokens   int
}

// ChatResponse содержит ответ модели и статистику токенов.
type ChatResponse struct {
	Content          string
	Model            string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Model возвращает модель по умолчанию.
func (c *Client) Model() string {
	return c.model
}

// Complete вызывает /chat/completions.
func (c *Client) Complete(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.User))

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(c.model),
		Messages: messages,
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.JSON {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{Type: "json_object"},
		}
	}

	start := time.Now()
	completion, err := c.api.Chat.Completions.New(ctx, params)
	if err != nil {
		metrics.ObserveNetworkRequest("openai", "chat_completions", c.model, start, err)
		var apiErr *openai.Error
		if errors.As(err, &apiErr) && apiErr.StatusCode == 429 {
			return ChatResponse{}, fmt.Errorf("%w: %v", ErrRateLimited, err)
		}
		return ChatResponse{}, fmt.Errorf("openai: %w", err)
	}
	if len(completion.Choices) == 0 {
		err = errors.New("openai: пустой ответ")
		metrics.ObserveNetworkRequest("openai", "chat_completions", c.model, start, err)
		return ChatResponse{}, err
	}
	metrics.ObserveNetworkRequest("openai", "chat_completions", c.model, start, nil)

	resp := ChatResponse{
		Content:          strings.TrimSpace(completion.Choices[0].Message.Content),
		Model:            string(completion.Model),
		PromptTokens:     int(completion.Usage.PromptTokens),
		CompletionTokens: int(completion.Usage.CompletionTokens),
		TotalTokens:      int(completion.Usage.TotalTokens),
	}
	metrics.ObserveLLMGeneration(c.model, time.Since(start), resp.PromptTokens, resp.CompletionTokens, resp.TotalTokens)
	return resp, nil
}
