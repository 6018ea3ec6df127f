// Package genai generates interview questions through an OpenAI-compatible
// chat API using structured JSON responses.
package genai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/hireloop/hireloop/internal/models"
)

// Defaults for the DeepSeek chat API.
const (
	DefaultBaseURL     = "https://api.deepseek.com"
	DefaultModel       = "deepseek-chat"
	DefaultTemperature = 0.5
	DefaultMaxTokens   = 800

	connectRetries = 3
)

var (
	// ErrNoChoicesReturned indicates the API response contained no choices.
	ErrNoChoicesReturned = errors.New("no choices returned")
	// ErrAPIKeyNotSet indicates no API key was provided via options or environment.
	ErrAPIKeyNotSet = errors.New("API key not set")
)

// FallbackQuestion is asked when the model returns an empty response.
const FallbackQuestion = "Расскажите о вашем опыте работы по данной специальности."

// chatService defines minimal interface for chat completions.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error)
}

// openaiChatService adapts the OpenAI SDK client to the chatService interface.
type openaiChatService struct {
	svc openai.ChatCompletionService
}

func (s openaiChatService) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	resp, err := s.svc.New(ctx, params)
	if err != nil {
		return openai.ChatCompletion{}, err
	}
	return *resp, nil
}

// Opts holds configuration options for the question generator client.
type Opts struct {
	APIKey  string
	BaseURL string
	Model   string
}

// Option defines a configuration option for the question generator client.
type Option func(*Opts)

// WithAPIKey sets the API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithBaseURL overrides the API base URL.
func WithBaseURL(url string) Option {
	return func(o *Opts) { o.BaseURL = url }
}

// WithModel overrides the chat model.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// Client wraps an OpenAI-compatible chat service for interview question
// generation.
type Client struct {
	chat       chatService
	model      string
	retryDelay time.Duration
}

// NewClient initializes a generator client. The API key is taken from options
// or the DEEPSEEK_API_KEY environment variable.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = strings.TrimSpace(os.Getenv("DEEPSEEK_API_KEY"))
	}
	if apiKey == "" {
		slog.Error("GenAI NewClient: API key not set")
		return nil, ErrAPIKeyNotSet
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	cli := openai.NewClient(option.WithAPIKey(apiKey), option.WithBaseURL(baseURL))
	slog.Debug("GenAI NewClient initialized", "model", model, "baseURL", baseURL)
	return &Client{
		chat:       openaiChatService{svc: cli.Chat.Completions},
		model:      model,
		retryDelay: 2 * time.Second,
	}, nil
}

// GenerateQuestion produces the next structured turn decision from the full
// session context. Connection failures are retried, an empty model response
// falls back to a canned question, and malformed JSON is recovered from
// surrounding prose when possible.
func (c *Client) GenerateQuestion(ctx context.Context, genCtx models.GeneratorContext) (*models.GeneratorResponse, error) {
	systemPrompt := buildSystemPrompt(genCtx)
	// More than the greeting in history means the session was resumed or is
	// mid-dialog; the prompt flags resumes explicitly.
	userPrompt := buildUserPrompt(genCtx, len(genCtx.ConversationHistory) > 1)

	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt),
		},
		Temperature:         openai.Float(DefaultTemperature),
		MaxCompletionTokens: openai.Int(DefaultMaxTokens),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
	}

	text, err := c.createWithRetry(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("failed to generate question: %w", err)
	}

	if strings.TrimSpace(text) == "" {
		slog.Warn("GenAI GenerateQuestion: empty response, using fallback question")
		return fallbackResponse(), nil
	}

	resp, err := parseResponse(text)
	if err != nil {
		slog.Error("GenAI GenerateQuestion: unparseable response", "error", err, "preview", preview(text))
		return nil, err
	}
	resp.Normalize()
	slog.Debug("GenAI GenerateQuestion succeeded", "type", resp.Question.Type, "shouldMoveNext", resp.Metadata.ShouldMoveNext)
	return resp, nil
}

// createWithRetry calls the chat API, retrying transient connection failures
// with a fixed delay.
func (c *Client) createWithRetry(ctx context.Context, params openai.ChatCompletionNewParams) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= connectRetries; attempt++ {
		resp, err := c.chat.Create(ctx, params)
		if err != nil {
			lastErr = err
			if isConnectionError(err) && attempt < connectRetries {
				slog.Warn("GenAI createWithRetry: connection error, retrying", "attempt", attempt, "error", err)
				select {
				case <-ctx.Done():
					return "", ctx.Err()
				case <-time.After(c.retryDelay):
				}
				continue
			}
			return "", err
		}
		if len(resp.Choices) == 0 {
			return "", ErrNoChoicesReturned
		}
		return resp.Choices[0].Message.Content, nil
	}
	return "", lastErr
}

func isConnectionError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection") || strings.Contains(msg, "connect")
}

// parseResponse decodes the model's JSON reply, extracting an embedded JSON
// object when the model wrapped it in prose or markdown fences.
func parseResponse(text string) (*models.GeneratorResponse, error) {
	var resp models.GeneratorResponse
	if err := json.Unmarshal([]byte(text), &resp); err == nil {
		return &resp, nil
	}
	extracted, ok := extractJSON(text)
	if !ok {
		return nil, fmt.Errorf("invalid JSON response: %s", preview(text))
	}
	if err := json.Unmarshal([]byte(extracted), &resp); err != nil {
		return nil, fmt.Errorf("failed to parse extracted JSON: %w", err)
	}
	return &resp, nil
}

func fallbackResponse() *models.GeneratorResponse {
	est := 25
	return &models.GeneratorResponse{
		Question: models.GeneratedQuestion{
			Text: FallbackQuestion,
			Type: models.QuestionTypeMain,
		},
		Metadata: models.GeneratorMetadata{
			NeedsClarification:     false,
			AnswerQuality:          models.AnswerQualityComplete,
			ShouldMoveNext:         true,
			EstimatedTimeRemaining: &est,
		},
	}
}

func preview(s string) string {
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
