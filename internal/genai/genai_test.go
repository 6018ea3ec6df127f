package genai

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/openai/openai-go"

	"github.com/hireloop/hireloop/internal/models"
)

// mockChatService implements chatService for testing.
type mockChatService struct {
	resp  openai.ChatCompletion
	err   error
	calls int
	// errUntil fails the first N calls, then returns resp.
	errUntil int
}

func (m *mockChatService) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	m.calls++
	if m.errUntil > 0 && m.calls <= m.errUntil {
		return openai.ChatCompletion{}, m.err
	}
	if m.errUntil == 0 && m.err != nil {
		return openai.ChatCompletion{}, m.err
	}
	return m.resp, nil
}

func completionWith(content string) openai.ChatCompletion {
	return openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: content}},
		},
	}
}

func testContext() models.GeneratorContext {
	return models.GeneratorContext{
		Template: models.TemplateContext{
			Position:        "Backend Developer",
			Company:         "Acme",
			Language:        "ru",
			Personality:     "professional",
			DurationMinutes: 30,
		},
		RemainingTime: models.RemainingTime{Minutes: 25, Seconds: 30},
		QuestionProgress: models.QuestionProgress{
			CurrentQuestionIndex: 0,
			TotalQuestions:       3,
		},
	}
}

func TestGenerateQuestion_Success(t *testing.T) {
	body := `{
		"question": {"text": "Расскажите о вашем опыте", "type": "main", "isClarifying": false, "isDynamic": false},
		"metadata": {"needsClarification": false, "answerQuality": "complete", "shouldMoveNext": true, "estimatedTimeRemaining": 20},
		"analysis": {"keyPoints": ["опыт"], "suggestedFollowUps": ["стек"]}
	}`
	client := &Client{chat: &mockChatService{resp: completionWith(body)}}
	resp, err := client.GenerateQuestion(context.Background(), testContext())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if resp.Question.Text != "Расскажите о вашем опыте" {
		t.Errorf("unexpected question: %q", resp.Question.Text)
	}
	if resp.Question.Type != models.QuestionTypeMain {
		t.Errorf("unexpected type: %s", resp.Question.Type)
	}
	if !resp.Metadata.ShouldMoveNext {
		t.Error("expected shouldMoveNext true")
	}
	if resp.Analysis == nil || len(resp.Analysis.KeyPoints) != 1 {
		t.Errorf("unexpected analysis: %+v", resp.Analysis)
	}
}

func TestGenerateQuestion_RecoversJSONFromProse(t *testing.T) {
	body := "Вот мой ответ:\n```json\n" + `{"question": {"text": "Вопрос", "type": "main"}, "metadata": {"shouldMoveNext": false}}` + "\n```\nКонец."
	client := &Client{chat: &mockChatService{resp: completionWith(body)}}
	resp, err := client.GenerateQuestion(context.Background(), testContext())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if resp.Question.Text != "Вопрос" {
		t.Errorf("unexpected question: %q", resp.Question.Text)
	}
	// Sparse metadata is filled with defaults.
	if resp.Metadata.AnswerQuality != models.AnswerQualityComplete {
		t.Errorf("expected default answerQuality, got %q", resp.Metadata.AnswerQuality)
	}
}

func TestGenerateQuestion_EmptyResponseFallback(t *testing.T) {
	client := &Client{chat: &mockChatService{resp: completionWith("   ")}}
	resp, err := client.GenerateQuestion(context.Background(), testContext())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if resp.Question.Text != FallbackQuestion {
		t.Errorf("expected fallback question, got %q", resp.Question.Text)
	}
	if !resp.Metadata.ShouldMoveNext {
		t.Error("fallback should move next")
	}
	if resp.Metadata.EstimatedTimeRemaining == nil || *resp.Metadata.EstimatedTimeRemaining != 25 {
		t.Errorf("unexpected fallback estimate: %v", resp.Metadata.EstimatedTimeRemaining)
	}
}

func TestGenerateQuestion_RetriesConnectionErrors(t *testing.T) {
	body := `{"question": {"text": "Вопрос", "type": "main"}, "metadata": {"shouldMoveNext": true}}`
	mock := &mockChatService{
		resp:     completionWith(body),
		err:      errors.New("connection reset by peer"),
		errUntil: 2,
	}
	client := &Client{chat: mock}
	resp, err := client.GenerateQuestion(context.Background(), testContext())
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if mock.calls != 3 {
		t.Errorf("expected 3 attempts, got %d", mock.calls)
	}
	if resp.Question.Text != "Вопрос" {
		t.Errorf("unexpected question: %q", resp.Question.Text)
	}
}

func TestGenerateQuestion_NonConnectionErrorNotRetried(t *testing.T) {
	mock := &mockChatService{err: errors.New("invalid api key")}
	client := &Client{chat: mock}
	_, err := client.GenerateQuestion(context.Background(), testContext())
	if err == nil || !strings.Contains(err.Error(), "invalid api key") {
		t.Errorf("expected api key error, got %v", err)
	}
	if mock.calls != 1 {
		t.Errorf("expected single attempt, got %d", mock.calls)
	}
}

func TestGenerateQuestion_NoChoices(t *testing.T) {
	client := &Client{chat: &mockChatService{resp: openai.ChatCompletion{}}}
	_, err := client.GenerateQuestion(context.Background(), testContext())
	if !errors.Is(err, ErrNoChoicesReturned) {
		t.Errorf("expected ErrNoChoicesReturned, got %v", err)
	}
}

func TestNewClient_NoKey(t *testing.T) {
	t.Setenv("DEEPSEEK_API_KEY", "")
	_, err := NewClient()
	if !errors.Is(err, ErrAPIKeyNotSet) {
		t.Errorf("expected ErrAPIKeyNotSet, got %v", err)
	}
}

func TestNewClient_WithKey(t *testing.T) {
	cli, err := NewClient(WithAPIKey("test-key"))
	if err != nil {
		t.Fatalf("expected no error with API key, got %v", err)
	}
	if cli == nil {
		t.Error("expected client instance, got nil")
	}
}
