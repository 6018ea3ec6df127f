package genai

import (
	"strings"
	"testing"
	"time"

	"github.com/hireloop/hireloop/internal/models"
)

func TestBuildUserPrompt_FirstMessageGreeting(t *testing.T) {
	ctx := testContext()
	prompt := buildUserPrompt(ctx, false)
	if !strings.Contains(prompt, "ИНСТРУКЦИЯ ДЛЯ ПЕРВОГО СООБЩЕНИЯ") {
		t.Error("expected greeting instruction for empty history")
	}
	if !strings.Contains(prompt, "Готовы ли вы начать?") {
		t.Error("expected readiness question in greeting format")
	}
}

func TestBuildUserPrompt_LowTimeWarning(t *testing.T) {
	ctx := testContext()
	ctx.RemainingTime = models.RemainingTime{Minutes: 3, Seconds: 10}
	prompt := buildUserPrompt(ctx, false)
	if !strings.Contains(prompt, "НЕ задавай дополнительные вопросы") {
		t.Error("expected low-time warning under 5 minutes")
	}
}

func TestBuildUserPrompt_ResumeFlag(t *testing.T) {
	ctx := testContext()
	ctx.ConversationHistory = []models.ConversationMessage{
		{Role: models.RoleAssistant, Text: "Здравствуйте!", Timestamp: time.Now()},
		{Role: models.RoleCandidate, Text: "Да, готов", Timestamp: time.Now()},
	}
	prompt := buildUserPrompt(ctx, true)
	if !strings.Contains(prompt, "Сессия была прервана и восстановлена") {
		t.Error("expected resume notice")
	}
	if !strings.Contains(prompt, "ИСТОРИЯ ДИАЛОГА") {
		t.Error("expected dialog history section")
	}
}

func TestBuildUserPrompt_AskedQuestionsListed(t *testing.T) {
	ctx := testContext()
	ctx.ConversationHistory = []models.ConversationMessage{
		{Role: models.RoleAssistant, Text: "Вопрос один"},
	}
	ctx.SessionHistory = []models.QASummary{
		{QuestionText: "Расскажите о себе", AnswerText: "Опыт пять лет", QuestionType: models.QuestionTypeMain},
	}
	prompt := buildUserPrompt(ctx, false)
	if !strings.Contains(prompt, "УЖЕ ЗАДАННЫЕ ВОПРОСЫ") {
		t.Error("expected asked-questions section")
	}
	if !strings.Contains(prompt, "Расскажите о себе") {
		t.Error("expected asked question text listed")
	}
}

func TestBuildSystemPrompt_DynamicQuestionsToggle(t *testing.T) {
	ctx := testContext()

	ctx.AllowDynamicQuestions = false
	prompt := buildSystemPrompt(ctx)
	if !strings.Contains(prompt, "isDynamic всегда должен быть false") {
		t.Error("expected dynamic questions forbidden")
	}

	ctx.AllowDynamicQuestions = true
	prompt = buildSystemPrompt(ctx)
	if !strings.Contains(prompt, "укажи в ответе isDynamic = true") {
		t.Error("expected dynamic questions allowed")
	}
}

func TestBuildSystemPrompt_SimulationSections(t *testing.T) {
	ctx := testContext()
	ctx.Template.CustomerSimulation = &models.CustomerSimulation{
		Enabled:  true,
		Role:     "недовольный клиент",
		Scenario: "возврат товара",
	}

	prompt := buildSystemPrompt(ctx)
	if !strings.Contains(prompt, "МОДЕЛИРОВАНИЕ РЕАЛЬНОЙ РАБОЧЕЙ СИТУАЦИИ") {
		t.Error("expected simulation rules when enabled")
	}
	if !strings.Contains(prompt, "недовольный клиент") {
		t.Error("expected client role in prompt")
	}

	ctx.SimulationDone = true
	prompt = buildSystemPrompt(ctx)
	if !strings.Contains(prompt, "СИМУЛЯЦИЯ УЖЕ ПРОВЕДЕНА") {
		t.Error("expected completed-simulation rules")
	}
}
