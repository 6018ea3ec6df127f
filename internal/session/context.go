package session

import (
	"time"

	"github.com/hireloop/hireloop/internal/models"
)

// DeriveCursor computes the next template-question index from persisted QA
// history by counting answered main questions. This is the resume-safe
// fallback: a reconnect never re-asks an already-answered root question.
func DeriveCursor(summaries []models.QASummary) int {
	var n int
	for _, s := range summaries {
		if s.QuestionType == models.QuestionTypeMain {
			n++
		}
	}
	return n
}

// RemainingSeconds computes the time left as max(0, duration - elapsed).
// An unstarted session has its full duration remaining.
func RemainingSeconds(sess *models.Session, tmpl *models.Template, now time.Time) int {
	total := tmpl.DurationMinutes * 60
	if sess.StartedAt == nil {
		return total
	}
	elapsed := int(now.Sub(*sess.StartedAt).Seconds())
	if elapsed >= total {
		return 0
	}
	return total - elapsed
}

// BuildContext assembles the generator context from the session, template,
// and persisted history. It is a pure function of its inputs, so a resumed
// session reproduces equivalent context to an uninterrupted one.
func BuildContext(
	sess *models.Session,
	tmpl *models.Template,
	transcript []models.TranscriptEntry,
	summaries []models.QASummary,
	cursor int,
	userText string,
	simulationDone bool,
	now time.Time,
) models.GeneratorContext {
	roots := tmpl.RootQuestions()

	var current *models.CurrentQuestionContext
	if cursor >= 0 && cursor < len(roots) {
		q := roots[cursor]
		var clarifying []string
		for _, c := range tmpl.ClarifyingQuestions(q.ID) {
			clarifying = append(clarifying, c.Text)
		}
		current = &models.CurrentQuestionContext{
			ID:                  q.ID.String(),
			Text:                q.Text,
			OrderIndex:          q.OrderIndex,
			ClarifyingQuestions: clarifying,
		}
	}

	var userResponse *models.CandidateUtterance
	if userText != "" {
		userResponse = &models.CandidateUtterance{Text: userText, Timestamp: now}
	}

	remaining := RemainingSeconds(sess, tmpl, now)

	history := make([]models.ConversationMessage, 0, len(transcript))
	for _, e := range transcript {
		history = append(history, models.ConversationMessage{
			Role:      e.Role,
			Text:      e.Text,
			Timestamp: e.Timestamp,
		})
	}

	answered := 0
	for _, s := range summaries {
		if s.QuestionType == models.QuestionTypeMain {
			answered++
		}
	}

	return models.GeneratorContext{
		Template: models.TemplateContext{
			ID:                    tmpl.ID.String(),
			Position:              tmpl.Position,
			Company:               tmpl.Company,
			Language:              tmpl.Language,
			Personality:           tmpl.Personality,
			DurationMinutes:       tmpl.DurationMinutes,
			Instructions:          tmpl.Config.AdditionalInstructions,
			AllowDynamicQuestions: tmpl.Config.AllowDynamicQuestions,
			CustomerSimulation:    tmpl.Config.CustomerSimulation,
		},
		CurrentQuestion: current,
		UserResponse:    userResponse,
		RemainingTime: models.RemainingTime{
			Minutes: remaining / 60,
			Seconds: remaining % 60,
		},
		ConversationHistory: history,
		QuestionProgress: models.QuestionProgress{
			CurrentQuestionIndex: cursor,
			TotalQuestions:       len(roots),
			AnsweredQuestions:    answered,
		},
		SessionHistory:        summaries,
		AllowDynamicQuestions: tmpl.Config.AllowDynamicQuestions,
		SimulationDone:        simulationDone,
	}
}
