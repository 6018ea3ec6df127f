package models

import "time"

// AnswerQuality grades the candidate's last answer in generator metadata.
type AnswerQuality string

const (
	AnswerQualityComplete     AnswerQuality = "complete"
	AnswerQualityPartial      AnswerQuality = "partial"
	AnswerQualityInsufficient AnswerQuality = "insufficient"
)

// TemplateContext is the template metadata slice of the generator context.
type TemplateContext struct {
	ID                    string              `json:"id"`
	Position              string              `json:"position"`
	Company               string              `json:"company,omitempty"`
	Language              string              `json:"language"`
	Personality           string              `json:"personality"`
	DurationMinutes       int                 `json:"duration"`
	Instructions          string              `json:"instructions,omitempty"`
	AllowDynamicQuestions bool                `json:"allowDynamicQuestions"`
	CustomerSimulation    *CustomerSimulation `json:"customerSimulation,omitempty"`
}

// CurrentQuestionContext resolves the template question the dialog should be on,
// together with its predefined clarifying sub-questions.
type CurrentQuestionContext struct {
	ID                  string   `json:"id"`
	Text                string   `json:"text"`
	OrderIndex          int      `json:"orderIndex"`
	ClarifyingQuestions []string `json:"clarifyingQuestions,omitempty"`
}

// CandidateUtterance is the most recent candidate reply, if any.
type CandidateUtterance struct {
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// RemainingTime is the time left in the session, split into whole minutes/seconds.
type RemainingTime struct {
	Minutes int `json:"minutes"`
	Seconds int `json:"seconds"`
}

// ConversationMessage is one transcript turn replayed into the context.
type ConversationMessage struct {
	Role      Role      `json:"role"`
	Text      string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// QuestionProgress carries the progress counters for the generator.
type QuestionProgress struct {
	CurrentQuestionIndex int `json:"currentQuestionIndex"`
	TotalQuestions       int `json:"totalQuestions"`
	AnsweredQuestions    int `json:"answeredQuestions"`
}

// GeneratorContext is the sole input to the question generator call. It must be
// complete enough that a resumed session reproduces equivalent context to an
// uninterrupted one.
type GeneratorContext struct {
	Template              TemplateContext         `json:"interview"`
	CurrentQuestion       *CurrentQuestionContext `json:"currentInterviewQuestion,omitempty"`
	UserResponse          *CandidateUtterance     `json:"userResponse,omitempty"`
	RemainingTime         RemainingTime           `json:"remainingTime"`
	ConversationHistory   []ConversationMessage   `json:"conversationHistory"`
	QuestionProgress      QuestionProgress        `json:"questionProgress"`
	SessionHistory        []QASummary             `json:"sessionHistory"`
	AllowDynamicQuestions bool                    `json:"allowDynamicQuestions"`
	SimulationDone        bool                    `json:"simulationDone"`
}

// GeneratedQuestion is the question portion of a generator response.
type GeneratedQuestion struct {
	Text      string       `json:"text"`
	Type      QuestionType `json:"type"`
	IsDynamic bool         `json:"isDynamic"`
	ParentID  string       `json:"parentSessionQuestionAnswerId,omitempty"`
}

// GeneratorMetadata carries the generator's self-assessment of the turn.
type GeneratorMetadata struct {
	NeedsClarification     bool          `json:"needsClarification"`
	AnswerQuality          AnswerQuality `json:"answerQuality"`
	ShouldMoveNext         bool          `json:"shouldMoveNext"`
	EstimatedTimeRemaining *int          `json:"estimatedTimeRemaining,omitempty"`
}

// GeneratorAnalysis is the optional analysis portion of a generator response.
type GeneratorAnalysis struct {
	KeyPoints          []string `json:"keyPoints"`
	SuggestedFollowUps []string `json:"suggestedFollowUps"`
}

// GeneratorResponse is the structured next-turn decision returned by the
// question generator.
type GeneratorResponse struct {
	Question GeneratedQuestion  `json:"question"`
	Metadata GeneratorMetadata  `json:"metadata"`
	Analysis *GeneratorAnalysis `json:"analysis,omitempty"`
}

// Normalize fills defaulted metadata fields so downstream code never sees
// zero-value quality grades from a sparse generator reply.
func (r *GeneratorResponse) Normalize() {
	if r.Metadata.AnswerQuality == "" {
		r.Metadata.AnswerQuality = AnswerQualityComplete
	}
	if r.Question.Type == "" {
		r.Question.Type = QuestionTypeMain
	}
	if r.Question.IsDynamic {
		r.Question.Type = QuestionTypeDynamic
	}
}
