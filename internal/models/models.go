// Package models defines the core data structures for Hireloop.
//
// It includes the session, template, transcript, and question-answer types shared
// across the store, orchestrator, and generator modules.
package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// SessionStatus represents the lifecycle state of an interview session.
type SessionStatus string

const (
	// SessionStatusPending indicates the session is created but not started.
	SessionStatusPending SessionStatus = "pending"
	// SessionStatusInProgress indicates the interview dialog is underway.
	SessionStatusInProgress SessionStatus = "in_progress"
	// SessionStatusCompleted indicates the interview finished normally.
	SessionStatusCompleted SessionStatus = "completed"
	// SessionStatusAbandoned indicates the interview was abandoned.
	SessionStatusAbandoned SessionStatus = "abandoned"
)

// IsValidSessionStatus checks if the given session status is supported.
func IsValidSessionStatus(s SessionStatus) bool {
	switch s {
	case SessionStatusPending, SessionStatusInProgress, SessionStatusCompleted, SessionStatusAbandoned:
		return true
	default:
		return false
	}
}

// Role identifies the author of a dialog turn.
type Role string

const (
	// RoleAssistant is the AI interviewer side of the dialog.
	RoleAssistant Role = "ai"
	// RoleCandidate is the candidate side of the dialog.
	RoleCandidate Role = "user"
)

// QuestionType classifies a question-answer record.
type QuestionType string

const (
	// QuestionTypeMain is a root question matching the template plan.
	QuestionTypeMain QuestionType = "main"
	// QuestionTypeClarifying is a follow-up refining a main question.
	QuestionTypeClarifying QuestionType = "clarifying"
	// QuestionTypeDynamic is an ad hoc question proposed by the generator.
	QuestionTypeDynamic QuestionType = "dynamic"
)

// IsValidQuestionType checks if the given question type is supported.
func IsValidQuestionType(qt QuestionType) bool {
	switch qt {
	case QuestionTypeMain, QuestionTypeClarifying, QuestionTypeDynamic:
		return true
	default:
		return false
	}
}

// Error variables for better error handling and testability
var (
	ErrSessionNotFound     = errors.New("session not found")
	ErrTemplateNotFound    = errors.New("template not found")
	ErrTemplateInactive    = errors.New("template is not active")
	ErrScenarioNotFound    = errors.New("simulation scenario not found")
	ErrScenarioExists      = errors.New("simulation scenario already exists for session")
	ErrInvalidQuestionType = errors.New("invalid question type")
	ErrMainNodeWithParent  = errors.New("main question-answer node cannot have a parent")
	ErrChildNodeNoParent   = errors.New("clarifying or dynamic node requires a parent")
	ErrEmptyQuestionText   = errors.New("question text cannot be empty")
	ErrInvalidStatusChange = errors.New("invalid session status transition")
	ErrEmptyTranscriptText = errors.New("transcript message text cannot be empty")
	ErrInvalidRole         = errors.New("invalid dialog role")
)

// Session is one candidate's concrete attempt at a template.
type Session struct {
	ID               uuid.UUID     `json:"id"`
	TemplateID       uuid.UUID     `json:"template_id"`
	CandidateName    string        `json:"candidate_name"`
	CandidateSurname string        `json:"candidate_surname,omitempty"`
	CandidateEmail   string        `json:"candidate_email,omitempty"`
	Status           SessionStatus `json:"status"`
	StartedAt        *time.Time    `json:"started_at,omitempty"`
	CompletedAt      *time.Time    `json:"completed_at,omitempty"`
	AudioFilePath    string        `json:"audio_file_path,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
}

// CanTransitionTo reports whether the status change is allowed.
// Transitions are monotonic: pending -> in_progress -> completed/abandoned.
func (s *Session) CanTransitionTo(next SessionStatus) bool {
	switch s.Status {
	case SessionStatusPending:
		return next == SessionStatusInProgress || next == SessionStatusAbandoned
	case SessionStatusInProgress:
		return next == SessionStatusCompleted || next == SessionStatusAbandoned
	default:
		return false
	}
}

// CustomerSimulation is the template's optional role-play configuration.
type CustomerSimulation struct {
	Enabled  bool   `json:"enabled"`
	Role     string `json:"role,omitempty"`
	Scenario string `json:"scenario,omitempty"`
}

// TemplateConfig holds per-template dialog behavior settings.
type TemplateConfig struct {
	AdditionalInstructions string              `json:"additional_instructions,omitempty"`
	AllowDynamicQuestions  bool                `json:"allow_dynamic_questions"`
	CustomerSimulation     *CustomerSimulation `json:"customer_simulation,omitempty"`
}

// SimulationEnabled reports whether the role-play phase is configured and enabled.
func (c *TemplateConfig) SimulationEnabled() bool {
	return c != nil && c.CustomerSimulation != nil && c.CustomerSimulation.Enabled
}

// TemplateQuestion is a predefined question within a template. A question with a
// parent is a predefined clarifying sub-question of that parent.
type TemplateQuestion struct {
	ID         uuid.UUID  `json:"id"`
	TemplateID uuid.UUID  `json:"template_id"`
	ParentID   *uuid.UUID `json:"parent_id,omitempty"`
	Text       string     `json:"text"`
	OrderIndex int        `json:"order_index"`
}

// Template is a reusable interview definition created by an organizer.
type Template struct {
	ID              uuid.UUID          `json:"id"`
	Position        string             `json:"position"`
	Company         string             `json:"company,omitempty"`
	Language        string             `json:"language"`
	Personality     string             `json:"personality"`
	DurationMinutes int                `json:"duration_minutes"`
	IsActive        bool               `json:"is_active"`
	Config          TemplateConfig     `json:"config"`
	Questions       []TemplateQuestion `json:"questions"`
}

// RootQuestions returns the template's top-level questions ordered by index.
// The slice order is stable because the store loads questions ordered.
func (t *Template) RootQuestions() []TemplateQuestion {
	var roots []TemplateQuestion
	for _, q := range t.Questions {
		if q.ParentID == nil {
			roots = append(roots, q)
		}
	}
	return roots
}

// ClarifyingQuestions returns the predefined children of the given root question.
func (t *Template) ClarifyingQuestions(parentID uuid.UUID) []TemplateQuestion {
	var children []TemplateQuestion
	for _, q := range t.Questions {
		if q.ParentID != nil && *q.ParentID == parentID {
			children = append(children, q)
		}
	}
	return children
}

// TranscriptEntry is one turn in the session dialog, the append-only durable log.
// Assistant turns record the resolved type of the question asked, so a resumed
// dialog knows what kind of question the candidate is about to answer.
type TranscriptEntry struct {
	ID           uuid.UUID    `json:"id"`
	SessionID    uuid.UUID    `json:"session_id"`
	Role         Role         `json:"role"`
	Text         string       `json:"text"`
	AudioURL     string       `json:"audio_url,omitempty"`
	QuestionType QuestionType `json:"question_type,omitempty"`
	OrderIndex   int          `json:"order_index"`
	Timestamp    time.Time    `json:"timestamp"`
}

// QANode is the semantic record of one asked-question/given-answer pair, distinct
// from the raw transcript. The question text is the text as actually asked, which
// may diverge from the template wording.
type QANode struct {
	ID           uuid.UUID    `json:"id"`
	SessionID    uuid.UUID    `json:"session_id"`
	ParentID     *uuid.UUID   `json:"parent_id,omitempty"`
	QuestionText string       `json:"question_text"`
	AnswerText   string       `json:"answer_text"`
	Type         QuestionType `json:"type"`
	IsClarifying bool         `json:"is_clarifying"`
	OrderIndex   int          `json:"order_index"`
	CreatedAt    time.Time    `json:"created_at"`
}

// Validate enforces the QA tree invariants.
func (n *QANode) Validate() error {
	if !IsValidQuestionType(n.Type) {
		return ErrInvalidQuestionType
	}
	if n.QuestionText == "" {
		return ErrEmptyQuestionText
	}
	if n.Type == QuestionTypeMain && n.ParentID != nil {
		return ErrMainNodeWithParent
	}
	if n.Type != QuestionTypeMain && n.ParentID == nil {
		return ErrChildNodeNoParent
	}
	return nil
}

// QASummary is the condensed question-answer tuple fed into the generator context.
type QASummary struct {
	QuestionText string       `json:"questionText"`
	AnswerText   string       `json:"answerText"`
	QuestionType QuestionType `json:"questionType"`
	ParentID     *uuid.UUID   `json:"parentSessionQuestionAnswerId,omitempty"`
}

// SimulationScenario is the per-session record of the role-play phase.
type SimulationScenario struct {
	ID          uuid.UUID `json:"id"`
	SessionID   uuid.UUID `json:"session_id"`
	ClientRole  string    `json:"client_role"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// SimulationTurn is one turn within the role-play phase, kept separate from the
// main transcript.
type SimulationTurn struct {
	ID         uuid.UUID `json:"id"`
	ScenarioID uuid.UUID `json:"scenario_id"`
	Role       Role      `json:"role"`
	Text       string    `json:"text"`
	OrderIndex int       `json:"order_index"`
	Timestamp  time.Time `json:"timestamp"`
}

// SimulationDone reports whether the recorded turns mark the role-play phase as
// complete: at least one assistant and one candidate turn.
func SimulationDone(turns []SimulationTurn) bool {
	var sawAssistant, sawCandidate bool
	for _, t := range turns {
		switch t.Role {
		case RoleAssistant:
			sawAssistant = true
		case RoleCandidate:
			sawCandidate = true
		}
	}
	return sawAssistant && sawCandidate
}
