// Package store provides storage backends for Hireloop.
//
// It includes an in-memory store for tests and development, plus SQLite and
// PostgreSQL implementations sharing one embedded-migration pattern.
package store

import (
	"time"

	"github.com/google/uuid"

	"github.com/hireloop/hireloop/internal/models"
)

// Store defines the persistence operations the session orchestrator depends on.
// Implementations must be safe for concurrent use.
type Store interface {
	// Templates.
	CreateTemplate(t models.Template) error
	GetTemplate(id uuid.UUID) (*models.Template, error)

	// Sessions.
	CreateSession(s models.Session) error
	GetSession(id uuid.UUID) (*models.Session, error)
	UpdateSessionStatus(id uuid.UUID, status models.SessionStatus) error
	SetSessionAudioPath(id uuid.UUID, path string) error
	ListStaleSessions(status models.SessionStatus, before time.Time) ([]models.Session, error)

	// Transcript. AppendTranscriptEntry assigns the next order index for the
	// session and fills ID and Timestamp when unset.
	AppendTranscriptEntry(e *models.TranscriptEntry) error
	ListTranscript(sessionID uuid.UUID) ([]models.TranscriptEntry, error)
	LatestAssistantEntry(sessionID uuid.UUID) (*models.TranscriptEntry, error)

	// Question-answer tree. AppendQANode assigns the next order index for the
	// session and fills ID and CreatedAt when unset.
	AppendQANode(n *models.QANode) error
	ListQANodes(sessionID uuid.UUID) ([]models.QANode, error)
	GetQASummaries(sessionID uuid.UUID) ([]models.QASummary, error)

	// Customer simulation.
	CreateSimulationScenario(sc *models.SimulationScenario) error
	GetSimulationScenario(sessionID uuid.UUID) (*models.SimulationScenario, error)
	AppendSimulationTurn(t *models.SimulationTurn) error
	ListSimulationTurns(scenarioID uuid.UUID) ([]models.SimulationTurn, error)

	JobRepo

	Close() error
}

// NewFromDSN constructs the store matching the DSN's database type.
func NewFromDSN(dsn string) (Store, error) {
	if DetectDSNType(dsn) == "postgres" {
		return NewPostgresStore(WithPostgresDSN(dsn))
	}
	return NewSQLiteStore(WithSQLiteDSN(dsn))
}
