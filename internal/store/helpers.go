package store

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/hireloop/hireloop/internal/models"
)

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// uuidOrNil returns nil for a nil UUID pointer, otherwise its string form.
func uuidOrNil(id *uuid.UUID) interface{} {
	if id == nil {
		return nil
	}
	return id.String()
}

func scanSession(row rowScanner) (models.Session, error) {
	var s models.Session
	var surname, email, audioPath sql.NullString
	var startedAt, completedAt sql.NullTime
	err := row.Scan(
		&s.ID, &s.TemplateID, &s.CandidateName, &surname, &email,
		&s.Status, &startedAt, &completedAt, &audioPath, &s.CreatedAt,
	)
	if err != nil {
		return s, err
	}
	s.CandidateSurname = surname.String
	s.CandidateEmail = email.String
	s.AudioFilePath = audioPath.String
	if startedAt.Valid {
		s.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		s.CompletedAt = &completedAt.Time
	}
	return s, nil
}

func scanTranscriptEntry(row rowScanner) (models.TranscriptEntry, error) {
	var e models.TranscriptEntry
	var audioURL, questionType sql.NullString
	err := row.Scan(&e.ID, &e.SessionID, &e.Role, &e.Text, &audioURL, &questionType, &e.OrderIndex, &e.Timestamp)
	if err != nil {
		return e, err
	}
	e.AudioURL = audioURL.String
	e.QuestionType = models.QuestionType(questionType.String)
	return e, nil
}

func scanQANode(row rowScanner) (models.QANode, error) {
	var n models.QANode
	var parentID uuid.NullUUID
	var answer sql.NullString
	err := row.Scan(
		&n.ID, &n.SessionID, &parentID, &n.QuestionText, &answer,
		&n.Type, &n.IsClarifying, &n.OrderIndex, &n.CreatedAt,
	)
	if err != nil {
		return n, err
	}
	n.AnswerText = answer.String
	if parentID.Valid {
		id := parentID.UUID
		n.ParentID = &id
	}
	return n, nil
}

func scanSimulationTurn(row rowScanner) (models.SimulationTurn, error) {
	var t models.SimulationTurn
	err := row.Scan(&t.ID, &t.ScenarioID, &t.Role, &t.Text, &t.OrderIndex, &t.Timestamp)
	return t, err
}

func scanJob(row rowScanner) (Job, error) {
	var j Job
	var payloadJSON, lastError, dedupeKey sql.NullString
	var lockedAt sql.NullTime
	err := row.Scan(
		&j.ID, &j.Kind, &j.RunAt, &payloadJSON, &j.Status, &j.Attempt, &j.MaxAttempts,
		&lastError, &lockedAt, &dedupeKey, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return j, fmt.Errorf("scan job failed: %w", err)
	}
	j.PayloadJSON = payloadJSON.String
	j.LastError = lastError.String
	j.DedupeKey = dedupeKey.String
	if lockedAt.Valid {
		j.LockedAt = &lockedAt.Time
	}
	return j, nil
}
