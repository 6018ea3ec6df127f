// Package store provides storage backends for Hireloop.
//
// This file implements the SQLite-backed store.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/hireloop/hireloop/internal/models"
	"github.com/hireloop/hireloop/internal/util"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// Compile-time check that SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	// Ensure the directory exists
	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	slog.Debug("Opening SQLite database connection")
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	// Run migrations to ensure tables exist
	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}

// CreateTemplate stores a template together with its predefined questions.
func (s *SQLiteStore) CreateTemplate(t models.Template) error {
	configJSON, err := json.Marshal(t.Config)
	if err != nil {
		slog.Error("SQLiteStore CreateTemplate config marshal failed", "error", err, "templateID", t.ID)
		return fmt.Errorf("failed to marshal template config: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO templates (id, position, company, language, personality, duration_minutes, is_active, config) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Position, nilIfEmpty(t.Company), t.Language, t.Personality, t.DurationMinutes, t.IsActive, string(configJSON),
	)
	if err != nil {
		slog.Error("SQLiteStore CreateTemplate failed", "error", err, "templateID", t.ID)
		return fmt.Errorf("failed to insert template %s: %w", t.ID, err)
	}
	for _, q := range t.Questions {
		_, err = tx.Exec(
			`INSERT INTO template_questions (id, template_id, parent_id, text, order_index) VALUES (?, ?, ?, ?, ?)`,
			q.ID, t.ID, uuidOrNil(q.ParentID), q.Text, q.OrderIndex,
		)
		if err != nil {
			slog.Error("SQLiteStore CreateTemplate question insert failed", "error", err, "questionID", q.ID)
			return fmt.Errorf("failed to insert template question %s: %w", q.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit template insert: %w", err)
	}
	slog.Debug("SQLiteStore CreateTemplate succeeded", "templateID", t.ID, "questions", len(t.Questions))
	return nil
}

// GetTemplate retrieves a template with its questions ordered by index.
func (s *SQLiteStore) GetTemplate(id uuid.UUID) (*models.Template, error) {
	var t models.Template
	var company sql.NullString
	var configJSON sql.NullString
	err := s.db.QueryRow(
		`SELECT id, position, company, language, personality, duration_minutes, is_active, config FROM templates WHERE id = ?`, id,
	).Scan(&t.ID, &t.Position, &company, &t.Language, &t.Personality, &t.DurationMinutes, &t.IsActive, &configJSON)
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore GetTemplate not found", "templateID", id)
		return nil, models.ErrTemplateNotFound
	}
	if err != nil {
		slog.Error("SQLiteStore GetTemplate failed", "error", err, "templateID", id)
		return nil, fmt.Errorf("failed to query template %s: %w", id, err)
	}
	t.Company = company.String
	if configJSON.String != "" {
		if err := json.Unmarshal([]byte(configJSON.String), &t.Config); err != nil {
			slog.Error("SQLiteStore GetTemplate config unmarshal failed", "error", err, "templateID", id)
			return nil, fmt.Errorf("failed to unmarshal template config: %w", err)
		}
	}

	rows, err := s.db.Query(
		`SELECT id, template_id, parent_id, text, order_index FROM template_questions WHERE template_id = ? ORDER BY order_index ASC`, id,
	)
	if err != nil {
		slog.Error("SQLiteStore GetTemplate questions query failed", "error", err, "templateID", id)
		return nil, fmt.Errorf("failed to query template questions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var q models.TemplateQuestion
		var parentID uuid.NullUUID
		if err := rows.Scan(&q.ID, &q.TemplateID, &parentID, &q.Text, &q.OrderIndex); err != nil {
			slog.Error("SQLiteStore GetTemplate question scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan template question: %w", err)
		}
		if parentID.Valid {
			pid := parentID.UUID
			q.ParentID = &pid
		}
		t.Questions = append(t.Questions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate template questions: %w", err)
	}
	slog.Debug("SQLiteStore GetTemplate succeeded", "templateID", id, "questions", len(t.Questions))
	return &t, nil
}

// CreateSession stores a new session record.
func (s *SQLiteStore) CreateSession(sess models.Session) error {
	if sess.Status == "" {
		sess.Status = models.SessionStatusPending
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(
		`INSERT INTO sessions (id, template_id, candidate_name, candidate_surname, candidate_email, status, started_at, completed_at, audio_file_path, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.TemplateID, sess.CandidateName, nilIfEmpty(sess.CandidateSurname), nilIfEmpty(sess.CandidateEmail),
		sess.Status, sess.StartedAt, sess.CompletedAt, nilIfEmpty(sess.AudioFilePath), sess.CreatedAt,
	)
	if err != nil {
		slog.Error("SQLiteStore CreateSession failed", "error", err, "sessionID", sess.ID)
		return fmt.Errorf("failed to insert session %s: %w", sess.ID, err)
	}
	slog.Debug("SQLiteStore CreateSession succeeded", "sessionID", sess.ID)
	return nil
}

// GetSession retrieves a session by ID.
func (s *SQLiteStore) GetSession(id uuid.UUID) (*models.Session, error) {
	row := s.db.QueryRow(
		`SELECT id, template_id, candidate_name, candidate_surname, candidate_email, status, started_at, completed_at, audio_file_path, created_at
		 FROM sessions WHERE id = ?`, id,
	)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore GetSession not found", "sessionID", id)
		return nil, models.ErrSessionNotFound
	}
	if err != nil {
		slog.Error("SQLiteStore GetSession failed", "error", err, "sessionID", id)
		return nil, fmt.Errorf("failed to query session %s: %w", id, err)
	}
	return &sess, nil
}

// UpdateSessionStatus applies a status transition, stamping started_at and
// completed_at as the session moves through its lifecycle. Invalid transitions
// return ErrInvalidStatusChange.
func (s *SQLiteStore) UpdateSessionStatus(id uuid.UUID, status models.SessionStatus) error {
	sess, err := s.GetSession(id)
	if err != nil {
		return err
	}
	if sess.Status == status {
		return nil
	}
	if !sess.CanTransitionTo(status) {
		slog.Warn("SQLiteStore UpdateSessionStatus rejected", "sessionID", id, "from", sess.Status, "to", status)
		return fmt.Errorf("%w: %s -> %s", models.ErrInvalidStatusChange, sess.Status, status)
	}

	now := time.Now()
	switch status {
	case models.SessionStatusInProgress:
		_, err = s.db.Exec(`UPDATE sessions SET status = ?, started_at = ? WHERE id = ?`, status, now, id)
	case models.SessionStatusCompleted, models.SessionStatusAbandoned:
		_, err = s.db.Exec(`UPDATE sessions SET status = ?, completed_at = ? WHERE id = ?`, status, now, id)
	default:
		_, err = s.db.Exec(`UPDATE sessions SET status = ? WHERE id = ?`, status, id)
	}
	if err != nil {
		slog.Error("SQLiteStore UpdateSessionStatus failed", "error", err, "sessionID", id, "status", status)
		return fmt.Errorf("failed to update session %s status: %w", id, err)
	}
	slog.Debug("SQLiteStore UpdateSessionStatus succeeded", "sessionID", id, "from", sess.Status, "to", status)
	return nil
}

// SetSessionAudioPath records the merged recording path for a session.
func (s *SQLiteStore) SetSessionAudioPath(id uuid.UUID, path string) error {
	res, err := s.db.Exec(`UPDATE sessions SET audio_file_path = ? WHERE id = ?`, path, id)
	if err != nil {
		slog.Error("SQLiteStore SetSessionAudioPath failed", "error", err, "sessionID", id)
		return fmt.Errorf("failed to set audio path for session %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrSessionNotFound
	}
	return nil
}

// ListStaleSessions returns sessions in the given status created before the cutoff.
func (s *SQLiteStore) ListStaleSessions(status models.SessionStatus, before time.Time) ([]models.Session, error) {
	rows, err := s.db.Query(
		`SELECT id, template_id, candidate_name, candidate_surname, candidate_email, status, started_at, completed_at, audio_file_path, created_at
		 FROM sessions WHERE status = ? AND created_at < ?`, status, before,
	)
	if err != nil {
		slog.Error("SQLiteStore ListStaleSessions query failed", "error", err)
		return nil, fmt.Errorf("failed to query stale sessions: %w", err)
	}
	defer rows.Close()
	var sessions []models.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate session rows: %w", err)
	}
	return sessions, nil
}

// AppendTranscriptEntry inserts a transcript turn, assigning the next order
// index for the session.
func (s *SQLiteStore) AppendTranscriptEntry(e *models.TranscriptEntry) error {
	if e.Text == "" {
		return models.ErrEmptyTranscriptText
	}
	if e.Role != models.RoleAssistant && e.Role != models.RoleCandidate {
		return models.ErrInvalidRole
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var next int
	if err := tx.QueryRow(
		`SELECT COALESCE(MAX(order_index) + 1, 0) FROM transcript_entries WHERE session_id = ?`, e.SessionID,
	).Scan(&next); err != nil {
		slog.Error("SQLiteStore AppendTranscriptEntry index query failed", "error", err, "sessionID", e.SessionID)
		return fmt.Errorf("failed to compute transcript order index: %w", err)
	}
	e.OrderIndex = next

	_, err = tx.Exec(
		`INSERT INTO transcript_entries (id, session_id, role, text, audio_url, question_type, order_index, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.SessionID, e.Role, e.Text, nilIfEmpty(e.AudioURL), nilIfEmpty(string(e.QuestionType)), e.OrderIndex, e.Timestamp,
	)
	if err != nil {
		slog.Error("SQLiteStore AppendTranscriptEntry failed", "error", err, "sessionID", e.SessionID)
		return fmt.Errorf("failed to insert transcript entry: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transcript entry: %w", err)
	}
	slog.Debug("SQLiteStore AppendTranscriptEntry succeeded", "sessionID", e.SessionID, "role", e.Role, "orderIndex", e.OrderIndex)
	return nil
}

// ListTranscript returns all transcript entries for a session ordered by index.
func (s *SQLiteStore) ListTranscript(sessionID uuid.UUID) ([]models.TranscriptEntry, error) {
	rows, err := s.db.Query(
		`SELECT id, session_id, role, text, audio_url, question_type, order_index, timestamp FROM transcript_entries WHERE session_id = ? ORDER BY order_index ASC`,
		sessionID,
	)
	if err != nil {
		slog.Error("SQLiteStore ListTranscript query failed", "error", err, "sessionID", sessionID)
		return nil, fmt.Errorf("failed to query transcript: %w", err)
	}
	defer rows.Close()
	var entries []models.TranscriptEntry
	for rows.Next() {
		e, err := scanTranscriptEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transcript row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transcript rows: %w", err)
	}
	slog.Debug("SQLiteStore ListTranscript succeeded", "sessionID", sessionID, "count", len(entries))
	return entries, nil
}

// LatestAssistantEntry returns the most recent assistant transcript entry for
// a session, or nil if there is none.
func (s *SQLiteStore) LatestAssistantEntry(sessionID uuid.UUID) (*models.TranscriptEntry, error) {
	row := s.db.QueryRow(
		`SELECT id, session_id, role, text, audio_url, question_type, order_index, timestamp FROM transcript_entries
		 WHERE session_id = ? AND role = ? ORDER BY order_index DESC LIMIT 1`,
		sessionID, models.RoleAssistant,
	)
	e, err := scanTranscriptEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore LatestAssistantEntry failed", "error", err, "sessionID", sessionID)
		return nil, fmt.Errorf("failed to query latest assistant entry: %w", err)
	}
	return &e, nil
}

// AppendQANode inserts a question-answer node, assigning the next order index
// for the session.
func (s *SQLiteStore) AppendQANode(n *models.QANode) error {
	if err := n.Validate(); err != nil {
		return err
	}
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var next int
	if err := tx.QueryRow(
		`SELECT COALESCE(MAX(order_index) + 1, 0) FROM session_question_answers WHERE session_id = ?`, n.SessionID,
	).Scan(&next); err != nil {
		slog.Error("SQLiteStore AppendQANode index query failed", "error", err, "sessionID", n.SessionID)
		return fmt.Errorf("failed to compute question order index: %w", err)
	}
	n.OrderIndex = next

	_, err = tx.Exec(
		`INSERT INTO session_question_answers (id, session_id, parent_id, question_text, answer_text, question_type, is_clarifying, order_index, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.SessionID, uuidOrNil(n.ParentID), n.QuestionText, nilIfEmpty(n.AnswerText), n.Type, n.IsClarifying, n.OrderIndex, n.CreatedAt,
	)
	if err != nil {
		slog.Error("SQLiteStore AppendQANode failed", "error", err, "sessionID", n.SessionID)
		return fmt.Errorf("failed to insert question-answer node: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit question-answer node: %w", err)
	}
	slog.Debug("SQLiteStore AppendQANode succeeded", "sessionID", n.SessionID, "type", n.Type, "orderIndex", n.OrderIndex)
	return nil
}

// ListQANodes returns all question-answer nodes for a session ordered by index.
func (s *SQLiteStore) ListQANodes(sessionID uuid.UUID) ([]models.QANode, error) {
	rows, err := s.db.Query(
		`SELECT id, session_id, parent_id, question_text, answer_text, question_type, is_clarifying, order_index, created_at
		 FROM session_question_answers WHERE session_id = ? ORDER BY order_index ASC`,
		sessionID,
	)
	if err != nil {
		slog.Error("SQLiteStore ListQANodes query failed", "error", err, "sessionID", sessionID)
		return nil, fmt.Errorf("failed to query question-answer nodes: %w", err)
	}
	defer rows.Close()
	var nodes []models.QANode
	for rows.Next() {
		n, err := scanQANode(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan question-answer row: %w", err)
		}
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate question-answer rows: %w", err)
	}
	return nodes, nil
}

// GetQASummaries returns the condensed question-answer tuples for a session.
func (s *SQLiteStore) GetQASummaries(sessionID uuid.UUID) ([]models.QASummary, error) {
	nodes, err := s.ListQANodes(sessionID)
	if err != nil {
		return nil, err
	}
	summaries := make([]models.QASummary, 0, len(nodes))
	for _, n := range nodes {
		summaries = append(summaries, models.QASummary{
			QuestionText: n.QuestionText,
			AnswerText:   n.AnswerText,
			QuestionType: n.Type,
			ParentID:     n.ParentID,
		})
	}
	return summaries, nil
}

// CreateSimulationScenario stores the per-session role-play scenario. A second
// scenario for the same session returns ErrScenarioExists.
func (s *SQLiteStore) CreateSimulationScenario(sc *models.SimulationScenario) error {
	if sc.ID == uuid.Nil {
		sc.ID = uuid.New()
	}
	if sc.CreatedAt.IsZero() {
		sc.CreatedAt = time.Now()
	}
	var existing string
	err := s.db.QueryRow(`SELECT id FROM simulation_scenarios WHERE session_id = ?`, sc.SessionID).Scan(&existing)
	if err == nil {
		return models.ErrScenarioExists
	}
	if err != sql.ErrNoRows {
		return fmt.Errorf("failed to check existing scenario: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO simulation_scenarios (id, session_id, client_role, description, created_at) VALUES (?, ?, ?, ?, ?)`,
		sc.ID, sc.SessionID, sc.ClientRole, sc.Description, sc.CreatedAt,
	)
	if err != nil {
		slog.Error("SQLiteStore CreateSimulationScenario failed", "error", err, "sessionID", sc.SessionID)
		return fmt.Errorf("failed to insert simulation scenario: %w", err)
	}
	slog.Debug("SQLiteStore CreateSimulationScenario succeeded", "sessionID", sc.SessionID, "scenarioID", sc.ID)
	return nil
}

// GetSimulationScenario retrieves the scenario for a session.
func (s *SQLiteStore) GetSimulationScenario(sessionID uuid.UUID) (*models.SimulationScenario, error) {
	var sc models.SimulationScenario
	err := s.db.QueryRow(
		`SELECT id, session_id, client_role, description, created_at FROM simulation_scenarios WHERE session_id = ?`, sessionID,
	).Scan(&sc.ID, &sc.SessionID, &sc.ClientRole, &sc.Description, &sc.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, models.ErrScenarioNotFound
	}
	if err != nil {
		slog.Error("SQLiteStore GetSimulationScenario failed", "error", err, "sessionID", sessionID)
		return nil, fmt.Errorf("failed to query simulation scenario: %w", err)
	}
	return &sc, nil
}

// AppendSimulationTurn inserts a role-play turn, assigning the next order index
// for the scenario.
func (s *SQLiteStore) AppendSimulationTurn(t *models.SimulationTurn) error {
	if t.Text == "" {
		return models.ErrEmptyTranscriptText
	}
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.Timestamp.IsZero() {
		t.Timestamp = time.Now()
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var next int
	if err := tx.QueryRow(
		`SELECT COALESCE(MAX(order_index) + 1, 0) FROM simulation_turns WHERE scenario_id = ?`, t.ScenarioID,
	).Scan(&next); err != nil {
		return fmt.Errorf("failed to compute simulation turn index: %w", err)
	}
	t.OrderIndex = next

	_, err = tx.Exec(
		`INSERT INTO simulation_turns (id, scenario_id, role, text, order_index, timestamp) VALUES (?, ?, ?, ?, ?, ?)`,
		t.ID, t.ScenarioID, t.Role, t.Text, t.OrderIndex, t.Timestamp,
	)
	if err != nil {
		slog.Error("SQLiteStore AppendSimulationTurn failed", "error", err, "scenarioID", t.ScenarioID)
		return fmt.Errorf("failed to insert simulation turn: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit simulation turn: %w", err)
	}
	return nil
}

// ListSimulationTurns returns the role-play turns for a scenario ordered by index.
func (s *SQLiteStore) ListSimulationTurns(scenarioID uuid.UUID) ([]models.SimulationTurn, error) {
	rows, err := s.db.Query(
		`SELECT id, scenario_id, role, text, order_index, timestamp FROM simulation_turns WHERE scenario_id = ? ORDER BY order_index ASC`,
		scenarioID,
	)
	if err != nil {
		slog.Error("SQLiteStore ListSimulationTurns query failed", "error", err, "scenarioID", scenarioID)
		return nil, fmt.Errorf("failed to query simulation turns: %w", err)
	}
	defer rows.Close()
	var turns []models.SimulationTurn
	for rows.Next() {
		t, err := scanSimulationTurn(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan simulation turn row: %w", err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate simulation turn rows: %w", err)
	}
	return turns, nil
}

// EnqueueJob inserts a durable job, honoring dedupe keys.
func (s *SQLiteStore) EnqueueJob(kind string, runAt time.Time, payloadJSON string, dedupeKey string) (string, error) {
	id := util.GenerateJobID()
	now := time.Now()

	if dedupeKey != "" {
		var existingID string
		err := s.db.QueryRow(
			`SELECT id FROM jobs WHERE dedupe_key = ? AND status NOT IN ('done', 'canceled')`,
			dedupeKey,
		).Scan(&existingID)
		if err == nil {
			slog.Debug("SQLiteStore.EnqueueJob: dedupe hit", "dedupeKey", dedupeKey, "existingID", existingID)
			return existingID, nil
		}
		if err != sql.ErrNoRows {
			return "", fmt.Errorf("dedupe check failed: %w", err)
		}
	}

	_, err := s.db.Exec(
		`INSERT INTO jobs (id, kind, run_at, payload_json, status, attempt, max_attempts, dedupe_key, created_at, updated_at)
		 VALUES (?, ?, ?, ?, 'queued', 0, 3, ?, ?, ?)`,
		id, kind, runAt, payloadJSON, nilIfEmpty(dedupeKey), now, now,
	)
	if err != nil {
		return "", fmt.Errorf("enqueue job failed: %w", err)
	}
	slog.Debug("SQLiteStore.EnqueueJob", "id", id, "kind", kind, "runAt", runAt)
	return id, nil
}

// ClaimDueJobs marks due queued jobs as running and returns them.
func (s *SQLiteStore) ClaimDueJobs(now time.Time, limit int) ([]Job, error) {
	rows, err := s.db.Query(
		`SELECT id, kind, run_at, payload_json, status, attempt, max_attempts, last_error, locked_at, dedupe_key, created_at, updated_at
		 FROM jobs WHERE status = 'queued' AND run_at <= ? ORDER BY run_at ASC LIMIT ?`,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("claim due jobs query failed: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("claim due jobs iteration failed: %w", err)
	}

	for i := range jobs {
		_, err := s.db.Exec(
			`UPDATE jobs SET status = 'running', locked_at = ?, updated_at = ? WHERE id = ?`,
			now, now, jobs[i].ID,
		)
		if err != nil {
			return nil, fmt.Errorf("mark job running failed: %w", err)
		}
		jobs[i].Status = JobStatusRunning
		jobs[i].LockedAt = &now
	}
	return jobs, nil
}

// CompleteJob marks a job as done.
func (s *SQLiteStore) CompleteJob(id string) error {
	_, err := s.db.Exec(`UPDATE jobs SET status = 'done', updated_at = ? WHERE id = ?`, time.Now(), id)
	if err != nil {
		return fmt.Errorf("complete job failed: %w", err)
	}
	return nil
}

// FailJob records the failure and requeues while attempts remain.
func (s *SQLiteStore) FailJob(id string, errMsg string, nextRunAt time.Time) error {
	now := time.Now()

	var attempt, maxAttempts int
	err := s.db.QueryRow(`SELECT attempt, max_attempts FROM jobs WHERE id = ?`, id).Scan(&attempt, &maxAttempts)
	if err != nil {
		return fmt.Errorf("fail job lookup failed: %w", err)
	}

	attempt++
	if attempt >= maxAttempts {
		_, err = s.db.Exec(
			`UPDATE jobs SET status = 'failed', attempt = ?, last_error = ?, locked_at = NULL, updated_at = ? WHERE id = ?`,
			attempt, errMsg, now, id,
		)
	} else {
		_, err = s.db.Exec(
			`UPDATE jobs SET status = 'queued', attempt = ?, last_error = ?, run_at = ?, locked_at = NULL, updated_at = ? WHERE id = ?`,
			attempt, errMsg, nextRunAt, now, id,
		)
	}
	if err != nil {
		return fmt.Errorf("fail job update failed: %w", err)
	}
	return nil
}

// RequeueStaleRunningJobs resets jobs stuck in running back to queued.
func (s *SQLiteStore) RequeueStaleRunningJobs(staleBefore time.Time) (int, error) {
	result, err := s.db.Exec(
		`UPDATE jobs SET status = 'queued', locked_at = NULL, updated_at = ? WHERE status = 'running' AND locked_at < ?`,
		time.Now(), staleBefore,
	)
	if err != nil {
		return 0, fmt.Errorf("requeue stale jobs failed: %w", err)
	}
	n, _ := result.RowsAffected()
	if n > 0 {
		slog.Info("SQLiteStore.RequeueStaleRunningJobs", "requeued", n)
	}
	return int(n), nil
}

// GetJob retrieves a single job by ID, or nil if absent.
func (s *SQLiteStore) GetJob(id string) (*Job, error) {
	row := s.db.QueryRow(
		`SELECT id, kind, run_at, payload_json, status, attempt, max_attempts, last_error, locked_at, dedupe_key, created_at, updated_at
		 FROM jobs WHERE id = ?`, id,
	)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job failed: %w", err)
	}
	return &j, nil
}
