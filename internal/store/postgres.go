// Package store provides storage backends for Hireloop.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/hireloop/hireloop/internal/models"
	"github.com/hireloop/hireloop/internal/util"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	slog.Debug("Opening Postgres database connection")
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	// Configure connection pool for better performance
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	// Run migrations to ensure tables exist
	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

// Close closes the PostgreSQL database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing PostgreSQL database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close PostgreSQL database", "error", err)
	}
	return err
}

// CreateTemplate stores a template together with its predefined questions.
func (s *PostgresStore) CreateTemplate(t models.Template) error {
	configJSON, err := json.Marshal(t.Config)
	if err != nil {
		slog.Error("PostgresStore CreateTemplate config marshal failed", "error", err, "templateID", t.ID)
		return fmt.Errorf("failed to marshal template config: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO templates (id, position, company, language, personality, duration_minutes, is_active, config) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		t.ID, t.Position, nilIfEmpty(t.Company), t.Language, t.Personality, t.DurationMinutes, t.IsActive, string(configJSON),
	)
	if err != nil {
		slog.Error("PostgresStore CreateTemplate failed", "error", err, "templateID", t.ID)
		return fmt.Errorf("failed to insert template %s: %w", t.ID, err)
	}
	for _, q := range t.Questions {
		_, err = tx.Exec(
			`INSERT INTO template_questions (id, template_id, parent_id, text, order_index) VALUES ($1, $2, $3, $4, $5)`,
			q.ID, t.ID, uuidOrNil(q.ParentID), q.Text, q.OrderIndex,
		)
		if err != nil {
			slog.Error("PostgresStore CreateTemplate question insert failed", "error", err, "questionID", q.ID)
			return fmt.Errorf("failed to insert template question %s: %w", q.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit template insert: %w", err)
	}
	slog.Debug("PostgresStore CreateTemplate succeeded", "templateID", t.ID, "questions", len(t.Questions))
	return nil
}

// GetTemplate retrieves a template with its questions ordered by index.
func (s *PostgresStore) GetTemplate(id uuid.UUID) (*models.Template, error) {
	var t models.Template
	var company sql.NullString
	var configJSON sql.NullString
	err := s.db.QueryRow(
		`SELECT id, position, company, language, personality, duration_minutes, is_active, config FROM templates WHERE id = $1`, id,
	).Scan(&t.ID, &t.Position, &company, &t.Language, &t.Personality, &t.DurationMinutes, &t.IsActive, &configJSON)
	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore GetTemplate not found", "templateID", id)
		return nil, models.ErrTemplateNotFound
	}
	if err != nil {
		slog.Error("PostgresStore GetTemplate failed", "error", err, "templateID", id)
		return nil, fmt.Errorf("failed to query template %s: %w", id, err)
	}
	t.Company = company.String
	if configJSON.String != "" {
		if err := json.Unmarshal([]byte(configJSON.String), &t.Config); err != nil {
			slog.Error("PostgresStore GetTemplate config unmarshal failed", "error", err, "templateID", id)
			return nil, fmt.Errorf("failed to unmarshal template config: %w", err)
		}
	}

	rows, err := s.db.Query(
		`SELECT id, template_id, parent_id, text, order_index FROM template_questions WHERE template_id = $1 ORDER BY order_index ASC`, id,
	)
	if err != nil {
		slog.Error("PostgresStore GetTemplate questions query failed", "error", err, "templateID", id)
		return nil, fmt.Errorf("failed to query template questions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var q models.TemplateQuestion
		var parentID uuid.NullUUID
		if err := rows.Scan(&q.ID, &q.TemplateID, &parentID, &q.Text, &q.OrderIndex); err != nil {
			slog.Error("PostgresStore GetTemplate question scan failed", "error", err)
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
	slog.Debug("PostgresStore GetTemplate succeeded", "templateID", id, "questions", len(t.Questions))
	return &t, nil
}

// CreateSession stores a new session record.
func (s *PostgresStore) CreateSession(sess models.Session) error {
	if sess.Status == "" {
		sess.Status = models.SessionStatusPending
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(
		`INSERT INTO sessions (id, template_id, candidate_name, candidate_surname, candidate_email, status, started_at, completed_at, audio_file_path, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		sess.ID, sess.TemplateID, sess.CandidateName, nilIfEmpty(sess.CandidateSurname), nilIfEmpty(sess.CandidateEmail),
		sess.Status, sess.StartedAt, sess.CompletedAt, nilIfEmpty(sess.AudioFilePath), sess.CreatedAt,
	)
	if err != nil {
		slog.Error("PostgresStore CreateSession failed", "error", err, "sessionID", sess.ID)
		return fmt.Errorf("failed to insert session %s: %w", sess.ID, err)
	}
	slog.Debug("PostgresStore CreateSession succeeded", "sessionID", sess.ID)
	return nil
}

// GetSession retrieves a session by ID.
func (s *PostgresStore) GetSession(id uuid.UUID) (*models.Session, error) {
	row := s.db.QueryRow(
		`SELECT id, template_id, candidate_name, candidate_surname, candidate_email, status, started_at, completed_at, audio_file_path, created_at
		 FROM sessions WHERE id = $1`, id,
	)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore GetSession not found", "sessionID", id)
		return nil, models.ErrSessionNotFound
	}
	if err != nil {
		slog.Error("PostgresStore GetSession failed", "error", err, "sessionID", id)
		return nil, fmt.Errorf("failed to query session %s: %w", id, err)
	}
	return &sess, nil
}

// UpdateSessionStatus applies a status transition, stamping started_at and
// completed_at as the session moves through its lifecycle. Invalid transitions
// return ErrInvalidStatusChange.
func (s *PostgresStore) UpdateSessionStatus(id uuid.UUID, status models.SessionStatus) error {
	sess, err := s.GetSession(id)
	if err != nil {
		return err
	}
	if sess.Status == status {
		return nil
	}
	if !sess.CanTransitionTo(status) {
		slog.Warn("PostgresStore UpdateSessionStatus rejected", "sessionID", id, "from", sess.Status, "to", status)
		return fmt.Errorf("%w: %s -> %s", models.ErrInvalidStatusChange, sess.Status, status)
	}

	now := time.Now()
	switch status {
	case models.SessionStatusInProgress:
		_, err = s.db.Exec(`UPDATE sessions SET status = $1, started_at = $2 WHERE id = $3`, status, now, id)
	case models.SessionStatusCompleted, models.SessionStatusAbandoned:
		_, err = s.db.Exec(`UPDATE sessions SET status = $1, completed_at = $2 WHERE id = $3`, status, now, id)
	default:
		_, err = s.db.Exec(`UPDATE sessions SET status = $1 WHERE id = $2`, status, id)
	}
	if err != nil {
		slog.Error("PostgresStore UpdateSessionStatus failed", "error", err, "sessionID", id, "status", status)
		return fmt.Errorf("failed to update session %s status: %w", id, err)
	}
	slog.Debug("PostgresStore UpdateSessionStatus succeeded", "sessionID", id, "from", sess.Status, "to", status)
	return nil
}

// SetSessionAudioPath records the merged recording path for a session.
func (s *PostgresStore) SetSessionAudioPath(id uuid.UUID, path string) error {
	res, err := s.db.Exec(`UPDATE sessions SET audio_file_path = $1 WHERE id = $2`, path, id)
	if err != nil {
		slog.Error("PostgresStore SetSessionAudioPath failed", "error", err, "sessionID", id)
		return fmt.Errorf("failed to set audio path for session %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrSessionNotFound
	}
	return nil
}

// ListStaleSessions returns sessions in the given status created before the cutoff.
func (s *PostgresStore) ListStaleSessions(status models.SessionStatus, before time.Time) ([]models.Session, error) {
	rows, err := s.db.Query(
		`SELECT id, template_id, candidate_name, candidate_surname, candidate_email, status, started_at, completed_at, audio_file_path, created_at
		 FROM sessions WHERE status = $1 AND created_at < $2`, status, before,
	)
	if err != nil {
		slog.Error("PostgresStore ListStaleSessions query failed", "error", err)
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
func (s *PostgresStore) AppendTranscriptEntry(e *models.TranscriptEntry) error {
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

	err := s.db.QueryRow(
		`INSERT INTO transcript_entries (id, session_id, role, text, audio_url, question_type, order_index, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6,
			(SELECT COALESCE(MAX(order_index) + 1, 0) FROM transcript_entries WHERE session_id = $2), $7)
		 RETURNING order_index`,
		e.ID, e.SessionID, e.Role, e.Text, nilIfEmpty(e.AudioURL), nilIfEmpty(string(e.QuestionType)), e.Timestamp,
	).Scan(&e.OrderIndex)
	if err != nil {
		slog.Error("PostgresStore AppendTranscriptEntry failed", "error", err, "sessionID", e.SessionID)
		return fmt.Errorf("failed to insert transcript entry: %w", err)
	}
	slog.Debug("PostgresStore AppendTranscriptEntry succeeded", "sessionID", e.SessionID, "role", e.Role, "orderIndex", e.OrderIndex)
	return nil
}

// ListTranscript returns all transcript entries for a session ordered by index.
func (s *PostgresStore) ListTranscript(sessionID uuid.UUID) ([]models.TranscriptEntry, error) {
	rows, err := s.db.Query(
		`SELECT id, session_id, role, text, audio_url, question_type, order_index, timestamp FROM transcript_entries WHERE session_id = $1 ORDER BY order_index ASC`,
		sessionID,
	)
	if err != nil {
		slog.Error("PostgresStore ListTranscript query failed", "error", err, "sessionID", sessionID)
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
	slog.Debug("PostgresStore ListTranscript succeeded", "sessionID", sessionID, "count", len(entries))
	return entries, nil
}

// LatestAssistantEntry returns the most recent assistant transcript entry for
// a session, or nil if there is none.
func (s *PostgresStore) LatestAssistantEntry(sessionID uuid.UUID) (*models.TranscriptEntry, error) {
	row := s.db.QueryRow(
		`SELECT id, session_id, role, text, audio_url, question_type, order_index, timestamp FROM transcript_entries
		 WHERE session_id = $1 AND role = $2 ORDER BY order_index DESC LIMIT 1`,
		sessionID, models.RoleAssistant,
	)
	e, err := scanTranscriptEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore LatestAssistantEntry failed", "error", err, "sessionID", sessionID)
		return nil, fmt.Errorf("failed to query latest assistant entry: %w", err)
	}
	return &e, nil
}

// AppendQANode inserts a question-answer node, assigning the next order index
// for the session.
func (s *PostgresStore) AppendQANode(n *models.QANode) error {
	if err := n.Validate(); err != nil {
		return err
	}
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}

	err := s.db.QueryRow(
		`INSERT INTO session_question_answers (id, session_id, parent_id, question_text, answer_text, question_type, is_clarifying, order_index, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7,
			(SELECT COALESCE(MAX(order_index) + 1, 0) FROM session_question_answers WHERE session_id = $2), $8)
		 RETURNING order_index`,
		n.ID, n.SessionID, uuidOrNil(n.ParentID), n.QuestionText, nilIfEmpty(n.AnswerText), n.Type, n.IsClarifying, n.CreatedAt,
	).Scan(&n.OrderIndex)
	if err != nil {
		slog.Error("PostgresStore AppendQANode failed", "error", err, "sessionID", n.SessionID)
		return fmt.Errorf("failed to insert question-answer node: %w", err)
	}
	slog.Debug("PostgresStore AppendQANode succeeded", "sessionID", n.SessionID, "type", n.Type, "orderIndex", n.OrderIndex)
	return nil
}

// ListQANodes returns all question-answer nodes for a session ordered by index.
func (s *PostgresStore) ListQANodes(sessionID uuid.UUID) ([]models.QANode, error) {
	rows, err := s.db.Query(
		`SELECT id, session_id, parent_id, question_text, answer_text, question_type, is_clarifying, order_index, created_at
		 FROM session_question_answers WHERE session_id = $1 ORDER BY order_index ASC`,
		sessionID,
	)
	if err != nil {
		slog.Error("PostgresStore ListQANodes query failed", "error", err, "sessionID", sessionID)
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
func (s *PostgresStore) GetQASummaries(sessionID uuid.UUID) ([]models.QASummary, error) {
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
func (s *PostgresStore) CreateSimulationScenario(sc *models.SimulationScenario) error {
	if sc.ID == uuid.Nil {
		sc.ID = uuid.New()
	}
	if sc.CreatedAt.IsZero() {
		sc.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(
		`INSERT INTO simulation_scenarios (id, session_id, client_role, description, created_at) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (session_id) DO NOTHING`,
		sc.ID, sc.SessionID, sc.ClientRole, sc.Description, sc.CreatedAt,
	)
	if err != nil {
		slog.Error("PostgresStore CreateSimulationScenario failed", "error", err, "sessionID", sc.SessionID)
		return fmt.Errorf("failed to insert simulation scenario: %w", err)
	}
	var storedID uuid.UUID
	if err := s.db.QueryRow(`SELECT id FROM simulation_scenarios WHERE session_id = $1`, sc.SessionID).Scan(&storedID); err != nil {
		return fmt.Errorf("failed to read back simulation scenario: %w", err)
	}
	if storedID != sc.ID {
		return models.ErrScenarioExists
	}
	slog.Debug("PostgresStore CreateSimulationScenario succeeded", "sessionID", sc.SessionID, "scenarioID", sc.ID)
	return nil
}

// GetSimulationScenario retrieves the scenario for a session.
func (s *PostgresStore) GetSimulationScenario(sessionID uuid.UUID) (*models.SimulationScenario, error) {
	var sc models.SimulationScenario
	err := s.db.QueryRow(
		`SELECT id, session_id, client_role, description, created_at FROM simulation_scenarios WHERE session_id = $1`, sessionID,
	).Scan(&sc.ID, &sc.SessionID, &sc.ClientRole, &sc.Description, &sc.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, models.ErrScenarioNotFound
	}
	if err != nil {
		slog.Error("PostgresStore GetSimulationScenario failed", "error", err, "sessionID", sessionID)
		return nil, fmt.Errorf("failed to query simulation scenario: %w", err)
	}
	return &sc, nil
}

// AppendSimulationTurn inserts a role-play turn, assigning the next order index
// for the scenario.
func (s *PostgresStore) AppendSimulationTurn(t *models.SimulationTurn) error {
	if t.Text == "" {
		return models.ErrEmptyTranscriptText
	}
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.Timestamp.IsZero() {
		t.Timestamp = time.Now()
	}

	err := s.db.QueryRow(
		`INSERT INTO simulation_turns (id, scenario_id, role, text, order_index, timestamp)
		 VALUES ($1, $2, $3, $4,
			(SELECT COALESCE(MAX(order_index) + 1, 0) FROM simulation_turns WHERE scenario_id = $2), $5)
		 RETURNING order_index`,
		t.ID, t.ScenarioID, t.Role, t.Text, t.Timestamp,
	).Scan(&t.OrderIndex)
	if err != nil {
		slog.Error("PostgresStore AppendSimulationTurn failed", "error", err, "scenarioID", t.ScenarioID)
		return fmt.Errorf("failed to insert simulation turn: %w", err)
	}
	return nil
}

// ListSimulationTurns returns the role-play turns for a scenario ordered by index.
func (s *PostgresStore) ListSimulationTurns(scenarioID uuid.UUID) ([]models.SimulationTurn, error) {
	rows, err := s.db.Query(
		`SELECT id, scenario_id, role, text, order_index, timestamp FROM simulation_turns WHERE scenario_id = $1 ORDER BY order_index ASC`,
		scenarioID,
	)
	if err != nil {
		slog.Error("PostgresStore ListSimulationTurns query failed", "error", err, "scenarioID", scenarioID)
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
func (s *PostgresStore) EnqueueJob(kind string, runAt time.Time, payloadJSON string, dedupeKey string) (string, error) {
	id := util.GenerateJobID()
	now := time.Now()

	if dedupeKey != "" {
		var existingID string
		err := s.db.QueryRow(
			`SELECT id FROM jobs WHERE dedupe_key = $1 AND status NOT IN ('done', 'canceled')`,
			dedupeKey,
		).Scan(&existingID)
		if err == nil {
			slog.Debug("PostgresStore.EnqueueJob: dedupe hit", "dedupeKey", dedupeKey, "existingID", existingID)
			return existingID, nil
		}
		if err != sql.ErrNoRows {
			return "", fmt.Errorf("dedupe check failed: %w", err)
		}
	}

	_, err := s.db.Exec(
		`INSERT INTO jobs (id, kind, run_at, payload_json, status, attempt, max_attempts, dedupe_key, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, 'queued', 0, 3, $5, $6, $7)`,
		id, kind, runAt, payloadJSON, nilIfEmpty(dedupeKey), now, now,
	)
	if err != nil {
		return "", fmt.Errorf("enqueue job failed: %w", err)
	}
	slog.Debug("PostgresStore.EnqueueJob", "id", id, "kind", kind, "runAt", runAt)
	return id, nil
}

// ClaimDueJobs marks due queued jobs as running and returns them.
func (s *PostgresStore) ClaimDueJobs(now time.Time, limit int) ([]Job, error) {
	rows, err := s.db.Query(
		`UPDATE jobs SET status = 'running', locked_at = $1, updated_at = $1
		 WHERE id IN (
			SELECT id FROM jobs WHERE status = 'queued' AND run_at <= $1 ORDER BY run_at ASC LIMIT $2 FOR UPDATE SKIP LOCKED
		 )
		 RETURNING id, kind, run_at, payload_json, status, attempt, max_attempts, last_error, locked_at, dedupe_key, created_at, updated_at`,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("claim due jobs failed: %w", err)
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
	return jobs, nil
}

// CompleteJob marks a job as done.
func (s *PostgresStore) CompleteJob(id string) error {
	_, err := s.db.Exec(`UPDATE jobs SET status = 'done', updated_at = $1 WHERE id = $2`, time.Now(), id)
	if err != nil {
		return fmt.Errorf("complete job failed: %w", err)
	}
	return nil
}

// FailJob records the failure and requeues while attempts remain.
func (s *PostgresStore) FailJob(id string, errMsg string, nextRunAt time.Time) error {
	now := time.Now()

	var attempt, maxAttempts int
	err := s.db.QueryRow(`SELECT attempt, max_attempts FROM jobs WHERE id = $1`, id).Scan(&attempt, &maxAttempts)
	if err != nil {
		return fmt.Errorf("fail job lookup failed: %w", err)
	}

	attempt++
	if attempt >= maxAttempts {
		_, err = s.db.Exec(
			`UPDATE jobs SET status = 'failed', attempt = $1, last_error = $2, locked_at = NULL, updated_at = $3 WHERE id = $4`,
			attempt, errMsg, now, id,
		)
	} else {
		_, err = s.db.Exec(
			`UPDATE jobs SET status = 'queued', attempt = $1, last_error = $2, run_at = $3, locked_at = NULL, updated_at = $4 WHERE id = $5`,
			attempt, errMsg, nextRunAt, now, id,
		)
	}
	if err != nil {
		return fmt.Errorf("fail job update failed: %w", err)
	}
	return nil
}

// RequeueStaleRunningJobs resets jobs stuck in running back to queued.
func (s *PostgresStore) RequeueStaleRunningJobs(staleBefore time.Time) (int, error) {
	result, err := s.db.Exec(
		`UPDATE jobs SET status = 'queued', locked_at = NULL, updated_at = $1 WHERE status = 'running' AND locked_at < $2`,
		time.Now(), staleBefore,
	)
	if err != nil {
		return 0, fmt.Errorf("requeue stale jobs failed: %w", err)
	}
	n, _ := result.RowsAffected()
	if n > 0 {
		slog.Info("PostgresStore.RequeueStaleRunningJobs", "requeued", n)
	}
	return int(n), nil
}

// GetJob retrieves a single job by ID, or nil if absent.
func (s *PostgresStore) GetJob(id string) (*Job, error) {
	row := s.db.QueryRow(
		`SELECT id, kind, run_at, payload_json, status, attempt, max_attempts, last_error, locked_at, dedupe_key, created_at, updated_at
		 FROM jobs WHERE id = $1`, id,
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
