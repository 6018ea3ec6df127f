package store

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hireloop/hireloop/internal/models"
	"github.com/hireloop/hireloop/internal/util"
)

// InMemoryStore is a map-backed store for tests and development. It mirrors
// the semantics of the SQL backends, including order index assignment and
// status transition checks.
type InMemoryStore struct {
	mu          sync.Mutex
	templates   map[uuid.UUID]models.Template
	sessions    map[uuid.UUID]models.Session
	transcripts map[uuid.UUID][]models.TranscriptEntry
	qaNodes     map[uuid.UUID][]models.QANode
	scenarios   map[uuid.UUID]models.SimulationScenario
	simTurns    map[uuid.UUID][]models.SimulationTurn
	jobs        map[string]Job
}

// Compile-time check that InMemoryStore implements Store.
var _ Store = (*InMemoryStore)(nil)

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		templates:   make(map[uuid.UUID]models.Template),
		sessions:    make(map[uuid.UUID]models.Session),
		transcripts: make(map[uuid.UUID][]models.TranscriptEntry),
		qaNodes:     make(map[uuid.UUID][]models.QANode),
		scenarios:   make(map[uuid.UUID]models.SimulationScenario),
		simTurns:    make(map[uuid.UUID][]models.SimulationTurn),
		jobs:        make(map[string]Job),
	}
}

func (s *InMemoryStore) CreateTemplate(t models.Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates[t.ID] = t
	return nil
}

func (s *InMemoryStore) GetTemplate(id uuid.UUID) (*models.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.templates[id]
	if !ok {
		return nil, models.ErrTemplateNotFound
	}
	cp := t
	cp.Questions = append([]models.TemplateQuestion(nil), t.Questions...)
	return &cp, nil
}

func (s *InMemoryStore) CreateSession(sess models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess.Status == "" {
		sess.Status = models.SessionStatusPending
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now()
	}
	s.sessions[sess.ID] = sess
	return nil
}

func (s *InMemoryStore) GetSession(id uuid.UUID) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, models.ErrSessionNotFound
	}
	cp := sess
	return &cp, nil
}

func (s *InMemoryStore) UpdateSessionStatus(id uuid.UUID, status models.SessionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return models.ErrSessionNotFound
	}
	if sess.Status == status {
		return nil
	}
	if !sess.CanTransitionTo(status) {
		return models.ErrInvalidStatusChange
	}
	now := time.Now()
	sess.Status = status
	switch status {
	case models.SessionStatusInProgress:
		sess.StartedAt = &now
	case models.SessionStatusCompleted, models.SessionStatusAbandoned:
		sess.CompletedAt = &now
	}
	s.sessions[id] = sess
	return nil
}

func (s *InMemoryStore) SetSessionAudioPath(id uuid.UUID, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return models.ErrSessionNotFound
	}
	sess.AudioFilePath = path
	s.sessions[id] = sess
	return nil
}

func (s *InMemoryStore) ListStaleSessions(status models.SessionStatus, before time.Time) ([]models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var stale []models.Session
	for _, sess := range s.sessions {
		if sess.Status == status && sess.CreatedAt.Before(before) {
			stale = append(stale, sess)
		}
	}
	return stale, nil
}

func (s *InMemoryStore) AppendTranscriptEntry(e *models.TranscriptEntry) error {
	if e.Text == "" {
		return models.ErrEmptyTranscriptText
	}
	if e.Role != models.RoleAssistant && e.Role != models.RoleCandidate {
		return models.ErrInvalidRole
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	e.OrderIndex = len(s.transcripts[e.SessionID])
	s.transcripts[e.SessionID] = append(s.transcripts[e.SessionID], *e)
	return nil
}

func (s *InMemoryStore) ListTranscript(sessionID uuid.UUID) ([]models.TranscriptEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.TranscriptEntry(nil), s.transcripts[sessionID]...), nil
}

func (s *InMemoryStore) LatestAssistantEntry(sessionID uuid.UUID) (*models.TranscriptEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.transcripts[sessionID]
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Role == models.RoleAssistant {
			cp := entries[i]
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *InMemoryStore) AppendQANode(n *models.QANode) error {
	if err := n.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	n.OrderIndex = len(s.qaNodes[n.SessionID])
	s.qaNodes[n.SessionID] = append(s.qaNodes[n.SessionID], *n)
	return nil
}

func (s *InMemoryStore) ListQANodes(sessionID uuid.UUID) ([]models.QANode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.QANode(nil), s.qaNodes[sessionID]...), nil
}

func (s *InMemoryStore) GetQASummaries(sessionID uuid.UUID) ([]models.QASummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	nodes := s.qaNodes[sessionID]
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

func (s *InMemoryStore) CreateSimulationScenario(sc *models.SimulationScenario) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.scenarios[sc.SessionID]; ok {
		return models.ErrScenarioExists
	}
	if sc.ID == uuid.Nil {
		sc.ID = uuid.New()
	}
	if sc.CreatedAt.IsZero() {
		sc.CreatedAt = time.Now()
	}
	s.scenarios[sc.SessionID] = *sc
	return nil
}

func (s *InMemoryStore) GetSimulationScenario(sessionID uuid.UUID) (*models.SimulationScenario, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.scenarios[sessionID]
	if !ok {
		return nil, models.ErrScenarioNotFound
	}
	cp := sc
	return &cp, nil
}

func (s *InMemoryStore) AppendSimulationTurn(t *models.SimulationTurn) error {
	if t.Text == "" {
		return models.ErrEmptyTranscriptText
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.Timestamp.IsZero() {
		t.Timestamp = time.Now()
	}
	t.OrderIndex = len(s.simTurns[t.ScenarioID])
	s.simTurns[t.ScenarioID] = append(s.simTurns[t.ScenarioID], *t)
	return nil
}

func (s *InMemoryStore) ListSimulationTurns(scenarioID uuid.UUID) ([]models.SimulationTurn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.SimulationTurn(nil), s.simTurns[scenarioID]...), nil
}

func (s *InMemoryStore) EnqueueJob(kind string, runAt time.Time, payloadJSON string, dedupeKey string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dedupeKey != "" {
		for _, j := range s.jobs {
			if j.DedupeKey == dedupeKey && j.Status != JobStatusDone && j.Status != JobStatusCanceled {
				return j.ID, nil
			}
		}
	}
	now := time.Now()
	id := util.GenerateJobID()
	s.jobs[id] = Job{
		ID: id, Kind: kind, RunAt: runAt, PayloadJSON: payloadJSON,
		Status: JobStatusQueued, MaxAttempts: 3, DedupeKey: dedupeKey,
		CreatedAt: now, UpdatedAt: now,
	}
	return id, nil
}

func (s *InMemoryStore) ClaimDueJobs(now time.Time, limit int) ([]Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var claimed []Job
	for id, j := range s.jobs {
		if len(claimed) >= limit {
			break
		}
		if j.Status == JobStatusQueued && !j.RunAt.After(now) {
			j.Status = JobStatusRunning
			t := now
			j.LockedAt = &t
			j.UpdatedAt = now
			s.jobs[id] = j
			claimed = append(claimed, j)
		}
	}
	return claimed, nil
}

func (s *InMemoryStore) CompleteJob(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil
	}
	j.Status = JobStatusDone
	j.UpdatedAt = time.Now()
	s.jobs[id] = j
	return nil
}

func (s *InMemoryStore) FailJob(id string, errMsg string, nextRunAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil
	}
	j.Attempt++
	j.LastError = errMsg
	j.LockedAt = nil
	j.UpdatedAt = time.Now()
	if j.Attempt >= j.MaxAttempts {
		j.Status = JobStatusFailed
	} else {
		j.Status = JobStatusQueued
		j.RunAt = nextRunAt
	}
	s.jobs[id] = j
	return nil
}

func (s *InMemoryStore) RequeueStaleRunningJobs(staleBefore time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, j := range s.jobs {
		if j.Status == JobStatusRunning && j.LockedAt != nil && j.LockedAt.Before(staleBefore) {
			j.Status = JobStatusQueued
			j.LockedAt = nil
			j.UpdatedAt = time.Now()
			s.jobs[id] = j
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) GetJob(id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, nil
	}
	cp := j
	return &cp, nil
}

func (s *InMemoryStore) Close() error { return nil }
