package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hireloop/hireloop/internal/models"
	"github.com/hireloop/hireloop/internal/store"
)

type mockConn struct {
	sent        []ServerMessage
	sendErr     error
	closed      bool
	closeCode   int
	closeReason string
}

func (c *mockConn) Send(m ServerMessage) error {
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, m)
	return nil
}

func (c *mockConn) Close(code int, reason string) error {
	c.closed = true
	c.closeCode = code
	c.closeReason = reason
	return nil
}

func (c *mockConn) byType(t string) []ServerMessage {
	var out []ServerMessage
	for _, m := range c.sent {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

type scriptedGenerator struct {
	t        *testing.T
	queue    []*models.GeneratorResponse
	err      error
	contexts []models.GeneratorContext
}

func (g *scriptedGenerator) GenerateQuestion(ctx context.Context, gc models.GeneratorContext) (*models.GeneratorResponse, error) {
	g.contexts = append(g.contexts, gc)
	if g.err != nil {
		return nil, g.err
	}
	if len(g.queue) == 0 {
		g.t.Fatalf("unexpected generator call #%d", len(g.contexts))
	}
	next := *g.queue[0]
	g.queue = g.queue[1:]
	return &next, nil
}

func genResp(text string, qt models.QuestionType) *models.GeneratorResponse {
	return &models.GeneratorResponse{
		Question: models.GeneratedQuestion{Text: text, Type: qt, IsDynamic: qt == models.QuestionTypeDynamic},
		Metadata: models.GeneratorMetadata{AnswerQuality: models.AnswerQualityComplete},
	}
}

func seedTemplate(t *testing.T, st store.Store, rootTexts []string, cfg models.TemplateConfig, durationMinutes int) *models.Template {
	t.Helper()
	tmpl := models.Template{
		ID:              uuid.New(),
		Position:        "Менеджер по продажам",
		Language:        "ru",
		Personality:     "friendly",
		DurationMinutes: durationMinutes,
		IsActive:        true,
		Config:          cfg,
	}
	for i, text := range rootTexts {
		tmpl.Questions = append(tmpl.Questions, models.TemplateQuestion{
			ID:         uuid.New(),
			TemplateID: tmpl.ID,
			Text:       text,
			OrderIndex: i,
		})
	}
	if err := st.CreateTemplate(tmpl); err != nil {
		t.Fatalf("CreateTemplate: %v", err)
	}
	return &tmpl
}

func seedSession(t *testing.T, st store.Store, tmplID uuid.UUID, status models.SessionStatus, startedAt *time.Time) uuid.UUID {
	t.Helper()
	id := uuid.New()
	err := st.CreateSession(models.Session{
		ID:            id,
		TemplateID:    tmplID,
		CandidateName: "Анна",
		Status:        status,
		StartedAt:     startedAt,
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	return id
}

func turn(t *testing.T, d *Dialog, text string) {
	t.Helper()
	done, err := d.HandleTurn(context.Background(), ClientMessage{Kind: ClientKindText, Text: text})
	if err != nil {
		t.Fatalf("HandleTurn(%q): %v", text, err)
	}
	if done {
		t.Fatalf("HandleTurn(%q): unexpected loop termination", text)
	}
}

func TestConnectInvalidSessionID(t *testing.T) {
	o := NewOrchestrator(store.NewInMemoryStore(), &scriptedGenerator{t: t})
	conn := &mockConn{}
	if _, err := o.Connect(context.Background(), "not-a-uuid", conn); err == nil {
		t.Fatal("expected error")
	}
	if !conn.closed || conn.closeCode != CloseUnsupportedData {
		t.Errorf("expected close 1003, got closed=%v code=%d", conn.closed, conn.closeCode)
	}
}

func TestConnectMissingSession(t *testing.T) {
	o := NewOrchestrator(store.NewInMemoryStore(), &scriptedGenerator{t: t})
	conn := &mockConn{}
	if _, err := o.Connect(context.Background(), uuid.New().String(), conn); err == nil {
		t.Fatal("expected error")
	}
	if !conn.closed || conn.closeCode != ClosePolicyViolation {
		t.Errorf("expected close 1008, got closed=%v code=%d", conn.closed, conn.closeCode)
	}
}

func TestConnectInactiveTemplate(t *testing.T) {
	st := store.NewInMemoryStore()
	tmpl := seedTemplate(t, st, []string{"Вопрос 1"}, models.TemplateConfig{}, 30)
	tmpl.IsActive = false
	if err := st.CreateTemplate(*tmpl); err != nil {
		t.Fatalf("CreateTemplate: %v", err)
	}
	id := seedSession(t, st, tmpl.ID, models.SessionStatusPending, nil)

	o := NewOrchestrator(st, &scriptedGenerator{t: t})
	conn := &mockConn{}
	if _, err := o.Connect(context.Background(), id.String(), conn); !errors.Is(err, models.ErrTemplateInactive) {
		t.Fatalf("expected ErrTemplateInactive, got %v", err)
	}
	if conn.closeCode != ClosePolicyViolation {
		t.Errorf("expected close 1008, got %d", conn.closeCode)
	}
}

// A connection that fails after registration must not leave a registry entry
// behind: the next client would be refused as a duplicate until takeover.
func TestConnectSendFailureLeavesNoRegistryEntry(t *testing.T) {
	st := store.NewInMemoryStore()
	tmpl := seedTemplate(t, st, []string{"В1"}, models.TemplateConfig{}, 30)

	cases := []struct {
		name   string
		status models.SessionStatus
		seed   func(t *testing.T, id uuid.UUID)
	}{
		{name: "pending", status: models.SessionStatusPending, seed: func(t *testing.T, id uuid.UUID) {}},
		{name: "in progress", status: models.SessionStatusInProgress, seed: func(t *testing.T, id uuid.UUID) {
			err := st.AppendTranscriptEntry(&models.TranscriptEntry{
				SessionID: id, Role: models.RoleAssistant, Text: "Здравствуйте! Готовы начать?",
			})
			if err != nil {
				t.Fatalf("AppendTranscriptEntry: %v", err)
			}
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			started := time.Now().Add(-time.Minute)
			var startedAt *time.Time
			if tc.status == models.SessionStatusInProgress {
				startedAt = &started
			}
			id := seedSession(t, st, tmpl.ID, tc.status, startedAt)
			tc.seed(t, id)

			o := NewOrchestrator(st, &scriptedGenerator{t: t})
			conn := &mockConn{sendErr: errors.New("write: broken pipe")}
			if _, err := o.Connect(context.Background(), id.String(), conn); err == nil {
				t.Fatal("expected error")
			}
			if o.Registry().Lookup(id) != nil {
				t.Error("failed connection still registered")
			}
			if !conn.closed || conn.closeCode != CloseInternalError {
				t.Errorf("expected close 1011, got closed=%v code=%d", conn.closed, conn.closeCode)
			}
		})
	}
}

func TestRegistryTakeover(t *testing.T) {
	st := store.NewInMemoryStore()
	tmpl := seedTemplate(t, st, []string{"Вопрос 1"}, models.TemplateConfig{}, 30)
	id := seedSession(t, st, tmpl.ID, models.SessionStatusPending, nil)
	o := NewOrchestrator(st, &scriptedGenerator{t: t})

	first := &mockConn{}
	d1, err := o.Connect(context.Background(), id.String(), first)
	if err != nil {
		t.Fatalf("first Connect: %v", err)
	}
	second := &mockConn{}
	if _, err := o.Connect(context.Background(), id.String(), second); err != nil {
		t.Fatalf("second Connect: %v", err)
	}

	if !first.closed || first.closeCode != ClosePolicyViolation {
		t.Errorf("first connection not superseded: closed=%v code=%d", first.closed, first.closeCode)
	}
	if second.closed {
		t.Error("second connection should stay open")
	}

	// The superseded dialog unwinding must not evict its successor.
	d1.Close()
	if o.Registry().Lookup(id) == nil {
		t.Error("takeover connection evicted by superseded dialog cleanup")
	}
}

func TestStartGreetingAndFallback(t *testing.T) {
	st := store.NewInMemoryStore()
	tmpl := seedTemplate(t, st, []string{"Вопрос 1"}, models.TemplateConfig{}, 30)
	id := seedSession(t, st, tmpl.ID, models.SessionStatusPending, nil)

	gen := &scriptedGenerator{t: t, err: errors.New("generator down")}
	o := NewOrchestrator(st, gen)
	conn := &mockConn{}
	d, err := o.Connect(context.Background(), id.String(), conn)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if done, err := d.HandleTurn(context.Background(), ClientMessage{Kind: ClientKindStart}); err != nil || done {
		t.Fatalf("start turn: done=%v err=%v", done, err)
	}

	sess, err := st.GetSession(id)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if sess.Status != models.SessionStatusInProgress {
		t.Errorf("status = %s, want in_progress", sess.Status)
	}
	if sess.StartedAt == nil {
		t.Error("started_at not stamped")
	}

	msgs := conn.byType("message")
	if len(msgs) != 1 {
		t.Fatalf("expected one assistant message, got %d", len(msgs))
	}
	if msgs[0].Message != greetingFallbackText {
		t.Errorf("greeting fallback not used: %q", msgs[0].Message)
	}

	entries, err := st.ListTranscript(id)
	if err != nil {
		t.Fatalf("ListTranscript: %v", err)
	}
	if len(entries) != 1 || entries[0].OrderIndex != 0 || entries[0].Role != models.RoleAssistant {
		t.Errorf("greeting transcript entry wrong: %+v", entries)
	}
	if !d.waitingForReadiness {
		t.Error("readiness gate not armed after greeting")
	}
}

// Two root questions, dynamic questions disallowed: readiness "да" resets the
// cursor to 0, each answer records a main node, and after both answers the
// template is exhausted.
func TestScenarioTwoRootQuestions(t *testing.T) {
	st := store.NewInMemoryStore()
	tmpl := seedTemplate(t, st, []string{"Вопрос 1", "Вопрос 2"}, models.TemplateConfig{}, 30)
	id := seedSession(t, st, tmpl.ID, models.SessionStatusPending, nil)

	gen := &scriptedGenerator{t: t, queue: []*models.GeneratorResponse{
		genResp("Здравствуйте! Готовы начать?", models.QuestionTypeMain),
		genResp("Вопрос 1", models.QuestionTypeMain),
		genResp("Вопрос 2", models.QuestionTypeMain),
		genResp("Спасибо, у меня больше нет вопросов.", models.QuestionTypeMain),
	}}
	o := NewOrchestrator(st, gen)
	conn := &mockConn{}
	d, err := o.Connect(context.Background(), id.String(), conn)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if _, err := d.HandleTurn(context.Background(), ClientMessage{Kind: ClientKindStart}); err != nil {
		t.Fatalf("start: %v", err)
	}
	turn(t, d, "да")
	turn(t, d, "Пять лет в продажах")
	turn(t, d, "Работал в команде из шести человек")

	// Context for the first real question must point at root #1.
	if gen.contexts[1].QuestionProgress.CurrentQuestionIndex != 0 {
		t.Errorf("cursor after readiness = %d, want 0", gen.contexts[1].QuestionProgress.CurrentQuestionIndex)
	}
	if gen.contexts[1].CurrentQuestion == nil || gen.contexts[1].CurrentQuestion.Text != "Вопрос 1" {
		t.Errorf("current question = %+v, want root #1", gen.contexts[1].CurrentQuestion)
	}
	if gen.contexts[2].CurrentQuestion == nil || gen.contexts[2].CurrentQuestion.Text != "Вопрос 2" {
		t.Errorf("second question context = %+v, want root #2", gen.contexts[2].CurrentQuestion)
	}
	// Template exhausted: no current question in the final context.
	last := gen.contexts[len(gen.contexts)-1]
	if last.CurrentQuestion != nil {
		t.Errorf("exhausted template still has current question: %+v", last.CurrentQuestion)
	}
	if last.QuestionProgress.AnsweredQuestions != 2 {
		t.Errorf("answered = %d, want 2", last.QuestionProgress.AnsweredQuestions)
	}

	nodes, err := st.ListQANodes(id)
	if err != nil {
		t.Fatalf("ListQANodes: %v", err)
	}
	if len(nodes) != 2 {
		t.Fatalf("expected 2 question-answer nodes, got %d", len(nodes))
	}
	for i, n := range nodes {
		if n.Type != models.QuestionTypeMain || n.ParentID != nil {
			t.Errorf("node %d: type=%s parent=%v, want main/nil", i, n.Type, n.ParentID)
		}
	}
}

// Negative readiness keeps the gate armed; a later affirmative clears it and
// resets the cursor. Readiness exchanges record no question-answer nodes.
func TestScenarioReadinessNegativeThenAffirmative(t *testing.T) {
	st := store.NewInMemoryStore()
	tmpl := seedTemplate(t, st, []string{"Вопрос 1"}, models.TemplateConfig{}, 30)
	id := seedSession(t, st, tmpl.ID, models.SessionStatusPending, nil)

	gen := &scriptedGenerator{t: t, queue: []*models.GeneratorResponse{
		genResp("Здравствуйте! Готовы начать?", models.QuestionTypeMain),
		genResp("Хорошо, подожду. Скажите, когда будете готовы.", models.QuestionTypeMain),
		genResp("Вопрос 1", models.QuestionTypeMain),
	}}
	o := NewOrchestrator(st, gen)
	conn := &mockConn{}
	d, err := o.Connect(context.Background(), id.String(), conn)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if _, err := d.HandleTurn(context.Background(), ClientMessage{Kind: ClientKindStart}); err != nil {
		t.Fatalf("start: %v", err)
	}

	turn(t, d, "нет, подождите")
	if !d.waitingForReadiness {
		t.Error("readiness gate cleared by a negative reply")
	}

	turn(t, d, "да, готов")
	if d.waitingForReadiness {
		t.Error("readiness gate still armed after affirmative reply")
	}
	if d.cursor != 0 {
		t.Errorf("cursor = %d, want 0 after affirmative readiness", d.cursor)
	}

	nodes, err := st.ListQANodes(id)
	if err != nil {
		t.Fatalf("ListQANodes: %v", err)
	}
	if len(nodes) != 0 {
		t.Errorf("readiness exchanges recorded %d question-answer nodes", len(nodes))
	}
}

// With simulation enabled, exhausting the template creates the scenario and
// mirrors subsequent turns until one assistant and one candidate turn mark it
// done, which feeds back into the next context.
func TestScenarioSimulationPhase(t *testing.T) {
	st := store.NewInMemoryStore()
	cfg := models.TemplateConfig{
		CustomerSimulation: &models.CustomerSimulation{
			Enabled:  true,
			Role:     "недовольный клиент",
			Scenario: "Клиент требует возврат средств",
		},
	}
	tmpl := seedTemplate(t, st, []string{"Вопрос 1"}, cfg, 30)
	id := seedSession(t, st, tmpl.ID, models.SessionStatusPending, nil)

	gen := &scriptedGenerator{t: t, queue: []*models.GeneratorResponse{
		genResp("Здравствуйте! Готовы начать?", models.QuestionTypeMain),
		genResp("Вопрос 1", models.QuestionTypeMain),
		genResp("Давайте представим ситуацию: я недовольный клиент.", models.QuestionTypeMain),
		genResp("Спасибо! На этом закончим.", models.QuestionTypeMain),
	}}
	o := NewOrchestrator(st, gen)
	conn := &mockConn{}
	d, err := o.Connect(context.Background(), id.String(), conn)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if _, err := d.HandleTurn(context.Background(), ClientMessage{Kind: ClientKindStart}); err != nil {
		t.Fatalf("start: %v", err)
	}

	turn(t, d, "да")
	turn(t, d, "Мой ответ на вопрос")

	// Template exhausted on this turn: scenario created, assistant reply mirrored.
	sc, err := st.GetSimulationScenario(id)
	if err != nil {
		t.Fatalf("GetSimulationScenario: %v", err)
	}
	if sc.ClientRole != "недовольный клиент" {
		t.Errorf("scenario role = %q", sc.ClientRole)
	}

	turn(t, d, "Понимаю ваше недовольство, давайте разберемся")

	turns, err := st.ListSimulationTurns(sc.ID)
	if err != nil {
		t.Fatalf("ListSimulationTurns: %v", err)
	}
	if !models.SimulationDone(turns) {
		t.Errorf("simulation not done after assistant+candidate turns: %+v", turns)
	}
	last := gen.contexts[len(gen.contexts)-1]
	if !last.SimulationDone {
		t.Error("simulationDone flag not passed into context")
	}
}

// Reconnecting mid-session with persisted main nodes and no scratch state must
// derive the cursor purely from the store.
func TestScenarioResumeDerivesCursor(t *testing.T) {
	st := store.NewInMemoryStore()
	tmpl := seedTemplate(t, st, []string{"В1", "В2", "В3", "В4"}, models.TemplateConfig{}, 30)
	started := time.Now().Add(-10 * time.Minute)
	id := seedSession(t, st, tmpl.ID, models.SessionStatusInProgress, &started)

	for i, text := range []string{"Здравствуйте! Готовы начать?", "да", "В1", "Ответ 1"} {
		role := models.RoleAssistant
		if i%2 == 1 {
			role = models.RoleCandidate
		}
		if err := st.AppendTranscriptEntry(&models.TranscriptEntry{SessionID: id, Role: role, Text: text}); err != nil {
			t.Fatalf("AppendTranscriptEntry: %v", err)
		}
	}
	for i := 0; i < 3; i++ {
		err := st.AppendQANode(&models.QANode{
			SessionID:    id,
			QuestionText: "В",
			AnswerText:   "Ответ",
			Type:         models.QuestionTypeMain,
		})
		if err != nil {
			t.Fatalf("AppendQANode: %v", err)
		}
	}

	o := NewOrchestrator(st, &scriptedGenerator{t: t})
	conn := &mockConn{}
	d, err := o.Connect(context.Background(), id.String(), conn)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	resumes := conn.byType("resume")
	if len(resumes) != 1 {
		t.Fatalf("expected one resume message, got %v", conn.sent)
	}
	if resumes[0].NextQuestionIndex == nil || *resumes[0].NextQuestionIndex != 3 {
		t.Errorf("nextQuestionIndex = %v, want 3", resumes[0].NextQuestionIndex)
	}
	if len(resumes[0].Transcript) != 4 {
		t.Errorf("replayed %d transcript entries, want 4", len(resumes[0].Transcript))
	}
	if d.cursor != 3 {
		t.Errorf("derived cursor = %d, want 3", d.cursor)
	}
	if d.waitingForReadiness {
		t.Error("readiness gate armed although last entry is a candidate turn")
	}
}

// The pending question's type survives a disconnect: an answer to a root
// question given on a fresh connection records a main node, so the next
// resume counts it and does not re-present answered roots.
func TestResumeRecordsRootAnswerAsMain(t *testing.T) {
	st := store.NewInMemoryStore()
	tmpl := seedTemplate(t, st, []string{"В1", "В2", "В3"}, models.TemplateConfig{}, 30)
	id := seedSession(t, st, tmpl.ID, models.SessionStatusPending, nil)

	gen := &scriptedGenerator{t: t, queue: []*models.GeneratorResponse{
		genResp("Здравствуйте! Готовы начать?", models.QuestionTypeMain),
		genResp("В1", models.QuestionTypeMain),
		genResp("В2", models.QuestionTypeMain),
		genResp("В3", models.QuestionTypeMain),
	}}
	o := NewOrchestrator(st, gen)

	first := &mockConn{}
	d1, err := o.Connect(context.Background(), id.String(), first)
	if err != nil {
		t.Fatalf("first Connect: %v", err)
	}
	if _, err := d1.HandleTurn(context.Background(), ClientMessage{Kind: ClientKindStart}); err != nil {
		t.Fatalf("start: %v", err)
	}
	turn(t, d1, "да")
	turn(t, d1, "Ответ 1")

	// Root #2 is asked but unanswered when the client drops.
	second := &mockConn{}
	d2, err := o.Connect(context.Background(), id.String(), second)
	if err != nil {
		t.Fatalf("second Connect: %v", err)
	}
	if d2.lastAskedType != models.QuestionTypeMain {
		t.Errorf("restored pending question type = %q, want main", d2.lastAskedType)
	}
	turn(t, d2, "Ответ 2")

	nodes, err := st.ListQANodes(id)
	if err != nil {
		t.Fatalf("ListQANodes: %v", err)
	}
	if len(nodes) != 2 {
		t.Fatalf("expected 2 question-answer nodes, got %d", len(nodes))
	}
	for i, n := range nodes {
		if n.Type != models.QuestionTypeMain || n.ParentID != nil {
			t.Errorf("node %d: type=%s parent=%v, want main/nil", i, n.Type, n.ParentID)
		}
	}

	third := &mockConn{}
	d3, err := o.Connect(context.Background(), id.String(), third)
	if err != nil {
		t.Fatalf("third Connect: %v", err)
	}
	resumes := third.byType("resume")
	if len(resumes) != 1 {
		t.Fatalf("expected one resume message, got %v", third.sent)
	}
	if resumes[0].NextQuestionIndex == nil || *resumes[0].NextQuestionIndex != 2 {
		t.Errorf("nextQuestionIndex = %v, want 2", resumes[0].NextQuestionIndex)
	}
	if d3.cursor != 2 {
		t.Errorf("derived cursor = %d, want 2", d3.cursor)
	}
}

func TestResumeRearmsReadinessGate(t *testing.T) {
	st := store.NewInMemoryStore()
	tmpl := seedTemplate(t, st, []string{"В1"}, models.TemplateConfig{}, 30)
	started := time.Now().Add(-time.Minute)
	id := seedSession(t, st, tmpl.ID, models.SessionStatusInProgress, &started)
	err := st.AppendTranscriptEntry(&models.TranscriptEntry{
		SessionID: id,
		Role:      models.RoleAssistant,
		Text:      "Здравствуйте! Готовы ли вы начать?",
	})
	if err != nil {
		t.Fatalf("AppendTranscriptEntry: %v", err)
	}

	o := NewOrchestrator(st, &scriptedGenerator{t: t})
	d, err := o.Connect(context.Background(), id.String(), &mockConn{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if !d.waitingForReadiness {
		t.Error("readiness gate not re-armed from persisted readiness prompt")
	}
}

// An in-progress session with an empty transcript resumes like a first
// connect and issues the greeting immediately.
func TestResumeEmptyTranscriptIssuesGreeting(t *testing.T) {
	st := store.NewInMemoryStore()
	tmpl := seedTemplate(t, st, []string{"В1"}, models.TemplateConfig{}, 30)
	started := time.Now().Add(-time.Minute)
	id := seedSession(t, st, tmpl.ID, models.SessionStatusInProgress, &started)

	gen := &scriptedGenerator{t: t, queue: []*models.GeneratorResponse{
		genResp("Здравствуйте! Готовы начать?", models.QuestionTypeMain),
	}}
	o := NewOrchestrator(st, gen)
	conn := &mockConn{}
	if _, err := o.Connect(context.Background(), id.String(), conn); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if len(gen.contexts) != 1 {
		t.Fatalf("expected one greeting generation, got %d", len(gen.contexts))
	}
	entries, err := st.ListTranscript(id)
	if err != nil {
		t.Fatalf("ListTranscript: %v", err)
	}
	if len(entries) != 1 || entries[0].Role != models.RoleAssistant {
		t.Errorf("greeting not persisted: %+v", entries)
	}
	if len(conn.byType("message")) != 1 {
		t.Errorf("greeting not sent: %v", conn.sent)
	}
}

// A dynamic aside must not skip the pending template question: the cursor
// stays put, and a second consecutive dynamic is demoted.
func TestDynamicQuestionDeferral(t *testing.T) {
	st := store.NewInMemoryStore()
	tmpl := seedTemplate(t, st, []string{"Вопрос 1", "Вопрос 2"},
		models.TemplateConfig{AllowDynamicQuestions: true}, 30)
	id := seedSession(t, st, tmpl.ID, models.SessionStatusPending, nil)

	gen := &scriptedGenerator{t: t, queue: []*models.GeneratorResponse{
		genResp("Здравствуйте! Готовы начать?", models.QuestionTypeMain),
		genResp("Кстати, а что вы думаете о нашей отрасли?", models.QuestionTypeDynamic),
		genResp("А ещё один вопрос не по теме", models.QuestionTypeDynamic),
		genResp("Вопрос 1", models.QuestionTypeMain),
	}}
	o := NewOrchestrator(st, gen)
	conn := &mockConn{}
	d, err := o.Connect(context.Background(), id.String(), conn)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if _, err := d.HandleTurn(context.Background(), ClientMessage{Kind: ClientKindStart}); err != nil {
		t.Fatalf("start: %v", err)
	}

	turn(t, d, "да")
	if d.cursor != 0 {
		t.Errorf("cursor advanced past deferred template question: %d", d.cursor)
	}
	turn(t, d, "Думаю, отрасль растет")
	turn(t, d, "Ещё один ответ")

	// Every context kept pointing at the pending root question.
	for i := 1; i < len(gen.contexts); i++ {
		if gen.contexts[i].CurrentQuestion == nil || gen.contexts[i].CurrentQuestion.Text != "Вопрос 1" {
			t.Errorf("context #%d lost the pending template question: %+v", i, gen.contexts[i].CurrentQuestion)
		}
	}

	msgs := conn.byType("message")
	if len(msgs) != 4 {
		t.Fatalf("expected 4 assistant messages, got %d", len(msgs))
	}
	if msgs[1].QuestionType != models.QuestionTypeDynamic {
		t.Errorf("first aside type = %s, want dynamic", msgs[1].QuestionType)
	}
	if msgs[2].QuestionType != models.QuestionTypeClarifying {
		t.Errorf("second consecutive dynamic not demoted: %s", msgs[2].QuestionType)
	}
	if msgs[3].QuestionType != models.QuestionTypeMain {
		t.Errorf("template question type = %s, want main", msgs[3].QuestionType)
	}
	if d.cursor != 1 {
		t.Errorf("cursor = %d after template question finally asked, want 1", d.cursor)
	}
}

func TestDynamicDisallowedDowngradesToClarifying(t *testing.T) {
	st := store.NewInMemoryStore()
	tmpl := seedTemplate(t, st, []string{"Вопрос 1"}, models.TemplateConfig{AllowDynamicQuestions: false}, 30)
	id := seedSession(t, st, tmpl.ID, models.SessionStatusPending, nil)

	gen := &scriptedGenerator{t: t, queue: []*models.GeneratorResponse{
		genResp("Здравствуйте! Готовы начать?", models.QuestionTypeMain),
		genResp("Неожиданный вопрос", models.QuestionTypeDynamic),
	}}
	o := NewOrchestrator(st, gen)
	conn := &mockConn{}
	d, err := o.Connect(context.Background(), id.String(), conn)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if _, err := d.HandleTurn(context.Background(), ClientMessage{Kind: ClientKindStart}); err != nil {
		t.Fatalf("start: %v", err)
	}
	turn(t, d, "да")

	for _, m := range conn.byType("message") {
		if m.QuestionType == models.QuestionTypeDynamic {
			t.Errorf("dynamic question emitted although disallowed: %+v", m)
		}
	}
	msgs := conn.byType("message")
	if msgs[len(msgs)-1].QuestionType != models.QuestionTypeClarifying {
		t.Errorf("downgraded type = %s, want clarifying", msgs[len(msgs)-1].QuestionType)
	}
}

// Once time runs out, exactly one trailing candidate turn is recorded, the
// session completes, and no further generation call happens.
func TestTimeExpiryCompletesSession(t *testing.T) {
	st := store.NewInMemoryStore()
	tmpl := seedTemplate(t, st, []string{"В1"}, models.TemplateConfig{}, 30)
	started := time.Now().Add(-31 * time.Minute)
	id := seedSession(t, st, tmpl.ID, models.SessionStatusInProgress, &started)
	err := st.AppendTranscriptEntry(&models.TranscriptEntry{
		SessionID: id, Role: models.RoleAssistant, Text: "Расскажите о себе",
	})
	if err != nil {
		t.Fatalf("AppendTranscriptEntry: %v", err)
	}

	gen := &scriptedGenerator{t: t}
	o := NewOrchestrator(st, gen)
	conn := &mockConn{}
	d, err := o.Connect(context.Background(), id.String(), conn)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	done, err := d.HandleTurn(context.Background(), ClientMessage{Kind: ClientKindText, Text: "Последняя реплика"})
	if err != nil {
		t.Fatalf("trailing turn: %v", err)
	}
	if !done {
		t.Error("dialog loop should terminate after the trailing turn")
	}
	if len(gen.contexts) != 0 {
		t.Errorf("generation called %d times after expiry, want 0", len(gen.contexts))
	}
	if len(conn.byType("time_expired")) != 1 {
		t.Error("time_expired notification missing")
	}
	if len(conn.byType("ended")) != 1 {
		t.Error("ended notification missing")
	}

	sess, err := st.GetSession(id)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if sess.Status != models.SessionStatusCompleted {
		t.Errorf("status = %s, want completed", sess.Status)
	}

	entries, err := st.ListTranscript(id)
	if err != nil {
		t.Fatalf("ListTranscript: %v", err)
	}
	if len(entries) != 2 || entries[1].Role != models.RoleCandidate {
		t.Errorf("trailing turn not persisted: %+v", entries)
	}

	jobs, err := st.ClaimDueJobs(time.Now().Add(time.Second), 10)
	if err != nil {
		t.Fatalf("ClaimDueJobs: %v", err)
	}
	if len(jobs) != 1 || jobs[0].Kind != store.JobKindMergeAudio {
		t.Errorf("audio merge job not enqueued: %+v", jobs)
	}
}

func TestEndCompletesAndSchedulesMerge(t *testing.T) {
	st := store.NewInMemoryStore()
	tmpl := seedTemplate(t, st, []string{"В1"}, models.TemplateConfig{}, 30)
	started := time.Now().Add(-time.Minute)
	id := seedSession(t, st, tmpl.ID, models.SessionStatusInProgress, &started)
	err := st.AppendTranscriptEntry(&models.TranscriptEntry{
		SessionID: id, Role: models.RoleAssistant, Text: "Расскажите о себе",
	})
	if err != nil {
		t.Fatalf("AppendTranscriptEntry: %v", err)
	}

	o := NewOrchestrator(st, &scriptedGenerator{t: t})
	conn := &mockConn{}
	d, err := o.Connect(context.Background(), id.String(), conn)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	done, err := d.HandleTurn(context.Background(), ClientMessage{Kind: ClientKindEnd})
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if !done {
		t.Error("end should terminate the loop")
	}
	sess, _ := st.GetSession(id)
	if sess.Status != models.SessionStatusCompleted {
		t.Errorf("status = %s, want completed", sess.Status)
	}
	if len(conn.byType("ended")) != 1 {
		t.Error("ended notification missing")
	}
}

func TestUnknownMessageKind(t *testing.T) {
	st := store.NewInMemoryStore()
	tmpl := seedTemplate(t, st, []string{"В1"}, models.TemplateConfig{}, 30)
	id := seedSession(t, st, tmpl.ID, models.SessionStatusPending, nil)

	o := NewOrchestrator(st, &scriptedGenerator{t: t})
	conn := &mockConn{}
	d, err := o.Connect(context.Background(), id.String(), conn)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	done, err := d.HandleTurn(context.Background(), ClientMessage{Kind: ClientKindUnknown, Text: "ping"})
	if err != nil || done {
		t.Fatalf("unknown kind: done=%v err=%v", done, err)
	}
	errs := conn.byType("error")
	if len(errs) != 1 {
		t.Fatalf("expected one error message, got %v", conn.sent)
	}
}
