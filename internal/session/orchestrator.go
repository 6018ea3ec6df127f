package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hireloop/hireloop/internal/audio"
	"github.com/hireloop/hireloop/internal/models"
	"github.com/hireloop/hireloop/internal/store"
	"github.com/hireloop/hireloop/internal/stt"
	"github.com/hireloop/hireloop/internal/tts"
)

// lowTimeThreshold is the remaining time below which the simulation phase may
// start even with template questions left.
const lowTimeThreshold = 5 * time.Minute

// greetingFallbackText replaces the generated greeting when the generator
// fails during session start. The greeting turn must always be produced.
const greetingFallbackText = "Здравствуйте! Добро пожаловать на интервью. Скажите, пожалуйста, готовы ли вы начать?"

// sttFailedText is sent when speech recognition yields no text.
const sttFailedText = "Не удалось распознать речь. Попробуйте повторить."

// Generator produces the next dialog turn from the assembled context.
type Generator interface {
	GenerateQuestion(ctx context.Context, genCtx models.GeneratorContext) (*models.GeneratorResponse, error)
}

// Opts holds orchestrator configuration.
type Opts struct {
	Synthesizer tts.Synthesizer
	Transcriber stt.Transcriber
	Audio       *audio.Storage
	Classifier  ReadinessClassifier
	Registry    *Registry
	Now         func() time.Time
}

// Option configures Opts.
type Option func(*Opts)

// WithSynthesizer sets the voice synthesizer. Defaults to disabled output.
func WithSynthesizer(s tts.Synthesizer) Option {
	return func(o *Opts) {
		o.Synthesizer = s
	}
}

// WithTranscriber enables audio input via the given speech recognizer.
func WithTranscriber(t stt.Transcriber) Option {
	return func(o *Opts) {
		o.Transcriber = t
	}
}

// WithAudioStorage sets where synthesized audio chunks are persisted.
func WithAudioStorage(s *audio.Storage) Option {
	return func(o *Opts) {
		o.Audio = s
	}
}

// WithClassifier overrides the readiness classifier.
func WithClassifier(c ReadinessClassifier) Option {
	return func(o *Opts) {
		o.Classifier = c
	}
}

// WithRegistry shares a connection registry across orchestrators.
func WithRegistry(r *Registry) Option {
	return func(o *Opts) {
		o.Registry = r
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) {
		o.Now = now
	}
}

// Orchestrator drives live interview dialogs. One Dialog per connection; the
// orchestrator itself is shared and stateless apart from the registry.
type Orchestrator struct {
	store       store.Store
	generator   Generator
	synth       tts.Synthesizer
	transcriber stt.Transcriber
	audio       *audio.Storage
	classifier  ReadinessClassifier
	registry    *Registry
	now         func() time.Time
}

// NewOrchestrator creates a dialog orchestrator over the given store and
// question generator.
func NewOrchestrator(st store.Store, gen Generator, options ...Option) *Orchestrator {
	opts := Opts{}
	for _, opt := range options {
		opt(&opts)
	}
	if opts.Synthesizer == nil {
		opts.Synthesizer = tts.Disabled{}
	}
	if opts.Classifier == nil {
		opts.Classifier = NewKeywordClassifier()
	}
	if opts.Registry == nil {
		opts.Registry = NewRegistry()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Orchestrator{
		store:       st,
		generator:   gen,
		synth:       opts.Synthesizer,
		transcriber: opts.Transcriber,
		audio:       opts.Audio,
		classifier:  opts.Classifier,
		registry:    opts.Registry,
		now:         opts.Now,
	}
}

// Registry exposes the connection registry for the server layer.
func (o *Orchestrator) Registry() *Registry {
	return o.registry
}

// Dialog is the per-connection dialog state machine. All methods run on the
// single goroutine owned by the connection handler, so fields need no locking.
// Scratch state holds nothing that cannot be rebuilt from the store.
type Dialog struct {
	o    *Orchestrator
	conn Conn

	sess *models.Session
	tmpl *models.Template

	cursor              int
	lastAskedType       models.QuestionType
	started             bool
	waitingForReadiness bool
	timeExpired         bool
	deferredPending     bool
	deferralUsed        bool
	simulationActive    bool
	scenario            *models.SimulationScenario
}

// Connect validates the session, registers the connection, and sends the
// connected or resume notification. Invalid identifiers and missing or
// inactive sessions close the connection immediately.
func (o *Orchestrator) Connect(ctx context.Context, rawSessionID string, conn Conn) (*Dialog, error) {
	id, err := uuid.Parse(rawSessionID)
	if err != nil {
		_ = conn.Close(CloseUnsupportedData, "Invalid session ID")
		return nil, fmt.Errorf("invalid session ID %q: %w", rawSessionID, err)
	}

	sess, err := o.store.GetSession(id)
	if err != nil {
		_ = conn.Close(ClosePolicyViolation, "Session not found")
		return nil, fmt.Errorf("failed to load session %s: %w", id, err)
	}
	tmpl, err := o.store.GetTemplate(sess.TemplateID)
	if err != nil {
		_ = conn.Close(ClosePolicyViolation, "Interview template not found or inactive")
		return nil, fmt.Errorf("failed to load template for session %s: %w", id, err)
	}
	if !tmpl.IsActive {
		_ = conn.Close(ClosePolicyViolation, "Interview template not found or inactive")
		return nil, fmt.Errorf("template %s for session %s: %w", tmpl.ID, id, models.ErrTemplateInactive)
	}

	if prev := o.registry.Register(id, conn); prev != nil {
		slog.Info("Orchestrator.Connect: superseding previous connection", "sessionID", id)
		_ = prev.Close(ClosePolicyViolation, "Connection superseded by a new client")
	}
	// Past this point every error path must evict the registry entry and close
	// the socket, or a dead entry would shadow the session until takeover.
	fail := func(err error) (*Dialog, error) {
		o.registry.Remove(id, conn)
		_ = conn.Close(CloseInternalError, "Internal server error")
		return nil, err
	}

	d := &Dialog{o: o, conn: conn, sess: sess, tmpl: tmpl}

	if sc, err := o.store.GetSimulationScenario(id); err == nil {
		d.scenario = sc
		d.simulationActive = true
	} else if !errors.Is(err, models.ErrScenarioNotFound) {
		return fail(fmt.Errorf("failed to load simulation scenario for session %s: %w", id, err))
	}

	if sess.Status == models.SessionStatusInProgress {
		if err := d.resume(ctx); err != nil {
			return fail(err)
		}
		return d, nil
	}

	if err := conn.Send(ConnectedMessage(id.String())); err != nil {
		return fail(err)
	}
	slog.Debug("Orchestrator.Connect: session connected", "sessionID", id, "status", sess.Status)
	return d, nil
}

// resume rebuilds scratch state from persisted history and replays the
// transcript to the client. An in-progress session with an empty transcript
// falls back to the first-connect path and generates the greeting right away.
func (d *Dialog) resume(ctx context.Context) error {
	transcript, err := d.o.store.ListTranscript(d.sess.ID)
	if err != nil {
		return fmt.Errorf("failed to load transcript for resume: %w", err)
	}

	if len(transcript) == 0 {
		if err := d.conn.Send(ConnectedMessage(d.sess.ID.String())); err != nil {
			return err
		}
		slog.Info("Dialog.resume: in-progress session with empty transcript, issuing greeting",
			"sessionID", d.sess.ID)
		return d.handleStart(ctx)
	}

	summaries, err := d.o.store.GetQASummaries(d.sess.ID)
	if err != nil {
		return fmt.Errorf("failed to load history for resume: %w", err)
	}
	d.cursor = DeriveCursor(summaries)
	d.started = true

	// The pending question's type is persisted on its assistant turn, so the
	// next answer is recorded exactly as the live dialog would have recorded it.
	for i := len(transcript) - 1; i >= 0; i-- {
		if transcript[i].Role == models.RoleAssistant {
			d.lastAskedType = transcript[i].QuestionType
			break
		}
	}

	last := transcript[len(transcript)-1]
	if last.Role == models.RoleAssistant && looksLikeReadinessPrompt(last.Text) {
		d.waitingForReadiness = true
	}

	replay := make([]TranscriptReplayEntry, 0, len(transcript))
	for _, e := range transcript {
		replay = append(replay, TranscriptReplayEntry{
			Role:      e.Role,
			Message:   e.Text,
			Timestamp: e.Timestamp.UTC().Format(time.RFC3339),
			AudioURL:  e.AudioURL,
		})
	}
	remaining := RemainingSeconds(d.sess, d.tmpl, d.o.now())

	slog.Info("Dialog.resume: session resumed", "sessionID", d.sess.ID,
		"turns", len(transcript), "cursor", d.cursor, "waitingForReadiness", d.waitingForReadiness)
	return d.conn.Send(ResumeMessage(d.sess.ID.String(), replay, d.cursor, remaining))
}

// HandleTurn dispatches one client message. It returns true when the dialog
// loop should terminate. Returned errors are recoverable: the server reports
// them to the client and keeps the loop alive.
func (d *Dialog) HandleTurn(ctx context.Context, msg ClientMessage) (done bool, err error) {
	switch msg.Kind {
	case ClientKindStart:
		return false, d.handleStart(ctx)
	case ClientKindText:
		if msg.Text == "" {
			return false, nil
		}
		return d.processResponse(ctx, msg.Text)
	case ClientKindAudio:
		return d.handleAudio(ctx, msg.Audio)
	case ClientKindEnd:
		return true, d.handleEnd(ctx)
	default:
		return false, d.conn.Send(ErrorMessage("Unknown message type: " + msg.Text))
	}
}

// Close removes the dialog's registry entry. Safe to call after takeover:
// a superseded connection never evicts its successor.
func (d *Dialog) Close() {
	d.o.registry.Remove(d.sess.ID, d.conn)
}

func (d *Dialog) handleStart(ctx context.Context) error {
	if d.sess.Status == models.SessionStatusPending {
		if err := d.o.store.UpdateSessionStatus(d.sess.ID, models.SessionStatusInProgress); err != nil {
			return fmt.Errorf("failed to start session: %w", err)
		}
		sess, err := d.o.store.GetSession(d.sess.ID)
		if err != nil {
			return fmt.Errorf("failed to reload session: %w", err)
		}
		d.sess = sess
	}

	genCtx, err := d.buildContext("")
	if err != nil {
		return err
	}
	resp, err := d.o.generator.GenerateQuestion(ctx, genCtx)
	if err != nil {
		slog.Error("Dialog.handleStart: greeting generation failed, using fallback",
			"sessionID", d.sess.ID, "error", err)
		resp = &models.GeneratorResponse{
			Question: models.GeneratedQuestion{Text: greetingFallbackText, Type: models.QuestionTypeMain},
			Metadata: models.GeneratorMetadata{AnswerQuality: models.AnswerQualityComplete},
		}
	}
	resp.Normalize()

	audioURL := d.synthesize(ctx, resp.Question.Text)
	entry := &models.TranscriptEntry{
		SessionID:    d.sess.ID,
		Role:         models.RoleAssistant,
		Text:         resp.Question.Text,
		AudioURL:     audioURL,
		QuestionType: resp.Question.Type,
	}
	if err := d.o.store.AppendTranscriptEntry(entry); err != nil {
		return fmt.Errorf("failed to persist greeting: %w", err)
	}

	d.started = true
	d.waitingForReadiness = true
	d.lastAskedType = resp.Question.Type
	slog.Info("Dialog.handleStart: session started", "sessionID", d.sess.ID)
	return d.conn.Send(AssistantMessage(resp.Question.Text, audioURL, &resp.Metadata, resp.Question.Type))
}

func (d *Dialog) handleAudio(ctx context.Context, data []byte) (bool, error) {
	if len(data) == 0 {
		return false, nil
	}
	if d.o.transcriber == nil {
		return false, d.conn.Send(ErrorMessage(sttFailedText))
	}
	res, err := d.o.transcriber.Transcribe(ctx, data)
	if err != nil || res.Text == "" {
		if err != nil {
			slog.Error("Dialog.handleAudio: transcription failed", "sessionID", d.sess.ID, "error", err)
		}
		return false, d.conn.Send(ErrorMessage(sttFailedText))
	}
	return d.processResponse(ctx, res.Text)
}

// processResponse is the core per-turn decision algorithm.
func (d *Dialog) processResponse(ctx context.Context, userText string) (bool, error) {
	now := d.o.now()
	remaining := RemainingSeconds(d.sess, d.tmpl, now)

	if remaining == 0 && !d.timeExpired {
		d.timeExpired = true
		if err := d.conn.Send(TimeExpiredMessage()); err != nil {
			return false, err
		}
	}
	if d.timeExpired {
		return true, d.finishExpired(ctx, userText)
	}

	readinessExchange := false
	if d.waitingForReadiness {
		readinessExchange = true
		switch d.o.classifier.Classify(userText) {
		case ReadinessAffirmative:
			d.waitingForReadiness = false
			d.cursor = 0
			d.deferredPending = false
			d.deferralUsed = false
			slog.Debug("Dialog.processResponse: readiness confirmed", "sessionID", d.sess.ID)
		case ReadinessNegative:
			slog.Debug("Dialog.processResponse: candidate not ready", "sessionID", d.sess.ID)
		case ReadinessAmbiguous:
			// Passed through unmodified; the generator re-prompts or proceeds.
		}
	}

	entry := &models.TranscriptEntry{
		SessionID: d.sess.ID,
		Role:      models.RoleCandidate,
		Text:      userText,
	}
	if err := d.o.store.AppendTranscriptEntry(entry); err != nil {
		return false, fmt.Errorf("failed to persist candidate turn: %w", err)
	}
	d.mirrorSimulation(models.RoleCandidate, userText)
	if err := d.conn.Send(TranscriptionMessage(userText)); err != nil {
		return false, err
	}

	if !readinessExchange {
		if err := d.recordQANode(userText); err != nil {
			return false, err
		}
	}

	// A dynamic aside deferred a template question last turn; the unchanged
	// cursor forces it back into context now.
	if d.deferredPending {
		d.deferredPending = false
	}

	genCtx, err := d.buildContext(userText)
	if err != nil {
		return false, err
	}
	resp, err := d.o.generator.GenerateQuestion(ctx, genCtx)
	if err != nil {
		return false, fmt.Errorf("question generation failed: %w", err)
	}
	resp.Normalize()

	resolvedType := resp.Question.Type
	if resolvedType == models.QuestionTypeDynamic && !d.tmpl.Config.AllowDynamicQuestions {
		resolvedType = models.QuestionTypeClarifying
	}

	roots := d.tmpl.RootQuestions()
	templatePending := d.cursor < len(roots)
	switch {
	case resolvedType == models.QuestionTypeDynamic && templatePending:
		if d.deferralUsed {
			// One deferral per pending question; a second consecutive dynamic
			// is demoted so the pending question is asked next.
			resolvedType = models.QuestionTypeClarifying
		} else {
			d.deferredPending = true
			d.deferralUsed = true
		}
	case resolvedType == models.QuestionTypeMain && !d.waitingForReadiness:
		if templatePending {
			d.cursor++
		}
		d.deferralUsed = false
	}

	d.lastAskedType = resolvedType

	if err := d.maybeActivateSimulation(remaining, len(roots)); err != nil {
		return false, err
	}

	audioURL := d.synthesize(ctx, resp.Question.Text)
	aiEntry := &models.TranscriptEntry{
		SessionID:    d.sess.ID,
		Role:         models.RoleAssistant,
		Text:         resp.Question.Text,
		AudioURL:     audioURL,
		QuestionType: resolvedType,
	}
	if err := d.o.store.AppendTranscriptEntry(aiEntry); err != nil {
		return false, fmt.Errorf("failed to persist assistant turn: %w", err)
	}
	d.mirrorSimulation(models.RoleAssistant, resp.Question.Text)

	return false, d.conn.Send(AssistantMessage(resp.Question.Text, audioURL, &resp.Metadata, resolvedType))
}

// finishExpired persists the single trailing turn allowed after time expiry
// and completes the session without another generation call.
func (d *Dialog) finishExpired(ctx context.Context, userText string) error {
	entry := &models.TranscriptEntry{
		SessionID: d.sess.ID,
		Role:      models.RoleCandidate,
		Text:      userText,
	}
	if err := d.o.store.AppendTranscriptEntry(entry); err != nil {
		return fmt.Errorf("failed to persist trailing turn: %w", err)
	}
	d.mirrorSimulation(models.RoleCandidate, userText)
	if err := d.conn.Send(TranscriptionMessage(userText)); err != nil {
		return err
	}
	slog.Info("Dialog.finishExpired: time expired, completing session", "sessionID", d.sess.ID)
	return d.complete(ctx)
}

func (d *Dialog) handleEnd(ctx context.Context) error {
	slog.Info("Dialog.handleEnd: client ended session", "sessionID", d.sess.ID)
	return d.complete(ctx)
}

// complete transitions the session to its terminal state, schedules the audio
// merge, and sends the ended notification.
func (d *Dialog) complete(ctx context.Context) error {
	target := models.SessionStatusCompleted
	if d.sess.Status == models.SessionStatusPending {
		// Ended before ever starting; nothing to merge or evaluate.
		target = models.SessionStatusAbandoned
	}
	if err := d.o.store.UpdateSessionStatus(d.sess.ID, target); err != nil {
		return fmt.Errorf("failed to complete session: %w", err)
	}
	d.sess.Status = target

	if target == models.SessionStatusCompleted {
		payload, err := json.Marshal(audio.MergePayload{SessionID: d.sess.ID})
		if err == nil {
			_, err = d.o.store.EnqueueJob(store.JobKindMergeAudio, d.o.now(), string(payload), "merge:"+d.sess.ID.String())
		}
		if err != nil {
			slog.Error("Dialog.complete: failed to schedule audio merge", "sessionID", d.sess.ID, "error", err)
		}
	}
	return d.conn.Send(EndedMessage())
}

// recordQANode pairs the last asked assistant question with the candidate's
// answer. The node is typed by the question actually asked, tracked live and
// persisted on the assistant transcript turn, so counting main nodes on
// resume reproduces the live cursor. When no type is available (assistant
// turns written before types were persisted), typing falls back to the
// previous node: a main question's answer links a clarifying child to it; a
// clarifying or dynamic node's answer links to its main ancestor.
func (d *Dialog) recordQANode(answerText string) error {
	nodes, err := d.o.store.ListQANodes(d.sess.ID)
	if err != nil {
		return fmt.Errorf("failed to load question-answer history: %w", err)
	}

	mainAncestor := func() *uuid.UUID {
		if len(nodes) == 0 {
			return nil
		}
		prev := nodes[len(nodes)-1]
		if prev.Type == models.QuestionTypeMain {
			id := prev.ID
			return &id
		}
		if prev.ParentID != nil {
			id := *prev.ParentID
			return &id
		}
		id := prev.ID
		return &id
	}

	qType := d.lastAskedType
	var parentID *uuid.UUID
	switch qType {
	case models.QuestionTypeMain:
		// Root answer, no parent.
	case models.QuestionTypeClarifying, models.QuestionTypeDynamic:
		parentID = mainAncestor()
	default:
		// Resumed mid-dialog; infer from the previous node.
		qType = models.QuestionTypeMain
		if len(nodes) > 0 {
			qType = models.QuestionTypeClarifying
			parentID = mainAncestor()
		}
	}
	if parentID == nil && qType != models.QuestionTypeMain {
		// No ancestor exists yet; a parentless child would break the tree.
		qType = models.QuestionTypeMain
	}

	questionText := "Приветствие"
	if last, err := d.o.store.LatestAssistantEntry(d.sess.ID); err != nil {
		return fmt.Errorf("failed to look up last asked question: %w", err)
	} else if last != nil {
		questionText = last.Text
	}

	node := &models.QANode{
		SessionID:    d.sess.ID,
		ParentID:     parentID,
		QuestionText: questionText,
		AnswerText:   answerText,
		Type:         qType,
		IsClarifying: qType != models.QuestionTypeMain,
	}
	if err := d.o.store.AppendQANode(node); err != nil {
		return fmt.Errorf("failed to persist question-answer node: %w", err)
	}
	return nil
}

// maybeActivateSimulation starts the role-play phase once the template is
// exhausted or time runs low, at most once per session.
func (d *Dialog) maybeActivateSimulation(remainingSeconds, totalRoots int) error {
	if !d.tmpl.Config.SimulationEnabled() || d.scenario != nil {
		return nil
	}
	exhausted := d.cursor >= totalRoots
	lowTime := time.Duration(remainingSeconds)*time.Second < lowTimeThreshold
	if !exhausted && !lowTime {
		return nil
	}

	cs := d.tmpl.Config.CustomerSimulation
	sc := &models.SimulationScenario{
		SessionID:   d.sess.ID,
		ClientRole:  cs.Role,
		Description: cs.Scenario,
	}
	err := d.o.store.CreateSimulationScenario(sc)
	if errors.Is(err, models.ErrScenarioExists) {
		existing, getErr := d.o.store.GetSimulationScenario(d.sess.ID)
		if getErr != nil {
			return fmt.Errorf("failed to load existing simulation scenario: %w", getErr)
		}
		sc = existing
	} else if err != nil {
		return fmt.Errorf("failed to create simulation scenario: %w", err)
	}

	d.scenario = sc
	d.simulationActive = true
	slog.Info("Dialog.maybeActivateSimulation: simulation phase started",
		"sessionID", d.sess.ID, "templateExhausted", exhausted, "lowTime", lowTime)
	return nil
}

// mirrorSimulation appends a turn to the simulation dialog while the
// role-play phase is active. Mirror failures do not abort the turn.
func (d *Dialog) mirrorSimulation(role models.Role, text string) {
	if !d.simulationActive || d.scenario == nil {
		return
	}
	turn := &models.SimulationTurn{
		ScenarioID: d.scenario.ID,
		Role:       role,
		Text:       text,
	}
	if err := d.o.store.AppendSimulationTurn(turn); err != nil {
		slog.Error("Dialog.mirrorSimulation: failed to record simulation turn",
			"sessionID", d.sess.ID, "error", err)
	}
}

// synthesize produces and stores audio for an assistant turn, best effort.
func (d *Dialog) synthesize(ctx context.Context, text string) string {
	audioBytes, err := d.o.synth.Synthesize(ctx, text)
	if err != nil {
		slog.Error("Dialog.synthesize: synthesis failed", "sessionID", d.sess.ID, "error", err)
		return ""
	}
	if len(audioBytes) == 0 || d.o.audio == nil {
		return ""
	}
	rel, err := d.o.audio.SaveChunk(d.sess.ID, uuid.New(), audioBytes)
	if err != nil {
		slog.Error("Dialog.synthesize: failed to store audio chunk", "sessionID", d.sess.ID, "error", err)
		return ""
	}
	return rel
}

// buildContext loads history from the store and assembles the generator
// context for the current turn.
func (d *Dialog) buildContext(userText string) (models.GeneratorContext, error) {
	transcript, err := d.o.store.ListTranscript(d.sess.ID)
	if err != nil {
		return models.GeneratorContext{}, fmt.Errorf("failed to load transcript: %w", err)
	}
	summaries, err := d.o.store.GetQASummaries(d.sess.ID)
	if err != nil {
		return models.GeneratorContext{}, fmt.Errorf("failed to load history summaries: %w", err)
	}

	simDone := false
	if d.scenario != nil {
		turns, err := d.o.store.ListSimulationTurns(d.scenario.ID)
		if err != nil {
			return models.GeneratorContext{}, fmt.Errorf("failed to load simulation turns: %w", err)
		}
		simDone = models.SimulationDone(turns)
	}

	return BuildContext(d.sess, d.tmpl, transcript, summaries, d.cursor, userText, simDone, d.o.now()), nil
}
