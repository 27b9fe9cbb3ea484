// Package chat runs the multi-agent pipeline for chat sessions: it owns the
// per-session single-flight runners, persists each exchange and publishes
// progress to session watchers.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"quorum/internal/gateway/repository/artifact"
	"quorum/internal/gateway/repository/conversation"
	"quorum/internal/gateway/run"
	llmclient "quorum/internal/llm/client"
	llm "quorum/internal/llm/middleware"
	"quorum/internal/pipeline"
)

var (
	ErrSessionNotFound = conversation.ErrNotFound
	ErrInvalidSettings = errors.New("invalid settings")
)

// Outcome is the result of one submission once it has been persisted.
type Outcome struct {
	RunID  string
	Answer string
	Stages []string
	Err    error
}

// Submission is an accepted query. Done receives exactly one Outcome.
type Submission struct {
	RunID string
	Done  <-chan Outcome
}

type Service struct {
	store     conversation.Store
	artifacts artifact.Store
	broker    *run.EventBroker
	traces    *run.TraceLogger
	orch      *pipeline.Orchestrator
	defaults  llmclient.Settings
	logger    *log.Logger

	mu      sync.Mutex
	runners map[string]*pipeline.Runner
	wg      sync.WaitGroup
}

type Deps struct {
	Store        conversation.Store
	Artifacts    artifact.Store
	Broker       *run.EventBroker
	Traces       *run.TraceLogger
	Orchestrator *pipeline.Orchestrator
	Defaults     llmclient.Settings
	Logger       *log.Logger
}

func New(d Deps) *Service {
	if d.Logger == nil {
		d.Logger = log.Default()
	}
	if d.Broker == nil {
		d.Broker = run.NewEventBroker()
	}
	return &Service{
		store:     d.Store,
		artifacts: d.Artifacts,
		broker:    d.Broker,
		traces:    d.Traces,
		orch:      d.Orchestrator,
		defaults:  d.Defaults.Clone(),
		logger:    d.Logger,
		runners:   make(map[string]*pipeline.Runner),
	}
}

// Broker exposes the event broker for websocket subscribers.
func (s *Service) Broker() *run.EventBroker { return s.broker }

// Traces exposes the run trace logger.
func (s *Service) Traces() *run.TraceLogger { return s.traces }

func (s *Service) CreateSession(ctx context.Context) (conversation.Session, error) {
	now := time.Now().UTC()
	sess := conversation.Session{
		ID:        uuid.NewString(),
		Settings:  s.defaults.Clone(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return conversation.Session{}, fmt.Errorf("create session: %w", err)
	}
	return sess, nil
}

func (s *Service) Settings(ctx context.Context, sessionID string) (llmclient.Settings, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return llmclient.Settings{}, err
	}
	return sess.Settings, nil
}

// SettingsUpdate is a partial settings edit. Empty Provider/Model keep the
// current value. A key set to "" clears it; a masked key ("****…") is
// ignored so clients can send back what they read.
type SettingsUpdate struct {
	Provider string            `json:"provider"`
	Model    *string           `json:"model"`
	Keys     map[string]string `json:"keys"`
}

func (s *Service) UpdateSettings(ctx context.Context, sessionID string, upd SettingsUpdate) (llmclient.Settings, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return llmclient.Settings{}, err
	}
	next, err := applySettingsUpdate(sess.Settings, upd)
	if err != nil {
		return llmclient.Settings{}, err
	}
	if err := s.store.UpdateSettings(ctx, sessionID, next); err != nil {
		return llmclient.Settings{}, err
	}
	return next, nil
}

func applySettingsUpdate(cur llmclient.Settings, upd SettingsUpdate) (llmclient.Settings, error) {
	next := cur.Clone()
	if raw := strings.TrimSpace(upd.Provider); raw != "" {
		p, err := llmclient.ParseProvider(raw)
		if err != nil {
			return llmclient.Settings{}, fmt.Errorf("%w: %v", ErrInvalidSettings, err)
		}
		if p != next.Provider && upd.Model == nil {
			next.Model = ""
		}
		next.Provider = p
	}
	if upd.Model != nil {
		next.Model = strings.TrimSpace(*upd.Model)
	}
	for name, key := range upd.Keys {
		p, err := llmclient.ParseProvider(name)
		if err != nil {
			return llmclient.Settings{}, fmt.Errorf("%w: %v", ErrInvalidSettings, err)
		}
		key = strings.TrimSpace(key)
		switch {
		case strings.HasPrefix(key, "****"):
			// masked read-back
		case key == "":
			delete(next.Keys, p)
		default:
			next.Keys[p] = key
		}
	}
	return next, nil
}

func (s *Service) Messages(ctx context.Context, sessionID string) ([]conversation.Message, error) {
	return s.store.Messages(ctx, sessionID)
}

// start hands req to the session's runner. The runner lookup and the slot
// check happen under s.mu so an idle runner is never dropped between them.
func (s *Service) start(ctx context.Context, sessionID string, req pipeline.Request, sink pipeline.Sink, settle func(pipeline.Result)) (*pipeline.Runner, <-chan pipeline.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runners[sessionID]
	if !ok {
		r = pipeline.NewRunner(s.orch)
	}
	ch, err := r.StartSettled(ctx, req, sink, settle)
	if err != nil {
		return nil, nil, err
	}
	s.runners[sessionID] = r
	s.wg.Add(1)
	return r, ch, nil
}

// release drops r once it has gone idle so the map only holds live sessions.
func (s *Service) release(sessionID string, r *pipeline.Runner) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runners[sessionID] == r && !r.Busy() {
		delete(s.runners, sessionID)
	}
}

// Submit starts the pipeline for query. It fails fast with
// ErrSessionNotFound, pipeline.ErrEmptyQuery or pipeline.ErrBusy; anything
// that goes wrong later is reported through the Outcome and the broker.
// The run is detached from ctx's cancellation; use Cancel to stop it.
// The session stays busy until the exchange is stored.
func (s *Service) Submit(ctx context.Context, sessionID, query string) (*Submission, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	msgs, err := s.store.Messages(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	req := pipeline.Request{
		History: conversation.History(msgs),
		Query:   query,
		Config:  sess.Settings.ProviderConfig(),
	}

	var (
		stagesMu sync.Mutex
		stages   []string
		out      Outcome
	)
	// progress waits until "accepted" is out so watchers see it first
	accepted := make(chan struct{})
	sink := pipeline.SinkFuncs{
		OnProgress: func(ev pipeline.StageEvent) {
			<-accepted
			stagesMu.Lock()
			stages = append(stages, ev.Label)
			stagesMu.Unlock()
			s.broker.Publish(sess.ID, run.ProgressEvent(runID, ev))
		},
	}
	settle := func(res pipeline.Result) {
		stagesMu.Lock()
		out = Outcome{RunID: runID, Answer: res.Text, Stages: append([]string(nil), stages...), Err: res.Err}
		stagesMu.Unlock()
		s.persist(sess.ID, query, out)
	}

	runCtx := context.WithoutCancel(ctx)
	if s.traces != nil {
		runCtx = llm.WithPromptHook(runCtx, s.traces.Hook(runID))
	}
	r, ch, err := s.start(runCtx, sess.ID, req, sink, settle)
	if err != nil {
		return nil, err
	}
	s.traces.Append(runID, "gateway", "accepted", map[string]any{
		"session_id": sess.ID,
		"provider":   string(req.Config.Provider),
		"model":      req.Config.Model,
		"history":    len(req.History),
	})
	s.broker.Publish(sess.ID, run.Event{Type: run.EventAccepted, RunID: runID})
	close(accepted)

	done := make(chan Outcome, 1)
	go func() {
		defer s.wg.Done()
		<-ch
		s.release(sess.ID, r)
		s.publish(sess.ID, out)
		done <- out
	}()
	return &Submission{RunID: runID, Done: done}, nil
}

// persist stores the exchange and the transcript. The error text replaces
// the answer when the run failed.
func (s *Service) persist(sessionID, query string, out Outcome) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.store.Append(ctx, sessionID,
		conversation.Message{RunID: out.RunID, Role: llmclient.RoleUser, Text: query},
		replyMessage(out),
	); err != nil {
		s.logger.Printf("chat: append messages for %s: %v", sessionID, err)
	}
	if _, err := s.saveTranscript(ctx, sessionID); err != nil {
		s.logger.Printf("chat: save transcript for %s: %v", sessionID, err)
	}
}

func replyMessage(out Outcome) conversation.Message {
	reply := conversation.Message{RunID: out.RunID, Role: llmclient.RoleAssistant, Text: out.Answer}
	if out.Err != nil {
		reply.Text = llmclient.ErrorMessage(out.Err)
		reply.Failed = true
	}
	return reply
}

// publish tells watchers how the run ended.
func (s *Service) publish(sessionID string, out Outcome) {
	if out.Err != nil {
		msg := llmclient.ErrorMessage(out.Err)
		s.traces.Append(out.RunID, "gateway", "failed", map[string]any{"error": msg, "code": ErrorCode(out.Err)})
		s.broker.Publish(sessionID, run.Event{Type: run.EventError, RunID: out.RunID, Message: msg, Code: ErrorCode(out.Err)})
		return
	}
	s.traces.Append(out.RunID, "gateway", "done", map[string]any{"answer_chars": len(out.Answer)})
	s.broker.Publish(sessionID, run.Event{Type: run.EventDone, RunID: out.RunID, Text: out.Answer})
}

// Cancel aborts the session's in-flight run. It reports false when nothing
// was running.
func (s *Service) Cancel(ctx context.Context, sessionID string) (bool, error) {
	if _, err := s.store.GetSession(ctx, sessionID); err != nil {
		return false, err
	}
	s.mu.Lock()
	r, ok := s.runners[sessionID]
	s.mu.Unlock()
	if !ok {
		return false, nil
	}
	return r.Cancel(), nil
}

// Close cancels every in-flight run and waits for their results to be
// stored.
func (s *Service) Close() {
	s.mu.Lock()
	for _, r := range s.runners {
		r.Cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// ErrorCode classifies err for clients.
func ErrorCode(err error) string {
	var (
		authErr      *llmclient.AuthError
		transportErr *llmclient.TransportError
		protocolErr  *llmclient.ProtocolError
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, pipeline.ErrEmptyQuery), errors.Is(err, ErrInvalidSettings):
		return "invalid_argument"
	case errors.Is(err, pipeline.ErrBusy):
		return "busy"
	case errors.Is(err, ErrSessionNotFound):
		return "not_found"
	case errors.As(err, &authErr):
		return "auth"
	case errors.As(err, &transportErr):
		return "transport"
	case errors.As(err, &protocolErr):
		return "protocol"
	default:
		return "internal"
	}
}
