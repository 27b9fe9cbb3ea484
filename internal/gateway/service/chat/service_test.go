package chat

import (
	"context"
	"io"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quorum/internal/gateway/repository/artifact"
	"quorum/internal/gateway/repository/conversation"
	"quorum/internal/gateway/run"
	llmclient "quorum/internal/llm/client"
	llm "quorum/internal/llm/middleware"
	"quorum/internal/pipeline"
	"quorum/internal/prompts"
)

// stubGen answers the ten pipeline calls with plan, init0..3, ref0..3 and
// "final:<query>". gate, when set, blocks the first call until closed.
type stubGen struct {
	mu      sync.Mutex
	n       int
	gate    chan struct{}
	entered chan struct{}
	convs   [][]llmclient.Turn
}

func (g *stubGen) Name() string { return "stub" }
func (g *stubGen) Close() error { return nil }
func (g *stubGen) Generate(ctx context.Context, conversation []llmclient.Turn, systemInstruction string) (string, error) {
	g.mu.Lock()
	i := g.n
	g.n++
	g.convs = append(g.convs, conversation)
	gate, entered := g.gate, g.entered
	g.mu.Unlock()

	if i == 0 && gate != nil {
		close(entered)
		select {
		case <-gate:
		case <-ctx.Done():
			return "", &llmclient.TransportError{Err: ctx.Err()}
		}
	}
	switch {
	case i == 0:
		return "plan", nil
	case i <= 4:
		return "init" + string(rune('0'+i-1)), nil
	case i <= 8:
		return "ref" + string(rune('0'+i-5)), nil
	default:
		q := conversation[len(conversation)-1].Text
		return "final:" + strings.SplitN(q, "\n", 2)[0], nil
	}
}

type harness struct {
	svc       *Service
	store     conversation.Store
	artifacts *artifact.MemoryStore
	traces    *run.TraceLogger

	mu   sync.Mutex
	gens []*stubGen
	next func() *stubGen
}

func newHarness(t *testing.T) *harness {
	return newHarnessWithStore(t, conversation.NewMemoryStore())
}

func newHarnessWithStore(t *testing.T, store conversation.Store) *harness {
	h := &harness{
		store:     store,
		artifacts: artifact.NewMemoryStore(),
		traces:    run.NewTraceLogger(t.TempDir()),
		next:      func() *stubGen { return &stubGen{} },
	}
	factory := func(ctx context.Context, cfg llmclient.ProviderConfig) (llmclient.Generator, error) {
		h.mu.Lock()
		defer h.mu.Unlock()
		g := h.next()
		h.gens = append(h.gens, g)
		return g, nil
	}
	quiet := log.New(io.Discard, "", 0)
	orch := pipeline.New(factory, prompts.Default(), pipeline.WithMiddleware(llm.WithHooks()), pipeline.WithLogger(quiet))
	h.svc = New(Deps{
		Store:        h.store,
		Artifacts:    h.artifacts,
		Traces:       h.traces,
		Orchestrator: orch,
		Defaults: llmclient.Settings{
			Provider: llmclient.ProviderOpenAI,
			Keys:     map[llmclient.Provider]string{llmclient.ProviderOpenAI: "sk-test-1234"},
		},
		Logger: quiet,
	})
	t.Cleanup(h.svc.Close)
	return h
}

func (h *harness) use(next func() *stubGen) {
	h.mu.Lock()
	h.next = next
	h.mu.Unlock()
}

func wait(t *testing.T, sub *Submission) Outcome {
	t.Helper()
	select {
	case out := <-sub.Done:
		return out
	case <-time.After(5 * time.Second):
		t.Fatal("submission did not finish")
		return Outcome{}
	}
}

func TestCreateSessionSeedsDefaults(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sess, err := h.svc.CreateSession(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, sess.ID)

	settings, err := h.svc.Settings(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, llmclient.ProviderOpenAI, settings.Provider)
	assert.Equal(t, "sk-test-1234", settings.Keys[llmclient.ProviderOpenAI])

	_, err = h.svc.Settings(ctx, "missing")
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestUpdateSettingsMerges(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sess, err := h.svc.CreateSession(ctx)
	require.NoError(t, err)

	model := "google/gemini-2.5-flash"
	got, err := h.svc.UpdateSettings(ctx, sess.ID, SettingsUpdate{
		Provider: "OpenRouter",
		Model:    &model,
		Keys: map[string]string{
			"openrouter": "or-secret",
			"openai":     "****1234",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, llmclient.ProviderOpenRouter, got.Provider)
	assert.Equal(t, model, got.Model)
	assert.Equal(t, "or-secret", got.Keys[llmclient.ProviderOpenRouter])
	assert.Equal(t, "sk-test-1234", got.Keys[llmclient.ProviderOpenAI])

	got, err = h.svc.UpdateSettings(ctx, sess.ID, SettingsUpdate{Provider: "gemini", Keys: map[string]string{"openai": ""}})
	require.NoError(t, err)
	assert.Equal(t, llmclient.ProviderGemini, got.Provider)
	assert.Empty(t, got.Model, "switching provider resets the model")
	_, ok := got.Keys[llmclient.ProviderOpenAI]
	assert.False(t, ok)

	_, err = h.svc.UpdateSettings(ctx, sess.ID, SettingsUpdate{Provider: "anthropic"})
	require.ErrorIs(t, err, ErrInvalidSettings)
	assert.Equal(t, "invalid_argument", ErrorCode(err))
	_, err = h.svc.UpdateSettings(ctx, sess.ID, SettingsUpdate{Keys: map[string]string{"nope": "x"}})
	require.ErrorIs(t, err, ErrInvalidSettings)
}

func TestSubmitSuccessPersistsAndPublishes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sess, err := h.svc.CreateSession(ctx)
	require.NoError(t, err)
	events, unsub := h.svc.Broker().Subscribe(sess.ID, 64)
	defer unsub()

	sub, err := h.svc.Submit(ctx, sess.ID, "what is go?")
	require.NoError(t, err)
	out := wait(t, sub)
	require.NoError(t, out.Err)
	assert.Equal(t, "final:what is go?", out.Answer)
	assert.Len(t, out.Stages, 10)
	assert.Equal(t, sub.RunID, out.RunID)

	msgs, err := h.svc.Messages(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "what is go?", msgs[0].Text)
	assert.Equal(t, "final:what is go?", msgs[1].Text)
	assert.False(t, msgs[1].Failed)

	var types []run.EventType
	for len(types) < 12 {
		select {
		case ev := <-events:
			types = append(types, ev.Type)
			if ev.Type == run.EventDone {
				assert.Equal(t, "final:what is go?", ev.Text)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("missing events, got %v", types)
		}
	}
	assert.Equal(t, run.EventAccepted, types[0])
	assert.Equal(t, run.EventDone, types[11])

	stored, err := h.artifacts.Get(ctx, sess.ID, TranscriptName)
	require.NoError(t, err)
	assert.Contains(t, string(stored), "## Assistant\n\nfinal:what is go?")

	trace, err := h.traces.Read(sub.RunID)
	require.NoError(t, err)
	require.NotEmpty(t, trace)
	var stages []string
	for _, ev := range trace {
		stages = append(stages, ev.Stage)
	}
	assert.Contains(t, stages, "accepted")
	assert.Contains(t, stages, "synthesize.response")
	assert.Equal(t, "done", stages[len(stages)-1])
}

func TestSubmitFailureStoresErrorText(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sess, err := h.svc.CreateSession(ctx)
	require.NoError(t, err)
	_, err = h.svc.UpdateSettings(ctx, sess.ID, SettingsUpdate{Keys: map[string]string{"openai": ""}})
	require.NoError(t, err)
	events, unsub := h.svc.Broker().Subscribe(sess.ID, 8)
	defer unsub()

	sub, err := h.svc.Submit(ctx, sess.ID, "hello")
	require.NoError(t, err)
	out := wait(t, sub)
	require.Error(t, out.Err)
	assert.True(t, llmclient.IsAuth(out.Err))
	assert.Empty(t, out.Stages)

	h.mu.Lock()
	assert.Empty(t, h.gens, "no generator is built without a credential")
	h.mu.Unlock()

	msgs, err := h.svc.Messages(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.True(t, msgs[1].Failed)
	assert.Equal(t, "API key for openai is not set", msgs[1].Text)

	var last run.Event
	for last.Type != run.EventError {
		select {
		case last = <-events:
		case <-time.After(5 * time.Second):
			t.Fatal("no error event")
		}
	}
	assert.Equal(t, "auth", last.Code)
	assert.Equal(t, "API key for openai is not set", last.Message)
}

func TestSubmitRejectsBusyBlankAndUnknown(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	gate := make(chan struct{})
	entered := make(chan struct{})
	h.use(func() *stubGen { return &stubGen{gate: gate, entered: entered} })

	sess, err := h.svc.CreateSession(ctx)
	require.NoError(t, err)

	_, err = h.svc.Submit(ctx, "missing", "hello")
	require.ErrorIs(t, err, ErrSessionNotFound)

	sub, err := h.svc.Submit(ctx, sess.ID, "first")
	require.NoError(t, err)
	<-entered

	_, err = h.svc.Submit(ctx, sess.ID, "second")
	require.ErrorIs(t, err, pipeline.ErrBusy)
	assert.Equal(t, "busy", ErrorCode(err))
	_, err = h.svc.Submit(ctx, sess.ID, "   ")
	require.ErrorIs(t, err, pipeline.ErrEmptyQuery)

	other, err := h.svc.CreateSession(ctx)
	require.NoError(t, err)
	h.use(func() *stubGen { return &stubGen{} })
	otherSub, err := h.svc.Submit(ctx, other.ID, "independent")
	require.NoError(t, err, "sessions do not share the single-flight slot")
	require.NoError(t, wait(t, otherSub).Err)

	close(gate)
	require.NoError(t, wait(t, sub).Err)

	msgs, err := h.svc.Messages(ctx, sess.ID)
	require.NoError(t, err)
	assert.Len(t, msgs, 2, "rejected submissions are not stored")
}

func TestCancelStopsRun(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	gate := make(chan struct{})
	entered := make(chan struct{})
	h.use(func() *stubGen { return &stubGen{gate: gate, entered: entered} })

	sess, err := h.svc.CreateSession(ctx)
	require.NoError(t, err)
	ok, err := h.svc.Cancel(ctx, sess.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	sub, err := h.svc.Submit(ctx, sess.ID, "long question")
	require.NoError(t, err)
	<-entered
	ok, err = h.svc.Cancel(ctx, sess.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	out := wait(t, sub)
	require.ErrorIs(t, out.Err, context.Canceled)
	assert.Equal(t, "canceled", ErrorCode(out.Err))

	_, err = h.svc.Cancel(ctx, "missing")
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestNextRunSeesOnlySuccessfulHistory(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sess, err := h.svc.CreateSession(ctx)
	require.NoError(t, err)

	require.NoError(t, wait(t, mustSubmit(t, h, sess.ID, "first")).Err)

	_, err = h.svc.UpdateSettings(ctx, sess.ID, SettingsUpdate{Keys: map[string]string{"openai": ""}})
	require.NoError(t, err)
	require.Error(t, wait(t, mustSubmit(t, h, sess.ID, "broken")).Err)

	_, err = h.svc.UpdateSettings(ctx, sess.ID, SettingsUpdate{Keys: map[string]string{"openai": "sk-new"}})
	require.NoError(t, err)
	require.NoError(t, wait(t, mustSubmit(t, h, sess.ID, "third")).Err)

	h.mu.Lock()
	last := h.gens[len(h.gens)-1]
	h.mu.Unlock()
	first := last.convs[0]
	require.Len(t, first, 3)
	assert.Equal(t, "first", first[0].Text)
	assert.Equal(t, "final:first", first[1].Text)
	assert.Equal(t, "third", first[2].Text)
}

// slowAppendStore holds the first Append until release is closed.
type slowAppendStore struct {
	conversation.Store
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (s *slowAppendStore) Append(ctx context.Context, sessionID string, msgs ...conversation.Message) error {
	first := false
	s.once.Do(func() { first = true })
	if first {
		close(s.entered)
		<-s.release
	}
	return s.Store.Append(ctx, sessionID, msgs...)
}

func TestSessionBusyUntilExchangeStored(t *testing.T) {
	store := &slowAppendStore{
		Store:   conversation.NewMemoryStore(),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	h := newHarnessWithStore(t, store)
	ctx := context.Background()
	sess, err := h.svc.CreateSession(ctx)
	require.NoError(t, err)

	sub := mustSubmit(t, h, sess.ID, "first")
	<-store.entered
	_, err = h.svc.Submit(ctx, sess.ID, "second")
	require.ErrorIs(t, err, pipeline.ErrBusy)

	close(store.release)
	require.NoError(t, wait(t, sub).Err)

	require.NoError(t, wait(t, mustSubmit(t, h, sess.ID, "third")).Err)
	h.mu.Lock()
	last := h.gens[len(h.gens)-1]
	h.mu.Unlock()
	require.Len(t, last.convs[0], 3)
	assert.Equal(t, "first", last.convs[0][0].Text)
	assert.Equal(t, "final:first", last.convs[0][1].Text)
}

func TestIdleRunnersAreDropped(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		sess, err := h.svc.CreateSession(ctx)
		require.NoError(t, err)
		require.NoError(t, wait(t, mustSubmit(t, h, sess.ID, "q")).Err)
	}
	h.svc.mu.Lock()
	defer h.svc.mu.Unlock()
	assert.Empty(t, h.svc.runners)
}

func TestArtifactsListsTranscript(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sess, err := h.svc.CreateSession(ctx)
	require.NoError(t, err)

	names, err := h.svc.Artifacts(ctx, sess.ID)
	require.NoError(t, err)
	assert.Empty(t, names)

	require.NoError(t, wait(t, mustSubmit(t, h, sess.ID, "q")).Err)
	names, err = h.svc.Artifacts(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{TranscriptName}, names)

	_, err = h.svc.Artifacts(ctx, "missing")
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func mustSubmit(t *testing.T, h *harness, sessionID, query string) *Submission {
	t.Helper()
	sub, err := h.svc.Submit(context.Background(), sessionID, query)
	require.NoError(t, err)
	return sub
}

func TestRenderTranscript(t *testing.T) {
	md := RenderTranscript("s1", []conversation.Message{
		{Role: llmclient.RoleUser, Text: "hi"},
		{Role: llmclient.RoleAssistant, Text: "hello\n"},
		{Role: llmclient.RoleUser, Text: "again"},
		{Role: llmclient.RoleAssistant, Text: "Unknown error", Failed: true},
	})
	assert.Equal(t, "# Chat transcript\n\nSession: `s1`\n"+
		"\n## User\n\nhi\n"+
		"\n## Assistant\n\nhello\n"+
		"\n## User\n\nagain\n"+
		"\n## Assistant (error)\n\nUnknown error\n", md)
}

func TestTranscriptFallsBackToContent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sess, err := h.svc.CreateSession(ctx)
	require.NoError(t, err)

	tr, err := h.svc.Transcript(ctx, sess.ID)
	require.NoError(t, err)
	assert.Empty(t, tr.URL)
	assert.Equal(t, TranscriptName, tr.Name)
	assert.Contains(t, string(tr.Content), sess.ID)

	_, err = h.svc.Transcript(ctx, "missing")
	require.ErrorIs(t, err, ErrSessionNotFound)
}
