package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	llmclient "quorum/internal/llm/client"
)

type recorder struct {
	mu      sync.Mutex
	configs []llmclient.ProviderConfig
	convs   [][]llmclient.Turn
}

func (r *recorder) factory(_ context.Context, cfg llmclient.ProviderConfig) (llmclient.Generator, error) {
	r.mu.Lock()
	r.configs = append(r.configs, cfg)
	r.mu.Unlock()
	return &cannedGen{rec: r}, nil
}

type cannedGen struct {
	rec *recorder
	n   int
}

func (g *cannedGen) Name() string { return "canned" }
func (g *cannedGen) Close() error { return nil }
func (g *cannedGen) Generate(_ context.Context, conversation []llmclient.Turn, _ string) (string, error) {
	g.rec.mu.Lock()
	g.rec.convs = append(g.rec.convs, conversation)
	g.rec.mu.Unlock()
	g.n++
	if g.n == 10 {
		return "the answer", nil
	}
	return "step", nil
}

func execute(t *testing.T, rec *recorder, stdin string, args ...string) (string, string, error) {
	t.Helper()
	for _, p := range llmclient.Providers() {
		t.Setenv(p.CredentialEnv(), "")
	}
	t.Setenv("QUORUM_PROVIDER", "")
	t.Setenv("QUORUM_API_KEY", "")
	t.Chdir(t.TempDir())

	root := NewRootCmd(rec.factory)
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestAskPrintsStagesAndAnswer(t *testing.T) {
	rec := &recorder{}
	stdout, stderr, err := execute(t, rec, "", "ask", "--api-key", "gm-key", "what", "is", "go?")
	require.NoError(t, err)
	assert.Equal(t, "the answer\n", stdout)

	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	require.Len(t, lines, 10)
	assert.Equal(t, "Strategizing", lines[0])
	assert.Equal(t, "Initializing 1/4", lines[1])
	assert.Equal(t, "Refining 4/4", lines[8])
	assert.Equal(t, "Synthesizing", lines[9])

	require.Len(t, rec.configs, 1)
	assert.Equal(t, llmclient.ProviderGemini, rec.configs[0].Provider)
	assert.Equal(t, "gm-key", rec.configs[0].Credential)
	assert.Equal(t, "what is go?", rec.convs[0][0].Text)
}

func TestAskReadsStdin(t *testing.T) {
	rec := &recorder{}
	stdout, _, err := execute(t, rec, "piped question\n", "ask", "--api-key", "k")
	require.NoError(t, err)
	assert.Equal(t, "the answer\n", stdout)
	assert.Equal(t, "piped question\n", rec.convs[0][0].Text)
}

func TestAskMissingCredential(t *testing.T) {
	rec := &recorder{}
	stdout, stderr, err := execute(t, rec, "", "ask", "--provider", "openai", "hello")
	require.Error(t, err)
	assert.Equal(t, "API key for openai is not set", err.Error())
	assert.Empty(t, stdout)
	assert.NotContains(t, stderr, "Strategizing")
	assert.Empty(t, rec.configs)
}

func TestAskBlankQuery(t *testing.T) {
	rec := &recorder{}
	_, _, err := execute(t, rec, "   ", "ask", "--api-key", "k")
	require.EqualError(t, err, "a query is required")
	assert.Empty(t, rec.configs)
}

func TestAskUnknownProvider(t *testing.T) {
	_, _, err := execute(t, &recorder{}, "", "ask", "--provider", "claude", "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown provider")
}

func TestAskHistoryFromGatewayExport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"messages":[
		{"seq":1,"run_id":"r1","role":"user","text":"first"},
		{"seq":2,"run_id":"r1","role":"assistant","text":"answer one"},
		{"seq":3,"run_id":"r2","role":"user","text":"broken"},
		{"seq":4,"run_id":"r2","role":"assistant","text":"Unknown error","failed":true}
	]}`), 0o644))

	rec := &recorder{}
	_, _, err := execute(t, rec, "", "ask", "--api-key", "k", "--history", path, "next")
	require.NoError(t, err)
	first := rec.convs[0]
	require.Len(t, first, 3)
	assert.Equal(t, "first", first[0].Text)
	assert.Equal(t, "answer one", first[1].Text)
	assert.Equal(t, "next", first[2].Text)
}

func TestAskHistoryTurnList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"role":"user","text":"a"},{"role":"assistant","text":"b"}]`), 0o644))
	turns, err := loadHistory(path)
	require.NoError(t, err)
	assert.Equal(t, []llmclient.Turn{{Role: llmclient.RoleUser, Text: "a"}, {Role: llmclient.RoleAssistant, Text: "b"}}, turns)

	require.NoError(t, os.WriteFile(path, []byte(`[{"role":"system","text":"a"}]`), 0o644))
	_, err = loadHistory(path)
	require.Error(t, err)
}

func TestAskConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quorum.yaml")
	require.NoError(t, os.WriteFile(path, []byte("provider: openrouter\nmodel: openai/gpt-4o-mini\napi_key: or-key\n"), 0o644))

	rec := &recorder{}
	_, _, err := execute(t, rec, "", "--config", path, "ask", "hi")
	require.NoError(t, err)
	require.Len(t, rec.configs, 1)
	assert.Equal(t, llmclient.ProviderOpenRouter, rec.configs[0].Provider)
	assert.Equal(t, "openai/gpt-4o-mini", rec.configs[0].Model)
	assert.Equal(t, "or-key", rec.configs[0].Credential)
}

func TestPromptsCommand(t *testing.T) {
	stdout, _, err := execute(t, &recorder{}, "", "prompts")
	require.NoError(t, err)
	assert.Contains(t, stdout, "strategist:")
	assert.Contains(t, stdout, "synthesizer:")

	path := filepath.Join(t.TempDir(), "prompts.yaml")
	require.NoError(t, os.WriteFile(path, []byte("refiner: Be harsh.\n"), 0o644))
	stdout, _, err = execute(t, &recorder{}, "", "prompts", "--prompts", path)
	require.NoError(t, err)
	assert.Contains(t, stdout, "refiner: Be harsh.")
}
