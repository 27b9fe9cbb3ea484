package run

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	llmclient "quorum/internal/llm/client"
	llm "quorum/internal/llm/middleware"
)

var runIDSanitizer = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// TraceEvent is one line of a run's JSONL trace.
type TraceEvent struct {
	Timestamp string         `json:"timestamp"`
	RunID     string         `json:"run_id"`
	Source    string         `json:"source"`
	Stage     string         `json:"stage"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// TraceLogger appends run-scoped events to <dir>/<run_id>.jsonl.
type TraceLogger struct {
	dir string
	mu  sync.Mutex
	now func() time.Time
}

func NewTraceLogger(dir string) *TraceLogger {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		dir = filepath.Join("tmp", "run-logs")
	}
	return &TraceLogger{dir: dir, now: time.Now}
}

func sanitizeRunID(runID string) string {
	id := runIDSanitizer.ReplaceAllString(strings.TrimSpace(runID), "_")
	if id == "" {
		return "unknown"
	}
	return id
}

func (l *TraceLogger) path(runID string) string {
	return filepath.Join(l.dir, sanitizeRunID(runID)+".jsonl")
}

// Append writes one trace line. Failures are swallowed; tracing never
// affects a run.
func (l *TraceLogger) Append(runID, source, stage string, fields map[string]any) {
	if l == nil || strings.TrimSpace(runID) == "" {
		return
	}
	ev := TraceEvent{
		Timestamp: l.now().UTC().Format(time.RFC3339Nano),
		RunID:     strings.TrimSpace(runID),
		Source:    source,
		Stage:     stage,
		Fields:    fields,
	}
	line, err := json.Marshal(ev)
	if err != nil {
		return
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return
	}
	f, err := os.OpenFile(l.path(runID), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = f.Write(line)
}

// Read returns every event recorded for runID; an unknown run yields an
// empty slice. Malformed lines are skipped.
func (l *TraceLogger) Read(runID string) ([]TraceEvent, error) {
	if l == nil {
		return nil, nil
	}
	f, err := os.Open(l.path(runID))
	if errors.Is(err, fs.ErrNotExist) {
		return []TraceEvent{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	defer f.Close()

	out := make([]TraceEvent, 0, 32)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var ev TraceEvent
		if json.Unmarshal([]byte(line), &ev) == nil {
			out = append(out, ev)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan trace file: %w", err)
	}
	return out, nil
}

// Hook returns a prompt hook that records every model call of runID.
func (l *TraceLogger) Hook(runID string) llm.PromptHook {
	return &traceHook{log: l, runID: runID}
}

type traceHook struct {
	log   *TraceLogger
	runID string

	mu      sync.Mutex
	started map[string]time.Time
}

func (h *traceHook) Before(_ context.Context, stage string, conversation []llmclient.Turn, systemInstruction string) {
	h.mu.Lock()
	if h.started == nil {
		h.started = make(map[string]time.Time)
	}
	h.started[stage] = time.Now()
	h.mu.Unlock()

	h.log.Append(h.runID, "llm", stage+".request", map[string]any{
		"turns":          len(conversation),
		"approx_tokens":  llmclient.CountConversationTokens(conversation, systemInstruction),
		"system_chars":   len(systemInstruction),
		"last_turn_size": lastTurnSize(conversation),
	})
}

func (h *traceHook) After(_ context.Context, stage string, text string, err error) {
	h.mu.Lock()
	start, ok := h.started[stage]
	delete(h.started, stage)
	h.mu.Unlock()

	fields := map[string]any{"response_chars": len(text)}
	if ok {
		fields["duration_ms"] = time.Since(start).Milliseconds()
	}
	if err != nil {
		fields["error"] = llmclient.ErrorMessage(err)
		h.log.Append(h.runID, "llm", stage+".error", fields)
		return
	}
	h.log.Append(h.runID, "llm", stage+".response", fields)
}

func lastTurnSize(conversation []llmclient.Turn) int {
	if len(conversation) == 0 {
		return 0
	}
	return len(conversation[len(conversation)-1].Text)
}
