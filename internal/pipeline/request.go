package pipeline

import (
	"strings"

	llmclient "quorum/internal/llm/client"
)

// Request is one submission: the session history before the new query, the
// query itself and the provider configuration captured at submit time.
type Request struct {
	History []llmclient.Turn
	Query   string
	Config  llmclient.ProviderConfig
}

// Blank reports whether the query is empty or whitespace only.
func (r Request) Blank() bool { return strings.TrimSpace(r.Query) == "" }

// RequestContext is the per-request working set. It is created when a run
// starts and dropped once the terminal event has been emitted.
type RequestContext struct {
	History []llmclient.Turn
	Query   string
	Config  llmclient.ProviderConfig

	Plan    string
	Initial []string
	Refined []string
}

func newRequestContext(req Request) *RequestContext {
	return &RequestContext{
		History: llmclient.CloneTurns(req.History),
		Query:   req.Query,
		Config:  req.Config,
		Initial: make([]string, 0, Agents),
		Refined: make([]string, 0, Agents),
	}
}

// PlannedTurn is the query with the execution plan inlined, sent as one user
// turn to every call after strategize.
func (rc *RequestContext) PlannedTurn() string {
	return plannedTurnText(rc.Query, rc.Plan)
}

// conversation returns History followed by a single user turn.
func (rc *RequestContext) conversation(text string) []llmclient.Turn {
	return append(llmclient.CloneTurns(rc.History), llmclient.UserTurn(text))
}
