package pipeline

import (
	"errors"

	llmclient "quorum/internal/llm/client"
)

var (
	// ErrEmptyQuery is returned for an empty or whitespace-only query. No
	// call is made and no sink event is emitted.
	ErrEmptyQuery = errors.New("query is empty")
	// ErrBusy is returned by Runner when a pipeline is already in flight.
	ErrBusy = errors.New("a request is already running")
)

// StageError records where a request failed. Its message is the underlying
// error's message unchanged, so it can be shown to the user as-is.
type StageError struct {
	State State
	Slot  int
	Err   error
}

func (e *StageError) Error() string { return llmclient.ErrorMessage(e.Err) }
func (e *StageError) Unwrap() error { return e.Err }
