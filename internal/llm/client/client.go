package llmclient

import "context"

// Role identifies who authored a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message of a chat conversation.
type Turn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// UserTurn is a shorthand for a user-authored turn.
func UserTurn(text string) Turn { return Turn{Role: RoleUser, Text: text} }

// Generator is the single call shape every provider family is normalized to.
// Implementations issue exactly one outbound request per Generate call.
type Generator interface {
	Name() string
	Close() error
	Generate(ctx context.Context, conversation []Turn, systemInstruction string) (string, error)
}

// CloneTurns returns a copy of turns so callers can append without aliasing.
func CloneTurns(turns []Turn) []Turn {
	out := make([]Turn, len(turns), len(turns)+1)
	copy(out, turns)
	return out
}
