// Package artifact stores downloadable files produced for a chat session,
// such as the markdown transcript.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Store defines operations for persisting session artifacts.
type Store interface {
	Put(ctx context.Context, sessionID, name string, content []byte, contentType string) error
	Get(ctx context.Context, sessionID, name string) ([]byte, error)
	// URL returns a time-limited download link, or "" when the backend
	// cannot serve files directly.
	URL(ctx context.Context, sessionID, name string, expiry time.Duration) (string, error)
	List(ctx context.Context, sessionID string) ([]string, error)
}

var ErrNotFound = errors.New("artifact not found")

func normalizeKey(sessionID, name string) (string, string, error) {
	sessionID = strings.TrimSpace(sessionID)
	name = strings.TrimLeft(strings.TrimSpace(name), "/")
	if sessionID == "" {
		return "", "", fmt.Errorf("session_id is required")
	}
	if name == "" {
		return "", "", fmt.Errorf("name is required")
	}
	return sessionID, name, nil
}
