package artifact

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// SQLStore keeps artifacts as blobs next to the conversation tables. It is
// used when a database is configured but no object storage is.
type SQLStore struct {
	db       *sql.DB
	postgres bool

	schemaOnce sync.Once
	schemaErr  error
}

// NewSQLStore uses db, which must be a pgx (postgres=true) or modernc sqlite
// handle.
func NewSQLStore(db *sql.DB, postgres bool) *SQLStore {
	return &SQLStore{db: db, postgres: postgres}
}

func (s *SQLStore) ensureSchema(ctx context.Context) error {
	s.schemaOnce.Do(func() {
		blob := "BLOB"
		if s.postgres {
			blob = "BYTEA"
		}
		_, s.schemaErr = s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS session_artifacts (
  session_id TEXT NOT NULL,
  name TEXT NOT NULL,
  content_type TEXT NOT NULL DEFAULT '',
  content `+blob+` NOT NULL,
  updated_at BIGINT NOT NULL,
  PRIMARY KEY (session_id, name)
)`)
	})
	return s.schemaErr
}

func (s *SQLStore) q(query string) string {
	if !s.postgres {
		return query
	}
	n := 0
	var sb strings.Builder
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&sb, "$%d", n)
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func (s *SQLStore) Put(ctx context.Context, sessionID, name string, content []byte, contentType string) error {
	sessionID, name, err := normalizeKey(sessionID, name)
	if err != nil {
		return err
	}
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}
	if content == nil {
		content = []byte{}
	}
	_, err = s.db.ExecContext(ctx, s.q(`
INSERT INTO session_artifacts (session_id, name, content_type, content, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (session_id, name)
DO UPDATE SET content_type = EXCLUDED.content_type, content = EXCLUDED.content, updated_at = EXCLUDED.updated_at`),
		sessionID, name, contentType, content, time.Now().UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("put artifact: %w", err)
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, sessionID, name string) ([]byte, error) {
	sessionID, name, err := normalizeKey(sessionID, name)
	if err != nil {
		return nil, err
	}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	var content []byte
	err = s.db.QueryRowContext(ctx, s.q(`SELECT content FROM session_artifacts WHERE session_id = ? AND name = ?`), sessionID, name).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get artifact: %w", err)
	}
	return content, nil
}

func (s *SQLStore) List(ctx context.Context, sessionID string) ([]string, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, fmt.Errorf("session_id is required")
	}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT name FROM session_artifacts WHERE session_id = ? ORDER BY name`), sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	names := make([]string, 0, 4)
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

func (s *SQLStore) URL(context.Context, string, string, time.Duration) (string, error) {
	return "", nil
}
