package conversation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	llmclient "quorum/internal/llm/client"
)

type dialect int

const (
	dialectPostgres dialect = iota
	dialectSQLite
)

// SQLStore keeps sessions and messages in Postgres (pgx) or SQLite
// (modernc). Queries are written with '?' placeholders and rebound for
// Postgres.
type SQLStore struct {
	db      *sql.DB
	dialect dialect

	schemaOnce sync.Once
	schemaErr  error
}

func NewPostgres(dsn string) (*SQLStore, error) {
	db, err := sql.Open("pgx", strings.TrimSpace(dsn))
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return newSQLStore(db, dialectPostgres)
}

// NewSQLite opens (or creates) a database file. ":memory:" gives a private
// in-memory database, which needs a single connection to stay consistent.
func NewSQLite(path string) (*SQLStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite %q: %w", path, err)
	}
	return newSQLStore(db, dialectSQLite)
}

func newSQLStore(db *sql.DB, d dialect) (*SQLStore, error) {
	s := &SQLStore{db: db, dialect: d}
	if err := s.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS chat_sessions (
  session_id TEXT PRIMARY KEY,
  settings TEXT NOT NULL DEFAULT '{}',
  created_at BIGINT NOT NULL,
  updated_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS chat_messages (
  session_id TEXT NOT NULL REFERENCES chat_sessions (session_id),
  seq BIGINT NOT NULL,
  run_id TEXT NOT NULL DEFAULT '',
  role TEXT NOT NULL,
  body TEXT NOT NULL,
  failed BOOLEAN NOT NULL DEFAULT FALSE,
  created_at BIGINT NOT NULL,
  PRIMARY KEY (session_id, seq)
);
`

func (s *SQLStore) ensureSchema(ctx context.Context) error {
	s.schemaOnce.Do(func() {
		for _, stmt := range strings.Split(schemaSQL, ";") {
			if strings.TrimSpace(stmt) == "" {
				continue
			}
			if _, err := s.db.ExecContext(ctx, stmt); err != nil {
				s.schemaErr = fmt.Errorf("ensure conversation schema: %w", err)
				return
			}
		}
	})
	return s.schemaErr
}

// rebind rewrites '?' placeholders to $1..$n for Postgres.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func (s *SQLStore) CreateSession(ctx context.Context, sess Session) error {
	id := strings.TrimSpace(sess.ID)
	if id == "" {
		return fmt.Errorf("session id is required")
	}
	raw, err := json.Marshal(sess.Settings)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	created := sess.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	updated := sess.UpdatedAt
	if updated.IsZero() {
		updated = created
	}
	_, err = s.db.ExecContext(ctx, s.rebind(`
INSERT INTO chat_sessions (session_id, settings, created_at, updated_at)
VALUES (?, ?, ?, ?)`), id, string(raw), created.UnixMilli(), updated.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *SQLStore) GetSession(ctx context.Context, id string) (Session, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
SELECT session_id, settings, created_at, updated_at
FROM chat_sessions WHERE session_id = ?`), strings.TrimSpace(id))

	var (
		sess             Session
		raw              string
		created, updated int64
	)
	if err := row.Scan(&sess.ID, &raw, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, ErrNotFound
		}
		return Session{}, fmt.Errorf("select session: %w", err)
	}
	if err := json.Unmarshal([]byte(raw), &sess.Settings); err != nil {
		return Session{}, fmt.Errorf("decode settings: %w", err)
	}
	sess.CreatedAt = time.UnixMilli(created).UTC()
	sess.UpdatedAt = time.UnixMilli(updated).UTC()
	return sess, nil
}

func (s *SQLStore) UpdateSettings(ctx context.Context, id string, settings llmclient.Settings) error {
	raw, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	res, err := s.db.ExecContext(ctx, s.rebind(`
UPDATE chat_sessions SET settings = ?, updated_at = ? WHERE session_id = ?`),
		string(raw), time.Now().UTC().UnixMilli(), strings.TrimSpace(id))
	if err != nil {
		return fmt.Errorf("update settings: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update settings: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) Append(ctx context.Context, sessionID string, msgs ...Message) error {
	sessionID = strings.TrimSpace(sessionID)
	if len(msgs) == 0 {
		_, err := s.GetSession(ctx, sessionID)
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	err = tx.QueryRowContext(ctx, s.rebind(`SELECT 1 FROM chat_sessions WHERE session_id = ?`), sessionID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("check session: %w", err)
	}

	var last int64
	if err := tx.QueryRowContext(ctx, s.rebind(`
SELECT COALESCE(MAX(seq), 0) FROM chat_messages WHERE session_id = ?`), sessionID).Scan(&last); err != nil {
		return fmt.Errorf("next seq: %w", err)
	}

	insert := s.rebind(`
INSERT INTO chat_messages (session_id, seq, run_id, role, body, failed, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`)
	now := time.Now().UTC()
	for _, m := range msgs {
		last++
		created := m.CreatedAt
		if created.IsZero() {
			created = now
		}
		if _, err := tx.ExecContext(ctx, insert, sessionID, last, m.RunID, string(m.Role), m.Text, m.Failed, created.UnixMilli()); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append: %w", err)
	}
	return nil
}

func (s *SQLStore) Messages(ctx context.Context, sessionID string) ([]Message, error) {
	sessionID = strings.TrimSpace(sessionID)
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`
SELECT seq, run_id, role, body, failed, created_at
FROM chat_messages WHERE session_id = ? ORDER BY seq`), sessionID)
	if err != nil {
		return nil, fmt.Errorf("select messages: %w", err)
	}
	defer rows.Close()

	out := make([]Message, 0, 16)
	for rows.Next() {
		var (
			m       Message
			role    string
			created int64
		)
		if err := rows.Scan(&m.Seq, &m.RunID, &role, &m.Text, &m.Failed, &created); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Role = llmclient.Role(role)
		m.CreatedAt = time.UnixMilli(created).UTC()
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return out, nil
}

// DB exposes the connection pool so other tables can share the database.
func (s *SQLStore) DB() *sql.DB { return s.db }

// Postgres reports whether the store talks to Postgres.
func (s *SQLStore) Postgres() bool { return s.dialect == dialectPostgres }

func (s *SQLStore) Close() error { return s.db.Close() }
