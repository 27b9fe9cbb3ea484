package conversation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	llmclient "quorum/internal/llm/client"
)

type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]Session
	messages map[string][]Message
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]Session),
		messages: make(map[string][]Message),
	}
}

func (s *MemoryStore) CreateSession(_ context.Context, sess Session) error {
	id := strings.TrimSpace(sess.ID)
	if id == "" {
		return fmt.Errorf("session id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; ok {
		return fmt.Errorf("session %s already exists", id)
	}
	sess.ID = id
	sess.Settings = sess.Settings.Clone()
	s.sessions[id] = sess
	return nil
}

func (s *MemoryStore) GetSession(_ context.Context, id string) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[strings.TrimSpace(id)]
	if !ok {
		return Session{}, ErrNotFound
	}
	sess.Settings = sess.Settings.Clone()
	return sess, nil
}

func (s *MemoryStore) UpdateSettings(_ context.Context, id string, settings llmclient.Settings) error {
	id = strings.TrimSpace(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return ErrNotFound
	}
	sess.Settings = settings.Clone()
	sess.UpdatedAt = time.Now().UTC()
	s.sessions[id] = sess
	return nil
}

func (s *MemoryStore) Append(_ context.Context, sessionID string, msgs ...Message) error {
	sessionID = strings.TrimSpace(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return ErrNotFound
	}
	existing := s.messages[sessionID]
	next := int64(len(existing))
	now := time.Now().UTC()
	for _, m := range msgs {
		next++
		m.Seq = next
		if m.CreatedAt.IsZero() {
			m.CreatedAt = now
		}
		existing = append(existing, m)
	}
	s.messages[sessionID] = existing
	return nil
}

func (s *MemoryStore) Messages(_ context.Context, sessionID string) ([]Message, error) {
	sessionID = strings.TrimSpace(sessionID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return nil, ErrNotFound
	}
	return cloneMessages(s.messages[sessionID]), nil
}

func (s *MemoryStore) Close() error { return nil }
