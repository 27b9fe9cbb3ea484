package artifact

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (s *MemoryStore) Put(_ context.Context, sessionID, name string, content []byte, _ string) error {
	sessionID, name, err := normalizeKey(sessionID, name)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[sessionID+"/"+name] = append([]byte(nil), content...)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, sessionID, name string) ([]byte, error) {
	sessionID, name, err := normalizeKey(sessionID, name)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	raw, ok := s.data[sessionID+"/"+name]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), raw...), nil
}

func (s *MemoryStore) List(_ context.Context, sessionID string) ([]string, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, fmt.Errorf("session_id is required")
	}
	prefix := sessionID + "/"
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, 4)
	for key := range s.data {
		if strings.HasPrefix(key, prefix) {
			out = append(out, strings.TrimPrefix(key, prefix))
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) URL(context.Context, string, string, time.Duration) (string, error) {
	return "", nil
}
