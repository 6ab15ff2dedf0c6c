package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/hupe1980/toolmesh/core"
)

// ErrNotFound is returned when no conversation is stored under an id.
var ErrNotFound = errors.New("session not found")

// Store persists conversations by session id.
type Store interface {
	Load(ctx context.Context, id string) (*core.Conversation, error)
	Save(ctx context.Context, id string, conv *core.Conversation) error
	Delete(ctx context.Context, id string) error
}

var _ Store = (*InMemoryStore)(nil)

// InMemoryStore is a volatile Store keeping each conversation as its JSON
// encoding in a process local map. It is safe for concurrent access and best
// suited for tests or ephemeral demo servers. Every Load decodes a fresh
// copy, so callers never share state with the store.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string][]byte
}

// NewInMemoryStore constructs an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[string][]byte)}
}

// Load returns the conversation stored under id.
func (s *InMemoryStore) Load(ctx context.Context, id string) (*core.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	data, ok := s.sessions[id]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	conv := core.NewConversation()
	if err := json.Unmarshal(data, conv); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return conv, nil
}

// Save stores a snapshot of conv under id, replacing any previous one.
func (s *InMemoryStore) Save(ctx context.Context, id string, conv *core.Conversation) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", id, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[id] = data
	return nil
}

// Delete removes the conversation stored under id.
func (s *InMemoryStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(s.sessions, id)
	return nil
}

// IDs returns the stored session ids in sorted order.
func (s *InMemoryStore) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
