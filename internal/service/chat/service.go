package chat

import (
	"context"
	"errors"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/zhouzirui/z-tavern/roleplay/internal/model/session"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionID       = errors.New("session has no rendered message id")
)

const shardCount = 32

// Persister writes a full snapshot of every session.
type Persister interface {
	SaveSessions(ctx context.Context, sessions map[string]*session.History) error
}

type shard struct {
	mu       sync.RWMutex
	sessions map[string]*session.History
}

// Service is the session store: rendered message id -> conversation. Reads and
// writes for unrelated conversations land on different shards; only the
// durable snapshot is serialised.
type Service struct {
	shards    [shardCount]*shard
	saveMu    sync.Mutex
	persister Persister
}

// NewService bootstraps the store with previously loaded sessions.
func NewService(loaded map[string]*session.History, persister Persister) *Service {
	s := &Service{persister: persister}
	for i := range s.shards {
		s.shards[i] = &shard{sessions: make(map[string]*session.History)}
	}
	s.Load(loaded)
	return s
}

// Load replaces the in-memory contents with loaded. Keys win over the id
// recorded inside each session.
func (s *Service) Load(loaded map[string]*session.History) {
	fresh := make([]map[string]*session.History, shardCount)
	for i := range fresh {
		fresh[i] = make(map[string]*session.History)
	}
	for id, h := range loaded {
		if h == nil {
			continue
		}
		copied := h.Clone()
		copied.ID = id
		fresh[xxhash.Sum64String(id)%shardCount][id] = copied
	}
	for i, sh := range s.shards {
		sh.mu.Lock()
		sh.sessions = fresh[i]
		sh.mu.Unlock()
	}
}

func (s *Service) shardFor(id string) *shard {
	return s.shards[xxhash.Sum64String(id)%shardCount]
}

// Get returns a private copy of the session rendered by messageID.
func (s *Service) Get(_ context.Context, messageID string) (*session.History, error) {
	sh := s.shardFor(messageID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	h, ok := sh.sessions[messageID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return h.Clone(), nil
}

// Put inserts or replaces the session under its current message id and then
// persists the whole store. A failed save leaves the in-memory copy in place.
// The snapshot is taken under saveMu, so a later save always carries every
// write that an earlier one did.
func (s *Service) Put(ctx context.Context, h *session.History) error {
	if h.ID == "" {
		return ErrSessionID
	}

	sh := s.shardFor(h.ID)
	sh.mu.Lock()
	sh.sessions[h.ID] = h.Clone()
	sh.mu.Unlock()

	if s.persister == nil {
		return nil
	}

	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	return s.persister.SaveSessions(ctx, s.snapshot())
}

// Len returns the number of stored sessions.
func (s *Service) Len() int {
	total := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		total += len(sh.sessions)
		sh.mu.RUnlock()
	}
	return total
}

// Snapshot returns a deep copy of every stored session.
func (s *Service) Snapshot() map[string]*session.History {
	return s.snapshot()
}

func (s *Service) snapshot() map[string]*session.History {
	out := make(map[string]*session.History)
	for _, sh := range s.shards {
		sh.mu.RLock()
		for id, h := range sh.sessions {
			out[id] = h.Clone()
		}
		sh.mu.RUnlock()
	}
	return out
}
