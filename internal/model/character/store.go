package character

import (
	"context"
	"sort"
	"sync"

	"github.com/agnivade/levenshtein"
	"github.com/pkg/errors"
)

// ErrNotFound is returned when no character matches a name or query.
var ErrNotFound = errors.New("character not found")

// Store exposes character lookup and edits to handlers and the conversation engine.
type Store interface {
	Get(name string) (Character, bool)
	Put(ctx context.Context, c Character) error
	Remove(ctx context.Context, name string) (bool, error)
	List() []Character
	Resolve(query string) (Character, bool)
}

// Persister writes the whole character table to durable storage. Saves are
// issued one at a time, newest last.
type Persister interface {
	SaveCharacters(ctx context.Context, characters map[string]Character) error
}

// MemoryStore implements Store with an in-memory map. Every mutation is
// followed by a full save through the Persister, if one is set.
type MemoryStore struct {
	mu        sync.RWMutex
	saveMu    sync.Mutex
	items     map[string]Character
	order     []string
	persister Persister
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied characters.
// Loaded entries are ordered by name so fuzzy lookups are deterministic.
func NewMemoryStore(items map[string]Character, persister Persister) *MemoryStore {
	s := &MemoryStore{
		items:     make(map[string]Character, len(items)),
		order:     make([]string, 0, len(items)),
		persister: persister,
	}
	for name, c := range items {
		s.items[name] = c.Clone()
		s.order = append(s.order, name)
	}
	sort.Strings(s.order)
	return s
}

// Get looks up a character by exact name.
func (s *MemoryStore) Get(name string) (Character, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.items[name]
	if !ok {
		return Character{}, false
	}
	return c.Clone(), true
}

// Put inserts or replaces the character keyed by its name.
func (s *MemoryStore) Put(ctx context.Context, c Character) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.Lock()
	if _, exists := s.items[c.Name]; !exists {
		s.order = append(s.order, c.Name)
	}
	s.items[c.Name] = c.Clone()
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	return s.save(ctx, snapshot)
}

// Remove deletes the named character. Sessions holding a copy are unaffected.
func (s *MemoryStore) Remove(ctx context.Context, name string) (bool, error) {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.Lock()
	if _, exists := s.items[name]; !exists {
		s.mu.Unlock()
		return false, nil
	}
	delete(s.items, name)
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	return true, s.save(ctx, snapshot)
}

// List returns every character in first-seen order.
func (s *MemoryStore) List() []Character {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Character, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.items[name].Clone())
	}
	return out
}

// Resolve returns the character whose name has the smallest edit distance to
// query. Ties go to the earliest inserted name.
func (s *MemoryStore) Resolve(query string) (Character, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	best := ""
	bestDistance := -1
	for _, name := range s.order {
		d := levenshtein.ComputeDistance(query, name)
		if bestDistance < 0 || d < bestDistance {
			best = name
			bestDistance = d
		}
	}
	if bestDistance < 0 {
		return Character{}, false
	}
	return s.items[best].Clone(), true
}

func (s *MemoryStore) snapshotLocked() map[string]Character {
	out := make(map[string]Character, len(s.items))
	for name, c := range s.items {
		out[name] = c.Clone()
	}
	return out
}

func (s *MemoryStore) save(ctx context.Context, snapshot map[string]Character) error {
	if s.persister == nil {
		return nil
	}
	return s.persister.SaveCharacters(ctx, snapshot)
}
