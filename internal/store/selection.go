package store

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/satindergrewal/bgmhub/internal/catalog"
)

var ErrUnknownGroup = errors.New("unknown group")

// Selection tracks which group tab is active.
type Selection struct {
	mu     sync.RWMutex
	kv     KV
	key    string
	known  map[string]bool
	active string
}

// NewSelection restores the persisted active group if it still exists,
// otherwise falls back to the first group. With no groups, Active is "".
func NewSelection(ctx context.Context, kv KV, prefix string, groups []catalog.Group) *Selection {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	s := &Selection{
		kv:    kv,
		key:   prefix + ".activeGroup",
		known: make(map[string]bool, len(groups)),
	}
	for _, g := range groups {
		s.known[g.ID] = true
	}

	stored, ok, err := kv.Get(ctx, s.key)
	if err != nil {
		log.Printf("STORE: load active group: %v", err)
	}
	switch {
	case ok && s.known[stored]:
		s.active = stored
	case len(groups) > 0:
		s.active = groups[0].ID
	}
	return s
}

func (s *Selection) Active() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// SetActive switches the active group and persists it. Selecting the current
// group is a no-op. A failed write is logged; the switch still takes effect.
func (s *Selection) SetActive(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	if !s.known[id] {
		s.mu.Unlock()
		return false, ErrUnknownGroup
	}
	if id == s.active {
		s.mu.Unlock()
		return false, nil
	}
	s.active = id
	s.mu.Unlock()

	if err := s.kv.Set(ctx, s.key, id); err != nil {
		log.Printf("STORE: save active group %s: %v", id, err)
	}
	return true, nil
}
