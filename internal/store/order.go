// Package store persists per-group pad order and the active group pointer.
package store

import (
	"context"
	"encoding/json"
	"log"

	"github.com/satindergrewal/bgmhub/internal/catalog"
)

// DefaultPrefix namespaces every key this package writes.
const DefaultPrefix = "bgmhub"

// OrderStore keeps a user-defined clip order per group.
type OrderStore struct {
	kv     KV
	prefix string
}

func NewOrderStore(kv KV, prefix string) *OrderStore {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &OrderStore{kv: kv, prefix: prefix}
}

func (s *OrderStore) key(group string) string {
	return s.prefix + ".order." + group
}

// Load returns the stored order for group. Missing keys, read failures and
// values that are not a JSON array of strings all count as absent.
func (s *OrderStore) Load(ctx context.Context, group string) ([]string, bool) {
	raw, ok, err := s.kv.Get(ctx, s.key(group))
	if err != nil {
		log.Printf("STORE: load order %s: %v", group, err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil || ids == nil {
		log.Printf("STORE: ignoring corrupt order for %s", group)
		return nil, false
	}
	return ids, true
}

// Save overwrites the stored order for group. Failures are logged and returned.
func (s *OrderStore) Save(ctx context.Context, group string, ids []string) error {
	if ids == nil {
		ids = []string{}
	}
	raw, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	if err := s.kv.Set(ctx, s.key(group), string(raw)); err != nil {
		log.Printf("STORE: save order %s: %v", group, err)
		return err
	}
	return nil
}

// Reset deletes the stored order so the group falls back to catalog order.
func (s *OrderStore) Reset(ctx context.Context, group string) error {
	if err := s.kv.Delete(ctx, s.key(group)); err != nil {
		log.Printf("STORE: reset order %s: %v", group, err)
		return err
	}
	return nil
}

// Resolve merges the stored order with the group's current members: stored ids
// that still exist come first, then the rest in catalog order. The result is a
// permutation of cat.Members(group).
func (s *OrderStore) Resolve(ctx context.Context, group string, cat *catalog.Catalog) []catalog.Clip {
	members := cat.Members(group)
	stored, _ := s.Load(ctx, group)
	return merge(stored, members)
}

func merge(stored []string, members []catalog.Clip) []catalog.Clip {
	byID := make(map[string]catalog.Clip, len(members))
	for _, c := range members {
		byID[c.ID] = c
	}

	out := make([]catalog.Clip, 0, len(members))
	used := make(map[string]bool, len(members))
	for _, id := range stored {
		c, ok := byID[id]
		if !ok || used[id] {
			continue
		}
		used[id] = true
		out = append(out, c)
	}
	for _, c := range members {
		if !used[c.ID] {
			out = append(out, c)
		}
	}
	return out
}

// IDs extracts clip ids in order.
func IDs(clips []catalog.Clip) []string {
	ids := make([]string, len(clips))
	for i, c := range clips {
		ids[i] = c.ID
	}
	return ids
}
