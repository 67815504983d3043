// Package reorder applies drag-and-drop moves to the active group's pad order.
package reorder

import (
	"context"
	"log"
	"sync"

	"github.com/satindergrewal/bgmhub/internal/catalog"
	"github.com/satindergrewal/bgmhub/internal/store"
)

// RenderFunc receives the group's newly resolved order after a move.
type RenderFunc func(group string, clips []catalog.Clip)

// Controller tracks one drag gesture at a time for the active group.
type Controller struct {
	cat    *catalog.Catalog
	orders *store.OrderStore
	active func() string
	render RenderFunc

	mu       sync.Mutex
	dragging string

	moveMu sync.Mutex // serializes resolve, save and render
}

// New creates a controller. active returns the current group id.
func New(cat *catalog.Catalog, orders *store.OrderStore, active func() string, render RenderFunc) *Controller {
	if render == nil {
		render = func(string, []catalog.Clip) {}
	}
	return &Controller{cat: cat, orders: orders, active: active, render: render}
}

// DragStart remembers the pad being dragged.
func (c *Controller) DragStart(id string) {
	c.mu.Lock()
	c.dragging = id
	c.mu.Unlock()
}

// Dragging returns the pad currently being dragged, if any.
func (c *Controller) Dragging() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dragging
}

// Drop finishes the gesture on target. It reports whether the order changed.
func (c *Controller) Drop(ctx context.Context, target string) bool {
	c.mu.Lock()
	src := c.dragging
	c.dragging = ""
	c.mu.Unlock()
	if src == "" {
		return false
	}
	return c.Move(ctx, src, target)
}

// Move places src at target's position within the active group. Moves onto
// itself, unknown ids and ids from other groups are ignored.
func (c *Controller) Move(ctx context.Context, src, dst string) bool {
	if src == dst {
		return false
	}
	c.moveMu.Lock()
	defer c.moveMu.Unlock()

	group := c.active()
	if group == "" {
		return false
	}

	current := store.IDs(c.orders.Resolve(ctx, group, c.cat))
	next, ok := Splice(current, src, dst)
	if !ok {
		return false
	}

	if err := c.orders.Save(ctx, group, next); err != nil {
		log.Printf("REORDER: order for %s not persisted", group)
	}

	resolved := make([]catalog.Clip, 0, len(next))
	for _, id := range next {
		if clip, ok := c.cat.Clip(id); ok {
			resolved = append(resolved, clip)
		}
	}
	c.render(group, resolved)
	return true
}

// Splice removes src from ids and inserts it at dst's original index.
// ok is false when either id is missing or they are equal.
func Splice(ids []string, src, dst string) ([]string, bool) {
	from, to := -1, -1
	for i, id := range ids {
		switch id {
		case src:
			from = i
		case dst:
			to = i
		}
	}
	if from < 0 || to < 0 || from == to {
		return nil, false
	}

	out := make([]string, 0, len(ids))
	out = append(out, ids[:from]...)
	out = append(out, ids[from+1:]...)
	out = append(out[:to], append([]string{src}, out[to:]...)...)
	return out, true
}
