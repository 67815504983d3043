// Package catalog discovers audio clips from a manifest and groups them into tabs.
package catalog

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"path"
	"strings"
)

// DefaultRoot is the path prefix every manifest entry lives under.
const DefaultRoot = "audio/"

var (
	ErrManifestUnreachable = errors.New("manifest unreachable")
	ErrManifestEmpty       = errors.New("manifest has no valid entries")
)

// Clip is one audio resource in the catalog.
type Clip struct {
	ID    string `json:"id"`    // normalized full path, unique across groups
	Group string `json:"group"` // first path segment under the root
	Name  string `json:"name"`  // filename without extension
	Ref   string `json:"ref"`   // resource locator passed to the fetcher
}

// Group is a tab: one per distinct Clip.Group, in discovery order.
type Group struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Catalog is the immutable result of loading a manifest.
type Catalog struct {
	clips   []Clip
	groups  []Group
	byID    map[string]int
	byGroup map[string][]int
}

// Load reads the manifest from src and parses it. Failures are terminal for
// the session; callers render an empty state instead of retrying.
func Load(ctx context.Context, src Source, root string) (*Catalog, error) {
	rc, err := src.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrManifestUnreachable, err)
	}
	defer rc.Close()

	cat, err := Parse(rc, root)
	if err != nil {
		return nil, err
	}
	log.Printf("CATALOG: loaded %d clips in %d groups from %s", len(cat.clips), len(cat.groups), src)
	return cat, nil
}

// Parse builds a catalog from newline-delimited resource paths.
func Parse(r io.Reader, root string) (*Catalog, error) {
	root = normalizeRoot(root)
	cat := &Catalog{
		byID:    make(map[string]int),
		byGroup: make(map[string][]int),
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		clip, ok := parseLine(sc.Text(), root)
		if !ok {
			continue
		}
		if _, dup := cat.byID[clip.ID]; dup {
			continue
		}
		if _, seen := cat.byGroup[clip.Group]; !seen {
			cat.groups = append(cat.groups, Group{ID: clip.Group, Label: clip.Group})
		}
		idx := len(cat.clips)
		cat.clips = append(cat.clips, clip)
		cat.byID[clip.ID] = idx
		cat.byGroup[clip.Group] = append(cat.byGroup[clip.Group], idx)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: read: %v", ErrManifestUnreachable, err)
	}
	if len(cat.clips) == 0 {
		return nil, ErrManifestEmpty
	}
	return cat, nil
}

func normalizeRoot(root string) string {
	root = strings.ReplaceAll(strings.TrimSpace(root), `\`, "/")
	root = strings.TrimPrefix(strings.TrimPrefix(root, "./"), "/")
	if root != "" && !strings.HasSuffix(root, "/") {
		root += "/"
	}
	return root
}

// parseLine accepts "<root><group>/.../<file>.<ext>" and skips anything else.
func parseLine(line, root string) (Clip, bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return Clip{}, false
	}
	id := strings.ReplaceAll(line, `\`, "/")
	id = strings.TrimPrefix(strings.TrimPrefix(id, "./"), "/")
	if !strings.HasPrefix(id, root) {
		return Clip{}, false
	}

	segs := strings.Split(strings.TrimPrefix(id, root), "/")
	if len(segs) < 2 {
		return Clip{}, false
	}
	for _, s := range segs {
		if s == "" || s == "." || s == ".." {
			return Clip{}, false
		}
	}

	file := segs[len(segs)-1]
	name := strings.TrimSuffix(file, path.Ext(file))
	if name == "" {
		return Clip{}, false
	}
	return Clip{ID: id, Group: segs[0], Name: name, Ref: id}, true
}

// Clips returns all clips in manifest order.
func (c *Catalog) Clips() []Clip {
	if c == nil {
		return nil
	}
	return append([]Clip(nil), c.clips...)
}

// Groups returns the groups in discovery order.
func (c *Catalog) Groups() []Group {
	if c == nil {
		return nil
	}
	return append([]Group(nil), c.groups...)
}

// Clip looks up a clip by id.
func (c *Catalog) Clip(id string) (Clip, bool) {
	if c == nil {
		return Clip{}, false
	}
	idx, ok := c.byID[id]
	if !ok {
		return Clip{}, false
	}
	return c.clips[idx], true
}

// Members returns the clips of a group in catalog order.
func (c *Catalog) Members(group string) []Clip {
	if c == nil {
		return nil
	}
	idxs := c.byGroup[group]
	out := make([]Clip, 0, len(idxs))
	for _, i := range idxs {
		out = append(out, c.clips[i])
	}
	return out
}

// HasGroup reports whether the group exists.
func (c *Catalog) HasGroup(group string) bool {
	if c == nil {
		return false
	}
	_, ok := c.byGroup[group]
	return ok
}
