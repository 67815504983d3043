// Package api exposes the board over JSON HTTP endpoints.
package api

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/satindergrewal/bgmhub/internal/catalog"
	"github.com/satindergrewal/bgmhub/internal/playback"
	"github.com/satindergrewal/bgmhub/internal/reorder"
	"github.com/satindergrewal/bgmhub/internal/store"
	"github.com/satindergrewal/bgmhub/internal/web"
)

// Deps are the components the API drives. Catalog is nil when the manifest
// could not be loaded; LoadErr then explains why.
type Deps struct {
	Catalog   *catalog.Catalog
	LoadErr   error
	Engine    *playback.Engine
	Orders    *store.OrderStore
	Selection *store.Selection
	Reorder   *reorder.Controller
	Hub       *web.Hub
	Preload   bool

	// Listeners reports connected stream listeners by transport, if set.
	Listeners func() map[string]int
}

type idRequest struct {
	ID string `json:"id"`
}

// Register mounts every /api endpoint on mux.
func Register(mux *http.ServeMux, d Deps) {
	// GET /api/catalog: tabs, the active tab and pads already playing.
	handleGet(mux, "/api/catalog", func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"groups":  d.Catalog.Groups(),
			"active":  d.Selection.Active(),
			"playing": d.Hub.Playing(),
		}
		if d.Catalog == nil {
			resp["groups"] = []catalog.Group{}
			resp["error"] = emptyStateMessage(d.LoadErr)
		}
		writeJSON(w, resp)
	})

	// GET /api/order?group=: resolved pad order; defaults to the active group.
	handleGet(mux, "/api/order", func(w http.ResponseWriter, r *http.Request) {
		group := r.URL.Query().Get("group")
		if group == "" {
			group = d.Selection.Active()
		}
		if !d.Catalog.HasGroup(group) {
			http.Error(w, "unknown group", http.StatusNotFound)
			return
		}
		writeJSON(w, map[string]any{
			"group": group,
			"clips": d.Orders.Resolve(r.Context(), group, d.Catalog),
		})
	})

	handlePost(mux, "/api/group", func(w http.ResponseWriter, r *http.Request, req idRequest) {
		changed, err := d.Selection.SetActive(r.Context(), req.ID)
		if errors.Is(err, store.ErrUnknownGroup) {
			http.Error(w, "unknown group", http.StatusNotFound)
			return
		}
		if changed {
			d.Hub.GroupChanged(req.ID)
			if d.Preload {
				go d.Engine.Preload(context.Background(), d.Catalog.Members(req.ID))
			}
		}
		writeJSON(w, map[string]any{"active": d.Selection.Active(), "changed": changed})
	})

	// POST /api/trigger: load on demand, then play. Load failures leave the
	// pad idle and do not affect other clips.
	handlePost(mux, "/api/trigger", func(w http.ResponseWriter, r *http.Request, req idRequest) {
		clip, ok := d.Catalog.Clip(req.ID)
		if !ok {
			http.Error(w, "unknown clip", http.StatusNotFound)
			return
		}
		if err := d.Engine.EnsureLoaded(r.Context(), clip); err != nil {
			if r.Context().Err() != nil {
				return
			}
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		if err := d.Engine.Trigger(r.Context(), clip); err != nil {
			log.Printf("API: trigger %s: %v", clip.ID, err)
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, map[string]any{"ok": true, "id": clip.ID})
	})

	handlePost(mux, "/api/stop", func(w http.ResponseWriter, r *http.Request, req idRequest) {
		clip, ok := d.Catalog.Clip(req.ID)
		if !ok {
			http.Error(w, "unknown clip", http.StatusNotFound)
			return
		}
		d.Engine.Stop(clip)
		writeJSON(w, map[string]any{"ok": true, "id": clip.ID})
	})

	handlePost(mux, "/api/stop-all", func(w http.ResponseWriter, r *http.Request, _ struct{}) {
		d.Engine.StopAll()
		writeJSON(w, map[string]any{"ok": true})
	})

	handlePost(mux, "/api/drag/start", func(w http.ResponseWriter, r *http.Request, req idRequest) {
		d.Reorder.DragStart(req.ID)
		writeJSON(w, map[string]any{"ok": true})
	})

	handlePost(mux, "/api/drag/drop", func(w http.ResponseWriter, r *http.Request, req idRequest) {
		moved := d.Reorder.Drop(r.Context(), req.ID)
		writeJSON(w, map[string]any{"moved": moved})
	})

	handlePost(mux, "/api/reorder", func(w http.ResponseWriter, r *http.Request, req struct {
		Src string `json:"src"`
		Dst string `json:"dst"`
	}) {
		moved := d.Reorder.Move(r.Context(), req.Src, req.Dst)
		writeJSON(w, map[string]any{"moved": moved})
	})

	handleGet(mux, "/api/status", func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"engine":       d.Engine.Status(),
			"active":       d.Selection.Active(),
			"clips":        len(d.Catalog.Clips()),
			"ui_clients":   d.Hub.ClientCount(),
			"manifest_ok":  d.Catalog != nil,
			"playing_pads": d.Hub.Playing(),
		}
		if d.Listeners != nil {
			resp["listeners"] = d.Listeners()
		}
		writeJSON(w, resp)
	})

	mux.Handle("/api/events", d.Hub)
}

func emptyStateMessage(err error) string {
	switch {
	case errors.Is(err, catalog.ErrManifestEmpty):
		return "The manifest lists no playable clips."
	case errors.Is(err, catalog.ErrManifestUnreachable):
		return "The clip manifest could not be loaded."
	case err != nil:
		return err.Error()
	}
	return "No clips found."
}
