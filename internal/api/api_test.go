package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/satindergrewal/bgmhub/internal/audio"
	"github.com/satindergrewal/bgmhub/internal/catalog"
	"github.com/satindergrewal/bgmhub/internal/playback"
	"github.com/satindergrewal/bgmhub/internal/reorder"
	"github.com/satindergrewal/bgmhub/internal/store"
	"github.com/satindergrewal/bgmhub/internal/web"
)

type memFetcher map[string][]byte

func (m memFetcher) Fetch(_ context.Context, ref string) ([]byte, error) {
	b, ok := m[ref]
	if !ok {
		return nil, fmt.Errorf("no such resource %s", ref)
	}
	return b, nil
}

func shortClip(_ string, data []byte) (*audio.Buffer, error) {
	if len(data) == 0 {
		return nil, errors.New("empty")
	}
	return audio.NewBuffer(make([]int16, audio.FrameSamples*10)), nil
}

type testServer struct {
	*httptest.Server
	deps Deps
}

func newTestServer(t *testing.T, manifest string) *testServer {
	t.Helper()
	ctx := context.Background()

	var d Deps
	cat, err := catalog.Parse(strings.NewReader(manifest), catalog.DefaultRoot)
	if err != nil {
		d.LoadErr = err
	} else {
		d.Catalog = cat
	}

	kv := store.NewMemoryKV()
	d.Hub = web.NewHub()
	d.Orders = store.NewOrderStore(kv, "")
	d.Selection = store.NewSelection(ctx, kv, "", d.Catalog.Groups())
	d.Engine = playback.NewEngine(playback.Options{
		Fetcher: memFetcher{
			"audio/fx/boom.wav":  []byte("x"),
			"audio/fx/zap.wav":   []byte("x"),
			"audio/fx/bad.wav":   nil,
			"audio/bgm/calm.mp3": []byte("x"),
		},
		Decode: shortClip,
		Pads:   d.Hub,
	})
	d.Reorder = reorder.New(d.Catalog, d.Orders, d.Selection.Active, d.Hub.Render)

	mux := http.NewServeMux()
	Register(mux, d)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, deps: d}
}

func (s *testServer) get(t *testing.T, path string, out any) int {
	t.Helper()
	resp, err := http.Get(s.URL + path)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

func (s *testServer) post(t *testing.T, path string, body any, out any) int {
	t.Helper()
	raw, _ := json.Marshal(body)
	resp, err := http.Post(s.URL+path, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

type orderResp struct {
	Group string         `json:"group"`
	Clips []catalog.Clip `json:"clips"`
}

func names(clips []catalog.Clip) string {
	var out []string
	for _, c := range clips {
		out = append(out, c.Name)
	}
	return strings.Join(out, ",")
}

const fxManifest = "audio/fx/boom.wav\naudio/fx/zap.wav\n"

// --- Catalog and order ---

func TestCatalogAndOrderScenario(t *testing.T) {
	s := newTestServer(t, fxManifest)

	var cat struct {
		Groups []catalog.Group `json:"groups"`
		Active string          `json:"active"`
		Error  string          `json:"error"`
	}
	if code := s.get(t, "/api/catalog", &cat); code != http.StatusOK {
		t.Fatalf("catalog status = %d", code)
	}
	if len(cat.Groups) != 1 || cat.Active != "fx" || cat.Error != "" {
		t.Fatalf("catalog = %+v", cat)
	}

	var order orderResp
	s.get(t, "/api/order?group=fx", &order)
	if names(order.Clips) != "boom,zap" {
		t.Errorf("order = %s, want boom,zap", names(order.Clips))
	}

	var moved struct{ Moved bool }
	s.post(t, "/api/reorder", map[string]string{"src": "audio/fx/zap.wav", "dst": "audio/fx/boom.wav"}, &moved)
	if !moved.Moved {
		t.Fatal("reorder reported no move")
	}
	s.get(t, "/api/order", &order)
	if order.Group != "fx" || names(order.Clips) != "zap,boom" {
		t.Errorf("order after move = %s %s, want fx zap,boom", order.Group, names(order.Clips))
	}
}

func TestOrderUnknownGroup(t *testing.T) {
	s := newTestServer(t, fxManifest)
	if code := s.get(t, "/api/order?group=nope", nil); code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", code)
	}
}

func TestDragGesture(t *testing.T) {
	s := newTestServer(t, fxManifest)
	s.post(t, "/api/drag/start", map[string]string{"id": "audio/fx/zap.wav"}, nil)

	var moved struct{ Moved bool }
	s.post(t, "/api/drag/drop", map[string]string{"id": "audio/fx/boom.wav"}, &moved)
	if !moved.Moved {
		t.Fatal("drop reported no move")
	}
	var order orderResp
	s.get(t, "/api/order", &order)
	if names(order.Clips) != "zap,boom" {
		t.Errorf("order = %s, want zap,boom", names(order.Clips))
	}
}

func TestManifestFailureEmptyState(t *testing.T) {
	s := newTestServer(t, "# nothing here\n")

	var cat struct {
		Groups []catalog.Group `json:"groups"`
		Active string          `json:"active"`
		Error  string          `json:"error"`
	}
	if code := s.get(t, "/api/catalog", &cat); code != http.StatusOK {
		t.Fatalf("status = %d, want 200 with an empty state", code)
	}
	if cat.Groups == nil || len(cat.Groups) != 0 || cat.Active != "" || cat.Error == "" {
		t.Errorf("catalog = %+v, want empty groups and an error message", cat)
	}
	if code := s.post(t, "/api/trigger", map[string]string{"id": "audio/fx/boom.wav"}, nil); code != http.StatusNotFound {
		t.Errorf("trigger status = %d, want 404", code)
	}
	if code := s.post(t, "/api/stop-all", nil, nil); code != http.StatusOK {
		t.Errorf("stop-all status = %d, want 200", code)
	}
}

// --- Groups ---

func TestSwitchGroup(t *testing.T) {
	s := newTestServer(t, fxManifest+"audio/bgm/calm.mp3\n")

	var resp struct {
		Active  string `json:"active"`
		Changed bool   `json:"changed"`
	}
	s.post(t, "/api/group", map[string]string{"id": "fx"}, &resp)
	if resp.Changed {
		t.Error("selecting the active group should be a no-op")
	}
	s.post(t, "/api/group", map[string]string{"id": "bgm"}, &resp)
	if !resp.Changed || resp.Active != "bgm" {
		t.Errorf("resp = %+v, want switched to bgm", resp)
	}
	if code := s.post(t, "/api/group", map[string]string{"id": "nope"}, nil); code != http.StatusNotFound {
		t.Errorf("unknown group status = %d, want 404", code)
	}
}

// --- Playback ---

func TestTriggerAndStop(t *testing.T) {
	s := newTestServer(t, fxManifest)

	if code := s.post(t, "/api/trigger", map[string]string{"id": "audio/fx/boom.wav"}, nil); code != http.StatusOK {
		t.Fatalf("trigger status = %d", code)
	}
	if got := s.deps.Hub.Playing(); len(got) != 1 || got[0] != "audio/fx/boom.wav" {
		t.Errorf("playing = %v, want boom", got)
	}

	var status struct {
		Engine playback.Status `json:"engine"`
	}
	s.get(t, "/api/status", &status)
	if status.Engine.Voices["audio/fx/boom.wav"] != 1 {
		t.Errorf("status voices = %v", status.Engine.Voices)
	}

	s.post(t, "/api/stop", map[string]string{"id": "audio/fx/boom.wav"}, nil)
	if got := s.deps.Hub.Playing(); len(got) != 0 {
		t.Errorf("playing after stop = %v", got)
	}
}

func TestTriggerErrors(t *testing.T) {
	s := newTestServer(t, fxManifest+"audio/fx/bad.wav\n")

	if code := s.post(t, "/api/trigger", map[string]string{"id": "audio/fx/missing.wav"}, nil); code != http.StatusNotFound {
		t.Errorf("unknown clip status = %d, want 404", code)
	}
	if code := s.post(t, "/api/trigger", map[string]string{"id": "audio/fx/bad.wav"}, nil); code != http.StatusUnprocessableEntity {
		t.Errorf("undecodable clip status = %d, want 422", code)
	}
	if code := s.post(t, "/api/trigger", map[string]string{"id": "audio/fx/zap.wav"}, nil); code != http.StatusOK {
		t.Errorf("sibling clip status = %d, want 200", code)
	}
}

func TestStopAllClearsPads(t *testing.T) {
	s := newTestServer(t, fxManifest)
	s.post(t, "/api/trigger", map[string]string{"id": "audio/fx/boom.wav"}, nil)
	s.post(t, "/api/trigger", map[string]string{"id": "audio/fx/zap.wav"}, nil)
	s.post(t, "/api/stop-all", nil, nil)
	if got := s.deps.Hub.Playing(); len(got) != 0 {
		t.Errorf("playing = %v, want none", got)
	}
}

func TestMethodAndBodyChecks(t *testing.T) {
	s := newTestServer(t, fxManifest)

	if code := s.get(t, "/api/trigger", nil); code != http.StatusMethodNotAllowed {
		t.Errorf("GET trigger = %d, want 405", code)
	}
	resp, err := http.Post(s.URL+"/api/trigger", "application/json", strings.NewReader("{"))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad body = %d, want 400", resp.StatusCode)
	}
}
