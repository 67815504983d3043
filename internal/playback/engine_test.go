package playback

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/satindergrewal/bgmhub/internal/audio"
	"github.com/satindergrewal/bgmhub/internal/catalog"
)

type padLog struct {
	mu      sync.Mutex
	playing map[string]bool
	events  []string
}

func newPadLog() *padLog { return &padLog{playing: make(map[string]bool)} }

func (p *padLog) MarkPlaying(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.playing[id] = true
	p.events = append(p.events, "play:"+id)
}

func (p *padLog) MarkIdle(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.playing[id] = false
	p.events = append(p.events, "idle:"+id)
}

func (p *padLog) MarkAllIdle() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id := range p.playing {
		p.playing[id] = false
	}
	p.events = append(p.events, "idle_all")
}

func (p *padLog) isPlaying(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing[id]
}

func (p *padLog) count(ev string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e == ev {
			n++
		}
	}
	return n
}

// mapFetcher serves fixed bytes per ref and counts calls.
type mapFetcher struct {
	data  map[string][]byte
	calls atomic.Int32
}

func (f *mapFetcher) Fetch(_ context.Context, ref string) ([]byte, error) {
	f.calls.Add(1)
	b, ok := f.data[ref]
	if !ok {
		return nil, errors.New("404")
	}
	return b, nil
}

// oneSecond decodes any payload into 1s of constant audio, or fails on "bad".
func oneSecond(_ string, data []byte) (*audio.Buffer, error) {
	if string(data) == "bad" {
		return nil, errors.New("garbage")
	}
	s := make([]int16, audio.SampleRate*audio.Channels)
	for i := range s {
		s[i] = 1000
	}
	return audio.NewBuffer(s), nil
}

type harness struct {
	engine  *Engine
	pads    *padLog
	fetcher *mapFetcher
	mixer   *audio.Mixer
	created int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		pads:    newPadLog(),
		fetcher: &mapFetcher{data: map[string][]byte{"audio/fx/boom.wav": []byte("ok"), "audio/fx/zap.wav": []byte("ok"), "audio/fx/broken.wav": []byte("bad")}},
		mixer:   audio.NewMixer(0),
	}
	h.engine = NewEngine(Options{
		Fetcher: h.fetcher,
		Decode:  oneSecond,
		Pads:    h.pads,
		NewContext: func() (*audio.Mixer, error) {
			h.created++
			return h.mixer, nil
		},
	})
	return h
}

func (h *harness) render(n int) {
	for i := 0; i < n; i++ {
		h.mixer.Render()
	}
}

var (
	boom   = catalog.Clip{ID: "audio/fx/boom.wav", Group: "fx", Name: "boom", Ref: "audio/fx/boom.wav"}
	zap    = catalog.Clip{ID: "audio/fx/zap.wav", Group: "fx", Name: "zap", Ref: "audio/fx/zap.wav"}
	broken = catalog.Clip{ID: "audio/fx/broken.wav", Group: "fx", Name: "broken", Ref: "audio/fx/broken.wav"}
	gone   = catalog.Clip{ID: "audio/fx/gone.wav", Group: "fx", Name: "gone", Ref: "audio/fx/gone.wav"}
)

func mustLoad(t *testing.T, e *Engine, clips ...catalog.Clip) {
	t.Helper()
	for _, c := range clips {
		if err := e.EnsureLoaded(context.Background(), c); err != nil {
			t.Fatalf("EnsureLoaded(%s): %v", c.ID, err)
		}
	}
}

// --- Loading ---

func TestEnsureLoadedIdempotent(t *testing.T) {
	h := newHarness(t)
	mustLoad(t, h.engine, boom, boom, boom)
	if n := h.fetcher.calls.Load(); n != 1 {
		t.Errorf("fetch calls = %d, want 1", n)
	}
	if !h.engine.Loaded(boom.ID) {
		t.Error("boom should be cached")
	}
}

type gateFetcher struct {
	started chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (f *gateFetcher) Fetch(ctx context.Context, ref string) ([]byte, error) {
	if f.calls.Add(1) == 1 {
		close(f.started)
	}
	<-f.release
	return []byte("ok"), nil
}

func TestEnsureLoadedSharesInFlight(t *testing.T) {
	f := &gateFetcher{started: make(chan struct{}), release: make(chan struct{})}
	e := NewEngine(Options{Fetcher: f, Decode: oneSecond})

	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- e.EnsureLoaded(context.Background(), boom)
		}()
	}
	<-f.started
	time.Sleep(20 * time.Millisecond)
	close(f.release)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("EnsureLoaded: %v", err)
		}
	}
	if n := f.calls.Load(); n != 1 {
		t.Errorf("fetch calls = %d, want 1", n)
	}
}

func TestEnsureLoadedCompletesAfterCallerCancels(t *testing.T) {
	f := &gateFetcher{started: make(chan struct{}), release: make(chan struct{})}
	e := NewEngine(Options{Fetcher: f, Decode: oneSecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.EnsureLoaded(ctx, boom) }()
	<-f.started
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}

	close(f.release)
	deadline := time.Now().Add(2 * time.Second)
	for !e.Loaded(boom.ID) {
		if time.Now().After(deadline) {
			t.Fatal("shared load never populated the cache")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestLoadFailuresAreIsolated(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if err := h.engine.EnsureLoaded(ctx, gone); !errors.Is(err, ErrResourceFetch) {
		t.Errorf("missing resource err = %v, want ErrResourceFetch", err)
	}
	if err := h.engine.EnsureLoaded(ctx, broken); !errors.Is(err, ErrDecode) {
		t.Errorf("broken resource err = %v, want ErrDecode", err)
	}
	mustLoad(t, h.engine, boom)

	if err := h.engine.Trigger(ctx, broken); !errors.Is(err, ErrNotLoaded) {
		t.Errorf("Trigger(broken) = %v, want ErrNotLoaded", err)
	}
	if h.pads.isPlaying(broken.ID) {
		t.Error("broken pad should stay idle")
	}
	if err := h.engine.Trigger(ctx, boom); err != nil {
		t.Fatalf("Trigger(boom): %v", err)
	}
	if !h.pads.isPlaying(boom.ID) {
		t.Error("boom pad should be playing")
	}
}

func TestPreloadSkipsFailures(t *testing.T) {
	h := newHarness(t)
	n := h.engine.Preload(context.Background(), []catalog.Clip{boom, broken, gone, zap})
	if n != 2 {
		t.Errorf("Preload = %d, want 2", n)
	}
	if !h.engine.Loaded(zap.ID) {
		t.Error("a failure must not stop later clips from loading")
	}
}

// --- Trigger ---

func TestTriggerNotLoadedIsNoop(t *testing.T) {
	h := newHarness(t)
	if err := h.engine.Trigger(context.Background(), boom); !errors.Is(err, ErrNotLoaded) {
		t.Errorf("err = %v, want ErrNotLoaded", err)
	}
	if h.created != 0 {
		t.Error("context should not be created for an unloaded clip")
	}
}

func TestTriggerPlaysUntilNaturalEnd(t *testing.T) {
	h := newHarness(t)
	mustLoad(t, h.engine, boom)
	if err := h.engine.Trigger(context.Background(), boom); err != nil {
		t.Fatal(err)
	}

	h.render(49)
	if !h.pads.isPlaying(boom.ID) {
		t.Fatal("pad went idle before the clip ended")
	}
	h.render(1)
	if h.pads.isPlaying(boom.ID) {
		t.Error("pad should be idle after natural end")
	}
	if h.engine.Playing(boom.ID) {
		t.Error("voice set should be empty")
	}
}

func TestDoubleTriggerCrossfades(t *testing.T) {
	h := newHarness(t)
	mustLoad(t, h.engine, boom)
	ctx := context.Background()

	h.engine.Trigger(ctx, boom)
	h.engine.Trigger(ctx, boom)
	if got := h.engine.Status().Voices[boom.ID]; got != 2 {
		t.Fatalf("voices right after retrigger = %d, want 2", got)
	}

	// 300ms = 15 frames: the old voice is gone, the new one keeps playing.
	h.render(15)
	if got := h.engine.Status().Voices[boom.ID]; got != 1 {
		t.Errorf("voices after fade = %d, want 1", got)
	}
	if h.mixer.ActiveVoices() != 1 {
		t.Errorf("mixer voices = %d, want 1", h.mixer.ActiveVoices())
	}
	if !h.pads.isPlaying(boom.ID) {
		t.Error("pad must stay playing while the new voice plays")
	}
	if n := h.pads.count("idle:" + boom.ID); n != 0 {
		t.Errorf("idle events = %d, want 0", n)
	}

	h.render(35)
	if h.pads.isPlaying(boom.ID) {
		t.Error("pad should be idle once the last voice ends")
	}
	if n := h.pads.count("idle:" + boom.ID); n != 1 {
		t.Errorf("idle events = %d, want 1", n)
	}
}

func TestRetriggerFadesOldVoiceLinearly(t *testing.T) {
	h := newHarness(t)
	mustLoad(t, h.engine, boom)
	ctx := context.Background()

	h.engine.Trigger(ctx, boom)
	h.render(5)
	old := h.engine.voices[boom.ID][0].voice
	h.engine.Trigger(ctx, boom)

	if g := old.Gain(); g != 1 {
		t.Errorf("gain at retrigger = %v, want 1", g)
	}
	h.render(5) // 100ms of a 250ms ramp
	if g := old.Gain(); g < 0.55 || g > 0.65 {
		t.Errorf("gain after 100ms = %v, want ~0.6", g)
	}
}

func TestDifferentClipsPlayConcurrently(t *testing.T) {
	h := newHarness(t)
	mustLoad(t, h.engine, boom, zap)
	ctx := context.Background()

	h.engine.Trigger(ctx, boom)
	h.engine.Trigger(ctx, zap)
	h.render(20)
	if !h.pads.isPlaying(boom.ID) || !h.pads.isPlaying(zap.ID) {
		t.Error("both pads should be playing")
	}
	if h.mixer.ActiveVoices() != 2 {
		t.Errorf("mixer voices = %d, want 2", h.mixer.ActiveVoices())
	}
	if h.created != 1 {
		t.Errorf("contexts created = %d, want 1", h.created)
	}
}

func TestTriggerResumesSuspendedContext(t *testing.T) {
	h := newHarness(t)
	mustLoad(t, h.engine, boom)
	ctx := context.Background()

	h.engine.Trigger(ctx, boom)
	h.mixer.Suspend()
	h.engine.Trigger(ctx, boom)
	if h.mixer.State() != audio.StateRunning {
		t.Errorf("state = %v, want running", h.mixer.State())
	}
}

func TestTriggerResumesWhenRequestIsGone(t *testing.T) {
	h := newHarness(t)
	mustLoad(t, h.engine, boom)

	h.engine.Trigger(context.Background(), boom)
	h.mixer.Suspend()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := h.engine.Trigger(ctx, boom); err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if h.mixer.State() != audio.StateRunning {
		t.Errorf("state = %v, want running", h.mixer.State())
	}
}

// --- Stop ---

func TestStopFadesAndClears(t *testing.T) {
	h := newHarness(t)
	mustLoad(t, h.engine, boom, zap)
	ctx := context.Background()

	h.engine.Trigger(ctx, boom)
	h.engine.Trigger(ctx, zap)
	h.engine.Stop(boom)

	if h.pads.isPlaying(boom.ID) {
		t.Error("boom should be idle immediately")
	}
	if h.engine.Playing(boom.ID) {
		t.Error("boom voice set should be cleared")
	}

	h.render(10) // 200ms
	if h.mixer.ActiveVoices() != 1 {
		t.Errorf("mixer voices = %d, want only zap", h.mixer.ActiveVoices())
	}
	if !h.pads.isPlaying(zap.ID) {
		t.Error("zap should be unaffected")
	}
}

func TestStopWithoutVoices(t *testing.T) {
	h := newHarness(t)
	h.engine.Stop(boom)
	if n := h.pads.count("idle:" + boom.ID); n != 1 {
		t.Errorf("idle events = %d, want 1", n)
	}
	if h.created != 0 {
		t.Error("Stop should not create a context")
	}
}

func TestRetriggerAfterStopStaysPlaying(t *testing.T) {
	h := newHarness(t)
	mustLoad(t, h.engine, boom)
	ctx := context.Background()

	h.engine.Trigger(ctx, boom)
	h.engine.Stop(boom)
	h.engine.Trigger(ctx, boom)
	h.render(10) // stopped voice ends; its callback must not idle the pad
	if !h.pads.isPlaying(boom.ID) {
		t.Error("pad should be playing the new voice")
	}
}

// --- StopAll ---

func TestStopAllBeforeContext(t *testing.T) {
	h := newHarness(t)
	h.engine.StopAll()
	if n := h.pads.count("idle_all"); n != 1 {
		t.Errorf("idle_all events = %d, want 1", n)
	}
	if st := h.engine.Status(); st.Context != "none" {
		t.Errorf("context = %q, want none", st.Context)
	}
}

func TestStopAll(t *testing.T) {
	h := newHarness(t)
	mustLoad(t, h.engine, boom, zap)
	ctx := context.Background()

	h.engine.Trigger(ctx, boom)
	h.engine.Trigger(ctx, zap)
	h.engine.Trigger(ctx, zap)
	h.engine.StopAll()

	if len(h.engine.Status().Voices) != 0 {
		t.Error("bookkeeping should be empty")
	}
	h.render(8) // 160ms > 150ms
	if h.mixer.ActiveVoices() != 0 {
		t.Errorf("mixer voices = %d, want 0", h.mixer.ActiveVoices())
	}
	if h.pads.isPlaying(boom.ID) || h.pads.isPlaying(zap.ID) {
		t.Error("all pads should be idle")
	}
}

func TestStatus(t *testing.T) {
	h := newHarness(t)
	mustLoad(t, h.engine, zap, boom)
	h.engine.Trigger(context.Background(), boom)
	h.render(5)

	st := h.engine.Status()
	if st.Context != "running" || st.ClockMS != 100 {
		t.Errorf("status = %+v, want running at 100ms", st)
	}
	if len(st.Cached) != 2 || st.Cached[0] != boom.ID {
		t.Errorf("cached = %v, want sorted ids", st.Cached)
	}
}

// --- Fetchers ---

func TestFileFetcher(t *testing.T) {
	dir := t.TempDir()
	os.MkdirAll(filepath.Join(dir, "audio", "fx"), 0o755)
	os.WriteFile(filepath.Join(dir, "audio", "fx", "boom.wav"), []byte("RIFF"), 0o644)

	f := NewFetcher(dir)
	b, err := f.Fetch(context.Background(), "audio/fx/boom.wav")
	if err != nil || string(b) != "RIFF" {
		t.Errorf("Fetch = %q, %v", b, err)
	}
	if _, err := f.Fetch(context.Background(), "audio/fx/none.wav"); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestHTTPFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/media/audio/fx/big boom.wav" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("data"))
	}))
	defer srv.Close()

	f := NewFetcher(srv.URL + "/media")
	b, err := f.Fetch(context.Background(), "audio/fx/big boom.wav")
	if err != nil || string(b) != "data" {
		t.Errorf("Fetch = %q, %v", b, err)
	}
	if _, err := f.Fetch(context.Background(), "audio/fx/missing.wav"); err == nil {
		t.Error("expected error on 404")
	}
}
