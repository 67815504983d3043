// Package playback turns pad presses into mixer voices: it caches decoded
// clips, crossfades retriggers of the same clip and fades out on stop.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/satindergrewal/bgmhub/internal/audio"
	"github.com/satindergrewal/bgmhub/internal/catalog"
)

var (
	ErrResourceFetch = errors.New("resource fetch failed")
	ErrDecode        = errors.New("audio decode failed")
	ErrContextResume = errors.New("audio context resume failed")
	ErrNotLoaded     = errors.New("clip not loaded")
)

// Fade timings, measured on the mixer clock from the moment of the call.
const (
	retriggerRamp = 250 * time.Millisecond
	retriggerStop = 300 * time.Millisecond
	stopRamp      = 150 * time.Millisecond
	stopStop      = 200 * time.Millisecond
	stopAllRamp   = 120 * time.Millisecond
	stopAllStop   = 150 * time.Millisecond
)

// PadView receives pad visual-state changes. Implementations must not block;
// they are called with the engine lock held.
type PadView interface {
	MarkPlaying(id string)
	MarkIdle(id string)
	MarkAllIdle()
}

type nopPads struct{}

func (nopPads) MarkPlaying(string) {}
func (nopPads) MarkIdle(string)    {}
func (nopPads) MarkAllIdle()       {}

// Options configures an Engine.
type Options struct {
	Fetcher Fetcher
	// Decode defaults to audio.Decode.
	Decode func(ref string, data []byte) (*audio.Buffer, error)
	// NewContext creates the mixer on first use. The default is an
	// unstarted audio.NewMixer(0).
	NewContext func() (*audio.Mixer, error)
	Pads       PadView
}

type voiceRec struct {
	clipID    string
	voice     *audio.Voice
	startedAt time.Duration
}

// Engine owns the buffer cache and the live voices per clip id.
type Engine struct {
	fetcher    Fetcher
	decode     func(ref string, data []byte) (*audio.Buffer, error)
	newContext func() (*audio.Mixer, error)
	pads       PadView
	loads      singleflight.Group

	mu     sync.Mutex
	mixer  *audio.Mixer
	voices map[string][]*voiceRec
	cache  map[string]*audio.Buffer
}

func NewEngine(opts Options) *Engine {
	e := &Engine{
		fetcher:    opts.Fetcher,
		decode:     opts.Decode,
		newContext: opts.NewContext,
		pads:       opts.Pads,
		voices:     make(map[string][]*voiceRec),
		cache:      make(map[string]*audio.Buffer),
	}
	if e.decode == nil {
		e.decode = audio.Decode
	}
	if e.newContext == nil {
		e.newContext = func() (*audio.Mixer, error) { return audio.NewMixer(0), nil }
	}
	if e.pads == nil {
		e.pads = nopPads{}
	}
	return e
}

// Loaded reports whether the clip's buffer is cached.
func (e *Engine) Loaded(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cache[id] != nil
}

// EnsureLoaded fetches and decodes the clip once. Concurrent calls for the
// same id share one load, which completes even if the caller gives up.
func (e *Engine) EnsureLoaded(ctx context.Context, clip catalog.Clip) error {
	if e.Loaded(clip.ID) {
		return nil
	}
	loadCtx := context.WithoutCancel(ctx)
	ch := e.loads.DoChan(clip.ID, func() (any, error) {
		if e.Loaded(clip.ID) {
			return nil, nil
		}
		data, err := e.fetcher.Fetch(loadCtx, clip.Ref)
		if err != nil {
			log.Printf("ENGINE: fetch %s: %v", clip.ID, err)
			return nil, fmt.Errorf("%w: %s: %v", ErrResourceFetch, clip.ID, err)
		}
		buf, err := e.decode(clip.Ref, data)
		if err != nil {
			log.Printf("ENGINE: decode %s: %v", clip.ID, err)
			return nil, fmt.Errorf("%w: %s: %v", ErrDecode, clip.ID, err)
		}
		e.mu.Lock()
		e.cache[clip.ID] = buf
		e.mu.Unlock()
		log.Printf("ENGINE: loaded %s (%v)", clip.ID, buf.Duration().Round(time.Millisecond))
		return nil, nil
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Preload loads clips one after another, returning how many are cached.
// Failures are already logged by EnsureLoaded and only affect their clip.
func (e *Engine) Preload(ctx context.Context, clips []catalog.Clip) int {
	n := 0
	for _, c := range clips {
		if ctx.Err() != nil {
			break
		}
		if err := e.EnsureLoaded(ctx, c); err == nil {
			n++
		}
	}
	return n
}

// contextLocked returns the mixer, creating it on first use. e.mu must be held.
func (e *Engine) contextLocked() (*audio.Mixer, error) {
	if e.mixer != nil {
		return e.mixer, nil
	}
	m, err := e.newContext()
	if err != nil {
		return nil, fmt.Errorf("create audio context: %w", err)
	}
	e.mixer = m
	log.Printf("ENGINE: audio context created")
	return m, nil
}

// Trigger starts a new voice for the clip. Voices already playing that clip
// fade out over 250ms and stop at 300ms, so retriggers crossfade.
func (e *Engine) Trigger(ctx context.Context, clip catalog.Clip) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	buf := e.cache[clip.ID]
	if buf == nil {
		log.Printf("ENGINE: trigger %s ignored, not loaded", clip.ID)
		return fmt.Errorf("%w: %s", ErrNotLoaded, clip.ID)
	}

	m, err := e.contextLocked()
	if err != nil {
		return err
	}
	if m.State() == audio.StateSuspended {
		// The trigger outlives its request; a gone client must not leave the clock frozen.
		if err := m.Resume(context.WithoutCancel(ctx)); err != nil {
			log.Printf("ENGINE: %v: %v", ErrContextResume, err)
		}
	}

	now := m.CurrentTime()
	rec := &voiceRec{clipID: clip.ID, startedAt: now}
	v, err := m.Start(buf, func() { e.voiceEnded(rec) })
	if err != nil {
		return err
	}
	rec.voice = v
	log.Printf("ENGINE: play %s (voice %s)", clip.ID, v.ID())

	for _, prev := range e.voices[clip.ID] {
		fadeOut(prev.voice, now, retriggerRamp, retriggerStop)
	}
	e.voices[clip.ID] = append(e.voices[clip.ID], rec)
	e.pads.MarkPlaying(clip.ID)
	return nil
}

// voiceEnded runs from the mixer after a voice finishes. Records already
// cleared by Stop or StopAll are ignored.
func (e *Engine) voiceEnded(rec *voiceRec) {
	e.mu.Lock()
	defer e.mu.Unlock()

	recs := e.voices[rec.clipID]
	idx := -1
	for i, r := range recs {
		if r == rec {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}
	log.Printf("ENGINE: voice %s of %s ended", rec.voice.ID(), rec.clipID)
	recs = append(recs[:idx], recs[idx+1:]...)
	if len(recs) > 0 {
		e.voices[rec.clipID] = recs
		return
	}
	delete(e.voices, rec.clipID)
	e.pads.MarkIdle(rec.clipID)
}

// Stop fades out every voice of the clip and marks the pad idle.
func (e *Engine) Stop(clip catalog.Clip) {
	e.mu.Lock()
	defer e.mu.Unlock()

	recs := e.voices[clip.ID]
	delete(e.voices, clip.ID)
	if e.mixer != nil {
		now := e.mixer.CurrentTime()
		for _, r := range recs {
			fadeOut(r.voice, now, stopRamp, stopStop)
		}
	}
	e.pads.MarkIdle(clip.ID)
}

// StopAll fades out everything and marks every pad idle, including before
// any audio context exists.
func (e *Engine) StopAll() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.mixer != nil {
		now := e.mixer.CurrentTime()
		for _, recs := range e.voices {
			for _, r := range recs {
				fadeOut(r.voice, now, stopAllRamp, stopAllStop)
			}
		}
	}
	e.voices = make(map[string][]*voiceRec)
	e.pads.MarkAllIdle()
}

func fadeOut(v *audio.Voice, now, ramp, stop time.Duration) {
	// ErrVoiceEnded just means it finished first.
	_ = v.RampGain(0, now+ramp)
	_ = v.Stop(now + stop)
}

// Close shuts the audio context down.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.mixer != nil {
		e.mixer.Close()
	}
}

// Status is a snapshot of the engine for the status API.
type Status struct {
	Context string         `json:"context"`
	ClockMS int64          `json:"clock_ms"`
	Voices  map[string]int `json:"voices"`
	Cached  []string       `json:"cached"`
}

func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := Status{Context: "none", Voices: make(map[string]int, len(e.voices))}
	if e.mixer != nil {
		st.Context = e.mixer.State().String()
		st.ClockMS = e.mixer.CurrentTime().Milliseconds()
	}
	for id, recs := range e.voices {
		st.Voices[id] = len(recs)
	}
	for id := range e.cache {
		st.Cached = append(st.Cached, id)
	}
	sort.Strings(st.Cached)
	return st
}

// Playing reports whether the clip has at least one tracked voice.
func (e *Engine) Playing(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.voices[id]) > 0
}
