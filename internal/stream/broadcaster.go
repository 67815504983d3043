package stream

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/satindergrewal/bgmhub/internal/audio"
)

// Broadcaster fans out mixer frames to every connected transport.
type Broadcaster struct {
	mu        sync.RWMutex
	listeners map[*Listener]struct{}
	attach    chan (<-chan []int16)
	published atomic.Uint64
}

// Listener receives PCM frames from the broadcaster.
type Listener struct {
	C    chan []int16 // buffered channel of 20ms PCM frames
	done chan struct{}
}

// Done is closed when the listener is unsubscribed.
func (l *Listener) Done() <-chan struct{} { return l.done }

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		listeners: make(map[*Listener]struct{}),
		attach:    make(chan (<-chan []int16), 1),
	}
}

// Subscribe registers a new listener.
func (b *Broadcaster) Subscribe() *Listener {
	l := &Listener{
		C:    make(chan []int16, 50), // 1s at 20ms/frame; pads want low latency
		done: make(chan struct{}),
	}
	b.mu.Lock()
	b.listeners[l] = struct{}{}
	b.mu.Unlock()
	return l
}

// Unsubscribe removes a listener and closes its done channel.
func (b *Broadcaster) Unsubscribe(l *Listener) {
	b.mu.Lock()
	_, ok := b.listeners[l]
	delete(b.listeners, l)
	b.mu.Unlock()
	if ok {
		close(l.done)
	}
}

func (b *Broadcaster) ListenerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

// Published returns how many frames have been fanned out.
func (b *Broadcaster) Published() uint64 {
	return b.published.Load()
}

// Attach hands the broadcaster its frame source once the mixer exists.
// Only one source is expected per process.
func (b *Broadcaster) Attach(source <-chan []int16) {
	select {
	case b.attach <- source:
	default:
		// a source is already pending; Run has not picked it up yet
	}
}

// Run fans frames out until ctx is cancelled or the source closes. Until a
// source is attached, silence is published at the frame rate so encoders on
// open connections keep producing output.
func (b *Broadcaster) Run(ctx context.Context, source <-chan []int16) {
	silence := make([]int16, audio.FrameSamples)
	ticker := time.NewTicker(audio.FrameDuration)
	defer ticker.Stop()

	for {
		var tick <-chan time.Time
		if source == nil {
			tick = ticker.C
		}
		select {
		case <-ctx.Done():
			return
		case src := <-b.attach:
			if source == nil {
				source = src
			}
		case <-tick:
			b.publish(silence)
		case frame, ok := <-source:
			if !ok {
				return
			}
			b.publish(frame)
		}
	}
}

// publish drops frames for listeners that are behind rather than stalling
// the mixer.
func (b *Broadcaster) publish(frame []int16) {
	b.mu.RLock()
	for l := range b.listeners {
		select {
		case l.C <- frame:
		default:
		}
	}
	b.mu.RUnlock()
	b.published.Add(1)
}
