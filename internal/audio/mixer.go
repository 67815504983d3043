package audio

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrVoiceEnded is returned when automating a voice that already stopped.
	ErrVoiceEnded = errors.New("voice already ended")
	// ErrContextClosed is returned by a mixer that has been closed.
	ErrContextClosed = errors.New("audio context closed")
)

// State is the lifecycle state of a Mixer.
type State int

const (
	StateRunning State = iota
	StateSuspended
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateSuspended:
		return "suspended"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Voice is one playing instance of a Buffer with its own gain automation.
// All fields are guarded by the owning mixer's lock.
type Voice struct {
	id      string
	mixer   *Mixer
	buf     *Buffer
	pos     int64
	gain    Ramp
	stopAt  int64 // -1 = no scheduled stop
	ended   bool
	onEnded func()
}

// ID returns the voice's unique identifier.
func (v *Voice) ID() string { return v.id }

// Ended reports whether the voice has finished or been stopped.
func (v *Voice) Ended() bool {
	v.mixer.mu.Lock()
	defer v.mixer.mu.Unlock()
	return v.ended
}

// Gain returns the voice's gain at the current mixer clock.
func (v *Voice) Gain() float64 {
	v.mixer.mu.Lock()
	defer v.mixer.mu.Unlock()
	return v.gain.At(v.mixer.clock)
}

// RampGain linearly moves the gain from its current value to target, arriving
// at end on the mixer clock.
func (v *Voice) RampGain(target float64, end time.Duration) error {
	m := v.mixer
	m.mu.Lock()
	defer m.mu.Unlock()
	if v.ended {
		return ErrVoiceEnded
	}
	v.gain = v.gain.Retarget(m.clock, DurationToFrames(end), target)
	return nil
}

// Stop schedules the voice to stop at the given mixer time. A time in the
// past stops it on the next rendered frame.
func (v *Voice) Stop(at time.Duration) error {
	m := v.mixer
	m.mu.Lock()
	defer m.mu.Unlock()
	if v.ended {
		return ErrVoiceEnded
	}
	v.stopAt = DurationToFrames(at)
	return nil
}

// render mixes one frame of the voice into acc starting at clock frame t0.
func (v *Voice) render(acc []float64, t0 int64) {
	total := v.buf.Frames()
	for i := int64(0); i < FrameSize; i++ {
		t := t0 + i
		if (v.stopAt >= 0 && t >= v.stopAt) || v.pos >= total {
			v.ended = true
			return
		}
		g := v.gain.At(t)
		idx := v.pos * Channels
		acc[i*Channels] += float64(v.buf.Samples[idx]) * g
		acc[i*Channels+1] += float64(v.buf.Samples[idx+1]) * g
		v.pos++
	}
	if v.pos >= total || (v.stopAt >= 0 && t0+FrameSize >= v.stopAt) {
		v.ended = true
	}
}

// Mixer is the audio context: a sample clock plus the set of live voices,
// rendered into 20ms PCM frames. The clock only advances while running.
type Mixer struct {
	frameCh     chan []int16
	closed      chan struct{}
	closeOnce   sync.Once
	idleSuspend time.Duration

	mu         sync.Mutex
	clock      int64 // sample frames rendered while running
	state      State
	voices     []*Voice
	idleFrames int64
}

// NewMixer creates a running mixer. When idleSuspend > 0 the mixer suspends
// itself after that long without any voice.
func NewMixer(idleSuspend time.Duration) *Mixer {
	return &Mixer{
		frameCh:     make(chan []int16, 100),
		closed:      make(chan struct{}),
		idleSuspend: idleSuspend,
	}
}

// Frames returns the channel of rendered PCM frames (20ms each).
func (m *Mixer) Frames() <-chan []int16 {
	return m.frameCh
}

// CurrentTime returns the mixer clock.
func (m *Mixer) CurrentTime() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return FramesToDuration(m.clock)
}

// State returns the mixer's lifecycle state.
func (m *Mixer) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// ActiveVoices returns the number of voices that have not ended.
func (m *Mixer) ActiveVoices() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.voices)
}

// Resume restarts the clock of a suspended mixer.
func (m *Mixer) Resume(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case StateClosed:
		return ErrContextClosed
	case StateSuspended:
		m.state = StateRunning
		m.idleFrames = 0
		log.Printf("MIXER: resumed at %v", FramesToDuration(m.clock))
	}
	return nil
}

// Suspend freezes the clock. Voices keep their position until Resume.
func (m *Mixer) Suspend() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateClosed {
		return ErrContextClosed
	}
	m.state = StateSuspended
	return nil
}

// Close stops the mixer permanently. Live voices are dropped without
// end callbacks.
func (m *Mixer) Close() {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.state = StateClosed
		m.voices = nil
		m.mu.Unlock()
		close(m.closed)
	})
}

// Start begins playing buf immediately at full gain. onEnded, if non-nil,
// runs once when the voice ends naturally or through Stop; it is called
// without the mixer lock held.
func (m *Mixer) Start(buf *Buffer, onEnded func()) (*Voice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateClosed {
		return nil, ErrContextClosed
	}
	v := &Voice{
		id:      uuid.NewString(),
		mixer:   m,
		buf:     buf,
		gain:    Constant(1.0),
		stopAt:  -1,
		onEnded: onEnded,
	}
	m.voices = append(m.voices, v)
	m.idleFrames = 0
	return v, nil
}

// Render produces the next frame. While suspended it returns silence and the
// clock stays put; this keeps downstream transports fed.
func (m *Mixer) Render() []int16 {
	m.mu.Lock()
	if m.state != StateRunning {
		m.mu.Unlock()
		return make([]int16, FrameSamples)
	}

	acc := make([]float64, FrameSamples)
	var callbacks []func()
	live := m.voices[:0]
	for _, v := range m.voices {
		v.render(acc, m.clock)
		if v.ended {
			if v.onEnded != nil {
				callbacks = append(callbacks, v.onEnded)
			}
			continue
		}
		live = append(live, v)
	}
	for i := len(live); i < len(m.voices); i++ {
		m.voices[i] = nil
	}
	m.voices = live
	m.clock += FrameSize

	if len(m.voices) == 0 {
		m.idleFrames += FrameSize
		if m.idleSuspend > 0 && m.idleFrames >= DurationToFrames(m.idleSuspend) {
			m.state = StateSuspended
			log.Printf("MIXER: idle for %v, suspending", m.idleSuspend)
		}
	} else {
		m.idleFrames = 0
	}
	m.mu.Unlock()

	for _, fn := range callbacks {
		fn()
	}
	return MixFrames(acc)
}

// Run renders frames in real time until ctx is cancelled or the mixer is closed.
func (m *Mixer) Run(ctx context.Context) {
	defer close(m.frameCh)

	ticker := time.NewTicker(FrameDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.closed:
			return
		case <-ticker.C:
		}

		frame := m.Render()
		select {
		case m.frameCh <- frame:
		case <-ctx.Done():
			return
		case <-m.closed:
			return
		}
	}
}
