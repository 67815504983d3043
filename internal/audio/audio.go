package audio

import "time"

const (
	SampleRate    = 48000
	Channels      = 2
	BitDepth      = 16
	FrameDuration = 20 * time.Millisecond
	FrameSize     = 960                  // samples per channel per 20ms frame
	FrameSamples  = FrameSize * Channels // total interleaved samples per frame
	FrameBytes    = FrameSamples * 2     // bytes per frame (int16 = 2 bytes)
)

// Buffer is a fully decoded clip: interleaved stereo int16 at SampleRate.
// Buffers are immutable once decoded and may be shared by many voices.
type Buffer struct {
	Samples []int16
}

// NewBuffer wraps interleaved stereo samples, dropping a trailing odd sample.
func NewBuffer(samples []int16) *Buffer {
	if len(samples)%Channels != 0 {
		samples = samples[:len(samples)-len(samples)%Channels]
	}
	return &Buffer{Samples: samples}
}

// Frames returns the number of sample frames (samples per channel).
func (b *Buffer) Frames() int64 {
	if b == nil {
		return 0
	}
	return int64(len(b.Samples) / Channels)
}

// Duration returns the playback length of the buffer.
func (b *Buffer) Duration() time.Duration {
	return FramesToDuration(b.Frames())
}

// DurationToFrames converts a duration to a sample frame count, rounding down.
// Whole seconds and the remainder are scaled separately so long clocks do not
// overflow int64.
func DurationToFrames(d time.Duration) int64 {
	secs, rem := int64(d/time.Second), int64(d%time.Second)
	return secs*SampleRate + rem*SampleRate/int64(time.Second)
}

// FramesToDuration converts a sample frame count to a duration.
func FramesToDuration(frames int64) time.Duration {
	secs, rem := frames/SampleRate, frames%SampleRate
	return time.Duration(secs)*time.Second + time.Duration(rem*int64(time.Second)/SampleRate)
}
