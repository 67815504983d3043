package stream

import (
	"context"
	"fmt"
	"io"
	"log"

	"github.com/hajimehoshi/oto/v2"

	"github.com/satindergrewal/bgmhub/internal/audio"
)

// LocalOutput plays the mix on the host's default sound device.
type LocalOutput struct {
	broadcaster *Broadcaster
	ctx         *oto.Context
	ready       chan struct{}
}

// NewLocalOutput opens the sound device. Only one may exist per process.
func NewLocalOutput(b *Broadcaster) (*LocalOutput, error) {
	ctx, ready, err := oto.NewContext(audio.SampleRate, audio.Channels, oto.FormatSignedInt16LE)
	if err != nil {
		return nil, fmt.Errorf("open sound device: %w", err)
	}
	return &LocalOutput{broadcaster: b, ctx: ctx, ready: ready}, nil
}

// Run plays broadcast frames until ctx is cancelled. It returns an error when
// the device stops accepting audio.
func (o *LocalOutput) Run(ctx context.Context) error {
	select {
	case <-o.ready:
	case <-ctx.Done():
		return nil
	}

	l := o.broadcaster.Subscribe()
	defer o.broadcaster.Unsubscribe(l)

	pr, pw := io.Pipe()
	player := o.ctx.NewPlayer(pr)
	defer player.Close()
	player.Play()
	log.Printf("STREAM: local output playing")

	go func() {
		<-ctx.Done()
		pw.CloseWithError(ctx.Err())
	}()

	if err := writeFrames(ctx, l, pw); err != nil {
		return err
	}
	if err := player.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("local player: %w", err)
	}
	return nil
}

// writeFrames copies listener frames to w as s16le. Cancellation and an
// ended listener are a clean stop; a failed write is not.
func writeFrames(ctx context.Context, l *Listener, w io.Writer) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-l.Done():
			return nil
		case frame := <-l.C:
			if _, err := w.Write(audio.SamplesToBytes(frame)); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("write to sound device: %w", err)
			}
		}
	}
}
