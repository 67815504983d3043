package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"os/exec"
	"path"
	"strings"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/wav"
)

// ErrEmptyAudio is returned when a resource decodes to zero samples.
var ErrEmptyAudio = errors.New("decoded audio is empty")

// Decode turns raw resource bytes into a Buffer at SampleRate/Channels.
// WAV data is decoded in-process; everything else (and WAV encodings beep
// cannot read) goes through FFmpeg.
func Decode(ref string, data []byte) (*Buffer, error) {
	if strings.EqualFold(path.Ext(ref), ".wav") {
		buf, err := decodeWAV(data)
		if err == nil {
			return buf, nil
		}
		log.Printf("DECODE: wav decoder failed for %s, trying ffmpeg: %v", ref, err)
	}
	samples, err := decodeFFmpeg(data)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg decode %s: %w", ref, err)
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("%s: %w", ref, ErrEmptyAudio)
	}
	return NewBuffer(samples), nil
}

func decodeWAV(data []byte) (*Buffer, error) {
	s, format, err := wav.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer s.Close()

	var src beep.Streamer = s
	if format.SampleRate != beep.SampleRate(SampleRate) {
		src = beep.Resample(4, format.SampleRate, beep.SampleRate(SampleRate), s)
	}

	samples := make([]int16, 0, s.Len()*Channels)
	chunk := make([][2]float64, 4096)
	for {
		n, ok := src.Stream(chunk)
		for _, f := range chunk[:n] {
			samples = append(samples, clip16(f[0]*32767), clip16(f[1]*32767))
		}
		if !ok {
			break
		}
	}
	if err := src.Err(); err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, ErrEmptyAudio
	}
	return NewBuffer(samples), nil
}

// decodeFFmpeg pipes data through FFmpeg and returns interleaved stereo
// int16 samples at 48kHz.
func decodeFFmpeg(data []byte) ([]int16, error) {
	cmd := exec.Command("ffmpeg",
		"-i", "pipe:0",
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ar", "48000",
		"-ac", "2",
		"-loglevel", "error",
		"pipe:1",
	)
	cmd.Stdin = bytes.NewReader(data)

	out, err := cmd.Output()
	if err != nil {
		return nil, err
	}

	// Ensure even byte count for int16 alignment
	if len(out)%2 != 0 {
		out = out[:len(out)-1]
	}

	samples := make([]int16, len(out)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(out[i*2 : i*2+2]))
	}
	return samples, nil
}

// SamplesToBytes converts int16 samples to little-endian bytes.
func SamplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}
