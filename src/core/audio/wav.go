package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const pcmFormat = 1

// Sample rates outside this range are rejected on decode.
const (
	MinSampleRate = 8000
	MaxSampleRate = 384000
)

var ErrUnsupportedFormat = errors.New("unsupported wav format")

// Buffer holds de-interleaved samples in [-1, 1], one slice per channel.
type Buffer struct {
	SampleRate int
	BitDepth   int
	Channels   [][]float64
}

// NewBuffer allocates a silent buffer.
func NewBuffer(sampleRate, bitDepth, channels, frames int) *Buffer {
	b := &Buffer{SampleRate: sampleRate, BitDepth: bitDepth, Channels: make([][]float64, channels)}
	for i := range b.Channels {
		b.Channels[i] = make([]float64, frames)
	}
	return b
}

// Frames is the number of samples per channel.
func (b *Buffer) Frames() int {
	if len(b.Channels) == 0 {
		return 0
	}
	return len(b.Channels[0])
}

// Clone returns a deep copy.
func (b *Buffer) Clone() *Buffer {
	c := &Buffer{SampleRate: b.SampleRate, BitDepth: b.BitDepth, Channels: make([][]float64, len(b.Channels))}
	for i, ch := range b.Channels {
		c.Channels[i] = append([]float64(nil), ch...)
	}
	return c
}

func fullScale(bitDepth int) (float64, error) {
	switch bitDepth {
	case 16, 24, 32:
		return float64(int64(1) << (bitDepth - 1)), nil
	}
	return 0, fmt.Errorf("%w: %d-bit samples", ErrUnsupportedFormat, bitDepth)
}

// DecodeWAV reads an integer PCM wav file.
func DecodeWAV(data []byte) (*Buffer, error) {
	d := wav.NewDecoder(bytes.NewReader(data))
	if !d.IsValidFile() {
		return nil, fmt.Errorf("%w: not a wav file", ErrUnsupportedFormat)
	}
	if d.WavAudioFormat != pcmFormat {
		return nil, fmt.Errorf("%w: audio format %d", ErrUnsupportedFormat, d.WavAudioFormat)
	}
	if d.SampleRate < MinSampleRate || d.SampleRate > MaxSampleRate {
		return nil, fmt.Errorf("%w: sample rate %d Hz", ErrUnsupportedFormat, d.SampleRate)
	}
	scale, err := fullScale(int(d.BitDepth))
	if err != nil {
		return nil, err
	}

	pcm, err := d.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to read pcm data: %w", err)
	}

	channels := int(d.NumChans)
	if channels < 1 {
		return nil, fmt.Errorf("%w: no channels", ErrUnsupportedFormat)
	}
	frames := len(pcm.Data) / channels
	buf := NewBuffer(int(d.SampleRate), int(d.BitDepth), channels, frames)
	for f := 0; f < frames; f++ {
		for c := 0; c < channels; c++ {
			buf.Channels[c][f] = float64(pcm.Data[f*channels+c]) / scale
		}
	}
	return buf, nil
}

// EncodeWAV writes buf as integer PCM at its own bit depth. Samples outside
// [-1, 1] are clipped.
func EncodeWAV(buf *Buffer) ([]byte, error) {
	scale, err := fullScale(buf.BitDepth)
	if err != nil {
		return nil, err
	}
	channels := len(buf.Channels)
	if channels < 1 {
		return nil, fmt.Errorf("%w: no channels", ErrUnsupportedFormat)
	}

	frames := buf.Frames()
	data := make([]int, frames*channels)
	for f := 0; f < frames; f++ {
		for c := 0; c < channels; c++ {
			v := math.Round(buf.Channels[c][f] * scale)
			data[f*channels+c] = int(math.Max(-scale, math.Min(scale-1, v)))
		}
	}

	// The encoder seeks back to patch the header, so it needs a file.
	f, err := os.CreateTemp("", "resynth-*.wav")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(f.Name())
	defer f.Close()

	enc := wav.NewEncoder(f, buf.SampleRate, buf.BitDepth, channels, pcmFormat)
	err = enc.Write(&goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: buf.SampleRate},
		Data:           data,
		SourceBitDepth: buf.BitDepth,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to write pcm data: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize wav: %w", err)
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	return io.ReadAll(f)
}
