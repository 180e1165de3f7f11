package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Buffer is planar signed 16-bit PCM.
type Buffer struct {
	SampleRate int
	Channels   [][]int16
}

// DecodePCM16 de-interleaves s16le PCM. A trailing partial frame is dropped.
func DecodePCM16(data []byte, sampleRate, channels int) (*Buffer, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", sampleRate)
	}
	if channels <= 0 {
		return nil, fmt.Errorf("invalid channel count %d", channels)
	}

	frameBytes := channels * 2
	frames := len(data) / frameBytes
	buf := &Buffer{SampleRate: sampleRate, Channels: make([][]int16, channels)}
	for ch := range buf.Channels {
		buf.Channels[ch] = make([]int16, frames)
	}
	for i := 0; i < frames; i++ {
		base := i * frameBytes
		for ch := 0; ch < channels; ch++ {
			off := base + ch*2
			buf.Channels[ch][i] = int16(binary.LittleEndian.Uint16(data[off : off+2]))
		}
	}
	return buf, nil
}

func (b *Buffer) NumChannels() int {
	if b == nil {
		return 0
	}
	return len(b.Channels)
}

// Frames is the number of sample frames (samples per channel).
func (b *Buffer) Frames() int {
	if b == nil || len(b.Channels) == 0 {
		return 0
	}
	return len(b.Channels[0])
}

func (b *Buffer) DurationMs() float64 {
	if b == nil || b.SampleRate <= 0 {
		return 0
	}
	return float64(b.Frames()) * 1000 / float64(b.SampleRate)
}

// Slice copies frames [start, end) into a new buffer. Bounds are clamped.
func (b *Buffer) Slice(start, end int) *Buffer {
	frames := b.Frames()
	end = clampInt(end, 0, frames)
	start = clampInt(start, 0, end)

	out := &Buffer{SampleRate: b.SampleRate, Channels: make([][]int16, len(b.Channels))}
	for ch, samples := range b.Channels {
		out.Channels[ch] = append([]int16(nil), samples[start:end]...)
	}
	return out
}

// Interleaved encodes the buffer back to s16le.
func (b *Buffer) Interleaved() []byte {
	channels := b.NumChannels()
	frames := b.Frames()
	out := make([]byte, frames*channels*2)
	for i := 0; i < frames; i++ {
		for ch := 0; ch < channels; ch++ {
			off := (i*channels + ch) * 2
			binary.LittleEndian.PutUint16(out[off:off+2], uint16(b.Channels[ch][i]))
		}
	}
	return out
}

// Silence returns n bytes of s16le silence.
func Silence(n int) []byte {
	return make([]byte, n)
}

var errShortWAV = errors.New("wav data shorter than header")

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
