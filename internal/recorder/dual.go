// Package recorder captures the two sides of a conversation: the user's
// microphone as continuously recorded, segmentable PCM and the assistant's
// audio as one Ogg/Opus clip per response.
package recorder

import (
	"bytes"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"coachvoice/internal/audio"
	"coachvoice/internal/ports"
)

// DefaultIdleWindow bounds chunk growth when no segment is requested.
const DefaultIdleWindow = 5 * time.Minute

// Clock reports the session's elapsed time.
type Clock interface {
	ElapsedMs() int64
}

// Segment is the result of ExtractSegment. StartMs and EndMs are the
// requested session offsets; SlotStartMs is the offset the drained slot began
// recording at.
type Segment struct {
	WAV         []byte
	SlotStartMs int64
	StartMs     int64
	EndMs       int64
	Err         error
}

type slot struct {
	chunks        [][]byte
	startOffsetMs int64
	recording     bool
}

func newSlot(startOffsetMs int64) *slot {
	return &slot{startOffsetMs: startOffsetMs, recording: true}
}

// Dual keeps two recorder slots capturing the same stream so that one can be
// drained and decoded while the other keeps recording.
type Dual struct {
	clock      Clock
	idleWindow time.Duration
	log        logrus.FieldLogger

	mu          sync.Mutex
	slots       [2]*slot
	active      int
	format      ports.AudioFormat
	unsubscribe func()
	idleTimer   *time.Timer
	idleGen     uint64
	stopped     bool
}

func NewDual(clock Clock, idleWindow time.Duration, log logrus.FieldLogger) *Dual {
	if idleWindow <= 0 {
		idleWindow = DefaultIdleWindow
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Dual{clock: clock, idleWindow: idleWindow, log: log, active: -1}
}

// Start arms both slots at the current elapsed time, slot 0 active. A stopped
// recorder cannot be started again.
func (r *Dual) Start(stream ports.LocalAudioStream) {
	r.mu.Lock()
	if r.active >= 0 || r.stopped {
		r.mu.Unlock()
		return
	}
	now := r.clock.ElapsedMs()
	r.format = stream.Format()
	r.slots[0] = newSlot(now)
	r.slots[1] = newSlot(now)
	r.active = 0
	r.resetIdleLocked()
	r.mu.Unlock()

	unsubscribe := stream.Subscribe(r.capture)

	r.mu.Lock()
	stopped := r.active < 0
	if !stopped {
		r.unsubscribe = unsubscribe
	}
	r.mu.Unlock()
	if stopped {
		unsubscribe()
	}
}

// ExtractSegment drains the active slot and returns the [startMs, endMs)
// session span as WAV. The swap to the standby slot happens before this
// returns; decoding and encoding finish on the returned channel.
func (r *Dual) ExtractSegment(startMs, endMs int64) <-chan Segment {
	out := make(chan Segment, 1)

	r.mu.Lock()
	if r.active < 0 {
		r.mu.Unlock()
		out <- Segment{WAV: []byte{}, StartMs: startMs, EndMs: endMs}
		close(out)
		return out
	}

	drained := r.slots[r.active]
	drained.recording = false
	stoppedIndex := r.active
	r.active = 1 - r.active
	r.slots[stoppedIndex] = newSlot(r.clock.ElapsedMs())
	format := r.format
	r.resetIdleLocked()
	r.mu.Unlock()

	go func() {
		out <- renderSegment(drained.chunks, format, drained.startOffsetMs, startMs, endMs)
		close(out)
	}()
	return out
}

// ActiveIndex returns the capturing slot, -1 when stopped.
func (r *Dual) ActiveIndex() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// SlotStartOffset returns the session offset slot i started recording at.
func (r *Dual) SlotStartOffset(i int) (int64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i < 0 || i > 1 || r.slots[i] == nil {
		return 0, false
	}
	return r.slots[i].startOffsetMs, true
}

// Stop releases both slots and latches the recorder closed. Safe to call
// repeatedly, including before Start.
func (r *Dual) Stop() {
	r.mu.Lock()
	r.stopped = true
	if r.active < 0 {
		r.mu.Unlock()
		return
	}
	unsubscribe := r.unsubscribe
	r.unsubscribe = nil
	r.slots = [2]*slot{}
	r.active = -1
	r.idleGen++
	if r.idleTimer != nil {
		r.idleTimer.Stop()
		r.idleTimer = nil
	}
	r.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

func (r *Dual) capture(frame []byte) {
	chunk := append([]byte(nil), frame...)

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.slots {
		if s != nil && s.recording {
			s.chunks = append(s.chunks, chunk)
		}
	}
}

func (r *Dual) resetIdleLocked() {
	r.idleGen++
	gen := r.idleGen
	if r.idleTimer != nil {
		r.idleTimer.Stop()
	}
	r.idleTimer = time.AfterFunc(r.idleWindow, func() { r.refresh(gen) })
}

func (r *Dual) refresh(gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active < 0 || gen != r.idleGen {
		return
	}
	now := r.clock.ElapsedMs()
	r.slots[0] = newSlot(now)
	r.slots[1] = newSlot(now)
	r.resetIdleLocked()
	r.log.WithField("elapsed_ms", now).Debug("recorder slots refreshed after idle window")
}

func renderSegment(chunks [][]byte, format ports.AudioFormat, slotStartMs, startMs, endMs int64) Segment {
	seg := Segment{SlotStartMs: slotStartMs, StartMs: startMs, EndMs: endMs}

	buf, err := audio.DecodePCM16(bytes.Join(chunks, nil), format.SampleRate, format.Channels)
	if err != nil {
		seg.Err = err
		return seg
	}

	frames := buf.Frames()
	endSample := clamp(msToSample(endMs-slotStartMs, buf.SampleRate), 0, frames)
	startSample := clamp(msToSample(startMs-slotStartMs, buf.SampleRate), 0, endSample)

	seg.WAV = audio.EncodeWAV(buf.Slice(startSample, endSample))
	return seg
}

func msToSample(ms int64, sampleRate int) int {
	return int(math.Round(float64(ms) * float64(sampleRate) / 1000))
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
