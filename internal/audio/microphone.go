package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"coachvoice/internal/ports"
)

// Microphone is the session's local media source. It reads fixed-size frames
// from a capture session and hands each one to every subscriber in order.
type Microphone struct {
	session ports.AudioSession
	format  ports.AudioFormat
	log     logrus.FieldLogger

	subMu   sync.RWMutex
	subs    map[int]func([]byte)
	nextSub int

	enabled atomic.Bool

	done      chan struct{}
	errMu     sync.Mutex
	err       error
	closeOnce sync.Once
	closeErr  error
}

// OpenMicrophone acquires the capture device and starts pumping frames.
func OpenMicrophone(ctx context.Context, capture ports.AudioCapture, cfg ports.AudioConfig, log logrus.FieldLogger) (*Microphone, error) {
	cfg = normalizeAudioConfig(cfg)
	session, err := capture.Start(ctx, cfg)
	if err != nil {
		if errors.Is(err, ErrMicrophoneUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrMicrophoneUnavailable, err)
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	m := &Microphone{
		session: session,
		format: ports.AudioFormat{
			SampleRate: cfg.SampleRate,
			Channels:   cfg.Channels,
			FrameMs:    cfg.FrameMs,
		},
		log:  log,
		subs: make(map[int]func([]byte)),
		done: make(chan struct{}),
	}
	m.enabled.Store(true)
	go m.pump()
	return m, nil
}

func (m *Microphone) Format() ports.AudioFormat {
	return m.format
}

// Subscribe registers fn for every subsequent frame. fn must not retain the
// slice past the call.
func (m *Microphone) Subscribe(fn func(frame []byte)) func() {
	m.subMu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	m.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.subMu.Lock()
			delete(m.subs, id)
			m.subMu.Unlock()
		})
	}
}

// SetEnabled toggles mute. A disabled microphone keeps delivering frames of
// silence so downstream timing is unaffected.
func (m *Microphone) SetEnabled(enabled bool) {
	m.enabled.Store(enabled)
}

func (m *Microphone) Enabled() bool {
	return m.enabled.Load()
}

// Done is closed when the capture ends.
func (m *Microphone) Done() <-chan struct{} {
	return m.done
}

// Err reports why the capture ended, nil on a clean stop.
func (m *Microphone) Err() error {
	m.errMu.Lock()
	defer m.errMu.Unlock()
	return m.err
}

// Close stops and releases the capture device.
func (m *Microphone) Close() error {
	m.closeOnce.Do(func() {
		m.closeErr = m.session.Stop()
		<-m.done
		m.subMu.Lock()
		m.subs = make(map[int]func([]byte))
		m.subMu.Unlock()
	})
	return m.closeErr
}

func (m *Microphone) pump() {
	defer close(m.done)

	frameBytes := m.format.FrameBytes()
	if frameBytes <= 0 {
		frameBytes = 4096
	}
	frame := make([]byte, frameBytes)
	silence := Silence(frameBytes)

	for {
		_, err := io.ReadFull(m.session, frame)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, os.ErrClosed) {
				m.errMu.Lock()
				m.err = err
				m.errMu.Unlock()
				m.log.WithError(err).Warn("microphone capture ended")
			}
			return
		}

		out := frame
		if !m.enabled.Load() {
			out = silence
		}
		m.publish(out)
	}
}

func (m *Microphone) publish(frame []byte) {
	m.subMu.RLock()
	defer m.subMu.RUnlock()
	for _, fn := range m.subs {
		fn(frame)
	}
}

// MicrophoneOpener opens a Microphone over a capture backend with a fixed config.
type MicrophoneOpener struct {
	Capture ports.AudioCapture
	Config  ports.AudioConfig
	Log     logrus.FieldLogger
}

func (o MicrophoneOpener) Open(ctx context.Context) (ports.MediaSource, error) {
	mic, err := OpenMicrophone(ctx, o.Capture, o.Config, o.Log)
	if err != nil {
		return nil, err
	}
	return mic, nil
}
