package recorder

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"

	"coachvoice/internal/ports"
)

// RemoteMIME is the container of clips produced by Remote.
const RemoteMIME = "audio/ogg"

// Remote records the assistant's audio track for the span of one response.
type Remote struct {
	mu          sync.Mutex
	buf         *bytes.Buffer
	writer      *oggwriter.OggWriter
	unsubscribe func()
}

func NewRemote() *Remote {
	return &Remote{}
}

// Start begins a new clip. It is a no-op while a clip is already recording.
func (r *Remote) Start(stream ports.RemoteAudioStream) error {
	r.mu.Lock()
	if r.writer != nil {
		r.mu.Unlock()
		return nil
	}
	buf := &bytes.Buffer{}
	writer, err := oggwriter.NewWith(buf, stream.ClockRate(), stream.Channels())
	if err != nil {
		r.mu.Unlock()
		return fmt.Errorf("open ogg recorder: %w", err)
	}
	r.buf = buf
	r.writer = writer
	r.mu.Unlock()

	unsubscribe := stream.Subscribe(r.write)

	r.mu.Lock()
	stale := r.writer != writer
	if !stale {
		r.unsubscribe = unsubscribe
	}
	r.mu.Unlock()
	if stale {
		unsubscribe()
	}
	return nil
}

func (r *Remote) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writer != nil
}

// Stop ends the clip and returns its bytes, empty when nothing was recording.
func (r *Remote) Stop() []byte {
	r.mu.Lock()
	writer := r.writer
	buf := r.buf
	unsubscribe := r.unsubscribe
	r.writer = nil
	r.buf = nil
	r.unsubscribe = nil
	r.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if writer == nil {
		return []byte{}
	}
	_ = writer.Close()
	return buf.Bytes()
}

func (r *Remote) write(packet *rtp.Packet) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.writer == nil {
		return
	}
	_ = r.writer.WriteRTP(packet)
}
