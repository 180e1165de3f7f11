package usecase

import (
	"context"
	"sync"

	"coachvoice/internal/clock"
	"coachvoice/internal/feedback"
	"coachvoice/internal/ports"
	"coachvoice/internal/recorder"
)

const inboxSize = 256

type activeSession struct {
	id     string
	ctx    context.Context
	cancel func()

	clock  *clock.Elapsed
	local  *recorder.Dual
	remote *recorder.Remote
	poller *feedback.Poller

	inbox        chan []byte
	dispatchDone chan struct{}

	mu           sync.Mutex
	closed       bool
	usable       bool
	media        ports.MediaSource
	pc           ports.PeerConnection
	remoteStream ports.RemoteAudioStream

	// Owned by the dispatch goroutine.
	speechStartMs   int64
	speechItemID    string
	activeResponse  string
	closedResponses map[string]struct{}
}

func (s *activeSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// markClosed reports whether this call closed the session.
func (s *activeSession) markClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	return true
}

// whileOpen runs fn under the session lock unless the session is closed and
// reports whether it ran.
func (s *activeSession) whileOpen(fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	fn()
	return true
}

func (s *activeSession) setMedia(media ports.MediaSource) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.media = media
	return true
}

func (s *activeSession) setPeer(pc ports.PeerConnection) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.pc = pc
	return true
}

func (s *activeSession) getMedia() ports.MediaSource {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.media
}

// bindRemote keeps the first remote audio stream and reports whether stream
// became the bound one.
func (s *activeSession) bindRemote(stream ports.RemoteAudioStream) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.remoteStream != nil {
		return false
	}
	s.remoteStream = stream
	return true
}

func (s *activeSession) boundRemote() ports.RemoteAudioStream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteStream
}

func (s *activeSession) markUsable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.usable {
		return false
	}
	s.usable = true
	return true
}

// release detaches every transport and media resource from the session and
// returns them for shutdown.
func (s *activeSession) release() (ports.PeerConnection, ports.MediaSource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pc, media := s.pc, s.media
	s.pc = nil
	s.media = nil
	s.remoteStream = nil
	return pc, media
}

// enqueue hands a data-channel payload to the dispatch goroutine in arrival
// order. Payloads that arrive after teardown are dropped.
func (s *activeSession) enqueue(payload []byte) {
	msg := make([]byte, len(payload))
	copy(msg, payload)
	select {
	case s.inbox <- msg:
	case <-s.ctx.Done():
	}
}
