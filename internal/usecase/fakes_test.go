package usecase

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pion/rtp"

	"coachvoice/internal/domain"
	"coachvoice/internal/ports"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// 1 kHz mono, 10 ms frames.
var fakeFormat = ports.AudioFormat{SampleRate: 1000, Channels: 1, FrameMs: 10}

type fakeMedia struct {
	mu         sync.Mutex
	subs       map[int]func([]byte)
	next       int
	enabled    bool
	closeCalls int
}

func newFakeMedia() *fakeMedia {
	return &fakeMedia{subs: make(map[int]func([]byte)), enabled: true}
}

func (m *fakeMedia) Format() ports.AudioFormat { return fakeFormat }

func (m *fakeMedia) Subscribe(fn func([]byte)) func() {
	m.mu.Lock()
	id := m.next
	m.next++
	m.subs[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

func (m *fakeMedia) SetEnabled(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = enabled
}

func (m *fakeMedia) Enabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled
}

func (m *fakeMedia) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeCalls++
	return nil
}

func (m *fakeMedia) closes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeCalls
}

func (m *fakeMedia) subscribers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

// feed publishes ms milliseconds of a sample ramp.
func (m *fakeMedia) feed(ms int) {
	for i := 0; i < ms/fakeFormat.FrameMs; i++ {
		frame := make([]byte, fakeFormat.FrameBytes())
		for j := 0; j < len(frame)/2; j++ {
			binary.LittleEndian.PutUint16(frame[j*2:], uint16(i*10+j))
		}
		m.mu.Lock()
		subs := make([]func([]byte), 0, len(m.subs))
		for _, fn := range m.subs {
			subs = append(subs, fn)
		}
		m.mu.Unlock()
		for _, fn := range subs {
			fn(frame)
		}
	}
}

type fakeMediaOpener struct {
	media *fakeMedia
	err   error
	calls int
}

func (f *fakeMediaOpener) Open(context.Context) (ports.MediaSource, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.media, nil
}

type fakePeer struct {
	mu         sync.Mutex
	handlers   ports.DataChannelHandlers
	label      string
	onState    func(domain.ConnectionStatus)
	onRemote   func(ports.RemoteAudioStream)
	local      ports.LocalAudioStream
	answer     string
	offerErr   error
	closeCalls int
}

func (p *fakePeer) AddLocalAudio(stream ports.LocalAudioStream) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.local = stream
	return nil
}

func (p *fakePeer) OnRemoteAudio(fn func(ports.RemoteAudioStream)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onRemote = fn
}

func (p *fakePeer) OnStateChange(fn func(domain.ConnectionStatus)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onState = fn
}

func (p *fakePeer) OpenDataChannel(label string, h ports.DataChannelHandlers) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.label = label
	p.handlers = h
	return nil
}

func (p *fakePeer) CreateOffer(context.Context) (string, error) {
	if p.offerErr != nil {
		return "", p.offerErr
	}
	return "v=0 offer", nil
}

func (p *fakePeer) SetAnswer(sdp string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.answer = sdp
	return nil
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	p.closeCalls++
	onClose := p.handlers.OnClose
	onState := p.onState
	p.mu.Unlock()

	// A real transport reports its own shutdown.
	if onClose != nil {
		onClose()
	}
	if onState != nil {
		onState(domain.ConnectionStatusClosed)
	}
	return nil
}

func (p *fakePeer) closes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeCalls
}

func (p *fakePeer) open() {
	p.mu.Lock()
	fn := p.handlers.OnOpen
	p.mu.Unlock()
	fn()
}

func (p *fakePeer) send(payloads ...string) {
	p.mu.Lock()
	fn := p.handlers.OnMessage
	p.mu.Unlock()
	for _, payload := range payloads {
		fn([]byte(payload))
	}
}

func (p *fakePeer) state(status domain.ConnectionStatus) {
	p.mu.Lock()
	fn := p.onState
	p.mu.Unlock()
	fn(status)
}

func (p *fakePeer) remote(stream ports.RemoteAudioStream) {
	p.mu.Lock()
	fn := p.onRemote
	p.mu.Unlock()
	fn(stream)
}

type fakePeerFactory struct {
	mu    sync.Mutex
	peers []*fakePeer
	err   error
}

func (f *fakePeerFactory) NewPeerConnection() (ports.PeerConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	p := &fakePeer{}
	f.peers = append(f.peers, p)
	return p, nil
}

func (f *fakePeerFactory) created() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.peers)
}

func (f *fakePeerFactory) last() *fakePeer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.peers[len(f.peers)-1]
}

type fakeSignaling struct {
	mu     sync.Mutex
	offers []string
	err    error
}

func (f *fakeSignaling) ExchangeSDP(_ context.Context, _ string, offer string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offers = append(f.offers, offer)
	if f.err != nil {
		return "", f.err
	}
	return "v=0 answer", nil
}

type fakeUploader struct {
	mu    sync.Mutex
	turns []domain.Turn
}

func (f *fakeUploader) UploadTurn(_ context.Context, turn domain.Turn) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.turns = append(f.turns, turn)
	return nil
}

func (f *fakeUploader) snapshot() []domain.Turn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Turn(nil), f.turns...)
}

type fakeFeedback struct {
	mu    sync.Mutex
	items []domain.LiveFeedbackItem
}

func (f *fakeFeedback) FetchLiveFeedback(context.Context, string) ([]domain.LiveFeedbackItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.items == nil {
		return nil, errors.New("not ready")
	}
	return append([]domain.LiveFeedbackItem(nil), f.items...), nil
}

type fakeSessions struct {
	mu        sync.Mutex
	completed []string
	err       error
}

func (f *fakeSessions) CompleteSession(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, id)
	return f.err
}

type fakeOutput struct {
	mu         sync.Mutex
	played     []ports.RemoteAudioStream
	clearCalls int
}

func (f *fakeOutput) Play(stream ports.RemoteAudioStream) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.played = append(f.played, stream)
	return nil
}

func (f *fakeOutput) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clearCalls++
	return nil
}

type fakeRemoteStream struct {
	mu   sync.Mutex
	subs map[int]func(*rtp.Packet)
	next int
	seq  uint16
}

func newFakeRemoteStream() *fakeRemoteStream {
	return &fakeRemoteStream{subs: make(map[int]func(*rtp.Packet))}
}

func (s *fakeRemoteStream) ID() string        { return "assistant-audio" }
func (s *fakeRemoteStream) ClockRate() uint32 { return 48000 }
func (s *fakeRemoteStream) Channels() uint16  { return 2 }

func (s *fakeRemoteStream) Subscribe(fn func(*rtp.Packet)) func() {
	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *fakeRemoteStream) send(n int) {
	for i := 0; i < n; i++ {
		s.mu.Lock()
		s.seq++
		pkt := &rtp.Packet{
			Header:  rtp.Header{Version: 2, PayloadType: 111, SequenceNumber: s.seq, Timestamp: uint32(s.seq) * 960},
			Payload: []byte{0xfc, 0xff, 0xfe},
		}
		subs := make([]func(*rtp.Packet), 0, len(s.subs))
		for _, fn := range s.subs {
			subs = append(subs, fn)
		}
		s.mu.Unlock()
		for _, fn := range subs {
			fn(pkt)
		}
	}
}

func (s *fakeRemoteStream) subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

type errEvent struct {
	code   domain.ErrorCode
	detail string
}

type fakeEventSink struct {
	mu sync.Mutex

	statuses  []domain.ConnectionStatus
	messages  [][]domain.Message
	feedback  [][]domain.LiveFeedbackItem
	errors    []errEvent
	completed []string
}

func (f *fakeEventSink) ConnectionStatusChanged(status domain.ConnectionStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, status)
}

func (f *fakeEventSink) MessagesChanged(messages []domain.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, messages)
}

func (f *fakeEventSink) LiveFeedbackChanged(items []domain.LiveFeedbackItem) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.feedback = append(f.feedback, items)
}

func (f *fakeEventSink) SessionError(code domain.ErrorCode, detail string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, errEvent{code: code, detail: detail})
}

func (f *fakeEventSink) SessionCompleted(sessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, sessionID)
}

func (f *fakeEventSink) snapshotStatuses() []domain.ConnectionStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.ConnectionStatus(nil), f.statuses...)
}

func (f *fakeEventSink) snapshotErrors() []errEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]errEvent(nil), f.errors...)
}

func (f *fakeEventSink) feedbackUpdates() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.feedback)
}

func (f *fakeEventSink) completedSessions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.completed...)
}

func (f *fakeEventSink) countStatus(status domain.ConnectionStatus) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.statuses {
		if s == status {
			n++
		}
	}
	return n
}
