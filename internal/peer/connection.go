// Package peer adapts pion/webrtc to the pipeline's PeerConnection port: an
// Opus-encoded microphone track, the remote audio track and one data channel.
package peer

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/hraban/opus"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/sirupsen/logrus"

	"coachvoice/internal/domain"
	"coachvoice/internal/ports"
)

// Config controls ICE and codec settings for new connections.
type Config struct {
	ICEServers []string
	// OpusBitrate is the target encoder bitrate in bits per second; 0 keeps
	// the encoder default.
	OpusBitrate int
}

// Factory opens pion peer connections.
type Factory struct {
	cfg Config
	log logrus.FieldLogger
}

func NewFactory(cfg Config, log logrus.FieldLogger) *Factory {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Factory{cfg: cfg, log: log}
}

func (f *Factory) NewPeerConnection() (ports.PeerConnection, error) {
	var servers []webrtc.ICEServer
	urls := make([]string, 0, len(f.cfg.ICEServers))
	for _, u := range f.cfg.ICEServers {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	if len(urls) > 0 {
		servers = append(servers, webrtc.ICEServer{URLs: urls})
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: servers})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	c := &Connection{pc: pc, cfg: f.cfg, log: f.log}
	pc.OnTrack(c.handleTrack)
	pc.OnConnectionStateChange(c.handleState)
	return c, nil
}

// Connection is one pion peer connection.
type Connection struct {
	pc  *webrtc.PeerConnection
	cfg Config
	log logrus.FieldLogger

	mu          sync.Mutex
	onRemote    func(ports.RemoteAudioStream)
	onState     func(domain.ConnectionStatus)
	unsubscribe []func()
	remotes     []*remoteAudio
	closed      bool

	closeOnce sync.Once
	closeErr  error
}

// AddLocalAudio encodes every frame of stream to Opus and sends it on a new
// audio track.
func (c *Connection) AddLocalAudio(stream ports.LocalAudioStream) error {
	format := stream.Format()
	enc, err := opus.NewEncoder(format.SampleRate, format.Channels, opus.AppVoIP)
	if err != nil {
		return fmt.Errorf("create opus encoder: %w", err)
	}
	if c.cfg.OpusBitrate > 0 {
		if err := enc.SetBitrate(c.cfg.OpusBitrate); err != nil {
			return fmt.Errorf("set opus bitrate: %w", err)
		}
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio", "coachvoice",
	)
	if err != nil {
		return fmt.Errorf("create local audio track: %w", err)
	}
	sender, err := c.pc.AddTrack(track)
	if err != nil {
		return fmt.Errorf("add local audio track: %w", err)
	}
	go drainRTCP(sender)

	encoder := &frameEncoder{
		enc:      enc,
		track:    track,
		duration: time.Duration(format.FrameMs) * time.Millisecond,
		out:      make([]byte, 4000),
		log:      c.log,
	}
	unsubscribe := stream.Subscribe(encoder.write)

	c.mu.Lock()
	closed := c.closed
	if !closed {
		c.unsubscribe = append(c.unsubscribe, unsubscribe)
	}
	c.mu.Unlock()
	if closed {
		unsubscribe()
		return webrtc.ErrConnectionClosed
	}
	return nil
}

func (c *Connection) OnRemoteAudio(fn func(ports.RemoteAudioStream)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onRemote = fn
}

func (c *Connection) OnStateChange(fn func(domain.ConnectionStatus)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = fn
}

func (c *Connection) OpenDataChannel(label string, h ports.DataChannelHandlers) error {
	dc, err := c.pc.CreateDataChannel(label, nil)
	if err != nil {
		return fmt.Errorf("create data channel %q: %w", label, err)
	}
	if h.OnOpen != nil {
		dc.OnOpen(h.OnOpen)
	}
	if h.OnClose != nil {
		dc.OnClose(h.OnClose)
	}
	if h.OnError != nil {
		dc.OnError(h.OnError)
	}
	if h.OnMessage != nil {
		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			h.OnMessage(msg.Data)
		})
	}
	return nil
}

// CreateOffer creates and applies the local offer, then waits for ICE
// gathering so the returned SDP carries every candidate.
func (c *Connection) CreateOffer(ctx context.Context) (string, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("create offer: %w", err)
	}
	gathered := webrtc.GatheringCompletePromise(c.pc)
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}

	select {
	case <-gathered:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	local := c.pc.LocalDescription()
	if local == nil {
		return "", errors.New("local description missing after gathering")
	}
	return local.SDP, nil
}

func (c *Connection) SetAnswer(sdp string) error {
	err := c.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp})
	if err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	return nil
}

// Close releases the connection and detaches from the local stream; idempotent.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		unsubscribe := c.unsubscribe
		c.unsubscribe = nil
		remotes := c.remotes
		c.remotes = nil
		c.mu.Unlock()

		for _, fn := range unsubscribe {
			fn()
		}
		c.closeErr = c.pc.Close()
		for _, r := range remotes {
			r.clear()
		}
	})
	return c.closeErr
}

func (c *Connection) handleTrack(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	if track.Kind() != webrtc.RTPCodecTypeAudio {
		return
	}
	codec := track.Codec()
	stream := newRemoteAudio(track.ID(), codec.ClockRate, codec.Channels)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.remotes = append(c.remotes, stream)
	fn := c.onRemote
	c.mu.Unlock()

	c.log.WithFields(logrus.Fields{
		"track_id":   track.ID(),
		"codec":      codec.MimeType,
		"clock_rate": codec.ClockRate,
	}).Info("remote audio track received")

	go stream.readLoop(track, c.log)
	if fn != nil {
		fn(stream)
	}
}

func (c *Connection) handleState(state webrtc.PeerConnectionState) {
	c.mu.Lock()
	fn := c.onState
	c.mu.Unlock()

	status := MapState(state)
	c.log.WithField("state", state.String()).Debug("peer connection state changed")
	if fn != nil {
		fn(status)
	}
}

// MapState converts a pion connection state to the pipeline's status.
func MapState(state webrtc.PeerConnectionState) domain.ConnectionStatus {
	switch state {
	case webrtc.PeerConnectionStateConnecting:
		return domain.ConnectionStatusConnecting
	case webrtc.PeerConnectionStateConnected:
		return domain.ConnectionStatusConnected
	case webrtc.PeerConnectionStateDisconnected:
		return domain.ConnectionStatusDisconnected
	case webrtc.PeerConnectionStateFailed:
		return domain.ConnectionStatusFailed
	case webrtc.PeerConnectionStateClosed:
		return domain.ConnectionStatusClosed
	default:
		return domain.ConnectionStatusNew
	}
}

func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

type frameEncoder struct {
	mu       sync.Mutex
	enc      *opus.Encoder
	track    *webrtc.TrackLocalStaticSample
	duration time.Duration
	pcm      []int16
	out      []byte
	warned   bool
	log      logrus.FieldLogger
}

func (e *frameEncoder) write(frame []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.pcm = pcm16(e.pcm, frame)
	n, err := e.enc.Encode(e.pcm, e.out)
	if err == nil {
		err = e.track.WriteSample(media.Sample{Data: e.out[:n], Duration: e.duration})
	}
	if err != nil && !errors.Is(err, io.ErrClosedPipe) && !e.warned {
		e.warned = true
		e.log.WithError(err).Warn("failed to send microphone frame")
	}
}

// pcm16 decodes little-endian s16 bytes into dst, reusing its capacity.
func pcm16(dst []int16, frame []byte) []int16 {
	n := len(frame) / 2
	if cap(dst) < n {
		dst = make([]int16, n)
	}
	dst = dst[:n]
	for i := range dst {
		dst[i] = int16(binary.LittleEndian.Uint16(frame[i*2:]))
	}
	return dst
}

// remoteAudio fans RTP packets of one remote track out to subscribers.
// Subscribers share each packet and must not modify it.
type remoteAudio struct {
	id        string
	clockRate uint32
	channels  uint16

	mu   sync.RWMutex
	subs map[int]func(*rtp.Packet)
	next int
}

func newRemoteAudio(id string, clockRate uint32, channels uint16) *remoteAudio {
	if clockRate == 0 {
		clockRate = 48000
	}
	if channels == 0 {
		channels = 2
	}
	return &remoteAudio{id: id, clockRate: clockRate, channels: channels, subs: make(map[int]func(*rtp.Packet))}
}

func (r *remoteAudio) ID() string        { return r.id }
func (r *remoteAudio) ClockRate() uint32 { return r.clockRate }
func (r *remoteAudio) Channels() uint16  { return r.channels }

func (r *remoteAudio) Subscribe(fn func(*rtp.Packet)) func() {
	r.mu.Lock()
	id := r.next
	r.next++
	r.subs[id] = fn
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subs, id)
			r.mu.Unlock()
		})
	}
}

func (r *remoteAudio) publish(pkt *rtp.Packet) {
	r.mu.RLock()
	subs := make([]func(*rtp.Packet), 0, len(r.subs))
	for _, fn := range r.subs {
		subs = append(subs, fn)
	}
	r.mu.RUnlock()

	for _, fn := range subs {
		fn(pkt)
	}
}

func (r *remoteAudio) clear() {
	r.mu.Lock()
	r.subs = make(map[int]func(*rtp.Packet))
	r.mu.Unlock()
}

func (r *remoteAudio) readLoop(track *webrtc.TrackRemote, log logrus.FieldLogger) {
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.WithError(err).Debug("remote audio track ended")
			}
			return
		}
		r.publish(pkt)
	}
}
