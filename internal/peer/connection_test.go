package peer

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coachvoice/internal/domain"
	"coachvoice/internal/ports"
)

func TestMapState(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   webrtc.PeerConnectionState
		want domain.ConnectionStatus
	}{
		{webrtc.PeerConnectionStateNew, domain.ConnectionStatusNew},
		{webrtc.PeerConnectionStateConnecting, domain.ConnectionStatusConnecting},
		{webrtc.PeerConnectionStateConnected, domain.ConnectionStatusConnected},
		{webrtc.PeerConnectionStateDisconnected, domain.ConnectionStatusDisconnected},
		{webrtc.PeerConnectionStateFailed, domain.ConnectionStatusFailed},
		{webrtc.PeerConnectionStateClosed, domain.ConnectionStatusClosed},
		{webrtc.PeerConnectionStateUnknown, domain.ConnectionStatusNew},
	}
	for _, tt := range tests {
		assert.Equalf(t, tt.want, MapState(tt.in), "state %s", tt.in)
	}
}

func TestPCM16DecodesLittleEndian(t *testing.T) {
	t.Parallel()

	got := pcm16(nil, []byte{0x01, 0x00, 0xff, 0xff, 0x00, 0x80, 0x7f})
	assert.Equal(t, []int16{1, -1, -32768}, got)

	reused := pcm16(got, []byte{0x02, 0x00})
	assert.Equal(t, []int16{2}, reused)
}

func TestRemoteAudioFanOut(t *testing.T) {
	t.Parallel()

	r := newRemoteAudio("track", 0, 0)
	assert.Equal(t, uint32(48000), r.ClockRate())
	assert.Equal(t, uint16(2), r.Channels())

	var mu sync.Mutex
	var a, b int
	unsubA := r.Subscribe(func(*rtp.Packet) { mu.Lock(); a++; mu.Unlock() })
	r.Subscribe(func(*rtp.Packet) { mu.Lock(); b++; mu.Unlock() })

	r.publish(&rtp.Packet{})
	unsubA()
	unsubA()
	r.publish(&rtp.Packet{})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, a)
	assert.Equal(t, 2, b)
}

func TestRemoteAudioSubscriberMayUnsubscribeDuringPublish(t *testing.T) {
	t.Parallel()

	r := newRemoteAudio("track", 48000, 2)
	calls := 0
	var unsub func()
	unsub = r.Subscribe(func(*rtp.Packet) {
		calls++
		unsub()
	})

	r.publish(&rtp.Packet{})
	r.publish(&rtp.Packet{})
	assert.Equal(t, 1, calls)
}

type silentStream struct {
	mu   sync.Mutex
	subs int
}

func (s *silentStream) Format() ports.AudioFormat {
	return ports.AudioFormat{SampleRate: 48000, Channels: 1, FrameMs: 20}
}

func (s *silentStream) Subscribe(func([]byte)) func() {
	s.mu.Lock()
	s.subs++
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		s.subs--
		s.mu.Unlock()
	}
}

func (s *silentStream) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subs
}

func TestCreateOfferCarriesAudioAndDataChannel(t *testing.T) {
	t.Parallel()

	pc, err := NewFactory(Config{}, nil).NewPeerConnection()
	require.NoError(t, err)

	stream := &silentStream{}
	require.NoError(t, pc.AddLocalAudio(stream))
	require.NoError(t, pc.OpenDataChannel("oai-events", ports.DataChannelHandlers{}))
	assert.Equal(t, 1, stream.count())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	sdp, err := pc.CreateOffer(ctx)
	require.NoError(t, err)
	assert.True(t, strings.Contains(sdp, "m=audio"))
	assert.True(t, strings.Contains(sdp, "m=application"))
	assert.Contains(t, strings.ToLower(sdp), "opus/48000")

	require.NoError(t, pc.Close())
	require.NoError(t, pc.Close())
	assert.Equal(t, 0, stream.count())
	assert.Error(t, pc.AddLocalAudio(stream))
}
