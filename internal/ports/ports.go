package ports

import (
	"context"
	"io"

	"github.com/pion/rtp"

	"coachvoice/internal/domain"
)

// AudioConfig describes how the microphone should be captured.
type AudioConfig struct {
	SampleRate  int
	Channels    int
	FrameMs     int
	InputFormat string
	InputDevice string
}

// AudioSession is a live capture session producing s16le interleaved PCM.
type AudioSession interface {
	io.ReadCloser
	Stop() error
}

// AudioCapture creates microphone capture sessions.
type AudioCapture interface {
	Start(ctx context.Context, cfg AudioConfig) (AudioSession, error)
}

// AudioFormat is the PCM layout of a local audio stream.
type AudioFormat struct {
	SampleRate int
	Channels   int
	FrameMs    int
}

// FrameBytes is the size of one s16le frame in bytes.
func (f AudioFormat) FrameBytes() int {
	return f.SampleRate * f.FrameMs / 1000 * f.Channels * 2
}

// LocalAudioStream fans captured microphone frames out to subscribers.
type LocalAudioStream interface {
	Format() AudioFormat
	Subscribe(fn func(frame []byte)) (unsubscribe func())
}

// MediaSource is the acquired local microphone stream. Disabling it replaces
// frames with silence so timing is preserved.
type MediaSource interface {
	LocalAudioStream
	SetEnabled(enabled bool)
	Enabled() bool
	Close() error
}

// MediaOpener acquires the local microphone.
type MediaOpener interface {
	Open(ctx context.Context) (MediaSource, error)
}

// RemoteAudioStream fans RTP packets of the peer's audio track out to subscribers.
type RemoteAudioStream interface {
	ID() string
	ClockRate() uint32
	Channels() uint16
	Subscribe(fn func(packet *rtp.Packet)) (unsubscribe func())
}

// DataChannelHandlers receive data channel lifecycle and payloads.
type DataChannelHandlers struct {
	OnOpen    func()
	OnClose   func()
	OnError   func(err error)
	OnMessage func(payload []byte)
}

// PeerConnection is a realtime media + data transport to the AI peer.
type PeerConnection interface {
	AddLocalAudio(stream LocalAudioStream) error
	OnRemoteAudio(fn func(stream RemoteAudioStream))
	OnStateChange(fn func(status domain.ConnectionStatus))
	OpenDataChannel(label string, handlers DataChannelHandlers) error
	// CreateOffer sets the local description and returns its SDP once
	// candidate gathering has finished.
	CreateOffer(ctx context.Context) (string, error)
	SetAnswer(sdp string) error
	Close() error
}

// PeerConnectionFactory opens new peer connections.
type PeerConnectionFactory interface {
	NewPeerConnection() (PeerConnection, error)
}

// Signaling exchanges an SDP offer for the remote answer.
type Signaling interface {
	ExchangeSDP(ctx context.Context, sessionID string, offer string) (string, error)
}

// TurnUploader persists completed turns.
type TurnUploader interface {
	UploadTurn(ctx context.Context, turn domain.Turn) error
}

// FeedbackSource lists live coaching feedback, newest first.
type FeedbackSource interface {
	FetchLiveFeedback(ctx context.Context, sessionID string) ([]domain.LiveFeedbackItem, error)
}

// SessionBackend records session lifecycle transitions.
type SessionBackend interface {
	CompleteSession(ctx context.Context, sessionID string) error
}

// AudioOutput plays the remote peer's audio.
type AudioOutput interface {
	Play(stream RemoteAudioStream) error
	Clear() error
}

// EventSink emits pipeline state/events to the UI.
type EventSink interface {
	ConnectionStatusChanged(status domain.ConnectionStatus)
	MessagesChanged(messages []domain.Message)
	LiveFeedbackChanged(items []domain.LiveFeedbackItem)
	SessionError(code domain.ErrorCode, detail string)
	SessionCompleted(sessionID string)
}
