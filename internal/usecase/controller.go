package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"coachvoice/internal/clock"
	"coachvoice/internal/domain"
	"coachvoice/internal/feedback"
	"coachvoice/internal/ports"
	"coachvoice/internal/recorder"
	"coachvoice/internal/transcript"
	"coachvoice/internal/turns"
)

var ErrNoActiveSession = errors.New("no active voice session")

const (
	DefaultDataChannelLabel = "oai-events"
	wavMIME                 = "audio/wav"
)

// Config controls session behavior.
type Config struct {
	DataChannelLabel string
	FeedbackInterval time.Duration
	IdleWindow       time.Duration
}

// Deps are the collaborators a SessionController drives.
type Deps struct {
	Media     ports.MediaOpener
	Peers     ports.PeerConnectionFactory
	Signaling ports.Signaling
	Turns     ports.TurnUploader
	Feedback  ports.FeedbackSource
	Sessions  ports.SessionBackend
	Output    ports.AudioOutput
	Events    ports.EventSink
}

// SessionController owns the realtime connection for one voice session and
// routes inbound data-channel events to the transcript, turn and recorder
// components.
type SessionController struct {
	d    Deps
	cfg  Config
	log  logrus.FieldLogger

	messages *transcript.Assembler
	turns    *turns.Assembler

	mu          sync.Mutex
	initialized bool
	current     *activeSession
	status      domain.ConnectionStatus
	muted       bool
	// lastSessionID is the most recent session not yet marked completed.
	lastSessionID string

	teardowns sync.WaitGroup
}

func NewSessionController(d Deps, cfg Config, log logrus.FieldLogger) *SessionController {
	if cfg.DataChannelLabel == "" {
		cfg.DataChannelLabel = DefaultDataChannelLabel
	}
	if cfg.FeedbackInterval <= 0 {
		cfg.FeedbackInterval = feedback.DefaultInterval
	}
	if cfg.IdleWindow <= 0 {
		cfg.IdleWindow = recorder.DefaultIdleWindow
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	c := &SessionController{
		d:        d,
		cfg:      cfg,
		log:      log,
		messages: transcript.NewAssembler(),
		turns:    turns.NewAssembler(d.Turns, d.Events, log),
		status:   domain.ConnectionStatusNew,
	}
	c.messages.OnChange(d.Events.MessagesChanged)
	return c
}

// Start connects a new voice session. It is a no-op while a session is
// already initialized. Failures tear the session down before returning.
func (c *SessionController) Start(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return errors.New("session id is required")
	}

	c.mu.Lock()
	if c.initialized {
		c.mu.Unlock()
		c.log.WithField("session_id", sessionID).Debug("start ignored: session already initialized")
		return nil
	}
	c.initialized = true
	c.muted = false

	sessionCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	log := c.log.WithField("session_id", sessionID)
	elapsed := clock.NewElapsed()
	s := &activeSession{
		id:              sessionID,
		ctx:             sessionCtx,
		cancel:          cancel,
		clock:           elapsed,
		local:           recorder.NewDual(elapsed, c.cfg.IdleWindow, log),
		remote:          recorder.NewRemote(),
		poller:          feedback.NewPoller(c.d.Feedback, sessionID, c.cfg.FeedbackInterval, log),
		inbox:           make(chan []byte, inboxSize),
		dispatchDone:    make(chan struct{}),
		closedResponses: make(map[string]struct{}),
	}
	s.poller.OnUpdate(c.d.Events.LiveFeedbackChanged)
	c.current = s
	c.lastSessionID = sessionID
	c.mu.Unlock()

	go c.dispatch(s, log)

	log.Info("starting voice session")
	c.setStatus(s, domain.ConnectionStatusConnecting)

	media, err := c.d.Media.Open(sessionCtx)
	if err != nil {
		c.abort(s, domain.ErrorCodeMicrophone, fmt.Sprintf("microphone unavailable: %v", err))
		return fmt.Errorf("open microphone: %w", err)
	}
	if !s.setMedia(media) {
		_ = media.Close()
		return ErrNoActiveSession
	}

	pc, err := c.d.Peers.NewPeerConnection()
	if err != nil {
		c.abort(s, domain.ErrorCodeTransport, fmt.Sprintf("failed to open connection: %v", err))
		return err
	}
	if !s.setPeer(pc) {
		_ = pc.Close()
		return ErrNoActiveSession
	}

	pc.OnStateChange(func(status domain.ConnectionStatus) { c.handleTransportState(s, status) })
	pc.OnRemoteAudio(func(stream ports.RemoteAudioStream) { c.handleRemoteAudio(s, stream) })
	if err := pc.AddLocalAudio(media); err != nil {
		c.abort(s, domain.ErrorCodeTransport, fmt.Sprintf("failed to attach microphone: %v", err))
		return err
	}
	err = pc.OpenDataChannel(c.cfg.DataChannelLabel, ports.DataChannelHandlers{
		OnOpen:    func() { c.handleChannelOpen(s) },
		OnClose:   func() { c.fail(s, domain.ErrorCodeTransport, "data channel closed") },
		OnError:   func(err error) { c.fail(s, domain.ErrorCodeTransport, fmt.Sprintf("data channel error: %v", err)) },
		OnMessage: s.enqueue,
	})
	if err != nil {
		c.abort(s, domain.ErrorCodeTransport, err.Error())
		return err
	}

	if err := c.negotiate(ctx, s, pc); err != nil {
		c.abort(s, domain.ErrorCodeNegotiation, err.Error())
		return err
	}
	log.Info("session negotiated")
	return nil
}

func (c *SessionController) negotiate(ctx context.Context, s *activeSession, pc ports.PeerConnection) error {
	offer, err := pc.CreateOffer(ctx)
	if err != nil {
		return err
	}
	answer, err := c.d.Signaling.ExchangeSDP(ctx, s.id, offer)
	if err != nil {
		return fmt.Errorf("sdp exchange failed: %w", err)
	}
	if s.isClosed() {
		return ErrNoActiveSession
	}
	return pc.SetAnswer(answer)
}

// Cleanup tears down the current session; idempotent.
func (c *SessionController) Cleanup() {
	c.mu.Lock()
	s := c.current
	c.mu.Unlock()
	if s != nil {
		c.teardown(s)
	}
}

// Disconnect tears the session down and marks it completed on the backend. A
// session that already ended on a fatal error is still completed.
func (c *SessionController) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	s := c.current
	sessionID := c.lastSessionID
	c.mu.Unlock()
	if sessionID == "" {
		return ErrNoActiveSession
	}

	if s != nil {
		c.teardown(s)
	}
	if err := c.d.Sessions.CompleteSession(ctx, sessionID); err != nil {
		c.d.Events.SessionError(domain.ErrorCodeSessionComplete, fmt.Sprintf("failed to complete session: %v", err))
		return err
	}

	c.mu.Lock()
	if c.lastSessionID == sessionID {
		c.lastSessionID = ""
	}
	c.mu.Unlock()

	c.log.WithField("session_id", sessionID).Info("session completed")
	c.d.Events.SessionCompleted(sessionID)
	return nil
}

// SetMuted toggles the microphone. Muted capture keeps flowing as silence.
func (c *SessionController) SetMuted(muted bool) error {
	c.mu.Lock()
	s := c.current
	c.mu.Unlock()
	if s == nil {
		return ErrNoActiveSession
	}
	media := s.getMedia()
	if media == nil {
		return ErrNoActiveSession
	}
	media.SetEnabled(!muted)

	c.mu.Lock()
	c.muted = muted
	c.mu.Unlock()
	return nil
}

func (c *SessionController) Status() domain.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := domain.Status{Connection: c.status, Muted: c.muted}
	if c.current != nil {
		st.SessionID = c.current.id
		st.Active = true
		st.ElapsedMs = c.current.clock.ElapsedMs()
	}
	return st
}

func (c *SessionController) Messages() []domain.Message {
	return c.messages.Messages()
}

func (c *SessionController) Feedback() []domain.LiveFeedbackItem {
	c.mu.Lock()
	s := c.current
	c.mu.Unlock()
	if s == nil {
		return nil
	}
	return s.poller.Items()
}

// WaitIdle blocks until pending teardowns and every dispatched turn upload
// have returned.
func (c *SessionController) WaitIdle() {
	c.teardowns.Wait()
	c.turns.Wait()
}

func (c *SessionController) teardown(s *activeSession) {
	if !s.markClosed() {
		return
	}

	c.mu.Lock()
	wasCurrent := c.current == s
	if wasCurrent {
		c.current = nil
		c.initialized = false
		c.muted = false
	}
	c.mu.Unlock()

	s.cancel()
	<-s.dispatchDone

	pc, media := s.release()
	if pc != nil {
		_ = pc.Close()
	}
	if media != nil {
		_ = media.Close()
	}
	if c.d.Output != nil {
		_ = c.d.Output.Clear()
	}
	s.clock.Stop()
	s.poller.Stop()
	s.local.Stop()
	_ = s.remote.Stop()

	if wasCurrent {
		c.messages.Reset()
		c.turns.Reset()
		c.mu.Lock()
		failed := c.status == domain.ConnectionStatusFailed
		c.mu.Unlock()
		if !failed {
			c.setStatus(nil, domain.ConnectionStatusClosed)
		}
	}
	c.log.WithField("session_id", s.id).Info("voice session cleaned up")
}

// abort reports a fatal startup error and tears the session down before
// returning.
func (c *SessionController) abort(s *activeSession, code domain.ErrorCode, detail string) {
	if c.reportFatal(s, code, detail) {
		c.teardown(s)
	}
}

// fail is abort for transport callbacks, which must not block on teardown.
func (c *SessionController) fail(s *activeSession, code domain.ErrorCode, detail string) {
	if c.reportFatal(s, code, detail) {
		c.teardowns.Add(1)
		go func() {
			defer c.teardowns.Done()
			c.teardown(s)
		}()
	}
}

func (c *SessionController) reportFatal(s *activeSession, code domain.ErrorCode, detail string) bool {
	if s.isClosed() {
		return false
	}
	c.log.WithFields(logrus.Fields{"session_id": s.id, "code": code}).Warn(detail)
	c.d.Events.SessionError(code, detail)
	return true
}

// setStatus publishes status for session s, or for the idle controller when s
// is nil. Repeated values are not re-emitted.
func (c *SessionController) setStatus(s *activeSession, status domain.ConnectionStatus) {
	c.mu.Lock()
	if c.current != s {
		c.mu.Unlock()
		return
	}
	if c.status == status {
		c.mu.Unlock()
		return
	}
	c.status = status
	c.mu.Unlock()

	c.d.Events.ConnectionStatusChanged(status)
}

func (c *SessionController) handleTransportState(s *activeSession, status domain.ConnectionStatus) {
	if s.isClosed() {
		return
	}
	c.setStatus(s, status)
	if status.Terminal() {
		c.fail(s, domain.ErrorCodeTransport, fmt.Sprintf("connection %s", status))
	}
}

func (c *SessionController) handleChannelOpen(s *activeSession) {
	if !s.markUsable() {
		return
	}
	media := s.getMedia()
	if media == nil {
		return
	}
	s.clock.Start()
	s.local.Start(media)
	c.setStatus(s, domain.ConnectionStatusConnected)
	c.log.WithField("session_id", s.id).Info("data channel open")
}

func (c *SessionController) handleRemoteAudio(s *activeSession, stream ports.RemoteAudioStream) {
	if !s.bindRemote(stream) || c.d.Output == nil {
		return
	}
	if err := c.d.Output.Play(stream); err != nil {
		c.log.WithError(err).Warn("failed to play remote audio")
	}
}
