package main

import (
	"sync"

	"github.com/sirupsen/logrus"

	"coachvoice/internal/domain"
)

// logSink renders pipeline events as log lines for the headless client.
type logSink struct {
	log logrus.FieldLogger

	mu        sync.Mutex
	connected bool
	lastLen   int
	ended     chan struct{}
	endOnce   sync.Once
}

func newLogSink(log logrus.FieldLogger) *logSink {
	return &logSink{log: log, ended: make(chan struct{})}
}

// Ended is closed once a connected session reaches a terminal status.
func (s *logSink) Ended() <-chan struct{} {
	return s.ended
}

func (s *logSink) ConnectionStatusChanged(status domain.ConnectionStatus) {
	s.log.WithField("status", status).Info("connection status changed")

	s.mu.Lock()
	if status == domain.ConnectionStatusConnecting || status == domain.ConnectionStatusConnected {
		s.connected = true
	}
	started := s.connected
	s.mu.Unlock()

	if started && status.Terminal() {
		s.endOnce.Do(func() { close(s.ended) })
	}
}

// MessagesChanged logs each message once it is superseded by a newer one.
func (s *logSink) MessagesChanged(messages []domain.Message) {
	s.mu.Lock()
	prev := s.lastLen
	s.lastLen = len(messages)
	s.mu.Unlock()

	if len(messages) < prev {
		return
	}
	start := prev - 1
	if start < 0 {
		start = 0
	}
	for i := start; i < len(messages)-1; i++ {
		msg := messages[i]
		if msg.Text == "" {
			continue
		}
		s.log.WithField("sender", msg.Sender).Info(msg.Text)
	}
}

func (s *logSink) LiveFeedbackChanged(items []domain.LiveFeedbackItem) {
	for _, item := range items {
		s.log.WithFields(logrus.Fields{"feedback_id": item.ID, "heading": item.Heading}).Info(item.FeedbackText)
	}
}

func (s *logSink) SessionError(code domain.ErrorCode, detail string) {
	s.log.WithField("code", code).Warn(detail)
}

func (s *logSink) SessionCompleted(sessionID string) {
	s.log.WithField("session_id", sessionID).Info("session completed")
}
