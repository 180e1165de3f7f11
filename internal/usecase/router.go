package usecase

import (
	"github.com/sirupsen/logrus"

	"coachvoice/internal/domain"
	"coachvoice/internal/realtime"
	"coachvoice/internal/recorder"
)

// dispatch applies inbound data-channel events strictly in arrival order until
// the session is torn down.
func (c *SessionController) dispatch(s *activeSession, log logrus.FieldLogger) {
	defer close(s.dispatchDone)

	for {
		select {
		case <-s.ctx.Done():
			return
		case payload := <-s.inbox:
			event, err := realtime.Classify(payload)
			if err != nil {
				log.WithError(err).Debug("ignoring malformed data channel message")
				continue
			}
			if s.isClosed() {
				return
			}
			c.route(s, event)
		}
	}
}

func (c *SessionController) route(s *activeSession, event realtime.Event) {
	switch ev := event.(type) {
	case realtime.UserItemCreated:
		c.messages.AddPlaceholder(domain.SenderUser)
	case realtime.ResponseCreated:
		c.messages.AddPlaceholder(domain.SenderAssistant)
	case realtime.UserTranscriptDelta:
		c.messages.AppendDelta(domain.SenderUser, ev.Delta)
	case realtime.UserTranscriptCompleted:
		c.turns.SetMetadata(ev.ItemID, domain.SenderUser, ev.Transcript, s.id)
	case realtime.AssistantTranscriptDelta:
		c.messages.AppendDelta(domain.SenderAssistant, ev.Delta)
	case realtime.AssistantTranscriptDone:
		c.turns.SetMetadata(ev.ResponseID, domain.SenderAssistant, ev.Transcript, s.id)
	case realtime.SpeechStarted:
		c.onSpeechStarted(s, ev)
	case realtime.SpeechStopped:
		c.onSpeechStopped(s, ev)
	case realtime.AudioContentPartAdded:
		c.onAudioPartAdded(s, ev)
	case realtime.OutputAudioStopped:
		c.onOutputAudioStopped(s, ev)
	}
}

func (c *SessionController) onSpeechStarted(s *activeSession, ev realtime.SpeechStarted) {
	s.speechStartMs = ev.AudioStartMs
	s.speechItemID = ev.ItemID
	c.turns.SetStartOffset(ev.ItemID, ev.AudioStartMs)

	// Barge-in: the user interrupted the assistant mid-utterance.
	if s.activeResponse != "" {
		c.log.WithFields(logrus.Fields{
			"session_id":  s.id,
			"response_id": s.activeResponse,
		}).Debug("user interrupted assistant")
		c.closeResponse(s, s.activeResponse)
	}
}

func (c *SessionController) onSpeechStopped(s *activeSession, ev realtime.SpeechStopped) {
	itemID := ev.ItemID
	if itemID == "" {
		itemID = s.speechItemID
	}
	startMs := s.speechStartMs
	endMs := ev.AudioEndMs

	segment := s.local.ExtractSegment(startMs, endMs)
	c.turns.SetEndOffset(itemID, endMs)
	go c.attachSegment(s, itemID, segment)

	s.poller.Start(s.ctx)
}

func (c *SessionController) attachSegment(s *activeSession, itemID string, segment <-chan recorder.Segment) {
	seg := <-segment
	if seg.Err != nil {
		if s.isClosed() {
			return
		}
		c.log.WithError(seg.Err).WithField("turn_id", itemID).Warn("failed to extract user audio")
		c.d.Events.SessionError(domain.ErrorCodeTurnUpload, "failed to capture your last utterance")
		return
	}
	// Under the session lock so teardown's turn reset cannot interleave.
	s.whileOpen(func() { c.turns.SetAudio(itemID, seg.WAV, wavMIME) })
}

func (c *SessionController) onAudioPartAdded(s *activeSession, ev realtime.AudioContentPartAdded) {
	if _, closed := s.closedResponses[ev.ResponseID]; closed {
		return
	}
	fresh := s.activeResponse != ev.ResponseID
	if fresh && s.activeResponse != "" {
		c.closeResponse(s, s.activeResponse)
	}
	if stream := s.boundRemote(); stream != nil {
		if err := s.remote.Start(stream); err != nil {
			c.log.WithError(err).Warn("failed to record assistant audio")
		}
	}
	if fresh {
		s.activeResponse = ev.ResponseID
		c.turns.SetStartOffset(ev.ResponseID, s.clock.ElapsedMs())
	}
}

func (c *SessionController) onOutputAudioStopped(s *activeSession, ev realtime.OutputAudioStopped) {
	id := ev.ResponseID
	if id == "" {
		id = s.activeResponse
	}
	if id == "" {
		return
	}
	if _, closed := s.closedResponses[id]; closed {
		return
	}
	c.closeResponse(s, id)
}

// closeResponse ends the assistant turn for id at the current elapsed time.
// Each response is closed at most once.
func (c *SessionController) closeResponse(s *activeSession, id string) {
	clip := []byte{}
	if s.activeResponse == id || s.activeResponse == "" {
		clip = s.remote.Stop()
		s.activeResponse = ""
	}
	s.closedResponses[id] = struct{}{}
	c.turns.SetAudio(id, clip, recorder.RemoteMIME)
	c.turns.SetEndOffset(id, s.clock.ElapsedMs())
}
