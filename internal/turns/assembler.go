// Package turns collects the independently arriving pieces of a conversational
// turn and uploads each complete turn exactly once.
package turns

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"coachvoice/internal/domain"
	"coachvoice/internal/ports"
)

type state int

const (
	stateCollecting state = iota
	stateReady
	stateDispatched
)

func (s state) String() string {
	switch s {
	case stateCollecting:
		return "collecting"
	case stateReady:
		return "ready"
	case stateDispatched:
		return "dispatched"
	default:
		return "unknown"
	}
}

type partialTurn struct {
	state state

	sessionID string
	speaker   domain.Sender
	text      string
	hasMeta   bool

	audio     []byte
	audioMIME string

	startOffset *int64
	endOffset   *int64
}

func (p *partialTurn) complete() bool {
	return p.hasMeta &&
		p.sessionID != "" &&
		p.speaker != "" &&
		p.text != "" &&
		p.audio != nil &&
		p.startOffset != nil &&
		p.endOffset != nil
}

func (p *partialTurn) advance() {
	if p.state == stateCollecting && p.complete() {
		p.state = stateReady
	}
}

// Assembler merges turn fields keyed by the protocol's turn id. A turn leaves
// the map the moment it becomes complete and is uploaded on its own goroutine;
// upload failures are reported and never retried.
type Assembler struct {
	uploader ports.TurnUploader
	events   ports.EventSink
	log      logrus.FieldLogger

	mu         sync.Mutex
	pending    map[string]*partialTurn
	dispatched map[string]struct{}

	inflight sync.WaitGroup
}

func NewAssembler(uploader ports.TurnUploader, events ports.EventSink, log logrus.FieldLogger) *Assembler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Assembler{
		uploader:   uploader,
		events:     events,
		log:        log,
		pending:    make(map[string]*partialTurn),
		dispatched: make(map[string]struct{}),
	}
}

// SetAudio attaches the encoded audio clip. A nil clip is stored as empty so
// the field still counts as present.
func (a *Assembler) SetAudio(id string, audio []byte, mime string) {
	if audio == nil {
		audio = []byte{}
	}
	a.update(id, func(p *partialTurn) {
		p.audio = audio
		p.audioMIME = mime
	})
}

func (a *Assembler) SetMetadata(id string, speaker domain.Sender, text, sessionID string) {
	a.update(id, func(p *partialTurn) {
		p.speaker = speaker
		p.text = text
		p.sessionID = sessionID
		p.hasMeta = true
	})
}

func (a *Assembler) SetStartOffset(id string, ms int64) {
	a.update(id, func(p *partialTurn) { p.startOffset = &ms })
}

func (a *Assembler) SetEndOffset(id string, ms int64) {
	a.update(id, func(p *partialTurn) { p.endOffset = &ms })
}

// Pending reports whether id still has an undispatched record.
func (a *Assembler) Pending(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.pending[id]
	return ok
}

// Len returns the number of undispatched turns.
func (a *Assembler) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

// Reset drops every undispatched turn. Uploads already in flight continue.
func (a *Assembler) Reset() {
	a.mu.Lock()
	a.pending = make(map[string]*partialTurn)
	a.dispatched = make(map[string]struct{})
	a.mu.Unlock()
}

// Wait blocks until every dispatched upload has returned.
func (a *Assembler) Wait() {
	a.inflight.Wait()
}

func (a *Assembler) update(id string, apply func(*partialTurn)) {
	if id == "" {
		return
	}

	a.mu.Lock()
	if _, done := a.dispatched[id]; done {
		a.mu.Unlock()
		a.log.WithField("turn_id", id).Debug("ignoring field for dispatched turn")
		return
	}
	p, ok := a.pending[id]
	if !ok {
		p = &partialTurn{state: stateCollecting}
		a.pending[id] = p
	}
	apply(p)
	p.advance()
	if p.state != stateReady {
		a.mu.Unlock()
		return
	}

	p.state = stateDispatched
	delete(a.pending, id)
	a.dispatched[id] = struct{}{}
	turn := domain.Turn{
		ID:            id,
		SessionID:     p.sessionID,
		Speaker:       p.speaker,
		Text:          p.text,
		StartOffsetMs: *p.startOffset,
		EndOffsetMs:   *p.endOffset,
		Audio:         p.audio,
		AudioMIME:     p.audioMIME,
	}
	a.inflight.Add(1)
	a.mu.Unlock()

	go a.upload(turn)
}

func (a *Assembler) upload(turn domain.Turn) {
	defer a.inflight.Done()

	log := a.log.WithFields(logrus.Fields{
		"turn_id":    turn.ID,
		"session_id": turn.SessionID,
		"speaker":    turn.Speaker,
	})
	log.WithFields(logrus.Fields{
		"start_offset_ms": turn.StartOffsetMs,
		"end_offset_ms":   turn.EndOffsetMs,
		"audio_bytes":     len(turn.Audio),
	}).Info("uploading turn")

	if err := a.uploader.UploadTurn(context.Background(), turn); err != nil {
		log.WithError(err).Warn("turn upload failed")
		if a.events != nil {
			a.events.SessionError(domain.ErrorCodeTurnUpload, fmt.Sprintf("failed to save %s turn: %v", turn.Speaker, err))
		}
	}
}
