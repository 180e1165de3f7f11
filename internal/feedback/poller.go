// Package feedback polls the backend for coaching suggestions produced after
// each user utterance.
package feedback

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"coachvoice/internal/domain"
	"coachvoice/internal/ports"
)

const DefaultInterval = time.Second

// Poller fetches the live-feedback list on a fixed interval until it observes
// a change, then stops itself. Start it again after the next utterance.
type Poller struct {
	source    ports.FeedbackSource
	sessionID string
	interval  time.Duration
	log       logrus.FieldLogger

	inflight *semaphore.Weighted

	mu       sync.Mutex
	items    []domain.LiveFeedbackItem
	cancel   context.CancelFunc
	gen      uint64
	onUpdate func([]domain.LiveFeedbackItem)
}

func NewPoller(source ports.FeedbackSource, sessionID string, interval time.Duration, log logrus.FieldLogger) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Poller{
		source:    source,
		sessionID: sessionID,
		interval:  interval,
		log:       log,
		inflight:  semaphore.NewWeighted(1),
	}
}

// OnUpdate registers fn to receive the list each time a new one is adopted.
func (p *Poller) OnUpdate(fn func([]domain.LiveFeedbackItem)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onUpdate = fn
}

// Start begins polling. It is a no-op while already polling.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	if p.cancel != nil {
		p.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.gen++
	gen := p.gen
	p.mu.Unlock()

	go p.loop(loopCtx, gen)
}

// Stop cancels polling; idempotent.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

// Items returns the currently held list, newest first.
func (p *Poller) Items() []domain.LiveFeedbackItem {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.LiveFeedbackItem, len(p.items))
	copy(out, p.items)
	return out
}

// Reset forgets the held list.
func (p *Poller) Reset() {
	p.mu.Lock()
	p.items = nil
	p.mu.Unlock()
}

func (p *Poller) loop(ctx context.Context, gen uint64) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !p.inflight.TryAcquire(1) {
				continue
			}
			go func() {
				defer p.inflight.Release(1)
				p.poll(ctx, gen)
			}()
		}
	}
}

// poll runs one fetch and reports whether a new list was adopted.
func (p *Poller) poll(ctx context.Context, gen uint64) bool {
	fetched, err := p.source.FetchLiveFeedback(ctx, p.sessionID)
	if err != nil {
		if ctx.Err() == nil {
			p.log.WithError(err).Debug("live feedback poll failed")
		}
		return false
	}
	if ctx.Err() != nil {
		return false
	}

	p.mu.Lock()
	if !changed(p.items, fetched) {
		p.mu.Unlock()
		return false
	}
	p.items = append([]domain.LiveFeedbackItem(nil), fetched...)
	snapshot := append([]domain.LiveFeedbackItem(nil), fetched...)
	notify := p.onUpdate
	var cancel context.CancelFunc
	if p.gen == gen {
		cancel = p.cancel
		p.cancel = nil
	}
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	p.log.WithField("items", len(snapshot)).Debug("live feedback updated")
	if notify != nil {
		notify(snapshot)
	}
	return true
}

// changed compares by length and head id only. Items inserted behind an
// unchanged head of the same length go unnoticed.
func changed(held, fetched []domain.LiveFeedbackItem) bool {
	if len(fetched) > len(held) {
		return true
	}
	if len(fetched) == 0 || len(held) == 0 {
		return false
	}
	return fetched[0].ID != held[0].ID
}
