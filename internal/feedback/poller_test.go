package feedback

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coachvoice/internal/domain"
)

type fakeSource struct {
	mu    sync.Mutex
	lists [][]domain.LiveFeedbackItem
	err   error
	calls atomic.Int32
	block chan struct{}
}

func (s *fakeSource) FetchLiveFeedback(ctx context.Context, sessionID string) ([]domain.LiveFeedbackItem, error) {
	s.calls.Add(1)
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	if len(s.lists) == 0 {
		return nil, nil
	}
	next := s.lists[0]
	if len(s.lists) > 1 {
		s.lists = s.lists[1:]
	}
	return next, nil
}

func item(id string) domain.LiveFeedbackItem {
	return domain.LiveFeedbackItem{ID: id, Heading: "h-" + id, FeedbackText: "t-" + id}
}

func TestPollAdoptsLongerListAndStops(t *testing.T) {
	t.Parallel()

	src := &fakeSource{lists: [][]domain.LiveFeedbackItem{{item("1")}}}
	p := NewPoller(src, "sess", time.Hour, nil)
	var updates [][]domain.LiveFeedbackItem
	p.OnUpdate(func(items []domain.LiveFeedbackItem) { updates = append(updates, items) })

	p.Start(context.Background())
	require.True(t, p.Running())

	assert.True(t, p.poll(context.Background(), p.gen))
	assert.False(t, p.Running())
	assert.Equal(t, []domain.LiveFeedbackItem{item("1")}, p.Items())
	require.Len(t, updates, 1)
}

func TestPollSameHeadKeepsPollingAndHeldList(t *testing.T) {
	t.Parallel()

	src := &fakeSource{lists: [][]domain.LiveFeedbackItem{
		{item("2"), item("1")},
		{item("2"), item("1")},
	}}
	p := NewPoller(src, "sess", time.Hour, nil)
	p.items = []domain.LiveFeedbackItem{item("2"), item("1")}

	held := p.Items()
	p.Start(context.Background())
	defer p.Stop()

	assert.False(t, p.poll(context.Background(), p.gen))
	assert.True(t, p.Running())
	assert.Equal(t, held, p.Items())
}

func TestPollHeadChangeWithSameLengthAdopts(t *testing.T) {
	t.Parallel()

	src := &fakeSource{lists: [][]domain.LiveFeedbackItem{{item("3"), item("1")}}}
	p := NewPoller(src, "sess", time.Hour, nil)
	p.items = []domain.LiveFeedbackItem{item("2"), item("1")}

	p.Start(context.Background())
	assert.True(t, p.poll(context.Background(), p.gen))
	assert.False(t, p.Running())
	assert.Equal(t, "3", p.Items()[0].ID)
}

func TestPollEmptyFetchKeepsHeldItems(t *testing.T) {
	t.Parallel()

	src := &fakeSource{}
	p := NewPoller(src, "sess", time.Hour, nil)
	p.items = []domain.LiveFeedbackItem{item("1")}

	assert.False(t, p.poll(context.Background(), p.gen))
	assert.Len(t, p.Items(), 1)
}

func TestPollShorterListWithNewHeadIsAdopted(t *testing.T) {
	t.Parallel()

	src := &fakeSource{lists: [][]domain.LiveFeedbackItem{{item("9")}}}
	p := NewPoller(src, "sess", time.Hour, nil)
	p.items = []domain.LiveFeedbackItem{item("2"), item("1")}

	assert.True(t, p.poll(context.Background(), p.gen))
	require.Len(t, p.Items(), 1)
	assert.Equal(t, "9", p.Items()[0].ID)
}

func TestPollShorterListWithSameHeadIsIgnored(t *testing.T) {
	t.Parallel()

	src := &fakeSource{lists: [][]domain.LiveFeedbackItem{{item("2")}}}
	p := NewPoller(src, "sess", time.Hour, nil)
	p.items = []domain.LiveFeedbackItem{item("2"), item("1")}

	assert.False(t, p.poll(context.Background(), p.gen))
	assert.Len(t, p.Items(), 2)
}

func TestPollErrorsAreSwallowed(t *testing.T) {
	t.Parallel()

	src := &fakeSource{err: errors.New("503")}
	p := NewPoller(src, "sess", 5*time.Millisecond, nil)
	p.Start(context.Background())
	defer p.Stop()

	require.Eventually(t, func() bool { return src.calls.Load() >= 3 }, time.Second, time.Millisecond)
	assert.True(t, p.Running())
	assert.Empty(t, p.Items())
}

func TestTickerLoopStopsAfterChange(t *testing.T) {
	t.Parallel()

	src := &fakeSource{lists: [][]domain.LiveFeedbackItem{
		nil,
		{item("1")},
	}}
	p := NewPoller(src, "sess", 5*time.Millisecond, nil)
	p.Start(context.Background())

	require.Eventually(t, func() bool { return !p.Running() }, time.Second, time.Millisecond)
	assert.Equal(t, []domain.LiveFeedbackItem{item("1")}, p.Items())
}

func TestOverlappingTicksDoNotOverlapFetches(t *testing.T) {
	t.Parallel()

	src := &fakeSource{block: make(chan struct{})}
	p := NewPoller(src, "sess", time.Millisecond, nil)
	p.Start(context.Background())

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(1), src.calls.Load())

	p.Stop()
	close(src.block)
}

func TestStopIsIdempotent(t *testing.T) {
	t.Parallel()

	p := NewPoller(&fakeSource{}, "sess", time.Hour, nil)
	p.Stop()
	p.Start(context.Background())
	p.Stop()
	p.Stop()
	assert.False(t, p.Running())
}
