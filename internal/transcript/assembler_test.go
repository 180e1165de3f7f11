package transcript

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coachvoice/internal/domain"
)

func TestAddPlaceholderTwiceKeepsSingleEmptyMessage(t *testing.T) {
	t.Parallel()

	a := NewAssembler()
	a.AddPlaceholder(domain.SenderUser)
	a.AddPlaceholder(domain.SenderUser)

	msgs := a.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.SenderUser, msgs[0].Sender)
	assert.Equal(t, "", msgs[0].Text)
	assert.Equal(t, 2, msgs[0].ID)
}

func TestAddPlaceholderKeepsOtherSendersPlaceholder(t *testing.T) {
	t.Parallel()

	a := NewAssembler()
	a.AddPlaceholder(domain.SenderUser)
	a.AddPlaceholder(domain.SenderAssistant)
	a.AddPlaceholder(domain.SenderUser)

	msgs := a.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, domain.SenderAssistant, msgs[0].Sender)
	assert.Equal(t, domain.SenderUser, msgs[1].Sender)
}

func TestAppendDeltaTargetsNewestMessageOfSender(t *testing.T) {
	t.Parallel()

	a := NewAssembler()
	a.AddPlaceholder(domain.SenderUser)
	a.AppendDelta(domain.SenderUser, "hi ")
	a.AddPlaceholder(domain.SenderAssistant)
	a.AppendDelta(domain.SenderAssistant, "hello")
	a.AppendDelta(domain.SenderUser, "there")
	a.AddPlaceholder(domain.SenderUser)
	a.AppendDelta(domain.SenderUser, "again")
	a.AppendDelta(domain.SenderAssistant, "!")

	msgs := a.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "hi there", msgs[0].Text)
	assert.Equal(t, "hello!", msgs[1].Text)
	assert.Equal(t, "again", msgs[2].Text)
	assert.Less(t, msgs[0].ID, msgs[1].ID)
	assert.Less(t, msgs[1].ID, msgs[2].ID)
}

func TestAppendDeltaWithoutPlaceholderIsDropped(t *testing.T) {
	t.Parallel()

	a := NewAssembler()
	a.AppendDelta(domain.SenderAssistant, "orphan")
	assert.Empty(t, a.Messages())
}

func TestOnChangeReceivesSnapshots(t *testing.T) {
	t.Parallel()

	a := NewAssembler()
	var got [][]domain.Message
	a.OnChange(func(m []domain.Message) { got = append(got, m) })

	a.AddPlaceholder(domain.SenderUser)
	a.AppendDelta(domain.SenderUser, "x")
	a.AppendDelta(domain.SenderAssistant, "dropped")
	a.Reset()

	require.Len(t, got, 3)
	assert.Equal(t, "", got[0][0].Text)
	assert.Equal(t, "x", got[1][0].Text)
	assert.Empty(t, got[2])
}

// Random interleavings must never leave two empty messages for one sender, and
// every message's text must equal the deltas applied to it in order.
func TestRandomSequencesPreserveInvariants(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(42))
	senders := []domain.Sender{domain.SenderUser, domain.SenderAssistant}
	letters := []string{"a", "b", "c", "d"}

	for iter := 0; iter < 200; iter++ {
		a := NewAssembler()
		expected := map[int]string{}
		latest := map[domain.Sender]int{}

		for step := 0; step < 40; step++ {
			sender := senders[rng.Intn(len(senders))]
			if rng.Intn(3) == 0 {
				a.AddPlaceholder(sender)
				msgs := a.Messages()
				id := msgs[len(msgs)-1].ID
				if prev, ok := latest[sender]; ok && expected[prev] == "" {
					delete(expected, prev)
				}
				expected[id] = ""
				latest[sender] = id
			} else {
				delta := letters[rng.Intn(len(letters))]
				a.AppendDelta(sender, delta)
				if id, ok := latest[sender]; ok {
					expected[id] += delta
				}
			}

			empty := map[domain.Sender]int{}
			for _, m := range a.Messages() {
				if m.Text == "" {
					empty[m.Sender]++
				}
			}
			for s, n := range empty {
				require.LessOrEqualf(t, n, 1, "sender %s has %d open messages", s, n)
			}
		}

		msgs := a.Messages()
		require.Len(t, msgs, len(expected))
		for _, m := range msgs {
			assert.Equal(t, expected[m.ID], m.Text)
		}
	}
}
