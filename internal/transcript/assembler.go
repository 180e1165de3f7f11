// Package transcript turns streamed transcript deltas into the ordered
// message list shown during a session.
package transcript

import (
	"sync"

	"coachvoice/internal/domain"
)

// Assembler owns the session's message list.
type Assembler struct {
	mu       sync.Mutex
	messages []domain.Message
	nextID   int
	onChange func([]domain.Message)
}

func NewAssembler() *Assembler {
	return &Assembler{nextID: 1}
}

// OnChange registers fn to receive a snapshot after every mutation.
func (a *Assembler) OnChange(fn func([]domain.Message)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onChange = fn
}

// AddPlaceholder appends an empty message for sender, dropping any other
// still-empty message of the same sender first.
func (a *Assembler) AddPlaceholder(sender domain.Sender) {
	a.mu.Lock()
	kept := a.messages[:0]
	for _, m := range a.messages {
		if m.Sender == sender && m.Text == "" {
			continue
		}
		kept = append(kept, m)
	}
	a.messages = append(kept, domain.Message{ID: a.nextID, Sender: sender})
	a.nextID++
	snapshot, notify := a.snapshotLocked()
	a.mu.Unlock()

	if notify != nil {
		notify(snapshot)
	}
}

// AppendDelta extends the newest message of sender. Deltas with no message to
// land on are dropped.
func (a *Assembler) AppendDelta(sender domain.Sender, text string) {
	if text == "" {
		return
	}

	a.mu.Lock()
	idx := -1
	for i := len(a.messages) - 1; i >= 0; i-- {
		if a.messages[i].Sender == sender {
			idx = i
			break
		}
	}
	if idx < 0 {
		a.mu.Unlock()
		return
	}
	a.messages[idx].Text += text
	snapshot, notify := a.snapshotLocked()
	a.mu.Unlock()

	if notify != nil {
		notify(snapshot)
	}
}

// Messages returns a copy of the current list.
func (a *Assembler) Messages() []domain.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]domain.Message, len(a.messages))
	copy(out, a.messages)
	return out
}

// Reset clears all messages. Ids keep increasing across resets.
func (a *Assembler) Reset() {
	a.mu.Lock()
	a.messages = nil
	snapshot, notify := a.snapshotLocked()
	a.mu.Unlock()

	if notify != nil {
		notify(snapshot)
	}
}

func (a *Assembler) snapshotLocked() ([]domain.Message, func([]domain.Message)) {
	if a.onChange == nil {
		return nil, nil
	}
	out := make([]domain.Message, len(a.messages))
	copy(out, a.messages)
	return out, a.onChange
}
