package signal

import (
	"sync"
	"time"
)

// Update is a snapshot of the board after a command was applied
type Update struct {
	Seq       uint64    `json:"seq"`
	Command   Command   `json:"command"`
	State     State     `json:"state"`
	Text      string    `json:"text"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Board is a simulated signal that remembers the most recent command.
// Subscribers receive only the latest update; an update that has not been
// read yet is replaced by the next one.
type Board struct {
	mu      sync.Mutex
	current Update
	subs    map[uint64]chan Update
	nextSub uint64
	now     func() time.Time
}

// NewBoard creates an empty board
func NewBoard() *Board {
	return &Board{
		subs: make(map[uint64]chan Update),
		now:  time.Now,
	}
}

// ApplySignal records cmd and notifies subscribers
func (b *Board) ApplySignal(cmd Command) {
	b.mu.Lock()
	defer b.mu.Unlock()

	state := Decode(cmd)
	b.current = Update{
		Seq:       b.current.Seq + 1,
		Command:   cmd,
		State:     state,
		Text:      state.String(),
		UpdatedAt: b.now(),
	}

	for _, ch := range b.subs {
		select {
		case <-ch:
		default:
		}
		ch <- b.current
	}
}

// Current returns the latest update. Seq is zero if no command has arrived.
func (b *Board) Current() Update {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// Subscribe returns a channel that carries the latest update and a function
// that unsubscribes and closes the channel. If a command was already applied
// the current update is delivered immediately.
func (b *Board) Subscribe() (<-chan Update, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextSub
	b.nextSub++
	ch := make(chan Update, 1)
	if b.current.Seq > 0 {
		ch <- b.current
	}
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs, id)
			close(ch)
		})
	}
}

// Subscribers returns the number of active subscribers
func (b *Board) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
