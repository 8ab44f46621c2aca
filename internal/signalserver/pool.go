package signalserver

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"
)

// slotConn makes Close idempotent so the handler and Release can both close
// the connection without faulting.
type slotConn struct {
	net.Conn
	once sync.Once
	err  error
}

func (c *slotConn) Close() error {
	var first bool
	c.once.Do(func() {
		first = true
		c.err = c.Conn.Close()
	})
	if first {
		return c.err
	}
	return nil
}

// assignment is what travels through a slot's gate
type assignment struct {
	conn    *slotConn
	session string
}

// Slot is one unit of worker capacity
type Slot struct {
	id int
	// gate has capacity one: a pending assignment means the gate is open
	gate chan assignment

	// guarded by Pool.mu
	state      HandlerState
	busy       bool
	conn       *slotConn
	session    string
	remote     string
	assignedAt time.Time
	commands   uint64
}

// ID returns the slot's index in the pool
func (s *Slot) ID() int {
	return s.id
}

// SlotInfo is a point-in-time copy of a slot's state
type SlotInfo struct {
	ID         int       `json:"id"`
	Busy       bool      `json:"busy"`
	State      string    `json:"state"`
	Session    string    `json:"session,omitempty"`
	Remote     string    `json:"remote,omitempty"`
	AssignedAt time.Time `json:"assigned_at,omitzero"`
	Commands   uint64    `json:"commands"`
}

// SlotHandler runs for the lifetime of one slot
type SlotHandler func(ctx context.Context, slot *Slot)

// Pool is a fixed-size arena of worker slots
type Pool struct {
	mu      sync.Mutex
	slots   []*Slot
	wg      sync.WaitGroup
	started bool
}

// NewPool allocates size idle slots with closed gates
func NewPool(size int) *Pool {
	if size < 0 {
		size = 0
	}
	slots := make([]*Slot, size)
	for i := range slots {
		slots[i] = &Slot{
			id:   i,
			gate: make(chan assignment, 1),
		}
	}
	return &Pool{slots: slots}
}

// Size returns the number of slots
func (p *Pool) Size() int {
	return len(p.slots)
}

// Start launches one handler goroutine per slot
func (p *Pool) Start(ctx context.Context, handler SlotHandler) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return ErrPoolStarted
	}
	p.started = true

	for _, slot := range p.slots {
		p.wg.Add(1)
		go func(s *Slot) {
			defer p.wg.Done()
			handler(ctx, s)
		}(slot)
	}
	return nil
}

// Wait blocks until every handler has returned, then closes any connection
// that was assigned but never picked up.
func (p *Pool) Wait() {
	p.wg.Wait()

	for _, slot := range p.slots {
		select {
		case a := <-slot.gate:
			a.conn.Close()
		default:
		}
		p.Release(slot.id)
	}
}

// FindIdle returns the lowest-index slot that is not busy
func (p *Pool) FindIdle() (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, slot := range p.slots {
		if !slot.busy {
			return slot.id, true
		}
	}
	return -1, false
}

// Assign hands conn to slot index and opens its gate. Only the dispatcher
// calls Assign, on an index it just got from FindIdle.
func (p *Pool) Assign(index int, conn net.Conn, session string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	slot, err := p.slot(index)
	if err != nil {
		return err
	}
	if slot.busy {
		return fmt.Errorf("%w: %d", ErrSlotBusy, index)
	}

	sc := &slotConn{Conn: conn}
	slot.busy = true
	slot.conn = sc
	slot.session = session
	slot.assignedAt = time.Now()
	slot.commands = 0
	if addr := conn.RemoteAddr(); addr != nil {
		slot.remote = addr.String()
	}

	// Never blocks: the gate is empty while the slot is idle.
	slot.gate <- assignment{conn: sc, session: session}
	return nil
}

// Release closes the slot's connection if it still holds one and marks the
// slot idle. Releasing an idle slot is a no-op.
func (p *Pool) Release(index int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	slot, err := p.slot(index)
	if err != nil {
		return
	}
	if slot.conn != nil {
		slot.conn.Close()
	}
	slot.busy = false
	slot.conn = nil
	slot.session = ""
	slot.remote = ""
	slot.assignedAt = time.Time{}
}

// Busy returns the number of busy slots
func (p *Pool) Busy() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for _, slot := range p.slots {
		if slot.busy {
			n++
		}
	}
	return n
}

// Snapshot returns a copy of every slot's state
func (p *Pool) Snapshot() []SlotInfo {
	p.mu.Lock()
	defer p.mu.Unlock()

	infos := make([]SlotInfo, len(p.slots))
	for i, slot := range p.slots {
		infos[i] = SlotInfo{
			ID:         slot.id,
			Busy:       slot.busy,
			State:      slot.state.String(),
			Session:    slot.session,
			Remote:     slot.remote,
			AssignedAt: slot.assignedAt,
			Commands:   slot.commands,
		}
	}
	return infos
}

func (p *Pool) recordCommand(index int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if slot, err := p.slot(index); err == nil {
		slot.commands++
	}
}

func (p *Pool) setState(index int, state HandlerState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if slot, err := p.slot(index); err == nil {
		slot.state = state
	}
}

func (p *Pool) slot(index int) (*Slot, error) {
	if index < 0 || index >= len(p.slots) {
		return nil, fmt.Errorf("%w: %d", ErrNoSuchSlot, index)
	}
	return p.slots[index], nil
}
