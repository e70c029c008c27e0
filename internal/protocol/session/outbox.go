package session

import (
	"errors"
	"sync"
)

var ErrOutboxClosed = errors.New("session: outbox closed")

// Outbox is the FIFO of encoded lines waiting for an outbound connection.
// Push never blocks; the owning loop waits on Ready and drains in order.
type Outbox struct {
	mu     sync.Mutex
	items  [][]byte
	ready  chan struct{}
	closed bool
}

func NewOutbox() *Outbox {
	return &Outbox{
		ready: make(chan struct{}, 1),
	}
}

func (o *Outbox) Push(line []byte) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrOutboxClosed
	}
	o.items = append(o.items, line)
	o.mu.Unlock()

	select {
	case o.ready <- struct{}{}:
	default:
	}
	return nil
}

// Ready is signalled at least once after every Push.
func (o *Outbox) Ready() <-chan struct{} {
	return o.ready
}

// Drain removes and returns every queued line in push order.
func (o *Outbox) Drain() [][]byte {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := o.items
	o.items = nil
	return out
}

func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.items)
}

// Close discards pending lines and rejects further pushes.
func (o *Outbox) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	o.items = nil
}
