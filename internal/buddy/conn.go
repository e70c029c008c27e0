package buddy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/onionchat/internal/observability"
	"github.com/danmuck/onionchat/internal/onion"
	"github.com/danmuck/onionchat/internal/protocol/session"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type Direction int

const (
	Inbound Direction = iota
	Outbound
)

func (d Direction) String() string {
	if d == Outbound {
		return "outbound"
	}
	return "inbound"
}

type State int32

const (
	StateConnecting State = iota
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	default:
		return "closed"
	}
}

// OutboundAllowList holds the only commands executed when received on an
// outbound connection.
var OutboundAllowList = map[string]struct{}{
	"file_data_ok":        {},
	"file_data_error":     {},
	"file_stop_sending":   {},
	"file_stop_receiving": {},
}

func outboundAllowed(token string) bool {
	_, ok := OutboundAllowList[token]
	return ok
}

// Conn is one peer socket. Inbound connections are accepted by the listener
// and start Active; outbound connections dial through the proxy and queue
// sends until the dial completes.
type Conn struct {
	id     string
	dir    Direction
	list   *List
	target string // outbound only

	state      atomic.Int32
	lastActive atomic.Int64
	closeOnce  sync.Once
	closed     chan struct{}

	netMu   sync.Mutex
	netConn net.Conn
	writeMu sync.Mutex
	outbox  *session.Outbox

	// guarded by list.mu
	buddy           *Buddy
	lastPingAddress string
}

// ConnInfo is a point-in-time copy of a Conn.
type ConnInfo struct {
	ID         string    `json:"id"`
	Direction  string    `json:"direction"`
	State      string    `json:"state"`
	Address    string    `json:"address,omitempty"`
	Bound      bool      `json:"bound"`
	LastActive time.Time `json:"last_active"`
}

func newConn(l *List, dir Direction) *Conn {
	c := &Conn{
		id:     uuid.NewString(),
		dir:    dir,
		list:   l,
		closed: make(chan struct{}),
	}
	c.touch()
	return c
}

func newInboundConn(l *List, nc net.Conn) *Conn {
	c := newConn(l, Inbound)
	c.netConn = nc
	c.state.Store(int32(StateActive))
	return c
}

func newOutboundConn(l *List, b *Buddy) *Conn {
	c := newConn(l, Outbound)
	c.buddy = b
	c.target = b.address
	c.outbox = session.NewOutbox()
	c.state.Store(int32(StateConnecting))
	return c
}

// start launches the first goroutine owned by the connection. The caller
// must have registered it in the live set and reserved its l.wg slot.
func (c *Conn) start() {
	switch c.dir {
	case Inbound:
		observability.RecordConnOpened(c.dir.String())
		c.list.goReserved(c.receive)
	case Outbound:
		c.list.goReserved(c.runOutbound)
	}
}

func (c *Conn) ID() string {
	return c.id
}

func (c *Conn) Direction() Direction {
	return c.dir
}

func (c *Conn) State() State {
	return State(c.state.Load())
}

func (c *Conn) LastActive() time.Time {
	return time.Unix(0, c.lastActive.Load())
}

func (c *Conn) touch() {
	c.lastActive.Store(time.Now().UnixNano())
}

// Buddy returns the bound buddy or nil.
func (c *Conn) Buddy() *Buddy {
	c.list.mu.Lock()
	defer c.list.mu.Unlock()
	return c.buddy
}

// bindLocked attaches b. A connection is bound at most once.
func (c *Conn) bindLocked(b *Buddy) error {
	if c.buddy != nil && c.buddy != b {
		return fmt.Errorf("%w: %s", ErrAlreadyBound, c.buddy.address)
	}
	c.buddy = b
	return nil
}

func (c *Conn) Info() ConnInfo {
	c.list.mu.Lock()
	defer c.list.mu.Unlock()
	return c.infoLocked()
}

func (c *Conn) infoLocked() ConnInfo {
	info := ConnInfo{
		ID:         c.id,
		Direction:  c.dir.String(),
		State:      c.State().String(),
		LastActive: c.LastActive(),
		Bound:      c.buddy != nil,
	}
	if c.buddy != nil {
		info.Address = c.buddy.address
	} else {
		info.Address = c.lastPingAddress
	}
	return info
}

// Send transmits one encoded line. Inbound writes happen synchronously;
// outbound lines are queued and written by the connection loop in order.
func (c *Conn) Send(line []byte) error {
	switch c.State() {
	case StateClosing, StateClosed:
		return ErrClosed
	}
	if c.dir == Outbound {
		if err := c.outbox.Push(line); err != nil {
			return ErrClosed
		}
		return nil
	}
	if err := c.write(line); err != nil {
		c.onTransportError(err)
		return err
	}
	return nil
}

func (c *Conn) write(line []byte) error {
	c.netMu.Lock()
	nc := c.netConn
	c.netMu.Unlock()
	if nc == nil {
		return ErrNoConnection
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if wt := c.list.cfg.Session.WriteTimeout; wt > 0 {
		_ = nc.SetWriteDeadline(time.Now().Add(wt))
	}
	if _, err := nc.Write(line); err != nil {
		return fmt.Errorf("%w: write: %v", ErrTransport, err)
	}
	c.touch()
	return nil
}

// runOutbound dials the peer, starts the receiver, then drains the outbox
// until the connection closes.
func (c *Conn) runOutbound() {
	cfg := c.list.cfg.Session
	ctx, cancel := context.WithTimeout(c.list.ctx, cfg.ConnectTimeout)
	addr := net.JoinHostPort(c.target+onion.Suffix, strconv.Itoa(cfg.ServicePort))
	nc, err := c.list.dialer.DialContext(ctx, "tcp", addr)
	cancel()
	if err != nil {
		c.onTransportError(fmt.Errorf("%w: dial %s: %v", ErrTransport, addr, err))
		return
	}

	c.netMu.Lock()
	c.netConn = nc
	c.netMu.Unlock()
	if !c.state.CompareAndSwap(int32(StateConnecting), int32(StateActive)) {
		// closed while dialing; Close may have missed the socket
		_ = nc.Close()
		return
	}
	c.touch()
	observability.RecordConnOpened(c.dir.String())
	log.Info().Str("conn", c.id).Str("address", c.target).Msg("buddy.Conn.runOutbound connected")
	c.list.observer.ConnectionEstablished(c.target, Outbound)
	c.list.goConn(c.receive)

	for {
		select {
		case <-c.closed:
			return
		case <-c.outbox.Ready():
		}
		for _, line := range c.outbox.Drain() {
			if err := c.write(line); err != nil {
				c.onTransportError(err)
				return
			}
		}
	}
}

// onTransportError closes the connection after a read, write, or dial failure.
func (c *Conn) onTransportError(err error) {
	if s := c.State(); s == StateClosing || s == StateClosed {
		return
	}
	c.list.mu.Lock()
	address, identified := c.peerLocked()
	c.list.mu.Unlock()
	if !identified {
		address += " (unverified)"
	}
	log.Warn().Str("conn", c.id).Str("direction", c.dir.String()).Str("address", address).Err(err).
		Msg("buddy.Conn.onTransportError")
	c.closeWith(err)
}

// peerLocked names the remote side for logs and notifications.
func (c *Conn) peerLocked() (string, bool) {
	if c.buddy != nil {
		return c.buddy.address, true
	}
	if c.dir == Outbound {
		return c.target, true
	}
	return c.lastPingAddress, false
}

// Close is idempotent and safe from any goroutine.
func (c *Conn) Close() {
	c.closeWith(nil)
}

func (c *Conn) closeWith(cause error) {
	c.closeOnce.Do(func() {
		prev := State(c.state.Swap(int32(StateClosing)))
		close(c.closed)
		if c.outbox != nil {
			c.outbox.Close()
		}

		c.netMu.Lock()
		nc := c.netConn
		c.netMu.Unlock()
		if nc != nil {
			if err := nc.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
				log.Debug().Str("conn", c.id).Err(err).Msg("buddy.Conn.Close socket close")
			}
		}

		b, current, address, identified := c.list.detach(c)
		c.state.Store(int32(StateClosed))
		wasActive := prev == StateActive
		observability.RecordConnClosed(c.dir.String(), wasActive)
		log.Debug().Str("conn", c.id).Str("direction", c.dir.String()).Str("address", address).
			Msg("buddy.Conn.Close closed")

		if wasActive {
			c.list.observer.ConnectionLost(ConnectionLost{
				Address:    address,
				Direction:  c.dir,
				Cause:      cause,
				Identified: identified,
			})
		}
		// losing either side of a bound buddy takes the buddy offline
		if b != nil && current {
			b.Disconnect()
		}
	})
}
