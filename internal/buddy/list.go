package buddy

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/onionchat/internal/observability"
	"github.com/danmuck/onionchat/internal/onion"
	"github.com/danmuck/onionchat/internal/protocol/session"
	"github.com/rs/zerolog/log"
)

const (
	DefaultClientName    = "onionchat"
	DefaultClientVersion = "0.2.0"
)

// Config is the List's view of the client settings.
type Config struct {
	Hostname      string // own onion address, may be set later with SetHostname
	ListenAddr    string
	Session       session.Config
	Reconnect     bool
	ProfileName   string
	ProfileText   string
	ClientName    string
	ClientVersion string
	MaxLineBytes  int
}

func DefaultConfig() Config {
	return Config{
		ListenAddr:    "127.0.0.1:11009",
		Session:       session.DefaultConfig(),
		ClientName:    DefaultClientName,
		ClientVersion: DefaultClientVersion,
	}
}

type Option func(*List)

func WithObserver(o Observer) Option {
	return func(l *List) {
		if o != nil {
			l.observer = o
		}
	}
}

func WithRegistry(r *Registry) Option {
	return func(l *List) {
		l.dispatcher = NewDispatcher(r)
	}
}

// List is the connection supervisor: the buddy directory, the live
// connection set, the reaper, and the reconnect loop.
type List struct {
	cfg        Config
	dialer     Dialer
	observer   Observer
	dispatcher *Dispatcher

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	buddies   map[string]*Buddy
	conns     map[*Conn]struct{}
	hostname  string
	ownStatus Status
	closed    bool
}

func NewList(cfg Config, dialer Dialer, opts ...Option) *List {
	def := DefaultConfig()
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		cfg.ListenAddr = def.ListenAddr
	}
	if cfg.ClientName == "" {
		cfg.ClientName = def.ClientName
	}
	if cfg.ClientVersion == "" {
		cfg.ClientVersion = def.ClientVersion
	}
	cfg.Session = cfg.Session.WithDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	l := &List{
		cfg:        cfg,
		dialer:     dialer,
		observer:   NopObserver{},
		dispatcher: NewDispatcher(nil),
		ctx:        ctx,
		cancel:     cancel,
		buddies:    make(map[string]*Buddy),
		conns:      make(map[*Conn]struct{}),
		hostname:   onion.Normalize(cfg.Hostname),
		ownStatus:  StatusOnline,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *List) Dispatcher() *Dispatcher {
	return l.dispatcher
}

// SetHostname records the local onion address used in outgoing pings.
func (l *List) SetHostname(address string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hostname = onion.Normalize(address)
}

func (l *List) Hostname() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.hostname
}

// Add registers a buddy. Addresses are unique.
func (l *List) Add(address, name, group string) (*Buddy, error) {
	address = onion.Normalize(address)
	if err := onion.Check(address); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.buddies[address]; ok {
		return nil, fmt.Errorf("%w: %s", ErrBuddyExists, address)
	}
	b := newBuddy(l, address, name, group)
	l.buddies[address] = b
	return b, nil
}

// getOrAddLocked returns the buddy for address, creating it in the unknown
// group when absent.
func (l *List) getOrAddLocked(address string) (*Buddy, bool) {
	if b, ok := l.buddies[address]; ok {
		return b, false
	}
	b := newBuddy(l, address, "", GroupUnknown)
	l.buddies[address] = b
	return b, true
}

// Remove drops the buddy and disconnects it.
func (l *List) Remove(address string) error {
	address = onion.Normalize(address)
	l.mu.Lock()
	b, ok := l.buddies[address]
	if ok {
		delete(l.buddies, address)
	}
	l.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownBuddy, address)
	}
	b.Disconnect()
	return nil
}

func (l *List) Get(address string) (*Buddy, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buddies[onion.Normalize(address)]
	return b, ok
}

// Buddies returns snapshots sorted by address.
func (l *List) Buddies() []BuddyInfo {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]BuddyInfo, 0, len(l.buddies))
	for _, b := range l.buddies {
		out = append(out, b.infoLocked())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Address < out[j].Address
	})
	return out
}

// Connections returns snapshots of every live connection sorted by id.
func (l *List) Connections() []ConnInfo {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]ConnInfo, 0, len(l.conns))
	for c := range l.conns {
		out = append(out, c.infoLocked())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID < out[j].ID
	})
	return out
}

// SetStatus changes the local presence and broadcasts it to online buddies.
func (l *List) SetStatus(status Status) {
	if status < StatusOnline {
		status = StatusOnline
	}
	l.mu.Lock()
	l.ownStatus = status
	targets := make([]*Buddy, 0, len(l.buddies))
	for _, b := range l.buddies {
		if b.status >= StatusOnline && b.connOut != nil {
			targets = append(targets, b)
		}
	}
	l.mu.Unlock()
	for _, b := range targets {
		if err := Send(NewOutgoingTo(b, &StatusMessage{Status: status})); err != nil {
			log.Warn().Err(err).Str("address", b.address).Msg("buddy.List.SetStatus")
		}
	}
}

// track adds c to the live set and reserves its first goroutine in l.wg.
// It fails once the List is closed.
func (l *List) track(c *Conn) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}
	l.conns[c] = struct{}{}
	l.wg.Add(1)
	return true
}

// detach removes c from the live set and from its buddy's references. It
// reports whether c was the buddy's current connection in its direction.
func (l *List) detach(c *Conn) (b *Buddy, current bool, address string, identified bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.conns, c)
	address, identified = c.peerLocked()
	b = c.buddy
	if b == nil {
		return nil, false, address, identified
	}
	switch {
	case c.dir == Inbound && b.connIn == c:
		b.connIn = nil
		current = true
	case c.dir == Outbound && b.connOut == c:
		b.connOut = nil
		current = true
	}
	return b, current, address, identified
}

// goReserved runs f on a goroutine whose l.wg slot was added under l.mu
// together with the closed check.
func (l *List) goReserved(f func()) {
	go func() {
		defer l.wg.Done()
		f()
	}()
}

// goConn runs f on a new goroutine. Callers must already run on a goroutine
// counted in l.wg.
func (l *List) goConn(f func()) {
	l.wg.Add(1)
	l.goReserved(f)
}

// Run drives the reaper and, when enabled, the reconnect loop until ctx ends.
func (l *List) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.cfg.Session.ReapInterval)
	defer ticker.Stop()
	if l.cfg.Reconnect {
		l.reconnect(time.Now())
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-l.ctx.Done():
			return nil
		case now := <-ticker.C:
			l.reap(now)
			if l.cfg.Reconnect {
				l.reconnect(now)
			}
		}
	}
}

// reap closes inbound connections idle past the dead-connection timeout.
// Buddy-bound ones take their buddy offline with them.
func (l *List) reap(now time.Time) int {
	timeout := l.cfg.Session.DeadConnectionTimeout
	type victim struct {
		c       *Conn
		b       *Buddy
		current bool
	}
	l.mu.Lock()
	var idle []victim
	for c := range l.conns {
		if c.dir != Inbound {
			continue
		}
		if now.Sub(c.LastActive()) > timeout {
			b := c.buddy
			idle = append(idle, victim{c: c, b: b, current: b != nil && b.connIn == c})
		}
	}
	l.mu.Unlock()

	for _, v := range idle {
		if v.current {
			log.Info().Str("conn", v.c.id).Str("address", v.b.address).Msg("buddy.List.reap idle, disconnecting buddy")
			v.b.Disconnect()
		} else {
			log.Info().Str("conn", v.c.id).Msg("buddy.List.reap closing unused inbound connection")
			v.c.Close()
		}
		observability.RecordConnReaped(v.b != nil)
	}
	if len(idle) > 0 {
		l.mu.Lock()
		remaining := len(l.conns)
		l.mu.Unlock()
		log.Info().Int("reaped", len(idle)).Int("live", remaining).Msg("buddy.List.reap")
	}
	return len(idle)
}

// reconnect dials offline buddies whose backoff has elapsed.
func (l *List) reconnect(now time.Time) {
	l.mu.Lock()
	if l.hostname == "" {
		l.mu.Unlock()
		return
	}
	var due []*Buddy
	for _, b := range l.buddies {
		if b.group == GroupUnknown || b.connOut != nil || b.status != StatusOffline {
			continue
		}
		if b.retry.Due(now) {
			due = append(due, b)
		}
	}
	l.mu.Unlock()

	for _, b := range due {
		delay := b.retry.Attempt(now)
		log.Debug().Str("address", b.address).Int("attempt", b.retry.Attempts()).Dur("next", delay).
			Msg("buddy.List.reconnect")
		if err := b.Connect(); err != nil {
			log.Warn().Err(err).Str("address", b.address).Msg("buddy.List.reconnect")
		}
	}
}

// Close stops every connection and waits for their goroutines.
func (l *List) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	conns := make([]*Conn, 0, len(l.conns))
	for c := range l.conns {
		conns = append(conns, c)
	}
	l.mu.Unlock()

	l.cancel()
	for _, c := range conns {
		c.Close()
	}
	l.wg.Wait()
}
