package buddy

import (
	"fmt"
	"hash/fnv"
	"math/rand"
	"strings"
	"time"

	"github.com/danmuck/onionchat/internal/protocol/session"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	GroupBuddies = "buddies"
	GroupUnknown = "unknown"
)

type Status int

const (
	StatusOffline Status = iota
	StatusHandshake
	StatusOnline
	StatusAway
	StatusXA
)

func (s Status) String() string {
	switch s {
	case StatusOffline:
		return "offline"
	case StatusHandshake:
		return "handshake"
	case StatusOnline:
		return "available"
	case StatusAway:
		return "away"
	case StatusXA:
		return "xa"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// ParseStatus maps a wire status word onto a Status.
func ParseStatus(raw string) (Status, bool) {
	switch strings.TrimSpace(raw) {
	case "available":
		return StatusOnline, true
	case "away":
		return StatusAway, true
	case "xa":
		return StatusXA, true
	default:
		return StatusOffline, false
	}
}

// Buddy is one remote peer. Mutable fields are guarded by the owning List's mutex.
type Buddy struct {
	list    *List
	address string
	cookie  string
	retry   *session.Retry

	name        string
	group       string
	status      Status
	profileName string
	profileText string
	client      string
	version     string
	connIn      *Conn
	connOut     *Conn
}

// BuddyInfo is a point-in-time copy of a Buddy.
type BuddyInfo struct {
	Address     string `json:"address"`
	Name        string `json:"name"`
	Group       string `json:"group"`
	Status      string `json:"status"`
	ProfileName string `json:"profile_name,omitempty"`
	ProfileText string `json:"profile_text,omitempty"`
	Client      string `json:"client,omitempty"`
	Version     string `json:"version,omitempty"`
	Inbound     bool   `json:"inbound"`
	Outbound    bool   `json:"outbound"`
}

func newBuddy(l *List, address, name, group string) *Buddy {
	if group == "" {
		group = GroupBuddies
	}
	return &Buddy{
		list:    l,
		address: address,
		cookie:  strings.ReplaceAll(uuid.NewString(), "-", ""),
		retry:   session.NewRetry(l.cfg.Session.Backoff, retryRand(address)),
		name:    name,
		group:   group,
	}
}

// retryRand seeds a per-buddy source so buddies added together do not redial
// in lockstep.
func retryRand(address string) *rand.Rand {
	h := fnv.New64a()
	_, _ = h.Write([]byte(address))
	return rand.New(rand.NewSource(time.Now().UnixNano() ^ int64(h.Sum64())))
}

func (b *Buddy) Address() string {
	return b.address
}

func (b *Buddy) Name() string {
	b.list.mu.Lock()
	defer b.list.mu.Unlock()
	return b.name
}

func (b *Buddy) Group() string {
	b.list.mu.Lock()
	defer b.list.mu.Unlock()
	return b.group
}

func (b *Buddy) Status() Status {
	b.list.mu.Lock()
	defer b.list.mu.Unlock()
	return b.status
}

func (b *Buddy) Info() BuddyInfo {
	b.list.mu.Lock()
	defer b.list.mu.Unlock()
	return b.infoLocked()
}

func (b *Buddy) infoLocked() BuddyInfo {
	return BuddyInfo{
		Address:     b.address,
		Name:        b.name,
		Group:       b.group,
		Status:      b.status.String(),
		ProfileName: b.profileName,
		ProfileText: b.profileText,
		Client:      b.client,
		Version:     b.version,
		Inbound:     b.connIn != nil,
		Outbound:    b.connOut != nil,
	}
}

// Connect opens the outbound connection and queues the ping. A buddy never
// holds more than one outbound connection; Connect is a no-op while one exists.
func (b *Buddy) Connect() error {
	l := b.list
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	if b.connOut != nil {
		l.mu.Unlock()
		return nil
	}
	if _, ok := l.buddies[b.address]; !ok {
		l.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownBuddy, b.address)
	}
	c := newOutboundConn(l, b)
	b.connOut = c
	l.conns[c] = struct{}{}
	l.wg.Add(1)
	hostname := l.hostname
	if b.status == StatusOffline {
		b.status = StatusHandshake
	}
	l.mu.Unlock()

	log.Debug().Str("conn", c.ID()).Str("address", b.address).Msg("buddy.Buddy.Connect")
	c.start()
	if hostname == "" {
		log.Warn().Str("address", b.address).Msg("buddy.Buddy.Connect own hostname unknown, ping skipped")
		return nil
	}
	return Send(NewOutgoing(c, &Ping{Address: hostname, Cookie: b.cookie}))
}

// Disconnect closes both connections and marks the buddy offline.
func (b *Buddy) Disconnect() {
	l := b.list
	l.mu.Lock()
	in, out := b.connIn, b.connOut
	changed := b.status != StatusOffline
	b.status = StatusOffline
	l.mu.Unlock()

	if in != nil {
		in.Close()
	}
	if out != nil {
		out.Close()
	}
	if changed {
		log.Info().Str("address", b.address).Msg("buddy.Buddy.Disconnect offline")
		l.observer.StatusChanged(b.address, StatusOffline)
	}
}

// SendChat sends one chat message over the outbound connection.
func (b *Buddy) SendChat(text string) error {
	return Send(NewOutgoingTo(b, &Chat{Text: text}))
}

func (b *Buddy) outbound() *Conn {
	b.list.mu.Lock()
	defer b.list.mu.Unlock()
	return b.connOut
}

// online reports whether the handshake completed and the buddy is reachable.
func (b *Buddy) online() bool {
	b.list.mu.Lock()
	defer b.list.mu.Unlock()
	return b.status >= StatusOnline && b.connOut != nil
}

// sendGreeting queues the messages that follow a pong.
func (b *Buddy) sendGreeting() {
	l := b.list
	l.mu.Lock()
	own := l.ownStatus
	l.mu.Unlock()
	msgs := []Message{
		&Client{Name: l.cfg.ClientName},
		&Version{Version: l.cfg.ClientVersion},
		&ProfileName{Name: l.cfg.ProfileName},
		&ProfileText{Text: l.cfg.ProfileText},
		&StatusMessage{Status: own},
	}
	for _, m := range msgs {
		if err := Send(NewOutgoingTo(b, m)); err != nil {
			log.Warn().Err(err).Str("address", b.address).Str("command", m.Command()).
				Msg("buddy.Buddy.sendGreeting")
			return
		}
	}
}
