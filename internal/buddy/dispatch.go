package buddy

import (
	"fmt"
	"sort"
	"sync"

	"github.com/danmuck/onionchat/internal/observability"
	"github.com/danmuck/onionchat/internal/protocol"
	"github.com/rs/zerolog/log"
)

const unknownLabel = "unknown"

// Message is one protocol command. Incoming messages are built by the
// Dispatcher; outgoing ones are constructed directly and bound with
// NewOutgoing or NewOutgoingTo.
type Message interface {
	Command() string
	// Parse fills the message from its decoded payload.
	Parse(blob []byte) error
	// Execute performs the receive-side action.
	Execute() error
	// Blob renders the raw payload for sending.
	Blob() []byte

	bind(c *Conn, b *Buddy)
	conn() *Conn
}

// base carries the connection and buddy a message is bound to.
type base struct {
	c *Conn
	b *Buddy
}

func (m *base) bind(c *Conn, b *Buddy) {
	m.c = c
	m.b = b
}

func (m *base) conn() *Conn {
	return m.c
}

// Conn is the connection the message arrived on or will be sent over.
func (m *base) Conn() *Conn {
	return m.c
}

// Buddy is the bound buddy, nil for messages on unidentified connections.
func (m *base) Buddy() *Buddy {
	return m.b
}

func (m *base) requireBuddy(command string) error {
	if m.b == nil {
		return fmt.Errorf("%w: %s on unidentified connection", ErrProtocol, command)
	}
	return nil
}

// Factory builds an empty message for one command.
type Factory func() Message

// Registry maps command tokens to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

func (r *Registry) Register(token string, f Factory) error {
	if !protocol.ValidToken(token) {
		return fmt.Errorf("%w: %q", ErrInvalidToken, token)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[token]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateType, token)
	}
	r.factories[token] = f
	return nil
}

func (r *Registry) Lookup(token string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[token]
	return f, ok
}

// Commands lists registered tokens in sorted order.
func (r *Registry) Commands() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for token := range r.factories {
		out = append(out, token)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) mustRegister(token string, f Factory) {
	if err := r.Register(token, f); err != nil {
		panic(err)
	}
}

// DefaultRegistry registers every built-in command.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.mustRegister("ping", func() Message { return &Ping{} })
	r.mustRegister("pong", func() Message { return &Pong{} })
	r.mustRegister("message", func() Message { return &Chat{} })
	r.mustRegister("status", func() Message { return &StatusMessage{} })
	r.mustRegister("version", func() Message { return &Version{} })
	r.mustRegister("client", func() Message { return &Client{} })
	r.mustRegister("profile_name", func() Message { return &ProfileName{} })
	r.mustRegister("profile_text", func() Message { return &ProfileText{} })
	r.mustRegister("add_me", func() Message { return &AddMe{} })
	r.mustRegister("remove_me", func() Message { return &RemoveMe{} })
	r.mustRegister("not_implemented", func() Message { return &NotImplemented{} })
	r.mustRegister("file_name", func() Message { return &FileName{} })
	r.mustRegister("file_data", func() Message { return &FileData{} })
	r.mustRegister("file_data_ok", func() Message { return &FileDataOK{} })
	r.mustRegister("file_data_error", func() Message { return &FileDataError{} })
	r.mustRegister("file_stop_sending", func() Message { return &FileStopSending{} })
	r.mustRegister("file_stop_receiving", func() Message { return &FileStopReceiving{} })
	return r
}

// Dispatcher turns received lines into bound messages.
type Dispatcher struct {
	registry *Registry
}

func NewDispatcher(r *Registry) *Dispatcher {
	if r == nil {
		r = DefaultRegistry()
	}
	return &Dispatcher{registry: r}
}

func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// DecodeIncoming builds the message for one raw line (without delimiter).
// Unregistered or malformed tokens yield *Unknown; payload escape or parse
// failures return ErrProtocol.
func (d *Dispatcher) DecodeIncoming(c *Conn, raw []byte) (Message, error) {
	token, payload := protocol.SplitLine(raw)
	var b *Buddy
	if c != nil {
		b = c.Buddy()
	}

	f, ok := d.registry.Lookup(token)
	if !ok || !protocol.ValidToken(token) {
		m := &Unknown{Token: token}
		m.bind(c, b)
		return m, nil
	}
	blob, err := protocol.Decode(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrProtocol, token, err)
	}
	m := f()
	m.bind(c, b)
	if err := m.Parse(blob); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrProtocol, token, err)
	}
	return m, nil
}

// NewOutgoing binds m to c and its buddy.
func NewOutgoing(c *Conn, m Message) Message {
	var b *Buddy
	if c != nil {
		b = c.Buddy()
	}
	m.bind(c, b)
	return m
}

// NewOutgoingTo binds m to b's outbound connection, which may be nil.
func NewOutgoingTo(b *Buddy, m Message) Message {
	m.bind(b.outbound(), b)
	return m
}

// Send writes m to its bound connection.
func Send(m Message) error {
	c := m.conn()
	if c == nil {
		observability.RecordMessage(m.Command(), observability.OutcomeSendError)
		log.Warn().Str("command", m.Command()).Msg("buddy.Send message without connection")
		return ErrNoConnection
	}
	line, err := protocol.FormatLine(m.Command(), m.Blob())
	if err != nil {
		return err
	}
	if err := c.Send(line); err != nil {
		observability.RecordMessage(m.Command(), observability.OutcomeSendError)
		return err
	}
	observability.RecordMessage(m.Command(), observability.OutcomeSent)
	return nil
}

// Unknown is the fallback for commands with no registered factory.
type Unknown struct {
	base
	Token string
}

func (m *Unknown) Command() string {
	return m.Token
}

func (m *Unknown) Parse([]byte) error {
	return nil
}

func (m *Unknown) Blob() []byte {
	return nil
}

// Execute answers a bound buddy with not_implemented and closes unbound
// connections without replying.
func (m *Unknown) Execute() error {
	if m.b != nil {
		log.Info().Str("address", m.b.address).Str("command", m.Token).
			Msg("buddy.Unknown.Execute replying not_implemented")
		return Send(NewOutgoingTo(m.b, &NotImplemented{Offending: m.Token}))
	}
	if m.c != nil {
		m.c.list.mu.Lock()
		last := m.c.lastPingAddress
		m.c.list.mu.Unlock()
		log.Warn().Str("conn", m.c.id).Str("last_ping", last).Str("command", m.Token).
			Msg("buddy.Unknown.Execute unknown command on unidentified connection, closing")
		m.c.Close()
	}
	return nil
}
