package buddy

import (
	"bytes"
	"fmt"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
)

// Ping opens the handshake: the sender's address and a cookie to echo back.
type Ping struct {
	base
	Address string
	Cookie  string
}

func (m *Ping) Command() string { return "ping" }

func (m *Ping) Parse(blob []byte) error {
	fields := bytes.SplitN(blob, []byte{' '}, 2)
	if len(fields) != 2 || len(fields[0]) == 0 || len(fields[1]) == 0 {
		return fmt.Errorf("ping: want <address> <cookie>")
	}
	m.Address = string(fields[0])
	m.Cookie = string(fields[1])
	return nil
}

func (m *Ping) Blob() []byte {
	return []byte(m.Address + " " + m.Cookie)
}

func (m *Ping) Execute() error {
	return m.c.list.handlePing(m.c, m.Address, m.Cookie)
}

// Pong echoes a ping cookie and proves the sender owns the pinged address.
type Pong struct {
	base
	Cookie string
}

func (m *Pong) Command() string { return "pong" }

func (m *Pong) Parse(blob []byte) error {
	if len(blob) == 0 {
		return fmt.Errorf("pong: empty cookie")
	}
	m.Cookie = string(blob)
	return nil
}

func (m *Pong) Blob() []byte {
	return []byte(m.Cookie)
}

func (m *Pong) Execute() error {
	return m.c.list.handlePong(m.c, m.Cookie)
}

// Chat is one text message.
type Chat struct {
	base
	Text string
}

func (m *Chat) Command() string { return "message" }

func (m *Chat) Parse(blob []byte) error {
	if !utf8.Valid(blob) {
		return fmt.Errorf("message: invalid utf-8")
	}
	m.Text = string(blob)
	return nil
}

func (m *Chat) Blob() []byte {
	return []byte(m.Text)
}

func (m *Chat) Execute() error {
	if err := m.requireBuddy(m.Command()); err != nil {
		return err
	}
	m.c.list.observer.MessageReceived(m.b.address, m.Text)
	return nil
}

// StatusMessage carries the sender's presence.
type StatusMessage struct {
	base
	Status Status
}

func (m *StatusMessage) Command() string { return "status" }

func (m *StatusMessage) Parse(blob []byte) error {
	st, ok := ParseStatus(string(blob))
	if !ok {
		return fmt.Errorf("status: unknown value %q", blob)
	}
	m.Status = st
	return nil
}

func (m *StatusMessage) Blob() []byte {
	st := m.Status
	if st < StatusOnline {
		st = StatusOnline
	}
	return []byte(st.String())
}

func (m *StatusMessage) Execute() error {
	if err := m.requireBuddy(m.Command()); err != nil {
		return err
	}
	l := m.c.list
	l.mu.Lock()
	changed := m.b.status != m.Status
	m.b.status = m.Status
	l.mu.Unlock()
	if changed {
		l.observer.StatusChanged(m.b.address, m.Status)
	}
	return nil
}

type Version struct {
	base
	Version string
}

func (m *Version) Command() string { return "version" }

func (m *Version) Parse(blob []byte) error {
	m.Version = string(blob)
	return nil
}

func (m *Version) Blob() []byte {
	return []byte(m.Version)
}

func (m *Version) Execute() error {
	if err := m.requireBuddy(m.Command()); err != nil {
		return err
	}
	m.c.list.mu.Lock()
	m.b.version = m.Version
	m.c.list.mu.Unlock()
	return nil
}

type Client struct {
	base
	Name string
}

func (m *Client) Command() string { return "client" }

func (m *Client) Parse(blob []byte) error {
	m.Name = string(blob)
	return nil
}

func (m *Client) Blob() []byte {
	return []byte(m.Name)
}

func (m *Client) Execute() error {
	if err := m.requireBuddy(m.Command()); err != nil {
		return err
	}
	m.c.list.mu.Lock()
	m.b.client = m.Name
	m.c.list.mu.Unlock()
	return nil
}

type ProfileName struct {
	base
	Name string
}

func (m *ProfileName) Command() string { return "profile_name" }

func (m *ProfileName) Parse(blob []byte) error {
	if !utf8.Valid(blob) {
		return fmt.Errorf("profile_name: invalid utf-8")
	}
	m.Name = string(blob)
	return nil
}

func (m *ProfileName) Blob() []byte {
	return []byte(m.Name)
}

func (m *ProfileName) Execute() error {
	if err := m.requireBuddy(m.Command()); err != nil {
		return err
	}
	l := m.c.list
	l.mu.Lock()
	m.b.profileName = m.Name
	if m.b.name == "" {
		m.b.name = m.Name
	}
	text := m.b.profileText
	l.mu.Unlock()
	l.observer.ProfileChanged(m.b.address, m.Name, text)
	return nil
}

type ProfileText struct {
	base
	Text string
}

func (m *ProfileText) Command() string { return "profile_text" }

func (m *ProfileText) Parse(blob []byte) error {
	if !utf8.Valid(blob) {
		return fmt.Errorf("profile_text: invalid utf-8")
	}
	m.Text = string(blob)
	return nil
}

func (m *ProfileText) Blob() []byte {
	return []byte(m.Text)
}

func (m *ProfileText) Execute() error {
	if err := m.requireBuddy(m.Command()); err != nil {
		return err
	}
	l := m.c.list
	l.mu.Lock()
	m.b.profileText = m.Text
	name := m.b.profileName
	l.mu.Unlock()
	l.observer.ProfileChanged(m.b.address, name, m.Text)
	return nil
}

// AddMe asks to be moved out of the unknown group.
type AddMe struct {
	base
}

func (m *AddMe) Command() string         { return "add_me" }
func (m *AddMe) Parse(blob []byte) error { return nil }
func (m *AddMe) Blob() []byte            { return nil }

func (m *AddMe) Execute() error {
	if err := m.requireBuddy(m.Command()); err != nil {
		return err
	}
	l := m.c.list
	l.mu.Lock()
	if m.b.group == GroupUnknown {
		m.b.group = GroupBuddies
	}
	l.mu.Unlock()
	log.Info().Str("address", m.b.address).Msg("buddy.AddMe.Execute")
	return nil
}

// RemoveMe asks to be dropped from the directory.
type RemoveMe struct {
	base
}

func (m *RemoveMe) Command() string         { return "remove_me" }
func (m *RemoveMe) Parse(blob []byte) error { return nil }
func (m *RemoveMe) Blob() []byte            { return nil }

func (m *RemoveMe) Execute() error {
	if err := m.requireBuddy(m.Command()); err != nil {
		return err
	}
	log.Info().Str("address", m.b.address).Msg("buddy.RemoveMe.Execute")
	return m.c.list.Remove(m.b.address)
}

// NotImplemented reports a command the peer could not handle.
type NotImplemented struct {
	base
	Offending string
}

func (m *NotImplemented) Command() string { return "not_implemented" }

func (m *NotImplemented) Parse(blob []byte) error {
	m.Offending = string(blob)
	return nil
}

func (m *NotImplemented) Blob() []byte {
	return []byte(m.Offending)
}

func (m *NotImplemented) Execute() error {
	if m.b != nil {
		log.Info().Str("address", m.b.address).Str("command", m.Offending).
			Msg("buddy.NotImplemented.Execute peer cannot handle command")
	}
	return nil
}
