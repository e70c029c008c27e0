package buddy

import (
	"crypto/subtle"
	"fmt"

	"github.com/danmuck/onionchat/internal/onion"
	"github.com/rs/zerolog/log"
)

// handlePing answers a ping received on an inbound connection: make sure an
// outbound connection to the claimed address exists and echo the cookie over
// it. Only the real owner of the address can receive that pong.
func (l *List) handlePing(c *Conn, address, cookie string) error {
	if err := onion.Check(address); err != nil {
		log.Warn().Str("conn", c.id).Err(err).Msg("buddy.List.handlePing invalid address, closing")
		c.Close()
		return fmt.Errorf("%w: ping: %v", ErrProtocol, err)
	}

	l.mu.Lock()
	if c.lastPingAddress != "" && c.lastPingAddress != address {
		prev := c.lastPingAddress
		l.mu.Unlock()
		log.Warn().Str("conn", c.id).Str("first", prev).Str("second", address).
			Msg("buddy.List.handlePing address changed on one connection, closing")
		c.Close()
		return fmt.Errorf("%w: ping address changed", ErrProtocol)
	}
	if c.buddy != nil && c.buddy.address != address {
		l.mu.Unlock()
		c.Close()
		return fmt.Errorf("%w: ping from %s on connection bound to %s", ErrProtocol, address, c.buddy.address)
	}
	c.lastPingAddress = address
	b, created := l.getOrAddLocked(address)
	l.mu.Unlock()

	if created {
		log.Info().Str("address", address).Msg("buddy.List.handlePing new buddy in unknown group")
	}
	if err := b.Connect(); err != nil {
		return err
	}
	if err := Send(NewOutgoingTo(b, &Pong{Cookie: cookie})); err != nil {
		return err
	}
	b.sendGreeting()
	return nil
}

// handlePong binds an inbound connection to the buddy whose cookie it echoes
// and replaces any older inbound connection of that buddy.
func (l *List) handlePong(c *Conn, cookie string) error {
	l.mu.Lock()
	var b *Buddy
	for _, cand := range l.buddies {
		if subtle.ConstantTimeCompare([]byte(cand.cookie), []byte(cookie)) == 1 {
			b = cand
			break
		}
	}
	if b == nil {
		last := c.lastPingAddress
		l.mu.Unlock()
		log.Warn().Str("conn", c.id).Str("last_ping", last).Msg("buddy.List.handlePong unknown cookie, closing")
		c.Close()
		return fmt.Errorf("%w: pong with unknown cookie", ErrProtocol)
	}
	if err := c.bindLocked(b); err != nil {
		l.mu.Unlock()
		c.Close()
		return err
	}
	stale := b.connIn
	b.connIn = c
	changed := b.status < StatusOnline
	if changed {
		b.status = StatusOnline
	}
	l.mu.Unlock()
	b.retry.Reset()

	if stale != nil && stale != c {
		log.Info().Str("address", b.address).Str("stale", stale.id).Str("conn", c.id).
			Msg("buddy.List.handlePong replacing inbound connection")
		stale.Close()
	}
	log.Info().Str("address", b.address).Str("conn", c.id).Msg("buddy.List.handlePong handshake complete")
	l.observer.ConnectionEstablished(b.address, Inbound)
	if changed {
		l.observer.StatusChanged(b.address, StatusOnline)
	}
	return nil
}
