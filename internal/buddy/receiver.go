package buddy

import (
	"fmt"
	"io"
	"time"

	"github.com/danmuck/onionchat/internal/observability"
	"github.com/danmuck/onionchat/internal/protocol"
	"github.com/rs/zerolog/log"
)

const readChunkSize = 4096

// receive reads the socket until it fails, dispatching every complete line in
// arrival order. A failure handling one line never stops the loop.
func (c *Conn) receive() {
	c.netMu.Lock()
	nc := c.netConn
	c.netMu.Unlock()

	splitter := protocol.NewSplitter(c.list.cfg.MaxLineBytes)
	buf := make([]byte, readChunkSize)
	for {
		if rt := c.list.cfg.Session.ReadTimeout; rt > 0 {
			_ = nc.SetReadDeadline(time.Now().Add(rt))
		}
		n, err := nc.Read(buf)
		if n > 0 {
			lines, ferr := splitter.Feed(buf[:n])
			for _, line := range lines {
				if c.State() != StateActive {
					return
				}
				c.handleLine(line)
			}
			if ferr != nil {
				c.onTransportError(fmt.Errorf("%w: %v", ErrTransport, ferr))
				return
			}
		}
		if c.State() != StateActive {
			return
		}
		if err != nil {
			c.onTransportError(fmt.Errorf("%w: read: %v", ErrTransport, err))
			return
		}
		if n == 0 {
			c.onTransportError(fmt.Errorf("%w: read: %v", ErrTransport, io.ErrUnexpectedEOF))
			return
		}
	}
}

// handleLine decodes and executes one line. Panics are contained here.
func (c *Conn) handleLine(line []byte) {
	token, _ := protocol.SplitLine(line)
	label := metricLabel(c.list.dispatcher.registry, token)
	defer func() {
		if r := recover(); r != nil {
			observability.RecordMessage(label, observability.OutcomeFailed)
			log.Error().Str("conn", c.id).Str("command", label).Interface("panic", r).
				Msg("buddy.Conn.handleLine recovered")
		}
	}()

	if c.dir == Outbound && !outboundAllowed(token) {
		observability.RecordMessage(label, observability.OutcomeRejected)
		log.Warn().Str("conn", c.id).Str("address", c.target).Str("command", label).
			Err(ErrTrust).Msg("buddy.Conn.handleLine unexpected command on outbound connection")
		return
	}

	m, err := c.list.dispatcher.DecodeIncoming(c, line)
	if err != nil {
		observability.RecordMessage(label, observability.OutcomeDropped)
		log.Warn().Str("conn", c.id).Str("command", label).Err(err).Msg("buddy.Conn.handleLine decode")
		return
	}
	c.touch()

	if err := m.Execute(); err != nil {
		observability.RecordMessage(label, observability.OutcomeFailed)
		log.Warn().Str("conn", c.id).Str("command", label).Err(err).Msg("buddy.Conn.handleLine execute")
		return
	}
	observability.RecordMessage(label, observability.OutcomeExecuted)
}

// metricLabel bounds label cardinality to registered commands.
func metricLabel(r *Registry, token string) string {
	if _, ok := r.Lookup(token); ok {
		return token
	}
	return unknownLabel
}
