package buddy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog/log"
)

// Listen binds the configured listen address and serves until ctx ends.
func (l *List) Listen(ctx context.Context) error {
	ln, err := net.Listen("tcp", l.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("buddy: listen %s: %w", l.cfg.ListenAddr, err)
	}
	log.Info().Str("addr", ln.Addr().String()).Msg("buddy.List.Listen listening")
	return l.Serve(ctx, ln)
}

// Serve accepts inbound peer connections on ln.
func (l *List) Serve(ctx context.Context, ln net.Listener) error {
	defer ln.Close()
	go func() {
		select {
		case <-ctx.Done():
		case <-l.ctx.Done():
		}
		_ = ln.Close()
	}()

	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || l.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.Warn().Err(err).Msg("buddy.List.Serve accept")
			time.Sleep(50 * time.Millisecond)
			continue
		}
		l.accept(nc)
	}
}

func (l *List) accept(nc net.Conn) *Conn {
	c := newInboundConn(l, nc)
	if !l.track(c) {
		_ = nc.Close()
		return nil
	}
	c.start()
	l.mu.Lock()
	live := len(l.conns)
	l.mu.Unlock()
	log.Info().Str("conn", c.id).Str("remote", nc.RemoteAddr().String()).Int("live", live).
		Msg("buddy.List.accept new inbound connection")
	return c
}
