package main

import (
	"github.com/danmuck/onionchat/internal/buddy"
	"github.com/rs/zerolog/log"
)

// logObserver reports peer activity to the daemon log in place of a UI.
type logObserver struct{}

func (logObserver) ConnectionEstablished(address string, dir buddy.Direction) {
	log.Info().Str("address", address).Str("direction", dir.String()).Msg("connection established")
}

func (logObserver) ConnectionLost(ev buddy.ConnectionLost) {
	log.Info().Str("address", ev.Address).Str("direction", ev.Direction.String()).
		Bool("identified", ev.Identified).Err(ev.Cause).Msg("connection lost")
}

func (logObserver) MessageReceived(address, text string) {
	log.Info().Str("address", address).Str("text", text).Msg("message")
}

func (logObserver) StatusChanged(address string, status buddy.Status) {
	log.Info().Str("address", address).Str("status", status.String()).Msg("status")
}

func (logObserver) ProfileChanged(address, name, text string) {
	log.Info().Str("address", address).Str("name", name).Str("text", text).Msg("profile")
}

func (logObserver) TransferEvent(address string, ev buddy.Transfer) {
	log.Info().Str("address", address).Str("kind", string(ev.Kind)).Str("id", ev.ID).
		Int64("start", ev.Start).Int("bytes", len(ev.Data)).Msg("file transfer")
}
