package buddy

import (
	"github.com/rs/zerolog/log"
)

// ConnectionLost describes one connection that left the active state.
// Address is the buddy address when Identified, else the last address seen
// in a ping on that connection (possibly empty).
type ConnectionLost struct {
	Address    string
	Direction  Direction
	Cause      error
	Identified bool
}

// Observer receives notifications for the presentation layer. Callbacks run
// on connection goroutines and must not block for long.
type Observer interface {
	ConnectionEstablished(address string, dir Direction)
	ConnectionLost(ev ConnectionLost)
	MessageReceived(address string, text string)
	StatusChanged(address string, status Status)
	ProfileChanged(address string, name string, text string)
	TransferEvent(address string, ev Transfer)
}

// NopObserver ignores every notification.
type NopObserver struct{}

func (NopObserver) ConnectionEstablished(string, Direction) {}
func (NopObserver) ConnectionLost(ConnectionLost)           {}
func (NopObserver) MessageReceived(string, string)          {}
func (NopObserver) StatusChanged(string, Status)            {}
func (NopObserver) ProfileChanged(string, string, string)   {}
func (NopObserver) TransferEvent(string, Transfer)          {}

type EventKind string

const (
	EventConnectionEstablished EventKind = "connection_established"
	EventConnectionLost        EventKind = "connection_lost"
	EventMessage               EventKind = "message"
	EventStatus                EventKind = "status"
	EventProfile               EventKind = "profile"
	EventTransfer              EventKind = "transfer"
)

// Event is the flattened form of one Observer callback.
type Event struct {
	Kind       EventKind
	Address    string
	Direction  Direction
	Cause      error
	Identified bool
	Text       string
	Name       string
	Status     Status
	Transfer   Transfer
}

// ChanObserver delivers every notification as an Event on C. A full channel
// drops the event.
type ChanObserver struct {
	C chan Event
}

func NewChanObserver(size int) *ChanObserver {
	return &ChanObserver{C: make(chan Event, size)}
}

func (o *ChanObserver) emit(ev Event) {
	select {
	case o.C <- ev:
	default:
		log.Warn().Str("kind", string(ev.Kind)).Str("address", ev.Address).
			Msg("buddy.ChanObserver event dropped, channel full")
	}
}

func (o *ChanObserver) ConnectionEstablished(address string, dir Direction) {
	o.emit(Event{Kind: EventConnectionEstablished, Address: address, Direction: dir, Identified: true})
}

func (o *ChanObserver) ConnectionLost(ev ConnectionLost) {
	o.emit(Event{
		Kind:       EventConnectionLost,
		Address:    ev.Address,
		Direction:  ev.Direction,
		Cause:      ev.Cause,
		Identified: ev.Identified,
	})
}

func (o *ChanObserver) MessageReceived(address string, text string) {
	o.emit(Event{Kind: EventMessage, Address: address, Text: text})
}

func (o *ChanObserver) StatusChanged(address string, status Status) {
	o.emit(Event{Kind: EventStatus, Address: address, Status: status})
}

func (o *ChanObserver) ProfileChanged(address string, name string, text string) {
	o.emit(Event{Kind: EventProfile, Address: address, Name: name, Text: text})
}

func (o *ChanObserver) TransferEvent(address string, ev Transfer) {
	o.emit(Event{Kind: EventTransfer, Address: address, Transfer: ev})
}
