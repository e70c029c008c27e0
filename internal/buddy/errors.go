package buddy

import "errors"

var (
	ErrTransport     = errors.New("buddy: transport error")
	ErrProtocol      = errors.New("buddy: protocol error")
	ErrTrust         = errors.New("buddy: trust violation")
	ErrNoConnection  = errors.New("buddy: no connection")
	ErrClosed        = errors.New("buddy: connection closed")
	ErrAlreadyBound  = errors.New("buddy: connection bound to another buddy")
	ErrBuddyExists   = errors.New("buddy: buddy already exists")
	ErrUnknownBuddy  = errors.New("buddy: unknown buddy")
	ErrInvalidToken  = errors.New("buddy: invalid command token")
	ErrDuplicateType = errors.New("buddy: command already registered")
)
