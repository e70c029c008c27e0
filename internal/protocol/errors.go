package protocol

import "errors"

var (
	ErrBadEscape    = errors.New("protocol: bad escape sequence")
	ErrInvalidToken = errors.New("protocol: invalid command token")
	ErrLineTooLong  = errors.New("protocol: line exceeds limit")
)
