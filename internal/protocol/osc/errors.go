package osc

import "errors"

var (
	ErrMalformed           = errors.New("osc: malformed packet")
	ErrInvalidAddress      = errors.New("osc: invalid address pattern")
	ErrUnsupportedType     = errors.New("osc: unsupported argument type")
	ErrInvalidURL          = errors.New("osc: invalid url")
	ErrUnsupportedProtocol = errors.New("osc: unsupported protocol")
)
