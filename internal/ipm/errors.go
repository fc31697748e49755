package ipm

import "errors"

var (
	ErrMalformedCommand = errors.New("malformed command")
	ErrUnknownCommand   = errors.New("unknown command name")
	ErrVersionMismatch  = errors.New("command version mismatch")
	ErrInvalidParams    = errors.New("invalid command parameters")
	ErrDuplicateCommand = errors.New("command already processed")
)
