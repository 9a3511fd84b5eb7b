package store

import "errors"

var (
	ErrDayNotFound       = errors.New("queue day not found")
	ErrTicketNotFound    = errors.New("ticket not found")
	ErrCapacityExceeded  = errors.New("priority lane capacity exceeded")
	ErrNotNextInLine     = errors.New("ticket is not next in line")
	ErrAlreadyInProgress = errors.New("another ticket is already in progress")
	ErrNotInProgress     = errors.New("ticket is not in progress")
	ErrInvalidTransition = errors.New("invalid ticket state")
	ErrInvalidInput      = errors.New("invalid input")
)
