package store

import "errors"

var (
	ErrDuplicateActiveRequest    = errors.New("user already holds an active ticket in this office")
	ErrInvalidTransition         = errors.New("invalid status transition")
	ErrTicketNotFound            = errors.New("ticket not found")
	ErrNotFoundOrAlreadyTerminal = errors.New("ticket not found or already terminal")
	ErrAppointmentNotFound       = errors.New("appointment not found")
	ErrSlotFull                  = errors.New("slot full")
	ErrInvalidDate               = errors.New("appointment date must be after today")
	ErrInvalidInput              = errors.New("invalid input")
	ErrStoreUnavailable          = errors.New("store unavailable")
)
