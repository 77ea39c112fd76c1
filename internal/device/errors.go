package device

import "errors"

// Domain errors for the device package.
//
//	if errors.Is(err, device.ErrInvalidID) {
//	    // drop the message
//	}
var (
	// ErrInvalidID is returned when an identifier fails ValidID.
	ErrInvalidID = errors.New("device: invalid identifier")

	// ErrInvalidEvent is returned when a history event is incomplete.
	ErrInvalidEvent = errors.New("device: invalid event")
)
