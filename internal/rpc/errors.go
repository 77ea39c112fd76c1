package rpc

import (
	"errors"
	"fmt"
)

// Sentinel errors for request correlation.
var (
	// ErrTimeout is returned when no reply arrives before the call deadline.
	ErrTimeout = errors.New("rpc: request timeout")

	// ErrPublishFailed is returned when the request could not be handed to
	// the transport.
	ErrPublishFailed = errors.New("rpc: publish failed")

	// ErrInvalidEnvelope is returned when an envelope fails to decode or
	// lacks required fields.
	ErrInvalidEnvelope = errors.New("rpc: invalid envelope")

	// ErrCorrelatorClosed is returned by Call after Close.
	ErrCorrelatorClosed = errors.New("rpc: correlator closed")
)

// Error is an application-level error returned by the remote device in the
// reply's "error" field. It is a normal result, not a transport failure.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}
