package routing

import "errors"

// Errors recorded while handling inbound messages. Neither reaches a caller;
// both are logged and the message dropped.
var (
	// ErrDecode is returned when a payload cannot be decoded.
	ErrDecode = errors.New("routing: malformed payload")

	// ErrInvalidIdentity is returned when a topic yields a device
	// identifier that fails validation.
	ErrInvalidIdentity = errors.New("routing: invalid device identity")

	// ErrRouterStopped is returned by Dispatch after Stop.
	ErrRouterStopped = errors.New("routing: router stopped")
)
