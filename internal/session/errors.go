package session

import "errors"

// Session errors. Use errors.Is() to check for these in calling code.
var (
	// ErrConnectionFailed is returned by Connect when resolving, dialling or
	// subscribing fails. The session is left in StateError.
	ErrConnectionFailed = errors.New("session: connection failed")

	// ErrNotConnected is returned by Publish when there is no live
	// connection.
	ErrNotConnected = errors.New("session: not connected")

	// ErrSessionClosed fails calls abandoned by Disconnect, Connect or Close,
	// and any use of a closed session.
	ErrSessionClosed = errors.New("session: closed")

	// ErrConnectionLost fails calls pending when the broker drops the
	// connection.
	ErrConnectionLost = errors.New("session: connection lost")
)
