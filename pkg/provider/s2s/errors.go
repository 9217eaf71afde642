package s2s

import (
	"errors"
	"fmt"
)

// ErrClosed is returned by [Transport.Send] after the transport was closed or
// failed.
var ErrClosed = errors.New("s2s: transport closed")

// ConnectError reports that the connection could not be established or the
// session could not be configured before [Ready].
type ConnectError struct {
	Err error
}

// Error implements the error interface.
func (e *ConnectError) Error() string { return fmt.Sprintf("s2s: connect: %v", e.Err) }

// Unwrap returns the underlying error.
func (e *ConnectError) Unwrap() error { return e.Err }

// TransportError reports a read or write failure on an established connection.
type TransportError struct {
	Err error
}

// Error implements the error interface.
func (e *TransportError) Error() string { return fmt.Sprintf("s2s: transport: %v", e.Err) }

// Unwrap returns the underlying error.
func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError is a failure reported by the service itself: a failed
// response or an error message. Its text is the service's human-readable
// reason so it can be shown to the user as-is.
type ProtocolError struct {
	// Reason is the human-readable explanation.
	Reason string

	// Code is the service's machine-readable code, if any.
	Code string
}

// Error implements the error interface.
func (e *ProtocolError) Error() string { return e.Reason }

// ConfigError reports an invalid or missing [SessionConfig] field.
type ConfigError struct {
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("s2s: invalid session config: %s: %s", e.Field, e.Reason)
}

// IsTerminal reports whether err ends a session: connect and transport
// failures do, protocol errors do not.
func IsTerminal(err error) bool {
	var ce *ConnectError
	var te *TransportError
	return errors.As(err, &ce) || errors.As(err, &te)
}
