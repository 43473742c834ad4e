// Package errs implements the error taxonomy from the node's error
// handling design: invalid CLI input, transport failures, protocol
// violations, and interrupts. Each is a distinct type so callers can
// distinguish them with errors.As, in place of the original
// implementation's one-exception-class-per-file convention
// (ClientError, LinkError, InvalidArgException).
package errs

import "fmt"

// InvalidArgument is returned by CLI parsing when arguments fail
// validation. Callers should print Err.Error() to stderr and exit 1.
type InvalidArgument struct {
	Msg string
}

func (e *InvalidArgument) Error() string { return e.Msg }

func NewInvalidArgument(format string, args ...interface{}) error {
	return &InvalidArgument{Msg: fmt.Sprintf(format, args...)}
}

// TransportError wraps a socket creation, bind, send, or receive
// failure. It is fatal to the node that encounters it.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("transport: %s: %v", e.Op, e.Err) }
func (e *TransportError) Unwrap() error  { return e.Err }

func NewTransportError(op string, err error) error {
	return &TransportError{Op: op, Err: err}
}

// ProtocolViolation marks a malformed or unexpected datagram. It is
// logged and the offending datagram is dropped; it is never fatal.
type ProtocolViolation struct {
	Msg string
}

func (e *ProtocolViolation) Error() string { return e.Msg }

func NewProtocolViolation(format string, args ...interface{}) error {
	return &ProtocolViolation{Msg: fmt.Sprintf(format, args...)}
}

// Interrupt marks a user-initiated shutdown (e.g. SIGINT).
type Interrupt struct{}

func (e *Interrupt) Error() string { return "interrupted" }

var ErrInterrupt error = &Interrupt{}
