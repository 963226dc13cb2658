package gemlive

import "fmt"

// ConnectionError means the transport failed to open or was rejected, or that
// Connect was called while a session is already connecting/connected. It is
// surfaced once to the caller of Connect; there is no automatic retry.
type ConnectionError struct {
	Reason string
	Err    error
}

func (e *ConnectionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("connection error: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("connection error: %s", e.Reason)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// NotConnectedError means an operation requiring an active connection was
// invoked while the session is not Connected.
type NotConnectedError struct {
	Op string
}

func (e *NotConnectedError) Error() string {
	return fmt.Sprintf("%s: session is not connected", e.Op)
}

// ProtocolError means an inbound envelope was malformed or unrecognized. It
// is logged and ignored; the connection stays open.
type ProtocolError struct {
	Detail string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol error: %s: %v", e.Detail, e.Err)
	}
	return fmt.Sprintf("protocol error: %s", e.Detail)
}

func (e *ProtocolError) Unwrap() error { return e.Err }
