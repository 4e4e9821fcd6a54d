package transport

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by every Transport implementation.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotConnected is returned when a request is made without a broker connection.
	ErrNotConnected = errors.New("transport: not connected")

	// ErrInvalidTopic is returned for an empty or malformed topic.
	ErrInvalidTopic = errors.New("transport: invalid topic")

	// ErrInvalidQoS is returned for a QoS level other than 0, 1 or 2.
	ErrInvalidQoS = errors.New("transport: invalid QoS level (must be 0, 1, or 2)")

	// ErrClosed is returned by Poll after the transport has been closed.
	ErrClosed = errors.New("transport: closed")
)

// ConnectionError reports that the broker is unreachable or refused the
// session. Fatal errors end the distributor's poll loop; non-fatal ones are
// reported and polling continues while the engine reconnects.
type ConnectionError struct {
	Op    string
	Fatal bool
	Err   error
}

func (e *ConnectionError) Error() string {
	kind := "connection error"
	if e.Fatal {
		kind = "fatal connection error"
	}
	if e.Op == "" {
		return fmt.Sprintf("transport: %s: %v", kind, e.Err)
	}
	return fmt.Sprintf("transport: %s during %s: %v", kind, e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// RequestError reports a failed subscribe, publish or unsubscribe call.
// It only concerns that call.
type RequestError struct {
	Op    string
	Topic string
	Err   error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Op, e.Topic, e.Err)
}

func (e *RequestError) Unwrap() error { return e.Err }

// IsFatal reports whether err contains a fatal ConnectionError.
func IsFatal(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce) && ce.Fatal
}
