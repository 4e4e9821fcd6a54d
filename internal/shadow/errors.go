package shadow

import (
	"errors"
	"fmt"
)

// Domain errors for the shadow package.
var (
	// ErrEmptyThingName is returned by New when Config.ThingName is empty.
	ErrEmptyThingName = errors.New("shadow: thing name is empty")

	// ErrInvalidThingName is returned for names that would break the topic table.
	ErrInvalidThingName = errors.New("shadow: invalid thing name")

	// ErrEmptyKey is returned by Update for an empty reported key.
	ErrEmptyKey = errors.New("shadow: reported key is empty")

	// ErrAlreadyStarted is returned by Start on a running manager.
	ErrAlreadyStarted = errors.New("shadow: already started")

	// ErrMissingField is wrapped by DecodeError when a required field is absent.
	ErrMissingField = errors.New("missing field")

	// ErrNotObject is wrapped by DecodeError when a payload is not a JSON object.
	ErrNotObject = errors.New("payload is not a JSON object")
)

// DecodeError reports a shadow payload that could not be decoded.
// It is delivered through Handlers.OnError and never stops dispatch.
type DecodeError struct {
	Topic string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("shadow: decoding %s: %v", e.Topic, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// RejectedError is the body of a rejected response.
type RejectedError struct {
	Code        int    `json:"code"`
	Message     string `json:"message"`
	ClientToken string `json:"clientToken,omitempty"`
	Timestamp   int64  `json:"timestamp,omitempty"`
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("shadow: request rejected (%d): %s", e.Code, e.Message)
}
