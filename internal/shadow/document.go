package shadow

import (
	"encoding/json"
	"fmt"
	"maps"
	"sync"
)

// Response is a decoded shadow response or push.
type Response struct {
	Action  Action
	Outcome Outcome
	Topic   string

	// Payload is the decoded JSON object. It belongs to the receiving handler.
	Payload map[string]any

	// Raw is the payload as received. It must be treated as read-only.
	Raw []byte
}

// Error decodes a rejected response body. It returns nil for any other outcome.
func (r Response) Error() error {
	if r.Outcome != OutcomeRejected {
		return nil
	}
	var rej RejectedError
	if err := json.Unmarshal(r.Raw, &rej); err != nil {
		return &DecodeError{Topic: r.Topic, Err: err}
	}
	return &rej
}

// mirror is the locally authoritative reported state.
//
// Values are stored as marshalled JSON so later changes to the caller's
// value cannot leak into the mirror. Keys are literal; a dot in a key does
// not create nesting.
type mirror struct {
	mu       sync.Mutex
	reported map[string]json.RawMessage
}

type document struct {
	State documentState `json:"state"`
}

type documentState struct {
	Reported map[string]json.RawMessage `json:"reported"`
}

func newMirror() *mirror {
	return &mirror{reported: make(map[string]json.RawMessage)}
}

// set stores raw under key and returns the full serialised document.
func (m *mirror) set(key string, raw json.RawMessage) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.reported[key] = raw
	return m.marshalLocked()
}

func (m *mirror) marshal() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.marshalLocked()
}

func (m *mirror) marshalLocked() ([]byte, error) {
	data, err := json.Marshal(document{State: documentState{Reported: m.reported}})
	if err != nil {
		return nil, fmt.Errorf("marshalling shadow document: %w", err)
	}
	return data, nil
}

// snapshot decodes the reported state into fresh values.
func (m *mirror) snapshot() map[string]any {
	m.mu.Lock()
	raw := maps.Clone(m.reported)
	m.mu.Unlock()

	out := make(map[string]any, len(raw))
	for k, v := range raw {
		var decoded any
		if err := json.Unmarshal(v, &decoded); err == nil {
			out[k] = decoded
		}
	}
	return out
}

// marshalValue converts an update value into compact JSON.
func marshalValue(v any) (json.RawMessage, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshalling reported value: %w", err)
	}
	return data, nil
}

// decodeObject parses payload as a JSON object and checks a required field.
func decodeObject(payload []byte, required string) (map[string]any, error) {
	var obj map[string]any
	if err := json.Unmarshal(payload, &obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, ErrNotObject
	}
	if required != "" {
		if _, ok := obj[required]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingField, required)
		}
	}
	return obj, nil
}
