package distributor

import (
	"fmt"
	"strings"
	"time"
)

// Defaults applied by New.
const (
	// DefaultBufferSize is the per-handle buffer length.
	DefaultBufferSize = 64

	// DefaultErrorBackoff is the pause after a non-fatal poll error.
	DefaultErrorBackoff = 100 * time.Millisecond
)

// OverflowPolicy decides which event a full handle gives up.
type OverflowPolicy uint8

const (
	// DropOldest discards the oldest buffered event to make room.
	DropOldest OverflowPolicy = iota

	// DropNewest discards the incoming event and keeps the buffer as is.
	DropNewest
)

// String returns the configuration name of the policy.
func (p OverflowPolicy) String() string {
	if p == DropNewest {
		return "drop_newest"
	}
	return "drop_oldest"
}

// ParseOverflowPolicy converts a configuration string into a policy.
// The empty string selects DropOldest.
func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "drop_oldest", "oldest":
		return DropOldest, nil
	case "drop_newest", "newest":
		return DropNewest, nil
	default:
		return DropOldest, fmt.Errorf("%w: %q", ErrInvalidPolicy, s)
	}
}

// Logger is the subset of logging.Logger used by the distributor.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Option configures a Distributor.
type Option func(*Distributor)

// WithBufferSize sets the per-handle buffer length. Zero or a negative value
// makes handles unbounded.
func WithBufferSize(n int) Option {
	return func(d *Distributor) {
		if n < 0 {
			n = 0
		}
		d.bufferSize = n
	}
}

// WithOverflowPolicy sets what a full handle drops.
func WithOverflowPolicy(p OverflowPolicy) Option {
	return func(d *Distributor) { d.policy = p }
}

// WithLogger sets the logger for poll errors and drops.
func WithLogger(l Logger) Option {
	return func(d *Distributor) { d.logger = l }
}

// WithErrorBackoff sets the pause after a non-fatal poll error.
func WithErrorBackoff(backoff time.Duration) Option {
	return func(d *Distributor) {
		if backoff < 0 {
			backoff = 0
		}
		d.errorBackoff = backoff
	}
}

// WithOnDrop registers a hook called on the poll goroutine whenever a handle
// drops an event. It must not block.
func WithOnDrop(fn func(ChannelError)) Option {
	return func(d *Distributor) { d.onDrop = fn }
}
