package distributor

import (
	"errors"
	"fmt"
)

// Domain-specific errors for event distribution.
var (
	// ErrHandleClosed is returned by Recv once a closed handle is drained.
	ErrHandleClosed = errors.New("distributor: handle closed")

	// ErrAlreadyRunning is returned when Run is called while another Run is active.
	ErrAlreadyRunning = errors.New("distributor: already running")

	// ErrInvalidPolicy is returned for an unknown overflow policy name.
	ErrInvalidPolicy = errors.New("distributor: invalid overflow policy")
)

// ChannelError describes an event a single handle could not accept.
// It is reported out of band and never affects other handles or the poll loop.
type ChannelError struct {
	HandleID string
	Policy   OverflowPolicy
	Dropped  uint64
}

func (e ChannelError) Error() string {
	return fmt.Sprintf("distributor: handle %s buffer full (%s, %d dropped)", e.HandleID, e.Policy, e.Dropped)
}
