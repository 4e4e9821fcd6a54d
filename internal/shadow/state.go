package shadow

// RequestState is where one action is in its request/response cycle.
type RequestState uint8

const (
	// Idle means no request of this action is outstanding.
	Idle RequestState = iota

	// Awaiting means a request was published and no response has arrived.
	Awaiting
)

func (s RequestState) String() string {
	if s == Awaiting {
		return "awaiting"
	}
	return "idle"
}
