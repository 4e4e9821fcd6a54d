package shadow

import "strings"

// Action is a shadow request kind.
type Action uint8

const (
	ActionGet Action = iota
	ActionUpdate
	ActionDelete
)

// actions lists every Action in table order.
var actions = [...]Action{ActionGet, ActionUpdate, ActionDelete}

func (a Action) String() string {
	switch a {
	case ActionGet:
		return "get"
	case ActionUpdate:
		return "update"
	case ActionDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Outcome is the suffix of a response or push topic.
type Outcome uint8

const (
	OutcomeAccepted Outcome = iota
	OutcomeRejected
	OutcomeDelta
	OutcomeDocuments
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAccepted:
		return "accepted"
	case OutcomeRejected:
		return "rejected"
	case OutcomeDelta:
		return "delta"
	case OutcomeDocuments:
		return "documents"
	default:
		return "unknown"
	}
}

// Topics builds the shadow topic names for one thing.
//
// Usage:
//
//	t := shadow.NewTopics("Lamp1")
//	t.UpdateRequest()  // "$aws/things/Lamp1/shadow/update"
type Topics struct {
	base string
}

// NewTopics returns the topic table for thingName.
func NewTopics(thingName string) Topics {
	return Topics{base: "$aws/things/" + thingName + "/shadow/"}
}

func (t Topics) request(a Action) string {
	return t.base + a.String()
}

func (t Topics) response(a Action, o Outcome) string {
	return t.base + a.String() + "/" + o.String()
}

// GetRequest returns the topic get requests are published to.
func (t Topics) GetRequest() string { return t.request(ActionGet) }

// GetAccepted returns the topic for accepted get responses.
func (t Topics) GetAccepted() string { return t.response(ActionGet, OutcomeAccepted) }

// GetRejected returns the topic for rejected get responses.
func (t Topics) GetRejected() string { return t.response(ActionGet, OutcomeRejected) }

// UpdateRequest returns the topic update documents are published to.
func (t Topics) UpdateRequest() string { return t.request(ActionUpdate) }

// UpdateAccepted returns the topic for accepted update responses.
func (t Topics) UpdateAccepted() string { return t.response(ActionUpdate, OutcomeAccepted) }

// UpdateRejected returns the topic for rejected update responses.
func (t Topics) UpdateRejected() string { return t.response(ActionUpdate, OutcomeRejected) }

// UpdateDelta returns the topic the broker pushes desired/reported differences to.
func (t Topics) UpdateDelta() string { return t.response(ActionUpdate, OutcomeDelta) }

// UpdateDocuments returns the topic the broker pushes full document changes to.
func (t Topics) UpdateDocuments() string { return t.response(ActionUpdate, OutcomeDocuments) }

// DeleteRequest returns the topic delete requests are published to.
func (t Topics) DeleteRequest() string { return t.request(ActionDelete) }

// DeleteAccepted returns the topic for accepted delete responses.
func (t Topics) DeleteAccepted() string { return t.response(ActionDelete, OutcomeAccepted) }

// DeleteRejected returns the topic for rejected delete responses.
func (t Topics) DeleteRejected() string { return t.response(ActionDelete, OutcomeRejected) }

// Request returns the request topic for a.
func (t Topics) Request(a Action) string { return t.request(a) }

// All returns the eleven topics in table order.
func (t Topics) All() []string {
	return []string{
		t.GetRequest(), t.GetAccepted(), t.GetRejected(),
		t.UpdateRequest(), t.UpdateAccepted(), t.UpdateRejected(),
		t.UpdateDelta(), t.UpdateDocuments(),
		t.DeleteRequest(), t.DeleteAccepted(), t.DeleteRejected(),
	}
}

// Subscriptions returns the eight topics a manager listens on.
func (t Topics) Subscriptions() []string {
	return []string{
		t.GetAccepted(), t.GetRejected(),
		t.UpdateAccepted(), t.UpdateRejected(),
		t.UpdateDelta(), t.UpdateDocuments(),
		t.DeleteAccepted(), t.DeleteRejected(),
	}
}

// Classify maps a response or push topic back to its action and outcome.
// Request topics and foreign topics report ok = false. Matching is exact.
func (t Topics) Classify(topic string) (a Action, o Outcome, ok bool) {
	rest, found := strings.CutPrefix(topic, t.base)
	if !found {
		return 0, 0, false
	}

	switch rest {
	case "get/accepted":
		return ActionGet, OutcomeAccepted, true
	case "get/rejected":
		return ActionGet, OutcomeRejected, true
	case "update/accepted":
		return ActionUpdate, OutcomeAccepted, true
	case "update/rejected":
		return ActionUpdate, OutcomeRejected, true
	case "update/delta":
		return ActionUpdate, OutcomeDelta, true
	case "update/documents":
		return ActionUpdate, OutcomeDocuments, true
	case "delete/accepted":
		return ActionDelete, OutcomeAccepted, true
	case "delete/rejected":
		return ActionDelete, OutcomeRejected, true
	default:
		return 0, 0, false
	}
}
