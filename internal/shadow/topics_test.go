package shadow

import "testing"

func TestTopics_Lamp1(t *testing.T) {
	want := []string{
		"$aws/things/Lamp1/shadow/get",
		"$aws/things/Lamp1/shadow/get/accepted",
		"$aws/things/Lamp1/shadow/get/rejected",
		"$aws/things/Lamp1/shadow/update",
		"$aws/things/Lamp1/shadow/update/accepted",
		"$aws/things/Lamp1/shadow/update/rejected",
		"$aws/things/Lamp1/shadow/update/delta",
		"$aws/things/Lamp1/shadow/update/documents",
		"$aws/things/Lamp1/shadow/delete",
		"$aws/things/Lamp1/shadow/delete/accepted",
		"$aws/things/Lamp1/shadow/delete/rejected",
	}

	got := NewTopics("Lamp1").All()
	if len(got) != len(want) {
		t.Fatalf("All() returned %d topics, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("All()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestTopics_Accessors(t *testing.T) {
	topics := NewTopics("T")

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"GetRequest", topics.GetRequest(), "$aws/things/T/shadow/get"},
		{"GetAccepted", topics.GetAccepted(), "$aws/things/T/shadow/get/accepted"},
		{"GetRejected", topics.GetRejected(), "$aws/things/T/shadow/get/rejected"},
		{"UpdateRequest", topics.UpdateRequest(), "$aws/things/T/shadow/update"},
		{"UpdateAccepted", topics.UpdateAccepted(), "$aws/things/T/shadow/update/accepted"},
		{"UpdateRejected", topics.UpdateRejected(), "$aws/things/T/shadow/update/rejected"},
		{"UpdateDelta", topics.UpdateDelta(), "$aws/things/T/shadow/update/delta"},
		{"UpdateDocuments", topics.UpdateDocuments(), "$aws/things/T/shadow/update/documents"},
		{"DeleteRequest", topics.DeleteRequest(), "$aws/things/T/shadow/delete"},
		{"DeleteAccepted", topics.DeleteAccepted(), "$aws/things/T/shadow/delete/accepted"},
		{"DeleteRejected", topics.DeleteRejected(), "$aws/things/T/shadow/delete/rejected"},
		{"Request(update)", topics.Request(ActionUpdate), "$aws/things/T/shadow/update"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.want)
			}
		})
	}
}

func TestTopics_Subscriptions(t *testing.T) {
	subs := NewTopics("Lamp1").Subscriptions()
	if len(subs) != 8 {
		t.Fatalf("Subscriptions() returned %d topics, want 8", len(subs))
	}
	topics := NewTopics("Lamp1")
	for _, s := range subs {
		if _, _, ok := topics.Classify(s); !ok {
			t.Errorf("Classify(%q) ok = false for a subscription topic", s)
		}
	}
}

func TestTopics_Classify(t *testing.T) {
	topics := NewTopics("Lamp1")

	tests := []struct {
		topic   string
		action  Action
		outcome Outcome
		ok      bool
	}{
		{"$aws/things/Lamp1/shadow/get/accepted", ActionGet, OutcomeAccepted, true},
		{"$aws/things/Lamp1/shadow/get/rejected", ActionGet, OutcomeRejected, true},
		{"$aws/things/Lamp1/shadow/update/accepted", ActionUpdate, OutcomeAccepted, true},
		{"$aws/things/Lamp1/shadow/update/rejected", ActionUpdate, OutcomeRejected, true},
		{"$aws/things/Lamp1/shadow/update/delta", ActionUpdate, OutcomeDelta, true},
		{"$aws/things/Lamp1/shadow/update/documents", ActionUpdate, OutcomeDocuments, true},
		{"$aws/things/Lamp1/shadow/delete/accepted", ActionDelete, OutcomeAccepted, true},
		{"$aws/things/Lamp1/shadow/delete/rejected", ActionDelete, OutcomeRejected, true},
		{"$aws/things/Lamp1/shadow/get", 0, 0, false},
		{"$aws/things/Lamp1/shadow/update", 0, 0, false},
		{"$aws/things/Lamp2/shadow/get/accepted", 0, 0, false},
		{"$aws/things/Lamp1/shadow/get/accepted/extra", 0, 0, false},
		{"lights/kitchen", 0, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			a, o, ok := topics.Classify(tt.topic)
			if ok != tt.ok {
				t.Fatalf("Classify() ok = %v, want %v", ok, tt.ok)
			}
			if ok && (a != tt.action || o != tt.outcome) {
				t.Errorf("Classify() = %v/%v, want %v/%v", a, o, tt.action, tt.outcome)
			}
		})
	}
}

func TestAction_String(t *testing.T) {
	if ActionGet.String() != "get" || ActionUpdate.String() != "update" || ActionDelete.String() != "delete" {
		t.Errorf("unexpected action names: %s %s %s", ActionGet, ActionUpdate, ActionDelete)
	}
	if Action(9).String() != "unknown" {
		t.Errorf("Action(9).String() = %q, want unknown", Action(9).String())
	}
}
