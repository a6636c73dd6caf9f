package store

import "testing"

func TestValidTransition(t *testing.T) {
	cases := []struct {
		action string
		from   string
		valid  bool
	}{
		{"call", "waiting", true},
		{"call", "called", false},
		{"call", "in_progress", false},
		{"serve", "waiting", true},
		{"serve", "called", true},
		{"serve", "in_progress", false},
		{"finish", "in_progress", true},
		{"finish", "called", false},
		{"finish", "waiting", false},
		{"cancel", "waiting", true},
		{"cancel", "called", true},
		{"cancel", "in_progress", true},
		{"cancel", "done", false},
		{"cancel", "cancelled", false},
		{"serve", "done", false},
		{"call", "cancelled", false},
		{"unknown", "waiting", false},
	}

	for _, tt := range cases {
		if got := ValidTransition(tt.action, tt.from); got != tt.valid {
			t.Fatalf("ValidTransition(%q, %q)=%v, want %v", tt.action, tt.from, got, tt.valid)
		}
	}
}

func TestActionFor(t *testing.T) {
	cases := map[string]string{
		"called":      "call",
		"in_progress": "serve",
		"done":        "finish",
		"cancelled":   "cancel",
	}
	for status, want := range cases {
		got, ok := ActionFor(status)
		if !ok || got != want {
			t.Fatalf("ActionFor(%q)=%q,%v, want %q", status, got, ok, want)
		}
	}
	if _, ok := ActionFor("waiting"); ok {
		t.Fatalf("expected no action back into waiting")
	}
	if _, ok := ActionFor("bogus"); ok {
		t.Fatalf("expected no action for unknown status")
	}
}

func TestTerminalStatusesHaveNoExit(t *testing.T) {
	for _, action := range []string{ActionCall, ActionServe, ActionFinish, ActionCancel} {
		for _, from := range []string{"done", "cancelled"} {
			if ValidTransition(action, from) {
				t.Fatalf("action %q must not leave terminal status %q", action, from)
			}
		}
	}
}
