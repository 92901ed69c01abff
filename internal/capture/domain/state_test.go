package domain

import "testing"

func TestDeriveState(t *testing.T) {
	cases := []struct {
		labeled bool
		outcome string
		want    State
	}{
		{false, "", StateAwaitingLabel},
		{true, "", StateLabeled},
		{true, "pending", StateLabeled},
		{true, "sent", StateNotified},
		{true, "skipped:not-configured", StateNotificationSkipped},
		{true, "skipped:policy", StateNotificationSkipped},
		{true, "failed:timeout", StateNotificationFailed},
	}
	for _, tc := range cases {
		if got := DeriveState(tc.labeled, tc.outcome); got != tc.want {
			t.Errorf("DeriveState(%v, %q) = %q, want %q", tc.labeled, tc.outcome, got, tc.want)
		}
	}
}

func TestParseSource(t *testing.T) {
	if s, ok := ParseSource(""); !ok || s != SourceLiveDevice {
		t.Errorf("empty source = %q, %v", s, ok)
	}
	if s, ok := ParseSource("Manual-Upload"); !ok || s != SourceManualUpload {
		t.Errorf("manual-upload = %q, %v", s, ok)
	}
	if _, ok := ParseSource("drone"); ok {
		t.Error("unknown source accepted")
	}
}

func TestParseState(t *testing.T) {
	if _, ok := ParseState("awaiting_label"); !ok {
		t.Error("awaiting_label rejected")
	}
	if _, ok := ParseState("processing"); ok {
		t.Error("unknown state accepted")
	}
}

func TestValidID(t *testing.T) {
	cases := map[string]bool{
		"6f1c2a3e-8d4b-4c59-9a1e-2b7d3c4e5f60": true,
		"C1":                                   false,
		"":                                     false,
		"6f1c2a3e":                             false,
		"6f1c2a3e-8d4b-4c59-9a1e-2b7d3c4e5f6z": false,
	}
	for id, want := range cases {
		if got := ValidID(id); got != want {
			t.Errorf("ValidID(%q) = %v, want %v", id, got, want)
		}
	}
}
