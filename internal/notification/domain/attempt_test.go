package domain

import "testing"

func TestAttemptPredicates(t *testing.T) {
	cases := []struct {
		outcome     string
		final, live bool
	}{
		{OutcomePending, false, true},
		{OutcomeSent, true, true},
		{OutcomeSkippedPolicy, true, false},
		{OutcomeSkippedNotConfigured, true, false},
		{Failed(ReasonTimeout), true, false},
	}
	for _, tc := range cases {
		a := &Attempt{Outcome: tc.outcome}
		if a.Final() != tc.final || a.Live() != tc.live {
			t.Errorf("%q: final=%v live=%v, want %v %v", tc.outcome, a.Final(), a.Live(), tc.final, tc.live)
		}
	}
	if !IsFailed("failed:network") || IsFailed("sent") {
		t.Error("IsFailed mismatch")
	}
}
