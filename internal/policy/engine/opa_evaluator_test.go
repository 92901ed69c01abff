package engine

import (
	"context"
	"reflect"
	"testing"
	"time"

	"trailwatch/backend/internal/tenantsettings/domain"
)

func TestOPAEvaluator_HealthCheck(t *testing.T) {
	e := NewOPAEvaluator()
	if err := e.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
}

func TestOPAEvaluator_DefaultPolicy(t *testing.T) {
	e := NewOPAEvaluator()
	ctx := context.Background()

	testCases := []struct {
		name        string
		policy      domain.AlertPolicy
		in          AlertInput
		wantNotify  bool
		wantReasons []string
	}{
		{
			name:       "no policy notifies",
			in:         AlertInput{Label: "deer", Confidence: 0.92},
			wantNotify: true,
		},
		{
			name:       "zero confidence with no floor notifies",
			in:         AlertInput{Label: "deer", Confidence: 0},
			wantNotify: true,
		},
		{
			name:        "below floor",
			policy:      domain.AlertPolicy{MinConfidence: 0.8},
			in:          AlertInput{Label: "deer", Confidence: 0.5},
			wantReasons: []string{"below_min_confidence"},
		},
		{
			name:       "at floor notifies",
			policy:     domain.AlertPolicy{MinConfidence: 0.8},
			in:         AlertInput{Label: "deer", Confidence: 0.8},
			wantNotify: true,
		},
		{
			name:        "ignored label is case insensitive",
			policy:      domain.AlertPolicy{IgnoredLabels: []string{"Squirrel"}},
			in:          AlertInput{Label: "SQUIRREL ", Confidence: 0.99},
			wantReasons: []string{"ignored_label"},
		},
		{
			name:        "both reasons",
			policy:      domain.AlertPolicy{MinConfidence: 0.9, IgnoredLabels: []string{"squirrel"}},
			in:          AlertInput{Label: "squirrel", Confidence: 0.1},
			wantReasons: []string{"below_min_confidence", "ignored_label"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := e.EvaluateAlert(ctx, tc.policy, tc.in)
			if err != nil {
				t.Fatalf("EvaluateAlert: %v", err)
			}
			if got.Notify != tc.wantNotify {
				t.Errorf("Notify = %v, want %v", got.Notify, tc.wantNotify)
			}
			if len(tc.wantReasons) == 0 {
				if len(got.Reasons) != 0 {
					t.Errorf("Reasons = %v, want none", got.Reasons)
				}
				return
			}
			if !reflect.DeepEqual(got.Reasons, tc.wantReasons) {
				t.Errorf("Reasons = %v, want %v", got.Reasons, tc.wantReasons)
			}
		})
	}
}

func TestOPAEvaluator_TenantOverride(t *testing.T) {
	// Night-only alerts: notify only between 20:00 and 06:00 UTC.
	const nightOnly = `package trailwatch.alerts

night if input.hour_utc >= 20
night if input.hour_utc < 6

default decision := {"notify": false, "reasons": ["daytime"]}

decision := {"notify": true, "reasons": []} if night
`
	e := NewOPAEvaluator()
	ctx := context.Background()
	policy := domain.AlertPolicy{PolicyRego: nightOnly}

	night := AlertInput{Label: "deer", Confidence: 0.9, LabeledAt: time.Date(2026, 1, 2, 23, 0, 0, 0, time.UTC)}
	got, err := e.EvaluateAlert(ctx, policy, night)
	if err != nil {
		t.Fatalf("EvaluateAlert: %v", err)
	}
	if !got.Notify {
		t.Errorf("night decision = %+v, want notify", got)
	}

	day := AlertInput{Label: "deer", Confidence: 0.9, LabeledAt: time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)}
	got, err = e.EvaluateAlert(ctx, policy, day)
	if err != nil {
		t.Fatalf("EvaluateAlert: %v", err)
	}
	if got.Notify || len(got.Reasons) != 1 || got.Reasons[0] != "daytime" {
		t.Errorf("day decision = %+v, want skip with daytime", got)
	}
}

func TestOPAEvaluator_CancelledFirstCallerDoesNotPoisonDefault(t *testing.T) {
	e := NewOPAEvaluator()
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	_, _ = e.EvaluateAlert(cancelled, domain.AlertPolicy{MinConfidence: 0.5}, AlertInput{Label: "deer", Confidence: 0.9})

	got, err := e.EvaluateAlert(context.Background(), domain.AlertPolicy{MinConfidence: 0.5}, AlertInput{Label: "deer", Confidence: 0.2})
	if err != nil {
		t.Fatalf("EvaluateAlert after cancelled caller: %v", err)
	}
	if got.Notify {
		t.Errorf("decision = %+v, want below-confidence skip", got)
	}
	if err := e.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck: %v", err)
	}
}

func TestOPAEvaluator_BrokenOverrideFallsBackToDefault(t *testing.T) {
	e := NewOPAEvaluator()
	ctx := context.Background()

	testCases := []struct {
		name   string
		module string
	}{
		{"syntax error", "package trailwatch.alerts\n\ndecision := {"},
		{"wrong package", "package other\n\ndecision := {\"notify\": false}"},
		{"not a decision", "package trailwatch.alerts\n\ndecision := 42"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			policy := domain.AlertPolicy{MinConfidence: 0.5, PolicyRego: tc.module}
			got, err := e.EvaluateAlert(ctx, policy, AlertInput{Label: "deer", Confidence: 0.2})
			if err != nil {
				t.Fatalf("EvaluateAlert: %v", err)
			}
			if got.Notify {
				t.Errorf("decision = %+v, want default policy skip for low confidence", got)
			}
		})
	}
}
