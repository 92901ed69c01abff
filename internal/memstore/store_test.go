package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	capturedomain "trailwatch/backend/internal/capture/domain"
	capturerepo "trailwatch/backend/internal/capture/repository"
	"trailwatch/backend/internal/errs"
	labeldomain "trailwatch/backend/internal/label/domain"
	labelrepo "trailwatch/backend/internal/label/repository"
	notificationdomain "trailwatch/backend/internal/notification/domain"
	notificationrepo "trailwatch/backend/internal/notification/repository"
)

var (
	_ capturerepo.Repository      = (*Captures)(nil)
	_ labelrepo.Repository        = (*Labels)(nil)
	_ notificationrepo.Repository = (*Attempts)(nil)
)

func TestStore_ConstraintSemantics(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now().UTC()

	if err := s.Labels().Create(ctx, &labeldomain.LabeledImage{ID: "l0", CapturedImageID: "missing"}); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("label for missing capture: %v, want ErrNotFound", err)
	}

	_ = s.Captures().Create(ctx, &capturedomain.CapturedImage{ID: "c1", OwnerID: "u1", CreatedAt: now})
	if err := s.Labels().Create(ctx, &labeldomain.LabeledImage{ID: "l1", CapturedImageID: "c1", LabeledAt: now}); err != nil {
		t.Fatalf("first label: %v", err)
	}
	if err := s.Labels().Create(ctx, &labeldomain.LabeledImage{ID: "l2", CapturedImageID: "c1"}); !errors.Is(err, errs.ErrAlreadyLabeled) {
		t.Errorf("second label: %v, want ErrAlreadyLabeled", err)
	}

	claim := &notificationdomain.Attempt{ID: "a1", LabeledImageID: "l1", Outcome: notificationdomain.OutcomePending, AttemptedAt: now}
	if err := s.Attempts().Claim(ctx, claim); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := s.Attempts().Claim(ctx, &notificationdomain.Attempt{ID: "a2", LabeledImageID: "l1", Outcome: notificationdomain.OutcomePending}); err != notificationrepo.ErrClaimConflict {
		t.Errorf("second claim: %v, want ErrClaimConflict", err)
	}
	if err := s.Attempts().Finalize(ctx, "a1", "smslocal", notificationdomain.OutcomeSent, "", now); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if err := s.Attempts().Finalize(ctx, "a1", "smslocal", notificationdomain.Failed("timeout"), "", now); err != notificationrepo.ErrAlreadyFinal {
		t.Errorf("second finalize: %v, want ErrAlreadyFinal", err)
	}

	sum, _ := s.Captures().GetSummary(ctx, "u1", "c1")
	if sum == nil || sum.State != capturedomain.StateNotified {
		t.Errorf("summary = %+v, want notified", sum)
	}
	if other, _ := s.Captures().GetSummary(ctx, "u2", "c1"); other != nil {
		t.Error("summary leaked across tenants")
	}
}
