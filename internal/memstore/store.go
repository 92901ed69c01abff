// Package memstore is an in-memory detection event store with the same constraint
// semantics as the Postgres schema: one label per capture, one live attempt per label.
// Used by service and transport tests.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	capturedomain "trailwatch/backend/internal/capture/domain"
	"trailwatch/backend/internal/errs"
	labeldomain "trailwatch/backend/internal/label/domain"
	notificationdomain "trailwatch/backend/internal/notification/domain"
	notificationrepo "trailwatch/backend/internal/notification/repository"
)

// Store holds all rows behind one mutex.
type Store struct {
	mu       sync.Mutex
	captures map[string]capturedomain.CapturedImage
	labels   map[string]labeldomain.LabeledImage // by captured image id
	attempts []notificationdomain.Attempt

	// FailCaptureCreate makes the next capture insert fail with this error.
	FailCaptureCreate error
}

func New() *Store {
	return &Store{
		captures: make(map[string]capturedomain.CapturedImage),
		labels:   make(map[string]labeldomain.LabeledImage),
	}
}

// Captures returns the capture repository view.
func (s *Store) Captures() *Captures { return &Captures{s: s} }

// Labels returns the label repository view.
func (s *Store) Labels() *Labels { return &Labels{s: s} }

// Attempts returns the notification attempt repository view.
func (s *Store) Attempts() *Attempts { return &Attempts{s: s} }

// LabelCount returns the number of stored labels.
func (s *Store) LabelCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.labels)
}

// CaptureCount returns the number of stored captures.
func (s *Store) CaptureCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.captures)
}

// AttemptsFor returns a copy of every attempt for the label in insertion order.
func (s *Store) AttemptsFor(labeledImageID string) []notificationdomain.Attempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []notificationdomain.Attempt
	for _, a := range s.attempts {
		if a.LabeledImageID == labeledImageID {
			out = append(out, a)
		}
	}
	return out
}

type Captures struct{ s *Store }

func (c *Captures) Create(_ context.Context, img *capturedomain.CapturedImage) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	if err := c.s.FailCaptureCreate; err != nil {
		c.s.FailCaptureCreate = nil
		return err
	}
	c.s.captures[img.ID] = *img
	return nil
}

func (c *Captures) GetByID(_ context.Context, id string) (*capturedomain.CapturedImage, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	img, ok := c.s.captures[id]
	if !ok {
		return nil, nil
	}
	return &img, nil
}

func (c *Captures) GetSummary(_ context.Context, ownerID, id string) (*capturedomain.Summary, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	img, ok := c.s.captures[id]
	if !ok || img.OwnerID != ownerID {
		return nil, nil
	}
	sum := c.s.summaryLocked(img)
	return &sum, nil
}

func (c *Captures) ListSummaries(_ context.Context, ownerID string, state capturedomain.State, limit int) ([]capturedomain.Summary, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	var out []capturedomain.Summary
	for _, img := range c.s.captures {
		if img.OwnerID != ownerID {
			continue
		}
		sum := c.s.summaryLocked(img)
		if state != "" && sum.State != state {
			continue
		}
		out = append(out, sum)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Image.CreatedAt.After(out[j].Image.CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (c *Captures) CountAwaitingLabel(_ context.Context, createdBefore time.Time) (int, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	n := 0
	for id, img := range c.s.captures {
		if _, labeled := c.s.labels[id]; !labeled && img.CreatedAt.Before(createdBefore) {
			n++
		}
	}
	return n, nil
}

func (s *Store) summaryLocked(img capturedomain.CapturedImage) capturedomain.Summary {
	sum := capturedomain.Summary{Image: img}
	if l, ok := s.labels[img.ID]; ok {
		labeledAt := l.LabeledAt
		sum.LabelID, sum.Label, sum.Confidence, sum.LabeledAt = l.ID, l.Label, l.Confidence, &labeledAt
		if a := s.latestLocked(l.ID); a != nil {
			attemptedAt := a.AttemptedAt
			sum.Provider, sum.Outcome, sum.AttemptedAt = a.Provider, a.Outcome, &attemptedAt
		}
	}
	sum.State = capturedomain.DeriveState(sum.LabelID != "", sum.Outcome)
	return sum
}

func (s *Store) latestLocked(labeledImageID string) *notificationdomain.Attempt {
	var latest *notificationdomain.Attempt
	for i := range s.attempts {
		a := &s.attempts[i]
		if a.LabeledImageID == labeledImageID && (latest == nil || !a.AttemptedAt.Before(latest.AttemptedAt)) {
			latest = a
		}
	}
	return latest
}

type Labels struct{ s *Store }

func (l *Labels) Create(_ context.Context, lbl *labeldomain.LabeledImage) error {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	if _, ok := l.s.captures[lbl.CapturedImageID]; !ok {
		return errs.Wrapf(errs.ErrNotFound, "capture %s", lbl.CapturedImageID)
	}
	if _, ok := l.s.labels[lbl.CapturedImageID]; ok {
		return errs.Wrapf(errs.ErrAlreadyLabeled, "capture %s", lbl.CapturedImageID)
	}
	l.s.labels[lbl.CapturedImageID] = *lbl
	return nil
}

func (l *Labels) GetByCapturedImageID(_ context.Context, capturedImageID string) (*labeldomain.LabeledImage, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	lbl, ok := l.s.labels[capturedImageID]
	if !ok {
		return nil, nil
	}
	return &lbl, nil
}

func (l *Labels) ListUndispatched(_ context.Context, labeledBefore time.Time, limit int) ([]labeldomain.LabeledImage, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	var out []labeldomain.LabeledImage
	for _, lbl := range l.s.labels {
		if !lbl.LabeledAt.Before(labeledBefore) {
			continue
		}
		a := l.s.latestLocked(lbl.ID)
		if a == nil || a.Outcome == notificationdomain.Failed(notificationdomain.ReasonAbandoned) {
			out = append(out, lbl)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LabeledAt.Before(out[j].LabeledAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type Attempts struct{ s *Store }

func (a *Attempts) GetLive(_ context.Context, labeledImageID string) (*notificationdomain.Attempt, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	for _, at := range a.s.attempts {
		if at.LabeledImageID == labeledImageID && at.Live() {
			return &at, nil
		}
	}
	return nil, nil
}

func (a *Attempts) Claim(_ context.Context, at *notificationdomain.Attempt) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	for _, existing := range a.s.attempts {
		if existing.LabeledImageID == at.LabeledImageID && existing.Live() {
			return notificationrepo.ErrClaimConflict
		}
	}
	a.s.attempts = append(a.s.attempts, *at)
	return nil
}

func (a *Attempts) Record(_ context.Context, at *notificationdomain.Attempt) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	a.s.attempts = append(a.s.attempts, *at)
	return nil
}

func (a *Attempts) Finalize(_ context.Context, id, provider, outcome, detail string, finishedAt time.Time) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	for i := range a.s.attempts {
		at := &a.s.attempts[i]
		if at.ID != id {
			continue
		}
		if at.Outcome != notificationdomain.OutcomePending {
			return notificationrepo.ErrAlreadyFinal
		}
		at.Provider, at.Outcome, at.Detail = provider, outcome, detail
		at.FinishedAt = &finishedAt
		return nil
	}
	return notificationrepo.ErrAlreadyFinal
}

func (a *Attempts) ExpirePending(_ context.Context, attemptedBefore time.Time) (int64, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	var n int64
	now := time.Now().UTC()
	for i := range a.s.attempts {
		at := &a.s.attempts[i]
		if at.Outcome == notificationdomain.OutcomePending && at.AttemptedAt.Before(attemptedBefore) {
			at.Outcome = notificationdomain.Failed(notificationdomain.ReasonAbandoned)
			at.FinishedAt = &now
			n++
		}
	}
	return n, nil
}
