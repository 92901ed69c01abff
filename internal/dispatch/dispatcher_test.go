package dispatch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"trailwatch/backend/internal/dispatch/sms"
	labeldomain "trailwatch/backend/internal/label/domain"
	"trailwatch/backend/internal/memstore"
	"trailwatch/backend/internal/notification/domain"
	"trailwatch/backend/internal/policy/engine"
	settingsdomain "trailwatch/backend/internal/tenantsettings/domain"
)

// fakeProvider records calls and returns err.
type fakeProvider struct {
	name  string
	err   error
	delay time.Duration
	calls atomic.Int32

	mu       sync.Mutex
	messages []string
	creds    []sms.Credentials
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) Send(ctx context.Context, message, destination string, creds sms.Credentials) (sms.Result, error) {
	p.calls.Add(1)
	p.mu.Lock()
	p.messages = append(p.messages, message)
	p.creds = append(p.creds, creds)
	p.mu.Unlock()
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return sms.Result{}, ctx.Err()
		}
	}
	if p.err != nil {
		return sms.Result{}, p.err
	}
	return sms.Result{ProviderMessageID: "msg-1"}, nil
}

type fakePolicy struct {
	decision engine.AlertDecision
	err      error
}

func (f fakePolicy) EvaluateAlert(context.Context, settingsdomain.AlertPolicy, engine.AlertInput) (engine.AlertDecision, error) {
	return f.decision, f.err
}

func testLabel() *labeldomain.LabeledImage {
	return &labeldomain.LabeledImage{
		ID:              "label-1",
		CapturedImageID: "c1c1c1c1-0000-0000-0000-000000000000",
		OwnerID:         "U1",
		Label:           "deer",
		Confidence:      0.92,
		LabeledAt:       time.Date(2026, 3, 1, 22, 15, 0, 0, time.UTC),
	}
}

func smsSettings(provider string) *settingsdomain.TenantSettings {
	return &settingsdomain.TenantSettings{
		OwnerID: "U1",
		SMS: settingsdomain.SMSSettings{
			Provider:    provider,
			Destination: "+15550001111",
			APIKey:      "key",
			Sender:      "TRAIL",
		},
	}
}

func TestDispatch_NotConfigured(t *testing.T) {
	testCases := []struct {
		name     string
		settings *settingsdomain.TenantSettings
	}{
		{"no settings", nil},
		{"no provider", &settingsdomain.TenantSettings{OwnerID: "U1", SMS: settingsdomain.SMSSettings{Destination: "+1"}}},
		{"no destination", &settingsdomain.TenantSettings{OwnerID: "U1", SMS: settingsdomain.SMSSettings{Provider: "smslocal"}}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			store := memstore.New()
			provider := &fakeProvider{name: "smslocal"}
			d := NewDispatcher(store.Attempts(), sms.NewRegistry(provider))

			a, err := d.Dispatch(context.Background(), testLabel(), tc.settings)
			if err != nil {
				t.Fatalf("Dispatch: %v", err)
			}
			if a.Outcome != domain.OutcomeSkippedNotConfigured {
				t.Errorf("Outcome = %q, want %q", a.Outcome, domain.OutcomeSkippedNotConfigured)
			}
			if provider.calls.Load() != 0 {
				t.Errorf("provider called %d times, want 0", provider.calls.Load())
			}
			if got := store.AttemptsFor("label-1"); len(got) != 1 || got[0].FinishedAt == nil {
				t.Errorf("attempts = %+v, want one finalized row", got)
			}
		})
	}
}

func TestDispatch_Sent(t *testing.T) {
	store := memstore.New()
	provider := &fakeProvider{name: "smslocal"}
	d := NewDispatcher(store.Attempts(), sms.NewRegistry(provider))

	a, err := d.Dispatch(context.Background(), testLabel(), smsSettings("smslocal"))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if a.Outcome != domain.OutcomeSent {
		t.Fatalf("Outcome = %q, want sent", a.Outcome)
	}
	if a.Detail != "msg-1" {
		t.Errorf("Detail = %q, want provider message id", a.Detail)
	}
	if provider.creds[0].APIKey != "key" || provider.creds[0].Sender != "TRAIL" {
		t.Errorf("creds = %+v", provider.creds[0])
	}
	if msg := provider.messages[0]; !strings.Contains(msg, "deer") || !strings.Contains(msg, "92%") {
		t.Errorf("message = %q, want label and confidence", msg)
	}
	rows := store.AttemptsFor("label-1")
	if len(rows) != 1 || rows[0].Outcome != domain.OutcomeSent {
		t.Errorf("rows = %+v, want one sent", rows)
	}
}

func TestDispatch_IdempotentAfterSent(t *testing.T) {
	store := memstore.New()
	provider := &fakeProvider{name: "smslocal"}
	d := NewDispatcher(store.Attempts(), sms.NewRegistry(provider))
	ctx := context.Background()

	first, err := d.Dispatch(ctx, testLabel(), smsSettings("smslocal"))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	second, err := d.Dispatch(ctx, testLabel(), smsSettings("smslocal"))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("second dispatch returned %q, want existing %q", second.ID, first.ID)
	}
	if provider.calls.Load() != 1 {
		t.Errorf("provider called %d times, want 1", provider.calls.Load())
	}
}

func TestDispatch_ConcurrentNeverSendsTwice(t *testing.T) {
	store := memstore.New()
	provider := &fakeProvider{name: "smslocal", delay: 20 * time.Millisecond}
	d := NewDispatcher(store.Attempts(), sms.NewRegistry(provider))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := d.Dispatch(context.Background(), testLabel(), smsSettings("smslocal")); err != nil {
				t.Errorf("Dispatch: %v", err)
			}
		}()
	}
	wg.Wait()

	if provider.calls.Load() != 1 {
		t.Errorf("provider called %d times, want 1", provider.calls.Load())
	}
	sent := 0
	for _, a := range store.AttemptsFor("label-1") {
		if a.Outcome == domain.OutcomeSent {
			sent++
		}
	}
	if sent != 1 {
		t.Errorf("sent rows = %d, want 1", sent)
	}
}

func TestDispatch_ProviderFailureClassified(t *testing.T) {
	testCases := []struct {
		name string
		err  error
		want string
	}{
		{"credentials", &sms.SendError{Reason: domain.ReasonRejectedCredentials, Err: errors.New("401")}, "failed:rejected-credentials"},
		{"quota", &sms.SendError{Reason: domain.ReasonQuotaExhausted, Err: errors.New("402")}, "failed:quota-exhausted"},
		{"unclassified", errors.New("boom"), "failed:provider-error"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			store := memstore.New()
			d := NewDispatcher(store.Attempts(), sms.NewRegistry(&fakeProvider{name: "twilio", err: tc.err}))

			lbl := testLabel()
			before := *lbl
			a, err := d.Dispatch(context.Background(), lbl, smsSettings("twilio"))
			if err != nil {
				t.Fatalf("Dispatch: %v", err)
			}
			if a.Outcome != tc.want {
				t.Errorf("Outcome = %q, want %q", a.Outcome, tc.want)
			}
			if *lbl != before {
				t.Error("label was modified by a failed dispatch")
			}
			// A failed attempt frees the claim; a retry may send.
			retry := NewDispatcher(store.Attempts(), sms.NewRegistry(&fakeProvider{name: "twilio"}))
			a2, err := retry.Dispatch(context.Background(), lbl, smsSettings("twilio"))
			if err != nil {
				t.Fatalf("retry Dispatch: %v", err)
			}
			if a2.Outcome != domain.OutcomeSent {
				t.Errorf("retry Outcome = %q, want sent", a2.Outcome)
			}
		})
	}
}

func TestDispatch_MultibyteProviderErrorStoredAsValidText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("x" + strings.Repeat("é", 300)))
	}))
	defer srv.Close()
	client := sms.NewSMSLocalClient(srv.URL)
	client.HTTPClient = srv.Client()

	store := memstore.New()
	d := NewDispatcher(store.Attempts(), sms.NewRegistry(client))
	a, err := d.Dispatch(context.Background(), testLabel(), smsSettings("smslocal"))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if a.Outcome != "failed:"+domain.ReasonInvalidDestination {
		t.Errorf("Outcome = %q, want failed:%s", a.Outcome, domain.ReasonInvalidDestination)
	}
	if !utf8.ValidString(a.Detail) || strings.ContainsRune(a.Detail, utf8.RuneError) {
		t.Errorf("Detail is not clean UTF-8: %q", a.Detail)
	}
	rows := store.AttemptsFor("label-1")
	if len(rows) != 1 || !utf8.ValidString(rows[0].Detail) {
		t.Errorf("stored rows = %+v, want one with valid UTF-8 detail", rows)
	}
}

func TestDispatch_Timeout(t *testing.T) {
	store := memstore.New()
	provider := &fakeProvider{name: "smslocal", delay: time.Second}
	d := NewDispatcher(store.Attempts(), sms.NewRegistry(provider), WithSendTimeout(20*time.Millisecond))

	a, err := d.Dispatch(context.Background(), testLabel(), smsSettings("smslocal"))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if a.Outcome != domain.Failed(domain.ReasonTimeout) {
		t.Errorf("Outcome = %q, want failed:timeout", a.Outcome)
	}
}

func TestDispatch_UnknownProvider(t *testing.T) {
	store := memstore.New()
	d := NewDispatcher(store.Attempts(), sms.NewRegistry(&fakeProvider{name: "smslocal"}))

	a, err := d.Dispatch(context.Background(), testLabel(), smsSettings("pager"))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if a.Outcome != domain.Failed(domain.ReasonUnknownProvider) {
		t.Errorf("Outcome = %q, want failed:unknown-provider", a.Outcome)
	}
}

func TestDispatch_PolicySkip(t *testing.T) {
	store := memstore.New()
	provider := &fakeProvider{name: "smslocal"}
	policy := fakePolicy{decision: engine.AlertDecision{Notify: false, Reasons: []string{"ignored_label"}}}
	d := NewDispatcher(store.Attempts(), sms.NewRegistry(provider), WithPolicy(policy))

	a, err := d.Dispatch(context.Background(), testLabel(), smsSettings("smslocal"))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if a.Outcome != domain.OutcomeSkippedPolicy || a.Detail != "ignored_label" {
		t.Errorf("attempt = %+v, want skipped:policy with reason", a)
	}
	if provider.calls.Load() != 0 {
		t.Error("provider should not be called when policy skips")
	}
}

func TestDispatch_PolicyErrorStillNotifies(t *testing.T) {
	store := memstore.New()
	provider := &fakeProvider{name: "smslocal"}
	policy := fakePolicy{decision: engine.AlertDecision{Notify: true}, err: errors.New("compile")}
	d := NewDispatcher(store.Attempts(), sms.NewRegistry(provider), WithPolicy(policy))

	a, err := d.Dispatch(context.Background(), testLabel(), smsSettings("smslocal"))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if a.Outcome != domain.OutcomeSent {
		t.Errorf("Outcome = %q, want sent", a.Outcome)
	}
}

func TestBuildMessage(t *testing.T) {
	msg := BuildMessage(testLabel())
	want := "TrailWatch: deer detected (92% confidence) at 2026-03-01 22:15 UTC. Capture c1c1c1c1"
	if msg != want {
		t.Errorf("BuildMessage = %q, want %q", msg, want)
	}
	long := testLabel()
	long.Label = strings.Repeat("x", 300)
	if got := BuildMessage(long); len(got) != maxMessageLen {
		t.Errorf("len = %d, want %d", len(got), maxMessageLen)
	}
	wide := testLabel()
	wide.Label = strings.Repeat("鹿", 100)
	got := BuildMessage(wide)
	if len(got) > maxMessageLen || !utf8.ValidString(got) || strings.ContainsRune(got, utf8.RuneError) {
		t.Errorf("multibyte label: len = %d, valid = %v", len(got), utf8.ValidString(got))
	}
}
