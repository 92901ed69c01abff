package labeling

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"

	capturedomain "trailwatch/backend/internal/capture/domain"
	settingsdomain "trailwatch/backend/internal/tenantsettings/domain"
	settingsrepo "trailwatch/backend/internal/tenantsettings/repository"
)

func newTestTrigger(settings settingsrepo.Repository, defaultURL string) *Trigger {
	t := NewTrigger(settings, defaultURL, func(key string) string { return "http://blobs.local/" + key }, nil)
	t.newBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	return t
}

func TestTriggerSync_PostsWebhook(t *testing.T) {
	var got Request
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("Content-Type = %q", r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("Decode: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	tr := newTestTrigger(settingsrepo.NewMemoryRepository(), server.URL)
	img := &capturedomain.CapturedImage{ID: "C1", OwnerID: "U1", StoragePath: "U1/2026/03/01/C1.jpg"}
	if err := tr.TriggerSync(context.Background(), img); err != nil {
		t.Fatalf("TriggerSync: %v", err)
	}
	want := Request{CapturedImageID: "C1", UserID: "U1", ImageURL: "http://blobs.local/U1/2026/03/01/C1.jpg"}
	if got != want {
		t.Errorf("request = %+v, want %+v", got, want)
	}
}

func TestTriggerSync_TenantURLOverridesDefault(t *testing.T) {
	var tenantHits, defaultHits atomic.Int32
	tenant := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { tenantHits.Add(1) }))
	defer tenant.Close()
	def := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { defaultHits.Add(1) }))
	defer def.Close()

	repo := settingsrepo.NewMemoryRepository()
	_ = repo.Upsert(context.Background(), &settingsdomain.TenantSettings{OwnerID: "U1", LabelerURL: tenant.URL})
	tr := newTestTrigger(repo, def.URL)

	if err := tr.TriggerSync(context.Background(), &capturedomain.CapturedImage{ID: "C1", OwnerID: "U1"}); err != nil {
		t.Fatalf("TriggerSync: %v", err)
	}
	if err := tr.TriggerSync(context.Background(), &capturedomain.CapturedImage{ID: "C2", OwnerID: "U2"}); err != nil {
		t.Fatalf("TriggerSync: %v", err)
	}
	if tenantHits.Load() != 1 || defaultHits.Load() != 1 {
		t.Errorf("hits tenant=%d default=%d, want 1/1", tenantHits.Load(), defaultHits.Load())
	}
}

func TestTriggerSync_NoURLIsNoop(t *testing.T) {
	tr := newTestTrigger(settingsrepo.NewMemoryRepository(), "")
	if err := tr.TriggerSync(context.Background(), &capturedomain.CapturedImage{ID: "C1", OwnerID: "U1"}); err != nil {
		t.Fatalf("TriggerSync: %v", err)
	}
}

func TestTriggerSync_RetryPolicy(t *testing.T) {
	testCases := []struct {
		name      string
		status    int
		wantCalls int32
	}{
		{"server error retried", http.StatusServiceUnavailable, 4},
		{"client error permanent", http.StatusBadRequest, 1},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var calls atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tc.status)
			}))
			defer server.Close()

			tr := newTestTrigger(settingsrepo.NewMemoryRepository(), server.URL)
			if err := tr.TriggerSync(context.Background(), &capturedomain.CapturedImage{ID: "C1", OwnerID: "U1"}); err == nil {
				t.Fatal("TriggerSync should fail")
			}
			if calls.Load() != tc.wantCalls {
				t.Errorf("calls = %d, want %d", calls.Load(), tc.wantCalls)
			}
		})
	}
}

func TestTrigger_Async(t *testing.T) {
	hit := make(chan struct{}, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { hit <- struct{}{} }))
	defer server.Close()

	tr := newTestTrigger(settingsrepo.NewMemoryRepository(), server.URL)
	tr.Trigger(&capturedomain.CapturedImage{ID: "C1", OwnerID: "U1"})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := tr.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	select {
	case <-hit:
	default:
		t.Error("labeler was not called")
	}
}
