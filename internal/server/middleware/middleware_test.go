package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"trailwatch/backend/internal/metrics"
	"trailwatch/backend/internal/security"
)

type auditCall struct{ ownerID, actor, action, resource string }

type mockAudit struct {
	mu    sync.Mutex
	calls []auditCall
}

func (m *mockAudit) LogEvent(_ context.Context, ownerID, actor, action, resource, _ string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, auditCall{ownerID, actor, action, resource})
}

func TestWithIdentity_SetsAllValues(t *testing.T) {
	ctx := WithIdentity(context.Background(), "owner-1", "device-1")

	ownerID, ok := OwnerID(ctx)
	if !ok || ownerID != "owner-1" {
		t.Errorf("OwnerID = %q, %v; want owner-1, true", ownerID, ok)
	}
	deviceID, ok := DeviceID(ctx)
	if !ok || deviceID != "device-1" {
		t.Errorf("DeviceID = %q, %v; want device-1, true", deviceID, ok)
	}
}

func TestOwnerID_ReturnsFalseWhenNotSet(t *testing.T) {
	ownerID, ok := OwnerID(context.Background())
	if ok {
		t.Error("OwnerID should return false when not set")
	}
	if ownerID != "" {
		t.Errorf("owner_id = %q, want empty string", ownerID)
	}
}

func TestRealIP(t *testing.T) {
	testCases := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"forwarded chain", map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1"}, "10.0.0.2:1234", "203.0.113.7"},
		{"real ip", map[string]string{"X-Real-IP": "198.51.100.2"}, "10.0.0.2:1234", "198.51.100.2"},
		{"remote addr", nil, "192.0.2.9:5555", "192.0.2.9"},
		{"remote without port", nil, "192.0.2.9", "192.0.2.9"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var got string
			h := RealIP(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = ClientIP(r.Context())
			}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tc.remote
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}
			h.ServeHTTP(httptest.NewRecorder(), req)
			if got != tc.want {
				t.Errorf("ClientIP = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestDeviceAuth(t *testing.T) {
	tokens, err := security.NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	valid, _, err := tokens.IssueAccess("owner-1", "device-1")
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}

	testCases := []struct {
		name       string
		header     string
		wantStatus int
		wantAudit  int
	}{
		{"valid token", "Bearer " + valid, http.StatusOK, 0},
		{"lowercase scheme", "bearer " + valid, http.StatusOK, 0},
		{"missing header", "", http.StatusUnauthorized, 0},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized, 0},
		{"garbage token", "Bearer not-a-jwt", http.StatusUnauthorized, 1},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			audit := &mockAudit{}
			var gotOwner, gotDevice string
			h := DeviceAuth(tokens, audit)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotOwner, _ = OwnerID(r.Context())
				gotDevice, _ = DeviceID(r.Context())
			}))
			req := httptest.NewRequest(http.MethodPost, "/v1/captures", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tc.wantStatus)
			}
			if len(audit.calls) != tc.wantAudit {
				t.Errorf("audit calls = %d, want %d", len(audit.calls), tc.wantAudit)
			}
			if tc.wantStatus == http.StatusOK {
				if gotOwner != "owner-1" || gotDevice != "device-1" {
					t.Errorf("identity = %q/%q", gotOwner, gotDevice)
				}
				return
			}
			var body ErrorBody
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if body.Error.Code != "unauthorized" {
				t.Errorf("code = %q, want unauthorized", body.Error.Code)
			}
		})
	}
}

func TestLabelerAuth(t *testing.T) {
	hasher := security.NewHasher(4)
	hash, err := hasher.Hash([]byte("labeler-secret"))
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	auth := security.NewLabelerAuthenticator(hasher, hash)
	audit := &mockAudit{}
	h := LabelerAuth(auth, audit)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	for _, tc := range []struct {
		header string
		want   int
	}{
		{"Bearer labeler-secret", http.StatusNoContent},
		{"Bearer wrong", http.StatusUnauthorized},
		{"", http.StatusUnauthorized},
	} {
		req := httptest.NewRequest(http.MethodPost, "/v1/labels/callback", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != tc.want {
			t.Errorf("header %q: status = %d, want %d", tc.header, rec.Code, tc.want)
		}
	}
	if len(audit.calls) != 2 || audit.calls[0].action != "labeler_auth_failure" {
		t.Errorf("audit = %+v, want two labeler auth failures", audit.calls)
	}
}

func TestRequestLog_UsesRoutePattern(t *testing.T) {
	m := metrics.New()
	r := chi.NewRouter()
	r.Use(RequestLog(m, map[string]bool{"/healthz": true}))
	r.Get("/v1/captures/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/captures/abc", nil))
	if rec.Code != http.StatusTeapot {
		t.Fatalf("status = %d", rec.Code)
	}

	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	found := false
	for _, f := range families {
		for _, metric := range f.GetMetric() {
			for _, l := range metric.GetLabel() {
				if l.GetName() == "route" && l.GetValue() == "/v1/captures/{id}" {
					found = true
				}
			}
		}
	}
	if !found {
		t.Error("no http metric labeled with the route pattern")
	}
}
