// Package httpapi is the HTTP transport: device uploads, labeler callbacks and the
// owner-scoped capture read API.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"trailwatch/backend/internal/audit"
	"trailwatch/backend/internal/metrics"
	"trailwatch/backend/internal/security"
	"trailwatch/backend/internal/server/middleware"
)

// Pinger reports backing store health.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Deps are the collaborators the router needs. Audit, AuditLog, Metrics and DB may be nil.
type Deps struct {
	Ingest         Ingester
	Correlator     Correlator
	Captures       CaptureReader
	Tokens         *security.TokenProvider
	Labeler        *security.LabelerAuthenticator
	Audit          audit.AuditLogger
	AuditLog       AuditReader
	Metrics        *metrics.Metrics
	DB             Pinger
	MaxUploadBytes int64
}

var unloggedPaths = map[string]bool{"/healthz": true, "/metrics": true}

// NewRouter builds the HTTP handler, instrumented with OpenTelemetry.
func NewRouter(d Deps) http.Handler {
	h := &handlers{
		ingest:    d.Ingest,
		correlate: d.Correlator,
		captures:  d.Captures,
		audit:     d.AuditLog,
		maxUpload: d.MaxUploadBytes,
		now:       func() time.Time { return time.Now().UTC() },
	}
	if h.maxUpload <= 0 {
		h.maxUpload = 10 << 20
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestLog(d.Metrics, unloggedPaths))
	r.Use(chimw.Recoverer)

	r.Get("/healthz", healthz(d.DB))
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.DeviceAuth(d.Tokens, d.Audit))
			r.Post("/captures", h.createCapture)
			r.Get("/captures", h.listCaptures)
			r.Get("/captures/{id}", h.getCapture)
			if h.audit != nil {
				r.Get("/audit", h.listAudit)
			}
		})
		r.Group(func(r chi.Router) {
			r.Use(middleware.LabelerAuth(d.Labeler, d.Audit))
			r.Post("/labels/callback", h.labelCallback)
		})
	})

	return otelhttp.NewHandler(r, "trailwatch-http")
}

func healthz(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := db.PingContext(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	}
}
