package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	auditdomain "trailwatch/backend/internal/audit/domain"
	capturedomain "trailwatch/backend/internal/capture/domain"
	"trailwatch/backend/internal/errs"
	"trailwatch/backend/internal/ingest"
	labeldomain "trailwatch/backend/internal/label/domain"
	"trailwatch/backend/internal/server/middleware"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
	maxCallbackBytes = 64 << 10
)

// Ingester stores uploaded images.
type Ingester interface {
	Ingest(ctx context.Context, ownerID string, image []byte, meta ingest.Metadata) (*capturedomain.CapturedImage, error)
}

// Correlator records label callbacks.
type Correlator interface {
	Correlate(ctx context.Context, capturedImageID, ownerID, label string, confidence float64) (*labeldomain.LabeledImage, error)
}

// CaptureReader serves the owner-scoped read model.
type CaptureReader interface {
	GetSummary(ctx context.Context, ownerID, id string) (*capturedomain.Summary, error)
	ListSummaries(ctx context.Context, ownerID string, state capturedomain.State, limit int) ([]capturedomain.Summary, error)
}

// AuditReader lists an owner's security audit entries, newest first.
type AuditReader interface {
	ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]*auditdomain.AuditLog, error)
}

type auditResponse struct {
	ID        string    `json:"id"`
	Actor     string    `json:"actor"`
	Action    string    `json:"action"`
	Resource  string    `json:"resource"`
	IP        string    `json:"ip"`
	Metadata  string    `json:"metadata,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type captureResponse struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"owner_id"`
	CapturedAt  time.Time `json:"captured_at"`
	Source      string    `json:"source"`
	StoragePath string    `json:"storage_path"`
}

type labelResponse struct {
	ID              string    `json:"id"`
	CapturedImageID string    `json:"captured_image_id"`
	OwnerID         string    `json:"owner_id"`
	Label           string    `json:"label"`
	Confidence      float64   `json:"confidence"`
	LabeledAt       time.Time `json:"labeled_at"`
}

type summaryResponse struct {
	captureResponse
	ContentType  string         `json:"content_type"`
	SizeBytes    int64          `json:"size_bytes"`
	CreatedAt    time.Time      `json:"created_at"`
	State        string         `json:"state"`
	Label        *labelSummary  `json:"label,omitempty"`
	Notification *notifySummary `json:"notification,omitempty"`
}

type labelSummary struct {
	ID         string     `json:"id"`
	Label      string     `json:"label"`
	Confidence float64    `json:"confidence"`
	LabeledAt  *time.Time `json:"labeled_at,omitempty"`
}

type notifySummary struct {
	Provider    string     `json:"provider,omitempty"`
	Outcome     string     `json:"outcome"`
	AttemptedAt *time.Time `json:"attempted_at,omitempty"`
}

// callbackRequest accepts user_id as an alias of owner_id for labelers built against the
// original webhook contract.
type callbackRequest struct {
	CapturedImageID string   `json:"captured_image_id"`
	OwnerID         string   `json:"owner_id"`
	UserID          string   `json:"user_id"`
	Label           string   `json:"label"`
	Confidence      *float64 `json:"confidence"`
}

type handlers struct {
	ingest    Ingester
	correlate Correlator
	captures  CaptureReader
	audit     AuditReader
	maxUpload int64
	now       func() time.Time
}

func (h *handlers) createCapture(w http.ResponseWriter, r *http.Request) {
	ownerID, _ := middleware.OwnerID(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+(1<<20))
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeServiceError(r.Context(), w, errs.Invalid("upload exceeds %d bytes", h.maxUpload))
			return
		}
		writeServiceError(r.Context(), w, errs.Invalid("malformed multipart form: %v", err))
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, _, err := r.FormFile("image")
	if err != nil {
		writeServiceError(r.Context(), w, errs.Invalid("image file is required"))
		return
	}
	defer file.Close()
	// One byte past the limit is enough for the service to reject oversize uploads.
	data, err := io.ReadAll(io.LimitReader(file, h.maxUpload+1))
	if err != nil {
		writeServiceError(r.Context(), w, errs.Wrap(err, "read image"))
		return
	}

	capturedAt := h.now()
	if v := strings.TrimSpace(r.FormValue("captured_at")); v != "" {
		capturedAt, err = time.Parse(time.RFC3339, v)
		if err != nil {
			writeServiceError(r.Context(), w, errs.Invalid("captured_at must be RFC3339"))
			return
		}
	}

	img, err := h.ingest.Ingest(r.Context(), ownerID, data, ingest.Metadata{
		CapturedAt: capturedAt,
		Source:     r.FormValue("source"),
	})
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCaptureResponse(img))
}

func (h *handlers) labelCallback(w http.ResponseWriter, r *http.Request) {
	var req callbackRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxCallbackBytes))
	if err := dec.Decode(&req); err != nil {
		writeServiceError(r.Context(), w, errs.Invalid("malformed JSON body"))
		return
	}
	ownerID := req.OwnerID
	if ownerID == "" {
		ownerID = req.UserID
	}
	if req.Confidence == nil {
		writeServiceError(r.Context(), w, errs.Invalid("confidence is required"))
		return
	}

	lbl, err := h.correlate.Correlate(r.Context(), req.CapturedImageID, ownerID, req.Label, *req.Confidence)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusCreated, labelResponse{
		ID:              lbl.ID,
		CapturedImageID: lbl.CapturedImageID,
		OwnerID:         lbl.OwnerID,
		Label:           lbl.Label,
		Confidence:      lbl.Confidence,
		LabeledAt:       lbl.LabeledAt,
	})
}

func (h *handlers) getCapture(w http.ResponseWriter, r *http.Request) {
	ownerID, _ := middleware.OwnerID(r.Context())
	id := chi.URLParam(r, "id")
	if !capturedomain.ValidID(id) {
		writeServiceError(r.Context(), w, fmt.Errorf("capture %s: %w", id, errs.ErrNotFound))
		return
	}
	sum, err := h.captures.GetSummary(r.Context(), ownerID, id)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	if sum == nil {
		writeServiceError(r.Context(), w, fmt.Errorf("capture %s: %w", id, errs.ErrNotFound))
		return
	}
	writeJSON(w, http.StatusOK, toSummaryResponse(*sum))
}

func (h *handlers) listCaptures(w http.ResponseWriter, r *http.Request) {
	ownerID, _ := middleware.OwnerID(r.Context())
	q := r.URL.Query()

	var state capturedomain.State
	if v := q.Get("state"); v != "" {
		st, ok := capturedomain.ParseState(v)
		if !ok {
			writeServiceError(r.Context(), w, errs.Invalid("unknown state %q", v))
			return
		}
		state = st
	}
	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}

	sums, err := h.captures.ListSummaries(r.Context(), ownerID, state, limit)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	out := make([]summaryResponse, 0, len(sums))
	for _, s := range sums {
		out = append(out, toSummaryResponse(s))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"captures": out})
}

func (h *handlers) listAudit(w http.ResponseWriter, r *http.Request) {
	ownerID, _ := middleware.OwnerID(r.Context())
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	offset := 0
	if v := r.URL.Query().Get("offset"); v != "" {
		if offset, err = strconv.Atoi(v); err != nil || offset < 0 {
			writeServiceError(r.Context(), w, errs.Invalid("offset must be a non-negative integer"))
			return
		}
	}
	entries, err := h.audit.ListByOwner(r.Context(), ownerID, limit, offset)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	out := make([]auditResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, auditResponse{
			ID: e.ID, Actor: e.Actor, Action: e.Action, Resource: e.Resource,
			IP: e.IP, Metadata: e.Metadata, CreatedAt: e.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": out})
}

func parseLimit(v string) (int, error) {
	if v == "" {
		return defaultListLimit, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, errs.Invalid("limit must be a positive integer")
	}
	return min(n, maxListLimit), nil
}

func toCaptureResponse(img *capturedomain.CapturedImage) captureResponse {
	return captureResponse{
		ID:          img.ID,
		OwnerID:     img.OwnerID,
		CapturedAt:  img.CapturedAt,
		Source:      string(img.Source),
		StoragePath: img.StoragePath,
	}
}

func toSummaryResponse(s capturedomain.Summary) summaryResponse {
	out := summaryResponse{
		captureResponse: toCaptureResponse(&s.Image),
		ContentType:     s.Image.ContentType,
		SizeBytes:       s.Image.SizeBytes,
		CreatedAt:       s.Image.CreatedAt,
		State:           string(s.State),
	}
	if s.LabelID != "" {
		out.Label = &labelSummary{ID: s.LabelID, Label: s.Label, Confidence: s.Confidence, LabeledAt: s.LabeledAt}
	}
	if s.Outcome != "" {
		out.Notification = &notifySummary{Provider: s.Provider, Outcome: s.Outcome, AttemptedAt: s.AttemptedAt}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
