// Package labeling asks the external AI service to classify a new capture. The service
// answers later through the label callback.
package labeling

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	capturedomain "trailwatch/backend/internal/capture/domain"
	"trailwatch/backend/internal/errs"
	"trailwatch/backend/internal/logging"
	"trailwatch/backend/internal/metrics"
	settingsrepo "trailwatch/backend/internal/tenantsettings/repository"
)

// Request is the webhook body sent to the labeler.
type Request struct {
	CapturedImageID string `json:"captured_image_id"`
	UserID          string `json:"user_id"`
	ImageURL        string `json:"image_url"`
}

// URLFunc maps a blob key to a URL the labeler can fetch.
type URLFunc func(storagePath string) string

// Trigger posts labeling requests in the background.
type Trigger struct {
	settings   settingsrepo.Repository
	defaultURL string
	imageURL   URLFunc
	client     *http.Client
	metrics    *metrics.Metrics
	maxRetries uint64
	timeout    time.Duration
	newBackOff func() backoff.BackOff

	wg sync.WaitGroup
}

// NewTrigger returns a trigger that uses the tenant's LabelerURL, falling back to defaultURL.
func NewTrigger(settings settingsrepo.Repository, defaultURL string, imageURL URLFunc, m *metrics.Metrics) *Trigger {
	return &Trigger{
		settings:   settings,
		defaultURL: strings.TrimSpace(defaultURL),
		imageURL:   imageURL,
		client:     &http.Client{Timeout: 10 * time.Second},
		metrics:    m,
		maxRetries: 3,
		timeout:    30 * time.Second,
		newBackOff: func() backoff.BackOff { return backoff.NewExponentialBackOff() },
	}
}

// Trigger sends the request for img without blocking the caller.
func (t *Trigger) Trigger(img *capturedomain.CapturedImage) {
	if t == nil || img == nil {
		return
	}
	snapshot := *img
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
		defer cancel()
		ctx = logging.WithAttrs(logging.WithComponent(ctx, "labeling"),
			slog.String("owner_id", snapshot.OwnerID),
			slog.String("capture_id", snapshot.ID))
		if err := t.TriggerSync(ctx, &snapshot); err != nil {
			t.metrics.SinkFailure("labeler")
			logging.Warn(ctx, "labeling: trigger failed", slog.Any("err", errs.Loggable(err)))
		}
	}()
}

// TriggerSync resolves the labeler URL and posts the request with bounded retries.
// No URL configured anywhere is a no-op.
func (t *Trigger) TriggerSync(ctx context.Context, img *capturedomain.CapturedImage) error {
	endpoint := t.defaultURL
	settings, err := t.settings.GetByOwnerID(ctx, img.OwnerID)
	if err != nil {
		return errs.Wrap(err, "labeling: load settings")
	}
	if settings != nil && strings.TrimSpace(settings.LabelerURL) != "" {
		endpoint = strings.TrimSpace(settings.LabelerURL)
	}
	if endpoint == "" {
		return nil
	}

	imageURL := img.StoragePath
	if t.imageURL != nil {
		imageURL = t.imageURL(img.StoragePath)
	}
	raw, err := json.Marshal(Request{CapturedImageID: img.ID, UserID: img.OwnerID, ImageURL: imageURL})
	if err != nil {
		return err
	}

	b := backoff.WithContext(backoff.WithMaxRetries(t.newBackOff(), t.maxRetries), ctx)
	err = backoff.Retry(func() error { return t.post(ctx, endpoint, raw) }, b)
	if err != nil {
		return fmt.Errorf("labeling: %w: %w", errs.ErrExternalSinkFailure, err)
	}
	return nil
}

func (t *Trigger) post(ctx context.Context, endpoint string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("labeler status %d", resp.StatusCode)
	default:
		return backoff.Permanent(fmt.Errorf("labeler status %d", resp.StatusCode))
	}
}

// Wait blocks until background triggers finish or ctx is done.
func (t *Trigger) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
