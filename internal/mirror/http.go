package mirror

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	settingsdomain "trailwatch/backend/internal/tenantsettings/domain"
)

// HTTPPublisher writes to a ThingSpeak-style REST endpoint (POST /update).
type HTTPPublisher struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewHTTPPublisher returns a publisher for baseURL (empty uses api.thingspeak.com).
func NewHTTPPublisher(baseURL string) *HTTPPublisher {
	if baseURL == "" {
		baseURL = "https://api.thingspeak.com"
	}
	return &HTTPPublisher{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Publish posts one update. 4xx responses other than 429 are permanent and not retried.
func (p *HTTPPublisher) Publish(ctx context.Context, s settingsdomain.MirrorSettings, u Update) error {
	form := u.Values()
	form.Set("api_key", s.WriteKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/update", strings.NewReader(form.Encode()))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := p.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("thingspeak: status %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return backoff.Permanent(fmt.Errorf("thingspeak: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("thingspeak: unexpected status %d", resp.StatusCode)
	}
	// ThingSpeak answers 200 with entry id 0 when it rejects the update (rate limit).
	if strings.TrimSpace(string(body)) == "0" {
		return fmt.Errorf("thingspeak: update not accepted")
	}
	return nil
}
