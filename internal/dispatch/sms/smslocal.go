package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	notificationdomain "trailwatch/backend/internal/notification/domain"
	"trailwatch/backend/internal/tenantsettings/domain"
)

// SMSLocalClient sends alert SMS via the SMS Local bulk API.
// See https://www.smslocal.com/dev/bulkV2.
type SMSLocalClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewSMSLocalClient returns a client for baseURL (empty uses the public endpoint).
func NewSMSLocalClient(baseURL string) *SMSLocalClient {
	if baseURL == "" {
		baseURL = "https://www.smslocal.com/dev/bulkV2"
	}
	return &SMSLocalClient{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: defaultTimeout},
	}
}

func (c *SMSLocalClient) Name() string { return domain.ProviderSMSLocal }

type smsLocalResponse struct {
	Return    *bool           `json:"return"`
	RequestID string          `json:"request_id"`
	Message   json.RawMessage `json:"message"`
}

// Send posts a transactional message (route=q). destination should be digits only
// (country code + number). The message body is never logged.
func (c *SMSLocalClient) Send(ctx context.Context, message, destination string, creds Credentials) (Result, error) {
	if creds.APIKey == "" {
		return Result{}, &SendError{Reason: notificationdomain.ReasonRejectedCredentials, Err: errors.New("api key not configured")}
	}
	numbers := strings.TrimPrefix(strings.TrimSpace(destination), "+")
	if numbers == "" {
		return Result{}, &SendError{Reason: notificationdomain.ReasonInvalidDestination, Err: errors.New("empty destination")}
	}
	body := map[string]interface{}{
		"route":   "q",
		"numbers": numbers,
		"message": message,
	}
	if creds.Sender != "" {
		body["sender_id"] = creds.Sender
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return Result{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL, bytes.NewReader(raw))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", creds.APIKey)
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return Result{}, transportError(err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode != http.StatusOK {
		return Result{}, &SendError{
			Reason: reasonForStatus(resp.StatusCode),
			Status: resp.StatusCode,
			Err:    fmt.Errorf("request failed body=%s", truncate(b)),
		}
	}
	var parsed smsLocalResponse
	if err := json.Unmarshal(b, &parsed); err == nil && parsed.Return != nil && !*parsed.Return {
		return Result{}, &SendError{Reason: notificationdomain.ReasonProviderError, Status: resp.StatusCode, Err: fmt.Errorf("rejected: %s", truncate([]byte(parsed.Message)))}
	}
	return Result{ProviderMessageID: parsed.RequestID}, nil
}

func truncate(b []byte) string {
	const max = 256
	if len(b) > max {
		return Clip(string(b), max) + "..."
	}
	return Clip(string(b), max)
}
