package sms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	notificationdomain "trailwatch/backend/internal/notification/domain"
	"trailwatch/backend/internal/tenantsettings/domain"
)

// TwilioClient sends SMS through the Twilio Messages API.
type TwilioClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewTwilioClient returns a client for baseURL (empty uses https://api.twilio.com).
func NewTwilioClient(baseURL string) *TwilioClient {
	if baseURL == "" {
		baseURL = "https://api.twilio.com"
	}
	return &TwilioClient{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: defaultTimeout},
	}
}

func (c *TwilioClient) Name() string { return domain.ProviderTwilio }

type twilioResponse struct {
	SID     string `json:"sid"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Twilio error codes that mean the destination can never receive the message.
var twilioBadDestination = map[int]bool{
	21211: true, // invalid To number
	21214: true, // To number cannot be reached
	21408: true, // region not enabled
	21610: true, // recipient unsubscribed
	21614: true, // not a mobile number
}

// Send creates a message with To=destination, From=creds.Sender using basic auth.
func (c *TwilioClient) Send(ctx context.Context, message, destination string, creds Credentials) (Result, error) {
	if creds.AccountSID == "" || creds.AuthToken == "" {
		return Result{}, &SendError{Reason: notificationdomain.ReasonRejectedCredentials, Err: errors.New("account sid or auth token not configured")}
	}
	form := url.Values{}
	form.Set("To", destination)
	form.Set("From", creds.Sender)
	form.Set("Body", message)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", c.BaseURL, url.PathEscape(creds.AccountSID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(creds.AccountSID, creds.AuthToken)
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return Result{}, transportError(err)
	}
	defer resp.Body.Close()

	b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var parsed twilioResponse
	_ = json.Unmarshal(b, &parsed)
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return Result{ProviderMessageID: parsed.SID}, nil
	}
	reason := reasonForStatus(resp.StatusCode)
	if twilioBadDestination[parsed.Code] {
		reason = notificationdomain.ReasonInvalidDestination
	}
	return Result{}, &SendError{
		Reason: reason,
		Status: resp.StatusCode,
		Err:    fmt.Errorf("twilio error code=%d message=%s", parsed.Code, parsed.Message),
	}
}
