package domain

import (
	"strings"
	"time"
)

// MirrorTransport selects how captures are mirrored to the time-series channel.
type MirrorTransport string

const (
	TransportHTTP MirrorTransport = "http"
	TransportMQTT MirrorTransport = "mqtt"
)

// SMS provider discriminators. Empty means the tenant has not configured SMS.
const (
	ProviderNone     = ""
	ProviderSMSLocal = "smslocal"
	ProviderTwilio   = "twilio"
)

// MirrorSettings are the tenant's time-series channel credentials.
type MirrorSettings struct {
	ChannelID string
	WriteKey  string
	Transport MirrorTransport
}

// Configured reports whether the mirror has enough settings to publish.
func (m MirrorSettings) Configured() bool {
	return strings.TrimSpace(m.ChannelID) != "" && strings.TrimSpace(m.WriteKey) != ""
}

// SMSSettings select an SMS provider and hold its credentials. Which credential fields are
// read depends on Provider: smslocal uses APIKey and Sender; twilio uses AccountSID,
// AuthToken and Sender.
type SMSSettings struct {
	Provider    string
	Destination string
	APIKey      string
	Sender      string
	AccountSID  string
	AuthToken   string
}

// Configured reports whether a provider and destination are both set.
func (s SMSSettings) Configured() bool {
	return strings.TrimSpace(s.Provider) != "" && strings.TrimSpace(s.Destination) != ""
}

// AlertPolicy decides which labels are worth a notification.
// PolicyRego, when set, replaces the platform default Rego module for this tenant.
type AlertPolicy struct {
	MinConfidence float64
	IgnoredLabels []string
	PolicyRego    string
}

// TenantSettings is the per-owner configuration the pipeline reads. It is written by the
// settings UI; absence of a row is a valid state meaning "nothing configured".
type TenantSettings struct {
	OwnerID    string
	Mirror     MirrorSettings
	LabelerURL string
	SMS        SMSSettings
	Alerts     AlertPolicy
	UpdatedAt  time.Time
}
