package domain

import "time"

// Security-relevant actions recorded in the audit log.
const (
	ActionCrossTenantCallback = "cross_tenant_callback"
	ActionLabelerAuthFailure  = "labeler_auth_failure"
	ActionDeviceAuthFailure   = "device_auth_failure"
)

// AuditLog represents an audit event. OwnerID is the tenant whose data was touched; Actor is
// who attempted it (an owner id, "labeler", or empty when unauthenticated).
type AuditLog struct {
	ID        string
	OwnerID   string
	Actor     string
	Action    string
	Resource  string
	IP        string
	Metadata  string
	CreatedAt time.Time
}
