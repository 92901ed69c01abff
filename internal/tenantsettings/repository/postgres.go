package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"trailwatch/backend/internal/tenantsettings/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a tenant settings repository that uses the given db.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const selectSettings = `
SELECT owner_id, mirror_channel_id, mirror_write_key, mirror_transport, labeler_url,
       sms_provider, sms_destination, sms_api_key, sms_sender, sms_account_sid, sms_auth_token,
       min_confidence, ignored_labels, policy_rego, updated_at
FROM tenant_settings
WHERE owner_id = $1`

// GetByOwnerID returns tenant settings for the given owner, or nil if not found.
func (r *PostgresRepository) GetByOwnerID(ctx context.Context, ownerID string) (*domain.TenantSettings, error) {
	var (
		s         domain.TenantSettings
		transport string
		ignored   string
	)
	err := r.db.QueryRowContext(ctx, selectSettings, ownerID).Scan(
		&s.OwnerID, &s.Mirror.ChannelID, &s.Mirror.WriteKey, &transport, &s.LabelerURL,
		&s.SMS.Provider, &s.SMS.Destination, &s.SMS.APIKey, &s.SMS.Sender, &s.SMS.AccountSID, &s.SMS.AuthToken,
		&s.Alerts.MinConfidence, &ignored, &s.Alerts.PolicyRego, &s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	s.Mirror.Transport = domain.MirrorTransport(transport)
	s.Alerts.IgnoredLabels = splitLabels(ignored)
	return &s, nil
}

const upsertSettings = `
INSERT INTO tenant_settings (
    owner_id, mirror_channel_id, mirror_write_key, mirror_transport, labeler_url,
    sms_provider, sms_destination, sms_api_key, sms_sender, sms_account_sid, sms_auth_token,
    min_confidence, ignored_labels, policy_rego, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
ON CONFLICT (owner_id) DO UPDATE SET
    mirror_channel_id = EXCLUDED.mirror_channel_id,
    mirror_write_key  = EXCLUDED.mirror_write_key,
    mirror_transport  = EXCLUDED.mirror_transport,
    labeler_url       = EXCLUDED.labeler_url,
    sms_provider      = EXCLUDED.sms_provider,
    sms_destination   = EXCLUDED.sms_destination,
    sms_api_key       = EXCLUDED.sms_api_key,
    sms_sender        = EXCLUDED.sms_sender,
    sms_account_sid   = EXCLUDED.sms_account_sid,
    sms_auth_token    = EXCLUDED.sms_auth_token,
    min_confidence    = EXCLUDED.min_confidence,
    ignored_labels    = EXCLUDED.ignored_labels,
    policy_rego       = EXCLUDED.policy_rego,
    updated_at        = EXCLUDED.updated_at`

// Upsert creates or updates tenant settings for settings.OwnerID.
func (r *PostgresRepository) Upsert(ctx context.Context, settings *domain.TenantSettings) error {
	now := settings.UpdatedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}
	transport := settings.Mirror.Transport
	if transport == "" {
		transport = domain.TransportHTTP
	}
	_, err := r.db.ExecContext(ctx, upsertSettings,
		settings.OwnerID, settings.Mirror.ChannelID, settings.Mirror.WriteKey, string(transport), settings.LabelerURL,
		settings.SMS.Provider, settings.SMS.Destination, settings.SMS.APIKey, settings.SMS.Sender,
		settings.SMS.AccountSID, settings.SMS.AuthToken,
		settings.Alerts.MinConfidence, strings.Join(settings.Alerts.IgnoredLabels, ","), settings.Alerts.PolicyRego, now,
	)
	return err
}

func splitLabels(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			out = append(out, p)
		}
	}
	return out
}
