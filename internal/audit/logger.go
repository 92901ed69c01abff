package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"trailwatch/backend/internal/audit/domain"
	auditrepo "trailwatch/backend/internal/audit/repository"
	"trailwatch/backend/internal/errs"
	"trailwatch/backend/internal/logging"
)

// SentinelOwnerID is the owner_id used for audit events that have no tenant (e.g. a labeler auth failure).
const SentinelOwnerID = "_system"

// IPExtractor returns the client IP from the request context.
type IPExtractor func(context.Context) string

// AuditLogger writes a single audit event. LogEvent is best-effort: failures are logged and
// do not affect the caller.
type AuditLogger interface {
	LogEvent(ctx context.Context, ownerID, actor, action, resource, metadata string)
}

// Logger implements AuditLogger using the audit repository and an optional IP extractor.
type Logger struct {
	repo        auditrepo.Repository
	ipExtractor IPExtractor
}

// NewLogger returns an AuditLogger that persists to repo. ipExtractor may be nil; then IP is recorded as "unknown".
func NewLogger(repo auditrepo.Repository, ipExtractor IPExtractor) *Logger {
	return &Logger{repo: repo, ipExtractor: ipExtractor}
}

// LogEvent writes one audit log entry. Best-effort: errors are logged and not returned.
func (l *Logger) LogEvent(ctx context.Context, ownerID, actor, action, resource, metadata string) {
	if l == nil || l.repo == nil {
		return
	}
	ip := "unknown"
	if l.ipExtractor != nil {
		if v := l.ipExtractor(ctx); v != "" {
			ip = v
		}
	}
	if ownerID == "" {
		ownerID = SentinelOwnerID
	}
	entry := &domain.AuditLog{
		ID:        uuid.New().String(),
		OwnerID:   ownerID,
		Actor:     actor,
		Action:    action,
		Resource:  resource,
		IP:        ip,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	}
	if err := l.repo.Create(ctx, entry); err != nil {
		logging.Error(ctx, "audit: failed to log event",
			slog.String("action", action),
			slog.String("resource", resource),
			slog.Any("err", errs.Loggable(err)))
	}
}
