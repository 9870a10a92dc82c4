package service

import (
	"context"
	"encoding/json"

	"github.com/oklog/ulid/v2"
	"github.com/sandeepkv93/session-guard/internal/domain"
	"github.com/sandeepkv93/session-guard/internal/observability"
	"github.com/sandeepkv93/session-guard/internal/repository"

	"gorm.io/datatypes"
)

const (
	AuditActionLogin   = "auth.login"
	AuditActionRefresh = "auth.refresh"
	AuditActionLogout  = "auth.logout"
	AuditActionReplay  = "auth.refresh.replay"
)

type AuditEvent struct {
	Action     string
	Success    bool
	Severity   domain.Severity
	Detail     string
	Context    ErrorContext
	Attributes map[string]any
}

// RepositoryAuditSink persists audit entries and mirrors them into the log stream.
type RepositoryAuditSink struct {
	repo repository.AuditRepository
}

func NewRepositoryAuditSink(repo repository.AuditRepository) *RepositoryAuditSink {
	return &RepositoryAuditSink{repo: repo}
}

func (s *RepositoryAuditSink) Append(ctx context.Context, ev AuditEvent) error {
	entry := &domain.AuditLogEntry{
		ID:        ulid.Make().String(),
		IPAddress: ev.Context.IPAddress,
		UserAgent: ev.Context.UserAgent,
		Action:    ev.Action,
		Success:   ev.Success,
		Severity:  ev.Severity,
		Detail:    ev.Detail,
	}
	if ev.Context.UserID != 0 {
		entry.UserID = &ev.Context.UserID
	}
	if ev.Context.OrganisationID != 0 {
		entry.OrganisationID = &ev.Context.OrganisationID
	}
	if ev.Context.DeviceID != "" {
		entry.DeviceID = &ev.Context.DeviceID
	}
	if len(ev.Attributes) > 0 {
		raw, err := json.Marshal(ev.Attributes)
		if err == nil {
			entry.Context = datatypes.JSON(raw)
		}
	}

	observability.Audit(ctx, severityLevel(ev.Severity), ev.Action,
		"audit_id", entry.ID,
		"success", ev.Success,
		"severity", string(ev.Severity),
		"detail", ev.Detail,
		"user_id", ev.Context.UserID,
		"device_id", ev.Context.DeviceID,
		"organisation_id", ev.Context.OrganisationID,
		"ip", ev.Context.IPAddress,
	)
	return s.repo.Append(ctx, entry)
}
