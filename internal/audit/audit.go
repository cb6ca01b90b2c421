package audit

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/meridian-crm/meridian/internal/auth"
)

// Event represents a single auditable action in the system.
type Event struct {
	TenantID     *uuid.UUID // nil for platform-level events
	UserID       *uuid.UUID // nil for system events
	Action       string     // e.g. "role.created", "impersonation.started", "access.denied"
	ResourceType string     // e.g. "role", "customer", "impersonation_session"
	ResourceID   *uuid.UUID
	Metadata     map[string]any
	Source       string // "api", "system"
}

const (
	ActionAccessDenied = "access.denied"

	ActionTenantCreated = "tenant.created"

	ActionRoleCreated = "role.created"
	ActionRoleUpdated = "role.updated"
	ActionRoleDeleted = "role.deleted"

	ActionCustomerCreated = "customer.created"

	ActionImpersonationStarted       = "impersonation.started"
	ActionImpersonationDenied        = "impersonation.denied"
	ActionImpersonationEnded         = "impersonation.ended"
	ActionImpersonationForceEnded    = "impersonation.force_ended"
	ActionImpersonationConfigUpdated = "impersonation.config_updated"
)

const (
	MetadataReason           = "reason"
	MetadataPermission       = "permission"
	MetadataImpersonatedUser = "impersonated_user_id"
	MetadataSessionID        = "session_id"
	MetadataDurationSeconds  = "duration_seconds"
)

// Logger is the audit logging interface. Log is fire-and-forget.
type Logger interface {
	Log(ctx context.Context, event Event)
	Close() error
}

// NopLogger is a no-op audit logger for testing and when audit is disabled.
type NopLogger struct{}

func (NopLogger) Log(context.Context, Event) {}
func (NopLogger) Close() error               { return nil }

// SlogLogger writes events to a structured logger. Used when no database
// is configured.
type SlogLogger struct {
	Logger *slog.Logger
}

func (l SlogLogger) Log(ctx context.Context, e Event) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "audit event",
		"action", e.Action,
		"tenant_id", e.TenantID,
		"user_id", e.UserID,
		"resource_type", e.ResourceType,
		"resource_id", e.ResourceID,
		"metadata", e.Metadata,
		"source", e.Source,
	)
}

func (SlogLogger) Close() error { return nil }

// ActorIDFromContext extracts the authenticated user's UUID from the
// request context, returning nil if no principal is present or the
// user ID is not a valid UUID.
func ActorIDFromContext(ctx context.Context) *uuid.UUID {
	p := auth.GetPrincipal(ctx)
	if p == nil {
		return nil
	}
	return ParseID(p.UserID)
}

// ParseID returns a pointer to the parsed UUID, or nil for empty or
// malformed ids.
func ParseID(s string) *uuid.UUID {
	id, err := uuid.Parse(s)
	if err != nil {
		return nil
	}
	return &id
}
