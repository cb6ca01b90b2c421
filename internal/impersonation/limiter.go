package impersonation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/meridian-crm/meridian/internal/audit"
	"github.com/meridian-crm/meridian/internal/tenancy"
)

const maxReasonLength = 500

// Directory tells which tenant a user belongs to.
type Directory interface {
	TenantOf(ctx context.Context, userID string) (string, error)
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// WithMetrics records starts, denials and durations.
func WithMetrics(m *Metrics) Option {
	return func(l *Limiter) {
		l.metrics = m
	}
}

// WithAuditLogger records session lifecycle and config changes.
func WithAuditLogger(logger audit.Logger) Option {
	return func(l *Limiter) {
		l.audit = logger
	}
}

// WithDirectory makes session starts verify the target user belongs to
// the target tenant.
func WithDirectory(d Directory) Option {
	return func(l *Limiter) {
		l.directory = d
	}
}

// Limiter enforces the impersonation policy over a session log.
type Limiter struct {
	sessions  Store
	configs   ConfigStore
	directory Directory
	audit     audit.Logger
	metrics   *Metrics
	now       func() time.Time
}

func NewLimiter(sessions Store, configs ConfigStore, opts ...Option) *Limiter {
	l := &Limiter{
		sessions: sessions,
		configs:  configs,
		audit:    audit.NopLogger{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// StartRequest describes a session a super-admin wants to open.
type StartRequest struct {
	SuperAdminID       string
	ImpersonatedUserID string
	TenantID           string
	Reason             string
}

func (r *StartRequest) normalize() error {
	r.SuperAdminID = strings.TrimSpace(r.SuperAdminID)
	r.ImpersonatedUserID = strings.TrimSpace(r.ImpersonatedUserID)
	r.TenantID = strings.TrimSpace(r.TenantID)
	r.Reason = strings.TrimSpace(r.Reason)

	switch {
	case r.SuperAdminID == "":
		return fmt.Errorf("%w: super admin id is required", ErrInvalidRequest)
	case r.ImpersonatedUserID == "":
		return fmt.Errorf("%w: impersonated user id is required", ErrInvalidRequest)
	case r.TenantID == "":
		return fmt.Errorf("%w: tenant id is required", ErrInvalidRequest)
	case r.ImpersonatedUserID == r.SuperAdminID:
		return fmt.Errorf("%w: cannot impersonate yourself", ErrInvalidRequest)
	case len(r.Reason) > maxReasonLength:
		return fmt.Errorf("%w: reason exceeds %d characters", ErrInvalidRequest, maxReasonLength)
	}
	return nil
}

func (l *Limiter) check(ctx context.Context, store Store, adminID string, cfg Config, now time.Time) (CheckResult, error) {
	if !cfg.Enabled {
		return Evaluate(Usage{}, cfg), nil
	}
	sessions, err := store.ListSessionsForAdmin(ctx, adminID, now.Add(-Window))
	if err != nil {
		return CheckResult{}, err
	}
	usage := ComputeUsage(sessions, now)

	// The windowed list misses older sessions; the longest one is read
	// over the whole history.
	longest, err := store.LongestEndedSession(ctx, adminID)
	if err != nil {
		return CheckResult{}, err
	}
	usage.LongestSessionMinutes = max(usage.LongestSessionMinutes, int(longest/time.Minute))
	return Evaluate(usage, cfg), nil
}

// CheckRateLimit reports whether adminID may start a session now.
func (l *Limiter) CheckRateLimit(ctx context.Context, adminID string) (*CheckResult, error) {
	if strings.TrimSpace(adminID) == "" {
		return nil, fmt.Errorf("%w: super admin id is required", ErrInvalidRequest)
	}
	cfg, err := l.configs.GetRateLimitConfig(ctx)
	if err != nil {
		return nil, err
	}
	res, err := l.check(ctx, l.sessions, adminID, cfg, l.now())
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// RecordSessionStart opens a session if the policy admits it. The check
// and the insert run under the admin's lock, so concurrent starts cannot
// both take the last slot. A refusal returns a *RateLimitError and
// records nothing.
func (l *Limiter) RecordSessionStart(ctx context.Context, req StartRequest) (*Session, error) {
	if err := req.normalize(); err != nil {
		return nil, err
	}

	if l.directory != nil {
		owner, err := l.directory.TenantOf(ctx, req.ImpersonatedUserID)
		if err != nil {
			return nil, err
		}
		if owner != req.TenantID {
			return nil, ErrTargetOutside
		}
	}

	cfg, err := l.configs.GetRateLimitConfig(ctx)
	if err != nil {
		return nil, err
	}

	var created *Session
	err = l.sessions.WithAdminLock(ctx, req.SuperAdminID, func(ctx context.Context, store Store) error {
		now := l.now()
		res, err := l.check(ctx, store, req.SuperAdminID, cfg, now)
		if err != nil {
			return err
		}
		if !res.Allowed {
			return &RateLimitError{Reason: res.Reason, Usage: res.CurrentUsage, Limits: res.Limits}
		}
		created, err = store.InsertSession(ctx, Session{
			SuperAdminID:       req.SuperAdminID,
			ImpersonatedUserID: req.ImpersonatedUserID,
			TenantID:           req.TenantID,
			StartedAt:          now,
			Reason:             req.Reason,
		})
		return err
	})
	if rle, ok := AsRateLimitError(err); ok {
		l.metrics.denied()
		l.audit.Log(ctx, audit.Event{
			TenantID:     audit.ParseID(req.TenantID),
			UserID:       audit.ParseID(req.SuperAdminID),
			Action:       audit.ActionImpersonationDenied,
			ResourceType: "impersonation_session",
			Metadata: map[string]any{
				audit.MetadataReason:           rle.Reason,
				audit.MetadataImpersonatedUser: req.ImpersonatedUserID,
			},
			Source: "api",
		})
		return nil, rle
	}
	if err != nil {
		return nil, err
	}

	l.metrics.started()
	l.audit.Log(ctx, audit.Event{
		TenantID:     audit.ParseID(created.TenantID),
		UserID:       audit.ParseID(created.SuperAdminID),
		Action:       audit.ActionImpersonationStarted,
		ResourceType: "impersonation_session",
		ResourceID:   audit.ParseID(created.ID),
		Metadata: map[string]any{
			audit.MetadataImpersonatedUser: created.ImpersonatedUserID,
			audit.MetadataReason:           created.Reason,
		},
		Source: "api",
	})
	return created, nil
}

// RecordSessionEnd closes a session. Ending it again fails with
// ErrSessionEnded. Sessions longer than the configured maximum are only
// logged.
func (l *Limiter) RecordSessionEnd(ctx context.Context, sessionID string) (*Session, error) {
	return l.endSession(ctx, sessionID, audit.ActionImpersonationEnded)
}

func (l *Limiter) endSession(ctx context.Context, sessionID, action string) (*Session, error) {
	sess, err := l.sessions.MarkSessionEnded(ctx, sessionID, l.now())
	if err != nil {
		return nil, err
	}

	d := sess.Duration(l.now())
	if cfg, err := l.configs.GetRateLimitConfig(ctx); err == nil {
		if maxDuration := time.Duration(cfg.MaxSessionDurationMinutes) * time.Minute; d > maxDuration {
			slog.Warn("impersonation session exceeded max duration",
				"session_id", sess.ID,
				"super_admin_id", sess.SuperAdminID,
				"duration_minutes", int(d/time.Minute),
				"max_minutes", cfg.MaxSessionDurationMinutes,
			)
		}
	}

	l.metrics.ended(d)
	l.audit.Log(ctx, audit.Event{
		TenantID:     audit.ParseID(sess.TenantID),
		UserID:       audit.ParseID(sess.SuperAdminID),
		Action:       action,
		ResourceType: "impersonation_session",
		ResourceID:   audit.ParseID(sess.ID),
		Metadata: map[string]any{
			audit.MetadataImpersonatedUser: sess.ImpersonatedUserID,
			audit.MetadataDurationSeconds:  int64(d / time.Second),
		},
		Source: "api",
	})
	return sess, nil
}

// GetStatus is CheckRateLimit plus the assumed reset time.
func (l *Limiter) GetStatus(ctx context.Context, adminID string) (*Status, error) {
	res, err := l.CheckRateLimit(ctx, adminID)
	if err != nil {
		return nil, err
	}
	return &Status{CheckResult: *res, ResetAt: l.now().Add(Window)}, nil
}

// GetActiveSessions returns every open session across all admins.
func (l *Limiter) GetActiveSessions(ctx context.Context) ([]ActiveSession, error) {
	sessions, err := l.sessions.ListActiveSessions(ctx)
	if err != nil {
		return nil, err
	}
	l.metrics.syncActive(len(sessions))

	now := l.now()
	active := make([]ActiveSession, 0, len(sessions))
	for _, s := range sessions {
		active = append(active, ActiveSession{
			Session:         s,
			DurationSeconds: int64(s.Duration(now) / time.Second),
		})
	}
	return active, nil
}

// Session returns one session, open or ended.
func (l *Limiter) Session(ctx context.Context, sessionID string) (*Session, error) {
	return l.sessions.GetSession(ctx, sessionID)
}

// GetConfig returns the current policy.
func (l *Limiter) GetConfig(ctx context.Context) (Config, error) {
	return l.configs.GetRateLimitConfig(ctx)
}

// UpdateConfig stores a new policy. It applies to the next check.
func (l *Limiter) UpdateConfig(ctx context.Context, cfg Config) (Config, error) {
	stored, err := l.configs.PutRateLimitConfig(ctx, cfg)
	if err != nil {
		return Config{}, err
	}
	l.audit.Log(ctx, audit.Event{
		UserID:       audit.ActorIDFromContext(ctx),
		Action:       audit.ActionImpersonationConfigUpdated,
		ResourceType: "rate_limit_config",
		Metadata: map[string]any{
			"max_impersonations_per_hour":  stored.MaxImpersonationsPerHour,
			"max_concurrent_sessions":      stored.MaxConcurrentSessions,
			"max_session_duration_minutes": stored.MaxSessionDurationMinutes,
			"enabled":                      stored.Enabled,
		},
		Source: "api",
	})
	return stored, nil
}

// ActivePin implements tenancy.PinSource.
func (l *Limiter) ActivePin(ctx context.Context, sessionID string) (*tenancy.Pin, error) {
	sess, err := l.sessions.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, tenancy.ErrPinNotFound
		}
		return nil, err
	}
	if !sess.Open() {
		return nil, tenancy.ErrPinNotFound
	}
	return &tenancy.Pin{
		SessionID:    sess.ID,
		SuperAdminID: sess.SuperAdminID,
		TenantID:     sess.TenantID,
	}, nil
}

// EndExpired force-ends every open session older than the configured
// maximum duration. It does nothing while the policy is disabled.
func (l *Limiter) EndExpired(ctx context.Context) ([]Session, error) {
	cfg, err := l.configs.GetRateLimitConfig(ctx)
	if err != nil {
		return nil, err
	}
	if !cfg.Enabled {
		return nil, nil
	}

	open, err := l.sessions.ListActiveSessions(ctx)
	if err != nil {
		return nil, err
	}

	maxDuration := time.Duration(cfg.MaxSessionDurationMinutes) * time.Minute
	now := l.now()
	var ended []Session
	for _, s := range open {
		if s.Duration(now) <= maxDuration {
			continue
		}
		sess, err := l.endSession(ctx, s.ID, audit.ActionImpersonationForceEnded)
		if errors.Is(err, ErrSessionEnded) {
			continue
		}
		if err != nil {
			return ended, err
		}
		ended = append(ended, *sess)
	}
	return ended, nil
}
