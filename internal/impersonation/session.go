// Package impersonation rate-limits super-admins acting as tenant users.
// Usage is derived from the session log on every check; no counters are
// kept.
package impersonation

import (
	"errors"
	"fmt"
	"time"

	"github.com/meridian-crm/meridian/internal/platform/apperr"
)

// Window is the rolling period of the hourly quota.
const Window = time.Hour

var (
	ErrSessionNotFound = fmt.Errorf("impersonation session %w", apperr.ErrNotFound)
	ErrSessionEnded    = fmt.Errorf("%w: impersonation session already ended", apperr.ErrConflict)
	ErrInvalidRequest  = fmt.Errorf("%w: invalid impersonation request", apperr.ErrValidation)
	ErrTargetOutside   = fmt.Errorf("%w: target user does not belong to tenant", apperr.ErrForbidden)
)

// Session is one impersonation. It is never deleted, only marked ended.
type Session struct {
	ID                 string     `json:"id"`
	SuperAdminID       string     `json:"super_admin_id"`
	ImpersonatedUserID string     `json:"impersonated_user_id"`
	TenantID           string     `json:"tenant_id"`
	StartedAt          time.Time  `json:"started_at"`
	EndedAt            *time.Time `json:"ended_at,omitempty"`
	Reason             string     `json:"reason,omitempty"`
}

// Open reports whether the session has not been ended.
func (s Session) Open() bool {
	return s.EndedAt == nil
}

// Duration is the session's length, up to now while it is open.
func (s Session) Duration(now time.Time) time.Duration {
	if s.EndedAt != nil {
		return s.EndedAt.Sub(s.StartedAt)
	}
	return now.Sub(s.StartedAt)
}

// Usage is one admin's consumption derived from their session log.
type Usage struct {
	ImpersonationsThisHour int `json:"impersonations_this_hour"`
	ConcurrentSessions     int `json:"concurrent_sessions"`
	LongestSessionMinutes  int `json:"longest_session_minutes"`
}

// Limits are the enforced maxima.
type Limits struct {
	MaxImpersonationsPerHour  int `json:"max_impersonations_per_hour"`
	MaxConcurrentSessions     int `json:"max_concurrent_sessions"`
	MaxSessionDurationMinutes int `json:"max_session_duration_minutes"`
}

// Remaining is the capacity left per quota, never negative.
type Remaining struct {
	Impersonations     int `json:"impersonations"`
	ConcurrentSessions int `json:"concurrent_sessions"`
}

// CheckResult is the outcome of a rate-limit check.
type CheckResult struct {
	Allowed           bool      `json:"allowed"`
	Reason            string    `json:"reason,omitempty"`
	CurrentUsage      Usage     `json:"current_usage"`
	Limits            Limits    `json:"limits"`
	RemainingCapacity Remaining `json:"remaining_capacity"`
}

// Status is a CheckResult with the time the hourly window is assumed to
// reset. ResetAt is now+1h, not the expiry of the oldest counted session.
type Status struct {
	CheckResult
	ResetAt time.Time `json:"reset_at"`
}

// ActiveSession is an open session with its running duration.
type ActiveSession struct {
	Session
	DurationSeconds int64 `json:"duration_seconds"`
}

// RateLimitError is returned when a session start is refused.
type RateLimitError struct {
	Reason string
	Usage  Usage
	Limits Limits
}

func (e *RateLimitError) Error() string {
	return e.Reason
}

func (e *RateLimitError) Unwrap() error {
	return apperr.ErrRateLimited
}

// AsRateLimitError unwraps err to a *RateLimitError.
func AsRateLimitError(err error) (*RateLimitError, bool) {
	var rle *RateLimitError
	ok := errors.As(err, &rle)
	return rle, ok
}

// ComputeUsage derives usage from an admin's sessions. A session counts
// toward the hour by its start time regardless of whether it has ended,
// and toward concurrency while it is open.
func ComputeUsage(sessions []Session, now time.Time) Usage {
	var u Usage
	windowStart := now.Add(-Window)
	var longest time.Duration
	for _, s := range sessions {
		if !s.StartedAt.Before(windowStart) {
			u.ImpersonationsThisHour++
		}
		if s.Open() {
			u.ConcurrentSessions++
			continue
		}
		if d := s.EndedAt.Sub(s.StartedAt); d > longest {
			longest = d
		}
	}
	u.LongestSessionMinutes = int(longest / time.Minute)
	return u
}

// Evaluate applies cfg to u. A disabled config allows everything and
// reports zero usage. The hourly reason wins when both quotas are hit.
func Evaluate(u Usage, cfg Config) CheckResult {
	limits := cfg.Limits()
	if !cfg.Enabled {
		return CheckResult{
			Allowed: true,
			Limits:  limits,
			RemainingCapacity: Remaining{
				Impersonations:     max(0, limits.MaxImpersonationsPerHour),
				ConcurrentSessions: max(0, limits.MaxConcurrentSessions),
			},
		}
	}

	res := CheckResult{
		CurrentUsage: u,
		Limits:       limits,
		RemainingCapacity: Remaining{
			Impersonations:     max(0, limits.MaxImpersonationsPerHour-u.ImpersonationsThisHour),
			ConcurrentSessions: max(0, limits.MaxConcurrentSessions-u.ConcurrentSessions),
		},
	}

	switch {
	case u.ImpersonationsThisHour >= limits.MaxImpersonationsPerHour:
		res.Reason = fmt.Sprintf("Rate limit exceeded: %d/%d impersonations in the last hour",
			u.ImpersonationsThisHour, limits.MaxImpersonationsPerHour)
	case u.ConcurrentSessions >= limits.MaxConcurrentSessions:
		res.Reason = fmt.Sprintf("Concurrent session limit exceeded: %d/%d active sessions",
			u.ConcurrentSessions, limits.MaxConcurrentSessions)
	default:
		res.Allowed = true
	}
	return res
}
