package impersonation_test

import (
	"testing"
	"time"

	"github.com/meridian-crm/meridian/internal/impersonation"
	"github.com/stretchr/testify/assert"
)

var t0 = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func ended(start, end time.Time) impersonation.Session {
	return impersonation.Session{SuperAdminID: "admin", StartedAt: start, EndedAt: &end}
}

func open(start time.Time) impersonation.Session {
	return impersonation.Session{SuperAdminID: "admin", StartedAt: start}
}

func TestComputeUsage(t *testing.T) {
	now := t0
	sessions := []impersonation.Session{
		ended(now.Add(-2*time.Hour), now.Add(-90*time.Minute)), // outside window, 30m long
		ended(now.Add(-time.Hour), now.Add(-50*time.Minute)),   // on the boundary, counts
		ended(now.Add(-20*time.Minute), now.Add(-5*time.Minute)),
		open(now.Add(-3 * time.Hour)), // open but started long ago
		open(now.Add(-time.Minute)),
	}

	u := impersonation.ComputeUsage(sessions, now)

	assert.Equal(t, 3, u.ImpersonationsThisHour)
	assert.Equal(t, 2, u.ConcurrentSessions)
	assert.Equal(t, 30, u.LongestSessionMinutes)
}

func TestComputeUsage_Empty(t *testing.T) {
	assert.Equal(t, impersonation.Usage{}, impersonation.ComputeUsage(nil, t0))
}

func TestEvaluate(t *testing.T) {
	cfg := impersonation.DefaultConfig()

	tests := []struct {
		name      string
		usage     impersonation.Usage
		allowed   bool
		reason    string
		remaining impersonation.Remaining
	}{
		{
			name:      "under both limits",
			usage:     impersonation.Usage{ImpersonationsThisHour: 3, ConcurrentSessions: 1},
			allowed:   true,
			remaining: impersonation.Remaining{Impersonations: 7, ConcurrentSessions: 4},
		},
		{
			name:      "hourly limit",
			usage:     impersonation.Usage{ImpersonationsThisHour: 10, ConcurrentSessions: 1},
			reason:    "Rate limit exceeded: 10/10 impersonations in the last hour",
			remaining: impersonation.Remaining{Impersonations: 0, ConcurrentSessions: 4},
		},
		{
			name:      "concurrency limit",
			usage:     impersonation.Usage{ImpersonationsThisHour: 5, ConcurrentSessions: 5},
			reason:    "Concurrent session limit exceeded: 5/5 active sessions",
			remaining: impersonation.Remaining{Impersonations: 5, ConcurrentSessions: 0},
		},
		{
			name:      "both limits report hourly",
			usage:     impersonation.Usage{ImpersonationsThisHour: 12, ConcurrentSessions: 7},
			reason:    "Rate limit exceeded: 12/10 impersonations in the last hour",
			remaining: impersonation.Remaining{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := impersonation.Evaluate(tt.usage, cfg)
			assert.Equal(t, tt.allowed, res.Allowed)
			assert.Equal(t, tt.reason, res.Reason)
			assert.Equal(t, tt.remaining, res.RemainingCapacity)
			assert.Equal(t, tt.usage, res.CurrentUsage)
			assert.Equal(t, cfg.Limits(), res.Limits)
		})
	}
}

func TestEvaluate_Disabled(t *testing.T) {
	cfg := impersonation.DefaultConfig()
	cfg.Enabled = false

	res := impersonation.Evaluate(impersonation.Usage{ImpersonationsThisHour: 50, ConcurrentSessions: 50}, cfg)

	assert.True(t, res.Allowed)
	assert.Empty(t, res.Reason)
	assert.Equal(t, impersonation.Usage{}, res.CurrentUsage)
	assert.Equal(t, impersonation.Remaining{Impersonations: 10, ConcurrentSessions: 5}, res.RemainingCapacity)
}

func TestSession_Duration(t *testing.T) {
	s := open(t0)
	assert.Equal(t, 5*time.Minute, s.Duration(t0.Add(5*time.Minute)))
	assert.True(t, s.Open())

	s = ended(t0, t0.Add(time.Minute))
	assert.Equal(t, time.Minute, s.Duration(t0.Add(time.Hour)))
	assert.False(t, s.Open())
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, impersonation.DefaultConfig().Validate())

	cfg := impersonation.DefaultConfig()
	cfg.MaxConcurrentSessions = 0
	assert.ErrorIs(t, cfg.Validate(), impersonation.ErrInvalidConfig)
}
