package impersonation

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper periodically force-ends sessions that outlived the maximum
// duration. It is off unless an interval is configured.
type Sweeper struct {
	limiter  *Limiter
	interval time.Duration
}

// NewSweeper returns nil when interval is not positive.
func NewSweeper(limiter *Limiter, interval time.Duration) *Sweeper {
	if limiter == nil || interval <= 0 {
		return nil
	}
	return &Sweeper{limiter: limiter, interval: interval}
}

// Run sweeps until ctx is done. A nil Sweeper returns immediately.
func (s *Sweeper) Run(ctx context.Context) error {
	if s == nil {
		return nil
	}

	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	ended, err := s.limiter.EndExpired(ctx)
	for _, sess := range ended {
		slog.Info("impersonation session force-ended",
			"session_id", sess.ID,
			"super_admin_id", sess.SuperAdminID,
			"tenant_id", sess.TenantID,
		)
	}
	if err != nil && ctx.Err() == nil {
		slog.Error("impersonation sweep failed", "error", err)
	}
}
