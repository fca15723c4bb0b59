package gate

import (
	"context"
	"time"

	"go.uber.org/zap"

	"gatekeeper/pkg/utils"
)

// Sweep drops expired bans and warned clients idle for longer than
// AttemptTTL. Decisions do not depend on it; it only reclaims memory.
func (g *Gate) Sweep() (attempts, bans int) {
	now := g.clock.Now()

	if g.cfg.AttemptTTL > 0 {
		attempts = g.attempts.EvictIdle(now.Add(-g.cfg.AttemptTTL))
	}
	bans = g.bans.EvictExpired(now)

	utils.GateEvictionsTotal.WithLabelValues("attempt").Add(float64(attempts))
	utils.GateEvictionsTotal.WithLabelValues("ban").Add(float64(bans))
	g.observeTracked()

	if attempts > 0 || bans > 0 {
		g.logger.Debug("swept gate state",
			zap.Int("attempts", attempts),
			zap.Int("bans", bans),
		)
	}
	return attempts, bans
}

// Run sweeps every interval until ctx is done.
func (g *Gate) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.Sweep()
		}
	}
}
