package nodes

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Report logs roster totals and warns about every node silent for longer
// than silence. It returns the silent node ids.
func (r *Roster) Report(now time.Time, silence time.Duration, logger *zap.Logger) []string {
	stats := r.Stats()
	logger.Info("Node roster",
		zap.Int("nodes", stats.Nodes),
		zap.Uint64("frames", stats.Frames),
	)

	silent := r.Silent(silence, now)
	for _, id := range silent {
		info, _ := r.Get(id)
		logger.Warn("Node silent",
			zap.String("node_id", id),
			zap.Time("last_heard", info.LastHeard),
			zap.Duration("silent_for", now.Sub(info.LastHeard)),
		)
	}
	return silent
}

// Watch reports every interval until ctx is done
func (r *Roster) Watch(ctx context.Context, interval, silence time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			r.Report(now, silence, logger)
		}
	}
}
