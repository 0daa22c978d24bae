package pipeline

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Stats counts pipeline events. Counters only; no latency histograms.
type Stats struct {
	Submitted     atomic.Int64
	Succeeded     atomic.Int64
	Failed        atomic.Int64
	Suspended     atomic.Int64
	Resumed       atomic.Int64
	Rejected      atomic.Int64
	Regenerations atomic.Int64
	InfraRetries  atomic.Int64
}

// Snapshot returns a point-in-time copy for logging or the CLI.
type StatsSnapshot struct {
	Submitted     int64 `json:"submitted"`
	Succeeded     int64 `json:"succeeded"`
	Failed        int64 `json:"failed"`
	Suspended     int64 `json:"suspended"`
	Resumed       int64 `json:"resumed"`
	Rejected      int64 `json:"rejected"`
	Regenerations int64 `json:"regenerations"`
	InfraRetries  int64 `json:"infra_retries"`
}

// Snapshot copies the live counters.
func (s *Service) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Submitted:     s.stats.Submitted.Load(),
		Succeeded:     s.stats.Succeeded.Load(),
		Failed:        s.stats.Failed.Load(),
		Suspended:     s.stats.Suspended.Load(),
		Resumed:       s.stats.Resumed.Load(),
		Rejected:      s.stats.Rejected.Load(),
		Regenerations: s.stats.Regenerations.Load(),
		InfraRetries:  s.stats.InfraRetries.Load(),
	}
}

// StartReaper expires stale suspensions on a ticker until ctx is done. An
// expired suspension is an implicit denial; its session never resumes.
func (s *Service) StartReaper(ctx context.Context, interval, maxAge time.Duration) {
	if interval <= 0 || maxAge <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.gate.Reap(ctx, maxAge); err != nil {
					s.logger.Warn("suspension reap failed", zap.Error(err))
				}
			}
		}
	}()
}
