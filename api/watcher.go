package api

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/seenimoa/indexsignal/internal/engine"
	"github.com/seenimoa/indexsignal/pkg/utils"
)

// watchParallelism caps concurrent index scans per watch round.
const watchParallelism = 2

// Watch rescans the configured indices every WatchInterval while the market
// is open and publishes each signal. It returns when ctx is done. A zero
// interval or an empty index list disables it.
func (s *Server) Watch(ctx context.Context) {
	interval := s.cfg.Server.WatchInterval
	if interval <= 0 || len(s.cfg.Server.WatchIndices) == 0 {
		s.log.Info().Msg("watcher disabled")
		return
	}
	s.log.Info().Strs("indices", s.cfg.Server.WatchIndices).Dur("interval", interval).Msg("watcher started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if utils.IsMarketOpenAt(s.now()) {
			s.WatchOnce(ctx)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// WatchOnce scans every watched index once and returns how many signals
// were published. Failed scans are logged and skipped.
func (s *Server) WatchOnce(ctx context.Context) int {
	var g errgroup.Group
	g.SetLimit(watchParallelism)

	published := make(chan struct{}, len(s.cfg.Server.WatchIndices))
	for _, index := range s.cfg.Server.WatchIndices {
		g.Go(func() error {
			sig, err := s.scanner.Scan(ctx, engine.ScanRequest{Index: index})
			if err != nil {
				s.log.Warn().Err(err).Str("index", index).Msg("watch scan failed")
				return nil
			}
			s.publish(sig)
			published <- struct{}{}
			return nil
		})
	}
	_ = g.Wait()
	return len(published)
}
