package mtf

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/seenimoa/indexsignal/internal/analysis/structure"
	"github.com/seenimoa/indexsignal/internal/config"
	"github.com/seenimoa/indexsignal/internal/datasource"
	"github.com/seenimoa/indexsignal/pkg/models"
)

// CandleFetcher is the slice of MarketDataProvider the composer needs.
type CandleFetcher interface {
	GetCandles(ctx context.Context, symbol string, tf models.Timeframe, from, to time.Time) ([]models.Candle, error)
}

// Result is a composed multi-timeframe read.
type Result struct {
	Bias       models.MTFBias
	Structures []models.MarketStructure // successful timeframes, ladder order
	Zones      []models.Zone
}

// Composer fetches every ladder timeframe concurrently and reconciles the
// structure of each.
type Composer struct {
	analyzer   *structure.Analyzer
	ladders    Ladders
	clusterPct float64
	workers    int
	log        zerolog.Logger
}

// NewComposer creates a Composer.
func NewComposer(scfg config.StructureConfig, mcfg config.MTFConfig, workers int, log zerolog.Logger) *Composer {
	if workers < 1 {
		workers = 1
	}
	return &Composer{
		analyzer:   structure.NewAnalyzer(scfg),
		ladders:    LaddersFrom(mcfg),
		clusterPct: scfg.ZoneClusterPct,
		workers:    workers,
		log:        log,
	}
}

// Ladder returns the ladder the composer would use at now.
func (c *Composer) Ladder(now time.Time) []models.Timeframe {
	return c.ladders.Select(now)
}

// Compose analyses symbol across the ladder in force at now. Individual
// timeframe failures are recorded in Bias.Failed; only a failure of every
// timeframe is returned as an error.
func (c *Composer) Compose(ctx context.Context, src CandleFetcher, symbol string, now time.Time) (*Result, error) {
	ladder := c.ladders.Select(now)
	if len(ladder) == 0 {
		return nil, fmt.Errorf("%w: empty timeframe ladder", datasource.ErrDataUnavailable)
	}

	structs := make([]*models.MarketStructure, len(ladder))
	var mu sync.Mutex
	var errs []error

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	for i, tf := range ladder {
		g.Go(func() error {
			candles, err := src.GetCandles(gctx, symbol, tf, now.Add(-tf.Lookback()), now)
			if err != nil {
				c.log.Warn().Err(err).Str("symbol", symbol).Str("timeframe", string(tf)).Msg("timeframe fetch failed")
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", tf, err))
				mu.Unlock()
				return nil // non-fatal
			}
			ms := c.analyzer.Analyze(tf, candles)
			structs[i] = &ms
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	per := make(map[models.Timeframe]models.Bias, len(ladder))
	var failed []models.Timeframe
	res := &Result{}
	for i, ms := range structs {
		if ms == nil {
			failed = append(failed, ladder[i])
			continue
		}
		per[ladder[i]] = ms.Bias
		res.Structures = append(res.Structures, *ms)
	}
	if len(res.Structures) == 0 {
		return nil, fmt.Errorf("%w: all %d timeframes failed for %s: %w",
			datasource.ErrDataUnavailable, len(ladder), symbol, errors.Join(errs...))
	}

	res.Bias = Reconcile(ladder, per, failed)
	res.Zones = structure.Zones(res.Structures, c.clusterPct)

	c.log.Debug().
		Str("symbol", symbol).
		Str("bias", string(res.Bias.OverallBias)).
		Float64("alignment", res.Bias.AlignmentStrength).
		Int("failed", len(failed)).
		Msg("mtf composed")
	return res, nil
}
