package constituent

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/seenimoa/indexsignal/internal/config"
	"github.com/seenimoa/indexsignal/internal/datasource"
	"github.com/seenimoa/indexsignal/pkg/models"
	"github.com/seenimoa/indexsignal/pkg/utils"
)

// CandleFetcher is the slice of MarketDataProvider the aggregator needs.
type CandleFetcher interface {
	GetCandles(ctx context.Context, symbol string, tf models.Timeframe, from, to time.Time) ([]models.Candle, error)
}

// Aggregator scans every constituent concurrently and folds the results
// into an IndexProbability.
type Aggregator struct {
	scorer  *Scorer
	cfg     config.ConstituentConfig
	workers int
	log     zerolog.Logger
}

// NewAggregator creates an Aggregator with at most workers concurrent scans.
func NewAggregator(cfg config.ConstituentConfig, workers int, log zerolog.Logger) *Aggregator {
	if workers < 1 {
		workers = 1
	}
	return &Aggregator{scorer: NewScorer(cfg), cfg: cfg, workers: workers, log: log}
}

// Aggregate scores constituents of index as of now. Stocks whose daily
// candles cannot be fetched or are too short are skipped and the remaining
// weights renormalised. Only a failure of every stock is an error.
func (a *Aggregator) Aggregate(ctx context.Context, src CandleFetcher, index string, constituents []models.Constituent, now time.Time) (*models.IndexProbability, error) {
	if len(constituents) == 0 {
		return nil, fmt.Errorf("%w: no constituents for %s", datasource.ErrDataUnavailable, index)
	}

	intraday := utils.IsMarketOpenAt(now)
	session := utils.SessionStart(now)
	from := now.AddDate(0, 0, -a.cfg.DailyLookback)

	results := make([]*models.ConstituentSignal, len(constituents))
	var mu sync.Mutex
	var errs []error

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)
	for i, c := range constituents {
		g.Go(func() error {
			daily, err := src.GetCandles(gctx, c.Symbol, models.Timeframe1Day, from, now)
			if err == nil && len(daily) < MinDailyCandles {
				err = fmt.Errorf("%w: %d daily candles", datasource.ErrInsufficientData, len(daily))
			}
			if err != nil {
				a.log.Debug().Err(err).Str("symbol", c.Symbol).Msg("constituent skipped")
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", c.Symbol, err))
				mu.Unlock()
				return nil // non-fatal
			}

			var bars []models.Candle
			if intraday {
				bars, err = src.GetCandles(gctx, c.Symbol, models.Timeframe5Min, session, now)
				if err != nil {
					a.log.Debug().Err(err).Str("symbol", c.Symbol).Msg("intraday candles unavailable, daily only")
					bars = nil
				}
			}

			if sig, ok := a.scorer.ScoreStock(c, daily, bars); ok {
				results[i] = &sig
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	signals := make([]models.ConstituentSignal, 0, len(results))
	for _, r := range results {
		if r != nil {
			signals = append(signals, *r)
		}
	}
	if len(signals) == 0 {
		return nil, fmt.Errorf("%w: all %d constituents of %s failed: %w",
			datasource.ErrDataUnavailable, len(constituents), index, errors.Join(errs...))
	}

	Renormalize(signals)
	ip := Combine(index, signals, len(constituents), a.cfg)

	a.log.Debug().
		Str("index", index).
		Int("scanned", ip.StocksScanned).
		Int("total", ip.TotalStocks).
		Str("direction", string(ip.ExpectedDirection)).
		Float64("move_pct", ip.ExpectedMovePct).
		Msg("constituents aggregated")
	return ip, nil
}

// Renormalize rescales weights in place to sum to 1. A zero-weight set is
// given equal weights.
func Renormalize(signals []models.ConstituentSignal) {
	var sum float64
	for _, s := range signals {
		sum += s.Weight
	}
	for i := range signals {
		if sum > 0 {
			signals[i].Weight /= sum
		} else {
			signals[i].Weight = 1 / float64(len(signals))
		}
	}
}

// Combine folds renormalised signals into an IndexProbability. total is the
// number of constituents requested, scanned or not.
func Combine(index string, signals []models.ConstituentSignal, total int, cfg config.ConstituentConfig) *models.IndexProbability {
	ip := &models.IndexProbability{
		Index:             index,
		ExpectedDirection: models.DirectionNeutral,
		StocksScanned:     len(signals),
		TotalStocks:       total,
		TopContributors:   []models.Contributor{},
		Signals:           signals,
	}

	var up, down, neutral float64
	for _, s := range signals {
		switch s.Direction {
		case models.DirectionBullish:
			ip.StockSummary.Bullish++
			ip.ExpectedMovePct += s.Weight * s.Probability * s.ExpectedMovePct
		case models.DirectionBearish:
			ip.StockSummary.Bearish++
			ip.ExpectedMovePct += s.Weight * (1 - s.Probability) * s.ExpectedMovePct
		default:
			ip.StockSummary.Neutral++
			neutral += s.Weight
			continue
		}
		up += s.Weight * s.Probability
		down += s.Weight * (1 - s.Probability)
	}

	if sum := up + down + neutral; sum > 0 {
		ip.ProbabilityUp, ip.ProbabilityDown = up/sum, down/sum
		ip.ProbabilityNeutral = 1 - ip.ProbabilityUp - ip.ProbabilityDown
	} else {
		ip.ProbabilityNeutral = 1
	}

	switch {
	case ip.ExpectedMovePct > cfg.DirectionMovePct:
		ip.ExpectedDirection = models.DirectionBullish
	case ip.ExpectedMovePct < -cfg.DirectionMovePct:
		ip.ExpectedDirection = models.DirectionBearish
	}

	ip.Confidence = confidence(ip)
	ip.TopContributors = topContributors(signals, cfg.TopContributors)
	return ip
}

// confidence blends probability dominance (60%) with breadth agreement
// (40%), scaled by coverage.
func confidence(ip *models.IndexProbability) float64 {
	if ip.StocksScanned == 0 || ip.TotalStocks == 0 {
		return 0
	}
	dominance := 0.0
	if ud := ip.ProbabilityUp + ip.ProbabilityDown; ud > 0 {
		dominance = math.Abs(ip.ProbabilityUp-ip.ProbabilityDown) / ud
	}
	breadth := math.Abs(float64(ip.StockSummary.Bullish-ip.StockSummary.Bearish)) / float64(ip.StocksScanned)
	coverage := float64(ip.StocksScanned) / float64(ip.TotalStocks)

	c := 100 * (0.6*dominance + 0.4*breadth) * coverage
	return math.Round(math.Min(math.Max(c, 0), 100)*100) / 100
}

// topContributors ranks stocks by |weight × (p − 0.5)|; ties by symbol.
func topContributors(signals []models.ConstituentSignal, n int) []models.Contributor {
	out := make([]models.Contributor, 0, len(signals))
	for _, s := range signals {
		out = append(out, models.Contributor{
			Symbol:      s.Symbol,
			Weight:      s.Weight,
			Probability: s.Probability,
			Direction:   s.Direction,
			Impact:      s.Weight * (s.Probability - 0.5),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		ai, aj := math.Abs(out[i].Impact), math.Abs(out[j].Impact)
		if ai != aj {
			return ai > aj
		}
		return out[i].Symbol < out[j].Symbol
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}
