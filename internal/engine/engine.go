// Package engine runs a full index scan: multi-timeframe structure,
// constituent probability, manipulation traps and option-chain scoring,
// composed into one ActionableSignal.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/seenimoa/indexsignal/internal/analysis/amd"
	"github.com/seenimoa/indexsignal/internal/analysis/constituent"
	"github.com/seenimoa/indexsignal/internal/analysis/derivatives"
	"github.com/seenimoa/indexsignal/internal/analysis/mtf"
	"github.com/seenimoa/indexsignal/internal/config"
	"github.com/seenimoa/indexsignal/internal/datasource"
	"github.com/seenimoa/indexsignal/internal/logger"
	"github.com/seenimoa/indexsignal/internal/metrics"
	"github.com/seenimoa/indexsignal/pkg/models"
	"github.com/seenimoa/indexsignal/pkg/utils"
)

// fallbackIVReference is used when neither a volatility index nor a
// configured reference is available for an index.
const fallbackIVReference = 15.0

// ScanRequest selects the index, expiry and liquidity filters of one scan.
type ScanRequest struct {
	Index   string      `json:"index"`
	Expiry  string      `json:"expiry" default:"weekly"` // weekly, next_weekly, monthly or a date
	Filters ScanFilters `json:"filters"`
}

// ScanFilters override the configured option liquidity filters. Nil fields
// keep the configured value.
type ScanFilters struct {
	MinVolume        *int64   `json:"min_volume,omitempty"`
	MinOI            *int64   `json:"min_oi,omitempty"`
	MaxStrikeDistPct *float64 `json:"max_strike_dist_pct,omitempty"`
}

// Engine wires the analysers to a market data provider.
type Engine struct {
	cfg      *config.Config
	provider datasource.MarketDataProvider
	mtf      *mtf.Composer
	amd      *amd.Detector
	agg      *constituent.Aggregator
	scorer   *derivatives.Scorer
	composer *SignalComposer
	metrics  *metrics.Metrics
	log      zerolog.Logger
	now      func() time.Time
}

// New creates an Engine. Providers that are not already resilient are
// wrapped with the configured concurrency cap, rate limit and retries. m may
// be nil; now defaults to the IST wall clock.
func New(cfg *config.Config, provider datasource.MarketDataProvider, log zerolog.Logger, m *metrics.Metrics, now func() time.Time) *Engine {
	if _, ok := provider.(*datasource.Resilient); !ok {
		provider = datasource.NewResilient(provider, cfg.Provider, m, logger.Component(log, "provider"))
	}
	if now == nil {
		now = utils.NowIST
	}
	return &Engine{
		cfg:      cfg,
		provider: provider,
		mtf:      mtf.NewComposer(cfg.Structure, cfg.MTF, cfg.Engine.TimeframeWorkers, logger.Component(log, "mtf")),
		amd:      amd.NewDetector(cfg.AMD),
		agg:      constituent.NewAggregator(cfg.Constituents, cfg.Engine.ConstituentWorkers, logger.Component(log, "constituents")),
		scorer:   derivatives.NewScorer(cfg.Options),
		composer: NewSignalComposer(cfg),
		metrics:  m,
		log:      logger.Component(log, "engine"),
		now:      now,
	}
}

// Ladder returns the timeframe ladder a scan would use right now.
func (e *Engine) Ladder() []models.Timeframe {
	return e.mtf.Ladder(e.now())
}

// Scan produces a signal for req.Index. Partial data degrades the signal and
// is explained in its reasoning; only losing both structure and
// constituents, or the spot price, fails the scan with ErrScanFailed.
func (e *Engine) Scan(ctx context.Context, req ScanRequest) (*models.ActionableSignal, error) {
	start := time.Now()
	info, ok := utils.NormalizeIndex(req.Index)
	if !ok {
		return nil, fmt.Errorf("unsupported index %q (supported: %s)", req.Index, strings.Join(utils.SupportedIndices(), ", "))
	}
	if req.Expiry == "" {
		req.Expiry = e.cfg.Engine.DefaultExpiry
	}
	if err := defaults.Set(&req); err != nil {
		return nil, fmt.Errorf("scan request defaults: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.Engine.ScanTimeout)
	defer cancel()

	sym := info.Symbol
	now := e.now().In(utils.IST)
	log := e.log.With().Str("index", sym).Logger()

	var (
		mres     *mtf.Result
		mErr     error
		ip       *models.IndexProbability
		members  int
		cErr     error
		quote    *models.Quote
		qErr     error
		sent     *models.Sentiment
		ivRef    float64
		ivStale  bool
		sessBars []models.Candle
		sessErr  error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		mres, mErr = e.mtf.Compose(gctx, e.provider, sym, now)
		return nil
	})
	g.Go(func() error {
		ip, members, cErr = e.constituents(gctx, sym, now)
		return nil
	})
	g.Go(func() error {
		quote, qErr = e.provider.GetQuote(gctx, sym)
		return nil
	})
	g.Go(func() error {
		tf := models.Timeframe(e.cfg.Engine.AMDTimeframe)
		sessBars, sessErr = e.provider.GetCandles(gctx, sym, tf, utils.SessionStart(now), now)
		return nil
	})
	g.Go(func() error {
		sent = e.sentiment(gctx, sym, log)
		return nil
	})
	g.Go(func() error {
		ivRef, ivStale = e.ivReference(gctx, sym, log)
		return nil
	})
	_ = g.Wait() // every task records its own error

	if err := ctx.Err(); err != nil {
		return nil, e.fail(sym, err)
	}
	if mErr != nil && cErr != nil {
		return nil, e.fail(sym, errors.Join(mErr, cErr))
	}

	var notes []string
	bias := models.MTFBias{OverallBias: models.BiasRanging}
	var zones []models.Zone
	if mErr != nil {
		ladder := e.mtf.Ladder(now)
		bias.Ladder, bias.Failed = ladder, ladder
		notes = append(notes, "multi-timeframe structure unavailable, treating as ranging")
		log.Warn().Err(mErr).Msg("mtf compose failed")
	} else {
		bias, zones = mres.Bias, mres.Zones
	}
	if cErr != nil {
		ip = nil
		notes = append(notes, "constituent probability unavailable")
		log.Warn().Err(cErr).Msg("constituent aggregation failed")
	} else if !e.cfg.Engine.IncludeConstituents {
		trimmed := *ip
		trimmed.Signals = nil
		ip = &trimmed
	}

	spot, err := spotPrice(quote, qErr, sessBars)
	if err != nil {
		return nil, e.fail(sym, err)
	}
	if qErr != nil {
		notes = append(notes, "live quote unavailable, spot from last intraday close")
		log.Warn().Err(qErr).Msg("quote failed")
	}

	var trap *models.ManipulationEvent
	switch {
	case sessErr != nil:
		notes = append(notes, "session candles unavailable, trap detection skipped")
		log.Warn().Err(sessErr).Msg("session candles failed")
	case len(zones) > 0:
		if ev, ok := amd.Strongest(e.amd.Detect(sessBars, zones), e.cfg.AMD.SelectionWindow); ok {
			trap = &ev
		}
	}

	if ivStale {
		notes = append(notes, fmt.Sprintf("IV reference stale/default (%.1f%%)", ivRef))
	}

	in := SignalInputs{
		Index:        sym,
		Now:          now,
		Spot:         spot,
		MTF:          bias,
		Manipulation: trap,
		Probability:  ip,
		TotalStocks:  members,
		Sentiment:    sent,
		IVReference:  ivRef,
	}

	chain, err := e.provider.GetOptionChain(ctx, sym, e.cfg.Engine.StrikeCount)
	if err != nil {
		if ctx.Err() != nil {
			return nil, e.fail(sym, ctx.Err())
		}
		notes = append(notes, "option chain unavailable")
		log.Warn().Err(err).Msg("option chain failed")
	} else {
		expiry, note, err := SelectExpiry(derivatives.Expiries(chain), req.Expiry, now)
		if err != nil {
			notes = append(notes, "option chain has no live expiry")
			log.Warn().Err(err).Msg("expiry selection failed")
		} else {
			if note != "" {
				notes = append(notes, note)
			}
			quotes := derivatives.ForExpiry(chain, expiry)
			derivatives.FillGreeks(quotes, spot, e.cfg.Engine.RiskFreeRate, now)
			cc := derivatives.AnalyzeChain(quotes, spot)
			in.Expiry = expiry
			in.Chain = &cc
			in.Ranked = e.scorer.Rank(quotes, spot, ip, sent, e.filters(req.Filters))
		}
	}
	in.Notes = notes

	sig := e.composer.Compose(in)

	e.metrics.ObserveScan(sym, string(sig.Action), time.Since(start))
	e.metrics.Coverage(sym, sig.IndexProbability.StocksScanned, sig.IndexProbability.TotalStocks)
	if sig.ManipulationOverride != nil {
		e.metrics.Override()
	}
	log.Info().
		Str("id", sig.ID).
		Str("action", string(sig.Action)).
		Str("direction", string(sig.Direction)).
		Float64("strike", sig.Strike).
		Str("option_type", string(sig.OptionType)).
		Float64("confidence", sig.Confidence).
		Dur("elapsed", time.Since(start)).
		Msg("scan complete")
	return sig, nil
}

// constituents returns the aggregate and the requested member count, which
// is known even when aggregation fails.
func (e *Engine) constituents(ctx context.Context, sym string, now time.Time) (*models.IndexProbability, int, error) {
	members, err := e.provider.GetConstituents(ctx, sym)
	if err != nil {
		return nil, 0, fmt.Errorf("constituents of %s: %w", sym, err)
	}
	ip, err := e.agg.Aggregate(ctx, e.provider, sym, members, now)
	return ip, len(members), err
}

// sentiment is best effort and bounded by its own timeout.
func (e *Engine) sentiment(ctx context.Context, sym string, log zerolog.Logger) *models.Sentiment {
	sp, ok := e.provider.(datasource.SentimentProvider)
	if !ok {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Engine.SentimentTimeout)
	defer cancel()
	s, err := sp.GetSentiment(ctx, sym)
	if err != nil {
		if !errors.Is(err, datasource.ErrNotSupported) {
			log.Debug().Err(err).Msg("sentiment unavailable")
		}
		return nil
	}
	return s
}

// ivReference prefers the live volatility index and reports whether the
// configured default had to be used instead.
func (e *Engine) ivReference(ctx context.Context, sym string, log zerolog.Logger) (float64, bool) {
	if vp, ok := e.provider.(datasource.VolatilityProvider); ok {
		v, err := vp.GetVolatilityIndex(ctx, sym)
		if err == nil && v > 0 {
			return v, false
		}
		if err != nil && !errors.Is(err, datasource.ErrNotSupported) {
			log.Debug().Err(err).Msg("volatility index unavailable")
		}
	}
	if ref := e.cfg.Entry.IVReference[sym]; ref > 0 {
		return ref, true
	}
	return fallbackIVReference, true
}

func (e *Engine) filters(f ScanFilters) derivatives.Filters {
	out := e.scorer.DefaultFilters()
	if f.MinVolume != nil {
		out.MinVolume = *f.MinVolume
	}
	if f.MinOI != nil {
		out.MinOI = *f.MinOI
	}
	if f.MaxStrikeDistPct != nil {
		out.MaxStrikeDistPct = *f.MaxStrikeDistPct
	}
	return out
}

func (e *Engine) fail(sym string, err error) error {
	e.metrics.ScanFailed()
	e.log.Error().Err(err).Str("index", sym).Msg("scan failed")
	return fmt.Errorf("%w: %s: %w", datasource.ErrScanFailed, sym, err)
}

// spotPrice takes the live quote, falling back to the last session close.
func spotPrice(q *models.Quote, qErr error, session []models.Candle) (float64, error) {
	if qErr == nil && q != nil && q.LTP > 0 {
		return q.LTP, nil
	}
	if n := len(session); n > 0 && session[n-1].Close > 0 {
		return session[n-1].Close, nil
	}
	if qErr == nil {
		qErr = errors.New("quote has no price")
	}
	return 0, fmt.Errorf("%w: no spot price: %w", datasource.ErrDataUnavailable, qErr)
}
