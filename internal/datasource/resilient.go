package datasource

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jpillora/backoff"
	"github.com/rs/zerolog"

	"github.com/seenimoa/indexsignal/internal/config"
	"github.com/seenimoa/indexsignal/internal/infra"
	"github.com/seenimoa/indexsignal/internal/metrics"
	"github.com/seenimoa/indexsignal/pkg/models"
)

// Resilient wraps a provider with a concurrency cap, an optional rate limit
// and exponential-backoff retries. Rate-limit responses are retried no
// sooner than their retry-after hint. It always implements the optional
// SentimentProvider and VolatilityProvider interfaces, returning
// ErrNotSupported when the wrapped provider lacks them.
type Resilient struct {
	inner   MarketDataProvider
	cfg     config.ProviderConfig
	sem     chan struct{}
	limiter *infra.RateLimiter
	metrics *metrics.Metrics
	log     zerolog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewResilient wraps inner. m may be nil.
func NewResilient(inner MarketDataProvider, cfg config.ProviderConfig, m *metrics.Metrics, log zerolog.Logger) *Resilient {
	if cfg.MaxConcurrency < 1 {
		cfg.MaxConcurrency = 1
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Resilient{
		inner:   inner,
		cfg:     cfg,
		sem:     make(chan struct{}, cfg.MaxConcurrency),
		limiter: infra.PerSecond(cfg.RatePerSecond),
		metrics: m,
		log:     log,
		sleep:   sleepCtx,
	}
}

// GetCandles implements MarketDataProvider.
func (r *Resilient) GetCandles(ctx context.Context, symbol string, tf models.Timeframe, from, to time.Time) ([]models.Candle, error) {
	return call(ctx, r, "candles", func(ctx context.Context) ([]models.Candle, error) {
		return r.inner.GetCandles(ctx, symbol, tf, from, to)
	})
}

// GetQuote implements MarketDataProvider.
func (r *Resilient) GetQuote(ctx context.Context, symbol string) (*models.Quote, error) {
	return call(ctx, r, "quote", func(ctx context.Context) (*models.Quote, error) {
		return r.inner.GetQuote(ctx, symbol)
	})
}

// GetOptionChain implements MarketDataProvider.
func (r *Resilient) GetOptionChain(ctx context.Context, symbol string, strikeCount int) ([]models.OptionQuote, error) {
	return call(ctx, r, "option_chain", func(ctx context.Context) ([]models.OptionQuote, error) {
		return r.inner.GetOptionChain(ctx, symbol, strikeCount)
	})
}

// GetConstituents implements MarketDataProvider.
func (r *Resilient) GetConstituents(ctx context.Context, index string) ([]models.Constituent, error) {
	return call(ctx, r, "constituents", func(ctx context.Context) ([]models.Constituent, error) {
		return r.inner.GetConstituents(ctx, index)
	})
}

// GetSentiment implements SentimentProvider.
func (r *Resilient) GetSentiment(ctx context.Context, index string) (*models.Sentiment, error) {
	sp, ok := r.inner.(SentimentProvider)
	if !ok {
		return nil, fmt.Errorf("%w: sentiment", ErrNotSupported)
	}
	return call(ctx, r, "sentiment", func(ctx context.Context) (*models.Sentiment, error) {
		return sp.GetSentiment(ctx, index)
	})
}

// GetVolatilityIndex implements VolatilityProvider.
func (r *Resilient) GetVolatilityIndex(ctx context.Context, index string) (float64, error) {
	vp, ok := r.inner.(VolatilityProvider)
	if !ok {
		return 0, fmt.Errorf("%w: volatility index", ErrNotSupported)
	}
	return call(ctx, r, "volatility", func(ctx context.Context) (float64, error) {
		return vp.GetVolatilityIndex(ctx, index)
	})
}

// call runs fn with retries. Non-retryable errors and the final attempt's
// error are returned unchanged.
func call[T any](ctx context.Context, r *Resilient, op string, fn func(context.Context) (T, error)) (T, error) {
	b := &backoff.Backoff{Min: r.cfg.BackoffMin, Max: r.cfg.BackoffMax, Factor: 2, Jitter: true}
	for attempt := 1; ; attempt++ {
		v, err := once(ctx, r, op, fn, attempt >= r.cfg.MaxAttempts)
		if err == nil {
			return v, nil
		}
		if attempt >= r.cfg.MaxAttempts || !Retryable(err) {
			return v, err
		}

		wait := b.Duration()
		var rle *RateLimitError
		if errors.As(err, &rle) && rle.RetryAfter > wait {
			wait = rle.RetryAfter
		}
		r.metrics.ProviderRetry(op)
		r.log.Debug().Err(err).Str("op", op).Int("attempt", attempt).Dur("wait", wait).Msg("retrying provider call")

		if serr := r.sleep(ctx, wait); serr != nil {
			var zero T
			return zero, fmt.Errorf("%s: %w", op, errors.Join(serr, err))
		}
	}
}

// once makes a single guarded attempt. A rate limit on the final attempt
// means the data is unavailable for this call.
func once[T any](ctx context.Context, r *Resilient, op string, fn func(context.Context) (T, error), final bool) (T, error) {
	var zero T
	select {
	case r.sem <- struct{}{}:
	case <-ctx.Done():
		return zero, ctx.Err()
	}
	defer func() { <-r.sem }()

	if err := r.limiter.Wait(ctx); err != nil {
		return zero, err
	}

	start := time.Now()
	v, err := fn(ctx)
	if final && errors.Is(err, ErrRateLimited) {
		err = fmt.Errorf("%w: %s: %w", ErrDataUnavailable, op, err)
	}
	r.metrics.ProviderCall(op, outcome(err), time.Since(start))
	return v, err
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrDataUnavailable), errors.Is(err, ErrNotSupported):
		return "unavailable"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
