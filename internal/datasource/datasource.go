// Package datasource provides market data for the signal engine. It defines
// the MarketDataProvider boundary and implements it on top of NSE India,
// Yahoo Finance and Indian financial news feeds.
package datasource

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/seenimoa/indexsignal/pkg/models"
)

// MarketDataProvider is the data boundary consumed by the engine.
type MarketDataProvider interface {
	// GetCandles returns ascending OHLCV candles for symbol in [from, to].
	GetCandles(ctx context.Context, symbol string, tf models.Timeframe, from, to time.Time) ([]models.Candle, error)

	// GetQuote returns a live quote for an index or stock.
	GetQuote(ctx context.Context, symbol string) (*models.Quote, error)

	// GetOptionChain returns strikeCount strikes around the money for every
	// listed expiry.
	GetOptionChain(ctx context.Context, symbol string, strikeCount int) ([]models.OptionQuote, error)

	// GetConstituents returns index members with weights summing to 1.
	GetConstituents(ctx context.Context, index string) ([]models.Constituent, error)
}

// SentimentProvider is an optional capability of a MarketDataProvider.
type SentimentProvider interface {
	GetSentiment(ctx context.Context, index string) (*models.Sentiment, error)
}

// VolatilityProvider is an optional capability that supplies a volatility
// index (India VIX) usable as an IV reference for index.
type VolatilityProvider interface {
	GetVolatilityIndex(ctx context.Context, index string) (float64, error)
}

// --- Sentinel errors ---

var (
	// ErrDataUnavailable is returned when a symbol/timeframe has no data.
	ErrDataUnavailable = errors.New("data unavailable")

	// ErrRateLimited is returned when a source throttles the request.
	ErrRateLimited = errors.New("rate limited by data source")

	// ErrInsufficientData is returned when fewer candles than required arrive.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrNoLiquidOptions is returned when chain filters leave no candidates.
	ErrNoLiquidOptions = errors.New("no liquid options")

	// ErrScanFailed is returned when the provider is completely unreachable.
	ErrScanFailed = errors.New("scan failed")

	// ErrNotSupported is returned when a source lacks an operation.
	ErrNotSupported = errors.New("operation not supported by this data source")
)

// RateLimitError carries the provider's retry-after hint.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s (retry after %s)", ErrRateLimited, e.RetryAfter)
	}
	return ErrRateLimited.Error()
}

// Is makes errors.Is(err, ErrRateLimited) match.
func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimited }

// HTTPError wraps an HTTP error with status code.
type HTTPError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d %s: %s", e.StatusCode, e.Status, e.Body)
}

// Is maps 404 responses to ErrDataUnavailable.
func (e *HTTPError) Is(target error) bool {
	return target == ErrDataUnavailable && e.StatusCode == 404
}

// Retryable reports whether err is worth retrying: throttling, 5xx and
// transport errors are; missing data and cancellation are not.
func Retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	if errors.Is(err, ErrDataUnavailable) || errors.Is(err, ErrNotSupported) || errors.Is(err, ErrInsufficientData) {
		return false
	}
	var he *HTTPError
	if errors.As(err, &he) {
		return he.StatusCode >= 500
	}
	return true
}
