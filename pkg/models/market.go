// Package models defines the core data structures used throughout indexsignal.
package models

import "time"

// Candle represents a single OHLCV bar. Candles are produced by a market data
// provider and consumed read-only by the analysis packages.
type Candle struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    int64     `json:"volume"`
}

// Bullish reports whether the candle closed above its open.
func (c Candle) Bullish() bool { return c.Close > c.Open }

// Bearish reports whether the candle closed below its open.
func (c Candle) Bearish() bool { return c.Close < c.Open }

// Range returns high minus low.
func (c Candle) Range() float64 { return c.High - c.Low }

// Quote is a live snapshot for an index or stock.
type Quote struct {
	Symbol    string    `json:"symbol"`
	LTP       float64   `json:"ltp"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	Volume    int64     `json:"volume"`
	OI        int64     `json:"oi"`
	PrevClose float64   `json:"prev_close,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Constituent is an index member and its membership weight (0–1).
type Constituent struct {
	Symbol string  `json:"symbol"`
	Weight float64 `json:"weight"`
}

// Timeframe represents chart timeframe for OHLCV data.
type Timeframe string

const (
	Timeframe1Min  Timeframe = "1m"
	Timeframe3Min  Timeframe = "3m"
	Timeframe5Min  Timeframe = "5m"
	Timeframe15Min Timeframe = "15m"
	Timeframe1Hour Timeframe = "1h"
	Timeframe4Hour Timeframe = "4h"
	Timeframe1Day  Timeframe = "1d"
	Timeframe1Week Timeframe = "1w"
	Timeframe1Mon  Timeframe = "1M"
)

// AllTimeframes lists every supported timeframe from lowest to highest.
var AllTimeframes = []Timeframe{
	Timeframe1Min, Timeframe3Min, Timeframe5Min, Timeframe15Min,
	Timeframe1Hour, Timeframe4Hour, Timeframe1Day, Timeframe1Week, Timeframe1Mon,
}

// Duration returns the nominal length of one bar.
func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case Timeframe1Min:
		return time.Minute
	case Timeframe3Min:
		return 3 * time.Minute
	case Timeframe5Min:
		return 5 * time.Minute
	case Timeframe15Min:
		return 15 * time.Minute
	case Timeframe1Hour:
		return time.Hour
	case Timeframe4Hour:
		return 4 * time.Hour
	case Timeframe1Day:
		return 24 * time.Hour
	case Timeframe1Week:
		return 7 * 24 * time.Hour
	case Timeframe1Mon:
		return 30 * 24 * time.Hour
	default:
		return 0
	}
}

// Lookback returns how far back candles are fetched for structure analysis.
// Windows are sized so that each timeframe yields comfortably more than the
// minimum bar count even across weekends and holidays.
func (tf Timeframe) Lookback() time.Duration {
	day := 24 * time.Hour
	switch tf {
	case Timeframe1Min, Timeframe3Min:
		return 2 * day
	case Timeframe5Min:
		return 5 * day
	case Timeframe15Min:
		return 10 * day
	case Timeframe1Hour:
		return 30 * day
	case Timeframe4Hour:
		return 90 * day
	case Timeframe1Day:
		return 365 * day
	case Timeframe1Week:
		return 3 * 365 * day
	case Timeframe1Mon:
		return 10 * 365 * day
	default:
		return 30 * day
	}
}

// Rank orders timeframes from lowest (0) to highest. Unknown timeframes rank -1.
func (tf Timeframe) Rank() int {
	for i, t := range AllTimeframes {
		if t == tf {
			return i
		}
	}
	return -1
}

// Valid reports whether tf is a known timeframe.
func (tf Timeframe) Valid() bool { return tf.Rank() >= 0 }
