package technical

import (
	"time"

	"github.com/seenimoa/indexsignal/pkg/models"
	"github.com/seenimoa/indexsignal/pkg/utils"
)

// Resample aggregates intraday candles into tf buckets anchored at each
// session's 09:15 IST open (so 4h bars are 09:15–13:15 and 13:15–15:30).
// Input must be sorted ascending; candles of larger timeframes are returned
// unchanged.
func Resample(candles []models.Candle, tf models.Timeframe) []models.Candle {
	d := tf.Duration()
	if len(candles) == 0 || d <= 0 || d >= 24*time.Hour {
		return candles
	}

	var out []models.Candle
	var bucket time.Time
	for _, c := range candles {
		open := utils.MarketOpenTime(c.Timestamp)
		offset := c.Timestamp.Sub(open)
		if offset < 0 {
			offset = 0
		}
		start := open.Add(offset / d * d)

		if len(out) == 0 || !start.Equal(bucket) {
			bucket = start
			out = append(out, models.Candle{
				Timestamp: start,
				Open:      c.Open,
				High:      c.High,
				Low:       c.Low,
				Close:     c.Close,
				Volume:    c.Volume,
			})
			continue
		}
		last := &out[len(out)-1]
		if c.High > last.High {
			last.High = c.High
		}
		if c.Low < last.Low {
			last.Low = c.Low
		}
		last.Close = c.Close
		last.Volume += c.Volume
	}
	return out
}
