package datasource

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/seenimoa/indexsignal/internal/analysis/technical"
	"github.com/seenimoa/indexsignal/pkg/models"
	"github.com/seenimoa/indexsignal/pkg/utils"
)

// YFinance serves OHLCV history from the Yahoo Finance chart API.
type YFinance struct {
	baseURL string
	client  *http.Client
}

// NewYFinance creates a Yahoo Finance source.
func NewYFinance(baseURL string, timeout time.Duration) *YFinance {
	return &YFinance{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Name returns the data source name.
func (y *YFinance) Name() string { return "Yahoo Finance" }

// --- Yahoo Finance v8 API types ---

type yfChartResponse struct {
	Chart struct {
		Result []yfChartResult `json:"result"`
		Error  *yfError        `json:"error"`
	} `json:"chart"`
}

type yfChartResult struct {
	Meta       yfChartMeta  `json:"meta"`
	Timestamp  []int64      `json:"timestamp"`
	Indicators yfIndicators `json:"indicators"`
}

type yfChartMeta struct {
	Symbol             string  `json:"symbol"`
	RegularMarketPrice float64 `json:"regularMarketPrice"`
	ChartPreviousClose float64 `json:"chartPreviousClose"`
	RegularMarketTime  int64   `json:"regularMarketTime"`
}

type yfIndicators struct {
	Quote []yfOHLCV `json:"quote"`
}

type yfOHLCV struct {
	Open   []*float64 `json:"open"`
	High   []*float64 `json:"high"`
	Low    []*float64 `json:"low"`
	Close  []*float64 `json:"close"`
	Volume []*int64   `json:"volume"`
}

type yfError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

// --- Public methods ---

// GetCandles returns ascending candles for symbol in [from, to]. Yahoo has no
// 3m or 4h bars, so those are resampled from 1m and 1h.
func (y *YFinance) GetCandles(ctx context.Context, symbol string, tf models.Timeframe, from, to time.Time) ([]models.Candle, error) {
	if !tf.Valid() {
		return nil, fmt.Errorf("%w: timeframe %q", ErrNotSupported, tf)
	}
	base := fetchTimeframe(tf)

	result, err := y.chart(ctx, symbol, url.Values{
		"period1":  {fmt.Sprint(from.Unix())},
		"period2":  {fmt.Sprint(to.Unix())},
		"interval": {yfInterval(base)},
	})
	if err != nil {
		return nil, err
	}

	candles := parseYFCandles(result)
	if base != tf {
		candles = technical.Resample(candles, tf)
	}
	candles = clipCandles(candles, from, to)
	if len(candles) == 0 {
		return nil, fmt.Errorf("%w: %s %s", ErrDataUnavailable, symbol, tf)
	}
	return candles, nil
}

// GetQuote reads the last traded price from the chart metadata. It backs up
// the NSE quote when that endpoint is unavailable.
func (y *YFinance) GetQuote(ctx context.Context, symbol string) (*models.Quote, error) {
	result, err := y.chart(ctx, symbol, url.Values{"range": {"1d"}, "interval": {"1m"}})
	if err != nil {
		return nil, err
	}
	if result.Meta.RegularMarketPrice <= 0 {
		return nil, fmt.Errorf("%w: yfinance quote %s", ErrDataUnavailable, symbol)
	}
	return &models.Quote{
		Symbol:    utils.NormalizeTicker(symbol),
		LTP:       result.Meta.RegularMarketPrice,
		PrevClose: result.Meta.ChartPreviousClose,
		Timestamp: time.Unix(result.Meta.RegularMarketTime, 0).In(utils.IST),
	}, nil
}

// --- Helpers ---

func (y *YFinance) chart(ctx context.Context, symbol string, params url.Values) (yfChartResult, error) {
	yfTicker := utils.ToYFinanceTicker(symbol)
	endpoint := fmt.Sprintf("%s/v8/finance/chart/%s?%s", y.baseURL, url.PathEscape(yfTicker), params.Encode())

	data, err := doGet(ctx, y.client, endpoint, map[string]string{"Accept": "application/json"})
	if err != nil {
		return yfChartResult{}, fmt.Errorf("yfinance chart %s: %w", yfTicker, err)
	}

	var resp yfChartResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return yfChartResult{}, fmt.Errorf("parse yfinance chart: %w", err)
	}
	if resp.Chart.Error != nil {
		return yfChartResult{}, fmt.Errorf("%w: yfinance chart error: %s", ErrDataUnavailable, resp.Chart.Error.Description)
	}
	if len(resp.Chart.Result) == 0 {
		return yfChartResult{}, fmt.Errorf("%w: %s", ErrDataUnavailable, yfTicker)
	}
	return resp.Chart.Result[0], nil
}

// parseYFCandles converts a chart result into IST candles, skipping rows
// where Yahoo reports null prices.
func parseYFCandles(result yfChartResult) []models.Candle {
	if len(result.Timestamp) == 0 || len(result.Indicators.Quote) == 0 {
		return nil
	}
	q := result.Indicators.Quote[0]

	candles := make([]models.Candle, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		o, h, l, c := at(q.Open, i), at(q.High, i), at(q.Low, i), at(q.Close, i)
		if o == nil || h == nil || l == nil || c == nil {
			continue
		}
		var vol int64
		if i < len(q.Volume) && q.Volume[i] != nil {
			vol = *q.Volume[i]
		}
		candles = append(candles, models.Candle{
			Timestamp: time.Unix(ts, 0).In(utils.IST),
			Open:      *o,
			High:      *h,
			Low:       *l,
			Close:     *c,
			Volume:    vol,
		})
	}
	return candles
}

func at(series []*float64, i int) *float64 {
	if i >= len(series) {
		return nil
	}
	return series[i]
}

func clipCandles(candles []models.Candle, from, to time.Time) []models.Candle {
	out := candles[:0:0]
	for _, c := range candles {
		if c.Timestamp.Before(from) || c.Timestamp.After(to) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// fetchTimeframe returns the native Yahoo timeframe that tf is built from.
func fetchTimeframe(tf models.Timeframe) models.Timeframe {
	switch tf {
	case models.Timeframe3Min:
		return models.Timeframe1Min
	case models.Timeframe4Hour:
		return models.Timeframe1Hour
	default:
		return tf
	}
}

func yfInterval(tf models.Timeframe) string {
	switch tf {
	case models.Timeframe1Min:
		return "1m"
	case models.Timeframe5Min:
		return "5m"
	case models.Timeframe15Min:
		return "15m"
	case models.Timeframe1Hour:
		return "1h"
	case models.Timeframe1Day:
		return "1d"
	case models.Timeframe1Week:
		return "1wk"
	case models.Timeframe1Mon:
		return "1mo"
	default:
		return "1d"
	}
}
