package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/seenimoa/indexsignal/internal/config"
	"github.com/seenimoa/indexsignal/internal/datasource"
	"github.com/seenimoa/indexsignal/internal/metrics"
	"github.com/seenimoa/indexsignal/pkg/models"
)

// ── Fixtures ──

type fakeMarket struct {
	candles   map[string][]models.Candle // "SYMBOL/tf"
	quote     *models.Quote
	quoteErr  error
	chain     []models.OptionQuote
	chainErr  error
	members   []models.Constituent
	vix       float64
	vixErr    error
	sentiment *models.Sentiment
}

func (f *fakeMarket) GetCandles(ctx context.Context, symbol string, tf models.Timeframe, _, _ time.Time) ([]models.Candle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c, ok := f.candles[symbol+"/"+string(tf)]
	if !ok {
		return nil, fmt.Errorf("%w: %s %s", datasource.ErrDataUnavailable, symbol, tf)
	}
	return c, nil
}

func (f *fakeMarket) GetQuote(ctx context.Context, _ string) (*models.Quote, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.quoteErr != nil {
		return nil, f.quoteErr
	}
	q := *f.quote
	return &q, nil
}

func (f *fakeMarket) GetOptionChain(ctx context.Context, _ string, _ int) ([]models.OptionQuote, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.chainErr != nil {
		return nil, f.chainErr
	}
	return append([]models.OptionQuote(nil), f.chain...), nil
}

func (f *fakeMarket) GetConstituents(ctx context.Context, _ string) ([]models.Constituent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return f.members, nil
}

func (f *fakeMarket) GetSentiment(_ context.Context, _ string) (*models.Sentiment, error) {
	if f.sentiment == nil {
		return nil, datasource.ErrNotSupported
	}
	s := *f.sentiment
	return &s, nil
}

func (f *fakeMarket) GetVolatilityIndex(_ context.Context, _ string) (float64, error) {
	return f.vix, f.vixErr
}

// zigzag drifts upward so every timeframe reads bullish.
func zigzag(n int) []models.Candle {
	tri := []float64{0, 1, 2, 3, 4, 3, 2, 1}
	start := ist(2026, 10, 1, 9, 15)
	out := make([]models.Candle, n)
	prev := 1000.0
	for i := range out {
		c := 1000 + float64(i) + 10*tri[i%8]
		hi, lo := math.Max(prev, c), math.Min(prev, c)
		out[i] = models.Candle{Timestamp: start.Add(time.Duration(i) * time.Minute), Open: prev, High: hi + 1, Low: lo - 1, Close: c, Volume: 100}
		prev = c
	}
	return out
}

// descending mirrors zigzag so every timeframe reads bearish.
func descending(n int) []models.Candle {
	out := zigzag(n)
	for i, c := range out {
		out[i].Open, out[i].Close = 3000-c.Open, 3000-c.Close
		out[i].High, out[i].Low = 3000-c.Low, 3000-c.High
	}
	return out
}

// bearTrapSession trades above support z, sweeps its low on light volume
// with a long lower wick, then reclaims it on heavy volume.
func bearTrapSession(z models.Zone) []models.Candle {
	start := ist(2026, 10, 14, 9, 15)
	lvl := z.Level
	brkLow := z.Low - z.Level*0.1/100/2
	bars := make([]models.Candle, 0, 30)
	for range 25 {
		bars = append(bars, models.Candle{Open: lvl + 3, High: lvl + 4, Low: lvl + 2, Close: lvl + 3, Volume: 1000})
	}
	bars = append(bars,
		models.Candle{Open: lvl + 3, High: lvl + 3.5, Low: brkLow, Close: lvl + 2, Volume: 500},
		models.Candle{Open: lvl + 2, High: lvl + 26, Low: lvl + 1, Close: lvl + 25, Volume: 2000},
	)
	for range 3 {
		bars = append(bars, models.Candle{Open: lvl + 25, High: lvl + 26, Low: lvl + 23, Close: lvl + 25, Volume: 1000})
	}
	for i := range bars {
		bars[i].Timestamp = start.Add(time.Duration(i) * time.Minute)
	}
	return bars
}

// compounding daily closes, rising 1% a session.
func dailyRise(n int) []models.Candle {
	start := ist(2026, 5, 1, 9, 15)
	out := make([]models.Candle, n)
	prev := 1000.0
	for i := range out {
		c := prev * 1.01
		out[i] = models.Candle{
			Timestamp: start.AddDate(0, 0, i),
			Open:      prev, High: c * 1.005, Low: prev * 0.995, Close: c,
			Volume: 1_000_000,
		}
		prev = c
	}
	return out
}

func flat(n int, price float64) []models.Candle {
	start := ist(2026, 10, 14, 9, 15)
	out := make([]models.Candle, n)
	for i := range out {
		out[i] = models.Candle{Timestamp: start.Add(time.Duration(i) * time.Minute), Open: price, High: price, Low: price, Close: price, Volume: 100}
	}
	return out
}

func chain(spot float64, expiries ...time.Time) []models.OptionQuote {
	var out []models.OptionQuote
	for _, exp := range expiries {
		for k := 24800.0; k <= 25200; k += 50 {
			ce := math.Max(spot-k, 0) + 100
			pe := math.Max(k-spot, 0) + 90
			out = append(out,
				models.OptionQuote{Strike: k, OptionType: models.OptionCall, LTP: ce, Bid: ce - 0.5, Ask: ce + 0.5, Volume: 20_000, OI: 200_000, IV: 12, ExpiryDate: exp},
				models.OptionQuote{Strike: k, OptionType: models.OptionPut, LTP: pe, Bid: pe - 0.5, Ask: pe + 0.5, Volume: 20_000, OI: 200_000, IV: 12, ExpiryDate: exp},
			)
		}
	}
	return out
}

func newMarket() *fakeMarket {
	up := zigzag(60)
	return &fakeMarket{
		candles: map[string][]models.Candle{
			"NIFTY/5m": up, "NIFTY/15m": up, "NIFTY/1h": up, "NIFTY/4h": up,
			"AAA/1d": dailyRise(80), "BBB/1d": dailyRise(80),
		},
		quote:     &models.Quote{Symbol: "NIFTY", LTP: 25010, Timestamp: scanTime},
		chain:     chain(25010, weekly, ist(2026, 10, 27, 0, 0)),
		members:   []models.Constituent{{Symbol: "AAA", Weight: 0.5}, {Symbol: "BBB", Weight: 0.5}},
		vix:       14,
		sentiment: &models.Sentiment{Direction: models.DirectionNeutral, Score: 0, Articles: 3},
	}
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Provider.RatePerSecond = 0
	cfg.Engine.AMDTimeframe = "1m"
	return cfg
}

func newTestEngine(f *fakeMarket) (*Engine, *metrics.Metrics) {
	m := metrics.New(prometheus.NewRegistry(), "test")
	e := New(testConfig(), f, zerolog.Nop(), m, func() time.Time { return scanTime })
	return e, m
}

// ── Scan ──

func TestScanBuyCall(t *testing.T) {
	e, m := newTestEngine(newMarket())
	sig, err := e.Scan(context.Background(), ScanRequest{Index: "nifty 50"})
	if err != nil {
		t.Fatalf("Scan error: %v", err)
	}
	if sig.Index != "NIFTY" || sig.Action != models.ActionBuyCall || sig.OptionType != models.OptionCall {
		t.Fatalf("signal = %s %s %s, reasoning %v", sig.Index, sig.Action, sig.OptionType, sig.Reasoning)
	}
	if sig.Expiry != "2026-10-21" {
		t.Errorf("Expiry = %q, want nearest weekly", sig.Expiry)
	}
	if sig.MTFBias.OverallBias != models.BiasBullish || sig.MTFBias.AlignmentStrength != 100 {
		t.Errorf("MTFBias = %+v", sig.MTFBias)
	}
	if sig.EntryGrade == nil || sig.EntryGrade.IVReference != 14 {
		t.Errorf("grade should use the volatility index as reference: %+v", sig.EntryGrade)
	}
	if sig.IndexProbability.StocksScanned != 2 || len(sig.IndexProbability.Signals) != 0 {
		t.Errorf("IndexProbability = %+v", sig.IndexProbability)
	}
	if sig.Sentiment == nil || sig.Sentiment.Articles != 3 {
		t.Errorf("Sentiment = %+v", sig.Sentiment)
	}
	if len(sig.Candidates) == 0 || len(sig.Candidates) > 5 {
		t.Errorf("Candidates = %d", len(sig.Candidates))
	}
	if !hasReason(sig, "session candles unavailable") || hasReason(sig, "IV reference stale") {
		t.Errorf("reasoning = %v", sig.Reasoning)
	}

	if got := testutil.ToFloat64(m.SignalsTotal.WithLabelValues("NIFTY", "BUY_CALL")); got != 1 {
		t.Errorf("signals_total{BUY_CALL} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ConstituentsScanned.WithLabelValues("NIFTY")); got != 1 {
		t.Errorf("constituents_scanned = %v, want 1", got)
	}
}

func TestScanManipulationOverride(t *testing.T) {
	f := newMarket()
	down := descending(60)
	for _, tf := range []string{"5m", "15m", "1h", "4h"} {
		f.candles["NIFTY/"+tf] = down
	}
	e, m := newTestEngine(f)

	res, err := e.mtf.Compose(context.Background(), f, "NIFTY", scanTime)
	if err != nil {
		t.Fatalf("mtf Compose error: %v", err)
	}
	if res.Bias.OverallBias != models.BiasBearish {
		t.Fatalf("fixture bias = %s, want BEARISH", res.Bias.OverallBias)
	}
	var zone *models.Zone
	for _, z := range res.Zones {
		if z.Kind == models.ZoneSupport {
			zone = &z
			break
		}
	}
	if zone == nil {
		t.Fatalf("no support zone in %+v", res.Zones)
	}
	f.candles["NIFTY/1m"] = bearTrapSession(*zone)

	sig, err := e.Scan(context.Background(), ScanRequest{Index: "NIFTY"})
	if err != nil {
		t.Fatalf("Scan error: %v", err)
	}
	if sig.MTFBias.OverallBias != models.BiasBearish {
		t.Errorf("MTFBias = %+v", sig.MTFBias)
	}
	if sig.Action != models.ActionBuyCall || sig.OptionType != models.OptionCall {
		t.Fatalf("signal = %s %s, reasoning %v", sig.Action, sig.OptionType, sig.Reasoning)
	}
	ev := sig.ManipulationOverride
	if ev == nil || ev.Type != models.BearTrap || ev.Confidence < 80 {
		t.Fatalf("ManipulationOverride = %+v, want bear trap at 80+", ev)
	}
	if ev.ZoneLevel != zone.Level {
		t.Errorf("ZoneLevel = %.2f, want %.2f", ev.ZoneLevel, zone.Level)
	}
	if !hasReason(sig, "overrides MTF bias") || hasReason(sig, "session candles unavailable") {
		t.Errorf("reasoning = %v", sig.Reasoning)
	}
	if got := testutil.ToFloat64(m.Overrides); got != 1 {
		t.Errorf("overrides = %v, want 1", got)
	}
}

func TestScanIdempotent(t *testing.T) {
	e, _ := newTestEngine(newMarket())
	var out [2][]byte
	for i := range out {
		sig, err := e.Scan(context.Background(), ScanRequest{Index: "NIFTY"})
		if err != nil {
			t.Fatalf("Scan %d error: %v", i, err)
		}
		if out[i], err = json.Marshal(sig); err != nil {
			t.Fatal(err)
		}
	}
	if !bytes.Equal(out[0], out[1]) {
		t.Errorf("scans differ:\n%s\n%s", out[0], out[1])
	}
}

func TestScanExpirySelector(t *testing.T) {
	e, _ := newTestEngine(newMarket())
	sig, err := e.Scan(context.Background(), ScanRequest{Index: "NIFTY", Expiry: "next_weekly"})
	if err != nil {
		t.Fatalf("Scan error: %v", err)
	}
	if sig.Expiry != "2026-10-27" {
		t.Errorf("Expiry = %q, want 2026-10-27", sig.Expiry)
	}
}

func TestScanPartialConstituents(t *testing.T) {
	f := newMarket()
	f.members = append(f.members, models.Constituent{Symbol: "CCC", Weight: 0.2})
	e, m := newTestEngine(f)
	sig, err := e.Scan(context.Background(), ScanRequest{Index: "NIFTY"})
	if err != nil {
		t.Fatalf("Scan error: %v", err)
	}
	if !hasReason(sig, "scanned 2/3 constituents") {
		t.Errorf("reasoning = %v", sig.Reasoning)
	}
	if got := testutil.ToFloat64(m.ConstituentsScanned.WithLabelValues("NIFTY")); math.Abs(got-2.0/3) > 1e-9 {
		t.Errorf("coverage = %v", got)
	}
}

func TestScanConstituentsUnavailableIsNeutral(t *testing.T) {
	f := newMarket()
	f.members = []models.Constituent{{Symbol: "ZZZ", Weight: 1}}
	e, m := newTestEngine(f)
	sig, err := e.Scan(context.Background(), ScanRequest{Index: "NIFTY"})
	if err != nil {
		t.Fatalf("Scan error: %v", err)
	}
	if sig.Action != models.ActionBuyCall || !hasReason(sig, "constituent probability unavailable") {
		t.Errorf("Action = %s, reasoning = %v", sig.Action, sig.Reasoning)
	}
	ip := sig.IndexProbability
	if ip.ExpectedDirection != models.DirectionNeutral {
		t.Errorf("ExpectedDirection = %q, want NEUTRAL", ip.ExpectedDirection)
	}
	if sum := ip.ProbabilityUp + ip.ProbabilityDown + ip.ProbabilityNeutral; math.Abs(sum-1) > 1e-6 {
		t.Errorf("probabilities sum to %v, want 1", sum)
	}
	if ip.StocksScanned != 0 || ip.TotalStocks != 1 {
		t.Errorf("coverage = %d/%d, want 0/1", ip.StocksScanned, ip.TotalStocks)
	}
	if got := testutil.ToFloat64(m.ConstituentsScanned.WithLabelValues("NIFTY")); got != 0 {
		t.Errorf("constituents_scanned = %v, want 0", got)
	}
}

func TestScanIVReferenceDefault(t *testing.T) {
	f := newMarket()
	f.vixErr = datasource.ErrNotSupported
	e, _ := newTestEngine(f)
	sig, err := e.Scan(context.Background(), ScanRequest{Index: "NIFTY"})
	if err != nil {
		t.Fatalf("Scan error: %v", err)
	}
	if !hasReason(sig, "IV reference stale/default (14.0%)") {
		t.Errorf("reasoning = %v", sig.Reasoning)
	}
}

func TestScanNoLiquidOptions(t *testing.T) {
	e, _ := newTestEngine(newMarket())
	minVol := int64(1_000_000)
	sig, err := e.Scan(context.Background(), ScanRequest{Index: "NIFTY", Filters: ScanFilters{MinVolume: &minVol}})
	if err != nil {
		t.Fatalf("Scan error: %v", err)
	}
	if sig.Action != models.ActionAvoid || !hasReason(sig, "no liquid options") {
		t.Errorf("Action = %s, reasoning = %v", sig.Action, sig.Reasoning)
	}
}

func TestScanChainUnavailableIsAvoid(t *testing.T) {
	f := newMarket()
	f.chainErr = datasource.ErrDataUnavailable
	e, _ := newTestEngine(f)
	sig, err := e.Scan(context.Background(), ScanRequest{Index: "NIFTY"})
	if err != nil {
		t.Fatalf("Scan error: %v", err)
	}
	if sig.Action != models.ActionAvoid || !hasReason(sig, "option chain unavailable") {
		t.Errorf("Action = %s, reasoning = %v", sig.Action, sig.Reasoning)
	}
}

func TestScanWithoutStructureDegrades(t *testing.T) {
	f := newMarket()
	for _, tf := range []string{"5m", "15m", "1h", "4h"} {
		delete(f.candles, "NIFTY/"+tf)
	}
	e, _ := newTestEngine(f)
	sig, err := e.Scan(context.Background(), ScanRequest{Index: "NIFTY"})
	if err != nil {
		t.Fatalf("Scan error: %v", err)
	}
	if sig.MTFBias.OverallBias != models.BiasRanging || len(sig.MTFBias.Failed) != 4 {
		t.Errorf("MTFBias = %+v", sig.MTFBias)
	}
	if !hasReason(sig, "multi-timeframe structure unavailable") {
		t.Errorf("reasoning = %v", sig.Reasoning)
	}
}

func TestScanSpotFallsBackToSessionClose(t *testing.T) {
	f := newMarket()
	f.quoteErr = datasource.ErrDataUnavailable
	f.candles["NIFTY/1m"] = flat(30, 25000)
	e, _ := newTestEngine(f)
	sig, err := e.Scan(context.Background(), ScanRequest{Index: "NIFTY"})
	if err != nil {
		t.Fatalf("Scan error: %v", err)
	}
	if sig.SpotPrice != 25000 || !hasReason(sig, "live quote unavailable") {
		t.Errorf("spot = %.2f, reasoning = %v", sig.SpotPrice, sig.Reasoning)
	}
}

// ── Failures ──

func TestScanFailedWhenStructureAndConstituentsFail(t *testing.T) {
	f := newMarket()
	f.candles = map[string][]models.Candle{}
	e, m := newTestEngine(f)
	_, err := e.Scan(context.Background(), ScanRequest{Index: "NIFTY"})
	if !errors.Is(err, datasource.ErrScanFailed) {
		t.Fatalf("expected ErrScanFailed, got %v", err)
	}
	if !errors.Is(err, datasource.ErrDataUnavailable) {
		t.Error("cause should be kept in the chain")
	}
	if got := testutil.ToFloat64(m.ScanFailures); got != 1 {
		t.Errorf("scan_failures = %v, want 1", got)
	}
}

func TestScanFailedWithoutSpot(t *testing.T) {
	f := newMarket()
	f.quoteErr = datasource.ErrDataUnavailable
	e, _ := newTestEngine(f)
	if _, err := e.Scan(context.Background(), ScanRequest{Index: "NIFTY"}); !errors.Is(err, datasource.ErrScanFailed) {
		t.Errorf("expected ErrScanFailed, got %v", err)
	}
}

func TestScanCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e, _ := newTestEngine(newMarket())
	_, err := e.Scan(ctx, ScanRequest{Index: "NIFTY"})
	if !errors.Is(err, datasource.ErrScanFailed) || !errors.Is(err, context.Canceled) {
		t.Errorf("expected cancelled scan failure, got %v", err)
	}
}

func TestScanUnsupportedIndex(t *testing.T) {
	e, m := newTestEngine(newMarket())
	_, err := e.Scan(context.Background(), ScanRequest{Index: "SENSEX"})
	if err == nil || errors.Is(err, datasource.ErrScanFailed) {
		t.Errorf("expected a request error, got %v", err)
	}
	if got := testutil.ToFloat64(m.ScanFailures); got != 0 {
		t.Errorf("request errors should not count as scan failures, got %v", got)
	}
}

func TestEngineLadder(t *testing.T) {
	e, _ := newTestEngine(newMarket())
	got := e.Ladder()
	if len(got) != 4 || got[0] != models.Timeframe5Min {
		t.Errorf("Ladder = %v", got)
	}
}
