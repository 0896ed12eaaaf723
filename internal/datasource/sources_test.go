package datasource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/seenimoa/indexsignal/internal/config"
	"github.com/seenimoa/indexsignal/internal/infra"
	"github.com/seenimoa/indexsignal/pkg/models"
	"github.com/seenimoa/indexsignal/pkg/utils"
)

// ── Fixtures ──

const allIndicesJSON = `{"data":[
	{"index":"NIFTY 50","indexSymbol":"NIFTY 50","last":25010.5,"previousClose":24900},
	{"index":"NIFTY BANK","indexSymbol":"NIFTY BANK","last":56120,"previousClose":56000},
	{"index":"INDIA VIX","indexSymbol":"INDIA VIX","last":13.25,"previousClose":13.8}
]}`

const stockIndexJSON = `{"data":[
	{"priority":1,"symbol":"NIFTY 50","ffmc":0},
	{"priority":0,"symbol":"HDFCBANK","ffmc":300},
	{"priority":0,"symbol":"RELIANCE","ffmc":100},
	{"priority":0,"symbol":"ITC","ffmc":100}
]}`

const optionChainJSON = `{"records":{"underlyingValue":25010,"expiryDates":["20-Oct-2026","27-Oct-2026"],"data":[
	{"strikePrice":24900,"expiryDate":"20-Oct-2026","CE":{"lastPrice":160,"openInterest":1000},"PE":{"lastPrice":40,"openInterest":2000}},
	{"strikePrice":24950,"expiryDate":"20-Oct-2026","CE":{"lastPrice":130,"bidprice":129,"askPrice":131,"openInterest":5000,"totalTradedVolume":9000,"impliedVolatility":12.5},"PE":{"lastPrice":60}},
	{"strikePrice":25000,"expiryDate":"20-Oct-2026","CE":{"lastPrice":100},"PE":{"lastPrice":85}},
	{"strikePrice":25050,"expiryDate":"20-Oct-2026","CE":{"lastPrice":75},"PE":{"lastPrice":110}},
	{"strikePrice":25100,"expiryDate":"20-Oct-2026","CE":{"lastPrice":55},"PE":{"lastPrice":140}},
	{"strikePrice":25000,"expiryDate":"27-Oct-2026","CE":{"lastPrice":180}},
	{"strikePrice":25000,"expiryDate":"garbage","CE":{"lastPrice":1}}
]}}`

type nseFixture struct {
	mu   sync.Mutex
	hits map[string]int
	fail map[string]int
}

func (f *nseFixture) count(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[path]
}

func (f *nseFixture) setFail(path string, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[path] = status
}

func newNSEServer(t *testing.T) (*httptest.Server, *nseFixture) {
	t.Helper()
	f := &nseFixture{hits: map[string]int{}, fail: map[string]int{}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.hits[r.URL.Path]++
		status := f.fail[r.URL.Path]
		f.mu.Unlock()
		if status != 0 {
			http.Error(w, "blocked", status)
			return
		}

		switch r.URL.Path {
		case "/":
			http.SetCookie(w, &http.Cookie{Name: "nsit", Value: "session"})
			fmt.Fprint(w, "<html></html>")
		case "/api/allIndices":
			fmt.Fprint(w, allIndicesJSON)
		case "/api/equity-stockIndices":
			if got := r.URL.Query().Get("index"); got != "NIFTY 50" {
				t.Errorf("index query = %q", got)
			}
			fmt.Fprint(w, stockIndexJSON)
		case "/api/option-chain-indices":
			if r.Header.Get("X-Requested-With") != "XMLHttpRequest" {
				t.Error("missing X-Requested-With header")
			}
			fmt.Fprint(w, optionChainJSON)
		case "/api/quote-equity":
			fmt.Fprintf(w, `{"info":{"symbol":%q},"priceInfo":{"lastPrice":2950.5,"previousClose":2900}}`, r.URL.Query().Get("symbol"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, f
}

func testCacheConfig() config.CacheConfig {
	cfg := config.Default().Cache
	cfg.QuoteTTL = time.Minute
	return cfg
}

func newTestNSE(t *testing.T) (*NSE, *nseFixture) {
	srv, f := newNSEServer(t)
	return NewNSE(srv.URL, 5*time.Second, infra.NewMemoryStore(100), testCacheConfig()), f
}

// ── NSE ──

func TestNSEIndexQuoteAndVIX(t *testing.T) {
	nse, f := newTestNSE(t)
	ctx := context.Background()

	q, err := nse.GetQuote(ctx, "nifty 50")
	if err != nil {
		t.Fatalf("GetQuote error: %v", err)
	}
	if q.Symbol != "NIFTY" || q.LTP != 25010.5 || q.PrevClose != 24900 {
		t.Errorf("quote = %+v", q)
	}
	if q.Timestamp.Location() != utils.IST {
		t.Errorf("quote timestamp not in IST: %v", q.Timestamp)
	}

	vix, err := nse.GetVolatilityIndex(ctx, "NIFTY")
	if err != nil || vix != 13.25 {
		t.Fatalf("GetVolatilityIndex = %v, %v", vix, err)
	}
	if _, err := nse.GetVolatilityIndex(ctx, "BANKNIFTY"); !errors.Is(err, ErrNotSupported) {
		t.Errorf("BANKNIFTY VIX: expected ErrNotSupported, got %v", err)
	}

	if n := f.count("/api/allIndices"); n != 1 {
		t.Errorf("allIndices fetched %d times, want 1 (cached)", n)
	}
	if n := f.count("/"); n != 1 {
		t.Errorf("homepage fetched %d times, want 1", n)
	}
}

func TestNSEEquityQuote(t *testing.T) {
	nse, _ := newTestNSE(t)
	q, err := nse.GetQuote(context.Background(), "RIL")
	if err != nil {
		t.Fatalf("GetQuote error: %v", err)
	}
	if q.Symbol != "RELIANCE" || q.LTP != 2950.5 {
		t.Errorf("quote = %+v", q)
	}
}

func TestNSEForbiddenRefreshesCookies(t *testing.T) {
	nse, f := newTestNSE(t)
	ctx := context.Background()
	f.setFail("/api/quote-equity", http.StatusForbidden)

	_, err := nse.GetQuote(ctx, "INFY")
	var he *HTTPError
	if !errors.As(err, &he) || he.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %v", err)
	}
	f.setFail("/api/quote-equity", 0)
	if _, err := nse.GetQuote(ctx, "INFY"); err != nil {
		t.Fatalf("GetQuote after refresh: %v", err)
	}
	if n := f.count("/"); n != 2 {
		t.Errorf("homepage fetched %d times, want 2", n)
	}
}

func TestNSEConstituents(t *testing.T) {
	nse, _ := newTestNSE(t)
	members, err := nse.GetConstituents(context.Background(), "NIFTY")
	if err != nil {
		t.Fatalf("GetConstituents error: %v", err)
	}
	want := []models.Constituent{{Symbol: "HDFCBANK", Weight: 0.6}, {Symbol: "ITC", Weight: 0.2}, {Symbol: "RELIANCE", Weight: 0.2}}
	if len(members) != len(want) {
		t.Fatalf("members = %+v", members)
	}
	for i := range want {
		if members[i].Symbol != want[i].Symbol || math.Abs(members[i].Weight-want[i].Weight) > 1e-9 {
			t.Errorf("member %d = %+v, want %+v", i, members[i], want[i])
		}
	}
}

func TestNSEOptionChainKeepsNearestStrikes(t *testing.T) {
	nse, _ := newTestNSE(t)
	quotes, err := nse.GetOptionChain(context.Background(), "NIFTY", 3)
	if err != nil {
		t.Fatalf("GetOptionChain error: %v", err)
	}
	if len(quotes) != 7 {
		t.Fatalf("expected 7 quotes, got %d", len(quotes))
	}

	first := quotes[0]
	wantExpiry := time.Date(2026, 10, 20, 0, 0, 0, 0, utils.IST)
	if first.Strike != 24950 || first.OptionType != models.OptionCall || !first.ExpiryDate.Equal(wantExpiry) {
		t.Errorf("first quote = %+v", first)
	}
	if first.Bid != 129 || first.Ask != 131 || first.OI != 5000 || first.Volume != 9000 || first.IV != 12.5 {
		t.Errorf("leg fields not mapped: %+v", first)
	}
	var strikes []float64
	for _, q := range quotes[:6] {
		if q.OptionType == models.OptionCall {
			strikes = append(strikes, q.Strike)
		}
	}
	if fmt.Sprint(strikes) != "[24950 25000 25050]" {
		t.Errorf("weekly strikes = %v", strikes)
	}
	last := quotes[6]
	if !last.ExpiryDate.Equal(wantExpiry.AddDate(0, 0, 7)) || last.LTP != 180 {
		t.Errorf("last quote = %+v", last)
	}

	if _, err := nse.GetOptionChain(context.Background(), "RELIANCE", 3); !errors.Is(err, ErrNotSupported) {
		t.Errorf("stock chain: expected ErrNotSupported, got %v", err)
	}
}

// ── Yahoo ──

func chartJSON(t *testing.T, candles []models.Candle) string {
	t.Helper()
	var resp yfChartResponse
	r := yfChartResult{Meta: yfChartMeta{Symbol: "^NSEI", RegularMarketPrice: 25010, ChartPreviousClose: 24900, RegularMarketTime: candles[len(candles)-1].Timestamp.Unix()}}
	var q yfOHLCV
	for _, c := range candles {
		o, h, l, cl, v := c.Open, c.High, c.Low, c.Close, c.Volume
		r.Timestamp = append(r.Timestamp, c.Timestamp.Unix())
		q.Open, q.High, q.Low, q.Close = append(q.Open, &o), append(q.High, &h), append(q.Low, &l), append(q.Close, &cl)
		q.Volume = append(q.Volume, &v)
	}
	r.Indicators.Quote = []yfOHLCV{q}
	resp.Chart.Result = []yfChartResult{r}
	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal chart: %v", err)
	}
	return string(data)
}

func TestYFinanceFourHourResampledFromHourly(t *testing.T) {
	day := time.Date(2026, 10, 14, 9, 15, 0, 0, utils.IST)
	var hourly []models.Candle
	for i := 0; i < 7; i++ {
		p := 100 + float64(i)
		hourly = append(hourly, models.Candle{Timestamp: day.Add(time.Duration(i) * time.Hour), Open: p, High: p + 2, Low: p - 1, Close: p + 1, Volume: 10})
	}
	body := chartJSON(t, hourly)

	var mu sync.Mutex
	var gotInterval, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		if gotPath == "" {
			gotPath, gotInterval = r.URL.Path, r.URL.Query().Get("interval")
		}
		mu.Unlock()
		fmt.Fprint(w, body)
	}))
	defer srv.Close()

	y := NewYFinance(srv.URL, 5*time.Second)
	bars, err := y.GetCandles(context.Background(), "NIFTY", models.Timeframe4Hour, day.Add(-time.Hour), day.Add(8*time.Hour))
	if err != nil {
		t.Fatalf("GetCandles error: %v", err)
	}
	mu.Lock()
	if gotPath != "/v8/finance/chart/^NSEI" || gotInterval != "1h" {
		t.Errorf("requested %s interval=%s", gotPath, gotInterval)
	}
	mu.Unlock()
	if len(bars) != 2 || bars[0].Volume != 40 || bars[1].Volume != 30 || bars[0].Close != 104 {
		t.Errorf("bars = %+v", bars)
	}

	q, err := y.GetQuote(context.Background(), "NIFTY")
	if err != nil || q.LTP != 25010 || q.Symbol != "NIFTY" {
		t.Errorf("GetQuote = %+v, %v", q, err)
	}
}

func TestYFinanceChartError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found, symbol may be delisted"}}}`)
	}))
	defer srv.Close()

	y := NewYFinance(srv.URL, 5*time.Second)
	_, err := y.GetCandles(context.Background(), "XYZ", models.Timeframe1Day, time.Now().Add(-time.Hour), time.Now())
	if !errors.Is(err, ErrDataUnavailable) {
		t.Fatalf("expected ErrDataUnavailable, got %v", err)
	}
	if _, err := y.GetCandles(context.Background(), "XYZ", models.Timeframe("2h"), time.Now(), time.Now()); !errors.Is(err, ErrNotSupported) {
		t.Errorf("unknown timeframe: expected ErrNotSupported, got %v", err)
	}
}

func TestParseYFCandlesSkipsNullRows(t *testing.T) {
	o, h, l, c := 100.0, 105.0, 98.0, 103.0
	vol := int64(1000)
	result := yfChartResult{
		Timestamp: []int64{1760413500, 1760413800, 1760414100},
		Indicators: yfIndicators{Quote: []yfOHLCV{{
			Open:   []*float64{&o, nil, &o},
			High:   []*float64{&h, &h, &h},
			Low:    []*float64{&l, &l, &l},
			Close:  []*float64{&c, &c, &c},
			Volume: []*int64{&vol, &vol},
		}}},
	}
	candles := parseYFCandles(result)
	if len(candles) != 2 {
		t.Fatalf("expected 2 candles, got %d", len(candles))
	}
	if candles[0].Volume != 1000 || candles[1].Volume != 0 {
		t.Errorf("volumes = %d, %d", candles[0].Volume, candles[1].Volume)
	}
	if parseYFCandles(yfChartResult{}) != nil {
		t.Error("expected nil candles for empty result")
	}
}

func TestYfInterval(t *testing.T) {
	tests := []struct {
		tf   models.Timeframe
		want string
	}{
		{models.Timeframe1Min, "1m"},
		{models.Timeframe5Min, "5m"},
		{models.Timeframe15Min, "15m"},
		{models.Timeframe1Hour, "1h"},
		{models.Timeframe1Day, "1d"},
		{models.Timeframe1Week, "1wk"},
		{models.Timeframe1Mon, "1mo"},
	}
	for _, tt := range tests {
		if got := yfInterval(tt.tf); got != tt.want {
			t.Errorf("yfInterval(%q) = %q, want %q", tt.tf, got, tt.want)
		}
	}
	if fetchTimeframe(models.Timeframe3Min) != models.Timeframe1Min || fetchTimeframe(models.Timeframe4Hour) != models.Timeframe1Hour {
		t.Error("3m/4h should be built from 1m/1h")
	}
}

// ── News ──

const rssFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel><title>Markets</title>
<item>
  <title>Bank Nifty rally extends as lenders surge</title>
  <link>https://example.com/1</link>
  <description>&lt;p&gt;PSU &lt;b&gt;banks&lt;/b&gt; lead&lt;/p&gt;</description>
  <pubDate>Wed, 14 Oct 2026 04:30:00 GMT</pubDate>
</item>
<item>
  <title>IT stocks slump on weak guidance</title>
  <link>https://example.com/2</link>
  <pubDate>Wed, 14 Oct 2026 03:30:00 GMT</pubDate>
</item>
</channel></rss>`

func newTestNews(t *testing.T) *News {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rss" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, rssFeed)
	}))
	t.Cleanup(srv.Close)

	n := NewNews([]NewsSource{
		{Name: "Broken", RSSURL: srv.URL + "/missing"},
		{Name: "Markets", RSSURL: srv.URL + "/rss"},
	}, 5*time.Second, infra.NewMemoryStore(10), time.Minute)
	n.now = func() time.Time { return time.Date(2026, 10, 14, 5, 30, 0, 0, time.UTC) }
	return n
}

func TestNewsMarketFeed(t *testing.T) {
	n := newTestNews(t)
	articles, err := n.GetMarketNews(context.Background())
	if err != nil {
		t.Fatalf("GetMarketNews error: %v", err)
	}
	if len(articles) != 2 {
		t.Fatalf("expected 2 articles, got %d", len(articles))
	}
	if !strings.HasPrefix(articles[0].Title, "Bank Nifty") {
		t.Errorf("articles not newest first: %q", articles[0].Title)
	}
	if articles[0].Summary != "PSU banks lead" || articles[0].Source != "Markets" {
		t.Errorf("article = %+v", articles[0])
	}
}

func TestNewsSentimentByIndex(t *testing.T) {
	n := newTestNews(t)
	ctx := context.Background()

	bank, err := n.GetSentiment(ctx, "BANKNIFTY")
	if err != nil {
		t.Fatalf("GetSentiment error: %v", err)
	}
	if bank.Direction != models.DirectionBullish || bank.Articles != 1 {
		t.Errorf("BANKNIFTY sentiment = %+v", bank)
	}

	// One bullish and one bearish headline, the bullish one an hour fresher.
	nifty, err := n.GetSentiment(ctx, "NIFTY")
	if err != nil {
		t.Fatalf("GetSentiment error: %v", err)
	}
	if nifty.Direction != models.DirectionNeutral || nifty.Articles != 2 || nifty.Score <= 0 {
		t.Errorf("NIFTY sentiment = %+v", nifty)
	}
}

func TestNewsAllFeedsFailed(t *testing.T) {
	n := NewNews([]NewsSource{{Name: "Down", RSSURL: "http://127.0.0.1:1/rss"}}, time.Second, nil, time.Minute)
	if _, err := n.GetMarketNews(context.Background()); !errors.Is(err, ErrDataUnavailable) {
		t.Fatalf("expected ErrDataUnavailable, got %v", err)
	}
}

// ── Provider ──

func TestProviderFallsBackToStaticConstituents(t *testing.T) {
	nse, f := newTestNSE(t)
	f.setFail("/api/equity-stockIndices", http.StatusInternalServerError)
	p := NewProviderFromSources(nse, nil, nil, zerolog.Nop())

	members, err := p.GetConstituents(context.Background(), "NIFTY")
	if err != nil {
		t.Fatalf("GetConstituents error: %v", err)
	}
	if len(members) != 50 {
		t.Errorf("expected built-in 50 members, got %d", len(members))
	}
	if _, err := p.GetSentiment(context.Background(), "NIFTY"); !errors.Is(err, ErrNotSupported) {
		t.Errorf("disabled news: expected ErrNotSupported, got %v", err)
	}
}

func TestProviderQuoteFallsBackToYahoo(t *testing.T) {
	nse, f := newTestNSE(t)
	f.setFail("/api/quote-equity", http.StatusServiceUnavailable)

	day := time.Date(2026, 10, 14, 9, 15, 0, 0, utils.IST)
	body := chartJSON(t, []models.Candle{{Timestamp: day, Open: 1, High: 1, Low: 1, Close: 1}})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { fmt.Fprint(w, body) }))
	defer srv.Close()

	p := NewProviderFromSources(nse, NewYFinance(srv.URL, time.Second), nil, zerolog.Nop())
	q, err := p.GetQuote(context.Background(), "TCS")
	if err != nil {
		t.Fatalf("GetQuote error: %v", err)
	}
	if q.LTP != 25010 || q.Symbol != "TCS" {
		t.Errorf("fallback quote = %+v", q)
	}

	f.setFail("/api/quote-equity", http.StatusTooManyRequests)
	if _, err := p.GetQuote(context.Background(), "WIPRO"); !errors.Is(err, ErrRateLimited) {
		t.Errorf("rate limit should not fall back, got %v", err)
	}
}
