package datasource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/seenimoa/indexsignal/internal/config"
	"github.com/seenimoa/indexsignal/internal/infra"
	"github.com/seenimoa/indexsignal/pkg/models"
	"github.com/seenimoa/indexsignal/pkg/utils"
)

const (
	nseCookieTTL = 5 * time.Minute
	vixSymbol    = "INDIA VIX"
)

// NSE fetches quotes, index membership, option chains and India VIX from
// the NSE India JSON API.
type NSE struct {
	baseURL string
	client  *http.Client
	store   infra.Store
	ttl     config.CacheConfig
	now     func() time.Time

	mu           sync.Mutex
	cookieExpiry time.Time
}

// NewNSE creates an NSE source. Responses are cached in store using the TTLs
// in cache.
func NewNSE(baseURL string, timeout time.Duration, store infra.Store, cache config.CacheConfig) *NSE {
	jar, _ := cookiejar.New(nil)
	if store == nil {
		store = infra.NopStore{}
	}
	return &NSE{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout, Jar: jar},
		store:   store,
		ttl:     cache,
		now:     time.Now,
	}
}

// Name returns the data source name.
func (n *NSE) Name() string { return "NSE India" }

// --- NSE JSON response types ---

type nseAllIndicesResponse struct {
	Data []nseIndexRow `json:"data"`
}

type nseIndexRow struct {
	Index         string  `json:"index"`
	IndexSymbol   string  `json:"indexSymbol"`
	Last          float64 `json:"last"`
	Open          float64 `json:"open"`
	High          float64 `json:"high"`
	Low           float64 `json:"low"`
	PreviousClose float64 `json:"previousClose"`
}

type nseQuoteResponse struct {
	Info struct {
		Symbol string `json:"symbol"`
	} `json:"info"`
	PriceInfo struct {
		LastPrice     float64 `json:"lastPrice"`
		PreviousClose float64 `json:"previousClose"`
	} `json:"priceInfo"`
}

type nseStockIndexResponse struct {
	Data []struct {
		Priority int     `json:"priority"`
		Symbol   string  `json:"symbol"`
		FFMC     float64 `json:"ffmc"`
	} `json:"data"`
}

// --- Public methods ---

// GetQuote returns a live quote. Indices are read from allIndices and
// stocks from quote-equity.
func (n *NSE) GetQuote(ctx context.Context, symbol string) (*models.Quote, error) {
	if info, ok := utils.NormalizeIndex(symbol); ok {
		return n.indexQuote(ctx, info.Symbol, info.DisplayName)
	}
	sym := utils.NormalizeTicker(symbol)

	cacheKey := "nse:quote:" + sym
	var cached models.Quote
	if err := infra.GetJSON(ctx, n.store, cacheKey, &cached); err == nil {
		return &cached, nil
	}

	data, err := n.nseGet(ctx, "/api/quote-equity?symbol="+url.QueryEscape(sym))
	if err != nil {
		return nil, fmt.Errorf("NSE quote %s: %w", sym, err)
	}
	var resp nseQuoteResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse NSE quote: %w", err)
	}
	if resp.PriceInfo.LastPrice <= 0 {
		return nil, fmt.Errorf("%w: NSE quote %s", ErrDataUnavailable, sym)
	}

	quote := &models.Quote{
		Symbol:    sym,
		LTP:       resp.PriceInfo.LastPrice,
		PrevClose: resp.PriceInfo.PreviousClose,
		Timestamp: n.now().In(utils.IST),
	}
	_ = infra.SetJSON(ctx, n.store, cacheKey, quote, n.ttl.QuoteTTL)
	return quote, nil
}

// GetConstituents returns index members weighted by free-float market cap.
func (n *NSE) GetConstituents(ctx context.Context, index string) ([]models.Constituent, error) {
	info, ok := utils.NormalizeIndex(index)
	if !ok {
		return nil, fmt.Errorf("%w: unknown index %q", ErrDataUnavailable, index)
	}

	cacheKey := "nse:constituents:" + info.Symbol
	var cached []models.Constituent
	if err := infra.GetJSON(ctx, n.store, cacheKey, &cached); err == nil && len(cached) > 0 {
		return cached, nil
	}

	data, err := n.nseGet(ctx, "/api/equity-stockIndices?index="+url.QueryEscape(info.DisplayName))
	if err != nil {
		return nil, fmt.Errorf("NSE constituents %s: %w", info.Symbol, err)
	}
	var resp nseStockIndexResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse NSE constituents: %w", err)
	}

	var members []models.Constituent
	for _, row := range resp.Data {
		// The first row is the index itself.
		if row.Priority == 1 || row.Symbol == info.DisplayName || row.FFMC <= 0 {
			continue
		}
		members = append(members, models.Constituent{Symbol: row.Symbol, Weight: row.FFMC})
	}
	if len(members) == 0 {
		return nil, fmt.Errorf("%w: NSE constituents %s", ErrDataUnavailable, info.Symbol)
	}
	members = normalizeWeights(members)

	_ = infra.SetJSON(ctx, n.store, cacheKey, members, n.ttl.ConstituentTTL)
	return members, nil
}

// GetVolatilityIndex returns India VIX. It only serves as a reference for
// NIFTY; other indices return ErrNotSupported.
func (n *NSE) GetVolatilityIndex(ctx context.Context, index string) (float64, error) {
	info, ok := utils.NormalizeIndex(index)
	if !ok || info.Symbol != "NIFTY" {
		return 0, fmt.Errorf("%w: volatility index for %s", ErrNotSupported, index)
	}
	rows, err := n.allIndices(ctx)
	if err != nil {
		return 0, err
	}
	row, ok := findIndexRow(rows, vixSymbol)
	if !ok || row.Last <= 0 {
		return 0, fmt.Errorf("%w: %s", ErrDataUnavailable, vixSymbol)
	}
	return row.Last, nil
}

// --- Internal helpers ---

func (n *NSE) indexQuote(ctx context.Context, symbol, displayName string) (*models.Quote, error) {
	rows, err := n.allIndices(ctx)
	if err != nil {
		return nil, err
	}
	row, ok := findIndexRow(rows, displayName)
	if !ok || row.Last <= 0 {
		return nil, fmt.Errorf("%w: NSE index %s", ErrDataUnavailable, displayName)
	}
	return &models.Quote{
		Symbol:    symbol,
		LTP:       row.Last,
		PrevClose: row.PreviousClose,
		Timestamp: n.now().In(utils.IST),
	}, nil
}

func (n *NSE) allIndices(ctx context.Context) ([]nseIndexRow, error) {
	const cacheKey = "nse:allIndices"
	var cached []nseIndexRow
	if err := infra.GetJSON(ctx, n.store, cacheKey, &cached); err == nil && len(cached) > 0 {
		return cached, nil
	}

	data, err := n.nseGet(ctx, "/api/allIndices")
	if err != nil {
		return nil, fmt.Errorf("NSE index data: %w", err)
	}
	var resp nseAllIndicesResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse NSE index: %w", err)
	}
	_ = infra.SetJSON(ctx, n.store, cacheKey, resp.Data, n.ttl.QuoteTTL)
	return resp.Data, nil
}

func findIndexRow(rows []nseIndexRow, name string) (nseIndexRow, bool) {
	for _, r := range rows {
		if strings.EqualFold(r.Index, name) || strings.EqualFold(r.IndexSymbol, name) {
			return r, true
		}
	}
	return nseIndexRow{}, false
}

// ensureCookies visits the NSE homepage to get session cookies.
// NSE requires valid cookies for API access.
func (n *NSE) ensureCookies(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.now().Before(n.cookieExpiry) {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.baseURL+"/", nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", DefaultUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch NSE homepage for cookies: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body) //nolint:errcheck // drain body

	n.cookieExpiry = n.now().Add(nseCookieTTL)
	return nil
}

// nseGet performs a GET request to the NSE API with proper headers. A 401 or
// 403 drops the session so the next call fetches fresh cookies.
func (n *NSE) nseGet(ctx context.Context, path string) ([]byte, error) {
	if err := n.ensureCookies(ctx); err != nil {
		return nil, fmt.Errorf("NSE cookie refresh: %w", err)
	}
	data, err := doGet(ctx, n.client, n.baseURL+path, map[string]string{
		"Accept":           "application/json",
		"Referer":          n.baseURL + "/",
		"X-Requested-With": "XMLHttpRequest",
	})
	var he *HTTPError
	if errors.As(err, &he) && (he.StatusCode == http.StatusUnauthorized || he.StatusCode == http.StatusForbidden) {
		n.mu.Lock()
		n.cookieExpiry = time.Time{}
		n.mu.Unlock()
	}
	return data, err
}

// normalizeWeights scales weights to sum to 1 and orders members by weight.
func normalizeWeights(members []models.Constituent) []models.Constituent {
	var total float64
	for _, m := range members {
		total += m.Weight
	}
	out := make([]models.Constituent, len(members))
	for i, m := range members {
		out[i] = models.Constituent{Symbol: m.Symbol, Weight: m.Weight / total}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Weight != out[j].Weight {
			return out[i].Weight > out[j].Weight
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out
}
