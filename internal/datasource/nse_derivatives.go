package datasource

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"sort"
	"time"

	"github.com/seenimoa/indexsignal/internal/infra"
	"github.com/seenimoa/indexsignal/pkg/models"
	"github.com/seenimoa/indexsignal/pkg/utils"
)

// nseExpiryLayout is the date format NSE uses in option chain payloads.
const nseExpiryLayout = "02-Jan-2006"

// --- NSE derivatives response types ---

type nseOptionChainResponse struct {
	Records struct {
		ExpiryDates     []string     `json:"expiryDates"`
		Data            []nseOCEntry `json:"data"`
		Timestamp       string       `json:"timestamp"`
		UnderlyingValue float64      `json:"underlyingValue"`
	} `json:"records"`
}

type nseOCEntry struct {
	StrikePrice float64   `json:"strikePrice"`
	ExpiryDate  string    `json:"expiryDate"`
	CE          *nseOCLeg `json:"CE"`
	PE          *nseOCLeg `json:"PE"`
}

type nseOCLeg struct {
	OpenInterest      int64   `json:"openInterest"`
	TotalTradedVolume int64   `json:"totalTradedVolume"`
	ImpliedVolatility float64 `json:"impliedVolatility"`
	LastPrice         float64 `json:"lastPrice"`
	BidPrice          float64 `json:"bidprice"`
	AskPrice          float64 `json:"askPrice"`
	UnderlyingValue   float64 `json:"underlyingValue"`
}

// GetOptionChain returns the strikeCount strikes nearest the underlying for
// every listed expiry, ordered by expiry, strike and type (CE first). NSE
// lot open interest is reported in contracts and passed through unchanged.
func (n *NSE) GetOptionChain(ctx context.Context, symbol string, strikeCount int) ([]models.OptionQuote, error) {
	info, ok := utils.NormalizeIndex(symbol)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not an F&O index", ErrNotSupported, symbol)
	}

	cacheKey := fmt.Sprintf("nse:chain:%s:%d", info.Symbol, strikeCount)
	var cached []models.OptionQuote
	if err := infra.GetJSON(ctx, n.store, cacheKey, &cached); err == nil && len(cached) > 0 {
		return cached, nil
	}

	data, err := n.nseGet(ctx, "/api/option-chain-indices?symbol="+url.QueryEscape(info.Symbol))
	if err != nil {
		return nil, fmt.Errorf("NSE option chain %s: %w", info.Symbol, err)
	}
	var resp nseOptionChainResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse NSE option chain: %w", err)
	}

	quotes, err := parseOptionChain(resp, strikeCount)
	if err != nil {
		return nil, fmt.Errorf("NSE option chain %s: %w", info.Symbol, err)
	}
	_ = infra.SetJSON(ctx, n.store, cacheKey, quotes, n.ttl.QuoteTTL)
	return quotes, nil
}

func parseOptionChain(resp nseOptionChainResponse, strikeCount int) ([]models.OptionQuote, error) {
	spot := resp.Records.UnderlyingValue
	byExpiry := make(map[time.Time][]nseOCEntry)
	for _, e := range resp.Records.Data {
		expiry, err := time.ParseInLocation(nseExpiryLayout, e.ExpiryDate, utils.IST)
		if err != nil {
			continue
		}
		if spot <= 0 {
			spot = legUnderlying(e)
		}
		byExpiry[expiry] = append(byExpiry[expiry], e)
	}
	if len(byExpiry) == 0 || spot <= 0 {
		return nil, ErrDataUnavailable
	}

	expiries := make([]time.Time, 0, len(byExpiry))
	for exp := range byExpiry {
		expiries = append(expiries, exp)
	}
	sort.Slice(expiries, func(i, j int) bool { return expiries[i].Before(expiries[j]) })

	var out []models.OptionQuote
	for _, exp := range expiries {
		entries := nearestStrikes(byExpiry[exp], spot, strikeCount)
		for _, e := range entries {
			if e.CE != nil {
				out = append(out, legQuote(e.StrikePrice, models.OptionCall, exp, e.CE))
			}
			if e.PE != nil {
				out = append(out, legQuote(e.StrikePrice, models.OptionPut, exp, e.PE))
			}
		}
	}
	if len(out) == 0 {
		return nil, ErrDataUnavailable
	}
	return out, nil
}

// nearestStrikes keeps the count entries closest to spot, returned in strike
// order. Ties at equal distance keep the lower strike.
func nearestStrikes(entries []nseOCEntry, spot float64, count int) []nseOCEntry {
	sorted := append([]nseOCEntry(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool {
		di, dj := math.Abs(sorted[i].StrikePrice-spot), math.Abs(sorted[j].StrikePrice-spot)
		if di != dj {
			return di < dj
		}
		return sorted[i].StrikePrice < sorted[j].StrikePrice
	})
	if count > 0 && len(sorted) > count {
		sorted = sorted[:count]
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].StrikePrice < sorted[j].StrikePrice })
	return sorted
}

func legQuote(strike float64, typ models.OptionType, expiry time.Time, leg *nseOCLeg) models.OptionQuote {
	return models.OptionQuote{
		Strike:     strike,
		OptionType: typ,
		LTP:        leg.LastPrice,
		Bid:        leg.BidPrice,
		Ask:        leg.AskPrice,
		OI:         leg.OpenInterest,
		Volume:     leg.TotalTradedVolume,
		IV:         leg.ImpliedVolatility,
		ExpiryDate: expiry,
	}
}

func legUnderlying(e nseOCEntry) float64 {
	switch {
	case e.CE != nil && e.CE.UnderlyingValue > 0:
		return e.CE.UnderlyingValue
	case e.PE != nil:
		return e.PE.UnderlyingValue
	default:
		return 0
	}
}
