package datasource

import (
	"fmt"

	"github.com/seenimoa/indexsignal/pkg/models"
	"github.com/seenimoa/indexsignal/pkg/utils"
)

// Approximate free-float weights (percent) used when the NSE index
// membership endpoint is unreachable. They are normalized on use.
var staticWeights = map[string][]models.Constituent{
	"NIFTY": {
		{Symbol: "HDFCBANK", Weight: 13.1}, {Symbol: "ICICIBANK", Weight: 8.9},
		{Symbol: "RELIANCE", Weight: 8.6}, {Symbol: "INFY", Weight: 4.9},
		{Symbol: "BHARTIARTL", Weight: 4.7}, {Symbol: "LT", Weight: 3.9},
		{Symbol: "ITC", Weight: 3.4}, {Symbol: "TCS", Weight: 3.0},
		{Symbol: "SBIN", Weight: 3.0}, {Symbol: "AXISBANK", Weight: 3.0},
		{Symbol: "KOTAKBANK", Weight: 2.8}, {Symbol: "M&M", Weight: 2.6},
		{Symbol: "BAJFINANCE", Weight: 2.3}, {Symbol: "HINDUNILVR", Weight: 1.9},
		{Symbol: "SUNPHARMA", Weight: 1.6}, {Symbol: "MARUTI", Weight: 1.6},
		{Symbol: "HCLTECH", Weight: 1.5}, {Symbol: "NTPC", Weight: 1.4},
		{Symbol: "TITAN", Weight: 1.3}, {Symbol: "ULTRACEMCO", Weight: 1.2},
		{Symbol: "ETERNAL", Weight: 1.2}, {Symbol: "POWERGRID", Weight: 1.1},
		{Symbol: "TATASTEEL", Weight: 1.1}, {Symbol: "BEL", Weight: 1.1},
		{Symbol: "TRENT", Weight: 1.0}, {Symbol: "ASIANPAINT", Weight: 0.9},
		{Symbol: "BAJAJFINSV", Weight: 0.9}, {Symbol: "ADANIPORTS", Weight: 0.9},
		{Symbol: "JIOFIN", Weight: 0.9}, {Symbol: "GRASIM", Weight: 0.9},
		{Symbol: "HINDALCO", Weight: 0.9}, {Symbol: "ONGC", Weight: 0.8},
		{Symbol: "INDIGO", Weight: 0.8}, {Symbol: "EICHERMOT", Weight: 0.8},
		{Symbol: "SHRIRAMFIN", Weight: 0.8}, {Symbol: "BAJAJ-AUTO", Weight: 0.8},
		{Symbol: "JSWSTEEL", Weight: 0.8}, {Symbol: "COALINDIA", Weight: 0.7},
		{Symbol: "TECHM", Weight: 0.7}, {Symbol: "SBILIFE", Weight: 0.7},
		{Symbol: "NESTLEIND", Weight: 0.7}, {Symbol: "HDFCLIFE", Weight: 0.7},
		{Symbol: "CIPLA", Weight: 0.6}, {Symbol: "MAXHEALTH", Weight: 0.6},
		{Symbol: "DRREDDY", Weight: 0.6}, {Symbol: "APOLLOHOSP", Weight: 0.6},
		{Symbol: "TATACONSUM", Weight: 0.6}, {Symbol: "WIPRO", Weight: 0.6},
		{Symbol: "ADANIENT", Weight: 0.5}, {Symbol: "TMPV", Weight: 0.5},
	},
	"BANKNIFTY": {
		{Symbol: "HDFCBANK", Weight: 28.0}, {Symbol: "ICICIBANK", Weight: 25.0},
		{Symbol: "SBIN", Weight: 9.0}, {Symbol: "KOTAKBANK", Weight: 8.5},
		{Symbol: "AXISBANK", Weight: 8.5}, {Symbol: "BANKBARODA", Weight: 2.8},
		{Symbol: "FEDERALBNK", Weight: 2.5}, {Symbol: "INDUSINDBK", Weight: 2.5},
		{Symbol: "CANBK", Weight: 2.3}, {Symbol: "IDFCFIRSTB", Weight: 2.3},
		{Symbol: "PNB", Weight: 2.2}, {Symbol: "AUBANK", Weight: 2.0},
		{Symbol: "YESBANK", Weight: 1.5}, {Symbol: "UNIONBANK", Weight: 1.2},
	},
	"FINNIFTY": {
		{Symbol: "HDFCBANK", Weight: 33.0}, {Symbol: "ICICIBANK", Weight: 26.0},
		{Symbol: "SBIN", Weight: 9.0}, {Symbol: "AXISBANK", Weight: 7.5},
		{Symbol: "BAJFINANCE", Weight: 7.0}, {Symbol: "KOTAKBANK", Weight: 6.5},
		{Symbol: "BAJAJFINSV", Weight: 3.0}, {Symbol: "SHRIRAMFIN", Weight: 2.5},
		{Symbol: "JIOFIN", Weight: 2.5}, {Symbol: "SBILIFE", Weight: 2.0},
		{Symbol: "HDFCLIFE", Weight: 1.0},
	},
}

// StaticConstituents returns the built-in membership of index with weights
// summing to 1.
func StaticConstituents(index string) ([]models.Constituent, error) {
	info, ok := utils.NormalizeIndex(index)
	if !ok {
		return nil, fmt.Errorf("%w: unknown index %q", ErrDataUnavailable, index)
	}
	members, ok := staticWeights[info.Symbol]
	if !ok {
		return nil, fmt.Errorf("%w: no built-in constituents for %s", ErrDataUnavailable, info.Symbol)
	}
	return normalizeWeights(members), nil
}
