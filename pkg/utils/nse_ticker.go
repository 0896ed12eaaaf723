package utils

import (
	"strings"
)

// IndexInfo describes an F&O index by its option-chain symbol.
type IndexInfo struct {
	Symbol      string // option-chain symbol, e.g. "NIFTY"
	DisplayName string // NSE index name, e.g. "NIFTY 50"
	YFinance    string // Yahoo Finance symbol, e.g. "^NSEI"
	LotSize     int
	StrikeStep  float64
}

var indices = map[string]IndexInfo{
	"NIFTY":      {Symbol: "NIFTY", DisplayName: "NIFTY 50", YFinance: "^NSEI", LotSize: 75, StrikeStep: 50},
	"BANKNIFTY":  {Symbol: "BANKNIFTY", DisplayName: "NIFTY BANK", YFinance: "^NSEBANK", LotSize: 35, StrikeStep: 100},
	"FINNIFTY":   {Symbol: "FINNIFTY", DisplayName: "NIFTY FIN SERVICE", YFinance: "NIFTY_FIN_SERVICE.NS", LotSize: 65, StrikeStep: 50},
	"MIDCPNIFTY": {Symbol: "MIDCPNIFTY", DisplayName: "NIFTY MID SELECT", YFinance: "NIFTY_MID_SELECT.NS", LotSize: 140, StrikeStep: 25},
}

// Common user spellings of index names.
var indexAliases = map[string]string{
	"NIFTY":             "NIFTY",
	"NIFTY50":           "NIFTY",
	"NIFTY 50":          "NIFTY",
	"^NSEI":             "NIFTY",
	"BANKNIFTY":         "BANKNIFTY",
	"NIFTYBANK":         "BANKNIFTY",
	"NIFTY BANK":        "BANKNIFTY",
	"BANK NIFTY":        "BANKNIFTY",
	"^NSEBANK":          "BANKNIFTY",
	"FINNIFTY":          "FINNIFTY",
	"NIFTY FIN SERVICE": "FINNIFTY",
	"MIDCPNIFTY":        "MIDCPNIFTY",
	"NIFTY MID SELECT":  "MIDCPNIFTY",
}

// Common NSE stock aliases.
var tickerAliases = map[string]string{
	"RIL":          "RELIANCE",
	"INFOSYS":      "INFY",
	"HDFC BANK":    "HDFCBANK",
	"ICICI BANK":   "ICICIBANK",
	"SBI":          "SBIN",
	"AIRTEL":       "BHARTIARTL",
	"L&T":          "LT",
	"KOTAK":        "KOTAKBANK",
	"AXIS BANK":    "AXISBANK",
	"SUN PHARMA":   "SUNPHARMA",
	"ASIAN PAINTS": "ASIANPAINT",
	"HUL":          "HINDUNILVR",
	"MAHINDRA":     "M&M",
}

func clean(s string) string {
	s = strings.TrimSpace(strings.ToUpper(s))
	return strings.TrimPrefix(s, "$")
}

// NormalizeIndex resolves user input to a supported F&O index.
func NormalizeIndex(name string) (IndexInfo, bool) {
	sym, ok := indexAliases[clean(name)]
	if !ok {
		return IndexInfo{}, false
	}
	return indices[sym], true
}

// IsIndex checks if the ticker names a supported index.
func IsIndex(ticker string) bool {
	_, ok := NormalizeIndex(ticker)
	return ok
}

// SupportedIndices returns the option-chain symbols of all known indices.
func SupportedIndices() []string {
	return []string{"NIFTY", "BANKNIFTY", "FINNIFTY", "MIDCPNIFTY"}
}

// NormalizeTicker normalizes a stock or index ticker to the NSE symbol.
func NormalizeTicker(ticker string) string {
	t := clean(ticker)
	if info, ok := NormalizeIndex(t); ok {
		return info.Symbol
	}
	if canonical, ok := tickerAliases[t]; ok {
		return canonical
	}
	return strings.TrimSuffix(t, ".NS")
}

// ToYFinanceTicker converts an NSE ticker to Yahoo Finance format.
// Index tickers are converted to their Yahoo symbols (^NSEI, ^NSEBANK, ...).
func ToYFinanceTicker(ticker string) string {
	if info, ok := NormalizeIndex(ticker); ok {
		return info.YFinance
	}
	t := NormalizeTicker(ticker)
	if strings.HasSuffix(t, ".BO") {
		return t
	}
	return t + ".NS"
}
