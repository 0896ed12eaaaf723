package models

import "time"

// OptionType is CE (call) or PE (put).
type OptionType string

const (
	OptionCall OptionType = "CE"
	OptionPut  OptionType = "PE"
)

// Direction returns the index direction that profits a long position.
func (t OptionType) Direction() Direction {
	switch t {
	case OptionCall:
		return DirectionBullish
	case OptionPut:
		return DirectionBearish
	default:
		return DirectionNeutral
	}
}

// OptionQuote is a single contract in an option chain snapshot.
type OptionQuote struct {
	Strike     float64    `json:"strike"`
	OptionType OptionType `json:"option_type"`
	LTP        float64    `json:"ltp"`
	Bid        float64    `json:"bid"`
	Ask        float64    `json:"ask"`
	OI         int64      `json:"oi"`
	Volume     int64      `json:"volume"`
	IV         float64    `json:"iv"` // percent, e.g. 14.2
	Delta      float64    `json:"delta"`
	Gamma      float64    `json:"gamma"`
	Theta      float64    `json:"theta"` // premium per day
	Vega       float64    `json:"vega"`
	ExpiryDate time.Time  `json:"expiry_date"`
}

// SpreadPct returns the bid/ask spread as a percentage of LTP, or -1 when
// either side of the book is missing.
func (q OptionQuote) SpreadPct() float64 {
	if q.Bid <= 0 || q.Ask <= 0 || q.LTP <= 0 {
		return -1
	}
	return (q.Ask - q.Bid) / q.LTP * 100
}

// Liquidity is the tie-break measure used when ranking options.
func (q OptionQuote) Liquidity() int64 { return q.Volume + q.OI }

// ScoredOption is an option quote with its ranking breakdown.
type ScoredOption struct {
	Quote           OptionQuote `json:"quote"`
	VolumeScore     float64     `json:"volume_score"`
	OIScore         float64     `json:"oi_score"`
	DeltaScore      float64     `json:"delta_score"`
	MoneynessScore  float64     `json:"moneyness_score"`
	BaseScore       float64     `json:"base_score"`
	DirectionBoost  float64     `json:"direction_boost"`
	SentimentAdjust float64     `json:"sentiment_adjust"`
	FinalScore      float64     `json:"final_score"`
}

// IVZone classifies implied volatility against a reference.
type IVZone string

const (
	IVDeepDiscount IVZone = "deep_discount"
	IVDiscounted   IVZone = "discounted"
	IVFair         IVZone = "fair"
	IVPremium      IVZone = "premium"
	IVHighPremium  IVZone = "high_premium"
)

// AboveFair reports whether the zone is richer than fair value.
func (z IVZone) AboveFair() bool { return z == IVPremium || z == IVHighPremium }

// EntryGrade is the entry-quality verdict for one option.
type EntryGrade struct {
	Score            float64  `json:"score"`
	Letter           string   `json:"letter"`
	IVZone           IVZone   `json:"iv_zone"`
	IVRatio          float64  `json:"iv_ratio"`
	IVReference      float64  `json:"iv_reference"`
	RecommendedEntry float64  `json:"recommended_entry"`
	WaitForPullback  bool     `json:"wait_for_pullback"`
	TimeFeasible     bool     `json:"time_feasible"`
	DTE              int      `json:"dte"`
	MinutesToClose   int      `json:"minutes_to_close"`
	ThetaPerHour     float64  `json:"theta_per_hour"`
	LiquidityScore   float64  `json:"liquidity_score"`
	Target1          float64  `json:"target_1"`
	Target2          float64  `json:"target_2"`
	StopLoss         float64  `json:"stop_loss"`
	ExpectedMove     float64  `json:"expected_option_move"`
	Reasoning        []string `json:"reasoning"`
}
