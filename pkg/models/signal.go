package models

import "time"

// Direction is the expected index direction.
type Direction string

const (
	DirectionBullish Direction = "BULLISH"
	DirectionBearish Direction = "BEARISH"
	DirectionNeutral Direction = "NEUTRAL"
)

// Sign returns +1, -1 or 0.
func (d Direction) Sign() float64 {
	switch d {
	case DirectionBullish:
		return 1
	case DirectionBearish:
		return -1
	default:
		return 0
	}
}

// OptionType returns the contract type that profits from d.
func (d Direction) OptionType() OptionType {
	if d == DirectionBearish {
		return OptionPut
	}
	return OptionCall
}

// Action is the final recommendation.
type Action string

const (
	ActionBuyCall Action = "BUY_CALL"
	ActionBuyPut  Action = "BUY_PUT"
	ActionWait    Action = "WAIT"
	ActionAvoid   Action = "AVOID"
)

// ConstituentSignal is the per-stock probability read.
type ConstituentSignal struct {
	Symbol              string    `json:"symbol"`
	Weight              float64   `json:"weight"`
	BullishScore        float64   `json:"bullish_score"`
	BearishScore        float64   `json:"bearish_score"`
	Probability         float64   `json:"probability"`
	ExpectedMovePct     float64   `json:"expected_move_pct"`
	Direction           Direction `json:"direction"`
	DailyProbability    float64   `json:"daily_probability"`
	IntradayProbability *float64  `json:"intraday_probability,omitempty"`
}

// StockSummary counts constituents by direction.
type StockSummary struct {
	Bullish int `json:"bullish_count"`
	Bearish int `json:"bearish_count"`
	Neutral int `json:"neutral_count"`
}

// Contributor is a constituent ranked by its pull on the index.
type Contributor struct {
	Symbol      string    `json:"symbol"`
	Weight      float64   `json:"weight"`
	Probability float64   `json:"probability"`
	Direction   Direction `json:"direction"`
	Impact      float64   `json:"impact"`
}

// IndexProbability is the aggregated constituent forecast.
type IndexProbability struct {
	Index              string              `json:"index"`
	ExpectedDirection  Direction           `json:"expected_direction"`
	ExpectedMovePct    float64             `json:"expected_move_pct"`
	Confidence         float64             `json:"confidence"`
	ProbabilityUp      float64             `json:"probability_up"`
	ProbabilityDown    float64             `json:"probability_down"`
	ProbabilityNeutral float64             `json:"probability_neutral"`
	StockSummary       StockSummary        `json:"stock_summary"`
	TopContributors    []Contributor       `json:"top_contributors"`
	StocksScanned      int                 `json:"stocks_scanned"`
	TotalStocks        int                 `json:"total_stocks"`
	Signals            []ConstituentSignal `json:"signals,omitempty"`
}

// NeutralProbability is the record reported when no constituent could be
// scanned: all mass on neutral, nothing scanned out of total.
func NeutralProbability(index string, total int) IndexProbability {
	return IndexProbability{
		Index:              index,
		ExpectedDirection:  DirectionNeutral,
		ProbabilityNeutral: 1,
		TopContributors:    []Contributor{},
		TotalStocks:        total,
	}
}

// Sentiment is an optional news-derived read on an index.
type Sentiment struct {
	Direction Direction `json:"direction"`
	Score     float64   `json:"score"` // -1 (bearish) to +1 (bullish)
	Articles  int       `json:"articles,omitempty"`
}

// ActionableSignal is the result of one scan. It carries no hidden state and
// serializes deterministically.
type ActionableSignal struct {
	ID                   string             `json:"id"`
	Index                string             `json:"index"`
	GeneratedAt          time.Time          `json:"generated_at"`
	Action               Action             `json:"action"`
	Direction            Direction          `json:"direction"`
	Strike               float64            `json:"strike,omitempty"`
	OptionType           OptionType         `json:"option_type,omitempty"`
	Expiry               string             `json:"expiry,omitempty"`
	EntryPrice           float64            `json:"entry_price,omitempty"`
	Target1              float64            `json:"target_1,omitempty"`
	Target2              float64            `json:"target_2,omitempty"`
	StopLoss             float64            `json:"stop_loss,omitempty"`
	IndexStopLevel       float64            `json:"index_stop_level,omitempty"`
	SpotPrice            float64            `json:"spot_price"`
	Confidence           float64            `json:"confidence"`
	EntryGrade           *EntryGrade        `json:"entry_grade,omitempty"`
	MTFBias              MTFBias            `json:"mtf_bias"`
	ManipulationOverride *ManipulationEvent `json:"manipulation_override,omitempty"`
	IndexProbability     IndexProbability   `json:"index_probability"`
	Sentiment            *Sentiment         `json:"sentiment,omitempty"`
	Candidates           []ScoredOption     `json:"candidates,omitempty"`
	Reasoning            []string           `json:"reasoning"`
}
