package models

import "time"

// Bias is the directional read of market structure.
type Bias string

const (
	BiasBullish Bias = "bullish"
	BiasBearish Bias = "bearish"
	BiasRanging Bias = "ranging"
)

// Direction converts a structural bias into an index direction.
func (b Bias) Direction() Direction {
	switch b {
	case BiasBullish:
		return DirectionBullish
	case BiasBearish:
		return DirectionBearish
	default:
		return DirectionNeutral
	}
}

// SwingPoint is a confirmed local extreme.
type SwingPoint struct {
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
	Index     int       `json:"index"`
}

// OrderBlock is the last opposite-coloured candle before a structural break.
type OrderBlock struct {
	ZoneLow      float64 `json:"zone_low"`
	ZoneHigh     float64 `json:"zone_high"`
	Direction    Bias    `json:"direction"`
	OriginCandle Candle  `json:"origin_candle"`
}

// FairValueGap is a 3-candle imbalance zone.
type FairValueGap struct {
	ZoneLow   float64   `json:"zone_low"`
	ZoneHigh  float64   `json:"zone_high"`
	Direction Bias      `json:"direction"`
	Filled    bool      `json:"filled"`
	Timestamp time.Time `json:"timestamp"`
}

// BreakType distinguishes continuation from reversal breaks.
type BreakType string

const (
	BreakBOS   BreakType = "BOS"
	BreakCHoCH BreakType = "CHOCH"
)

// StructureBreak records a close through a confirmed swing level.
type StructureBreak struct {
	Type      BreakType `json:"type"`
	Direction Bias      `json:"direction"`
	Level     float64   `json:"level"`
	Timestamp time.Time `json:"timestamp"`
}

// Structure type labels.
const (
	StructureHigherHighs      = "HH/HL"
	StructureLowerLows        = "LH/LL"
	StructureRanging          = "ranging"
	StructureInsufficientData = "insufficient_data"
)

// MarketStructure is the single-timeframe structural read. A fresh value is
// computed on every scan.
type MarketStructure struct {
	Timeframe     Timeframe        `json:"timeframe"`
	SwingHighs    []SwingPoint     `json:"swing_highs"`
	SwingLows     []SwingPoint     `json:"swing_lows"`
	OrderBlocks   []OrderBlock     `json:"order_blocks"`
	FairValueGaps []FairValueGap   `json:"fair_value_gaps"`
	Breaks        []StructureBreak `json:"breaks"`
	Bias          Bias             `json:"bias"`
	StructureType string           `json:"structure_type"`
	CandleCount   int              `json:"candle_count"`
}

// MTFBias reconciles market structure across a timeframe ladder.
type MTFBias struct {
	PerTimeframe      map[Timeframe]Bias `json:"per_timeframe"`
	OverallBias       Bias               `json:"overall_bias"`
	AlignmentStrength float64            `json:"alignment_strength"`
	Ladder            []Timeframe        `json:"ladder"`
	Failed            []Timeframe        `json:"failed_timeframes,omitempty"`
}

// ZoneKind tells support from resistance.
type ZoneKind string

const (
	ZoneSupport    ZoneKind = "support"
	ZoneResistance ZoneKind = "resistance"
)

// Zone is a support or resistance area built from clustered swing points.
type Zone struct {
	Level      float64     `json:"level"`
	Low        float64     `json:"low"`
	High       float64     `json:"high"`
	Kind       ZoneKind    `json:"kind"`
	Touches    int         `json:"touches"`
	Timeframes []Timeframe `json:"timeframes"`
}

// TrapType labels a manipulation event.
type TrapType string

const (
	BearTrap TrapType = "BEAR_TRAP"
	BullTrap TrapType = "BULL_TRAP"
)

// ManipulationEvent is a false breakout that reclaimed a higher-timeframe zone.
type ManipulationEvent struct {
	Type            TrapType  `json:"type"`
	ZoneLevel       float64   `json:"zone_level"`
	BreakPrice      float64   `json:"break_price"`
	RecoveryPrice   float64   `json:"recovery_price"`
	Timestamp       time.Time `json:"timestamp"`
	Confidence      float64   `json:"confidence"`
	SuggestedAction Action    `json:"suggested_action"`
	Boosters        []string  `json:"boosters,omitempty"`
	ZoneTouches     int       `json:"zone_touches"`
}

// Direction returns the index direction implied by the trap.
func (e ManipulationEvent) Direction() Direction {
	if e.Type == BearTrap {
		return DirectionBullish
	}
	return DirectionBearish
}
