package engine

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/seenimoa/indexsignal/internal/analysis/amd"
	"github.com/seenimoa/indexsignal/internal/analysis/derivatives"
	"github.com/seenimoa/indexsignal/internal/config"
	"github.com/seenimoa/indexsignal/internal/datasource"
	"github.com/seenimoa/indexsignal/pkg/models"
	"github.com/seenimoa/indexsignal/pkg/utils"
)

// minStopDelta bounds the delta used to translate a premium stop into an
// index level, so deep OTM contracts do not produce absurd levels.
const minStopDelta = 0.05

// namespace for deterministic signal IDs.
var signalNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("indexsignal/actionable-signal"))

// SignalInputs is everything one scan gathered for the composer. Probability,
// Manipulation, Sentiment and Chain may be nil when unavailable. TotalStocks
// is the requested constituent count, reported when Probability is nil.
type SignalInputs struct {
	Index        string
	Now          time.Time
	Spot         float64
	Expiry       time.Time
	MTF          models.MTFBias
	Manipulation *models.ManipulationEvent
	Probability  *models.IndexProbability
	TotalStocks  int
	Sentiment    *models.Sentiment
	Ranked       []models.ScoredOption
	Chain        *derivatives.ChainContext
	IVReference  float64
	Notes        []string // degradation notes recorded by the scan
}

// SignalComposer merges direction, option ranking and entry grade into an
// ActionableSignal.
type SignalComposer struct {
	cfg           config.SignalConfig
	threshold     float64
	grader        *derivatives.Grader
	maxCandidates int
}

// NewSignalComposer creates a SignalComposer from the full configuration.
func NewSignalComposer(cfg *config.Config) *SignalComposer {
	return &SignalComposer{
		cfg:           cfg.Signal,
		threshold:     cfg.AMD.OverrideThreshold,
		grader:        derivatives.NewGrader(cfg.Entry),
		maxCandidates: cfg.Engine.MaxCandidates,
	}
}

// Compose builds the signal. It is a pure function of in.
func (c *SignalComposer) Compose(in SignalInputs) *models.ActionableSignal {
	sig := &models.ActionableSignal{
		Index:       in.Index,
		GeneratedAt: in.Now,
		SpotPrice:   in.Spot,
		MTFBias:     in.MTF,
		Sentiment:   in.Sentiment,
		Reasoning:   []string{},
	}
	if in.Probability != nil {
		sig.IndexProbability = *in.Probability
	} else {
		sig.IndexProbability = models.NeutralProbability(in.Index, in.TotalStocks)
	}
	if n := min(c.maxCandidates, len(in.Ranked)); n > 0 {
		sig.Candidates = append([]models.ScoredOption(nil), in.Ranked[:n]...)
	}

	dir, override, why := c.direction(in)
	sig.Direction = dir
	sig.ManipulationOverride = override
	sig.Reasoning = append(sig.Reasoning, why...)
	sig.Reasoning = append(sig.Reasoning, c.context(in)...)

	cand, ok := c.candidate(in.Ranked, dir)
	if !ok {
		sig.Action = models.ActionAvoid
		if len(in.Ranked) == 0 {
			sig.Reasoning = append(sig.Reasoning, datasource.ErrNoLiquidOptions.Error()+": no contract passed the liquidity filters")
		} else {
			sig.Reasoning = append(sig.Reasoning, fmt.Sprintf("%s: no %s contract passed the liquidity filters", datasource.ErrNoLiquidOptions, dir.OptionType()))
		}
		sig.Confidence = round2(c.directional(in, dir, override) * 0.5)
		sig.ID = signalID(in.Index, in.Now, "")
		return sig
	}

	q := cand.Quote
	var move float64
	if in.Probability != nil {
		move = in.Probability.ExpectedMovePct
	}
	grade := c.grader.Grade(derivatives.GradeInput{
		Option:          q,
		Spot:            in.Spot,
		ExpectedMovePct: move,
		IVReference:     in.IVReference,
		Now:             in.Now,
	})
	sig.EntryGrade = &grade
	sig.Strike = q.Strike
	sig.OptionType = q.OptionType
	sig.Expiry = utils.FormatDateIST(q.ExpiryDate)
	sig.Reasoning = append(sig.Reasoning, fmt.Sprintf("selected %.0f %s %s scoring %.1f (delta %.2f, OI %s, volume %s)",
		q.Strike, q.OptionType, sig.Expiry, cand.FinalScore, q.Delta, utils.FormatVolume(q.OI), utils.FormatVolume(q.Volume)))
	sig.Reasoning = append(sig.Reasoning, fmt.Sprintf("entry grade %s (%.0f): %s", grade.Letter, grade.Score, strings.Join(grade.Reasoning, "; ")))

	sig.Confidence = round2(c.directional(in, dir, override) * (0.5 + 0.5*grade.Score/100))
	sig.ID = signalID(in.Index, in.Now, fmt.Sprintf("%s|%g|%s", sig.Expiry, q.Strike, q.OptionType))

	sp := q.SpreadPct()
	switch {
	case sp < 0:
		sig.Action = models.ActionAvoid
		sig.Reasoning = append(sig.Reasoning, "no two-sided market on the selected contract")
		return sig
	case sp > c.cfg.MaxSpreadPct:
		sig.Action = models.ActionAvoid
		sig.Reasoning = append(sig.Reasoning, fmt.Sprintf("bid/ask spread %.1f%% exceeds %.1f%%", sp, c.cfg.MaxSpreadPct))
		return sig
	case !grade.TimeFeasible && grade.DTE <= 0:
		sig.Action = models.ActionAvoid
		sig.Reasoning = append(sig.Reasoning, fmt.Sprintf("contract expires today with %d minutes left", grade.MinutesToClose))
		return sig
	}

	c.levels(sig, grade, q)
	if sig.Action == models.ActionAvoid {
		return sig
	}
	switch {
	case dir == models.DirectionNeutral:
		sig.Action = models.ActionWait
		sig.Reasoning = append(sig.Reasoning, "no directional edge, waiting")
	case grade.Letter == "D" || grade.Letter == "F":
		sig.Action = models.ActionWait
		sig.Reasoning = append(sig.Reasoning, fmt.Sprintf("entry grade %s, waiting for a better entry", grade.Letter))
	case dir == models.DirectionBullish:
		sig.Action = models.ActionBuyCall
	default:
		sig.Action = models.ActionBuyPut
	}
	return sig
}

// direction resolves the trade direction: MTF bias, replaced by a confident
// manipulation event, with constituent probability as the tie-breaker when
// structure is ranging.
func (c *SignalComposer) direction(in SignalInputs) (models.Direction, *models.ManipulationEvent, []string) {
	var why []string
	dir := in.MTF.OverallBias.Direction()
	if in.MTF.OverallBias != "" {
		why = append(why, fmt.Sprintf("MTF bias %s with %.0f%% alignment across %s",
			in.MTF.OverallBias, in.MTF.AlignmentStrength, joinTimeframes(in.MTF.Ladder)))
	}
	if len(in.MTF.Failed) > 0 {
		why = append(why, "timeframes unavailable: "+joinTimeframes(in.MTF.Failed))
	}

	if e := in.Manipulation; e != nil {
		if amd.Overrides(e, c.threshold) {
			ev := *e
			why = append(why, fmt.Sprintf("%s at %.2f (confidence %.0f) overrides MTF bias, %s",
				ev.Type, ev.ZoneLevel, ev.Confidence, ev.Direction()))
			return ev.Direction(), &ev, why
		}
		why = append(why, fmt.Sprintf("%s at %.2f (confidence %.0f) below override threshold %.0f",
			e.Type, e.ZoneLevel, e.Confidence, c.threshold))
	}

	if dir == models.DirectionNeutral {
		if ip := in.Probability; ip != nil && ip.ExpectedDirection != models.DirectionNeutral &&
			ip.Confidence >= c.cfg.RangingFallbackMinConf {
			why = append(why, fmt.Sprintf("structure ranging, following constituents %s (confidence %.0f)",
				ip.ExpectedDirection, ip.Confidence))
			return ip.ExpectedDirection, nil, why
		}
	}
	return dir, nil, why
}

// directional blends the structural conviction with constituent agreement.
// An override replaces MTF alignment with the event's confidence.
func (c *SignalComposer) directional(in SignalInputs, dir models.Direction, override *models.ManipulationEvent) float64 {
	alignment := in.MTF.AlignmentStrength
	if override != nil {
		alignment = override.Confidence
	}
	agreement := 50.0
	if ip := in.Probability; ip != nil && dir != models.DirectionNeutral {
		switch ip.ExpectedDirection {
		case dir:
			agreement = ip.Confidence
		case models.DirectionNeutral:
		default:
			agreement = 100 - ip.Confidence
		}
	}
	wa, wp := c.cfg.AlignmentWeight, c.cfg.ProbabilityWeight
	return (wa*alignment + wp*agreement) / (wa + wp)
}

// candidate picks the top ranked contract for dir, or the top contract
// overall when there is no direction.
func (c *SignalComposer) candidate(ranked []models.ScoredOption, dir models.Direction) (models.ScoredOption, bool) {
	if dir == models.DirectionNeutral {
		if len(ranked) == 0 {
			return models.ScoredOption{}, false
		}
		return ranked[0], true
	}
	return derivatives.BestFor(ranked, dir)
}

// context lists the supporting reads and any degradation.
func (c *SignalComposer) context(in SignalInputs) []string {
	var out []string
	if ip := in.Probability; ip != nil {
		out = append(out, fmt.Sprintf("constituents %s, expected move %s, confidence %.0f (%d up / %d down / %d flat)",
			ip.ExpectedDirection, utils.FormatPct(ip.ExpectedMovePct), ip.Confidence,
			ip.StockSummary.Bullish, ip.StockSummary.Bearish, ip.StockSummary.Neutral))
		if ip.StocksScanned < ip.TotalStocks {
			out = append(out, fmt.Sprintf("scanned %d/%d constituents", ip.StocksScanned, ip.TotalStocks))
		}
	}
	if s := in.Sentiment; s != nil {
		out = append(out, fmt.Sprintf("news sentiment %s (%.2f over %d articles)", s.Direction, s.Score, s.Articles))
	}
	if ch := in.Chain; ch != nil && ch.ATMStrike > 0 {
		out = append(out, fmt.Sprintf("chain ATM %.0f, PCR %.2f, max pain %.0f, call wall %.0f, put wall %.0f",
			ch.ATMStrike, ch.PCR.PCR, ch.MaxPain, ch.MaxCallOIStrike, ch.MaxPutOIStrike))
	}
	return append(out, in.Notes...)
}

// levels copies the graded trade levels onto sig, keeps them strictly
// ordered on the tick grid and derives the index stop. A premium too small
// to carry a stop marks the signal AVOID.
func (c *SignalComposer) levels(sig *models.ActionableSignal, g models.EntryGrade, q models.OptionQuote) {
	entry := derivatives.RoundTick(g.RecommendedEntry)
	t1 := math.Max(derivatives.RoundTick(g.Target1), derivatives.RoundTick(entry+derivatives.Tick))
	t2 := math.Max(derivatives.RoundTick(g.Target2), derivatives.RoundTick(t1+derivatives.Tick))
	stop := derivatives.RoundTick(g.StopLoss)
	if stop >= entry {
		sig.Action = models.ActionAvoid
		sig.Reasoning = append(sig.Reasoning, fmt.Sprintf("premium %.2f too small to place a stop", entry))
		return
	}
	sig.EntryPrice = entry
	sig.Target1 = t1
	sig.Target2 = t2
	sig.StopLoss = stop

	dist := (entry - stop) / math.Max(math.Abs(q.Delta), minStopDelta)
	if q.OptionType == models.OptionPut {
		sig.IndexStopLevel = round2(sig.SpotPrice + dist)
	} else {
		sig.IndexStopLevel = round2(sig.SpotPrice - dist)
	}
	sig.Reasoning = append(sig.Reasoning, fmt.Sprintf("entry %.2f, targets %.2f / %.2f, stop %.2f (index %.2f)",
		sig.EntryPrice, sig.Target1, sig.Target2, sig.StopLoss, sig.IndexStopLevel))
}

// signalID is a UUIDv5 over the index, scan time and chosen contract, so
// identical inputs yield identical IDs.
func signalID(index string, now time.Time, contract string) string {
	key := index + "|" + now.UTC().Format(time.RFC3339Nano) + "|" + contract
	return uuid.NewSHA1(signalNamespace, []byte(key)).String()
}

func joinTimeframes(tfs []models.Timeframe) string {
	s := make([]string, len(tfs))
	for i, tf := range tfs {
		s[i] = string(tf)
	}
	return strings.Join(s, "/")
}

func round2(x float64) float64 { return math.Round(x*100) / 100 }
