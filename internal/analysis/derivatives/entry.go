package derivatives

import (
	"fmt"
	"math"
	"time"

	"github.com/seenimoa/indexsignal/internal/config"
	"github.com/seenimoa/indexsignal/pkg/models"
	"github.com/seenimoa/indexsignal/pkg/utils"
)

// Tick is the NSE option price increment.
const Tick = 0.05

// Letter grade lower bounds.
const (
	gradeA = 80
	gradeB = 65
	gradeC = 50
	gradeD = 35
)

// GradeInput is what the grader needs to judge an entry.
type GradeInput struct {
	Option          models.OptionQuote
	Spot            float64
	ExpectedMovePct float64 // expected index move in percent
	IVReference     float64 // percent
	Now             time.Time
}

// Grader scores entry quality for a single option.
type Grader struct {
	cfg config.EntryConfig
}

// NewGrader creates a Grader.
func NewGrader(cfg config.EntryConfig) *Grader {
	return &Grader{cfg: cfg}
}

// Grade combines IV zone, time feasibility, theta decay and liquidity into a
// clamped 0-100 score and derives the entry and targets from delta.
func (g *Grader) Grade(in GradeInput) models.EntryGrade {
	q := in.Option
	eg := models.EntryGrade{
		DTE:            utils.DaysToExpiry(in.Now, q.ExpiryDate),
		MinutesToClose: utils.MinutesToClose(in.Now),
		IVReference:    in.IVReference,
		Reasoning:      []string{},
	}
	score := 50.0
	note := func(delta float64, format string, args ...any) {
		score += delta
		eg.Reasoning = append(eg.Reasoning, fmt.Sprintf(format, args...)+fmt.Sprintf(" (%+.0f)", delta))
	}

	// IV zone
	eg.IVRatio = 100
	if in.IVReference > 0 && q.IV > 0 {
		eg.IVRatio = round2(q.IV / in.IVReference * 100)
	}
	eg.IVZone = IVZoneFor(eg.IVRatio)
	switch eg.IVZone {
	case models.IVDeepDiscount:
		note(g.cfg.DeepDiscount, "IV %.1f%% is %.0f%% of reference, deep discount", q.IV, eg.IVRatio)
	case models.IVDiscounted:
		note(g.cfg.Discounted, "IV %.1f%% is %.0f%% of reference, discounted", q.IV, eg.IVRatio)
	case models.IVPremium:
		note(g.cfg.Premium, "IV %.1f%% is %.0f%% of reference, premium", q.IV, eg.IVRatio)
	case models.IVHighPremium:
		note(g.cfg.HighPremium, "IV %.1f%% is %.0f%% of reference, high premium", q.IV, eg.IVRatio)
	default:
		eg.Reasoning = append(eg.Reasoning, fmt.Sprintf("IV %.1f%% is fairly priced (%.0f%% of reference)", q.IV, eg.IVRatio))
	}

	// Expiry and time feasibility
	switch {
	case eg.DTE <= 1:
		note(g.cfg.NearExpiry, "%d DTE, expiry risk", eg.DTE)
	case eg.DTE <= 3:
		note(g.cfg.ShortExpiry, "%d DTE, short runway", eg.DTE)
	}
	eg.TimeFeasible = !(eg.DTE <= 0 && eg.MinutesToClose < g.cfg.MinMinutes)
	if !eg.TimeFeasible {
		note(g.cfg.Infeasible, "expiry day with %d minutes to close, scalp only", eg.MinutesToClose)
	}

	// Theta
	eg.ThetaPerHour = ThetaPctPerHour(eg.DTE)
	switch {
	case eg.ThetaPerHour >= 5:
		note(g.cfg.HeavyTheta, "theta decay %.1f%%/hr", eg.ThetaPerHour)
	case eg.ThetaPerHour >= 1.5:
		note(g.cfg.ModerateTheta, "theta decay %.1f%%/hr", eg.ThetaPerHour)
	}

	// Liquidity
	before := score
	switch {
	case q.Volume > 10_000:
		note(g.cfg.VolumeHigh, "volume %s", utils.FormatVolume(q.Volume))
	case q.Volume > 5_000:
		note(g.cfg.VolumeMedium, "volume %s", utils.FormatVolume(q.Volume))
	case q.Volume > 1_000:
		note(g.cfg.VolumeLow, "volume %s", utils.FormatVolume(q.Volume))
	default:
		note(g.cfg.VolumeThin, "thin volume %s", utils.FormatVolume(q.Volume))
	}
	if q.OI >= 100_000 {
		note(g.cfg.DeepOI, "deep open interest %s", utils.FormatVolume(q.OI))
	}
	eg.LiquidityScore = score - before
	if sp := q.SpreadPct(); sp > 5 {
		note(g.cfg.WideSpread, "bid/ask spread %.1f%%", sp)
	}

	eg.Score = round2(math.Max(0, math.Min(100, score)))
	eg.Letter = Letter(eg.Score)

	// Entry
	eg.RecommendedEntry = q.LTP
	if eg.IVZone.AboveFair() || !eg.TimeFeasible {
		disc := g.pullbackPct(eg.IVRatio)
		eg.WaitForPullback = true
		eg.RecommendedEntry = math.Max(Tick, RoundTick(q.LTP*(1-disc/100)))
		eg.Reasoning = append(eg.Reasoning, fmt.Sprintf("wait for a %.1f%% pullback to %.2f", disc, eg.RecommendedEntry))
	}

	// Targets from delta
	entry := eg.RecommendedEntry
	eg.ExpectedMove = math.Abs(q.Delta) * in.Spot * math.Abs(in.ExpectedMovePct) / 100
	move := math.Max(eg.ExpectedMove, entry*g.cfg.MinTargetPct/100)
	eg.ExpectedMove = round2(eg.ExpectedMove)
	eg.Target1 = round2(entry + 0.6*move)
	eg.Target2 = round2(entry + 1.2*move)
	eg.StopLoss = round2(math.Max(Tick, entry-0.5*move))
	return eg
}

// pullbackPct scales the entry discount with how far IV sits above fair,
// capped at PullbackMaxPct.
func (g *Grader) pullbackPct(ratio float64) float64 {
	d := g.cfg.PullbackBasePct + 0.25*math.Max(0, ratio-110)
	return math.Min(d, g.cfg.PullbackMaxPct)
}

// IVZoneFor maps an IV-to-reference ratio (percent) onto a zone.
func IVZoneFor(ratio float64) models.IVZone {
	switch {
	case ratio <= 80:
		return models.IVDeepDiscount
	case ratio <= 95:
		return models.IVDiscounted
	case ratio <= 110:
		return models.IVFair
	case ratio <= 130:
		return models.IVPremium
	default:
		return models.IVHighPremium
	}
}

// ThetaPctPerHour is the expected premium decay per trading hour by DTE.
func ThetaPctPerHour(dte int) float64 {
	switch {
	case dte > 5:
		return 0.3
	case dte >= 4:
		return 0.5
	case dte == 3:
		return 0.8
	case dte == 2:
		return 1.5
	case dte == 1:
		return 3.0
	default:
		return 15.0
	}
}

// Letter maps a score onto A-F.
func Letter(score float64) string {
	switch {
	case score >= gradeA:
		return "A"
	case score >= gradeB:
		return "B"
	case score >= gradeC:
		return "C"
	case score >= gradeD:
		return "D"
	default:
		return "F"
	}
}

// RoundTick rounds a premium to the nearest tick.
func RoundTick(p float64) float64 {
	return math.Round(math.Round(p/Tick)*Tick*100) / 100
}
