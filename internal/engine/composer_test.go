package engine

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/seenimoa/indexsignal/internal/config"
	"github.com/seenimoa/indexsignal/pkg/models"
	"github.com/seenimoa/indexsignal/pkg/utils"
)

func ist(y int, m time.Month, d, hh, mm int) time.Time {
	return time.Date(y, m, d, hh, mm, 0, 0, utils.IST)
}

var (
	scanTime = ist(2026, 10, 14, 11, 0)
	weekly   = ist(2026, 10, 21, 0, 0)
)

func option(strike float64, typ models.OptionType, ltp, iv float64, volume, oi int64, delta float64, expiry time.Time) models.ScoredOption {
	return models.ScoredOption{
		Quote: models.OptionQuote{
			Strike: strike, OptionType: typ, LTP: ltp, Bid: ltp - 0.5, Ask: ltp + 0.5,
			Volume: volume, OI: oi, IV: iv, Delta: delta, ExpiryDate: expiry,
		},
		FinalScore: 80,
	}
}

// liquidCall grades A against a 15% reference a week out.
func liquidCall() models.ScoredOption {
	return option(25000, models.OptionCall, 120, 12, 18_000, 150_000, 0.52, weekly)
}

func liquidPut() models.ScoredOption {
	return option(25000, models.OptionPut, 110, 12, 18_000, 150_000, -0.48, weekly)
}

func bias(b models.Bias, align float64) models.MTFBias {
	return models.MTFBias{
		OverallBias:       b,
		AlignmentStrength: align,
		Ladder:            []models.Timeframe{models.Timeframe5Min, models.Timeframe15Min, models.Timeframe1Hour, models.Timeframe4Hour},
	}
}

func probability(dir models.Direction, conf, move float64) *models.IndexProbability {
	return &models.IndexProbability{
		Index: "NIFTY", ExpectedDirection: dir, Confidence: conf, ExpectedMovePct: move,
		ProbabilityNeutral: 1, StocksScanned: 50, TotalStocks: 50,
	}
}

func inputs(mtf models.MTFBias, ranked ...models.ScoredOption) SignalInputs {
	return SignalInputs{
		Index:       "NIFTY",
		Now:         scanTime,
		Spot:        25010,
		Expiry:      weekly,
		MTF:         mtf,
		Ranked:      ranked,
		IVReference: 15,
	}
}

func newSignalComposer() *SignalComposer { return NewSignalComposer(config.Default()) }

func hasReason(sig *models.ActionableSignal, substr string) bool {
	for _, r := range sig.Reasoning {
		if strings.Contains(r, substr) {
			return true
		}
	}
	return false
}

// ── Actions ──

func TestComposeBuyCall(t *testing.T) {
	sig := newSignalComposer().Compose(inputs(bias(models.BiasBullish, 100), liquidCall(), liquidPut()))
	if sig.Action != models.ActionBuyCall || sig.OptionType != models.OptionCall || sig.Strike != 25000 {
		t.Fatalf("signal = %s %s %.0f, want BUY_CALL CE 25000", sig.Action, sig.OptionType, sig.Strike)
	}
	if sig.Expiry != "2026-10-21" {
		t.Errorf("Expiry = %q", sig.Expiry)
	}
	if sig.EntryGrade == nil || sig.EntryGrade.Letter != "A" {
		t.Errorf("EntryGrade = %+v, want A", sig.EntryGrade)
	}
	if len(sig.Candidates) != 2 {
		t.Errorf("Candidates = %d, want 2", len(sig.Candidates))
	}
}

func TestComposeTargetOrdering(t *testing.T) {
	tests := []struct {
		name   string
		bias   models.Bias
		action models.Action
	}{
		{"call", models.BiasBullish, models.ActionBuyCall},
		{"put", models.BiasBearish, models.ActionBuyPut},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := inputs(bias(tt.bias, 80), liquidCall(), liquidPut())
			in.Probability = probability(models.DirectionNeutral, 0, 0.4)
			sig := newSignalComposer().Compose(in)
			if sig.Action != tt.action {
				t.Fatalf("Action = %s, want %s", sig.Action, tt.action)
			}
			if !(sig.EntryPrice < sig.Target1 && sig.Target1 < sig.Target2) {
				t.Errorf("targets not ordered: entry %.2f t1 %.2f t2 %.2f", sig.EntryPrice, sig.Target1, sig.Target2)
			}
			if !(sig.StopLoss > 0 && sig.StopLoss < sig.EntryPrice) {
				t.Errorf("stop %.2f not below entry %.2f", sig.StopLoss, sig.EntryPrice)
			}
			switch tt.action {
			case models.ActionBuyCall:
				if sig.IndexStopLevel >= sig.SpotPrice {
					t.Errorf("call index stop %.2f should be below spot %.2f", sig.IndexStopLevel, sig.SpotPrice)
				}
			case models.ActionBuyPut:
				if sig.IndexStopLevel <= sig.SpotPrice {
					t.Errorf("put index stop %.2f should be above spot %.2f", sig.IndexStopLevel, sig.SpotPrice)
				}
			}
		})
	}
}

func TestComposeLevelsOnTickGrid(t *testing.T) {
	in := inputs(bias(models.BiasBullish, 100), liquidCall())
	in.Probability = probability(models.DirectionBullish, 60, 0.5)
	sig := newSignalComposer().Compose(in)
	if sig.Action != models.ActionBuyCall {
		t.Fatalf("Action = %s, reasoning %v", sig.Action, sig.Reasoning)
	}
	levels := map[string]float64{
		"entry": sig.EntryPrice, "target1": sig.Target1, "target2": sig.Target2, "stop": sig.StopLoss,
	}
	for name, p := range levels {
		if steps := p / 0.05; math.Abs(steps-math.Round(steps)) > 1e-6 {
			t.Errorf("%s %.4f is off the 0.05 tick grid", name, p)
		}
	}
	// graded 159.02 / 198.03 stop 87.49
	if sig.Target1 != 159 || sig.Target2 != 198.05 || sig.StopLoss != 87.5 {
		t.Errorf("levels = %.2f / %.2f stop %.2f, want 159.00 / 198.05 stop 87.50", sig.Target1, sig.Target2, sig.StopLoss)
	}
}

func TestComposeNoCandidatesIsAvoid(t *testing.T) {
	sig := newSignalComposer().Compose(inputs(bias(models.BiasBullish, 100)))
	if sig.Action != models.ActionAvoid {
		t.Fatalf("Action = %s, want AVOID", sig.Action)
	}
	if !hasReason(sig, "no liquid options") {
		t.Errorf("reasoning = %v", sig.Reasoning)
	}
	if sig.EntryGrade != nil || sig.Strike != 0 {
		t.Error("AVOID without candidates should not name a contract")
	}
}

func TestComposeNoContractForDirectionIsAvoid(t *testing.T) {
	sig := newSignalComposer().Compose(inputs(bias(models.BiasBearish, 100), liquidCall()))
	if sig.Action != models.ActionAvoid || !hasReason(sig, "no PE contract") {
		t.Errorf("Action = %s, reasoning = %v", sig.Action, sig.Reasoning)
	}
}

func TestComposeWideSpreadIsAvoid(t *testing.T) {
	wide := liquidCall()
	wide.Quote.Bid, wide.Quote.Ask = 100, 140
	oneSided := liquidCall()
	oneSided.Quote.Bid = 0

	for name, so := range map[string]models.ScoredOption{"wide": wide, "one-sided": oneSided} {
		t.Run(name, func(t *testing.T) {
			sig := newSignalComposer().Compose(inputs(bias(models.BiasBullish, 100), so))
			if sig.Action != models.ActionAvoid {
				t.Errorf("Action = %s, want AVOID", sig.Action)
			}
			if sig.EntryPrice != 0 {
				t.Errorf("AVOID should carry no entry, got %.2f", sig.EntryPrice)
			}
		})
	}
}

func TestComposeExpiryDayLateSessionIsAvoid(t *testing.T) {
	expiry := ist(2026, 10, 27, 0, 0)
	so := option(25000, models.OptionCall, 40, 28.05, 50_000, 400_000, 0.5, expiry)
	in := inputs(bias(models.BiasBullish, 100), so)
	in.Now = ist(2026, 10, 27, 15, 0)

	sig := newSignalComposer().Compose(in)
	if sig.EntryGrade == nil {
		t.Fatal("expected an entry grade")
	}
	g := sig.EntryGrade
	if g.DTE != 0 || g.MinutesToClose != 30 || g.TimeFeasible {
		t.Errorf("grade timing = dte %d, minutes %d, feasible %v", g.DTE, g.MinutesToClose, g.TimeFeasible)
	}
	if g.Letter != "F" {
		t.Errorf("Letter = %s (score %.0f), want F", g.Letter, g.Score)
	}
	if sig.Action != models.ActionAvoid {
		t.Errorf("Action = %s, want AVOID", sig.Action)
	}
}

func TestComposeWait(t *testing.T) {
	poor := option(25000, models.OptionCall, 100, 19.5, 800, 5_000, 0.5, weekly)

	tests := []struct {
		name string
		in   SignalInputs
	}{
		{"ranging without constituents", inputs(bias(models.BiasRanging, 0), liquidCall())},
		{"poor entry grade", inputs(bias(models.BiasBullish, 100), poor)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig := newSignalComposer().Compose(tt.in)
			if sig.Action != models.ActionWait {
				t.Errorf("Action = %s, want WAIT (reasoning %v)", sig.Action, sig.Reasoning)
			}
		})
	}
}

// ── Direction ──

func TestManipulationOverrideThreshold(t *testing.T) {
	tests := []struct {
		conf     float64
		override bool
		want     models.Action
	}{
		{79, false, models.ActionBuyPut},
		{80, true, models.ActionBuyCall},
	}
	for _, tt := range tests {
		in := inputs(bias(models.BiasBearish, 70), liquidCall(), liquidPut())
		in.Manipulation = &models.ManipulationEvent{
			Type: models.BearTrap, ZoneLevel: 24900, Confidence: tt.conf, SuggestedAction: models.ActionBuyCall,
		}
		sig := newSignalComposer().Compose(in)
		if sig.Action != tt.want {
			t.Errorf("confidence %.0f: Action = %s, want %s", tt.conf, sig.Action, tt.want)
		}
		if (sig.ManipulationOverride != nil) != tt.override {
			t.Errorf("confidence %.0f: override = %v, want %v", tt.conf, sig.ManipulationOverride != nil, tt.override)
		}
	}
}

func TestRangingFallsBackToConstituents(t *testing.T) {
	tests := []struct {
		conf float64
		want models.Direction
	}{
		{55, models.DirectionBullish},
		{50, models.DirectionBullish},
		{45, models.DirectionNeutral},
	}
	for _, tt := range tests {
		in := inputs(bias(models.BiasRanging, 0), liquidCall())
		in.Probability = probability(models.DirectionBullish, tt.conf, 0.3)
		sig := newSignalComposer().Compose(in)
		if sig.Direction != tt.want {
			t.Errorf("confidence %.0f: Direction = %s, want %s", tt.conf, sig.Direction, tt.want)
		}
	}
}

// ── Confidence ──

func TestConfidenceBlend(t *testing.T) {
	tests := []struct {
		name        string
		ip          *models.IndexProbability
		directional float64
	}{
		{"agree", probability(models.DirectionBullish, 60, 0.3), 0.55*80 + 0.45*60},
		{"oppose", probability(models.DirectionBearish, 60, -0.3), 0.55*80 + 0.45*40},
		{"neutral", probability(models.DirectionNeutral, 10, 0), 0.55*80 + 0.45*50},
		{"missing", nil, 0.55*80 + 0.45*50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := inputs(bias(models.BiasBullish, 80), liquidCall())
			in.Probability = tt.ip
			sig := newSignalComposer().Compose(in)
			if sig.EntryGrade == nil {
				t.Fatal("expected an entry grade")
			}
			want := round2(tt.directional * (0.5 + 0.5*sig.EntryGrade.Score/100))
			if math.Abs(sig.Confidence-want) > 0.011 {
				t.Errorf("Confidence = %.2f, want %.2f", sig.Confidence, want)
			}
		})
	}
}

func TestConfidenceDampedByPoorGrade(t *testing.T) {
	c := newSignalComposer()
	good := c.Compose(inputs(bias(models.BiasBullish, 100), liquidCall()))
	poor := c.Compose(inputs(bias(models.BiasBullish, 100), option(25000, models.OptionCall, 100, 19.5, 800, 5_000, 0.5, weekly)))
	if poor.Confidence >= good.Confidence {
		t.Errorf("poor entry confidence %.2f should be below good %.2f", poor.Confidence, good.Confidence)
	}
}

// ── Reasoning and identity ──

func TestReasoningExplainsDegradation(t *testing.T) {
	in := inputs(bias(models.BiasBullish, 60), liquidCall())
	in.MTF.Failed = []models.Timeframe{models.Timeframe4Hour}
	ip := probability(models.DirectionBullish, 55, 0.3)
	ip.StocksScanned = 49
	in.Probability = ip
	in.Notes = []string{"IV reference stale/default (14.0%)"}

	sig := newSignalComposer().Compose(in)
	for _, want := range []string{"scanned 49/50 constituents", "timeframes unavailable: 4h", "IV reference stale/default"} {
		if !hasReason(sig, want) {
			t.Errorf("reasoning missing %q: %v", want, sig.Reasoning)
		}
	}
}

func TestMissingProbabilityReportsNeutral(t *testing.T) {
	in := inputs(bias(models.BiasBullish, 100), liquidCall())
	in.TotalStocks = 3
	sig := newSignalComposer().Compose(in)

	ip := sig.IndexProbability
	if ip.ExpectedDirection != models.DirectionNeutral || ip.ProbabilityNeutral != 1 {
		t.Errorf("IndexProbability = %+v, want neutral", ip)
	}
	if sum := ip.ProbabilityUp + ip.ProbabilityDown + ip.ProbabilityNeutral; math.Abs(sum-1) > 1e-6 {
		t.Errorf("probabilities sum to %v", sum)
	}
	if ip.Index != "NIFTY" || ip.StocksScanned != 0 || ip.TotalStocks != 3 {
		t.Errorf("IndexProbability = %+v, want 0/3 for NIFTY", ip)
	}
}

func TestSignalIDDeterministic(t *testing.T) {
	c := newSignalComposer()
	a := c.Compose(inputs(bias(models.BiasBullish, 100), liquidCall()))
	b := c.Compose(inputs(bias(models.BiasBullish, 100), liquidCall()))
	if a.ID == "" || a.ID != b.ID {
		t.Errorf("IDs differ: %q vs %q", a.ID, b.ID)
	}
	later := inputs(bias(models.BiasBullish, 100), liquidCall())
	later.Now = scanTime.Add(time.Minute)
	if c.Compose(later).ID == a.ID {
		t.Error("different scan time should change the ID")
	}
}
