package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/seenimoa/indexsignal/pkg/models"
	"github.com/seenimoa/indexsignal/pkg/utils"
)

func newTable(w io.Writer, title string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.SetTitle(title)
	return t
}

func actionColor(a models.Action) text.Colors {
	switch a {
	case models.ActionBuyCall:
		return text.Colors{text.FgGreen, text.Bold}
	case models.ActionBuyPut:
		return text.Colors{text.FgRed, text.Bold}
	case models.ActionAvoid:
		return text.Colors{text.FgHiBlack, text.Bold}
	default:
		return text.Colors{text.FgYellow, text.Bold}
	}
}

func renderSignal(w io.Writer, sig *models.ActionableSignal) {
	t := newTable(w, fmt.Sprintf("%s @ %s", sig.Index, sig.GeneratedAt.Format("2006-01-02 15:04 IST")))
	t.AppendRow(table.Row{"Action", actionColor(sig.Action).Sprint(string(sig.Action))})
	t.AppendRow(table.Row{"Direction", sig.Direction})
	t.AppendRow(table.Row{"Confidence", fmt.Sprintf("%.1f", sig.Confidence)})
	t.AppendRow(table.Row{"Spot", utils.FormatINR(sig.SpotPrice)})
	if sig.Strike > 0 {
		t.AppendSeparator()
		t.AppendRow(table.Row{"Contract", fmt.Sprintf("%s %.0f %s %s", sig.Index, sig.Strike, sig.OptionType, sig.Expiry)})
	}
	if sig.EntryPrice > 0 {
		t.AppendRow(table.Row{"Entry", fmt.Sprintf("%.2f", sig.EntryPrice)})
		t.AppendRow(table.Row{"Targets", fmt.Sprintf("%.2f / %.2f", sig.Target1, sig.Target2)})
		t.AppendRow(table.Row{"Stop", fmt.Sprintf("%.2f (index %.2f)", sig.StopLoss, sig.IndexStopLevel)})
	}
	if g := sig.EntryGrade; g != nil {
		t.AppendRow(table.Row{"Entry grade", fmt.Sprintf("%s (%.0f), IV %s, %d DTE", g.Letter, g.Score, g.IVZone, g.DTE)})
	}
	t.AppendSeparator()
	t.AppendRow(table.Row{"MTF", fmt.Sprintf("%s, %.0f%% aligned", sig.MTFBias.OverallBias, sig.MTFBias.AlignmentStrength)})
	ip := sig.IndexProbability
	if ip.TotalStocks > 0 {
		t.AppendRow(table.Row{"Constituents", fmt.Sprintf("%s %s (%d/%d scanned)",
			ip.ExpectedDirection, utils.FormatPct(ip.ExpectedMovePct), ip.StocksScanned, ip.TotalStocks)})
	}
	if e := sig.ManipulationOverride; e != nil {
		t.AppendRow(table.Row{"Override", fmt.Sprintf("%s at %.2f (%.0f)", e.Type, e.ZoneLevel, e.Confidence)})
	}
	t.AppendRow(table.Row{"ID", sig.ID})
	t.Render()

	if len(sig.Candidates) > 0 {
		c := newTable(w, "Candidates")
		c.AppendHeader(table.Row{"#", "Strike", "Type", "LTP", "IV", "Delta", "OI", "Volume", "Score"})
		for i, so := range sig.Candidates {
			q := so.Quote
			c.AppendRow(table.Row{i + 1, q.Strike, q.OptionType, fmt.Sprintf("%.2f", q.LTP), fmt.Sprintf("%.1f", q.IV),
				fmt.Sprintf("%.2f", q.Delta), utils.FormatVolume(q.OI), utils.FormatVolume(q.Volume), fmt.Sprintf("%.1f", so.FinalScore)})
		}
		c.Render()
	}

	fmt.Fprintln(w, "Reasoning:")
	for _, r := range sig.Reasoning {
		fmt.Fprintf(w, "  • %s\n", r)
	}
}

func renderLadder(w io.Writer, at time.Time, ladder []models.Timeframe) {
	t := newTable(w, fmt.Sprintf("Ladder @ %s (%s)", at.Format("2006-01-02 15:04 IST"), utils.MarketStatusAt(at)))
	t.AppendHeader(table.Row{"Timeframe", "Bar", "Lookback"})
	for _, tf := range ladder {
		t.AppendRow(table.Row{tf, tf.Duration(), tf.Lookback()})
	}
	t.Render()
}

// renderMetrics prints every gathered sample; histograms show their count
// and sum.
func renderMetrics(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	t := newTable(w, "Metrics")
	t.AppendHeader(table.Row{"Metric", "Labels", "Value"})
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			labels := make([]string, 0, len(m.GetLabel()))
			for _, lp := range m.GetLabel() {
				labels = append(labels, lp.GetName()+"="+lp.GetValue())
			}
			var value string
			switch {
			case m.GetCounter() != nil:
				value = fmt.Sprintf("%g", m.GetCounter().GetValue())
			case m.GetGauge() != nil:
				value = fmt.Sprintf("%g", m.GetGauge().GetValue())
			case m.GetHistogram() != nil:
				h := m.GetHistogram()
				value = fmt.Sprintf("n=%d sum=%.3fs", h.GetSampleCount(), h.GetSampleSum())
			}
			t.AppendRow(table.Row{mf.GetName(), strings.Join(labels, ","), value})
		}
	}
	t.Render()
	return nil
}
