package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/seenimoa/indexsignal/internal/datasource"
	"github.com/seenimoa/indexsignal/pkg/utils"
)

// Expiry selectors accepted by ScanRequest.Expiry.
const (
	ExpiryWeekly     = "weekly"
	ExpiryNextWeekly = "next_weekly"
	ExpiryMonthly    = "monthly"
)

var expiryLayouts = []string{"2006-01-02", "02-Jan-2006"}

// SelectExpiry resolves sel against the listed expiries (ascending) as of
// now. Expiries before today's IST date are ignored. An unrecognised
// selector, or an explicit date that is not listed, resolves to the nearest
// expiry and is explained by the returned note.
func SelectExpiry(expiries []time.Time, sel string, now time.Time) (time.Time, string, error) {
	today := utils.StartOfDayIST(now)
	var live []time.Time
	for _, e := range expiries {
		if !utils.StartOfDayIST(e).Before(today) {
			live = append(live, e)
		}
	}
	if len(live) == 0 {
		return time.Time{}, "", fmt.Errorf("%w: no live expiries in chain", datasource.ErrDataUnavailable)
	}

	sel = strings.ToLower(strings.TrimSpace(sel))
	switch sel {
	case "", ExpiryWeekly:
		return live[0], "", nil
	case ExpiryNextWeekly:
		if len(live) < 2 {
			return live[0], "next weekly expiry not listed, using nearest", nil
		}
		return live[1], "", nil
	case ExpiryMonthly:
		return monthly(live), "", nil
	}

	if want, ok := parseExpiryDate(sel); ok {
		for _, e := range live {
			if utils.StartOfDayIST(e).Equal(want) {
				return e, "", nil
			}
		}
		return live[0], fmt.Sprintf("expiry %s not listed, using nearest", utils.FormatDateIST(want)), nil
	}
	return live[0], fmt.Sprintf("unknown expiry selector %q, using nearest", sel), nil
}

// monthly returns the last listed expiry in the month of the nearest one.
func monthly(live []time.Time) time.Time {
	first := live[0].In(utils.IST)
	last := live[0]
	for _, e := range live[1:] {
		ist := e.In(utils.IST)
		if ist.Year() != first.Year() || ist.Month() != first.Month() {
			break
		}
		last = e
	}
	return last
}

func parseExpiryDate(s string) (time.Time, bool) {
	for _, layout := range expiryLayouts {
		// Month abbreviations are case-sensitive in time.Parse.
		v := s
		if layout == "02-Jan-2006" && len(s) == len(layout) {
			v = s[:3] + strings.ToUpper(s[3:4]) + s[4:]
		}
		if t, err := time.ParseInLocation(layout, v, utils.IST); err == nil {
			return utils.StartOfDayIST(t), true
		}
	}
	return time.Time{}, false
}
