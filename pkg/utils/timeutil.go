package utils

import (
	"math"
	"time"
)

// IST is the Indian Standard Time location (UTC+5:30).
var IST *time.Location

func init() {
	var err error
	IST, err = time.LoadLocation("Asia/Kolkata")
	if err != nil {
		// Fallback: create fixed zone if tz database is not available
		IST = time.FixedZone("IST", 5*60*60+30*60)
	}
}

// NowIST returns the current time in IST.
func NowIST() time.Time {
	return time.Now().In(IST)
}

// ToIST converts a time.Time to IST.
func ToIST(t time.Time) time.Time {
	return t.In(IST)
}

// MarketOpenTime returns the NSE market opening time (9:15 AM IST) for a given date.
func MarketOpenTime(date time.Time) time.Time {
	d := date.In(IST)
	return time.Date(d.Year(), d.Month(), d.Day(), 9, 15, 0, 0, IST)
}

// MarketCloseTime returns the NSE market closing time (3:30 PM IST) for a given date.
func MarketCloseTime(date time.Time) time.Time {
	d := date.In(IST)
	return time.Date(d.Year(), d.Month(), d.Day(), 15, 30, 0, 0, IST)
}

// StartOfDayIST returns midnight IST of the given date.
func StartOfDayIST(date time.Time) time.Time {
	d := date.In(IST)
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, IST)
}

// IsMarketOpenAt checks if the NSE cash/F&O session is live at t.
func IsMarketOpenAt(t time.Time) bool {
	t = t.In(IST)
	if !IsTradingDay(t) {
		return false
	}
	open := MarketOpenTime(t)
	close := MarketCloseTime(t)
	return !t.Before(open) && !t.After(close)
}

// MinutesToClose returns whole minutes from t until today's close. Before the
// open the full session length is returned; after the close, or on a
// non-trading day, zero.
func MinutesToClose(t time.Time) int {
	t = t.In(IST)
	if !IsTradingDay(t) {
		return 0
	}
	open := MarketOpenTime(t)
	close := MarketCloseTime(t)
	switch {
	case t.Before(open):
		return int(close.Sub(open) / time.Minute)
	case t.After(close):
		return 0
	default:
		return int(close.Sub(t) / time.Minute)
	}
}

// DaysToExpiry returns calendar days between now's IST date and the expiry
// date. Negative values mean the contract has already expired.
func DaysToExpiry(now, expiry time.Time) int {
	a := StartOfDayIST(now)
	b := StartOfDayIST(expiry)
	return int(math.Round(b.Sub(a).Hours() / 24))
}

// YearsToExpiry returns time to the expiry session close in years, floored
// at one minute so pricing models stay finite on expiry afternoon.
func YearsToExpiry(now, expiry time.Time) float64 {
	d := MarketCloseTime(expiry).Sub(now.In(IST))
	if d < time.Minute {
		d = time.Minute
	}
	return d.Hours() / (24 * 365)
}

// IsTradingDay checks if the given date is a trading day (not weekend, not holiday).
func IsTradingDay(t time.Time) bool {
	t = t.In(IST)
	if t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		return false
	}
	return !IsTradingHoliday(t)
}

// PrevTradingDay returns the previous trading day from the given date.
func PrevTradingDay(from time.Time) time.Time {
	prev := from.In(IST).AddDate(0, 0, -1)
	for !IsTradingDay(prev) {
		prev = prev.AddDate(0, 0, -1)
	}
	return prev
}

// SessionStart returns the open of the most recent session at or before t.
// Intraday analysis uses it to bound "today's" candles.
func SessionStart(t time.Time) time.Time {
	t = t.In(IST)
	if IsTradingDay(t) && !t.Before(MarketOpenTime(t)) {
		return MarketOpenTime(t)
	}
	return MarketOpenTime(PrevTradingDay(t))
}

// IsTradingHoliday checks if the given date is an NSE trading holiday.
// This list should be updated annually.
func IsTradingHoliday(t time.Time) bool {
	_, isHoliday := nseHolidays[t.In(IST).Format("2006-01-02")]
	return isHoliday
}

// NSE equity and F&O trading holidays (update annually).
// Source: NSE India circulars.
var nseHolidays = map[string]string{
	"2025-02-26": "Mahashivratri",
	"2025-03-14": "Holi",
	"2025-03-31": "Id-ul-Fitr (Ramadan)",
	"2025-04-10": "Shri Mahavir Jayanti",
	"2025-04-14": "Dr. Ambedkar Jayanti",
	"2025-04-18": "Good Friday",
	"2025-05-01": "Maharashtra Day",
	"2025-08-15": "Independence Day",
	"2025-08-27": "Ganesh Chaturthi",
	"2025-10-02": "Mahatma Gandhi Jayanti",
	"2025-10-21": "Diwali (Laxmi Pujan)",
	"2025-10-22": "Diwali (Balipratipada)",
	"2025-11-05": "Guru Nanak Jayanti",
	"2025-12-25": "Christmas",
	"2026-01-26": "Republic Day",
	"2026-02-17": "Mahashivratri",
	"2026-03-10": "Holi",
	"2026-03-30": "Id-ul-Fitr (Ramadan)",
	"2026-04-02": "Ram Navami",
	"2026-04-03": "Good Friday",
	"2026-04-14": "Dr. Ambedkar Jayanti",
	"2026-05-01": "Maharashtra Day",
	"2026-05-25": "Buddha Purnima",
	"2026-06-05": "Id-ul-Zuha (Bakri Id)",
	"2026-07-06": "Muharram",
	"2026-08-15": "Independence Day",
	"2026-08-18": "Parsi New Year",
	"2026-09-04": "Milad-un-Nabi",
	"2026-10-02": "Mahatma Gandhi Jayanti",
	"2026-10-20": "Dussehra",
	"2026-11-09": "Diwali (Laxmi Pujan)",
	"2026-11-10": "Diwali (Balipratipada)",
	"2026-11-30": "Guru Nanak Jayanti",
	"2026-12-25": "Christmas",
}

// HolidayName returns the holiday label for t, if any.
func HolidayName(t time.Time) (string, bool) {
	name, ok := nseHolidays[t.In(IST).Format("2006-01-02")]
	return name, ok
}

// FormatDateIST formats a time.Time to "2006-01-02" in IST.
func FormatDateIST(t time.Time) string {
	return t.In(IST).Format("2006-01-02")
}

// MarketStatusAt returns a human-readable session label for t.
func MarketStatusAt(t time.Time) string {
	now := t.In(IST)

	if now.Weekday() == time.Saturday || now.Weekday() == time.Sunday {
		return "CLOSED (Weekend)"
	}
	if holiday, ok := HolidayName(now); ok {
		return "CLOSED (" + holiday + ")"
	}

	open := MarketOpenTime(now)
	close := MarketCloseTime(now)
	switch {
	case now.Before(open):
		return "PRE-MARKET"
	case !now.After(close):
		return "OPEN"
	default:
		return "CLOSED"
	}
}
