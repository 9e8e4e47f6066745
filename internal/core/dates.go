package core

import "time"

// Display layouts for dates.
const (
	DateLayout      = "02 Jan 2006"
	MonthYearLayout = "January 2006"
)

// Formatter renders amounts and dates for display.
// A zero Formatter uses DefaultCurrencySymbol and time.Local.
type Formatter struct {
	Symbol   string
	Location *time.Location
}

// NewFormatter returns a Formatter for the given symbol and zone.
func NewFormatter(symbol string, loc *time.Location) Formatter {
	return Formatter{Symbol: symbol, Location: loc}
}

// Date formats epoch milliseconds as "02 Jan 2006".
func (f Formatter) Date(ms int64) string {
	return time.UnixMilli(ms).In(f.location()).Format(DateLayout)
}

// MonthYear formats epoch milliseconds as "January 2006".
func (f Formatter) MonthYear(ms int64) string {
	return time.UnixMilli(ms).In(f.location()).Format(MonthYearLayout)
}

// Display attaches formatted fields to e.
func (f Formatter) Display(e Expense) DisplayExpense {
	return DisplayExpense{
		Expense:         e,
		FormattedAmount: f.Amount(e.Amount),
		FormattedDate:   f.Date(e.Date),
	}
}

func (f Formatter) location() *time.Location {
	if f.Location == nil {
		return time.Local
	}
	return f.Location
}

// MonthBounds returns [first instant of month, first instant of next month)
// in epoch milliseconds, using loc's calendar. Out-of-range months are
// normalized the way time.Date does.
func MonthBounds(year int, month time.Month, loc *time.Location) (start, end int64) {
	if loc == nil {
		loc = time.Local
	}
	first := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	next := time.Date(year, month+1, 1, 0, 0, 0, 0, loc)
	return first.UnixMilli(), next.UnixMilli()
}

// CurrentMonthBounds returns MonthBounds for the month containing now,
// evaluated in now's location.
func CurrentMonthBounds(now time.Time) (start, end int64) {
	return MonthBounds(now.Year(), now.Month(), now.Location())
}

// InSameMonth reports whether ms falls in the calendar month of now.
func InSameMonth(ms int64, now time.Time) bool {
	start, end := CurrentMonthBounds(now)
	return ms >= start && ms < end
}
