package metering

import "time"

// Period keys identify accounting windows by local wall-clock date:
// daily "YYYY-MM-DD", monthly "YYYY-MM".

// DailyKey returns the daily period key containing t.
func DailyKey(t time.Time) string {
	return t.In(time.Local).Format("2006-01-02")
}

// MonthlyKey returns the monthly period key containing t.
func MonthlyKey(t time.Time) string {
	return t.In(time.Local).Format("2006-01")
}

// NextDayStart returns local midnight after t.
func NextDayStart(t time.Time) time.Time {
	local := t.In(time.Local)
	return time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, time.Local)
}

// NextMonthStart returns the first instant of the next calendar month.
func NextMonthStart(t time.Time) time.Time {
	local := t.In(time.Local)
	return time.Date(local.Year(), local.Month()+1, 1, 0, 0, 0, 0, time.Local)
}
