package clock

import "time"

// Date truncates t to midnight of its calendar day, keeping t's location.
func Date(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// DaysBetween returns the number of calendar days from a to b. It is negative
// when b is before a and ignores the time of day on both sides, so
// DaysBetween(a, b) == -DaysBetween(b, a).
func DaysBetween(a, b time.Time) int {
	b = b.In(a.Location())
	da, db := Date(a), Date(b)
	// Use UTC noon to stay clear of DST shifts when dividing by 24h.
	ua := time.Date(da.Year(), da.Month(), da.Day(), 12, 0, 0, 0, time.UTC)
	ub := time.Date(db.Year(), db.Month(), db.Day(), 12, 0, 0, 0, time.UTC)
	return int(ub.Sub(ua).Hours() / 24)
}

// AddDays returns the calendar date n days after t.
func AddDays(t time.Time, n int) time.Time {
	return Date(t).AddDate(0, 0, n)
}
