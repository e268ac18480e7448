package refresh

import "time"

// nyseTradingDays returns every NYSE regular trading day in [from, to]
// (inclusive), skipping weekends and the fixed and floating US market
// holidays. It is an approximation of the real NYSE calendar (no
// half-days, no ad-hoc closures) sufficient to drive self-heal gap
// detection.
func nyseTradingDays(from, to time.Time) []time.Time {
	from = time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	to = time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC)

	var days []time.Time
	holidays := nyseHolidays(from.Year())
	if to.Year() != from.Year() {
		for y := from.Year() + 1; y <= to.Year(); y++ {
			for d := range nyseHolidays(y) {
				holidays[d] = true
			}
		}
	}

	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			continue
		}
		if holidays[d.Format("2006-01-02")] {
			continue
		}
		days = append(days, d)
	}
	return days
}

func nyseHolidays(year int) map[string]bool {
	h := map[string]bool{}
	add := func(t time.Time) { h[t.Format("2006-01-02")] = true }

	add(observedFixed(year, time.January, 1))
	add(nthWeekday(year, time.January, time.Monday, 3))  // MLK day
	add(nthWeekday(year, time.February, time.Monday, 3)) // Presidents' Day
	add(goodFriday(year))
	add(lastWeekday(year, time.May, time.Monday)) // Memorial Day
	add(observedFixed(year, time.June, 19))        // Juneteenth
	add(observedFixed(year, time.July, 4))
	add(nthWeekday(year, time.September, time.Monday, 1)) // Labor Day
	add(nthWeekday(year, time.November, time.Thursday, 4)) // Thanksgiving
	add(observedFixed(year, time.December, 25))

	return h
}

// observedFixed returns date, shifted to the nearest weekday if it falls on
// a weekend (Saturday → Friday, Sunday → Monday), per NYSE convention.
func observedFixed(year int, month time.Month, day int) time.Time {
	d := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	switch d.Weekday() {
	case time.Saturday:
		return d.AddDate(0, 0, -1)
	case time.Sunday:
		return d.AddDate(0, 0, 1)
	default:
		return d
	}
}

func nthWeekday(year int, month time.Month, weekday time.Weekday, n int) time.Time {
	d := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	offset := (int(weekday) - int(d.Weekday()) + 7) % 7
	return d.AddDate(0, 0, offset+7*(n-1))
}

func lastWeekday(year int, month time.Month, weekday time.Weekday) time.Time {
	d := time.Date(year, month+1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
	offset := (int(d.Weekday()) - int(weekday) + 7) % 7
	return d.AddDate(0, 0, -offset)
}

// goodFriday computes the Friday before Easter Sunday via the anonymous
// Gregorian (Meeus/Jones/Butcher) algorithm.
func goodFriday(year int) time.Time {
	a := year % 19
	b := year / 100
	c := year % 100
	d := b / 4
	e := b % 4
	f := (b + 8) / 25
	g := (b - f + 1) / 3
	h := (19*a + b - d - g + 15) % 30
	i := c / 4
	k := c % 4
	l := (32 + 2*e + 2*i - h - k) % 7
	m := (a + 11*h + 22*l) / 451
	month := (h + l - 7*m + 114) / 31
	day := (h+l-7*m+114)%31 + 1
	easter := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	return easter.AddDate(0, 0, -2)
}
