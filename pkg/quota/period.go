package quota

import "time"

// CurrentPeriod returns the usage window of a feature cycle that contains
// now, clamped to the subscription window [subStart, subEnd).
// ok is false when now lies outside the subscription window.
func CurrentPeriod(cycle Cycle, subStart, subEnd, now time.Time, loc *time.Location) (start, end time.Time, ok bool) {
	if now.Before(subStart) || !now.Before(subEnd) {
		return time.Time{}, time.Time{}, false
	}
	if loc == nil {
		loc = time.UTC
	}

	var cycleStart, cycleEnd time.Time
	switch cycle {
	case CycleDaily:
		local := now.In(loc)
		cycleStart = time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
		cycleEnd = cycleStart.AddDate(0, 0, 1)
	case CycleMonthly:
		cycleStart, cycleEnd = monthlyWindow(subStart.In(loc), now.In(loc))
	default:
		cycleStart, cycleEnd = subStart, subEnd
	}

	start = cycleStart
	if subStart.After(start) {
		start = subStart
	}
	end = cycleEnd
	if subEnd.Before(end) {
		end = subEnd
	}
	return start.UTC(), end.UTC(), true
}

// monthlyWindow returns the monthly cycle anchored on anchor that contains now.
func monthlyWindow(anchor, now time.Time) (time.Time, time.Time) {
	months := (now.Year()-anchor.Year())*12 + int(now.Month()) - int(anchor.Month())
	start := addMonthsClamped(anchor, months)
	for start.After(now) {
		months--
		start = addMonthsClamped(anchor, months)
	}
	end := addMonthsClamped(anchor, months+1)
	for !end.After(now) {
		months++
		start = end
		end = addMonthsClamped(anchor, months+1)
	}
	return start, end
}

// addMonthsClamped adds n calendar months to t keeping the day of month,
// clamped to the last day of the target month (Jan 31 + 1 month = Feb 28/29).
func addMonthsClamped(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(n), 1, 0, 0, 0, 0, t.Location())
	last := first.AddDate(0, 1, -1).Day()
	if d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}
