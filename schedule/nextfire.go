package schedule

import (
	"strconv"
	"strings"
	"time"
)

// NextFireTime computes the next absolute fire time for cfg strictly from
// now's point of view. It is a pure function: no timers, no side effects.
// ok is false when the config is disabled or unusable.
//
// All arithmetic happens in now's location, so a fire time configured as
// "09:00" stays 09:00 local across DST changes.
func NextFireTime(cfg Config, now time.Time) (fire time.Time, ok bool) {
	if !cfg.Enabled {
		return time.Time{}, false
	}
	hour, minute, err := parseHour(cfg.Hour)
	if err != nil {
		return time.Time{}, false
	}
	at := func(t time.Time, day int) time.Time {
		return time.Date(t.Year(), t.Month(), day, hour, minute, 0, 0, now.Location())
	}
	todayAt := at(now, now.Day())

	switch cfg.Frequency {
	case Daily:
		if now.After(todayAt) {
			return todayAt.AddDate(0, 0, 1), true
		}
		return todayAt, true

	case Weekly:
		target, found := weekdays[strings.ToLower(cfg.Day)]
		if !found {
			return time.Time{}, false
		}
		offset := (int(target) - int(now.Weekday()) + 7) % 7
		if offset == 0 && now.After(todayAt) {
			offset = 7
		}
		return todayAt.AddDate(0, 0, offset), true

	case Biweekly:
		day, err := strconv.Atoi(cfg.Day)
		if err != nil || day < 1 {
			return time.Time{}, false
		}
		// Twice a month: the configured day and fifteen days later, with
		// the same day next month as the wrap-around candidate. Days past
		// the end of a month clamp to its last day.
		first := at(now, clampDay(day, now))
		nextMonth := now.AddDate(0, 1, -now.Day()+1) // first of next month
		candidates := []time.Time{
			first,
			first.AddDate(0, 0, 15),
			at(nextMonth, clampDay(day, nextMonth)),
		}
		var best time.Time
		for _, c := range candidates {
			if !c.After(now) {
				continue
			}
			if best.IsZero() || c.Before(best) {
				best = c
			}
		}
		if best.IsZero() {
			return time.Time{}, false
		}
		return best, true

	case Monthly:
		day, err := strconv.Atoi(cfg.Day)
		if err != nil || day < 1 {
			return time.Time{}, false
		}
		candidate := at(now, clampDay(day, now))
		if candidate.After(now) {
			return candidate, true
		}
		nextMonth := now.AddDate(0, 1, -now.Day()+1)
		return at(nextMonth, clampDay(day, nextMonth)), true
	}

	return time.Time{}, false
}
