// Package schedule computes recurring report fire times and keeps a single
// timer armed for the next one. There is no backend cron: the process itself
// works out the next absolute fire time from the recurrence specification
// and sleeps until then.
package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Frequency is the recurrence cadence.
type Frequency string

const (
	Daily    Frequency = "daily"
	Weekly   Frequency = "weekly"
	Biweekly Frequency = "biweekly"
	Monthly  Frequency = "monthly"
)

// Valid reports whether f is a known cadence.
func (f Frequency) Valid() bool {
	switch f {
	case Daily, Weekly, Biweekly, Monthly:
		return true
	}
	return false
}

// Config is the recurrence specification. Day is cadence-dependent: a
// lowercase weekday name for weekly, a numeric day-of-month string for
// biweekly/monthly, ignored for daily. Hour is "HH:MM" 24-hour local time.
type Config struct {
	Enabled   bool      `json:"enabled"`
	Frequency Frequency `json:"frequency"`
	Day       string    `json:"day"`
	Hour      string    `json:"hour"`
}

// weekdays maps the accepted day names, Sunday=0 per the stored convention.
var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// Validate checks that the config is internally consistent; a disabled
// config is always valid.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if !c.Frequency.Valid() {
		return fmt.Errorf("schedule: unknown frequency %q", c.Frequency)
	}
	if _, _, err := parseHour(c.Hour); err != nil {
		return err
	}
	switch c.Frequency {
	case Weekly:
		if _, ok := weekdays[strings.ToLower(c.Day)]; !ok {
			return fmt.Errorf("schedule: weekly day %q is not a weekday name", c.Day)
		}
	case Biweekly, Monthly:
		n, err := strconv.Atoi(c.Day)
		if err != nil || n < 1 || n > 31 {
			return fmt.Errorf("schedule: %s day %q is not a day of month (1-31)", c.Frequency, c.Day)
		}
	}
	return nil
}

// Normalize returns c with Day reset to a value valid for the frequency.
// Changing frequency through the UI can leave a weekday name on a monthly
// config (or vice versa); fire-time computation must never see that.
func (c Config) Normalize() Config {
	switch c.Frequency {
	case Weekly:
		if _, ok := weekdays[strings.ToLower(c.Day)]; !ok {
			c.Day = "monday"
		} else {
			c.Day = strings.ToLower(c.Day)
		}
	case Biweekly, Monthly:
		if n, err := strconv.Atoi(c.Day); err != nil || n < 1 || n > 31 {
			c.Day = "1"
		}
	case Daily:
		c.Day = ""
	}
	if _, _, err := parseHour(c.Hour); err != nil {
		c.Hour = "09:00"
	}
	return c
}

// parseHour splits "HH:MM" into hour and minute.
func parseHour(s string) (hour, minute int, err error) {
	hh, mm, ok := strings.Cut(s, ":")
	if !ok {
		return 0, 0, fmt.Errorf("schedule: hour %q is not HH:MM", s)
	}
	hour, err = strconv.Atoi(hh)
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("schedule: hour %q out of range", s)
	}
	minute, err = strconv.Atoi(mm)
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("schedule: minute %q out of range", s)
	}
	return hour, minute, nil
}

// daysIn returns the number of days in the month containing t.
func daysIn(t time.Time) int {
	return time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, t.Location()).Day()
}

// clampDay limits a configured day-of-month to the length of the month
// containing t. A config saying "the 31st" fires on the 28th/29th of
// February instead of silently skipping the month.
func clampDay(day int, t time.Time) int {
	if n := daysIn(t); day > n {
		return n
	}
	return day
}
