package cronsrc

import (
	"fmt"
	"strings"
	"time"
)

// monthAliases lists each month's recognized names/abbreviations, indexed
// 0=January.
var monthAliases = [12][]string{
	{"january", "jan"}, {"february", "feb"}, {"march", "mar"}, {"april", "apr"},
	{"may"}, {"june", "jun"}, {"july", "jul"}, {"august", "aug"},
	{"september", "sep", "sept"}, {"october", "oct"}, {"november", "nov"}, {"december", "dec"},
}

// ParseMonth resolves a case-insensitive month name or abbreviation to its
// 1-12 number.
func ParseMonth(name string) (int, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for i, aliases := range monthAliases {
		for _, a := range aliases {
			if a == n {
				return i + 1, nil
			}
		}
	}
	return 0, fmt.Errorf("cronsrc: unrecognized month %q", name)
}

// OnSpecificDates builds a Schedule that fires at hour:minute on the given
// day-of-month across the given months (by name, case-insensitive), a
// shorthand for the common "same day every N months" registration.
func OnSpecificDates(hour, minute, day int, months ...string) (Schedule, error) {
	set := make(IntSet, len(months))
	for _, m := range months {
		n, err := ParseMonth(m)
		if err != nil {
			return Schedule{}, err
		}
		set[n] = struct{}{}
	}
	return Schedule{
		Minutes: NewIntSet(minute),
		Hours:   NewIntSet(hour),
		Days:    NewIntSet(day),
		Months:  set,
	}, nil
}

// Every builds a Schedule that fires once per interval, anchored so it
// keeps firing even across process restarts: the minute (and, for hourly
// and daily intervals, the hour) is derived from after, and After is set to
// after, so the first firing is one interval after `after` (NextFrom only
// returns instants strictly after its starting point). Supported intervals
// are a whole number of minutes dividing 60, a whole number of hours
// dividing 24, or exactly one day, matching what a minute-granularity
// schedule can express.
func Every(interval time.Duration, after time.Time) (Schedule, error) {
	switch {
	case interval <= 0:
		return Schedule{}, fmt.Errorf("cronsrc: interval must be positive")
	case interval%(24*time.Hour) == 0:
		days := int(interval / (24 * time.Hour))
		if days != 1 {
			return Schedule{}, fmt.Errorf("cronsrc: multi-day intervals other than 1 day are not expressible")
		}
		return Schedule{
			Minutes: NewIntSet(after.Minute()),
			Hours:   NewIntSet(after.Hour()),
			After:   &after,
		}, nil
	case interval%time.Hour == 0:
		step := int(interval / time.Hour)
		if 24%step != 0 {
			return Schedule{}, fmt.Errorf("cronsrc: hour interval must evenly divide 24")
		}
		hours := make([]int, 0, 24/step)
		for h := after.Hour() % step; h < 24; h += step {
			hours = append(hours, h)
		}
		return Schedule{Minutes: NewIntSet(after.Minute()), Hours: NewIntSet(hours...), After: &after}, nil
	case interval%time.Minute == 0:
		step := int(interval / time.Minute)
		if step <= 0 || 60%step != 0 {
			return Schedule{}, fmt.Errorf("cronsrc: minute interval must evenly divide 60")
		}
		minutes := make([]int, 0, 60/step)
		for m := after.Minute() % step; m < 60; m += step {
			minutes = append(minutes, m)
		}
		return Schedule{Minutes: NewIntSet(minutes...), After: &after}, nil
	default:
		return Schedule{}, fmt.Errorf("cronsrc: interval must be a whole number of minutes")
	}
}
