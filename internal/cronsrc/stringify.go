package cronsrc

import (
	"fmt"
	"strconv"
	"strings"
)

var weekdayNames = [7]string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}

// String renders the schedule in its canonical form, used as the event id:
// "<minutes> <hours> <days> <months>[ Weekday,...]", each field either "*"
// or a comma-separated list of values/ranges, optionally wrapped in
// "<after> <= ... <= <before>".
func (s Schedule) String() string {
	body := fmt.Sprintf("%s %s %s %s",
		fieldString(s.Minutes, 0, 59),
		fieldString(s.Hours, 0, 23),
		fieldString(s.Days, 1, 31),
		fieldString(s.Months, 1, 12),
	)
	if len(s.Weekdays) > 0 {
		names := make([]string, 0, len(s.Weekdays))
		for i := 0; i < 7; i++ {
			if s.Weekdays.has(i) {
				names = append(names, weekdayNames[i])
			}
		}
		body += " " + strings.Join(names, ",")
	}
	if s.After != nil {
		body = s.After.Format("2006-01-02T15:04:05") + " <= " + body
	}
	if s.Before != nil {
		body = body + " <= " + s.Before.Format("2006-01-02T15:04:05")
	}
	return body
}

func fieldString(set IntSet, lo, hi int) string {
	if len(set) == 0 {
		return "*"
	}
	values := set.sorted(lo, hi+1)
	return groupRanges(values)
}

// groupRanges collapses a sorted slice of ints into comma-separated values
// and "a-b" ranges for consecutive runs, e.g. [0,5,6,7,8,9,42] -> "0,5-9,42".
func groupRanges(values []int) string {
	if len(values) == 0 {
		return ""
	}
	var parts []string
	start := values[0]
	prev := values[0]
	flush := func(end int) {
		if start == end {
			parts = append(parts, strconv.Itoa(start))
		} else {
			parts = append(parts, fmt.Sprintf("%d-%d", start, end))
		}
	}
	for _, v := range values[1:] {
		if v == prev+1 {
			prev = v
			continue
		}
		flush(prev)
		start, prev = v, v
	}
	flush(prev)
	return strings.Join(parts, ",")
}
