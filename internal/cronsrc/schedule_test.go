package cronsrc

import (
	"testing"
	"time"
)

func mustParse(t *testing.T, s string) time.Time {
	t.Helper()
	tm, err := time.Parse("2006-01-02T15:04", s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return tm
}

func TestNextFromSkipsFebruary29th(t *testing.T) {
	sched := Schedule{Minutes: NewIntSet(5), Hours: NewIntSet(5), Days: NewIntSet(29)}
	now := mustParse(t, "2025-01-01T00:00")

	want := []string{"2025-01-29T05:05", "2025-03-29T05:05", "2025-04-29T05:05"}
	for _, w := range want {
		next, ok := sched.NextFrom(now)
		if !ok {
			t.Fatalf("expected a match after %v", now)
		}
		if got := next.Format("2006-01-02T15:04"); got != w {
			t.Errorf("NextFrom(%v) = %v, want %v", now, got, w)
		}
		now = next
	}
}

func TestNextFromWeekdayAndMonth(t *testing.T) {
	sched := Schedule{
		Minutes:  NewIntSet(1),
		Hours:    NewIntSet(2),
		Weekdays: NewIntSet(0, 3), // Mon, Thu
		Months:   NewIntSet(7),
	}
	now := mustParse(t, "2025-07-20T02:01")

	want := []string{
		"2025-07-21T02:01",
		"2025-07-24T02:01",
		"2025-07-28T02:01",
		"2025-07-31T02:01",
	}
	for _, w := range want {
		next, ok := sched.NextFrom(now)
		if !ok {
			t.Fatalf("expected a match after %v", now)
		}
		if got := next.Format("2006-01-02T15:04"); got != w {
			t.Errorf("NextFrom(%v) = %v, want %v", now, got, w)
		}
		now = next
	}
}

func TestNextFromImpossibleDateNeverMatches(t *testing.T) {
	sched := Schedule{Days: NewIntSet(31), Months: NewIntSet(11)}
	if _, ok := sched.NextFrom(mustParse(t, "2025-01-01T00:00")); ok {
		t.Fatalf("November never has a 31st; NextFrom should report no match")
	}
}

func TestScheduleStringMinuteRange(t *testing.T) {
	sched := Schedule{Minutes: NewIntSet(0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14)}
	if got, want := sched.String(), "0-14 * * *"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestScheduleStringWeekday(t *testing.T) {
	sched := Schedule{Minutes: NewIntSet(0), Hours: NewIntSet(12), Weekdays: NewIntSet(0)}
	if got, want := sched.String(), "0 12 * * Mon"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestGroupRangesDisjoint(t *testing.T) {
	if got, want := groupRanges([]int{0, 5, 6, 7, 8, 9, 42}), "0,5-9,42"; got != want {
		t.Errorf("groupRanges = %q, want %q", got, want)
	}
}

func TestValidateRejectsMixedDayWeekday(t *testing.T) {
	sched := Schedule{Days: NewIntSet(1), Weekdays: NewIntSet(0)}
	if err := sched.Validate(); err == nil {
		t.Fatal("expected an error mixing day-of-month and weekday")
	}
}

func TestValidateRejectsInvertedBounds(t *testing.T) {
	before := mustParse(t, "2025-01-01T00:00")
	after := mustParse(t, "2025-02-01T00:00")
	sched := Schedule{Before: &before, After: &after}
	if err := sched.Validate(); err == nil {
		t.Fatal("expected an error when after is not before before")
	}
}
