package recurrence

import (
	"slices"
	"time"
)

// DefaultCap bounds how many occurrences a single expansion materializes
// for never-ending rules.
const DefaultCap = 500

// maxSteps is a safety valve against pathological rules whose candidates
// never reach the query window.
const maxSteps = 100000

// Occurrence is a single generated instance of a recurring event. Index is
// the occurrence's position in the full series counted from the anchor,
// independent of the query window; excluded occurrences still consume
// indices, so an index is stable across exclusion edits.
type Occurrence struct {
	Start time.Time
	End   time.Time
	Index int
}

// Expand generates the occurrences of an event whose starts fall inside the
// closed window [rangeStart, rangeEnd], in ascending order. eventStart and
// eventEnd are the anchor's own span; every occurrence keeps the anchor's
// time of day and duration, only the calendar date advances. At most limit
// occurrences are returned (DefaultCap when limit <= 0); the second return
// value reports whether generation stopped at the cap before the window or
// the rule's end was reached.
//
// Expand is pure: identical inputs always produce identical output.
func Expand(r Rule, eventStart, eventEnd, rangeStart, rangeEnd time.Time, limit int) ([]Occurrence, bool) {
	if limit <= 0 {
		limit = DefaultCap
	}
	duration := eventEnd.Sub(eventStart)

	if r.IsNone() {
		if !eventStart.Before(rangeStart) && !eventStart.After(rangeEnd) {
			return []Occurrence{{Start: eventStart, End: eventStart.Add(duration)}}, false
		}
		return nil, false
	}

	var out []Occurrence
	it := newIterator(r, eventStart)
	for steps := 0; steps < maxSteps; steps++ {
		start, index := it.next()

		if r.End.Kind == EndAfter && index >= r.End.Count {
			return out, false
		}
		if r.End.Kind == EndOn && dateOf(start).After(dateOf(r.End.Date)) {
			return out, false
		}
		if start.After(rangeEnd) {
			return out, false
		}
		if r.excluded(start) || start.Before(rangeStart) {
			continue
		}
		if len(out) == limit {
			return out, true
		}
		out = append(out, Occurrence{Start: start, End: start.Add(duration), Index: index})
	}
	return out, true
}

// CountBefore returns how many sequence indices the series consumes strictly
// before the given instant, exclusions included. Used to rebase After counts
// when a series is split.
func CountBefore(r Rule, eventStart, before time.Time) int {
	if r.IsNone() {
		if eventStart.Before(before) {
			return 1
		}
		return 0
	}

	n := 0
	it := newIterator(r, eventStart)
	for steps := 0; steps < maxSteps; steps++ {
		start, index := it.next()
		if r.End.Kind == EndAfter && index >= r.End.Count {
			break
		}
		if r.End.Kind == EndOn && dateOf(start).After(dateOf(r.End.Date)) {
			break
		}
		if !start.Before(before) {
			break
		}
		n++
	}
	return n
}

// iterator yields candidate occurrence starts in ascending order along with
// their sequence index. It does not apply end bounds or exclusions; Expand
// layers those on top.
type iterator struct {
	anchor   time.Time
	unit     Unit
	interval int
	days     []time.Weekday // week unit: which weekdays fire
	skipWknd bool           // weekdays kind: daily stepping minus Sat/Sun

	index   int
	started bool
	cur     time.Time // weekday walk position
	step    int       // completed day/month/year advances
	weekIdx int       // week unit: stepped week number
	dayIdx  int       // week unit: position within days
}

func newIterator(r Rule, anchor time.Time) *iterator {
	it := &iterator{anchor: anchor, interval: 1, cur: anchor}
	switch r.Kind {
	case KindDaily:
		it.unit = UnitDay
	case KindWeekdays:
		it.unit = UnitDay
		it.skipWknd = true
	case KindWeekly:
		it.unit = UnitWeek
		it.days = []time.Weekday{anchor.Weekday()}
	case KindMonthly:
		it.unit = UnitMonth
	case KindAnnually:
		it.unit = UnitYear
	case KindCustom:
		it.unit = r.Unit
		it.interval = r.Interval
		it.days = weekOrder(r.DaysOfWeek)
	}
	return it
}

// weekOrder sorts weekdays by their position in a Monday-based week so
// candidates within one week come out ascending (Sunday belongs to the end
// of its week, not the start).
func weekOrder(days []time.Weekday) []time.Weekday {
	out := slices.Clone(days)
	slices.SortFunc(out, func(a, b time.Weekday) int {
		return (int(a)+6)%7 - (int(b)+6)%7
	})
	return out
}

func (it *iterator) next() (time.Time, int) {
	var t time.Time
	switch it.unit {
	case UnitDay:
		if it.skipWknd {
			t = it.nextWeekday()
		} else {
			t = it.anchor.AddDate(0, 0, it.step*it.interval)
			it.step++
		}
	case UnitWeek:
		t = it.nextInWeekSet()
	case UnitMonth:
		t = monthStep(it.anchor, it.step*it.interval)
		it.step++
	case UnitYear:
		t = yearStep(it.anchor, it.step*it.interval)
		it.step++
	}
	index := it.index
	it.index++
	return t, index
}

func (it *iterator) nextWeekday() time.Time {
	if it.started {
		it.cur = it.cur.AddDate(0, 0, 1)
	}
	it.started = true
	for it.cur.Weekday() == time.Saturday || it.cur.Weekday() == time.Sunday {
		it.cur = it.cur.AddDate(0, 0, 1)
	}
	return it.cur
}

// nextInWeekSet walks the configured weekdays of each stepped week in
// ascending order, starting from the anchor's own week. Days in the first
// week that fall before the anchor are skipped.
func (it *iterator) nextInWeekSet() time.Time {
	base := weekStart(it.anchor)
	for {
		if it.dayIdx == len(it.days) {
			it.dayIdx = 0
			it.weekIdx++
		}
		day := it.days[it.dayIdx]
		it.dayIdx++

		offset := int(day) - int(time.Monday)
		if offset < 0 {
			offset += 7 // Sunday sorts last within the week
		}
		weekMonday := base.AddDate(0, 0, 7*it.weekIdx*it.interval)
		candidate := time.Date(
			weekMonday.Year(), weekMonday.Month(), weekMonday.Day()+offset,
			it.anchor.Hour(), it.anchor.Minute(), it.anchor.Second(), 0,
			it.anchor.Location(),
		)
		if !candidate.Before(it.anchor) {
			return candidate
		}
	}
}

// weekStart returns Monday at midnight of t's week.
func weekStart(t time.Time) time.Time {
	offset := int(t.Weekday()) - int(time.Monday)
	if offset < 0 {
		offset += 7
	}
	monday := t.AddDate(0, 0, -offset)
	return time.Date(monday.Year(), monday.Month(), monday.Day(), 0, 0, 0, 0, t.Location())
}

// monthStep returns the anchor advanced by the given number of calendar
// months, clamped to the last valid day of the target month. The step is
// always taken from the anchor, never from a previously clamped result, so
// a Jan 31 series passes through Feb 28/29 and returns to Mar 31.
func monthStep(anchor time.Time, months int) time.Time {
	total := int(anchor.Month()) - 1 + months
	year := anchor.Year() + total/12
	month := time.Month(total%12 + 1)
	day := anchor.Day()
	if last := daysInMonth(year, month); day > last {
		day = last
	}
	return time.Date(year, month, day,
		anchor.Hour(), anchor.Minute(), anchor.Second(), 0, anchor.Location())
}

// yearStep advances by whole years with the same last-valid-day clamp, so a
// Feb 29 anchor lands on Feb 28 in non-leap years.
func yearStep(anchor time.Time, years int) time.Time {
	year := anchor.Year() + years
	day := anchor.Day()
	if last := daysInMonth(year, anchor.Month()); day > last {
		day = last
	}
	return time.Date(year, anchor.Month(), day,
		anchor.Hour(), anchor.Minute(), anchor.Second(), 0, anchor.Location())
}

func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
