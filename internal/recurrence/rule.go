package recurrence

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"
)

// Kind identifies the repeat pattern of a rule.
type Kind string

const (
	KindNone     Kind = "none"
	KindDaily    Kind = "daily"
	KindWeekly   Kind = "weekly"
	KindMonthly  Kind = "monthly"
	KindAnnually Kind = "annually"
	KindWeekdays Kind = "weekdays"
	KindCustom   Kind = "custom"
)

// Unit is the stepping unit for custom rules.
type Unit string

const (
	UnitDay   Unit = "day"
	UnitWeek  Unit = "week"
	UnitMonth Unit = "month"
	UnitYear  Unit = "year"
)

// EndKind tags the End variant.
type EndKind string

const (
	EndNever EndKind = "never"
	EndOn    EndKind = "on"
	EndAfter EndKind = "after"
)

// End is a tagged variant describing when a series stops.
// Date is set only for EndOn, Count only for EndAfter.
type End struct {
	Kind  EndKind   `json:"kind"`
	Date  time.Time `json:"date,omitzero"`
	Count int       `json:"count,omitempty"`
}

// Rule is an immutable, validated recurrence specification. Interval, Unit
// and DaysOfWeek are populated only for KindCustom; the named kinds carry
// their stepping implicitly. Exclusions are occurrence start times the
// generator must skip (recorded by single-occurrence edits and deletes).
type Rule struct {
	Kind       Kind           `json:"kind"`
	Interval   int            `json:"interval,omitempty"`
	Unit       Unit           `json:"unit,omitempty"`
	DaysOfWeek []time.Weekday `json:"days_of_week,omitempty"`
	End        End            `json:"end"`
	Exclusions []time.Time    `json:"exclusions,omitempty"`
}

// New builds a validated Rule. Interval, unit and days apply only when
// kind is KindCustom and must be zero otherwise.
func New(kind Kind, interval int, unit Unit, days []time.Weekday, end End) (Rule, error) {
	r := Rule{Kind: kind, End: end}
	if kind == KindCustom {
		r.Interval = interval
		r.Unit = unit
		r.DaysOfWeek = normalizeDays(days)
	}
	if err := r.validate(); err != nil {
		return Rule{}, err
	}
	return r, nil
}

func normalizeDays(days []time.Weekday) []time.Weekday {
	if len(days) == 0 {
		return nil
	}
	out := slices.Clone(days)
	slices.Sort(out)
	return slices.Compact(out)
}

// validate checks the anchor-independent constraints.
func (r Rule) validate() error {
	switch r.Kind {
	case KindNone, KindDaily, KindWeekly, KindMonthly, KindAnnually, KindWeekdays:
		if r.Interval != 0 || r.Unit != "" || len(r.DaysOfWeek) != 0 {
			return fmt.Errorf("interval, unit and days_of_week are only valid for custom rules")
		}
	case KindCustom:
		if r.Interval < 1 {
			return fmt.Errorf("custom rule interval must be at least 1")
		}
		switch r.Unit {
		case UnitDay, UnitMonth, UnitYear:
			if len(r.DaysOfWeek) != 0 {
				return fmt.Errorf("days_of_week is only valid for week unit")
			}
		case UnitWeek:
			if len(r.DaysOfWeek) == 0 {
				return fmt.Errorf("week unit requires at least one day of week")
			}
			for _, d := range r.DaysOfWeek {
				if d < time.Sunday || d > time.Saturday {
					return fmt.Errorf("invalid day of week: %d", d)
				}
			}
		default:
			return fmt.Errorf("unknown unit: %q", r.Unit)
		}
	default:
		return fmt.Errorf("unknown rule kind: %q", r.Kind)
	}

	switch r.End.Kind {
	case EndNever:
		if !r.End.Date.IsZero() || r.End.Count != 0 {
			return fmt.Errorf("never-ending rule must not carry a date or count")
		}
	case EndOn:
		if r.End.Date.IsZero() {
			return fmt.Errorf("end kind %q requires a date", EndOn)
		}
	case EndAfter:
		if r.End.Count < 1 {
			return fmt.Errorf("end kind %q requires a positive count", EndAfter)
		}
	default:
		return fmt.Errorf("unknown end kind: %q", r.End.Kind)
	}

	return nil
}

// Validate checks the rule against the anchor it will be attached to.
func (r Rule) Validate(anchor time.Time) error {
	if err := r.validate(); err != nil {
		return err
	}
	if r.End.Kind == EndOn && dateOf(r.End.Date).Before(dateOf(anchor)) {
		return fmt.Errorf("end date %s is before the event start", r.End.Date.Format("2006-01-02"))
	}
	return nil
}

// IsNone reports whether the rule describes a single, non-repeating event.
func (r Rule) IsNone() bool {
	return r.Kind == "" || r.Kind == KindNone
}

// Equal reports whether two rules match on every field.
func (r Rule) Equal(other Rule) bool {
	if r.Kind != other.Kind || r.Interval != other.Interval || r.Unit != other.Unit {
		return false
	}
	if !slices.Equal(r.DaysOfWeek, other.DaysOfWeek) {
		return false
	}
	if r.End.Kind != other.End.Kind || r.End.Count != other.End.Count || !r.End.Date.Equal(other.End.Date) {
		return false
	}
	if len(r.Exclusions) != len(other.Exclusions) {
		return false
	}
	for i := range r.Exclusions {
		if !r.Exclusions[i].Equal(other.Exclusions[i]) {
			return false
		}
	}
	return true
}

// WithEnd returns a copy of the rule with a different end.
func (r Rule) WithEnd(end End) Rule {
	out := r
	out.DaysOfWeek = slices.Clone(r.DaysOfWeek)
	out.Exclusions = slices.Clone(r.Exclusions)
	out.End = end
	return out
}

// WithExclusion returns a copy of the rule with the occurrence start added
// to the exclusion set. Adding an already-excluded time is a no-op copy.
func (r Rule) WithExclusion(start time.Time) Rule {
	out := r.WithEnd(r.End)
	for _, x := range out.Exclusions {
		if x.Equal(start) {
			return out
		}
	}
	out.Exclusions = append(out.Exclusions, start.UTC())
	slices.SortFunc(out.Exclusions, time.Time.Compare)
	return out
}

func (r Rule) excluded(start time.Time) bool {
	for _, x := range r.Exclusions {
		if x.Equal(start) {
			return true
		}
	}
	return false
}

// Encode serializes the rule as compact JSON for storage in a single
// database column.
func (r Rule) Encode() (string, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("encode recurrence rule: %w", err)
	}
	return string(data), nil
}

// ParseRule decodes a stored rule column and validates it.
func ParseRule(data string) (Rule, error) {
	var r Rule
	if err := json.Unmarshal([]byte(data), &r); err != nil {
		return Rule{}, fmt.Errorf("decode recurrence rule: %w", err)
	}
	if err := r.validate(); err != nil {
		return Rule{}, fmt.Errorf("stored recurrence rule: %w", err)
	}
	return r, nil
}

// Describe returns a human-readable description of the rule.
func (r Rule) Describe() string {
	switch r.Kind {
	case KindDaily:
		return "Repeats daily"
	case KindWeekly:
		return "Repeats weekly"
	case KindMonthly:
		return "Repeats monthly"
	case KindAnnually:
		return "Repeats annually"
	case KindWeekdays:
		return "Repeats every weekday"
	case KindCustom:
		unit := string(r.Unit)
		var prefix string
		if r.Interval == 1 {
			prefix = fmt.Sprintf("Repeats every %s", unit)
		} else {
			prefix = fmt.Sprintf("Repeats every %d %ss", r.Interval, unit)
		}
		if r.Unit == UnitWeek && len(r.DaysOfWeek) > 0 {
			var names []string
			for _, d := range r.DaysOfWeek {
				names = append(names, d.String()[:3])
			}
			return prefix + " on " + strings.Join(names, ", ")
		}
		return prefix
	}
	return ""
}

func dateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
