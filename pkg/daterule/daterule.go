// Package daterule computes the next occurrence of a recurring calendar
// event. Rules are the basis for interest-period normalization and for
// recomputing a loan's next due date.
package daterule

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidRule signals a malformed rule: a day that does not exist in the
// resolved month, a non-positive interval, or an unrecognized unit.
var ErrInvalidRule = errors.New("invalid date rule")

// Kind selects the rule variant.
type Kind string

const (
	KindFixed     Kind = "fixed"
	KindRecurring Kind = "recurring"
)

// Unit is the step unit for recurring rules.
type Unit string

const (
	UnitDays   Unit = "days"
	UnitWeeks  Unit = "weeks"
	UnitMonths Unit = "months"
	UnitYears  Unit = "years"
)

// Rule is a tagged union over the two variants. Fixed rules use Day (and
// Month when annual); Recurring rules use Interval and Unit.
type Rule struct {
	Kind     Kind       `json:"kind"`
	Day      int        `json:"day,omitempty"`
	Month    time.Month `json:"month,omitempty"` // 0 means monthly, not annual
	Interval int        `json:"interval,omitempty"`
	Unit     Unit       `json:"unit,omitempty"`
}

// Fixed builds a monthly fixed-day rule.
func Fixed(day int) Rule {
	return Rule{Kind: KindFixed, Day: day}
}

// FixedAnnual builds an annual fixed-date rule.
func FixedAnnual(day int, month time.Month) Rule {
	return Rule{Kind: KindFixed, Day: day, Month: month}
}

// Recurring builds an interval rule.
func Recurring(interval int, unit Unit) Rule {
	return Rule{Kind: KindRecurring, Interval: interval, Unit: unit}
}

// NextOccurrence resolves the first occurrence strictly after base.
func (r Rule) NextOccurrence(base time.Time) (time.Time, error) {
	base = dateOnly(base)
	switch r.Kind {
	case KindFixed:
		return r.nextFixed(base)
	case KindRecurring:
		return r.nextRecurring(base)
	default:
		return time.Time{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidRule, r.Kind)
	}
}

func (r Rule) nextFixed(base time.Time) (time.Time, error) {
	if r.Month != 0 {
		// Annual rule: same date every year.
		next, err := makeDate(base.Year(), r.Month, r.Day)
		if err != nil {
			return time.Time{}, err
		}
		if !next.After(base) {
			return makeDate(base.Year()+1, r.Month, r.Day)
		}
		return next, nil
	}

	// Monthly rule: this month's day, else next month's.
	next, err := makeDate(base.Year(), base.Month(), r.Day)
	if err != nil {
		return time.Time{}, err
	}
	if !next.After(base) {
		return makeDate(base.Year(), base.Month()+1, r.Day)
	}
	return next, nil
}

func (r Rule) nextRecurring(base time.Time) (time.Time, error) {
	if r.Interval <= 0 {
		return time.Time{}, fmt.Errorf("%w: interval must be positive, got %d", ErrInvalidRule, r.Interval)
	}
	switch r.Unit {
	case UnitDays:
		return base.AddDate(0, 0, r.Interval), nil
	case UnitWeeks:
		return base.AddDate(0, 0, 7*r.Interval), nil
	case UnitMonths:
		return addMonths(base, r.Interval), nil
	case UnitYears:
		return addMonths(base, 12*r.Interval), nil
	default:
		return time.Time{}, fmt.Errorf("%w: unknown unit %q", ErrInvalidRule, r.Unit)
	}
}

// PeriodBasisDays is the length in days of the rule's period starting at
// base. It is always positive for a valid rule.
func (r Rule) PeriodBasisDays(base time.Time) (int, error) {
	next, err := r.NextOccurrence(base)
	if err != nil {
		return 0, err
	}
	days := daysBetween(dateOnly(base), next)
	if days <= 0 {
		return 0, fmt.Errorf("%w: period basis of %d days", ErrInvalidRule, days)
	}
	return days, nil
}

// makeDate builds a date and rejects days that normalize into the next
// month (February 30 and friends).
func makeDate(year int, month time.Month, day int) (time.Time, error) {
	// time.Date normalizes month overflow (13 -> January next year), which
	// the monthly roll relies on. Re-resolve before the day check.
	t := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	d := time.Date(t.Year(), t.Month(), day, 0, 0, 0, 0, time.UTC)
	if d.Day() != day || d.Month() != t.Month() {
		return time.Time{}, fmt.Errorf("%w: day %d does not exist in %s %d", ErrInvalidRule, day, t.Month(), t.Year())
	}
	return d, nil
}

// addMonths advances by whole calendar months, clamping to the last day of
// the target month (Jan 31 + 1 month = Feb 28/29).
func addMonths(t time.Time, months int) time.Time {
	first := time.Date(t.Year(), t.Month()+time.Month(months), 1, 0, 0, 0, 0, time.UTC)
	day := t.Day()
	if last := lastDayOfMonth(first.Year(), first.Month()); day > last {
		day = last
	}
	return time.Date(first.Year(), first.Month(), day, 0, 0, 0, 0, time.UTC)
}

func lastDayOfMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func daysBetween(from, to time.Time) int {
	return int(to.Sub(from).Hours() / 24)
}

// DaysBetween counts whole days from one calendar date to another. Shared
// by the accrual math so every caller truncates timestamps the same way.
func DaysBetween(from, to time.Time) int {
	return daysBetween(dateOnly(from), dateOnly(to))
}
