// Package recurrence implements the pure next-occurrence calculator for
// recurring task definitions. It performs no I/O and holds no state: given
// the same definition, the result is always identical. The recurrence
// processor owns all clock comparisons, looping, and persistence.
package recurrence

import (
	"time"

	"taskpulse/internal/types"
)

// Result is the calculator outcome: either the next due instant, or the
// signal that the definition has passed its end date and must be
// deactivated.
type Result struct {
	NextDueAt time.Time
	Inactive  bool
}

// Next computes the single next occurrence for a definition.
//
// Rules:
//   - No prior occurrence (LastCreatedAt nil): the next due instant is
//     StartDate itself.
//   - Otherwise, LastCreatedAt is advanced by RecurrenceInterval units of
//     RecurrenceType. Daily and weekly use day arithmetic; monthly and
//     yearly use calendar arithmetic anchored on StartDate's day-of-month,
//     clamped to the last day of shorter months (Jan 31 + 1 month =
//     Feb 28/29, and the anchor day is restored in longer months, so the
//     schedule never drifts permanently).
//   - If the computed instant lands after EndDate, the definition is
//     expired: Inactive is returned and the caller freezes NextDueAt.
//
// The calculator never backfills: one call advances exactly one cycle. The
// processor re-invokes it to catch up missed runs, bounded by the backfill
// cap.
func Next(def types.RecurringTaskDefinition) Result {
	var next time.Time

	if def.LastCreatedAt == nil {
		next = def.StartDate
	} else {
		next = advance(*def.LastCreatedAt, def)
	}

	if def.EndDate != nil && next.After(*def.EndDate) {
		return Result{Inactive: true}
	}

	return Result{NextDueAt: next}
}

// CycleBack returns now moved one recurrence interval into the past. The
// processor uses it when the backfill cap is hit: remaining missed cycles are
// skipped and the schedule re-anchors so the next computed occurrence lands
// at roughly now instead of deep in the past.
func CycleBack(def types.RecurringTaskDefinition, now time.Time) time.Time {
	interval := def.RecurrenceInterval
	if interval < 1 {
		interval = 1
	}

	switch def.RecurrenceType {
	case types.RecurrenceDaily:
		return now.AddDate(0, 0, -interval)
	case types.RecurrenceWeekly:
		return now.AddDate(0, 0, -7*interval)
	case types.RecurrenceMonthly:
		return addMonths(now, -interval, now.Day())
	case types.RecurrenceYearly:
		return addMonths(now, -12*interval, now.Day())
	default:
		return now.AddDate(0, 0, -interval)
	}
}

// advance moves one interval forward from the given instant.
func advance(from time.Time, def types.RecurringTaskDefinition) time.Time {
	interval := def.RecurrenceInterval
	if interval < 1 {
		// Invalid intervals are rejected at definition-creation time and
		// should never reach the calculator; treat defensively as 1 so a
		// bad row cannot produce an infinite catch-up loop upstream.
		interval = 1
	}

	switch def.RecurrenceType {
	case types.RecurrenceDaily:
		return from.AddDate(0, 0, interval)
	case types.RecurrenceWeekly:
		return from.AddDate(0, 0, 7*interval)
	case types.RecurrenceMonthly:
		return addMonths(from, interval, def.StartDate.Day())
	case types.RecurrenceYearly:
		return addMonths(from, 12*interval, def.StartDate.Day())
	default:
		// Unknown units are unreachable for validated definitions; fall
		// back to daily so the cursor still moves forward.
		return from.AddDate(0, 0, interval)
	}
}

// addMonths performs calendar month arithmetic with end-of-month clamping.
// The target day is the anchor day (the start date's day-of-month), clamped
// to the length of the destination month. Using the anchor rather than the
// previous occurrence's day means a January 31 schedule fires on Feb 28,
// then back on Mar 31 instead of drifting to Mar 28.
func addMonths(from time.Time, months int, anchorDay int) time.Time {
	year, month, _ := from.Date()
	hour, min, sec := from.Clock()

	// Normalize the target year/month without day overflow by starting from
	// the first of the month.
	target := time.Date(year, month, 1, hour, min, sec, from.Nanosecond(), from.Location()).AddDate(0, months, 0)

	day := anchorDay
	if last := lastDayOfMonth(target.Year(), target.Month()); day > last {
		day = last
	}

	return time.Date(target.Year(), target.Month(), day, hour, min, sec, from.Nanosecond(), from.Location())
}

// lastDayOfMonth returns the number of days in the given month.
func lastDayOfMonth(year int, month time.Month) int {
	// Day zero of the following month is the last day of this one.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
