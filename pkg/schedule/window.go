package schedule

import (
	"fmt"
	"time"
)

// HasDay reports whether d is one of the window's days.
func (r *Recurring) HasDay(d time.Weekday) bool {
	for _, day := range r.Days {
		if day == d {
			return true
		}
	}
	return false
}

// Overnight reports whether the window wraps past midnight.
func (r *Recurring) Overnight() bool {
	return r.Start > r.End
}

// Length returns the duration of one occurrence of the window.
func (r *Recurring) Length() time.Duration {
	minutes := int(r.End - r.Start)
	if r.Overnight() {
		minutes += 24 * 60
	}
	return time.Duration(minutes) * time.Minute
}

// InWindow reports whether now falls inside the window. now is evaluated in
// its own location at minute granularity. The start minute is inside the
// window, the end minute is not. For an overnight window the early-morning
// part belongs to the previous day's window.
func (r *Recurring) InWindow(now time.Time) bool {
	minute := TimeOfDayOf(now)
	today := now.Weekday()
	yesterday := (today + 6) % 7

	if !r.Overnight() {
		return r.HasDay(today) && r.Start <= minute && minute < r.End
	}
	return (r.HasDay(today) && minute >= r.Start) || (r.HasDay(yesterday) && minute < r.End)
}

// Desired returns the enabled state the target should have at now.
func (r *Recurring) Desired(now time.Time) bool {
	in := r.InWindow(now)
	if r.Action == ActionBlock {
		return !in
	}
	return in
}

// Expired reports whether now is past the expiration.
func (o *OneTime) Expired(now time.Time) bool {
	return now.After(o.ExpireAt)
}

// Evaluation is the outcome of evaluating a record at a point in time.
type Evaluation struct {
	// Desired is the enabled state the target should have.
	Desired bool

	// Expired is set for one-time records past their expiration.
	Expired bool
}

// Evaluate derives the desired state of rec at now.
func Evaluate(rec *Record, now time.Time) (Evaluation, error) {
	if rec == nil {
		return Evaluation{}, fmt.Errorf("nil schedule record")
	}
	switch s := rec.Spec.(type) {
	case *Recurring:
		return Evaluation{Desired: s.Desired(now)}, nil
	case *OneTime:
		if s.Expired(now) {
			return Evaluation{Desired: false, Expired: true}, nil
		}
		return Evaluation{Desired: true}, nil
	default:
		return Evaluation{}, fmt.Errorf("unknown schedule type %T", rec.Spec)
	}
}
