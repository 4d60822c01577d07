// Package schedule defines schedule records for PCE policy objects and the
// time-window evaluation that derives their desired enabled state.
package schedule

import (
	"fmt"
	"time"
)

// Kind identifies the variant of a schedule record.
type Kind string

const (
	// KindRecurring is a weekly time window.
	KindRecurring Kind = "recurring"

	// KindOneTime is an expiration: enabled until a point in time, then disabled and removed.
	KindOneTime Kind = "one_time"
)

// Action is what a recurring window does to its target.
type Action string

const (
	// ActionAllow enables the object inside the window and disables it outside.
	ActionAllow Action = "allow"

	// ActionBlock disables the object inside the window and enables it outside.
	ActionBlock Action = "block"
)

// ParseAction parses an action name. An empty string yields ActionAllow.
func ParseAction(s string) (Action, error) {
	switch Action(s) {
	case "", ActionAllow:
		return ActionAllow, nil
	case ActionBlock:
		return ActionBlock, nil
	}
	return "", invalid("action", fmt.Sprintf("unknown action %q (want allow or block)", s))
}

// Detail holds display-only context captured when the schedule was created.
// It is never refreshed from the PCE.
type Detail struct {
	RuleSet     string `json:"detail_rs,omitempty" yaml:"ruleset,omitempty"`
	Source      string `json:"detail_src,omitempty" yaml:"source,omitempty"`
	Destination string `json:"detail_dst,omitempty" yaml:"destination,omitempty"`
	Service     string `json:"detail_svc,omitempty" yaml:"service,omitempty"`
	Name        string `json:"detail_name,omitempty" yaml:"name,omitempty"`
}

// Spec is the variant part of a Record. It is implemented by *Recurring and *OneTime only.
type Spec interface {
	Kind() Kind
	validate() error
	sealed()
}

// Record is a schedule for a single rule or rule set, keyed by href in the store.
type Record struct {
	Name      string
	IsRuleSet bool
	Detail    Detail
	Spec      Spec
}

// Kind returns the kind of the record's spec.
func (r *Record) Kind() Kind {
	if r == nil || r.Spec == nil {
		return ""
	}
	return r.Spec.Kind()
}

// Validate checks the record for malformed input.
func (r *Record) Validate() error {
	if r == nil {
		return invalid("record", "record is nil")
	}
	if r.Spec == nil {
		return invalid("type", "schedule type is required")
	}
	return r.Spec.validate()
}

// Recurring is a weekly window. Start > End denotes a window that wraps past midnight.
type Recurring struct {
	Action Action
	Days   []time.Weekday
	Start  TimeOfDay
	End    TimeOfDay
}

// Kind implements Spec.
func (*Recurring) Kind() Kind { return KindRecurring }
func (*Recurring) sealed()    {}

func (r *Recurring) validate() error {
	if r.Action != ActionAllow && r.Action != ActionBlock {
		return invalid("action", fmt.Sprintf("unknown action %q (want allow or block)", r.Action))
	}
	if len(r.Days) == 0 {
		return invalid("days", "at least one day is required")
	}
	for _, d := range r.Days {
		if d < time.Sunday || d > time.Saturday {
			return invalid("days", fmt.Sprintf("invalid weekday %d", d))
		}
	}
	if !r.Start.Valid() {
		return invalid("start", fmt.Sprintf("invalid time %d", r.Start))
	}
	if !r.End.Valid() {
		return invalid("end", fmt.Sprintf("invalid time %d", r.End))
	}
	if r.Start == r.End {
		return invalid("end", "start and end must differ")
	}
	return nil
}

// OneTime keeps an object enabled until ExpireAt, after which it is disabled
// and the schedule is removed.
type OneTime struct {
	ExpireAt time.Time
}

// Kind implements Spec.
func (*OneTime) Kind() Kind { return KindOneTime }
func (*OneTime) sealed()    {}

func (o *OneTime) validate() error {
	if o.ExpireAt.IsZero() {
		return invalid("expire_at", "expiration time is required")
	}
	return nil
}

// NewRecurring builds a recurring record from operator input. Days default to
// the whole week when empty.
func NewRecurring(name string, isRuleSet bool, action string, days []string, start, end string) (*Record, error) {
	act, err := ParseAction(action)
	if err != nil {
		return nil, err
	}
	wd, err := ParseDays(days)
	if err != nil {
		return nil, err
	}
	if len(wd) == 0 {
		wd = AllDays()
	}
	s, err := ParseTimeOfDay(start)
	if err != nil {
		return nil, withField(err, "start")
	}
	e, err := ParseTimeOfDay(end)
	if err != nil {
		return nil, withField(err, "end")
	}
	rec := &Record{
		Name:      name,
		IsRuleSet: isRuleSet,
		Spec:      &Recurring{Action: act, Days: wd, Start: s, End: e},
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	return rec, nil
}

// NewOneTime builds an expiration record from operator input.
func NewOneTime(name string, isRuleSet bool, expireAt string) (*Record, error) {
	t, err := ParseExpiry(expireAt)
	if err != nil {
		return nil, err
	}
	rec := &Record{
		Name:      name,
		IsRuleSet: isRuleSet,
		Spec:      &OneTime{ExpireAt: t},
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	return rec, nil
}
