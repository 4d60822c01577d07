package policy

import (
	"time"

	"github.com/pcesched/pcesched/pkg/schedule"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for warnings that should be reviewed.
	SeverityWarning Severity = "warning"

	// SeverityError is for errors that should block operations.
	SeverityError Severity = "error"

	// SeverityCritical is for critical violations that must be addressed immediately.
	SeverityCritical Severity = "critical"
)

// Blocking reports whether a violation of this severity rejects the operation.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy represents a policy rule with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Builtin marks policies shipped with the binary.
	Builtin bool `json:"builtin"`

	// Source is the file the policy was loaded from, if any.
	Source string `json:"source,omitempty"`

	Tags []string `json:"tags,omitempty"`
}

// Violation represents a single policy violation.
type Violation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy"`

	// Href is the scheduled object the violation refers to.
	Href string `json:"href,omitempty"`

	Message  string   `json:"message"`
	Severity Severity `json:"severity"`

	// Field names the schedule field at fault, when the policy reports one.
	Field string `json:"field,omitempty"`
}

// Result represents the result of policy evaluation.
type Result struct {
	// Allowed is false when at least one violation is blocking.
	Allowed bool `json:"allowed"`

	Violations []Violation `json:"violations,omitempty"`

	// Failures lists policies that could not be evaluated.
	Failures []string `json:"failures,omitempty"`

	EvaluatedAt       time.Time     `json:"evaluated_at"`
	EvaluatedPolicies []string      `json:"evaluated_policies"`
	Duration          time.Duration `json:"duration"`
}

// Blocking returns the violations that reject the operation.
func (r *Result) Blocking() []Violation {
	var out []Violation
	for _, v := range r.Violations {
		if v.Severity.Blocking() {
			out = append(out, v)
		}
	}
	return out
}

// Warnings returns the violations that do not reject the operation.
func (r *Result) Warnings() []Violation {
	var out []Violation
	for _, v := range r.Violations {
		if !v.Severity.Blocking() {
			out = append(out, v)
		}
	}
	return out
}

// Input is the document passed to Rego as input.
type Input struct {
	Schedule ScheduleInput `json:"schedule"`
	Context  Context       `json:"context"`
}

// ScheduleInput is a schedule in its persisted shape plus derived values
// that are awkward to compute in Rego.
type ScheduleInput struct {
	schedule.Wire

	Href string `json:"href"`

	// WindowMinutes is the length of one recurring window.
	WindowMinutes int `json:"window_minutes,omitempty"`

	// EveryDay is set when a recurring window applies to all seven days.
	EveryDay bool `json:"every_day,omitempty"`

	// ExpireUnix is the one-time expiry in Unix seconds.
	ExpireUnix int64 `json:"expire_unix,omitempty"`
}

// Context describes the operation being evaluated.
type Context struct {
	// Operation is "create", "update" or "import".
	Operation string `json:"operation"`

	// Actor is who performs the operation ("cli", "api").
	Actor string `json:"actor,omitempty"`

	Timestamp time.Time `json:"timestamp"`

	// NowUnix is Timestamp in Unix seconds.
	NowUnix int64 `json:"now_unix"`
}

// NewInput builds the policy input for rec stored at href.
func NewInput(href string, rec *schedule.Record, operation, actor string, now time.Time) Input {
	in := Input{
		Schedule: ScheduleInput{Wire: rec.ToWire(), Href: href},
		Context: Context{
			Operation: operation,
			Actor:     actor,
			Timestamp: now,
			NowUnix:   now.Unix(),
		},
	}
	switch s := rec.Spec.(type) {
	case *schedule.Recurring:
		in.Schedule.WindowMinutes = int(s.Length() / time.Minute)
		in.Schedule.EveryDay = schedule.IsEveryDay(s.Days)
	case *schedule.OneTime:
		in.Schedule.ExpireUnix = s.ExpireAt.Unix()
	}
	return in
}
