package engine

import (
	"fmt"
	"io"
	"time"

	"github.com/pcesched/pcesched/pkg/schedule"
)

// Result is what a pass did with one record.
type Result string

const (
	ResultInSync      Result = "in_sync"
	ResultToggled     Result = "toggled"
	ResultFailed      Result = "failed"
	ResultUnreachable Result = "unreachable"
	ResultDeleted     Result = "deleted" // object no longer exists on the PCE
	ResultExpired     Result = "expired"
)

// Outcome is the per-record result of a pass.
type Outcome struct {
	Href   string        `json:"href"`
	Name   string        `json:"name"`
	Kind   schedule.Kind `json:"kind"`
	Result Result        `json:"result"`

	// Desired is the computed target state; nil for expired records.
	Desired *bool `json:"desired,omitempty"`

	// Live is the state the PCE reported before any change.
	Live *bool `json:"live,omitempty"`

	// Retained is set when an expired record was kept because disabling failed.
	Retained bool `json:"retained,omitempty"`

	Error string `json:"error,omitempty"`
}

// Summary counts outcomes by result.
type Summary struct {
	InSync      int `json:"in_sync"`
	Toggled     int `json:"toggled"`
	Failed      int `json:"failed"`
	Unreachable int `json:"unreachable"`
	Deleted     int `json:"deleted"`
	Expired     int `json:"expired"`
}

func (s *Summary) add(r Result) {
	switch r {
	case ResultInSync:
		s.InSync++
	case ResultToggled:
		s.Toggled++
	case ResultFailed:
		s.Failed++
	case ResultUnreachable:
		s.Unreachable++
	case ResultDeleted:
		s.Deleted++
	case ResultExpired:
		s.Expired++
	}
}

// Report is the full result of one pass.
type Report struct {
	RunID      string    `json:"run_id"`
	Source     string    `json:"source"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Lines      []string  `json:"lines"`
	Outcomes   []Outcome `json:"outcomes"`
	Summary    Summary   `json:"summary"`

	out io.Writer
}

func (r *Report) logf(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	r.Lines = append(r.Lines, line)
	if r.out != nil {
		fmt.Fprintln(r.out, line)
	}
}

func (r *Report) record(o Outcome) {
	r.Outcomes = append(r.Outcomes, o)
	r.Summary.add(o.Result)
}

func boolPtr(b bool) *bool {
	return &b
}
