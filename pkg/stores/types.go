package stores

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/pcesched/pcesched/pkg/pce"
	"github.com/pcesched/pcesched/pkg/schedule"
)

// ErrNotFound is returned when a schedule does not exist.
var ErrNotFound = errors.New("schedule not found")

// CorruptError reports stored schedules that could not be decoded, keyed by
// href. GetAll returns it together with every record that could be decoded.
type CorruptError struct {
	Records map[string]error
}

func (e *CorruptError) Error() string {
	hrefs := make([]string, 0, len(e.Records))
	for href := range e.Records {
		hrefs = append(hrefs, href)
	}
	sort.Strings(hrefs)
	if len(hrefs) == 1 {
		return fmt.Sprintf("failed to decode schedule %s: %v", hrefs[0], e.Records[hrefs[0]])
	}
	return fmt.Sprintf("failed to decode %d schedules, first %s: %v", len(hrefs), hrefs[0], e.Records[hrefs[0]])
}

// RecordErr returns the decode error for href, or nil when href decoded. It
// is safe on a nil receiver.
func (e *CorruptError) RecordErr(href string) error {
	if e == nil {
		return nil
	}
	return e.Records[href]
}

// IsCorrupt reports whether err carries undecodable schedules.
func IsCorrupt(err error) bool {
	var ce *CorruptError
	return errors.As(err, &ce)
}

// ScheduleType describes how a rule set is covered by schedules.
type ScheduleType int

const (
	// ScheduleNone means neither the rule set nor any of its rules is scheduled.
	ScheduleNone ScheduleType = iota

	// ScheduleSelf means the rule set itself is scheduled.
	ScheduleSelf

	// ScheduleChild means at least one rule inside the rule set is scheduled.
	ScheduleChild
)

func (t ScheduleType) String() string {
	switch t {
	case ScheduleSelf:
		return "self"
	case ScheduleChild:
		return "child"
	default:
		return "none"
	}
}

// Audit actions.
const (
	AuditScheduleCreated = "schedule.created"
	AuditScheduleUpdated = "schedule.updated"
	AuditScheduleDeleted = "schedule.deleted"
	AuditScheduleExpired = "schedule.expired"
	AuditToggle          = "object.toggled"
	AuditToggleFailed    = "object.toggle_failed"
	AuditImport          = "schedules.imported"
)

// AuditEntry represents an audit trail entry
type AuditEntry struct {
	ID        int64     `json:"id"`
	Action    string    `json:"action"`
	Actor     string    `json:"actor"`               // "engine", "cli", "api"
	TargetID  *string   `json:"target_id,omitempty"` // schedule href
	Details   *string   `json:"details,omitempty"`   // JSON blob
	RunID     *string   `json:"run_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// CheckRun records the outcome of one reconciliation pass.
type CheckRun struct {
	ID          string    `json:"id"`
	Source      string    `json:"source"` // "cli", "monitor", "api"
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	InSync      int       `json:"in_sync"`
	Toggled     int       `json:"toggled"`
	Failed      int       `json:"failed"`
	Unreachable int       `json:"unreachable"`
	Deleted     int       `json:"deleted"`
	Expired     int       `json:"expired"`
	Lines       []string  `json:"lines"`
	Error       *string   `json:"error,omitempty"`
}

// Store defines the interface for the persistence layer
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Schedule operations
	Get(ctx context.Context, href string) (*schedule.Record, error)
	// GetAll returns the decodable records and, when some rows could not be
	// decoded, a *CorruptError naming them.
	GetAll(ctx context.Context) (map[string]*schedule.Record, error)
	Put(ctx context.Context, href string, rec *schedule.Record) error
	Delete(ctx context.Context, href string) (bool, error)
	DeleteMany(ctx context.Context, hrefs []string) (int, error)
	ScheduleType(ctx context.Context, ruleSet *pce.Object) (ScheduleType, error)

	// Bulk operations on the persisted document shape
	Import(ctx context.Context, doc schedule.Document, replace bool) (int, error)
	Export(ctx context.Context) (schedule.Document, error)

	// Check run operations
	CreateCheckRun(ctx context.Context, run *CheckRun) error
	ListCheckRuns(ctx context.Context, limit, offset int) ([]*CheckRun, error)

	// Audit operations
	CreateAuditEntry(ctx context.Context, entry *AuditEntry) error
	ListAuditEntries(ctx context.Context, action *string, target *string, limit, offset int) ([]*AuditEntry, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
