// Package manager implements the operator-facing schedule operations shared
// by the command line and the HTTP API.
package manager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pcesched/pcesched/pkg/notes"
	"github.com/pcesched/pcesched/pkg/pce"
	"github.com/pcesched/pcesched/pkg/policy"
	"github.com/pcesched/pcesched/pkg/schedule"
	"github.com/pcesched/pcesched/pkg/stores"
	"github.com/pcesched/pcesched/pkg/telemetry"
)

// ErrNotProvisioned is returned when a schedule targets an object that has
// never been committed on the PCE.
var ErrNotProvisioned = errors.New("object is not provisioned; provision it on the PCE first")

// ErrAmbiguousID is returned when a bare ID matches more than one schedule.
var ErrAmbiguousID = errors.New("id matches more than one schedule")

// PolicyError reports a schedule rejected by admission policies.
type PolicyError struct {
	Href   string
	Result *policy.Result
}

func (e *PolicyError) Error() string {
	msgs := make([]string, 0, len(e.Result.Violations))
	for _, v := range e.Result.Blocking() {
		msgs = append(msgs, fmt.Sprintf("%s: %s", v.Policy, v.Message))
	}
	return fmt.Sprintf("schedule %s rejected by policy: %s", e.Href, strings.Join(msgs, "; "))
}

// Store is the persistence the manager needs.
type Store interface {
	Get(ctx context.Context, href string) (*schedule.Record, error)
	GetAll(ctx context.Context) (map[string]*schedule.Record, error)
	Put(ctx context.Context, href string, rec *schedule.Record) error
	Delete(ctx context.Context, href string) (bool, error)
	ScheduleType(ctx context.Context, ruleSet *pce.Object) (stores.ScheduleType, error)
	Import(ctx context.Context, doc schedule.Document, replace bool) (int, error)
	Export(ctx context.Context) (schedule.Document, error)
	CreateAuditEntry(ctx context.Context, entry *stores.AuditEntry) error
}

// Remote is the PCE access the manager needs.
type Remote interface {
	GetLiveItem(ctx context.Context, href string) (*pce.Object, error)
	IsProvisioned(ctx context.Context, href string) bool
	UpdateRuleNote(ctx context.Context, href, note string, remove bool) (bool, error)
}

// Admission evaluates policies for a schedule about to be stored.
type Admission interface {
	Evaluate(ctx context.Context, href string, rec *schedule.Record, operation, actor string) (*policy.Result, error)
}

// Manager performs schedule operations on behalf of an operator.
type Manager struct {
	store    Store
	remote   Remote
	policies Admission
	catalog  Catalog
	resolver Resolver
	logger   *telemetry.Logger
	now      func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithPolicies evaluates admission policies on add and import.
func WithPolicies(p Admission) Option {
	return func(m *Manager) { m.policies = p }
}

// WithLogger sets the logger.
func WithLogger(l *telemetry.Logger) Option {
	return func(m *Manager) { m.logger = l.NewComponentLogger("manager") }
}

// New creates a manager.
func New(store Store, remote Remote, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		remote: remote,
		logger: telemetry.NewNopLogger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AddRequest describes a schedule to create or replace.
type AddRequest struct {
	Href   string
	Record *schedule.Record

	// Actor is recorded in the audit trail ("cli", "api").
	Actor string
}

// AddResult reports what Add did.
type AddResult struct {
	Href        string         `json:"href"`
	Overwritten bool           `json:"overwritten"`
	Policy      *policy.Result `json:"policy,omitempty"`

	// NoteChanged is set when the object's description was updated.
	NoteChanged bool `json:"note_changed"`

	// NoteError is set when the schedule was stored but the note could not
	// be written.
	NoteError error `json:"-"`
}

// Add validates and stores a schedule, then tags the object's description.
func (m *Manager) Add(ctx context.Context, req AddRequest) (*AddResult, error) {
	href := strings.TrimSpace(req.Href)
	if href == "" {
		return nil, fmt.Errorf("href is required")
	}
	if err := req.Record.Validate(); err != nil {
		return nil, err
	}
	actor := actorOr(req.Actor)

	if !m.remote.IsProvisioned(ctx, href) {
		return nil, fmt.Errorf("%s: %w", href, ErrNotProvisioned)
	}

	_, err := m.store.Get(ctx, href)
	switch {
	case err == nil, stores.IsCorrupt(err):
	case errors.Is(err, stores.ErrNotFound):
	default:
		return nil, fmt.Errorf("failed to look up schedule: %w", err)
	}
	result := &AddResult{Href: href, Overwritten: !errors.Is(err, stores.ErrNotFound)}

	operation := "create"
	if result.Overwritten {
		operation = "update"
	}
	if m.policies != nil {
		pr, err := m.policies.Evaluate(ctx, href, req.Record, operation, actor)
		if err != nil {
			return nil, fmt.Errorf("failed to evaluate policies: %w", err)
		}
		result.Policy = pr
		if !pr.Allowed {
			return nil, &PolicyError{Href: href, Result: pr}
		}
	}

	if err := m.store.Put(ctx, href, req.Record); err != nil {
		return nil, fmt.Errorf("failed to store schedule: %w", err)
	}

	action := stores.AuditScheduleCreated
	if result.Overwritten {
		action = stores.AuditScheduleUpdated
	}
	m.audit(ctx, action, actor, href, map[string]any{"schedule": req.Record.ToWire()})

	log := m.logger.WithHref(href)
	changed, err := m.remote.UpdateRuleNote(ctx, href, notes.For(req.Record), false)
	if err != nil {
		result.NoteError = err
		log.WithError(err).Warn("Schedule stored but note update failed")
	}
	result.NoteChanged = changed

	log.WithField("operation", operation).Info("Schedule saved")
	return result, nil
}

// Resolve maps ref to a stored href. ref is either an href or the trailing
// ID of one.
func (m *Manager) Resolve(ctx context.Context, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", fmt.Errorf("schedule reference is required")
	}
	if strings.Contains(ref, "/") {
		if _, err := m.store.Get(ctx, ref); err != nil && !stores.IsCorrupt(err) {
			return "", err
		}
		return ref, nil
	}

	all, err := m.store.GetAll(ctx)
	var corrupt *stores.CorruptError
	if err != nil && !errors.As(err, &corrupt) {
		return "", err
	}
	var found []string
	for href := range all {
		if pce.ExtractID(href) == ref {
			found = append(found, href)
		}
	}
	if corrupt != nil {
		for href := range corrupt.Records {
			if pce.ExtractID(href) == ref {
				found = append(found, href)
			}
		}
	}
	switch len(found) {
	case 0:
		return "", fmt.Errorf("%s: %w", ref, stores.ErrNotFound)
	case 1:
		return found[0], nil
	default:
		return "", fmt.Errorf("%s: %w", ref, ErrAmbiguousID)
	}
}

// DeleteResult reports what Delete did.
type DeleteResult struct {
	Href string `json:"href"`

	// NoteError is set when the note could not be removed.
	NoteError error `json:"-"`
}

// Delete removes a schedule. Removing the object's note is attempted first
// and its failure does not prevent the deletion.
func (m *Manager) Delete(ctx context.Context, ref, actor string) (*DeleteResult, error) {
	href, err := m.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	result := &DeleteResult{Href: href}
	log := m.logger.WithHref(href)

	if _, err := m.remote.UpdateRuleNote(ctx, href, "", true); err != nil {
		result.NoteError = err
		log.WithError(err).Warn("Failed to remove schedule note")
	}

	ok, err := m.store.Delete(ctx, href)
	if err != nil {
		return nil, fmt.Errorf("failed to delete schedule: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", href, stores.ErrNotFound)
	}

	m.audit(ctx, stores.AuditScheduleDeleted, actorOr(actor), href, nil)
	log.Info("Schedule deleted")
	return result, nil
}

func (m *Manager) audit(ctx context.Context, action, actor, href string, details map[string]any) {
	entry := &stores.AuditEntry{
		Action:    action,
		Actor:     actor,
		Timestamp: m.now().UTC(),
	}
	if href != "" {
		entry.TargetID = &href
	}
	if len(details) > 0 {
		if data, err := json.Marshal(details); err == nil {
			s := string(data)
			entry.Details = &s
		}
	}
	if err := m.store.CreateAuditEntry(ctx, entry); err != nil {
		m.logger.WithError(err).Warn("Failed to write audit entry")
	}
}

func actorOr(actor string) string {
	if actor == "" {
		return "cli"
	}
	return actor
}
