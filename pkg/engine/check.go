package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/pcesched/pcesched/pkg/pce"
	"github.com/pcesched/pcesched/pkg/schedule"
	"github.com/pcesched/pcesched/pkg/stores"
	"github.com/pcesched/pcesched/pkg/telemetry"
)

const auditActor = "engine"

// Check runs one reconciliation pass and returns its report. The report is
// returned even when err is non-nil; err is set only when the store could
// not be read or expired records could not be removed.
func (e *Engine) Check(ctx context.Context, opts CheckOptions) (*Report, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	source := opts.Source
	if source == "" {
		source = "cli"
	}

	loc := e.loc
	if loc == nil {
		loc = time.Local
	}
	now := e.clock.Now().In(loc)
	report := &Report{
		RunID:     uuid.NewString(),
		Source:    source,
		StartedAt: now,
		Lines:     []string{},
		Outcomes:  []Outcome{},
	}
	if !opts.Silent {
		report.out = e.out
	}

	ctx, span := e.tracer.StartCheckSpan(ctx, report.RunID, source)
	defer span.End()
	e.metrics.RecordCheckStarted()
	timer := telemetry.NewTimer()
	log := e.logger.WithCheckRunID(report.RunID)

	report.logf("[%s] Checking schedules...", now.Format("2006-01-02 15:04:05"))

	records, err := e.store.GetAll(ctx)
	var corrupt *stores.CorruptError
	if errors.As(err, &corrupt) {
		err = nil
	}
	if err != nil {
		err = NewPermanentError("failed to load schedules", err).WithCode(ErrCodeStoreLoad)
		log.WithError(err).Error("Check aborted")
		report.logf("[ERROR] %v", err)
		e.finish(ctx, report, timer, err)
		telemetry.RecordError(span, err)
		return report, err
	}

	hrefs := make([]string, 0, len(records))
	for href := range records {
		hrefs = append(hrefs, href)
	}
	if corrupt != nil {
		for href := range corrupt.Records {
			hrefs = append(hrefs, href)
		}
	}
	sort.Strings(hrefs)

	var expired []string
	for _, href := range hrefs {
		if ctx.Err() != nil {
			break
		}
		if decodeErr := corrupt.RecordErr(href); decodeErr != nil {
			report.record(e.skipInvalid(report, href, href, decodeErr))
			e.metrics.RecordOutcome("unknown", string(ResultFailed))
			continue
		}
		rec := records[href]
		outcome, remove := e.reconcile(ctx, report, href, rec, now)
		report.record(outcome)
		e.metrics.RecordOutcome(string(rec.Kind()), string(outcome.Result))
		if remove {
			expired = append(expired, href)
		}
	}

	var checkErr error
	if len(expired) > 0 {
		n, err := e.store.DeleteMany(ctx, expired)
		if err != nil {
			checkErr = NewPermanentError("failed to remove expired schedules", err).WithCode(ErrCodeStoreDelete)
			log.WithError(err).Error("Failed to remove expired schedules")
			report.logf("[ERROR] %v", checkErr)
		} else {
			report.logf("[CLEANUP] Removed %d expired schedule(s).", n)
			for _, href := range expired {
				e.audit(ctx, stores.AuditScheduleExpired, href, report.RunID, map[string]any{
					"name": records[href].Name,
				})
				delete(records, href)
			}
		}
	}

	if err := ctx.Err(); err != nil && checkErr == nil {
		checkErr = NewTransientError("check interrupted", err)
	}

	counts := map[schedule.Kind]int{schedule.KindRecurring: 0, schedule.KindOneTime: 0}
	for _, rec := range records {
		counts[rec.Kind()]++
	}
	for kind, n := range counts {
		e.metrics.SetScheduleCount(string(kind), float64(n))
	}

	e.finish(ctx, report, timer, checkErr)
	if checkErr != nil {
		telemetry.RecordError(span, checkErr)
	} else {
		telemetry.RecordSuccess(span)
	}

	zl := log.Zerolog()
	zl.Info().
		Int("in_sync", report.Summary.InSync).
		Int("toggled", report.Summary.Toggled).
		Int("failed", report.Summary.Failed).
		Int("unreachable", report.Summary.Unreachable).
		Int("deleted", report.Summary.Deleted).
		Int("expired", report.Summary.Expired).
		Msg("Check completed")

	return report, checkErr
}

// reconcile handles one record. remove reports whether the record should be
// deleted from the store once the pass is over.
func (e *Engine) reconcile(ctx context.Context, report *Report, href string, rec *schedule.Record, now time.Time) (outcome Outcome, remove bool) {
	ctx, span := e.tracer.StartRecordSpan(ctx, href, string(rec.Kind()))
	defer span.End()

	name := displayName(rec)
	id := pce.ExtractID(href)
	log := e.logger.WithCheckRunID(report.RunID).WithHref(href)

	outcome = Outcome{Href: href, Name: name, Kind: rec.Kind()}
	defer func() {
		span.SetAttributes(telemetry.AttrOutcome.String(string(outcome.Result)))
	}()

	eval, err := schedule.Evaluate(rec, now)
	if err != nil {
		skipped := e.skipInvalid(report, href, name, err)
		skipped.Kind = outcome.Kind
		return skipped, false
	}

	if eval.Expired {
		outcome.Result = ResultExpired
		report.logf("[EXPIRED] %s (ID: %s) has expired.", name, id)

		toggleErr := e.toggle(ctx, report, href, rec, false)
		if toggleErr != nil {
			outcome.Error = toggleErr.Error()
			report.logf("[FAILED] Could not disable %s (ID: %s): %v", name, id, toggleErr)
			telemetry.RecordError(span, toggleErr)
		}

		if _, err := e.remote.UpdateRuleNote(ctx, href, "", true); err != nil {
			report.logf("[WARN] Could not remove annotation from %s (ID: %s): %v", name, id, err)
			log.WithError(err).Warn("Failed to remove schedule annotation")
		}

		if toggleErr != nil && e.retainFailedExpiry {
			outcome.Retained = true
			report.logf("[RETAINED] %s (ID: %s) kept until it can be disabled.", name, id)
			return outcome, false
		}
		return outcome, true
	}

	outcome.Desired = boolPtr(eval.Desired)
	span.SetAttributes(telemetry.AttrDesired.Bool(eval.Desired))

	obj, err := e.remote.GetLiveItem(ctx, href)
	if err != nil {
		classified := classifyRemote("get", href, err)
		e.metrics.RecordError(string(classified.Class))
		outcome.Error = err.Error()
		if pce.IsNotFound(err) {
			outcome.Result = ResultDeleted
			report.logf("[MISSING] %s (ID: %s) no longer exists on the PCE; schedule kept.", name, id)
			log.Warn("Scheduled object not found on the PCE")
		} else {
			outcome.Result = ResultUnreachable
			report.logf("[SKIP] %s (ID: %s): PCE unreachable: %v", name, id, err)
			log.WithError(err).Warn("Could not read live state")
		}
		telemetry.RecordError(span, classified)
		return outcome, false
	}

	outcome.Live = boolPtr(obj.Enabled)
	if obj.Enabled == eval.Desired {
		outcome.Result = ResultInSync
		return outcome, false
	}

	report.logf("[ACTION] Switching -> %s (ID: %s) - %s", stateLabel(eval.Desired), id, name)
	if err := e.toggle(ctx, report, href, rec, eval.Desired); err != nil {
		outcome.Result = ResultFailed
		outcome.Error = err.Error()
		report.logf("[FAILED] %s (ID: %s): %v", name, id, err)
		telemetry.RecordError(span, err)
		return outcome, false
	}

	outcome.Result = ResultToggled
	report.logf("[SUCCESS] Provisioned %s (ID: %s)", name, id)
	return outcome, false
}

// toggle writes enabled to href, recording metrics and an audit entry.
func (e *Engine) toggle(ctx context.Context, report *Report, href string, rec *schedule.Record, enabled bool) error {
	err := e.remote.ToggleAndProvision(ctx, href, enabled, rec.IsRuleSet)
	e.metrics.RecordToggle(rec.IsRuleSet, enabled, err)

	details := map[string]any{"enabled": enabled, "is_ruleset": rec.IsRuleSet}
	if err != nil {
		classified := classifyRemote("toggle", href, err)
		e.metrics.RecordError(string(classified.Class))
		e.logger.WithCheckRunID(report.RunID).WithHref(href).WithError(err).Error("Toggle failed")
		details["error"] = err.Error()
		e.audit(ctx, stores.AuditToggleFailed, href, report.RunID, details)
		return classified
	}
	e.audit(ctx, stores.AuditToggle, href, report.RunID, details)
	return nil
}

// audit writes an audit entry. Failures are logged and otherwise ignored.
func (e *Engine) audit(ctx context.Context, action, href, runID string, details map[string]any) {
	entry := &stores.AuditEntry{
		Action:    action,
		Actor:     auditActor,
		TargetID:  &href,
		RunID:     &runID,
		Timestamp: e.clock.Now().UTC(),
	}
	if len(details) > 0 {
		if data, err := json.Marshal(details); err == nil {
			s := string(data)
			entry.Details = &s
		}
	}
	if err := e.store.CreateAuditEntry(ctx, entry); err != nil {
		e.logger.WithError(err).Warn("Failed to write audit entry")
	}
}

// finish stamps the report, persists it as a check run and records metrics.
func (e *Engine) finish(ctx context.Context, report *Report, timer *telemetry.Timer, checkErr error) {
	report.FinishedAt = report.StartedAt.Add(timer.Duration())

	run := &stores.CheckRun{
		ID:          report.RunID,
		Source:      report.Source,
		StartedAt:   report.StartedAt,
		FinishedAt:  report.FinishedAt,
		InSync:      report.Summary.InSync,
		Toggled:     report.Summary.Toggled,
		Failed:      report.Summary.Failed,
		Unreachable: report.Summary.Unreachable,
		Deleted:     report.Summary.Deleted,
		Expired:     report.Summary.Expired,
		Lines:       report.Lines,
	}
	result := "success"
	if checkErr != nil {
		msg := checkErr.Error()
		run.Error = &msg
		result = "error"
	}

	// Record the run even if the pass context was cancelled.
	if err := e.store.CreateCheckRun(context.WithoutCancel(ctx), run); err != nil {
		e.logger.WithError(err).Warn("Failed to record check run")
	}

	e.metrics.RecordCheckCompleted(report.Source, result, timer.Duration())
}

// skipInvalid reports a record that cannot be evaluated. The rest of the pass
// goes on.
func (e *Engine) skipInvalid(report *Report, href, name string, err error) Outcome {
	report.logf("[SKIP] %s (ID: %s) has an invalid schedule: %v", name, pce.ExtractID(href), err)
	e.logger.WithCheckRunID(report.RunID).WithHref(href).WithError(err).Warn("Invalid schedule record")
	e.metrics.RecordError(string(ErrorClassPermanent))
	return Outcome{Href: href, Name: name, Result: ResultFailed, Error: err.Error()}
}

func displayName(rec *schedule.Record) string {
	if rec.Detail.Name != "" {
		return rec.Detail.Name
	}
	return rec.Name
}

func stateLabel(enabled bool) string {
	if enabled {
		return "Enabled"
	}
	return "Disabled"
}

// IsStoreFailure reports whether err aborted a pass because of the store.
func IsStoreFailure(err error) bool {
	var e *EngineError
	if !errors.As(err, &e) {
		return false
	}
	return e.Code == ErrCodeStoreLoad || e.Code == ErrCodeStoreDelete
}
