package engine

import (
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/pcesched/pcesched/pkg/pce"
	"github.com/pcesched/pcesched/pkg/schedule"
	"github.com/pcesched/pcesched/pkg/stores"
	"github.com/pcesched/pcesched/pkg/telemetry"
)

// Store is the subset of the schedule store a pass needs.
type Store interface {
	GetAll(ctx context.Context) (map[string]*schedule.Record, error)
	DeleteMany(ctx context.Context, hrefs []string) (int, error)
	CreateCheckRun(ctx context.Context, run *stores.CheckRun) error
	CreateAuditEntry(ctx context.Context, entry *stores.AuditEntry) error
}

// Remote is the subset of the PCE client a pass needs.
type Remote interface {
	GetLiveItem(ctx context.Context, href string) (*pce.Object, error)
	ToggleAndProvision(ctx context.Context, href string, enabled, isRuleSet bool) error
	UpdateRuleNote(ctx context.Context, href, note string, remove bool) (bool, error)
}

// Engine runs reconciliation passes. Passes are serialized: a Check call
// waits for any pass already in progress.
type Engine struct {
	store  Store
	remote Remote

	clock   Clock
	loc     *time.Location
	logger  *telemetry.Logger
	metrics *telemetry.Metrics
	tracer  *telemetry.Tracer
	out     io.Writer

	retainFailedExpiry bool

	mu sync.Mutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the time source.
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithLocation sets the zone in which weekdays and times of day are
// evaluated. Without it each pass uses the value of time.Local at the time
// the pass starts.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) { e.loc = loc }
}

// SetLocation replaces the evaluation zone for subsequent passes. A nil loc
// falls back to time.Local.
func (e *Engine) SetLocation(loc *time.Location) {
	e.mu.Lock()
	e.loc = loc
	e.mu.Unlock()
}

// WithLogger sets the logger.
func WithLogger(l *telemetry.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l.NewComponentLogger("engine")
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithTracer sets the tracer.
func WithTracer(t *telemetry.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// WithOutput sets where report lines are echoed. Defaults to stdout.
func WithOutput(w io.Writer) Option {
	return func(e *Engine) { e.out = w }
}

// WithRetainFailedExpiry keeps an expired one-time schedule in the store
// when disabling its object failed, so the next pass retries the disable.
// By default the record is removed regardless.
func WithRetainFailedExpiry(retain bool) Option {
	return func(e *Engine) { e.retainFailedExpiry = retain }
}

// New creates an Engine.
func New(store Store, remote Remote, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		remote: remote,
		clock:  RealClock{},
		logger: telemetry.NewNopLogger(),
		out:    os.Stdout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CheckOptions controls a single pass.
type CheckOptions struct {
	// Silent suppresses echoing report lines to the output writer.
	Silent bool

	// Source identifies who started the pass ("cli", "monitor", "api").
	Source string
}
