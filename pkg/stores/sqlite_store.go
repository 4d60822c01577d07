package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/pcesched/pcesched/pkg/pce"
	"github.com/pcesched/pcesched/pkg/schedule"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db   *sql.DB
	path string
	cfg  Config

	// mu serializes schedule reads and writes across callers.
	mu sync.RWMutex
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 4
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 2
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	// Every connection to :memory: is a separate database.
	if isMemory(cfg.Path) {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{
		path: cfg.Path,
		cfg:  cfg,
	}, nil
}

func isMemory(path string) bool {
	return path == ":memory:" || strings.Contains(path, "mode=memory")
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	sep := "?"
	if strings.Contains(s.path, "?") {
		sep = "&"
	}
	dsn := s.path + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	if !isMemory(s.path) {
		dsn += "&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Get retrieves the schedule for href.
func (s *SQLiteStore) Get(ctx context.Context, href string) (*schedule.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var spec string
	err := s.db.QueryRowContext(ctx, `SELECT spec FROM schedules WHERE href = ?`, href).Scan(&spec)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, href)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get schedule: %w", err)
	}

	return decodeRecord(href, spec)
}

// GetAll returns every schedule keyed by href.
func (s *SQLiteStore) GetAll(ctx context.Context) (map[string]*schedule.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT href, spec FROM schedules ORDER BY href`)
	if err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}
	defer rows.Close()

	out := make(map[string]*schedule.Record)
	var corrupt *CorruptError
	for rows.Next() {
		var href, spec string
		if err := rows.Scan(&href, &spec); err != nil {
			return nil, fmt.Errorf("failed to scan schedule: %w", err)
		}
		rec := &schedule.Record{}
		if err := json.Unmarshal([]byte(spec), rec); err != nil {
			if corrupt == nil {
				corrupt = &CorruptError{Records: make(map[string]error)}
			}
			corrupt.Records[href] = err
			continue
		}
		out[href] = rec
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating schedules: %w", err)
	}

	if corrupt != nil {
		return out, corrupt
	}
	return out, nil
}

func decodeRecord(href, spec string) (*schedule.Record, error) {
	rec := &schedule.Record{}
	if err := json.Unmarshal([]byte(spec), rec); err != nil {
		return nil, &CorruptError{Records: map[string]error{href: err}}
	}
	return rec, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsert(ctx context.Context, db execer, href string, rec *schedule.Record, now time.Time) error {
	spec, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode schedule: %w", err)
	}

	query := `
		INSERT INTO schedules (href, kind, name, is_ruleset, spec, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(href) DO UPDATE SET
			kind = excluded.kind,
			name = excluded.name,
			is_ruleset = excluded.is_ruleset,
			spec = excluded.spec,
			updated_at = excluded.updated_at
	`

	if _, err := db.ExecContext(ctx, query,
		href,
		string(rec.Kind()),
		rec.Name,
		rec.IsRuleSet,
		string(spec),
		now,
		now,
	); err != nil {
		return fmt.Errorf("failed to put schedule: %w", err)
	}
	return nil
}

// Put stores rec under href, replacing any existing schedule.
func (s *SQLiteStore) Put(ctx context.Context, href string, rec *schedule.Record) error {
	if href == "" {
		return fmt.Errorf("href is required")
	}
	if err := rec.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return upsert(ctx, s.db, href, rec, time.Now().UTC())
}

// Delete removes the schedule for href and reports whether it existed.
func (s *SQLiteStore) Delete(ctx context.Context, href string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.ExecContext(ctx, `DELETE FROM schedules WHERE href = ?`, href)
	if err != nil {
		return false, fmt.Errorf("failed to delete schedule: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows > 0, nil
}

// DeleteMany removes several schedules in one transaction and returns how
// many existed.
func (s *SQLiteStore) DeleteMany(ctx context.Context, hrefs []string) (int, error) {
	if len(hrefs) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	deleted := 0
	for _, href := range hrefs {
		result, err := tx.ExecContext(ctx, `DELETE FROM schedules WHERE href = ?`, href)
		if err != nil {
			return 0, fmt.Errorf("failed to delete schedule %s: %w", href, err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("failed to get rows affected: %w", err)
		}
		deleted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return deleted, nil
}

// ScheduleType reports whether ruleSet, or any rule inside it, is scheduled.
func (s *SQLiteStore) ScheduleType(ctx context.Context, ruleSet *pce.Object) (ScheduleType, error) {
	if ruleSet == nil {
		return ScheduleNone, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	exists := func(href string) (bool, error) {
		var n int
		err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM schedules WHERE href IN (?, ?)`,
			pce.ActiveHref(href), pce.DraftHref(href),
		).Scan(&n)
		if err != nil {
			return false, fmt.Errorf("failed to look up schedule: %w", err)
		}
		return n > 0, nil
	}

	self, err := exists(ruleSet.Href)
	if err != nil {
		return ScheduleNone, err
	}
	if self {
		return ScheduleSelf, nil
	}

	for _, rule := range ruleSet.Rules {
		found, err := exists(rule.Href)
		if err != nil {
			return ScheduleNone, err
		}
		if found {
			return ScheduleChild, nil
		}
	}
	return ScheduleNone, nil
}

// Import stores every record of doc in one transaction. With replace set,
// schedules absent from doc are removed.
func (s *SQLiteStore) Import(ctx context.Context, doc schedule.Document, replace bool) (int, error) {
	for href, rec := range doc {
		if err := rec.Validate(); err != nil {
			return 0, fmt.Errorf("schedule %s: %w", href, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if replace {
		if _, err := tx.ExecContext(ctx, `DELETE FROM schedules`); err != nil {
			return 0, fmt.Errorf("failed to clear schedules: %w", err)
		}
	}

	now := time.Now().UTC()
	for _, href := range doc.Hrefs() {
		if err := upsert(ctx, tx, href, doc[href], now); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return len(doc), nil
}

// Export returns every schedule as a document.
func (s *SQLiteStore) Export(ctx context.Context) (schedule.Document, error) {
	all, err := s.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	return schedule.Document(all), nil
}

// CreateCheckRun records a reconciliation pass
func (s *SQLiteStore) CreateCheckRun(ctx context.Context, run *CheckRun) error {
	lines, err := json.Marshal(run.Lines)
	if err != nil {
		return fmt.Errorf("failed to encode check run lines: %w", err)
	}

	query := `
		INSERT INTO check_runs (id, source, started_at, finished_at, in_sync, toggled, failed, unreachable, deleted, expired, lines, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		run.ID,
		run.Source,
		run.StartedAt,
		run.FinishedAt,
		run.InSync,
		run.Toggled,
		run.Failed,
		run.Unreachable,
		run.Deleted,
		run.Expired,
		string(lines),
		run.Error,
	)

	if err != nil {
		return fmt.Errorf("failed to create check run: %w", err)
	}

	return nil
}

// ListCheckRuns lists check runs, newest first
func (s *SQLiteStore) ListCheckRuns(ctx context.Context, limit, offset int) ([]*CheckRun, error) {
	query := `
		SELECT id, source, started_at, finished_at, in_sync, toggled, failed, unreachable, deleted, expired, lines, error
		FROM check_runs
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list check runs: %w", err)
	}
	defer rows.Close()

	runs := []*CheckRun{}
	for rows.Next() {
		run := &CheckRun{}
		var lines string
		err := rows.Scan(
			&run.ID,
			&run.Source,
			&run.StartedAt,
			&run.FinishedAt,
			&run.InSync,
			&run.Toggled,
			&run.Failed,
			&run.Unreachable,
			&run.Deleted,
			&run.Expired,
			&lines,
			&run.Error,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan check run: %w", err)
		}
		if err := json.Unmarshal([]byte(lines), &run.Lines); err != nil {
			return nil, fmt.Errorf("failed to decode check run lines: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating check runs: %w", err)
	}

	return runs, nil
}

// CreateAuditEntry creates a new audit log entry
func (s *SQLiteStore) CreateAuditEntry(ctx context.Context, entry *AuditEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	query := `
		INSERT INTO audit (action, actor, target_id, details, run_id, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		entry.Action,
		entry.Actor,
		entry.TargetID,
		entry.Details,
		entry.RunID,
		entry.Timestamp,
	)

	if err != nil {
		return fmt.Errorf("failed to create audit entry: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get audit entry ID: %w", err)
	}

	entry.ID = id
	return nil
}

// ListAuditEntries lists audit entries with optional filters and pagination
func (s *SQLiteStore) ListAuditEntries(ctx context.Context, action *string, target *string, limit, offset int) ([]*AuditEntry, error) {
	query := `
		SELECT id, action, actor, target_id, details, run_id, timestamp
		FROM audit
		WHERE (? IS NULL OR action = ?)
		  AND (? IS NULL OR target_id = ?)
		ORDER BY timestamp DESC, id DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, action, action, target, target, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	entries := []*AuditEntry{}
	for rows.Next() {
		entry := &AuditEntry{}
		err := rows.Scan(
			&entry.ID,
			&entry.Action,
			&entry.Actor,
			&entry.TargetID,
			&entry.Details,
			&entry.RunID,
			&entry.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit entries: %w", err)
	}

	return entries, nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}
