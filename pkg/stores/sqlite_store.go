package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// Config holds SQLite store configuration.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// SQLiteStore keeps runs in a SQLite database through the pure Go modernc
// driver.
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

var _ Store = (*SQLiteStore)(nil)

var errNotInitialized = errors.New("store not initialized")

// NewSQLiteStore validates cfg and fills in pool defaults. Call Init to open
// the database.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if cfg.Path == MemoryPath {
		// Every connection to :memory: sees its own database.
		cfg.MaxOpenConns, cfg.MaxIdleConns, cfg.ConnMaxLifetime = 1, 1, 0
		return &SQLiteStore{cfg: cfg}, nil
	}
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 8
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 2
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	return &SQLiteStore{cfg: cfg}, nil
}

// Init opens the database. File databases use WAL journaling.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := s.cfg.Path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	if s.cfg.Path != MemoryPath {
		dsn += "&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", s.cfg.Path, err)
	}
	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to open %s: %w", s.cfg.Path, err)
	}
	s.db = db
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Migrate applies the embedded schema migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return errNotInitialized
	}

	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}
	target, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("migration target: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", target)
	if err != nil {
		return fmt.Errorf("migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to migrate: %w", err)
	}
	return nil
}

// HealthCheck pings the database.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return errNotInitialized
	}
	return s.db.PingContext(ctx)
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// queryAll runs query and scans every row with scan.
func queryAll[T any](ctx context.Context, db *sql.DB, scan func(rowScanner) (*T, error), query string, args ...any) ([]*T, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*T{}
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// withTx runs fn in a transaction that is committed when fn succeeds.
func (s *SQLiteStore) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// oneRow maps a write that matched no row to ErrNotFound.
func oneRow(res sql.Result, what, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound(what, id)
	}
	return nil
}

// Runs

const runColumns = `id, study, driver, status, started_at, completed_at, error, metadata, created_at, updated_at`

func scanRun(r rowScanner) (*Run, error) {
	run := &Run{}
	err := r.Scan(&run.ID, &run.Study, &run.Driver, &run.Status, &run.StartedAt,
		&run.CompletedAt, &run.Error, &run.Metadata, &run.CreatedAt, &run.UpdatedAt)
	return run, err
}

// CreateRun inserts run, stamping its times and an empty metadata object
// when unset.
func (s *SQLiteStore) CreateRun(ctx context.Context, run *Run) error {
	now := time.Now().UTC()
	for _, t := range []*time.Time{&run.CreatedAt, &run.UpdatedAt, &run.StartedAt} {
		if t.IsZero() {
			*t = now
		}
	}
	if run.Metadata == "" {
		run.Metadata = "{}"
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (`+runColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Study, run.Driver, run.Status, run.StartedAt,
		run.CompletedAt, run.Error, run.Metadata, run.CreatedAt, run.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create run %s: %w", run.ID, err)
	}
	return nil
}

// GetRun returns the run with the given ID or ErrNotFound.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	run, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("run", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run %s: %w", id, err)
	}
	return run, nil
}

// UpdateRunStatus sets the status and error of a run. Terminal statuses also
// set completed_at.
func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, id string, status RunStatus, errMsg *string) error {
	now := time.Now().UTC()
	var completedAt *time.Time
	if status.Terminal() {
		completedAt = &now
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, completed_at = ?, updated_at = ? WHERE id = ?`,
		status, errMsg, completedAt, now, id)
	if err != nil {
		return fmt.Errorf("failed to update run %s: %w", id, err)
	}
	return oneRow(res, "run", id)
}

// ListRuns pages through runs, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit, offset int) ([]*Run, error) {
	runs, err := queryAll(ctx, s.db, scanRun,
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

// DeleteRun removes a run. Its parameters, cases and events cascade.
func (s *SQLiteStore) DeleteRun(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete run %s: %w", id, err)
	}
	return oneRow(res, "run", id)
}

// Parameters

func scanParameter(r rowScanner) (*Parameter, error) {
	p := &Parameter{}
	err := r.Scan(&p.RunID, &p.Position, &p.Key, &p.Targets, &p.Low, &p.High, &p.FDStep)
	return p, err
}

// SaveParameters stores all parameters of a run atomically.
func (s *SQLiteStore) SaveParameters(ctx context.Context, runID string, params []*Parameter) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO parameters (run_id, position, param_key, targets, low, high, fd_step) VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, p := range params {
			p.RunID = runID
			if _, err := stmt.ExecContext(ctx, runID, p.Position, p.Key, p.Targets, p.Low, p.High, p.FDStep); err != nil {
				return fmt.Errorf("parameter %s: %w", p.Key, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save parameters of run %s: %w", runID, err)
	}
	return nil
}

// ListParameters returns the parameters of a run in driver order.
func (s *SQLiteStore) ListParameters(ctx context.Context, runID string) ([]*Parameter, error) {
	params, err := queryAll(ctx, s.db, scanParameter,
		`SELECT run_id, position, param_key, targets, low, high, fd_step FROM parameters WHERE run_id = ? ORDER BY position`,
		runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list parameters of run %s: %w", runID, err)
	}
	return params, nil
}

// Cases

const caseColumns = `id, run_id, seq, label, inputs, outputs, msg, created_at`

func scanCase(r rowScanner) (*CaseRecord, error) {
	c := &CaseRecord{}
	err := r.Scan(&c.ID, &c.RunID, &c.Seq, &c.Label, &c.Inputs, &c.Outputs, &c.Msg, &c.CreatedAt)
	return c, err
}

// AppendCase stores a recorded case.
func (s *SQLiteStore) AppendCase(ctx context.Context, c *CaseRecord) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cases (`+caseColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.RunID, c.Seq, c.Label, c.Inputs, c.Outputs, c.Msg, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append case %s: %w", c.Label, err)
	}
	return nil
}

// ListCases returns the cases of a run in recording order.
func (s *SQLiteStore) ListCases(ctx context.Context, runID string) ([]*CaseRecord, error) {
	cases, err := queryAll(ctx, s.db, scanCase,
		`SELECT `+caseColumns+` FROM cases WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list cases of run %s: %w", runID, err)
	}
	return cases, nil
}

// Events

func scanEvent(r rowScanner) (*Event, error) {
	e := &Event{}
	err := r.Scan(&e.ID, &e.RunID, &e.Level, &e.Message, &e.Details, &e.Timestamp)
	return e, err
}

// AppendEvent appends event to the log and sets its ID.
func (s *SQLiteStore) AppendEvent(ctx context.Context, event *Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO events (run_id, level, message, details, timestamp) VALUES (?, ?, ?, ?, ?)`,
		event.RunID, event.Level, event.Message, event.Details, event.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	if event.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// GetEvents pages through the event log in insertion order. Nil filters
// match every run or level.
func (s *SQLiteStore) GetEvents(ctx context.Context, runID *string, level *EventLevel, limit, offset int) ([]*Event, error) {
	events, err := queryAll(ctx, s.db, scanEvent, `
		SELECT id, run_id, level, message, details, timestamp
		FROM events
		WHERE (? IS NULL OR run_id = ?) AND (? IS NULL OR level = ?)
		ORDER BY id
		LIMIT ? OFFSET ?`,
		runID, runID, level, level, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	return events, nil
}
