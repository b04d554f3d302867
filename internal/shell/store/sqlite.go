package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/kwonjuyong/stagehand/internal/core/domain"
	"github.com/kwonjuyong/stagehand/internal/core/pipeline"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// =============================================================================
// Executor Interface - Shared by DB and Transaction
// =============================================================================

// executor abstracts database operations that can be performed on both
// a database connection and a transaction.
type executor interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	NamedExecContext(ctx context.Context, query string, arg any) (sql.Result, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// =============================================================================
// SQLiteStore
// =============================================================================

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore creates a new SQLite store and runs migrations.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite3", dsn+"?_foreign_keys=on")
	if err != nil {
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to open database", ErrConnectionFailed)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to ping database", ErrConnectionFailed)
	}

	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", err.Error(), ErrMigrationFailed)
	}

	return &SQLiteStore{db: db}, nil
}

// runMigrations runs database migrations using embedded SQL files.
func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// =============================================================================
// Run Operations
// =============================================================================

// runRow represents a run row in the database.
type runRow struct {
	ID         string  `db:"id"`
	Project    string  `db:"project"`
	Ref        string  `db:"ref"`
	CommitHash string  `db:"commit_hash"`
	Status     string  `db:"status"`
	Error      string  `db:"error"`
	StartedAt  string  `db:"started_at"`
	FinishedAt *string `db:"finished_at"`
}

func (s *SQLiteStore) CreateRun(ctx context.Context, run *domain.Run) error {
	return createRun(ctx, s.db, run)
}

func (s *SQLiteStore) UpdateRun(ctx context.Context, run *domain.Run) error {
	return updateRun(ctx, s.db, run)
}

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*domain.Run, error) {
	return getRun(ctx, s.db, id)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, opts ListOptions) ([]domain.Run, error) {
	return listRuns(ctx, s.db, "", opts)
}

func (s *SQLiteStore) ListRunsByProject(ctx context.Context, project string, opts ListOptions) ([]domain.Run, error) {
	return listRuns(ctx, s.db, project, opts)
}

func (s *SQLiteStore) LatestRun(ctx context.Context, project string) (*domain.Run, error) {
	return latestRun(ctx, s.db, project)
}

func createRun(ctx context.Context, exec executor, run *domain.Run) error {
	query := `
		INSERT INTO runs (
			id, project, ref, commit_hash, status, error, started_at, finished_at
		) VALUES (
			:id, :project, :ref, :commit_hash, :status, :error, :started_at, :finished_at
		)`

	_, err := exec.NamedExecContext(ctx, query, runToRow(run))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: runs.id") {
			return NewStoreError("CreateRun", "run", run.ID, "run with this ID already exists", ErrDuplicateID)
		}
		return NewStoreError("CreateRun", "run", run.ID, err.Error(), err)
	}
	return nil
}

func updateRun(ctx context.Context, exec executor, run *domain.Run) error {
	query := `
		UPDATE runs SET
			status = :status, error = :error, commit_hash = :commit_hash,
			started_at = :started_at, finished_at = :finished_at
		WHERE id = :id`

	result, err := exec.NamedExecContext(ctx, query, runToRow(run))
	if err != nil {
		return NewStoreError("UpdateRun", "run", run.ID, err.Error(), err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return NewStoreError("UpdateRun", "run", run.ID, err.Error(), err)
	}
	if affected == 0 {
		return NewStoreError("UpdateRun", "run", run.ID, "run not found", ErrNotFound)
	}
	return nil
}

func getRun(ctx context.Context, exec executor, id string) (*domain.Run, error) {
	var row runRow
	err := exec.GetContext(ctx, &row, `SELECT * FROM runs WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetRun", "run", id, "run not found", ErrNotFound)
		}
		return nil, NewStoreError("GetRun", "run", id, err.Error(), err)
	}
	return rowToRun(&row)
}

func listRuns(ctx context.Context, exec executor, project string, opts ListOptions) ([]domain.Run, error) {
	opts = opts.Normalize()

	query := `SELECT * FROM runs ORDER BY started_at DESC LIMIT ? OFFSET ?`
	args := []any{opts.Limit, opts.Offset}
	if project != "" {
		query = `SELECT * FROM runs WHERE project = ? ORDER BY started_at DESC LIMIT ? OFFSET ?`
		args = []any{project, opts.Limit, opts.Offset}
	}

	var rows []runRow
	if err := exec.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, NewStoreError("ListRuns", "run", "", err.Error(), err)
	}

	runs := make([]domain.Run, 0, len(rows))
	for i := range rows {
		run, err := rowToRun(&rows[i])
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, nil
}

func latestRun(ctx context.Context, exec executor, project string) (*domain.Run, error) {
	var row runRow
	err := exec.GetContext(ctx, &row,
		`SELECT * FROM runs WHERE project = ? ORDER BY started_at DESC LIMIT 1`, project)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("LatestRun", "run", project, "no runs for project", ErrNotFound)
		}
		return nil, NewStoreError("LatestRun", "run", project, err.Error(), err)
	}
	return rowToRun(&row)
}

func runToRow(run *domain.Run) map[string]any {
	var finishedAt *string
	if run.FinishedAt != nil {
		v := run.FinishedAt.Format(time.RFC3339Nano)
		finishedAt = &v
	}
	return map[string]any{
		"id":          run.ID,
		"project":     run.Project,
		"ref":         run.Ref,
		"commit_hash": run.Commit,
		"status":      string(run.Status),
		"error":       run.Error,
		"started_at":  run.StartedAt.Format(time.RFC3339Nano),
		"finished_at": finishedAt,
	}
}

func rowToRun(row *runRow) (*domain.Run, error) {
	startedAt, err := time.Parse(time.RFC3339Nano, row.StartedAt)
	if err != nil {
		return nil, NewStoreError("rowToRun", "run", row.ID, "invalid started_at", err)
	}

	var finishedAt *time.Time
	if row.FinishedAt != nil {
		t, err := time.Parse(time.RFC3339Nano, *row.FinishedAt)
		if err != nil {
			return nil, NewStoreError("rowToRun", "run", row.ID, "invalid finished_at", err)
		}
		finishedAt = &t
	}

	return &domain.Run{
		ID:         row.ID,
		Project:    row.Project,
		Ref:        row.Ref,
		Commit:     row.CommitHash,
		Status:     pipeline.RunStatus(row.Status),
		Error:      row.Error,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
	}, nil
}

// =============================================================================
// Stage Record Operations
// =============================================================================

// stageRow represents a stage record row in the database.
type stageRow struct {
	RunID      string  `db:"run_id"`
	Seq        int     `db:"seq"`
	Stage      string  `db:"stage"`
	Status     string  `db:"status"`
	Message    string  `db:"message"`
	StartedAt  string  `db:"started_at"`
	FinishedAt *string `db:"finished_at"`
}

func (s *SQLiteStore) CreateStageRecord(ctx context.Context, rec *domain.StageRecord) error {
	return createStageRecord(ctx, s.db, rec)
}

func (s *SQLiteStore) UpdateStageRecord(ctx context.Context, rec *domain.StageRecord) error {
	return updateStageRecord(ctx, s.db, rec)
}

func (s *SQLiteStore) ListStageRecords(ctx context.Context, runID string) ([]domain.StageRecord, error) {
	return listStageRecords(ctx, s.db, runID)
}

func createStageRecord(ctx context.Context, exec executor, rec *domain.StageRecord) error {
	query := `
		INSERT INTO stage_records (
			run_id, seq, stage, status, message, started_at, finished_at
		) VALUES (
			:run_id, :seq, :stage, :status, :message, :started_at, :finished_at
		)`

	_, err := exec.NamedExecContext(ctx, query, stageToRow(rec))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return NewStoreError("CreateStageRecord", "stage_record", rec.RunID, "stage record already exists", ErrDuplicateID)
		}
		if strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
			return NewStoreError("CreateStageRecord", "stage_record", rec.RunID, "run does not exist", ErrForeignKey)
		}
		return NewStoreError("CreateStageRecord", "stage_record", rec.RunID, err.Error(), err)
	}
	return nil
}

func updateStageRecord(ctx context.Context, exec executor, rec *domain.StageRecord) error {
	query := `
		UPDATE stage_records SET
			status = :status, message = :message, finished_at = :finished_at
		WHERE run_id = :run_id AND seq = :seq`

	result, err := exec.NamedExecContext(ctx, query, stageToRow(rec))
	if err != nil {
		return NewStoreError("UpdateStageRecord", "stage_record", rec.RunID, err.Error(), err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return NewStoreError("UpdateStageRecord", "stage_record", rec.RunID, err.Error(), err)
	}
	if affected == 0 {
		return NewStoreError("UpdateStageRecord", "stage_record", rec.RunID, "stage record not found", ErrNotFound)
	}
	return nil
}

func listStageRecords(ctx context.Context, exec executor, runID string) ([]domain.StageRecord, error) {
	var rows []stageRow
	err := exec.SelectContext(ctx, &rows,
		`SELECT * FROM stage_records WHERE run_id = ? ORDER BY seq ASC`, runID)
	if err != nil {
		return nil, NewStoreError("ListStageRecords", "stage_record", runID, err.Error(), err)
	}

	records := make([]domain.StageRecord, 0, len(rows))
	for i := range rows {
		rec, err := rowToStage(&rows[i])
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, nil
}

func stageToRow(rec *domain.StageRecord) map[string]any {
	var finishedAt *string
	if rec.FinishedAt != nil {
		v := rec.FinishedAt.Format(time.RFC3339Nano)
		finishedAt = &v
	}
	return map[string]any{
		"run_id":      rec.RunID,
		"seq":         rec.Seq,
		"stage":       string(rec.Stage),
		"status":      string(rec.Status),
		"message":     rec.Message,
		"started_at":  rec.StartedAt.Format(time.RFC3339Nano),
		"finished_at": finishedAt,
	}
}

func rowToStage(row *stageRow) (*domain.StageRecord, error) {
	startedAt, err := time.Parse(time.RFC3339Nano, row.StartedAt)
	if err != nil {
		return nil, NewStoreError("rowToStage", "stage_record", row.RunID, "invalid started_at", err)
	}

	var finishedAt *time.Time
	if row.FinishedAt != nil {
		t, err := time.Parse(time.RFC3339Nano, *row.FinishedAt)
		if err != nil {
			return nil, NewStoreError("rowToStage", "stage_record", row.RunID, "invalid finished_at", err)
		}
		finishedAt = &t
	}

	return &domain.StageRecord{
		RunID:      row.RunID,
		Seq:        row.Seq,
		Stage:      pipeline.StageName(row.Stage),
		Status:     pipeline.StageStatus(row.Status),
		Message:    row.Message,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
	}, nil
}

// =============================================================================
// Transactions
// =============================================================================

// txSQLiteStore implements Store on an open transaction.
type txSQLiteStore struct {
	tx *sqlx.Tx
}

func (s *SQLiteStore) WithTx(ctx context.Context, fn func(Store) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return NewStoreError("WithTx", "", "", "failed to begin transaction", ErrTxFailed)
	}

	txS := &txSQLiteStore{tx: tx}

	if err := fn(txS); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return NewStoreError("WithTx", "", "", fmt.Sprintf("rollback failed after error: %v", err), ErrTxFailed)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return NewStoreError("WithTx", "", "", "failed to commit transaction", ErrTxFailed)
	}
	return nil
}

func (t *txSQLiteStore) CreateRun(ctx context.Context, run *domain.Run) error {
	return createRun(ctx, t.tx, run)
}

func (t *txSQLiteStore) UpdateRun(ctx context.Context, run *domain.Run) error {
	return updateRun(ctx, t.tx, run)
}

func (t *txSQLiteStore) GetRun(ctx context.Context, id string) (*domain.Run, error) {
	return getRun(ctx, t.tx, id)
}

func (t *txSQLiteStore) ListRuns(ctx context.Context, opts ListOptions) ([]domain.Run, error) {
	return listRuns(ctx, t.tx, "", opts)
}

func (t *txSQLiteStore) ListRunsByProject(ctx context.Context, project string, opts ListOptions) ([]domain.Run, error) {
	return listRuns(ctx, t.tx, project, opts)
}

func (t *txSQLiteStore) LatestRun(ctx context.Context, project string) (*domain.Run, error) {
	return latestRun(ctx, t.tx, project)
}

func (t *txSQLiteStore) CreateStageRecord(ctx context.Context, rec *domain.StageRecord) error {
	return createStageRecord(ctx, t.tx, rec)
}

func (t *txSQLiteStore) UpdateStageRecord(ctx context.Context, rec *domain.StageRecord) error {
	return updateStageRecord(ctx, t.tx, rec)
}

func (t *txSQLiteStore) ListStageRecords(ctx context.Context, runID string) ([]domain.StageRecord, error) {
	return listStageRecords(ctx, t.tx, runID)
}

func (t *txSQLiteStore) WithTx(ctx context.Context, fn func(Store) error) error {
	// Nested transactions are not supported; run in the current one
	return fn(t)
}

func (t *txSQLiteStore) Close() error {
	return nil
}
