package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/t77yq/taskplan/internal/model"
)

// PlanLogStorage persists the schedule log and per-task completion records
// for replay, audit and deadline reporting.
type PlanLogStorage interface {
	// AppendStep stores one schedule log record
	AppendStep(ctx context.Context, record model.StepRecord) error

	// RecordCompletion stores a task's completion and deadline outcome
	RecordCompletion(ctx context.Context, completion model.Completion) error

	// Steps retrieves the schedule log in step order
	Steps(ctx context.Context) ([]model.StepRecord, error)

	// Completions retrieves all completion records ordered by finish time
	Completions(ctx context.Context) ([]model.Completion, error)

	// CountSteps returns the number of stored schedule records
	CountSteps(ctx context.Context) (int, error)
}

// SQLitePlanLog implements PlanLogStorage using SQLite
type SQLitePlanLog struct {
	logger *zap.Logger
	db     *sql.DB
}

// NewSQLitePlanLog creates a new SQLite-backed plan log at the given path.
func NewSQLitePlanLog(logger *zap.Logger, dbPath string) (*SQLitePlanLog, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	storage := &SQLitePlanLog{
		logger: logger,
		db:     db,
	}

	if err := storage.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	return storage, nil
}

// initialize creates the necessary tables if they don't exist
func (s *SQLitePlanLog) initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS plan_steps (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			time INTEGER NOT NULL,
			started TEXT NOT NULL,
			completed TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
		CREATE TABLE IF NOT EXISTS task_completions (
			task_id TEXT PRIMARY KEY,
			finished_at INTEGER NOT NULL,
			deadline INTEGER,
			status TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_plan_steps_time ON plan_steps(time);
		CREATE INDEX IF NOT EXISTS idx_task_completions_status ON task_completions(status);
	`)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	return nil
}

// AppendStep implements PlanLogStorage.AppendStep
func (s *SQLitePlanLog) AppendStep(ctx context.Context, record model.StepRecord) error {
	started, err := json.Marshal(record.Started)
	if err != nil {
		return fmt.Errorf("failed to marshal started ids: %w", err)
	}
	completed, err := json.Marshal(record.Completed)
	if err != nil {
		return fmt.Errorf("failed to marshal completed ids: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO plan_steps (time, started, completed) VALUES (?, ?, ?)`,
		record.Time,
		string(started),
		string(completed),
	)
	if err != nil {
		return fmt.Errorf("failed to append step record: %w", err)
	}
	return nil
}

// RecordCompletion implements PlanLogStorage.RecordCompletion
func (s *SQLitePlanLog) RecordCompletion(ctx context.Context, completion model.Completion) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO task_completions (task_id, finished_at, deadline, status)
		VALUES (?, ?, ?, ?)`,
		completion.TaskID,
		completion.FinishedAt,
		nullableInt(completion.Deadline),
		string(completion.Status),
	)
	if err != nil {
		return fmt.Errorf("failed to record completion: %w", err)
	}
	return nil
}

// Steps implements PlanLogStorage.Steps
func (s *SQLitePlanLog) Steps(ctx context.Context) ([]model.StepRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT time, started, completed FROM plan_steps ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list plan steps: %w", err)
	}
	defer rows.Close()

	var records []model.StepRecord
	for rows.Next() {
		var record model.StepRecord
		var started, completed string

		if err := rows.Scan(&record.Time, &started, &completed); err != nil {
			return nil, fmt.Errorf("failed to scan plan step: %w", err)
		}
		if err := json.Unmarshal([]byte(started), &record.Started); err != nil {
			return nil, fmt.Errorf("failed to unmarshal started ids: %w", err)
		}
		if err := json.Unmarshal([]byte(completed), &record.Completed); err != nil {
			return nil, fmt.Errorf("failed to unmarshal completed ids: %w", err)
		}

		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return records, nil
}

// Completions implements PlanLogStorage.Completions
func (s *SQLitePlanLog) Completions(ctx context.Context) ([]model.Completion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, finished_at, deadline, status
		FROM task_completions ORDER BY finished_at ASC, task_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list completions: %w", err)
	}
	defer rows.Close()

	var completions []model.Completion
	for rows.Next() {
		var completion model.Completion
		var deadline sql.NullInt64
		var status string

		if err := rows.Scan(&completion.TaskID, &completion.FinishedAt, &deadline, &status); err != nil {
			return nil, fmt.Errorf("failed to scan completion: %w", err)
		}
		if deadline.Valid {
			d := int(deadline.Int64)
			completion.Deadline = &d
		}
		completion.Status = model.DeadlineStatus(status)

		completions = append(completions, completion)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return completions, nil
}

// CountSteps implements PlanLogStorage.CountSteps
func (s *SQLitePlanLog) CountSteps(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM plan_steps").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count plan steps: %w", err)
	}
	return count, nil
}

// Close closes the database connection
func (s *SQLitePlanLog) Close() error {
	return s.db.Close()
}

func nullableInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}
