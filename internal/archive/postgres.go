// Package archive persists settled tasks to PostgreSQL for long-term
// retention. The live coordinator store only holds tasks still moving
// through the lifecycle; everything settled lands here.
package archive

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/tro-protocol/coordinator/internal/types"
	"github.com/tro-protocol/coordinator/pkg/logger"
)

// PostgresArchive implements the coordinator's Archiver on PostgreSQL.
type PostgresArchive struct {
	db  *sql.DB
	log *logger.Logger
}

// NewPostgresArchive connects to PostgreSQL and initializes the schema.
func NewPostgresArchive(databaseURL string, log *logger.Logger) (*PostgresArchive, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	a := &PostgresArchive{db: db, log: log.With("component", "archive")}
	if err := a.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return a, nil
}

func (a *PostgresArchive) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS settled_tasks (
		id BIGINT PRIMARY KEY,
		submitter VARCHAR(255) NOT NULL,
		intent TEXT NOT NULL,
		fingerprint VARCHAR(64) NOT NULL,
		status VARCHAR(32) NOT NULL,
		workflow VARCHAR(32) NOT NULL,
		criticality VARCHAR(32) NOT NULL,
		result_hash VARCHAR(255),
		result_reversed BOOLEAN NOT NULL DEFAULT FALSE,
		stake_pool NUMERIC(39, 0) NOT NULL,
		paid_out NUMERIC(39, 0) NOT NULL,
		returned NUMERIC(39, 0) NOT NULL,
		fee_charged NUMERIC(39, 0) NOT NULL,
		task_json JSONB NOT NULL,
		outputs_json JSONB NOT NULL,
		created_at TIMESTAMP NOT NULL,
		settled_at TIMESTAMP NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_settled_tasks_submitter ON settled_tasks(submitter);
	CREATE INDEX IF NOT EXISTS idx_settled_tasks_fingerprint ON settled_tasks(fingerprint);
	CREATE INDEX IF NOT EXISTS idx_settled_tasks_settled_at ON settled_tasks(settled_at);
	`
	if _, err := a.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// Archive stores one settled task with its outputs. Re-archiving the same
// task overwrites the previous row, so settlement retries are safe.
func (a *PostgresArchive) Archive(task types.Task, outputs []types.TaskOutput) error {
	taskJSON, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task %d: %w", task.ID, err)
	}
	outputsJSON, err := json.Marshal(outputs)
	if err != nil {
		return fmt.Errorf("failed to marshal outputs for task %d: %w", task.ID, err)
	}

	query := `
	INSERT INTO settled_tasks (
		id, submitter, intent, fingerprint, status, workflow, criticality,
		result_hash, result_reversed, stake_pool, paid_out, returned,
		fee_charged, task_json, outputs_json, created_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	ON CONFLICT (id) DO UPDATE SET
		status = EXCLUDED.status,
		result_hash = EXCLUDED.result_hash,
		result_reversed = EXCLUDED.result_reversed,
		paid_out = EXCLUDED.paid_out,
		returned = EXCLUDED.returned,
		fee_charged = EXCLUDED.fee_charged,
		task_json = EXCLUDED.task_json,
		outputs_json = EXCLUDED.outputs_json,
		settled_at = NOW()`

	_, err = a.db.Exec(query,
		int64(task.ID), task.Submitter, task.Intent, task.Fingerprint,
		task.Status.String(), task.Workflow.String(), task.Criticality.String(),
		task.ResultRef, task.Reversed,
		task.StakePool.String(), task.PaidOut.String(), task.Returned.String(),
		task.FeeCharged.String(), taskJSON, outputsJSON, task.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to archive task %d: %w", task.ID, err)
	}

	a.log.Debug("task archived", "task", task.ID, "status", task.Status.String())
	return nil
}

// Task loads one archived task by ID.
func (a *PostgresArchive) Task(id uint64) (types.Task, []types.TaskOutput, error) {
	var taskJSON, outputsJSON []byte
	err := a.db.QueryRow(
		`SELECT task_json, outputs_json FROM settled_tasks WHERE id = $1`, int64(id),
	).Scan(&taskJSON, &outputsJSON)
	if err == sql.ErrNoRows {
		return types.Task{}, nil, types.ErrTaskNotFound.Wrapf("task %d not archived", id)
	}
	if err != nil {
		return types.Task{}, nil, fmt.Errorf("failed to load archived task %d: %w", id, err)
	}

	var task types.Task
	if err := json.Unmarshal(taskJSON, &task); err != nil {
		return types.Task{}, nil, fmt.Errorf("failed to unmarshal archived task %d: %w", id, err)
	}
	var outputs []types.TaskOutput
	if err := json.Unmarshal(outputsJSON, &outputs); err != nil {
		return types.Task{}, nil, fmt.Errorf("failed to unmarshal archived outputs for task %d: %w", id, err)
	}
	return task, outputs, nil
}

// TasksBySubmitter lists a submitter's archived tasks, most recent first.
func (a *PostgresArchive) TasksBySubmitter(submitter string, limit int) ([]types.Task, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := a.db.Query(
		`SELECT task_json FROM settled_tasks WHERE submitter = $1 ORDER BY settled_at DESC LIMIT $2`,
		submitter, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query archived tasks: %w", err)
	}
	defer rows.Close()

	var tasks []types.Task
	for rows.Next() {
		var taskJSON []byte
		if err := rows.Scan(&taskJSON); err != nil {
			return nil, fmt.Errorf("failed to scan archived task: %w", err)
		}
		var task types.Task
		if err := json.Unmarshal(taskJSON, &task); err != nil {
			return nil, fmt.Errorf("failed to unmarshal archived task: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// Stats returns archive row counts grouped by terminal status.
func (a *PostgresArchive) Stats() (map[string]int64, error) {
	rows, err := a.db.Query(`SELECT status, COUNT(*) FROM settled_tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to query archive stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[string]int64)
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan archive stats: %w", err)
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// Close closes the database connection.
func (a *PostgresArchive) Close() error {
	return a.db.Close()
}
