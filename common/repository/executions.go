package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/weftlabs/weft/common/db"
	"github.com/weftlabs/weft/common/models"
	"github.com/weftlabs/weft/common/sdk"
)

// ExecutionRepository handles database operations for executions
type ExecutionRepository struct {
	db *db.DB
}

// NewExecutionRepository creates a new execution repository
func NewExecutionRepository(database *db.DB) *ExecutionRepository {
	return &ExecutionRepository{db: database}
}

// Create inserts a new execution row
func (r *ExecutionRepository) Create(ctx context.Context, exec *models.Execution) error {
	query := `
		INSERT INTO executions (id, workflow_id, user_id, status, submitted_at, last_event_at)
		VALUES ($1, $2, $3, $4, $5, $5)
	`

	_, err := r.db.Exec(
		ctx,
		query,
		exec.ID,
		exec.WorkflowID,
		exec.UserID,
		exec.Status,
		exec.SubmittedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create execution: %w", err)
	}

	return nil
}

const executionColumns = `
	id, workflow_id, user_id, status, result,
	error_kind, error_message, failed_node_id,
	duration_ms, node_count, retried_count, pruned_output_count,
	submitted_at, started_at, completed_at, last_event_at
`

func scanExecution(row pgx.Row) (*models.Execution, error) {
	exec := &models.Execution{}
	err := row.Scan(
		&exec.ID,
		&exec.WorkflowID,
		&exec.UserID,
		&exec.Status,
		&exec.Result,
		&exec.ErrorKind,
		&exec.ErrorMessage,
		&exec.FailedNodeID,
		&exec.DurationMs,
		&exec.NodeCount,
		&exec.RetriedCount,
		&exec.PrunedOutputCount,
		&exec.SubmittedAt,
		&exec.StartedAt,
		&exec.CompletedAt,
		&exec.LastEventAt,
	)
	if err != nil {
		return nil, err
	}
	return exec, nil
}

// GetByID retrieves an execution without ownership scoping (engine use)
func (r *ExecutionRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM executions WHERE id = $1`

	exec, err := scanExecution(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("execution %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get execution: %w", err)
	}

	return exec, nil
}

// GetByIDForUser retrieves an execution owned by the given user
func (r *ExecutionRepository) GetByIDForUser(ctx context.Context, id uuid.UUID, userID string) (*models.Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM executions WHERE id = $1 AND user_id = $2`

	exec, err := scanExecution(r.db.QueryRow(ctx, query, id, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("execution %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get execution: %w", err)
	}

	return exec, nil
}

// ListByUser retrieves executions submitted by a user, newest first
func (r *ExecutionRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*models.Execution, error) {
	query := `
		SELECT ` + executionColumns + `
		FROM executions
		WHERE user_id = $1
		ORDER BY submitted_at DESC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	var executions []*models.Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		executions = append(executions, exec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	return executions, nil
}

// MarkRunning transitions an execution to running and records its start
func (r *ExecutionRepository) MarkRunning(ctx context.Context, id uuid.UUID, startedAt time.Time) error {
	query := `
		UPDATE executions
		SET status = $2, started_at = COALESCE(started_at, $3), last_event_at = NOW()
		WHERE id = $1
	`

	_, err := r.db.Exec(ctx, query, id, sdk.StatusRunning, startedAt)
	if err != nil {
		return fmt.Errorf("failed to mark execution running: %w", err)
	}

	return nil
}

// UpdateStatus updates the status of a non-terminal execution
func (r *ExecutionRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	query := `
		UPDATE executions
		SET status = $2, last_event_at = NOW()
		WHERE id = $1
	`

	_, err := r.db.Exec(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("failed to update execution status: %w", err)
	}

	return nil
}

// Complete records a terminal status together with the full result and
// its extracted columns
func (r *ExecutionRepository) Complete(ctx context.Context, id uuid.UUID, status string, result *sdk.ExecutionResult, completedAt time.Time) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	var errorKind, errorMessage, failedNodeID *string
	if result.Error != nil {
		errorKind = &result.Error.Kind
		errorMessage = &result.Error.Message
	}
	if result.FailedNodeID != "" {
		failedNodeID = &result.FailedNodeID
	}

	query := `
		UPDATE executions
		SET status = $2, result = $3,
		    error_kind = $4, error_message = $5, failed_node_id = $6,
		    duration_ms = $7, node_count = $8, retried_count = $9, pruned_output_count = $10,
		    completed_at = $11, last_event_at = NOW()
		WHERE id = $1
	`

	_, err = r.db.Exec(ctx, query,
		id,
		status,
		data,
		errorKind,
		errorMessage,
		failedNodeID,
		result.Metrics.DurationMs,
		result.Metrics.NodeCount,
		result.Metrics.RetriedCount,
		result.Metrics.PrunedOutputCount,
		completedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to complete execution: %w", err)
	}

	return nil
}

// TouchLastEvent advances the progress marker without changing status
func (r *ExecutionRepository) TouchLastEvent(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE executions SET last_event_at = NOW() WHERE id = $1`

	_, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to touch execution: %w", err)
	}

	return nil
}

// ListStalled finds active executions with no event since the cutoff
func (r *ExecutionRepository) ListStalled(ctx context.Context, cutoff time.Time, limit int) ([]*models.Execution, error) {
	query := `
		SELECT ` + executionColumns + `
		FROM executions
		WHERE status IN ($1, $2, $3) AND last_event_at < $4
		ORDER BY last_event_at ASC
		LIMIT $5
	`

	rows, err := r.db.Query(ctx, query, sdk.StatusQueued, sdk.StatusRunning, sdk.StatusPaused, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stalled executions: %w", err)
	}
	defer rows.Close()

	var executions []*models.Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		executions = append(executions, exec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stalled executions: %w", err)
	}

	return executions, nil
}

// MarkFailed force-fails an execution, guarded by its current status.
// Returns false when the row was already terminal.
func (r *ExecutionRepository) MarkFailed(ctx context.Context, id uuid.UUID, errorKind, errorMessage string) (bool, error) {
	query := `
		UPDATE executions
		SET status = $2, error_kind = $3, error_message = $4,
		    completed_at = NOW(), last_event_at = NOW()
		WHERE id = $1 AND status IN ($5, $6, $7)
	`

	result, err := r.db.Exec(ctx, query,
		id,
		sdk.StatusFailed,
		errorKind,
		errorMessage,
		sdk.StatusQueued,
		sdk.StatusRunning,
		sdk.StatusPaused,
	)

	if err != nil {
		return false, fmt.Errorf("failed to mark execution failed: %w", err)
	}

	return result.RowsAffected() > 0, nil
}
