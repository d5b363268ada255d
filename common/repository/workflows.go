package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/weftlabs/weft/common/db"
	"github.com/weftlabs/weft/common/models"
)

// WorkflowRepository handles database operations for stored workflows
type WorkflowRepository struct {
	db *db.DB
}

// NewWorkflowRepository creates a new workflow repository
func NewWorkflowRepository(database *db.DB) *WorkflowRepository {
	return &WorkflowRepository{db: database}
}

// Create inserts a new workflow
func (r *WorkflowRepository) Create(ctx context.Context, wf *models.Workflow) error {
	query := `
		INSERT INTO workflows (id, user_id, name, description, definition, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.db.Exec(
		ctx,
		query,
		wf.ID,
		wf.UserID,
		wf.Name,
		wf.Description,
		wf.Definition,
		wf.Version,
		wf.CreatedAt,
		wf.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create workflow: %w", err)
	}

	return nil
}

// GetByID retrieves a workflow owned by the given user
func (r *WorkflowRepository) GetByID(ctx context.Context, id uuid.UUID, userID string) (*models.Workflow, error) {
	query := `
		SELECT id, user_id, name, description, definition, version, created_at, updated_at
		FROM workflows
		WHERE id = $1 AND user_id = $2
	`

	wf := &models.Workflow{}
	err := r.db.QueryRow(ctx, query, id, userID).Scan(
		&wf.ID,
		&wf.UserID,
		&wf.Name,
		&wf.Description,
		&wf.Definition,
		&wf.Version,
		&wf.CreatedAt,
		&wf.UpdatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("workflow %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}

	return wf, nil
}

// ListByUser retrieves workflows owned by a user, newest first
func (r *WorkflowRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*models.Workflow, error) {
	query := `
		SELECT id, user_id, name, description, definition, version, created_at, updated_at
		FROM workflows
		WHERE user_id = $1
		ORDER BY updated_at DESC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	defer rows.Close()

	var workflows []*models.Workflow
	for rows.Next() {
		wf := &models.Workflow{}
		err := rows.Scan(
			&wf.ID,
			&wf.UserID,
			&wf.Name,
			&wf.Description,
			&wf.Definition,
			&wf.Version,
			&wf.CreatedAt,
			&wf.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}
		workflows = append(workflows, wf)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workflows: %w", err)
	}

	return workflows, nil
}

// UpdateDefinition replaces the definition with optimistic locking.
// Returns false when expectedVersion no longer matches (no error); the
// caller decides whether to retry or surface a conflict.
func (r *WorkflowRepository) UpdateDefinition(ctx context.Context, id uuid.UUID, userID string, expectedVersion int, definition json.RawMessage, name string, description *string) (int, bool, error) {
	query := `
		UPDATE workflows
		SET definition = $4, name = $5, description = $6,
		    version = version + 1, updated_at = NOW()
		WHERE id = $1 AND user_id = $2 AND version = $3
		RETURNING version
	`

	var newVersion int
	err := r.db.QueryRow(ctx, query,
		id,
		userID,
		expectedVersion,
		definition,
		name,
		description,
	).Scan(&newVersion)

	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to update workflow: %w", err)
	}

	return newVersion, true, nil
}

// Delete removes a workflow owned by the given user
func (r *WorkflowRepository) Delete(ctx context.Context, id uuid.UUID, userID string) error {
	query := `DELETE FROM workflows WHERE id = $1 AND user_id = $2`

	result, err := r.db.Exec(ctx, query, id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("workflow %s: %w", id, ErrNotFound)
	}

	return nil
}
