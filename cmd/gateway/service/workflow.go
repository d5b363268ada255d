package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/weftlabs/weft/common/cache"
	"github.com/weftlabs/weft/common/models"
	"github.com/weftlabs/weft/common/validation"
)

// Logger interface for logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// ErrVersionConflict is returned when a compare-and-swap update loses to
// a concurrent edit. The caller should re-read and retry.
var ErrVersionConflict = errors.New("workflow was modified by another request")

// ValidationError marks a request the caller can fix. Handlers map it
// to 400.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

const (
	workflowCacheTTL = 5 * time.Minute

	defaultListLimit = 50
	maxListLimit     = 200
)

// WorkflowStore is the persistence surface the workflow service needs.
type WorkflowStore interface {
	Create(ctx context.Context, wf *models.Workflow) error
	GetByID(ctx context.Context, id uuid.UUID, userID string) (*models.Workflow, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]*models.Workflow, error)
	UpdateDefinition(ctx context.Context, id uuid.UUID, userID string, expectedVersion int, definition json.RawMessage, name string, description *string) (int, bool, error)
	Delete(ctx context.Context, id uuid.UUID, userID string) error
}

// WorkflowService manages stored workflow definitions. Definitions are
// not compiled here; the engine compiles on every submission, so drafts
// with build errors can be saved and fixed later.
type WorkflowService struct {
	store     WorkflowStore
	cache     cache.Cache
	validator *validation.PatchValidator
	logger    Logger
}

// WorkflowServiceOpts contains options for creating a WorkflowService
type WorkflowServiceOpts struct {
	Store  WorkflowStore
	Cache  cache.Cache
	Logger Logger
}

// NewWorkflowService creates a new workflow service
func NewWorkflowService(opts WorkflowServiceOpts) *WorkflowService {
	return &WorkflowService{
		store:     opts.Store,
		cache:     opts.Cache,
		validator: validation.NewPatchValidator(),
		logger:    opts.Logger,
	}
}

// CreateWorkflowRequest is the payload for creating a workflow
type CreateWorkflowRequest struct {
	Name        string          `json:"name"`
	Description *string         `json:"description,omitempty"`
	Definition  json.RawMessage `json:"definition"`
}

// UpdateWorkflowRequest replaces a workflow's definition. Version must
// match the stored row or the update is rejected.
type UpdateWorkflowRequest struct {
	Name        string          `json:"name"`
	Description *string         `json:"description,omitempty"`
	Definition  json.RawMessage `json:"definition"`
	Version     int             `json:"version"`
}

// Create stores a new workflow definition for the user.
func (s *WorkflowService) Create(ctx context.Context, userID string, req *CreateWorkflowRequest) (*models.Workflow, error) {
	if req.Name == "" {
		return nil, &ValidationError{Msg: "name is required"}
	}
	if len(req.Definition) == 0 {
		return nil, &ValidationError{Msg: "definition is required"}
	}
	if !json.Valid(req.Definition) {
		return nil, &ValidationError{Msg: "definition must be valid JSON"}
	}

	now := time.Now().UTC()
	wf := &models.Workflow{
		ID:          uuid.New(),
		UserID:      userID,
		Name:        req.Name,
		Description: req.Description,
		Definition:  req.Definition,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.store.Create(ctx, wf); err != nil {
		return nil, fmt.Errorf("failed to create workflow: %w", err)
	}

	s.logger.Info("Workflow created", "workflow_id", wf.ID, "user_id", userID, "name", wf.Name)
	return wf, nil
}

// Get loads a workflow, serving repeated reads from the cache.
func (s *WorkflowService) Get(ctx context.Context, userID string, id uuid.UUID) (*models.Workflow, error) {
	key := workflowCacheKey(userID, id)

	if data, found, err := s.cache.Get(ctx, key); err == nil && found {
		var wf models.Workflow
		if err := json.Unmarshal(data, &wf); err == nil {
			return &wf, nil
		}
		// A corrupt entry falls through to the database read.
	}

	wf, err := s.store.GetByID(ctx, id, userID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(wf); err == nil {
		if err := s.cache.Set(ctx, key, data, workflowCacheTTL); err != nil {
			s.logger.Warn("Failed to cache workflow", "workflow_id", id, "error", err)
		}
	}

	return wf, nil
}

// List returns the user's workflows, newest first.
func (s *WorkflowService) List(ctx context.Context, userID string, limit int) ([]*models.Workflow, error) {
	return s.store.ListByUser(ctx, userID, clampLimit(limit))
}

// Update replaces the workflow's definition if the caller's version
// matches the stored row.
func (s *WorkflowService) Update(ctx context.Context, userID string, id uuid.UUID, req *UpdateWorkflowRequest) (*models.Workflow, error) {
	if req.Name == "" {
		return nil, &ValidationError{Msg: "name is required"}
	}
	if len(req.Definition) == 0 {
		return nil, &ValidationError{Msg: "definition is required"}
	}
	if !json.Valid(req.Definition) {
		return nil, &ValidationError{Msg: "definition must be valid JSON"}
	}
	if req.Version < 1 {
		return nil, &ValidationError{Msg: "version is required"}
	}

	newVersion, ok, err := s.store.UpdateDefinition(ctx, id, userID, req.Version, req.Definition, req.Name, req.Description)
	if err != nil {
		return nil, fmt.Errorf("failed to update workflow: %w", err)
	}
	if !ok {
		// No row matched: either the workflow is gone or the version
		// is stale. Distinguish so the caller gets 404 vs 409.
		if _, err := s.store.GetByID(ctx, id, userID); err != nil {
			return nil, err
		}
		return nil, ErrVersionConflict
	}

	s.invalidate(ctx, userID, id)
	s.logger.Info("Workflow updated", "workflow_id", id, "user_id", userID, "version", newVersion)

	return &models.Workflow{
		ID:          id,
		UserID:      userID,
		Name:        req.Name,
		Description: req.Description,
		Definition:  req.Definition,
		Version:     newVersion,
		UpdatedAt:   time.Now().UTC(),
	}, nil
}

// Patch applies an RFC 6902 patch to the workflow's definition. The
// patch is validated against the path allowlist before it is applied,
// and the write is guarded by the version read here.
func (s *WorkflowService) Patch(ctx context.Context, userID string, id uuid.UUID, patchBody []byte) (*models.Workflow, error) {
	// 1. Validate the patch document against the allowed paths
	patch, err := s.validator.ValidatePatch(patchBody)
	if err != nil {
		return nil, &ValidationError{Msg: err.Error()}
	}

	// 2. Read the current definition; its version anchors the write
	wf, err := s.store.GetByID(ctx, id, userID)
	if err != nil {
		return nil, err
	}

	// 3. Apply the patch
	patched, err := patch.Apply(wf.Definition)
	if err != nil {
		return nil, &ValidationError{Msg: fmt.Sprintf("patch does not apply: %v", err)}
	}

	// 4. Write back at the version we read. A concurrent edit between
	// the read and this write surfaces as a conflict.
	name := wf.Name
	if patchedName := gjson.GetBytes(patched, "name").String(); patchedName != "" {
		name = patchedName
	}
	newVersion, ok, err := s.store.UpdateDefinition(ctx, id, userID, wf.Version, patched, name, wf.Description)
	if err != nil {
		return nil, fmt.Errorf("failed to update workflow: %w", err)
	}
	if !ok {
		return nil, ErrVersionConflict
	}

	s.invalidate(ctx, userID, id)
	s.logger.Info("Workflow patched", "workflow_id", id, "user_id", userID, "version", newVersion, "ops", len(patch))

	wf.Name = name
	wf.Definition = patched
	wf.Version = newVersion
	wf.UpdatedAt = time.Now().UTC()
	return wf, nil
}

// Delete removes the workflow. Past executions keep their rows; only
// the definition goes away.
func (s *WorkflowService) Delete(ctx context.Context, userID string, id uuid.UUID) error {
	if err := s.store.Delete(ctx, id, userID); err != nil {
		return err
	}
	s.invalidate(ctx, userID, id)
	s.logger.Info("Workflow deleted", "workflow_id", id, "user_id", userID)
	return nil
}

func (s *WorkflowService) invalidate(ctx context.Context, userID string, id uuid.UUID) {
	if err := s.cache.Delete(ctx, workflowCacheKey(userID, id)); err != nil {
		s.logger.Warn("Failed to invalidate workflow cache", "workflow_id", id, "error", err)
	}
}

func workflowCacheKey(userID string, id uuid.UUID) string {
	return fmt.Sprintf("workflow:%s:%s", userID, id)
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
