package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/weftlabs/weft/common/models"
	"github.com/weftlabs/weft/common/repository"
)

type nopLogger struct{}

func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
func (nopLogger) Debug(string, ...any) {}

// fakeWorkflowStore is an in-memory WorkflowStore with the same
// compare-and-swap behavior as the real repository.
type fakeWorkflowStore struct {
	mu          sync.Mutex
	rows        map[uuid.UUID]*models.Workflow
	getCalls    int
	failNextCAS bool
}

func newFakeWorkflowStore() *fakeWorkflowStore {
	return &fakeWorkflowStore{rows: make(map[uuid.UUID]*models.Workflow)}
}

func (f *fakeWorkflowStore) Create(ctx context.Context, wf *models.Workflow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *wf
	f.rows[wf.ID] = &cp
	return nil
}

func (f *fakeWorkflowStore) GetByID(ctx context.Context, id uuid.UUID, userID string) (*models.Workflow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	wf, ok := f.rows[id]
	if !ok || wf.UserID != userID {
		return nil, fmt.Errorf("workflow %s: %w", id, repository.ErrNotFound)
	}
	cp := *wf
	return &cp, nil
}

func (f *fakeWorkflowStore) ListByUser(ctx context.Context, userID string, limit int) ([]*models.Workflow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Workflow
	for _, wf := range f.rows {
		if wf.UserID == userID && len(out) < limit {
			cp := *wf
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeWorkflowStore) UpdateDefinition(ctx context.Context, id uuid.UUID, userID string, expectedVersion int, definition json.RawMessage, name string, description *string) (int, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNextCAS {
		f.failNextCAS = false
		return 0, false, nil
	}
	wf, ok := f.rows[id]
	if !ok || wf.UserID != userID || wf.Version != expectedVersion {
		return 0, false, nil
	}
	wf.Version++
	wf.Definition = definition
	wf.Name = name
	wf.Description = description
	wf.UpdatedAt = time.Now().UTC()
	return wf.Version, true, nil
}

func (f *fakeWorkflowStore) Delete(ctx context.Context, id uuid.UUID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	wf, ok := f.rows[id]
	if !ok || wf.UserID != userID {
		return fmt.Errorf("workflow %s: %w", id, repository.ErrNotFound)
	}
	delete(f.rows, id)
	return nil
}

// fakeCache is a map-backed cache.Cache for asserting invalidation.
type fakeCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newFakeCache() *fakeCache {
	return &fakeCache{data: make(map[string][]byte)}
}

func (f *fakeCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	return v, ok, nil
}

func (f *fakeCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = value
	return nil
}

func (f *fakeCache) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, key)
	return nil
}

func (f *fakeCache) Close() error { return nil }

func newTestWorkflowService() (*WorkflowService, *fakeWorkflowStore, *fakeCache) {
	store := newFakeWorkflowStore()
	c := newFakeCache()
	svc := NewWorkflowService(WorkflowServiceOpts{
		Store:  store,
		Cache:  c,
		Logger: nopLogger{},
	})
	return svc, store, c
}

func simpleDefinition() json.RawMessage {
	return json.RawMessage(`{
		"name": "wf",
		"entry_point": "t",
		"nodes": {
			"t": {"type": "trigger", "name": "t", "config": {}},
			"s": {"type": "transform", "name": "s", "config": {"expression": "input"}},
			"out": {"type": "output", "name": "out", "config": {}}
		},
		"edges": [
			{"id": "e1", "source": "t", "target": "s"},
			{"id": "e2", "source": "s", "target": "out"}
		]
	}`)
}

func TestWorkflowService_CreateValidation(t *testing.T) {
	svc, _, _ := newTestWorkflowService()
	ctx := context.Background()

	cases := []struct {
		name string
		req  *CreateWorkflowRequest
	}{
		{"missing name", &CreateWorkflowRequest{Definition: simpleDefinition()}},
		{"missing definition", &CreateWorkflowRequest{Name: "wf"}},
		{"malformed definition", &CreateWorkflowRequest{Name: "wf", Definition: json.RawMessage(`{"nodes":`)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Create(ctx, "alice", tc.req)
			var vErr *ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("Expected ValidationError, got %v", err)
			}
		})
	}
}

func TestWorkflowService_GetServesFromCache(t *testing.T) {
	svc, store, _ := newTestWorkflowService()
	ctx := context.Background()

	wf, err := svc.Create(ctx, "alice", &CreateWorkflowRequest{Name: "wf", Definition: simpleDefinition()})
	require.NoError(t, err)

	first, err := svc.Get(ctx, "alice", wf.ID)
	require.NoError(t, err)
	second, err := svc.Get(ctx, "alice", wf.ID)
	require.NoError(t, err)

	require.Equal(t, wf.ID, first.ID)
	require.Equal(t, wf.ID, second.ID)
	require.Equal(t, 1, store.getCalls, "second read should come from the cache")
}

func TestWorkflowService_GetOtherUsersWorkflow(t *testing.T) {
	svc, _, _ := newTestWorkflowService()
	ctx := context.Background()

	wf, err := svc.Create(ctx, "alice", &CreateWorkflowRequest{Name: "wf", Definition: simpleDefinition()})
	require.NoError(t, err)

	_, err = svc.Get(ctx, "bob", wf.ID)
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func TestWorkflowService_UpdateBumpsVersion(t *testing.T) {
	svc, _, _ := newTestWorkflowService()
	ctx := context.Background()

	wf, err := svc.Create(ctx, "alice", &CreateWorkflowRequest{Name: "wf", Definition: simpleDefinition()})
	require.NoError(t, err)
	require.Equal(t, 1, wf.Version)

	updated, err := svc.Update(ctx, "alice", wf.ID, &UpdateWorkflowRequest{
		Name:       "wf-v2",
		Definition: simpleDefinition(),
		Version:    1,
	})
	require.NoError(t, err)
	require.Equal(t, 2, updated.Version)
	require.Equal(t, "wf-v2", updated.Name)
}

func TestWorkflowService_UpdateStaleVersion(t *testing.T) {
	svc, _, _ := newTestWorkflowService()
	ctx := context.Background()

	wf, err := svc.Create(ctx, "alice", &CreateWorkflowRequest{Name: "wf", Definition: simpleDefinition()})
	require.NoError(t, err)

	_, err = svc.Update(ctx, "alice", wf.ID, &UpdateWorkflowRequest{
		Name:       "wf",
		Definition: simpleDefinition(),
		Version:    7,
	})
	require.ErrorIs(t, err, ErrVersionConflict)
}

func TestWorkflowService_UpdateMissingWorkflow(t *testing.T) {
	svc, _, _ := newTestWorkflowService()

	_, err := svc.Update(context.Background(), "alice", uuid.New(), &UpdateWorkflowRequest{
		Name:       "wf",
		Definition: simpleDefinition(),
		Version:    1,
	})
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func TestWorkflowService_PatchAppliesOperations(t *testing.T) {
	svc, store, _ := newTestWorkflowService()
	ctx := context.Background()

	wf, err := svc.Create(ctx, "alice", &CreateWorkflowRequest{Name: "wf", Definition: simpleDefinition()})
	require.NoError(t, err)

	patch := []byte(`[
		{"op": "replace", "path": "/name", "value": "renamed"},
		{"op": "add", "path": "/nodes/extra", "value": {"type": "transform", "config": {"expression": "input"}}}
	]`)

	patched, err := svc.Patch(ctx, "alice", wf.ID, patch)
	require.NoError(t, err)
	require.Equal(t, 2, patched.Version)
	require.Equal(t, "renamed", patched.Name)
	require.Equal(t, "renamed", gjson.GetBytes(patched.Definition, "name").String())
	require.True(t, gjson.GetBytes(patched.Definition, "nodes.extra").Exists())

	// The stored row carries the patched name, not just the definition.
	row, err := store.GetByID(ctx, wf.ID, "alice")
	require.NoError(t, err)
	require.Equal(t, "renamed", row.Name)
}

func TestWorkflowService_PatchRejectsDisallowedPath(t *testing.T) {
	svc, _, _ := newTestWorkflowService()
	ctx := context.Background()

	wf, err := svc.Create(ctx, "alice", &CreateWorkflowRequest{Name: "wf", Definition: simpleDefinition()})
	require.NoError(t, err)

	_, err = svc.Patch(ctx, "alice", wf.ID, []byte(`[{"op": "remove", "path": "/entry_point"}]`))
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
}

func TestWorkflowService_PatchConcurrentEditConflicts(t *testing.T) {
	svc, store, _ := newTestWorkflowService()
	ctx := context.Background()

	wf, err := svc.Create(ctx, "alice", &CreateWorkflowRequest{Name: "wf", Definition: simpleDefinition()})
	require.NoError(t, err)

	// Simulate another writer landing between the read and the CAS.
	store.failNextCAS = true

	_, err = svc.Patch(ctx, "alice", wf.ID, []byte(`[{"op": "replace", "path": "/name", "value": "late"}]`))
	require.ErrorIs(t, err, ErrVersionConflict)
}

func TestWorkflowService_DeleteInvalidatesCache(t *testing.T) {
	svc, store, c := newTestWorkflowService()
	ctx := context.Background()

	wf, err := svc.Create(ctx, "alice", &CreateWorkflowRequest{Name: "wf", Definition: simpleDefinition()})
	require.NoError(t, err)

	_, err = svc.Get(ctx, "alice", wf.ID)
	require.NoError(t, err)
	if _, ok := c.data[workflowCacheKey("alice", wf.ID)]; !ok {
		t.Fatal("Expected workflow to be cached after Get")
	}

	require.NoError(t, svc.Delete(ctx, "alice", wf.ID))
	if _, ok := c.data[workflowCacheKey("alice", wf.ID)]; ok {
		t.Fatal("Expected cache entry to be invalidated on delete")
	}

	_, err = svc.Get(ctx, "alice", wf.ID)
	require.ErrorIs(t, err, repository.ErrNotFound)
	require.Equal(t, 2, store.getCalls)
}
