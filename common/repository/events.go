package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/weftlabs/weft/common/db"
	"github.com/weftlabs/weft/common/models"
)

// EventRepository handles database operations for execution events and
// the spans derived from them
type EventRepository struct {
	db *db.DB
}

// NewEventRepository creates a new event repository
func NewEventRepository(database *db.DB) *EventRepository {
	return &EventRepository{db: database}
}

// Append inserts one event. The table is append-only; events are never
// updated or deleted by application code.
func (r *EventRepository) Append(ctx context.Context, event *models.ExecutionEvent) error {
	query := `
		INSERT INTO execution_events (execution_id, kind, ts, payload, recorded_at)
		VALUES ($1, $2, $3, $4, NOW())
	`

	_, err := r.db.Exec(
		ctx,
		query,
		event.ExecutionID,
		event.Kind,
		event.TS,
		event.Payload,
	)

	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	return nil
}

// ListByExecution retrieves events for an execution in emit order
func (r *EventRepository) ListByExecution(ctx context.Context, executionID uuid.UUID, limit int) ([]*models.ExecutionEvent, error) {
	query := `
		SELECT id, execution_id, kind, ts, payload, recorded_at
		FROM execution_events
		WHERE execution_id = $1
		ORDER BY ts ASC, id ASC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, executionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var events []*models.ExecutionEvent
	for rows.Next() {
		event := &models.ExecutionEvent{}
		err := rows.Scan(
			&event.ID,
			&event.ExecutionID,
			&event.Kind,
			&event.TS,
			&event.Payload,
			&event.RecordedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}

// StartSpan opens a span for an execution or one node attempt window
func (r *EventRepository) StartSpan(ctx context.Context, executionID uuid.UUID, nodeID string, spanType models.SpanType, startedAt time.Time) error {
	query := `
		INSERT INTO execution_spans (execution_id, node_id, span_type, status, attempts, started_at)
		VALUES ($1, $2, $3, 'running', 0, $4)
	`

	_, err := r.db.Exec(ctx, query, executionID, nodeID, spanType, startedAt)
	if err != nil {
		return fmt.Errorf("failed to start span: %w", err)
	}

	return nil
}

// CloseSpan finalizes the most recent open span for the given key.
// Zero matched rows is not an error: the open span may predate the
// consumer group, or a replayed close may race a previous one.
func (r *EventRepository) CloseSpan(ctx context.Context, executionID uuid.UUID, nodeID string, spanType models.SpanType, status string, attempts int, endedAt time.Time) error {
	query := `
		UPDATE execution_spans
		SET status = $4, attempts = $5, ended_at = $6,
		    duration_ms = (EXTRACT(EPOCH FROM ($6::timestamptz - started_at)) * 1000)::bigint
		WHERE id = (
			SELECT id FROM execution_spans
			WHERE execution_id = $1 AND node_id = $2 AND span_type = $3 AND ended_at IS NULL
			ORDER BY started_at DESC
			LIMIT 1
		)
	`

	_, err := r.db.Exec(ctx, query, executionID, nodeID, spanType, status, attempts, endedAt)
	if err != nil {
		return fmt.Errorf("failed to close span: %w", err)
	}

	return nil
}

// ListSpans retrieves spans for an execution ordered by start time
func (r *EventRepository) ListSpans(ctx context.Context, executionID uuid.UUID) ([]*models.ExecutionSpan, error) {
	query := `
		SELECT id, execution_id, node_id, span_type, status, attempts, started_at, ended_at, duration_ms
		FROM execution_spans
		WHERE execution_id = $1
		ORDER BY started_at ASC, id ASC
	`

	rows, err := r.db.Query(ctx, query, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list spans: %w", err)
	}
	defer rows.Close()

	var spans []*models.ExecutionSpan
	for rows.Next() {
		span := &models.ExecutionSpan{}
		err := rows.Scan(
			&span.ID,
			&span.ExecutionID,
			&span.NodeID,
			&span.SpanType,
			&span.Status,
			&span.Attempts,
			&span.StartedAt,
			&span.EndedAt,
			&span.DurationMs,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan span: %w", err)
		}
		spans = append(spans, span)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating spans: %w", err)
	}

	return spans, nil
}
