package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/weftlabs/weft/common/db"
	"github.com/weftlabs/weft/common/models"
)

// StatsRepository handles database operations for daily usage rollups
type StatsRepository struct {
	db *db.DB
}

// NewStatsRepository creates a new stats repository
func NewStatsRepository(database *db.DB) *StatsRepository {
	return &StatsRepository{db: database}
}

// AggregateDay recomputes daily_stats for one calendar day from the
// executions table. Safe to re-run: existing rows are replaced.
func (r *StatsRepository) AggregateDay(ctx context.Context, day time.Time) (int, error) {
	query := `
		INSERT INTO daily_stats (day, user_id, executions, completed, failed, cancelled, total_nodes, total_duration_ms, computed_at)
		SELECT
			$1::date,
			user_id,
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'completed'),
			COUNT(*) FILTER (WHERE status = 'failed'),
			COUNT(*) FILTER (WHERE status = 'cancelled'),
			COALESCE(SUM(node_count), 0),
			COALESCE(SUM(duration_ms), 0),
			NOW()
		FROM executions
		WHERE submitted_at >= $1::date AND submitted_at < $1::date + INTERVAL '1 day'
		GROUP BY user_id
		ON CONFLICT (day, user_id) DO UPDATE SET
			executions = EXCLUDED.executions,
			completed = EXCLUDED.completed,
			failed = EXCLUDED.failed,
			cancelled = EXCLUDED.cancelled,
			total_nodes = EXCLUDED.total_nodes,
			total_duration_ms = EXCLUDED.total_duration_ms,
			computed_at = EXCLUDED.computed_at
	`

	result, err := r.db.Exec(ctx, query, day)
	if err != nil {
		return 0, fmt.Errorf("failed to aggregate day %s: %w", day.Format("2006-01-02"), err)
	}

	return int(result.RowsAffected()), nil
}

// GetRange retrieves rollups for a user across a day range, oldest first
func (r *StatsRepository) GetRange(ctx context.Context, userID string, from, to time.Time) ([]*models.DailyStat, error) {
	query := `
		SELECT day, user_id, executions, completed, failed, cancelled, total_nodes, total_duration_ms, computed_at
		FROM daily_stats
		WHERE user_id = $1 AND day >= $2::date AND day <= $3::date
		ORDER BY day ASC
	`

	rows, err := r.db.Query(ctx, query, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to get stats range: %w", err)
	}
	defer rows.Close()

	var stats []*models.DailyStat
	for rows.Next() {
		stat := &models.DailyStat{}
		err := rows.Scan(
			&stat.Day,
			&stat.UserID,
			&stat.Executions,
			&stat.Completed,
			&stat.Failed,
			&stat.Cancelled,
			&stat.TotalNodes,
			&stat.TotalDurationMs,
			&stat.ComputedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stat: %w", err)
		}
		stats = append(stats, stat)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stats: %w", err)
	}

	return stats, nil
}
