package models

import "time"

// DailyStat is one per-user, per-day rollup of execution activity
// Maps to: daily_stats table
type DailyStat struct {
	Day    time.Time `db:"day" json:"day"`
	UserID string    `db:"user_id" json:"user_id"`

	Executions int `db:"executions" json:"executions"`
	Completed  int `db:"completed" json:"completed"`
	Failed     int `db:"failed" json:"failed"`
	Cancelled  int `db:"cancelled" json:"cancelled"`

	TotalNodes      int   `db:"total_nodes" json:"total_nodes"`
	TotalDurationMs int64 `db:"total_duration_ms" json:"total_duration_ms"`

	ComputedAt time.Time `db:"computed_at" json:"computed_at"`
}

// AvgDurationMs returns the mean execution duration for the day,
// zero when nothing terminal was recorded.
func (s *DailyStat) AvgDurationMs() int64 {
	terminal := s.Completed + s.Failed + s.Cancelled
	if terminal == 0 {
		return 0
	}
	return s.TotalDurationMs / int64(terminal)
}
