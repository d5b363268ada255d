package nodes

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

// Querier is the slice of a pgx pool the db handler needs.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// DB runs read-only queries for db nodes. Writes are rejected before
// the query reaches the pool; workflow nodes query state, they do not
// mutate it.
type DB struct {
	pool Querier
}

func NewDB(pool Querier) *DB {
	return &DB{pool: pool}
}

func (d *DB) Kind() string { return "db" }

func (d *DB) Execute(ctx context.Context, req Request) Response {
	query, ok := req.Config["query"].(string)
	if !ok || strings.TrimSpace(query) == "" {
		return Fail(ErrorTypeValidation, "db node requires a query", false)
	}
	if err := checkReadOnly(query); err != nil {
		return Fail(ErrorTypePermission, err.Error(), false)
	}
	if d.pool == nil {
		return Fail(ErrorTypeValidation, "db handler has no pool configured", false)
	}

	var args []any
	if params, ok := req.Config["params"].([]interface{}); ok {
		args = params
	}

	start := time.Now()
	rows, err := d.pool.Query(ctx, query, args...)
	if err != nil {
		return FailErr(classifyPg(err))
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))
	for i, f := range fields {
		columns[i] = f.Name
	}

	var result []interface{}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return FailErr(classifyPg(err))
		}
		row := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			row[col] = values[i]
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return FailErr(classifyPg(err))
	}

	return Succeed(map[string]interface{}{
		"rows":      result,
		"row_count": len(result),
		"columns":   columns,
	}, &Metrics{DurationMs: time.Since(start).Milliseconds()})
}

// checkReadOnly admits single SELECT or WITH statements only.
func checkReadOnly(query string) error {
	normalized := strings.ToLower(strings.TrimSpace(query))
	normalized = strings.TrimSuffix(normalized, ";")
	if strings.Contains(normalized, ";") {
		return fmt.Errorf("db node rejects multi-statement queries")
	}
	if !strings.HasPrefix(normalized, "select") && !strings.HasPrefix(normalized, "with") {
		return fmt.Errorf("db node only runs read-only queries")
	}
	return nil
}

func classifyPg(err error) *NodeError {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "syntax error"), strings.Contains(msg, "does not exist"):
		return &NodeError{Type: ErrorTypeValidation, Message: err.Error(), Retryable: false}
	case strings.Contains(msg, "permission denied"):
		return &NodeError{Type: ErrorTypePermission, Message: err.Error(), Retryable: false}
	}
	return Classify(err)
}
