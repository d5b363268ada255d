package nodes

import (
	"context"
	"testing"
)

func TestDB_RejectsWrites(t *testing.T) {
	h := NewDB(nil)
	for _, query := range []string{
		"DELETE FROM users",
		"update accounts set balance = 0",
		"INSERT INTO logs VALUES (1)",
		"drop table workflows",
		"SELECT 1; DELETE FROM users",
	} {
		resp := h.Execute(context.Background(), Request{
			NodeType: "db",
			Config:   map[string]interface{}{"query": query},
		})
		if resp.Success {
			t.Fatalf("Expected %q to be rejected", query)
		}
		if resp.Error.Type != ErrorTypePermission {
			t.Errorf("Expected permission error for %q, got %s", query, resp.Error.Type)
		}
	}
}

func TestDB_MissingQuery(t *testing.T) {
	h := NewDB(nil)
	resp := h.Execute(context.Background(), Request{NodeType: "db", Config: map[string]interface{}{}})
	if resp.Success || resp.Error.Type != ErrorTypeValidation {
		t.Errorf("Expected validation failure, got %+v", resp)
	}
}

func TestCheckReadOnly(t *testing.T) {
	for _, query := range []string{
		"SELECT * FROM workflows",
		"  select 1  ",
		"WITH recent AS (SELECT * FROM runs) SELECT * FROM recent",
		"SELECT count(*) FROM executions;",
	} {
		if err := checkReadOnly(query); err != nil {
			t.Errorf("Expected %q to pass, got %v", query, err)
		}
	}
}
