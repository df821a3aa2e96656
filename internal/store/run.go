package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// Row is one (record id, extracted value) pair from a compiled query. Value
// is nil when the expression evaluated to empty for that record.
type Row struct {
	ID    string  `json:"id"`
	Value *string `json:"value"`
}

// RunResult is one executed query plus a token correlating its rows across
// logs and test output.
type RunResult struct {
	RunID string `json:"run_id"`
	Rows  []Row  `json:"rows"`
}

// Run executes a compiled statement against the resource table. The
// statement is expected to return (id, value) rows, which every assembled
// query does.
func (s *Store) Run(ctx context.Context, query string) (*RunResult, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("execute query: %w", err)
	}
	defer rows.Close()

	result := &RunResult{RunID: uuid.NewString(), Rows: []Row{}}
	for rows.Next() {
		var id string
		var value sql.NullString
		if err := rows.Scan(&id, &value); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		row := Row{ID: id}
		if value.Valid {
			v := value.String
			row.Value = &v
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return result, nil
}
