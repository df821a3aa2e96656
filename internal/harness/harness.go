package harness

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/joelmontavon/fhir4ds3-sub015/internal/compiler"
	"github.com/joelmontavon/fhir4ds3-sub015/internal/store"
)

// Result holds one scenario's compiled SQL per dialect plus, when the
// scenario carries resources, the rows produced against SQLite.
type Result struct {
	SQL  map[string]string
	Rows []store.Row
}

// Run compiles the scenario for each dialect and, when resources are
// present, executes the SQLite statement against an in-memory database.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	result := &Result{SQL: map[string]string{}}

	for _, name := range scenario.dialects() {
		compiled, err := compiler.Compile(scenario.Expression, compiler.Options{Dialect: name})
		if err != nil {
			return nil, fmt.Errorf("compile for %s: %w", name, err)
		}
		result.SQL[name] = compiled.SQL
	}

	if len(scenario.Resources) == 0 {
		return result, nil
	}

	sqliteSQL, ok := result.SQL["sqlite"]
	if !ok {
		compiled, err := compiler.Compile(scenario.Expression, compiler.Options{Dialect: "sqlite"})
		if err != nil {
			return nil, fmt.Errorf("compile for sqlite: %w", err)
		}
		sqliteSQL = compiled.SQL
	}

	st, err := store.Open(store.Config{Driver: "sqlite3", DSN: ":memory:"})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ndjson, err := encodeResources(scenario.Resources)
	if err != nil {
		return nil, err
	}
	if _, err := st.LoadNDJSON(ctx, bytes.NewReader(ndjson)); err != nil {
		return nil, fmt.Errorf("load resources: %w", err)
	}

	run, err := st.Run(ctx, sqliteSQL)
	if err != nil {
		return nil, fmt.Errorf("execute: %w", err)
	}
	result.Rows = run.Rows
	return result, nil
}

// Verify checks the executed rows against the scenario's expectations.
func Verify(scenario *Scenario, result *Result) error {
	if len(scenario.Expect) == 0 {
		return nil
	}
	if len(result.Rows) != len(scenario.Expect) {
		return fmt.Errorf("expected %d row(s), got %d", len(scenario.Expect), len(result.Rows))
	}
	for i, want := range scenario.Expect {
		got := result.Rows[i]
		if got.ID != want.ID {
			return fmt.Errorf("row %d: expected id %q, got %q", i, want.ID, got.ID)
		}
		switch {
		case want.Value == nil && got.Value != nil:
			return fmt.Errorf("row %d: expected empty value, got %q", i, *got.Value)
		case want.Value != nil && got.Value == nil:
			return fmt.Errorf("row %d: expected value %q, got empty", i, *want.Value)
		case want.Value != nil && *want.Value != *got.Value:
			return fmt.Errorf("row %d: expected value %q, got %q", i, *want.Value, *got.Value)
		}
	}
	return nil
}

// encodeResources renders the scenario resources as NDJSON.
func encodeResources(resources []map[string]interface{}) ([]byte, error) {
	var buf bytes.Buffer
	for i, res := range resources {
		line, err := json.Marshal(res)
		if err != nil {
			return nil, fmt.Errorf("resources[%d]: %w", i, err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}
