// Package harness runs conformance scenarios: YAML files pairing a FHIRPath
// expression with the rows it must produce over a fixed resource set. The
// compiled SQL is additionally pinned per dialect with golden files.
package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/joelmontavon/fhir4ds3-sub015/internal/dialect"
)

// Scenario defines one conformance scenario.
type Scenario struct {
	// Name uniquely identifies this scenario; golden files are keyed by it.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Expression is the FHIRPath expression under test.
	Expression string `yaml:"expression"`

	// Dialects lists the backends to compile for. Empty means all.
	Dialects []string `yaml:"dialects,omitempty"`

	// Resources are the documents loaded before execution, one resource per
	// entry. Scenarios that only pin SQL may omit them.
	Resources []map[string]interface{} `yaml:"resources,omitempty"`

	// Expect lists the rows the query must return, in order. Requires
	// Resources. A null value asserts the expression was empty for that
	// record.
	Expect []ExpectRow `yaml:"expect,omitempty"`
}

// ExpectRow is one expected (id, value) result row.
type ExpectRow struct {
	ID    string  `yaml:"id"`
	Value *string `yaml:"value"`
}

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected so typos fail loudly instead of silently weakening a scenario.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Expression == "" {
		return fmt.Errorf("expression is required")
	}
	for _, name := range s.Dialects {
		if dialect.Get(name) == nil {
			return fmt.Errorf("unknown dialect %q", name)
		}
	}
	if len(s.Expect) > 0 && len(s.Resources) == 0 {
		return fmt.Errorf("expect requires resources")
	}
	for i, res := range s.Resources {
		if _, ok := res["resourceType"]; !ok {
			return fmt.Errorf("resources[%d]: resourceType is required", i)
		}
	}
	return nil
}

// dialects returns the scenario's dialect list, defaulting to all.
func (s *Scenario) dialects() []string {
	if len(s.Dialects) > 0 {
		return s.Dialects
	}
	return dialect.Names()
}
