package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario is one unit-of-work test case.
type Scenario struct {
	// Name uniquely identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what the scenario validates.
	Description string `yaml:"description"`

	// Mapping is the directory of CUE entity mappings. LoadScenario
	// resolves it relative to the scenario file.
	Mapping string `yaml:"mapping"`

	// Steps run in order against one store.
	Steps []Step `yaml:"steps"`

	// Assertions are evaluated after the last step.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is a single operation.
type Step struct {
	// Op is one of the Op* constants.
	Op string `yaml:"op"`

	// Ref names the entity the step creates or acts on.
	Ref string `yaml:"ref,omitempty"`

	// Type is the entity type for new and load.
	Type string `yaml:"type,omitempty"`

	// Fields are assigned by new and set.
	Fields map[string]any `yaml:"fields,omitempty"`

	// ID is the identifier for load.
	ID []any `yaml:"id,omitempty"`

	// Error is the error code the step must fail with. Empty means the
	// step must succeed.
	Error string `yaml:"error,omitempty"`
}

// Step operations.
const (
	OpNew    = "new"
	OpSet    = "set"
	OpSave   = "save"
	OpDelete = "delete"
	OpDetach = "detach"
	OpCommit = "commit"
	OpClear  = "clear"
	OpLoad   = "load"
	OpBegin  = "begin"
)

// Assertion checks the outcome of a scenario.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Writes are write labels, "op Type" or "op Type#id" (write_order).
	Writes []string `yaml:"writes,omitempty"`

	// Op filters write_count by operation.
	Op string `yaml:"op,omitempty"`

	// Entity is the entity type for write_count and row_count.
	Entity string `yaml:"entity,omitempty"`

	// Count is the expected number (write_count, row_count, pending).
	Count int `yaml:"count,omitempty"`

	// Ref names the entity for state and field.
	Ref string `yaml:"ref,omitempty"`

	// State is the expected lifecycle state, case-insensitive (state).
	State string `yaml:"state,omitempty"`

	// Field and Value are the expected field value (field).
	Field string `yaml:"field,omitempty"`
	Value any    `yaml:"value,omitempty"`
}

// Assertion types.
const (
	AssertWriteOrder = "write_order"
	AssertWriteCount = "write_count"
	AssertState      = "state"
	AssertField      = "field"
	AssertRowCount   = "row_count"
	AssertPending    = "pending"
)

// LoadScenario reads and validates a scenario file. Unknown keys are
// rejected so typos surface as errors.
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

	if scenario.Mapping != "" && !filepath.IsAbs(scenario.Mapping) {
		scenario.Mapping = filepath.Join(filepath.Dir(path), scenario.Mapping)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// LoadScenarios loads every *.yaml file in dir, sorted by file name.
func LoadScenarios(dir string) ([]*Scenario, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no scenario files in %s", dir)
	}
	scenarios := make([]*Scenario, 0, len(paths))
	for _, path := range paths {
		s, err := LoadScenario(path)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		scenarios = append(scenarios, s)
	}
	return scenarios, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Mapping == "" {
		return fmt.Errorf("mapping is required")
	}
	if info, err := os.Stat(s.Mapping); err != nil || !info.IsDir() {
		return fmt.Errorf("mapping directory not found: %s", s.Mapping)
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}
	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, s *Step) error {
	switch s.Op {
	case OpNew:
		if s.Ref == "" || s.Type == "" {
			return fmt.Errorf("steps[%d]: new requires ref and type", index)
		}
	case OpSet:
		if s.Ref == "" || len(s.Fields) == 0 {
			return fmt.Errorf("steps[%d]: set requires ref and fields", index)
		}
	case OpSave, OpDelete, OpDetach:
		if s.Ref == "" {
			return fmt.Errorf("steps[%d]: %s requires ref", index, s.Op)
		}
	case OpLoad:
		if s.Ref == "" || s.Type == "" || len(s.ID) == 0 {
			return fmt.Errorf("steps[%d]: load requires ref, type and id", index)
		}
	case OpCommit, OpClear, OpBegin:
	case "":
		return fmt.Errorf("steps[%d]: op is required", index)
	default:
		return fmt.Errorf("steps[%d]: unknown op %q", index, s.Op)
	}
	return nil
}

func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}
	if a.Count < 0 {
		return fmt.Errorf("assertions[%d]: count must be non-negative", index)
	}

	switch a.Type {
	case AssertWriteOrder:
		if len(a.Writes) == 0 {
			return fmt.Errorf("assertions[%d]: writes list is required for write_order", index)
		}
	case AssertWriteCount, AssertPending:
	case AssertState:
		if a.Ref == "" || a.State == "" {
			return fmt.Errorf("assertions[%d]: ref and state are required for state", index)
		}
	case AssertField:
		if a.Ref == "" || a.Field == "" {
			return fmt.Errorf("assertions[%d]: ref and field are required for field", index)
		}
	case AssertRowCount:
		if a.Entity == "" {
			return fmt.Errorf("assertions[%d]: entity is required for row_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
