package harness

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/uow/internal/store"
	"github.com/roach88/uow/internal/unitofwork"
)

const shopMapping = "testdata/mappings/shop"

func TestScenarios_Golden(t *testing.T) {
	scenarios, err := LoadScenarios("testdata/scenarios")
	require.NoError(t, err)
	require.Len(t, scenarios, 3)

	for _, s := range scenarios {
		t.Run(s.Name, func(t *testing.T) {
			require.NoError(t, RunWithGolden(t, s))
		})
	}
}

func TestRun_Checkout(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/checkout.yaml")
	require.NoError(t, err)

	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	require.True(t, result.Pass, "errors: %v", result.Errors)

	labels := make([]string, len(result.Trace))
	for i, e := range result.Trace {
		labels[i] = e.String()
	}
	assert.Equal(t, []string{
		"insert Tag#sale",
		"insert Customer#1",
		"insert Order#1",
		"insert LineItem#1",
		"collection_update Order#1 [tags]",
		"update Order#1 [total]",
		"delete LineItem#1",
		"delete Order#1",
	}, labels)
}

func TestRun_MinimalScenario(t *testing.T) {
	s := &Scenario{
		Name:        "minimal",
		Description: "one insert",
		Mapping:     shopMapping,
		Steps: []Step{
			{Op: OpNew, Ref: "t", Type: "Tag", Fields: map[string]any{"code": "a"}},
			{Op: OpSave, Ref: "t"},
			{Op: OpCommit},
		},
		Assertions: []Assertion{
			{Type: AssertWriteCount, Count: 1},
			{Type: AssertField, Ref: "t", Field: "code", Value: "a"},
		},
	}

	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.True(t, result.Pass)
	assert.Empty(t, result.Errors)
	require.Len(t, result.Trace, 1)
	assert.Equal(t, TraceEvent{Seq: 1, Step: 3, Op: "insert", Type: "Tag", ID: "a"}, result.Trace[0])
}

func TestRun_UnexpectedStepErrorStopsScenario(t *testing.T) {
	s := &Scenario{
		Name:    "unknown_ref",
		Mapping: shopMapping,
		Steps: []Step{
			{Op: OpSave, Ref: "nobody"},
			{Op: OpCommit},
		},
		Assertions: []Assertion{{Type: AssertWriteCount, Count: 5}},
	}

	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1, "assertions are skipped after a failed step")
	assert.Contains(t, result.Errors[0], `steps[0] (save nobody)`)
	assert.Contains(t, result.Errors[0], `unknown ref "nobody"`)
}

func TestRun_ExpectedErrorMissing(t *testing.T) {
	s := &Scenario{
		Name:    "no_error",
		Mapping: shopMapping,
		Steps: []Step{
			{Op: OpCommit, Error: "STORE_FAILURE"},
		},
		Assertions: []Assertion{{Type: AssertPending}},
	}

	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Contains(t, result.Errors[0], "expected error STORE_FAILURE, got none")
}

func TestRun_WrongErrorCode(t *testing.T) {
	s := &Scenario{
		Name:    "wrong_code",
		Mapping: shopMapping,
		Steps: []Step{
			{Op: OpLoad, Ref: "c", Type: "Customer", ID: []any{7}, Error: "INVALID_STATE"},
		},
		Assertions: []Assertion{{Type: AssertPending}},
	}

	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Contains(t, result.Errors[0], "expected error INVALID_STATE, got NOT_FOUND")
}

func TestRun_UnknownField(t *testing.T) {
	s := &Scenario{
		Name:    "typo",
		Mapping: shopMapping,
		Steps: []Step{
			{Op: OpNew, Ref: "c", Type: "Customer", Fields: map[string]any{"nmae": "Ada"}},
		},
		Assertions: []Assertion{{Type: AssertPending}},
	}

	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Contains(t, result.Errors[0], `Customer has no field "nmae"`)
}

func TestRun_FailedAssertionsAreReported(t *testing.T) {
	s := &Scenario{
		Name:    "wrong_counts",
		Mapping: shopMapping,
		Steps: []Step{
			{Op: OpNew, Ref: "c", Type: "Customer", Fields: map[string]any{"name": "Ada"}},
			{Op: OpSave, Ref: "c"},
		},
		Assertions: []Assertion{
			{Type: AssertRowCount, Entity: "Customer", Count: 1},
			{Type: AssertPending, Count: 1},
			{Type: AssertState, Ref: "c", State: "new"},
		},
	}

	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "Assertion failed: row_count")
	assert.Contains(t, result.Errors[0], "0 rows")
	assert.Contains(t, result.Errors[1], "Assertion failed: state")
	assert.Contains(t, result.Errors[1], "MANAGED")
}

func TestRun_BadMapping(t *testing.T) {
	s := &Scenario{
		Name:       "bad",
		Mapping:    "testdata/does-not-exist",
		Steps:      []Step{{Op: OpCommit}},
		Assertions: []Assertion{{Type: AssertPending}},
	}

	_, err := Run(context.Background(), s)
	assert.ErrorContains(t, err, "failed to load mapping")
}

type countingObserver struct {
	mu      sync.Mutex
	writes  int
	commits int
}

func (o *countingObserver) WriteApplied(unitofwork.Op, string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.writes++
}

func (o *countingObserver) CommitFinished(time.Duration, unitofwork.Stats, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.commits++
}

func TestRun_WithObserverSurvivesBegin(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/post_insert_payment.yaml")
	require.NoError(t, err)
	obs := &countingObserver{}

	result, err := Run(context.Background(), s, WithObserver(obs))
	require.NoError(t, err)
	require.True(t, result.Pass, "errors: %v", result.Errors)

	assert.Equal(t, 4, obs.writes)
	assert.Equal(t, 2, obs.commits, "only non-empty commits are observed")
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&unitofwork.Error{Code: unitofwork.ErrCodeInvalidState}, "INVALID_STATE"},
		{fmt.Errorf("load: %w", &unitofwork.Error{Code: unitofwork.ErrCodeDuplicateIdentity}), "DUPLICATE_IDENTITY"},
		{fmt.Errorf("load Customer [1]: %w", store.ErrNotFound), "NOT_FOUND"},
		{errors.New("boom"), "ERROR"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ErrorCode(tt.err), tt.err.Error())
	}
}

func TestMarshalTrace(t *testing.T) {
	result := NewResult()
	result.Trace = []TraceEvent{
		{Seq: 1, Step: 2, Op: "insert", Type: "Tag", ID: "a"},
		{Seq: 2, Step: 2, Op: "collection_update", Type: "Order", ID: "1", Fields: []string{"tags"}},
	}

	got, err := MarshalTrace("demo", result)
	require.NoError(t, err)
	assert.Equal(t,
		`{"scenario":"demo","trace":[{"id":"a","op":"insert","seq":1,"step":2,"type":"Tag"},`+
			`{"fields":["tags"],"id":"1","op":"collection_update","seq":2,"step":2,"type":"Order"}]}`,
		string(got))

	empty, err := MarshalTrace("none", NewResult())
	require.NoError(t, err)
	assert.Equal(t, `{"scenario":"none","trace":[]}`, string(empty))
}

func TestMappingPathIsResolvedRelativeToScenario(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/checkout.yaml")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("testdata", "mappings", "shop"), s.Mapping)
}
