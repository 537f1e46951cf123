package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sampleTrace = []TraceEvent{
	{Seq: 1, Step: 4, Op: "insert", Type: "Customer", ID: "1"},
	{Seq: 2, Step: 4, Op: "insert", Type: "Order", ID: "1"},
	{Seq: 3, Step: 4, Op: "collection_update", Type: "Order", ID: "1", Fields: []string{"tags"}},
	{Seq: 4, Step: 6, Op: "delete", Type: "Order", ID: "1"},
}

func TestTraceEvent_String(t *testing.T) {
	assert.Equal(t, "insert Customer#1", sampleTrace[0].String())
	assert.Equal(t, "collection_update Order#1 [tags]", sampleTrace[2].String())
}

func TestTraceEvent_Matches(t *testing.T) {
	e := sampleTrace[1]
	assert.True(t, e.matches("insert Order"))
	assert.True(t, e.matches("insert Order#1"))
	assert.False(t, e.matches("insert Order#2"))
	assert.False(t, e.matches("update Order"))
}

func TestAssertWriteOrder(t *testing.T) {
	tests := []struct {
		name   string
		writes []string
		ok     bool
	}{
		{"full", []string{"insert Customer#1", "insert Order#1", "collection_update Order#1", "delete Order#1"}, true},
		{"gaps allowed", []string{"insert Customer", "delete Order"}, true},
		{"reversed", []string{"insert Order", "insert Customer"}, false},
		{"missing", []string{"update Order"}, false},
		{"repeated label needs two events", []string{"insert Order", "insert Order"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := assertWriteOrder(sampleTrace, Assertion{Type: AssertWriteOrder, Writes: tt.writes})
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			var aerr *AssertionError
			require.ErrorAs(t, err, &aerr)
			assert.Equal(t, AssertWriteOrder, aerr.Type)
			assert.Contains(t, err.Error(), "Full trace:")
			assert.Contains(t, err.Error(), "[3] step 4: collection_update Order#1 [tags]")
		})
	}
}

func TestAssertWriteCount(t *testing.T) {
	tests := []struct {
		op, entity string
		count      int
	}{
		{"", "", 4},
		{"insert", "", 2},
		{"", "Order", 3},
		{"delete", "Order", 1},
		{"update", "", 0},
	}
	for _, tt := range tests {
		a := Assertion{Type: AssertWriteCount, Op: tt.op, Entity: tt.entity, Count: tt.count}
		assert.NoError(t, assertWriteCount(sampleTrace, a), "%+v", tt)
	}

	err := assertWriteCount(sampleTrace, Assertion{Type: AssertWriteCount, Op: "insert", Count: 3})
	assert.ErrorContains(t, err, "3 writes (insert)")
	assert.ErrorContains(t, err, "Actual: 2 writes")
}

func TestEvaluateAssertions_RequiresUnitOfWork(t *testing.T) {
	result := NewResult()
	errs := EvaluateAssertions(result, []Assertion{
		{Type: AssertWriteCount, Count: 0},
		{Type: AssertPending},
		{Type: "bogus"},
	}, nil)

	require.Len(t, errs, 2)
	assert.Contains(t, errs[0], "pending requires a unit of work")
	assert.Contains(t, errs[1], `unknown assertion type "bogus"`)
}

func TestResult_AddError(t *testing.T) {
	r := NewResult()
	assert.True(t, r.Pass)
	r.AddError("broken")
	assert.False(t, r.Pass)
	assert.Equal(t, []string{"broken"}, r.Errors)
}
