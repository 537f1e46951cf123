package harness

import (
	"fmt"
	"strings"
)

// TraceEvent is one write that reached the store.
type TraceEvent struct {
	Seq    int64    `json:"seq"`
	Step   int      `json:"step"` // 1-based index of the step that caused it
	Op     string   `json:"op"`
	Type   string   `json:"type"`
	ID     string   `json:"id"`
	Fields []string `json:"fields,omitempty"`
}

// String renders the event as "op Type#id [fields]".
func (e TraceEvent) String() string {
	s := fmt.Sprintf("%s %s#%s", e.Op, e.Type, e.ID)
	if len(e.Fields) > 0 {
		s += " [" + strings.Join(e.Fields, ",") + "]"
	}
	return s
}

// matches reports whether label names this event: "op Type" or
// "op Type#id".
func (e TraceEvent) matches(label string) bool {
	short := e.Op + " " + e.Type
	return label == short || label == short+"#"+e.ID
}

// Result is the outcome of a scenario.
type Result struct {
	// Pass is true when every step behaved as expected and every assertion
	// held.
	Pass bool `json:"pass"`

	// Trace lists the writes in the order the store received them.
	Trace []TraceEvent `json:"trace"`

	// Errors describes each failure. Empty when Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError records a failure.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
