package harness

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/roach88/uow/internal/ir"
	"github.com/roach88/uow/internal/mapping"
	"github.com/roach88/uow/internal/store"
	"github.com/roach88/uow/internal/unitofwork"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent // full trace for context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)
	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] step %d: %s\n", event.Seq, event.Step, event)
		}
	}
	return buf.String()
}

// AssertionContext gives assertions access to what the scenario left
// behind.
type AssertionContext struct {
	Ctx        context.Context
	Store      *store.Store
	Provider   mapping.Provider
	UnitOfWork *unitofwork.UnitOfWork
	Refs       map[string]mapping.Entity
	Names      map[mapping.Entity]string
}

// EvaluateAssertions evaluates every assertion and returns one message per
// failure. State assertions need actx; trace assertions do not.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	for i, assertion := range assertions {
		var err error
		switch assertion.Type {
		case AssertWriteOrder:
			err = assertWriteOrder(result.Trace, assertion)
		case AssertWriteCount:
			err = assertWriteCount(result.Trace, assertion)
		case AssertState, AssertField, AssertRowCount, AssertPending:
			if actx == nil || actx.UnitOfWork == nil {
				err = fmt.Errorf("assertion[%d]: %s requires a unit of work", i, assertion.Type)
				break
			}
			switch assertion.Type {
			case AssertState:
				err = assertState(actx, assertion)
			case AssertField:
				err = assertField(actx, assertion)
			case AssertRowCount:
				err = assertRowCount(actx, assertion)
			case AssertPending:
				err = assertPending(actx, assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}
		if err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}

// assertWriteOrder checks that the labelled writes occur in order.
// Intervening writes are allowed.
func assertWriteOrder(trace []TraceEvent, assertion Assertion) error {
	pos := 0
	for _, label := range assertion.Writes {
		found := false
		for pos < len(trace) {
			event := trace[pos]
			pos++
			if event.matches(label) {
				found = true
				break
			}
		}
		if !found {
			return &AssertionError{
				Type:     AssertWriteOrder,
				Expected: fmt.Sprintf("writes in order: %v", assertion.Writes),
				Actual:   fmt.Sprintf("%q not found after the preceding writes", label),
				Trace:    trace,
			}
		}
	}
	return nil
}

// assertWriteCount counts writes matching the optional op and entity.
func assertWriteCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if assertion.Op != "" && event.Op != assertion.Op {
			continue
		}
		if assertion.Entity != "" && event.Type != assertion.Entity {
			continue
		}
		count++
	}
	if count != assertion.Count {
		what := strings.TrimSpace(assertion.Op + " " + assertion.Entity)
		if what == "" {
			what = "any"
		}
		return &AssertionError{
			Type:     AssertWriteCount,
			Expected: fmt.Sprintf("%d writes (%s)", assertion.Count, what),
			Actual:   fmt.Sprintf("%d writes", count),
			Trace:    trace,
		}
	}
	return nil
}

func assertState(actx *AssertionContext, assertion Assertion) error {
	e, ok := actx.Refs[assertion.Ref]
	if !ok {
		return fmt.Errorf("state: unknown ref %q", assertion.Ref)
	}
	state := actx.UnitOfWork.EntityState(e)
	if !strings.EqualFold(state.String(), assertion.State) {
		return &AssertionError{
			Type:     AssertState,
			Expected: fmt.Sprintf("%s is %s", assertion.Ref, strings.ToUpper(assertion.State)),
			Actual:   state.String(),
		}
	}
	return nil
}

// assertField compares canonical forms, so 1 and 1.0 are equal and
// entities compare by ref name.
func assertField(actx *AssertionContext, assertion Assertion) error {
	e, ok := actx.Refs[assertion.Ref]
	if !ok {
		return fmt.Errorf("field: unknown ref %q", assertion.Ref)
	}
	desc, err := actx.Provider.Descriptor(e.EntityType())
	if err != nil {
		return fmt.Errorf("field: %w", err)
	}
	ref := func(v any) (string, bool) {
		ent, ok := v.(mapping.Entity)
		if !ok {
			return "", false
		}
		if name, ok := actx.Names[ent]; ok {
			return "@" + name, true
		}
		return "@?" + ent.EntityType(), true
	}

	actual, err := canonical(desc.Accessor.Get(e, assertion.Field), ref)
	if err != nil {
		return fmt.Errorf("field %s.%s: %w", assertion.Ref, assertion.Field, err)
	}
	expected, err := canonical(normalize(assertion.Value), nil)
	if err != nil {
		return fmt.Errorf("field %s.%s: expected value: %w", assertion.Ref, assertion.Field, err)
	}
	if !bytes.Equal(actual, expected) {
		return &AssertionError{
			Type:     AssertField,
			Expected: fmt.Sprintf("%s.%s = %s", assertion.Ref, assertion.Field, expected),
			Actual:   string(actual),
		}
	}
	return nil
}

func canonical(v any, ref ir.Ref) ([]byte, error) {
	val, err := ir.FromGo(v, ref)
	if err != nil {
		return nil, err
	}
	return ir.MarshalCanonical(val)
}

func assertRowCount(actx *AssertionContext, assertion Assertion) error {
	n, err := actx.Store.Count(actx.Ctx, assertion.Entity)
	if err != nil {
		return fmt.Errorf("row_count: %w", err)
	}
	if n != assertion.Count {
		return &AssertionError{
			Type:     AssertRowCount,
			Expected: fmt.Sprintf("%d %s rows", assertion.Count, assertion.Entity),
			Actual:   fmt.Sprintf("%d rows", n),
		}
	}
	return nil
}

func assertPending(actx *AssertionContext, assertion Assertion) error {
	p := actx.UnitOfWork.Pending()
	total := p.Inserts + p.Updates + p.Deletes + p.CollectionUpdates + p.CollectionDeletions
	if total != assertion.Count {
		return &AssertionError{
			Type:     AssertPending,
			Expected: fmt.Sprintf("%d pending writes", assertion.Count),
			Actual:   fmt.Sprintf("%+v", p),
		}
	}
	return nil
}
