package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/roach88/uow/internal/compiler"
	"github.com/roach88/uow/internal/mapping"
	"github.com/roach88/uow/internal/store"
	"github.com/roach88/uow/internal/testutil"
	"github.com/roach88/uow/internal/unitofwork"
)

// Option configures Run.
type Option func(*config)

type config struct {
	logger   *slog.Logger
	observer unitofwork.Observer
}

// WithLogger routes unit-of-work and store logs to l. Default: discarded.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}

// WithObserver attaches o to every unit of work the scenario creates.
func WithObserver(o unitofwork.Observer) Option {
	return func(c *config) {
		c.observer = o
	}
}

// runner holds the state of one scenario execution.
type runner struct {
	ctx     context.Context
	cfg     config
	reg     *mapping.Registry
	store   *store.Store
	tracer  *tracer
	handles *testutil.SequentialGenerator
	uow     *unitofwork.UnitOfWork
	refs    map[string]mapping.Entity
	names   map[mapping.Entity]string
}

// Run executes a scenario in a fresh in-memory database.
//
// Steps run in order. A step that fails unexpectedly, or succeeds when an
// error was expected, is reported in the result and ends the scenario
// without evaluating assertions. The returned error is reserved for
// problems setting the scenario up.
func Run(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	cfg := config{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(&cfg)
	}

	loaded, errs := compiler.LoadDir(scenario.Mapping, compiler.LoadModeCollectAll)
	if len(errs) > 0 {
		return nil, fmt.Errorf("failed to load mapping: %w", errors.Join(errs...))
	}
	reg, err := compiler.Registry(loaded.Types)
	if err != nil {
		return nil, fmt.Errorf("failed to load mapping: %w", err)
	}

	st, err := store.Open(ctx, "sqlite3", ":memory:", reg, store.WithLogger(cfg.logger))
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	r := &runner{
		ctx:     ctx,
		cfg:     cfg,
		reg:     reg,
		store:   st,
		tracer:  newTracer(st, reg),
		handles: testutil.NewSequentialGenerator("h"),
		refs:    make(map[string]mapping.Entity),
		names:   make(map[mapping.Entity]string),
	}
	if err := r.begin(); err != nil {
		return nil, err
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		r.tracer.step = i + 1
		err := r.execute(step)
		if msg := checkOutcome(step, err); msg != "" {
			result.AddError(fmt.Sprintf("steps[%d] (%s %s): %s", i, step.Op, step.Ref, msg))
			result.Trace = r.tracer.events
			return result, nil
		}
		cfg.logger.Debug("scenario step", "scenario", scenario.Name, "step", i+1, "op", step.Op, "ref", step.Ref)
	}
	if len(r.tracer.events) > 0 {
		result.Trace = r.tracer.events
	}

	actx := &AssertionContext{
		Ctx:        ctx,
		Store:      st,
		Provider:   reg,
		UnitOfWork: r.uow,
		Refs:       r.refs,
		Names:      r.names,
	}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	cfg.logger.Info("scenario finished", "scenario", scenario.Name, "pass", result.Pass, "writes", len(result.Trace))
	return result, nil
}

// begin replaces the unit of work. Sequence generators continue after the
// rows already stored.
func (r *runner) begin() error {
	opts, err := r.store.IDGenerators(r.ctx)
	if err != nil {
		return fmt.Errorf("failed to prepare identifier generators: %w", err)
	}
	opts = append(opts,
		unitofwork.WithLogger(r.cfg.logger),
		unitofwork.WithHandleGenerator(r.handles))
	if r.cfg.observer != nil {
		opts = append(opts, unitofwork.WithObserver(r.cfg.observer))
	}
	r.uow = unitofwork.New(r.reg, unitofwork.Shared(r.tracer), opts...)
	return nil
}

func (r *runner) execute(step Step) error {
	switch step.Op {
	case OpNew:
		if _, ok := r.refs[step.Ref]; ok {
			return fmt.Errorf("ref %q is already bound", step.Ref)
		}
		desc, err := r.reg.Descriptor(step.Type)
		if err != nil {
			return err
		}
		e := desc.New()
		if err := r.assign(desc, e, step.Fields); err != nil {
			return err
		}
		r.bind(step.Ref, e)
		return nil
	case OpSet:
		e, err := r.entity(step.Ref)
		if err != nil {
			return err
		}
		desc, err := r.reg.Descriptor(e.EntityType())
		if err != nil {
			return err
		}
		return r.assign(desc, e, step.Fields)
	case OpSave:
		e, err := r.entity(step.Ref)
		if err != nil {
			return err
		}
		return r.uow.Save(r.ctx, e)
	case OpDelete:
		e, err := r.entity(step.Ref)
		if err != nil {
			return err
		}
		return r.uow.Delete(e)
	case OpDetach:
		e, err := r.entity(step.Ref)
		if err != nil {
			return err
		}
		r.uow.Detach(e)
		return nil
	case OpCommit:
		return r.uow.Commit(r.ctx)
	case OpClear:
		r.uow.Clear()
		return nil
	case OpLoad:
		id := make([]any, len(step.ID))
		for i, v := range step.ID {
			id[i] = normalize(v)
		}
		e, err := r.store.Load(r.ctx, r.uow, step.Type, id...)
		if err != nil {
			return err
		}
		r.bind(step.Ref, e)
		return nil
	case OpBegin:
		return r.begin()
	}
	return fmt.Errorf("unknown op %q", step.Op)
}

func (r *runner) bind(ref string, e mapping.Entity) {
	r.refs[ref] = e
	if _, ok := r.names[e]; !ok {
		r.names[e] = ref
	}
}

func (r *runner) entity(ref string) (mapping.Entity, error) {
	e, ok := r.refs[ref]
	if !ok {
		return nil, fmt.Errorf("unknown ref %q", ref)
	}
	return e, nil
}

func (r *runner) assign(desc *mapping.Descriptor, e mapping.Entity, fields map[string]any) error {
	for name, raw := range fields {
		_, isField := desc.Meta.Field(name)
		_, isAssoc := desc.Meta.Association(name)
		if !isField && !isAssoc {
			return fmt.Errorf("%s has no field %q", desc.Meta.Name, name)
		}
		v, err := r.value(raw)
		if err != nil {
			return fmt.Errorf("field %q: %w", name, err)
		}
		if err := desc.Accessor.Set(e, name, v); err != nil {
			return fmt.Errorf("field %q: %w", name, err)
		}
	}
	return nil
}

// value resolves "@ref" strings to entities. A list whose elements are all
// references becomes []mapping.Entity.
func (r *runner) value(raw any) (any, error) {
	switch v := raw.(type) {
	case string:
		name, ok := strings.CutPrefix(v, "@")
		if !ok {
			return v, nil
		}
		return r.entity(name)
	case []any:
		out := make([]any, len(v))
		entities := make([]mapping.Entity, 0, len(v))
		for i, elem := range v {
			resolved, err := r.value(elem)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = resolved
			if e, ok := resolved.(mapping.Entity); ok {
				entities = append(entities, e)
			}
		}
		if len(entities) == len(v) {
			return entities, nil
		}
		return out, nil
	}
	return normalize(raw), nil
}

// normalize converts YAML scalars to the Go types entities hold.
func normalize(v any) any {
	switch x := v.(type) {
	case int:
		return int64(x)
	case uint64:
		return int64(x)
	}
	return v
}

// checkOutcome compares a step's error with its expectation and returns
// a description of the mismatch, or "".
func checkOutcome(step Step, err error) string {
	switch {
	case err == nil && step.Error == "":
		return ""
	case err == nil:
		return fmt.Sprintf("expected error %s, got none", step.Error)
	case step.Error == "":
		return fmt.Sprintf("unexpected error: %v", err)
	}
	if code := ErrorCode(err); code != step.Error {
		return fmt.Sprintf("expected error %s, got %s: %v", step.Error, code, err)
	}
	return ""
}

// ErrorCode classifies err for scenario expectations: the unit-of-work
// error code when there is one, NOT_FOUND for missing rows and ERROR
// otherwise.
func ErrorCode(err error) string {
	if code := unitofwork.CodeOf(err); code != "" {
		return string(code)
	}
	if errors.Is(err, store.ErrNotFound) {
		return string(unitofwork.ErrCodeNotFound)
	}
	return "ERROR"
}
