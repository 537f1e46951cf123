package compiler

import (
	"fmt"
	"slices"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/uow/internal/mapping"
)

// CompileEntity parses a CUE value into a TypeMeta.
// Uses CUE SDK's Go API directly (not CLI subprocess).
//
// The CUE value should be the entity struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`entity: Order: { ... }`)
//	meta, err := CompileEntity(v.LookupPath(cue.ParsePath("entity.Order")))
//
// Recognized keys:
//
//	id:            "id" | ["tenant", "id"]     identifier fields (default ["id"])
//	generator:     "assigned" | "uuid" | "sequence" | "post_insert"
//	extends:       parent type name
//	discriminator: value stored for this type in the root table
//	fields:        { name: int | string | float | bool | bytes | "time" }
//	associations:  { name: { target, many?, owning?, cascade?: ["save", "delete"] } }
func CompileEntity(v cue.Value) (*mapping.TypeMeta, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	meta := &mapping.TypeMeta{}

	labels := v.Path().Selectors()
	if len(labels) > 0 {
		meta.Name = labels[len(labels)-1].String()
	}

	var err error
	if meta.Extends, err = optionalString(v, "extends"); err != nil {
		return nil, err
	}
	if meta.Discriminator, err = optionalString(v, "discriminator"); err != nil {
		return nil, err
	}

	generator, err := optionalString(v, "generator")
	if err != nil {
		return nil, err
	}
	if generator != "" {
		meta.Strategy = mapping.IDStrategy(generator)
		if !meta.Strategy.IsValid() {
			return nil, &CompileError{
				Field:   "generator",
				Message: fmt.Sprintf("unknown generator %q: must be one of %v", generator, mapping.ValidStrategies),
				Pos:     v.LookupPath(cue.ParsePath("generator")).Pos(),
			}
		}
	}

	meta.Identifier, err = parseIdentifier(v)
	if err != nil {
		return nil, err
	}
	// Subtypes inherit the identifier; only roots get the default.
	if meta.Identifier == nil && meta.Extends == "" {
		meta.Identifier = []string{"id"}
	}

	meta.Fields, err = parseFields(v)
	if err != nil {
		return nil, err
	}

	meta.Associations, err = parseAssociations(v)
	if err != nil {
		return nil, err
	}

	return meta, nil
}

func optionalString(v cue.Value, path string) (string, error) {
	val := v.LookupPath(cue.ParsePath(path))
	if !val.Exists() {
		return "", nil
	}
	s, err := val.String()
	if err != nil {
		return "", &CompileError{Field: path, Message: "must be a string", Pos: val.Pos()}
	}
	return s, nil
}

// parseIdentifier accepts a single field name or a list of names.
func parseIdentifier(v cue.Value) ([]string, error) {
	idVal := v.LookupPath(cue.ParsePath("id"))
	if !idVal.Exists() {
		return nil, nil
	}
	if s, err := idVal.String(); err == nil {
		return []string{s}, nil
	}
	iter, err := idVal.List()
	if err != nil {
		return nil, &CompileError{Field: "id", Message: "must be a field name or a list of field names", Pos: idVal.Pos()}
	}
	var ids []string
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		ids = append(ids, s)
	}
	if len(ids) == 0 {
		return nil, &CompileError{Field: "id", Message: "identifier list is empty", Pos: idVal.Pos()}
	}
	return ids, nil
}

func parseFields(v cue.Value) ([]mapping.Field, error) {
	fieldsVal := v.LookupPath(cue.ParsePath("fields"))
	if !fieldsVal.Exists() {
		return nil, nil
	}
	iter, err := fieldsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var fields []mapping.Field
	for iter.Next() {
		kind, err := extractKind(iter.Value())
		if err != nil {
			return nil, err
		}
		fields = append(fields, mapping.Field{Name: iter.Label(), Kind: kind})
	}
	return fields, nil
}

func parseAssociations(v cue.Value) ([]mapping.Association, error) {
	assocVal := v.LookupPath(cue.ParsePath("associations"))
	if !assocVal.Exists() {
		return nil, nil
	}
	iter, err := assocVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var out []mapping.Association
	for iter.Next() {
		name := iter.Label()
		val := iter.Value()
		a := mapping.Association{Field: name}

		targetVal := val.LookupPath(cue.ParsePath("target"))
		if !targetVal.Exists() {
			return nil, &CompileError{
				Field:   fmt.Sprintf("associations.%s.target", name),
				Message: "association target is required",
				Pos:     val.Pos(),
			}
		}
		if a.Target, err = targetVal.String(); err != nil {
			return nil, formatCUEError(err)
		}
		if a.ToMany, err = optionalBool(val, "many"); err != nil {
			return nil, err
		}
		owning, err := optionalBool(val, "owning")
		if err != nil {
			return nil, err
		}
		// To-one references own their foreign key unless declared otherwise.
		if !val.LookupPath(cue.ParsePath("owning")).Exists() {
			owning = !a.ToMany
		}
		a.Owning = owning

		cascade, err := parseCascade(val, name)
		if err != nil {
			return nil, err
		}
		a.CascadeSave = slices.Contains(cascade, "save")
		a.CascadeDelete = slices.Contains(cascade, "delete")

		out = append(out, a)
	}
	return out, nil
}

func optionalBool(v cue.Value, path string) (bool, error) {
	val := v.LookupPath(cue.ParsePath(path))
	if !val.Exists() {
		return false, nil
	}
	b, err := val.Bool()
	if err != nil {
		return false, &CompileError{Field: path, Message: "must be a bool", Pos: val.Pos()}
	}
	return b, nil
}

func parseCascade(v cue.Value, assoc string) ([]string, error) {
	val := v.LookupPath(cue.ParsePath("cascade"))
	if !val.Exists() {
		return nil, nil
	}
	iter, err := val.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var ops []string
	for iter.Next() {
		op, err := iter.Value().String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		if op != "save" && op != "delete" {
			return nil, &CompileError{
				Field:   fmt.Sprintf("associations.%s.cascade", assoc),
				Message: fmt.Sprintf("unknown cascade %q: must be save or delete", op),
				Pos:     iter.Value().Pos(),
			}
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// extractKind maps a CUE type (or a kind name string) to a field kind.
func extractKind(v cue.Value) (mapping.FieldKind, error) {
	if s, err := v.String(); err == nil {
		k := mapping.FieldKind(s)
		if !k.IsValid() {
			return "", &CompileError{
				Field:   "type",
				Message: fmt.Sprintf("unknown field kind %q", s),
				Pos:     v.Pos(),
			}
		}
		return k, nil
	}
	switch v.IncompleteKind() {
	case cue.StringKind:
		return mapping.KindString, nil
	case cue.IntKind:
		return mapping.KindInt, nil
	case cue.FloatKind, cue.NumberKind:
		return mapping.KindFloat, nil
	case cue.BoolKind:
		return mapping.KindBool, nil
	case cue.BytesKind:
		return mapping.KindBytes, nil
	default:
		return "", &CompileError{
			Field:   "type",
			Message: fmt.Sprintf("unsupported type kind: %v", v.IncompleteKind()),
			Pos:     v.Pos(),
		}
	}
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	// Return first error with position info
	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
