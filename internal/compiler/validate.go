package compiler

import (
	"fmt"
	"slices"

	"github.com/roach88/uow/internal/mapping"
)

// Validation error codes (E100-E199)
const (
	ErrDuplicateType       = "E101" // type declared twice
	ErrMissingIdentifier   = "E102" // root type without identifier
	ErrUndeclaredID        = "E103" // identifier names no scalar field
	ErrInvalidFieldKind    = "E104" // unknown field kind
	ErrDuplicateField      = "E105" // field or association declared twice
	ErrUnknownTarget       = "E106" // association target is not a mapped type
	ErrUnknownParent       = "E107" // extends names an unmapped type
	ErrInheritanceCycle    = "E108" // extends chain loops
	ErrSubtypeIdentity     = "E109" // subtype redeclares identifier or generator
	ErrInvalidGenerator    = "E110" // unknown identifier strategy
	ErrDuplicateDiscrim    = "E111" // two types in one hierarchy share a discriminator
	ErrPostInsertComposite = "E112" // post_insert needs a single identifier field
)

// ValidationError represents a mapping validation error.
type ValidationError struct {
	Type    string `json:"type"`
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("[%s] %s.%s: %s", e.Code, e.Type, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate checks a set of entity mappings as a whole.
// Returns all errors found (does not fail-fast).
func Validate(metas []mapping.TypeMeta) []ValidationError {
	var errs []ValidationError
	byName := make(map[string]*mapping.TypeMeta, len(metas))
	for i := range metas {
		m := &metas[i]
		if _, dup := byName[m.Name]; dup {
			errs = append(errs, ValidationError{
				Type:    m.Name,
				Field:   "name",
				Message: fmt.Sprintf("type %q is declared more than once", m.Name),
				Code:    ErrDuplicateType,
			})
			continue
		}
		byName[m.Name] = m
	}

	for i := range metas {
		errs = append(errs, validateType(&metas[i], byName)...)
	}
	errs = append(errs, validateDiscriminators(metas, byName)...)
	return errs
}

func validateType(m *mapping.TypeMeta, byName map[string]*mapping.TypeMeta) []ValidationError {
	var errs []ValidationError
	add := func(field, code, format string, args ...any) {
		errs = append(errs, ValidationError{Type: m.Name, Field: field, Message: fmt.Sprintf(format, args...), Code: code})
	}

	if m.Strategy != "" && !m.Strategy.IsValid() {
		add("generator", ErrInvalidGenerator, "unknown generator %q", m.Strategy)
	}

	chain, cyclic := ancestors(m, byName)
	if cyclic {
		add("extends", ErrInheritanceCycle, "inheritance cycle through %q", m.Extends)
		return errs
	}
	if m.Extends != "" {
		if _, ok := byName[m.Extends]; !ok {
			add("extends", ErrUnknownParent, "parent type %q is not mapped", m.Extends)
			return errs
		}
		if len(m.Identifier) > 0 {
			add("id", ErrSubtypeIdentity, "subtypes inherit the identifier of %q", chain[len(chain)-1].Name)
		}
		if m.Strategy != "" {
			add("generator", ErrSubtypeIdentity, "subtypes inherit the generator of %q", chain[len(chain)-1].Name)
		}
	}

	root := m
	if len(chain) > 0 {
		root = chain[len(chain)-1]
	}
	if m == root && len(m.Identifier) == 0 {
		add("id", ErrMissingIdentifier, "root type needs an identifier")
	}
	if m == root && m.Strategy == mapping.IDPostInsert && len(m.Identifier) > 1 {
		add("id", ErrPostInsertComposite, "post_insert generator needs a single identifier field")
	}

	// Names visible on this type: own plus inherited.
	seen := make(map[string]bool)
	for i := len(chain) - 1; i >= 0; i-- {
		for _, f := range chain[i].Fields {
			seen[f.Name] = true
		}
		for _, a := range chain[i].Associations {
			seen[a.Field] = true
		}
	}
	for _, f := range m.Fields {
		if !f.Kind.IsValid() {
			add("fields."+f.Name, ErrInvalidFieldKind, "unknown field kind %q", f.Kind)
		}
		if seen[f.Name] {
			add("fields."+f.Name, ErrDuplicateField, "field %q is already declared", f.Name)
		}
		seen[f.Name] = true
	}
	for _, a := range m.Associations {
		if seen[a.Field] {
			add("associations."+a.Field, ErrDuplicateField, "field %q is already declared", a.Field)
		}
		seen[a.Field] = true
		if _, ok := byName[a.Target]; !ok {
			add("associations."+a.Field, ErrUnknownTarget, "target type %q is not mapped", a.Target)
		}
	}

	if m == root {
		for _, id := range m.Identifier {
			if !slices.ContainsFunc(m.Fields, func(f mapping.Field) bool { return f.Name == id }) {
				add("id", ErrUndeclaredID, "identifier %q is not a declared field", id)
			}
		}
	}
	return errs
}

// ancestors returns the parent chain nearest first. cyclic is true when
// the chain loops back on itself.
func ancestors(m *mapping.TypeMeta, byName map[string]*mapping.TypeMeta) ([]*mapping.TypeMeta, bool) {
	var chain []*mapping.TypeMeta
	visited := map[string]bool{m.Name: true}
	for parent := m.Extends; parent != ""; {
		if visited[parent] {
			return chain, true
		}
		visited[parent] = true
		p, ok := byName[parent]
		if !ok {
			return chain, false
		}
		chain = append(chain, p)
		parent = p.Extends
	}
	return chain, false
}

func validateDiscriminators(metas []mapping.TypeMeta, byName map[string]*mapping.TypeMeta) []ValidationError {
	var errs []ValidationError
	seen := make(map[string]string)
	for i := range metas {
		m := &metas[i]
		chain, cyclic := ancestors(m, byName)
		if cyclic {
			continue
		}
		root := m.Name
		if len(chain) > 0 {
			root = chain[len(chain)-1].Name
		}
		key := root + "\x00" + m.DiscriminatorValue()
		if other, dup := seen[key]; dup && other != m.Name {
			errs = append(errs, ValidationError{
				Type:    m.Name,
				Field:   "discriminator",
				Message: fmt.Sprintf("discriminator %q is already used by %q", m.DiscriminatorValue(), other),
				Code:    ErrDuplicateDiscrim,
			})
			continue
		}
		seen[key] = m.Name
	}
	return errs
}
