package cli

import (
	"errors"
	"fmt"

	"github.com/roach88/uow/internal/compiler"
	"github.com/roach88/uow/internal/mapping"
)

// loadedMapping is a compiled, validated and resolved mapping directory.
type loadedMapping struct {
	Result   *compiler.LoadResult
	Registry *mapping.Registry
}

// mappingErrors holds problems found while loading a mapping directory.
type mappingErrors struct {
	// Fatal is set when the directory itself could not be read.
	Fatal bool
	Errs  []error
}

func (e *mappingErrors) Error() string {
	return fmt.Sprintf("mapping has %d error(s)", len(e.Errs))
}

// loadMapping compiles every entity in dir and validates them together.
// All compile and validation errors are collected before returning.
func loadMapping(dir string, f *OutputFormatter) (*loadedMapping, error) {
	result, loadErrs := compiler.LoadDir(dir, compiler.LoadModeCollectAll)
	if result == nil {
		return nil, &mappingErrors{Fatal: true, Errs: loadErrs}
	}
	f.VerboseLog("Found %d CUE file(s) in %s", result.FileCount, dir)
	for _, meta := range result.Types {
		f.VerboseLog("Compiled entity: %s", meta.Name)
	}

	// Validating a partial set would report its missing types as unknown
	// targets, so compile errors are reported alone.
	if len(loadErrs) > 0 {
		return nil, &mappingErrors{Errs: loadErrs}
	}
	var errs []error
	for _, verr := range compiler.Validate(result.Types) {
		errs = append(errs, verr)
	}
	if len(errs) > 0 {
		return nil, &mappingErrors{Errs: errs}
	}

	reg, err := compiler.Registry(result.Types)
	if err != nil {
		return nil, &mappingErrors{Errs: []error{err}}
	}
	return &loadedMapping{Result: result, Registry: reg}, nil
}

// reportMappingErrors prints err, which loadMapping returned, and converts
// it into an exit error. Unreadable directories exit with
// ExitCommandError, broken mappings with failCode.
func reportMappingErrors(f *OutputFormatter, title string, err error, failCode int) error {
	var merr *mappingErrors
	if !errors.As(err, &merr) || len(merr.Errs) == 0 {
		_ = f.Error(describe(err, compiler.ErrCodeGeneric))
		return WrapExitError(ExitCommandError, title, err)
	}
	if merr.Fatal {
		e := describe(merr.Errs[0], compiler.ErrCodeGeneric)
		_ = f.Error(e)
		return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", e.Code, e.Message))
	}

	list := make([]CLIError, len(merr.Errs))
	for i, e := range merr.Errs {
		list[i] = describe(e, compiler.ErrCodeGeneric)
	}
	if err := f.Errors(title, list); err != nil {
		return err
	}
	return NewExitError(failCode, fmt.Sprintf("%s with %d error(s)", title, len(list)))
}
