package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/uow/internal/compiler"
	"github.com/roach88/uow/internal/mapping"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Output string // output file path
}

// CompilationResult holds the resolved entity mappings.
type CompilationResult struct {
	Types []mapping.TypeMeta `json:"types"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <mapping-dir>",
		Short: "Compile CUE mappings to resolved JSON",
		Long: `Compile CUE entity mappings and print the resolved type metadata.

Subtypes are shown with their inherited fields, identifiers and
associations, exactly as the unit of work sees them.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file path")

	return cmd
}

func runCompile(opts *CompileOptions, dir string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	loaded, err := loadMapping(dir, formatter)
	if err != nil {
		return reportMappingErrors(formatter, "compilation failed", err, ExitCommandError)
	}

	result, err := resolvedTypes(loaded.Registry)
	if err != nil {
		_ = formatter.Error(describe(err, compiler.ErrCodeGeneric))
		return WrapExitError(ExitCommandError, "resolving types", err)
	}

	if opts.Output != "" {
		if err := writeCompiledFile(result, opts.Output); err != nil {
			_ = formatter.Error(CLIError{Code: ErrCodeWriteFailed, Message: fmt.Sprintf("writing output file: %v", err)})
			return WrapExitError(ExitCommandError, "writing output file", err)
		}
	}

	return formatter.Result(result, func(w io.Writer) {
		fmt.Fprintf(w, "✓ Compiled %d type(s)\n\n", len(result.Types))
		for _, meta := range result.Types {
			fmt.Fprintf(w, "  %s: %d field(s), %d association(s), %s identifier",
				meta.Name, len(meta.Fields), len(meta.Associations), meta.Strategy)
			if meta.Extends != "" {
				fmt.Fprintf(w, ", extends %s", meta.Extends)
			}
			fmt.Fprintln(w)
		}
		if opts.Output != "" {
			fmt.Fprintf(w, "\nWrote resolved mapping to %s\n", opts.Output)
		}
	})
}

// resolvedTypes returns every registered type with inheritance applied, in
// declaration order.
func resolvedTypes(reg *mapping.Registry) (*CompilationResult, error) {
	result := &CompilationResult{}
	for _, name := range reg.Names() {
		desc, err := reg.Descriptor(name)
		if err != nil {
			return nil, err
		}
		result.Types = append(result.Types, *desc.Meta)
	}
	return result, nil
}

func writeCompiledFile(result *CompilationResult, filename string) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling mapping: %w", err)
	}
	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}
	return nil
}
