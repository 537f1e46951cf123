package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/uow/internal/commitorder"
)

// OrderOptions holds flags for the order command.
type OrderOptions struct {
	*RootOptions
	SelfReference string
}

// OrderResult is the write order a commit would use.
type OrderResult struct {
	Insert []string            `json:"insert"`
	Delete []string            `json:"delete"`
	Deps   map[string][]string `json:"dependencies"`
}

// NewOrderCommand creates the order command.
func NewOrderCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &OrderOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "order <mapping-dir> [type...]",
		Short: "Show the commit order of entity types",
		Long: `Show the order in which a commit writes entity types.

Inserts and updates run in insert order, so every referenced type is
written before the types that hold a foreign key to it. Deletes run in
the reverse order. With no types given, every mapped type is ordered.

Examples:
  uow order ./mapping
  uow order ./mapping Order LineItem
  uow order ./mapping --self-reference reject`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOrder(opts, args[0], args[1:], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.SelfReference, "self-reference", "allow", "self-referencing types (allow|reject)")

	return cmd
}

func runOrder(opts *OrderOptions, dir string, types []string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	policy, err := commitorder.ParseSelfReferencePolicy(opts.SelfReference)
	if err != nil {
		_ = formatter.Error(CLIError{Code: ErrCodeBadFlag, Message: err.Error()})
		return WrapExitError(ExitCommandError, "invalid --self-reference", err)
	}

	loaded, err := loadMapping(dir, formatter)
	if err != nil {
		return reportMappingErrors(formatter, "compilation failed", err, ExitCommandError)
	}
	if len(types) == 0 {
		types = loaded.Registry.Names()
	}

	calc := commitorder.New(loaded.Registry, commitorder.WithSelfReferencePolicy(policy))
	order, err := calc.Order(types)
	if err != nil {
		e := describe(err, ErrCodeUnknownType)
		_ = formatter.Error(e)
		if e.Code == ErrCodeCycle {
			return WrapExitError(ExitFailure, "no commit order", err)
		}
		return WrapExitError(ExitCommandError, "ordering types", err)
	}

	result := OrderResult{
		Insert: order,
		Delete: commitorder.Reverse(order),
		Deps:   make(map[string][]string, len(order)),
	}
	for _, name := range order {
		if deps := calc.Dependencies(name); len(deps) > 0 {
			result.Deps[name] = deps
		}
	}

	return formatter.Result(result, func(w io.Writer) {
		fmt.Fprintln(w, "Insert order:")
		for i, name := range result.Insert {
			fmt.Fprintf(w, "  %d. %s", i+1, name)
			if deps := result.Deps[name]; len(deps) > 0 {
				fmt.Fprintf(w, " (after %v)", deps)
			}
			fmt.Fprintln(w)
		}
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Delete order:")
		for i, name := range result.Delete {
			fmt.Fprintf(w, "  %d. %s\n", i+1, name)
		}
	})
}
