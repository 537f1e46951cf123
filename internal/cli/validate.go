package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// ValidationResult is the JSON payload of a successful validate run.
type ValidationResult struct {
	Valid bool `json:"valid"`
	Types int  `json:"types"`
	Files int  `json:"files"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <mapping-dir>",
		Short: "Validate entity mappings",
		Long: `Validate CUE entity mappings without emitting output.

Every entity is compiled and the set is checked as a whole: identifiers,
association targets, inheritance chains and discriminators.

Exit codes:
  0 - Mapping is valid
  1 - Mapping has errors
  2 - Command error (directory missing, no CUE files, etc.)`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runValidate(opts *RootOptions, dir string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	loaded, err := loadMapping(dir, formatter)
	if err != nil {
		return reportMappingErrors(formatter, "validation failed", err, ExitFailure)
	}

	result := ValidationResult{
		Valid: true,
		Types: len(loaded.Result.Types),
		Files: loaded.Result.FileCount,
	}
	return formatter.Result(result, func(w io.Writer) {
		fmt.Fprintf(w, "✓ Mapping valid: %d type(s) in %d file(s)\n", result.Types, result.Files)
	})
}
