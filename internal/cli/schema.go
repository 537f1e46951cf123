package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/uow/internal/store"
)

// SchemaOptions holds flags for the schema command.
type SchemaOptions struct {
	*RootOptions
	Driver string
	DB     string
}

// SchemaResult is the JSON payload of the schema command.
type SchemaResult struct {
	Driver     string      `json:"driver"`
	Statements []string    `json:"statements,omitempty"`
	Tables     []TableInfo `json:"tables,omitempty"`
}

// TableInfo describes one root table after migration.
type TableInfo struct {
	Type  string `json:"type"`
	Table string `json:"table"`
	Rows  int    `json:"rows"`
}

// NewSchemaCommand creates the schema command.
func NewSchemaCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SchemaOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "schema <mapping-dir>",
		Short: "Print or apply the database schema of a mapping",
		Long: `Print the DDL a mapping needs, or apply it to a database.

Without --db the statements are printed for the chosen driver. With --db
the database is opened and every statement not applied before is run;
the command then lists each root table with its row count.

Examples:
  uow schema ./mapping
  uow schema ./mapping --driver pgx
  uow schema ./mapping --db ./shop.db
  uow schema ./mapping --driver pgx --db postgres://localhost/shop`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSchema(cmd.Context(), opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Driver, "driver", "sqlite3", fmt.Sprintf("database driver (%s)", strings.Join(store.Drivers, "|")))
	cmd.Flags().StringVar(&opts.DB, "db", "", "database DSN to migrate")

	return cmd
}

func runSchema(ctx context.Context, opts *SchemaOptions, dir string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	loaded, err := loadMapping(dir, formatter)
	if err != nil {
		return reportMappingErrors(formatter, "compilation failed", err, ExitCommandError)
	}

	if opts.DB == "" {
		stmts, err := store.DDL(opts.Driver, loaded.Registry)
		if err != nil {
			_ = formatter.Error(CLIError{Code: ErrCodeBadFlag, Message: err.Error()})
			return WrapExitError(ExitCommandError, "building schema", err)
		}
		return formatter.Result(SchemaResult{Driver: opts.Driver, Statements: stmts}, func(w io.Writer) {
			for _, stmt := range stmts {
				fmt.Fprintf(w, "%s;\n\n", stmt)
			}
		})
	}

	logger := opts.logger(formatter.errWriter())
	st, err := store.Open(ctx, opts.Driver, opts.DB, loaded.Registry, store.WithLogger(logger))
	if err != nil {
		_ = formatter.Error(CLIError{Code: ErrCodeStore, Message: err.Error()})
		return WrapExitError(ExitCommandError, "opening database", err)
	}
	defer st.Close()

	result := SchemaResult{Driver: opts.Driver}
	for _, name := range loaded.Registry.Names() {
		desc, err := loaded.Registry.Descriptor(name)
		if err != nil {
			return WrapExitError(ExitCommandError, "resolving type", err)
		}
		if desc.Meta.RootName() != name {
			continue // subtypes share the root table
		}
		table, err := st.Table(name)
		if err != nil {
			return WrapExitError(ExitCommandError, "resolving table", err)
		}
		rows, err := st.Count(ctx, name)
		if err != nil {
			_ = formatter.Error(CLIError{Code: ErrCodeStore, Message: err.Error(), Type: name})
			return WrapExitError(ExitCommandError, "counting rows", err)
		}
		result.Tables = append(result.Tables, TableInfo{Type: name, Table: table, Rows: rows})
	}

	return formatter.Result(result, func(w io.Writer) {
		fmt.Fprintf(w, "✓ Schema applied (%s dialect)\n\n", st.Dialect())
		for _, t := range result.Tables {
			fmt.Fprintf(w, "  %s: %s, %d row(s)\n", t.Type, t.Table, t.Rows)
		}
	})
}
