package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/joelmontavon/fhir4ds3-sub015/internal/compiler"
	"github.com/joelmontavon/fhir4ds3-sub015/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Driver string
	DSN    string
	Load   string // NDJSON file to load before running
}

// RunOutput is the JSON payload for an executed query.
type RunOutput struct {
	Expression string      `json:"expression"`
	SQL        string      `json:"sql"`
	RunID      string      `json:"run_id"`
	Rows       []store.Row `json:"rows"`
}

// dialectForDriver picks the SQL dialect matching a database driver.
func dialectForDriver(driver string) string {
	switch driver {
	case "postgres":
		return "postgresql"
	case "sqlite3":
		return "sqlite"
	default:
		return compiler.DefaultDialect
	}
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <expression>",
		Short: "Compile and execute an expression against a database",
		Long: `Compile a FHIRPath expression and execute it.

With --load, an NDJSON file of resources is inserted first. The default
target is an in-memory SQLite database, so run --load works without any
setup.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Unless asked otherwise, compile for the backend we execute on.
			if f := cmd.InheritedFlags().Lookup("dialect"); f != nil && !f.Changed {
				opts.Dialect = dialectForDriver(opts.Driver)
			}
			return runRun(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Driver, "driver", "sqlite3", "database driver (sqlite3|postgres)")
	cmd.Flags().StringVar(&opts.DSN, "dsn", ":memory:", "database connection string")
	cmd.Flags().StringVar(&opts.Load, "load", "", "NDJSON resource file to load before running")

	return cmd
}

func runRun(opts *RunOptions, expression string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	compiled, err := compiler.Compile(expression, opts.CompilerOptions())
	if err != nil {
		_ = formatter.Error("COMPILE_FAILED", err.Error(), nil)
		return WrapExitError(ExitFailure, "compilation failed", err)
	}

	st, err := store.Open(store.Config{
		Driver:         opts.Driver,
		DSN:            opts.DSN,
		Table:          opts.Table,
		IDColumn:       opts.IDColumn,
		ResourceColumn: opts.ResourceColumn,
	})
	if err != nil {
		_ = formatter.Error("STORE_OPEN_FAILED", err.Error(), nil)
		return WrapExitError(ExitCommandError, "opening database", err)
	}
	defer st.Close()

	if opts.Load != "" {
		f, err := os.Open(opts.Load)
		if err != nil {
			_ = formatter.Error("LOAD_FAILED", err.Error(), nil)
			return WrapExitError(ExitCommandError, "opening resource file", err)
		}
		report, err := st.LoadNDJSON(cmd.Context(), f)
		f.Close()
		if err != nil {
			_ = formatter.Error("LOAD_FAILED", err.Error(), nil)
			return WrapExitError(ExitCommandError, "loading resources", err)
		}
		formatter.VerboseLog("Loaded %d resource(s) from %s", report.Loaded, opts.Load)
	}

	result, err := st.Run(cmd.Context(), compiled.SQL)
	if err != nil {
		_ = formatter.Error("QUERY_FAILED", err.Error(), nil)
		return WrapExitError(ExitCommandError, "executing query", err)
	}

	if formatter.Format == "json" {
		return formatter.Success(RunOutput{
			Expression: expression,
			SQL:        compiled.SQL,
			RunID:      result.RunID,
			Rows:       result.Rows,
		})
	}

	fmt.Fprintf(formatter.Writer, "run %s: %d row(s)\n", result.RunID, len(result.Rows))
	for _, row := range result.Rows {
		value := "<empty>"
		if row.Value != nil {
			value = *row.Value
		}
		fmt.Fprintf(formatter.Writer, "  %s\t%s\n", row.ID, value)
	}
	return nil
}
