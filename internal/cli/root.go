// Package cli implements the fhirsql command tree: compile, validate and
// run. Commands write structured output in text or JSON and reserve exit
// code 2 for command errors.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joelmontavon/fhir4ds3-sub015/internal/compiler"
	"github.com/joelmontavon/fhir4ds3-sub015/internal/dialect"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	Dialect        string
	Table          string
	IDColumn       string
	ResourceColumn string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// CompilerOptions maps the global flags onto compiler options.
func (o *RootOptions) CompilerOptions() compiler.Options {
	return compiler.Options{
		Dialect:        o.Dialect,
		Table:          o.Table,
		IDColumn:       o.IDColumn,
		ResourceColumn: o.ResourceColumn,
	}
}

// NewRootCommand creates the root command for the fhirsql CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "fhirsql",
		Short: "fhirsql - FHIRPath to SQL compiler",
		Long:  "Compile FHIRPath expressions into single SQL statements over JSON resource tables.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			if dialect.Get(opts.Dialect) == nil {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid dialect %q: must be one of %v", opts.Dialect, dialect.Names()))
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Dialect, "dialect", compiler.DefaultDialect, "target SQL dialect")
	cmd.PersistentFlags().StringVar(&opts.Table, "table", compiler.DefaultTable, "resource table name")
	cmd.PersistentFlags().StringVar(&opts.IDColumn, "id-column", compiler.DefaultIDColumn, "resource id column")
	cmd.PersistentFlags().StringVar(&opts.ResourceColumn, "resource-column", compiler.DefaultResourceColumn, "resource document column")

	cmd.AddCommand(NewCompileCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewRunCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
