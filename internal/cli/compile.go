package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/joelmontavon/fhir4ds3-sub015/internal/compiler"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Output string // output file path
}

// CompileResult is the JSON payload for a successful compilation.
type CompileResult struct {
	Expression string `json:"expression"`
	Dialect    string `json:"dialect"`
	SQL        string `json:"sql"`
	Fragments  int    `json:"fragments"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <expression>",
		Short: "Compile a FHIRPath expression to SQL",
		Long: `Compile one FHIRPath expression into a single SQL statement.

The statement returns (id, value) rows over the configured resource table
and is printed to stdout or written with --output.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // errors get our own formatting
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file path")

	return cmd
}

func runCompile(opts *CompileOptions, expression string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	formatter.VerboseLog("Compiling %q for dialect %s", expression, opts.Dialect)

	result, err := compiler.Compile(expression, opts.CompilerOptions())
	if err != nil {
		_ = formatter.Error("COMPILE_FAILED", err.Error(), nil)
		return WrapExitError(ExitFailure, "compilation failed", err)
	}

	formatter.VerboseLog("Assembled %d fragment(s)", len(result.Fragments))

	if opts.Output != "" {
		if err := os.WriteFile(opts.Output, []byte(result.SQL+"\n"), 0644); err != nil {
			_ = formatter.Error("WRITE_FAILED", err.Error(), nil)
			return WrapExitError(ExitCommandError, "writing output file", err)
		}
	}

	if formatter.Format == "json" {
		return formatter.Success(CompileResult{
			Expression: expression,
			Dialect:    result.Dialect,
			SQL:        result.SQL,
			Fragments:  len(result.Fragments),
		})
	}

	if opts.Output != "" {
		fmt.Fprintf(formatter.Writer, "Wrote SQL to %s\n", opts.Output)
		return nil
	}
	fmt.Fprintln(formatter.Writer, result.SQL)
	return nil
}
