package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joelmontavon/fhir4ds3-sub015/internal/compiler"
)

// ValidateResult is the JSON payload for a validation.
type ValidateResult struct {
	Expression string `json:"expression"`
	Valid      bool   `json:"valid"`
	Error      string `json:"error,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <expression>",
		Short: "Check that a FHIRPath expression compiles",
		Long: `Run the full compilation pipeline without emitting SQL.

Exit code 0 means the expression would compile; exit code 1 reports the
first pipeline error.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runValidate(opts *RootOptions, expression string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	err := compiler.Validate(expression, opts.CompilerOptions())
	if formatter.Format == "json" {
		result := ValidateResult{Expression: expression, Valid: err == nil}
		if err != nil {
			result.Error = err.Error()
			_ = formatter.Success(result)
			return NewExitError(ExitFailure, "expression does not compile")
		}
		return formatter.Success(result)
	}

	if err != nil {
		fmt.Fprintf(formatter.Writer, "✗ %s\n", err)
		return NewExitError(ExitFailure, "expression does not compile")
	}
	fmt.Fprintln(formatter.Writer, "✓ expression compiles")
	return nil
}
