package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/consentstack/internal/compiler"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid     bool                       `json:"valid" yaml:"valid"`
	Stack     string                     `json:"stack,omitempty" yaml:"stack,omitempty"`
	Resources int                        `json:"resources,omitempty" yaml:"resources,omitempty"`
	Errors    []compiler.ValidationError `json:"errors,omitempty" yaml:"errors,omitempty"`
	Warnings  []compiler.Warning         `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	flags := &stackFlags{}

	cmd := &cobra.Command{
		Use:   "validate <stack-dir>",
		Short: "Validate a stack without deploying it",
		Long: `Validate a CUE stack: structural checks on every descriptor, reference
resolution, route and domain binding rules, and dependency cycle analysis.

All validation errors are reported, not only the first. Warnings such as a
function that references a table it has no access grant for do not fail
validation.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, flags, args[0], cmd)
		},
	}
	flags.register(cmd)

	return cmd
}

func runValidate(opts *RootOptions, flags *stackFlags, dir string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	loaded, res, err := flags.load(opts, formatter, dir)
	if err != nil {
		if loaded == nil {
			return err
		}
		return buildFailure(formatter, err)
	}

	result := ValidationResult{
		Valid:     true,
		Stack:     loaded.Topology.Name,
		Resources: len(res.Plan.Nodes),
		Warnings:  res.Warnings,
	}
	if formatter.Structured() {
		return formatter.Success(result)
	}

	fmt.Fprintf(formatter.Writer, "%s Stack %s valid (%d resources)\n", okMark, result.Stack, result.Resources)
	printWarnings(formatter, res.Warnings)
	return nil
}

// buildFailure renders a build error and returns the exit error.
// Validation failures are exit code 1.
func buildFailure(f *OutputFormatter, err error) error {
	var be *compiler.BuildError
	if !errors.As(err, &be) {
		return f.fail(ExitCommandError, ErrCodeGeneric, err.Error(), nil)
	}

	if f.Structured() {
		if encErr := f.Encode(CLIResponse{
			Status: "error",
			Data:   ValidationResult{Valid: false, Errors: be.Errors},
			Error: &CLIError{
				Code:    be.Errors[0].Code,
				Message: be.Errors[0].Message,
			},
		}); encErr != nil {
			return encErr
		}
		return WrapExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(be.Errors)), err)
	}

	fmt.Fprintf(f.Writer, "%s Validation failed\n\n", failMark)
	for _, ve := range be.Errors {
		if ve.Line > 0 {
			fmt.Fprintf(f.Writer, "line %d\n", ve.Line)
		}
		fmt.Fprintf(f.Writer, "  %s: %s: %s\n\n", ve.Code, ve.Field, ve.Message)
	}
	return WrapExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(be.Errors)), err)
}

func printWarnings(f *OutputFormatter, warnings []compiler.Warning) {
	for _, w := range warnings {
		fmt.Fprintf(f.Writer, "%s %s: %s: %s\n", warnMark, w.Code, w.Field, w.Message)
	}
}
