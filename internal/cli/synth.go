package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/consentstack/internal/template"
)

// SynthOptions holds flags for the synth command.
type SynthOptions struct {
	*RootOptions
	stackFlags
	Output string // output file path
}

// SynthResult is the structured response of a synth written to a file.
type SynthResult struct {
	Stack     string `json:"stack"`
	Output    string `json:"output"`
	Resources int    `json:"resources"`
	Bytes     int    `json:"bytes"`
}

// NewSynthCommand creates the synth command.
func NewSynthCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SynthOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "synth <stack-dir>",
		Short: "Render the plan as a deployment template",
		Long: `Render the assembled plan as a CloudFormation-shaped template for an
external orchestrator. Every dependency edge appears as an explicit
DependsOn entry; hosted zones become parameters.

The template is JSON unless --format yaml is given.

Example:
  consentstack synth ./stacks/cookiesconsent -o template.json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSynth(opts, args[0], cmd)
		},
	}
	opts.stackFlags.register(cmd)
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file path (default stdout)")

	return cmd
}

func runSynth(opts *SynthOptions, dir string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	loaded, res, err := opts.stackFlags.load(opts.RootOptions, formatter, dir)
	if err != nil {
		if loaded == nil {
			return err
		}
		return buildFailure(formatter, err)
	}

	tmpl, err := template.Render(res.Plan)
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeGeneric, err.Error(), nil)
	}
	var data []byte
	if opts.Format == "yaml" {
		data, err = tmpl.YAML()
	} else {
		data, err = tmpl.JSON()
	}
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeGeneric, err.Error(), nil)
	}

	// Without -o the template itself is the output, in any format.
	if opts.Output == "" {
		_, err := cmd.OutOrStdout().Write(data)
		return err
	}

	if err := os.WriteFile(opts.Output, data, 0o644); err != nil {
		return formatter.fail(ExitCommandError, ErrCodeWriteFailed, fmt.Sprintf("writing template: %v", err), nil)
	}
	result := SynthResult{
		Stack:     res.Plan.Stack,
		Output:    opts.Output,
		Resources: len(tmpl.Resources),
		Bytes:     len(data),
	}
	if formatter.Structured() {
		return formatter.Success(result)
	}
	fmt.Fprintf(formatter.Writer, "%s Wrote %s (%d resources, %d bytes)\n", okMark, result.Output, result.Resources, result.Bytes)
	return nil
}
