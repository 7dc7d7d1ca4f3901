package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/consentstack/internal/store"
)

// OutputsResult lists the outputs of one deployment.
type OutputsResult struct {
	DeploymentID string              `json:"deployment_id"`
	Stack        string              `json:"stack"`
	Outputs      []store.OutputValue `json:"outputs"`
}

// NewOutputsCommand creates the outputs command.
func NewOutputsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LedgerOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "outputs",
		Short: "Print the stack outputs of a deployment",
		Long: `Print the outputs recorded for a deployment (the latest by default).
An output whose source never became available holds its placeholder.

Example:
  consentstack outputs --db ./consentstack.db`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOutputs(opts, cmd)
		},
	}
	opts.register(cmd)

	return cmd
}

func runOutputs(opts *LedgerOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	st, dep, err := opts.open(ctx, formatter)
	if err != nil {
		return err
	}
	defer closeLedger(st)

	outputs, err := st.Outputs(ctx, dep.ID)
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeDatabase, err.Error(), nil)
	}
	result := OutputsResult{DeploymentID: dep.ID, Stack: dep.Stack, Outputs: outputs}

	if formatter.Structured() {
		return formatter.Success(result)
	}
	for _, o := range outputs {
		mark := okMark
		if !o.Resolved {
			mark = warnMark
		}
		fmt.Fprintf(formatter.Writer, "%s %s = %s\n", mark, o.Name, o.Value)
	}
	return nil
}
