package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/consentstack/internal/store"
)

// LedgerOptions holds the flags shared by the commands that read the ledger.
type LedgerOptions struct {
	*RootOptions
	Database   string
	Stack      string
	Deployment string
}

// StatusResult is the recorded state of one deployment.
type StatusResult struct {
	Deployment store.Deployment   `json:"deployment"`
	Nodes      []store.NodeResult `json:"nodes"`
	Events     []store.StageEvent `json:"events"`
}

func (o *LedgerOptions) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.Database, "db", "", "path to the SQLite ledger (default from CONSENTSTACK_DB)")
	cmd.Flags().StringVar(&o.Stack, "stack", "", "restrict to the latest deployment of this stack")
	cmd.Flags().StringVar(&o.Deployment, "deployment", "", "deployment id (default: latest)")
}

// open opens the ledger and selects the requested deployment.
// The caller closes the store.
func (o *LedgerOptions) open(ctx context.Context, f *OutputFormatter) (*store.Store, store.Deployment, error) {
	cfg, err := o.Config()
	if err != nil {
		return nil, store.Deployment{}, f.fail(ExitCommandError, ErrCodeGeneric, err.Error(), nil)
	}
	path := o.Database
	if path == "" {
		path = cfg.DB
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, store.Deployment{}, f.fail(ExitCommandError, ErrCodeDatabase, fmt.Sprintf("opening ledger: %v", err), nil)
	}

	dep, err := o.selectDeployment(ctx, st)
	if err != nil {
		_ = st.Close()
		if errors.Is(err, store.ErrNotFound) {
			return nil, store.Deployment{}, f.fail(ExitCommandError, ErrCodeNotFound, "no matching deployment in ledger", nil)
		}
		return nil, store.Deployment{}, f.fail(ExitCommandError, ErrCodeDatabase, err.Error(), nil)
	}
	return st, dep, nil
}

func (o *LedgerOptions) selectDeployment(ctx context.Context, st *store.Store) (store.Deployment, error) {
	switch {
	case o.Deployment != "":
		return st.GetDeployment(ctx, o.Deployment)
	case o.Stack != "":
		return st.LatestDeployment(ctx, o.Stack)
	}
	all, err := st.ListDeployments(ctx)
	if err != nil {
		return store.Deployment{}, err
	}
	if len(all) == 0 {
		return store.Deployment{}, store.ErrNotFound
	}
	return all[len(all)-1], nil
}

func closeLedger(st *store.Store) {
	if err := st.Close(); err != nil {
		slog.Error("error closing ledger", "error", err)
	}
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LedgerOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the recorded outcome of a deployment",
		Long: `Show a deployment from the ledger: its status, the outcome of every
resource, and the domain binding chain transitions in the order they
happened.

Example:
  consentstack status --db ./consentstack.db
  consentstack status --db ./consentstack.db --deployment <id> --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(opts, cmd)
		},
	}
	opts.register(cmd)

	return cmd
}

func runStatus(opts *LedgerOptions, cmd *cobra.Command) error {
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

	nodes, err := st.NodeResults(ctx, dep.ID)
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeDatabase, err.Error(), nil)
	}
	events, err := st.StageEvents(ctx, dep.ID)
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeDatabase, err.Error(), nil)
	}
	result := StatusResult{Deployment: dep, Nodes: nodes, Events: events}

	if formatter.Structured() {
		return formatter.Success(result)
	}

	w := formatter.Writer
	mark := okMark
	if dep.Status != store.DeploymentSucceeded {
		mark = failMark
	}
	fmt.Fprintf(w, "%s Deployment %s of %s: %s\n", mark, dep.ID, dep.Stack, dep.Status)
	if dep.Error != "" {
		fmt.Fprintf(w, "  error: %s\n", dep.Error)
	}
	fmt.Fprintf(w, "\nResources:\n")
	for _, n := range nodes {
		fmt.Fprintf(w, "  %-9s %s (%s) %s\n", n.Status, n.LogicalID, n.Kind, n.PhysicalID)
	}
	fmt.Fprintf(w, "\nStage transitions:\n")
	for _, e := range events {
		line := fmt.Sprintf("  %4d %s %s -> %s", e.Seq, e.Stage, e.From, e.To)
		if e.Cause != "" {
			line += " (" + e.Cause + ")"
		}
		fmt.Fprintln(w, line)
	}
	return nil
}
