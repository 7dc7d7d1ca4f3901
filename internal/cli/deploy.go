package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/consentstack/internal/config"
	"github.com/roach88/consentstack/internal/engine"
	"github.com/roach88/consentstack/internal/store"
	"github.com/roach88/consentstack/internal/zones"
)

// DeployOptions holds flags for the deploy command.
type DeployOptions struct {
	*RootOptions
	stackFlags
	Database           string
	ZoneSource         string
	Zones              []string
	Parallelism        int
	CertificateTimeout time.Duration
	ValidationDelay    time.Duration

	// IDGenerator allows overriding the deployment id generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	IDGenerator engine.IDGenerator

	// ZoneLookup allows overriding the zone source (for testing).
	ZoneLookup engine.ZoneLookup
}

// NewDeployCommand creates the deploy command.
func NewDeployCommand(rootOpts *RootOptions) *cobra.Command {
	return newDeployCommand(&DeployOptions{RootOptions: rootOpts})
}

func newDeployCommand(opts *DeployOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deploy <stack-dir>",
		Short: "Apply a stack through the local ledger orchestrator",
		Long: `Compile a stack and apply it in dependency order.

Hosted zones are resolved first; a missing zone or a certificate name
outside its zone aborts the deployment before anything is provisioned.
The domain binding chain is then resolved strictly in order while
independent resources provision in parallel. Every resource, stage
transition and output is recorded in the SQLite ledger, so re-applying an
unchanged stack reports every resource as unchanged.

Example:
  consentstack deploy --db ./consentstack.db ./stacks/cookiesconsent
  consentstack deploy ./stacks/cookiesconsent --zone-source route53`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeploy(opts, args[0], cmd)
		},
	}
	opts.stackFlags.register(cmd)
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to the SQLite ledger (default from CONSENTSTACK_DB)")
	cmd.Flags().StringVar(&opts.ZoneSource, "zone-source", "", "hosted zone source: static or route53 (default from CONSENTSTACK_ZONE_SOURCE)")
	cmd.Flags().StringSliceVar(&opts.Zones, "zones", nil, "zone names served by the static source")
	cmd.Flags().IntVar(&opts.Parallelism, "parallelism", 0, "independent resources provisioned at once (default from CONSENTSTACK_PARALLELISM)")
	cmd.Flags().DurationVar(&opts.CertificateTimeout, "certificate-timeout", engine.DefaultCertificateTimeout, "how long to wait for certificate validation")
	cmd.Flags().DurationVar(&opts.ValidationDelay, "validation-delay", 0, "simulated certificate validation time")

	return cmd
}

func runDeploy(opts *DeployOptions, dir string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	cfg, err := opts.Config()
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeGeneric, err.Error(), nil)
	}
	loaded, res, err := opts.stackFlags.load(opts.RootOptions, formatter, dir)
	if err != nil {
		if loaded == nil {
			return err
		}
		return buildFailure(formatter, err)
	}
	for _, w := range res.Warnings {
		formatter.VerboseLog("%s", w)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	lookup, err := opts.zoneLookup(ctx, cfg)
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeGeneric, err.Error(), nil)
	}

	dbPath := opts.Database
	if dbPath == "" {
		dbPath = cfg.DB
	}
	st, err := store.Open(dbPath)
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeDatabase, fmt.Sprintf("opening ledger: %v", err), nil)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing ledger", "error", closeErr)
		}
	}()
	formatter.VerboseLog("Ledger %s ready", dbPath)

	parallelism := opts.Parallelism
	if parallelism <= 0 {
		parallelism = cfg.Parallelism
	}
	logger := opts.Logger(cmd.ErrOrStderr())
	orch := engine.NewLocalOrchestrator(st,
		engine.WithRegion(cfg.Region),
		engine.WithValidationDelay(opts.ValidationDelay),
		engine.WithLocalLogger(logger),
	)
	deployOpts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithParallelism(parallelism),
		engine.WithCertificateTimeout(opts.CertificateTimeout),
		engine.WithRecorder(st),
	}
	if opts.IDGenerator != nil {
		deployOpts = append(deployOpts, engine.WithIDGenerator(opts.IDGenerator))
	}

	report, deployErr := engine.NewDeployer(orch, lookup, deployOpts...).Deploy(ctx, res.Plan)
	if report == nil {
		return formatter.fail(ExitCommandError, ErrCodeDeployment, deployErr.Error(), nil)
	}

	if formatter.Structured() {
		resp := CLIResponse{Status: "ok", Data: report, DeploymentID: report.DeploymentID}
		if deployErr != nil {
			resp.Status = "error"
			resp.Error = &CLIError{Code: deploymentCode(deployErr), Message: deployErr.Error()}
		}
		if err := formatter.Encode(resp); err != nil {
			return err
		}
	} else {
		writeReportText(formatter.Writer, report)
	}

	if deployErr != nil {
		return WrapExitError(ExitFailure, "deployment failed", deployErr)
	}
	return nil
}

// zoneLookup builds the configured hosted zone source.
func (o *DeployOptions) zoneLookup(ctx context.Context, cfg *config.Config) (engine.ZoneLookup, error) {
	if o.ZoneLookup != nil {
		return o.ZoneLookup, nil
	}
	source := o.ZoneSource
	if source == "" {
		source = cfg.ZoneSource
	}
	switch source {
	case config.ZoneSourceStatic:
		names := o.Zones
		if len(names) == 0 {
			names = cfg.Zones()
		}
		return zones.NewStaticLookup(names...), nil
	case config.ZoneSourceRoute53:
		return zones.NewRoute53LookupFromConfig(ctx, cfg.Region)
	}
	return nil, fmt.Errorf("unknown zone source %q", source)
}

// deploymentCode returns the stable code of a deployment error.
func deploymentCode(err error) string {
	if code := engine.ErrorCode(err); code != "" {
		return code
	}
	return ErrCodeDeployment
}

func writeReportText(w io.Writer, r *engine.Report) {
	mark := okMark
	if !r.Succeeded() {
		mark = failMark
	}
	fmt.Fprintf(w, "%s Deployment %s of %s (plan %s)\n\n", mark, r.DeploymentID, r.Stack, short(r.PlanHash))

	for _, n := range r.Nodes {
		line := fmt.Sprintf("  %-9s %s (%s)", n.Status, n.ID, n.Kind)
		if n.PhysicalID != "" {
			line += " " + n.PhysicalID
		}
		if n.Error != "" {
			line += ": " + n.Error
		}
		fmt.Fprintln(w, line)
	}

	if len(r.Chain) > 0 {
		fmt.Fprintf(w, "\nDomain chain:\n")
		for _, s := range r.Chain {
			fmt.Fprintf(w, "  %-17s %s %s\n", s.Role, s.Stage, s.State)
		}
	}

	fmt.Fprintf(w, "\nOutputs:\n")
	for _, o := range r.Outputs {
		fmt.Fprintf(w, "  %s = %s\n", o.Name, o.Value)
	}
	if r.Error != "" {
		fmt.Fprintf(w, "\nError: %s\n", r.Error)
	}
}
