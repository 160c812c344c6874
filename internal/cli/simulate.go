package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wdactools/wdacsim/internal/config"
	"github.com/wdactools/wdacsim/internal/hotreload"
	"github.com/wdactools/wdacsim/internal/report"
	"github.com/wdactools/wdacsim/internal/scan"
	"github.com/wdactools/wdacsim/internal/signers"
	"github.com/wdactools/wdacsim/pkg/observability"
)

type simulateFlags struct {
	policy      string
	format      string
	output      string
	onlyBlocked bool
	workers     int
	include     []string
	exclude     []string
	extensions  []string
	mountAs     string
	extraRoots  []string
	watch       bool
}

func newSimulateCmd(app *appState) *cobra.Command {
	var f simulateFlags
	cmd := &cobra.Command{
		Use:   "simulate PATH...",
		Short: "Evaluate files against a policy",
		Long: `Evaluate every file under the given paths against a code integrity policy
and report which rule, if any, would authorize it.

Exit codes: 0 when every file is authorized, 2 when any file would be
blocked, 1 on error.

Examples:
  # Scan a mounted system drive
  wdacsim simulate --policy SiPolicy.xml --mount-as 'C:\' /mnt/c

  # Only list blocked files, as CSV
  wdacsim simulate --policy SiPolicy.xml --only-blocked --format csv ./dist

  # Rescan whenever the policy changes
  wdacsim simulate --policy SiPolicy.xml --watch ./dist`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f.apply(cmd, app.cfg)
			return runSimulate(cmd, app, args)
		},
	}
	cmd.Flags().StringVar(&f.policy, "policy", "", "Policy XML file (default: policy.path)")
	cmd.Flags().StringVar(&f.format, "format", "", "Report format: json|yaml|markdown|csv")
	cmd.Flags().StringVarP(&f.output, "output", "o", "", "Write the report to a file")
	cmd.Flags().BoolVar(&f.onlyBlocked, "only-blocked", false, "Only list files that would be blocked")
	cmd.Flags().IntVar(&f.workers, "workers", 0, "Concurrent file evaluations")
	cmd.Flags().StringSliceVar(&f.include, "include", nil, "Only scan paths matching these globs")
	cmd.Flags().StringSliceVar(&f.exclude, "exclude", nil, "Skip paths matching these globs")
	cmd.Flags().StringSliceVar(&f.extensions, "ext", nil, "File extensions to scan")
	cmd.Flags().StringVar(&f.mountAs, "mount-as", "", `Windows path the scan roots stand for, e.g. C:\`)
	cmd.Flags().StringSliceVar(&f.extraRoots, "extra-root", nil, "PEM or DER certificates completing chains")
	cmd.Flags().BoolVar(&f.watch, "watch", false, "Rescan when the policy file changes")
	return cmd
}

// apply copies explicitly set flags over the loaded configuration.
func (f *simulateFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("policy") {
		cfg.Policy.Path = f.policy
	}
	if flags.Changed("format") {
		cfg.Report.Format = f.format
	}
	if flags.Changed("output") {
		cfg.Report.Output = f.output
	}
	if flags.Changed("only-blocked") {
		cfg.Report.OnlyBlocked = f.onlyBlocked
	}
	if flags.Changed("workers") {
		cfg.Scan.Workers = f.workers
	}
	if flags.Changed("include") {
		cfg.Scan.Include = f.include
	}
	if flags.Changed("exclude") {
		cfg.Scan.Exclude = f.exclude
	}
	if flags.Changed("ext") {
		cfg.Scan.Extensions = f.extensions
	}
	if flags.Changed("mount-as") {
		cfg.Scan.MountAs = f.mountAs
	}
	if flags.Changed("extra-root") {
		cfg.Scan.ExtraRoots = append(cfg.Scan.ExtraRoots, f.extraRoots...)
	}
	if f.watch {
		cfg.Policy.Watch.Enabled = true
	}
}

func runSimulate(cmd *cobra.Command, app *appState, roots []string) error {
	cfg := app.cfg
	if cfg.Policy.Path == "" {
		return fmt.Errorf("no policy given: use --policy or policy.path")
	}
	switch cfg.Report.Format {
	case report.FormatJSON, report.FormatYAML, report.FormatMarkdown, report.FormatCSV:
	default:
		return fmt.Errorf("invalid report format %q", cfg.Report.Format)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := observability.SetupTracing(ctx, observability.TracingConfig{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		SampleRate:  cfg.Tracing.SampleRate,
		ServiceName: cfg.Tracing.ServiceName,
		Version:     app.version,
	}, app.logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			app.logger.Warn("tracing shutdown", "error", err)
		}
	}()

	policyOpts := policyOptions(app)
	policy, err := scan.LoadPolicy(cfg.Policy.Path, policyOpts)
	if err != nil {
		return err
	}
	scanner, err := newScanner(app, policy)
	if err != nil {
		return err
	}

	rep, err := scanner.Run(ctx, roots)
	if err != nil {
		return err
	}
	if err := writeReport(cmd, cfg.Report, rep); err != nil {
		return err
	}
	if !cfg.Policy.Watch.Enabled {
		return exitForReport(rep)
	}

	return watchAndRescan(ctx, cmd, app, scanner, roots, policyOpts)
}

// watchAndRescan reruns the scan after every successful policy reload
// until ctx is cancelled.
func watchAndRescan(ctx context.Context, cmd *cobra.Command, app *appState, scanner *scan.Scanner, roots []string, opts scan.PolicyOptions) error {
	current := hotreload.NewReloadable(scanner.Policy())
	loader := hotreload.NewSwapLoader(func(path string) (*scan.PolicySet, error) {
		return scan.LoadPolicy(path, opts)
	}, current)

	reloaded := make(chan struct{}, 1)
	watcher, err := hotreload.NewPolicyWatcher(hotreload.WatcherConfig{
		PolicyPath: app.cfg.Policy.Path,
		Loader:     loader,
		Debounce:   app.cfg.Policy.Watch.DebounceDuration(),
		Logger:     app.logger,
		OnChange: func(_ string, err error) {
			if err != nil {
				return
			}
			select {
			case reloaded <- struct{}{}:
			default:
			}
		},
	})
	if err != nil {
		return err
	}
	if err := watcher.Start(ctx); err != nil {
		return err
	}
	defer watcher.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-reloaded:
			rep, err := scanner.WithPolicy(current.Get()).Run(ctx, roots)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				app.logger.Error("rescan failed", "error", err)
				continue
			}
			if err := writeReport(cmd, app.cfg.Report, rep); err != nil {
				return err
			}
		}
	}
}

func policyOptions(app *appState) scan.PolicyOptions {
	var overrides []signers.WellKnownRoot
	for _, r := range app.cfg.Policy.WellKnownRoots {
		overrides = append(overrides, signers.WellKnownRoot{Code: r.Code, Name: r.Name, TBS: r.TBS})
	}
	return scan.PolicyOptions{
		WellKnownRoots: overrides,
		Macros:         app.cfg.Policy.Macros,
		Logger:         app.logger,
	}
}

func newScanner(app *appState, policy *scan.PolicySet) (*scan.Scanner, error) {
	cfg := app.cfg
	extraRoots, err := scan.LoadCertificates(cfg.Scan.ExtraRoots)
	if err != nil {
		return nil, err
	}
	return scan.New(policy, scan.Options{
		Workers:        cfg.Scan.Workers,
		Include:        cfg.Scan.Include,
		Exclude:        cfg.Scan.Exclude,
		Extensions:     cfg.Scan.Extensions,
		MaxFileSize:    cfg.Scan.MaxFileSizeBytes(),
		FollowSymlinks: cfg.Scan.FollowSymlinks,
		MountAs:        cfg.Scan.MountAs,
		ExtraRoots:     extraRoots,
		Logger:         app.logger,
	})
}

func writeReport(cmd *cobra.Command, cfg config.ReportConfig, rep *report.Report) error {
	if cfg.OnlyBlocked {
		rep = rep.OnlyBlocked()
	}
	var w io.Writer = cmd.OutOrStdout()
	if cfg.Output != "" {
		f, err := os.Create(cfg.Output)
		if err != nil {
			return fmt.Errorf("create report: %w", err)
		}
		defer f.Close()
		w = f
	}
	if err := report.Render(w, rep, cfg.Format); err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	if cfg.Output != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "Report written to %s\n", cfg.Output)
	}
	return nil
}

func exitForReport(rep *report.Report) error {
	if rep.Blocked() {
		return &ExitError{code: ExitCodeBlocked}
	}
	return nil
}
