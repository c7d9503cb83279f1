package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/boxboard/boxsync/connectivity"
	"github.com/boxboard/boxsync/synckit"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	SyncNow bool
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Keep the replica in sync until interrupted",
		Long: `Start the connectivity monitor. A sync runs every sync_interval while the
remote store is reachable and immediately when it becomes reachable again.

Reachability comes from polling {base_url}/health unless probe.enabled is
false, in which case the remote is assumed to be always online.

Example:
  boxsync run --config boxsync.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMonitor(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.SyncNow, "sync-now", false, "run one sync immediately on start")

	return cmd
}

func runMonitor(opts *RunOptions, cmd *cobra.Command) error {
	a, err := loadApp(opts.RootOptions, cmd, true)
	if err != nil {
		return err
	}
	m, err := a.newManager()
	if err != nil {
		return err
	}
	defer m.Close()

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var source synckit.ConnectivitySource
	if a.cfg.Probe.Enabled {
		probe, err := connectivity.NewHealthProbe(a.cfg.BaseURL,
			connectivity.WithProbeInterval(a.cfg.Probe.Interval),
			connectivity.WithProbeTimeout(a.cfg.Probe.Timeout),
			connectivity.WithProbeLogger(a.logger))
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to create health probe", err)
		}
		if err := probe.Start(ctx); err != nil {
			return WrapExitError(ExitCommandError, "failed to start health probe", err)
		}
		defer probe.Stop()
		source = probe
	} else {
		source = connectivity.NewSwitch(true)
	}

	out := cmd.OutOrStdout()
	var outMu sync.Mutex
	report := func(result *synckit.SyncResult) {
		outMu.Lock()
		defer outMu.Unlock()
		if err := writeResult(out, opts.Format, result); err != nil {
			a.logger.Error("Failed to write result", slog.String("error", err.Error()))
		}
	}

	monitor, err := synckit.NewMonitor(m, source,
		synckit.WithSyncInterval(a.cfg.SyncInterval),
		synckit.WithMonitorLogger(a.logger),
		synckit.WithResultHandler(report))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create monitor", err)
	}

	if opts.SyncNow {
		report(monitor.RequestSync(ctx))
	}
	if err := monitor.Start(ctx); err != nil {
		return WrapExitError(ExitCommandError, "failed to start monitor", err)
	}
	fmt.Fprintln(cmd.ErrOrStderr(), "Sync monitor started. Press Ctrl-C to stop.")

	<-ctx.Done()
	monitor.Stop()
	a.logger.Info("Sync monitor stopped")
	return nil
}
