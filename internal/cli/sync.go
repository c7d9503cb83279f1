package cli

import (
	"github.com/spf13/cobra"
)

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one reconciliation of every configured collection",
		Long: `Run one reconciliation of every configured collection and print a summary.

The command exits with status 1 when any collection failed.

Example:
  boxsync sync --config boxsync.yaml
  boxsync sync --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(rootOpts, cmd)
		},
	}
}

func runSync(opts *RootOptions, cmd *cobra.Command) error {
	a, err := loadApp(opts, cmd, true)
	if err != nil {
		return err
	}
	m, err := a.newManager()
	if err != nil {
		return err
	}
	defer m.Close()

	result := m.RunAll(cmd.Context())
	if err := writeResult(cmd.OutOrStdout(), opts.Format, result); err != nil {
		return WrapExitError(ExitCommandError, "failed to write result", err)
	}
	if result.Failed > 0 {
		return WrapExitError(ExitFailure, "sync finished with failures", result.Err())
	}
	return nil
}
