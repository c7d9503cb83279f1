package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/boxboard/boxsync/synckit"
)

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "export <file>",
		Short: "Write the local replica to an archive",
		Long: `Write every configured collection of the local replica to an archive.

The format follows the file extension: .sz or .snappy for snappy-compressed
JSON, anything else for indented JSON.

Example:
  boxsync export backup.json
  boxsync export backup.sz`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(rootOpts, cmd, args[0])
		},
	}
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Replace the local replica from an archive",
		Long: `Replace each configured collection present in the archive. Collections
missing from the archive are left untouched, unknown ones are ignored.

Example:
  boxsync import backup.sz`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(rootOpts, cmd, args[0])
		},
	}
}

func runExport(opts *RootOptions, cmd *cobra.Command, path string) error {
	a, err := loadApp(opts, cmd, false)
	if err != nil {
		return err
	}
	store, err := a.openStore()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open store", err)
	}
	defer store.Close()

	st, err := synckit.ExportState(cmd.Context(), store, a.cfg.Collections)
	if err != nil {
		return WrapExitError(ExitFailure, "export failed", err)
	}
	if err := synckit.WriteStateFile(path, st); err != nil {
		return WrapExitError(ExitCommandError, "failed to write archive", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "exported %d records from %d collections to %s\n", st.Count(), len(st), path)
	return nil
}

func runImport(opts *RootOptions, cmd *cobra.Command, path string) error {
	a, err := loadApp(opts, cmd, false)
	if err != nil {
		return err
	}
	st, err := synckit.ReadStateFile(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read archive", err)
	}
	store, err := a.openStore()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open store", err)
	}
	defer store.Close()

	if err := synckit.ImportState(cmd.Context(), store, a.cfg.Collections, st); err != nil {
		return WrapExitError(ExitFailure, "import failed", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "imported %s\n", path)
	return nil
}
