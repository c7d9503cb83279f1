package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/boxboard/boxsync/transport/httptransport"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr            string
	ShutdownTimeout time.Duration
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the bulk endpoints from the local store",
		Long: `Serve /health, /export-bulk/{collection} and /import-bulk/{collection}
backed by the configured store. Requests are authenticated with token_secret
(JWT) or token (static) when either is set.

Example:
  boxsync serve --addr :8000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", ":8000", "listen address")
	cmd.Flags().DurationVar(&opts.ShutdownTimeout, "shutdown-timeout", 10*time.Second, "grace period for in-flight requests")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	a, err := loadApp(opts.RootOptions, cmd, false)
	if err != nil {
		return err
	}
	store, err := a.openStore()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open store", err)
	}
	defer store.Close()

	handler, err := httptransport.NewHandler(store,
		httptransport.WithServedCollections(a.cfg.Collections...),
		httptransport.WithCompression(a.cfg.Compression.Enabled),
		httptransport.WithCompressionThreshold(a.cfg.Compression.Threshold),
		httptransport.WithVerifier(a.verifier()),
		httptransport.WithServerLogger(a.logger))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create handler", err)
	}

	srv := &http.Server{
		Addr:              opts.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	a.logger.Info("Serving bulk endpoints", slog.String("addr", opts.Addr))
	fmt.Fprintf(cmd.ErrOrStderr(), "Listening on %s. Press Ctrl-C to stop.\n", opts.Addr)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return WrapExitError(ExitCommandError, "server failed", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), opts.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return WrapExitError(ExitFailure, "shutdown failed", err)
	}
	a.logger.Info("Server stopped")
	return nil
}
