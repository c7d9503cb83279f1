package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/boxboard/boxsync/transport/httptransport"
)

// TokenOptions holds flags for the token command.
type TokenOptions struct {
	*RootOptions
	TTL time.Duration
}

// NewTokenCommand creates the token command.
func NewTokenCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TokenOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token from token_secret",
		Long: `Sign an HS256 bearer token for token_subject and device_id with the
configured token_secret (or BOXSYNC_TOKEN_SECRET).

Example:
  boxsync token --ttl 24h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToken(opts, cmd)
		},
	}

	cmd.Flags().DurationVar(&opts.TTL, "ttl", httptransport.DefaultTokenTTL, "token lifetime")

	return cmd
}

func runToken(opts *TokenOptions, cmd *cobra.Command) error {
	a, err := loadApp(opts.RootOptions, cmd, false)
	if err != nil {
		return err
	}
	if a.cfg.TokenSecret == "" {
		return WrapExitError(ExitCommandError, "cannot mint token", errors.New("token_secret is not configured"))
	}
	if opts.TTL <= 0 {
		return WrapExitError(ExitCommandError, "cannot mint token", errors.New("ttl must be positive"))
	}

	src, err := httptransport.NewJWTSource(a.cfg.TokenSecret, a.cfg.TokenSubject, a.cfg.DeviceID, opts.TTL)
	if err != nil {
		return WrapExitError(ExitCommandError, "cannot mint token", err)
	}
	token, expires, err := src.Mint()
	if err != nil {
		return WrapExitError(ExitCommandError, "cannot mint token", err)
	}

	out := cmd.OutOrStdout()
	if opts.Format == "json" {
		return json.NewEncoder(out).Encode(map[string]any{
			"token":      token,
			"expires_at": expires.UTC().Format(time.RFC3339),
		})
	}
	fmt.Fprintln(out, token)
	return nil
}
