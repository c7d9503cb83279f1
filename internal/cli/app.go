package cli

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/boxboard/boxsync/logging"
	"github.com/boxboard/boxsync/storage/memory"
	"github.com/boxboard/boxsync/storage/postgres"
	"github.com/boxboard/boxsync/storage/sqlite"
	"github.com/boxboard/boxsync/synckit"
	"github.com/boxboard/boxsync/transport/httptransport"
)

// app is the configuration and logger shared by one command invocation.
type app struct {
	cfg    synckit.Config
	logger *logging.Logger
	opts   *RootOptions
}

// loadApp reads the configuration. Commands that talk to the remote store
// pass remote=true so that base_url is required.
func loadApp(opts *RootOptions, cmd *cobra.Command, remote bool) (*app, error) {
	cfg, err := synckit.ReadConfig(opts.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load configuration", err)
	}
	if remote {
		err = cfg.Validate()
	} else {
		err = cfg.ValidateLocal()
	}
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	if opts.Verbose {
		cfg.Log.Level = "debug"
	}
	logger := logging.NewLogger(cfg.Log, cmd.ErrOrStderr())
	return &app{cfg: cfg, logger: logger, opts: opts}, nil
}

// openStore opens the configured replica store.
func (a *app) openStore() (synckit.ReplicaStore, error) {
	switch strings.ToLower(a.cfg.Store.Driver) {
	case "memory":
		return memory.New(), nil
	case "sqlite":
		c := sqlite.DefaultConfig(a.cfg.Store.DSN)
		c.Logger = a.logger
		return sqlite.New(c)
	case "postgres":
		c := postgres.DefaultConfig(a.cfg.Store.DSN)
		c.Logger = a.logger
		return postgres.New(c)
	default:
		return nil, fmt.Errorf("unknown store driver %q", a.cfg.Store.Driver)
	}
}

// tokenSource prefers a signing secret over a static token.
func (a *app) tokenSource() (httptransport.TokenSource, error) {
	if a.cfg.TokenSecret != "" {
		src, err := httptransport.NewJWTSource(a.cfg.TokenSecret, a.cfg.TokenSubject, a.cfg.DeviceID, httptransport.DefaultTokenTTL)
		if err != nil {
			return nil, err
		}
		return src, nil
	}
	return httptransport.StaticToken(a.cfg.Token), nil
}

// verifier mirrors tokenSource for the serving side.
func (a *app) verifier() httptransport.Verifier {
	switch {
	case a.cfg.TokenSecret != "":
		return httptransport.NewJWTVerifier(a.cfg.TokenSecret)
	case a.cfg.Token != "":
		return httptransport.StaticVerifier(a.cfg.Token)
	default:
		return nil
	}
}

func (a *app) gateway() (*httptransport.Client, error) {
	tokens, err := a.tokenSource()
	if err != nil {
		return nil, err
	}
	opts := []httptransport.ClientOption{
		httptransport.WithClientCompression(a.cfg.Compression.Enabled),
		httptransport.WithClientTimeout(a.cfg.OperationTimeout),
		httptransport.WithClientLogger(a.logger),
	}
	if a.cfg.Compression.Threshold > 0 {
		opts = append(opts, httptransport.WithGzipMinBytes(int(a.cfg.Compression.Threshold)))
	}
	return httptransport.NewClient(a.cfg.BaseURL, tokens, opts...)
}

// strategy builds the configured rule strategy and logs every decision at
// debug level.
func (a *app) strategy() (synckit.ConflictStrategy, error) {
	log := a.logger.WithComponent("strategy")
	return a.cfg.BuildStrategy(synckit.RuleHooks{
		OnRuleMatched: func(c synckit.ConflictCase, rule synckit.Rule) {
			log.Debug("Conflict rule matched",
				slog.String("collection", c.Collection),
				slog.String("record_id", c.Local.ID),
				slog.String("rule", rule.Name))
		},
		OnFallback: func(c synckit.ConflictCase) {
			log.Debug("Conflict fell back to default decision",
				slog.String("collection", c.Collection),
				slog.String("record_id", c.Local.ID))
		},
	})
}

// newManager wires store, gateway and strategy into a Manager. The manager
// owns both and closes them.
func (a *app) newManager() (*synckit.Manager, error) {
	store, err := a.openStore()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open store", err)
	}
	gw, err := a.gateway()
	if err != nil {
		store.Close()
		return nil, WrapExitError(ExitCommandError, "failed to create gateway", err)
	}
	strategy, err := a.strategy()
	if err != nil {
		store.Close()
		gw.Close()
		return nil, WrapExitError(ExitCommandError, "failed to build conflict strategy", err)
	}

	opts := append(a.cfg.ManagerOptions(),
		synckit.WithStore(store),
		synckit.WithGateway(gw),
		synckit.WithStrategy(strategy),
		synckit.WithMerge(synckit.OverlayMerge),
		synckit.WithLogger(a.logger),
	)
	m, err := synckit.NewManager(opts...)
	if err != nil {
		store.Close()
		gw.Close()
		return nil, WrapExitError(ExitCommandError, "failed to create sync manager", err)
	}
	return m, nil
}
