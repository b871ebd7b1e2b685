package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/njoerd114/coworkersync/internal/config"
	"github.com/njoerd114/coworkersync/internal/directory"
	"github.com/njoerd114/coworkersync/internal/logging"
	"github.com/njoerd114/coworkersync/internal/network"
	"github.com/njoerd114/coworkersync/internal/photo"
	"github.com/njoerd114/coworkersync/internal/settings"
	"github.com/njoerd114/coworkersync/internal/store"
	syncp "github.com/njoerd114/coworkersync/internal/sync"
	"github.com/njoerd114/coworkersync/internal/telemetry"
)

const telemetryFlushTimeout = 5 * time.Second

// syncOptions are the flags shared by daemon and sync-once.
type syncOptions struct {
	daemon       bool
	account      string
	forceRefresh bool
}

func newDaemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Sync every account on the poll interval until stopped",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSync(cmd.Context(), syncOptions{daemon: true})
		},
	}
}

func newSyncOnceCmd() *cobra.Command {
	var opts syncOptions

	cmd := &cobra.Command{
		Use:   "sync-once",
		Short: "Run a single sync pass, then exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSync(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.account, "account", "", "only sync this account identity")
	cmd.Flags().BoolVar(&opts.forceRefresh, "force-refresh", false, "rewrite every contact even when its version is unchanged")

	return cmd
}

// runSync is the shared implementation of daemon and sync-once.
func runSync(parent context.Context, opts syncOptions) error {
	cfgPath, err := configPath()
	if err != nil {
		return err
	}

	// --- Config --------------------------------------------------------------

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w\n\nRun 'coworkersync setup' to create one", err)
	}

	// --- Logger --------------------------------------------------------------

	logger, logCloser := logging.New(logging.Options{Verbose: flagVerbose, File: cfg.Log})
	defer logCloser.Close()
	slog.SetDefault(logger)

	accounts, err := selectAccounts(cfg, opts)
	if err != nil {
		return err
	}
	logger.Info("config loaded",
		"path", cfgPath,
		"directory_url", cfg.DirectoryURL,
		"poll_interval", cfg.PollInterval,
		"accounts", len(accounts),
	)

	// --- Telemetry (optional) ------------------------------------------------

	if cfg.Telemetry != nil {
		shutdownTel, err := telemetry.Setup(parent, telemetry.FromConfig(cfg.Telemetry, version))
		if err != nil {
			logger.Error("telemetry setup failed, continuing without telemetry", "error", err)
		} else {
			logger.Info("telemetry enabled", "endpoint", cfg.Telemetry.OTLPEndpoint)
			defer func() {
				flushCtx, cancel := context.WithTimeout(context.Background(), telemetryFlushTimeout)
				defer cancel()
				if err := shutdownTel(flushCtx); err != nil {
					logger.Error("telemetry shutdown error", "error", err)
				}
			}()
		}
	}

	ctx, cancel := shutdownContext(parent, logger)
	defer cancel()

	// --- Contact store -------------------------------------------------------

	dbPath, err := cfg.DatabasePath(store.DefaultDBPath)
	if err != nil {
		return fmt.Errorf("resolving contacts DB path: %w", err)
	}
	st, err := store.Open(ctx, dbPath, logger)
	if err != nil {
		return fmt.Errorf("opening contacts DB at %q: %w", dbPath, err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Error("closing contacts DB", "error", closeErr)
		}
	}()
	logger.Info("contacts DB opened", "path", dbPath)

	// --- Directory -----------------------------------------------------------

	dir, err := directory.NewClient(cfg.DirectoryURL, cfg.DirectoryToken, cfg.HTTPTimeout, logger)
	if err != nil {
		return fmt.Errorf("initialising directory client: %w", err)
	}
	// The network check decides per run whether to talk to the directory, so
	// an unreachable directory at startup is not fatal.
	if err := dir.Ping(ctx); err != nil {
		logger.Warn("directory not reachable at startup", "url", cfg.DirectoryURL, "error", err)
	}

	// --- Sync engine ---------------------------------------------------------

	orch := syncp.NewOrchestrator(syncp.Deps{
		Settings:     settings.NewProvider(cfg, st, version),
		Network:      network.NewChecker(cfg.Network.ProbeAddress, cfg.Network.MeteredInterfaces, logger),
		Source:       dir,
		Store:        st,
		Photos:       photo.NewFetcher(cfg.HTTPTimeout, cfg.Photos.RatePerSecond, cfg.Photos.MaxBytes, logger),
		PhotoWorkers: cfg.Photos.Workers,
	}, logger)
	engine := syncp.NewEngine(orch, accounts, cfg.PollInterval, logger)

	if !opts.daemon {
		logger.Info("running single sync pass")
		return reportsErr(engine.RunOnce(ctx))
	}

	logger.Info("daemon starting", "poll_interval", cfg.PollInterval)
	if err := engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("sync engine: %w", err)
	}
	logger.Info("daemon stopped")
	return nil
}

// selectAccounts returns the identities to sync and applies --force-refresh
// to them in the loaded config.
func selectAccounts(cfg *config.Config, opts syncOptions) ([]string, error) {
	if opts.account != "" {
		if _, ok := cfg.Account(opts.account); !ok {
			return nil, fmt.Errorf("account %q is not configured", opts.account)
		}
	}

	var ids []string
	for i := range cfg.Accounts {
		a := &cfg.Accounts[i]
		if opts.account != "" && a.Identity != opts.account {
			continue
		}
		if opts.forceRefresh {
			a.ForceRefresh = true
		}
		ids = append(ids, a.Identity)
	}
	return ids, nil
}

// reportsErr turns failed or canceled runs into a single error so sync-once
// exits non-zero.
func reportsErr(reports []syncp.Report) error {
	var errs []error
	for i := range reports {
		rep := &reports[i]
		switch {
		case rep.Err != nil:
			errs = append(errs, fmt.Errorf("sync %s: %w", rep.Identity, rep.Err))
		case rep.Canceled:
			errs = append(errs, fmt.Errorf("sync %s: %w", rep.Identity, context.Canceled))
		}
	}
	return errors.Join(errs...)
}
