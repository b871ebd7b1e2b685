package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/njoerd114/coworkersync/internal/config"
	"github.com/njoerd114/coworkersync/internal/setup"
	"github.com/njoerd114/coworkersync/internal/store"
)

func newSetupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Interactive first-run wizard",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfgPath, err := configPath()
			if err != nil {
				return err
			}

			level := slog.LevelWarn
			if flagVerbose {
				level = slog.LevelDebug
			}
			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
			slog.SetDefault(logger)

			ctx, cancel := shutdownContext(cmd.Context(), logger)
			defer cancel()

			return setup.NewWizard(cmd.InOrStdin(), cmd.OutOrStdout(), cfgPath, logger).Run(ctx)
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show service, config and mirror state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfgPath, err := configPath()
			if err != nil {
				return err
			}
			homeDir, err := os.UserHomeDir()
			if err != nil {
				return fmt.Errorf("resolving home directory: %w", err)
			}
			printStatus(cmd.Context(), cmd.OutOrStdout(), cfgPath, homeDir, setup.IsServiceActive())
			return nil
		},
	}
}

// printStatus writes the service, config, database and per-account state.
// Missing pieces are reported, not returned as errors.
func printStatus(ctx context.Context, w io.Writer, cfgPath, homeDir string, active bool) {
	fmt.Fprintln(w, "coworkersync status")
	fmt.Fprintln(w, "───────────────────")

	if active {
		fmt.Fprintln(w, "  Service:   running (systemd --user)")
	} else {
		fmt.Fprintln(w, "  Service:   not running")
	}

	if _, err := os.Stat(setup.UnitPath(homeDir)); err == nil {
		fmt.Fprintf(w, "  Unit:      %s\n", setup.UnitPath(homeDir))
	} else {
		fmt.Fprintln(w, "  Unit:      not installed")
	}
	fmt.Fprintf(w, "  Logs:      %s\n", setup.LogDir(homeDir))

	cfg, err := config.Load(cfgPath)
	if err != nil {
		if _, statErr := os.Stat(cfgPath); statErr != nil {
			fmt.Fprintf(w, "  Config:    not found (%s)\n", cfgPath)
		} else {
			fmt.Fprintf(w, "  Config:    %s (invalid: %v)\n", cfgPath, err)
		}
		return
	}
	fmt.Fprintf(w, "  Config:    %s ✓\n", cfgPath)
	fmt.Fprintf(w, "  Directory: %s\n", cfg.DirectoryURL)
	fmt.Fprintf(w, "  Poll:      %s\n", cfg.PollInterval)

	dbPath, err := cfg.DatabasePath(store.DefaultDBPath)
	if err != nil {
		fmt.Fprintf(w, "  Contacts:  %v\n", err)
		return
	}
	info, err := os.Stat(dbPath)
	if err != nil {
		fmt.Fprintln(w, "  Contacts:  not created yet")
		return
	}
	fmt.Fprintf(w, "  Contacts:  %s (%s)\n", dbPath, humanSize(info.Size()))

	st, err := store.Open(ctx, dbPath, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		fmt.Fprintf(w, "  Contacts:  unreadable: %v\n", err)
		return
	}
	defer st.Close()

	fmt.Fprintln(w, "")
	for _, acct := range cfg.Accounts {
		printAccount(ctx, w, st, acct)
	}
}

func printAccount(ctx context.Context, w io.Writer, st *store.Store, acct config.Account) {
	fmt.Fprintf(w, "  %s → %q\n", acct.Identity, acct.GroupTitle)

	stats, err := st.Stats(ctx, acct.Identity)
	if err != nil {
		fmt.Fprintf(w, "    error: %v\n", err)
		return
	}
	fmt.Fprintf(w, "    Contacts:  %d\n", stats.Contacts)
	if acct.PhotosEnabled() {
		fmt.Fprintf(w, "    Photos:    %d stored, %d pending\n", stats.StoredPhotos, stats.PendingPhotos)
	} else {
		fmt.Fprintln(w, "    Photos:    disabled")
	}

	meta, err := st.SyncMeta(ctx, acct.Identity)
	switch {
	case err != nil:
		fmt.Fprintf(w, "    Last sync: error: %v\n", err)
	case meta.LastSyncAt.IsZero():
		fmt.Fprintln(w, "    Last sync: never")
	default:
		fmt.Fprintf(w, "    Last sync: %s (version %s)\n", meta.LastSyncAt.Local().Format(time.DateTime), meta.AppVersion)
	}
}

func newUninstallCmd() *cobra.Command {
	var purge bool

	cmd := &cobra.Command{
		Use:   "uninstall",
		Short: "Stop the service and remove installed files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				return fmt.Errorf("resolving home directory: %w", err)
			}
			uninstall(cmd.OutOrStdout(), homeDir, purge)
			return nil
		},
	}

	cmd.Flags().BoolVar(&purge, "purge", false, "also remove config, contacts DB, and logs")

	return cmd
}

// uninstall removes the service and binary. Each step reports its own failure
// and the rest still run.
func uninstall(w io.Writer, homeDir string, purge bool) {
	fmt.Fprintln(w, "Uninstalling coworkersync...")

	step := func(done string, err error) {
		if err != nil {
			fmt.Fprintf(w, "  ⚠ %v\n", err)
			return
		}
		fmt.Fprintf(w, "  ✓ %s\n", done)
	}

	step("Service stopped", setup.DisableService(homeDir))
	step("Unit removed", setup.RemoveUnit(homeDir))
	step("Binary removed", setup.RemoveBinary(homeDir))

	if purge {
		step("Config, contacts DB and logs removed", setup.PurgeUserData(homeDir))
	} else {
		fmt.Fprintln(w, "")
		fmt.Fprintln(w, "  Config and contacts DB preserved.")
		fmt.Fprintln(w, "  Run with --purge to also remove them:")
		fmt.Fprintln(w, "    coworkersync uninstall --purge")
	}

	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "✓ coworkersync uninstalled.")
}

// humanSize returns a human-readable file size string.
func humanSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
