// coworkersync mirrors the coworkers listed in a company directory into a
// local contacts database, one contact group per configured account.
//
// Usage:
//
//	coworkersync setup                          # interactive first-run wizard
//	coworkersync daemon [--config <path>]       # poll all accounts until stopped
//	coworkersync sync-once [--account <id>]     # single pass, then exit
//	coworkersync status                         # show service, config and mirror state
//	coworkersync uninstall [--purge]            # stop the service and remove files
//	coworkersync version                        # print version
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/njoerd114/coworkersync/internal/config"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

// Global persistent flags, bound in newRootCmd.
var (
	flagConfigPath string
	flagVerbose    bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// newRootCmd builds the root command with all subcommands registered.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "coworkersync",
		Short:         "Mirror company directory coworkers into local contacts",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path (default ~/.config/coworkersync/config.yaml)")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")

	cmd.AddCommand(newSetupCmd())
	cmd.AddCommand(newDaemonCmd())
	cmd.AddCommand(newSyncOnceCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newUninstallCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// configPath returns --config or the default location.
func configPath() (string, error) {
	if flagConfigPath != "" {
		return flagConfigPath, nil
	}
	return config.DefaultPath()
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "coworkersync", version)
		},
	}
}
