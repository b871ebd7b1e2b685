package setup

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/njoerd114/coworkersync/internal/config"
	"github.com/njoerd114/coworkersync/internal/model"
)

// Bounds offered by the poll interval prompt.
const (
	minPoll = 5 * time.Minute
	maxPoll = 24 * time.Hour
)

// Wizard guides the user through first-run configuration and installation.
type Wizard struct {
	prompt  *Prompter
	logger  *slog.Logger
	w       io.Writer
	cfgPath string

	// preview and install are replaced in tests.
	preview func(ctx context.Context, url, token, identity string) (int, error)
	install func(cfgPath string) error
}

// NewWizard creates a Wizard that writes its configuration to cfgPath.
func NewWizard(r io.Reader, w io.Writer, cfgPath string, logger *slog.Logger) *Wizard {
	wiz := &Wizard{
		prompt:  NewPrompter(r, w),
		logger:  logger,
		w:       w,
		cfgPath: cfgPath,
	}
	wiz.preview = func(ctx context.Context, url, token, identity string) (int, error) {
		return PreviewCoworkers(ctx, url, token, identity, logger)
	}
	wiz.install = wiz.installService
	return wiz
}

// Run executes the interactive setup wizard: directory connection, account
// settings, poll interval, config file, and optional service install.
func (wiz *Wizard) Run(ctx context.Context) error {
	fmt.Fprintf(wiz.w, "\nWelcome to coworkersync setup!\n")
	fmt.Fprintf(wiz.w, "This wizard connects to your company directory and mirrors your coworkers into local contacts.\n\n")

	if _, statErr := os.Stat(wiz.cfgPath); statErr == nil {
		fmt.Fprintf(wiz.w, "  Existing config found at %s\n", wiz.cfgPath)
		if !wiz.prompt.Confirm("Overwrite existing configuration?", false) {
			fmt.Fprintf(wiz.w, "\n  Keeping existing config.\n")
			return wiz.offerServiceInstall()
		}
		fmt.Fprintf(wiz.w, "\n")
	}

	fmt.Fprintf(wiz.w, "Step 1/4 — Directory Connection\n")
	dirURL := wiz.prompt.String("Directory URL", "https://directory.example.com")
	token := wiz.prompt.Secret("Access token")
	fmt.Fprintf(wiz.w, "\n")

	fmt.Fprintf(wiz.w, "Step 2/4 — Account\n")
	acct := config.Account{
		Identity:   wiz.prompt.String("Your directory identity (e.g. you@example.com)", ""),
		GroupTitle: wiz.prompt.String("Contact group title", model.DefaultGroupTitle),
	}
	photos := wiz.prompt.Confirm("Download coworker photos?", true)
	acct.SyncPhotos = &photos
	policy, err := wiz.prompt.Select("Sync over", []string{"Unmetered networks only", "Any network"})
	if err != nil {
		return fmt.Errorf("selecting network policy: %w", err)
	}
	acct.AllowAnyNetwork = policy == 1

	fmt.Fprintf(wiz.w, "  Connecting to the directory...")
	n, err := wiz.preview(ctx, dirURL, token, acct.Identity)
	if err != nil {
		fmt.Fprintf(wiz.w, " ✗\n")
		return fmt.Errorf("cannot reach the directory: %w\n\n  Check the URL, token and identity, then try again", err)
	}
	fmt.Fprintf(wiz.w, " ✓ %d coworker(s) found\n\n", n)

	fmt.Fprintf(wiz.w, "Step 3/4 — Poll Interval\n")
	poll := wiz.prompt.Duration("How often to sync", config.DefaultPollInterval, minPoll, maxPoll)
	fmt.Fprintf(wiz.w, "\n")

	fmt.Fprintf(wiz.w, "Step 4/4 — Save Configuration\n")
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("resolving home directory: %w", err)
	}
	cfg := &config.Config{
		DirectoryURL:   dirURL,
		DirectoryToken: token,
		PollInterval:   poll,
		Accounts:       []config.Account{acct},
		Log:            config.LogConfig{File: filepath.Join(LogDir(homeDir), BinaryName+".log")},
	}
	if err := cfg.Write(wiz.cfgPath); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	fmt.Fprintf(wiz.w, "  ✓ Config written to %s\n\n", wiz.cfgPath)

	return wiz.offerServiceInstall()
}

// offerServiceInstall asks whether to install the systemd user service.
func (wiz *Wizard) offerServiceInstall() error {
	if !wiz.prompt.Confirm("Install as a background service (starts on login)?", true) {
		fmt.Fprintf(wiz.w, "\n  Skipping service install.\n")
		fmt.Fprintf(wiz.w, "  You can run manually with: %s daemon\n", BinaryName)
		fmt.Fprintf(wiz.w, "  Or install later with:     %s setup\n\n", BinaryName)
		return nil
	}
	return wiz.install(wiz.cfgPath)
}

func (wiz *Wizard) installService(cfgPath string) error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("resolving home directory: %w", err)
	}
	fmt.Fprintf(wiz.w, "\n")

	fmt.Fprintf(wiz.w, "  Installing binary to %s...\n", BinaryInstallPath(homeDir))
	if err := InstallBinary(homeDir); err != nil {
		return fmt.Errorf("installing binary: %w", err)
	}
	fmt.Fprintf(wiz.w, "  ✓ Binary installed\n")

	if err := WriteUnit(homeDir, cfgPath); err != nil {
		return fmt.Errorf("writing unit: %w", err)
	}
	fmt.Fprintf(wiz.w, "  ✓ systemd user unit written\n")

	if err := CreateLogDir(homeDir); err != nil {
		return fmt.Errorf("creating log directory: %w", err)
	}
	fmt.Fprintf(wiz.w, "  ✓ Log directory created\n")

	if err := EnableService(); err != nil {
		return fmt.Errorf("enabling service: %w", err)
	}
	fmt.Fprintf(wiz.w, "  ✓ Service enabled — running now\n")

	fmt.Fprintf(wiz.w, "\nSetup complete! coworkersync is syncing in the background.\n")
	fmt.Fprintf(wiz.w, "  Config:  %s\n", cfgPath)
	fmt.Fprintf(wiz.w, "  Logs:    %s\n", LogDir(homeDir))
	fmt.Fprintf(wiz.w, "  Status:  %s status\n", BinaryName)
	fmt.Fprintf(wiz.w, "  Remove:  %s uninstall\n\n", BinaryName)
	return nil
}
