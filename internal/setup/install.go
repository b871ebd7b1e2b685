package setup

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"text/template"
)

//go:embed coworkersync.service.tmpl
var unitTemplateStr string

const (
	// BinaryName is the name of the installed binary.
	BinaryName = "coworkersync"

	// UnitName is the systemd user unit name.
	UnitName = BinaryName + ".service"
)

// unitData holds template values for the systemd unit.
type unitData struct {
	BinaryPath string
	ConfigPath string
	HomeDir    string
}

// runCommand executes an external command and returns its combined output.
// Tests replace it.
var runCommand = func(name string, args ...string) ([]byte, error) {
	return exec.Command(name, args...).CombinedOutput() //nolint:gosec // fixed command names
}

// BinaryInstallPath returns ~/.local/bin/coworkersync.
func BinaryInstallPath(homeDir string) string {
	return filepath.Join(homeDir, ".local", "bin", BinaryName)
}

// UnitPath returns the systemd user unit destination path.
func UnitPath(homeDir string) string {
	return filepath.Join(homeDir, ".config", "systemd", "user", UnitName)
}

// LogDir returns the directory the daemon's rotating log file lives in.
func LogDir(homeDir string) string {
	return filepath.Join(homeDir, ".local", "state", BinaryName)
}

// InstallBinary copies the running executable to ~/.local/bin.
func InstallBinary(homeDir string) error {
	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolving current executable path: %w", err)
	}
	self, err = filepath.EvalSymlinks(self)
	if err != nil {
		return fmt.Errorf("resolving executable symlinks: %w", err)
	}

	dest := BinaryInstallPath(homeDir)
	if self == dest {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(dest), err)
	}
	return copyFile(self, dest, 0o755)
}

// renderUnit fills the embedded unit template.
func renderUnit(data unitData) ([]byte, error) {
	tmpl, err := template.New("unit").Parse(unitTemplateStr)
	if err != nil {
		return nil, fmt.Errorf("parsing unit template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("executing unit template: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteUnit renders the systemd user unit for configPath and writes it to
// ~/.config/systemd/user/.
func WriteUnit(homeDir, configPath string) error {
	unit, err := renderUnit(unitData{
		BinaryPath: BinaryInstallPath(homeDir),
		ConfigPath: configPath,
		HomeDir:    homeDir,
	})
	if err != nil {
		return err
	}

	dest := UnitPath(homeDir)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("creating systemd user directory: %w", err)
	}
	if err := os.WriteFile(dest, unit, 0o644); err != nil {
		return fmt.Errorf("writing unit to %s: %w", dest, err)
	}
	return nil
}

// CreateLogDir creates the daemon log directory.
func CreateLogDir(homeDir string) error {
	dir := LogDir(homeDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating log directory %s: %w", dir, err)
	}
	return nil
}

// EnableService reloads systemd and enables and starts the unit.
func EnableService() error {
	if err := systemctl("daemon-reload"); err != nil {
		return err
	}
	return systemctl("enable", "--now", UnitName)
}

// DisableService stops and disables the unit. A missing unit is not an error.
func DisableService(homeDir string) error {
	if _, err := os.Stat(UnitPath(homeDir)); os.IsNotExist(err) {
		return nil
	}
	return systemctl("disable", "--now", UnitName)
}

// IsServiceActive reports whether the unit is currently running.
func IsServiceActive() bool {
	_, err := runCommand("systemctl", "--user", "is-active", "--quiet", UnitName)
	return err == nil
}

// RemoveUnit deletes the unit file and reloads systemd.
func RemoveUnit(homeDir string) error {
	path := UnitPath(homeDir)
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("removing unit %s: %w", path, err)
	}
	return systemctl("daemon-reload")
}

// RemoveBinary deletes the installed binary.
func RemoveBinary(homeDir string) error {
	if err := os.Remove(BinaryInstallPath(homeDir)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing binary: %w", err)
	}
	return nil
}

// PurgeUserData removes config, contacts database, and log files.
func PurgeUserData(homeDir string) error {
	dirs := []string{
		filepath.Join(homeDir, ".config", BinaryName),
		filepath.Join(homeDir, ".local", "share", BinaryName),
		LogDir(homeDir),
	}
	for _, dir := range dirs {
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("removing %s: %w", dir, err)
		}
	}
	return nil
}

// --- helpers -----------------------------------------------------------------

func systemctl(args ...string) error {
	out, err := runCommand("systemctl", append([]string{"--user"}, args...)...)
	if err != nil {
		return fmt.Errorf("systemctl --user %s: %s: %w", strings.Join(args, " "), strings.TrimSpace(string(out)), err)
	}
	return nil
}

// copyFile copies src to dst with the given permissions, writing through a
// temporary file so a running binary is never truncated in place.
func copyFile(src, dst string, perm os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening %s: %w", src, err)
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+BinaryName+"-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := io.Copy(tmp, in); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("copying to %s: %w", dst, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", tmp.Name(), err)
	}
	if err := os.Chmod(tmp.Name(), perm); err != nil {
		return fmt.Errorf("chmod %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return fmt.Errorf("installing %s: %w", dst, err)
	}
	return nil
}
