// Package config loads and validates the coworkersync YAML configuration.
package config

import (
	"bytes"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/njoerd114/coworkersync/internal/model"
)

// Defaults applied by validate when a field is unset.
const (
	DefaultPollInterval  = time.Hour
	DefaultHTTPTimeout   = 30 * time.Second
	DefaultPhotoWorkers  = 4
	DefaultPhotoRate     = 4.0
	DefaultPhotoMaxBytes = 5 << 20

	minPollInterval = 5 * time.Minute
	maxPollInterval = 24 * time.Hour
	maxPhotoWorkers = 16
)

// DefaultMeteredInterfaces matches mobile broadband and tethering links.
var DefaultMeteredInterfaces = []string{"wwan*", "ppp*", "rmnet*"}

// Config holds the full application configuration loaded from YAML.
type Config struct {
	// DirectoryURL is the base URL of the company directory
	// (e.g. "https://directory.example.com").
	DirectoryURL string `yaml:"directory_url"`

	// DirectoryToken is the bearer token used to authenticate with the directory.
	DirectoryToken string `yaml:"directory_token"`

	// PollInterval controls how often every account is reconciled.
	// Minimum 5m, maximum 24h. Defaults to 1h if unset.
	PollInterval time.Duration `yaml:"poll_interval"`

	// HTTPTimeout bounds every directory and photo request. Defaults to 30s.
	HTTPTimeout time.Duration `yaml:"http_timeout,omitempty"`

	// Database is the path of the local contacts database. Defaults to
	// ~/.local/share/coworkersync/contacts.db.
	Database string `yaml:"database,omitempty"`

	Photos  PhotosConfig  `yaml:"photos,omitempty"`
	Network NetworkConfig `yaml:"network,omitempty"`

	// Accounts lists the identities whose coworkers are mirrored.
	Accounts []Account `yaml:"accounts"`

	Log LogConfig `yaml:"log,omitempty"`

	// Telemetry configures optional OpenTelemetry export via OTLP gRPC.
	// Omit the block entirely to disable telemetry.
	Telemetry *TelemetryConfig `yaml:"telemetry,omitempty"`
}

// Account holds the per-identity user settings.
type Account struct {
	// Identity is the directory account whose coworkers are mirrored.
	Identity string `yaml:"identity"`

	// GroupTitle is the display name of the local contact group.
	// Defaults to "Coworkers".
	GroupTitle string `yaml:"group_title,omitempty"`

	// SyncPhotos enables the photo pass. Defaults to true.
	SyncPhotos *bool `yaml:"sync_photos,omitempty"`

	// AllowAnyNetwork permits syncing over metered links.
	AllowAnyNetwork bool `yaml:"allow_any_network,omitempty"`

	// ForceRefresh re-applies every contact on the next run even when the
	// version tokens match.
	ForceRefresh bool `yaml:"force_refresh,omitempty"`
}

// PhotosEnabled reports whether the photo pass runs for this account.
func (a Account) PhotosEnabled() bool {
	return a.SyncPhotos == nil || *a.SyncPhotos
}

// PhotosConfig tunes the photo pass.
type PhotosConfig struct {
	// Workers is the size of the download pool (1–16). Defaults to 4.
	Workers int `yaml:"workers,omitempty"`

	// RatePerSecond caps photo downloads across all workers. Defaults to 4.
	RatePerSecond float64 `yaml:"rate_per_second,omitempty"`

	// MaxBytes rejects larger downloads. Defaults to 5 MiB.
	MaxBytes int64 `yaml:"max_bytes,omitempty"`
}

// NetworkConfig controls the network suitability check.
type NetworkConfig struct {
	// ProbeAddress is dialled to confirm reachability. Defaults to the
	// host:port of DirectoryURL.
	ProbeAddress string `yaml:"probe_address,omitempty"`

	// MeteredInterfaces are glob patterns of interface names considered
	// metered. Syncing over them requires allow_any_network.
	MeteredInterfaces []string `yaml:"metered_interfaces,omitempty"`
}

// LogConfig enables an optional rotating log file.
type LogConfig struct {
	File       string `yaml:"file,omitempty"`
	MaxSizeMB  int    `yaml:"max_size_mb,omitempty"`
	MaxBackups int    `yaml:"max_backups,omitempty"`
	MaxAgeDays int    `yaml:"max_age_days,omitempty"`
}

// TelemetryConfig holds optional OpenTelemetry settings.
type TelemetryConfig struct {
	// OTLPEndpoint is the gRPC host:port of the OTLP collector (e.g. "localhost:4317").
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	// Insecure disables TLS for the collector connection. Use for local collectors.
	Insecure bool `yaml:"insecure"`

	// ServiceName overrides the OTel service.name attribute. Defaults to "coworkersync".
	ServiceName string `yaml:"service_name"`

	// Headers contains key-value pairs sent as gRPC metadata on every OTLP
	// request, e.g. Authorization: "Bearer <token>".
	Headers map[string]string `yaml:"headers,omitempty"`
}

// DefaultPath returns the default config file path: ~/.config/coworkersync/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "coworkersync", "config.yaml"), nil
}

// Load reads and validates the configuration file at the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config file %q: %w", path, err)
	}
	defer f.Close()

	var cfg Config
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true) // reject unknown keys to catch typos early
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %q: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Write validates c and writes it to path with owner-only permissions, since
// the file contains the directory token.
func (c *Config) Write(path string) error {
	if err := c.validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("writing config file %q: %w", path, err)
	}
	return nil
}

// Account returns the account with the given identity.
func (c *Config) Account(identity string) (Account, bool) {
	for _, a := range c.Accounts {
		if a.Identity == identity {
			return a, true
		}
	}
	return Account{}, false
}

// DatabasePath returns the configured database path or the default one.
func (c *Config) DatabasePath(defaultPath func() (string, error)) (string, error) {
	if c.Database != "" {
		return c.Database, nil
	}
	return defaultPath()
}

// validate checks that all required fields are present and well-formed, and
// fills in defaults.
func (c *Config) validate() error {
	if c.DirectoryURL == "" {
		return fmt.Errorf("directory_url is required")
	}
	u, err := url.ParseRequestURI(c.DirectoryURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("directory_url %q must be a valid http or https URL", c.DirectoryURL)
	}

	if c.DirectoryToken == "" {
		return fmt.Errorf("directory_token is required")
	}

	if c.PollInterval == 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.PollInterval < minPollInterval {
		return fmt.Errorf("poll_interval %v is too short (minimum %v)", c.PollInterval, minPollInterval)
	}
	if c.PollInterval > maxPollInterval {
		return fmt.Errorf("poll_interval %v is too long (maximum %v)", c.PollInterval, maxPollInterval)
	}

	if c.HTTPTimeout == 0 {
		c.HTTPTimeout = DefaultHTTPTimeout
	}
	if c.HTTPTimeout < 0 {
		return fmt.Errorf("http_timeout must be positive")
	}

	if err := c.Photos.validate(); err != nil {
		return err
	}

	if c.Network.ProbeAddress == "" {
		c.Network.ProbeAddress = probeAddress(u)
	}
	if c.Network.MeteredInterfaces == nil {
		c.Network.MeteredInterfaces = append([]string(nil), DefaultMeteredInterfaces...)
	}
	for _, p := range c.Network.MeteredInterfaces {
		if _, err := filepath.Match(p, ""); err != nil {
			return fmt.Errorf("network.metered_interfaces pattern %q: %w", p, err)
		}
	}

	if len(c.Accounts) == 0 {
		return fmt.Errorf("accounts must contain at least one entry")
	}
	seen := make(map[string]bool, len(c.Accounts))
	for i := range c.Accounts {
		a := &c.Accounts[i]
		if a.Identity == "" {
			return fmt.Errorf("accounts[%d] has an empty identity", i)
		}
		if seen[a.Identity] {
			return fmt.Errorf("account %q is listed twice", a.Identity)
		}
		seen[a.Identity] = true
		if a.GroupTitle == "" {
			a.GroupTitle = model.DefaultGroupTitle
		}
	}

	if c.Telemetry != nil {
		if c.Telemetry.OTLPEndpoint == "" {
			return fmt.Errorf("telemetry.otlp_endpoint is required when telemetry is configured")
		}
	}

	return nil
}

func (p *PhotosConfig) validate() error {
	if p.Workers == 0 {
		p.Workers = DefaultPhotoWorkers
	}
	if p.Workers < 1 || p.Workers > maxPhotoWorkers {
		return fmt.Errorf("photos.workers %d out of range (1–%d)", p.Workers, maxPhotoWorkers)
	}
	if p.RatePerSecond == 0 {
		p.RatePerSecond = DefaultPhotoRate
	}
	if p.RatePerSecond < 0 {
		return fmt.Errorf("photos.rate_per_second must be positive")
	}
	if p.MaxBytes == 0 {
		p.MaxBytes = DefaultPhotoMaxBytes
	}
	if p.MaxBytes < 0 {
		return fmt.Errorf("photos.max_bytes must be positive")
	}
	return nil
}

// probeAddress derives host:port from the directory URL.
func probeAddress(u *url.URL) string {
	if u.Port() != "" {
		return u.Host
	}
	port := "443"
	if u.Scheme == "http" {
		port = "80"
	}
	return net.JoinHostPort(u.Hostname(), port)
}
