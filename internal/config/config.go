// Package config loads and validates the RaindropRelay YAML configuration.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/njoerd114/raindroprelay/internal/model"
)

// Config holds the full application configuration loaded from YAML.
type Config struct {
	// RaindropURL is the base URL of the Raindrop.io REST API.
	// Defaults to "https://api.raindrop.io/rest/v1".
	RaindropURL string `yaml:"raindrop_url,omitempty"`

	// ClientID and ClientSecret identify the OAuth application used for
	// token refresh. Both optional; without them an expired token cannot
	// be refreshed and the user must run `login` again.
	ClientID     string `yaml:"client_id,omitempty"`
	ClientSecret string `yaml:"client_secret,omitempty"`

	// Mode selects the sync policy: "off", "additions_only", "mirror" or
	// "upload_only". Defaults to "off".
	Mode model.SyncMode `yaml:"mode,omitempty"`

	// Include selects which collections participate: "top_level" (default),
	// "selected" (only SelectedCollections) or "all".
	Include string `yaml:"include,omitempty"`

	// SelectedCollections lists the collection IDs to sync when Include is
	// "selected".
	SelectedCollections []int64 `yaml:"selected_collections,omitempty"`

	// CollectionsSort orders sibling collection folders: "alpha_asc"
	// (default), "alpha_desc", "raindrop" or "none".
	CollectionsSort model.CollectionSort `yaml:"collections_sort,omitempty"`

	// BookmarksSort orders bookmarks within a folder: "created_desc"
	// (default), "created_asc", "alpha_asc", "alpha_desc", "domain_asc" or
	// "none".
	BookmarksSort model.BookmarkSort `yaml:"bookmarks_sort,omitempty"`

	// RequestsPerMinute caps outgoing API calls. 1–120, default 60.
	RequestsPerMinute int `yaml:"requests_per_minute,omitempty"`

	// BookmarksFile is the path of the browser's Bookmarks JSON file.
	BookmarksFile string `yaml:"bookmarks_file"`

	// TargetFolderID is the bookmark folder synced collections are placed
	// under. Defaults to "1", the bookmark bar.
	TargetFolderID string `yaml:"target_folder_id,omitempty"`

	// UseSubfolder places everything inside a named subfolder of the target
	// folder instead of directly under it.
	UseSubfolder bool `yaml:"use_subfolder,omitempty"`

	// SubfolderName is the subfolder's title. Defaults to "Raindrop.io".
	SubfolderName string `yaml:"subfolder_name,omitempty"`

	// PollInterval controls how often a sync pass runs in daemon mode.
	// Minimum 1m, default 5m.
	PollInterval time.Duration `yaml:"poll_interval,omitempty"`

	// LogFile, when set, routes daemon logs to a size-rotated file instead
	// of stderr.
	LogFile string `yaml:"log_file,omitempty"`

	// Telemetry configures optional OpenTelemetry export via OTLP gRPC.
	// Omit the block entirely to disable telemetry.
	Telemetry *TelemetryConfig `yaml:"telemetry,omitempty"`
}

// TelemetryConfig holds optional OpenTelemetry settings.
type TelemetryConfig struct {
	// OTLPEndpoint is the gRPC host:port of the OTLP collector (e.g. "localhost:4317").
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	// Insecure disables TLS for the collector connection. Use for local collectors.
	Insecure bool `yaml:"insecure"`

	// ServiceName overrides the OTel service.name attribute. Defaults to "raindroprelay".
	ServiceName string `yaml:"service_name"`

	// Headers contains key-value pairs sent as gRPC metadata on every OTLP
	// request, e.g. Authorization: "Bearer <token>".
	Headers map[string]string `yaml:"headers,omitempty"`
}

// Inclusion policy values for Config.Include.
const (
	IncludeTopLevel = "top_level"
	IncludeSelected = "selected"
	IncludeAll      = "all"
)

// DefaultPath returns the default config file path: ~/.config/raindroprelay/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "raindroprelay", "config.yaml"), nil
}

// DefaultStatePath returns the default state database path:
// ~/.local/share/raindroprelay/state.db.
func DefaultStatePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "raindroprelay", "state.db"), nil
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

// Write marshals the config to the given path, creating parent directories
// as needed. Used by the setup wizard.
func (c *Config) Write(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file %q: %w", path, err)
	}
	return nil
}

// validate checks that all fields are well-formed and fills in defaults.
func (c *Config) validate() error {
	if c.RaindropURL == "" {
		c.RaindropURL = "https://api.raindrop.io/rest/v1"
	}
	u, err := url.ParseRequestURI(c.RaindropURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("raindrop_url %q must be a valid http or https URL", c.RaindropURL)
	}

	if c.Mode == "" {
		c.Mode = model.ModeOff
	}
	if !c.Mode.Valid() {
		return fmt.Errorf("mode %q must be one of off, additions_only, mirror, upload_only", c.Mode)
	}

	if c.Include == "" {
		c.Include = IncludeTopLevel
	}
	switch c.Include {
	case IncludeTopLevel, IncludeAll:
	case IncludeSelected:
		if len(c.SelectedCollections) == 0 {
			return fmt.Errorf("selected_collections must contain at least one ID when include is %q", IncludeSelected)
		}
	default:
		return fmt.Errorf("include %q must be one of top_level, selected, all", c.Include)
	}

	if c.CollectionsSort == "" {
		c.CollectionsSort = model.CollectionsAlphaAsc
	}
	if !c.CollectionsSort.Valid() {
		return fmt.Errorf("collections_sort %q must be one of alpha_asc, alpha_desc, raindrop, none", c.CollectionsSort)
	}

	if c.BookmarksSort == "" {
		c.BookmarksSort = model.BookmarksCreatedDesc
	}
	if !c.BookmarksSort.Valid() {
		return fmt.Errorf("bookmarks_sort %q must be one of created_desc, created_asc, alpha_asc, alpha_desc, domain_asc, none", c.BookmarksSort)
	}

	if c.RequestsPerMinute == 0 {
		c.RequestsPerMinute = 60
	}
	if c.RequestsPerMinute < 1 || c.RequestsPerMinute > 120 {
		return fmt.Errorf("requests_per_minute %d must be between 1 and 120", c.RequestsPerMinute)
	}

	if c.BookmarksFile == "" {
		return fmt.Errorf("bookmarks_file is required")
	}

	if c.TargetFolderID == "" {
		c.TargetFolderID = "1"
	}
	if c.SubfolderName == "" {
		c.SubfolderName = "Raindrop.io"
	}

	if c.PollInterval == 0 {
		c.PollInterval = 5 * time.Minute
	}
	if c.PollInterval < time.Minute {
		return fmt.Errorf("poll_interval %v is too short (minimum 1m)", c.PollInterval)
	}

	if c.Telemetry != nil {
		if c.Telemetry.OTLPEndpoint == "" {
			return fmt.Errorf("telemetry.otlp_endpoint is required when telemetry is configured")
		}
	}

	return nil
}
