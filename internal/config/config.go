package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config represents the application configuration.
type Config struct {
	Downloads  DownloadsConfig  `toml:"downloads" mapstructure:"downloads"`
	Database   DatabaseConfig   `toml:"database" mapstructure:"database"`
	Qobuz      ProviderConfig   `toml:"qobuz" mapstructure:"qobuz"`
	Tidal      ProviderConfig   `toml:"tidal" mapstructure:"tidal"`
	Deezer     ProviderConfig   `toml:"deezer" mapstructure:"deezer"`
	SoundCloud ProviderConfig   `toml:"soundcloud" mapstructure:"soundcloud"`
	Artwork    ArtworkConfig    `toml:"artwork" mapstructure:"artwork"`
	Conversion ConversionConfig `toml:"conversion" mapstructure:"conversion"`
	Logging    LoggingConfig    `toml:"logging" mapstructure:"logging"`
}

// DownloadsConfig contains download pipeline settings.
type DownloadsConfig struct {
	Folder      string `toml:"folder" mapstructure:"folder"`
	Concurrency int    `toml:"concurrency" mapstructure:"concurrency"` // 0 = unbounded
	Force       bool   `toml:"force" mapstructure:"force"`             // re-download completed items
	MaxRetries  int    `toml:"max_retries" mapstructure:"max_retries"` // transient retries per task
}

// DatabaseConfig locates the completed/failed ledgers. Each table can be
// disabled independently.
type DatabaseConfig struct {
	Path             string `toml:"path" mapstructure:"path"`
	CompletedEnabled bool   `toml:"completed_enabled" mapstructure:"completed_enabled"`
	FailedEnabled    bool   `toml:"failed_enabled" mapstructure:"failed_enabled"`
}

// ProviderConfig holds per-provider settings.
type ProviderConfig struct {
	Quality           string `toml:"quality" mapstructure:"quality"`
	RequestsPerMinute int    `toml:"requests_per_minute" mapstructure:"requests_per_minute"` // 0 = unlimited
	Token             string `toml:"token" mapstructure:"token"`
}

// ArtworkConfig controls embedded cover art.
type ArtworkConfig struct {
	Embed       bool `toml:"embed" mapstructure:"embed"`
	MaxEdgePx   int  `toml:"max_edge_px" mapstructure:"max_edge_px"`
	SaveToDisk  bool `toml:"save_to_disk" mapstructure:"save_to_disk"`
	JPEGQuality int  `toml:"jpeg_quality" mapstructure:"jpeg_quality"`
}

// ConversionConfig controls the optional codec conversion step.
type ConversionConfig struct {
	Enabled bool   `toml:"enabled" mapstructure:"enabled"`
	Codec   string `toml:"codec" mapstructure:"codec"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level      string `toml:"level" mapstructure:"level"`
	Format     string `toml:"format" mapstructure:"format"`
	Output     string `toml:"output" mapstructure:"output"`
	FilePath   string `toml:"file_path" mapstructure:"file_path"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

// Load loads configuration from file, creating a default config on first run.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath == "" {
		configPath = DefaultConfigPath()
	}

	v.SetConfigFile(configPath)
	v.SetConfigType("toml")

	if err := ensureConfigDir(configPath); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok || os.IsNotExist(err) {
			if err := v.WriteConfigAs(configPath); err != nil {
				return nil, fmt.Errorf("failed to write default config: %w", err)
			}
		} else {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("RIPSTREAM")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Downloads.Folder == "" {
		return fmt.Errorf("downloads folder cannot be empty")
	}
	if c.Downloads.Concurrency < 0 {
		return fmt.Errorf("concurrency cannot be negative")
	}
	if c.Downloads.Concurrency > 64 {
		return fmt.Errorf("concurrency cannot exceed 64")
	}
	if c.Downloads.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}

	for name, p := range c.Providers() {
		if p.RequestsPerMinute < 0 {
			return fmt.Errorf("%s requests_per_minute cannot be negative", name)
		}
	}

	if c.Artwork.MaxEdgePx < 0 {
		return fmt.Errorf("artwork max edge cannot be negative")
	}
	if c.Artwork.JPEGQuality < 1 || c.Artwork.JPEGQuality > 100 {
		return fmt.Errorf("artwork jpeg quality must be in [1, 100]")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (must be json or console)", c.Logging.Format)
	}
	validOutputs := map[string]bool{"file": true, "console": true, "both": true}
	if !validOutputs[c.Logging.Output] {
		return fmt.Errorf("invalid log output: %s (must be file, console, or both)", c.Logging.Output)
	}

	return nil
}

// Providers returns the per-provider configs keyed by provider name.
func (c *Config) Providers() map[string]ProviderConfig {
	return map[string]ProviderConfig{
		"qobuz":      c.Qobuz,
		"tidal":      c.Tidal,
		"deezer":     c.Deezer,
		"soundcloud": c.SoundCloud,
	}
}

// RateLimits returns the provider -> requests-per-minute map for the gate.
func (c *Config) RateLimits() map[string]int {
	limits := make(map[string]int, 4)
	for name, p := range c.Providers() {
		limits[name] = p.RequestsPerMinute
	}
	return limits
}

// Save saves the configuration to file.
func (c *Config) Save(path string) error {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")

	v.Set("downloads", c.Downloads)
	v.Set("database", c.Database)
	v.Set("qobuz", c.Qobuz)
	v.Set("tidal", c.Tidal)
	v.Set("deezer", c.Deezer)
	v.Set("soundcloud", c.SoundCloud)
	v.Set("artwork", c.Artwork)
	v.Set("conversion", c.Conversion)
	v.Set("logging", c.Logging)

	return v.WriteConfig()
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("downloads.folder", defaultDownloadDir())
	v.SetDefault("downloads.concurrency", 4)
	v.SetDefault("downloads.force", false)
	v.SetDefault("downloads.max_retries", 3)

	v.SetDefault("database.path", filepath.Join(DataDir(), "downloads.db"))
	v.SetDefault("database.completed_enabled", true)
	v.SetDefault("database.failed_enabled", true)

	v.SetDefault("qobuz.quality", "flac")
	v.SetDefault("qobuz.requests_per_minute", 60)
	v.SetDefault("tidal.quality", "lossless")
	v.SetDefault("tidal.requests_per_minute", 60)
	v.SetDefault("deezer.quality", "mp3_320")
	v.SetDefault("deezer.requests_per_minute", 0)
	v.SetDefault("soundcloud.quality", "mp3_128")
	v.SetDefault("soundcloud.requests_per_minute", 30)

	v.SetDefault("artwork.embed", true)
	v.SetDefault("artwork.max_edge_px", 1200)
	v.SetDefault("artwork.save_to_disk", false)
	v.SetDefault("artwork.jpeg_quality", 90)

	v.SetDefault("conversion.enabled", false)
	v.SetDefault("conversion.codec", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "file")
	v.SetDefault("logging.file_path", filepath.Join(DataDir(), "logs", "ripstream.log"))
	v.SetDefault("logging.max_size_mb", 50)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 30)
	v.SetDefault("logging.compress", true)
}

// DefaultConfigPath returns the default configuration file path.
func DefaultConfigPath() string {
	return filepath.Join(DataDir(), "config.toml")
}

// DataDir returns the application data directory.
func DataDir() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(".", "ripstream")
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "ripstream")
}

// defaultDownloadDir returns the default download directory.
func defaultDownloadDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "ripstream-downloads")
	}
	return filepath.Join(home, "Music", "ripstream")
}

// ensureConfigDir ensures the configuration directory exists.
func ensureConfigDir(configPath string) error {
	return os.MkdirAll(filepath.Dir(configPath), 0755)
}
