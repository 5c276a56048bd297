package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

// Version is the running application version, set with -ldflags "-X ...config.Version=1.2.3".
var Version = "0.1.0"

const appDirName = "game-grove"

// Config defines the settings path, scan limits, update endpoint and logging of the application.
type Config struct {
	SettingsPath string

	ScanTimeout time.Duration

	ManifestURL      string
	CheckTimeout     time.Duration
	DownloadTimeout  time.Duration
	AutoCheckUpdates bool
	// BundlePath is the installed application replaced by updates. Empty means the running executable.
	BundlePath string
	Version    string

	LogLevel string
	LogJSON  bool
}

// DefaultConfig returns a configuration with defaults: settings in the user config dir, 30s scans,
// update checks on startup.
func DefaultConfig() *Config {
	settingsDir := os.TempDir()
	if dir, err := os.UserConfigDir(); err == nil {
		settingsDir = dir
	}

	return &Config{
		SettingsPath:     filepath.Join(settingsDir, appDirName, "settings.toml"),
		ScanTimeout:      30 * time.Second,
		ManifestURL:      "https://releases.gamegrove.app/v1/latest.json",
		CheckTimeout:     15 * time.Second,
		DownloadTimeout:  10 * time.Minute,
		AutoCheckUpdates: true,
		Version:          Version,
		LogLevel:         "info",
	}
}

// FromEnv returns DefaultConfig overridden by GAMEGROVE_* environment variables.
func FromEnv() (*Config, error) {
	cfg := DefaultConfig()

	cfg.SettingsPath = envOr("GAMEGROVE_SETTINGS_PATH", cfg.SettingsPath)
	cfg.ManifestURL = envOr("GAMEGROVE_MANIFEST_URL", cfg.ManifestURL)
	cfg.BundlePath = envOr("GAMEGROVE_BUNDLE_PATH", cfg.BundlePath)
	cfg.LogLevel = envOr("GAMEGROVE_LOG_LEVEL", cfg.LogLevel)

	var err error
	if cfg.ScanTimeout, err = envDuration("GAMEGROVE_SCAN_TIMEOUT", cfg.ScanTimeout); err != nil {
		return nil, err
	}
	if cfg.CheckTimeout, err = envDuration("GAMEGROVE_CHECK_TIMEOUT", cfg.CheckTimeout); err != nil {
		return nil, err
	}
	if cfg.DownloadTimeout, err = envDuration("GAMEGROVE_DOWNLOAD_TIMEOUT", cfg.DownloadTimeout); err != nil {
		return nil, err
	}
	if cfg.AutoCheckUpdates, err = envBool("GAMEGROVE_AUTO_CHECK_UPDATES", cfg.AutoCheckUpdates); err != nil {
		return nil, err
	}
	if cfg.LogJSON, err = envBool("GAMEGROVE_LOG_JSON", cfg.LogJSON); err != nil {
		return nil, err
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, goerr.Wrap(err, "invalid boolean in environment", goerr.V("key", key), goerr.V("value", v))
	}
	return b, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, goerr.Wrap(err, "invalid duration in environment", goerr.V("key", key), goerr.V("value", v))
	}
	return d, nil
}
