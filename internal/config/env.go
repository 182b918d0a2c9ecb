package config

import (
	"log/slog"
	"os"
)

// Environment variable names for overrides.
const (
	EnvConfig       = "SLYNK_CONFIG"
	EnvRcloneConfig = "SLYNK_RCLONE_CONFIG"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath   string // SLYNK_CONFIG: override config file path
	RcloneConfig string // SLYNK_RCLONE_CONFIG: override rclone.conf path
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
func ReadEnvOverrides(logger *slog.Logger) EnvOverrides {
	o := EnvOverrides{
		ConfigPath:   os.Getenv(EnvConfig),
		RcloneConfig: os.Getenv(EnvRcloneConfig),
	}

	if o.ConfigPath != "" {
		logger.Debug("environment override", slog.String("var", EnvConfig), slog.String("value", o.ConfigPath))
	}

	if o.RcloneConfig != "" {
		logger.Debug("environment override", slog.String("var", EnvRcloneConfig), slog.String("value", o.RcloneConfig))
	}

	return o
}
