package config

// Default values for configuration options. These are layer 0 of the
// override chain and work without any config file.
const (
	defaultQuietPeriod          = "5s"
	defaultPollInterval         = "1s"
	defaultSignalBuffer         = 100
	defaultRcloneBinary         = "rclone"
	defaultRemoteName           = "gdrive"
	defaultRemotePrefix         = "slynk_backup"
	defaultLogLevel             = "info"
	defaultLogFormat            = "auto"
	defaultLogRetentionDays     = 30
	defaultHistoryRetentionDays = 30
)

// DefaultConfig returns a Config populated with all default values. It is
// the starting point for TOML decoding so unset keys keep their defaults.
func DefaultConfig() *Config {
	return &Config{
		WatchConfig:   defaultWatchConfig(),
		RcloneConfig:  defaultRcloneConfig(),
		LoggingConfig: defaultLoggingConfig(),
		HistoryConfig: defaultHistoryConfig(),
	}
}

func defaultWatchConfig() WatchConfig {
	return WatchConfig{
		QuietPeriod:  defaultQuietPeriod,
		PollInterval: defaultPollInterval,
		SignalBuffer: defaultSignalBuffer,
	}
}

func defaultRcloneConfig() RcloneConfig {
	return RcloneConfig{
		RcloneBinary: defaultRcloneBinary,
		RemoteName:   defaultRemoteName,
		RemotePrefix: defaultRemotePrefix,
	}
}

func defaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		LogLevel:         defaultLogLevel,
		LogFormat:        defaultLogFormat,
		LogRetentionDays: defaultLogRetentionDays,
	}
}

func defaultHistoryConfig() HistoryConfig {
	return HistoryConfig{
		HistoryEnabled:       true,
		HistoryRetentionDays: defaultHistoryRetentionDays,
	}
}
