package config

const (
	defaultJournalMode = ""
	defaultLockTimeout = 10
	defaultLogFormat   = "console"
	defaultLogLevel    = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Container: Container{
			JournalMode: defaultJournalMode,
			LockTimeout: defaultLockTimeout,
		},
		Paths: Paths{
			ConvertAbsolute: true,
			FallbackBaseDir: true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
