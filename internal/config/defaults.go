package config

const (
	defaultStateDir            = "~/.local/share/isoforge"
	defaultLogDir              = "~/.local/share/isoforge/logs"
	defaultDownloadAttempts    = 5
	defaultBackoffInitialMS    = 500
	defaultBackoffMaxMS        = 30_000
	defaultDownloadChunkSize   = 4 << 20
	defaultRequestTimeout      = 30
	defaultUserAgent           = "isoforge/dev"
	defaultFlashBlockSize      = 4 << 20
	defaultFlashSyncInterval   = 64 << 20
	defaultDeviceSource        = "auto"
	defaultLsblkTimeoutSeconds = 10
	defaultEventBuffer         = 64
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			CacheDir: defaultCacheDir(),
			StateDir: defaultStateDir,
			LogDir:   defaultLogDir,
		},
		Download: Download{
			MaxAttempts:      defaultDownloadAttempts,
			BackoffInitialMS: defaultBackoffInitialMS,
			BackoffMaxMS:     defaultBackoffMaxMS,
			ChunkSize:        defaultDownloadChunkSize,
			RequestTimeout:   defaultRequestTimeout,
			UserAgent:        defaultUserAgent,
		},
		Flash: Flash{
			BlockSize:    defaultFlashBlockSize,
			SyncInterval: defaultFlashSyncInterval,
		},
		Devices: Devices{
			Source:       defaultDeviceSource,
			LsblkTimeout: defaultLsblkTimeoutSeconds,
		},
		Events: Events{
			Buffer: defaultEventBuffer,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
