package config

const (
	defaultConfigPath                = "~/.config/qrattend/config.toml"
	defaultDataDir                   = "~/.local/share/qrattend"
	defaultLogDir                    = "~/.local/share/qrattend/logs"
	defaultLedgerDriver              = "sqlite"
	defaultBusyTimeoutMS             = 5000
	defaultPostgresMaxOpenConns      = 10
	defaultCaptureWidth              = 640
	defaultCaptureHeight             = 480
	defaultCaptureFPS                = 15
	defaultFFmpegBinary              = "ffmpeg"
	defaultCooldownMS                = 2000
	defaultOpenTimeoutSeconds        = 10
	defaultCaptureStopTimeoutMS      = 3000
	defaultWriteTimeoutSeconds       = 5
	defaultMaxConsecutiveFrameErrors = 10
	defaultPreviewEvery              = 3
	defaultPreviewFormat             = "jpeg"
	defaultPreviewWidth              = 320
	defaultPreviewQuality            = 70
	defaultPollIntervalMS            = 2000
	defaultPollStopTimeoutMS         = 3000
	defaultPollRecentLimit           = 50
	defaultAPIBind                   = "127.0.0.1:7590"
	defaultFeedCapacity              = 512
	defaultRedisAddr                 = "localhost:6379"
	defaultRedisChannel              = "qrattend:feed"
	defaultLogFormat                 = "console"
	defaultLogLevel                  = "info"
)

// DefaultSlots is the time-slot set used when none is configured.
var DefaultSlots = []string{"morning", "lunch", "afternoon"}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
		},
		Ledger: Ledger{
			Driver:        defaultLedgerDriver,
			BusyTimeoutMS: defaultBusyTimeoutMS,
		},
		Attendance: Attendance{
			Slots: append([]string(nil), DefaultSlots...),
		},
		Station: Station{
			Slot: DefaultSlots[0],
		},
		Capture: Capture{
			Width:                     defaultCaptureWidth,
			Height:                    defaultCaptureHeight,
			FPS:                       defaultCaptureFPS,
			FFmpegBinary:              defaultFFmpegBinary,
			CooldownMS:                defaultCooldownMS,
			OpenTimeoutSeconds:        defaultOpenTimeoutSeconds,
			StopTimeoutMS:             defaultCaptureStopTimeoutMS,
			WriteTimeoutSeconds:       defaultWriteTimeoutSeconds,
			MaxConsecutiveFrameErrors: defaultMaxConsecutiveFrameErrors,
			PreviewEvery:              defaultPreviewEvery,
			PreviewFormat:             defaultPreviewFormat,
			PreviewWidth:              defaultPreviewWidth,
			PreviewQuality:            defaultPreviewQuality,
			HotplugMonitor:            true,
		},
		Poller: Poller{
			IntervalMS:    defaultPollIntervalMS,
			StopTimeoutMS: defaultPollStopTimeoutMS,
			RecentLimit:   defaultPollRecentLimit,
		},
		API: API{
			Bind:         defaultAPIBind,
			FeedCapacity: defaultFeedCapacity,
		},
		Redis: Redis{
			Addr:    defaultRedisAddr,
			Channel: defaultRedisChannel,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
