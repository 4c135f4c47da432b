package config

// Platform names accepted by Config.Platform.
const (
	PlatformDiscord  = "discord"
	PlatformTelegram = "telegram"
)

type Config struct {
	// Platform selects the chat adapter. Default: discord.
	Platform string `json:"platform,omitempty" validate:"omitempty,oneof=discord telegram"`

	Commands CommandsConfig `json:"commands"`
	Discord  DiscordConfig  `json:"discord"`
	Telegram TelegramConfig `json:"telegram"`
	Storage  StorageConfig  `json:"storage"`
	Dispatch DispatchConfig `json:"dispatch"`
	Logging  LoggingConfig  `json:"logging"`
	Sync     SyncConfig     `json:"sync"`
	Ops      OpsConfig      `json:"ops"`
	Tracing  TracingConfig  `json:"tracing"`
}

// CommandsConfig controls the command router.
//
// OperatorIDs restricts every verb except help and reply_rules (and replies)
// to the listed user ids. Empty means everyone is an operator.
type CommandsConfig struct {
	Prefix      string   `json:"prefix,omitempty" validate:"omitempty,max=5"`
	OperatorIDs []string `json:"operator_ids,omitempty" envconfig:"OPERATOR_IDS"`
	Workers     int      `json:"workers,omitempty" validate:"omitempty,min=1,max=64"`
	QueueSize   int      `json:"queue_size,omitempty" envconfig:"QUEUE_SIZE" validate:"omitempty,min=1"`
	// Timeout is the default per-command timeout (Go duration string).
	Timeout string `json:"timeout,omitempty" validate:"omitempty,duration"`
}

type DiscordConfig struct {
	Token string `json:"token,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s").
	PollTimeout string `json:"poll_timeout,omitempty" envconfig:"POLL_TIMEOUT" validate:"omitempty,duration"`
}

type StorageConfig struct {
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty" envconfig:"BUSY_TIMEOUT" validate:"omitempty,duration"`
}

type DispatchConfig struct {
	// MaxContent is the content length limit in characters.
	MaxContent int `json:"max_content,omitempty" envconfig:"MAX_CONTENT" validate:"omitempty,min=1,max=4000"`
	// Parallel bounds concurrent sends within one batch.
	Parallel int `json:"parallel,omitempty" validate:"omitempty,min=1,max=64"`
	// RatePerSec throttles sends across batches. Negative disables.
	RatePerSec float64 `json:"rate_per_sec,omitempty" envconfig:"RATE_PER_SEC"`
}

type LoggingConfig struct {
	Level   string      `json:"level,omitempty" validate:"omitempty,oneof=trace debug info warn error"`
	Console *bool       `json:"console,omitempty"`
	File    LoggingFile `json:"file"`
	Chat    LoggingChat `json:"chat"`
}

type LoggingFile struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path,omitempty"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty" validate:"omitempty,min=1"`
	MaxBackups int    `json:"max_backups,omitempty" validate:"omitempty,min=0"`
	MaxAgeDays int    `json:"max_age_days,omitempty" validate:"omitempty,min=0"`
	Compress   bool   `json:"compress,omitempty"`
}

// LoggingChat forwards WARN+ (or MinLevel+) lines to an operator channel.
type LoggingChat struct {
	Enabled    bool   `json:"enabled"`
	ChannelID  string `json:"channel_id,omitempty"`
	MinLevel   string `json:"min_level,omitempty" validate:"omitempty,oneof=debug info warn error"`
	RatePerSec int    `json:"rate_per_sec,omitempty" validate:"omitempty,min=1,max=30"`
}

// SyncConfig controls the periodic project reconciliation sweep.
type SyncConfig struct {
	Enabled bool `json:"enabled"`
	// Schedule is a cron spec, a descriptor like "@every 6h" or a plain
	// interval like "6h".
	Schedule string `json:"schedule,omitempty" validate:"omitempty,cronspec"`
	// Timezone for cron specs (IANA name). Default: Local.
	Timezone string `json:"timezone,omitempty"`
	// Timeout bounds one sweep.
	Timeout string `json:"timeout,omitempty" validate:"omitempty,duration"`
}

// OpsConfig controls the ops HTTP server (/metrics, /healthz, optional pprof).
//
// Bind to localhost unless a token is set or allow_insecure is explicit.
type OpsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty" validate:"omitempty,hostname_port"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty" envconfig:"ALLOW_INSECURE"`
	Pprof         bool   `json:"pprof,omitempty"`
	PprofPrefix   string `json:"pprof_prefix,omitempty" envconfig:"PPROF_PREFIX"`

	ReadTimeout  string `json:"read_timeout,omitempty" validate:"omitempty,duration"`
	WriteTimeout string `json:"write_timeout,omitempty" validate:"omitempty,duration"`
	IdleTimeout  string `json:"idle_timeout,omitempty" validate:"omitempty,duration"`
}

// TracingConfig controls the OTLP trace exporter.
type TracingConfig struct {
	Enabled     bool    `json:"enabled"`
	Endpoint    string  `json:"endpoint,omitempty" validate:"omitempty,hostname_port"`
	Insecure    bool    `json:"insecure,omitempty"`
	ServiceName string  `json:"service_name,omitempty" envconfig:"SERVICE_NAME"`
	SampleRatio float64 `json:"sample_ratio,omitempty" envconfig:"SAMPLE_RATIO" validate:"min=0,max=1"`
}

// ConsoleEnabled reports whether console logging is on (default true).
func (l LoggingConfig) ConsoleEnabled() bool { return l.Console == nil || *l.Console }
