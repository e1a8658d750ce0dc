package config

// Config is the on-disk configuration. Durations are Go duration strings
// ("30s", "5m"); empty means the component default.
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Crafty    CraftyConfig    `json:"crafty"`
	Broadcast BroadcastConfig `json:"broadcast"`
	Storage   StorageConfig   `json:"storage"`
	HTTP      HTTPConfig      `json:"http"`
	Logging   LoggingConfig   `json:"logging"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	PollTimeout  string  `json:"poll_timeout"`
	// APIURL points at a self-hosted Bot API server. Empty uses the public one.
	APIURL string `json:"api_url,omitempty"`
}

type CraftyConfig struct {
	BaseURL            string `json:"base_url"`
	APIKey             string `json:"api_key"`
	Timeout            string `json:"timeout,omitempty"`
	MaxParallel        int    `json:"max_parallel,omitempty"`
	InsecureSkipVerify bool   `json:"insecure_skip_verify,omitempty"`
}

// BroadcastConfig controls the periodic status cycle and its delivery.
//
// Schedule, when set, wins over Interval and accepts a cron expression
// ("*/5 * * * *", "@hourly"), a duration or HH:MM. Fixed intervals below one
// minute are raised to one minute.
type BroadcastConfig struct {
	Interval        string `json:"interval"`
	Schedule        string `json:"schedule,omitempty"`
	Timezone        string `json:"timezone,omitempty"`
	ShowGeneratedAt bool   `json:"show_generated_at,omitempty"`

	Workers        int     `json:"workers,omitempty"`
	RatePerSec     float64 `json:"rate_per_sec,omitempty"`
	Burst          int     `json:"burst,omitempty"`
	SendTimeout    string  `json:"send_timeout,omitempty"`
	PersistTimeout string  `json:"persist_timeout,omitempty"`
	ParseMode      string  `json:"parse_mode,omitempty"`
	DisablePreview bool    `json:"disable_preview,omitempty"`
}

// StorageConfig selects the recipient store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/craftybot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type HTTPConfig struct {
	Enabled      bool   `json:"enabled"`
	Addr         string `json:"addr,omitempty"`
	WebhookToken string `json:"webhook_token,omitempty"`
	Pprof        bool   `json:"pprof,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
	Chat    LoggingChat `json:"chat"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingChat forwards log lines at or above MinLevel to an operator chat.
type LoggingChat struct {
	Enabled    bool   `json:"enabled"`
	ChatID     int64  `json:"chat_id"`
	ThreadID   int    `json:"thread_id,omitempty"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}
