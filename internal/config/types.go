package config

// Config is the on-disk configuration shared by both processes. Secrets
// (bot token, API keys) are intentionally not part of the file; see
// LoadSecrets.
//
// All duration fields are Go duration strings (e.g. "30s", "4h").
type Config struct {
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Telegram TelegramConfig `json:"telegram"`
	AI       AIConfig       `json:"ai"`
	Sweep    SweepConfig    `json:"sweep"`
	Delivery DeliveryConfig `json:"delivery"`
	Chat     ChatConfig     `json:"chat"`
	HTTP     HTTPConfig     `json:"http"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type TelegramConfig struct {
	// PollTimeout applies to the long-poll bot process.
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type AIConfig struct {
	BaseURL      string  `json:"base_url,omitempty"`
	DefaultModel string  `json:"default_model"`
	MaxTokens    int     `json:"max_tokens,omitempty"`
	Temperature  float64 `json:"temperature,omitempty"`
	Timeout      string  `json:"timeout,omitempty"`
}

// SweepConfig controls the context-analysis job.
//
// MinGap and ContextMaxAge are deliberately configurable: the 4h/30d
// defaults are hand-tuned, not derived.
type SweepConfig struct {
	Enabled       bool   `json:"enabled"`
	Schedule      string `json:"schedule,omitempty"`
	MinGap        string `json:"min_gap,omitempty"`
	ContextMaxAge string `json:"context_max_age,omitempty"`
	RunTimeout    string `json:"run_timeout,omitempty"`
	Timezone      string `json:"timezone,omitempty"`
}

type DeliveryConfig struct {
	PollInterval string `json:"poll_interval,omitempty"`
	BatchLimit   int    `json:"batch_limit,omitempty"`
	RatePerSec   int    `json:"rate_per_sec,omitempty"`
	SendTimeout  string `json:"send_timeout,omitempty"`
}

type ChatConfig struct {
	Enabled      bool `json:"enabled"`
	HistoryLimit int  `json:"history_limit,omitempty"`
}

type HTTPConfig struct {
	Addr string `json:"addr,omitempty"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Console: true},
		Storage: StorageConfig{Driver: "sqlite", Path: "./procode.db", BusyTimeout: "5s"},
		AI: AIConfig{
			DefaultModel: "mistralai/devstral-small:free",
			MaxTokens:    1000,
			Temperature:  0.7,
			Timeout:      "30s",
		},
		Sweep: SweepConfig{
			Enabled:       true,
			Schedule:      "0 * * * *",
			MinGap:        "4h",
			ContextMaxAge: "720h",
		},
		Delivery: DeliveryConfig{
			PollInterval: "30s",
			BatchLimit:   10,
			RatePerSec:   1,
		},
		Chat: ChatConfig{Enabled: true, HistoryLimit: 10},
		HTTP: HTTPConfig{Addr: ":3000"},
	}
}
