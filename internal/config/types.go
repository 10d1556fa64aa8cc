package config

import "time"

// Config represents the complete wecom-bridge configuration.
type Config struct {
	Service  ServiceConfig  `yaml:"service"`
	Callback CallbackConfig `yaml:"callback"`
	Forward  ForwardConfig  `yaml:"forward"`
	Dedupe   DedupeConfig   `yaml:"dedupe,omitempty"`
	Admin    AdminConfig    `yaml:"admin,omitempty"`

	// SourceFile is the file the config was read from; empty when the
	// config came from defaults and environment only.
	SourceFile string `yaml:"-"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	PIDFile   string `yaml:"pid_file"`
}

// CallbackConfig defines the inbound platform callback endpoint.
type CallbackConfig struct {
	Listen string `yaml:"listen"`
	Path   string `yaml:"path"`

	// Token is the platform verification token.
	Token string `yaml:"token"`

	// EncodingAESKey is the 43-character key from the platform console.
	EncodingAESKey string `yaml:"encoding_aes_key"`

	// CorpID, when set, must match the receiver id inside every envelope.
	CorpID string `yaml:"corp_id,omitempty"`

	MaxBodySize     string   `yaml:"max_body_size,omitempty"`
	AllowedMsgTypes []string `yaml:"allowed_msg_types,omitempty"`
}

// ForwardConfig defines the downstream hook.
type ForwardConfig struct {
	BaseURL string        `yaml:"base_url"`
	Path    string        `yaml:"path"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
}

// DedupeConfig defines the optional Redis replay guard.
type DedupeConfig struct {
	Enabled  bool          `yaml:"enabled"`
	RedisURL string        `yaml:"redis_url"`
	TTL      time.Duration `yaml:"ttl"`
}

// AdminConfig defines the optional admin HTTP server.
type AdminConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	APIKey  string `yaml:"api_key"`
}

// Defaults returns a Config with the bridge's standard settings.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "wecom-bridge",
			LogLevel:  "info",
			LogFormat: "json",
			PIDFile:   "./data/wecom-bridge.pid",
		},
		Callback: CallbackConfig{
			Listen:      "0.0.0.0:18888",
			Path:        "/wecom/callback",
			MaxBodySize: "1MB",
		},
		Forward: ForwardConfig{
			BaseURL: "http://127.0.0.1:18789",
			Path:    "/hooks/wecom",
			Timeout: 8 * time.Second,
		},
		Dedupe: DedupeConfig{
			Enabled: false,
			TTL:     5 * time.Minute,
		},
		Admin: AdminConfig{
			Enabled: false,
			Listen:  "127.0.0.1:18890",
		},
	}
}
