package webhook

import (
	"fmt"

	"github.com/mattjoyce/wecom-bridge/internal/config"
)

// FromGlobalConfig converts the callback section of config.Config to
// webhook.Config. It parses the body size limit but does not check
// credentials.
func FromGlobalConfig(cfg *config.Config) (Config, error) {
	if cfg == nil {
		return Config{}, fmt.Errorf("config is nil")
	}

	maxBodySize, err := config.ParseSize(cfg.Callback.MaxBodySize)
	if err != nil {
		return Config{}, fmt.Errorf("callback: invalid max_body_size %q: %w", cfg.Callback.MaxBodySize, err)
	}

	path := config.NormalizePath(cfg.Callback.Path)
	if path == "" {
		path = DefaultPath
	}

	return Config{
		Listen:          cfg.Callback.Listen,
		Path:            path,
		Token:           cfg.Callback.Token,
		MaxBodySize:     maxBodySize,
		AllowedMsgTypes: cfg.Callback.AllowedMsgTypes,
		Source:          DefaultSource,
		WriteTimeout:    WriteTimeoutFor(cfg.Forward.Timeout),
	}, nil
}
