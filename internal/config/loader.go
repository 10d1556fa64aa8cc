package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// DefaultConfigName is the file looked up inside a config directory.
const DefaultConfigName = "wecom-bridge.yaml"

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// envBindings maps config keys to the environment variables that override
// them. The names match the bridge's historical env-only deployment.
var envBindings = map[string]string{
	"callback.port":             "WECOM_BRIDGE_PORT",
	"callback.path":             "WECOM_CALLBACK_PATH",
	"callback.token":            "WECOM_CALLBACK_TOKEN",
	"callback.encoding_aes_key": "WECOM_CALLBACK_AES_KEY",
	"callback.corp_id":          "WECOM_CORP_ID",
	"forward.base_url":          "OPENCLAW_HOOK_BASE",
	"forward.path":              "OPENCLAW_HOOK_PATH",
	"forward.token":             "OPENCLAW_HOOK_TOKEN",
	"forward.timeout_ms":        "WECOM_FORWARD_TIMEOUT_MS",
	"service.log_level":         "WECOM_BRIDGE_LOG_LEVEL",
	"service.log_format":        "WECOM_BRIDGE_LOG_FORMAT",
	"dedupe.redis_url":          "WECOM_BRIDGE_REDIS_URL",
	"admin.api_key":             "WECOM_BRIDGE_ADMIN_KEY",
}

// Load reads configuration from configPath, then applies environment
// overrides and defaults. configPath may be a file or a directory holding
// wecom-bridge.yaml. An empty configPath builds the config from defaults
// and environment alone.
//
// Load does not check credentials; call Credentials for that.
func Load(configPath string) (*Config, error) {
	cfg := Defaults()

	if configPath != "" {
		absPath, err := resolveConfigFile(configPath)
		if err != nil {
			return nil, err
		}

		if err := verifyConfigHash(absPath); err != nil {
			return nil, err
		}

		if err := loadConfigFile(absPath, cfg); err != nil {
			return nil, fmt.Errorf("%s: %w", absPath, err)
		}
		cfg.SourceFile = absPath
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	applyConfigDefaults(cfg)
	cfg.Callback.Path = NormalizePath(cfg.Callback.Path)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// DiscoverConfigFile finds a config file by checking standard locations.
// Priority order: $WECOM_BRIDGE_CONFIG, ./wecom-bridge.yaml,
// ~/.config/wecom-bridge/wecom-bridge.yaml, /etc/wecom-bridge/wecom-bridge.yaml.
// It returns "" without error when none exist; the bridge then runs from
// environment variables only.
func DiscoverConfigFile() (string, error) {
	if path := os.Getenv("WECOM_BRIDGE_CONFIG"); path != "" {
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("WECOM_BRIDGE_CONFIG=%s: %w", path, err)
		}
		return path, nil
	}

	candidates := []string{DefaultConfigName}
	if homeDir, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(homeDir, ".config", "wecom-bridge", DefaultConfigName))
	}
	candidates = append(candidates, filepath.Join("/etc/wecom-bridge", DefaultConfigName))

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", nil
}

// resolveConfigFile turns a file or directory argument into an absolute
// file path.
func resolveConfigFile(configPath string) (string, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return "", fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}

	if info.IsDir() {
		absPath = filepath.Join(absPath, DefaultConfigName)
		if _, err := os.Stat(absPath); err != nil {
			return "", fmt.Errorf("directory provided but %s not found: %s", DefaultConfigName, absPath)
		}
	}
	return absPath, nil
}

// loadConfigFile parses a YAML file over cfg. Keys missing from the file
// keep their current values.
func loadConfigFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	interpolated := interpolateEnv(string(data))

	if err := yaml.Unmarshal([]byte(interpolated), cfg); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	return nil
}

// applyEnvOverrides applies set environment variables on top of cfg.
func applyEnvOverrides(cfg *Config) error {
	v := viper.New()
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("bind %s: %w", env, err)
		}
	}

	if v.IsSet("callback.port") {
		port := v.GetString("callback.port")
		if _, err := strconv.Atoi(port); err != nil {
			return fmt.Errorf("WECOM_BRIDGE_PORT: invalid port %q", port)
		}
		cfg.Callback.Listen = "0.0.0.0:" + port
	}
	if v.IsSet("forward.timeout_ms") {
		ms, err := strconv.Atoi(v.GetString("forward.timeout_ms"))
		if err != nil {
			return fmt.Errorf("WECOM_FORWARD_TIMEOUT_MS: %w", err)
		}
		cfg.Forward.Timeout = time.Duration(ms) * time.Millisecond
	}

	overrideString(v, "callback.path", &cfg.Callback.Path)
	overrideString(v, "callback.token", &cfg.Callback.Token)
	overrideString(v, "callback.encoding_aes_key", &cfg.Callback.EncodingAESKey)
	overrideString(v, "callback.corp_id", &cfg.Callback.CorpID)
	overrideString(v, "forward.base_url", &cfg.Forward.BaseURL)
	overrideString(v, "forward.path", &cfg.Forward.Path)
	overrideString(v, "forward.token", &cfg.Forward.Token)
	overrideString(v, "service.log_level", &cfg.Service.LogLevel)
	overrideString(v, "service.log_format", &cfg.Service.LogFormat)
	overrideString(v, "admin.api_key", &cfg.Admin.APIKey)

	if v.IsSet("dedupe.redis_url") {
		cfg.Dedupe.RedisURL = v.GetString("dedupe.redis_url")
		cfg.Dedupe.Enabled = cfg.Dedupe.RedisURL != ""
	}
	return nil
}

func overrideString(v *viper.Viper, key string, dst *string) {
	if v.IsSet(key) {
		*dst = v.GetString(key)
	}
}

// applyConfigDefaults fills fields a config file explicitly blanked.
func applyConfigDefaults(cfg *Config) {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = defaults.Service.LogFormat
	}
	if cfg.Service.PIDFile == "" {
		cfg.Service.PIDFile = defaults.Service.PIDFile
	}
	if cfg.Callback.Listen == "" {
		cfg.Callback.Listen = defaults.Callback.Listen
	}
	if cfg.Callback.Path == "" {
		cfg.Callback.Path = defaults.Callback.Path
	}
	if cfg.Forward.BaseURL == "" {
		cfg.Forward.BaseURL = defaults.Forward.BaseURL
	}
	if cfg.Forward.Path == "" {
		cfg.Forward.Path = defaults.Forward.Path
	}
	if cfg.Forward.Timeout == 0 {
		cfg.Forward.Timeout = defaults.Forward.Timeout
	}
	if cfg.Dedupe.TTL == 0 {
		cfg.Dedupe.TTL = defaults.Dedupe.TTL
	}
	if cfg.Admin.Listen == "" {
		cfg.Admin.Listen = defaults.Admin.Listen
	}
}

func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]

		if value, exists := os.LookupEnv(varName); exists {
			return value
		}

		// Leave the placeholder; credential checks report it.
		return match
	})
}

// NormalizePath gives a callback path a single leading slash, collapses
// repeated slashes and drops a trailing slash.
func NormalizePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	for strings.Contains(p, "//") {
		p = strings.ReplaceAll(p, "//", "/")
	}
	if len(p) > 1 {
		p = strings.TrimSuffix(p, "/")
	}
	return p
}

// validate checks structural settings. Credentials are checked separately.
func validate(cfg *Config) error {
	var errs []error

	if strings.ContainsAny(cfg.Callback.Path, "{}*") {
		errs = append(errs, fmt.Errorf("callback.path %q must be a literal path", cfg.Callback.Path))
	}
	if _, err := ParseSize(cfg.Callback.MaxBodySize); err != nil {
		errs = append(errs, fmt.Errorf("callback.max_body_size %q: %w", cfg.Callback.MaxBodySize, err))
	}

	u, err := url.Parse(cfg.Forward.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("forward.base_url %q must be an absolute http(s) URL", cfg.Forward.BaseURL))
	}
	if !strings.HasPrefix(cfg.Forward.Path, "/") {
		errs = append(errs, fmt.Errorf("forward.path %q must start with /", cfg.Forward.Path))
	}
	if cfg.Forward.Timeout < 0 {
		errs = append(errs, fmt.Errorf("forward.timeout must be positive"))
	}

	if cfg.Dedupe.Enabled && cfg.Dedupe.RedisURL == "" {
		errs = append(errs, fmt.Errorf("dedupe.redis_url is required when dedupe is enabled"))
	}
	if cfg.Admin.Enabled && cfg.Admin.Listen == "" {
		errs = append(errs, fmt.Errorf("admin.listen is required when admin is enabled"))
	}

	return errors.Join(errs...)
}

// ParseSize parses size strings like "1MB", "512KB", "1048576" to bytes.
// Returns 1MB if empty.
func ParseSize(size string) (int64, error) {
	if size == "" {
		return 1024 * 1024, nil
	}

	upper := strings.ToUpper(strings.TrimSpace(size))
	multiplier := int64(1)

	switch {
	case strings.HasSuffix(upper, "KB"):
		multiplier = 1024
		upper = strings.TrimSuffix(upper, "KB")
	case strings.HasSuffix(upper, "MB"):
		multiplier = 1024 * 1024
		upper = strings.TrimSuffix(upper, "MB")
	case strings.HasSuffix(upper, "GB"):
		multiplier = 1024 * 1024 * 1024
		upper = strings.TrimSuffix(upper, "GB")
	}

	value, err := strconv.ParseInt(strings.TrimSpace(upper), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size value: %w", err)
	}
	if value <= 0 {
		return 0, fmt.Errorf("size must be positive")
	}

	result := value * multiplier
	if result/multiplier != value {
		return 0, fmt.Errorf("size too large")
	}
	return result, nil
}
