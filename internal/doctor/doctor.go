// Package doctor validates wecom-bridge configuration.
package doctor

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mattjoyce/wecom-bridge/internal/config"
	"github.com/mattjoyce/wecom-bridge/internal/lock"
	"github.com/mattjoyce/wecom-bridge/internal/wecom"
)

// platformResponseWindow is how long the platform waits for a callback
// response before it redelivers.
const platformResponseWindow = 5 * time.Second

var envVarRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

var knownMsgTypes = map[string]bool{
	"text": true, "image": true, "voice": true, "video": true,
	"location": true, "link": true, "event": true, "file": true,
}

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates a loaded configuration.
type Doctor struct {
	cfg *config.Config
}

// New creates a Doctor from a loaded config.
func New(cfg *config.Config) *Doctor {
	return &Doctor{cfg: cfg}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateCredentials(r)
	d.validateCallback(r)
	d.validateForward(r)
	d.validateDedupe(r)
	d.validateAdmin(r)
	d.warnMsgTypes(r)
	d.warnLogging(r)
	d.validatePIDFile(r)
	d.warnMissingEnvVars(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// validateCredentials checks that every secret is present and the AES key decodes.
func (d *Doctor) validateCredentials(r *Result) {
	required := []struct{ field, env, value string }{
		{"callback.token", "WECOM_CALLBACK_TOKEN", d.cfg.Callback.Token},
		{"callback.encoding_aes_key", "WECOM_CALLBACK_AES_KEY", d.cfg.Callback.EncodingAESKey},
		{"forward.token", "OPENCLAW_HOOK_TOKEN", d.cfg.Forward.Token},
	}
	for _, c := range required {
		if strings.TrimSpace(c.value) == "" || envVarRe.MatchString(c.value) {
			d.addError(r, "credentials", c.field, fmt.Sprintf("required (set it in config or %s)", c.env))
		}
	}

	key := d.cfg.Callback.EncodingAESKey
	if key == "" || envVarRe.MatchString(key) {
		return
	}
	if _, err := wecom.DecodeKey(key); err != nil {
		d.addError(r, "credentials", "callback.encoding_aes_key", err.Error())
	}
}

func (d *Doctor) validateCallback(r *Result) {
	if _, _, err := net.SplitHostPort(d.cfg.Callback.Listen); err != nil {
		d.addError(r, "callback", "callback.listen", fmt.Sprintf("invalid listen address %q: %v", d.cfg.Callback.Listen, err))
	}
	if d.cfg.Callback.Path == "/" {
		d.addWarning(r, "callback", "callback.path", "callback served at the root path")
	}

	size, err := config.ParseSize(d.cfg.Callback.MaxBodySize)
	if err != nil {
		d.addError(r, "callback", "callback.max_body_size", err.Error())
	} else if size < 4096 {
		d.addWarning(r, "callback", "callback.max_body_size",
			fmt.Sprintf("limit of %d bytes may reject legitimate callbacks", size))
	}

	if d.cfg.Callback.CorpID == "" {
		d.addWarning(r, "callback", "callback.corp_id", "receiver id not checked; any envelope under this key is accepted")
	}
}

func (d *Doctor) validateForward(r *Result) {
	u, err := url.Parse(d.cfg.Forward.BaseURL)
	if err != nil || u.Host == "" {
		d.addError(r, "forward", "forward.base_url", fmt.Sprintf("invalid URL %q", d.cfg.Forward.BaseURL))
		return
	}
	if u.Scheme == "http" && !isLoopback(u.Hostname()) {
		d.addWarning(r, "forward", "forward.base_url", "bearer token sent over plain http to a non-loopback host")
	}

	if d.cfg.Forward.Timeout <= 0 {
		d.addError(r, "forward", "forward.timeout", "timeout must be positive")
	} else if d.cfg.Forward.Timeout >= platformResponseWindow && !d.cfg.Dedupe.Enabled {
		d.addWarning(r, "forward", "forward.timeout",
			fmt.Sprintf("timeout %s exceeds the platform's %s response window; redeliveries will be forwarded again (enable dedupe)",
				d.cfg.Forward.Timeout, platformResponseWindow))
	}
}

func (d *Doctor) validateDedupe(r *Result) {
	if !d.cfg.Dedupe.Enabled {
		return
	}
	if _, err := redis.ParseURL(d.cfg.Dedupe.RedisURL); err != nil {
		d.addError(r, "dedupe", "dedupe.redis_url", err.Error())
	}
	if d.cfg.Dedupe.TTL < platformResponseWindow {
		d.addWarning(r, "dedupe", "dedupe.ttl", "ttl shorter than the platform retry window")
	}
}

func (d *Doctor) validateAdmin(r *Result) {
	if !d.cfg.Admin.Enabled {
		return
	}
	if d.cfg.Admin.Listen == d.cfg.Callback.Listen {
		d.addError(r, "admin", "admin.listen", "admin and callback servers cannot share a listen address")
	}
	if d.cfg.Admin.APIKey == "" {
		d.addWarning(r, "admin", "admin.api_key", "no api_key; /events stream is unreachable")
	}
	if host, _, err := net.SplitHostPort(d.cfg.Admin.Listen); err == nil && !isLoopback(host) {
		d.addWarning(r, "admin", "admin.listen", "/healthz and /metrics exposed beyond loopback without auth")
	}
}

func (d *Doctor) warnMsgTypes(r *Result) {
	for i, t := range d.cfg.Callback.AllowedMsgTypes {
		if !knownMsgTypes[t] {
			d.addWarning(r, "callback", fmt.Sprintf("callback.allowed_msg_types[%d]", i),
				fmt.Sprintf("unknown MsgType %q will never match", t))
		}
	}
}

func (d *Doctor) warnLogging(r *Result) {
	switch strings.ToLower(d.cfg.Service.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		d.addWarning(r, "service", "service.log_level",
			fmt.Sprintf("unknown level %q, INFO will be used", d.cfg.Service.LogLevel))
	}
	switch strings.ToLower(d.cfg.Service.LogFormat) {
	case "json", "text":
	default:
		d.addWarning(r, "service", "service.log_format",
			fmt.Sprintf("unknown format %q, json will be used", d.cfg.Service.LogFormat))
	}
}

func (d *Doctor) validatePIDFile(r *Result) {
	if strings.TrimSpace(d.cfg.Service.PIDFile) == "" {
		d.addError(r, "service", "service.pid_file", "required")
		return
	}
	if err := lock.CheckLocalFilesystem(d.cfg.Service.PIDFile); errors.Is(err, lock.ErrNetworkFilesystem) {
		d.addWarning(r, "service", "service.pid_file", err.Error())
	}
}

// warnMissingEnvVars warns about ${VAR} references where VAR is not set.
func (d *Doctor) warnMissingEnvVars(r *Result) {
	fields := map[string]string{
		"callback.path":     d.cfg.Callback.Path,
		"callback.corp_id":  d.cfg.Callback.CorpID,
		"forward.base_url":  d.cfg.Forward.BaseURL,
		"forward.path":      d.cfg.Forward.Path,
		"dedupe.redis_url":  d.cfg.Dedupe.RedisURL,
		"admin.api_key":     d.cfg.Admin.APIKey,
		"service.pid_file":  d.cfg.Service.PIDFile,
		"service.log_level": d.cfg.Service.LogLevel,
	}
	for field, value := range fields {
		for _, m := range envVarRe.FindAllStringSubmatch(value, -1) {
			if os.Getenv(m[1]) == "" {
				d.addWarning(r, "env_vars", field, fmt.Sprintf("environment variable ${%s} not set", m[1]))
			}
		}
	}
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// ErrInvalid is returned by Check when validation finds errors.
var ErrInvalid = errors.New("configuration invalid")

// Check validates cfg and returns ErrInvalid alongside the result when
// any error was found.
func Check(cfg *config.Config) (*Result, error) {
	r := New(cfg).Validate()
	if !r.Valid {
		return r, ErrInvalid
	}
	return r, nil
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid {
		fmt.Fprintf(&b, "Configuration valid (%d warning(s))\n", len(r.Warnings))
	} else {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
