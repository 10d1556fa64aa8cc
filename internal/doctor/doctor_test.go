package doctor

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/mattjoyce/wecom-bridge/internal/config"
)

func validConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Callback.Token = "t1"
	cfg.Callback.EncodingAESKey = strings.Repeat("A", 43)
	cfg.Callback.CorpID = "corp123"
	cfg.Forward.Token = "hook"
	cfg.Forward.Timeout = 3 * time.Second
	return cfg
}

func hasIssue(issues []Issue, field string) bool {
	for _, i := range issues {
		if i.Field == field {
			return true
		}
	}
	return false
}

func TestValidate_ValidConfig(t *testing.T) {
	t.Parallel()
	r := New(validConfig()).Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got errors: %v", r.Errors)
	}
	if len(r.Warnings) != 0 {
		t.Fatalf("expected no warnings, got: %v", r.Warnings)
	}
}

func TestValidate_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(c *config.Config)
		field  string
	}{
		{"missing token", func(c *config.Config) { c.Callback.Token = "" }, "callback.token"},
		{"unresolved key", func(c *config.Config) { c.Callback.EncodingAESKey = "${WECOM_KEY_UNSET}" }, "callback.encoding_aes_key"},
		{"short key", func(c *config.Config) { c.Callback.EncodingAESKey = "short" }, "callback.encoding_aes_key"},
		{"missing forward token", func(c *config.Config) { c.Forward.Token = " " }, "forward.token"},
		{"bad listen", func(c *config.Config) { c.Callback.Listen = "18888" }, "callback.listen"},
		{"bad body size", func(c *config.Config) { c.Callback.MaxBodySize = "big" }, "callback.max_body_size"},
		{"bad forward url", func(c *config.Config) { c.Forward.BaseURL = "::nope" }, "forward.base_url"},
		{"zero timeout", func(c *config.Config) { c.Forward.Timeout = 0 }, "forward.timeout"},
		{"bad redis url", func(c *config.Config) {
			c.Dedupe.Enabled = true
			c.Dedupe.RedisURL = "http://not-redis"
		}, "dedupe.redis_url"},
		{"shared admin listen", func(c *config.Config) {
			c.Admin.Enabled = true
			c.Admin.APIKey = "k"
			c.Admin.Listen = c.Callback.Listen
		}, "admin.listen"},
		{"empty pid file", func(c *config.Config) { c.Service.PIDFile = "" }, "service.pid_file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tt.mutate(cfg)
			r := New(cfg).Validate()
			if r.Valid {
				t.Fatal("expected invalid")
			}
			if !hasIssue(r.Errors, tt.field) {
				t.Fatalf("expected error on %s, got %v", tt.field, r.Errors)
			}
		})
	}
}

func TestValidate_Warnings(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(c *config.Config)
		field  string
	}{
		{"no corp id", func(c *config.Config) { c.Callback.CorpID = "" }, "callback.corp_id"},
		{"tiny body limit", func(c *config.Config) { c.Callback.MaxBodySize = "1KB" }, "callback.max_body_size"},
		{"plain http remote", func(c *config.Config) { c.Forward.BaseURL = "http://gateway.example:18789" }, "forward.base_url"},
		{"long timeout without dedupe", func(c *config.Config) { c.Forward.Timeout = 8 * time.Second }, "forward.timeout"},
		{"unknown msg type", func(c *config.Config) { c.Callback.AllowedMsgTypes = []string{"text", "txt"} }, "callback.allowed_msg_types[1]"},
		{"unknown log level", func(c *config.Config) { c.Service.LogLevel = "chatty" }, "service.log_level"},
		{"admin without key", func(c *config.Config) { c.Admin.Enabled = true }, "admin.api_key"},
		{"unset env ref", func(c *config.Config) { c.Dedupe.RedisURL = "${WECOM_DOCTOR_UNSET_VAR}" }, "dedupe.redis_url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tt.mutate(cfg)
			r := New(cfg).Validate()
			if !r.Valid {
				t.Fatalf("expected valid, got errors: %v", r.Errors)
			}
			if !hasIssue(r.Warnings, tt.field) {
				t.Fatalf("expected warning on %s, got %v", tt.field, r.Warnings)
			}
		})
	}
}

func TestValidate_LongTimeoutWithDedupe(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Forward.Timeout = 8 * time.Second
	cfg.Dedupe.Enabled = true
	cfg.Dedupe.RedisURL = "redis://localhost:6379/0"

	r := New(cfg).Validate()
	if hasIssue(r.Warnings, "forward.timeout") {
		t.Fatalf("dedupe should silence the timeout warning: %v", r.Warnings)
	}
}

func TestCheck(t *testing.T) {
	t.Parallel()
	if _, err := Check(validConfig()); err != nil {
		t.Fatalf("Check() error: %v", err)
	}

	cfg := validConfig()
	cfg.Forward.Token = ""
	r, err := Check(cfg)
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("Check() error = %v, want ErrInvalid", err)
	}
	if r == nil || r.Valid {
		t.Fatal("expected invalid result")
	}
}

func TestFormatHuman(t *testing.T) {
	t.Parallel()

	if got := FormatHuman(&Result{Valid: true}); got != "Configuration valid.\n" {
		t.Fatalf("unexpected output: %q", got)
	}

	out := FormatHuman(&Result{
		Valid:    false,
		Errors:   []Issue{{Category: "credentials", Field: "callback.token", Message: "required"}},
		Warnings: []Issue{{Category: "callback", Message: "something"}},
	})
	if !strings.Contains(out, "Configuration invalid (1 error(s), 1 warning(s))") {
		t.Fatalf("missing summary: %q", out)
	}
	if !strings.Contains(out, "ERROR [credentials] callback.token: required") {
		t.Fatalf("missing error line: %q", out)
	}
	if !strings.Contains(out, "WARN  [callback] something") {
		t.Fatalf("missing warning line: %q", out)
	}
}

func TestFormatJSON(t *testing.T) {
	t.Parallel()
	out, err := FormatJSON(&Result{Valid: true})
	if err != nil {
		t.Fatal(err)
	}
	var decoded Result
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if !decoded.Valid {
		t.Fatal("expected valid")
	}
}
