package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mattjoyce/wecom-bridge/internal/wecom"
)

// ErrMissingCredential is returned when a required secret is unset.
var ErrMissingCredential = errors.New("missing credential")

// Credentials are the decoded secrets the bridge needs to serve.
type Credentials struct {
	Token        string
	Key          []byte
	ReceiverID   string
	ForwardToken string
}

// Credentials checks that every required secret is present and decodes the
// AES key. All problems are reported together.
func (c *Config) Credentials() (*Credentials, error) {
	var errs []error

	required := []struct {
		name  string
		env   string
		value string
	}{
		{"callback.token", "WECOM_CALLBACK_TOKEN", c.Callback.Token},
		{"callback.encoding_aes_key", "WECOM_CALLBACK_AES_KEY", c.Callback.EncodingAESKey},
		{"forward.token", "OPENCLAW_HOOK_TOKEN", c.Forward.Token},
	}
	for _, r := range required {
		if isUnset(r.value) {
			errs = append(errs, fmt.Errorf("%w: %s (env %s)", ErrMissingCredential, r.name, r.env))
		}
	}

	var key []byte
	if !isUnset(c.Callback.EncodingAESKey) {
		k, err := wecom.DecodeKey(c.Callback.EncodingAESKey)
		if err != nil {
			errs = append(errs, fmt.Errorf("callback.encoding_aes_key: %w", err))
		}
		key = k
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	return &Credentials{
		Token:        c.Callback.Token,
		Key:          key,
		ReceiverID:   c.Callback.CorpID,
		ForwardToken: c.Forward.Token,
	}, nil
}

// isUnset treats an empty value or an unresolved ${VAR} placeholder as unset.
func isUnset(v string) bool {
	v = strings.TrimSpace(v)
	return v == "" || envVarPattern.MatchString(v)
}
