package webhook

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/wecom-bridge/internal/config"
)

func TestFromGlobalConfig(t *testing.T) {
	cfg := config.Defaults()
	cfg.Callback.Path = "wecom//callback/"
	cfg.Callback.MaxBodySize = "64KB"
	cfg.Callback.AllowedMsgTypes = []string{"text"}

	wc, err := FromGlobalConfig(cfg)
	require.NoError(t, err)

	assert.Equal(t, "/wecom/callback", wc.Path)
	assert.Equal(t, int64(64<<10), wc.MaxBodySize)
	assert.Equal(t, []string{"text"}, wc.AllowedMsgTypes)
	assert.Equal(t, DefaultSource, wc.Source)
	assert.Equal(t, DefaultWriteTimeout, wc.WriteTimeout)
}

func TestFromGlobalConfig_WriteTimeoutCoversForward(t *testing.T) {
	tests := []struct {
		forward time.Duration
		want    time.Duration
	}{
		{8 * time.Second, DefaultWriteTimeout},
		{50 * time.Second, DefaultWriteTimeout},
		{60 * time.Second, 70 * time.Second},
		{5 * time.Minute, 5*time.Minute + 10*time.Second},
	}
	for _, tt := range tests {
		cfg := config.Defaults()
		cfg.Forward.Timeout = tt.forward

		wc, err := FromGlobalConfig(cfg)
		require.NoError(t, err)
		assert.Equal(t, tt.want, wc.WriteTimeout, "forward timeout %v", tt.forward)
		assert.Greater(t, wc.WriteTimeout, tt.forward)
	}
}

func TestFromGlobalConfig_Errors(t *testing.T) {
	_, err := FromGlobalConfig(nil)
	assert.Error(t, err)

	cfg := config.Defaults()
	cfg.Callback.MaxBodySize = "lots"
	_, err = FromGlobalConfig(cfg)
	assert.Error(t, err)
}
