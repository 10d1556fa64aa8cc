// Package forward relays normalized callback events to the downstream hook.
package forward

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Default values
const (
	DefaultTimeout = 8 * time.Second
	DefaultPath    = "/hooks/wecom"

	// maxErrorBody caps how many characters of a failed response are kept
	// for logs.
	maxErrorBody = 300
)

// Event is the normalized form of one decrypted callback message.
// Field names are part of the downstream contract.
type Event struct {
	Source       string    `json:"source"`
	ReceivedAt   time.Time `json:"receivedAt"`
	ReceiveID    string    `json:"receiveId"`
	MsgType      string    `json:"MsgType"`
	Event        string    `json:"Event"`
	FromUserName string    `json:"FromUserName"`
	ToUserName   string    `json:"ToUserName"`
	CreateTime   string    `json:"CreateTime"`
	Content      string    `json:"Content"`
	MsgID        string    `json:"MsgId"`
	AgentID      string    `json:"AgentID"`
	RawXML       string    `json:"rawXml"`
}

// Config holds downstream hook settings.
type Config struct {
	BaseURL   string
	Path      string
	Token     string
	Timeout   time.Duration
	UserAgent string
}

// URL returns the full hook URL.
func (c Config) URL() string {
	return strings.TrimRight(c.BaseURL, "/") + c.Path
}

// StatusError is returned when the hook answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("forward failed %d: %s", e.StatusCode, e.Body)
}

// Client posts events to the downstream hook.
type Client struct {
	config Config
	http   *http.Client
	logger *slog.Logger
}

// New creates a forwarding client. A nil httpClient uses a fresh
// http.Client; the per-call timeout comes from the context, not the client.
func New(config Config, httpClient *http.Client, logger *slog.Logger) *Client {
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.Path == "" {
		config.Path = DefaultPath
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		config: config,
		http:   httpClient,
		logger: logger,
	}
}

// Forward sends ev to the hook once. The call is aborted when the configured
// timeout elapses or ctx is cancelled, whichever comes first.
func (c *Client) Forward(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.URL(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build forward request: %w", err)
	}

	requestID := uuid.NewString()
	req.Header.Set("Authorization", "Bearer "+c.config.Token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("forward request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody*utf8.UTFMax))
		return &StatusError{StatusCode: resp.StatusCode, Body: truncateRunes(string(text), maxErrorBody)}
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	c.logger.Debug("event forwarded",
		"url", c.config.URL(),
		"status", resp.StatusCode,
		"request_id", requestID,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// truncateRunes keeps the first n characters of s.
func truncateRunes(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
