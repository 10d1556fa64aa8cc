package forward

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestForward_Success(t *testing.T) {
	var got Event
	var gotAuth, gotType, gotReqID string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/hooks/wecom", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		gotType = r.Header.Get("Content-Type")
		gotReqID = r.Header.Get("X-Request-ID")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL + "/", Token: "hook-token"}, srv.Client(), testLogger())

	ev := Event{
		Source:     "wecom-callback",
		ReceivedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		ReceiveID:  "corp",
		MsgType:    "text",
		Content:    "hello",
		RawXML:     "<xml/>",
	}
	require.NoError(t, c.Forward(context.Background(), ev))

	assert.Equal(t, "Bearer hook-token", gotAuth)
	assert.Equal(t, "application/json", gotType)
	assert.NotEmpty(t, gotReqID)
	assert.Equal(t, ev, got)
}

func TestForward_JSONFieldNames(t *testing.T) {
	data, err := json.Marshal(Event{MsgType: "text", MsgID: "1", AgentID: "2", ReceiveID: "c", RawXML: "<x/>"})
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	for _, key := range []string{
		"source", "receivedAt", "receiveId", "MsgType", "Event", "FromUserName",
		"ToUserName", "CreateTime", "Content", "MsgId", "AgentID", "rawXml",
	} {
		assert.Contains(t, m, key)
	}
}

func TestForward_Non2xx(t *testing.T) {
	long := strings.Repeat("e", 1000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = io.WriteString(w, long)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Path: "/hook", Token: "x"}, srv.Client(), testLogger())
	err := c.Forward(context.Background(), Event{})
	require.Error(t, err)

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadGateway, se.StatusCode)
	assert.Len(t, se.Body, maxErrorBody)
}

func TestForward_Non2xxKeepsWholeCharacters(t *testing.T) {
	long := strings.Repeat("错", 500)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, long)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Token: "x"}, srv.Client(), testLogger())
	err := c.Forward(context.Background(), Event{})

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.True(t, utf8.ValidString(se.Body))
	assert.Equal(t, maxErrorBody, utf8.RuneCountInString(se.Body))
	assert.Equal(t, strings.Repeat("错", maxErrorBody), se.Body)
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "", truncateRunes("", 3))
	assert.Equal(t, "abc", truncateRunes("abc", 3))
	assert.Equal(t, "ab", truncateRunes("abc", 2))
	assert.Equal(t, "中文", truncateRunes("中文消息", 2))
}

func TestForward_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := New(Config{BaseURL: srv.URL, Token: "x", Timeout: 50 * time.Millisecond}, srv.Client(), testLogger())

	start := time.Now()
	err := c.Forward(context.Background(), Event{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestForward_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := New(Config{BaseURL: url, Token: "x"}, nil, testLogger())
	err := c.Forward(context.Background(), Event{})
	require.Error(t, err)
}

func TestNew_AppliesDefaults(t *testing.T) {
	c := New(Config{BaseURL: "http://127.0.0.1:18789"}, nil, testLogger())
	assert.Equal(t, DefaultTimeout, c.config.Timeout)
	assert.Equal(t, DefaultPath, c.config.Path)
	assert.Equal(t, "http://127.0.0.1:18789/hooks/wecom", c.config.URL())
}
