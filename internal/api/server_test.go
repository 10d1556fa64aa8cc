package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mattjoyce/wecom-bridge/internal/events"
	"github.com/mattjoyce/wecom-bridge/internal/metrics"
)

const testAPIKey = "test-key-123"

func newTestServer(hub *events.Hub) *Server {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(Config{
		Listen:       "127.0.0.1:0",
		APIKey:       testAPIKey,
		Version:      "v0.0.0-test",
		CallbackPath: "/wecom/callback",
	}, hub, logger)
}

type streamWriter struct {
	mu     sync.Mutex
	header http.Header
	buf    bytes.Buffer
	status int
}

func newStreamWriter() *streamWriter {
	return &streamWriter{header: make(http.Header)}
}

func (w *streamWriter) Header() http.Header { return w.header }

func (w *streamWriter) WriteHeader(statusCode int) {
	w.mu.Lock()
	w.status = statusCode
	w.mu.Unlock()
}

func (w *streamWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}

func (w *streamWriter) Flush() {}

func (w *streamWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.String()
}

func waitFor(t *testing.T, w *streamWriter, want string) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(w.String(), want) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected %q in stream, got: %q", want, w.String())
}

func TestHandleHealthz_NoAuth(t *testing.T) {
	server := newTestServer(nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var resp HealthzResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "ok" {
		t.Fatalf("status = %q, want ok", resp.Status)
	}
	if resp.Version != "v0.0.0-test" || resp.CallbackPath != "/wecom/callback" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestHandleMetrics(t *testing.T) {
	server := newTestServer(nil)
	metrics.DuplicatesTotal.Inc()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "wecom_bridge_duplicates_total") {
		t.Fatalf("duplicate counter missing from metrics output")
	}
}

func TestHandleEvents_Unauthorized(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"no header", ""},
		{"wrong key", "Bearer nope"},
		{"basic auth", "Basic abc"},
	}

	server := newTestServer(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/events", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			server.Handler().ServeHTTP(rr, req)

			if rr.Code != http.StatusUnauthorized {
				t.Fatalf("expected status 401, got %d", rr.Code)
			}
		})
	}
}

func TestHandleEvents_EmptyKeyLocksStream(t *testing.T) {
	server := newTestServer(nil)
	server.config.APIKey = ""

	req := httptest.NewRequest(http.MethodGet, "/events", nil)
	req.Header.Set("Authorization", "Bearer anything")
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}

func TestHandleEvents_ReplaysAndStreams(t *testing.T) {
	hub := events.NewHub(16)
	server := newTestServer(hub)
	hub.Publish(events.TypeCallbackReceived, map[string]any{"msg_type": "text"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer "+testAPIKey)

	w := newStreamWriter()
	done := make(chan struct{})
	go func() {
		server.Handler().ServeHTTP(w, req)
		close(done)
	}()

	waitFor(t, w, "event: callback.received\n")
	if !strings.Contains(w.String(), "id: 1\n") {
		t.Fatalf("expected id line, got: %q", w.String())
	}
	if !strings.Contains(w.String(), `data: {"msg_type":"text"}`+"\n\n") {
		t.Fatalf("expected data line, got: %q", w.String())
	}

	hub.Publish(events.TypeForwardFailed, map[string]any{"status": 502})
	waitFor(t, w, "event: forward.failed\n")

	if n := strings.Count(w.String(), "event: callback.received\n"); n != 1 {
		t.Fatalf("replayed event delivered %d times", n)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("stream did not exit after context cancel")
	}
}

func TestHandleEvents_LastEventID(t *testing.T) {
	hub := events.NewHub(16)
	server := newTestServer(hub)
	hub.Publish(events.TypeHandshake, nil)
	hub.Publish(events.TypeDuplicate, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	req.Header.Set("Last-Event-ID", "1")

	w := newStreamWriter()
	done := make(chan struct{})
	go func() {
		server.Handler().ServeHTTP(w, req)
		close(done)
	}()

	waitFor(t, w, "event: callback.duplicate\n")
	if strings.Contains(w.String(), "callback.handshake") {
		t.Fatalf("event before Last-Event-ID replayed: %q", w.String())
	}

	cancel()
	<-done
}

func TestParseLastEventID(t *testing.T) {
	tests := map[string]int64{"": 0, "7": 7, "-1": 0, "abc": 0}
	for in, want := range tests {
		if got := parseLastEventID(in); got != want {
			t.Errorf("parseLastEventID(%q) = %d, want %d", in, got, want)
		}
	}
}
