package webhook

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mattjoyce/wecom-bridge/internal/events"
	"github.com/mattjoyce/wecom-bridge/internal/forward"
	"github.com/mattjoyce/wecom-bridge/internal/metrics"
	"github.com/mattjoyce/wecom-bridge/internal/wecom"
)

// Server represents the callback HTTP server.
type Server struct {
	config    Config
	codec     Decrypter
	forwarder Forwarder
	guard     ReplayGuard
	events    Publisher
	logger    *slog.Logger
	server    *http.Server

	// allowed is the MsgType allow-list; nil forwards everything
	allowed map[string]bool
	now     func() time.Time
}

// New creates a new callback server instance. guard and pub may be nil.
func New(config Config, codec Decrypter, forwarder Forwarder, guard ReplayGuard, pub Publisher, logger *slog.Logger) *Server {
	// Apply defaults
	if config.MaxBodySize <= 0 {
		config.MaxBodySize = DefaultMaxBodySize
	}
	if config.Path == "" {
		config.Path = DefaultPath
	}
	if config.Source == "" {
		config.Source = DefaultSource
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = DefaultWriteTimeout
	}
	if guard == nil {
		guard = nopGuard{}
	}
	if pub == nil {
		pub = nopPublisher{}
	}

	var allowed map[string]bool
	if len(config.AllowedMsgTypes) > 0 {
		allowed = make(map[string]bool, len(config.AllowedMsgTypes))
		for _, t := range config.AllowedMsgTypes {
			allowed[t] = true
		}
	}

	return &Server{
		config:    config,
		codec:     codec,
		forwarder: forwarder,
		guard:     guard,
		events:    pub,
		logger:    logger,
		allowed:   allowed,
		now:       time.Now,
	}
}

// Handler returns the routed callback handler.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// Start starts the callback HTTP server (blocking).
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:        s.config.Listen,
		Handler:     s.setupRoutes(),
		ReadTimeout: 10 * time.Second,
		// Responses wait for the forward attempt to resolve.
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("callback server starting", "listen", s.config.Listen, "path", s.config.Path)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("callback server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("callback server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("callback server error: %w", err)
	}
}

// setupRoutes configures the HTTP router. The callback path is the only
// route; everything else is a plain-text 404.
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.respondText(w, http.StatusNotFound, bodyNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		s.respondText(w, http.StatusMethodNotAllowed, bodyMethodNotAllowed)
	})

	r.Get(s.config.Path, s.handleHandshake)
	r.Post(s.config.Path, s.handleEvent)

	return r
}

// loggingMiddleware logs and counts requests (excludes payloads).
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		metrics.CallbacksTotal.WithLabelValues(callbackKind(r.Method), strconv.Itoa(ww.Status())).Inc()

		s.logger.Info("callback request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
			"remote_addr", r.RemoteAddr,
		)
	})
}

// recoverMiddleware turns a handler panic into a logged plain-text 500.
func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			s.logger.Error("callback request failed",
				"path", r.URL.Path,
				"request_id", middleware.GetReqID(r.Context()),
				"panic", fmt.Sprint(rec),
				"stack", string(debug.Stack()),
			)
			s.respondText(w, http.StatusInternalServerError, bodyInternalError)
		}()
		next.ServeHTTP(w, r)
	})
}

// handleHandshake answers the GET used to verify the callback URL.
func (s *Server) handleHandshake(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	echoStr := q.Get("echostr")
	if echoStr == "" {
		s.respondText(w, http.StatusOK, bodyLiveness)
		return
	}

	err := wecom.VerifySignature(s.config.Token, q.Get("timestamp"), q.Get("nonce"), echoStr, q.Get("msg_signature"))
	if err != nil {
		s.reject(w, r, http.StatusUnauthorized, bodyInvalidSignature, "signature", err)
		return
	}

	env, err := s.codec.Decrypt(echoStr)
	if err != nil {
		s.reject(w, r, http.StatusBadRequest, bodyInvalidEchoStr, "decrypt", err)
		return
	}

	s.logger.Info("callback handshake verified", "request_id", middleware.GetReqID(r.Context()))
	s.events.Publish(events.TypeHandshake, activity{RequestID: middleware.GetReqID(r.Context())})

	s.respondText(w, http.StatusOK, env.Message)
}

// handleEvent handles event delivery POSTs.
func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reqID := middleware.GetReqID(ctx)
	q := r.URL.Query()

	// Enforce body size limit
	body, err := io.ReadAll(io.LimitReader(r.Body, s.config.MaxBodySize+1))
	if err != nil {
		s.reject(w, r, http.StatusBadRequest, bodyReadFailed, "read", err)
		return
	}
	if int64(len(body)) > s.config.MaxBodySize {
		s.reject(w, r, http.StatusRequestEntityTooLarge, bodyTooLarge, "size", nil)
		return
	}
	metrics.CallbackBytesTotal.Add(float64(len(body)))

	encrypted := wecom.TagValue(string(body), wecom.TagEncrypt)
	if encrypted == "" {
		s.reject(w, r, http.StatusBadRequest, bodyMissingEncrypt, "missing_encrypt", nil)
		return
	}

	signature := q.Get("msg_signature")
	if err := wecom.VerifySignature(s.config.Token, q.Get("timestamp"), q.Get("nonce"), encrypted, signature); err != nil {
		s.reject(w, r, http.StatusUnauthorized, bodyInvalidSignature, "signature", err)
		return
	}

	env, err := s.codec.Decrypt(encrypted)
	if err != nil {
		s.reject(w, r, http.StatusBadRequest, bodyInvalidPayload, "decrypt", err)
		return
	}

	fields := wecom.ExtractTags(env.Message, wecom.MessageTags...)
	ev := forward.Event{
		Source:       s.config.Source,
		ReceivedAt:   s.now().UTC(),
		ReceiveID:    env.ReceiverID,
		MsgType:      fields[wecom.TagMsgType],
		Event:        fields[wecom.TagEvent],
		FromUserName: fields[wecom.TagFromUserName],
		ToUserName:   fields[wecom.TagToUserName],
		CreateTime:   fields[wecom.TagCreateTime],
		Content:      fields[wecom.TagContent],
		MsgID:        fields[wecom.TagMsgID],
		AgentID:      fields[wecom.TagAgentID],
		RawXML:       env.Message,
	}
	act := activity{RequestID: reqID, MsgType: ev.MsgType, Event: ev.Event, AgentID: ev.AgentID}
	s.events.Publish(events.TypeCallbackReceived, act)

	// A replay guard failure must not drop the event, so it fails open.
	seen, err := s.guard.Seen(ctx, replayKey(ev, signature))
	if err != nil {
		s.logger.Warn("replay guard unavailable", "request_id", reqID, "error", err)
	}
	if seen {
		metrics.DuplicatesTotal.Inc()
		s.logger.Info("duplicate callback suppressed", "request_id", reqID, "msg_type", ev.MsgType, "msg_id", ev.MsgID)
		s.events.Publish(events.TypeDuplicate, act)
		s.respondText(w, http.StatusOK, bodySuccess)
		return
	}

	if s.allowed != nil && !s.allowed[ev.MsgType] {
		s.logger.Debug("callback ignored by msg type filter", "request_id", reqID, "msg_type", ev.MsgType)
		s.events.Publish(events.TypeIgnored, act)
		s.respondText(w, http.StatusOK, bodySuccess)
		return
	}

	s.forward(ctx, ev, act)

	// The platform always gets success once decryption worked; a failing
	// downstream must not trigger platform retries.
	s.respondText(w, http.StatusOK, bodySuccess)
}

// forward runs one forward attempt and records its outcome. The attempt
// is detached from the inbound request's cancellation so a platform
// timeout does not abort it; the forwarder applies its own deadline.
func (s *Server) forward(ctx context.Context, ev forward.Event, act activity) {
	start := time.Now()
	err := s.forwarder.Forward(context.WithoutCancel(ctx), ev)
	elapsed := time.Since(start)
	metrics.ForwardDuration.Observe(elapsed.Seconds())
	act.DurationMS = elapsed.Milliseconds()

	if err != nil {
		metrics.ForwardsTotal.WithLabelValues("error").Inc()
		attrs := []any{
			"request_id", act.RequestID,
			"msg_type", ev.MsgType,
			"msg_id", ev.MsgID,
			"duration_ms", act.DurationMS,
			"error", err,
		}
		var se *forward.StatusError
		if errors.As(err, &se) {
			act.Status = se.StatusCode
			attrs = append(attrs, "status", se.StatusCode, "body", se.Body)
		}
		act.Error = err.Error()
		s.logger.Error("forward error", attrs...)
		s.events.Publish(events.TypeForwardFailed, act)
		return
	}

	metrics.ForwardsTotal.WithLabelValues("ok").Inc()
	s.logger.Info("callback forwarded",
		"request_id", act.RequestID,
		"msg_type", ev.MsgType,
		"msg_id", ev.MsgID,
		"duration_ms", act.DurationMS,
	)
	s.events.Publish(events.TypeForwardCompleted, act)
}

// reject logs a refused callback and sends the plain-text error.
func (s *Server) reject(w http.ResponseWriter, r *http.Request, status int, body, reason string, err error) {
	reqID := middleware.GetReqID(r.Context())
	attrs := []any{
		"method", r.Method,
		"path", r.URL.Path,
		"status", status,
		"reason", reason,
		"request_id", reqID,
	}
	if err != nil {
		attrs = append(attrs, "error", err)
	}
	s.logger.Warn("callback rejected", attrs...)
	s.events.Publish(events.TypeCallbackRejected, activity{RequestID: reqID, Status: status, Reason: reason})
	s.respondText(w, status, body)
}

// respondText sends a plain-text response.
func (s *Server) respondText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

// replayKey identifies a message across redeliveries. Messages carry a
// MsgId; events do not, and are identified by sender and creation time.
// The signature is the last resort for bodies carrying neither.
func replayKey(ev forward.Event, signature string) string {
	switch {
	case ev.MsgID != "":
		return "msg:" + ev.MsgID
	case ev.FromUserName != "" && ev.CreateTime != "":
		return "evt:" + ev.FromUserName + ":" + ev.CreateTime
	default:
		return "sig:" + signature
	}
}

func callbackKind(method string) string {
	switch method {
	case http.MethodGet:
		return "handshake"
	case http.MethodPost:
		return "event"
	default:
		return "other"
	}
}

type nopGuard struct{}

func (nopGuard) Seen(context.Context, string) (bool, error) { return false, nil }

type nopPublisher struct{}

func (nopPublisher) Publish(string, any) {}
