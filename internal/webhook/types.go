package webhook

import (
	"context"
	"time"

	"github.com/mattjoyce/wecom-bridge/internal/forward"
	"github.com/mattjoyce/wecom-bridge/internal/wecom"
)

//go:generate mockgen -destination=mocks/mock_forwarder.go -package=mocks . Forwarder

// Forwarder relays a decrypted event downstream.
type Forwarder interface {
	Forward(ctx context.Context, ev forward.Event) error
}

// Decrypter opens callback envelopes. *wecom.Codec implements it.
type Decrypter interface {
	Decrypt(ciphertext string) (wecom.Envelope, error)
}

// ReplayGuard reports callbacks that were already accepted once.
type ReplayGuard interface {
	Seen(ctx context.Context, key string) (bool, error)
}

// Publisher receives activity notifications.
type Publisher interface {
	Publish(eventType string, data any)
}

// Config holds callback server configuration.
type Config struct {
	// Listen is the host:port the callback server binds.
	Listen string

	// Path is the only URL path the server answers on (e.g. "/wecom/callback").
	Path string

	// Token is the platform verification token used for signatures.
	Token string

	// MaxBodySize is the maximum allowed request body size in bytes (default: 1MB)
	MaxBodySize int64

	// AllowedMsgTypes restricts which MsgType values are forwarded.
	// Empty forwards everything.
	AllowedMsgTypes []string

	// Source tags every forwarded event (default: "wecom-callback").
	Source string

	// WriteTimeout bounds writing a response, including the forward
	// attempt it waits on (default: 60s).
	WriteTimeout time.Duration
}

// activity is the data published for callback activity events.
// It never contains message content or ciphertext.
type activity struct {
	RequestID  string `json:"request_id,omitempty"`
	MsgType    string `json:"msg_type,omitempty"`
	Event      string `json:"event,omitempty"`
	AgentID    string `json:"agent_id,omitempty"`
	Status     int    `json:"status,omitempty"`
	Reason     string `json:"reason,omitempty"`
	DurationMS int64  `json:"duration_ms,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Response bodies
const (
	bodyLiveness         = "wecom bridge ok"
	bodySuccess          = "success"
	bodyNotFound         = "Not Found"
	bodyMethodNotAllowed = "Method Not Allowed"
	bodyInvalidSignature = "Invalid signature"
	bodyMissingEncrypt   = "Missing Encrypt"
	bodyInvalidEchoStr   = "Invalid echostr"
	bodyInvalidPayload   = "Invalid payload"
	bodyReadFailed       = "Failed to read body"
	bodyTooLarge         = "Payload Too Large"
	bodyInternalError    = "Internal Server Error"
)

// Default values
const (
	DefaultMaxBodySize  = 1048576 // 1 MB
	DefaultPath         = "/wecom/callback"
	DefaultSource       = "wecom-callback"
	DefaultWriteTimeout = 60 * time.Second

	// writeTimeoutMargin is added to the forward timeout so the response
	// is still writable once the forward attempt gives up.
	writeTimeoutMargin = 10 * time.Second
)

// WriteTimeoutFor returns the server write timeout needed when responses
// wait for a forward bounded by forwardTimeout.
func WriteTimeoutFor(forwardTimeout time.Duration) time.Duration {
	return max(DefaultWriteTimeout, forwardTimeout+writeTimeoutMargin)
}
