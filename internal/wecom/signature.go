package wecom

import (
	"crypto/sha1"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"sort"
	"strings"
)

// ErrInvalidSignature is returned for a missing or mismatching msg_signature.
// It is deliberately generic so responses leak nothing about the cause.
var ErrInvalidSignature = errors.New("invalid signature")

// Signature computes the callback signature for the given values.
// The four strings are sorted by value before hashing, so argument order
// does not matter.
func Signature(token, timestamp, nonce, payload string) string {
	parts := []string{token, timestamp, nonce, payload}
	sort.Strings(parts)

	sum := sha1.Sum([]byte(strings.Join(parts, "")))
	return hex.EncodeToString(sum[:])
}

// VerifySignature checks received against the expected signature using a
// constant-time comparison.
func VerifySignature(token, timestamp, nonce, payload, received string) error {
	if received == "" {
		return ErrInvalidSignature
	}

	expected := Signature(token, timestamp, nonce, payload)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(received)) != 1 {
		return ErrInvalidSignature
	}
	return nil
}
