package wecom

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	// KeySize is the length of the decoded EncodingAESKey.
	KeySize = 32

	// padBlockSize is the PKCS#7 block the platform pads to. It is larger
	// than the AES block size.
	padBlockSize = 32

	randomPrefixLen = 16
	lengthFieldLen  = 4
	headerLen       = randomPrefixLen + lengthFieldLen
)

var (
	// ErrMalformedCiphertext covers every structural decode failure: bad
	// base64, misaligned ciphertext, truncated or inconsistent envelopes.
	ErrMalformedCiphertext = errors.New("malformed ciphertext")

	// ErrReceiverMismatch is returned when the envelope names a receiver
	// other than the one the codec was configured for.
	ErrReceiverMismatch = errors.New("receiver id mismatch")

	// ErrInvalidKey is returned when key material does not decode to
	// exactly KeySize bytes.
	ErrInvalidKey = errors.New("invalid encoding aes key")
)

// Envelope is the decoded content of a callback ciphertext.
type Envelope struct {
	Message    string
	ReceiverID string
}

// Codec encrypts and decrypts callback envelopes with a single static key.
// It holds no mutable state and is safe for concurrent use.
type Codec struct {
	block      cipher.Block
	iv         []byte
	receiverID string
	rand       io.Reader
}

// DecodeKey turns a configured 43-character EncodingAESKey into raw key
// bytes. The platform omits the trailing base64 padding character; a key
// pasted with its padding already present is accepted too.
func DecodeKey(encodingAESKey string) ([]byte, error) {
	trimmed := strings.TrimSuffix(strings.TrimSpace(encodingAESKey), "=")
	key, err := base64.StdEncoding.DecodeString(trimmed + "=")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: decoded to %d bytes, want %d", ErrInvalidKey, len(key), KeySize)
	}
	return key, nil
}

// NewCodec creates a codec for key. If receiverID is non-empty, Decrypt
// rejects envelopes addressed to any other receiver and Encrypt stamps it
// into new envelopes.
func NewCodec(key []byte, receiverID string) (*Codec, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidKey, len(key), KeySize)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	iv := make([]byte, aes.BlockSize)
	copy(iv, key[:aes.BlockSize])

	return &Codec{
		block:      block,
		iv:         iv,
		receiverID: receiverID,
		rand:       rand.Reader,
	}, nil
}

// Decrypt decodes a base64 ciphertext into its envelope.
// Any input, however malformed, yields an error rather than a panic.
func (c *Codec) Decrypt(ciphertext string) (Envelope, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: base64: %v", ErrMalformedCiphertext, err)
	}
	if len(raw) == 0 || len(raw)%aes.BlockSize != 0 {
		return Envelope{}, fmt.Errorf("%w: length %d is not a multiple of the block size", ErrMalformedCiphertext, len(raw))
	}

	plain := make([]byte, len(raw))
	cipher.NewCBCDecrypter(c.block, c.iv).CryptBlocks(plain, raw)
	plain = unpad(plain)

	if len(plain) < headerLen {
		return Envelope{}, fmt.Errorf("%w: envelope truncated (%d bytes)", ErrMalformedCiphertext, len(plain))
	}

	msgLen := binary.BigEndian.Uint32(plain[randomPrefixLen:headerLen])
	if uint64(msgLen) > uint64(len(plain)-headerLen) {
		return Envelope{}, fmt.Errorf("%w: declared length %d exceeds %d available bytes",
			ErrMalformedCiphertext, msgLen, len(plain)-headerLen)
	}

	end := headerLen + int(msgLen)
	env := Envelope{
		Message:    string(plain[headerLen:end]),
		ReceiverID: string(plain[end:]),
	}

	if c.receiverID != "" && env.ReceiverID != c.receiverID {
		return Envelope{}, ErrReceiverMismatch
	}
	return env, nil
}

// Encrypt builds an envelope around message and returns it as base64.
func (c *Codec) Encrypt(message string) (string, error) {
	prefix := make([]byte, randomPrefixLen)
	if _, err := io.ReadFull(c.rand, prefix); err != nil {
		return "", fmt.Errorf("read random prefix: %w", err)
	}

	var buf bytes.Buffer
	buf.Grow(headerLen + len(message) + len(c.receiverID) + padBlockSize)
	buf.Write(prefix)
	_ = binary.Write(&buf, binary.BigEndian, uint32(len(message)))
	buf.WriteString(message)
	buf.WriteString(c.receiverID)

	plain := pad(buf.Bytes())
	out := make([]byte, len(plain))
	cipher.NewCBCEncrypter(c.block, c.iv).CryptBlocks(out, plain)

	return base64.StdEncoding.EncodeToString(out), nil
}

// pad applies PKCS#7 padding to a padBlockSize boundary. A full block is
// added when b is already aligned.
func pad(b []byte) []byte {
	n := padBlockSize - len(b)%padBlockSize
	return append(b, bytes.Repeat([]byte{byte(n)}, n)...)
}

// unpad strips PKCS#7 padding using the last byte as the pad length. A pad
// byte of zero or one larger than padBlockSize (or than the buffer) leaves
// the buffer untouched.
func unpad(b []byte) []byte {
	if len(b) == 0 {
		return b
	}
	n := int(b[len(b)-1])
	if n == 0 || n > padBlockSize || n > len(b) {
		return b
	}
	return b[:len(b)-n]
}
