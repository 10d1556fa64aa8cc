// Package webhook implements the inbound WeCom callback endpoint.
//
// The server answers on exactly one configured path. Every callback is
// authenticated by its msg_signature before anything is decrypted.
//
// # Request Flow
//
// GET (URL verification handshake):
//
//  1. No echostr: 200 "wecom bridge ok" (liveness probe)
//  2. Signature computed over echostr (reject with 401 if mismatch)
//  3. echostr decrypted (reject with 400 if malformed)
//  4. 200 with the decrypted plaintext
//
// POST (event delivery):
//
//  1. Body size checked (reject with 413 if too large)
//  2. Encrypt tag extracted (reject with 400 if absent)
//  3. Signature computed over the Encrypt value (reject with 401 if mismatch)
//  4. Envelope decrypted (reject with 400 if malformed)
//  5. Message fields extracted into a forward.Event
//  6. Optional replay guard and MsgType filter
//  7. One forward attempt, awaited but never surfaced
//  8. 200 "success"
//
// # Error Responses
//
// All responses are text/plain.
//
// - 400 Bad Request: missing Encrypt or undecryptable ciphertext
// - 401 Unauthorized: invalid signature
// - 404 Not Found: any other path
// - 405 Method Not Allowed: anything but GET or POST on the callback path
// - 413 Payload Too Large: body exceeds max_body_size
// - 500 Internal Server Error: unexpected handler failure
//
// # Example Usage
//
//	codec, _ := wecom.NewCodec(key, corpID)
//	fwd := forward.New(forward.Config{BaseURL: base, Token: hookToken}, nil, logger)
//
//	server := webhook.New(webhook.Config{
//		Listen: "0.0.0.0:18888",
//		Path:   "/wecom/callback",
//		Token:  token,
//	}, codec, fwd, nil, nil, logger)
//	if err := server.Start(ctx); err != nil {
//		log.Fatal(err)
//	}
package webhook
