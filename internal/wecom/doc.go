// Package wecom implements the WeCom callback wire protocol: request
// signatures, the AES-256-CBC message envelope, and tag extraction from the
// XML-like message bodies.
//
// # Signatures
//
// The platform signs every callback with
//
//	msg_signature = hex(sha1(join(sort([token, timestamp, nonce, encrypt]))))
//
// where encrypt is the base64 ciphertext (the Encrypt field for POST, echostr
// for the GET handshake). Verification must pass before anything is
// decrypted.
//
// # Envelope
//
// The ciphertext decrypts to
//
//	[16 random bytes][uint32 big-endian length L][L bytes message][receiver id]
//
// padded PKCS#7-style to a 32-byte boundary. The key is the EncodingAESKey
// base64-decoded with a trailing "=" and the IV is the first 16 bytes of the
// key. The IV reuse is dictated by the platform and kept for compatibility.
//
// # Tags
//
// Message bodies are flat XML. TagValue reads a single top-level element in
// either <Tag>value</Tag> or <Tag><![CDATA[value]]></Tag> form. It is
// deliberately not an XML parser: the same function runs on untrusted
// request bodies before authentication and on decrypted messages after it.
package wecom
