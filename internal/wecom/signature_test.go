package wecom

import (
	"testing"
)

func TestSignature(t *testing.T) {
	sig := Signature("t1", "1700000000", "n1", "cipher")

	// SHA-1 = 20 bytes = 40 lowercase hex chars
	if len(sig) != 40 {
		t.Fatalf("signature length = %d, want 40", len(sig))
	}
	for _, c := range sig {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			t.Fatalf("signature %q is not lowercase hex", sig)
		}
	}

	if again := Signature("t1", "1700000000", "n1", "cipher"); again != sig {
		t.Error("signature should be deterministic")
	}
}

func TestSignature_OrderIndependent(t *testing.T) {
	want := Signature("t1", "1700000000", "n1", "cipher")

	perms := [][4]string{
		{"cipher", "n1", "1700000000", "t1"},
		{"n1", "t1", "cipher", "1700000000"},
		{"1700000000", "cipher", "t1", "n1"},
	}
	for _, p := range perms {
		if got := Signature(p[0], p[1], p[2], p[3]); got != want {
			t.Errorf("Signature(%v) = %s, want %s", p, got, want)
		}
	}
}

func TestVerifySignature(t *testing.T) {
	token, ts, nonce, payload := "t1", "1700000000", "n1", "Zm9vYmFy"
	valid := Signature(token, ts, nonce, payload)

	tests := []struct {
		name      string
		token     string
		timestamp string
		nonce     string
		payload   string
		signature string
		wantErr   bool
	}{
		{
			name:      "valid signature",
			token:     token,
			timestamp: ts,
			nonce:     nonce,
			payload:   payload,
			signature: valid,
		},
		{
			name:      "empty signature",
			token:     token,
			timestamp: ts,
			nonce:     nonce,
			payload:   payload,
			signature: "",
			wantErr:   true,
		},
		{
			name:      "wrong token",
			token:     "t2",
			timestamp: ts,
			nonce:     nonce,
			payload:   payload,
			signature: valid,
			wantErr:   true,
		},
		{
			name:      "tampered payload",
			token:     token,
			timestamp: ts,
			nonce:     nonce,
			payload:   payload + "x",
			signature: valid,
			wantErr:   true,
		},
		{
			name:      "uppercase hex is not accepted",
			token:     token,
			timestamp: ts,
			nonce:     nonce,
			payload:   payload,
			signature: upperHex(valid),
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := VerifySignature(tt.token, tt.timestamp, tt.nonce, tt.payload, tt.signature)
			if (err != nil) != tt.wantErr {
				t.Errorf("VerifySignature() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && err != ErrInvalidSignature {
				t.Errorf("error should be ErrInvalidSignature, got: %v", err)
			}
		})
	}
}

func TestVerifySignature_SingleBitMutations(t *testing.T) {
	token, ts, nonce, payload := "t1", "1700000000", "n1", "Zm9vYmFy"
	sig := Signature(token, ts, nonce, payload)

	for i := 0; i < len(sig); i++ {
		for bit := 0; bit < 8; bit++ {
			mutated := flipBit(sig, i, bit)
			if err := VerifySignature(token, ts, nonce, payload, mutated); err == nil {
				t.Fatalf("signature mutated at byte %d bit %d was accepted", i, bit)
			}
		}
	}

	for i := 0; i < len(ts); i++ {
		for bit := 0; bit < 8; bit++ {
			if err := VerifySignature(token, flipBit(ts, i, bit), nonce, payload, sig); err == nil {
				t.Fatalf("timestamp mutated at byte %d bit %d was accepted", i, bit)
			}
		}
	}

	for i := 0; i < len(nonce); i++ {
		for bit := 0; bit < 8; bit++ {
			if err := VerifySignature(token, ts, flipBit(nonce, i, bit), payload, sig); err == nil {
				t.Fatalf("nonce mutated at byte %d bit %d was accepted", i, bit)
			}
		}
	}
}

func flipBit(s string, i, bit int) string {
	b := []byte(s)
	b[i] ^= 1 << bit
	return string(b)
}

func upperHex(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'f' {
			b[i] = c - 'a' + 'A'
		}
	}
	return string(b)
}
