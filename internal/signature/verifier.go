// Package signature validates that inbound webhook deliveries originated from
// the trusted CRM, using an HMAC-SHA256 digest over the raw request body.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Sign computes the hex-encoded HMAC-SHA256 digest of body.
func (v *Verifier) Sign(body []byte) string {
	h := hmac.New(sha256.New, v.secret)
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// Verify checks header against the digest of the exact raw body bytes. The
// digest must be computed before any JSON parsing so canonicalization cannot
// shift the signed bytes. An optional "sha256=" prefix on the header is
// accepted. Comparison is constant-time.
func (v *Verifier) Verify(body []byte, header string) bool {
	header = strings.TrimPrefix(strings.TrimSpace(header), "sha256=")
	if header == "" {
		return false
	}

	provided, err := hex.DecodeString(header)
	if err != nil {
		return false
	}

	h := hmac.New(sha256.New, v.secret)
	h.Write(body)
	return hmac.Equal(h.Sum(nil), provided)
}
