package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SignatureHeader carries the HMAC-SHA256 of the raw request body,
// formatted "sha256=<hex>".
const SignatureHeader = "X-Signature"

// Sign computes the signature header value for a body.
func Sign(secret string, body []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(body)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}

// VerifySignature checks a presented signature against the body using a
// constant-time comparison.
func VerifySignature(secret string, body []byte, presented string) bool {
	presented = strings.TrimSpace(presented)
	if !strings.HasPrefix(presented, "sha256=") {
		return false
	}
	return hmac.Equal([]byte(Sign(secret, body)), []byte(presented))
}
