package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// ValidSignature checks a delivery's X-Hub-Signature-256 header against the
// shared secret. Header format: "sha256=" + hex(hmac-sha256(payload)).
func ValidSignature(payload []byte, header, secret string) bool {
	hexSig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	signature, err := hex.DecodeString(hexSig)
	if err != nil {
		return false
	}

	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hmac.Equal(signature, h.Sum(nil))
}

// Sign computes the X-Hub-Signature-256 header value for a payload. Used by
// tests and local delivery tooling.
func Sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}
