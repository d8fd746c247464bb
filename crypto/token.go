package crypto

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// NewWebhookToken returns a 32-byte URL-safe token for authenticating
// webhook callbacks.
func NewWebhookToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate webhook token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// TokensEqual compares tokens in constant time.
func TokensEqual(expected, provided string) bool {
	return hmac.Equal([]byte(expected), []byte(provided))
}

// VerifyHMACSHA256 checks the hex digest of an HMAC-SHA256 over the raw
// request body. The header value may carry a "sha256=" prefix.
func VerifyHMACSHA256(secret string, body []byte, providedSig string) bool {
	if secret == "" {
		return false
	}
	provided := normalizeSignature(providedSig)
	if provided == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(provided))
}

func normalizeSignature(sig string) string {
	s := strings.TrimSpace(sig)
	if idx := strings.IndexByte(s, '='); idx >= 0 {
		return strings.TrimSpace(s[idx+1:])
	}
	return s
}
