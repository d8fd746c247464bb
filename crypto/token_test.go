package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewWebhookToken(t *testing.T) {
	tok, err := NewWebhookToken()
	require.NoError(t, err)
	require.Len(t, tok, 43) // 32 bytes, unpadded base64url
	tok2, err := NewWebhookToken()
	require.NoError(t, err)
	require.NotEqual(t, tok, tok2)
}

func TestVerifyHMACSHA256(t *testing.T) {
	secret := "shh"
	body := []byte(`{"videoNo":"abc"}`)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	digest := hex.EncodeToString(mac.Sum(nil))

	require.True(t, VerifyHMACSHA256(secret, body, digest))
	require.True(t, VerifyHMACSHA256(secret, body, "sha256="+digest))
	require.False(t, VerifyHMACSHA256(secret, body, "sha256=deadbeef"))
	require.False(t, VerifyHMACSHA256("", body, digest))
	require.False(t, VerifyHMACSHA256(secret, body, ""))
	require.False(t, VerifyHMACSHA256(secret, []byte("tampered"), digest))
}

func TestTokensEqual(t *testing.T) {
	require.True(t, TokensEqual("abc", "abc"))
	require.False(t, TokensEqual("abc", "abd"))
	require.False(t, TokensEqual("", "abc"))
}
