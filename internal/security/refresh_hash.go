package security

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
)

// RefreshHasher stores refresh secrets as keyed HMAC-SHA256 digests, so a leaked sessions
// table cannot be replayed without the key.
type RefreshHasher struct {
	key []byte
}

// NewRefreshHasher returns a hasher keyed with key. An empty key gets a random per-process
// key, which invalidates stored sessions on restart.
func NewRefreshHasher(key []byte) (*RefreshHasher, error) {
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, err
		}
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &RefreshHasher{key: k}, nil
}

// Hash returns the hex HMAC of secret.
func (h *RefreshHasher) Hash(secret string) string {
	mac := hmac.New(sha256.New, h.key)
	mac.Write([]byte(secret))
	return hex.EncodeToString(mac.Sum(nil))
}

// GenerateRefreshSecret returns 32 random bytes, base64url encoded.
func GenerateRefreshSecret() (string, error) {
	return randomToken(32)
}

func randomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
