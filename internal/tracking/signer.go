// Package tracking injects engagement tracking into outgoing email and
// correlates opens, clicks, and provider webhooks back to messages.
package tracking

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
)

// Signer makes click-redirect URLs tamper evident so the public
// endpoint never becomes an open redirect.
type Signer struct {
	key []byte
}

// NewSigner creates a signer over the shared HMAC key.
func NewSigner(key string) *Signer {
	return &Signer{key: []byte(key)}
}

// Sign returns the signature covering a destination and hash pair.
func (s *Signer) Sign(destination, hash string) string {
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(destination))
	mac.Write([]byte{'|'})
	mac.Write([]byte(hash))
	return hex.EncodeToString(mac.Sum(nil))[:16]
}

// Verify checks a signature in constant time.
func (s *Signer) Verify(destination, hash, sig string) bool {
	return hmac.Equal([]byte(s.Sign(destination, hash)), []byte(sig))
}

// ClickURL builds the public redirect URL for a link target.
func (s *Signer) ClickURL(baseURL, destination, hash string) string {
	v := url.Values{}
	v.Set("l", destination)
	v.Set("h", hash)
	v.Set("s", s.Sign(destination, hash))
	return strings.TrimRight(baseURL, "/") + "/n?" + v.Encode()
}
