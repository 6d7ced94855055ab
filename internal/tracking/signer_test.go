package tracking

import (
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignerRoundTrip(t *testing.T) {
	s := NewSigner("secret")
	sig := s.Sign("https://example.test/page?a=1&b=2", "abc123")
	assert.Len(t, sig, 16)
	assert.True(t, s.Verify("https://example.test/page?a=1&b=2", "abc123", sig))
}

func TestSignerRejectsTampering(t *testing.T) {
	s := NewSigner("secret")
	sig := s.Sign("https://example.test/safe", "abc123")
	assert.False(t, s.Verify("https://evil.test/", "abc123", sig))
	assert.False(t, s.Verify("https://example.test/safe", "otherhash", sig))
	assert.False(t, NewSigner("otherkey").Verify("https://example.test/safe", "abc123", sig))
}

func TestClickURLCarriesParams(t *testing.T) {
	s := NewSigner("secret")
	raw := s.ClickURL("https://track.acme.test/", "https://example.test/page?a=1&b=2", "abc123")
	require.True(t, strings.HasPrefix(raw, "https://track.acme.test/n?"))

	u, err := url.Parse(raw)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "https://example.test/page?a=1&b=2", q.Get("l"))
	assert.Equal(t, "abc123", q.Get("h"))
	assert.True(t, s.Verify(q.Get("l"), q.Get("h"), q.Get("s")))
}
