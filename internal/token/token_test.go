package token

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAccessDecode(t *testing.T) {
	c := NewCodec("test-secret")

	tok, err := c.IssueAccess(42)
	require.NoError(t, err)

	claims, ok := c.Decode(tok)
	require.True(t, ok)
	assert.Equal(t, int64(42), claims.UserID)
	assert.False(t, claims.Refresh)
}

func TestIssueRefreshDecode(t *testing.T) {
	c := NewCodec("test-secret")

	tok, err := c.IssueRefresh(7)
	require.NoError(t, err)

	claims, ok := c.Decode(tok)
	require.True(t, ok)
	assert.Equal(t, int64(7), claims.UserID)
	assert.True(t, claims.Refresh)
}

func TestAccessTokenCarriesNoTypeClaim(t *testing.T) {
	c := NewCodec("test-secret")

	tok, err := c.IssueAccess(1)
	require.NoError(t, err)

	parsed, err := jwt.Parse(tok, func(*jwt.Token) (any, error) {
		return []byte("test-secret"), nil
	})
	require.NoError(t, err)

	claims := parsed.Claims.(jwt.MapClaims)
	_, present := claims["type"]
	assert.False(t, present)
	assert.Equal(t, "1", claims["sub"])
}

func TestDecodeWrongSecret(t *testing.T) {
	tok, err := NewCodec("secret-a").IssueAccess(1)
	require.NoError(t, err)

	_, ok := NewCodec("secret-b").Decode(tok)
	assert.False(t, ok)
}

func TestDecodeExpired(t *testing.T) {
	c := NewCodec("test-secret", WithAccessTTL(-time.Minute))

	tok, err := c.IssueAccess(1)
	require.NoError(t, err)

	_, ok := c.Decode(tok)
	assert.False(t, ok)
}

func TestDecodeGarbage(t *testing.T) {
	c := NewCodec("test-secret")

	for _, tok := range []string{"", "not-a-jwt", "a.b.c"} {
		_, ok := c.Decode(tok)
		assert.False(t, ok, "token %q should not decode", tok)
	}
}

func TestDecodeRejectsNonHMAC(t *testing.T) {
	// An unsigned token must never pass, even if its payload is plausible.
	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sub": "1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	tok, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, ok := NewCodec("test-secret").Decode(tok)
	assert.False(t, ok)
}

func TestRoundTripPreservesSubject(t *testing.T) {
	c := NewCodec("test-secret")

	tok, err := c.IssueAccess(99)
	require.NoError(t, err)
	claims, ok := c.Decode(tok)
	require.True(t, ok)

	again, err := c.IssueAccess(claims.UserID)
	require.NoError(t, err)
	claims2, ok := c.Decode(again)
	require.True(t, ok)
	assert.Equal(t, claims.UserID, claims2.UserID)
}
