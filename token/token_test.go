package token

import (
	"testing"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIssuer(t *testing.T, ttl time.Duration) *Issuer {
	t.Helper()
	key, err := GenerateKey()
	require.NoError(t, err)
	iss, err := NewIssuer("https://auth.example.com", key, ttl, 5*time.Second)
	require.NoError(t, err)
	return iss
}

func TestIssueAndVerify(t *testing.T) {
	iss := newTestIssuer(t, time.Hour)

	raw, jti, exp, err := iss.Issue("client-123", "Test App", "read write")
	require.NoError(t, err)
	assert.NotEmpty(t, jti)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, 5*time.Second)

	claims, err := iss.Verify(raw)
	require.NoError(t, err)
	assert.Equal(t, "client-123", claims.Subject)
	assert.Equal(t, "Test App", claims.ClientName)
	assert.Equal(t, "read write", claims.Scope)
	assert.Equal(t, jti, claims.ID)
	assert.Equal(t, "https://auth.example.com", claims.Issuer)
}

func TestVerifyMalformed(t *testing.T) {
	iss := newTestIssuer(t, time.Hour)

	for _, raw := range []string{"", "not-a-jwt", "a.b", "a.b.c.d"} {
		_, err := iss.Verify(raw)
		assert.ErrorIs(t, err, ErrMalformed, "input %q", raw)
	}

	// Three dot-separated garbage segments are structurally a JWT but
	// must still fail as malformed, not as a signature error.
	_, err := iss.Verify("xx.yy.zz")
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestVerifyWrongKey(t *testing.T) {
	iss := newTestIssuer(t, time.Hour)
	other := newTestIssuer(t, time.Hour)

	raw, _, _, err := other.Issue("client-123", "", "read")
	require.NoError(t, err)

	_, err = iss.Verify(raw)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestVerifyExpired(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	// Zero leeway so the boundary is sharp.
	iss, err := NewIssuer("https://auth.example.com", key, -time.Minute, 0)
	require.NoError(t, err)

	raw, _, _, err := iss.Issue("client-123", "", "read")
	require.NoError(t, err)

	_, err = iss.Verify(raw)
	assert.ErrorIs(t, err, ErrInvalid)
	assert.NotErrorIs(t, err, ErrMalformed)
}

func TestVerifyExpiryWithinLeeway(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	// Expired two seconds ago but leeway covers it.
	iss, err := NewIssuer("https://auth.example.com", key, -2*time.Second, 5*time.Second)
	require.NoError(t, err)

	raw, _, _, err := iss.Issue("client-123", "", "read")
	require.NoError(t, err)

	_, err = iss.Verify(raw)
	assert.NoError(t, err)
}

func TestVerifyRejectsUnsignedAlg(t *testing.T) {
	iss := newTestIssuer(t, time.Hour)

	tk := jwtv5.NewWithClaims(jwtv5.SigningMethodNone, jwtv5.MapClaims{
		"iss": "https://auth.example.com",
		"sub": "client-123",
	})
	raw, err := tk.SignedString(jwtv5.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = iss.Verify(raw)
	assert.Error(t, err)
}

func TestKeyIDStableForSameKey(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	a, err := NewIssuer("https://auth.example.com", key, time.Hour, 0)
	require.NoError(t, err)
	b, err := NewIssuer("https://auth.example.com", key, time.Hour, 0)
	require.NoError(t, err)

	assert.Equal(t, a.KeyID(), b.KeyID())
}

func TestNewIssuerValidation(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	_, err = NewIssuer("", key, time.Hour, 0)
	assert.Error(t, err)

	_, err = NewIssuer("https://auth.example.com", nil, time.Hour, 0)
	assert.Error(t, err)
}
