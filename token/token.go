// Package token signs and verifies the server's access tokens.
//
// Access tokens are compact EdDSA-signed JWTs carrying the owning client id,
// the granted scope set, and standard time claims. Verification is stateless:
// the signature and expiry are checked from the token alone, with a small
// clock-skew leeway. Revocation is layered on top by the token service via
// the jti claim.
package token

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Verification errors. ErrMalformed means the value is not a JWT at all;
// ErrInvalid covers bad signatures, wrong issuer, and expired tokens.
// Callers map them to distinct HTTP statuses.
var (
	ErrMalformed = errors.New("malformed access token")
	ErrInvalid   = errors.New("invalid or expired access token")
)

// AccessClaims is the claim set embedded in issued access tokens.
// The subject is the owning client id.
type AccessClaims struct {
	Scope      string `json:"scope"`
	ClientName string `json:"client_name,omitempty"`
	jwtv5.RegisteredClaims
}

// Issuer signs access tokens with the server's Ed25519 key and verifies
// presented tokens against the matching public key.
type Issuer struct {
	iss    string
	aud    string
	kid    string
	priv   ed25519.PrivateKey
	pub    ed25519.PublicKey
	ttl    time.Duration
	leeway time.Duration
}

// GenerateKey creates a fresh Ed25519 signing key. Used when no key material
// is configured; tokens will not survive a restart in that mode.
func GenerateKey() (ed25519.PrivateKey, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate signing key: %w", err)
	}
	return priv, nil
}

// NewIssuer builds an issuer from the server identity and signing key.
// The key id is derived from the public key so it is stable across restarts
// with the same key material.
func NewIssuer(iss string, priv ed25519.PrivateKey, ttl, leeway time.Duration) (*Issuer, error) {
	if iss == "" {
		return nil, errors.New("issuer identity is required")
	}
	if len(priv) != ed25519.PrivateKeySize {
		return nil, errors.New("invalid Ed25519 private key")
	}
	pub := priv.Public().(ed25519.PublicKey)
	sum := sha256.Sum256(pub)
	return &Issuer{
		iss:    iss,
		aud:    iss,
		kid:    hex.EncodeToString(sum[:8]),
		priv:   priv,
		pub:    pub,
		ttl:    ttl,
		leeway: leeway,
	}, nil
}

// KeyID returns the kid placed in token headers.
func (i *Issuer) KeyID() string {
	return i.kid
}

// TTL returns the configured access token lifetime.
func (i *Issuer) TTL() time.Duration {
	return i.ttl
}

// Issue signs a new access token for a client. Returns the compact token,
// its jti (for the revocation ledger), and its expiry.
func (i *Issuer) Issue(clientID, clientName, scope string) (string, string, time.Time, error) {
	now := time.Now().UTC()
	exp := now.Add(i.ttl)
	jti := uuid.NewString()

	claims := AccessClaims{
		Scope:      scope,
		ClientName: clientName,
		RegisteredClaims: jwtv5.RegisteredClaims{
			Issuer:    i.iss,
			Subject:   clientID,
			Audience:  jwtv5.ClaimStrings{i.aud},
			IssuedAt:  jwtv5.NewNumericDate(now),
			NotBefore: jwtv5.NewNumericDate(now),
			ExpiresAt: jwtv5.NewNumericDate(exp),
			ID:        jti,
		},
	}

	tk := jwtv5.NewWithClaims(jwtv5.SigningMethodEdDSA, claims)
	tk.Header["kid"] = i.kid
	tk.Header["typ"] = "JWT"

	signed, err := tk.SignedString(i.priv)
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, jti, exp, nil
}

// Verify parses and validates a presented access token. It checks the EdDSA
// signature, issuer, and time claims (with leeway for clock skew) and returns
// the embedded claims.
func (i *Issuer) Verify(raw string) (*AccessClaims, error) {
	if strings.Count(raw, ".") != 2 {
		return nil, ErrMalformed
	}

	claims := &AccessClaims{}
	_, err := jwtv5.ParseWithClaims(raw, claims, i.keyfunc(),
		jwtv5.WithValidMethods([]string{jwtv5.SigningMethodEdDSA.Alg()}),
		jwtv5.WithIssuer(i.iss),
		jwtv5.WithLeeway(i.leeway),
	)
	if err != nil {
		if errors.Is(err, jwtv5.ErrTokenMalformed) {
			return nil, ErrMalformed
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if claims.Subject == "" {
		return nil, ErrInvalid
	}
	return claims, nil
}

func (i *Issuer) keyfunc() jwtv5.Keyfunc {
	return func(t *jwtv5.Token) (any, error) {
		if kid, _ := t.Header["kid"].(string); kid != "" && kid != i.kid {
			return nil, fmt.Errorf("unknown key id %q", kid)
		}
		return i.pub, nil
	}
}
