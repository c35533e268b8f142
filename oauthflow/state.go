package oauthflow

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// randomToken returns n random bytes base64url-encoded without padding.
func randomToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// NewState returns an opaque state value with 24 bytes of entropy.
func NewState() (string, error) {
	return randomToken(24)
}

// NewCodeVerifier returns a PKCE code verifier: 32 random bytes encoded
// to the 43-character base64url form.
func NewCodeVerifier() (string, error) {
	return randomToken(32)
}

// identityClaims is the payload of an identity-carrying state token. The
// random jti keeps the token unguessable for CSRF purposes even though it
// is not opaque; the subject is the initiating user.
type identityClaims struct {
	jwt.RegisteredClaims
}

// SignIdentityState builds a state value that doubles as an identity
// carrier for flows whose callback arrives without a session cookie.
func SignIdentityState(secret []byte, userID string, ttl time.Duration) (string, error) {
	nonce, err := randomToken(16)
	if err != nil {
		return "", err
	}
	now := time.Now()
	claims := identityClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ID:        nonce,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// VerifyIdentityState checks the signature and expiry of an
// identity-carrying state token and returns the embedded user id.
func VerifyIdentityState(secret []byte, state string) (string, error) {
	var claims identityClaims
	token, err := jwt.ParseWithClaims(state, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return "", err
	}
	if !token.Valid || claims.Subject == "" {
		return "", fmt.Errorf("invalid identity state token")
	}
	return claims.Subject, nil
}
