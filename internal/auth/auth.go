// Package auth verifies the bearer tokens presented during the WebSocket
// handshake. Tokens are HS256-signed JWTs carrying the user identity.
package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"chatwire/pkg/interfaces"
	"chatwire/pkg/types"
)

// Claims is the token payload.
type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// Verifier validates HS256 tokens against a shared secret.
type Verifier struct {
	secret []byte
	issuer string
}

var _ interfaces.TokenVerifier = (*Verifier)(nil)

// NewVerifier returns a verifier bound to the given secret and issuer.
func NewVerifier(secret, issuer string) *Verifier {
	return &Verifier{secret: []byte(secret), issuer: issuer}
}

// Verify parses and validates a token string and returns the user identity.
func (v *Verifier) Verify(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, interfaces.ErrInvalidToken
		}
		return v.secret, nil
	}, jwt.WithIssuer(v.issuer))
	if err != nil {
		return "", interfaces.ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return "", interfaces.ErrInvalidToken
	}
	if !types.IsValidUserID(claims.UserID) {
		return "", interfaces.ErrInvalidToken
	}
	return claims.UserID, nil
}

// Issue signs a token for userID. Used by tests and by deployments that let
// chatwire mint its own session tokens.
func (v *Verifier) Issue(userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    v.issuer,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
