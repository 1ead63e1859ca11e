package session

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims carried by a session token.
type Claims struct {
	IdentityID string
	SessionID  string // jti, keys the Redis record
	Guest      bool
}

// Tokens signs and verifies session JWTs. Verification alone is not enough
// to resume a session; the caller must also confirm the Redis record.
type Tokens struct {
	secret []byte
}

// NewTokens creates a token signer with the given HMAC secret.
func NewTokens(secret string) *Tokens {
	return &Tokens{secret: []byte(secret)}
}

// Sign creates a session token for the identity with the given TTL.
func (t *Tokens) Sign(c Claims, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":   c.IdentityID,
		"jti":   c.SessionID,
		"guest": c.Guest,
		"iat":   now.Unix(),
		"exp":   now.Add(ttl).Unix(),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString(t.secret)
}

// Verify parses a token and returns its claims. Any signature, expiry, or
// shape problem is an error; there is no partial success.
func (t *Tokens) Verify(tokenStr string) (Claims, error) {
	tok, err := jwt.Parse(tokenStr, func(tok *jwt.Token) (any, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return t.secret, nil
	})
	if err != nil {
		return Claims{}, err
	}
	if !tok.Valid {
		return Claims{}, jwt.ErrSignatureInvalid
	}
	mc, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return Claims{}, jwt.ErrTokenMalformed
	}
	sub, _ := mc["sub"].(string)
	jti, _ := mc["jti"].(string)
	guest, _ := mc["guest"].(bool)
	if sub == "" || jti == "" {
		return Claims{}, fmt.Errorf("session: token missing subject or id: %w", jwt.ErrTokenMalformed)
	}
	return Claims{IdentityID: sub, SessionID: jti, Guest: guest}, nil
}
