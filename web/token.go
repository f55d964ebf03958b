package web

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rohanthewiz/serr"
)

const (
	// TokenIssuer identifies the application that issued the token
	TokenIssuer = "postalgic"

	// MinSecretLength is the minimum acceptable length for the JWT secret
	MinSecretLength = 32

	DefaultTokenTTL = 24 * 7 * time.Hour
)

// TokenClaims are the claims of an API token. Subject names the client the
// token was issued to.
type TokenClaims struct {
	jwt.RegisteredClaims
}

// Tokens issues and validates HS256 API tokens.
type Tokens struct {
	secret []byte
}

func NewTokens(secret string) (*Tokens, error) {
	if len(secret) < MinSecretLength {
		return nil, serr.New("JWT secret must be at least 32 characters")
	}
	return &Tokens{secret: []byte(secret)}, nil
}

// Generate creates a signed token for subject valid for ttl.
func (t *Tokens) Generate(subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    TokenIssuer,
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	tokenString, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", serr.Wrap(err, "failed to sign token")
	}
	return tokenString, nil
}

// Validate parses a token and checks its signature, issuer and expiry.
func (t *Tokens) Validate(tokenString string) (*TokenClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &TokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, serr.New("unexpected signing method")
		}
		return t.secret, nil
	}, jwt.WithIssuer(TokenIssuer))
	if err != nil {
		return nil, serr.Wrap(err, "failed to parse token")
	}

	claims, ok := token.Claims.(*TokenClaims)
	if !ok || !token.Valid {
		return nil, serr.New("invalid token claims")
	}
	return claims, nil
}
