// Package token provides the JWT utility used by the HTTP surface to
// establish caller identity on authenticated 2FA routes.
package token

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const DefaultAccessExpiry = 15 * time.Minute

// JwtService signs and parses HS256 access tokens whose subject is the
// account id.
type JwtService struct {
	Secret   string
	Issuer   string
	Audience string
	Expiry   time.Duration
}

// NewJwtService creates a new JwtService
func NewJwtService(secret, issuer, audience string) *JwtService {
	return &JwtService{
		Secret:   secret,
		Issuer:   issuer,
		Audience: audience,
		Expiry:   DefaultAccessExpiry,
	}
}

// CreateAccessToken creates a signed token for the given account
func (s *JwtService) CreateAccessToken(accountID uuid.UUID) (string, time.Time, error) {
	now := time.Now().UTC()
	claims := jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(now.Add(s.Expiry)),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now.Add(-5 * time.Minute)),
		Issuer:    s.Issuer,
		Subject:   accountID.String(),
		ID:        uuid.New().String(),
		Audience:  jwt.ClaimStrings{s.Audience},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.Secret))
	if err != nil {
		slog.Error("Failed to sign JWT claim string!", "err", err)
		return "", time.Time{}, err
	}
	return signed, claims.ExpiresAt.Time, nil
}

// ParseTokenStr parses and validates a token string
func (s *JwtService) ParseTokenStr(tokenStr string) (*jwt.Token, error) {
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.Secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return token, nil
}

// AccountIDFromToken extracts the account id from a parsed token's subject
func AccountIDFromToken(token *jwt.Token) (uuid.UUID, error) {
	subject, err := token.Claims.GetSubject()
	if err != nil {
		return uuid.Nil, fmt.Errorf("missing subject claim: %w", err)
	}
	id, err := uuid.Parse(subject)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid subject claim: %w", err)
	}
	return id, nil
}
