package stub

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	errTokenInvalid = errors.New("invalid token")
	errTokenExpired = errors.New("token expired")
)

// accessClaims are carried by stub access tokens.
type accessClaims struct {
	jwt.RegisteredClaims

	// SessionID ties the token to a sign-in so logout and revocation can
	// invalidate it before it expires.
	SessionID string `json:"sid"`
	Email     string `json:"email"`
}

// tokenIssuer mints and validates HS256 access tokens.
type tokenIssuer struct {
	signingKey []byte
	issuer     string
	ttl        time.Duration
	now        func() time.Time
}

func (t *tokenIssuer) issue(account Account, sessionID string) (string, time.Time, error) {
	now := t.now()
	expiresAt := now.Add(t.ttl)

	claims := accessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   account.ID,
			Audience:  jwt.ClaimStrings{t.issuer},
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
		SessionID: sessionID,
		Email:     account.Email,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.signingKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// parse validates signature and issuer. Expiry is checked against the
// issuer's clock so tests can move time. Revocation passes allowExpired.
func (t *tokenIssuer) parse(raw string, allowExpired bool) (*accessClaims, error) {
	if raw == "" {
		return nil, errTokenInvalid
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	token, err := parser.ParseWithClaims(raw, &accessClaims{}, func(*jwt.Token) (any, error) {
		return t.signingKey, nil
	})
	if err != nil {
		return nil, errTokenInvalid
	}

	claims, ok := token.Claims.(*accessClaims)
	if !ok || !token.Valid || claims.SessionID == "" || claims.Issuer != t.issuer {
		return nil, errTokenInvalid
	}
	if !allowExpired && claims.ExpiresAt != nil && !t.now().Before(claims.ExpiresAt.Time) {
		return nil, errTokenExpired
	}
	return claims, nil
}
