// Package auth verifies bearer tokens and attaches the caller principal to requests.
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/franchise-ops/franchise-console/internal/shared"
)

var (
	// ErrInvalidToken indicates a malformed, forged or incomplete token.
	ErrInvalidToken = errors.New("auth: invalid token")
	// ErrExpiredToken indicates a token past its expiry.
	ErrExpiredToken = errors.New("auth: token has expired")
)

// Claims are the console token claims. Subject carries the user id.
type Claims struct {
	jwt.RegisteredClaims
	BranchID int64       `json:"branch_id,omitempty"`
	Role     shared.Role `json:"role"`
}

// Tokens issues and verifies HS256 principal tokens.
type Tokens struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewTokens constructs the token service.
func NewTokens(secret, issuer string, ttl time.Duration) *Tokens {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Tokens{secret: []byte(secret), issuer: issuer, ttl: ttl, now: time.Now}
}

// Issue signs a token for the principal.
func (t *Tokens) Issue(p shared.Principal) (string, time.Time, error) {
	if err := validatePrincipal(p); err != nil {
		return "", time.Time{}, err
	}
	now := t.now()
	expires := now.Add(t.ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   strconv.FormatInt(p.UserID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		BranchID: p.BranchID,
		Role:     p.Role,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, expires, nil
}

// Verify parses a signed token into a principal.
func (t *Tokens) Verify(raw string) (shared.Principal, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(t.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return shared.Principal{}, ErrExpiredToken
		}
		return shared.Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return shared.Principal{}, fmt.Errorf("%w: subject %q", ErrInvalidToken, claims.Subject)
	}
	p := shared.Principal{UserID: userID, BranchID: claims.BranchID, Role: claims.Role}
	if err := validatePrincipal(p); err != nil {
		return shared.Principal{}, err
	}
	return p, nil
}

func validatePrincipal(p shared.Principal) error {
	switch {
	case p.UserID <= 0:
		return fmt.Errorf("%w: user id required", ErrInvalidToken)
	case !p.Role.IsValid():
		return fmt.Errorf("%w: unknown role %q", ErrInvalidToken, p.Role)
	case p.Role == shared.RoleBranch && p.BranchID <= 0:
		return fmt.Errorf("%w: branch role without branch", ErrInvalidToken)
	}
	return nil
}
