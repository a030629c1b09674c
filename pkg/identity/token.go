package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Mindburn-Labs/marketplace/pkg/market"
)

const (
	DefaultIssuer   = "marketd"
	DefaultAudience = "marketplace.api"
)

// Claims are the JWT claims a marketplace token carries. The subject is
// the user id.
type Claims struct {
	jwt.RegisteredClaims
	UserType market.UserType `json:"user_type"`
}

// Actor converts validated claims into the identity operations run as.
func (c *Claims) Actor() (market.Actor, error) {
	if c.Subject == "" {
		return market.Actor{}, errors.New("token subject is required")
	}
	if !c.UserType.Valid() {
		return market.Actor{}, fmt.Errorf("unknown user type %q", c.UserType)
	}
	return market.Actor{ID: c.Subject, Type: c.UserType}, nil
}

// TokenManager issues and validates tokens against a KeySet.
type TokenManager struct {
	keySet   KeySet
	issuer   string
	audience string
	now      func() time.Time
}

type TokenOption func(*TokenManager)

func WithIssuer(iss string) TokenOption {
	return func(tm *TokenManager) {
		if iss != "" {
			tm.issuer = iss
		}
	}
}

func WithTokenClock(now func() time.Time) TokenOption {
	return func(tm *TokenManager) { tm.now = now }
}

func NewTokenManager(ks KeySet, opts ...TokenOption) *TokenManager {
	tm := &TokenManager{keySet: ks, issuer: DefaultIssuer, audience: DefaultAudience, now: time.Now}
	for _, o := range opts {
		o(tm)
	}
	return tm
}

// Issue signs a token for actor valid for ttl.
func (tm *TokenManager) Issue(ctx context.Context, actor market.Actor, ttl time.Duration) (string, error) {
	if actor.ID == "" || !actor.Type.Valid() {
		return "", fmt.Errorf("identity: cannot issue token for %+v", actor)
	}
	now := tm.now().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID,
			Issuer:    tm.issuer,
			Audience:  jwt.ClaimStrings{tm.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		UserType: actor.Type,
	}
	return tm.keySet.Sign(ctx, claims)
}

// Validate parses a token, checks signature, expiry, issuer and audience,
// and returns its claims.
func (tm *TokenManager) Validate(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, tm.keySet.KeyFunc(),
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithIssuer(tm.issuer),
		jwt.WithAudience(tm.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(tm.now),
	)
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}
	if !token.Valid {
		return nil, jwt.ErrTokenSignatureInvalid
	}
	return claims, nil
}
