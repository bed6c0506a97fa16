// Package token issues and verifies the execution-authorization tokens the
// pipeline emits on AUTO_CLEARED and APPROVED outcomes. A token references
// exactly one action and is consumable exactly once by the integration
// client that performs the real send or write.
package token

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	issuer   = "failsafe-core"
	audience = "integration-executor"
)

// DefaultTTL bounds how long an authorization stays valid before the
// integration client must re-submit the action.
const DefaultTTL = 5 * time.Minute

var (
	// ErrTokenConsumed is returned on replay of an already-consumed token.
	ErrTokenConsumed = errors.New("token: already consumed")
	// ErrTokenInvalid covers signature, audience, and expiry failures.
	ErrTokenInvalid = errors.New("token: invalid")
)

// Claims binds the token to its action.
type Claims struct {
	jwt.RegisteredClaims
	ActionID string `json:"action_id"`
}

// Issuer signs execution-authorization tokens with an HMAC key.
type Issuer struct {
	key []byte
	ttl time.Duration
}

// NewIssuer creates an issuer. A zero ttl selects DefaultTTL.
func NewIssuer(key []byte, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Issuer{key: key, ttl: ttl}
}

// Issue creates a single-use token authorizing execution of the action.
func (i *Issuer) Issue(actionID string) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   actionID,
			Issuer:    issuer,
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
		ActionID: actionID,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.key)
	if err != nil {
		return "", fmt.Errorf("token sign: %w", err)
	}
	return signed, nil
}

// Verifier validates tokens and enforces the consumed-exactly-once rule via
// an in-process replay set keyed by jti.
type Verifier struct {
	key      []byte
	mu       sync.Mutex
	consumed map[string]time.Time
}

func NewVerifier(key []byte) *Verifier {
	return &Verifier{key: key, consumed: make(map[string]time.Time)}
}

// Consume validates the token and marks it used, returning the authorized
// action id. A second Consume of the same token fails with ErrTokenConsumed.
func (v *Verifier) Consume(tokenString string) (string, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.key, nil
	}, jwt.WithIssuer(issuer), jwt.WithAudience(audience))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return "", ErrTokenInvalid
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.pruneLocked(time.Now())
	if _, used := v.consumed[claims.ID]; used {
		return "", ErrTokenConsumed
	}
	v.consumed[claims.ID] = claims.ExpiresAt.Time
	return claims.ActionID, nil
}

// pruneLocked drops replay entries whose tokens have expired anyway.
func (v *Verifier) pruneLocked(now time.Time) {
	for jti, exp := range v.consumed {
		if now.After(exp) {
			delete(v.consumed, jti)
		}
	}
}
