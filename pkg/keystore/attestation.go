package keystore

import (
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrAttestationInvalid is returned when a submitted attestation token fails
// signature or claims validation.
var ErrAttestationInvalid = errors.New("keystore: attestation token invalid")

// attestationTTL bounds how long an issued token may be submitted. It is
// deliberately longer than typical per-key validity windows: the window is
// evaluated against the verified authentication instant, not token expiry.
const attestationTTL = 30 * time.Second

// AuthGate models the authentication ceremony between the prompt bridge and
// the store. A successful biometric or device-credential event produces a
// signed attestation token via Attest; the bridge submits it back through
// Submit, and the store evaluates per-key validity windows against the
// verified authentication instant.
type AuthGate struct {
	mu       sync.Mutex
	secret   []byte
	issuer   string
	lastAuth time.Time
	logger   *logrus.Entry
}

type attestationClaims struct {
	// Method records how the user authenticated ("biometric" or
	// "device-credential").
	Method string `json:"amr,omitempty"`
	jwt.RegisteredClaims
}

// NewAuthGate creates a gate with a fresh random signing secret. The secret
// lives only inside the store process, like the key material it guards.
func NewAuthGate(issuer string) (*AuthGate, error) {
	if issuer == "" {
		return nil, errors.New("keystore: gate issuer must not be empty")
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("failed to generate gate secret: %w", err)
	}
	return &AuthGate{
		secret: secret,
		issuer: issuer,
		logger: logrus.WithField("component", "auth-gate"),
	}, nil
}

// Attest issues a signed token for a just-completed authentication event.
func (g *AuthGate) Attest(method string) (string, error) {
	now := time.Now()
	claims := &attestationClaims{
		Method: method,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    g.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(attestationTTL)),
			ID:        uuid.New().String(),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(g.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign attestation token: %w", err)
	}
	return token, nil
}

// Submit validates an attestation token and records the authentication
// instant it attests to.
func (g *AuthGate) Submit(tokenString string) error {
	token, err := jwt.ParseWithClaims(tokenString, &attestationClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return g.secret, nil
	}, jwt.WithIssuer(g.issuer))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAttestationInvalid, err)
	}

	claims, ok := token.Claims.(*attestationClaims)
	if !ok || !token.Valid || claims.IssuedAt == nil {
		return ErrAttestationInvalid
	}

	g.mu.Lock()
	if claims.IssuedAt.Time.After(g.lastAuth) {
		g.lastAuth = claims.IssuedAt.Time
	}
	g.mu.Unlock()

	g.logger.WithFields(logrus.Fields{
		"method": claims.Method,
		"jti":    claims.ID,
	}).Debug("Recorded authentication event")
	return nil
}

// SatisfiedWithin reports whether an authentication event was recorded inside
// the given validity window.
func (g *AuthGate) SatisfiedWithin(window time.Duration) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.lastAuth.IsZero() {
		return false
	}
	return time.Since(g.lastAuth) <= window
}

// Reset forgets the last authentication event, forcing the next gated
// private-key use to require a fresh ceremony.
func (g *AuthGate) Reset() {
	g.mu.Lock()
	g.lastAuth = time.Time{}
	g.mu.Unlock()
}
