// Package keystore defines the boundary to a secure key store holding
// asymmetric key pairs whose private halves are never exported in cleartext.
// Private-key operations go through handles implementing crypto.Decrypter,
// so hardware-backed implementations can enforce their own access policies.
package keystore

import (
	"crypto"
	"errors"
	"time"
)

var (
	// ErrNotLoaded is returned when the store is used before Load.
	ErrNotLoaded = errors.New("keystore: store not loaded")

	// ErrKeyNotFound is returned when no key pair exists under the alias.
	ErrKeyNotFound = errors.New("keystore: key not found")

	// ErrAuthenticationRequired is returned by private-key operations when
	// the key's authentication validity window has expired or was never
	// satisfied. Callers are expected to drive a fresh authentication
	// ceremony and retry.
	ErrAuthenticationRequired = errors.New("keystore: user authentication required")

	// ErrAliasEmpty is returned when an operation receives an empty alias.
	ErrAliasEmpty = errors.New("keystore: alias must not be empty")

	// ErrInvalidKeySpec is returned when a key generation spec cannot be
	// satisfied or a stored key fails spec validation.
	ErrInvalidKeySpec = errors.New("keystore: invalid key spec")
)

// Purpose is a bitmask of operations a generated key pair is authorized for.
type Purpose uint8

const (
	PurposeEncrypt Purpose = 1 << iota
	PurposeDecrypt
)

// KeyGenSpec describes the key pair to provision under an alias.
type KeyGenSpec struct {
	Alias                string  `json:"alias"`
	Purposes             Purpose `json:"purposes"`
	KeySize              int     `json:"key_size"`
	RandomizedEncryption bool    `json:"randomized_encryption"`

	// AuthenticationRequired gates every private-key use behind a recent
	// user authentication. AuthValidity bounds how recent.
	AuthenticationRequired bool          `json:"authentication_required"`
	AuthValidity           time.Duration `json:"auth_validity"`
}

// Validate checks the spec before any key material is touched.
func (s KeyGenSpec) Validate() error {
	if s.Alias == "" {
		return ErrAliasEmpty
	}
	if s.Purposes == 0 {
		return errors.New("keystore: key spec needs at least one purpose")
	}
	if s.KeySize < 2048 {
		return errors.New("keystore: RSA key size must be at least 2048 bits")
	}
	if s.AuthenticationRequired && s.AuthValidity <= 0 {
		return errors.New("keystore: authentication-gated keys need a positive validity window")
	}
	return nil
}

// KeyMetadata reports provable facts about a provisioned key pair.
type KeyMetadata struct {
	HardwareBacked         bool
	AuthenticationEnforced bool
	AuthValidity           time.Duration
	KeySize                int
	CreatedAt              time.Time
}

// PrivateKey is an opaque handle to the private half of a key pair. Decrypt
// calls are executed inside the store; raw key bytes never cross this
// interface. Decrypt returns ErrAuthenticationRequired when the key's
// authentication window is not currently satisfied.
type PrivateKey interface {
	crypto.Decrypter

	// Alias names the key pair inside the store.
	Alias() string

	// ID identifies this generation of the key pair; regenerating an alias
	// produces a new ID and invalidates old handles.
	ID() string
}

// Provider is the narrow capability interface cipher strategies consume.
type Provider interface {
	// Load prepares the store for use. Idempotent.
	Load() error

	// GetOrCreateKeyPair returns the private-key handle for spec.Alias,
	// provisioning a new pair per spec when none exists.
	GetOrCreateKeyPair(spec KeyGenSpec) (PrivateKey, error)

	// PublicKey returns the public half for the alias. Public-key use is
	// never authentication-gated.
	PublicKey(alias string) (crypto.PublicKey, error)

	// KeyMetadata reports metadata for a previously obtained handle.
	KeyMetadata(key PrivateKey) (KeyMetadata, error)

	// DeleteKey removes the alias's key pair so it can be regenerated.
	DeleteKey(alias string) error

	// HardwareBacked reports whether this store keeps private key material
	// in a hardware element. Static capability, no key access.
	HardwareBacked() bool
}
