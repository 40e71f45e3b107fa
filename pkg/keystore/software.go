package keystore

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// SoftwareStoreConfig configures the software reference store.
type SoftwareStoreConfig struct {
	// HardwareBacked marks keys as hardware-backed in metadata. Set it when
	// the store fronts a hardware element (TPM, enclave) that holds the
	// actual key material; the plain software store leaves it false.
	HardwareBacked bool

	// GateIssuer names the attestation issuer. Defaults to
	// "credential-cipher" when empty.
	GateIssuer string
}

// SoftwareStore is an in-memory Provider with an authentication gate. It is
// the reference implementation behind the Provider boundary; a platform
// keystore adapter satisfies the same interface.
type SoftwareStore struct {
	mu             sync.RWMutex
	loaded         bool
	keys           map[string]*softwareKey
	gate           *AuthGate
	hardwareBacked bool
	logger         *logrus.Entry
}

type softwareKey struct {
	id        string
	priv      *rsa.PrivateKey
	spec      KeyGenSpec
	createdAt time.Time
}

// NewSoftwareStore creates an unloaded software store.
func NewSoftwareStore(cfg SoftwareStoreConfig) (*SoftwareStore, error) {
	issuer := cfg.GateIssuer
	if issuer == "" {
		issuer = "credential-cipher"
	}
	gate, err := NewAuthGate(issuer)
	if err != nil {
		return nil, err
	}
	return &SoftwareStore{
		keys:           make(map[string]*softwareKey),
		gate:           gate,
		hardwareBacked: cfg.HardwareBacked,
		logger:         logrus.WithField("component", "software-keystore"),
	}, nil
}

// Gate exposes the store's authentication gate to the prompt bridge.
func (s *SoftwareStore) Gate() *AuthGate {
	return s.gate
}

// Load prepares the store. Idempotent.
func (s *SoftwareStore) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loaded = true
	return nil
}

// GetOrCreateKeyPair returns the handle for spec.Alias, generating a new RSA
// key pair per spec when the alias is unprovisioned.
func (s *SoftwareStore) GetOrCreateKeyPair(spec KeyGenSpec) (PrivateKey, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return nil, ErrNotLoaded
	}

	if entry, ok := s.keys[spec.Alias]; ok {
		return &privateKeyHandle{store: s, alias: spec.Alias, id: entry.id}, nil
	}

	priv, err := rsa.GenerateKey(rand.Reader, spec.KeySize)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key pair for alias %q: %w", spec.Alias, err)
	}
	entry := &softwareKey{
		id:        uuid.New().String(),
		priv:      priv,
		spec:      spec,
		createdAt: time.Now(),
	}
	s.keys[spec.Alias] = entry

	s.logger.WithFields(logrus.Fields{
		"alias":    spec.Alias,
		"key_size": spec.KeySize,
		"gated":    spec.AuthenticationRequired,
	}).Info("Provisioned key pair")

	return &privateKeyHandle{store: s, alias: spec.Alias, id: entry.id}, nil
}

// PublicKey returns the public half for the alias.
func (s *SoftwareStore) PublicKey(alias string) (crypto.PublicKey, error) {
	if alias == "" {
		return nil, ErrAliasEmpty
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.loaded {
		return nil, ErrNotLoaded
	}
	entry, ok := s.keys[alias]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, alias)
	}
	return &entry.priv.PublicKey, nil
}

// KeyMetadata reports metadata for a handle obtained from this store.
func (s *SoftwareStore) KeyMetadata(key PrivateKey) (KeyMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.loaded {
		return KeyMetadata{}, ErrNotLoaded
	}
	entry, ok := s.keys[key.Alias()]
	if !ok || entry.id != key.ID() {
		return KeyMetadata{}, fmt.Errorf("%w: %s", ErrKeyNotFound, key.Alias())
	}
	return KeyMetadata{
		HardwareBacked:         s.hardwareBacked,
		AuthenticationEnforced: entry.spec.AuthenticationRequired,
		AuthValidity:           entry.spec.AuthValidity,
		KeySize:                entry.spec.KeySize,
		CreatedAt:              entry.createdAt,
	}, nil
}

// DeleteKey removes the alias's key pair. Deleting an absent alias returns
// ErrKeyNotFound.
func (s *SoftwareStore) DeleteKey(alias string) error {
	if alias == "" {
		return ErrAliasEmpty
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return ErrNotLoaded
	}
	if _, ok := s.keys[alias]; !ok {
		return fmt.Errorf("%w: %s", ErrKeyNotFound, alias)
	}
	delete(s.keys, alias)
	s.logger.WithField("alias", alias).Info("Deleted key pair")
	return nil
}

// HardwareBacked reports the store's static backing capability.
func (s *SoftwareStore) HardwareBacked() bool {
	return s.hardwareBacked
}

// privateKeyHandle keeps private-key operations inside the store. It pins the
// key generation it was extracted from: after a regeneration the old handle
// fails with ErrKeyNotFound instead of silently using the new key.
type privateKeyHandle struct {
	store *SoftwareStore
	alias string
	id    string
}

func (h *privateKeyHandle) Alias() string { return h.alias }
func (h *privateKeyHandle) ID() string    { return h.id }

func (h *privateKeyHandle) Public() crypto.PublicKey {
	h.store.mu.RLock()
	defer h.store.mu.RUnlock()
	entry, ok := h.store.keys[h.alias]
	if !ok || entry.id != h.id {
		return nil
	}
	return &entry.priv.PublicKey
}

// Decrypt runs the private-key operation behind the authentication gate.
func (h *privateKeyHandle) Decrypt(reader io.Reader, ciphertext []byte, opts crypto.DecrypterOpts) ([]byte, error) {
	h.store.mu.RLock()
	entry, ok := h.store.keys[h.alias]
	if !ok || entry.id != h.id {
		h.store.mu.RUnlock()
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, h.alias)
	}
	spec := entry.spec
	priv := entry.priv
	h.store.mu.RUnlock()

	if spec.Purposes&PurposeDecrypt == 0 {
		return nil, fmt.Errorf("%w: key %q not authorized for decryption", ErrInvalidKeySpec, h.alias)
	}
	if spec.AuthenticationRequired && !h.store.gate.SatisfiedWithin(spec.AuthValidity) {
		return nil, fmt.Errorf("%w: alias %s", ErrAuthenticationRequired, h.alias)
	}
	if reader == nil {
		reader = rand.Reader
	}
	return priv.Decrypt(reader, ciphertext, opts)
}

var _ Provider = (*SoftwareStore)(nil)
var _ PrivateKey = (*privateKeyHandle)(nil)
