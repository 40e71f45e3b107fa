package keystore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/argon2"
)

// ErrInvalidPassphrase is returned when a sealed snapshot cannot be opened
// with the supplied passphrase.
var ErrInvalidPassphrase = errors.New("keystore: invalid passphrase")

const snapshotVersion = 1

type sealedSnapshot struct {
	Version int         `json:"version"`
	Keys    []sealedKey `json:"keys"`
}

type sealedKey struct {
	ID        string     `json:"id"`
	PKCS8     []byte     `json:"pkcs8"`
	Spec      KeyGenSpec `json:"spec"`
	CreatedAt time.Time  `json:"created_at"`
}

// Export serializes the store's key pairs into a passphrase-sealed snapshot.
// This exists for the software reference store only; hardware-backed stores
// own their persistence and never export private material.
func (s *SoftwareStore) Export(passphrase []byte) ([]byte, error) {
	if len(passphrase) == 0 {
		return nil, errors.New("keystore: passphrase must not be empty")
	}

	s.mu.RLock()
	snapshot := sealedSnapshot{Version: snapshotVersion}
	for _, entry := range s.keys {
		der, err := x509.MarshalPKCS8PrivateKey(entry.priv)
		if err != nil {
			s.mu.RUnlock()
			return nil, fmt.Errorf("failed to encode key %q: %w", entry.spec.Alias, err)
		}
		snapshot.Keys = append(snapshot.Keys, sealedKey{
			ID:        entry.id,
			PKCS8:     der,
			Spec:      entry.spec,
			CreatedAt: entry.createdAt,
		})
	}
	s.mu.RUnlock()

	plaintext, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return sealWithPassphrase(plaintext, passphrase)
}

// Restore replaces the store's contents with a previously exported snapshot.
// The store must be loaded first.
func (s *SoftwareStore) Restore(sealed, passphrase []byte) error {
	plaintext, err := openWithPassphrase(sealed, passphrase)
	if err != nil {
		return err
	}

	var snapshot sealedSnapshot
	if err := json.Unmarshal(plaintext, &snapshot); err != nil {
		return fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	if snapshot.Version != snapshotVersion {
		return fmt.Errorf("unsupported snapshot version %d", snapshot.Version)
	}

	keys := make(map[string]*softwareKey, len(snapshot.Keys))
	for _, sk := range snapshot.Keys {
		parsed, err := x509.ParsePKCS8PrivateKey(sk.PKCS8)
		if err != nil {
			return fmt.Errorf("failed to decode key %q: %w", sk.Spec.Alias, err)
		}
		priv, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return fmt.Errorf("%w: key %q is not RSA", ErrInvalidKeySpec, sk.Spec.Alias)
		}
		if err := sk.Spec.Validate(); err != nil {
			return err
		}
		keys[sk.Spec.Alias] = &softwareKey{
			id:        sk.ID,
			priv:      priv,
			spec:      sk.Spec,
			createdAt: sk.CreatedAt,
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return ErrNotLoaded
	}
	s.keys = keys
	return nil
}

// sealWithPassphrase encrypts data under an argon2id-derived AES-256-GCM key.
// Format: [salt(32)][nonce(12)][ciphertext+tag], salt doubling as AAD.
func sealWithPassphrase(data, passphrase []byte) ([]byte, error) {
	salt := make([]byte, 32)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	derivedKey := argon2.IDKey(passphrase, salt, 1, 64*1024, 4, 32)

	block, err := aes.NewCipher(derivedKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, data, salt)

	result := make([]byte, 0, len(salt)+len(nonce)+len(ciphertext))
	result = append(result, salt...)
	result = append(result, nonce...)
	result = append(result, ciphertext...)
	return result, nil
}

func openWithPassphrase(sealed, passphrase []byte) ([]byte, error) {
	// Minimum: 32 (salt) + 12 (nonce) + 16 (tag)
	if len(sealed) < 60 {
		return nil, fmt.Errorf("sealed snapshot too short: %d bytes", len(sealed))
	}

	salt := sealed[0:32]
	nonce := sealed[32:44]
	ciphertext := sealed[44:]

	derivedKey := argon2.IDKey(passphrase, salt, 1, 64*1024, 4, 32)

	block, err := aes.NewCipher(derivedKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, salt)
	if err != nil {
		return nil, ErrInvalidPassphrase
	}
	return plaintext, nil
}
