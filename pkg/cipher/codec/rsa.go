// Package codec provides the asymmetric encrypt/decrypt primitive used by
// cipher strategies. Codecs are stateless: retries and authentication
// handling belong to the strategy layer.
package codec

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"errors"
	"fmt"
)

// Codec encrypts with a public key and decrypts through an opaque private-key
// handle. Decrypt must propagate the key store's authentication-required
// failure so the strategy can branch on it; wrapping keeps the error chain
// intact.
type Codec interface {
	Encrypt(pub crypto.PublicKey, plaintext []byte) ([]byte, error)
	Decrypt(priv crypto.Decrypter, ciphertext []byte) ([]byte, error)
}

// RSAOAEP implements Codec with RSA-OAEP over SHA-256. Padding is randomized,
// so ciphertexts are not reproducible across calls.
type RSAOAEP struct{}

// NewRSAOAEP returns the RSA-OAEP-SHA256 codec.
func NewRSAOAEP() *RSAOAEP {
	return &RSAOAEP{}
}

// Transformation identifies the cipher transformation for diagnostics.
func (c *RSAOAEP) Transformation() string {
	return "RSA/OAEP-SHA256"
}

// Encrypt encrypts plaintext under pub.
func (c *RSAOAEP) Encrypt(pub crypto.PublicKey, plaintext []byte) ([]byte, error) {
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("unsupported public key type %T", pub)
	}
	if len(plaintext) == 0 {
		return nil, errors.New("plaintext must not be empty")
	}
	ciphertext, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, rsaPub, plaintext, nil)
	if err != nil {
		return nil, fmt.Errorf("rsa encrypt: %w", err)
	}
	return ciphertext, nil
}

// Decrypt decrypts ciphertext through the private-key handle. The underlying
// cause is always preserved in the error chain so callers can classify it.
func (c *RSAOAEP) Decrypt(priv crypto.Decrypter, ciphertext []byte) ([]byte, error) {
	if priv == nil {
		return nil, errors.New("private key handle is nil")
	}
	if len(ciphertext) == 0 {
		return nil, errors.New("ciphertext must not be empty")
	}
	plaintext, err := priv.Decrypt(rand.Reader, ciphertext, &rsa.OAEPOptions{Hash: crypto.SHA256})
	if err != nil {
		return nil, fmt.Errorf("rsa decrypt: %w", err)
	}
	return plaintext, nil
}

var _ Codec = (*RSAOAEP)(nil)
