// Package strategies holds the concrete credential cipher strategies and the
// registry the selection layer reads capabilities from.
package strategies

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/guided-traffic/credential-cipher/pkg/cipher"
	"github.com/guided-traffic/credential-cipher/pkg/cipher/codec"
	"github.com/guided-traffic/credential-cipher/pkg/keystore"
)

const (
	// StrategyNameRSABiometric is the stable name recorded in encryption
	// results produced by this strategy.
	StrategyNameRSABiometric = "keystore-rsa-biometric"

	// DefaultAlias names the key pair when the caller passes an empty alias.
	DefaultAlias = "credential-cipher"

	// EncryptionKeySize leaves OAEP enough margin for short credential
	// strings.
	EncryptionKeySize = 3072

	// AuthValidity is the authentication validity window requested for
	// generated keys: each decrypt needs a freshly completed
	// authentication, not a cached one.
	AuthValidity = time.Second

	// minPlatformVersion is the capability level the selection policy must
	// verify before picking this strategy.
	minPlatformVersion = 23

	// extraExtractionAttempts is the retry budget of one decrypt call: one
	// key regeneration beyond the initial extraction.
	extraExtractionAttempts = 1
)

const (
	opEncrypt = "cipher.encrypt"
	opDecrypt = "cipher.decrypt"
)

// Key-extraction outcomes reported to the extraction observer.
const (
	ExtractionOK          = "ok"
	ExtractionRegenerated = "regenerated"
	ExtractionFailed      = "failed"
)

// RSABiometric protects credentials with an RSA key pair generated inside a
// secure key store under a biometric-gated policy. Encryption uses the public
// half and always completes synchronously; decryption uses the gated private
// half and follows the two-phase handler protocol.
type RSABiometric struct {
	provider keystore.Provider
	codec    codec.Codec
	logger   *logrus.Entry

	observeExtraction func(status string)
}

// NewRSABiometric creates the strategy on top of a key-store provider.
func NewRSABiometric(provider keystore.Provider) (*RSABiometric, error) {
	if provider == nil {
		return nil, errors.New("keystore provider cannot be nil")
	}
	return &RSABiometric{
		provider: provider,
		codec:    codec.NewRSAOAEP(),
		logger:   logrus.WithField("component", "rsa-biometric-strategy"),
	}, nil
}

// ObserveExtractions registers a callback receiving the outcome of every
// key-extraction attempt (ExtractionOK, ExtractionRegenerated or
// ExtractionFailed). The composition layer wires this to metrics.
func (s *RSABiometric) ObserveExtractions(fn func(status string)) {
	s.observeExtraction = fn
}

func (s *RSABiometric) recordExtraction(status string) {
	if s.observeExtraction != nil {
		s.observeExtraction(status)
	}
}

// Name returns the strategy identifier.
func (s *RSABiometric) Name() string {
	return StrategyNameRSABiometric
}

// MinPlatformVersion is the minimum capability level this strategy supports.
func (s *RSABiometric) MinPlatformVersion() int {
	return minPlatformVersion
}

// SupportsAuthenticationGate reports that decryption is biometry-gated.
func (s *RSABiometric) SupportsAuthenticationGate() bool {
	return true
}

// ProvableLevel is the highest security tier this strategy can prove, derived
// from the provider's static backing capability.
func (s *RSABiometric) ProvableLevel() cipher.SecurityLevel {
	if s.provider.HardwareBacked() {
		return cipher.LevelSecureHardware
	}
	return cipher.LevelSecureSoftware
}

// KeySpec derives the key-generation specification for an alias: both cipher
// purposes, randomized encryption, and private-key use gated behind a
// one-second authentication window.
func (s *RSABiometric) KeySpec(alias string) keystore.KeyGenSpec {
	return keystore.KeyGenSpec{
		Alias:                  alias,
		Purposes:               keystore.PurposeEncrypt | keystore.PurposeDecrypt,
		KeySize:                EncryptionKeySize,
		RandomizedEncryption:   true,
		AuthenticationRequired: true,
		AuthValidity:           AuthValidity,
	}
}

func (s *RSABiometric) checkLevel(op string, requested cipher.SecurityLevel) *cipher.Error {
	actual := s.ProvableLevel()
	if requested.SatisfiedBy(actual) {
		return nil
	}
	return cipher.NewError(cipher.KindSecurityLevel, op,
		fmt.Errorf("requested level %s exceeds provable level %s", requested, actual))
}

func resolveAlias(alias string) string {
	if alias == "" {
		return DefaultAlias
	}
	return alias
}

// Encrypt implements the synchronous encrypt path. Failures are classified
// into the error taxonomy before propagating.
func (s *RSABiometric) Encrypt(ctx context.Context, alias string, username, password []byte, level cipher.SecurityLevel) (*cipher.EncryptionResult, error) {
	if err := s.checkLevel(opEncrypt, level); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, cipher.Classify(opEncrypt, err)
	}

	safeAlias := resolveAlias(alias)

	if err := s.provider.Load(); err != nil {
		return nil, cipher.Classify(opEncrypt, fmt.Errorf("failed to load key store: %w", err))
	}
	if _, err := s.provider.GetOrCreateKeyPair(s.KeySpec(safeAlias)); err != nil {
		return nil, cipher.Classify(opEncrypt, fmt.Errorf("failed to provision key pair for alias %q: %w", safeAlias, err))
	}
	pub, err := s.provider.PublicKey(safeAlias)
	if err != nil {
		return nil, cipher.Classify(opEncrypt, fmt.Errorf("failed to fetch public key for alias %q: %w", safeAlias, err))
	}

	userCT, err := s.codec.Encrypt(pub, username)
	if err != nil {
		return nil, cipher.Classify(opEncrypt, fmt.Errorf("failed to encrypt username: %w", err))
	}
	passCT, err := s.codec.Encrypt(pub, password)
	if err != nil {
		return nil, cipher.Classify(opEncrypt, fmt.Errorf("failed to encrypt password: %w", err))
	}

	s.logger.WithFields(logrus.Fields{
		"alias": safeAlias,
		"level": level.String(),
	}).Debug("Encrypted credentials")

	return &cipher.EncryptionResult{
		Username: userCT,
		Password: passCT,
		Strategy: s.Name(),
	}, nil
}

// DecryptSync re-validates the requested level and then fails: the
// biometric-gated design mandates the handler path.
func (s *RSABiometric) DecryptSync(_ context.Context, _ string, _, _ []byte, level cipher.SecurityLevel) (*cipher.DecryptionResult, error) {
	if err := s.checkLevel(opDecrypt, level); err != nil {
		return nil, err
	}
	return nil, cipher.NewError(cipher.KindUnsupportedOperation, opDecrypt, cipher.ErrUnsupportedOperation)
}

// Decrypt implements the two-phase decrypt protocol. Every outcome is
// delivered through handler.
func (s *RSABiometric) Decrypt(ctx context.Context, handler cipher.DecryptionHandler, alias string, username, password []byte, level cipher.SecurityLevel) {
	if err := s.checkLevel(opDecrypt, level); err != nil {
		handler.OnDecrypt(nil, err)
		return
	}
	if err := ctx.Err(); err != nil {
		handler.OnDecrypt(nil, cipher.Classify(opDecrypt, err))
		return
	}

	safeAlias := resolveAlias(alias)

	if err := s.provider.Load(); err != nil {
		handler.OnDecrypt(nil, cipher.Classify(opDecrypt, fmt.Errorf("failed to load key store: %w", err)))
		return
	}

	key, remaining, err := s.extractKey(safeAlias, extraExtractionAttempts)
	if err != nil {
		handler.OnDecrypt(nil, cipher.Classify(opDecrypt, err))
		return
	}

	s.attempt(handler, &cipher.DecryptionContext{
		Alias:     safeAlias,
		Key:       key,
		Username:  username,
		Password:  password,
		Remaining: remaining,
	})
}

// RetryDecrypt re-enters the decrypt attempt with the context's
// already-extracted key after the caller obtained authentication. Key
// extraction is never repeated here.
func (s *RSABiometric) RetryDecrypt(_ context.Context, handler cipher.DecryptionHandler, dc *cipher.DecryptionContext) {
	if dc == nil || dc.Key == nil {
		handler.OnDecrypt(nil, cipher.NewError(cipher.KindKeyStoreAccess, opDecrypt,
			errors.New("retry context has no extracted key")))
		return
	}
	s.attempt(handler, dc)
}

// extractKey obtains a validated private-key handle, threading the attempt
// budget by value. A handle whose metadata shows authentication is not
// actually enforced is regenerated, consuming one attempt; exhaustion is a
// key-store access failure.
func (s *RSABiometric) extractKey(alias string, attempts int) (keystore.PrivateKey, int, error) {
	key, err := s.provider.GetOrCreateKeyPair(s.KeySpec(alias))
	if err != nil {
		s.recordExtraction(ExtractionFailed)
		return nil, attempts, fmt.Errorf("failed to extract key for alias %q: %w", alias, err)
	}

	md, err := s.provider.KeyMetadata(key)
	if err == nil && md.AuthenticationEnforced {
		s.recordExtraction(ExtractionOK)
		return key, attempts, nil
	}
	if err != nil {
		err = fmt.Errorf("%w: failed to read key metadata for alias %q: %w", keystore.ErrInvalidKeySpec, alias, err)
	} else {
		err = fmt.Errorf("%w: key %q does not enforce authentication", keystore.ErrInvalidKeySpec, alias)
	}

	if attempts <= 0 {
		s.recordExtraction(ExtractionFailed)
		return nil, 0, err
	}

	s.logger.WithFields(logrus.Fields{
		"alias": alias,
		"error": err,
	}).Warn("Key failed validation, regenerating")

	if delErr := s.provider.DeleteKey(alias); delErr != nil && !errors.Is(delErr, keystore.ErrKeyNotFound) {
		s.recordExtraction(ExtractionFailed)
		return nil, attempts - 1, fmt.Errorf("failed to regenerate key for alias %q: %w", alias, delErr)
	}
	s.recordExtraction(ExtractionRegenerated)
	return s.extractKey(alias, attempts-1)
}

// attempt runs the decrypt step of the state machine: both ciphertexts
// through the codec, then exactly one handler callback.
func (s *RSABiometric) attempt(handler cipher.DecryptionHandler, dc *cipher.DecryptionContext) {
	username, err := s.codec.Decrypt(dc.Key, dc.Username)
	if err != nil {
		s.deliverFailure(handler, dc, fmt.Errorf("failed to decrypt username: %w", err))
		return
	}
	password, err := s.codec.Decrypt(dc.Key, dc.Password)
	if err != nil {
		s.deliverFailure(handler, dc, fmt.Errorf("failed to decrypt password: %w", err))
		return
	}
	handler.OnDecrypt(&cipher.DecryptionResult{Username: username, Password: password}, nil)
}

// deliverFailure routes the recoverable authentication-required signal to
// AskAccessPermissions while the budget allows; everything else, and
// budget-exhausted auth failures, terminate through OnDecrypt.
func (s *RSABiometric) deliverFailure(handler cipher.DecryptionHandler, dc *cipher.DecryptionContext, err error) {
	if errors.Is(err, keystore.ErrAuthenticationRequired) && dc.Remaining > 0 {
		dc.Remaining--
		s.logger.WithField("alias", dc.Alias).Debug("Key store requires authentication, deferring to caller")
		handler.AskAccessPermissions(dc)
		return
	}
	handler.OnDecrypt(nil, cipher.Classify(opDecrypt, err))
}

var _ cipher.Strategy = (*RSABiometric)(nil)
