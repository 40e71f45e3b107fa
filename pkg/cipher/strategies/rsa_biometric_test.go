package strategies

import (
	"context"
	"crypto"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guided-traffic/credential-cipher/pkg/cipher"
	"github.com/guided-traffic/credential-cipher/pkg/keystore"
)

// countingProvider wraps a Provider and counts every call that touches the
// store.
type countingProvider struct {
	inner keystore.Provider

	loadCalls     int
	getOrCreate   int
	publicKey     int
	metadataCalls int
	deleteCalls   int
}

func (p *countingProvider) Load() error {
	p.loadCalls++
	return p.inner.Load()
}

func (p *countingProvider) GetOrCreateKeyPair(spec keystore.KeyGenSpec) (keystore.PrivateKey, error) {
	p.getOrCreate++
	return p.inner.GetOrCreateKeyPair(spec)
}

func (p *countingProvider) PublicKey(alias string) (crypto.PublicKey, error) {
	p.publicKey++
	return p.inner.PublicKey(alias)
}

func (p *countingProvider) KeyMetadata(key keystore.PrivateKey) (keystore.KeyMetadata, error) {
	p.metadataCalls++
	return p.inner.KeyMetadata(key)
}

func (p *countingProvider) DeleteKey(alias string) error {
	p.deleteCalls++
	return p.inner.DeleteKey(alias)
}

func (p *countingProvider) HardwareBacked() bool {
	return p.inner.HardwareBacked()
}

func (p *countingProvider) storeCalls() int {
	return p.loadCalls + p.getOrCreate + p.publicKey + p.metadataCalls + p.deleteCalls
}

// brokenMetadataProvider fails every KeyMetadata call.
type brokenMetadataProvider struct {
	keystore.Provider
	metadataCalls int
}

func (p *brokenMetadataProvider) KeyMetadata(keystore.PrivateKey) (keystore.KeyMetadata, error) {
	p.metadataCalls++
	return keystore.KeyMetadata{}, errors.New("metadata unavailable")
}

// recordingHandler captures the decrypt protocol callbacks. When retry is
// set, AskAccessPermissions completes a gate ceremony (if authenticate is
// set) and re-enters via RetryDecrypt.
type recordingHandler struct {
	t            *testing.T
	strategy     cipher.Strategy
	gate         *keystore.AuthGate
	retry        bool
	authenticate bool

	askCalls       int
	lastContext    *cipher.DecryptionContext
	onDecryptCalls int
	result         *cipher.DecryptionResult
	err            error
}

func (h *recordingHandler) OnDecrypt(result *cipher.DecryptionResult, err error) {
	h.onDecryptCalls++
	h.result = result
	h.err = err
}

func (h *recordingHandler) AskAccessPermissions(dc *cipher.DecryptionContext) {
	h.askCalls++
	h.lastContext = dc
	if !h.retry {
		return
	}
	if h.authenticate {
		token, err := h.gate.Attest("biometric")
		require.NoError(h.t, err)
		require.NoError(h.t, h.gate.Submit(token))
	}
	h.strategy.RetryDecrypt(context.Background(), h, dc)
}

func newTestStrategy(t *testing.T, hardwareBacked bool) (*RSABiometric, *keystore.SoftwareStore) {
	t.Helper()
	store, err := keystore.NewSoftwareStore(keystore.SoftwareStoreConfig{HardwareBacked: hardwareBacked})
	require.NoError(t, err)
	strategy, err := NewRSABiometric(store)
	require.NoError(t, err)
	return strategy, store
}

func TestRSABiometric_Capabilities(t *testing.T) {
	strategy, _ := newTestStrategy(t, false)

	assert.Equal(t, StrategyNameRSABiometric, strategy.Name())
	assert.Equal(t, 23, strategy.MinPlatformVersion())
	assert.True(t, strategy.SupportsAuthenticationGate())
	assert.Equal(t, cipher.LevelSecureSoftware, strategy.ProvableLevel())

	hardware, _ := newTestStrategy(t, true)
	assert.Equal(t, cipher.LevelSecureHardware, hardware.ProvableLevel())
}

func TestRSABiometric_KeySpec(t *testing.T) {
	strategy, _ := newTestStrategy(t, false)
	spec := strategy.KeySpec("acct1")

	assert.Equal(t, "acct1", spec.Alias)
	assert.Equal(t, keystore.PurposeEncrypt|keystore.PurposeDecrypt, spec.Purposes)
	assert.Equal(t, 3072, spec.KeySize)
	assert.True(t, spec.RandomizedEncryption)
	assert.True(t, spec.AuthenticationRequired)
	assert.Equal(t, time.Second, spec.AuthValidity)
}

func TestRSABiometric_EncryptDecryptRoundTrip(t *testing.T) {
	strategy, store := newTestStrategy(t, false)

	result, err := strategy.Encrypt(context.Background(), "acct1", []byte("alice"), []byte("s3cr3t"), cipher.LevelAny)
	require.NoError(t, err)
	assert.Equal(t, StrategyNameRSABiometric, result.Strategy)
	assert.NotEqual(t, []byte("alice"), result.Username)
	assert.NotEqual(t, []byte("s3cr3t"), result.Password)

	handler := &recordingHandler{t: t, strategy: strategy, gate: store.Gate(), retry: true, authenticate: true}
	strategy.Decrypt(context.Background(), handler, "acct1", result.Username, result.Password, cipher.LevelAny)

	require.NotNil(t, handler.result)
	require.NoError(t, handler.err)
	assert.Equal(t, []byte("alice"), handler.result.Username)
	assert.Equal(t, []byte("s3cr3t"), handler.result.Password)
	assert.Equal(t, 1, handler.askCalls, "one authentication ceremony per decrypt")
	assert.Equal(t, 1, handler.onDecryptCalls)
}

func TestRSABiometric_EncryptRandomized(t *testing.T) {
	strategy, _ := newTestStrategy(t, false)

	first, err := strategy.Encrypt(context.Background(), "acct1", []byte("alice"), []byte("s3cr3t"), cipher.LevelAny)
	require.NoError(t, err)
	second, err := strategy.Encrypt(context.Background(), "acct1", []byte("alice"), []byte("s3cr3t"), cipher.LevelAny)
	require.NoError(t, err)

	assert.NotEqual(t, first.Username, second.Username)
	assert.NotEqual(t, first.Password, second.Password)
}

func TestRSABiometric_SecurityLevelGate(t *testing.T) {
	store, err := keystore.NewSoftwareStore(keystore.SoftwareStoreConfig{})
	require.NoError(t, err)
	counting := &countingProvider{inner: store}
	strategy, err := NewRSABiometric(counting)
	require.NoError(t, err)

	t.Run("encrypt refuses unprovable tier", func(t *testing.T) {
		_, err := strategy.Encrypt(context.Background(), "acct1", []byte("u"), []byte("p"), cipher.LevelSecureHardware)
		require.Error(t, err)
		assert.Equal(t, cipher.KindSecurityLevel, cipher.KindOf(err))
		assert.Equal(t, 0, counting.storeCalls(), "level check must precede any store access")
	})

	t.Run("decrypt refuses unprovable tier", func(t *testing.T) {
		handler := &recordingHandler{t: t}
		strategy.Decrypt(context.Background(), handler, "acct1", []byte("ct"), []byte("ct"), cipher.LevelSecureHardware)
		require.Error(t, handler.err)
		assert.Equal(t, cipher.KindSecurityLevel, cipher.KindOf(handler.err))
		assert.Nil(t, handler.result)
		assert.Equal(t, 0, handler.askCalls)
		assert.Equal(t, 0, counting.storeCalls())
	})

	t.Run("sync decrypt refuses unprovable tier", func(t *testing.T) {
		_, err := strategy.DecryptSync(context.Background(), "acct1", []byte("ct"), []byte("ct"), cipher.LevelSecureHardware)
		require.Error(t, err)
		assert.Equal(t, cipher.KindSecurityLevel, cipher.KindOf(err))
		assert.Equal(t, 0, counting.storeCalls())
	})
}

func TestRSABiometric_DecryptSyncUnsupported(t *testing.T) {
	strategy, _ := newTestStrategy(t, false)

	result, err := strategy.DecryptSync(context.Background(), "acct1", []byte("ct"), []byte("ct"), cipher.LevelAny)
	assert.Nil(t, result)
	require.Error(t, err)
	assert.Equal(t, cipher.KindUnsupportedOperation, cipher.KindOf(err))
	assert.ErrorIs(t, err, cipher.ErrUnsupportedOperation)
}

func TestRSABiometric_AuthenticationPrompt(t *testing.T) {
	strategy, store := newTestStrategy(t, false)

	encrypted, err := strategy.Encrypt(context.Background(), "acct1", []byte("alice"), []byte("s3cr3t"), cipher.LevelAny)
	require.NoError(t, err)

	// Do not retry: inspect the prompt context itself.
	handler := &recordingHandler{t: t}
	strategy.Decrypt(context.Background(), handler, "acct1", encrypted.Username, encrypted.Password, cipher.LevelAny)

	assert.Equal(t, 1, handler.askCalls)
	assert.Equal(t, 0, handler.onDecryptCalls, "a prompt is not a terminal outcome")
	require.NotNil(t, handler.lastContext)
	assert.Equal(t, "acct1", handler.lastContext.Alias)
	assert.NotNil(t, handler.lastContext.Key)
	assert.Equal(t, encrypted.Username, handler.lastContext.Username)
	assert.Equal(t, encrypted.Password, handler.lastContext.Password)
	assert.Equal(t, 0, handler.lastContext.Remaining, "the single prompt consumes the budget")

	// Completing the ceremony and retrying recovers the credentials.
	token, err := store.Gate().Attest("biometric")
	require.NoError(t, err)
	require.NoError(t, store.Gate().Submit(token))

	strategy.RetryDecrypt(context.Background(), handler, handler.lastContext)
	require.NoError(t, handler.err)
	require.NotNil(t, handler.result)
	assert.Equal(t, []byte("alice"), handler.result.Username)
	assert.Equal(t, 1, handler.askCalls, "no second prompt after a successful ceremony")
}

func TestRSABiometric_RetryWithoutAuthenticationFails(t *testing.T) {
	strategy, store := newTestStrategy(t, false)

	encrypted, err := strategy.Encrypt(context.Background(), "acct1", []byte("alice"), []byte("s3cr3t"), cipher.LevelAny)
	require.NoError(t, err)

	// Retry immediately without satisfying the gate: the budget allows a
	// single prompt, so the second auth failure is terminal.
	handler := &recordingHandler{t: t, strategy: strategy, gate: store.Gate(), retry: true, authenticate: false}
	strategy.Decrypt(context.Background(), handler, "acct1", encrypted.Username, encrypted.Password, cipher.LevelAny)

	assert.Equal(t, 1, handler.askCalls)
	assert.Equal(t, 1, handler.onDecryptCalls)
	assert.Nil(t, handler.result)
	require.Error(t, handler.err)
	assert.Equal(t, cipher.KindAuthenticationRequired, cipher.KindOf(handler.err))
}

func TestRSABiometric_RetryDecryptRejectsBadContext(t *testing.T) {
	strategy, _ := newTestStrategy(t, false)

	handler := &recordingHandler{t: t}
	strategy.RetryDecrypt(context.Background(), handler, nil)
	require.Error(t, handler.err)
	assert.Equal(t, cipher.KindKeyStoreAccess, cipher.KindOf(handler.err))

	handler = &recordingHandler{t: t}
	strategy.RetryDecrypt(context.Background(), handler, &cipher.DecryptionContext{Alias: "acct1"})
	require.Error(t, handler.err)
	assert.Equal(t, cipher.KindKeyStoreAccess, cipher.KindOf(handler.err))
}

func TestRSABiometric_KeyExtractionBudget(t *testing.T) {
	store, err := keystore.NewSoftwareStore(keystore.SoftwareStoreConfig{})
	require.NoError(t, err)
	require.NoError(t, store.Load())
	broken := &brokenMetadataProvider{Provider: store}
	strategy, err := NewRSABiometric(broken)
	require.NoError(t, err)

	handler := &recordingHandler{t: t}
	strategy.Decrypt(context.Background(), handler, "acct1", []byte("ct"), []byte("ct"), cipher.LevelAny)

	require.Error(t, handler.err)
	assert.Equal(t, cipher.KindKeyStoreAccess, cipher.KindOf(handler.err))
	assert.Nil(t, handler.result)
	assert.Equal(t, 0, handler.askCalls)
	assert.Equal(t, 2, broken.metadataCalls, "one regeneration beyond the initial extraction, no more")
}

func TestRSABiometric_ExtractionObserver(t *testing.T) {
	strategy, _ := newTestStrategy(t, false)

	var statuses []string
	strategy.ObserveExtractions(func(status string) {
		statuses = append(statuses, status)
	})

	encrypted, err := strategy.Encrypt(context.Background(), "acct1", []byte("alice"), []byte("s3cr3t"), cipher.LevelAny)
	require.NoError(t, err)
	assert.Empty(t, statuses, "encryption never extracts the private key")

	handler := &recordingHandler{t: t}
	strategy.Decrypt(context.Background(), handler, "acct1", encrypted.Username, encrypted.Password, cipher.LevelAny)
	assert.Equal(t, []string{ExtractionOK}, statuses)

	// A store whose keys never validate reports the regeneration and the
	// exhausted final attempt.
	store, err := keystore.NewSoftwareStore(keystore.SoftwareStoreConfig{})
	require.NoError(t, err)
	broken := &brokenMetadataProvider{Provider: store}
	brokenStrategy, err := NewRSABiometric(broken)
	require.NoError(t, err)

	statuses = nil
	brokenStrategy.ObserveExtractions(func(status string) {
		statuses = append(statuses, status)
	})
	handler = &recordingHandler{t: t}
	brokenStrategy.Decrypt(context.Background(), handler, "acct1", []byte("ct"), []byte("ct"), cipher.LevelAny)
	assert.Equal(t, []string{ExtractionRegenerated, ExtractionFailed}, statuses)
}

func TestRSABiometric_NoReExtractionOnRetry(t *testing.T) {
	store, err := keystore.NewSoftwareStore(keystore.SoftwareStoreConfig{})
	require.NoError(t, err)
	counting := &countingProvider{inner: store}
	strategy, err := NewRSABiometric(counting)
	require.NoError(t, err)

	encrypted, err := strategy.Encrypt(context.Background(), "acct1", []byte("alice"), []byte("s3cr3t"), cipher.LevelAny)
	require.NoError(t, err)

	handler := &recordingHandler{t: t}
	strategy.Decrypt(context.Background(), handler, "acct1", encrypted.Username, encrypted.Password, cipher.LevelAny)
	require.Equal(t, 1, handler.askCalls)

	extractions := counting.getOrCreate

	token, err := store.Gate().Attest("biometric")
	require.NoError(t, err)
	require.NoError(t, store.Gate().Submit(token))
	strategy.RetryDecrypt(context.Background(), handler, handler.lastContext)

	require.NoError(t, handler.err)
	assert.Equal(t, extractions, counting.getOrCreate, "retry must reuse the already-extracted key")
	assert.Equal(t, 0, counting.deleteCalls)
}

func TestRSABiometric_MalformedCiphertext(t *testing.T) {
	strategy, store := newTestStrategy(t, false)

	encrypted, err := strategy.Encrypt(context.Background(), "acct1", []byte("alice"), []byte("s3cr3t"), cipher.LevelAny)
	require.NoError(t, err)

	// Satisfy the gate up front so the failure is purely cryptographic.
	token, err := store.Gate().Attest("biometric")
	require.NoError(t, err)
	require.NoError(t, store.Gate().Submit(token))

	corrupted := make([]byte, len(encrypted.Username))
	copy(corrupted, encrypted.Username)
	corrupted[0] ^= 0xff

	handler := &recordingHandler{t: t}
	strategy.Decrypt(context.Background(), handler, "acct1", corrupted, encrypted.Password, cipher.LevelAny)

	require.Error(t, handler.err)
	assert.Equal(t, cipher.KindCryptoOperation, cipher.KindOf(handler.err))
	assert.Nil(t, handler.result, "no partial result on a failed credential")
	assert.Equal(t, 0, handler.askCalls)
}

func TestRSABiometric_DefaultAlias(t *testing.T) {
	strategy, store := newTestStrategy(t, false)

	encrypted, err := strategy.Encrypt(context.Background(), "", []byte("alice"), []byte("s3cr3t"), cipher.LevelAny)
	require.NoError(t, err)

	handler := &recordingHandler{t: t, strategy: strategy, gate: store.Gate(), retry: true, authenticate: true}
	strategy.Decrypt(context.Background(), handler, "", encrypted.Username, encrypted.Password, cipher.LevelAny)

	require.NoError(t, handler.err)
	require.NotNil(t, handler.result)
	assert.Equal(t, []byte("alice"), handler.result.Username)
}

func TestRSABiometric_HardwareScenario(t *testing.T) {
	strategy, store := newTestStrategy(t, true)

	encrypted, err := strategy.Encrypt(context.Background(), "acct1", []byte("alice"), []byte("s3cr3t"), cipher.LevelSecureHardware)
	require.NoError(t, err)

	handler := &recordingHandler{t: t, strategy: strategy, gate: store.Gate(), retry: true, authenticate: true}
	strategy.Decrypt(context.Background(), handler, "acct1", encrypted.Username, encrypted.Password, cipher.LevelSecureHardware)

	require.NoError(t, handler.err)
	require.NotNil(t, handler.result)
	assert.Equal(t, []byte("alice"), handler.result.Username)
	assert.Equal(t, []byte("s3cr3t"), handler.result.Password)
	assert.Equal(t, 1, handler.askCalls)
}

func TestNewRSABiometric_RequiresProvider(t *testing.T) {
	_, err := NewRSABiometric(nil)
	assert.Error(t, err)
}

func TestRSABiometric_CancelledContext(t *testing.T) {
	strategy, _ := newTestStrategy(t, false)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := strategy.Encrypt(ctx, "acct1", []byte("u"), []byte("p"), cipher.LevelAny)
	assert.Error(t, err)

	handler := &recordingHandler{t: t}
	strategy.Decrypt(ctx, handler, "acct1", []byte("ct"), []byte("ct"), cipher.LevelAny)
	assert.Error(t, handler.err)
	assert.Equal(t, 0, handler.askCalls)
}
