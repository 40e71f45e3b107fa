package cipher

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/guided-traffic/credential-cipher/pkg/keystore"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"authentication required", keystore.ErrAuthenticationRequired, KindAuthenticationRequired},
		{"wrapped authentication required", fmt.Errorf("decrypt username: %w", keystore.ErrAuthenticationRequired), KindAuthenticationRequired},
		{"store not loaded", keystore.ErrNotLoaded, KindKeyStoreAccess},
		{"key not found", keystore.ErrKeyNotFound, KindKeyStoreAccess},
		{"empty alias", keystore.ErrAliasEmpty, KindKeyStoreAccess},
		{"invalid key spec", keystore.ErrInvalidKeySpec, KindKeyStoreAccess},
		{"unsupported operation", ErrUnsupportedOperation, KindUnsupportedOperation},
		{"rsa decryption failure", rsa.ErrDecryption, KindCryptoOperation},
		{"rsa message too long", rsa.ErrMessageTooLong, KindCryptoOperation},
		{"unrecognized", errors.New("something else"), KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			classified := Classify("cipher.decrypt", tt.err)
			assert.Equal(t, tt.want, classified.Kind)
			assert.ErrorIs(t, classified, tt.err)
		})
	}
}

func TestClassify_PassThrough(t *testing.T) {
	original := NewError(KindSecurityLevel, "cipher.encrypt", errors.New("tier not provable"))
	classified := Classify("cipher.decrypt", fmt.Errorf("outer: %w", original))
	assert.Same(t, original, classified)
}

func TestKindOf(t *testing.T) {
	err := NewError(KindCryptoOperation, "cipher.decrypt", rsa.ErrDecryption)
	assert.Equal(t, KindCryptoOperation, KindOf(err))
	assert.Equal(t, KindCryptoOperation, KindOf(fmt.Errorf("wrapped: %w", err)))
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.Equal(t, KindUnknown, KindOf(nil))
}

func TestIsAuthenticationRequired(t *testing.T) {
	assert.True(t, IsAuthenticationRequired(keystore.ErrAuthenticationRequired))
	assert.True(t, IsAuthenticationRequired(NewError(KindAuthenticationRequired, "cipher.decrypt", nil)))
	assert.False(t, IsAuthenticationRequired(NewError(KindCryptoOperation, "cipher.decrypt", rsa.ErrDecryption)))
	assert.False(t, IsAuthenticationRequired(errors.New("plain")))
}

func TestError_Strings(t *testing.T) {
	err := NewError(KindKeyStoreAccess, "cipher.decrypt", errors.New("boom"))
	assert.Equal(t, "cipher.decrypt: keystore-access-failure: boom", err.Error())

	bare := NewError(KindUnsupportedOperation, "cipher.decrypt", nil)
	assert.Equal(t, "cipher.decrypt: unsupported-operation", bare.Error())
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "security-level-unsatisfied", KindSecurityLevel.String())
	assert.Equal(t, "keystore-access-failure", KindKeyStoreAccess.String())
	assert.Equal(t, "crypto-operation-failure", KindCryptoOperation.String())
	assert.Equal(t, "authentication-required", KindAuthenticationRequired.String())
	assert.Equal(t, "unsupported-operation", KindUnsupportedOperation.String())
	assert.Equal(t, "unknown-failure", KindUnknown.String())
}
