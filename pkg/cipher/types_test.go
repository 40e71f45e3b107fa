package cipher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecurityLevel_SatisfiedBy(t *testing.T) {
	assert.True(t, LevelAny.SatisfiedBy(LevelAny))
	assert.True(t, LevelAny.SatisfiedBy(LevelSecureHardware))
	assert.True(t, LevelSecureSoftware.SatisfiedBy(LevelSecureHardware))
	assert.True(t, LevelSecureHardware.SatisfiedBy(LevelSecureHardware))

	assert.False(t, LevelSecureHardware.SatisfiedBy(LevelSecureSoftware))
	assert.False(t, LevelSecureSoftware.SatisfiedBy(LevelAny))
}

func TestParseSecurityLevel(t *testing.T) {
	tests := []struct {
		input string
		want  SecurityLevel
	}{
		{"any", LevelAny},
		{"", LevelAny},
		{"secure-software", LevelSecureSoftware},
		{"software", LevelSecureSoftware},
		{"secure-hardware", LevelSecureHardware},
		{"Hardware", LevelSecureHardware},
		{" SECURE-HARDWARE ", LevelSecureHardware},
	}
	for _, tt := range tests {
		level, err := ParseSecurityLevel(tt.input)
		require.NoError(t, err, tt.input)
		assert.Equal(t, tt.want, level, tt.input)
	}

	_, err := ParseSecurityLevel("titanium")
	assert.Error(t, err)
}

func TestDecryptionResult_Zero(t *testing.T) {
	result := &DecryptionResult{
		Username: []byte("alice"),
		Password: []byte("s3cr3t"),
	}
	result.Zero()
	assert.Equal(t, make([]byte, 5), result.Username)
	assert.Equal(t, make([]byte, 6), result.Password)
}
