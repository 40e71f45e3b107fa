package config

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guided-traffic/credential-cipher/pkg/cipher"
)

func TestLoad_Defaults(t *testing.T) {
	viper.Reset()
	setDefaults()

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)

	assert.False(t, cfg.Monitoring.Enabled)
	assert.Equal(t, ":9090", cfg.Monitoring.BindAddress)
	assert.Equal(t, "/metrics", cfg.Monitoring.MetricsPath)

	assert.Equal(t, "config/keystore.sealed", cfg.Keystore.SnapshotPath)
	assert.False(t, cfg.Keystore.HardwareBacked)
	assert.Equal(t, "credential-cipher", cfg.Keystore.GateIssuer)

	assert.Equal(t, "credential-cipher", cfg.Cipher.DefaultAlias)
	assert.Equal(t, 3072, cfg.Cipher.KeySize)
	assert.Equal(t, "any", cfg.Cipher.RequiredLevel)

	level, err := cfg.RequiredLevel()
	require.NoError(t, err)
	assert.Equal(t, cipher.LevelAny, level)
}

func TestLoad_Overrides(t *testing.T) {
	viper.Reset()
	setDefaults()

	viper.Set("log_format", "json")
	viper.Set("keystore.hardware_backed", true)
	viper.Set("cipher.required_level", "secure-hardware")
	viper.Set("cipher.key_size", 4096)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "json", cfg.LogFormat)
	assert.True(t, cfg.Keystore.HardwareBacked)
	assert.Equal(t, 4096, cfg.Cipher.KeySize)

	level, err := cfg.RequiredLevel()
	require.NoError(t, err)
	assert.Equal(t, cipher.LevelSecureHardware, level)
}

func TestProvisionKeySize(t *testing.T) {
	viper.Reset()
	setDefaults()

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3072, cfg.ProvisionKeySize(3072))
	assert.Equal(t, 3072, cfg.ProvisionKeySize(2048))

	viper.Set("cipher.key_size", 4096)
	cfg, err = Load()
	require.NoError(t, err)
	assert.Equal(t, 4096, cfg.ProvisionKeySize(3072))

	viper.Set("cipher.key_size", 2048)
	cfg, err = Load()
	require.NoError(t, err)
	assert.Equal(t, 3072, cfg.ProvisionKeySize(3072), "never below the strategy floor")
}

func TestLoad_InvalidLogFormat(t *testing.T) {
	viper.Reset()
	setDefaults()
	viper.Set("log_format", "xml")

	cfg, err := Load()
	assert.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "log_format")
}

func TestLoad_KeySizeTooSmall(t *testing.T) {
	viper.Reset()
	setDefaults()
	viper.Set("cipher.key_size", 1024)

	cfg, err := Load()
	assert.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "key_size")
}

func TestLoad_UnknownSecurityLevel(t *testing.T) {
	viper.Reset()
	setDefaults()
	viper.Set("cipher.required_level", "titanium")

	cfg, err := Load()
	assert.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "required_level")
}

func TestLoad_EmptyDefaultAlias(t *testing.T) {
	viper.Reset()
	setDefaults()
	viper.Set("cipher.default_alias", "")

	cfg, err := Load()
	assert.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "default_alias")
}

func TestLoad_MonitoringValidation(t *testing.T) {
	viper.Reset()
	setDefaults()
	viper.Set("monitoring.enabled", true)
	viper.Set("monitoring.bind_address", "")

	cfg, err := Load()
	assert.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "monitoring.bind_address")
}
