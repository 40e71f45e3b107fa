package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/guided-traffic/credential-cipher/internal/config"
	"github.com/guided-traffic/credential-cipher/internal/monitoring"
	"github.com/guided-traffic/credential-cipher/pkg/cipher"
	"github.com/guided-traffic/credential-cipher/pkg/cipher/strategies"
	"github.com/guided-traffic/credential-cipher/pkg/keystore"
)

// snapshotPassphraseEnv names the environment variable the sealed key-store
// snapshot passphrase is read from.
const snapshotPassphraseEnv = "CREDCIPHER_SNAPSHOT_PASSPHRASE"

var (
	// Build information injected at build time
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"

	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "credential-cipher",
		Short: "Credential cipher protects username/password pairs with key-store backed RSA keys",
		Long: `Credential cipher encrypts and decrypts username/password pairs with an RSA
key pair generated inside a secure key store. The private key never leaves the
store and is gated behind user authentication: each decrypt requires a freshly
completed authentication, driven through a two-phase handler protocol.

The software key store persists across invocations as a sealed snapshot. Set
` + snapshotPassphraseEnv + ` to the snapshot passphrase.`,
	}
)

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to configuration file (YAML format)")

	rootCmd.AddCommand(newInitCmd())
	rootCmd.AddCommand(newEncryptCmd())
	rootCmd.AddCommand(newDecryptCmd())
	rootCmd.AddCommand(newStrategiesCmd())
	rootCmd.AddCommand(newServeCmd())
}

func initConfig() {
	config.InitConfig(cfgFile)
}

// setupLogging applies the configured log level and format.
func setupLogging(cfg *config.Config) error {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}
	logrus.SetLevel(level)
	if cfg.LogFormat == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}
	return nil
}

// buildStore creates the software key store and restores the sealed snapshot
// when one exists on disk.
func buildStore(cfg *config.Config) (*keystore.SoftwareStore, error) {
	store, err := keystore.NewSoftwareStore(keystore.SoftwareStoreConfig{
		HardwareBacked: cfg.Keystore.HardwareBacked,
		GateIssuer:     cfg.Keystore.GateIssuer,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create key store: %w", err)
	}
	if err := store.Load(); err != nil {
		return nil, fmt.Errorf("failed to load key store: %w", err)
	}

	sealed, err := os.ReadFile(cfg.Keystore.SnapshotPath)
	if os.IsNotExist(err) {
		return store, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read key store snapshot: %w", err)
	}
	passphrase := os.Getenv(snapshotPassphraseEnv)
	if passphrase == "" {
		return nil, fmt.Errorf("%s must be set to restore the key store snapshot", snapshotPassphraseEnv)
	}
	if err := store.Restore(sealed, []byte(passphrase)); err != nil {
		return nil, fmt.Errorf("failed to restore key store snapshot: %w", err)
	}
	return store, nil
}

// persistStore writes a sealed snapshot of the store next to the configured
// path.
func persistStore(cfg *config.Config, store *keystore.SoftwareStore) error {
	passphrase := os.Getenv(snapshotPassphraseEnv)
	if passphrase == "" {
		return fmt.Errorf("%s must be set to persist the key store snapshot", snapshotPassphraseEnv)
	}
	sealed, err := store.Export([]byte(passphrase))
	if err != nil {
		return fmt.Errorf("failed to export key store snapshot: %w", err)
	}
	if err := os.WriteFile(cfg.Keystore.SnapshotPath, sealed, 0o600); err != nil {
		return fmt.Errorf("failed to write key store snapshot: %w", err)
	}
	return nil
}

// buildRegistry wires the available strategies on top of store.
func buildRegistry(store *keystore.SoftwareStore) (*strategies.Registry, error) {
	registry := strategies.NewRegistry()
	rsaStrategy, err := strategies.NewRSABiometric(store)
	if err != nil {
		return nil, err
	}
	if err := registry.Register(rsaStrategy); err != nil {
		return nil, err
	}
	rsaStrategy.ObserveExtractions(func(status string) {
		monitoring.RecordKeyExtraction(rsaStrategy.Name(), status)
	})
	for _, info := range registry.Describe() {
		monitoring.SetStrategyInfo(info.Name, info.MinPlatformVersion, info.AuthenticationGated)
	}
	return registry, nil
}

type cliSetup struct {
	cfg      *config.Config
	store    *keystore.SoftwareStore
	registry *strategies.Registry
	level    cipher.SecurityLevel
}

func setup() (*cliSetup, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := setupLogging(cfg); err != nil {
		return nil, err
	}
	store, err := buildStore(cfg)
	if err != nil {
		return nil, err
	}
	registry, err := buildRegistry(store)
	if err != nil {
		return nil, err
	}
	level, err := cfg.RequiredLevel()
	if err != nil {
		return nil, err
	}
	return &cliSetup{cfg: cfg, store: store, registry: registry, level: level}, nil
}

// encryptedCredentials is the JSON document emitted by encrypt and consumed
// by decrypt.
type encryptedCredentials struct {
	Strategy string `json:"strategy"`
	Alias    string `json:"alias"`
	Username string `json:"username"`
	Password string `json:"password"`
}

func newInitCmd() *cobra.Command {
	var alias string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Provision a key pair and write the sealed key-store snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := setup()
			if err != nil {
				return err
			}
			if alias == "" {
				alias = s.cfg.Cipher.DefaultAlias
			}

			strategy, err := s.registry.Get(strategies.StrategyNameRSABiometric)
			if err != nil {
				return err
			}
			rsaStrategy := strategy.(*strategies.RSABiometric)
			spec := rsaStrategy.KeySpec(alias)
			spec.KeySize = s.cfg.ProvisionKeySize(spec.KeySize)
			key, err := s.store.GetOrCreateKeyPair(spec)
			if err != nil {
				return fmt.Errorf("failed to provision key pair: %w", err)
			}
			md, err := s.store.KeyMetadata(key)
			if err != nil {
				return fmt.Errorf("failed to read key metadata: %w", err)
			}

			if err := persistStore(s.cfg, s.store); err != nil {
				return err
			}

			logrus.WithFields(logrus.Fields{
				"alias":    alias,
				"key_size": md.KeySize,
				"gated":    md.AuthenticationEnforced,
				"snapshot": s.cfg.Keystore.SnapshotPath,
			}).Info("Key store initialized")
			return nil
		},
	}

	cmd.Flags().StringVar(&alias, "alias", "", "key alias (defaults to the configured alias)")
	return cmd
}

func newEncryptCmd() *cobra.Command {
	var alias, username, password string

	cmd := &cobra.Command{
		Use:   "encrypt",
		Short: "Encrypt a username/password pair",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := setup()
			if err != nil {
				return err
			}

			strategy, err := s.registry.Get(strategies.StrategyNameRSABiometric)
			if err != nil {
				return err
			}

			start := time.Now()
			result, err := strategy.Encrypt(cmd.Context(), alias, []byte(username), []byte(password), s.level)
			if err != nil {
				monitoring.RecordEncryptOperation(strategy.Name(), "failure", time.Since(start))
				return fmt.Errorf("encrypt failed: %w", err)
			}
			monitoring.RecordEncryptOperation(strategy.Name(), "success", time.Since(start))

			if err := persistStore(s.cfg, s.store); err != nil {
				return err
			}

			doc := encryptedCredentials{
				Strategy: result.Strategy,
				Alias:    alias,
				Username: base64.StdEncoding.EncodeToString(result.Username),
				Password: base64.StdEncoding.EncodeToString(result.Password),
			}
			return json.NewEncoder(cmd.OutOrStdout()).Encode(doc)
		},
	}

	cmd.Flags().StringVar(&alias, "alias", "", "key alias (defaults to the configured alias)")
	cmd.Flags().StringVar(&username, "username", "", "username to encrypt")
	cmd.Flags().StringVar(&password, "password", "", "password to encrypt")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

// ceremonyHandler drives the two-phase decrypt protocol from the CLI. When
// the strategy asks for access permissions it completes a local attestation
// ceremony against the store's gate and retries. Retries go back through
// retryWith so outer handler decoration stays in the loop.
type ceremonyHandler struct {
	ctx       context.Context
	strategy  cipher.Strategy
	gate      *keystore.AuthGate
	logger    *logrus.Entry
	retryWith cipher.DecryptionHandler

	result *cipher.DecryptionResult
	err    error
}

func (h *ceremonyHandler) OnDecrypt(result *cipher.DecryptionResult, err error) {
	h.result = result
	h.err = err
}

func (h *ceremonyHandler) AskAccessPermissions(dc *cipher.DecryptionContext) {
	h.logger.WithField("alias", dc.Alias).Info("Authentication required, running ceremony")

	token, err := h.gate.Attest("fingerprint")
	if err == nil {
		err = h.gate.Submit(token)
	}
	if err != nil {
		h.err = cipher.NewError(cipher.KindAuthenticationRequired, "cipher.decrypt",
			fmt.Errorf("authentication ceremony failed: %w", err))
		return
	}

	next := h.retryWith
	if next == nil {
		next = cipher.DecryptionHandler(h)
	}
	h.strategy.RetryDecrypt(h.ctx, next, dc)
}

func newDecryptCmd() *cobra.Command {
	var input string

	cmd := &cobra.Command{
		Use:   "decrypt",
		Short: "Decrypt an encrypted credential document",
		Long: `Decrypt reads the JSON document produced by encrypt, runs the two-phase
decrypt protocol, and completes the authentication ceremony locally when the
key store demands one.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := setup()
			if err != nil {
				return err
			}

			data, err := os.ReadFile(input)
			if err != nil {
				return fmt.Errorf("failed to read credential document: %w", err)
			}
			var doc encryptedCredentials
			if err := json.Unmarshal(data, &doc); err != nil {
				return fmt.Errorf("failed to parse credential document: %w", err)
			}
			usernameCT, err := base64.StdEncoding.DecodeString(doc.Username)
			if err != nil {
				return fmt.Errorf("invalid username ciphertext: %w", err)
			}
			passwordCT, err := base64.StdEncoding.DecodeString(doc.Password)
			if err != nil {
				return fmt.Errorf("invalid password ciphertext: %w", err)
			}

			strategy, err := s.registry.Get(doc.Strategy)
			if err != nil {
				return err
			}

			handler := &ceremonyHandler{
				ctx:      cmd.Context(),
				strategy: strategy,
				gate:     s.store.Gate(),
				logger:   logrus.WithField("component", "decrypt-cli"),
			}
			instrumented := monitoring.InstrumentHandler(strategy.Name(), handler)
			handler.retryWith = instrumented
			strategy.Decrypt(cmd.Context(), instrumented, doc.Alias, usernameCT, passwordCT, s.level)

			if handler.err != nil {
				return fmt.Errorf("decrypt failed: %w", handler.err)
			}
			defer handler.result.Zero()

			out := map[string]string{
				"username": string(handler.result.Username),
				"password": string(handler.result.Password),
			}
			return json.NewEncoder(cmd.OutOrStdout()).Encode(out)
		},
	}

	cmd.Flags().StringVar(&input, "input", "", "path to the encrypted credential document")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func newStrategiesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "strategies",
		Short: "List registered cipher strategies and their capabilities",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := setup()
			if err != nil {
				return err
			}
			return json.NewEncoder(cmd.OutOrStdout()).Encode(s.registry.Describe())
		},
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the monitoring server",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := setup()
			if err != nil {
				return err
			}
			if !s.cfg.Monitoring.Enabled {
				return fmt.Errorf("monitoring is disabled, enable monitoring.enabled to serve")
			}

			logrus.WithFields(logrus.Fields{
				"version":   version,
				"commit":    commit,
				"buildTime": buildTime,
			}).Info("Credential cipher build information")
			monitoring.SetServerInfo(version, commit, buildTime)

			server := monitoring.NewServer(&monitoring.Config{
				BindAddress: s.cfg.Monitoring.BindAddress,
				MetricsPath: s.cfg.Monitoring.MetricsPath,
			}, s.registry)

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sigChan
				logrus.Info("Received shutdown signal, gracefully shutting down...")
				cancel()
			}()

			return server.Start(ctx)
		},
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
