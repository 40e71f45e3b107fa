// Package cipher defines the contract for credential cipher strategies: how
// a username/password pair is encrypted and decrypted, and the two-phase
// callback protocol used when a strategy's private key is gated behind user
// authentication.
package cipher

import (
	"context"
)

// Strategy protects a pair of credential secrets with a particular cipher and
// key policy. Strategies are registered by name; which one is selected for a
// device is decided by a policy layer outside this package.
type Strategy interface {
	// Encrypt protects username and password independently under the key
	// pair named by alias, provisioning it when absent. Public-key
	// operations never require user authentication, so Encrypt completes
	// synchronously.
	Encrypt(ctx context.Context, alias string, username, password []byte, level SecurityLevel) (*EncryptionResult, error)

	// DecryptSync is the synchronous decrypt variant. Strategies whose
	// private key is authentication-gated do not support it and fail with
	// ErrUnsupportedOperation after re-validating the requested level.
	DecryptSync(ctx context.Context, alias string, username, password []byte, level SecurityLevel) (*DecryptionResult, error)

	// Decrypt recovers both credentials and delivers the outcome through
	// handler; nothing is returned across this call boundary. When the
	// key's authentication window is not satisfied the handler receives
	// AskAccessPermissions with a context that RetryDecrypt accepts after
	// the caller completes an authentication ceremony.
	Decrypt(ctx context.Context, handler DecryptionHandler, alias string, username, password []byte, level SecurityLevel)

	// RetryDecrypt re-runs only the decrypt attempt using the context's
	// already-extracted key. It never re-extracts key material and is
	// bounded by the original call's retry budget.
	RetryDecrypt(ctx context.Context, handler DecryptionHandler, dc *DecryptionContext)

	// Name returns the strategy's stable identifier, recorded in
	// EncryptionResult so later decrypts pick the matching strategy.
	Name() string

	// MinPlatformVersion is the minimum platform capability level this
	// strategy requires, for the external selection policy.
	MinPlatformVersion() int

	// SupportsAuthenticationGate reports whether decryption requires a
	// fresh user authentication event.
	SupportsAuthenticationGate() bool
}

// DecryptionHandler receives the outcome of a Decrypt call. Exactly one of
// the two methods is invoked per attempt.
type DecryptionHandler interface {
	// OnDecrypt delivers the terminal outcome: a result on success, or a
	// classified *Error on failure. Never both.
	OnDecrypt(result *DecryptionResult, err error)

	// AskAccessPermissions hands control back so the caller can drive an
	// authentication ceremony and then invoke RetryDecrypt with dc.
	AskAccessPermissions(dc *DecryptionContext)
}
