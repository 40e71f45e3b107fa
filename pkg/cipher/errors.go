package cipher

import (
	"crypto/rsa"
	"errors"
	"fmt"

	"github.com/guided-traffic/credential-cipher/pkg/keystore"
)

// Kind partitions every failure a strategy can surface into a small, stable
// taxonomy. Only KindAuthenticationRequired is recoverable.
type Kind int

const (
	// KindUnknown wraps any unclassified underlying failure, preserving the
	// original cause for diagnostics.
	KindUnknown Kind = iota

	// KindSecurityLevel means the caller requested a trust tier this
	// strategy cannot prove. Raised before any key-store access.
	KindSecurityLevel

	// KindKeyStoreAccess means the store could not be loaded, or the
	// alias's key is missing or invalid beyond the retry budget.
	KindKeyStoreAccess

	// KindCryptoOperation covers algorithm, padding, and key-format
	// failures unrelated to authentication.
	KindCryptoOperation

	// KindAuthenticationRequired means the private key is valid but has not
	// been authenticated within its validity window. Drives the
	// AskAccessPermissions branch instead of a failure callback.
	KindAuthenticationRequired

	// KindUnsupportedOperation flags a synchronous decrypt on a strategy
	// that mandates the asynchronous authenticated path.
	KindUnsupportedOperation
)

func (k Kind) String() string {
	switch k {
	case KindSecurityLevel:
		return "security-level-unsatisfied"
	case KindKeyStoreAccess:
		return "keystore-access-failure"
	case KindCryptoOperation:
		return "crypto-operation-failure"
	case KindAuthenticationRequired:
		return "authentication-required"
	case KindUnsupportedOperation:
		return "unsupported-operation"
	default:
		return "unknown-failure"
	}
}

// ErrUnsupportedOperation is the cause carried by KindUnsupportedOperation
// errors.
var ErrUnsupportedOperation = errors.New("cipher: operation not supported by this strategy")

// Error is a classified strategy failure. Op names the failing operation,
// Err preserves the underlying cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds a classified error without inference.
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Classify maps an underlying failure onto the taxonomy. Already-classified
// errors pass through unchanged; everything unrecognized falls back to
// KindUnknown with the cause preserved.
func Classify(op string, err error) *Error {
	var ce *Error
	if errors.As(err, &ce) {
		return ce
	}

	switch {
	case errors.Is(err, keystore.ErrAuthenticationRequired):
		return &Error{Kind: KindAuthenticationRequired, Op: op, Err: err}
	case errors.Is(err, keystore.ErrNotLoaded),
		errors.Is(err, keystore.ErrKeyNotFound),
		errors.Is(err, keystore.ErrAliasEmpty),
		errors.Is(err, keystore.ErrInvalidKeySpec):
		return &Error{Kind: KindKeyStoreAccess, Op: op, Err: err}
	case errors.Is(err, ErrUnsupportedOperation):
		return &Error{Kind: KindUnsupportedOperation, Op: op, Err: err}
	case errors.Is(err, rsa.ErrDecryption), errors.Is(err, rsa.ErrMessageTooLong), errors.Is(err, rsa.ErrVerification):
		return &Error{Kind: KindCryptoOperation, Op: op, Err: err}
	default:
		return &Error{Kind: KindUnknown, Op: op, Err: err}
	}
}

// KindOf extracts the classification of err, or KindUnknown for unclassified
// errors.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindUnknown
}

// IsAuthenticationRequired reports whether err is the recoverable
// authentication-required condition, classified or raw.
func IsAuthenticationRequired(err error) bool {
	return KindOf(err) == KindAuthenticationRequired ||
		errors.Is(err, keystore.ErrAuthenticationRequired)
}
