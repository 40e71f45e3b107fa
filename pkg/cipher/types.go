package cipher

import (
	"fmt"
	"strings"

	"github.com/guided-traffic/credential-cipher/pkg/keystore"
)

// SecurityLevel is the minimum trust tier a caller requires from a strategy.
// Levels are ordered; a strategy refuses to operate when it cannot prove the
// requested tier.
type SecurityLevel int

const (
	// LevelAny accepts whatever protection the strategy offers.
	LevelAny SecurityLevel = iota

	// LevelSecureSoftware requires key material protected by software
	// isolation at minimum.
	LevelSecureSoftware

	// LevelSecureHardware requires key material held in a hardware element.
	LevelSecureHardware
)

func (l SecurityLevel) String() string {
	switch l {
	case LevelAny:
		return "any"
	case LevelSecureSoftware:
		return "secure-software"
	case LevelSecureHardware:
		return "secure-hardware"
	default:
		return fmt.Sprintf("security-level(%d)", int(l))
	}
}

// SatisfiedBy reports whether a strategy proving actual meets the requested
// level l.
func (l SecurityLevel) SatisfiedBy(actual SecurityLevel) bool {
	return actual >= l
}

// ParseSecurityLevel parses the configuration spelling of a level.
func ParseSecurityLevel(s string) (SecurityLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "any", "":
		return LevelAny, nil
	case "secure-software", "software":
		return LevelSecureSoftware, nil
	case "secure-hardware", "hardware":
		return LevelSecureHardware, nil
	default:
		return LevelAny, fmt.Errorf("unknown security level %q", s)
	}
}

// EncryptionResult holds the two independently produced ciphertexts and the
// name of the strategy that produced them. Immutable once returned; owned by
// the caller.
type EncryptionResult struct {
	Username []byte
	Password []byte

	// Strategy names the producing strategy so a later decrypt selects the
	// matching codec and key policy.
	Strategy string
}

// DecryptionResult holds both recovered cleartexts. Callers should discard it
// promptly; Zero helps.
type DecryptionResult struct {
	Username []byte
	Password []byte
}

// Zero overwrites the cleartext buffers.
func (r *DecryptionResult) Zero() {
	for i := range r.Username {
		r.Username[i] = 0
	}
	for i := range r.Password {
		r.Password[i] = 0
	}
}

// DecryptionContext captures exactly the state needed to retry a decrypt
// after the caller obtains user authentication: the resolved alias, the
// already-extracted (and proven valid) key handle, and both original
// ciphertexts. It is consumed by at most one RetryDecrypt invocation.
type DecryptionContext struct {
	Alias    string
	Key      keystore.PrivateKey
	Username []byte
	Password []byte

	// Remaining is what is left of the call's retry budget after key
	// extraction. The auth-required branch consumes one unit before asking
	// for permissions, so at most one prompt cycle is offered per call.
	Remaining int
}
