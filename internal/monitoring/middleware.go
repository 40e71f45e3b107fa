package monitoring

import (
	"time"

	"github.com/guided-traffic/credential-cipher/pkg/cipher"
)

// instrumentedHandler wraps a DecryptionHandler and records the outcome of
// each callback for the named strategy.
type instrumentedHandler struct {
	strategy string
	start    time.Time
	next     cipher.DecryptionHandler
}

// InstrumentHandler returns a DecryptionHandler that records decrypt outcome
// metrics before delegating to next.
func InstrumentHandler(strategy string, next cipher.DecryptionHandler) cipher.DecryptionHandler {
	return &instrumentedHandler{
		strategy: strategy,
		start:    time.Now(),
		next:     next,
	}
}

func (h *instrumentedHandler) OnDecrypt(result *cipher.DecryptionResult, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	RecordDecryptOutcome(h.strategy, outcome, time.Since(h.start))
	h.next.OnDecrypt(result, err)
}

func (h *instrumentedHandler) AskAccessPermissions(dc *cipher.DecryptionContext) {
	RecordAuthPrompt(h.strategy)
	RecordDecryptOutcome(h.strategy, "auth_required", time.Since(h.start))
	h.next.AskAccessPermissions(dc)
}
