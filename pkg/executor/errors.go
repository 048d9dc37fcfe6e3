package executor

import (
	"fmt"

	"github.com/kashaf12/mandate-sub001/pkg/policy"
)

// BlockedError is raised whenever admission denies an action (spec
// §4.7 phase 1, §6 "dedicated Blocked error"). Hard errors are never
// worth retrying; soft errors (RATE_LIMIT_EXCEEDED) carry RetryAfterMs
// and may be retried once the window clears.
type BlockedError struct {
	Code     policy.BlockCode
	Reason   string
	AgentID  string
	Action   *policy.Action
	Decision policy.Decision
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("mandate: blocked [%s]: %s", e.Code, e.Reason)
}

// Hard reports whether retrying this exact action is pointless.
func (e *BlockedError) Hard() bool { return e.Decision.Hard }

// RetryAfterMs reports the suggested backoff for a soft block.
func (e *BlockedError) RetryAfterMs() int64 { return e.Decision.RetryAfterMs }

// VerificationError is raised when a configured verifier rejects a
// result, or when verification exceeds its deadline (spec §4.7 phase
// 4, §7). It is never retried automatically.
type VerificationError struct {
	Reason string
	Code   policy.BlockCode // CodeVerificationFailed or CodeVerificationTimeout
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("mandate: verification failed [%s]: %s", e.Code, e.Reason)
}

// ErrDefer is returned when policy evaluation yields the reserved
// DEFER outcome. Spec §4.7: "current implementations must treat DEFER
// as an internal error" — no caller-visible contract exists for it yet.
var ErrDefer = fmt.Errorf("mandate: DEFER decision is reserved and unhandled by this executor")
