package executor

import (
	"context"
	"time"
)

// DefaultVerificationTimeout is used when a tool policy configures a
// verifier but no explicit VerificationTimeoutMs (spec §4.7 phase 4:
// "a bounded deadline (default 50 ms)").
const DefaultVerificationTimeout = 50 * time.Millisecond

// Fn is the caller-supplied unit of work the executor drives through
// phases 2-4. It receives a context carrying the lease deadline the
// executor imposes (when the tool policy configures one) and returns an
// arbitrary result value plus an error.
type Fn func(ctx context.Context) (any, error)
