// Package executor drives the five-phase action lifecycle (spec §4.7):
// authorize, lease, execute, verify, commit. It never mutates state
// directly — every mutation flows through a state.Manager — and it
// never retries; retries are a caller concern via idempotency keys.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kashaf12/mandate-sub001/pkg/audit"
	"github.com/kashaf12/mandate-sub001/pkg/charge"
	"github.com/kashaf12/mandate-sub001/pkg/observability"
	"github.com/kashaf12/mandate-sub001/pkg/policy"
	"github.com/kashaf12/mandate-sub001/pkg/state"
)

// Manager is the subset of state.Manager (plus its optional capability
// interfaces) the executor depends on. Declared locally so this
// package's public surface doesn't force callers to import pkg/state
// just to construct an Executor.
type Manager = state.Manager

// Executor wires the policy engine, a state manager, and an audit sink
// into the five-phase lifecycle (spec §4.7).
type Executor struct {
	Policy func(action *policy.Action, mandate *policy.Mandate, st *policy.AgentState) policy.Decision
	State  Manager
	Audit  audit.Sink

	tracer trace.Tracer
	obs    *observability.Provider
	log    *slog.Logger
}

// Option configures optional Executor behavior at construction time.
type Option func(*Executor)

// WithObservability wires an observability.Provider so the executor's
// phase spans and RED metrics (SPEC_FULL.md §2.8) flow through real
// OTel trace/metric providers instead of the global no-op ones.
func WithObservability(p *observability.Provider) Option {
	return func(e *Executor) {
		if p == nil {
			return
		}
		e.obs = p
		e.tracer = p.Tracer()
	}
}

// New builds an Executor. sink may be nil, in which case entries are
// discarded (equivalent to audit.NewNoop()).
func New(mgr Manager, sink audit.Sink, opts ...Option) *Executor {
	if sink == nil {
		sink = audit.NewNoop()
	}
	e := &Executor{
		Policy: policy.Evaluate,
		State:  mgr,
		Audit:  sink,
		tracer: otel.Tracer("mandate/executor"),
		log:    slog.Default().With("component", "executor"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs action through authorize -> lease -> execute -> verify
// -> commit against mandate, invoking fn for the effectful/cognitive
// work itself.
func (e *Executor) Execute(ctx context.Context, action *policy.Action, mandate *policy.Mandate, fn Fn) (res *Result, err error) {
	start := time.Now()
	attrs := []attribute.KeyValue{
		attribute.String("mandate.action_id", action.ID),
		attribute.String("mandate.agent_id", action.AgentID),
	}
	ctx, span := e.tracer.Start(ctx, "mandate.execute", trace.WithAttributes(attrs...))
	defer span.End()

	if e.obs != nil {
		e.obs.RecordRequest(ctx, attrs...)
		defer func() {
			e.obs.RecordDuration(ctx, time.Since(start), attrs...)
			if err != nil {
				e.obs.RecordError(ctx, err, attrs...)
			}
		}()
	}

	toolPolicy := mandate.ToolPolicyFor(action.Tool)
	chargingPolicy := effectiveChargingPolicy(mandate, toolPolicy)

	// Phase 1: authorize.
	st, decision, err := e.authorize(ctx, action, mandate)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "authorize failed")
		return nil, err
	}
	if decision.Outcome == policy.OutcomeDefer {
		span.RecordError(ErrDefer)
		return nil, ErrDefer
	}
	if decision.Outcome != policy.OutcomeAllow {
		e.auditBlock(action, mandate, decision)
		span.SetStatus(codes.Error, string(decision.Code))
		return nil, &BlockedError{Code: decision.Code, Reason: decision.Reason, AgentID: action.AgentID, Action: action, Decision: decision}
	}

	atomic := e.isAtomic()

	// Phase 2: lease.
	execCtx := ctx
	var cancelLease context.CancelFunc
	leaseMs := int64(0)
	if toolPolicy != nil {
		leaseMs = toolPolicy.ExecutionLeaseMs
	}
	if leaseMs > 0 {
		execCtx, cancelLease = context.WithTimeout(ctx, time.Duration(leaseMs)*time.Millisecond)
		defer cancelLease()
		if reserver, ok := e.State.(state.LeaseReserver); ok {
			reserver.ReserveLease(st, action.ID, time.Now().Add(time.Duration(leaseMs)*time.Millisecond))
		}
	}

	// Phase 3: execute.
	result, execErr, timedOut := e.runWithDeadline(execCtx, fn)
	if reserver, ok := e.State.(state.LeaseReserver); ok {
		reserver.ReleaseLease(st, action.ID)
	}

	if timedOut {
		d := policy.Block(policy.CodeExecutionTimeout, "execution exceeded lease deadline", true, 0)
		e.chargeAndAuditFailure(ctx, action, mandate, st, chargingPolicy, atomic, true)
		span.SetStatus(codes.Error, string(policy.CodeExecutionTimeout))
		return nil, &BlockedError{Code: policy.CodeExecutionTimeout, Reason: d.Reason, AgentID: action.AgentID, Action: action, Decision: d}
	}
	if execErr != nil {
		e.chargeAndAuditFailure(ctx, action, mandate, st, chargingPolicy, atomic, true)
		span.RecordError(execErr)
		span.SetStatus(codes.Error, "execution failed")
		return nil, execErr
	}

	// Phase 4: verify.
	if toolPolicy != nil && toolPolicy.Verifier != nil {
		ok, reason, verifyTimedOut := e.verify(ctx, toolPolicy, action, result, mandate)
		if verifyTimedOut {
			e.chargeAndAuditFailure(ctx, action, mandate, st, chargingPolicy, atomic, true)
			span.SetStatus(codes.Error, string(policy.CodeVerificationTimeout))
			return nil, &VerificationError{Reason: "verification exceeded deadline", Code: policy.CodeVerificationTimeout}
		}
		if !ok {
			e.chargeAndAuditFailure(ctx, action, mandate, st, chargingPolicy, atomic, true)
			span.SetStatus(codes.Error, string(policy.CodeVerificationFailed))
			return nil, &VerificationError{Reason: reason, Code: policy.CodeVerificationFailed}
		}
	}

	// Phase 5: commit.
	actual := actualCostOf(result)
	est := action.EstimatedCost
	outcome := policy.Outcome{Executed: true, ExecutionSuccess: true, VerificationSuccess: true, EstimatedCost: &est, ActualCost: actual}
	chargedCost := charge.Evaluate(chargingPolicy, outcome)

	if chargedCost != 0 && !atomic {
		var agentRL, toolRL *policy.RateLimit
		agentRL = mandate.RateLimit
		if toolPolicy != nil {
			toolRL = toolPolicy.RateLimit
		}
		if err := e.State.CommitSuccess(ctx, action, st, chargedCost, agentRL, toolRL); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "commit failed")
			return nil, fmt.Errorf("mandate: commit failed: %w", err)
		}
	}

	duration := time.Since(start)
	e.auditAllow(action, mandate, st, est, actual, chargedCost, duration)

	return &Result{
		Value:          result,
		EstimatedCost:  est,
		ActualCost:     actual,
		ChargedCost:    chargedCost,
		CumulativeCost: st.CumulativeCost,
		RemainingCost:  decision.RemainingCost,
		RemainingCalls: decision.RemainingCalls,
		DurationMs:     duration.Milliseconds(),
	}, nil
}

func (e *Executor) isAtomic() bool {
	_, ok := e.State.(state.AtomicCommitter)
	return ok
}

// authorize implements phase 1 (spec §4.7). It always evaluates the
// full precedence chain locally against a Get() snapshot first — this
// is the single source of truth for ordering (P6) — and, when the
// backend exposes atomic check-and-commit, additionally runs the
// server-side script to resolve the checks that need cross-process
// atomicity (replay, cost, rate) and commit estimatedCost up front.
func (e *Executor) authorize(ctx context.Context, action *policy.Action, mandate *policy.Mandate) (*policy.AgentState, policy.Decision, error) {
	st, err := e.State.Get(ctx, action.AgentID, mandate.MandateID)
	if err != nil {
		return nil, policy.Decision{}, fmt.Errorf("mandate: state lookup failed: %w", err)
	}

	decision := e.Policy(action, mandate, st)
	if decision.Outcome != policy.OutcomeAllow {
		return st, decision, nil
	}

	if committer, ok := e.State.(state.AtomicCommitter); ok {
		atomicDecision, err := committer.CheckAndCommit(ctx, action, mandate)
		if err != nil {
			return nil, policy.Decision{}, fmt.Errorf("mandate: atomic admission failed: %w", err)
		}
		return st, atomicDecision, nil
	}

	return st, decision, nil
}

// runWithDeadline invokes fn and reports whether ctx's deadline fired
// first (spec §5: "the work is not forcibly interrupted; the executor
// proceeds as if the attempt failed").
func (e *Executor) runWithDeadline(ctx context.Context, fn Fn) (any, error, bool) {
	type out struct {
		val any
		err error
	}
	done := make(chan out, 1)
	go func() {
		v, err := fn(ctx)
		done <- out{val: v, err: err}
	}()

	select {
	case o := <-done:
		return o.val, o.err, false
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, nil, true
		}
		return nil, ctx.Err(), false
	}
}

// verify implements phase 4 (spec §4.7): run the configured verifier
// inside a bounded deadline, catching any panic/error as a failed
// verification rather than propagating it raw.
func (e *Executor) verify(ctx context.Context, toolPolicy *policy.ToolPolicy, action *policy.Action, result any, mandate *policy.Mandate) (ok bool, reason string, timedOut bool) {
	deadline := DefaultVerificationTimeout
	if toolPolicy.VerificationTimeoutMs > 0 {
		deadline = time.Duration(toolPolicy.VerificationTimeoutMs) * time.Millisecond
	}
	vctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	type out struct {
		ok     bool
		reason string
	}
	done := make(chan out, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- out{ok: false, reason: fmt.Sprintf("verifier panicked: %v", r)}
			}
		}()
		vok, vreason := toolPolicy.Verifier.Verify(action, result, mandate)
		done <- out{ok: vok, reason: vreason}
	}()

	select {
	case o := <-done:
		return o.ok, o.reason, false
	case <-vctx.Done():
		return false, "verification deadline exceeded", true
	}
}

// chargeAndAuditFailure computes the charge for a failed execution or
// verification outcome and commits it when non-zero (ATTEMPT_BASED
// records the attempt even on failure; SUCCESS_BASED leaves state
// untouched, per spec §4.6/P4/P5). The atomic path never double-commits
// here since its budget was already reserved during authorize.
func (e *Executor) chargeAndAuditFailure(ctx context.Context, action *policy.Action, mandate *policy.Mandate, st *policy.AgentState, chargingPolicy policy.ChargingPolicy, atomic bool, executed bool) {
	est := action.EstimatedCost
	outcome := policy.Outcome{Executed: executed, ExecutionSuccess: false, VerificationSuccess: false, EstimatedCost: &est}
	chargedCost := charge.Evaluate(chargingPolicy, outcome)

	if chargedCost != 0 && !atomic {
		toolPolicy := mandate.ToolPolicyFor(action.Tool)
		var toolRL *policy.RateLimit
		if toolPolicy != nil {
			toolRL = toolPolicy.RateLimit
		}
		_ = e.State.CommitSuccess(ctx, action, st, chargedCost, mandate.RateLimit, toolRL)
	}

	e.auditFailure(action, mandate, st, est, chargedCost)
}

func effectiveChargingPolicy(mandate *policy.Mandate, toolPolicy *policy.ToolPolicy) policy.ChargingPolicy {
	if toolPolicy != nil && toolPolicy.ChargingPolicy != nil {
		return *toolPolicy.ChargingPolicy
	}
	return mandate.DefaultChargingPolicy
}
