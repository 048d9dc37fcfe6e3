//go:build property
// +build property

package executor_test

import (
	"context"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/kashaf12/mandate-sub001/pkg/charge"
	"github.com/kashaf12/mandate-sub001/pkg/policy"
	"github.com/kashaf12/mandate-sub001/pkg/state"
)

// admitAndCommit exercises the same authorize-then-commit arithmetic
// the executor drives, without the goroutine/deadline machinery, so
// these properties stay deterministic under gopter's randomized replay.
func admitAndCommit(mgr *state.Memory, action *policy.Action, mandate *policy.Mandate, executed, execSuccess, verifySuccess bool) policy.Decision {
	ctx := context.Background()
	st, _ := mgr.Get(ctx, action.AgentID, mandate.MandateID)

	decision := policy.Evaluate(action, mandate, st)
	if decision.Outcome != policy.OutcomeAllow {
		return decision
	}

	cp := mandate.DefaultChargingPolicy
	outcome := policy.Outcome{
		Executed:            executed,
		ExecutionSuccess:    execSuccess,
		VerificationSuccess: verifySuccess,
		EstimatedCost:       &action.EstimatedCost,
	}
	cost := charge.Evaluate(cp, outcome)
	if cost != 0 {
		_ = mgr.CommitSuccess(ctx, action, st, cost, mandate.RateLimit, nil)
	}
	return decision
}

func costMandate(kind policy.ChargingPolicyKind, maxTotal *float64) *policy.Mandate {
	return &policy.Mandate{
		MandateID:             "m1",
		AgentID:                "a1",
		IssuedAt:               time.Now().Add(-time.Hour),
		MaxCostTotal:           maxTotal,
		DefaultChargingPolicy: policy.ChargingPolicy{Kind: kind},
	}
}

// TestCumulativeCostNeverExceedsCeiling is property P1: for all
// admitted, committed actions, post.cumulativeCost <= maxCostTotal.
func TestCumulativeCostNeverExceedsCeiling(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("cumulative cost never exceeds the mandate ceiling", prop.ForAll(
		func(ceiling float64, costs []float64) bool {
			mgr := state.NewMemory(nil)
			mandate := costMandate(policy.ChargeSuccessBased, &ceiling)

			for i, c := range costs {
				action := &policy.Action{
					ID:            "act-" + string(rune('A'+i%26)) + string(rune(i)),
					Kind:          policy.ActionLLMCall,
					AgentID:       "a1",
					Timestamp:     time.Now(),
					EstimatedCost: c,
					CostType:      policy.CostCognition,
				}
				admitAndCommit(mgr, action, mandate, true, true, true)
			}

			st, _ := mgr.Get(context.Background(), "a1", "m1")
			return st.CumulativeCost <= ceiling+1e-9
		},
		gen.Float64Range(0, 100),
		gen.SliceOfN(20, gen.Float64Range(0, 10)),
	))

	properties.TestingRun(t)
}

// TestCostSplitInvariant is property P2: cumulativeCost always equals
// cognitionCost + executionCost.
func TestCostSplitInvariant(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("cumulative cost equals cognition plus execution cost", prop.ForAll(
		func(costs []float64, cognitionFlags []bool) bool {
			mgr := state.NewMemory(nil)
			mandate := costMandate(policy.ChargeSuccessBased, nil)

			for i, c := range costs {
				costType := policy.CostExecution
				if i < len(cognitionFlags) && cognitionFlags[i] {
					costType = policy.CostCognition
				}
				action := &policy.Action{
					ID:            "act-" + string(rune(i)) + "x",
					Kind:          policy.ActionToolCall,
					Tool:          "noop",
					AgentID:       "a1",
					Timestamp:     time.Now(),
					EstimatedCost: c,
					CostType:      costType,
				}
				admitAndCommit(mgr, action, mandate, true, true, true)
			}

			st, _ := mgr.Get(context.Background(), "a1", "m1")
			sum := st.CognitionCost + st.ExecutionCost
			diff := st.CumulativeCost - sum
			if diff < 0 {
				diff = -diff
			}
			return diff < 1e-9
		},
		gen.SliceOfN(15, gen.Float64Range(0, 10)),
		gen.SliceOfN(15, gen.Bool()),
	))

	properties.TestingRun(t)
}

// TestSuccessBasedFailureLeavesStateUnchanged is property P4: under
// SUCCESS_BASED, a failed execution does not change state.
func TestSuccessBasedFailureLeavesStateUnchanged(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("SUCCESS_BASED failures never move cumulative cost", prop.ForAll(
		func(cost float64, id string) bool {
			if id == "" {
				return true
			}
			mgr := state.NewMemory(nil)
			mandate := costMandate(policy.ChargeSuccessBased, nil)

			action := &policy.Action{
				ID:            "f-" + id,
				Kind:          policy.ActionLLMCall,
				AgentID:       "a1",
				Timestamp:     time.Now(),
				EstimatedCost: cost,
				CostType:      policy.CostCognition,
			}
			admitAndCommit(mgr, action, mandate, true, false, false)

			st, _ := mgr.Get(context.Background(), "a1", "m1")
			return st.CumulativeCost == 0
		},
		gen.Float64Range(0.01, 50),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

// TestAttemptBasedFailureCharges is property P5: under ATTEMPT_BASED, a
// failed execution increments cumulativeCost by the estimated cost and
// records the action id (so a retry with the same id is rejected).
func TestAttemptBasedFailureCharges(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("ATTEMPT_BASED failures charge the estimated cost and record the id", prop.ForAll(
		func(cost float64, id string) bool {
			if id == "" {
				return true
			}
			mgr := state.NewMemory(nil)
			mandate := costMandate(policy.ChargeAttemptBased, nil)

			action := &policy.Action{
				ID:            "att-" + id,
				Kind:          policy.ActionLLMCall,
				AgentID:       "a1",
				Timestamp:     time.Now(),
				EstimatedCost: cost,
				CostType:      policy.CostCognition,
			}
			admitAndCommit(mgr, action, mandate, true, false, false)

			st, _ := mgr.Get(context.Background(), "a1", "m1")
			if st.CumulativeCost != cost {
				return false
			}

			retry := policy.Evaluate(action, mandate, st)
			return retry.Outcome == policy.OutcomeBlock && retry.Code == policy.CodeDuplicateAction
		},
		gen.Float64Range(0.01, 50),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

// TestDuplicateIdempotencyKeyRejected is property P8: a retry with the
// same idempotencyKey as a successful prior action is rejected with
// DUPLICATE_ACTION, even under a different action id.
func TestDuplicateIdempotencyKeyRejected(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("a replayed idempotency key is always rejected", prop.ForAll(
		func(key string, cost float64) bool {
			if key == "" {
				return true
			}
			mgr := state.NewMemory(nil)
			mandate := costMandate(policy.ChargeSuccessBased, nil)

			first := &policy.Action{
				ID:             "first-" + key,
				Kind:           policy.ActionLLMCall,
				AgentID:        "a1",
				Timestamp:      time.Now(),
				IdempotencyKey: key,
				EstimatedCost:  cost,
				CostType:       policy.CostCognition,
			}
			admitAndCommit(mgr, first, mandate, true, true, true)

			retry := &policy.Action{
				ID:             "second-" + key,
				Kind:           policy.ActionLLMCall,
				AgentID:        "a1",
				Timestamp:      time.Now(),
				IdempotencyKey: key,
				EstimatedCost:  cost,
				CostType:       policy.CostCognition,
			}
			st, _ := mgr.Get(context.Background(), "a1", "m1")
			decision := policy.Evaluate(retry, mandate, st)
			return decision.Outcome == policy.OutcomeBlock && decision.Code == policy.CodeDuplicateAction
		},
		gen.AlphaString(),
		gen.Float64Range(0.01, 50),
	))

	properties.TestingRun(t)
}
