// Package charge implements the pure charging evaluator (spec §4.5):
// a function from (charging policy, outcome) to the cost that should
// actually be charged to the agent's accounting state.
package charge

import "github.com/kashaf12/mandate-sub001/pkg/policy"

// Evaluate computes the chargeable cost for outcome under policy p.
// An empty Kind defaults to SUCCESS_BASED, matching spec §4.5.
func Evaluate(p policy.ChargingPolicy, outcome policy.Outcome) float64 {
	switch p.Kind {
	case policy.ChargeAttemptBased:
		if !outcome.Executed {
			return 0
		}
		return costOf(outcome)

	case policy.ChargeTiered:
		return tieredCost(p.Tiered, outcome)

	case policy.ChargeCustom:
		if p.Custom == nil {
			return 0
		}
		return p.Custom(outcome)

	case policy.ChargeSuccessBased, "":
		fallthrough
	default:
		if outcome.ExecutionSuccess && outcome.VerificationSuccess {
			return costOf(outcome)
		}
		return 0
	}
}

func tieredCost(t policy.TieredCost, outcome policy.Outcome) float64 {
	var total float64
	if outcome.Executed {
		total += t.AttemptCost
	}
	if outcome.ExecutionSuccess {
		total += t.SuccessCost
	}
	if t.HasVerification && outcome.VerificationSuccess {
		total += t.VerificationCost
	}
	return total
}

// costOf prefers ActualCost over EstimatedCost, matching spec §3's
// invariant that actual cost is authoritative when reported.
func costOf(outcome policy.Outcome) float64 {
	if outcome.ActualCost != nil {
		return *outcome.ActualCost
	}
	if outcome.EstimatedCost != nil {
		return *outcome.EstimatedCost
	}
	return 0
}
