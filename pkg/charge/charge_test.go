package charge_test

import (
	"testing"

	"github.com/kashaf12/mandate-sub001/pkg/charge"
	"github.com/kashaf12/mandate-sub001/pkg/policy"
	"github.com/stretchr/testify/assert"
)

func f64(v float64) *float64 { return &v }

func TestEvaluate_AttemptBased(t *testing.T) {
	p := policy.ChargingPolicy{Kind: policy.ChargeAttemptBased}

	executed := policy.Outcome{Executed: true, EstimatedCost: f64(1.0)}
	assert.Equal(t, 1.0, charge.Evaluate(p, executed))

	notExecuted := policy.Outcome{Executed: false, EstimatedCost: f64(1.0)}
	assert.Equal(t, 0.0, charge.Evaluate(p, notExecuted))
}

func TestEvaluate_SuccessBasedDefault(t *testing.T) {
	var zero policy.ChargingPolicy // Kind == "" defaults to SUCCESS_BASED

	success := policy.Outcome{ExecutionSuccess: true, VerificationSuccess: true, EstimatedCost: f64(2.0)}
	assert.Equal(t, 2.0, charge.Evaluate(zero, success))

	failed := policy.Outcome{ExecutionSuccess: false, VerificationSuccess: false, EstimatedCost: f64(2.0)}
	assert.Equal(t, 0.0, charge.Evaluate(zero, failed))
}

func TestEvaluate_ActualOverridesEstimated(t *testing.T) {
	p := policy.ChargingPolicy{Kind: policy.ChargeSuccessBased}
	o := policy.Outcome{ExecutionSuccess: true, VerificationSuccess: true, EstimatedCost: f64(1.0), ActualCost: f64(1.5)}
	assert.Equal(t, 1.5, charge.Evaluate(p, o))
}

func TestEvaluate_Tiered(t *testing.T) {
	p := policy.ChargingPolicy{
		Kind: policy.ChargeTiered,
		Tiered: policy.TieredCost{
			AttemptCost:     0.1,
			SuccessCost:     0.5,
			VerificationCost: 0.2,
			HasVerification: true,
		},
	}

	full := policy.Outcome{Executed: true, ExecutionSuccess: true, VerificationSuccess: true}
	assert.InDelta(t, 0.8, charge.Evaluate(p, full), 1e-9)

	attemptOnly := policy.Outcome{Executed: true, ExecutionSuccess: false, VerificationSuccess: false}
	assert.InDelta(t, 0.1, charge.Evaluate(p, attemptOnly), 1e-9)
}

func TestEvaluate_Custom(t *testing.T) {
	p := policy.ChargingPolicy{
		Kind: policy.ChargeCustom,
		Custom: func(o policy.Outcome) float64 {
			if o.ExecutionSuccess {
				return 42
			}
			return 0
		},
	}
	assert.Equal(t, 42.0, charge.Evaluate(p, policy.Outcome{ExecutionSuccess: true}))
	assert.Equal(t, 0.0, charge.Evaluate(p, policy.Outcome{ExecutionSuccess: false}))
}
