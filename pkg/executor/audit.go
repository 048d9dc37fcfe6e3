package executor

import (
	"time"

	"github.com/kashaf12/mandate-sub001/pkg/audit"
	"github.com/kashaf12/mandate-sub001/pkg/policy"
)

func (e *Executor) auditBlock(action *policy.Action, mandate *policy.Mandate, decision policy.Decision) {
	entry := audit.Entry{
		ID:             audit.NewID(),
		ActionID:       action.ID,
		AgentID:        action.AgentID,
		MandateID:      mandate.MandateID,
		TraceID:        action.TraceID,
		ParentActionID: action.ParentActionID,
		Kind:           action.Kind,
		Tool:           action.Tool,
		Provider:       action.Provider,
		Model:          action.Model,
		Outcome:        policy.OutcomeBlock,
		Reason:         decision.Reason,
		Code:           decision.Code,
		Timestamp:      time.Now(),
	}
	e.Audit.Log(entry)

	fields := []any{"agent_id", action.AgentID, "mandate_id", mandate.MandateID, "action_id", action.ID, "code", string(decision.Code)}
	if decision.Hard {
		e.log.Error("admission blocked", fields...)
	} else {
		e.log.Warn("admission blocked", fields...)
	}
}

func (e *Executor) auditFailure(action *policy.Action, mandate *policy.Mandate, st *policy.AgentState, estimatedCost, chargedCost float64) {
	entry := audit.Entry{
		ID:             audit.NewID(),
		ActionID:       action.ID,
		AgentID:        action.AgentID,
		MandateID:      mandate.MandateID,
		TraceID:        action.TraceID,
		ParentActionID: action.ParentActionID,
		Kind:           action.Kind,
		Tool:           action.Tool,
		Provider:       action.Provider,
		Model:          action.Model,
		Outcome:        policy.OutcomeBlock,
		Reason:         "execution or verification failed",
		EstimatedCost:  &estimatedCost,
		ChargedCost:    &chargedCost,
		CumulativeCost: &st.CumulativeCost,
		Timestamp:      time.Now(),
	}
	e.Audit.Log(entry)
	e.log.Error("execution failed", "agent_id", action.AgentID, "mandate_id", mandate.MandateID, "action_id", action.ID)
}

func (e *Executor) auditAllow(action *policy.Action, mandate *policy.Mandate, st *policy.AgentState, estimatedCost float64, actualCost *float64, chargedCost float64, duration time.Duration) {
	entry := audit.Entry{
		ID:             audit.NewID(),
		ActionID:       action.ID,
		AgentID:        action.AgentID,
		MandateID:      mandate.MandateID,
		TraceID:        action.TraceID,
		ParentActionID: action.ParentActionID,
		Kind:           action.Kind,
		Tool:           action.Tool,
		Provider:       action.Provider,
		Model:          action.Model,
		Outcome:        policy.OutcomeAllow,
		Reason:         "allowed",
		EstimatedCost:  &estimatedCost,
		ActualCost:     actualCost,
		ChargedCost:    &chargedCost,
		CumulativeCost: &st.CumulativeCost,
		DurationMs:     duration.Milliseconds(),
		Timestamp:      time.Now(),
	}
	e.Audit.Log(entry)
	e.log.Debug("action committed", "agent_id", action.AgentID, "mandate_id", mandate.MandateID, "action_id", action.ID, "charged_cost", chargedCost)
}
