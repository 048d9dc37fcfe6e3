// Package kernel is the client façade (spec §4.9): the ergonomic
// composition root bundling a policy engine, a state manager, a kill
// switch, and an audit sink behind executeTool/executeLLM/
// executeLLMWithBudget, plus introspection and kill/resurrect.
package kernel

import (
	"context"
	"fmt"

	"github.com/kashaf12/mandate-sub001/pkg/audit"
	"github.com/kashaf12/mandate-sub001/pkg/executor"
	"github.com/kashaf12/mandate-sub001/pkg/observability"
	"github.com/kashaf12/mandate-sub001/pkg/policy"
	"github.com/kashaf12/mandate-sub001/pkg/pricing"
	"github.com/kashaf12/mandate-sub001/pkg/state"
)

// AuditKind selects one of the built-in sink flavors (spec §4.9).
type AuditKind string

const (
	AuditConsole AuditKind = "console"
	AuditMemory  AuditKind = "memory"
	AuditNone    AuditKind = "none"
	AuditFile    AuditKind = "file"
	AuditCustom  AuditKind = "custom"
)

// Config bundles everything needed to construct a Client.
type Config struct {
	Mandate *policy.Mandate
	State   state.Manager

	AuditKind AuditKind
	FilePath  string      // used when AuditKind == AuditFile
	Custom    audit.Sink  // used when AuditKind == AuditCustom

	// PricingTable overrides the built-in pricing table (spec §4.2).
	// Defaults to pricing.DefaultTable() when nil.
	PricingTable pricing.Table

	// Observability configures OTel tracing and RED metrics for the
	// executor (SPEC_FULL.md §2.8). Defaults to a disabled provider
	// (no exporters, global no-op tracer/meter) when nil.
	Observability *observability.Config
}

// Client bundles the policy engine, state manager, audit sink, and
// kill switch into the ergonomic entry points spec §4.9 describes.
type Client struct {
	mandate *policy.Mandate
	state   state.Manager
	exec    *executor.Executor
	pricing pricing.Table
}

// New builds a Client from cfg.
func New(cfg Config) (*Client, error) {
	if cfg.Mandate == nil {
		return nil, fmt.Errorf("kernel: mandate is required")
	}
	if cfg.State == nil {
		return nil, fmt.Errorf("kernel: state manager is required")
	}

	sink, err := buildSink(cfg)
	if err != nil {
		return nil, err
	}

	table := cfg.PricingTable
	if table == nil {
		table = pricing.DefaultTable()
	}

	obsCfg := cfg.Observability
	if obsCfg == nil {
		obsCfg = &observability.Config{Enabled: false}
	}
	obs, err := observability.New(context.Background(), obsCfg)
	if err != nil {
		return nil, fmt.Errorf("kernel: observability init failed: %w", err)
	}

	return &Client{
		mandate: cfg.Mandate,
		state:   cfg.State,
		exec:    executor.New(cfg.State, sink, executor.WithObservability(obs)),
		pricing: table,
	}, nil
}

func buildSink(cfg Config) (audit.Sink, error) {
	switch cfg.AuditKind {
	case AuditConsole:
		return audit.NewConsole(), nil
	case AuditMemory:
		return audit.NewMemory(), nil
	case AuditFile:
		if cfg.FilePath == "" {
			return nil, fmt.Errorf("kernel: AuditFile requires FilePath")
		}
		return audit.NewFile(cfg.FilePath), nil
	case AuditCustom:
		if cfg.Custom == nil {
			return nil, fmt.Errorf("kernel: AuditCustom requires Custom sink")
		}
		return cfg.Custom, nil
	case AuditNone, "":
		return audit.NewNoop(), nil
	default:
		return nil, fmt.Errorf("kernel: unknown audit kind %q", cfg.AuditKind)
	}
}

// ExecuteTool runs a tool action through the five-phase lifecycle.
func (c *Client) ExecuteTool(ctx context.Context, action *policy.Action, fn executor.Fn) (*executor.Result, error) {
	return c.exec.Execute(ctx, action, c.mandate, fn)
}

// ExecuteLLM runs an LLM action, post-processing the raw result to
// extract token usage and attach actual cost from the pricing table
// (spec §4.9).
func (c *Client) ExecuteLLM(ctx context.Context, action *policy.Action, fn executor.Fn) (*executor.Result, error) {
	wrapped := func(ctx context.Context) (any, error) {
		raw, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		return c.attachLLMCost(action, raw), nil
	}
	return c.exec.Execute(ctx, action, c.mandate, wrapped)
}

func (c *Client) attachLLMCost(action *policy.Action, raw any) any {
	inputTokens, outputTokens, ok := ExtractTokenUsage(raw)
	if !ok {
		return raw
	}
	price, found := pricing.Lookup(toPricingTable(c.mandate.CustomPricing), c.pricing, action.Provider, action.Model)
	if !found {
		return raw
	}
	cost := pricing.Cost(price, inputTokens, outputTokens)
	return &LLMResult{Raw: raw, InputTokens: inputTokens, OutputTokens: outputTokens, Cost: cost}
}

// Kill marks the agent's mandate state killed and broadcasts the
// reason (spec §4.6 "Kill propagation").
func (c *Client) Kill(ctx context.Context, reason string) error {
	st, err := c.state.Get(ctx, c.mandate.AgentID, c.mandate.MandateID)
	if err != nil {
		return fmt.Errorf("kernel: kill lookup failed: %w", err)
	}
	return c.state.Kill(ctx, st, reason)
}

// Resurrect clears the kill flag, allowing a fresh start under the
// same mandate (spec §3).
func (c *Client) Resurrect(ctx context.Context) error {
	resurrector, ok := c.state.(state.Resurrector)
	if !ok {
		return fmt.Errorf("kernel: state manager does not support resurrection")
	}
	st, err := c.state.Get(ctx, c.mandate.AgentID, c.mandate.MandateID)
	if err != nil {
		return fmt.Errorf("kernel: resurrect lookup failed: %w", err)
	}
	return resurrector.Resurrect(ctx, st)
}

// IsKilled reports whether this agent's mandate is currently killed.
func (c *Client) IsKilled(ctx context.Context) (bool, error) {
	return c.state.IsKilled(ctx, c.mandate.AgentID, c.mandate.MandateID)
}

// GetCost returns cumulative, cognition, and execution cost charged so
// far under this mandate.
func (c *Client) GetCost(ctx context.Context) (cumulative, cognition, execution float64, err error) {
	st, err := c.state.Get(ctx, c.mandate.AgentID, c.mandate.MandateID)
	if err != nil {
		return 0, 0, 0, err
	}
	return st.CumulativeCost, st.CognitionCost, st.ExecutionCost, nil
}

// GetRemainingBudget returns MaxCostTotal - cumulativeCost, or nil if
// the mandate declares no total ceiling.
func (c *Client) GetRemainingBudget(ctx context.Context) (*float64, error) {
	if c.mandate.MaxCostTotal == nil {
		return nil, nil
	}
	st, err := c.state.Get(ctx, c.mandate.AgentID, c.mandate.MandateID)
	if err != nil {
		return nil, err
	}
	remaining := *c.mandate.MaxCostTotal - st.CumulativeCost
	return &remaining, nil
}

// GetCallCount returns the agent-level call count within the current
// rate-limit window.
func (c *Client) GetCallCount(ctx context.Context) (int, error) {
	st, err := c.state.Get(ctx, c.mandate.AgentID, c.mandate.MandateID)
	if err != nil {
		return 0, err
	}
	return st.CallCount, nil
}

// OnKill registers a callback for kill broadcasts, if the underlying
// state manager supports it (spec §4.6/§8 scenario 6).
func (c *Client) OnKill(cb func(reason string)) error {
	subscriber, ok := c.state.(state.KillSubscriber)
	if !ok {
		return fmt.Errorf("kernel: state manager does not support kill subscriptions")
	}
	subscriber.OnKill(c.mandate.AgentID, cb)
	return nil
}

// Mandate returns the mandate this client was built with.
func (c *Client) Mandate() *policy.Mandate { return c.mandate }
