// Package validate implements the two-layer argument validator from
// spec §4.3: a structural JSON Schema layer and a CEL predicate layer.
// Both layers must pass; both are pure and must never observe external
// state (no clock reads, no I/O, no randomness inside a predicate).
package validate

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/kashaf12/mandate-sub001/pkg/policy"
)

// PredicateInput is the struct CEL predicate expressions evaluate
// against, matching spec §4.3's "{tool, args, agentId}".
type PredicateInput struct {
	Tool    string
	Args    map[string]any
	AgentID string
}

// Rule bundles the optional structural schema (as JSON Schema text)
// and the optional CEL predicate expression for one tool.
type Rule struct {
	Schema    string // JSON Schema document; empty disables this layer
	Predicate string // CEL boolean expression; empty disables this layer
}

// env is the shared CEL environment: a single dynamic "args" map, the
// calling tool name, and the calling agent id — deliberately narrow so
// predicates cannot reach for anything else (no "now", no network).
var env = mustNewEnv()

func mustNewEnv() *cel.Env {
	e, err := cel.NewEnv(
		cel.Variable("tool", cel.StringType),
		cel.Variable("args", cel.DynType),
		cel.Variable("agentId", cel.StringType),
	)
	if err != nil {
		panic(fmt.Sprintf("validate: failed to build CEL environment: %v", err))
	}
	return e
}

// Validator implements policy.ArgValidator by compiling and caching
// one Rule per tool, mirroring the teacher's compiled-program cache
// for CEL evaluators.
type Validator struct {
	mu       sync.Mutex
	rules    map[string]Rule
	schemas  map[string]*jsonschema.Schema
	programs map[string]cel.Program
}

// New creates a Validator with no rules configured.
func New() *Validator {
	return &Validator{
		rules:    make(map[string]Rule),
		schemas:  make(map[string]*jsonschema.Schema),
		programs: make(map[string]cel.Program),
	}
}

// SetRule compiles and installs the validation rule for tool. An
// invalid schema or predicate is rejected at configuration time, not
// deferred to call time, so misconfiguration fails loudly up front
// rather than silently admitting every call.
func (v *Validator) SetRule(tool string, rule Rule) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if rule.Schema != "" {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		schemaURL := fmt.Sprintf("mandate://validate/%s.schema.json", tool)
		if err := compiler.AddResource(schemaURL, strings.NewReader(rule.Schema)); err != nil {
			return fmt.Errorf("validate: schema load failed for %q: %w", tool, err)
		}
		compiled, err := compiler.Compile(schemaURL)
		if err != nil {
			return fmt.Errorf("validate: schema compile failed for %q: %w", tool, err)
		}
		v.schemas[tool] = compiled
	} else {
		delete(v.schemas, tool)
	}

	if rule.Predicate != "" {
		ast, issues := env.Compile(rule.Predicate)
		if issues != nil && issues.Err() != nil {
			return fmt.Errorf("validate: predicate compile failed for %q: %w", tool, issues.Err())
		}
		prg, err := env.Program(ast)
		if err != nil {
			return fmt.Errorf("validate: predicate program failed for %q: %w", tool, err)
		}
		v.programs[tool] = prg
	} else {
		delete(v.programs, tool)
	}

	v.rules[tool] = rule
	return nil
}

// Validate implements policy.ArgValidator.
func (v *Validator) Validate(tool string, args map[string]any, agentID string) policy.ValidationResult {
	v.mu.Lock()
	schema, hasSchema := v.schemas[tool]
	program, hasPredicate := v.programs[tool]
	v.mu.Unlock()

	if args == nil {
		args = map[string]any{}
	}

	if hasSchema {
		if err := schema.Validate(args); err != nil {
			return policy.ValidationResult{Allowed: false, Reason: "schema: " + err.Error()}
		}
	}

	if hasPredicate {
		out, _, err := program.Eval(map[string]any{
			"tool":    tool,
			"args":    args,
			"agentId": agentID,
		})
		if err != nil {
			return policy.ValidationResult{Allowed: false, Reason: "predicate error: " + err.Error()}
		}
		allowed, ok := out.Value().(bool)
		if !ok || !allowed {
			return policy.ValidationResult{Allowed: false, Reason: "predicate denied"}
		}
	}

	return policy.ValidationResult{Allowed: true, TransformedArgs: args}
}

// PredicateFunc adapts a plain Go function into a policy.ArgValidator
// for predicates that don't need CEL (e.g. the common deny-list
// predicates below), still required to be pure per spec §4.3.
type PredicateFunc func(tool string, args map[string]any, agentID string) policy.ValidationResult

// Validate implements policy.ArgValidator.
func (f PredicateFunc) Validate(tool string, args map[string]any, agentID string) policy.ValidationResult {
	return f(tool, args, agentID)
}
