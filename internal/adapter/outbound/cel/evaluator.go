// Package cel provides the compiled-CEL guard-expression layer that
// narrows an Authorization Allow decision, per the guard-expression
// supplement: the deterministic role/permission algorithm always runs
// first and is authoritative for any Deny it produces, and this layer
// can only narrow an Allow down to RequiresApproval or Deny.
package cel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/sentinel-gate/broker/internal/domain/policy"
)

// maxExpressionLength bounds a guard expression's source length.
const maxExpressionLength = 1024

// maxCostBudget is the CEL runtime cost limit, preventing a pathological
// expression from burning unbounded CPU on the authorization hot path.
const maxCostBudget = 100_000

// maxNestingDepth bounds parenthesis/bracket/brace nesting.
const maxNestingDepth = 50

// evalTimeout bounds a single evaluation's wall-clock time.
const evalTimeout = 5 * time.Second

// interruptCheckFreq is how often (in comprehension iterations) context
// cancellation is checked during evaluation.
const interruptCheckFreq = 100

// Evaluator compiles and evaluates guard expressions against a
// policy.GuardContext activation.
type Evaluator struct {
	env *cel.Env
}

// NewEvaluator constructs an Evaluator with the guard environment.
func NewEvaluator() (*Evaluator, error) {
	env, err := newGuardEnvironment()
	if err != nil {
		return nil, fmt.Errorf("cel: build guard environment: %w", err)
	}
	return &Evaluator{env: env}, nil
}

// Compile parses and type-checks expression, returning a runnable program.
func (e *Evaluator) Compile(expression string) (cel.Program, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("cel: compile: %w", issues.Err())
	}

	prg, err := e.env.Program(ast,
		cel.EvalOptions(cel.OptOptimize),
		cel.CostLimit(maxCostBudget),
		cel.InterruptCheckFrequency(interruptCheckFreq),
	)
	if err != nil {
		return nil, fmt.Errorf("cel: build program: %w", err)
	}
	return prg, nil
}

func validateNesting(expr string) error {
	var depth, maxDepth int
	for _, ch := range expr {
		switch ch {
		case '(', '[', '{':
			depth++
			if depth > maxDepth {
				maxDepth = depth
			}
		case ')', ']', '}':
			depth--
		}
	}
	if maxDepth > maxNestingDepth {
		return fmt.Errorf("cel: expression nesting too deep: %d levels (max %d)", maxDepth, maxNestingDepth)
	}
	return nil
}

// ValidateExpression reports whether expr is a syntactically valid,
// boundedly-sized, boundedly-nested guard expression that compiles
// against the guard environment. The broker does not call it at startup;
// the authorization service compiles each policy.guard_expression with
// Compile when it is built.
func (e *Evaluator) ValidateExpression(expr string) error {
	if expr == "" {
		return errors.New("cel: expression is empty")
	}
	if len(expr) > maxExpressionLength {
		return fmt.Errorf("cel: expression too long: %d characters (max %d)", len(expr), maxExpressionLength)
	}
	if err := validateNesting(expr); err != nil {
		return err
	}
	if _, err := e.Compile(expr); err != nil {
		return fmt.Errorf("cel: invalid expression: %w", err)
	}
	return nil
}

// Evaluate runs prg against guardCtx and reports the resulting boolean.
// A guard expression that does not evaluate to a bool is a config error,
// surfaced rather than silently coerced.
func (e *Evaluator) Evaluate(prg cel.Program, guardCtx policy.GuardContext) (bool, error) {
	activation := buildActivation(guardCtx)

	ctx, cancel := context.WithTimeout(context.Background(), evalTimeout)
	defer cancel()

	result, _, err := prg.ContextEval(ctx, activation)
	if err != nil {
		return false, fmt.Errorf("cel: evaluation failed: %w", err)
	}

	boolResult, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("cel: guard expression did not return a boolean, got %T", result.Value())
	}
	return boolResult, nil
}
