package policy

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/jcbdelo26/chiefaiofficer-alpha-swarm-sub004/pkg/contracts"
)

// GuardEvaluator compiles and caches the CEL guard expressions SMART
// policies may carry. Evaluation is fail-closed: any compile or runtime
// error counts as a guard failure, never as a pass.
type GuardEvaluator struct {
	env   *cel.Env
	mu    sync.RWMutex
	cache map[string]cel.Program
}

// NewGuardEvaluator creates an evaluator exposing the action and verdict as
// dynamic values.
func NewGuardEvaluator() (*GuardEvaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("action", cel.DynType),
		cel.Variable("verdict", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("guard env: %w", err)
	}
	return &GuardEvaluator{env: env, cache: make(map[string]cel.Program)}, nil
}

// Evaluate runs the guard expression against the action and verdict.
func (e *GuardEvaluator) Evaluate(expr string, action *contracts.ProposedAction, verdict contracts.RiskVerdict) (bool, error) {
	prg, err := e.program(expr)
	if err != nil {
		return false, err
	}

	actionMap, err := toMap(action)
	if err != nil {
		return false, fmt.Errorf("guard input action: %w", err)
	}
	verdictMap, err := toMap(verdict)
	if err != nil {
		return false, fmt.Errorf("guard input verdict: %w", err)
	}

	out, _, err := prg.Eval(map[string]any{
		"action":  actionMap,
		"verdict": verdictMap,
	})
	if err != nil {
		return false, fmt.Errorf("guard eval: %w", err)
	}
	allowed, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("guard expression %q did not yield a bool", expr)
	}
	return allowed, nil
}

func (e *GuardEvaluator) program(expr string) (cel.Program, error) {
	e.mu.RLock()
	prg, ok := e.cache[expr]
	e.mu.RUnlock()
	if ok {
		return prg, nil
	}

	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("guard compile: %w", issues.Err())
	}
	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("guard program: %w", err)
	}

	e.mu.Lock()
	e.cache[expr] = prg
	e.mu.Unlock()
	return prg, nil
}

func toMap(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}
