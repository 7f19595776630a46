// Package rules provides the CEL-Go based review engine that flags
// suspicious cost lines on a quote.
package rules

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/fees"
)

// Engine is the CEL-based review engine.
type Engine struct {
	mu            sync.RWMutex
	env           *cel.Env
	compiledRules map[string]*CompiledRule
	maxWorkers    int
}

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Config  *domain.ReviewRule
	Program cel.Program
}

// NewEngine creates a new review engine.
func NewEngine(maxWorkers int) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}

	// One activation per cost line
	env, err := cel.NewEnv(
		cel.Variable("role", cel.StringType),
		cel.Variable("pricing_type", cel.StringType),
		cel.Variable("periodicity", cel.StringType),
		cel.Variable("formula", cel.StringType),
		cel.Variable("calculated", cel.DoubleType),
		cel.Variable("gross", cel.DoubleType),
		cel.Variable("gross_up", cel.DoubleType),
		cel.Variable("edited", cel.BoolType),
		cel.Variable("unresolved", cel.BoolType),
		cel.Variable("volume", cel.DoubleType),
		cel.Variable("series_count", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:           env,
		compiledRules: make(map[string]*CompiledRule),
		maxWorkers:    maxWorkers,
	}, nil
}

// ValidateRule compiles and validates a rule without mutating loaded rules.
func (e *Engine) ValidateRule(cfg *domain.ReviewRule) error {
	if cfg == nil {
		return fmt.Errorf("review rule is required")
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compileRule(cfg)
	return err
}

// LoadRule compiles and loads a rule into the engine.
func (e *Engine) LoadRule(cfg *domain.ReviewRule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compileRule(cfg)
	if err != nil {
		return err
	}

	e.compiledRules[cfg.ID] = compiled
	return nil
}

// LoadRules compiles and loads every enabled rule.
func (e *Engine) LoadRules(configs []*domain.ReviewRule) error {
	for _, cfg := range configs {
		if cfg.Enabled {
			if err := e.LoadRule(cfg); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReviewInput is a computed quote to review.
type ReviewInput struct {
	TenantID    string
	QuoteID     string
	Volume      float64
	SeriesCount int

	// CustodyBrackets is the size of the custody table the quote was priced against.
	CustodyBrackets int
	Costs           []domain.ComputedCost
}

// Review evaluates every loaded rule against every cost line in parallel
// and returns the non-pass outcomes together with the number of
// evaluations performed.
func (e *Engine) Review(ctx context.Context, input *ReviewInput) ([]domain.ReviewFlag, int, error) {
	rules := e.sortedRules()
	if len(rules) == 0 || len(input.Costs) == 0 {
		return nil, 0, nil
	}

	activations := make([]map[string]any, len(input.Costs))
	for i, c := range input.Costs {
		activations[i] = activation(c, input)
	}

	total := len(rules) * len(input.Costs)
	results := make([]domain.ReviewFlag, total)
	var wg sync.WaitGroup

	// Limit concurrency with semaphore
	sem := make(chan struct{}, e.maxWorkers)

	for ri, rule := range rules {
		for ci := range input.Costs {
			wg.Add(1)
			go func(idx int, r *CompiledRule, cost *domain.ComputedCost, act map[string]any) {
				defer wg.Done()

				sem <- struct{}{}        // Acquire
				defer func() { <-sem }() // Release

				results[idx] = e.evaluateRule(ctx, r, cost, act)
			}(ri*len(input.Costs)+ci, rule, &input.Costs[ci], activations[ci])
		}
	}

	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, total, err
	}

	var flags []domain.ReviewFlag
	for _, r := range results {
		if r.Outcome != domain.ReviewOutcomePass {
			flags = append(flags, r)
		}
	}
	return flags, total, nil
}

func activation(c domain.ComputedCost, input *ReviewInput) map[string]any {
	return map[string]any{
		"role":         c.Role,
		"pricing_type": string(c.PricingType),
		"periodicity":  string(c.Periodicity),
		"formula":      c.FormulaDescription,
		"calculated":   c.CalculatedValue,
		"gross":        c.GrossValue,
		"gross_up":     fees.NormalizeGrossUp(c.GrossUp),
		"edited":       c.Edited,
		"unresolved":   fees.Unresolved(c, input.CustodyBrackets),
		"volume":       input.Volume,
		"series_count": int64(input.SeriesCount),
	}
}

// evaluateRule evaluates a single rule against one cost line.
func (e *Engine) evaluateRule(ctx context.Context, rule *CompiledRule, cost *domain.ComputedCost, act map[string]any) domain.ReviewFlag {
	start := time.Now()

	result := domain.ReviewFlag{
		RuleID: rule.Config.ID,
		CostID: cost.ID,
		Role:   cost.Role,
	}

	if err := ctx.Err(); err != nil {
		result.Outcome = domain.ReviewOutcomeError
		result.Reason = err.Error()
		return result
	}

	out, _, err := rule.Program.Eval(act)
	if err != nil {
		result.Outcome = domain.ReviewOutcomeError
		result.Reason = fmt.Sprintf("evaluation error: %v", err)
		result.ProcessMs = time.Since(start).Milliseconds()
		return result
	}

	result.Score = toScore(out)
	result.Outcome, result.Reason = matchBand(result.Score, rule.Config.Bands)
	result.ProcessMs = time.Since(start).Milliseconds()

	return result
}

// toScore converts a CEL value to a numeric score.
func toScore(val ref.Val) float64 {
	switch v := val.(type) {
	case types.Bool:
		if v {
			return 1.0
		}
		return 0.0
	case types.Double:
		return float64(v)
	case types.Int:
		return float64(v)
	default:
		return 0.0
	}
}

// matchBand finds the first band with lower <= score < upper. A nil lower
// bound is 0 and a nil upper bound is unbounded. Rules without bands fail
// on a truthy score.
func matchBand(score float64, bands []domain.ReviewBand) (string, string) {
	if len(bands) == 0 {
		if score > 0 {
			return domain.ReviewOutcomeFail, "rule matched"
		}
		return domain.ReviewOutcomePass, "rule not matched"
	}

	for _, band := range bands {
		lower := 0.0
		upper := math.Inf(1)
		if band.LowerLimit != nil {
			lower = *band.LowerLimit
		}
		if band.UpperLimit != nil {
			upper = *band.UpperLimit
		}

		if score >= lower && score < upper {
			return band.Outcome, band.Reason
		}
	}

	return domain.ReviewOutcomePass, "no matching band"
}

func (e *Engine) sortedRules() []*CompiledRule {
	e.mu.RLock()
	rules := make([]*CompiledRule, 0, len(e.compiledRules))
	for _, rule := range e.compiledRules {
		rules = append(rules, rule)
	}
	e.mu.RUnlock()

	sort.Slice(rules, func(i, j int) bool {
		return rules[i].Config.ID < rules[j].Config.ID
	})
	return rules
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiledRules)
}

// ReloadRules clears all existing rules and loads new ones.
// On a compile error the previous rule set stays active.
func (e *Engine) ReloadRules(configs []*domain.ReviewRule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	newRules := make(map[string]*CompiledRule)
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}

		compiled, err := e.compileRule(cfg)
		if err != nil {
			return err
		}
		newRules[cfg.ID] = compiled
	}

	e.compiledRules = newRules
	return nil
}

// GetLoadedRules returns the currently loaded rules ordered by id.
func (e *Engine) GetLoadedRules() []*domain.ReviewRule {
	compiled := e.sortedRules()
	rules := make([]*domain.ReviewRule, 0, len(compiled))
	for _, c := range compiled {
		rules = append(rules, c.Config)
	}
	return rules
}

// Close cleans up the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiledRules = make(map[string]*CompiledRule)
	return nil
}

func (e *Engine) compileRule(cfg *domain.ReviewRule) (*CompiledRule, error) {
	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", cfg.ID, issues.Err())
	}

	outputType := ast.OutputType()
	if outputType != cel.BoolType && outputType != cel.DoubleType && outputType != cel.IntType {
		return nil, fmt.Errorf("rule %s: expression must return bool, int, or double, got %s", cfg.ID, outputType)
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", cfg.ID, err)
	}

	return &CompiledRule{
		Config:  cfg,
		Program: program,
	}, nil
}
