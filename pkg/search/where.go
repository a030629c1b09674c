package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// fold normalises s for case-insensitive comparison. A Caser keeps state,
// so one is created per call.
func fold(s string) string {
	return cases.Fold().String(norm.NFC.String(s))
}

// containsFold reports whether needle occurs in any of the haystacks,
// ignoring case. An empty needle always matches.
func containsFold(needle string, haystacks ...string) bool {
	n := fold(strings.TrimSpace(needle))
	if n == "" {
		return true
	}
	for _, h := range haystacks {
		if strings.Contains(fold(h), n) {
			return true
		}
	}
	return false
}

// Bounds on Query.Where, which is reachable from the public search routes.
const (
	maxWhereLen      = 512
	wherePrograms    = 256
	whereCostLimit   = 10000
	whereInterruptAt = 100
)

// predicates compiles and caches CEL programs for Query.Where.
type predicates struct {
	env   *cel.Env
	cache *lru.Cache[string, cel.Program]
}

func newPredicates(size int) (*predicates, error) {
	env, err := cel.NewEnv(
		cel.Variable("task", cel.DynType),
		cel.Variable("provider", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("search: cel environment: %w", err)
	}
	cache, err := lru.New[string, cel.Program](size)
	if err != nil {
		return nil, fmt.Errorf("search: program cache: %w", err)
	}
	return &predicates{env: env, cache: cache}, nil
}

func (p *predicates) program(expr string) (cel.Program, error) {
	if len(expr) > maxWhereLen {
		return nil, fmt.Errorf("expression longer than %d bytes", maxWhereLen)
	}
	if prg, hit := p.cache.Get(expr); hit {
		return prg, nil
	}
	ast, issues := p.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile: %w", issues.Err())
	}
	prg, err := p.env.Program(ast,
		cel.InterruptCheckFrequency(whereInterruptAt),
		cel.CostLimit(whereCostLimit),
	)
	if err != nil {
		return nil, fmt.Errorf("program: %w", err)
	}
	p.cache.Add(expr, prg)
	return prg, nil
}

// eval runs prg under ctx so the operation deadline interrupts long
// comprehensions.
func (p *predicates) eval(ctx context.Context, prg cel.Program, vars map[string]any) (bool, error) {
	out, _, err := prg.ContextEval(ctx, vars)
	if err != nil {
		return false, fmt.Errorf("eval: %w", err)
	}
	v, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("eval: result is %T, want bool", out.Value())
	}
	return v, nil
}
