// Package answer decides whether a submitted answer satisfies a quest step.
package answer

import (
	"context"
	"strings"

	"github.com/kasuganosora/aiquest/llm"
	"github.com/kasuganosora/aiquest/model"
	"go.uber.org/zap"
)

// Strategy names which judge produced a Result.
type Strategy string

const (
	StrategyExact Strategy = "exact"
	StrategyAI    Strategy = "ai"
)

// Result is a definitive verdict. Fallback is set when the AI judge failed
// and exact matching decided instead.
type Result struct {
	Correct     bool
	Explanation *string
	Fallback    bool
	Strategy    Strategy
}

// Validator judges an answer. It never fails: every error path resolves to
// a verdict.
type Validator interface {
	Validate(ctx context.Context, step model.Step, answer string) Result
}

// New returns the AI-assisted validator when a provider is available and the
// exact-match one otherwise.
func New(provider llm.Provider, maxTokens int, logger *zap.Logger) Validator {
	if provider == nil {
		return ExactMatch{}
	}
	return NewAIValidator(provider, maxTokens, logger)
}

// Normalize folds case and trims surrounding whitespace.
func Normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ExactMatch compares normalised strings.
type ExactMatch struct{}

func (ExactMatch) Validate(_ context.Context, step model.Step, answer string) Result {
	return Result{
		Correct:  Normalize(answer) == Normalize(step.ExpectedAnswer),
		Strategy: StrategyExact,
	}
}
