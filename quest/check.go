package quest

import (
	"context"

	"github.com/kasuganosora/aiquest/answer"
)

// StepCheck is the stateless verdict for one step.
type StepCheck struct {
	Correct     bool            `json:"correct"`
	IsLastStep  bool            `json:"isLastStep"`
	Explanation *string         `json:"explanation,omitempty"`
	Fallback    bool            `json:"fallback"`
	Strategy    answer.Strategy `json:"strategy"`
}

// CheckStep validates an answer against a step without touching progress.
func (e *Engine) CheckStep(ctx context.Context, questID string, stepIndex int, submitted string) (*StepCheck, error) {
	q := e.quests.GetByID(ctx, questID)
	if q == nil {
		return nil, ErrQuestNotFound
	}
	step, ok := q.StepAt(stepIndex)
	if !ok {
		return nil, ErrStepNotFound
	}
	res := e.validator.Validate(ctx, step, submitted)
	return &StepCheck{
		Correct:     res.Correct,
		IsLastStep:  stepIndex == len(q.Steps)-1,
		Explanation: res.Explanation,
		Fallback:    res.Fallback,
		Strategy:    res.Strategy,
	}, nil
}
