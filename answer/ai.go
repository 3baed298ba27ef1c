package answer

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/kasuganosora/aiquest/llm"
	"github.com/kasuganosora/aiquest/model"
	"go.uber.org/zap"
)

const (
	verdictMarkers    = "*_`\"'"
	verdictSeparators = ".,:;!-–"
	verdictCorrect    = "CORRECT"
	verdictIncorrect  = "INCORRECT"

	defaultMaxTokens = 200
)

const judgeSystemPrompt = `You check answers in a puzzle quest.
Decide whether the player's answer should be accepted for the question.
Accept exact matches, semantically equivalent answers, synonyms and reasonable
variations in spelling or phrasing. Reject answers that mean something else.
Reply with CORRECT or INCORRECT as the very first word, then one short sentence
explaining why.`

// AIValidator asks a language model for a verdict and falls back to exact
// matching on any failure.
type AIValidator struct {
	provider  llm.Provider
	maxTokens int
	exact     ExactMatch
	logger    *zap.Logger
}

func NewAIValidator(provider llm.Provider, maxTokens int, logger *zap.Logger) *AIValidator {
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &AIValidator{provider: provider, maxTokens: maxTokens, logger: logger}
}

func (v *AIValidator) Validate(ctx context.Context, step model.Step, answer string) Result {
	// Blank answers are judged locally; the model is never asked.
	if strings.TrimSpace(answer) == "" {
		return v.exact.Validate(ctx, step, answer)
	}

	req := llm.UserPrompt(judgeSystemPrompt, judgePrompt(step, answer), v.maxTokens)
	resp, err := v.provider.Generate(llm.WithPurpose(ctx, "answer_check"), req)
	if err != nil {
		return v.fallback(ctx, step, answer, err)
	}

	correct, explanation, ok := ParseVerdict(resp.Text)
	if !ok {
		return v.fallback(ctx, step, answer, &llm.ErrInvalidResponse{
			Content: resp.Text,
			Err:     fmt.Errorf("no verdict token"),
		})
	}
	return Result{Correct: correct, Explanation: explanation, Strategy: StrategyAI}
}

func (v *AIValidator) fallback(ctx context.Context, step model.Step, answer string, cause error) Result {
	v.logger.Warn("ai validation failed, using exact match", zap.Error(cause))
	res := v.exact.Validate(ctx, step, answer)
	res.Fallback = true
	return res
}

func judgePrompt(step model.Step, answer string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n", step.Message)
	fmt.Fprintf(&b, "Expected answer: %s\n", step.ExpectedAnswer)
	fmt.Fprintf(&b, "Player's answer: %s\n", strings.TrimSpace(answer))
	return b.String()
}

// ParseVerdict reads the leading verdict token case-insensitively. Emphasis
// wrapped around the token and one run of separator punctuation after it are
// dropped; the rest of the text is the explanation, verbatim.
func ParseVerdict(text string) (correct bool, explanation *string, ok bool) {
	trimmed := strings.TrimSpace(text)
	t := strings.TrimLeft(trimmed, verdictMarkers+"# ")
	opened := strings.Trim(trimmed[:len(trimmed)-len(t)], "# ")

	var rest string
	switch {
	case hasPrefixFold(t, verdictIncorrect):
		rest = t[len(verdictIncorrect):]
	case hasPrefixFold(t, verdictCorrect):
		correct = true
		rest = t[len(verdictCorrect):]
	default:
		return false, nil, false
	}

	// close only what was opened before the token: **CORRECT** or "CORRECT"
	for i := 0; i < len(opened) && rest != "" && strings.IndexByte(verdictMarkers, rest[0]) >= 0; i++ {
		rest = rest[1:]
	}
	rest = strings.TrimSpace(rest)
	if sep, size := utf8.DecodeRuneInString(rest); size > 0 && strings.ContainsRune(verdictSeparators, sep) {
		for strings.HasPrefix(rest, string(sep)) {
			rest = rest[size:]
		}
		rest = strings.TrimSpace(rest)
	}
	if rest != "" {
		explanation = &rest
	}
	return correct, explanation, true
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}
