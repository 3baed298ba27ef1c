package quest

import (
	"context"
	"fmt"
	"strings"

	"github.com/kasuganosora/aiquest/llm"
	"github.com/kasuganosora/aiquest/store"
	"go.uber.org/zap"
)

const (
	defaultGuideName = "Guide"
	guideTemperature = 0.7
)

// Guide produces in-character chat replies for the quest persona.
type Guide struct {
	quests    store.QuestStore
	provider  llm.Provider
	maxTokens int
	logger    *zap.Logger
}

// NewGuide creates a Guide. provider may be nil, in which case Reply
// returns llm.ErrNotConfigured.
func NewGuide(quests store.QuestStore, provider llm.Provider, maxTokens int, logger *zap.Logger) *Guide {
	if maxTokens <= 0 {
		maxTokens = 200
	}
	return &Guide{quests: quests, provider: provider, maxTokens: maxTokens, logger: logger}
}

// Enabled reports whether a language model is available.
func (g *Guide) Enabled() bool { return g.provider != nil }

// Reply answers a free-form chat message in the context of the given step.
func (g *Guide) Reply(ctx context.Context, questID string, stepIndex int, message string) (string, error) {
	if g.provider == nil {
		return "", llm.ErrNotConfigured
	}
	q := g.quests.GetByID(ctx, questID)
	if q == nil {
		return "", ErrQuestNotFound
	}
	step, ok := q.StepAt(stepIndex)
	if !ok {
		return "", ErrStepNotFound
	}

	name := q.AIName
	if name == "" {
		name = defaultGuideName
	}
	var sys strings.Builder
	fmt.Fprintf(&sys, "You are a friendly AI quest guide named %s.\n", name)
	fmt.Fprintf(&sys, "You are helping %s through an interactive quest.\n\n", q.UserName)
	fmt.Fprintf(&sys, "Current step: %s\n", step.Message)
	fmt.Fprintf(&sys, "Expected answer: %s\n", step.ExpectedAnswer)
	fmt.Fprintf(&sys, "Hint (if requested): %s\n\n", step.Hint)
	sys.WriteString(`Rules:
- Be encouraging and friendly
- Never reveal the expected answer directly
- If the user asks for "hint" or "help", give the hint
- If the user's message is the right answer, congratulate them
- If it is wrong, encourage them to try again
- Keep responses concise and engaging`)

	req := llm.UserPrompt(sys.String(), message, g.maxTokens)
	req.Temperature = guideTemperature

	resp, err := g.provider.Generate(llm.WithPurpose(ctx, "guide_chat"), req)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Text), nil
}
