package quest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kasuganosora/aiquest/answer"
	"github.com/kasuganosora/aiquest/llm"
	"github.com/kasuganosora/aiquest/model"
	"github.com/kasuganosora/aiquest/store"
	"github.com/kasuganosora/aiquest/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingPublisher) Publish(_ context.Context, channel, message string) error {
	if channel != EventsChannel {
		return errors.New("unexpected channel " + channel)
	}
	var ev Event
	if err := json.Unmarshal([]byte(message), &ev); err != nil {
		return err
	}
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return nil
}

func (r *recordingPublisher) types() []OutcomeKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]OutcomeKind, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

type fixture struct {
	store  *store.Store
	engine *Engine
	events *recordingPublisher
	quest  *model.Quest
}

func newFixture(t *testing.T, v answer.Validator, steps ...model.Step) *fixture {
	t.Helper()
	s := testutil.SetupTestStore(t)
	ts := time.Now().UTC().Truncate(time.Millisecond)
	q := &model.Quest{
		ID:        "q1",
		Title:     "Colours",
		FinalText: "Done! You said {answers}.",
		Steps:     steps,
		CreatedAt: ts,
		UpdatedAt: ts,
	}
	_, err := s.Upsert(context.Background(), q)
	require.NoError(t, err)
	pub := &recordingPublisher{}
	return &fixture{
		store:  s,
		engine: NewEngine(s, s, v, pub, zap.NewNop()),
		events: pub,
		quest:  q,
	}
}

var twoSteps = []model.Step{
	{Type: model.ContentText, Message: "2+2?", ExpectedAnswer: "4", Hint: "count your fingers"},
	{Type: model.ContentText, Message: "Best colour?", ExpectedAnswer: "purple"},
}

func TestSubmit_TwoStepQuestToCompletion(t *testing.T) {
	f := newFixture(t, answer.ExactMatch{}, twoSteps...)
	ctx := context.Background()

	out, err := f.engine.Submit(ctx, "s1", "q1", "4")
	require.NoError(t, err)
	assert.Equal(t, OutcomeCorrect, out.Kind)
	assert.True(t, out.Correct)
	assert.False(t, out.IsLastStep)
	assert.Equal(t, 1, out.Progress.CurrentStep)
	assert.Equal(t, []string{"4"}, out.Progress.Answers)
	assert.False(t, out.Progress.Completed)
	require.NotNil(t, out.NextStep)
	assert.Equal(t, "Best colour?", out.NextStep.Message)

	out, err = f.engine.Submit(ctx, "s1", "q1", " Purple ")
	require.NoError(t, err)
	assert.True(t, out.Correct)
	assert.True(t, out.IsLastStep)
	assert.Equal(t, 2, out.Progress.CurrentStep)
	assert.Equal(t, []string{"4", "Purple"}, out.Progress.Answers)
	assert.True(t, out.Progress.Completed)
	assert.Equal(t, "Done! You said 4, Purple.", out.FinalMessage)
	assert.Equal(t, "4-Purple", out.FinalCode)
	assert.Nil(t, out.NextStep)

	stored := f.store.GetProgress(ctx, "s1", "q1")
	require.NotNil(t, stored)
	assert.True(t, stored.Completed)

	assert.Equal(t, []OutcomeKind{OutcomeCorrect, OutcomeCorrect}, f.events.types())
}

func TestSubmit_IncorrectLeavesProgressUntouched(t *testing.T) {
	f := newFixture(t, answer.ExactMatch{}, twoSteps...)
	ctx := context.Background()

	out, err := f.engine.Submit(ctx, "s1", "q1", "5")
	require.NoError(t, err)
	assert.Equal(t, OutcomeIncorrect, out.Kind)
	assert.False(t, out.Correct)
	assert.Equal(t, 0, out.Progress.CurrentStep)
	assert.Empty(t, out.Progress.Answers)
	assert.Nil(t, f.store.GetProgress(ctx, "s1", "q1"), "wrong answers are not persisted")
	assert.Equal(t, []OutcomeKind{OutcomeIncorrect}, f.events.types())
}

func TestSubmit_HintNeverMutates(t *testing.T) {
	f := newFixture(t, answer.ExactMatch{}, twoSteps...)
	ctx := context.Background()

	for _, token := range []string{"hint", "  HINT ", "Help", "\thelp\n"} {
		out, err := f.engine.Submit(ctx, "s1", "q1", token)
		require.NoError(t, err)
		assert.Equal(t, OutcomeHint, out.Kind, token)
		assert.Equal(t, "count your fingers", out.Hint)
		assert.Equal(t, 0, out.Progress.CurrentStep)
	}
	assert.Nil(t, f.store.GetProgress(ctx, "s1", "q1"))

	// A step without a hint yields an empty hint, still without mutation.
	_, err := f.engine.Submit(ctx, "s1", "q1", "4")
	require.NoError(t, err)
	out, err := f.engine.Submit(ctx, "s1", "q1", "hint")
	require.NoError(t, err)
	assert.Equal(t, OutcomeHint, out.Kind)
	assert.Empty(t, out.Hint)
	assert.Equal(t, 1, f.store.GetProgress(ctx, "s1", "q1").CurrentStep)
}

func TestSubmit_TerminalStateIsIdempotent(t *testing.T) {
	f := newFixture(t, answer.ExactMatch{}, twoSteps...)
	ctx := context.Background()
	for _, a := range []string{"4", "purple"} {
		_, err := f.engine.Submit(ctx, "s1", "q1", a)
		require.NoError(t, err)
	}
	before := f.store.GetProgress(ctx, "s1", "q1")

	for _, a := range []string{"purple", "4", "hint", ""} {
		out, err := f.engine.Submit(ctx, "s1", "q1", a)
		require.NoError(t, err)
		assert.Equal(t, OutcomeAlreadyCompleted, out.Kind)
		assert.False(t, out.Correct)
		assert.Equal(t, "4-purple", out.FinalCode)
	}

	after := f.store.GetProgress(ctx, "s1", "q1")
	assert.Equal(t, before.CurrentStep, after.CurrentStep)
	assert.Equal(t, before.Answers, after.Answers)
	assert.Equal(t, before.Completed, after.Completed)
	assert.True(t, before.UpdatedAt.Equal(after.UpdatedAt))
}

func TestSubmit_ResubmissionIsJudgedAgainstNewStep(t *testing.T) {
	f := newFixture(t, answer.ExactMatch{}, twoSteps...)
	ctx := context.Background()
	_, err := f.engine.Submit(ctx, "s1", "q1", "4")
	require.NoError(t, err)

	out, err := f.engine.Submit(ctx, "s1", "q1", "4")
	require.NoError(t, err)
	assert.False(t, out.Correct)
	assert.Equal(t, 1, out.StepIndex)
	assert.Equal(t, 1, out.Progress.CurrentStep)
}

func TestSubmit_AIFailureFallsBackToExactMatch(t *testing.T) {
	mock := llm.NewMockProvider(
		llm.MockResponse{Err: &llm.ErrProviderUnavailable{Err: context.DeadlineExceeded}},
		llm.MockResponse{Text: "garbled"},
	)
	f := newFixture(t, answer.NewAIValidator(mock, 0, zap.NewNop()), twoSteps...)
	ctx := context.Background()

	out, err := f.engine.Submit(ctx, "s1", "q1", "4")
	require.NoError(t, err)
	assert.True(t, out.Correct)
	assert.True(t, out.Fallback)
	assert.Equal(t, answer.StrategyExact, out.Strategy)

	out, err = f.engine.Submit(ctx, "s1", "q1", "violet")
	require.NoError(t, err)
	assert.False(t, out.Correct)
	assert.True(t, out.Fallback)
	assert.Equal(t, 2, mock.CallCount())
}

func TestSubmit_AIAcceptsSynonym(t *testing.T) {
	mock := llm.NewMockProvider(llm.MockResponse{Text: "CORRECT. Four is 4."})
	f := newFixture(t, answer.NewAIValidator(mock, 0, zap.NewNop()), twoSteps...)

	out, err := f.engine.Submit(context.Background(), "s1", "q1", "four")
	require.NoError(t, err)
	assert.True(t, out.Correct)
	assert.False(t, out.Fallback)
	require.NotNil(t, out.Explanation)
	assert.Equal(t, "Four is 4.", *out.Explanation)
	assert.Equal(t, []string{"four"}, out.Progress.Answers)
}

func TestReset(t *testing.T) {
	f := newFixture(t, answer.ExactMatch{}, twoSteps...)
	ctx := context.Background()
	for _, a := range []string{"4", "purple"} {
		_, err := f.engine.Submit(ctx, "s1", "q1", a)
		require.NoError(t, err)
	}

	p, err := f.engine.Reset(ctx, "s1", "q1")
	require.NoError(t, err)
	assert.Equal(t, 0, p.CurrentStep)
	assert.Empty(t, p.Answers)
	assert.False(t, p.Completed)

	stored := f.store.GetProgress(ctx, "s1", "q1")
	require.NotNil(t, stored)
	assert.Equal(t, 0, stored.CurrentStep)

	_, err = f.engine.Reset(ctx, "s1", "nope")
	assert.ErrorIs(t, err, ErrQuestNotFound)
}

func TestProgress_InitialIsNotPersisted(t *testing.T) {
	f := newFixture(t, answer.ExactMatch{}, twoSteps...)
	ctx := context.Background()

	p, err := f.engine.Progress(ctx, "s1", "q1")
	require.NoError(t, err)
	assert.Equal(t, "s1", p.SessionID)
	assert.Equal(t, 0, p.CurrentStep)
	assert.NotNil(t, p.Answers)
	assert.Nil(t, f.store.GetProgress(ctx, "s1", "q1"))

	_, err = f.engine.Progress(ctx, "s1", "missing")
	assert.ErrorIs(t, err, ErrQuestNotFound)
}

func TestProgress_ClampsWhenQuestShrank(t *testing.T) {
	f := newFixture(t, answer.ExactMatch{}, twoSteps...)
	ctx := context.Background()
	stale := model.NewProgress("s1", "q1", time.Now().UTC())
	stale.CurrentStep = 5
	stale.Answers = []string{"a", "b", "c", "d", "e"}
	_, err := f.store.UpsertProgress(ctx, "s1", "q1", stale)
	require.NoError(t, err)

	p, err := f.engine.Progress(ctx, "s1", "q1")
	require.NoError(t, err)
	assert.Equal(t, 2, p.CurrentStep)
	assert.True(t, p.Completed)
	assert.Len(t, p.Answers, 2)
}

func TestProgress_ResumesWhenQuestGrew(t *testing.T) {
	f := newFixture(t, answer.ExactMatch{}, twoSteps...)
	ctx := context.Background()
	for _, a := range []string{"4", "purple"} {
		_, err := f.engine.Submit(ctx, "s1", "q1", a)
		require.NoError(t, err)
	}

	q := f.store.GetByID(ctx, "q1")
	require.NotNil(t, q)
	q.Steps = append(q.Steps, model.Step{Type: model.ContentText, Message: "Pick a letter", ExpectedAnswer: "x"})
	_, err := f.store.Upsert(ctx, q)
	require.NoError(t, err)

	p, err := f.engine.Progress(ctx, "s1", "q1")
	require.NoError(t, err)
	assert.Equal(t, 2, p.CurrentStep)
	assert.False(t, p.Completed)
	assert.Equal(t, []string{"4", "purple"}, p.Answers)

	out, err := f.engine.Submit(ctx, "s1", "q1", "x")
	require.NoError(t, err)
	assert.Equal(t, OutcomeCorrect, out.Kind)
	assert.True(t, out.IsLastStep)
	assert.Equal(t, 3, out.Progress.CurrentStep)
	assert.True(t, out.Progress.Completed)
	assert.Equal(t, []string{"4", "purple", "x"}, out.Progress.Answers)
}

func TestSubmit_ZeroStepQuestIsAlreadyComplete(t *testing.T) {
	f := newFixture(t, answer.ExactMatch{})
	out, err := f.engine.Submit(context.Background(), "s1", "q1", "anything")
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyCompleted, out.Kind)
	assert.Equal(t, "Done! You said .", out.FinalMessage)
}

func TestSubmit_UnknownQuest(t *testing.T) {
	f := newFixture(t, answer.ExactMatch{}, twoSteps...)
	_, err := f.engine.Submit(context.Background(), "s1", "nope", "4")
	assert.ErrorIs(t, err, ErrQuestNotFound)
}

// Every reachable state satisfies 0 <= currentStep <= N, completed iff
// currentStep == N, and len(answers) == currentStep.
func TestSubmit_InvariantsHoldOverRandomWalk(t *testing.T) {
	steps := []model.Step{
		{Message: "a", ExpectedAnswer: "a"},
		{Message: "b", ExpectedAnswer: "b", Hint: "bee"},
		{Message: "c", ExpectedAnswer: "c"},
	}
	f := newFixture(t, answer.ExactMatch{}, steps...)
	ctx := context.Background()
	inputs := []string{"x", "a", "hint", "a", "B", "", "help", "c", "c", "a", "reset", "a", "b", "c"}

	for _, in := range inputs {
		var p *model.Progress
		if in == "reset" {
			var err error
			p, err = f.engine.Reset(ctx, "s", "q1")
			require.NoError(t, err)
		} else {
			out, err := f.engine.Submit(ctx, "s", "q1", in)
			require.NoError(t, err)
			p = out.Progress
		}
		n := len(steps)
		assert.GreaterOrEqual(t, p.CurrentStep, 0)
		assert.LessOrEqual(t, p.CurrentStep, n)
		assert.Equal(t, p.CurrentStep == n, p.Completed, "input %q", in)
		assert.Len(t, p.Answers, p.CurrentStep, "input %q", in)
	}
}

func TestSubmit_ConcurrentCorrectAnswersAdvanceOnce(t *testing.T) {
	f := newFixture(t, answer.ExactMatch{}, twoSteps...)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]*Outcome, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := f.engine.Submit(ctx, "s1", "q1", "4")
			assert.NoError(t, err)
			results[i] = out
		}(i)
	}
	wg.Wait()

	var correct int
	for _, r := range results {
		if r != nil && r.Correct {
			correct++
		}
	}
	assert.Equal(t, 1, correct)
	p := f.store.GetProgress(ctx, "s1", "q1")
	assert.Equal(t, 1, p.CurrentStep)
	assert.Equal(t, []string{"4"}, p.Answers)
}

func TestCheckStep(t *testing.T) {
	f := newFixture(t, answer.ExactMatch{}, twoSteps...)
	ctx := context.Background()

	res, err := f.engine.CheckStep(ctx, "q1", 1, "PURPLE")
	require.NoError(t, err)
	assert.True(t, res.Correct)
	assert.True(t, res.IsLastStep)

	res, err = f.engine.CheckStep(ctx, "q1", 0, "3")
	require.NoError(t, err)
	assert.False(t, res.Correct)
	assert.False(t, res.IsLastStep)

	_, err = f.engine.CheckStep(ctx, "q1", 2, "x")
	assert.ErrorIs(t, err, ErrStepNotFound)
	_, err = f.engine.CheckStep(ctx, "zz", 0, "x")
	assert.ErrorIs(t, err, ErrQuestNotFound)
	assert.Nil(t, f.store.GetProgress(ctx, "s1", "q1"))
}

func TestFinalMessage(t *testing.T) {
	assert.Equal(t, "code a, b and a, b", FinalMessage("code {answers} and {answers}", []string{"a", "b"}))
	assert.Equal(t, "no placeholder", FinalMessage("no placeholder", []string{"a"}))
	assert.Equal(t, "", FinalCode(nil))
}
