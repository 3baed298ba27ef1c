package quest

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/kasuganosora/aiquest/answer"
	"github.com/kasuganosora/aiquest/model"
	"github.com/kasuganosora/aiquest/store"
	"go.uber.org/zap"
)

// EventsChannel is the pub/sub channel progression events are published on.
const EventsChannel = "quest_events"

// OutcomeKind classifies the result of one submission.
type OutcomeKind string

const (
	OutcomeHint             OutcomeKind = "hint"
	OutcomeCorrect          OutcomeKind = "correct"
	OutcomeIncorrect        OutcomeKind = "incorrect"
	OutcomeAlreadyCompleted OutcomeKind = "already_completed"
)

// Outcome is what the engine reports back to the HTTP boundary.
type Outcome struct {
	Kind        OutcomeKind     `json:"kind"`
	Correct     bool            `json:"correct"`
	IsLastStep  bool            `json:"isLastStep"`
	Explanation *string         `json:"explanation,omitempty"`
	Fallback    bool            `json:"fallback"`
	Strategy    answer.Strategy `json:"strategy,omitempty"`
	StepIndex   int             `json:"stepIndex"`
	Hint        string          `json:"hint,omitempty"`
	// NextStep is the step now active after a correct, non-final answer.
	NextStep     *model.Step     `json:"nextStep,omitempty"`
	FinalMessage string          `json:"finalMessage,omitempty"`
	FinalCode    string          `json:"finalCode,omitempty"`
	Progress     *model.Progress `json:"progress"`
}

// Event is the payload published on EventsChannel.
type Event struct {
	Type        OutcomeKind `json:"type"`
	SessionID   string      `json:"sessionId"`
	QuestID     string      `json:"questId"`
	StepIndex   int         `json:"stepIndex"`
	CurrentStep int         `json:"currentStep"`
	Completed   bool        `json:"completed"`
	Fallback    bool        `json:"fallback,omitempty"`
	At          time.Time   `json:"at"`
}

// Publisher is the slice of cache.PubSub the engine needs.
type Publisher interface {
	Publish(ctx context.Context, channel, message string) error
}

// Engine drives a session from the first step to completion.
type Engine struct {
	quests    store.QuestStore
	progress  store.ProgressStore
	validator answer.Validator
	events    Publisher
	logger    *zap.Logger
	now       func() time.Time
	locks     keyedMutex
}

// NewEngine wires the engine. events may be nil.
func NewEngine(quests store.QuestStore, progress store.ProgressStore, v answer.Validator, events Publisher, logger *zap.Logger) *Engine {
	return &Engine{
		quests:    quests,
		progress:  progress,
		validator: v,
		events:    events,
		logger:    logger,
		now:       now,
		locks:     keyedMutex{m: map[string]*keyedEntry{}},
	}
}

// Progress returns the stored progress, or a fresh initial record that is
// not persisted until the first correct answer or a reset.
func (e *Engine) Progress(ctx context.Context, sessionID, questID string) (*model.Progress, error) {
	q := e.quests.GetByID(ctx, questID)
	if q == nil {
		return nil, ErrQuestNotFound
	}
	return e.load(ctx, sessionID, q), nil
}

// Reset writes the initial record for (session, quest).
func (e *Engine) Reset(ctx context.Context, sessionID, questID string) (*model.Progress, error) {
	q := e.quests.GetByID(ctx, questID)
	if q == nil {
		return nil, ErrQuestNotFound
	}
	unlock := e.locks.lock(model.ProgressKey(sessionID, questID))
	defer unlock()

	p := initial(sessionID, q, e.now())
	return e.progress.UpsertProgress(ctx, sessionID, questID, p)
}

// Submit applies one answer. Only a correct answer changes and persists
// progress; hints and wrong answers leave it untouched.
func (e *Engine) Submit(ctx context.Context, sessionID, questID, submitted string) (*Outcome, error) {
	q := e.quests.GetByID(ctx, questID)
	if q == nil {
		return nil, ErrQuestNotFound
	}

	// Serialises read-modify-write per key within this process only.
	unlock := e.locks.lock(model.ProgressKey(sessionID, questID))
	defer unlock()

	p := e.load(ctx, sessionID, q)
	n := len(q.Steps)

	if p.Completed {
		return &Outcome{
			Kind:         OutcomeAlreadyCompleted,
			IsLastStep:   true,
			StepIndex:    p.CurrentStep,
			FinalMessage: FinalMessage(q.FinalText, p.Answers),
			FinalCode:    FinalCode(p.Answers),
			Progress:     p,
		}, nil
	}

	idx := p.CurrentStep
	step := q.Steps[idx]
	isLast := idx == n-1

	if IsHelpRequest(submitted) {
		e.publish(ctx, OutcomeHint, p, idx, false)
		return &Outcome{
			Kind:       OutcomeHint,
			IsLastStep: isLast,
			StepIndex:  idx,
			Hint:       step.Hint,
			Progress:   p,
		}, nil
	}

	res := e.validator.Validate(ctx, step, submitted)
	out := &Outcome{
		Correct:     res.Correct,
		IsLastStep:  isLast,
		Explanation: res.Explanation,
		Fallback:    res.Fallback,
		Strategy:    res.Strategy,
		StepIndex:   idx,
	}

	if !res.Correct {
		out.Kind = OutcomeIncorrect
		out.Progress = p
		e.publish(ctx, OutcomeIncorrect, p, idx, res.Fallback)
		return out, nil
	}

	next := advance(p, strings.TrimSpace(submitted), n, e.now())
	stored, err := e.progress.UpsertProgress(ctx, sessionID, questID, next)
	if err != nil {
		return nil, err
	}

	out.Kind = OutcomeCorrect
	out.Progress = stored
	if stored.Completed {
		out.FinalMessage = FinalMessage(q.FinalText, stored.Answers)
		out.FinalCode = FinalCode(stored.Answers)
	} else {
		nextStep := q.Steps[stored.CurrentStep]
		out.NextStep = &nextStep
	}
	e.publish(ctx, OutcomeCorrect, stored, idx, res.Fallback)
	return out, nil
}

// load reads progress and reconciles it against the quest length.
func (e *Engine) load(ctx context.Context, sessionID string, q *model.Quest) *model.Progress {
	p := e.progress.GetProgress(ctx, sessionID, q.ID)
	if p == nil {
		return initial(sessionID, q, e.now())
	}
	n := len(q.Steps)
	if p.CurrentStep < 0 {
		p.CurrentStep = 0
	}
	if p.CurrentStep > n {
		// The quest may have lost steps since this record was written.
		p.CurrentStep = n
	}
	// Or gained some: a finished session resumes at the first new step.
	p.Completed = p.CurrentStep == n
	if len(p.Answers) > p.CurrentStep {
		p.Answers = p.Answers[:p.CurrentStep]
	}
	return p
}

func initial(sessionID string, q *model.Quest, ts time.Time) *model.Progress {
	p := model.NewProgress(sessionID, q.ID, ts)
	// A quest without steps is complete from the start.
	p.Completed = len(q.Steps) == 0
	return p
}

// advance returns the successor of p after a correct answer to its current step.
func advance(p *model.Progress, accepted string, n int, ts time.Time) *model.Progress {
	next := p.Clone()
	answers := make([]string, next.CurrentStep, next.CurrentStep+1)
	copy(answers, next.Answers)
	next.Answers = append(answers, accepted)
	next.CurrentStep++
	next.Completed = next.CurrentStep == n
	next.UpdatedAt = ts
	return next
}

func (e *Engine) publish(ctx context.Context, kind OutcomeKind, p *model.Progress, stepIndex int, fallback bool) {
	if e.events == nil {
		return
	}
	ev := Event{
		Type:        kind,
		SessionID:   p.SessionID,
		QuestID:     p.QuestID,
		StepIndex:   stepIndex,
		CurrentStep: p.CurrentStep,
		Completed:   p.Completed,
		Fallback:    fallback,
		At:          e.now(),
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := e.events.Publish(ctx, EventsChannel, string(payload)); err != nil {
		e.logger.Warn("publish quest event failed", zap.String("type", string(kind)), zap.Error(err))
	}
}

// IsHelpRequest reports whether s asks for the current hint.
func IsHelpRequest(s string) bool {
	switch answer.Normalize(s) {
	case "hint", "help":
		return true
	}
	return false
}

// FinalMessage substitutes the collected answers into the final-text template.
func FinalMessage(template string, answers []string) string {
	return strings.ReplaceAll(template, model.AnswersPlaceholder, strings.Join(answers, ", "))
}

// FinalCode is the collected answers joined with "-".
func FinalCode(answers []string) string {
	return strings.Join(answers, "-")
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

// keyedMutex hands out one mutex per key and forgets it when unused.
type keyedMutex struct {
	mu sync.Mutex
	m  map[string]*keyedEntry
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	ent, ok := k.m[key]
	if !ok {
		ent = &keyedEntry{}
		k.m[key] = ent
	}
	ent.refs++
	k.mu.Unlock()

	ent.mu.Lock()
	return func() {
		ent.mu.Unlock()
		k.mu.Lock()
		ent.refs--
		if ent.refs == 0 {
			delete(k.m, key)
		}
		k.mu.Unlock()
	}
}
