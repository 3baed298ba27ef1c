package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kasuganosora/aiquest/audit"
	"github.com/kasuganosora/aiquest/llm"
	mw "github.com/kasuganosora/aiquest/middleware"
	"github.com/kasuganosora/aiquest/quest"
)

type questPayload struct {
	QuestID string `json:"questId"`
}

type answerPayload struct {
	QuestID string  `json:"questId"`
	Answer  *string `json:"answer"`
}

type chatPayload struct {
	QuestID     string `json:"questId"`
	Message     string `json:"message"`
	CurrentStep int    `json:"currentStep"`
}

const maxChatMessage = 2000

// RegisterQuestHandlers binds the quest packet types onto r. auditSvc and
// guide may be nil.
func RegisterQuestHandlers(r *Router, engine *quest.Engine, guide *quest.Guide, auditSvc *audit.Service) {
	r.On("ping", func(_ context.Context, s *Session, _ json.RawMessage) error {
		s.Send("pong", struct{}{})
		return nil
	})

	r.On("subscribe", func(ctx context.Context, s *Session, payload json.RawMessage) error {
		var req questPayload
		if err := decode(payload, &req); err != nil {
			return err
		}
		p, err := engine.Progress(ctx, s.ID, req.QuestID)
		if err != nil {
			return err
		}
		s.Subscribe(req.QuestID)
		s.Send("progress", p)
		return nil
	})

	r.On("unsubscribe", func(_ context.Context, s *Session, payload json.RawMessage) error {
		var req questPayload
		if err := decode(payload, &req); err != nil {
			return err
		}
		s.Unsubscribe(req.QuestID)
		return nil
	})

	r.On("progress", func(ctx context.Context, s *Session, payload json.RawMessage) error {
		var req questPayload
		if err := decode(payload, &req); err != nil {
			return err
		}
		p, err := engine.Progress(ctx, s.ID, req.QuestID)
		if err != nil {
			return err
		}
		s.Send("progress", p)
		return nil
	})

	r.On("answer", func(ctx context.Context, s *Session, payload json.RawMessage) error {
		var req answerPayload
		if err := decode(payload, &req); err != nil {
			return err
		}
		if req.Answer == nil {
			return errBadRequest("answer is required")
		}
		start := time.Now()
		out, err := engine.Submit(ctx, s.ID, req.QuestID, *req.Answer)
		if err != nil {
			return err
		}
		if auditSvc != nil {
			auditSvc.Record(audit.Attempt{
				TraceID:    mw.TraceIDFrom(ctx),
				SessionID:  s.ID,
				QuestID:    req.QuestID,
				StepIndex:  out.StepIndex,
				Outcome:    string(out.Kind),
				Strategy:   string(out.Strategy),
				Fallback:   out.Fallback,
				Answer:     *req.Answer,
				DurationMs: int(time.Since(start).Milliseconds()),
			})
		}
		s.Send("answer_result", out)
		return nil
	})

	r.On("reset", func(ctx context.Context, s *Session, payload json.RawMessage) error {
		var req questPayload
		if err := decode(payload, &req); err != nil {
			return err
		}
		p, err := engine.Reset(ctx, s.ID, req.QuestID)
		if err != nil {
			return err
		}
		s.Send("progress", p)
		return nil
	})

	if guide != nil {
		r.On("chat", func(ctx context.Context, s *Session, payload json.RawMessage) error {
			var req chatPayload
			if err := decode(payload, &req); err != nil {
				return err
			}
			if req.Message == "" || len(req.Message) > maxChatMessage || req.CurrentStep < 0 {
				return errBadRequest("invalid chat message")
			}
			reply, err := guide.Reply(ctx, req.QuestID, req.CurrentStep, req.Message)
			if err != nil {
				return err
			}
			s.Send("chat_reply", map[string]string{"message": reply})
			return nil
		})
	}
}

type errBadRequest string

func (e errBadRequest) Error() string { return string(e) }

func decode(payload json.RawMessage, into any) error {
	if len(payload) == 0 {
		return errBadRequest("missing payload")
	}
	if err := json.Unmarshal(payload, into); err != nil {
		return errBadRequest(fmt.Sprintf("invalid payload: %v", err))
	}
	if q, ok := into.(interface{ quest() string }); ok && q.quest() == "" {
		return errBadRequest("questId is required")
	}
	return nil
}

func (p *questPayload) quest() string  { return p.QuestID }
func (p *answerPayload) quest() string { return p.QuestID }
func (p *chatPayload) quest() string   { return p.QuestID }

// clientMessage maps an error to the text sent in an "error" packet.
// Storage and provider failures are not echoed.
func clientMessage(err error) string {
	var bad errBadRequest
	switch {
	case errors.As(err, &bad):
		return string(bad)
	case errors.Is(err, quest.ErrQuestNotFound):
		return "Quest not found"
	case errors.Is(err, quest.ErrStepNotFound):
		return "Step not found"
	case errors.Is(err, llm.ErrNotConfigured):
		return "AI service not configured"
	default:
		return "internal error"
	}
}

func decodeEvent(payload string) (quest.Event, bool) {
	var ev quest.Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return ev, false
	}
	return ev, true
}
