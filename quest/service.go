package quest

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kasuganosora/aiquest/model"
	"github.com/kasuganosora/aiquest/store"
	"go.uber.org/zap"
)

// Service handles admin quest management and the password gate.
type Service struct {
	quests store.QuestStore
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates a new quest Service.
func NewService(quests store.QuestStore, logger *zap.Logger) *Service {
	return &Service{quests: quests, logger: logger, now: now}
}

func now() time.Time { return time.Now().UTC().Truncate(time.Millisecond) }

// List returns password-stripped quests, newest first.
func (s *Service) List(ctx context.Context, activeOnly bool) []model.Quest {
	all := s.quests.GetAll(ctx)
	out := make([]model.Quest, 0, len(all))
	for _, q := range all {
		if activeOnly && !q.Active {
			continue
		}
		out = append(out, q.Public())
	}
	return out
}

// ListAdmin returns every quest including passwords.
func (s *Service) ListAdmin(ctx context.Context) []model.Quest {
	return s.quests.GetAll(ctx)
}

// Get returns the stored quest, password included. Callers on read paths
// must use Public().
func (s *Service) Get(ctx context.Context, id string) (*model.Quest, error) {
	q := s.quests.GetByID(ctx, id)
	if q == nil {
		return nil, ErrQuestNotFound
	}
	return q, nil
}

// Create validates raw, assigns an id and timestamps, and stores the quest.
func (s *Service) Create(ctx context.Context, raw []byte) (*model.Quest, error) {
	if err := validatePayload(raw, true); err != nil {
		return nil, err
	}
	var q model.Quest
	if err := json.Unmarshal(raw, &q); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidQuest, err)
	}

	ts := s.now()
	q.ID = uuid.NewString()
	q.CreatedAt = ts
	q.UpdatedAt = ts
	normalize(&q)

	stored, err := s.quests.Upsert(ctx, &q)
	if err != nil {
		return nil, err
	}
	s.logger.Info("quest created", zap.String("quest_id", stored.ID), zap.Int("steps", len(stored.Steps)))
	return stored, nil
}

// Update merges the fields present in raw onto the stored quest. Steps, when
// given, replace the whole sequence. id and createdAt never change.
func (s *Service) Update(ctx context.Context, id string, raw []byte) (*model.Quest, error) {
	if err := validatePayload(raw, false); err != nil {
		return nil, err
	}
	existing, err := s.quests.Lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, ErrQuestNotFound
	}

	var present map[string]json.RawMessage
	if err := json.Unmarshal(raw, &present); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidQuest, err)
	}
	merged := *existing
	if _, ok := present["steps"]; ok {
		merged.Steps = nil
	}
	if err := json.Unmarshal(raw, &merged); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidQuest, err)
	}

	merged.ID = existing.ID
	merged.CreatedAt = existing.CreatedAt
	merged.UpdatedAt = s.now()
	normalize(&merged)

	stored, err := s.quests.Upsert(ctx, &merged)
	if err != nil {
		return nil, err
	}
	s.logger.Info("quest updated", zap.String("quest_id", id))
	return stored, nil
}

// Delete removes a quest. Unknown ids report ErrQuestNotFound; a failed
// lookup is returned as is.
func (s *Service) Delete(ctx context.Context, id string) error {
	existing, err := s.quests.Lookup(ctx, id)
	if err != nil {
		return err
	}
	if existing == nil {
		return ErrQuestNotFound
	}
	if _, err := s.quests.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("quest deleted", zap.String("quest_id", id))
	return nil
}

// PasswordResult answers a password check. Quest is set only when Valid.
type PasswordResult struct {
	Valid     bool         `json:"valid"`
	Protected bool         `json:"protected"`
	Quest     *model.Quest `json:"quest,omitempty"`
}

// CheckPassword compares password against the quest's access password.
// An unprotected quest always validates.
func (s *Service) CheckPassword(ctx context.Context, id, password string) (*PasswordResult, error) {
	q, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	pub := q.Public()
	if q.Password == "" {
		return &PasswordResult{Valid: true, Protected: false, Quest: &pub}, nil
	}
	if subtle.ConstantTimeCompare([]byte(q.Password), []byte(password)) != 1 {
		return &PasswordResult{Valid: false, Protected: true}, nil
	}
	return &PasswordResult{Valid: true, Protected: true, Quest: &pub}, nil
}

func normalize(q *model.Quest) {
	q.Protected = false
	if q.Steps == nil {
		q.Steps = []model.Step{}
	}
	for i := range q.Steps {
		if q.Steps[i].Type == "" {
			q.Steps[i].Type = model.ContentText
		}
	}
}
