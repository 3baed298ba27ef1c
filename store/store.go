package store

import (
	"context"
	"fmt"

	"github.com/kasuganosora/aiquest/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Backend is the raw persistence capability every storage engine implements.
// Lookups return (nil, nil) when the record does not exist; any returned error
// is an I/O failure.
type Backend interface {
	ListQuests(ctx context.Context) ([]model.Quest, error)
	GetQuest(ctx context.Context, id string) (*model.Quest, error)
	UpsertQuest(ctx context.Context, q *model.Quest) (*model.Quest, error)
	DeleteQuest(ctx context.Context, id string) error

	GetProgress(ctx context.Context, sessionID, questID string) (*model.Progress, error)
	UpsertProgress(ctx context.Context, p *model.Progress) (*model.Progress, error)

	Close(ctx context.Context) error
}

// QuestStore is the quest capability seen by the rest of the system.
// Reads never fail: a backend error degrades to an empty/nil result.
type QuestStore interface {
	GetAll(ctx context.Context) []model.Quest
	GetByID(ctx context.Context, id string) *model.Quest
	// Lookup is GetByID for write paths: backend errors are returned, not degraded.
	Lookup(ctx context.Context, id string) (*model.Quest, error)
	Upsert(ctx context.Context, q *model.Quest) (*model.Quest, error)
	Delete(ctx context.Context, id string) (bool, error)
}

// ProgressStore is the progress capability seen by the rest of the system.
type ProgressStore interface {
	GetProgress(ctx context.Context, sessionID, questID string) *model.Progress
	UpsertProgress(ctx context.Context, sessionID, questID string, p *model.Progress) (*model.Progress, error)
}

// Store wraps a Backend with the read-degrade / write-propagate policy.
type Store struct {
	backend Backend
	name    string
	logger  *zap.Logger
}

var (
	_ QuestStore    = (*Store)(nil)
	_ ProgressStore = (*Store)(nil)
)

// New wraps backend. name is reported by Name() and in logs.
func New(backend Backend, name string, logger *zap.Logger) *Store {
	return &Store{backend: backend, name: name, logger: logger}
}

// Name returns the active backend name ("file", "sqlite", "mysql", "mongo").
func (s *Store) Name() string { return s.name }

// SQL returns the gorm handle when the active backend is relational, else nil.
func (s *Store) SQL() *gorm.DB {
	if b, ok := s.backend.(interface{ DB() *gorm.DB }); ok {
		return b.DB()
	}
	return nil
}

// Close releases the backend.
func (s *Store) Close(ctx context.Context) error {
	return s.backend.Close(ctx)
}

func (s *Store) GetAll(ctx context.Context) []model.Quest {
	quests, err := s.backend.ListQuests(ctx)
	if err != nil {
		s.logger.Warn("store read degraded: list quests",
			zap.String("backend", s.name), zap.Error(err))
		return []model.Quest{}
	}
	if quests == nil {
		return []model.Quest{}
	}
	return quests
}

func (s *Store) GetByID(ctx context.Context, id string) *model.Quest {
	q, err := s.backend.GetQuest(ctx, id)
	if err != nil {
		s.logger.Warn("store read degraded: get quest",
			zap.String("backend", s.name), zap.String("quest_id", id), zap.Error(err))
		return nil
	}
	return q
}

func (s *Store) Lookup(ctx context.Context, id string) (*model.Quest, error) {
	q, err := s.backend.GetQuest(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("store: get quest %s: %w", id, err)
	}
	return q, nil
}

func (s *Store) Upsert(ctx context.Context, q *model.Quest) (*model.Quest, error) {
	stored, err := s.backend.UpsertQuest(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("store: upsert quest %s: %w", q.ID, err)
	}
	return stored, nil
}

// Delete is idempotent: it reports true whether or not the id existed.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	if err := s.backend.DeleteQuest(ctx, id); err != nil {
		return false, fmt.Errorf("store: delete quest %s: %w", id, err)
	}
	return true, nil
}

func (s *Store) GetProgress(ctx context.Context, sessionID, questID string) *model.Progress {
	p, err := s.backend.GetProgress(ctx, sessionID, questID)
	if err != nil {
		s.logger.Warn("store read degraded: get progress",
			zap.String("backend", s.name),
			zap.String("session_id", sessionID),
			zap.String("quest_id", questID),
			zap.Error(err))
		return nil
	}
	return p
}

// UpsertProgress writes p under the compound key (sessionID, questID); the
// key arguments win over whatever p carries. Last write wins.
func (s *Store) UpsertProgress(ctx context.Context, sessionID, questID string, p *model.Progress) (*model.Progress, error) {
	rec := p.Clone()
	rec.SessionID = sessionID
	rec.QuestID = questID
	stored, err := s.backend.UpsertProgress(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("store: upsert progress %s: %w", model.ProgressKey(sessionID, questID), err)
	}
	return stored, nil
}
