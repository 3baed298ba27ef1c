// Package sqlstore persists quests and progress through GORM (SQLite or MySQL).
package sqlstore

import (
	"context"
	"errors"

	"github.com/kasuganosora/aiquest/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store is the relational backend.
type Store struct {
	db *gorm.DB
}

// New wraps an already migrated *gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB exposes the handle so the audit log can share the connection.
func (s *Store) DB() *gorm.DB { return s.db }

func (s *Store) ListQuests(ctx context.Context) ([]model.Quest, error) {
	var rows []model.QuestRecord
	if err := s.db.WithContext(ctx).Order("created_at DESC").Order("id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]model.Quest, 0, len(rows))
	for i := range rows {
		q, err := rows[i].Quest()
		if err != nil {
			return nil, err
		}
		out = append(out, *q)
	}
	return out, nil
}

func (s *Store) GetQuest(ctx context.Context, id string) (*model.Quest, error) {
	var row model.QuestRecord
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.Quest()
}

func (s *Store) UpsertQuest(ctx context.Context, q *model.Quest) (*model.Quest, error) {
	row, err := model.NewQuestRecord(q)
	if err != nil {
		return nil, err
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(row).Error
	if err != nil {
		return nil, err
	}
	return row.Quest()
}

func (s *Store) DeleteQuest(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Where("id = ?", id).Delete(&model.QuestRecord{}).Error
}

func (s *Store) GetProgress(ctx context.Context, sessionID, questID string) (*model.Progress, error) {
	var row model.ProgressRecord
	err := s.db.WithContext(ctx).
		Where("session_id = ? AND quest_id = ?", sessionID, questID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.Progress()
}

// UpsertProgress inserts or overwrites the row keyed by (session_id, quest_id).
func (s *Store) UpsertProgress(ctx context.Context, p *model.Progress) (*model.Progress, error) {
	row, err := model.NewProgressRecord(p)
	if err != nil {
		return nil, err
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "session_id"}, {Name: "quest_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"current_step", "answers", "completed", "started_at", "updated_at",
		}),
	}).Create(row).Error
	if err != nil {
		return nil, err
	}
	return row.Progress()
}

func (s *Store) Close(_ context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
