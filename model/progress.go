package model

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// Progress is one session's position within one quest.
type Progress struct {
	SessionID   string    `json:"sessionId"`
	QuestID     string    `json:"questId"`
	CurrentStep int       `json:"currentStep"`
	Answers     []string  `json:"answers"`
	Completed   bool      `json:"completed"`
	StartedAt   time.Time `json:"startedAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// NewProgress returns the initial progress record for a (session, quest) pair.
func NewProgress(sessionID, questID string, now time.Time) *Progress {
	return &Progress{
		SessionID: sessionID,
		QuestID:   questID,
		Answers:   []string{},
		StartedAt: now,
		UpdatedAt: now,
	}
}

// ProgressKey is the compound key "{sessionId}-{questId}".
func ProgressKey(sessionID, questID string) string {
	return sessionID + "-" + questID
}

// Clone returns a deep copy so callers can mutate without aliasing stored answers.
func (p *Progress) Clone() *Progress {
	cp := *p
	cp.Answers = append([]string(nil), p.Answers...)
	if cp.Answers == nil {
		cp.Answers = []string{}
	}
	return &cp
}

// ProgressRecord is the relational row for a Progress.
// (session_id, quest_id) is unique; upserts conflict on it.
type ProgressRecord struct {
	ID          int64          `gorm:"primaryKey;autoIncrement"`
	SessionID   string         `gorm:"size:128;not null;uniqueIndex:idx_progress_session_quest"`
	QuestID     string         `gorm:"size:64;not null;uniqueIndex:idx_progress_session_quest;index:idx_progress_quest"`
	CurrentStep int            `gorm:"not null"`
	Answers     datatypes.JSON `gorm:"not null"`
	Completed   bool           `gorm:"not null"`
	StartedAt   time.Time      `gorm:"autoCreateTime:false"`
	UpdatedAt   time.Time      `gorm:"autoUpdateTime:false"`
}

func (ProgressRecord) TableName() string { return "quest_progress" }

// NewProgressRecord converts a Progress into its row form.
func NewProgressRecord(p *Progress) (*ProgressRecord, error) {
	answers := p.Answers
	if answers == nil {
		answers = []string{}
	}
	raw, err := json.Marshal(answers)
	if err != nil {
		return nil, err
	}
	return &ProgressRecord{
		SessionID:   p.SessionID,
		QuestID:     p.QuestID,
		CurrentStep: p.CurrentStep,
		Answers:     datatypes.JSON(raw),
		Completed:   p.Completed,
		StartedAt:   p.StartedAt,
		UpdatedAt:   p.UpdatedAt,
	}, nil
}

// Progress converts the row back into the domain type.
func (r *ProgressRecord) Progress() (*Progress, error) {
	answers := []string{}
	if len(r.Answers) > 0 {
		if err := json.Unmarshal(r.Answers, &answers); err != nil {
			return nil, err
		}
	}
	return &Progress{
		SessionID:   r.SessionID,
		QuestID:     r.QuestID,
		CurrentStep: r.CurrentStep,
		Answers:     answers,
		Completed:   r.Completed,
		StartedAt:   r.StartedAt,
		UpdatedAt:   r.UpdatedAt,
	}, nil
}
