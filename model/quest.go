package model

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// ContentType is the kind of media a step carries alongside its prompt.
type ContentType string

const (
	ContentText  ContentType = "text"
	ContentImage ContentType = "image"
	ContentVideo ContentType = "video"
	ContentLink  ContentType = "link"
)

// AnswersPlaceholder is substituted in Quest.FinalText with the collected answers.
const AnswersPlaceholder = "{answers}"

// Step is one question/answer stage of a quest, addressed by its 0-based index.
type Step struct {
	ID             int64       `json:"id,omitempty"`
	Type           ContentType `json:"type"`
	Message        string      `json:"message"`
	ExpectedAnswer string      `json:"expectedAnswer"`
	Hint           string      `json:"hint,omitempty"`
	MediaURL       string      `json:"mediaUrl,omitempty"`
}

// Quest is an ordered sequence of steps authored by an admin.
type Quest struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	AIName      string    `json:"aiName"`
	UserName    string    `json:"userName"`
	Password    string    `json:"password,omitempty"`
	Protected   bool      `json:"protected"`
	Active      bool      `json:"active"`
	Steps       []Step    `json:"steps"`
	FinalText   string    `json:"finalText"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Public returns a copy safe for read-path responses: the password is removed
// and Protected reports whether one was set.
func (q Quest) Public() Quest {
	q.Protected = q.Password != ""
	q.Password = ""
	return q
}

// StepAt returns the step at index i, or false when i is out of range.
func (q *Quest) StepAt(i int) (Step, bool) {
	if i < 0 || i >= len(q.Steps) {
		return Step{}, false
	}
	return q.Steps[i], true
}

// QuestRecord is the relational row for a Quest. Steps are kept as a JSON column.
type QuestRecord struct {
	ID          string         `gorm:"primaryKey;size:64"`
	Title       string         `gorm:"size:255;not null"`
	Description string         `gorm:"type:text"`
	AIName      string         `gorm:"size:64"`
	UserName    string         `gorm:"size:64"`
	Password    string         `gorm:"size:255"`
	Active      bool           `gorm:"not null"`
	Steps       datatypes.JSON `gorm:"not null"`
	FinalText   string         `gorm:"type:text"`
	CreatedAt   time.Time      `gorm:"index:idx_quest_created;autoCreateTime:false"`
	UpdatedAt   time.Time      `gorm:"autoUpdateTime:false"`
}

func (QuestRecord) TableName() string { return "quests" }

// NewQuestRecord converts a Quest into its row form.
func NewQuestRecord(q *Quest) (*QuestRecord, error) {
	steps := q.Steps
	if steps == nil {
		steps = []Step{}
	}
	raw, err := json.Marshal(steps)
	if err != nil {
		return nil, err
	}
	return &QuestRecord{
		ID:          q.ID,
		Title:       q.Title,
		Description: q.Description,
		AIName:      q.AIName,
		UserName:    q.UserName,
		Password:    q.Password,
		Active:      q.Active,
		Steps:       datatypes.JSON(raw),
		FinalText:   q.FinalText,
		CreatedAt:   q.CreatedAt,
		UpdatedAt:   q.UpdatedAt,
	}, nil
}

// Quest converts the row back into the domain type.
func (r *QuestRecord) Quest() (*Quest, error) {
	steps := []Step{}
	if len(r.Steps) > 0 {
		if err := json.Unmarshal(r.Steps, &steps); err != nil {
			return nil, err
		}
	}
	return &Quest{
		ID:          r.ID,
		Title:       r.Title,
		Description: r.Description,
		AIName:      r.AIName,
		UserName:    r.UserName,
		Password:    r.Password,
		Active:      r.Active,
		Steps:       steps,
		FinalText:   r.FinalText,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}, nil
}
