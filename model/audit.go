package model

import "time"

// AnswerAttempt records one answer submission and how it was judged.
type AnswerAttempt struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	TraceID    string    `gorm:"index:idx_attempt_trace;size:64" json:"trace_id"`
	SessionID  string    `gorm:"index:idx_attempt_session;size:128;not null" json:"session_id"`
	QuestID    string    `gorm:"index:idx_attempt_quest;size:64;not null" json:"quest_id"`
	StepIndex  int       `json:"step_index"`
	Outcome    string    `gorm:"size:16;not null" json:"outcome"`
	Strategy   string    `gorm:"size:16" json:"strategy"`
	Fallback   bool      `json:"fallback"`
	Answer     string    `gorm:"type:text" json:"answer"`
	DurationMs int       `json:"duration_ms"`
	CreatedAt  time.Time `gorm:"index:idx_attempt_created;autoCreateTime" json:"created_at"`
}
