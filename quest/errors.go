package quest

import "errors"

var (
	ErrQuestNotFound = errors.New("quest not found")
	ErrStepNotFound  = errors.New("step not found")
	ErrInvalidQuest  = errors.New("invalid quest")
)
