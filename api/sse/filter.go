package sse

import (
	"encoding/json"

	"github.com/kasuganosora/aiquest/quest"
)

func matchesQuest(payload, questID string) bool {
	var ev quest.Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return false
	}
	return ev.QuestID == questID
}
