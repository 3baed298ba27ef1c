package audit

import (
	"context"
	"testing"

	"github.com/kasuganosora/aiquest/model"
	"github.com/kasuganosora/aiquest/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestRecord_FlushedOnStop(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := New(db, zap.NewNop())

	svc.Record(Attempt{
		TraceID:    "trace-123",
		SessionID:  "sess",
		QuestID:    "q1",
		StepIndex:  2,
		Outcome:    "correct",
		Strategy:   "ai",
		Fallback:   true,
		Answer:     "purple",
		DurationMs: 42,
	})
	svc.Stop(context.Background())

	var rows []model.AnswerAttempt
	require.NoError(t, db.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, "trace-123", rows[0].TraceID)
	assert.Equal(t, "q1", rows[0].QuestID)
	assert.Equal(t, 2, rows[0].StepIndex)
	assert.True(t, rows[0].Fallback)
	assert.Equal(t, 42, rows[0].DurationMs)
	assert.False(t, rows[0].CreatedAt.IsZero())
}

func TestRecord_BatchFlush(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := New(db, zap.NewNop())

	for i := 0; i < batchSize+5; i++ {
		svc.Record(Attempt{SessionID: "s", QuestID: "q", Outcome: "incorrect"})
	}
	svc.Stop(context.Background())

	var count int64
	db.Model(&model.AnswerAttempt{}).Count(&count)
	assert.Equal(t, int64(batchSize+5), count)
}

func TestRecord_LogsWithoutDatabase(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	svc := New(nil, zap.New(core))

	svc.Record(Attempt{SessionID: "s", QuestID: "q", Outcome: "hint"})
	svc.Stop(context.Background())

	entries := logs.FilterMessage("answer attempt").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "hint", entries[0].ContextMap()["outcome"])
}

func TestStop_Idempotent(t *testing.T) {
	svc := New(testutil.SetupTestDB(t), zap.NewNop())
	svc.Stop(context.Background())
	svc.Stop(context.Background())
}

func TestRecord_FloodDoesNotBlock(t *testing.T) {
	svc := New(nil, zap.NewNop())
	for i := 0; i < queueSize+10; i++ {
		svc.Record(Attempt{Outcome: "flood"})
	}
	svc.Stop(context.Background())
}
