package filestore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kasuganosora/aiquest/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_EmptyDir(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	quests, err := s.ListQuests(context.Background())
	require.NoError(t, err)
	assert.Empty(t, quests)
}

func TestPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	ts := time.Now().UTC().Truncate(time.Millisecond)

	s, err := Open(dir)
	require.NoError(t, err)
	_, err = s.UpsertQuest(ctx, &model.Quest{ID: "q", Title: "T", Steps: []model.Step{{Message: "m", ExpectedAnswer: "a"}}, CreatedAt: ts})
	require.NoError(t, err)
	p := model.NewProgress("s", "q", ts)
	p.Answers = []string{"a"}
	p.CurrentStep = 1
	_, err = s.UpsertProgress(ctx, p)
	require.NoError(t, err)

	raw, err := os.ReadFile(filepath.Join(dir, ProgressFile))
	require.NoError(t, err)
	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Contains(t, doc, "s-q")

	reopened, err := Open(dir)
	require.NoError(t, err)
	q, err := reopened.GetQuest(ctx, "q")
	require.NoError(t, err)
	require.NotNil(t, q)
	assert.Equal(t, "T", q.Title)
	got, err := reopened.GetProgress(ctx, "s", "q")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []string{"a"}, got.Answers)
	assert.True(t, ts.Equal(got.StartedAt))
}

func TestOpen_LegacyPairLayout(t *testing.T) {
	dir := t.TempDir()
	legacy := `[["q-old", {"id":"q-old","title":"Legacy","steps":[{"type":"text","message":"hi","expectedAnswer":"yo"}]}]]`
	require.NoError(t, os.WriteFile(filepath.Join(dir, QuestsFile), []byte(legacy), 0o644))

	s, err := Open(dir)
	require.NoError(t, err)
	q, err := s.GetQuest(context.Background(), "q-old")
	require.NoError(t, err)
	require.NotNil(t, q)
	assert.Equal(t, "Legacy", q.Title)
	assert.Equal(t, "yo", q.Steps[0].ExpectedAnswer)
}

func TestOpen_CorruptFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, QuestsFile), []byte("{not json"), 0o644))
	_, err := Open(dir)
	assert.Error(t, err)
}

func TestReturnedValuesAreCopies(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()
	_, err = s.UpsertQuest(ctx, &model.Quest{ID: "q", Steps: []model.Step{{Message: "one"}}})
	require.NoError(t, err)

	q, _ := s.GetQuest(ctx, "q")
	q.Steps[0].Message = "mutated"
	again, _ := s.GetQuest(ctx, "q")
	assert.Equal(t, "one", again.Steps[0].Message)
}

func TestGetProgress_KeyCollisionIsNotShared(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()
	_, err = s.UpsertProgress(ctx, model.NewProgress("a-b", "c", time.Now()))
	require.NoError(t, err)

	p, err := s.GetProgress(ctx, "a", "b-c")
	require.NoError(t, err)
	assert.Nil(t, p)

	p, err = s.GetProgress(ctx, "a-b", "c")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "a-b", p.SessionID)
	assert.Equal(t, "c", p.QuestID)
}

func TestWriteFailureRollsBack(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root ignores directory permissions")
	}
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, os.Chmod(dir, 0o500))
	t.Cleanup(func() { _ = os.Chmod(dir, 0o755) })

	_, err = s.UpsertQuest(context.Background(), &model.Quest{ID: "q"})
	assert.Error(t, err)
	q, _ := s.GetQuest(context.Background(), "q")
	assert.Nil(t, q)
}
