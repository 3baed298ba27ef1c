package rest_test

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/kasuganosora/aiquest/llm"
	"github.com/kasuganosora/aiquest/model"
	"github.com/kasuganosora/aiquest/store"
	"github.com/kasuganosora/aiquest/store/filestore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestProgress_PlayThrough(t *testing.T) {
	h := newHarness(t, nil)
	id := h.createQuest(twoStepQuest)
	p := h.newPlayer()

	w := p.do(http.MethodGet, "/api/progress/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	prog := decode[map[string]any](t, w)
	assert.EqualValues(t, 0, prog["currentStep"])
	assert.Equal(t, false, prog["completed"])

	w = p.do(http.MethodPost, "/api/progress/"+id+"/answer", map[string]string{"answer": "hint"})
	out := decode[map[string]any](t, w)
	assert.Equal(t, "hint", out["kind"])
	assert.Equal(t, "fingers", out["hint"])

	w = p.do(http.MethodPost, "/api/progress/"+id+"/answer", map[string]string{"answer": "5"})
	out = decode[map[string]any](t, w)
	assert.Equal(t, false, out["correct"])

	w = p.do(http.MethodPost, "/api/progress/"+id+"/answer", map[string]string{"answer": "4"})
	out = decode[map[string]any](t, w)
	assert.Equal(t, true, out["correct"])
	assert.Equal(t, false, out["isLastStep"])
	assert.Equal(t, "Best colour?", out["nextStep"].(map[string]any)["message"])

	w = p.do(http.MethodPost, "/api/progress/"+id+"/answer", map[string]string{"answer": "Purple"})
	out = decode[map[string]any](t, w)
	assert.Equal(t, true, out["correct"])
	assert.Equal(t, true, out["isLastStep"])
	assert.Equal(t, "Well done: 4, Purple", out["finalMessage"])
	assert.Equal(t, "4-Purple", out["finalCode"])

	w = p.do(http.MethodGet, "/api/progress/"+id, nil)
	prog = decode[map[string]any](t, w)
	assert.Equal(t, true, prog["completed"])
	assert.Equal(t, []any{"4", "Purple"}, prog["answers"])

	w = p.do(http.MethodPost, "/api/progress/"+id+"/reset", nil)
	require.Equal(t, http.StatusOK, w.Code)
	prog = decode[map[string]any](t, w)
	assert.EqualValues(t, 0, prog["currentStep"])
	assert.Equal(t, []any{}, prog["answers"])
	assert.Equal(t, false, prog["completed"])
}

func TestProgress_SessionsAreIsolated(t *testing.T) {
	h := newHarness(t, nil)
	id := h.createQuest(twoStepQuest)
	alice, bob := h.newPlayer(), h.newPlayer()

	alice.do(http.MethodPost, "/api/progress/"+id+"/answer", map[string]string{"answer": "4"})
	require.NotEmpty(t, alice.cookie)

	w := bob.do(http.MethodGet, "/api/progress/"+id, nil)
	assert.EqualValues(t, 0, decode[map[string]any](t, w)["currentStep"])
	w = alice.do(http.MethodGet, "/api/progress/"+id, nil)
	assert.EqualValues(t, 1, decode[map[string]any](t, w)["currentStep"])
}

func TestProgress_Errors(t *testing.T) {
	h := newHarness(t, nil)
	p := h.newPlayer()

	assert.Equal(t, http.StatusNotFound, p.do(http.MethodGet, "/api/progress/nope", nil).Code)
	assert.Equal(t, http.StatusNotFound, p.do(http.MethodPost, "/api/progress/nope/answer", map[string]string{"answer": "x"}).Code)
	assert.Equal(t, http.StatusNotFound, p.do(http.MethodPost, "/api/progress/nope/reset", nil).Code)

	id := h.createQuest(twoStepQuest)
	assert.Equal(t, http.StatusBadRequest, p.do(http.MethodPost, "/api/progress/"+id+"/answer", `{}`).Code)
}

func TestProgress_AIFallbackIsInvisibleToPlayer(t *testing.T) {
	mock := llm.NewMockProvider(llm.MockResponse{Err: &llm.ErrRateLimit{}})
	h := newHarness(t, mock)
	id := h.createQuest(twoStepQuest)

	w := h.newPlayer().do(http.MethodPost, "/api/progress/"+id+"/answer", map[string]string{"answer": " 4 "})
	require.Equal(t, http.StatusOK, w.Code)
	out := decode[map[string]any](t, w)
	assert.Equal(t, true, out["correct"])
	assert.Equal(t, true, out["fallback"])
	assert.Equal(t, "exact", out["strategy"])
	assert.Equal(t, 1, mock.CallCount())
}

func TestProgress_AttemptsAreAudited(t *testing.T) {
	h := newHarness(t, nil)
	id := h.createQuest(twoStepQuest)
	p := h.newPlayer()
	p.do(http.MethodPost, "/api/progress/"+id+"/answer", map[string]string{"answer": "5"})
	p.do(http.MethodPost, "/api/progress/"+id+"/answer", map[string]string{"answer": "4"})
	h.audit.Stop(context.Background())

	var rows []model.AnswerAttempt
	require.NoError(t, h.db.Order("id").Find(&rows).Error)
	require.Len(t, rows, 2)
	assert.Equal(t, "incorrect", rows[0].Outcome)
	assert.Equal(t, "correct", rows[1].Outcome)
	assert.Equal(t, id, rows[1].QuestID)
	assert.NotEmpty(t, rows[1].TraceID)

	w := h.admin(http.MethodGet, "/api/admin/attempts?questId="+id+"&limit=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[map[string]any](t, w)
	assert.Equal(t, true, body["enabled"])
	assert.Len(t, body["attempts"], 1)

	assert.Equal(t, http.StatusBadRequest, h.admin(http.MethodGet, "/api/admin/attempts?limit=-1", nil).Code)
}

// readOnlyProgress fails every progress write.
type readOnlyProgress struct {
	*filestore.Store
}

func (readOnlyProgress) UpsertProgress(context.Context, *model.Progress) (*model.Progress, error) {
	return nil, errors.New("disk full")
}

func TestProgress_StoreWriteFailureIs500(t *testing.T) {
	fs, err := filestore.Open(t.TempDir())
	require.NoError(t, err)
	h := newHarnessWithStore(t, nil, store.New(readOnlyProgress{fs}, "file", zap.NewNop()))
	id := h.createQuest(twoStepQuest)
	p := h.newPlayer()

	w := p.do(http.MethodPost, "/api/progress/"+id+"/answer", map[string]string{"answer": "4"})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "Failed to update progress")

	// Wrong answers and hints never write, so they still succeed.
	w = p.do(http.MethodPost, "/api/progress/"+id+"/answer", map[string]string{"answer": "5"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, http.StatusInternalServerError, p.do(http.MethodPost, "/api/progress/"+id+"/reset", nil).Code)
}

// unreadableQuests fails every quest lookup.
type unreadableQuests struct {
	*filestore.Store
}

func (unreadableQuests) GetQuest(context.Context, string) (*model.Quest, error) {
	return nil, errors.New("disk gone")
}

func TestQuestDelete_StoreReadFailureIs500(t *testing.T) {
	fs, err := filestore.Open(t.TempDir())
	require.NoError(t, err)
	h := newHarnessWithStore(t, nil, store.New(unreadableQuests{fs}, "file", zap.NewNop()))
	id := h.createQuest(twoStepQuest)

	w := h.admin(http.MethodDelete, "/api/quests/"+id, nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "Failed to delete quest")

	w = h.admin(http.MethodPut, "/api/quests/"+id, map[string]string{"title": "x"})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestValidateAnswer(t *testing.T) {
	h := newHarness(t, nil)
	id := h.createQuest(twoStepQuest)

	w := h.do(http.MethodPost, "/api/validate-answer", map[string]any{"questId": id, "stepIndex": 1, "answer": "PURPLE"})
	require.Equal(t, http.StatusOK, w.Code)
	out := decode[map[string]any](t, w)
	assert.Equal(t, true, out["correct"])
	assert.Equal(t, true, out["isLastStep"])

	w = h.do(http.MethodPost, "/api/validate-answer", map[string]any{"questId": id, "stepIndex": 0, "answer": "3"})
	out = decode[map[string]any](t, w)
	assert.Equal(t, false, out["correct"])

	w = h.do(http.MethodPost, "/api/validate-answer", map[string]any{"questId": id, "stepIndex": 9, "answer": "x"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "Step not found")

	w = h.do(http.MethodPost, "/api/validate-answer", map[string]any{"questId": id, "answer": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChat(t *testing.T) {
	mock := llm.NewMockProvider(llm.MockResponse{Text: "Count again!"})
	h := newHarness(t, mock)
	id := h.createQuest(twoStepQuest)

	w := h.do(http.MethodPost, "/api/chat", map[string]any{"message": "help?", "questId": id, "currentStep": 0})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Count again!", decode[map[string]any](t, w)["message"])

	w = h.do(http.MethodPost, "/api/chat", map[string]any{"message": "hi", "questId": id, "currentStep": 5})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestChat_WithoutProvider(t *testing.T) {
	h := newHarness(t, nil)
	id := h.createQuest(twoStepQuest)
	w := h.do(http.MethodPost, "/api/chat", map[string]any{"message": "hi", "questId": id, "currentStep": 0})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
