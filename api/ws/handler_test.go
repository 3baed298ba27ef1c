package ws_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/kasuganosora/aiquest/answer"
	"github.com/kasuganosora/aiquest/api/ws"
	mw "github.com/kasuganosora/aiquest/middleware"
	"github.com/kasuganosora/aiquest/model"
	"github.com/kasuganosora/aiquest/quest"
	"github.com/kasuganosora/aiquest/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type client struct {
	t    *testing.T
	conn *websocket.Conn
	seq  uint64
}

func dial(t *testing.T, sessionID string) *client {
	t.Helper()
	logger := zap.NewNop()
	s := testutil.SetupTestStore(t)
	_, ps := testutil.SetupTestCache(t)
	_, err := s.Upsert(context.Background(), &model.Quest{
		ID:        "q1",
		Title:     "Colours",
		FinalText: "You said {answers}",
		Steps: []model.Step{
			{Type: model.ContentText, Message: "Sky?", ExpectedAnswer: "blue", Hint: "look up"},
			{Type: model.ContentText, Message: "Grass?", ExpectedAnswer: "green"},
		},
	})
	require.NoError(t, err)

	engine := quest.NewEngine(s, s, answer.New(nil, 0, logger), ps, logger)
	router := ws.NewRouter(logger)
	ws.RegisterQuestHandlers(router, engine, nil, nil)
	h := ws.NewHandler(ps, router, nil, logger)

	r := gin.New()
	r.GET("/api/ws", func(c *gin.Context) { c.Set(mw.SessionIDKey, sessionID) }, h.ServeWS)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	c := &client{t: t, conn: conn}
	assert.Equal(t, "connected", c.read().Type)
	return c
}

func (c *client) send(msgType string, payload any) {
	c.t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(c.t, err)
	c.seq++
	require.NoError(c.t, c.conn.WriteJSON(ws.Packet{Seq: c.seq, Type: msgType, Payload: raw}))
}

func (c *client) read() ws.Packet {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var pkt ws.Packet
	require.NoError(c.t, c.conn.ReadJSON(&pkt))
	return pkt
}

// readTypes collects n packets keyed by type.
func (c *client) readTypes(n int) map[string]ws.Packet {
	c.t.Helper()
	out := map[string]ws.Packet{}
	for range n {
		pkt := c.read()
		out[pkt.Type] = pkt
	}
	return out
}

func TestServeWS_AnswerFlow(t *testing.T) {
	c := dial(t, "player-1")

	c.send("subscribe", map[string]string{"questId": "q1"})
	pkt := c.read()
	require.Equal(t, "progress", pkt.Type)
	var p model.Progress
	require.NoError(t, json.Unmarshal(pkt.Payload, &p))
	assert.Equal(t, 0, p.CurrentStep)
	assert.Empty(t, p.Answers)

	c.send("answer", map[string]string{"questId": "q1", "answer": "Blue"})
	got := c.readTypes(2)
	require.Contains(t, got, "answer_result")
	require.Contains(t, got, "event")

	var out quest.Outcome
	require.NoError(t, json.Unmarshal(got["answer_result"].Payload, &out))
	assert.True(t, out.Correct)
	assert.Equal(t, 1, out.Progress.CurrentStep)

	var ev quest.Event
	require.NoError(t, json.Unmarshal(got["event"].Payload, &ev))
	assert.Equal(t, "player-1", ev.SessionID)
	assert.Equal(t, "q1", ev.QuestID)

	c.send("answer", map[string]string{"questId": "q1", "answer": "green"})
	got = c.readTypes(2)
	require.NoError(t, json.Unmarshal(got["answer_result"].Payload, &out))
	assert.True(t, out.Progress.Completed)
	assert.Equal(t, "You said Blue, green", out.FinalMessage)
}

func TestServeWS_Errors(t *testing.T) {
	c := dial(t, "player-2")

	c.send("progress", map[string]string{"questId": "missing"})
	pkt := c.read()
	assert.Equal(t, "error", pkt.Type)
	assert.JSONEq(t, `{"error":"Quest not found"}`, string(pkt.Payload))

	c.send("answer", map[string]string{"questId": "q1"})
	pkt = c.read()
	assert.JSONEq(t, `{"error":"answer is required"}`, string(pkt.Payload))

	c.send("subscribe", map[string]string{})
	pkt = c.read()
	assert.JSONEq(t, `{"error":"questId is required"}`, string(pkt.Payload))

	c.send("ping", struct{}{})
	assert.Equal(t, "pong", c.read().Type)
}

func TestServeWS_HintAndReset(t *testing.T) {
	c := dial(t, "player-3")

	c.send("answer", map[string]string{"questId": "q1", "answer": "hint"})
	pkt := c.read()
	require.Equal(t, "answer_result", pkt.Type)
	var out quest.Outcome
	require.NoError(t, json.Unmarshal(pkt.Payload, &out))
	assert.Equal(t, quest.OutcomeHint, out.Kind)
	assert.Equal(t, "look up", out.Hint)

	c.send("reset", map[string]string{"questId": "q1"})
	// unsubscribed sessions get no event packet, only the progress reply
	pkt = c.read()
	assert.Equal(t, "progress", pkt.Type)
}
