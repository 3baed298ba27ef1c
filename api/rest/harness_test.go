package rest_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/aiquest/answer"
	"github.com/kasuganosora/aiquest/api/rest"
	"github.com/kasuganosora/aiquest/audit"
	"github.com/kasuganosora/aiquest/llm"
	mw "github.com/kasuganosora/aiquest/middleware"
	"github.com/kasuganosora/aiquest/quest"
	"github.com/kasuganosora/aiquest/store"
	"github.com/kasuganosora/aiquest/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const (
	testSecret   = "rest-test-secret"
	testAdminKey = "admin-key"
	testPassword = "letmein"
)

type harness struct {
	t      *testing.T
	router *gin.Engine
	store  *store.Store
	db     *gorm.DB
	audit  *audit.Service
	mock   *llm.MockProvider
}

// newHarness builds the full /api surface. With a mock provider the AI
// validator and guide are enabled; without one exact matching is used.
func newHarness(t *testing.T, mock *llm.MockProvider) *harness {
	t.Helper()
	return newHarnessWithStore(t, mock, testutil.SetupTestStore(t))
}

func newHarnessWithStore(t *testing.T, mock *llm.MockProvider, s *store.Store) *harness {
	t.Helper()
	logger := zap.NewNop()
	db := testutil.SetupTestDB(t)
	c, ps := testutil.SetupTestCache(t)

	var provider llm.Provider
	providerName := ""
	if mock != nil {
		provider = mock
		providerName = llm.ProviderMock
	}
	validator := answer.New(provider, 0, logger)
	engine := quest.NewEngine(s, s, validator, ps, logger)
	auditSvc := audit.New(db, logger)

	r := gin.New()
	r.Use(mw.TraceID(), mw.Recovery(logger), mw.Session(testSecret, time.Hour, false))
	rest.Mount(r, rest.Handlers{
		Health:   rest.NewHealthHandler(s.Name(), providerName),
		Quest:    rest.NewQuestHandler(quest.NewService(s, logger), logger),
		Progress: rest.NewProgressHandler(engine, auditSvc, logger),
		Chat:     rest.NewChatHandler(quest.NewGuide(s, provider, 0, logger), logger),
		Auth: rest.NewAuthHandler(c, rest.AuthConfig{
			Password: testPassword, Secret: testSecret, TTL: time.Hour,
		}, logger),
		Admin:     rest.NewAdminHandler(db, logger),
		AdminAuth: mw.AdminAuth(mw.AdminConfig{Key: testAdminKey, Secret: testSecret, PasswordSet: true}, c),
	})

	return &harness{t: t, router: r, store: s, db: db, audit: auditSvc, mock: mock}
}

// do sends a request. headers alternate name, value.
func (h *harness) do(method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	h.t.Helper()
	var rd *bytes.Reader
	switch b := body.(type) {
	case nil:
		rd = bytes.NewReader(nil)
	case string:
		rd = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(h.t, err)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Real-IP", "198.51.100.1")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func (h *harness) admin(method, path string, body any) *httptest.ResponseRecorder {
	return h.do(method, path, body, mw.AdminKeyHeader, testAdminKey)
}

// player keeps a session cookie across calls, like a browser would.
type player struct {
	h      *harness
	cookie string
}

func (h *harness) newPlayer() *player { return &player{h: h} }

func (p *player) do(method, path string, body any) *httptest.ResponseRecorder {
	p.h.t.Helper()
	var headers []string
	if p.cookie != "" {
		headers = []string{"Cookie", mw.SessionCookie + "=" + p.cookie}
	}
	w := p.h.do(method, path, body, headers...)
	for _, ck := range w.Result().Cookies() {
		if ck.Name == mw.SessionCookie {
			p.cookie = ck.Value
		}
	}
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

const twoStepQuest = `{
  "title": "Colours",
  "aiName": "Oracle",
  "userName": "Sam",
  "active": true,
  "finalText": "Well done: {answers}",
  "steps": [
    {"message": "2+2?", "expectedAnswer": "4", "hint": "fingers"},
    {"message": "Best colour?", "expectedAnswer": "purple"}
  ]
}`

func (h *harness) createQuest(body string) string {
	h.t.Helper()
	w := h.admin(http.MethodPost, "/api/quests", body)
	require.Equal(h.t, http.StatusCreated, w.Code, w.Body.String())
	return decode[map[string]any](h.t, w)["id"].(string)
}
