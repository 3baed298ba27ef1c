package ws

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/kasuganosora/aiquest/cache"
	mw "github.com/kasuganosora/aiquest/middleware"
	"github.com/kasuganosora/aiquest/quest"
	"go.uber.org/zap"
)

// Handler serves GET /api/ws, the player's socket for answering steps and
// receiving their own progress events.
type Handler struct {
	pubsub   cache.PubSub
	router   *Router
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewHandler creates a Handler. An empty allowedOrigins accepts any origin.
func NewHandler(pubsub cache.PubSub, router *Router, allowedOrigins []string, logger *zap.Logger) *Handler {
	h := &Handler{pubsub: pubsub, router: router, logger: logger}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, o := range allowedOrigins {
				if o == origin {
					return true
				}
			}
			return false
		},
	}
	return h
}

// ServeWS upgrades the request. The Session middleware has already bound the
// caller's quest session id.
func (h *Handler) ServeWS(c *gin.Context) {
	sid := mw.GetSessionID(c)
	if sid == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing session"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", zap.Error(err))
		return
	}

	s := NewSession(sid, conn, h.logger)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if h.pubsub != nil {
		msgCh, unsub, err := h.pubsub.Subscribe(ctx, quest.EventsChannel)
		if err != nil {
			h.logger.Warn("ws subscribe failed", zap.String("session_id", sid), zap.Error(err))
		} else {
			defer unsub()
			go forwardEvents(ctx, s, msgCh)
		}
	}
	h.logger.Info("ws connected", zap.String("session_id", sid))
	s.Send("connected", gin.H{"sessionId": sid})
	h.readPump(ctx, s)
}

func (h *Handler) readPump(ctx context.Context, s *Session) {
	defer func() {
		s.Close()
		h.logger.Info("ws disconnected", zap.String("session_id", s.ID))
	}()

	s.SetReadDeadline()
	s.Conn.SetPongHandler(func(string) error {
		s.SetReadDeadline()
		return nil
	})

	for {
		_, raw, err := s.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseNoStatusReceived) {
				h.logger.Warn("ws unexpected close", zap.String("session_id", s.ID), zap.Error(err))
			}
			return
		}
		s.SetReadDeadline()
		h.router.Dispatch(ctx, s, raw)
	}
}

// forwardEvents relays progression events that belong to this session and a
// subscribed quest.
func forwardEvents(ctx context.Context, s *Session, msgCh <-chan *cache.Message) {
	for {
		select {
		case msg, ok := <-msgCh:
			if !ok {
				return
			}
			ev, ok := decodeEvent(msg.Payload)
			if !ok || ev.SessionID != s.ID || !s.Watching(ev.QuestID) {
				continue
			}
			s.Send("event", ev)
		case <-s.Done:
			return
		case <-ctx.Done():
			return
		}
	}
}
