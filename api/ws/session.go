package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	sendChanBuf   = 64
	writeDeadline = 10 * time.Second
	readDeadline  = 60 * time.Second
	pingInterval  = 30 * time.Second
)

// Packet is the envelope for every frame in both directions.
type Packet struct {
	Seq     uint64          `json:"seq"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Session is one player's socket. Writes go through SendChan so only
// writePump touches the connection for writing.
type Session struct {
	ID      string // quest session id from the session cookie
	Conn    *websocket.Conn
	TraceID string
	LastSeq uint64

	SendChan chan []byte
	Done     chan struct{}

	mu     sync.Mutex
	quests map[string]struct{} // subscribed quest ids
	logger *zap.Logger
}

// NewSession wraps conn and starts its write goroutine. conn may be nil in
// tests, in which case frames stay in SendChan.
func NewSession(id string, conn *websocket.Conn, logger *zap.Logger) *Session {
	s := &Session{
		ID:       id,
		Conn:     conn,
		SendChan: make(chan []byte, sendChanBuf),
		Done:     make(chan struct{}),
		quests:   map[string]struct{}{},
		logger:   logger,
	}
	if conn != nil {
		go s.writePump()
	}
	return s
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer s.Conn.Close()
	for {
		select {
		case data := <-s.SendChan:
			_ = s.Conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := s.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.logger.Warn("ws write error", zap.String("session_id", s.ID), zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = s.Conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := s.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.Done:
			_ = s.Conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// Send encodes a packet and queues it. Drops when the queue is full or the
// session is closed.
func (s *Session) Send(msgType string, payload any) {
	if s.IsClosed() {
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return
	}
	data, err := json.Marshal(Packet{Type: msgType, Payload: raw})
	if err != nil {
		return
	}
	select {
	case s.SendChan <- data:
	case <-s.Done:
	default:
		s.logger.Warn("send channel full, dropping packet",
			zap.String("session_id", s.ID),
			zap.String("type", msgType))
	}
}

// SendError reports a failed request back to the client.
func (s *Session) SendError(msg string) {
	s.Send("error", map[string]string{"error": msg})
}

// Subscribe adds questID to the set of quests whose events are forwarded.
func (s *Session) Subscribe(questID string) {
	s.mu.Lock()
	s.quests[questID] = struct{}{}
	s.mu.Unlock()
}

// Unsubscribe stops forwarding events for questID.
func (s *Session) Unsubscribe(questID string) {
	s.mu.Lock()
	delete(s.quests, questID)
	s.mu.Unlock()
}

// Watching reports whether events for questID are forwarded.
func (s *Session) Watching(questID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.quests[questID]
	return ok
}

func (s *Session) SetReadDeadline() {
	if s.Conn != nil {
		_ = s.Conn.SetReadDeadline(time.Now().Add(readDeadline))
	}
}

// Close signals writePump to shut down.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.Done:
	default:
		close(s.Done)
	}
}

func (s *Session) IsClosed() bool {
	select {
	case <-s.Done:
		return true
	default:
		return false
	}
}
