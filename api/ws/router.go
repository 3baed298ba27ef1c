package ws

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	mw "github.com/kasuganosora/aiquest/middleware"
	"go.uber.org/zap"
)

// HandlerFunc processes a decoded packet payload.
type HandlerFunc func(ctx context.Context, s *Session, payload json.RawMessage) error

// Router dispatches incoming packets by type.
type Router struct {
	handlers map[string]HandlerFunc
	logger   *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{handlers: make(map[string]HandlerFunc), logger: logger}
}

// On registers fn for msgType, replacing any earlier registration.
func (r *Router) On(msgType string, fn HandlerFunc) {
	r.handlers[msgType] = fn
}

// Dispatch decodes raw, drops replayed sequence numbers and runs the handler.
// A handler error is logged and reported to the client as an "error" packet.
func (r *Router) Dispatch(ctx context.Context, s *Session, raw []byte) {
	var pkt Packet
	if err := json.Unmarshal(raw, &pkt); err != nil {
		r.logger.Warn("malformed packet", zap.String("session_id", s.ID), zap.Error(err))
		s.SendError("malformed packet")
		return
	}

	// Seq 0 opts out of ordering.
	if pkt.Seq != 0 && pkt.Seq <= s.LastSeq {
		r.logger.Warn("replayed or out-of-order packet",
			zap.String("session_id", s.ID),
			zap.Uint64("seq", pkt.Seq),
			zap.Uint64("last_seq", s.LastSeq))
		return
	}
	if pkt.Seq != 0 {
		s.LastSeq = pkt.Seq
	}

	fn, ok := r.handlers[pkt.Type]
	if !ok {
		r.logger.Debug("unhandled message type",
			zap.String("type", pkt.Type),
			zap.String("session_id", s.ID))
		s.SendError("unknown message type: " + pkt.Type)
		return
	}

	s.TraceID = uuid.NewString()
	ctx = mw.ContextWithTraceID(ctx, s.TraceID)
	if err := fn(ctx, s, pkt.Payload); err != nil {
		r.logger.Warn("ws handler error",
			zap.String("type", pkt.Type),
			zap.String("session_id", s.ID),
			zap.String("trace_id", s.TraceID),
			zap.Error(err))
		s.SendError(clientMessage(err))
	}
}
