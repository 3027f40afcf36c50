package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/FenadoAI/autopilot/internal/domain"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// streamIdleTimeout closes event streams that stay silent for too long
const streamIdleTimeout = 5 * time.Minute

// streamReply is written back for every event read from the stream
type streamReply struct {
	EventID    string                 `json:"event_id"`
	Executions []domain.RuleExecution `json:"executions,omitempty"`
	Error      string                 `json:"error,omitempty"`
}

// HandleEventStream handles GET /api/autopilot/events/ws?user_id=
//
// The provider streams events as JSON text messages; each one is evaluated
// in order and answered with the resulting executions.
func (h *Handler) HandleEventStream(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to accept event stream")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream closed")

	log := h.log.With().Str("user_id", userID).Logger()
	log.Info().Msg("Event stream connected")

	ctx := r.Context()
	for {
		var event domain.Event
		readCtx, cancel := context.WithTimeout(ctx, streamIdleTimeout)
		err := wsjson.Read(readCtx, conn, &event)
		cancel()
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				log.Info().Msg("Event stream closed by provider")
				return
			}
			if errors.Is(err, context.DeadlineExceeded) {
				conn.Close(websocket.StatusPolicyViolation, "idle timeout")
				return
			}
			log.Warn().Err(err).Msg("Event stream read failed")
			return
		}

		reply := streamReply{EventID: event.ID}
		executions, err := h.service.HandleEvent(ctx, userID, event)
		if err != nil {
			reply.Error = err.Error()
		} else {
			reply.Executions = executions
		}

		if err := wsjson.Write(ctx, conn, reply); err != nil {
			log.Warn().Err(err).Str("event_id", event.ID).Msg("Event stream write failed")
			return
		}
	}
}
