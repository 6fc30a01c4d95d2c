package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/slateworks/slate/internal/board"
	"github.com/slateworks/slate/internal/collab"
	"github.com/slateworks/slate/internal/presence"
	"github.com/slateworks/slate/internal/realtime"
)

const inboundQueueSize = 32

var socketUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// socketFault is the error frame delivered only to the connection whose
// intent failed. Other subscribers never observe it.
type socketFault struct {
	Type    string `json:"type"`
	Error   string `json:"error"`
	BoardID string `json:"board_id,omitempty"`
	ShapeID string `json:"shape_id,omitempty"`
}

// handleBoardSocket upgrades the request, joins the presence session and
// bridges the connection to the board's event stream. Inbound intents pass
// through a bounded queue with a single consumer so one connection's edits
// apply in the order they were sent.
func (h *httpHandler) handleBoardSocket(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	boardID := c.Param("boardId")
	displayIdentity := c.Query("display_identity")
	if displayIdentity == "" {
		displayIdentity = userID
	}

	handle, err := h.hub.Join(c.Request.Context(), boardID, userID, displayIdentity)
	if err != nil {
		switch {
		case errors.Is(err, realtime.ErrUnauthorized):
			c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		case errors.Is(err, collab.ErrBoardNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "board_not_found"})
		default:
			h.logger.Error("board join failed", zap.String("board_id", boardID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "join_failed"})
		}
		return
	}

	conn, err := socketUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.hub.Leave(handle, displayIdentity)
		h.logger.Warn("websocket upgrade failed", zap.String("board_id", boardID), zap.Error(err))
		return
	}
	defer conn.Close()
	defer h.hub.Leave(handle, displayIdentity)

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	stream, cleanup := h.hub.Subscribe(ctx, boardID)
	defer cleanup()

	intents := make(chan realtime.Message, inboundQueueSize)
	faults := make(chan socketFault, inboundQueueSize)

	go h.writeOutbound(ctx, conn, stream, faults)
	go h.consumeIntents(ctx, handle, intents, faults)

	for {
		var message realtime.Message
		if err := conn.ReadJSON(&message); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read ended", zap.String("board_id", boardID), zap.Error(err))
			}
			close(intents)
			return
		}
		select {
		case intents <- message:
		case <-ctx.Done():
			close(intents)
			return
		}
	}
}

// writeOutbound is the sole writer on the connection. It interleaves the
// board's event stream with this connection's private error frames.
func (h *httpHandler) writeOutbound(ctx context.Context, conn *websocket.Conn, stream <-chan realtime.Message, faults <-chan socketFault) {
	for {
		select {
		case message, ok := <-stream:
			if !ok {
				return
			}
			if err := conn.WriteJSON(message); err != nil {
				return
			}
		case fault := <-faults:
			if err := conn.WriteJSON(fault); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (h *httpHandler) consumeIntents(ctx context.Context, handle presence.SessionHandle, intents <-chan realtime.Message, faults chan<- socketFault) {
	for message := range intents {
		if err := h.hub.HandleIntent(ctx, handle, message); err != nil {
			select {
			case faults <- h.mapIntentFault(message, err):
			default:
			}
		}
	}
}

func (h *httpHandler) mapIntentFault(message realtime.Message, err error) socketFault {
	fault := socketFault{
		Type:    "error",
		BoardID: message.BoardID,
		ShapeID: message.ShapeID,
	}
	switch {
	case errors.Is(err, realtime.ErrMalformedIntent):
		fault.Error = "malformed_intent"
	case errors.Is(err, realtime.ErrUnauthorized):
		fault.Error = "unauthorized"
	case errors.Is(err, board.ErrShapeNotFound):
		fault.Error = "shape_not_found"
	case errors.Is(err, collab.ErrBoardNotFound):
		fault.Error = "board_not_found"
	default:
		h.logger.Error("intent handling failed",
			zap.String("board_id", message.BoardID),
			zap.String("shape_id", message.ShapeID),
			zap.Error(err))
		fault.Error = "intent_failed"
	}
	return fault
}
