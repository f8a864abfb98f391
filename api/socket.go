package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/poiesic/docchat/core"
	"github.com/poiesic/docchat/storage"
)

// socketWriteTimeout bounds a single frame write to the client.
const socketWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// handleChatSocket runs chat turns over a websocket. Each text frame carries
// {"message": ...}; each reply is a chat response or {"detail": ...}. A failed
// turn is reported on the socket and the connection stays open.
func (s *Server) handleChatSocket(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if _, err := s.conversations.GetConversation(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Conversation not found")
			return
		}
		s.fail(w, r, err, "Failed to load conversation")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error
		s.logger.Warn("websocket upgrade failed", "conversation", id, "err", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxJSONBody)

	logger := s.logger.With("conversation", id)
	logger.Debug("chat socket opened")
	defer logger.Debug("chat socket closed")

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("chat socket read failed", "err", err)
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}

		var reply any
		var req chatRequest
		if err := json.Unmarshal(data, &req); err != nil {
			reply = errorResponse{Detail: "invalid message: " + err.Error()}
		} else {
			reply = s.socketTurn(r, id, req.Message)
		}

		if err := writeFrame(conn, reply); err != nil {
			logger.Debug("chat socket write failed", "err", err)
			return
		}
	}
}

func (s *Server) socketTurn(r *http.Request, id core.ID, message string) any {
	result, err := s.chat.Turn(r.Context(), id, message)
	if errors.Is(err, storage.ErrNotFound) {
		return errorResponse{Detail: "Conversation not found"}
	}
	if err != nil {
		_, detail := s.explain(r, err, "An error occurred while processing your message")
		return errorResponse{Detail: detail}
	}
	return newChatResponse(id, result)
}

func writeFrame(conn *websocket.Conn, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	if err := conn.SetWriteDeadline(time.Now().Add(socketWriteTimeout)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, payload)
}
