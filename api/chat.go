package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/poiesic/docchat/core"
	"github.com/poiesic/docchat/rag"
	"github.com/poiesic/docchat/storage"
)

// Defaults for conversation listing.
const (
	defaultListLimit = 10
	maxListLimit     = 100
)

type conversationResponse struct {
	*core.Conversation
	LastMessage *core.Message `json:"last_message,omitempty"`
}

type messageResponse struct {
	*core.Message
	Feedback *core.Feedback `json:"feedback,omitempty"`
}

type conversationDetail struct {
	*core.Conversation
	Messages []messageResponse `json:"messages"`
}

type chatRequest struct {
	Message string `json:"message"`
}

type chatResponse struct {
	ConversationId core.ID         `json:"conversation_id"`
	Role           core.Role       `json:"role"`
	Content        string          `json:"content"`
	Timestamp      time.Time       `json:"timestamp"`
	Sequence       uint64          `json:"sequence"`
	Mode           rag.Mode        `json:"mode"`
	Sources        []core.ChunkRef `json:"sources"`
	Title          string          `json:"title,omitempty"`
	Persisted      bool            `json:"persisted"`
	Degraded       bool            `json:"degraded,omitempty"`
}

// feedbackRequest accepts a rating ("thumbs_up"/"thumbs_down") or the short
// thumbs form ("up"/"down").
type feedbackRequest struct {
	Rating  core.Rating `json:"rating"`
	Thumbs  string      `json:"thumbs"`
	Comment string      `json:"comment"`
}

func (f feedbackRequest) rating() core.Rating {
	if f.Rating != "" {
		return f.Rating
	}
	switch strings.ToLower(f.Thumbs) {
	case "up":
		return core.RatingThumbsUp
	case "down":
		return core.RatingThumbsDown
	}
	return core.Rating(f.Thumbs)
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := s.conversations.CreateConversation(r.Context(), core.PlaceholderTitle)
	if err != nil {
		s.fail(w, r, err, "Failed to create conversation")
		return
	}
	s.logger.Info("conversation created", "conversation", conv.Id)
	writeJSON(w, http.StatusOK, conversationResponse{Conversation: conv})
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	skip, ok := queryInt(r, "skip", 0)
	if !ok {
		writeError(w, http.StatusBadRequest, "skip must be a non-negative integer")
		return
	}
	// A zero limit means unbounded to the store
	limit, ok := queryInt(r, "limit", defaultListLimit)
	if !ok || limit == 0 {
		writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}
	limit = min(limit, maxListLimit)

	convs, err := s.conversations.ListConversations(r.Context(), skip, limit)
	if err != nil {
		s.fail(w, r, err, "Failed to list conversations")
		return
	}

	resp := make([]conversationResponse, 0, len(convs))
	for _, conv := range convs {
		item := conversationResponse{Conversation: conv}
		if conv.MessageCount > 0 {
			last, err := s.conversations.GetRecentMessages(r.Context(), conv.Id, 1)
			if err != nil {
				s.fail(w, r, err, "Failed to list conversations")
				return
			}
			if len(last) > 0 {
				item.LastMessage = last[0]
			}
		}
		resp = append(resp, item)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	ctx := r.Context()

	conv, err := s.conversations.GetConversation(ctx, id)
	if err != nil {
		s.fail(w, r, fmt.Errorf("conversation: %w", err), "Failed to load conversation")
		return
	}
	msgs, err := s.conversations.GetMessages(ctx, id)
	if err != nil {
		s.fail(w, r, err, "Failed to load conversation")
		return
	}
	feedback, err := s.conversations.GetFeedback(ctx, id)
	if err != nil {
		s.fail(w, r, err, "Failed to load conversation")
		return
	}

	bySeq := make(map[uint64]*core.Feedback, len(feedback))
	for _, fb := range feedback {
		bySeq[fb.Sequence] = fb
	}
	detail := conversationDetail{Conversation: conv, Messages: make([]messageResponse, 0, len(msgs))}
	for _, m := range msgs {
		detail.Messages = append(detail.Messages, messageResponse{Message: m, Feedback: bySeq[m.Sequence]})
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := s.conversations.DeleteConversation(r.Context(), id); err != nil {
		s.fail(w, r, fmt.Errorf("conversation: %w", err), "Failed to delete conversation")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success", "message": "Conversation deleted"})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	result, err := s.chat.Turn(r.Context(), id, req.Message)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Conversation not found")
		return
	}
	if err != nil {
		s.fail(w, r, err, "An error occurred while processing your message")
		return
	}

	writeJSON(w, http.StatusOK, newChatResponse(id, result))
}

func newChatResponse(id core.ID, result *rag.TurnResult) chatResponse {
	answer := result.AssistantMessage
	resp := chatResponse{
		ConversationId: id,
		Role:           answer.Role,
		Content:        answer.Content,
		Timestamp:      answer.Timestamp,
		Sequence:       answer.Sequence,
		Sources:        answer.Sources,
		Title:          result.Title,
		Persisted:      result.Persisted(),
		Degraded:       result.RetrievalErr != nil,
	}
	if resp.Sources == nil {
		resp.Sources = []core.ChunkRef{}
	}
	if result.Context != nil {
		resp.Mode = result.Context.Mode
	}
	return resp
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	index, err := strconv.ParseUint(r.PathValue("index"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid message index %q", r.PathValue("index")))
		return
	}
	var req feedbackRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	fb := &core.Feedback{
		ConversationId: id,
		Sequence:       index,
		Rating:         req.rating(),
		Comment:        req.Comment,
	}
	if err := s.conversations.SetFeedback(r.Context(), fb); err != nil {
		s.fail(w, r, fmt.Errorf("message: %w", err), "Failed to submit feedback")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success", "message": "Feedback submitted successfully"})
}
