package api

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/docchat/ai"
	"github.com/poiesic/docchat/core"
	"github.com/poiesic/docchat/rag"
)

func (f *fixture) createConversation(t *testing.T) core.ID {
	t.Helper()
	rec := f.do(t, http.MethodPut, "/api/v1/chat/conversation", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	conv := decode[core.Conversation](t, rec)
	assert.Equal(t, core.PlaceholderTitle, conv.Title)
	return conv.Id
}

func TestChatTurn(t *testing.T) {
	f := setup(t)
	id := f.createConversation(t)

	rec := f.do(t, http.MethodPost, "/api/v1/chat/"+id.String(), chatRequest{Message: "How fast does the pump run?"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[chatResponse](t, rec)
	assert.Equal(t, id, resp.ConversationId)
	assert.Equal(t, core.RoleAssistant, resp.Role)
	assert.Equal(t, "The pump runs at 40 bar.", resp.Content)
	assert.Equal(t, uint64(1), resp.Sequence)
	assert.Equal(t, rag.ModeBasic, resp.Mode)
	assert.Empty(t, resp.Sources)
	assert.True(t, resp.Persisted)
	assert.NotEmpty(t, resp.Title)

	rec = f.do(t, http.MethodGet, "/api/v1/chat/conversations/"+id.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	detail := decode[conversationDetail](t, rec)
	require.Len(t, detail.Messages, 2)
	assert.Equal(t, core.RoleUser, detail.Messages[0].Role)
	assert.Equal(t, "How fast does the pump run?", detail.Messages[0].Content)
	assert.Equal(t, core.RoleAssistant, detail.Messages[1].Role)
	assert.True(t, detail.TitleGenerated)
}

func TestChatErrors(t *testing.T) {
	f := setup(t)
	id := f.createConversation(t)

	rec := f.do(t, http.MethodPost, "/api/v1/chat/424242", chatRequest{Message: "hello"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Conversation not found", decode[errorResponse](t, rec).Detail)

	rec = f.do(t, http.MethodPost, "/api/v1/chat/"+id.String(), chatRequest{Message: "   "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/chat/not-a-number", chatRequest{Message: "hello"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	f.chat.GenerateFunc = func(context.Context, ai.GenerateRequest) (string, error) {
		return "", errors.New("upstream 429")
	}
	rec = f.do(t, http.MethodPost, "/api/v1/chat/"+id.String(), chatRequest{Message: "hello"})
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	msgs, err := f.repos.Conversations.GetMessages(context.Background(), id)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestListAndDeleteConversations(t *testing.T) {
	f := setup(t)
	first := f.createConversation(t)
	second := f.createConversation(t)

	rec := f.do(t, http.MethodPost, "/api/v1/chat/"+first.String(), chatRequest{Message: "hello there"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/chat/conversations", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]conversationResponse](t, rec)
	require.Len(t, list, 2)
	assert.Equal(t, first, list[0].Id, "most recently updated first")
	require.NotNil(t, list[0].LastMessage)
	assert.Equal(t, core.RoleAssistant, list[0].LastMessage.Role)
	assert.Equal(t, 2, list[0].MessageCount)
	assert.Nil(t, list[1].LastMessage)

	rec = f.do(t, http.MethodGet, "/api/v1/chat/conversations?skip=1&limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list = decode[[]conversationResponse](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, second, list[0].Id)

	rec = f.do(t, http.MethodGet, "/api/v1/chat/conversations?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/chat/conversations?limit=0", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[errorResponse](t, rec).Detail, "positive")

	rec = f.do(t, http.MethodDelete, "/api/v1/chat/conversations/"+first.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodDelete, "/api/v1/chat/conversations/"+first.String(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = f.do(t, http.MethodGet, "/api/v1/chat/conversations/"+first.String(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFeedback(t *testing.T) {
	f := setup(t)
	id := f.createConversation(t)
	rec := f.do(t, http.MethodPost, "/api/v1/chat/"+id.String(), chatRequest{Message: "hello there"})
	require.Equal(t, http.StatusOK, rec.Code)

	base := "/api/v1/chat/" + id.String() + "/messages/"

	rec = f.do(t, http.MethodPost, base+"1/feedback", map[string]string{"rating": "thumbs_down", "comment": "too vague"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, base+"0/feedback", map[string]string{"thumbs": "up"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, base+"1/feedback", map[string]string{"thumbs": "up"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, base+"7/feedback", map[string]string{"rating": "thumbs_up"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, base+"1/feedback", map[string]string{"rating": "meh"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, base+"-1/feedback", map[string]string{"rating": "thumbs_up"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/chat/conversations/"+id.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	detail := decode[conversationDetail](t, rec)
	require.Len(t, detail.Messages, 2)
	require.NotNil(t, detail.Messages[0].Feedback)
	assert.Equal(t, core.RatingThumbsUp, detail.Messages[0].Feedback.Rating)
	require.NotNil(t, detail.Messages[1].Feedback)
	assert.Equal(t, core.RatingThumbsUp, detail.Messages[1].Feedback.Rating, "later rating replaces the earlier one")
	assert.Empty(t, detail.Messages[1].Feedback.Comment)
}
