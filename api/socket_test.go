package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/docchat/ai"
	"github.com/poiesic/docchat/core"
	"github.com/poiesic/docchat/rag"
)

func dialChat(t *testing.T, f *fixture, id string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	srv := httptest.NewServer(f.handler)
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/chat/ws/" + id
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if conn != nil {
		t.Cleanup(func() { conn.Close() })
	}
	return conn, resp, err
}

func exchange[T any](t *testing.T, conn *websocket.Conn, frame any) T {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	switch v := frame.(type) {
	case string:
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(v)))
	default:
		require.NoError(t, conn.WriteJSON(v))
	}
	var reply T
	require.NoError(t, conn.ReadJSON(&reply))
	return reply
}

func TestChatSocket_Turns(t *testing.T) {
	f := setup(t)
	id := f.createConversation(t)

	conn, resp, err := dialChat(t, f, id.String())
	require.NoError(t, err)
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	first := exchange[chatResponse](t, conn, chatRequest{Message: "How fast does the pump run?"})
	assert.Equal(t, id, first.ConversationId)
	assert.Equal(t, core.RoleAssistant, first.Role)
	assert.Equal(t, "The pump runs at 40 bar.", first.Content)
	assert.Equal(t, uint64(1), first.Sequence)
	assert.Equal(t, rag.ModeBasic, first.Mode)
	assert.NotNil(t, first.Sources)
	assert.True(t, first.Persisted)

	second := exchange[chatResponse](t, conn, chatRequest{Message: "And the flow rate?"})
	assert.Equal(t, uint64(3), second.Sequence)

	msgs, err := f.repos.Conversations.GetMessages(context.Background(), id)
	require.NoError(t, err)
	assert.Len(t, msgs, 4)
}

func TestChatSocket_ErrorsKeepConnection(t *testing.T) {
	f := setup(t)
	id := f.createConversation(t)

	conn, _, err := dialChat(t, f, id.String())
	require.NoError(t, err)

	bad := exchange[errorResponse](t, conn, "{not json")
	assert.Contains(t, bad.Detail, "invalid message")

	blank := exchange[errorResponse](t, conn, chatRequest{Message: "  "})
	assert.NotEmpty(t, blank.Detail)

	f.chat.GenerateFunc = func(context.Context, ai.GenerateRequest) (string, error) {
		return "", errors.New("upstream 429")
	}
	failed := exchange[errorResponse](t, conn, chatRequest{Message: "hello"})
	assert.NotEmpty(t, failed.Detail)

	f.chat.GenerateFunc = nil
	ok := exchange[chatResponse](t, conn, chatRequest{Message: "hello again"})
	assert.Equal(t, "The pump runs at 40 bar.", ok.Content)
	assert.Equal(t, uint64(1), ok.Sequence)
}

func TestChatSocket_Rejections(t *testing.T) {
	f := setup(t)

	_, resp, err := dialChat(t, f, "424242")
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	_, resp, err = dialChat(t, f, "not-a-number")
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// A plain GET without the upgrade handshake
	id := f.createConversation(t)
	rec := f.do(t, http.MethodGet, "/api/v1/chat/ws/"+id.String(), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
