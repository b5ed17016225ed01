package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/tofu-tavern/backend/internal/model/chat"
	"github.com/zhouzirui/tofu-tavern/backend/internal/model/persona"
	"github.com/zhouzirui/tofu-tavern/backend/internal/service/ai"
	chatservice "github.com/zhouzirui/tofu-tavern/backend/internal/service/chat"
)

type staticHandle struct{ cfg ai.HandleConfig }

func (h *staticHandle) Config() ai.HandleConfig { return h.cfg }

func (h *staticHandle) Exchange(ctx context.Context, text string) (string, error) {
	return "Hi human!", nil
}

type staticFactory struct{}

func (staticFactory) NewHandle(ctx context.Context, cfg ai.HandleConfig, history []chat.Message) (ai.Handle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &staticHandle{cfg: cfg}, nil
}

type received struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

func dial(t *testing.T) (*websocket.Conn, *chatservice.Conversation) {
	t.Helper()
	chatSvc := chatservice.NewService(persona.NewMemoryStore(persona.Seed()), staticFactory{}, nil,
		chatservice.Config{DefaultTemperature: chatservice.DefaultTemperature}, nil)
	session, err := chatSvc.CreateSession(context.Background(), "tofu")
	require.NoError(t, err)

	r := chi.NewRouter()
	New(chatSvc, nil).RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/" + session.ID()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn, session
}

func read(t *testing.T, conn *websocket.Conn) received {
	t.Helper()
	var msg received
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestWebSocketConversationFlow(t *testing.T) {
	conn, session := dial(t)

	hello := read(t, conn)
	require.Equal(t, TypeTranscript, hello.Type)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "temperature", "data": map[string]any{"temperature": 0.9}}))
	view := read(t, conn)
	require.Equal(t, TypeTranscript, view.Type)
	require.InDelta(t, 0.9, view.Data["temperature"], 1e-9)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "message", "data": map[string]any{"text": "Hello"}}))
	reply := read(t, conn)
	require.Equal(t, TypeReply, reply.Type)
	message := reply.Data["message"].(map[string]any)
	require.Equal(t, "Hi human! *meow*", message["content"])
	require.Len(t, session.Transcript(), 3)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "reset"}))
	reset := read(t, conn)
	require.Len(t, reset.Data["transcript"], 1)
}

func TestWebSocketReportsErrors(t *testing.T) {
	conn, _ := dial(t)
	read(t, conn)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "temperature", "data": map[string]any{"temperature": 3}}))
	msg := read(t, conn)
	require.Equal(t, TypeError, msg.Type)
	require.EqualValues(t, http.StatusBadRequest, msg.Data["status"])

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "dance"}))
	msg = read(t, conn)
	require.Equal(t, TypeError, msg.Type)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "message", "data": map[string]any{"text": ""}}))
	msg = read(t, conn)
	require.Equal(t, TypeError, msg.Type)
}
