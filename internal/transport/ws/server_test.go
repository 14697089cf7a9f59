package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xiaot623/gogo/chatd/internal/actor"
	"github.com/xiaot623/gogo/chatd/internal/dispatch"
	"github.com/xiaot623/gogo/chatd/internal/inference"
)

func newTestServer(t *testing.T) (*httptest.Server, *dispatch.Registry) {
	t.Helper()
	registry := dispatch.NewRegistry(dispatch.Config{
		DataDir: ":memory:",
		Deps:    actor.Deps{Logger: zap.NewNop()},
		Options: actor.Options{SystemPrompt: "test", ContextMaxMessages: 10},
	}, zap.NewNop())

	e := echo.New()
	NewServer(registry, Options{PingInterval: time.Second}, zap.NewNop()).RegisterRoutes(e)
	server := httptest.NewServer(e)
	t.Cleanup(func() {
		server.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = registry.Shutdown(ctx)
	})
	return server, registry
}

func dial(t *testing.T, server *httptest.Server, id string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/agents/" + id + "/ws"
	return websocket.DefaultDialer.Dial(url, nil)
}

type frame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

func readFrame(t *testing.T, c *websocket.Conn) frame {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(5*time.Second)))
	var f frame
	require.NoError(t, c.ReadJSON(&f))
	return f
}

func TestChatOverWebSocket(t *testing.T) {
	server, registry := newTestServer(t)

	c, _, err := dial(t, server, "agent-1")
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, "connected", readFrame(t, c).Type)
	assert.Equal(t, 1, registry.Len())

	require.NoError(t, c.WriteJSON(map[string]string{"type": "chat", "message": "hello"}))
	assert.Equal(t, "status", readFrame(t, c).Type)
	reply := readFrame(t, c)
	assert.Equal(t, "chat_response", reply.Type)
	assert.Equal(t, inference.DefaultRules[0].Response, reply.Message)

	require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte("{")))
	errFrame := readFrame(t, c)
	assert.Equal(t, "error", errFrame.Type)
	assert.Equal(t, "invalid_message", errFrame.Code)
}

func TestBroadcastAcrossConnections(t *testing.T) {
	server, _ := newTestServer(t)

	a, _, err := dial(t, server, "shared")
	require.NoError(t, err)
	defer a.Close()
	b, _, err := dial(t, server, "shared")
	require.NoError(t, err)
	defer b.Close()
	readFrame(t, a)
	readFrame(t, b)

	require.NoError(t, a.WriteJSON(map[string]string{"type": "save_note", "note": "buy milk"}))

	assert.Equal(t, "note_saved", readFrame(t, a).Type)
	assert.Equal(t, "note_saved", readFrame(t, b).Type)
}

func TestInvalidActorID(t *testing.T) {
	server, _ := newTestServer(t)

	_, resp, err := dial(t, server, "bad.id")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
