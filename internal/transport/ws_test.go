package transport

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/motor-control/mcn/internal/logging"
)

func startWS(t *testing.T, maxLine int, ack bool) (string, *WSHandler, *Inbox, *hookRecorder) {
	t.Helper()
	inbox := NewInbox()
	rec := &hookRecorder{}
	h := NewWSHandler(maxLine, ack, inbox, logging.NewNop(), rec.hooks())
	srv := httptest.NewServer(h)
	t.Cleanup(func() {
		h.Close()
		srv.Close()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http"), h, inbox, rec
}

func dialWS(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestWSHandlerDeliversText(t *testing.T) {
	url, _, inbox, _ := startWS(t, 64, false)
	conn := dialWS(t, url)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("F 150")))

	l := waitLine(t, inbox)
	assert.Equal(t, "F 150", l.Text)
	assert.Equal(t, NameWS, l.Transport)
	assert.Nil(t, l.Reply)
}

func TestWSHandlerAck(t *testing.T) {
	url, _, inbox, _ := startWS(t, 64, true)
	conn := dialWS(t, url)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("L")))
	l := waitLine(t, inbox)
	require.NotNil(t, l.Reply)
	require.NoError(t, l.Reply("Command executed: L with speed 200"))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	kind, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, kind)
	assert.Equal(t, "Command executed: L with speed 200", string(msg))
}

func TestWSHandlerRejectsBinaryAndOverLength(t *testing.T) {
	url, _, inbox, rec := startWS(t, 8, false)
	conn := dialWS(t, url)

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte("F")))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(strings.Repeat("F", 20))))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("S")))

	l := waitLine(t, inbox)
	assert.Equal(t, "S", l.Text)
	assert.Equal(t, []string{"ws:binary_message", "ws:over_length"}, rec.rejected())
}

func TestWSHandlerSupersedes(t *testing.T) {
	url, _, inbox, rec := startWS(t, 64, false)
	first := dialWS(t, url)
	require.NoError(t, first.WriteMessage(websocket.TextMessage, []byte("F")))
	waitLine(t, inbox)

	second := dialWS(t, url)
	require.NoError(t, second.WriteMessage(websocket.TextMessage, []byte("B")))
	l := waitLine(t, inbox)
	assert.Equal(t, "B", l.Text)
	assert.Equal(t, 1, rec.superseded())

	_ = first.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := first.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "got %v", err)
}
