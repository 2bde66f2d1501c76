package signaling

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/audioparty/backend/internal/models"
	"gitlab.com/audioparty/backend/internal/rooms"
)

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMsg(t *testing.T, conn *websocket.Conn) models.InboundMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg models.InboundMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func readUntil(t *testing.T, conn *websocket.Conn, typ string) models.InboundMessage {
	t.Helper()
	for {
		msg := readMsg(t, conn)
		if msg.Type == typ {
			return msg
		}
	}
}

func TestServeWS_PartyOverWebSocket(t *testing.T) {
	s := NewService(rooms.NewRegistry(rooms.DefaultCapacity))
	srv := httptest.NewServer(s.ServeWS(NewUpgrader(nil)))
	defer srv.Close()

	host := dial(t, srv)
	connected := readMsg(t, host)
	require.Equal(t, models.EventConnected, connected.Type)
	var hostID models.Connected
	require.NoError(t, json.Unmarshal(connected.Content, &hostID))

	require.NoError(t, host.WriteJSON(models.WSMessage{Type: models.EventCreateRoom}))
	var created models.CreateRoomResponse
	require.NoError(t, json.Unmarshal(readMsg(t, host).Content, &created))
	require.True(t, created.Success)

	listener := dial(t, srv)
	var listenerID models.Connected
	require.NoError(t, json.Unmarshal(readMsg(t, listener).Content, &listenerID))

	require.NoError(t, listener.WriteJSON(models.WSMessage{Type: models.EventJoinRoom, Content: created.RoomID}))
	var joined models.JoinRoomResponse
	require.NoError(t, json.Unmarshal(readUntil(t, listener, models.EventJoinRoomResponse).Content, &joined))
	assert.True(t, joined.Success)
	assert.Equal(t, hostID.ID, joined.HostID)

	var le models.ListenerEvent
	require.NoError(t, json.Unmarshal(readUntil(t, host, models.EventListenerJoined).Content, &le))
	assert.Equal(t, listenerID.ID, le.ListenerID)

	require.NoError(t, host.WriteJSON(models.WSMessage{
		Type:    models.EventOffer,
		Content: map[string]interface{}{"target": listenerID.ID, "offer": map[string]string{"type": "offer", "sdp": "v=0"}},
	}))
	var offer models.RelayedOffer
	require.NoError(t, json.Unmarshal(readUntil(t, listener, models.EventOffer).Content, &offer))
	assert.Equal(t, hostID.ID, offer.Sender)
	assert.JSONEq(t, `{"type":"offer","sdp":"v=0"}`, string(offer.Offer))

	// closing the host socket ends the party for the listener
	require.NoError(t, host.Close())
	readUntil(t, listener, models.EventHostDisconnected)

	assert.Eventually(t, func() bool {
		_, ok := s.Registry().GetRoom(created.RoomID)
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestNewUpgrader_CheckOrigin(t *testing.T) {
	req := func(origin string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}

	open := NewUpgrader([]string{"*"})
	assert.True(t, open.CheckOrigin(req("https://evil.example")))

	strict := NewUpgrader([]string{"https://party.example/"})
	assert.True(t, strict.CheckOrigin(req("https://party.example")))
	assert.True(t, strict.CheckOrigin(req("")))
	assert.False(t, strict.CheckOrigin(req("https://evil.example")))
}

func TestRemoteIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.RemoteAddr = "192.0.2.10:52311"
	assert.Equal(t, "192.0.2.10", RemoteIP(r))

	r.Header.Set("X-Forwarded-For", "198.51.100.4, 10.0.0.1")
	assert.Equal(t, "198.51.100.4", RemoteIP(r))
}
