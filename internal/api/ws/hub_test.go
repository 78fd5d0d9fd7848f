package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/attendance/pkg/dto"
)

func startHub(t *testing.T) (*Hub, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	hub := NewHub()
	go hub.Run(ctx)

	r := gin.New()
	r.GET("/ws", hub.HandleWS)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return hub, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return hub.ClientCount() == n }, 2*time.Second, 10*time.Millisecond)
}

func readEvent(t *testing.T, conn *websocket.Conn) dto.WSEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var evt dto.WSEvent
	require.NoError(t, json.Unmarshal(data, &evt))
	return evt
}

func TestHubBroadcastsAttendance(t *testing.T) {
	hub, url := startHub(t)
	all := dial(t, url)
	onlyB := dial(t, url+"?identity_id=B")
	waitClients(t, hub, 2)

	evA := dto.AttendanceEventResponse{ID: uuid.New(), IdentityID: "A", DisplayName: "Ada"}
	evB := dto.AttendanceEventResponse{ID: uuid.New(), IdentityID: "B", DisplayName: "Bob"}
	require.NoError(t, hub.PublishAttendance(context.Background(), evA))
	require.NoError(t, hub.PublishAttendance(context.Background(), evB))

	got := readEvent(t, all)
	assert.Equal(t, dto.WSTypeAttendanceRecorded, got.Type)
	assert.Equal(t, evA.ID, got.Data.ID)
	assert.Equal(t, evB.ID, readEvent(t, all).Data.ID)

	filtered := readEvent(t, onlyB)
	assert.Equal(t, "B", filtered.IdentityID)
	assert.Equal(t, "Bob", filtered.Data.DisplayName)
}

func TestHubUnregistersClosedClients(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, url)
	waitClients(t, hub, 1)

	require.NoError(t, conn.Close())
	waitClients(t, hub, 0)
}
