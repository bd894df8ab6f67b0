package broadcast

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type HubSuite struct {
	suite.Suite
	hub *Hub
	srv *httptest.Server
}

func (s *HubSuite) SetupTest() {
	s.hub = NewHub()
	s.srv = httptest.NewServer(http.HandlerFunc(s.hub.ServeWS))
}

func (s *HubSuite) TearDownTest() {
	s.hub.Close()
	s.srv.Close()
}

func TestHubSuite(t *testing.T) {
	suite.Run(t, new(HubSuite))
}

func (s *HubSuite) dial() *websocket.Conn {
	url := "ws" + strings.TrimPrefix(s.srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	s.Require().NoError(err)
	s.T().Cleanup(func() { conn.Close() })
	return conn
}

func (s *HubSuite) read(conn *websocket.Conn) Message {
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	s.Require().NoError(err)
	var msg Message
	s.Require().NoError(json.Unmarshal(raw, &msg))
	return msg
}

func (s *HubSuite) waitClients(n int) {
	s.Require().Eventually(func() bool { return s.hub.ClientCount() == n }, 2*time.Second, 10*time.Millisecond)
}

func (s *HubSuite) TestGreetsNewClient() {
	s.hub.OnConnect(func(c *Client) {
		s.NoError(s.hub.Send(c, "statsUpdated", map[string]int{"games": 3}))
	})

	conn := s.dial()
	msg := s.read(conn)
	s.Equal("statsUpdated", msg.Type)
	s.Equal(map[string]interface{}{"games": float64(3)}, msg.Data)
	s.waitClients(1)
}

func (s *HubSuite) TestGreetingPrecedesBroadcasts() {
	s.hub.OnConnect(func(c *Client) {
		// a broadcast racing the connect must not overtake the greeting
		s.NoError(s.hub.Broadcast("gameStarted", nil))
		s.NoError(s.hub.Send(c, "statsUpdated", map[string]int{"games": 0}))
	})

	conn := s.dial()
	s.waitClients(1)
	s.NoError(s.hub.Broadcast("gameEnded", nil))

	s.Equal("statsUpdated", s.read(conn).Type)
	s.Equal("gameEnded", s.read(conn).Type)
}

func (s *HubSuite) TestBroadcastReachesEveryClientInOrder() {
	a, b := s.dial(), s.dial()
	s.waitClients(2)

	s.NoError(s.hub.Broadcast("gameStarted", map[string]bool{"isReplay": false}))
	s.NoError(s.hub.Broadcast("gameEnded", nil))

	for _, conn := range []*websocket.Conn{a, b} {
		s.Equal("gameStarted", s.read(conn).Type)
		s.Equal("gameEnded", s.read(conn).Type)
	}
}

func (s *HubSuite) TestDisconnectRemovesClient() {
	conn := s.dial()
	s.waitClients(1)

	conn.Close()
	s.waitClients(0)
	s.NoError(s.hub.Broadcast("screenChanged", nil), "broadcast with no clients is fine")
}

func (s *HubSuite) TestCloseRejectsBroadcasts() {
	conn := s.dial()
	s.waitClients(1)

	s.hub.Close()
	s.Equal(0, s.hub.ClientCount())
	s.ErrorIs(s.hub.Broadcast("gameEnded", nil), ErrHubClosed)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	s.Error(err)
}

func TestSlowClientIsDropped(t *testing.T) {
	h := NewHub()
	c := &Client{ID: "slow", send: make(chan []byte, 1), done: make(chan struct{})}
	require.NoError(t, h.add(c))

	require.NoError(t, h.Broadcast("screenEntered", nil))
	require.Equal(t, 1, h.ClientCount())

	require.NoError(t, h.Broadcast("screenExited", nil))
	require.Equal(t, 0, h.ClientCount())

	select {
	case <-c.Done():
	default:
		t.Fatal("dropped client should be closed")
	}
	require.ErrorIs(t, h.Send(c, "statsUpdated", nil), ErrClientClosed)
}

func TestEncodeFrame(t *testing.T) {
	frame, err := encode("sc2Connected", map[string]bool{"connected": true})
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"sc2Connected","data":{"connected":true}}`, string(frame))
}
