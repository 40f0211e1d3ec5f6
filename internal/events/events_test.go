package events

import (
	"bufio"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stageEvent struct {
	Type  string `json:"type"`
	Stage string `json:"stage"`
}

func TestWebsocketBroadcast(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := NewHub()
	r := gin.New()
	r.GET("/ws/runs", WSHandler(hub))
	srv := httptest.NewServer(r)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/runs"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var w welcome
	require.NoError(t, conn.ReadJSON(&w))
	assert.Equal(t, "websocket", w.Transport)

	require.Eventually(t, func() bool { return hub.Stats().WSClients == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.BroadcastJSON(stageEvent{Type: "run.stage", Stage: "scraping"})
	var got stageEvent
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, stageEvent{Type: "run.stage", Stage: "scraping"}, got)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.Stats().WSClients == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestTCPFeed(t *testing.T) {
	hub := NewHub()
	s := NewServer("127.0.0.1:0", hub)
	addr, err := s.Listen()
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- s.Serve() }()

	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	rd := bufio.NewReader(conn)

	line, err := rd.ReadBytes('\n')
	require.NoError(t, err)
	var w welcome
	require.NoError(t, json.Unmarshal(line, &w))
	assert.Equal(t, "tcp", w.Transport)

	require.Eventually(t, func() bool { return hub.Stats().TCPClients == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.BroadcastJSON(stageEvent{Type: "run.stage", Stage: "loading"})
	line, err = rd.ReadBytes('\n')
	require.NoError(t, err)
	var got stageEvent
	require.NoError(t, json.Unmarshal(line, &got))
	assert.Equal(t, "loading", got.Stage)

	require.NoError(t, s.Close())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after Close")
	}
	assert.Zero(t, hub.Stats().TCPClients)
}

func TestBroadcastDropsDeadClients(t *testing.T) {
	hub := NewHub()
	a, b := net.Pipe()
	hub.Add(a)
	require.NoError(t, b.Close())

	hub.BroadcastJSON(map[string]string{"type": "ping"})
	assert.Zero(t, hub.Stats().TCPClients)
}

func TestNotifierDeliversToSubscribers(t *testing.T) {
	n := NewNotifier("127.0.0.1:0")
	addr, err := n.Listen()
	require.NoError(t, err)
	go func() { _ = n.Serve() }()
	defer n.Close()

	client, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer client.Close()

	server := addr.(*net.UDPAddr)
	_, err = client.WriteToUDP([]byte(`{"type":"subscribe","name":"ops"}`), server)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return n.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)

	n.BroadcastJSON(stageEvent{Type: "run.stage", Stage: "bucketing"})

	_ = client.SetReadDeadline(time.Now().Add(5 * time.Second))
	buf := make([]byte, 2048)
	size, _, err := client.ReadFromUDP(buf)
	require.NoError(t, err)
	var got stageEvent
	require.NoError(t, json.Unmarshal(buf[:size], &got))
	assert.Equal(t, "bucketing", got.Stage)

	_, err = client.WriteToUDP([]byte(`{"type":"unsubscribe"}`), server)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return n.Subscribers() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestNotifierIgnoresGarbage(t *testing.T) {
	_, err := parseSubscribe([]byte(`not json`))
	assert.Error(t, err)
	_, err = parseSubscribe([]byte(`{"name":"x"}`))
	assert.Error(t, err)
}
