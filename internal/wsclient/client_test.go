package wsclient

import (
	"arbhub/internal/logging"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestWebSocketClient_Heartbeat(t *testing.T) {
	var pings int32
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		conn.SetPingHandler(func(string) error {
			atomic.AddInt32(&pings, 1)
			return conn.WriteControl(websocket.PongMessage, []byte{}, time.Now().Add(time.Second))
		})

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	logger, _ := logging.NewZapLogger("DEBUG")

	received := make(chan bool, 1)
	client := NewClient(url, func(messageType int, message []byte) {
		received <- true
	}, logger,
		WithPing(100*time.Millisecond, 50*time.Millisecond, 200*time.Millisecond),
		WithBackoff(10*time.Millisecond, 50*time.Millisecond, 5),
	)

	client.Start()
	defer client.Stop()

	// Wait for at least 2 pings
	time.Sleep(500 * time.Millisecond)

	if atomic.LoadInt32(&pings) < 2 {
		t.Errorf("Expected at least 2 pings, got %d", atomic.LoadInt32(&pings))
	}
}

func TestWebSocketClient_ReconnectOnTimeout(t *testing.T) {
	var connections int32
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&connections, 1)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Disable default ping handler to prevent automatic Pongs
		conn.SetPingHandler(func(string) error {
			return nil
		})

		// Do NOT handle pings to trigger timeout on client side
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	logger, _ := logging.NewZapLogger("DEBUG")

	client := NewClient(url, func(messageType int, message []byte) {}, logger,
		WithPing(100*time.Millisecond, 50*time.Millisecond, 200*time.Millisecond),
		WithBackoff(10*time.Millisecond, 50*time.Millisecond, 5),
	)

	client.Start()
	defer client.Stop()

	// Wait for reconnects
	time.Sleep(600 * time.Millisecond)

	if atomic.LoadInt32(&connections) < 2 {
		t.Errorf("Expected multiple connections due to reconnects, got %d", atomic.LoadInt32(&connections))
	}
}

func TestWebSocketClient_TerminalAfterExhaustedAttempts(t *testing.T) {
	// No server listening on this port: every dial fails.
	url := "ws://127.0.0.1:1"
	logger, _ := logging.NewZapLogger("DEBUG")

	terminal := make(chan error, 1)
	client := NewClient(url, func(messageType int, message []byte) {}, logger,
		WithBackoff(1*time.Millisecond, 5*time.Millisecond, 3),
		WithConnectTimeout(20*time.Millisecond),
	)
	client.SetOnTerminal(func(err error) {
		select {
		case terminal <- err:
		default:
		}
	})

	client.Start()
	defer client.Stop()

	select {
	case <-terminal:
		if client.Attempt() < 3 {
			t.Errorf("expected at least 3 attempts before terminal, got %d", client.Attempt())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected client to enter terminal state")
	}
	if !client.IsTerminal() {
		t.Error("expected IsTerminal() to be true")
	}
}
