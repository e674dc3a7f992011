package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeBus struct {
	chans map[string]chan []byte
}

func (b *fakeBus) Subscribe(_ context.Context, channel string) (<-chan []byte, error) {
	return b.chans[channel], nil
}

func startHub(t *testing.T) (*Hub, *fakeBus, string) {
	t.Helper()
	bus := &fakeBus{chans: map[string]chan []byte{
		"positions": make(chan []byte, 4),
		"cycles":    make(chan []byte, 4),
	}}
	hub := NewHub(bus, []string{"positions", "cycles"},
		func() any { return map[string]any{"state": "running"} }, nil, testLogger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()
	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		cancel()
		<-done
		srv.Close()
	})
	return hub, bus, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return m
}

func waitClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() != n {
		if time.Now().After(deadline) {
			t.Fatalf("clients = %d, want %d", hub.Clients(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHubGreetsAndRelays(t *testing.T) {
	hub, bus, url := startHub(t)
	conn := dial(t, url)

	greeting := read(t, conn)
	if greeting["type"] != "bot_status" {
		t.Fatalf("greeting = %v", greeting)
	}
	waitClients(t, hub, 1)

	bus.chans["positions"] <- []byte(`{"type":"position_opened","symbol":"BTC-USD"}`)
	msg := read(t, conn)
	if msg["type"] != "position_opened" || msg["symbol"] != "BTC-USD" {
		t.Fatalf("relayed = %v", msg)
	}
}

func TestHubHonoursUnsubscribe(t *testing.T) {
	hub, bus, url := startHub(t)
	conn := dial(t, url)
	read(t, conn)
	waitClients(t, hub, 1)

	if err := conn.WriteJSON(subscribeMsg{Action: "unsubscribe", Channels: []string{"cycles"}}); err != nil {
		t.Fatal(err)
	}
	// Wait for the read pump to apply the change.
	deadline := time.Now().Add(2 * time.Second)
	for {
		var c *client
		hub.mu.RLock()
		for k := range hub.clients {
			c = k
		}
		hub.mu.RUnlock()
		if c != nil && !c.subscribed("cycles") {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("unsubscribe not applied")
		}
		time.Sleep(5 * time.Millisecond)
	}

	bus.chans["cycles"] <- []byte(`{"type":"cycle"}`)
	bus.chans["positions"] <- []byte(`{"type":"position_closed"}`)
	if msg := read(t, conn); msg["type"] != "position_closed" {
		t.Fatalf("got %v, want only the positions message", msg)
	}
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"http://localhost:3000"})
	r := httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Origin", "http://localhost:3000")
	if !check(r) {
		t.Fatal("allowed origin rejected")
	}
	r.Header.Set("Origin", "http://evil.example")
	if check(r) {
		t.Fatal("foreign origin accepted")
	}
}
