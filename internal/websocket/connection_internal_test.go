package websocket

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func TestWriteFailureClosesConnection(t *testing.T) {
	t.Parallel()
	server := echoServer(t)
	raw, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	conn := newConnection(raw, 4, slog.Default(), nil)
	go conn.writePump()

	_ = raw.UnderlyingConn().Close()
	if err := conn.Send(Message{Type: websocket.TextMessage, Data: []byte("x")}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	select {
	case <-conn.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for close")
	}
	if err := conn.Err(); err == nil || !strings.Contains(err.Error(), "write failed") {
		t.Errorf("unexpected error: %v", err)
	}
	if err := conn.Send(Message{Type: websocket.TextMessage, Data: []byte("y")}); !errors.Is(err, ErrClosed) {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestClientRecoversFromBrokenSocket(t *testing.T) {
	t.Parallel()
	server := echoServer(t)
	client := NewClient(Options{URL: "ws" + strings.TrimPrefix(server.URL, "http")})
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.WaitOpen(ctx); err != nil {
		t.Fatalf("WaitOpen() error = %v", err)
	}

	dropped := make(chan error, 1)
	client.Errors().Subscribe(func(err error) {
		select {
		case dropped <- err:
		default:
		}
	}, nil)

	_ = client.Current().conn.UnderlyingConn().Close()
	// Whichever pump notices first, the client must report the drop.
	_ = client.Send([]byte("x"))
	select {
	case <-dropped:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for drop")
	}
	if open, _ := client.IsOpen().Get(); open {
		t.Error("expected open to be false")
	}
	if client.State() != StateDisconnected {
		t.Errorf("unexpected state: %s", client.State())
	}

	if err := client.Reconnect(); err != nil {
		t.Fatalf("Reconnect() error = %v", err)
	}
	if err := client.WaitOpen(ctx); err != nil {
		t.Fatalf("WaitOpen() error = %v", err)
	}
	if err := client.Send([]byte("y")); err != nil {
		t.Errorf("Send() error = %v", err)
	}
}
