package websocket_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/USA-RedDragon/rtz-link/internal/websocket"
	gorillaWebsocket "github.com/gorilla/websocket"
)

type frame struct {
	t    int
	data []byte
}

// newServer starts a peer that records inbound frames and, when greet is
// set, writes it once the socket is accepted. Closing drop disconnects the
// first accepted socket.
func newServer(t *testing.T, greet string) (*httptest.Server, chan frame, chan struct{}) {
	t.Helper()
	upgrader := gorillaWebsocket.Upgrader{}
	received := make(chan frame, 16)
	drop := make(chan struct{})
	var accepted atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if greet != "" {
			if err := conn.WriteMessage(gorillaWebsocket.TextMessage, []byte(greet)); err != nil {
				return
			}
		}
		if accepted.Add(1) == 1 {
			go func() {
				<-drop
				_ = conn.Close()
			}()
		}
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			received <- frame{t: mt, data: data}
		}
	}))
	t.Cleanup(server.Close)
	return server, received, drop
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func waitOpen(t *testing.T, client *websocket.Client) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.WaitOpen(ctx); err != nil {
		t.Fatalf("WaitOpen() error = %v", err)
	}
}

func TestClientOpenSendReceive(t *testing.T) {
	t.Parallel()
	server, received, _ := newServer(t, "hello")

	messages := make(chan string, 1)
	client := websocket.NewClient(websocket.Options{URL: wsURL(server)})
	defer client.Close()
	client.Messages().Subscribe(func(data []byte) {
		messages <- string(data)
	}, nil)

	waitOpen(t, client)
	if client.State() != websocket.StateOpen {
		t.Errorf("unexpected state: %s", client.State())
	}
	if client.Current() == nil {
		t.Error("expected a live connection")
	}

	if err := client.Send([]byte("ping")); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	select {
	case f := <-received:
		if f.t != gorillaWebsocket.TextMessage || string(f.data) != "ping" {
			t.Errorf("unexpected frame: %d %q", f.t, f.data)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for frame")
	}

	select {
	case msg := <-messages:
		if msg != "hello" {
			t.Errorf("unexpected message: %q", msg)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestClientBinaryFrames(t *testing.T) {
	t.Parallel()
	server, received, _ := newServer(t, "")

	client := websocket.NewClient(websocket.Options{URL: wsURL(server), Binary: true})
	defer client.Close()
	waitOpen(t, client)

	if err := client.Send([]byte{0xa1}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	select {
	case f := <-received:
		if f.t != gorillaWebsocket.BinaryMessage {
			t.Errorf("unexpected frame type: %d", f.t)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for frame")
	}
}

func TestClientClose(t *testing.T) {
	t.Parallel()
	server, _, _ := newServer(t, "")

	client := websocket.NewClient(websocket.Options{URL: wsURL(server)})
	waitOpen(t, client)

	var openDone, messagesDone atomic.Int32
	client.IsOpen().Subscribe(func(bool) {}, func() { openDone.Add(1) })
	client.Messages().Subscribe(func([]byte) {}, func() { messagesDone.Add(1) })

	if err := client.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}

	if !client.IsClosed() {
		t.Error("expected IsClosed() to be true")
	}
	if client.State() != websocket.StateClosed {
		t.Errorf("unexpected state: %s", client.State())
	}
	if open, _ := client.IsOpen().Get(); open {
		t.Error("expected open to be false")
	}
	if openDone.Load() != 1 || messagesDone.Load() != 1 {
		t.Errorf("expected subjects to complete once: open=%d messages=%d", openDone.Load(), messagesDone.Load())
	}
	if err := client.Send([]byte("x")); !errors.Is(err, websocket.ErrNotOpen) {
		t.Errorf("unexpected error: %v", err)
	}
	if err := client.Reconnect(); !errors.Is(err, websocket.ErrClosed) {
		t.Errorf("unexpected error: %v", err)
	}
	if err := client.WaitOpen(context.Background()); !errors.Is(err, websocket.ErrClosed) {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestClientDialFailure(t *testing.T) {
	t.Parallel()
	server, _, _ := newServer(t, "")
	url := wsURL(server)
	server.Close()

	client := websocket.NewClient(websocket.Options{URL: url, HandshakeTimeout: time.Second})
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := client.WaitOpen(ctx)
	if err == nil || errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected dial error, got %v", err)
	}
	if client.State() != websocket.StateDisconnected {
		t.Errorf("unexpected state: %s", client.State())
	}
	if err := client.Send([]byte("x")); !errors.Is(err, websocket.ErrNotOpen) {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestClientDropAndReconnect(t *testing.T) {
	t.Parallel()
	server, _, drop := newServer(t, "")

	client := websocket.NewClient(websocket.Options{URL: wsURL(server)})
	defer client.Close()
	waitOpen(t, client)
	first := client.Current()

	dropped := make(chan error, 1)
	client.Errors().Subscribe(func(err error) {
		select {
		case dropped <- err:
		default:
		}
	}, nil)

	close(drop)
	select {
	case <-dropped:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for drop")
	}
	if open, _ := client.IsOpen().Get(); open {
		t.Error("expected open to be false after drop")
	}
	if client.IsClosed() {
		t.Error("a dropped connection must not mark the client closed")
	}

	if err := client.Reconnect(); err != nil {
		t.Fatalf("Reconnect() error = %v", err)
	}
	waitOpen(t, client)
	if client.Current() == first {
		t.Error("expected a new connection after reconnect")
	}
}

func TestClientLocalConnectionClose(t *testing.T) {
	t.Parallel()
	server, received, _ := newServer(t, "")

	client := websocket.NewClient(websocket.Options{URL: wsURL(server)})
	defer client.Close()
	waitOpen(t, client)

	dropped := make(chan error, 1)
	client.Errors().Subscribe(func(err error) {
		select {
		case dropped <- err:
		default:
		}
	}, nil)

	client.Current().Close()
	select {
	case err := <-dropped:
		if !errors.Is(err, websocket.ErrClosed) {
			t.Errorf("unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for drop")
	}
	if open, _ := client.IsOpen().Get(); open {
		t.Error("expected open to be false")
	}
	if client.State() != websocket.StateDisconnected {
		t.Errorf("unexpected state: %s", client.State())
	}
	if client.Current() != nil {
		t.Error("expected no current connection")
	}
	if err := client.Send([]byte("x")); !errors.Is(err, websocket.ErrNotOpen) {
		t.Errorf("unexpected error: %v", err)
	}

	if err := client.Reconnect(); err != nil {
		t.Fatalf("Reconnect() error = %v", err)
	}
	waitOpen(t, client)
	if err := client.Send([]byte("again")); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	select {
	case f := <-received:
		if string(f.data) != "again" {
			t.Errorf("unexpected frame: %s", f.data)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for frame")
	}
}
