package websocket

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"tandem/pkg/types"
)

// newConnPair upgrades a loopback WebSocket and returns the server-side
// wrapper plus the raw client end.
func newConnPair(t *testing.T) (*Connection, *websocket.Conn) {
	t.Helper()

	serverConnCh := make(chan *websocket.Conn, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Upgrade failed: %v", err)
			return
		}
		serverConnCh <- conn
	}))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	clientConn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { _ = clientConn.Close() })

	serverConn := <-serverConnCh
	conn := NewConnection(serverConn, "test-conn-1")
	t.Cleanup(func() { _ = conn.Close() })

	return conn, clientConn
}

// TestConnection_WriteJSON tests queued delivery through the writer goroutine
func TestConnection_WriteJSON(t *testing.T) {
	conn, clientConn := newConnPair(t)

	envelope, _ := types.NewEnvelope(types.EventPeerJoined, nil)
	if err := conn.WriteJSON(envelope); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}

	_ = clientConn.SetReadDeadline(time.Now().Add(time.Second))
	var received types.Envelope
	if err := clientConn.ReadJSON(&received); err != nil {
		t.Fatalf("Client read failed: %v", err)
	}
	if received.Event != types.EventPeerJoined {
		t.Errorf("Expected peer-joined, got %q", received.Event)
	}
}

// TestConnection_WriteJSON_InvalidPayload tests marshal failure handling
func TestConnection_WriteJSON_InvalidPayload(t *testing.T) {
	conn, _ := newConnPair(t)

	if err := conn.WriteJSON(make(chan int)); err != ErrInvalidJSON {
		t.Errorf("Expected ErrInvalidJSON, got %v", err)
	}
}

// TestConnection_WriteAfterClose tests that writes on a closed connection
// fail fast with ErrConnectionClosed.
func TestConnection_WriteAfterClose(t *testing.T) {
	conn, _ := newConnPair(t)

	if err := conn.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	envelope, _ := types.NewEnvelope(types.EventPeerJoined, nil)
	if err := conn.WriteJSON(envelope); err != ErrConnectionClosed {
		t.Errorf("Expected ErrConnectionClosed, got %v", err)
	}
}

// TestConnection_CloseIdempotent tests repeated Close calls
func TestConnection_CloseIdempotent(t *testing.T) {
	conn, _ := newConnPair(t)

	if err := conn.Close(); err != nil {
		t.Errorf("First close failed: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Errorf("Second close should be a no-op, got %v", err)
	}
}

// TestConnection_Membership tests membership bookkeeping
func TestConnection_Membership(t *testing.T) {
	conn, _ := newConnPair(t)

	if conn.GetConnectionID() != "test-conn-1" {
		t.Errorf("Unexpected connection id %q", conn.GetConnectionID())
	}
	if conn.GetSessionID() != "" || conn.GetRole() != "" {
		t.Error("Expected empty membership before join")
	}

	conn.SetMembership("s1", types.RoleB)
	if conn.GetSessionID() != "s1" || conn.GetRole() != types.RoleB {
		t.Errorf("Expected s1/B, got %s/%s", conn.GetSessionID(), conn.GetRole())
	}
}

// TestConnection_WriteAfterTransportFailure tests that a transport error
// degrades later writes to ErrConnectionClosed. Broadcasts fan out to every
// group member from shared goroutines, so one dead socket must never panic.
func TestConnection_WriteAfterTransportFailure(t *testing.T) {
	conn, _ := newConnPair(t)

	// Kill the socket underneath the wrapper without going through Close
	_ = conn.conn.Close()

	envelope, _ := types.NewEnvelope(types.EventPeerJoined, nil)
	_ = conn.WriteJSON(envelope) // trips the writer on the dead socket

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if err := conn.WriteJSON(envelope); err == ErrConnectionClosed {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("Expected ErrConnectionClosed after transport failure")
}

// TestConnection_ConcurrentWrites tests that parallel writers never race
// on the underlying connection.
func TestConnection_ConcurrentWrites(t *testing.T) {
	conn, clientConn := newConnPair(t)

	const writers = 10
	envelope, _ := types.NewEnvelope(types.EventPeerStatusUpdate, &types.StatusSnapshot{})

	done := make(chan error, writers)
	for i := 0; i < writers; i++ {
		go func() {
			done <- conn.WriteJSON(envelope)
		}()
	}
	for i := 0; i < writers; i++ {
		if err := <-done; err != nil {
			t.Errorf("Concurrent write failed: %v", err)
		}
	}

	_ = clientConn.SetReadDeadline(time.Now().Add(time.Second))
	for i := 0; i < writers; i++ {
		var received types.Envelope
		if err := clientConn.ReadJSON(&received); err != nil {
			t.Fatalf("Client read %d failed: %v", i, err)
		}
	}
}
