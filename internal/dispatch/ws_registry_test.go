package dispatch

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// wsPair dials a throwaway websocket server and returns both ends.
func wsPair(t *testing.T) (server *websocket.Conn, client *websocket.Conn) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	accepted := make(chan *websocket.Conn, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		accepted <- conn
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	select {
	case server = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("server never accepted the connection")
	}
	t.Cleanup(func() { server.Close() })
	return server, client
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return ev
}

func TestNotifyDeliversToSubscriber(t *testing.T) {
	reg := NewWSRegistry()
	srvConn, cliConn := wsPair(t)
	reg.SubscribeDriver("d1", srvConn)

	want := Event{Type: EventRideOffer, RideID: "r1", At: time.Now().UTC()}
	if err := reg.NotifyDriver("d1", want); err != nil {
		t.Fatalf("notify: %v", err)
	}
	got := readEvent(t, cliConn)
	if got.Type != want.Type || got.RideID != want.RideID {
		t.Fatalf("got %+v, want type=%s ride=%s", got, want.Type, want.RideID)
	}
}

func TestNotifyWithoutSession(t *testing.T) {
	reg := NewWSRegistry()
	if err := reg.NotifyDriver("ghost", Event{Type: EventRideOffer}); err != ErrNoSession {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
	if err := reg.NotifyRider("ghost", Event{Type: EventRideMatched}); err != ErrNoSession {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
}

func TestResubscribeReplacesSession(t *testing.T) {
	reg := NewWSRegistry()
	oldSrv, oldCli := wsPair(t)
	newSrv, newCli := wsPair(t)

	reg.SubscribeRider("u1", oldSrv)
	reg.SubscribeRider("u1", newSrv)
	if reg.Sessions() != 1 {
		t.Fatalf("expected 1 session after resubscribe, got %d", reg.Sessions())
	}

	// The replaced connection is closed.
	_ = oldCli.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := oldCli.ReadMessage(); err == nil {
		t.Fatal("old connection should have been closed")
	}

	if err := reg.NotifyRider("u1", Event{Type: EventStatusChanged, RideID: "r1"}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if got := readEvent(t, newCli); got.Type != EventStatusChanged {
		t.Fatalf("new session should receive events, got %+v", got)
	}
}

func TestUnsubscribeClosesAndDrops(t *testing.T) {
	reg := NewWSRegistry()
	srvConn, cliConn := wsPair(t)
	reg.SubscribeDriver("d1", srvConn)
	reg.UnsubscribeDriver("d1")

	if reg.Sessions() != 0 {
		t.Fatalf("expected 0 sessions, got %d", reg.Sessions())
	}
	_ = cliConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := cliConn.ReadMessage(); err == nil {
		t.Fatal("unsubscribed connection should be closed")
	}
	if err := reg.NotifyDriver("d1", Event{Type: EventRideOffer}); err != ErrNoSession {
		t.Fatalf("expected ErrNoSession after unsubscribe, got %v", err)
	}
}

func TestDeadSessionIsEvicted(t *testing.T) {
	reg := NewWSRegistry()
	srvConn, cliConn := wsPair(t)
	reg.SubscribeDriver("d1", srvConn)

	// Kill the transport out from under the registry.
	srvConn.Close()
	cliConn.Close()

	if err := reg.NotifyDriver("d1", Event{Type: EventRideOffer}); err == nil {
		t.Fatal("expected send on dead connection to fail")
	}
	// The dead session was dropped; the next notify fails fast.
	if err := reg.NotifyDriver("d1", Event{Type: EventRideOffer}); err != ErrNoSession {
		t.Fatalf("expected ErrNoSession after eviction, got %v", err)
	}
}
