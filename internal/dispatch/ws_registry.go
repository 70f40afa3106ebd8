package dispatch

import (
	"errors"
	"sync"

	"github.com/gorilla/websocket"

	"swiftride/internal/types"
)

var ErrNoSession = errors.New("no live session for recipient")

type audience string

const (
	audienceDriver audience = "driver"
	audienceRider  audience = "rider"
)

type sessionKey struct {
	aud audience
	id  types.ID
}

// session serializes writes to one websocket connection.
type session struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *session) send(ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(ev)
}

// WSRegistry tracks live websocket sessions for drivers and riders. It is
// injected wherever notifications are sent; there is no process-global
// registry. Subscribe replaces any previous session for the same recipient,
// and Unsubscribe closes the connection, so a disconnecting client never
// leaves a dangling entry.
type WSRegistry struct {
	mu       sync.RWMutex
	sessions map[sessionKey]*session
}

func NewWSRegistry() *WSRegistry {
	return &WSRegistry{sessions: make(map[sessionKey]*session)}
}

func (r *WSRegistry) SubscribeDriver(driverID types.ID, conn *websocket.Conn) {
	r.subscribe(sessionKey{audienceDriver, driverID}, conn)
}

func (r *WSRegistry) SubscribeRider(riderID types.ID, conn *websocket.Conn) {
	r.subscribe(sessionKey{audienceRider, riderID}, conn)
}

func (r *WSRegistry) UnsubscribeDriver(driverID types.ID) {
	r.unsubscribe(sessionKey{audienceDriver, driverID})
}

func (r *WSRegistry) UnsubscribeRider(riderID types.ID) {
	r.unsubscribe(sessionKey{audienceRider, riderID})
}

func (r *WSRegistry) NotifyDriver(driverID types.ID, ev Event) error {
	return r.notify(sessionKey{audienceDriver, driverID}, ev)
}

func (r *WSRegistry) NotifyRider(riderID types.ID, ev Event) error {
	return r.notify(sessionKey{audienceRider, riderID}, ev)
}

func (r *WSRegistry) subscribe(key sessionKey, conn *websocket.Conn) {
	r.mu.Lock()
	prev := r.sessions[key]
	r.sessions[key] = &session{conn: conn}
	r.mu.Unlock()
	if prev != nil {
		_ = prev.conn.Close()
	}
}

func (r *WSRegistry) unsubscribe(key sessionKey) {
	r.mu.Lock()
	s := r.sessions[key]
	delete(r.sessions, key)
	r.mu.Unlock()
	if s != nil {
		_ = s.conn.Close()
	}
}

func (r *WSRegistry) notify(key sessionKey, ev Event) error {
	r.mu.RLock()
	s, ok := r.sessions[key]
	r.mu.RUnlock()
	if !ok {
		return ErrNoSession
	}
	if err := s.send(ev); err != nil {
		// A dead connection is dropped so later sends fail fast.
		r.unsubscribe(key)
		return err
	}
	return nil
}

// Sessions reports the number of live sessions; used by tests and health
// reporting.
func (r *WSRegistry) Sessions() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
