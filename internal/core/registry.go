// Package core holds the broker's shared in-memory state: the session
// registry with presence, admission and reconnect rules, and the fan-out
// primitives the router and lifecycle drivers build on.
package core

import (
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"tilde/broker/internal/wire"
)

// SendTimeout bounds how long a write to one session's outbound queue may
// block before the frame is dropped.
const SendTimeout = 50 * time.Millisecond

// DefaultSendBuffer is the outbound queue depth for one session.
const DefaultSendBuffer = 64

// Session is the handle a lifecycle driver holds for one admitted
// connection. Send carries encoded frames to the session's writer pump;
// ConnID identifies this transport generation across reconnects.
type Session struct {
	Name   string
	ConnID string
	Send   chan []byte
}

// UserView is a point-in-time copy of one registry record.
type UserView struct {
	Name   string
	State  wire.Presence
	Addr   string
	Online bool
}

type sessionState struct {
	name   string
	state  wire.Presence
	addr   string
	connID string
	conn   io.Closer   // bound by Attach, nil while disconnected
	send   chan []byte // outbound queue, nil while disconnected
}

// ClaimResult classifies one admission attempt.
type ClaimResult int

const (
	ClaimedNew ClaimResult = iota
	ClaimedReconnect
	RejectedInUse
	RejectedBadName
)

func (c ClaimResult) String() string {
	switch c {
	case ClaimedNew:
		return "new"
	case ClaimedReconnect:
		return "reconnect"
	case RejectedInUse:
		return "in_use"
	case RejectedBadName:
		return "bad_name"
	}
	return "unknown"
}

// Registry is the process-wide mapping from user name to session record.
// Records are created on first claim and never removed: a disconnect
// leaves the record in StateDisconnected so the same name can reconnect
// into the same slot.
type Registry struct {
	mu      sync.RWMutex
	users   map[string]*sessionState
	sendBuf int
}

// NewRegistry returns an empty registry. sendBuf is the per-session
// outbound queue depth; values <= 0 select DefaultSendBuffer.
func NewRegistry(sendBuf int) *Registry {
	if sendBuf <= 0 {
		sendBuf = DefaultSendBuffer
	}
	return &Registry{
		users:   make(map[string]*sessionState),
		sendBuf: sendBuf,
	}
}

// nameOK reports whether a name may be claimed at all: non-empty, within
// the wire field limit, and not the reserved broadcast name.
func nameOK(name string) bool {
	return name != "" && name != wire.BroadcastName && len(name) <= wire.MaxFieldLen
}

// Claim admits name. Under the lock: a free name inserts a fresh Active
// record, a disconnected record is reused with a new transport generation,
// and anything else is rejected. The returned Session is nil unless the
// claim was accepted. The claim happens before the websocket upgrade so a
// rejection can still travel back as a plain HTTP response; the caller
// binds the transport afterwards with Attach.
func (r *Registry) Claim(name, addr string) (*Session, ClaimResult) {
	if !nameOK(name) {
		slog.Info("claim rejected", "user", name, "addr", addr, "reason", RejectedBadName)
		return nil, RejectedBadName
	}
	connID := uuid.NewString()

	r.mu.Lock()
	u, ok := r.users[name]
	switch {
	case !ok:
		u = &sessionState{
			name:   name,
			state:  wire.StateActive,
			addr:   addr,
			connID: connID,
			send:   make(chan []byte, r.sendBuf),
		}
		r.users[name] = u
		count := len(r.users)
		r.mu.Unlock()

		slog.Info("user claimed", "user", name, "conn_id", connID, "addr", addr, "total_users", count)
		return &Session{Name: name, ConnID: connID, Send: u.send}, ClaimedNew

	case u.state == wire.StateDisconnected:
		u.state = wire.StateActive
		u.addr = addr
		u.connID = connID
		u.conn = nil
		u.send = make(chan []byte, r.sendBuf)
		r.mu.Unlock()

		slog.Info("user reconnected", "user", name, "conn_id", connID, "addr", addr)
		return &Session{Name: name, ConnID: connID, Send: u.send}, ClaimedReconnect

	default:
		r.mu.Unlock()
		slog.Info("claim rejected", "user", name, "addr", addr, "reason", RejectedInUse)
		return nil, RejectedInUse
	}
}

// Attach binds the upgraded transport to a claimed session so CloseAll
// can reach it. It reports false when the claim was already superseded;
// the caller then owns closing conn.
func (r *Registry) Attach(name, connID string, conn io.Closer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[name]
	if !ok || u.connID != connID {
		return false
	}
	u.conn = conn
	return true
}

// Probe reports whether a Claim for name would currently be accepted.
// It takes no slot and mutates nothing.
func (r *Registry) Probe(name string) bool {
	if !nameOK(name) {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[name]
	return !ok || u.state == wire.StateDisconnected
}

// MarkOffline moves name to StateDisconnected and releases its transport
// and queue. connID must match the record's current transport generation:
// a lifecycle driver racing a reconnect that already replaced the
// transport is a no-op.
func (r *Registry) MarkOffline(name, connID string) bool {
	r.mu.Lock()
	u, ok := r.users[name]
	if !ok || u.connID != connID {
		r.mu.Unlock()
		return false
	}
	u.state = wire.StateDisconnected
	u.conn = nil
	if u.send != nil {
		close(u.send)
		u.send = nil
	}
	r.mu.Unlock()

	slog.Info("user offline", "user", name, "conn_id", connID)
	return true
}

// SetState updates one user's presence and returns the previous state.
// Invalid states and unknown names leave the registry untouched; callers
// enforce the client-settable policy before calling.
func (r *Registry) SetState(name string, state wire.Presence) (wire.Presence, bool) {
	if !state.Valid() {
		return wire.StateDisconnected, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[name]
	if !ok {
		return wire.StateDisconnected, false
	}
	prev := u.state
	u.state = state

	slog.Debug("state changed", "user", name, "from", prev, "to", state)
	return prev, true
}

// Lookup returns a copy of one record.
func (r *Registry) Lookup(name string) (UserView, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[name]
	if !ok {
		return UserView{}, false
	}
	return UserView{Name: u.name, State: u.state, Addr: u.addr, Online: u.send != nil}, true
}

// Snapshot returns all records as wire entries, ordered by name.
func (r *Registry) Snapshot() []wire.UserEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

func (r *Registry) snapshotLocked() []wire.UserEntry {
	out := make([]wire.UserEntry, 0, len(r.users))
	for _, u := range r.users {
		out = append(out, wire.UserEntry{Name: u.name, State: u.state})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Count returns the number of claimed names, online or not.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}

// CountByState tallies claimed names by presence.
func (r *Registry) CountByState() map[wire.Presence]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[wire.Presence]int, 4)
	for _, u := range r.users {
		out[u.state]++
	}
	return out
}

// OnlineCount returns the number of sessions with an open outbound queue.
func (r *Registry) OnlineCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, u := range r.users {
		if u.send != nil {
			n++
		}
	}
	return n
}

// SendTo queues one frame for a single user. It reports false when the
// user is unknown, offline, or their queue did not drain within
// SendTimeout.
func (r *Registry) SendTo(name string, f wire.Frame) bool {
	r.mu.RLock()
	var send chan []byte
	if u, ok := r.users[name]; ok {
		send = u.send
	}
	r.mu.RUnlock()

	if send == nil {
		return false
	}
	return trySend(send, f.Encode(), f.FrameType())
}

// Broadcast queues one frame for every session with a live transport,
// skipping except when non-empty. Returns the number of queues reached.
func (r *Registry) Broadcast(f wire.Frame, except string) int {
	buf := f.Encode()

	r.mu.RLock()
	targets := make([]chan []byte, 0, len(r.users))
	for name, u := range r.users {
		if except != "" && name == except {
			continue
		}
		if u.send == nil {
			continue
		}
		targets = append(targets, u.send)
	}
	r.mu.RUnlock()

	sent := 0
	for _, ch := range targets {
		if trySend(ch, buf, f.FrameType()) {
			sent++
		}
	}
	slog.Debug("broadcast", "type", f.FrameType(), "recipients", sent, "targets", len(targets))
	return sent
}

// BroadcastActive is Broadcast restricted to sessions in StateActive.
// Chat fan-out and new-user announcements use this; presence updates use
// Broadcast so every open transport hears them.
func (r *Registry) BroadcastActive(f wire.Frame, except string) int {
	buf := f.Encode()

	r.mu.RLock()
	targets := make([]chan []byte, 0, len(r.users))
	for name, u := range r.users {
		if except != "" && name == except {
			continue
		}
		if u.send == nil || u.state != wire.StateActive {
			continue
		}
		targets = append(targets, u.send)
	}
	r.mu.RUnlock()

	sent := 0
	for _, ch := range targets {
		if trySend(ch, buf, f.FrameType()) {
			sent++
		}
	}
	slog.Debug("broadcast_active", "type", f.FrameType(), "recipients", sent, "targets", len(targets))
	return sent
}

// CloseAll tears down every live transport. Each session's lifecycle
// driver observes the close on its next read and walks the normal
// offline path.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	conns := make([]io.Closer, 0, len(r.users))
	for _, u := range r.users {
		if u.conn != nil {
			conns = append(conns, u.conn)
		}
	}
	r.mu.RUnlock()

	for _, c := range conns {
		_ = c.Close()
	}
	if len(conns) > 0 {
		slog.Info("closed live transports", "count", len(conns))
	}
}

// trySend enqueues without blocking past SendTimeout. A send on a queue
// closed by MarkOffline panics; the recover converts that race to a
// dropped frame.
func trySend(ch chan []byte, buf []byte, t wire.FrameType) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()

	select {
	case ch <- buf:
		return true
	case <-time.After(SendTimeout):
		slog.Debug("trySend timeout", "type", t)
		return false
	}
}
