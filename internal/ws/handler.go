// Package ws drives one websocket session per admitted client: the
// upgrade handshake, the name claim, the outbound writer pump, and the
// read loop feeding the router. It also answers plain-HTTP availability
// probes on the same endpoint.
package ws

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"tilde/broker/internal/core"
	"tilde/broker/internal/router"
	"tilde/broker/internal/wire"
)

const writeTimeout = 5 * time.Second

// readLimit bounds one inbound frame. The largest legal client frame is a
// SendChat with two full fields: 1 type byte + 2*(1+255) payload bytes.
const readLimit = 1024

// Handler owns the websocket transport for the broker.
type Handler struct {
	reg      *core.Registry
	router   *router.Router
	upgrader websocket.Upgrader
}

// NewHandler creates a websocket handler bound to the registry and router.
func NewHandler(reg *core.Registry, rt *router.Router) *Handler {
	return &Handler{
		reg:    reg,
		router: rt,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
	}
}

// Register binds the session endpoint on an Echo router.
func (h *Handler) Register(e *echo.Echo) {
	e.GET("/", h.Handle)
}

// Handle serves the root endpoint. A plain GET probes whether the name in
// the query would be admitted; an upgrade request claims the name and runs
// the session until the transport goes away. The claim happens before the
// upgrade so a rejected name travels back as a normal 400 response instead
// of a websocket close.
func (h *Handler) Handle(c echo.Context) error {
	r := c.Request()
	name := r.URL.Query().Get("name")

	if !websocket.IsWebSocketUpgrade(r) {
		if h.reg.Probe(name) {
			return c.String(http.StatusOK, "name available\n")
		}
		return c.String(http.StatusBadRequest, "name unavailable\n")
	}

	if err := validateUpgrade(r); err != nil {
		slog.Debug("rejecting bad upgrade request", "addr", r.RemoteAddr, "err", err)
		return c.String(http.StatusBadRequest, err.Error()+"\n")
	}

	session, res := h.reg.Claim(name, r.RemoteAddr)
	switch res {
	case core.RejectedBadName:
		return c.String(http.StatusBadRequest, "invalid name\n")
	case core.RejectedInUse:
		return c.String(http.StatusBadRequest, "name already in use\n")
	}

	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// The upgrader already wrote its failure response.
		h.reg.MarkOffline(session.Name, session.ConnID)
		return fmt.Errorf("upgrade websocket: %w", err)
	}

	h.serveConn(c, conn, session, res)
	return nil
}

func (h *Handler) serveConn(c echo.Context, conn *websocket.Conn, session *core.Session, res core.ClaimResult) {
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Time{})
	conn.SetReadLimit(readLimit)

	if !h.reg.Attach(session.Name, session.ConnID, conn) {
		return
	}

	log := slog.With("user", session.Name, "conn_id", session.ConnID)
	log.Info("session started", "result", res, "addr", conn.RemoteAddr())

	defer func() {
		if h.reg.MarkOffline(session.Name, session.ConnID) {
			h.reg.Broadcast(wire.StateChange{Name: session.Name, State: wire.StateDisconnected}, session.Name)
			log.Info("session ended")
		}
	}()

	go writePump(conn, session.Send)

	// The fresh session hears the current roster first, then the rest of
	// the broker hears about the admission.
	snap := h.reg.Snapshot()
	if len(snap) > wire.MaxListEntries {
		snap = snap[:wire.MaxListEntries]
	}
	h.reg.SendTo(session.Name, wire.UsersList{Users: snap})

	switch res {
	case core.ClaimedNew:
		h.reg.BroadcastActive(wire.NewUser{Name: session.Name, State: wire.StateActive}, "")
	case core.ClaimedReconnect:
		h.reg.Broadcast(wire.StateChange{Name: session.Name, State: wire.StateActive}, session.Name)
	}

	ctx := c.Request().Context()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			log.Debug("read loop ended", "err", err)
			return
		}
		if len(data) == 0 {
			continue
		}
		f, err := wire.Decode(data)
		if err != nil {
			if errors.Is(err, wire.ErrUnknownType) {
				log.Warn("ignoring unknown frame type", "err", err)
				continue
			}
			log.Warn("malformed frame, closing session", "err", err)
			return
		}
		h.router.Dispatch(ctx, session.Name, f)
	}
}

// sessionWriter is the transport surface the writer pump needs.
type sessionWriter interface {
	SetWriteDeadline(t time.Time) error
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// writePump drains a session's outbound queue onto the transport in
// order. A write error closes the transport so the read loop unblocks and
// walks the offline path; a session whose writes fail must not linger
// Active. When the queue is closed by MarkOffline the pump just exits;
// the lifecycle driver owns the transport then.
func writePump(conn sessionWriter, send <-chan []byte) {
	for out := range send {
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteMessage(websocket.BinaryMessage, out); err != nil {
			_ = conn.Close()
			return
		}
	}
}

// validateUpgrade applies the handshake checks ahead of the claim, so a
// request that could never upgrade does not touch the registry.
func validateUpgrade(r *http.Request) error {
	if !headerContainsToken(r.Header, "Connection", "upgrade") {
		return fmt.Errorf("connection header must include upgrade")
	}
	if !strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return fmt.Errorf("upgrade header must be websocket")
	}
	if r.Header.Get("Sec-WebSocket-Version") != "13" {
		return fmt.Errorf("unsupported websocket version")
	}
	if strings.TrimSpace(r.Header.Get("Sec-WebSocket-Key")) == "" {
		return fmt.Errorf("missing websocket key")
	}
	return nil
}

func headerContainsToken(h http.Header, name, token string) bool {
	for _, v := range h.Values(name) {
		for _, part := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(part), token) {
				return true
			}
		}
	}
	return false
}
