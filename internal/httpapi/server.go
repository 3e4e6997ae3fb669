// Package httpapi assembles the broker's Echo application: the websocket
// session endpoint at the root path plus a small read-only REST surface
// for health checks and operator inspection.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"tilde/broker/internal/core"
	"tilde/broker/internal/router"
	"tilde/broker/internal/store"
	"tilde/broker/internal/wire"
	"tilde/broker/internal/ws"
)

const shutdownTimeout = 5 * time.Second

// Server is the Echo application.
type Server struct {
	echo *echo.Echo
	reg  *core.Registry
	hist *store.Store
}

// New constructs an Echo app with the websocket and REST routes.
func New(reg *core.Registry, rt *router.Router, hist *store.Store) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			slog.Debug("http request", "uri", v.URI, "status", v.Status)
			return nil
		},
	}))

	s := &Server{echo: e, reg: reg, hist: hist}
	s.registerRoutes(rt)
	return s
}

// Echo exposes the underlying Echo instance for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func (s *Server) registerRoutes(rt *router.Router) {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/api/state", s.handleState)
	s.echo.GET("/api/history/:chat", s.handleHistory)
	ws.NewHandler(s.reg, rt).Register(s.echo)
}

// Run starts Echo and blocks until ctx cancellation or startup failure.
// On cancellation the listener shuts down first, then every live session
// transport is closed so the read loops drain through their normal
// offline path.
func (s *Server) Run(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		err := s.echo.Start(addr)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = s.echo.Shutdown(shutCtx)
		s.reg.CloseAll()
		return nil
	}
}

type healthResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{
		Status:   "ok",
		Sessions: s.reg.OnlineCount(),
	})
}

type stateUser struct {
	Name   string `json:"name"`
	State  int    `json:"state"`
	Label  string `json:"label"`
	Addr   string `json:"addr,omitempty"`
	Online bool   `json:"online"`
}

type stateResponse struct {
	Users []stateUser `json:"users"`
}

func (s *Server) handleState(c echo.Context) error {
	snap := s.reg.Snapshot()
	users := make([]stateUser, 0, len(snap))
	for _, u := range snap {
		view, ok := s.reg.Lookup(u.Name)
		if !ok {
			continue
		}
		users = append(users, stateUser{
			Name:   view.Name,
			State:  int(view.State),
			Label:  view.State.String(),
			Addr:   view.Addr,
			Online: view.Online,
		})
	}
	return c.JSON(http.StatusOK, stateResponse{Users: users})
}

type historyEntry struct {
	Sender string `json:"sender"`
	Body   string `json:"body"`
}

type historyResponse struct {
	ChatID  string         `json:"chat_id"`
	Entries []historyEntry `json:"entries"`
}

// handleHistory serves one conversation's stored entries. The :chat param
// is a canonical chat id: "~" for the shared channel or "a-b" for a pair.
func (s *Server) handleHistory(c echo.Context) error {
	chatID := strings.TrimSpace(c.Param("chat"))
	if chatID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "chat id is required")
	}

	limit := wire.MaxListEntries
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		if n < limit {
			limit = n
		}
	}

	entries, err := s.hist.History(c.Request().Context(), chatID, limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "read history")
	}

	out := make([]historyEntry, len(entries))
	for i, e := range entries {
		out[i] = historyEntry{Sender: e.Sender, Body: e.Body}
	}
	return c.JSON(http.StatusOK, historyResponse{ChatID: chatID, Entries: out})
}
