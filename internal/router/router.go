// Package router executes inbound frames against the session registry and
// the history store, producing outbound frames for specific sessions or
// for all live sessions. Delivery is best-effort: a target whose queue is
// gone or full costs a log line, never an error back to the sender.
package router

import (
	"context"
	"log/slog"
	"sync/atomic"

	"tilde/broker/internal/core"
	"tilde/broker/internal/store"
	"tilde/broker/internal/wire"
)

// Router is the per-frame dispatch. One instance is shared by all
// lifecycle drivers; its only state is a set of traffic counters.
type Router struct {
	reg  *core.Registry
	hist *store.Store

	// Traffic counters (reset on each Stats call).
	framesIn      atomic.Uint64
	framesOut     atomic.Uint64
	framesDropped atomic.Uint64
}

// New returns a router over the given registry and history store.
func New(reg *core.Registry, hist *store.Store) *Router {
	return &Router{reg: reg, hist: hist}
}

// Stats returns frames dispatched, enqueued, and dropped since the last
// call, then resets the counters.
func (rt *Router) Stats() (in, out, dropped uint64) {
	return rt.framesIn.Swap(0), rt.framesOut.Swap(0), rt.framesDropped.Swap(0)
}

// sendTo wraps Registry.SendTo with outcome accounting.
func (rt *Router) sendTo(name string, f wire.Frame) bool {
	if rt.reg.SendTo(name, f) {
		rt.framesOut.Add(1)
		return true
	}
	rt.framesDropped.Add(1)
	return false
}

// Dispatch routes one decoded frame from sender. Frames a client has no
// business sending are dropped; per-request failures travel back to the
// sender as Error frames.
func (rt *Router) Dispatch(ctx context.Context, sender string, f wire.Frame) {
	rt.framesIn.Add(1)
	switch req := f.(type) {
	case wire.ListUsers:
		rt.handleListUsers(sender)
	case wire.GetUserInfo:
		rt.handleGetUserInfo(sender, req)
	case wire.ChangeState:
		rt.handleChangeState(sender, req)
	case wire.SendChat:
		rt.handleSendChat(ctx, sender, req)
	case wire.GetHistory:
		rt.handleGetHistory(ctx, sender, req)
	default:
		slog.Warn("dropping unexpected frame", "user", sender, "type", f.FrameType())
	}
}

func (rt *Router) senderActive(sender string) bool {
	v, ok := rt.reg.Lookup(sender)
	return ok && v.State == wire.StateActive
}

func (rt *Router) handleListUsers(sender string) {
	if !rt.senderActive(sender) {
		slog.Debug("list_users ignored", "user", sender)
		return
	}
	snap := rt.reg.Snapshot()
	if len(snap) > wire.MaxListEntries {
		snap = snap[:wire.MaxListEntries]
	}
	rt.sendTo(sender, wire.UsersList{Users: snap})
}

func (rt *Router) handleGetUserInfo(sender string, req wire.GetUserInfo) {
	v, ok := rt.reg.Lookup(req.Name)
	if !ok {
		rt.sendTo(sender, wire.Error{Code: wire.ErrCodeUnknownUser})
		return
	}
	rt.sendTo(sender, wire.UserInfo{Found: true, Name: v.Name, State: v.State})
}

// handleChangeState applies a presence transition to the named user and
// announces it to every live session, the target and the requester
// included. Clients rely on hearing their own transition echoed back.
func (rt *Router) handleChangeState(sender string, req wire.ChangeState) {
	if !req.State.ClientSettable() {
		slog.Debug("change_state rejected", "user", sender, "target", req.Name, "state", req.State)
		rt.sendTo(sender, wire.Error{Code: wire.ErrCodeInvalidState})
		return
	}
	prev, ok := rt.reg.SetState(req.Name, req.State)
	if !ok {
		slog.Warn("change_state for unknown user dropped", "user", sender, "target", req.Name)
		return
	}
	slog.Info("presence changed", "target", req.Name, "from", prev, "to", req.State, "by", sender)
	n := rt.reg.Broadcast(wire.StateChange{Name: req.Name, State: req.State}, "")
	rt.framesOut.Add(uint64(n))
}

func (rt *Router) handleSendChat(ctx context.Context, sender string, req wire.SendChat) {
	if !rt.senderActive(sender) {
		slog.Debug("send_chat rejected, sender not active", "user", sender)
		rt.sendTo(sender, wire.Error{Code: wire.ErrCodeInvalidState})
		return
	}
	if req.Body == "" {
		rt.sendTo(sender, wire.Error{Code: wire.ErrCodeEmptyMessage})
		return
	}

	if req.Recipient == wire.BroadcastName {
		rt.routeBroadcastChat(ctx, sender, req.Body)
		return
	}
	rt.routeDirectChat(ctx, sender, req)
}

// routeBroadcastChat appends the raw body to the shared channel's history,
// then fans the frame out to every other Active session and echoes it to
// the sender. The wire copy names the broadcast channel as sender and
// carries the body rewritten with the author prefix.
func (rt *Router) routeBroadcastChat(ctx context.Context, sender, body string) {
	if err := rt.hist.Append(ctx, wire.BroadcastName, sender, body); err != nil {
		slog.Error("history append failed", "chat_id", wire.BroadcastName, "err", err)
	}

	out := wire.ChatMessage{Sender: wire.BroadcastName, Body: broadcastBody(sender, body)}
	n := rt.reg.BroadcastActive(out, sender)
	rt.framesOut.Add(uint64(n))
	rt.sendTo(sender, out)
	slog.Debug("broadcast chat", "from", sender, "recipients", n, "body_len", len(body))
}

func (rt *Router) routeDirectChat(ctx context.Context, sender string, req wire.SendChat) {
	target, ok := rt.reg.Lookup(req.Recipient)
	if !ok {
		rt.sendTo(sender, wire.Error{Code: wire.ErrCodeUnknownUser})
		return
	}

	chatID := store.ChatID(sender, req.Recipient)
	if err := rt.hist.Append(ctx, chatID, sender, req.Body); err != nil {
		slog.Error("history append failed", "chat_id", chatID, "err", err)
	}

	out := wire.ChatMessage{Sender: sender, Body: req.Body}
	rt.sendTo(sender, out)

	switch target.State {
	case wire.StateActive:
		if !rt.sendTo(req.Recipient, out) {
			slog.Warn("chat delivery failed", "from", sender, "to", req.Recipient)
		}
	case wire.StateDisconnected:
		rt.sendTo(sender, wire.Error{Code: wire.ErrCodeRecipientOffline})
	default:
		// Busy or Inactive: the history row is the backlog, no delivery,
		// no error.
		slog.Debug("chat held", "from", sender, "to", req.Recipient, "state", target.State)
	}
}

func (rt *Router) handleGetHistory(ctx context.Context, sender string, req wire.GetHistory) {
	if !rt.senderActive(sender) {
		slog.Debug("get_history ignored", "user", sender)
		return
	}

	chatID := store.ChatID(sender, req.Chat)
	entries, err := rt.hist.History(ctx, chatID, wire.MaxListEntries)
	if err != nil {
		slog.Error("history read failed", "chat_id", chatID, "err", err)
		return
	}

	out := make([]wire.HistoryEntry, len(entries))
	for i, e := range entries {
		out[i] = wire.HistoryEntry{Sender: e.Sender, Body: e.Body}
	}
	rt.sendTo(sender, wire.HistoryResponse{Entries: out})
}

// broadcastBody prefixes the author's name for rendering in the shared
// channel, clamped to the wire field limit.
func broadcastBody(sender, body string) string {
	out := sender + ": " + body
	if len(out) > wire.MaxFieldLen {
		out = out[:wire.MaxFieldLen]
	}
	return out
}
