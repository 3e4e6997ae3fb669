package main

import (
	"context"
	"log/slog"
	"time"

	"tilde/broker/internal/core"
	"tilde/broker/internal/router"
	"tilde/broker/internal/store"
	"tilde/broker/internal/wire"
)

// RunMetrics logs broker stats every interval until ctx is canceled. Ticks
// where nothing is registered and nothing moved stay silent.
func RunMetrics(ctx context.Context, reg *core.Registry, hist *store.Store, rt *router.Router, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			in, out, dropped := rt.Stats()
			users := reg.Count()
			if users == 0 && in == 0 {
				continue
			}

			stored, err := hist.MessageCount(ctx)
			if err != nil {
				slog.Warn("stats: count stored messages", "err", err)
			}

			byState := reg.CountByState()
			slog.Info("broker stats",
				"users", users,
				"online", reg.OnlineCount(),
				"active", byState[wire.StateActive],
				"busy", byState[wire.StateBusy],
				"inactive", byState[wire.StateInactive],
				"frames_in", in,
				"frames_out", out,
				"frames_dropped", dropped,
				"stored_messages", stored,
			)
		}
	}
}
