package main

import (
	"context"
	"io"
	"log/slog"
)

// awaitStop waits for the sweeper to exit and then closes the journal. The
// journal is only closed once nothing can still commit to it: the sweeper
// has returned and the HTTP server drained every request. Otherwise it is
// left open for the process exit to release, and pebble replays its WAL on
// the next start. It reports whether the journal was closed.
func awaitStop(ctx context.Context, sweeperDone <-chan struct{}, drained bool, journal io.Closer, logger *slog.Logger) bool {
	select {
	case <-sweeperDone:
	case <-ctx.Done():
		logger.Warn("sweeper did not stop before shutdown timeout, leaving journal open")
		return false
	}
	if journal == nil {
		return false
	}
	if !drained {
		logger.Warn("requests still in flight, leaving journal open")
		return false
	}
	if err := journal.Close(); err != nil {
		logger.Error("journal close error", slog.String("error", err.Error()))
	}
	return true
}
