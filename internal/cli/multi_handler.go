package cli

import (
	"context"
	"errors"
	"log/slog"
)

// fanoutHandler duplicates records across several destinations, each with
// its own level filter. Playback uses it to show warnings on stderr while
// the rotated log file captures everything down to debug.
type fanoutHandler struct {
	dests []slog.Handler
}

func newFanoutHandler(dests ...slog.Handler) *fanoutHandler {
	return &fanoutHandler{dests: dests}
}

// Enabled reports true when any destination would accept the level.
func (h *fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, d := range h.dests {
		if d.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle delivers the record to every destination that accepts its level.
// A failing destination does not block the others; the log file going bad
// must never silence stderr.
func (h *fanoutHandler) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	for _, d := range h.dests {
		if d.Enabled(ctx, record.Level) {
			if err := d.Handle(ctx, record); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// fork rebuilds the fan-out with each destination replaced by transform(d).
func (h *fanoutHandler) fork(transform func(slog.Handler) slog.Handler) slog.Handler {
	next := make([]slog.Handler, len(h.dests))
	for i, d := range h.dests {
		next[i] = transform(d)
	}
	return &fanoutHandler{dests: next}
}

func (h *fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h.fork(func(d slog.Handler) slog.Handler { return d.WithAttrs(attrs) })
}

func (h *fanoutHandler) WithGroup(name string) slog.Handler {
	return h.fork(func(d slog.Handler) slog.Handler { return d.WithGroup(name) })
}
