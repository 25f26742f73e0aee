package watcher

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/ccw-watcher/internal/domain/appointment"
	"github.com/example/ccw-watcher/internal/internaltypes"
)

type State string

const (
	StateStarting      State = "starting"
	StateAuthenticated State = "authenticated"
	StatePolling       State = "polling"
	StateEvaluating    State = "evaluating"
	StateRescheduling  State = "rescheduling"
	StateNotified      State = "notified"
	StateSleeping      State = "sleeping"
	StateStopped       State = "stopped"
)

// Event is one status update from the loop. Zero-valued fields were not
// known at that point of the cycle.
type Event struct {
	Cycle      string
	State      State
	Message    string
	Booking    appointment.Slot
	Window     appointment.Window
	Candidates int
	Decision   *appointment.Decision
	DeliveryID string
	Err        error
}

type Observer interface {
	Observe(ctx context.Context, e Event)
}

type ObserverFunc func(ctx context.Context, e Event)

func (f ObserverFunc) Observe(ctx context.Context, e Event) { f(ctx, e) }

// LogObserver writes events as structured log records. Times are rendered
// in Location, UTC when nil.
type LogObserver struct {
	Logger   *slog.Logger
	Location *time.Location
}

func (o LogObserver) Observe(ctx context.Context, e Event) {
	if o.Logger == nil {
		return
	}
	attrs := []slog.Attr{slog.String("state", string(e.State))}
	if e.Cycle != "" {
		attrs = append(attrs, slog.String("cycle", e.Cycle))
	}
	if e.Booking != 0 {
		attrs = append(attrs, slog.Int64("booking_ms", int64(e.Booking)), slog.Time("booking", e.Booking.Time().In(o.loc())))
	}
	if e.Window.End != 0 {
		attrs = append(attrs, slog.Int64("window_start_ms", int64(e.Window.Start)), slog.Int64("window_end_ms", int64(e.Window.End)))
	}
	if e.State == StateEvaluating {
		attrs = append(attrs, slog.Int("candidates", e.Candidates))
	}
	if d := e.Decision; d != nil && d.HasBest {
		attrs = append(attrs,
			slog.Int64("best_ms", int64(d.Best)),
			slog.String("saving", appointment.FormatDuration(d.Saving)),
			slog.Bool("reschedule", d.Reschedule))
	}
	if e.DeliveryID != "" {
		attrs = append(attrs, slog.String("delivery_id", e.DeliveryID))
	}

	level := slog.LevelInfo
	if e.State == StateSleeping {
		level = slog.LevelDebug
	}
	if e.Err != nil {
		level = slog.LevelWarn
		attrs = append(attrs, slog.String("error", e.Err.Error()), slog.String("error_kind", internaltypes.Kind(e.Err)))
	}
	msg := e.Message
	if msg == "" {
		msg = string(e.State)
	}
	o.Logger.LogAttrs(ctx, level, msg, attrs...)
}

func (o LogObserver) loc() *time.Location {
	if o.Location == nil {
		return time.UTC
	}
	return o.Location
}
