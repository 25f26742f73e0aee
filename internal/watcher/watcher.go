// Package watcher runs the rebooking loop: log in, read the current booking,
// look for an earlier slot, reschedule when the saving beats the threshold,
// sleep, repeat.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/example/ccw-watcher/internal/domain/appointment"
	"github.com/example/ccw-watcher/internal/internaltypes"
	"github.com/example/ccw-watcher/internal/notify"
	"github.com/example/ccw-watcher/internal/session"
)

// TokenSource hands out a fresh session token per call.
type TokenSource interface {
	Authenticate(ctx context.Context) (session.Token, error)
}

// Service is the part of the scheduling service the loop acts on.
type Service interface {
	CurrentBooking(ctx context.Context, token session.Token) (appointment.Slot, error)
	Slots(ctx context.Context, w appointment.Window) ([]appointment.Slot, error)
	Reschedule(ctx context.Context, token session.Token, slot appointment.Slot) error
}

type Watcher struct {
	Session  TokenSource
	Service  Service
	Notifier notify.Notifier
	Messages notify.Messages
	Policy   appointment.Policy
	Interval time.Duration

	// FailureAlertAfter is how many failed cycles in a row trigger one
	// notification; 0 disables failure alerts.
	FailureAlertAfter int
	DryRun            bool

	// CycleTimeout bounds a cycle that keeps running after shutdown was
	// requested; 0 leaves it to the service client's own timeouts.
	CycleTimeout time.Duration

	Observer Observer
	Now      func() time.Time

	failures int
}

// CycleResult describes what one pass of the loop saw and did.
type CycleResult struct {
	ID          string
	Booking     appointment.Slot
	Window      appointment.Window
	Candidates  []appointment.Slot
	Decision    appointment.Decision
	Rescheduled bool
}

// RescheduleError is returned when an earlier slot qualified but the
// reschedule request failed. The operator has already been notified.
type RescheduleError struct {
	Slot appointment.Slot
	Err  error
}

func (e *RescheduleError) Error() string { return fmt.Sprintf("reschedule to %d: %v", e.Slot, e.Err) }

func (e *RescheduleError) Unwrap() error { return e.Err }

// IsFatal reports whether err should stop the process: the credentials are
// rejected or missing, and retrying cannot help.
func IsFatal(err error) bool {
	return errors.Is(err, internaltypes.ErrAuthentication) || errors.Is(err, internaltypes.ErrConfigInvalid)
}

// Run sends the start notification and loops until ctx is done. It only
// returns an error when startup authentication fails. Cancellation is seen at
// the top of each iteration and during the sleep; a cycle already under way
// runs to completion so no reschedule is cut off mid-request.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.Start(ctx); err != nil {
		if ctx.Err() != nil {
			w.emit(ctx, Event{State: StateStopped})
			return nil
		}
		return err
	}

	for {
		if ctx.Err() != nil {
			w.emit(ctx, Event{State: StateStopped})
			return nil
		}

		cctx, cancel := w.detach(ctx)
		res, err := w.Cycle(cctx)
		cancel()
		if ctx.Err() != nil {
			w.emit(ctx, Event{State: StateStopped})
			return nil
		}
		w.track(ctx, res.ID, err)

		w.emit(ctx, Event{Cycle: res.ID, State: StateSleeping, Message: fmt.Sprintf("next check in %s", w.Interval)})
		if !sleep(ctx, w.Interval) {
			w.emit(ctx, Event{State: StateStopped})
			return nil
		}
	}
}

// Start performs the startup check and announces the watcher. Only a
// rejected login is returned as an error; the service being unreachable is
// reported and left to the loop.
func (w *Watcher) Start(ctx context.Context) error {
	id := uuid.NewString()
	w.emit(ctx, Event{Cycle: id, State: StateStarting, Message: "watcher starting"})

	_, booking, err := w.snapshot(ctx, id)
	if err != nil {
		if IsFatal(err) || ctx.Err() != nil {
			return fmt.Errorf("startup: %w", err)
		}
		w.notify(ctx, id, w.Messages.StartedWithoutBooking(err))
		return nil
	}
	w.notify(ctx, id, w.Messages.Started(booking, w.now()))
	return nil
}

// Cycle is one iteration of the loop.
func (w *Watcher) Cycle(ctx context.Context) (CycleResult, error) {
	res, token, err := w.evaluate(ctx, uuid.NewString())
	if err != nil || !res.Decision.Reschedule {
		return res, err
	}

	d := res.Decision
	if w.DryRun {
		w.emit(ctx, Event{Cycle: res.ID, State: StateEvaluating, Message: "dry run, not rescheduling", Booking: res.Booking, Decision: &d})
		return res, nil
	}

	// once sent, the reschedule and its report are not abandoned on shutdown
	actx, cancel := w.detach(ctx)
	defer cancel()

	w.emit(actx, Event{Cycle: res.ID, State: StateRescheduling, Message: "earlier slot qualifies, rescheduling", Booking: res.Booking, Decision: &d})
	if err := w.Service.Reschedule(actx, token, d.Best); err != nil {
		rerr := &RescheduleError{Slot: d.Best, Err: err}
		w.emit(actx, Event{Cycle: res.ID, State: StateRescheduling, Message: "reschedule failed", Decision: &d, Err: rerr})
		w.notify(actx, res.ID, w.Messages.RescheduleFailed(d, err))
		return res, rerr
	}
	res.Rescheduled = true
	w.emit(actx, Event{Cycle: res.ID, State: StateRescheduling, Message: "rescheduled", Booking: d.Best, Decision: &d})
	w.notify(actx, res.ID, w.Messages.Rescheduled(d))
	return res, nil
}

// Probe runs the read-only part of a cycle: log in, read the booking, query
// the window and evaluate the policy. Nothing is rescheduled or sent.
func (w *Watcher) Probe(ctx context.Context) (CycleResult, error) {
	res, _, err := w.evaluate(ctx, uuid.NewString())
	return res, err
}

func (w *Watcher) evaluate(ctx context.Context, id string) (CycleResult, session.Token, error) {
	res := CycleResult{ID: id}

	token, booking, err := w.snapshot(ctx, id)
	if err != nil {
		return res, "", err
	}
	res.Booking = booking
	res.Decision = appointment.Decision{Current: booking}

	now := w.now()
	res.Window = appointment.QueryWindow(now, booking)
	if !res.Window.Valid() {
		w.emit(ctx, Event{Cycle: id, State: StateEvaluating, Message: "booking is not in the future, nothing to query", Booking: booking})
		return res, token, nil
	}

	w.emit(ctx, Event{Cycle: id, State: StatePolling, Message: fmt.Sprintf("booking is %s from now", appointment.FormatDuration(booking.Until(now))), Booking: booking, Window: res.Window})
	slots, err := w.Service.Slots(ctx, res.Window)
	if err != nil {
		w.emit(ctx, Event{Cycle: id, State: StatePolling, Message: "slot query failed", Window: res.Window, Err: err})
		return res, token, fmt.Errorf("query slots: %w", err)
	}
	res.Candidates = slots

	res.Decision = w.Policy.Evaluate(booking, slots)
	d := res.Decision
	msg := "no earlier slot"
	switch {
	case d.Reschedule:
		msg = "found earlier slot"
	case d.HasBest:
		msg = "earlier slot does not save enough time"
	}
	w.emit(ctx, Event{Cycle: id, State: StateEvaluating, Message: msg, Booking: booking, Candidates: len(slots), Decision: &d})
	return res, token, nil
}

// snapshot logs in and reads the current booking. The token is only good
// for the rest of this cycle.
func (w *Watcher) snapshot(ctx context.Context, id string) (session.Token, appointment.Slot, error) {
	token, err := w.Session.Authenticate(ctx)
	if err != nil {
		w.emit(ctx, Event{Cycle: id, State: StateStarting, Message: "authentication failed", Err: err})
		return "", 0, fmt.Errorf("authenticate: %w", err)
	}
	w.emit(ctx, Event{Cycle: id, State: StateAuthenticated, Message: "session " + token.Redacted()})

	booking, err := w.Service.CurrentBooking(ctx, token)
	if err != nil {
		w.emit(ctx, Event{Cycle: id, State: StateAuthenticated, Message: "reading current booking failed", Err: err})
		return "", 0, fmt.Errorf("current booking: %w", err)
	}
	return token, booking, nil
}

// track counts failed cycles and alerts once per streak.
func (w *Watcher) track(ctx context.Context, id string, err error) {
	var rerr *RescheduleError
	switch {
	case err == nil:
		w.failures = 0
		return
	case errors.As(err, &rerr):
		// reported by Cycle itself
		return
	}

	w.failures++
	if w.FailureAlertAfter <= 0 || w.failures != w.FailureAlertAfter {
		return
	}
	if errors.Is(err, internaltypes.ErrAuthentication) {
		w.notify(ctx, id, w.Messages.AuthenticationFailing(w.failures, err))
		return
	}
	w.notify(ctx, id, w.Messages.CycleFailing(w.failures, err))
}

func (w *Watcher) notify(ctx context.Context, id, body string) {
	if w.Notifier == nil {
		return
	}
	delivery, err := w.Notifier.Send(ctx, body)
	if err != nil {
		w.emit(ctx, Event{Cycle: id, State: StateNotified, Message: "notification failed", Err: err})
		return
	}
	w.emit(ctx, Event{Cycle: id, State: StateNotified, Message: "notification sent", DeliveryID: delivery})
}

// detach returns a context that outlives the cancellation of ctx, bounded by
// CycleTimeout when set.
func (w *Watcher) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	dctx := context.WithoutCancel(ctx)
	if w.CycleTimeout > 0 {
		return context.WithTimeout(dctx, w.CycleTimeout)
	}
	return context.WithCancel(dctx)
}

func (w *Watcher) emit(ctx context.Context, e Event) {
	if w.Observer != nil {
		w.Observer.Observe(ctx, e)
	}
}

func (w *Watcher) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

// sleep waits for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
