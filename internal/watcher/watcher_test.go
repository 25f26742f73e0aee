package watcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/example/ccw-watcher/internal/domain/appointment"
	"github.com/example/ccw-watcher/internal/internaltypes"
	"github.com/example/ccw-watcher/internal/notify"
	"github.com/example/ccw-watcher/internal/session"
)

const threshold = 108000 * time.Second

var fixedNow = time.UnixMilli(1699000000000)

type fakeSession struct {
	mu    sync.Mutex
	calls int
	errs  []error // consumed one per call, nil entries succeed
}

func (f *fakeSession) Authenticate(ctx context.Context) (session.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return "", err
		}
	}
	return session.Token(fmt.Sprintf("token-%d", f.calls)), nil
}

type fakeService struct {
	mu sync.Mutex

	booking       appointment.Slot
	slots         []appointment.Slot
	slotsErr      error
	bookingErr    error
	rescheduleErr error

	bookingTokens    []session.Token
	windows          []appointment.Window
	rescheduled      []appointment.Slot
	rescheduleTokens []session.Token

	onBooking    func(n int)
	onReschedule func(ctx context.Context)
}

func (f *fakeService) CurrentBooking(ctx context.Context, token session.Token) (appointment.Slot, error) {
	f.mu.Lock()
	f.bookingTokens = append(f.bookingTokens, token)
	n := len(f.bookingTokens)
	hook := f.onBooking
	booking, err := f.booking, f.bookingErr
	f.mu.Unlock()
	if hook != nil {
		hook(n)
	}
	return booking, err
}

func (f *fakeService) Slots(ctx context.Context, w appointment.Window) ([]appointment.Slot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.windows = append(f.windows, w)
	return f.slots, f.slotsErr
}

func (f *fakeService) Reschedule(ctx context.Context, token session.Token, slot appointment.Slot) error {
	f.mu.Lock()
	hook := f.onReschedule
	f.mu.Unlock()
	if hook != nil {
		hook(ctx)
	}
	// an HTTP client gives up the same way once ctx is done
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rescheduleErr != nil {
		return f.rescheduleErr
	}
	f.rescheduled = append(f.rescheduled, slot)
	f.rescheduleTokens = append(f.rescheduleTokens, token)
	f.booking = slot
	return nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (f *fakeNotifier) Send(ctx context.Context, body string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, body)
	if f.err != nil {
		return "", f.err
	}
	return fmt.Sprintf("msg-%d", len(f.sent)), nil
}

func (f *fakeNotifier) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Observe(ctx context.Context, e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) states() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]State, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.State)
	}
	return out
}

func newWatcher(sess *fakeSession, svc *fakeService, n *fakeNotifier) (*Watcher, *recorder) {
	rec := &recorder{}
	return &Watcher{
		Session:           sess,
		Service:           svc,
		Notifier:          n,
		Messages:          notify.Messages{Location: time.UTC, Threshold: threshold},
		Policy:            appointment.Policy{Threshold: threshold},
		Interval:          time.Millisecond,
		FailureAlertAfter: 2,
		Observer:          rec,
		Now:               func() time.Time { return fixedNow },
	}, rec
}

func TestCycleBelowThresholdDoesNotReschedule(t *testing.T) {
	svc := &fakeService{booking: 1700100000000, slots: []appointment.Slot{1700000000000}}
	n := &fakeNotifier{}
	w, _ := newWatcher(&fakeSession{}, svc, n)

	res, err := w.Cycle(context.Background())
	if err != nil {
		t.Fatalf("Cycle failed: %v", err)
	}
	if res.Rescheduled || res.Decision.Reschedule {
		t.Fatalf("expected no reschedule, got %+v", res)
	}
	if res.Decision.Saving != 100000*time.Second {
		t.Errorf("Saving = %v", res.Decision.Saving)
	}
	if len(svc.rescheduled) != 0 || len(n.messages()) != 0 {
		t.Errorf("unexpected side effects: rescheduled=%v sent=%v", svc.rescheduled, n.messages())
	}
}

func TestCycleAboveThresholdReschedules(t *testing.T) {
	svc := &fakeService{booking: 1700200000000, slots: []appointment.Slot{1700050000000, 1700000000000}}
	n := &fakeNotifier{}
	w, _ := newWatcher(&fakeSession{}, svc, n)

	res, err := w.Cycle(context.Background())
	if err != nil {
		t.Fatalf("Cycle failed: %v", err)
	}
	if !res.Rescheduled {
		t.Fatalf("expected reschedule, got %+v", res)
	}
	if len(svc.rescheduled) != 1 || svc.rescheduled[0] != 1700000000000 {
		t.Fatalf("rescheduled = %v, want [1700000000000]", svc.rescheduled)
	}
	if svc.rescheduleTokens[0] != svc.bookingTokens[0] {
		t.Errorf("reschedule must use the cycle's token: %q vs %q", svc.rescheduleTokens[0], svc.bookingTokens[0])
	}

	sent := n.messages()
	if len(sent) != 1 {
		t.Fatalf("expected one notification, got %v", sent)
	}
	for _, want := range []string{"2023-11-14 22:13:20 UTC", "2023-11-17 05:46:40 UTC", "2 days, 7:33:20"} {
		if !strings.Contains(sent[0], want) {
			t.Errorf("notification %q missing %q", sent[0], want)
		}
	}
}

func TestCycleEqualToThresholdDoesNotReschedule(t *testing.T) {
	svc := &fakeService{booking: 1700000000000 + 108000*1000, slots: []appointment.Slot{1700000000000}}
	w, _ := newWatcher(&fakeSession{}, svc, &fakeNotifier{})

	res, err := w.Cycle(context.Background())
	if err != nil {
		t.Fatalf("Cycle failed: %v", err)
	}
	if res.Rescheduled || len(svc.rescheduled) != 0 {
		t.Fatal("saving exactly the threshold must not reschedule")
	}
}

func TestCycleEmptyCandidates(t *testing.T) {
	svc := &fakeService{booking: 1700200000000, slots: []appointment.Slot{}}
	n := &fakeNotifier{}
	w, rec := newWatcher(&fakeSession{}, svc, n)

	res, err := w.Cycle(context.Background())
	if err != nil {
		t.Fatalf("Cycle failed: %v", err)
	}
	if res.Decision.HasBest || res.Rescheduled {
		t.Fatalf("expected nothing to do, got %+v", res)
	}
	if len(n.messages()) != 0 {
		t.Errorf("no notification expected, got %v", n.messages())
	}
	states := rec.states()
	if states[len(states)-1] != StateEvaluating {
		t.Errorf("last state = %s, want evaluating", states[len(states)-1])
	}
}

func TestCycleWindowExcludesBooking(t *testing.T) {
	svc := &fakeService{booking: 1700200000000}
	w, _ := newWatcher(&fakeSession{}, svc, &fakeNotifier{})

	if _, err := w.Cycle(context.Background()); err != nil {
		t.Fatalf("Cycle failed: %v", err)
	}
	if len(svc.windows) != 1 {
		t.Fatalf("expected one slot query, got %d", len(svc.windows))
	}
	got := svc.windows[0]
	if got.Start != appointment.SlotFromTime(fixedNow) {
		t.Errorf("window start = %d, want now", got.Start)
	}
	if got.End >= svc.booking {
		t.Errorf("window end %d must be before the booking %d", got.End, svc.booking)
	}
}

func TestCycleIgnoresCandidatesAtOrAfterBooking(t *testing.T) {
	svc := &fakeService{booking: 1700200000000, slots: []appointment.Slot{1700200000000, 1700300000000}}
	w, _ := newWatcher(&fakeSession{}, svc, &fakeNotifier{})

	res, err := w.Cycle(context.Background())
	if err != nil {
		t.Fatalf("Cycle failed: %v", err)
	}
	if res.Decision.HasBest || len(svc.rescheduled) != 0 {
		t.Fatalf("slots at or after the booking must not qualify: %+v", res.Decision)
	}
}

func TestCyclePastBookingSkipsQuery(t *testing.T) {
	svc := &fakeService{booking: appointment.SlotFromTime(fixedNow) - 1000}
	w, _ := newWatcher(&fakeSession{}, svc, &fakeNotifier{})

	if _, err := w.Cycle(context.Background()); err != nil {
		t.Fatalf("Cycle failed: %v", err)
	}
	if len(svc.windows) != 0 {
		t.Errorf("no slot query expected for a past booking, got %v", svc.windows)
	}
}

func TestCycleAuthenticationError(t *testing.T) {
	authErr := fmt.Errorf("%w: response has no Set-Cookie header", internaltypes.ErrAuthentication)
	svc := &fakeService{booking: 1700200000000}
	w, _ := newWatcher(&fakeSession{errs: []error{authErr}}, svc, &fakeNotifier{})

	_, err := w.Cycle(context.Background())
	if !errors.Is(err, internaltypes.ErrAuthentication) {
		t.Fatalf("expected ErrAuthentication, got %v", err)
	}
	if len(svc.bookingTokens) != 0 || len(svc.windows) != 0 {
		t.Error("no further requests expected after failed authentication")
	}
}

func TestCycleRemoteErrors(t *testing.T) {
	remote := fmt.Errorf("%w: appointments http 502", internaltypes.ErrRemoteRequest)
	svc := &fakeService{booking: 1700200000000, slotsErr: remote}
	w, _ := newWatcher(&fakeSession{}, svc, &fakeNotifier{})

	if _, err := w.Cycle(context.Background()); !errors.Is(err, internaltypes.ErrRemoteRequest) {
		t.Fatalf("expected ErrRemoteRequest, got %v", err)
	}

	parse := fmt.Errorf("%w: no booking", internaltypes.ErrParse)
	svc = &fakeService{bookingErr: parse}
	w, _ = newWatcher(&fakeSession{}, svc, &fakeNotifier{})
	if _, err := w.Cycle(context.Background()); !errors.Is(err, internaltypes.ErrParse) {
		t.Fatalf("expected ErrParse, got %v", err)
	}
	if len(svc.windows) != 0 {
		t.Error("slot query must not run without a booking")
	}
}

func TestCycleRescheduleFailureNotifies(t *testing.T) {
	svc := &fakeService{booking: 1700200000000, slots: []appointment.Slot{1700000000000}, rescheduleErr: errors.New("http 500")}
	n := &fakeNotifier{}
	w, _ := newWatcher(&fakeSession{}, svc, n)

	res, err := w.Cycle(context.Background())
	var rerr *RescheduleError
	if !errors.As(err, &rerr) {
		t.Fatalf("expected RescheduleError, got %v", err)
	}
	if rerr.Slot != 1700000000000 || res.Rescheduled {
		t.Errorf("unexpected result %+v / %+v", rerr, res)
	}
	sent := n.messages()
	if len(sent) != 1 || !strings.Contains(sent[0], "rebooking failed") {
		t.Errorf("expected a failure notification, got %v", sent)
	}
}

func TestCycleDryRun(t *testing.T) {
	svc := &fakeService{booking: 1700200000000, slots: []appointment.Slot{1700000000000}}
	n := &fakeNotifier{}
	w, _ := newWatcher(&fakeSession{}, svc, n)
	w.DryRun = true

	res, err := w.Cycle(context.Background())
	if err != nil {
		t.Fatalf("Cycle failed: %v", err)
	}
	if !res.Decision.Reschedule || res.Rescheduled {
		t.Fatalf("dry run should decide but not act: %+v", res)
	}
	if len(svc.rescheduled) != 0 || len(n.messages()) != 0 {
		t.Error("dry run must not reschedule or notify")
	}
}

func TestProbeHasNoSideEffects(t *testing.T) {
	svc := &fakeService{booking: 1700200000000, slots: []appointment.Slot{1700000000000}}
	n := &fakeNotifier{}
	w, _ := newWatcher(&fakeSession{}, svc, n)

	res, err := w.Probe(context.Background())
	if err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	if !res.Decision.Reschedule || res.Decision.Best != 1700000000000 {
		t.Errorf("unexpected decision %+v", res.Decision)
	}
	if len(svc.rescheduled) != 0 || len(n.messages()) != 0 {
		t.Error("Probe must not reschedule or notify")
	}
}

func TestStartNotifies(t *testing.T) {
	svc := &fakeService{booking: 1700200000000}
	n := &fakeNotifier{}
	w, _ := newWatcher(&fakeSession{}, svc, n)

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	sent := n.messages()
	if len(sent) != 1 || !strings.Contains(sent[0], "successfully started") {
		t.Fatalf("expected start notification, got %v", sent)
	}
	if !strings.Contains(sent[0], appointment.FormatDuration(svc.booking.Until(fixedNow))) {
		t.Errorf("start notification %q should carry the time until the booking", sent[0])
	}
}

func TestStartAuthenticationFailureIsFatal(t *testing.T) {
	authErr := fmt.Errorf("%w: no cookie", internaltypes.ErrAuthentication)
	n := &fakeNotifier{}
	w, _ := newWatcher(&fakeSession{errs: []error{authErr}}, &fakeService{}, n)

	err := w.Run(context.Background())
	if !errors.Is(err, internaltypes.ErrAuthentication) {
		t.Fatalf("expected ErrAuthentication from Run, got %v", err)
	}
	if !IsFatal(err) {
		t.Error("IsFatal should report the startup authentication error")
	}
	if len(n.messages()) != 0 {
		t.Errorf("no start notification expected, got %v", n.messages())
	}
}

func TestStartRemoteFailureIsNotFatal(t *testing.T) {
	remote := fmt.Errorf("%w: dial tcp: refused", internaltypes.ErrRemoteRequest)
	svc := &fakeService{bookingErr: remote}
	n := &fakeNotifier{}
	w, _ := newWatcher(&fakeSession{}, svc, n)

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start should tolerate remote errors, got %v", err)
	}
	sent := n.messages()
	if len(sent) != 1 || !strings.Contains(sent[0], "could not read the current interview") {
		t.Errorf("expected degraded start notification, got %v", sent)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc := &fakeService{booking: 1700200000000, slots: []appointment.Slot{}}
	// startup + three cycles
	svc.onBooking = func(n int) {
		if n == 4 {
			cancel()
		}
	}
	sess := &fakeSession{}
	w, rec := newWatcher(sess, svc, &fakeNotifier{})

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v, want nil on shutdown", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}

	states := rec.states()
	if states[len(states)-1] != StateStopped {
		t.Errorf("last state = %s, want stopped", states[len(states)-1])
	}

	// every cycle logs in again and uses its own token
	seen := map[session.Token]bool{}
	for _, tok := range svc.bookingTokens {
		if seen[tok] {
			t.Errorf("token %q reused across cycles", tok)
		}
		seen[tok] = true
	}
	if sess.calls != len(svc.bookingTokens) {
		t.Errorf("authenticate calls = %d, booking reads = %d", sess.calls, len(svc.bookingTokens))
	}
}

func TestRunInterruptsSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	svc := &fakeService{booking: 1700200000000}
	w, rec := newWatcher(&fakeSession{}, svc, &fakeNotifier{})
	w.Interval = time.Hour
	w.Observer = ObserverFunc(func(ctx context.Context, e Event) {
		rec.Observe(ctx, e)
		if e.State == StateSleeping {
			cancel()
		}
	})

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("sleep was not interrupted by cancel")
	}
}

func TestRunSurvivesMidRunAuthenticationFailures(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	authErr := fmt.Errorf("%w: no cookie", internaltypes.ErrAuthentication)
	// startup ok, then three failed logins, then recovery
	sess := &fakeSession{errs: []error{nil, authErr, authErr, authErr, nil}}
	svc := &fakeService{booking: 1700200000000}
	svc.onBooking = func(n int) {
		if n == 2 {
			cancel()
		}
	}
	n := &fakeNotifier{}
	w, _ := newWatcher(sess, svc, n)

	if err := w.Run(ctx); err != nil {
		t.Fatalf("Run returned %v", err)
	}

	sent := n.messages()
	if len(sent) != 2 {
		t.Fatalf("expected start + one failure alert, got %v", sent)
	}
	if !strings.Contains(sent[1], "could not log in 2 times") {
		t.Errorf("unexpected alert %q", sent[1])
	}
	if sess.calls != 5 {
		t.Errorf("authenticate calls = %d, want 5", sess.calls)
	}
}

func TestTrackAlertsOncePerStreak(t *testing.T) {
	n := &fakeNotifier{}
	w, _ := newWatcher(&fakeSession{}, &fakeService{}, n)
	remote := fmt.Errorf("%w: timeout", internaltypes.ErrRemoteRequest)

	for i := 0; i < 5; i++ {
		w.track(context.Background(), "c", remote)
	}
	if got := len(n.messages()); got != 1 {
		t.Fatalf("expected one alert for the streak, got %d", got)
	}

	w.track(context.Background(), "c", nil)
	w.track(context.Background(), "c", remote)
	w.track(context.Background(), "c", remote)
	if got := len(n.messages()); got != 2 {
		t.Fatalf("expected a new alert after recovery, got %d", got)
	}

	w.track(context.Background(), "c", &RescheduleError{Err: errors.New("x")})
	if w.failures != 2 {
		t.Errorf("reschedule errors must not count toward the streak, failures=%d", w.failures)
	}
}

func TestNotificationFailureDoesNotStopCycle(t *testing.T) {
	svc := &fakeService{booking: 1700200000000, slots: []appointment.Slot{1700000000000}}
	n := &fakeNotifier{err: errors.New("sms down")}
	w, rec := newWatcher(&fakeSession{}, svc, n)

	res, err := w.Cycle(context.Background())
	if err != nil {
		t.Fatalf("Cycle failed: %v", err)
	}
	if !res.Rescheduled {
		t.Fatal("reschedule should still happen")
	}
	var failed bool
	for _, e := range rec.events {
		if e.State == StateNotified && e.Err != nil {
			failed = true
		}
	}
	if !failed {
		t.Error("expected a notification failure event")
	}
}

func TestLogObserver(t *testing.T) {
	var buf bytes.Buffer
	obs := LogObserver{
		Logger:   slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})),
		Location: time.FixedZone("PST", -8*3600),
	}
	ctx := context.Background()

	d := appointment.Decision{Current: 1700200000000, Best: 1700000000000, HasBest: true, Saving: 200000 * time.Second, Reschedule: true}
	obs.Observe(ctx, Event{Cycle: "c1", State: StateEvaluating, Message: "found earlier slot", Booking: 1700200000000, Candidates: 2, Decision: &d})
	obs.Observe(ctx, Event{Cycle: "c1", State: StateSleeping, Message: "next check in 1m0s"})
	obs.Observe(ctx, Event{Cycle: "c2", State: StatePolling, Message: "slot query failed", Err: fmt.Errorf("%w: http 502", internaltypes.ErrRemoteRequest)})

	out := buf.String()
	for _, want := range []string{
		"msg=\"found earlier slot\"",
		"state=evaluating",
		"cycle=c1",
		"candidates=2",
		"booking=2023-11-16T21:46:40.000-08:00",
		"best_ms=1700000000000",
		"saving=\"2 days, 7:33:20\"",
		"reschedule=true",
		"level=WARN",
		"error_kind=remote_request",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "next check") {
		t.Errorf("sleeping events should log at debug level:\n%s", out)
	}
}

func TestCycleFinishesRescheduleAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc := &fakeService{booking: 1700200000000, slots: []appointment.Slot{1700000000000}}
	var reqErr error
	svc.onReschedule = func(rctx context.Context) {
		// shutdown arrives while the request is on the wire
		cancel()
		time.Sleep(20 * time.Millisecond)
		reqErr = rctx.Err()
	}
	n := &fakeNotifier{}
	w, _ := newWatcher(&fakeSession{}, svc, n)

	res, err := w.Cycle(ctx)
	if err != nil {
		t.Fatalf("Cycle failed: %v", err)
	}
	if reqErr != nil {
		t.Errorf("reschedule request saw %v, want it to outlive shutdown", reqErr)
	}
	if !res.Rescheduled || len(svc.rescheduled) != 1 {
		t.Fatalf("expected the reschedule to complete, got %+v", res)
	}
	sent := n.messages()
	if len(sent) != 1 || !strings.Contains(sent[0], "rebooked a closer interview") {
		t.Errorf("expected the rescheduled notification, got %v", sent)
	}
}

func TestRunFinishesCycleOnShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc := &fakeService{booking: 1700200000000, slots: []appointment.Slot{1700000000000}}
	// the first cycle's booking read, after the startup one
	svc.onBooking = func(n int) {
		if n == 2 {
			cancel()
		}
	}
	n := &fakeNotifier{}
	w, rec := newWatcher(&fakeSession{}, svc, n)
	w.CycleTimeout = 5 * time.Second

	if err := w.Run(ctx); err != nil {
		t.Fatalf("Run returned %v", err)
	}
	if len(svc.windows) != 1 || len(svc.rescheduled) != 1 {
		t.Fatalf("cycle did not run to completion: windows=%v rescheduled=%v", svc.windows, svc.rescheduled)
	}
	sent := n.messages()
	if len(sent) != 2 || !strings.Contains(sent[1], "rebooked a closer interview") {
		t.Errorf("expected start and rescheduled notifications, got %v", sent)
	}
	states := rec.states()
	if states[len(states)-1] != StateStopped {
		t.Errorf("last state = %s, want stopped", states[len(states)-1])
	}
	if len(svc.bookingTokens) != 2 {
		t.Errorf("no cycle should start after shutdown, booking reads = %d", len(svc.bookingTokens))
	}
}
