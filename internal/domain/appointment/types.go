package appointment

import "time"

// Slot is an appointment time as the scheduling service reports it:
// milliseconds since the Unix epoch.
type Slot int64

func SlotFromTime(t time.Time) Slot { return Slot(t.UnixMilli()) }

func (s Slot) Time() time.Time { return time.UnixMilli(int64(s)) }

// Until is the time remaining from now until the slot; negative once it has passed.
func (s Slot) Until(now time.Time) time.Duration {
	return time.Duration(int64(s)-now.UnixMilli()) * time.Millisecond
}

// QueryEndMargin is subtracted from the booking when building the slot query
// so the booked slot itself never comes back as a candidate.
const QueryEndMargin = 1000

// Window is a half-open range of slot times, inclusive start, exclusive end.
type Window struct {
	Start Slot
	End   Slot
}

// QueryWindow covers everything from now up to, but excluding, the booking.
func QueryWindow(now time.Time, booking Slot) Window {
	return Window{Start: SlotFromTime(now), End: booking - QueryEndMargin}
}

func (w Window) Valid() bool { return w.End > w.Start }

func (w Window) Contains(s Slot) bool { return s >= w.Start && s < w.End }
