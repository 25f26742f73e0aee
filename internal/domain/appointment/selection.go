package appointment

import (
	"fmt"
	"strings"
	"time"
)

// Best returns the earliest candidate strictly before the booking.
// Candidates at or after the booking are ignored.
func Best(candidates []Slot, booking Slot) (Slot, bool) {
	var best Slot
	found := false
	for _, c := range candidates {
		if c >= booking {
			continue
		}
		if !found || c < best {
			best = c
			found = true
		}
	}
	return best, found
}

// Policy decides whether an earlier slot saves enough time to be worth a
// reschedule request.
type Policy struct {
	Threshold time.Duration
}

type Decision struct {
	Current    Slot
	Best       Slot
	HasBest    bool
	Saving     time.Duration
	Reschedule bool
}

// Evaluate compares the booking with the candidates. The saving is taken in
// whole seconds and must be strictly greater than the threshold.
func (p Policy) Evaluate(booking Slot, candidates []Slot) Decision {
	d := Decision{Current: booking}
	best, ok := Best(candidates, booking)
	if !ok {
		return d
	}
	d.Best = best
	d.HasBest = true
	savingSec := (int64(booking) - int64(best)) / 1000
	d.Saving = time.Duration(savingSec) * time.Second
	d.Reschedule = savingSec > int64(p.Threshold/time.Second)
	return d
}

// FormatDuration renders d as "2 days, 3:04:05" (or "3:04:05" under a day),
// truncated to the second.
func FormatDuration(d time.Duration) string {
	sign := ""
	if d < 0 {
		sign = "-"
		d = -d
	}
	total := int64(d / time.Second)
	days := total / 86400
	rem := total % 86400
	clock := fmt.Sprintf("%d:%02d:%02d", rem/3600, (rem%3600)/60, rem%60)

	var sb strings.Builder
	sb.WriteString(sign)
	switch days {
	case 0:
	case 1:
		sb.WriteString("1 day, ")
	default:
		fmt.Fprintf(&sb, "%d days, ", days)
	}
	sb.WriteString(clock)
	return sb.String()
}
