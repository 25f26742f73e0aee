package notify

import (
	"fmt"
	"time"

	"github.com/example/ccw-watcher/internal/domain/appointment"
)

const messageLayout = "2006-01-02 15:04:05 MST"

// Messages renders operator texts with times in the service timezone.
type Messages struct {
	Location  *time.Location
	Threshold time.Duration
}

func (m Messages) when(s appointment.Slot) string {
	return s.Time().In(m.loc()).Format(messageLayout)
}

func (m Messages) Started(booking appointment.Slot, now time.Time) string {
	return fmt.Sprintf("The CCW interview watcher was successfully started. Your current interview date is %s which is %s from now. "+
		"You will be notified every time a better interview is found and booked. "+
		"Only interviews more than %s earlier than the current one are booked.",
		m.when(booking), appointment.FormatDuration(booking.Until(now)), appointment.FormatDuration(m.Threshold))
}

func (m Messages) StartedWithoutBooking(err error) string {
	return fmt.Sprintf("The CCW interview watcher was started but could not read the current interview (%v). It will keep retrying.", err)
}

func (m Messages) Rescheduled(d appointment.Decision) string {
	return fmt.Sprintf("Found and rebooked a closer interview on %s (was %s) saving %s.",
		m.when(d.Best), m.when(d.Current), appointment.FormatDuration(d.Saving))
}

func (m Messages) RescheduleFailed(d appointment.Decision, err error) string {
	return fmt.Sprintf("Found an interview on %s saving %s but rebooking failed: %v. Your interview on %s is unchanged unless the service says otherwise.",
		m.when(d.Best), appointment.FormatDuration(d.Saving), err, m.when(d.Current))
}

func (m Messages) AuthenticationFailing(failures int, err error) string {
	return fmt.Sprintf("The CCW interview watcher could not log in %d times in a row: %v. Check the order number, email and password.", failures, err)
}

func (m Messages) CycleFailing(failures int, err error) string {
	return fmt.Sprintf("The CCW interview watcher failed %d checks in a row: %v. It will keep retrying.", failures, err)
}

func (m Messages) Test(now time.Time) string {
	return fmt.Sprintf("Test message from the CCW interview watcher sent at %s.", now.In(m.loc()).Format(messageLayout))
}

func (m Messages) loc() *time.Location {
	if m.Location == nil {
		return time.UTC
	}
	return m.Location
}
