package permitium

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/PuerkitoBio/goquery"

	"github.com/example/ccw-watcher/internal/domain/appointment"
	"github.com/example/ccw-watcher/internal/internaltypes"
)

// The order tracker renders times in the county's local zone, e.g.
// "February 12, 2024 1:00:00 PM PST". Both values are fixed by the service.
const (
	ServiceLayout   = "January 2, 2006 3:04:05 PM MST"
	ServiceTimezone = "America/Los_Angeles"
)

var serviceLocation = mustLoadLocation(ServiceTimezone)

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(fmt.Sprintf("permitium: load %s: %v", name, err))
	}
	return loc
}

// Location is the service timezone.
func Location() *time.Location { return serviceLocation }

func ParseDisplayTime(s string) (appointment.Slot, error) {
	t, err := time.ParseInLocation(ServiceLayout, strings.TrimSpace(s), serviceLocation)
	if err != nil {
		return 0, fmt.Errorf("%w: booking time %q: %v", internaltypes.ErrParse, s, err)
	}
	return appointment.SlotFromTime(t), nil
}

func FormatDisplayTime(s appointment.Slot) string {
	return s.Time().In(serviceLocation).Format(ServiceLayout)
}

// ParseBookingPage pulls the booked appointment out of the order tracker
// page, where it is the text of the first <u> element.
func ParseBookingPage(html []byte) (appointment.Slot, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return 0, fmt.Errorf("%w: order tracker html: %v", internaltypes.ErrParse, err)
	}
	u := doc.Find("u").First()
	if u.Length() == 0 {
		return 0, fmt.Errorf("%w: order tracker page has no booking time", internaltypes.ErrParse)
	}
	return ParseDisplayTime(u.Text())
}

// ParseSlotList decodes the appointments body, a bare list of epoch
// millisecond numbers such as "[1700000000000, 1700003600000]".
func ParseSlotList(body []byte) ([]appointment.Slot, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, fmt.Errorf("%w: appointments body %q is not a list", internaltypes.ErrParse, snippet(body))
	}
	var raw []any
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: appointments body: %v", internaltypes.ErrParse, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing data after appointments list", internaltypes.ErrParse)
	}
	out := make([]appointment.Slot, 0, len(raw))
	for _, item := range raw {
		n, ok := item.(json.Number)
		if !ok {
			return nil, fmt.Errorf("%w: slot %v is not a number", internaltypes.ErrParse, item)
		}
		v, err := n.Int64()
		if err != nil {
			return nil, fmt.Errorf("%w: slot %s is not an epoch millisecond value", internaltypes.ErrParse, n)
		}
		out = append(out, appointment.Slot(v))
	}
	return out, nil
}
