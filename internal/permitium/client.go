// Package permitium is a client for the Permitium order tracker and CCW
// appointment endpoints.
package permitium

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/example/ccw-watcher/internal/domain/appointment"
	"github.com/example/ccw-watcher/internal/internaltypes"
	"github.com/example/ccw-watcher/internal/session"
)

const (
	DefaultBaseURL = "https://sandiegoca.permitium.com"

	cookieName = "PLAY_SESSION"
	schedule   = "ccw_schedule"
	permitType = "ccw_new_permit"
	defaultUA  = "Mozilla/5.0 (X11; Linux x86_64) ccw-watcher/1.0"
	formType   = "application/x-www-form-urlencoded"
)

type Client struct {
	hc   *http.Client
	base string
	ua   string
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.hc = hc } }

// WithTimeout sets the request timeout on a copy of the current client, so a
// shared client passed to WithHTTPClient is left alone.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		hc := *c.hc
		hc.Timeout = d
		c.hc = &hc
	}
}

func New(baseURL string, opts ...Option) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		hc:   &http.Client{Timeout: 30 * time.Second},
		base: strings.TrimRight(baseURL, "/"),
		ua:   defaultUA,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Login posts the order tracker form. The login response is not followed
// through redirects so its own Set-Cookie header is what comes back.
func (c *Client) Login(ctx context.Context, orderNumber, email, passwordDigest string) (string, error) {
	form := "orderid=" + orderNumber +
		"&email=" + quote(email) +
		"&password=" + passwordDigest

	hc := *c.hc
	hc.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }

	res, status, body, err := c.do(ctx, &hc, http.MethodPost, "/order_tracker", formType, "", nil, []byte(form))
	if err != nil {
		return "", err
	}
	if status >= 400 {
		return "", fmt.Errorf("%w: order tracker login http %d: %s", internaltypes.ErrRemoteRequest, status, snippet(body))
	}
	return res.Header.Get("Set-Cookie"), nil
}

func (c *Client) CurrentBooking(ctx context.Context, token session.Token) (appointment.Slot, error) {
	_, status, body, err := c.do(ctx, c.hc, http.MethodGet, "/order_tracker", "", token, nil, nil)
	if err != nil {
		return 0, err
	}
	if status < 200 || status >= 300 {
		return 0, fmt.Errorf("%w: order tracker http %d: %s", internaltypes.ErrRemoteRequest, status, snippet(body))
	}
	return ParseBookingPage(body)
}

// Slots lists open appointment times inside w.
func (c *Client) Slots(ctx context.Context, w appointment.Window) ([]appointment.Slot, error) {
	q := url.Values{}
	q.Set("schedule", schedule)
	q.Set("start", strconv.FormatInt(int64(w.Start), 10))
	q.Set("end", strconv.FormatInt(int64(w.End), 10))
	q.Set("permitType", permitType)

	_, status, body, err := c.do(ctx, c.hc, http.MethodGet, "/ccw/appointments", "", "", q, nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("%w: appointments http %d: %s", internaltypes.ErrRemoteRequest, status, snippet(body))
	}
	return ParseSlotList(body)
}

func (c *Client) Reschedule(ctx context.Context, token session.Token, slot appointment.Slot) error {
	form := "newTime=" + strconv.FormatInt(int64(slot), 10) +
		"&newLocation=&newSchedule=" + schedule

	_, status, body, err := c.do(ctx, c.hc, http.MethodPost, "/order_tracker_reschedule", formType, token, nil, []byte(form))
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("%w: reschedule http %d: %s", internaltypes.ErrRemoteRequest, status, snippet(body))
	}
	return nil
}

func (c *Client) do(ctx context.Context, hc *http.Client, method, path, contentType string, token session.Token, query url.Values, body []byte) (*http.Response, int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, bytes.NewReader(body))
	if err != nil {
		return nil, 0, nil, err
	}
	req.Header.Set("user-agent", c.ua)
	if contentType != "" {
		req.Header.Set("content-type", contentType)
	}
	if token != "" {
		req.AddCookie(&http.Cookie{Name: cookieName, Value: string(token)})
	}
	if query != nil {
		req.URL.RawQuery = query.Encode()
	}

	res, err := hc.Do(req)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("%w: %s %s: %v", internaltypes.ErrRemoteRequest, method, path, err)
	}
	defer res.Body.Close()
	b, err := io.ReadAll(res.Body)
	if err != nil {
		return res, res.StatusCode, nil, fmt.Errorf("%w: read %s: %v", internaltypes.ErrRemoteRequest, path, err)
	}
	return res, res.StatusCode, b, nil
}

// quote percent-encodes s leaving letters, digits, "_.-~" and "/" as they
// are, which is what the order tracker form was observed to accept.
func quote(s string) string {
	const hexDigits = "0123456789ABCDEF"
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		b := s[i]
		switch {
		case 'a' <= b && b <= 'z', 'A' <= b && b <= 'Z', '0' <= b && b <= '9',
			b == '_', b == '.', b == '-', b == '~', b == '/':
			sb.WriteByte(b)
		default:
			sb.WriteByte('%')
			sb.WriteByte(hexDigits[b>>4])
			sb.WriteByte(hexDigits[b&0x0f])
		}
	}
	return sb.String()
}

func snippet(b []byte) string {
	const max = 200
	s := strings.TrimSpace(string(b))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
