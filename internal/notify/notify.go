// Package notify delivers operator messages over SMS (Twilio), Telegram or
// the process log.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
)

type Notifier interface {
	// Send delivers body and returns the transport's delivery id.
	Send(ctx context.Context, body string) (string, error)
}

// Log writes messages to the structured log instead of delivering them.
type Log struct {
	Logger *slog.Logger
	seq    atomic.Int64
}

func NewLog(logger *slog.Logger) *Log { return &Log{Logger: logger} }

func (l *Log) Send(ctx context.Context, body string) (string, error) {
	id := fmt.Sprintf("log-%d", l.seq.Add(1))
	if l.Logger != nil {
		l.Logger.InfoContext(ctx, "notification", "delivery_id", id, "body", body)
	}
	return id, nil
}
