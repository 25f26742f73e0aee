package cmd

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/example/ccw-watcher/internal/config"
	"github.com/example/ccw-watcher/internal/domain/appointment"
	"github.com/example/ccw-watcher/internal/internaltypes"
	"github.com/example/ccw-watcher/internal/notify"
	"github.com/example/ccw-watcher/internal/observability"
	"github.com/example/ccw-watcher/internal/permitium"
	"github.com/example/ccw-watcher/internal/session"
	"github.com/example/ccw-watcher/internal/watcher"
)

// app is everything a command needs once the config is loaded.
type app struct {
	cfg    config.Config
	logger *slog.Logger
	client *permitium.Client
}

// loadConfig loads and validates the config at the resolved path. adjust,
// when set, runs between loading and validation.
func (o *rootOptions) loadConfig(adjust func(*config.Config)) (config.Config, string, error) {
	path := config.PathFromEnv(o.configPath)
	cfg, err := config.Load(path)
	if errors.Is(err, internaltypes.ErrConfigMissing) {
		if _, statErr := os.Stat(path); statErr == nil {
			return cfg, path, fmt.Errorf("configuration not found, created a template at %s", path)
		}
		return cfg, path, err
	}
	if err != nil {
		return cfg, path, err
	}
	if adjust != nil {
		adjust(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, path, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, path, nil
}

func (o *rootOptions) setup(stderr io.Writer, adjust func(*config.Config)) (*app, error) {
	cfg, path, err := o.loadConfig(adjust)
	if err != nil {
		return nil, err
	}
	logger := observability.New(cfg.Logging.Format, cfg.Logging.Level, stderr)
	logger.Debug("config loaded", "path", path, "notifier", cfg.Notifier.Kind)

	client := permitium.New(cfg.Permitium.BaseURL, permitium.WithTimeout(cfg.RequestTimeout()))
	return &app{cfg: cfg, logger: logger, client: client}, nil
}

func (a *app) notifier() (notify.Notifier, error) {
	switch a.cfg.Notifier.Kind {
	case config.NotifierTwilio:
		t := a.cfg.Twilio
		return notify.NewTwilio(t.AccountSID, t.AuthToken, t.SenderPhone, t.ReceiverPhone), nil
	case config.NotifierTelegram:
		return notify.NewTelegram(a.cfg.Telegram.BotToken, a.cfg.Telegram.ChatID)
	case config.NotifierLog:
		return notify.NewLog(a.logger), nil
	default:
		return nil, fmt.Errorf("%w: notifier.kind %q", internaltypes.ErrConfigInvalid, a.cfg.Notifier.Kind)
	}
}

func (a *app) messages() notify.Messages {
	return notify.Messages{Location: permitium.Location(), Threshold: a.cfg.RescheduleThreshold()}
}

func (a *app) watcher(n notify.Notifier) *watcher.Watcher {
	p := a.cfg.Permitium
	creds := session.Credentials{OrderNumber: p.OrderNumber, Email: p.EmailAddress, Password: p.Password}
	return &watcher.Watcher{
		Session:           session.NewManager(a.client, creds),
		Service:           a.client,
		Notifier:          n,
		Messages:          a.messages(),
		Policy:            appointment.Policy{Threshold: a.cfg.RescheduleThreshold()},
		Interval:          a.cfg.PollInterval(),
		FailureAlertAfter: a.cfg.General.FailureAlertAfter,
		// login, booking read, slot query and reschedule
		CycleTimeout:      4 * a.cfg.RequestTimeout(),
		Observer:          watcher.LogObserver{Logger: a.logger, Location: permitium.Location()},
	}
}
