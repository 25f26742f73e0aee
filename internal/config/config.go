package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/example/ccw-watcher/internal/internaltypes"
)

const DefaultPath = "config.yml"

//go:embed config-blank.yml
var blankTemplate []byte

type Config struct {
	Permitium PermitiumConfig `yaml:"permitium"`
	Notifier  NotifierConfig  `yaml:"notifier"`
	Twilio    TwilioConfig    `yaml:"twilio"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	General   GeneralConfig   `yaml:"general"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type PermitiumConfig struct {
	BaseURL        string `yaml:"base_url"`
	OrderNumber    string `yaml:"order_number"`
	EmailAddress   string `yaml:"email_address"`
	Password       string `yaml:"password"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type NotifierConfig struct {
	Kind string `yaml:"kind"`
}

type TwilioConfig struct {
	AccountSID    string `yaml:"account_sid"`
	AuthToken     string `yaml:"auth_token"`
	SenderPhone   string `yaml:"sender_phone"`
	ReceiverPhone string `yaml:"receiver_phone"`
}

type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
}

type GeneralConfig struct {
	RateOfCheckSeconds         int `yaml:"rate_of_check_seconds"`
	RescheduleThresholdSeconds int `yaml:"reschedule_threshold_seconds"`
	FailureAlertAfter          int `yaml:"failure_alert_after"`
}

type LoggingConfig struct {
	Format string `yaml:"format"`
	Level  string `yaml:"level"`
}

const (
	NotifierTwilio   = "twilio"
	NotifierTelegram = "telegram"
	NotifierLog      = "log"
)

func Default() Config {
	return Config{
		Permitium: PermitiumConfig{BaseURL: "https://sandiegoca.permitium.com", TimeoutSeconds: 30},
		Notifier:  NotifierConfig{Kind: NotifierTwilio},
		General: GeneralConfig{
			RateOfCheckSeconds:         60,
			RescheduleThresholdSeconds: 108000,
			FailureAlertAfter:          3,
		},
		Logging: LoggingConfig{Format: "text", Level: "info"},
	}
}

// PathFromEnv resolves the config path: explicit flag, then CCWATCH_CONFIG,
// then ./config.yml.
func PathFromEnv(flagPath string) string {
	if flagPath != "" {
		return flagPath
	}
	return getenv("CCWATCH_CONFIG", DefaultPath)
}

// Load reads path on top of the defaults and applies env overrides. A
// missing file is replaced by the blank template and ErrConfigMissing is
// returned so the caller can exit.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		if werr := WriteTemplate(path, false); werr != nil {
			return Config{}, fmt.Errorf("%w: %s (writing template: %v)", internaltypes.ErrConfigMissing, path, werr)
		}
		return Config{}, fmt.Errorf("%w: created a template at %s", internaltypes.ErrConfigMissing, path)
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: parse %s: %v", internaltypes.ErrConfigInvalid, path, err)
	}
	cfg.applyEnv()
	return cfg, nil
}

// WriteTemplate writes the blank configuration. An existing file is kept
// unless force is set.
func WriteTemplate(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	// the template will hold credentials once filled in
	return os.WriteFile(path, blankTemplate, 0o600)
}

func Template() []byte { return append([]byte(nil), blankTemplate...) }

func (c *Config) applyEnv() {
	c.Permitium.Password = getenv("PERMITIUM_PASSWORD", c.Permitium.Password)
	c.Twilio.AuthToken = getenv("TWILIO_AUTH_TOKEN", c.Twilio.AuthToken)
	c.Telegram.BotToken = getenv("TELEGRAM_BOT_TOKEN", c.Telegram.BotToken)
	if strings.TrimSpace(os.Getenv("CLOUD_LOGGING")) != "" {
		c.Logging.Format = "json"
	}
}

// Validate reports every problem at once, wrapped in ErrConfigInvalid.
func (c Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) { problems = append(problems, fmt.Sprintf(format, args...)) }

	if strings.TrimSpace(c.Permitium.OrderNumber) == "" {
		add("permitium.order_number is required")
	}
	if strings.TrimSpace(c.Permitium.EmailAddress) == "" {
		add("permitium.email_address is required")
	}
	if c.Permitium.Password == "" {
		add("permitium.password is required")
	}
	if c.Permitium.TimeoutSeconds < 1 {
		add("permitium.timeout_seconds must be >= 1")
	}
	if c.General.RateOfCheckSeconds < 1 {
		add("general.rate_of_check_seconds must be >= 1")
	}
	if c.General.RescheduleThresholdSeconds < 1 {
		add("general.reschedule_threshold_seconds must be >= 1")
	}
	if c.General.FailureAlertAfter < 0 {
		add("general.failure_alert_after must be >= 0")
	}

	switch c.Notifier.Kind {
	case NotifierTwilio:
		if c.Twilio.AccountSID == "" || c.Twilio.AuthToken == "" {
			add("twilio.account_sid and twilio.auth_token are required")
		}
		if c.Twilio.SenderPhone == "" || c.Twilio.ReceiverPhone == "" {
			add("twilio.sender_phone and twilio.receiver_phone are required")
		}
	case NotifierTelegram:
		if c.Telegram.BotToken == "" || c.Telegram.ChatID == "" {
			add("telegram.bot_token and telegram.chat_id are required")
		}
	case NotifierLog:
	default:
		add("notifier.kind %q is not one of twilio, telegram, log", c.Notifier.Kind)
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		add("logging.format %q is not one of text, json", c.Logging.Format)
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", internaltypes.ErrConfigInvalid, strings.Join(problems, "; "))
	}
	return nil
}

func (c Config) PollInterval() time.Duration {
	return time.Duration(c.General.RateOfCheckSeconds) * time.Second
}

func (c Config) RescheduleThreshold() time.Duration {
	return time.Duration(c.General.RescheduleThresholdSeconds) * time.Second
}

func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Permitium.TimeoutSeconds) * time.Second
}

func getenv(k, def string) string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	return v
}
