package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config keeps runtime settings for the API server and the bot.
type Config struct {
	TelegramToken string `env:"TELEGRAM_TOKEN"`
	WebAppURL     string `env:"WEBAPP_URL"`
	LogLevel      string `env:"LOG_LEVEL" env-default:"info"`

	DB   DBConfig
	HTTP HTTPConfig

	// MaintenanceInterval is how often the store is checkpointed. Zero disables the job.
	MaintenanceInterval Duration `env:"MAINTENANCE_INTERVAL" env-default:"1h"`
}

type DBConfig struct {
	DSN         string   `env:"DATABASE_URL" env-default:"todos.db"`
	BusyTimeout Duration `env:"DB_BUSY_TIMEOUT" env-default:"5s"`
}

type HTTPConfig struct {
	Addr         string   `env:"HTTP_ADDR" env-default:"0.0.0.0:8000"`
	Mode         string   `env:"GIN_MODE" env-default:"release"`
	ReadTimeout  Duration `env:"HTTP_READ_TIMEOUT" env-default:"10s"`
	WriteTimeout Duration `env:"HTTP_WRITE_TIMEOUT" env-default:"10s"`
	IdleTimeout  Duration `env:"HTTP_IDLE_TIMEOUT" env-default:"60s"`
}

// Duration parses env values like "10s", "5m" or a bare number of seconds.
type Duration time.Duration

// SetValue implements cleanenv.Setter.
func (d *Duration) SetValue(raw string) error {
	v, err := parseDuration(raw)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }

// Load reads configuration from environment variables with sane defaults.
func Load() (Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("read env: %w", err)
	}

	cfg.TelegramToken = strings.TrimSpace(cfg.TelegramToken)
	cfg.WebAppURL = strings.TrimSpace(cfg.WebAppURL)

	if cfg.TelegramToken == "" {
		return cfg, fmt.Errorf("TELEGRAM_TOKEN is required")
	}
	if cfg.WebAppURL == "" {
		return cfg, fmt.Errorf("WEBAPP_URL is required")
	}
	if err := validateWebAppURL(cfg.WebAppURL); err != nil {
		return cfg, fmt.Errorf("WEBAPP_URL: %w", err)
	}

	return cfg, nil
}

func validateWebAppURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}

func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && ((s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'')) {
		s = s[1 : len(s)-1]
	}
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("duration must not be negative")
		}
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("duration must be like 10s, 5m or a number of seconds: %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("duration must not be negative")
	}
	return d, nil
}
