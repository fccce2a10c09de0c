// Package config loads process settings from the environment, an optional
// .env file and command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // TIMEZONE must resolve in minimal containers

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	DriverAfricasTalking = "africastalking"
	DriverConsole        = "console"
)

type SMS struct {
	Driver        string
	APIKey        string
	Username      string
	SenderID      string
	Timeout       time.Duration
	RatePerSecond float64
}

type Config struct {
	HTTPAddr string
	DBPath   string
	Location *time.Location

	Tick               time.Duration
	Tolerance          time.Duration // 0 follows Tick
	AlertIntervals     []int
	AutostartScheduler bool

	SMS SMS

	CORSAllowOrigins []string
	LogLevel         string
	LogFormat        string // console or json
}

// New returns a viper instance with defaults set and environment lookup on.
// Keys are the environment variable names.
func New() *viper.Viper {
	v := viper.New()
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("DB_PATH", "timetabled.db")
	v.SetDefault("TIMEZONE", "Africa/Nairobi")
	v.SetDefault("TICK_INTERVAL", 60*time.Second)
	v.SetDefault("ALERT_TOLERANCE", time.Duration(0))
	v.SetDefault("ALERT_INTERVALS", "120,30,5")
	v.SetDefault("AUTOSTART_SCHEDULER", true)
	v.SetDefault("SMS_DRIVER", DriverAfricasTalking)
	v.SetDefault("AFRICASTALKING_USERNAME", "sandbox")
	v.SetDefault("SMS_TIMEOUT", 30*time.Second)
	v.SetDefault("SMS_RATE_PER_SECOND", 0.0)
	v.SetDefault("CORS_ALLOW_ORIGINS", "*")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "console")
	v.AutomaticEnv()
	return v
}

// LoadDotEnv loads path into the process environment if it exists. Variables
// already set win.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: stat %s: %w", path, err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("config: load %s: %w", path, err)
	}
	return nil
}

// Load reads every setting out of v.
func Load(v *viper.Viper) (*Config, error) {
	loc, err := time.LoadLocation(v.GetString("TIMEZONE"))
	if err != nil {
		return nil, fmt.Errorf("config: TIMEZONE: %w", err)
	}
	intervals, err := ParseIntervals(v.GetString("ALERT_INTERVALS"))
	if err != nil {
		return nil, fmt.Errorf("config: ALERT_INTERVALS: %w", err)
	}

	cfg := &Config{
		HTTPAddr:           v.GetString("HTTP_ADDR"),
		DBPath:             v.GetString("DB_PATH"),
		Location:           loc,
		Tick:               v.GetDuration("TICK_INTERVAL"),
		Tolerance:          v.GetDuration("ALERT_TOLERANCE"),
		AlertIntervals:     intervals,
		AutostartScheduler: v.GetBool("AUTOSTART_SCHEDULER"),
		SMS: SMS{
			Driver:        strings.ToLower(strings.TrimSpace(v.GetString("SMS_DRIVER"))),
			APIKey:        v.GetString("AFRICASTALKING_API_KEY"),
			Username:      v.GetString("AFRICASTALKING_USERNAME"),
			SenderID:      v.GetString("AFRICASTALKING_SENDER_ID"),
			Timeout:       v.GetDuration("SMS_TIMEOUT"),
			RatePerSecond: v.GetFloat64("SMS_RATE_PER_SECOND"),
		},
		CORSAllowOrigins: splitList(v.GetString("CORS_ALLOW_ORIGINS")),
		LogLevel:         v.GetString("LOG_LEVEL"),
		LogFormat:        v.GetString("LOG_FORMAT"),
	}

	if cfg.Tick <= 0 {
		return nil, fmt.Errorf("config: TICK_INTERVAL must be positive, got %s", cfg.Tick)
	}
	if cfg.Tolerance < 0 {
		return nil, fmt.Errorf("config: ALERT_TOLERANCE must not be negative, got %s", cfg.Tolerance)
	}
	switch cfg.SMS.Driver {
	case DriverAfricasTalking, DriverConsole:
	default:
		return nil, fmt.Errorf("config: unknown SMS_DRIVER %q", cfg.SMS.Driver)
	}
	return cfg, nil
}

// ParseIntervals parses a comma-separated list of lead minutes such as "120,30,5".
func ParseIntervals(s string) ([]int, error) {
	parts := splitList(s)
	if len(parts) == 0 {
		return nil, errors.New("no intervals given")
	}
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("interval %q: %w", p, err)
		}
		if n <= 0 {
			return nil, fmt.Errorf("interval %d must be positive", n)
		}
		out = append(out, n)
	}
	return out, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
