package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	yaml "go.yaml.in/yaml/v3"
)

// Config is the daemon configuration. Durations are Go duration strings
// (e.g. "500ms", "30s", "1m").
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Storage   StorageConfig   `yaml:"storage"`
	Logging   LoggingConfig   `yaml:"logging"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Worker    WorkerConfig    `yaml:"worker"`
	Channels  ChannelsConfig  `yaml:"channels"`
}

type HTTPConfig struct {
	Addr  string `yaml:"addr"`
	Pprof bool   `yaml:"pprof"`
}

type StorageConfig struct {
	Path        string `yaml:"path"`
	BusyTimeout string `yaml:"busy_timeout"`
}

type LoggingConfig struct {
	Level   string `yaml:"level"`
	Console bool   `yaml:"console"`
}

// SchedulerConfig controls how fire instants are computed and reconciled.
//
// Defaults:
//   - timezone: UTC
//   - sweep_interval: 1m ("0s" disables the sweep)
//   - persist_timeout: 5s
type SchedulerConfig struct {
	Timezone       string `yaml:"timezone"`
	SweepInterval  string `yaml:"sweep_interval"`
	PersistTimeout string `yaml:"persist_timeout"`
}

type WorkerConfig struct {
	Size       int     `yaml:"size"`
	RatePerSec float64 `yaml:"rate_per_sec"`
	Timeout    string  `yaml:"timeout"`
}

type ChannelsConfig struct {
	Email *WebhookConfig `yaml:"email,omitempty"`
	SMS   *WebhookConfig `yaml:"sms,omitempty"`
	Push  *RedisConfig   `yaml:"push,omitempty"`
}

type WebhookConfig struct {
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout string            `yaml:"timeout"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Key      string `yaml:"key"`
}

func Default() Config {
	return Config{
		HTTP:      HTTPConfig{Addr: ":8080"},
		Storage:   StorageConfig{Path: "dispatchd.db", BusyTimeout: "5s"},
		Logging:   LoggingConfig{Level: "info", Console: true},
		Scheduler: SchedulerConfig{Timezone: "UTC", SweepInterval: "1m", PersistTimeout: "5s"},
		Worker:    WorkerConfig{Size: 8, Timeout: "30s"},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) == "" {
		return cfg, cfg.Validate()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("yaml unmarshal: %w", err)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Storage.Path) == "" {
		errs = append(errs, errors.New("storage.path is required"))
	}
	if c.Worker.Size < 0 {
		errs = append(errs, errors.New("worker.size must be >= 0"))
	}
	if c.Worker.RatePerSec < 0 {
		errs = append(errs, errors.New("worker.rate_per_sec must be >= 0"))
	}
	for path, raw := range map[string]string{
		"storage.busy_timeout":      c.Storage.BusyTimeout,
		"scheduler.sweep_interval":  c.Scheduler.SweepInterval,
		"scheduler.persist_timeout": c.Scheduler.PersistTimeout,
		"worker.timeout":            c.Worker.Timeout,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}
	for name, wh := range map[string]*WebhookConfig{"email": c.Channels.Email, "sms": c.Channels.SMS} {
		if wh == nil {
			continue
		}
		if strings.TrimSpace(wh.URL) == "" {
			errs = append(errs, fmt.Errorf("channels.%s.url is required", name))
		}
		if _, err := ParseDurationField("channels."+name+".timeout", wh.Timeout); err != nil {
			errs = append(errs, err)
		}
	}
	if p := c.Channels.Push; p != nil && strings.TrimSpace(p.Addr) == "" {
		errs = append(errs, errors.New("channels.push.addr is required"))
	}
	return errors.Join(errs...)
}

func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// Duration parses raw, falling back to def when it is empty or zero.
// Call Validate first; invalid values also fall back to def.
func Duration(raw string, def time.Duration) time.Duration {
	d, err := ParseDurationField("", raw)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
