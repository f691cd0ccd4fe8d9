// Package config loads the service configuration from a YAML (or JSON)
// file, validates it, and watches the file for changes so the log level and
// dispatcher settings can be applied without a restart.
package config

import (
	"fmt"
	"strings"
	"time"

	"slotsched/internal/httpapi"
	"slotsched/internal/store"
	"slotsched/internal/trigger"
	"slotsched/pkg/logx"
)

// Config is the on-disk shape. Duration fields are strings ("30s", "5m")
// parsed during Normalize.
type Config struct {
	Log     logx.Config   `json:"log"`
	HTTP    HTTPConfig    `json:"http"`
	Store   StoreConfig   `json:"store"`
	Trigger TriggerConfig `json:"trigger"`
	Sink    SinkConfig    `json:"sink"`
}

type HTTPConfig struct {
	Addr            string `json:"addr"`
	ReadTimeout     string `json:"read_timeout"`
	WriteTimeout    string `json:"write_timeout"`
	ShutdownTimeout string `json:"shutdown_timeout"`
}

type StoreConfig struct {
	Driver      string `json:"driver"`
	DSN         string `json:"dsn"`
	BusyTimeout string `json:"busy_timeout"`
}

type TriggerConfig struct {
	Workers      int    `json:"workers"`
	QueueSize    int    `json:"queue_size"`
	PollInterval string `json:"poll_interval"`
	BatchSize    int    `json:"batch_size"`
}

// SinkConfig selects where execution events go: the in-process bus, an
// HTTP webhook, or the log.
type SinkConfig struct {
	Kind       string `json:"kind"`
	WebhookURL string `json:"webhook_url"`
	Timeout    string `json:"timeout"`
}

const (
	SinkBus     = "bus"
	SinkWebhook = "webhook"
	SinkLog     = "log"
)

// Validate rejects configs that cannot produce a working service. Called
// on initial load and before a hot-reload commit.
func (c *Config) Validate() error {
	if c.Store.DSN == "" {
		return fmt.Errorf("store.dsn is required")
	}
	switch strings.ToLower(c.Sink.Kind) {
	case "", SinkBus, SinkLog:
	case SinkWebhook:
		if c.Sink.WebhookURL == "" {
			return fmt.Errorf("sink.webhook_url is required for the webhook sink")
		}
	default:
		return fmt.Errorf("sink.kind %q unknown (want bus, webhook, or log)", c.Sink.Kind)
	}
	for path, raw := range map[string]string{
		"http.read_timeout":     c.HTTP.ReadTimeout,
		"http.write_timeout":    c.HTTP.WriteTimeout,
		"http.shutdown_timeout": c.HTTP.ShutdownTimeout,
		"store.busy_timeout":    c.Store.BusyTimeout,
		"trigger.poll_interval": c.Trigger.PollInterval,
		"sink.timeout":          c.Sink.Timeout,
	} {
		if _, err := parseDurationField(path, raw); err != nil {
			return err
		}
	}
	return nil
}

// HTTPServer resolves the typed HTTP config; durations already validated.
func (c *Config) HTTPServer() httpapi.Config {
	return httpapi.Config{
		Addr:            c.HTTP.Addr,
		ReadTimeout:     durationOr(c.HTTP.ReadTimeout, 0),
		WriteTimeout:    durationOr(c.HTTP.WriteTimeout, 0),
		ShutdownTimeout: durationOr(c.HTTP.ShutdownTimeout, 0),
	}
}

func (c *Config) StoreConfig() store.Config {
	return store.Config{
		Driver:      c.Store.Driver,
		DSN:         c.Store.DSN,
		BusyTimeout: durationOr(c.Store.BusyTimeout, 0),
	}
}

func (c *Config) TriggerConfig() trigger.Config {
	return trigger.Config{
		Workers:      c.Trigger.Workers,
		QueueSize:    c.Trigger.QueueSize,
		PollInterval: durationOr(c.Trigger.PollInterval, 0),
		BatchSize:    c.Trigger.BatchSize,
	}
}

func (c *Config) SinkKind() string {
	kind := strings.ToLower(c.Sink.Kind)
	if kind == "" {
		kind = SinkBus
	}
	return kind
}

func (c *Config) SinkTimeout() time.Duration {
	return durationOr(c.Sink.Timeout, 10*time.Second)
}

func parseDurationField(path, raw string) (time.Duration, error) {
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

func durationOr(raw string, def time.Duration) time.Duration {
	d, err := parseDurationField("", raw)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
