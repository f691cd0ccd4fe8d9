package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"slotsched/internal/eventbus"
	"slotsched/pkg/logx"
)

// Sink is where execution events leave the process. It matches
// handler.Publisher so a sink can be handed straight to the builtin
// handlers.
type Sink interface {
	Publish(ctx context.Context, topic string, payload map[string]any) error
}

// BusSink publishes onto the in-process event bus.
type BusSink struct {
	bus eventbus.Bus
}

func NewBusSink(bus eventbus.Bus) *BusSink {
	return &BusSink{bus: bus}
}

func (s *BusSink) Publish(_ context.Context, topic string, payload map[string]any) error {
	s.bus.Publish(eventbus.Event{Topic: topic, Time: time.Now(), Payload: payload})
	return nil
}

// WebhookSink POSTs every event as JSON to a fixed URL. The topic rides in
// the body and in X-Event-Topic so plain receivers can route without
// parsing.
type WebhookSink struct {
	url    string
	client *http.Client
}

func NewWebhookSink(url string, timeout time.Duration) *WebhookSink {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookSink{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

func (s *WebhookSink) Publish(ctx context.Context, topic string, payload map[string]any) error {
	body, err := json.Marshal(map[string]any{
		"topic":   topic,
		"payload": payload,
	})
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Topic", topic)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post event: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook %s: status %d", s.url, resp.StatusCode)
	}
	return nil
}

// LogSink writes events to the log. Useful as a default when no external
// destination is configured.
type LogSink struct {
	log logx.Logger
}

func NewLogSink(log logx.Logger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Publish(_ context.Context, topic string, payload map[string]any) error {
	s.log.Info("event", logx.String("topic", topic), logx.Any("payload", payload))
	return nil
}
