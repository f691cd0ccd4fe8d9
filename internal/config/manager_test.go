package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slotsched/pkg/logx"
)

const sampleYAML = `
log:
  level: debug
  console: true
http:
  addr: ":9090"
  read_timeout: 5s
store:
  driver: sqlite
  dsn: ":memory:"
trigger:
  workers: 8
  poll_interval: 30s
sink:
  kind: webhook
  webhook_url: "http://localhost:9999/events"
  timeout: 3s
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadYAML(t *testing.T) {
	m := NewManager(writeConfig(t, sampleYAML), logx.Nop())
	cfg, err := m.Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, ":9090", cfg.HTTPServer().Addr)
	assert.Equal(t, 5*time.Second, cfg.HTTPServer().ReadTimeout)
	assert.Equal(t, ":memory:", cfg.StoreConfig().DSN)
	assert.Equal(t, 8, cfg.TriggerConfig().Workers)
	assert.Equal(t, 30*time.Second, cfg.TriggerConfig().PollInterval)
	assert.Equal(t, SinkWebhook, cfg.SinkKind())
	assert.Equal(t, 3*time.Second, cfg.SinkTimeout())
	assert.Same(t, cfg, m.Get())
}

func TestLoadRejectsUnknownField(t *testing.T) {
	m := NewManager(writeConfig(t, "store:\n  dsn: x\n  bogus: 1\n"), logx.Nop())
	_, err := m.Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"missingDSN", "log:\n  level: info\n"},
		{"badSinkKind", "store:\n  dsn: x\nsink:\n  kind: kafka\n"},
		{"webhookWithoutURL", "store:\n  dsn: x\nsink:\n  kind: webhook\n"},
		{"badDuration", "store:\n  dsn: x\ntrigger:\n  poll_interval: soon\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := NewManager(writeConfig(t, tc.yaml), logx.Nop())
			_, err := m.Load()
			assert.Error(t, err)
		})
	}
}

func TestSinkDefaults(t *testing.T) {
	m := NewManager(writeConfig(t, "store:\n  dsn: x\n"), logx.Nop())
	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, SinkBus, cfg.SinkKind())
	assert.Equal(t, 10*time.Second, cfg.SinkTimeout())
}

func TestReloadPublishes(t *testing.T) {
	path := writeConfig(t, sampleYAML)
	m := NewManager(path, logx.Nop())
	_, err := m.Load()
	require.NoError(t, err)

	updates := m.Subscribe()

	// Unchanged content does not publish.
	m.reload(context.Background())
	select {
	case <-updates:
		t.Fatal("unexpected publish for unchanged config")
	case <-time.After(50 * time.Millisecond):
	}

	changed := sampleYAML + "\n# bump\n"
	require.NoError(t, os.WriteFile(path, []byte(changed), 0o644))
	m.reload(context.Background())
	select {
	case <-updates:
		t.Fatal("comment-only change must hash identically and not publish")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, os.WriteFile(path, []byte(`
log:
  level: warn
store:
  dsn: ":memory:"
`), 0o644))
	m.reload(context.Background())
	select {
	case cfg := <-updates:
		assert.Equal(t, "warn", cfg.Log.Level)
	case <-time.After(time.Second):
		t.Fatal("no update published")
	}

	// Invalid content is rejected and the last good config stays.
	require.NoError(t, os.WriteFile(path, []byte("sink:\n  kind: kafka\n"), 0o644))
	m.reload(context.Background())
	assert.Equal(t, "warn", m.Get().Log.Level)
}
