package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apache/karaf-sub011/errors"
)

const sampleConfig = `
logging:
  level: debug
  format: json
runtime:
  enable_timeout: 10s
nats:
  url: nats://localhost:4222
  config_bucket: components
components:
  greeter:
    greeting: hi
    log:
      target: "(name=a)"
`

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_FileAndDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "scr.yaml", sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "DEBUG", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "stdout", cfg.Logging.Output)
	assert.Equal(t, 10*time.Second, cfg.Runtime.EnableTimeout)
	assert.Equal(t, 30*time.Second, cfg.Runtime.ShutdownTimeout)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.True(t, cfg.NATS.Enabled())
	assert.Equal(t, "components", cfg.NATS.ConfigBucket)
	assert.Equal(t, "scr.events", cfg.NATS.EventsSubject)

	props := cfg.ComponentProperties("greeter")
	assert.Equal(t, "hi", props["greeting"])
	assert.Equal(t, "(name=a)", props["log.target"])
	assert.Nil(t, cfg.ComponentProperties("unknown"))
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("SCR_LOGGING_LEVEL", "warn")
	t.Setenv("SCR_RUNTIME_SHUTDOWN_TIMEOUT", "5s")

	cfg, err := Load(writeConfig(t, "scr.yaml", sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "WARN", cfg.Logging.Level)
	assert.Equal(t, 5*time.Second, cfg.Runtime.ShutdownTimeout)
}

func TestLoad_NoFileUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, Default().Logging, cfg.Logging)
	assert.False(t, cfg.NATS.Enabled())
}

func TestLoad_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrConfigNotFound))
	})

	t.Run("unsupported extension", func(t *testing.T) {
		_, err := Load(writeConfig(t, "scr.txt", sampleConfig))
		require.Error(t, err)
		assert.True(t, errors.IsInvalid(err))
	})

	t.Run("invalid level", func(t *testing.T) {
		_, err := Load(writeConfig(t, "scr.yaml", "logging:\n  level: verbose\n"))
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrInvalidConfig))
	})

	t.Run("bad duration", func(t *testing.T) {
		_, err := Load(writeConfig(t, "scr.yaml", "runtime:\n  enable_timeout: soon\n"))
		require.Error(t, err)
	})
}

func TestSave_RoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Logging.Level = "ERROR"
	cfg.Runtime.EnableTimeout = 3 * time.Second
	cfg.Components = map[string]map[string]any{"greeter": {"greeting": "hey"}}

	path := filepath.Join(t.TempDir(), "nested", "out.yaml")
	require.NoError(t, Save(cfg, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "ERROR", loaded.Logging.Level)
	assert.Equal(t, 3*time.Second, loaded.Runtime.EnableTimeout)
	assert.Equal(t, "hey", loaded.ComponentProperties("greeter")["greeting"])
}

func TestFlattenProperties(t *testing.T) {
	got := flattenProperties(map[string]any{
		"a": 1,
		"b": map[string]any{"c": "x", "d": map[string]any{"e": true}},
	})

	assert.Equal(t, map[string]any{"a": 1, "b.c": "x", "b.d.e": true}, got)
}

func TestSafeConfig(t *testing.T) {
	sc := NewSafeConfig(nil)
	require.NotNil(t, sc.Get())

	bad := Default()
	bad.Logging.Format = "xml"
	require.Error(t, sc.Update(bad))
	require.Error(t, sc.Update(nil))

	good := Default()
	good.Logging.Level = "DEBUG"
	require.NoError(t, sc.Update(good))

	got := sc.Get()
	got.Logging.Level = "ERROR"
	assert.Equal(t, "DEBUG", sc.Get().Logging.Level, "Get must return a copy")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_ = sc.Update(Default())
			} else {
				_ = sc.Get()
			}
		}(i)
	}
	wg.Wait()
}

func TestNewLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scr.log")
	logger, closer, err := NewLogger(LoggingConfig{Level: "WARN", Format: "json", Output: path})
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("visible", "component", "greeter")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"visible"`)
	assert.NotContains(t, string(data), "hidden")

	_, closer, err = NewLogger(LoggingConfig{Output: "stderr"})
	require.NoError(t, err)
	assert.NoError(t, closer.Close())
}

func TestChangedComponents(t *testing.T) {
	prev := Default()
	prev.Components = map[string]map[string]any{
		"greeter":   {"greeting": "hi"},
		"announcer": {"interval": "10s"},
		"clock":     {"zone": "UTC"},
	}
	next := Default()
	next.Components = map[string]map[string]any{
		"greeter":   {"greeting": "hey"},
		"announcer": {"interval": "10s"},
		"store":     {"path": "/tmp"},
	}

	got := ChangedComponents(prev, next)
	assert.Equal(t, map[string]map[string]any{
		"greeter": {"greeting": "hey"},
		"store":   {"path": "/tmp"},
		"clock":   nil,
	}, got)
	assert.Empty(t, ChangedComponents(next, next.Clone()))
}
