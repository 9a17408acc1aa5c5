package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "floorcore.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Defaults(), cfg)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
factory_id: plant-7
scheduler:
  mode: discrete
  tick_interval: 50ms
  step: 10s
dispatch:
  max_attempts: 5
units:
  - id: press-1
    kind: machine
    capacity: 100
    cycle_duration: 60s
  - id: raw-store
    kind: warehouse
    capacity: 1000
messaging:
  backend: mqtt
  mqtt:
    broker: tcp://broker:1883
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "plant-7", cfg.FactoryID)
	assert.Equal(t, "discrete", cfg.Scheduler.Mode)
	assert.Equal(t, 50*time.Millisecond, cfg.Scheduler.TickInterval)
	assert.Equal(t, 10*time.Second, cfg.Scheduler.Step)
	assert.Equal(t, 5, cfg.Dispatch.MaxAttempts)
	require.Len(t, cfg.Units, 2)
	assert.Equal(t, UnitConfig{ID: "press-1", Kind: "machine", Capacity: 100, CycleDuration: time.Minute}, cfg.Units[0])
	assert.Equal(t, time.Duration(0), cfg.Units[1].CycleDuration)
	assert.Equal(t, "tcp://broker:1883", cfg.Messaging.MQTT.Broker)
	// untouched sections keep their defaults
	assert.Equal(t, "floorcore.orders", cfg.Messaging.OrdersTopic)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
}

func TestLoadRejectsInvalid(t *testing.T) {
	for name, body := range map[string]string{
		"bad mode":       "scheduler:\n  mode: warp\n",
		"bad kind":       "units:\n  - id: r1\n    kind: robot\n",
		"duplicate unit": "units:\n  - id: a\n    kind: machine\n  - id: a\n    kind: machine\n",
		"missing id":     "units:\n  - kind: machine\n",
		"bad driver":     "database:\n  driver: oracle\n",
		"bad backend":    "messaging:\n  backend: amqp\n",
		"zero attempts":  "dispatch:\n  max_attempts: 0\n",
		"not yaml":       "units: [",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	cfg := Defaults()
	cfg.Units = []UnitConfig{{ID: "m1", Kind: "machine", Capacity: 10, CycleDuration: 5 * time.Second}}
	path := filepath.Join(t.TempDir(), "out.yaml")
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}
