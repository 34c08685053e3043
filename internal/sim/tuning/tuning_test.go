package tuning

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "world.yaml")
	require.NoError(t, os.WriteFile(path, []byte("world_id: w9\nseed: 7\n"), 0o644))

	tune, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "w9", tune.WorldID)
	assert.Equal(t, int64(7), tune.Seed)
	assert.Greater(t, tune.TickIntervalMs, 0)
	assert.Greater(t, tune.QueueCapacity, 0)
}

func TestLoadOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "world.yaml")
	body := "world_id: w1\nseed: 1337\ntick_interval_ms: 250\nsnapshot_every_ticks: 10\nqueue_capacity: 32\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	tune, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 250, tune.TickIntervalMs)
	assert.Equal(t, 10, tune.SnapshotEveryTicks)
	assert.Equal(t, 32, tune.QueueCapacity)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
