package replay

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"observatory.world/internal/persistence/ledger"
	"observatory.world/internal/persistence/snapshot"
	"observatory.world/internal/sim/catalogs"
	"observatory.world/internal/sim/world"
)

const testRegions = `
spawn_region: hub
regions:
  - id: hub
    name: Hub
    x: 0.0
    y: 0.0
    resource_multiplier: 1.0
    danger_level: 0.0
    capacity: 8
    pool:
      energy: 1000.0
      memory: 2000.0
`

const testResources = `
resources:
  energy:
    cap: 100.0
    regen: 0.0
    initial: 50.0
  memory:
    cap: 200.0
    regen: 0.0
    initial: 100.0
action_costs:
  TRADE:
    energy: 2.0
  OBSERVE:
    energy: 1.0
rules:
  danger_drain_rate: 5.0
`

func setup(t *testing.T) (world.Config, *catalogs.Catalogs, string, string) {
	t.Helper()
	dir := t.TempDir()
	cfgDir := filepath.Join(dir, "configs")
	require.NoError(t, os.MkdirAll(cfgDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(cfgDir, "regions.yaml"), []byte(testRegions), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(cfgDir, "resources.yaml"), []byte(testResources), 0o644))
	cats, err := catalogs.Load(cfgDir)
	require.NoError(t, err)

	cfg := world.Config{ID: "test", Seed: 42, TickIntervalMs: 100, QueueCapacity: 64}
	return cfg, cats, filepath.Join(dir, "ledger"), filepath.Join(dir, "snapshots")
}

// runLive drives a live world for a few ticks against a real ledger
// writer, snapshotting at snapTick, and returns the per-tick digests.
func runLive(t *testing.T, cfg world.Config, cats *catalogs.Catalogs, ledgerDir, snapDir string, ticks int, snapTick uint64) []string {
	t.Helper()
	w, err := world.New(cfg, cats)
	require.NoError(t, err)
	lw := ledger.NewWriter(ledgerDir, 0)
	defer lw.Close()
	w.SetLedger(lw)

	resp := make(chan world.RegisterResponse, 1)
	_, _, err = w.StepOnce([]world.RegisterRequest{{Name: "a", Resp: resp}}, nil)
	require.NoError(t, err)
	reg := <-resp

	var digests []string
	for i := 1; i < ticks; i++ {
		var acts []world.Action
		switch i {
		case 1:
			acts = []world.Action{{Type: world.ActionClaim, AgentID: reg.AgentID, Owner: "o"}}
		case 2:
			acts = []world.Action{{Type: world.ActionTrade, AgentID: reg.AgentID, Resource: "memory", Amount: 5, ToRegionPool: true}}
		}
		_, d, err := w.StepOnce(nil, acts)
		require.NoError(t, err)
		digests = append(digests, d)
		if w.CurrentTick() == snapTick {
			snap := w.ExportSnapshot(snapTick)
			require.NoError(t, snapshot.WriteSnapshot(snapshot.Path(snapDir, snapTick), snap))
		}
	}
	return digests
}

func TestStateAtFromGenesis(t *testing.T) {
	cfg, cats, ledgerDir, snapDir := setup(t)
	digests := runLive(t, cfg, cats, ledgerDir, snapDir, 6, 0)

	eng := New(cfg, cats, ledgerDir, snapDir)
	w, err := eng.StateAt(3)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), w.CurrentTick())
	assert.Equal(t, digests[1], w.StateDigest())
}

func TestStateAtUsesSnapshot(t *testing.T) {
	cfg, cats, ledgerDir, snapDir := setup(t)
	digests := runLive(t, cfg, cats, ledgerDir, snapDir, 6, 3)

	eng := New(cfg, cats, ledgerDir, snapDir)
	w, err := eng.StateAt(5)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), w.CurrentTick())
	assert.Equal(t, digests[3], w.StateDigest())
}

func TestVerifyAllAndLatest(t *testing.T) {
	cfg, cats, ledgerDir, snapDir := setup(t)
	digests := runLive(t, cfg, cats, ledgerDir, snapDir, 6, 0)

	eng := New(cfg, cats, ledgerDir, snapDir)
	last, err := eng.VerifyAll()
	require.NoError(t, err)
	assert.Equal(t, uint64(6), last)

	w, err := eng.Latest()
	require.NoError(t, err)
	assert.Equal(t, uint64(6), w.CurrentTick())
	assert.Equal(t, digests[len(digests)-1], w.StateDigest())
}

func TestStateAtBeyondLedgerFails(t *testing.T) {
	cfg, cats, ledgerDir, snapDir := setup(t)
	runLive(t, cfg, cats, ledgerDir, snapDir, 4, 0)

	eng := New(cfg, cats, ledgerDir, snapDir)
	_, err := eng.StateAt(50)
	assert.Error(t, err)
}
