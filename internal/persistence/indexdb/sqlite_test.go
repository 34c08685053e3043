package indexdb

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"observatory.world/internal/sim/world"
)

func testBatch(tick, firstSeq uint64) []world.Event {
	move := world.Event{Sequence: firstSeq, Tick: tick, Type: world.EvAgentMoved, AgentIDs: []string{"A000001"}}
	move.Payload.FromRegion = "nexus"
	move.Payload.ToRegion = "forge"

	tickEv := world.Event{Sequence: firstSeq + 1, Tick: tick, Type: world.EvTick}
	tickEv.Payload.Digest = "digest"
	tickEv.Payload.ActionsProcessed = 1
	tickEv.Payload.AgentsLive = 2
	return []world.Event{move, tickEv}
}

func TestIndexRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")

	idx, err := OpenSQLite(path)
	require.NoError(t, err)
	idx.WriteBatch(testBatch(1, 1))
	idx.WriteBatch(testBatch(2, 3))
	idx.WriteAudit(world.AuditEntry{Tick: 2, AgentID: "A000002", Action: world.ActionMove, Reject: "REGION_FULL"})
	// Close drains the writer goroutine and commits.
	require.NoError(t, idx.Close())

	idx, err = OpenSQLite(path)
	require.NoError(t, err)
	defer idx.Close()

	evs, err := idx.EventsByTick(1)
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.Equal(t, world.EvAgentMoved, evs[0].Type)
	assert.Equal(t, "forge", evs[0].Payload.ToRegion)

	byAgent, err := idx.EventsByAgent("A000001", 0, 10, 0)
	require.NoError(t, err)
	assert.Len(t, byAgent, 2)

	ticks, err := idx.TickSummaries(0, 10, 0)
	require.NoError(t, err)
	require.Len(t, ticks, 2)
	assert.Equal(t, 1, ticks[0].ActionsProcessed)
	assert.Equal(t, "digest", ticks[0].Digest)

	audits, err := idx.AuditsByAgent("A000002", 0)
	require.NoError(t, err)
	require.Len(t, audits, 1)
	assert.Equal(t, "REGION_FULL", audits[0].Code)
}

// Shutdown can land while the tick loop is still committing batches; a
// write racing Close must be dropped, never panic on a closed channel.
func TestWritesConcurrentWithCloseAreSafe(t *testing.T) {
	for i := 0; i < 20; i++ {
		idx, err := OpenSQLite(filepath.Join(t.TempDir(), "index.db"))
		require.NoError(t, err)

		done := make(chan struct{})
		go func() {
			defer close(done)
			for tick := uint64(1); tick <= 50; tick++ {
				idx.WriteBatch(testBatch(tick, tick*2-1))
				idx.WriteAudit(world.AuditEntry{Tick: tick, AgentID: "A000001", Action: world.ActionMove, Reject: "REGION_FULL"})
			}
		}()
		require.NoError(t, idx.Close())
		<-done

		// Writes after Close are silent no-ops.
		idx.WriteBatch(testBatch(99, 197))
		require.NoError(t, idx.Close())
	}
}

func TestSnapshotLookup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")
	idx, err := OpenSQLite(path)
	require.NoError(t, err)

	snap := world.ExportedSnapshot{}
	snap.Header.Tick = 120
	snap.Seed = 7
	snap.StateHash = "h"
	idx.RecordSnapshot("/data/snap-120.snap.zst", snap)
	require.NoError(t, idx.Close())

	idx, err = OpenSQLite(path)
	require.NoError(t, err)
	defer idx.Close()

	p, tick, err := idx.SnapshotAtOrBefore(200)
	require.NoError(t, err)
	assert.Equal(t, uint64(120), tick)
	assert.Equal(t, "/data/snap-120.snap.zst", p)

	p, tick, err = idx.SnapshotAtOrBefore(100)
	require.NoError(t, err)
	assert.Empty(t, p)
	assert.Zero(t, tick)
}
