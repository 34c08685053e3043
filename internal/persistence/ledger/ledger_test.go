package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"observatory.world/internal/sim/world"
)

func batch(tick, firstSeq uint64, types ...world.EventType) []world.Event {
	out := make([]world.Event, 0, len(types))
	for i, typ := range types {
		ev := world.Event{Sequence: firstSeq + uint64(i), Tick: tick, Type: typ}
		if typ == world.EvTick {
			ev.Payload.Digest = "d"
		}
		out = append(out, ev)
	}
	return out
}

func TestWriterReaderRoundTrip(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, 0)

	require.NoError(t, w.Append(batch(1, 1, world.EvAgentRegistered, world.EvTick)))
	require.NoError(t, w.Append(batch(2, 3, world.EvAgentClaimed, world.EvAgentMoved, world.EvTick)))
	require.NoError(t, w.Append(batch(3, 6, world.EvTick)))
	require.NoError(t, w.Close())

	var ticks []uint64
	var counts []int
	require.NoError(t, ScanTicks(dir, func(tick uint64, events []world.Event) error {
		ticks = append(ticks, tick)
		counts = append(counts, len(events))
		return nil
	}))
	assert.Equal(t, []uint64{1, 2, 3}, ticks)
	assert.Equal(t, []int{2, 3, 1}, counts)

	lastTick, lastSeq, err := Tail(dir)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), lastTick)
	assert.Equal(t, uint64(6), lastSeq)
}

func TestWriterRejectsSequenceGap(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, 0)
	defer w.Close()

	require.NoError(t, w.Append(batch(1, 1, world.EvTick)))
	// Sequence 3 after 1 is a gap; the writer must refuse the whole batch.
	err := w.Append(batch(2, 3, world.EvTick))
	assert.Error(t, err)
}

func TestWriterResumesFromLastSequence(t *testing.T) {
	dir := t.TempDir()
	w1 := NewWriter(dir, 0)
	require.NoError(t, w1.Append(batch(1, 1, world.EvAgentRegistered, world.EvTick)))
	require.NoError(t, w1.Close())

	_, lastSeq, err := Tail(dir)
	require.NoError(t, err)

	w2 := NewWriter(dir, lastSeq)
	require.NoError(t, w2.Append(batch(2, lastSeq+1, world.EvTick)))
	require.NoError(t, w2.Close())

	lastTick, lastSeq2, err := Tail(dir)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), lastTick)
	assert.Equal(t, lastSeq+1, lastSeq2)
}

// A crash can leave action events on disk without their closing TICK.
// The scan must discard that trailing batch: the tick never committed.
func TestScanDiscardsIncompleteTrailingBatch(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, 0)
	require.NoError(t, w.Append(batch(1, 1, world.EvAgentRegistered, world.EvTick)))
	require.NoError(t, w.Close())

	// Hand-write a later segment holding half a batch.
	writeRawSegment(t, dir, 3, batch(2, 3, world.EvAgentClaimed, world.EvAgentMoved))

	var ticks []uint64
	require.NoError(t, ScanTicks(dir, func(tick uint64, events []world.Event) error {
		ticks = append(ticks, tick)
		return nil
	}))
	assert.Equal(t, []uint64{1}, ticks)

	lastTick, lastSeq, err := Tail(dir)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), lastTick)
	assert.Equal(t, uint64(2), lastSeq)
}

// After a crash the restarted writer reissues the torn batch's sequence
// numbers in a fresh segment; the scan must take the rewrite and drop the
// torn copy.
func TestScanSupersedesTornBatchOnRestart(t *testing.T) {
	dir := t.TempDir()

	// One segment with a committed batch followed by a torn tail.
	events := batch(1, 1, world.EvAgentRegistered, world.EvTick)
	events = append(events, batch(2, 3, world.EvAgentClaimed, world.EvAgentMoved)...)
	writeRawSegment(t, dir, 1, events)

	_, lastSeq, err := Tail(dir)
	require.NoError(t, err)
	require.Equal(t, uint64(2), lastSeq)

	w := NewWriter(dir, lastSeq)
	require.NoError(t, w.Append(batch(2, 3, world.EvAgentMoved, world.EvTick)))
	require.NoError(t, w.Close())

	var ticks []uint64
	var counts []int
	require.NoError(t, ScanTicks(dir, func(tick uint64, events []world.Event) error {
		ticks = append(ticks, tick)
		counts = append(counts, len(events))
		return nil
	}))
	assert.Equal(t, []uint64{1, 2}, ticks)
	assert.Equal(t, []int{2, 2}, counts)
}

func writeRawSegment(t *testing.T, dir string, firstSeq uint64, events []world.Event) {
	t.Helper()
	path := filepath.Join(dir, "ledger-"+fmt.Sprintf("%016d", firstSeq)+".jsonl.zst")
	f, err := os.Create(path)
	require.NoError(t, err)
	enc, err := zstd.NewWriter(f)
	require.NoError(t, err)
	for _, ev := range events {
		b, merr := json.Marshal(ev)
		require.NoError(t, merr)
		_, _ = enc.Write(append(b, '\n'))
	}
	require.NoError(t, enc.Close())
	require.NoError(t, f.Close())
}

func TestAuditLoggerWritesStream(t *testing.T) {
	dir := t.TempDir()
	a, err := NewAuditLogger(dir)
	require.NoError(t, err)

	require.NoError(t, a.WriteAudit(world.AuditEntry{Tick: 4, AgentID: "A000001", Action: world.ActionMove, Reject: "REGION_FULL"}))
	require.NoError(t, a.Close())

	ents, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, ents, 1)
	assert.Contains(t, ents[0].Name(), "audit-")
	assert.Contains(t, ents[0].Name(), ".jsonl.zst")

	f, err := os.Open(filepath.Join(dir, ents[0].Name()))
	require.NoError(t, err)
	defer f.Close()
	dec, err := zstd.NewReader(f)
	require.NoError(t, err)
	defer dec.Close()

	var entry world.AuditEntry
	require.NoError(t, json.NewDecoder(dec).Decode(&entry))
	assert.Equal(t, uint64(4), entry.Tick)
	assert.Equal(t, "REGION_FULL", entry.Reject)
}
