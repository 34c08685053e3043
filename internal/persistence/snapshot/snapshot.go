package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"
)

type Header struct {
	Version int    `json:"version"`
	WorldID string `json:"world_id"`
	Tick    uint64 `json:"tick"`
}

// SnapshotV1 is a full capture of world state at one committed tick, plus
// everything needed to resume or replay deterministically: the seed, the
// operational parameters, and the catalog digests that produced it.
// StateHash is the engine's state digest at the snapshot tick; replay
// verifies against it and a mismatch is a fatal integrity error.
type SnapshotV1 struct {
	Header Header `json:"header"`

	Seed               int64 `json:"seed"`
	TickIntervalMs     int   `json:"tick_interval_ms"`
	SnapshotEveryTicks int   `json:"snapshot_every_ticks,omitempty"`

	RegionsDigest   string `json:"regions_digest,omitempty"`
	ResourcesDigest string `json:"resources_digest,omitempty"`

	StateHash string `json:"state_hash"`

	Regions []RegionV1 `json:"regions"`
	Agents  []AgentV1  `json:"agents"`

	Counters CountersV1 `json:"counters"`
}

type CountersV1 struct {
	NextAgent    uint64 `json:"next_agent"`
	NextSequence uint64 `json:"next_sequence"`
}

// RegionV1 holds only the mutable region state; the immutable configuration
// comes from the region catalog on import.
type RegionV1 struct {
	ID   string             `json:"id"`
	Pool map[string]float64 `json:"pool"`
}

type AgentV1 struct {
	ID             string             `json:"id"`
	Name           string             `json:"name"`
	Status         string             `json:"status"`
	Region         string             `json:"region"`
	Resources      map[string]float64 `json:"resources"`
	Owner          string             `json:"owner,omitempty"`
	Parent         string             `json:"parent,omitempty"`
	CreatedTick    uint64             `json:"created_tick"`
	LastActionTick uint64             `json:"last_action_tick"`
	RetiredTick    uint64             `json:"retired_tick,omitempty"`
}

func Path(dir string, tick uint64) string {
	return filepath.Join(dir, fmt.Sprintf("snap-%012d.snap.zst", tick))
}

func WriteSnapshot(path string, snap SnapshotV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	defer enc.Close()

	bw := bufio.NewWriterSize(enc, 256*1024)
	defer bw.Flush()

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}

	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	return nil
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	// Header line is informational; gob carries the header too.
	_, _ = br.ReadBytes('\n')

	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	return snap, nil
}

// LatestAtOrBefore returns the path of the newest snapshot whose tick is at
// most target (target 0 means "any"). Empty string when none exists, which
// callers treat as "replay from genesis".
func LatestAtOrBefore(dir string, target uint64) (string, uint64, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", 0, nil
		}
		return "", 0, err
	}
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, "snap-") && strings.HasSuffix(name, ".snap.zst") {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var best string
	var bestTick uint64
	for _, name := range names {
		var tick uint64
		if _, err := fmt.Sscanf(name, "snap-%d.snap.zst", &tick); err != nil {
			continue
		}
		if target != 0 && tick > target {
			break
		}
		best, bestTick = filepath.Join(dir, name), tick
	}
	return best, bestTick, nil
}
