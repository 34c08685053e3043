package world

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
	"math"
	"sort"
)

// StateDigest recomputes the canonical digest for the current committed
// tick. Used by integrity checks against recorded snapshot hashes.
func (w *World) StateDigest() string {
	return w.stateDigest(w.tick.Load())
}

// stateDigest hashes the full canonical state for one tick. Maps are walked
// in sorted order and floats are hashed by bit pattern, so two states are
// digest-equal exactly when they are bit-identical.
func (w *World) stateDigest(tick uint64) string {
	h := sha256.New()
	var tmp [8]byte

	digestString(h, w.cfg.ID)
	digestU64(h, &tmp, tick)
	digestU64(h, &tmp, uint64(w.cfg.Seed))
	digestU64(h, &tmp, w.nextAgentNum)

	regionIDs := make([]string, 0, len(w.regions))
	for id := range w.regions {
		regionIDs = append(regionIDs, id)
	}
	sort.Strings(regionIDs)
	for _, id := range regionIDs {
		r := w.regions[id]
		digestString(h, r.ID)
		digestU64(h, &tmp, uint64(r.Capacity))
		digestU64(h, &tmp, uint64(r.Occupancy))
		w.digestPool(h, &tmp, r.Pool)
	}

	agentIDs := make([]string, 0, len(w.agents))
	for id := range w.agents {
		agentIDs = append(agentIDs, id)
	}
	sort.Strings(agentIDs)
	for _, id := range agentIDs {
		a := w.agents[id]
		digestString(h, a.ID)
		digestString(h, string(a.Status))
		digestString(h, a.Region)
		digestString(h, a.Owner)
		digestString(h, a.Parent)
		digestU64(h, &tmp, a.CreatedTick)
		digestU64(h, &tmp, a.LastActionTick)
		digestU64(h, &tmp, a.RetiredTick)
		w.digestPool(h, &tmp, a.Pool)
	}

	return hex.EncodeToString(h.Sum(nil))
}

func (w *World) digestPool(h hash.Hash, tmp *[8]byte, p Pool) {
	for _, res := range w.cats.Resources.Order {
		digestString(h, res)
		digestU64(h, tmp, math.Float64bits(p[res]))
	}
}

func digestU64(h hash.Hash, tmp *[8]byte, v uint64) {
	binary.LittleEndian.PutUint64(tmp[:], v)
	h.Write(tmp[:])
}

func digestString(h hash.Hash, s string) {
	var n [8]byte
	binary.LittleEndian.PutUint64(n[:], uint64(len(s)))
	h.Write(n[:])
	h.Write([]byte(s))
}
