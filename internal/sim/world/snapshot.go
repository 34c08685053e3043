package world

import (
	"fmt"
	"sort"

	"observatory.world/internal/persistence/snapshot"
	"observatory.world/internal/sim/catalogs"
)

// ExportedSnapshot aliases the persisted snapshot form so callers wire the
// snapshot sink without importing the persistence package themselves.
type ExportedSnapshot = snapshot.SnapshotV1

// ExportSnapshot captures the full state at the given committed tick.
// Called only from the tick loop.
func (w *World) ExportSnapshot(tick uint64) snapshot.SnapshotV1 {
	snap := snapshot.SnapshotV1{
		Header: snapshot.Header{
			Version: 1,
			WorldID: w.cfg.ID,
			Tick:    tick,
		},
		Seed:               w.cfg.Seed,
		TickIntervalMs:     w.cfg.TickIntervalMs,
		SnapshotEveryTicks: w.cfg.SnapshotEveryTicks,
		RegionsDigest:      w.cats.Regions.Digest,
		ResourcesDigest:    w.cats.Resources.Digest,
		StateHash:          w.stateDigest(tick),
		Counters: snapshot.CountersV1{
			NextAgent:    w.nextAgentNum,
			NextSequence: w.nextSeq,
		},
	}

	regionIDs := make([]string, 0, len(w.regions))
	for id := range w.regions {
		regionIDs = append(regionIDs, id)
	}
	sort.Strings(regionIDs)
	for _, id := range regionIDs {
		r := w.regions[id]
		snap.Regions = append(snap.Regions, snapshot.RegionV1{
			ID:   r.ID,
			Pool: r.Pool.Clone(),
		})
	}

	agentIDs := make([]string, 0, len(w.agents))
	for id := range w.agents {
		agentIDs = append(agentIDs, id)
	}
	sort.Strings(agentIDs)
	for _, id := range agentIDs {
		a := w.agents[id]
		snap.Agents = append(snap.Agents, snapshot.AgentV1{
			ID:             a.ID,
			Name:           a.Name,
			Status:         string(a.Status),
			Region:         a.Region,
			Resources:      a.Pool.Clone(),
			Owner:          a.Owner,
			Parent:         a.Parent,
			CreatedTick:    a.CreatedTick,
			LastActionTick: a.LastActionTick,
			RetiredTick:    a.RetiredTick,
		})
	}
	return snap
}

// ImportSnapshot restores state from a snapshot into a freshly constructed
// world. The restored digest must match the recorded StateHash; a mismatch
// is an integrity failure and is never papered over.
func (w *World) ImportSnapshot(snap snapshot.SnapshotV1) error {
	if snap.Header.WorldID != w.cfg.ID {
		return fmt.Errorf("snapshot world %q does not match %q", snap.Header.WorldID, w.cfg.ID)
	}
	if snap.RegionsDigest != "" && snap.RegionsDigest != w.cats.Regions.Digest {
		return fmt.Errorf("snapshot regions catalog digest mismatch")
	}
	if snap.ResourcesDigest != "" && snap.ResourcesDigest != w.cats.Resources.Digest {
		return fmt.Errorf("snapshot resources catalog digest mismatch")
	}

	for _, rs := range snap.Regions {
		r := w.regions[rs.ID]
		if r == nil {
			return fmt.Errorf("snapshot region %q not in catalog", rs.ID)
		}
		r.Pool = poolFromMap(rs.Pool)
		r.Occupancy = 0
	}

	w.agents = make(map[string]*Agent, len(snap.Agents))
	for _, as := range snap.Agents {
		a := &Agent{
			ID:             as.ID,
			Name:           as.Name,
			Status:         Status(as.Status),
			Region:         as.Region,
			Pool:           poolFromMap(as.Resources),
			Owner:          as.Owner,
			Parent:         as.Parent,
			CreatedTick:    as.CreatedTick,
			LastActionTick: as.LastActionTick,
			RetiredTick:    as.RetiredTick,
		}
		w.agents[a.ID] = a
		if a.Status.Live() {
			region := w.regions[a.Region]
			if region == nil {
				return fmt.Errorf("snapshot agent %q in unknown region %q", a.ID, a.Region)
			}
			region.Occupancy++
		}
	}

	w.nextAgentNum = snap.Counters.NextAgent
	w.nextSeq = snap.Counters.NextSequence
	if w.nextSeq == 0 {
		w.nextSeq = 1
	}
	w.tick.Store(snap.Header.Tick)

	if snap.StateHash != "" {
		if got := w.stateDigest(snap.Header.Tick); got != snap.StateHash {
			return &IntegrityError{Tick: snap.Header.Tick, Want: snap.StateHash, Got: got}
		}
	}
	w.publishView(snap.Header.Tick, snap.StateHash)
	return nil
}

// FromSnapshot builds a world and restores the snapshot into it.
func FromSnapshot(cfg Config, cats *catalogs.Catalogs, snap snapshot.SnapshotV1) (*World, error) {
	w, err := New(cfg, cats)
	if err != nil {
		return nil, err
	}
	if err := w.ImportSnapshot(snap); err != nil {
		return nil, err
	}
	return w, nil
}
