package world

import (
	"sort"

	"observatory.world/internal/protocol"
)

// publishView builds and atomically installs the observer-facing state
// view. Called only after a tick fully commits (copy-on-commit), so
// readers never see a half-applied tick.
func (w *World) publishView(tick uint64, digest string) {
	v := &protocol.StateView{
		WorldID: w.cfg.ID,
		Tick:    tick,
		Digest:  digest,
	}

	regionIDs := make([]string, 0, len(w.regions))
	for id := range w.regions {
		regionIDs = append(regionIDs, id)
	}
	sort.Strings(regionIDs)
	for _, id := range regionIDs {
		v.Regions = append(v.Regions, w.regionView(w.regions[id]))
	}

	agentIDs := make([]string, 0, len(w.agents))
	for id := range w.agents {
		agentIDs = append(agentIDs, id)
	}
	sort.Strings(agentIDs)
	for _, id := range agentIDs {
		v.Agents = append(v.Agents, w.agentView(w.agents[id]))
	}

	w.view.Store(v)
}

func (w *World) regionView(r *Region) protocol.RegionView {
	return protocol.RegionView{
		ID:                 r.ID,
		Name:               r.Name,
		X:                  r.X,
		Y:                  r.Y,
		DangerLevel:        r.DangerLevel,
		ResourceMultiplier: r.ResourceMultiplier,
		Capacity:           r.Capacity,
		Occupancy:          r.Occupancy,
		Pool:               r.Pool.Clone(),
	}
}

func (w *World) agentView(a *Agent) protocol.AgentView {
	return protocol.AgentView{
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
	}
}

// buildObs assembles the OBS payload for an accepted OBSERVE: the agent's
// own region with everyone currently in it.
func (w *World) buildObs(agentID string, tick uint64) protocol.ObsMsg {
	obs := protocol.ObsMsg{
		Type:    protocol.TypeObs,
		Tick:    tick,
		WorldID: w.cfg.ID,
	}
	a := w.agents[agentID]
	if a == nil {
		return obs
	}
	obs.Self = w.agentView(a)

	region := w.regions[a.Region]
	if region == nil {
		return obs
	}
	obs.Region = w.regionView(region)

	ids := make([]string, 0, len(w.agents))
	for id, other := range w.agents {
		if id != agentID && other.Status.Live() && other.Region == a.Region {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	for _, id := range ids {
		obs.Agents = append(obs.Agents, w.agentView(w.agents[id]))
	}
	return obs
}
