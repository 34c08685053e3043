package world

import (
	"fmt"

	"observatory.world/internal/protocol"
)

// Reject is a normal, non-fatal validation outcome. Code is always drawn
// from the closed enumeration in internal/protocol.
type Reject struct {
	Code    string
	Action  ActionType
	AgentID string
}

func (r *Reject) Error() string {
	return fmt.Sprintf("%s: %s rejected for %s", r.Code, r.Action, r.AgentID)
}

func reject(code string, a Action) *Reject {
	return &Reject{Code: code, Action: a.Type, AgentID: a.AgentID}
}

// Validate is the pure predicate over (current state, proposed action).
// It never mutates state and performs no I/O; a nil return means accept.
func (w *World) Validate(a Action) *Reject {
	agent, ok := w.agents[a.AgentID]
	if !ok {
		return reject(protocol.ErrUnknownAgent, a)
	}
	if agent.Status.Retired() {
		return reject(protocol.ErrAgentRetired, a)
	}

	switch a.Type {
	case ActionClaim:
		// The claim transition itself requires PENDING; claiming twice is
		// targeting an agent that can no longer be claimed.
		if agent.Status != StatusPending {
			return reject(protocol.ErrInvalidTarget, a)
		}
		return nil

	case ActionObserve:
		// Unclaimed agents may observe, nothing else.
		return w.checkCost(agent, a, w.cats.Cost(string(a.Type)))

	case ActionDie:
		if agent.Status != StatusClaimed {
			return reject(protocol.ErrAgentNotClaimed, a)
		}
		return nil
	}

	if agent.Status != StatusClaimed {
		return reject(protocol.ErrAgentNotClaimed, a)
	}

	switch a.Type {
	case ActionMove:
		dst, ok := w.regions[a.ToRegion]
		if !ok || a.ToRegion == agent.Region {
			return reject(protocol.ErrInvalidTarget, a)
		}
		if dst.Occupancy+1 > dst.Capacity {
			return reject(protocol.ErrRegionFull, a)
		}
		return w.checkCost(agent, a, w.moveCost(agent.Region, a.ToRegion))

	case ActionTrade:
		if _, known := w.cats.Resources.Defs[a.Resource]; !known || a.Amount <= 0 {
			return reject(protocol.ErrInvalidTarget, a)
		}
		if !a.ToRegionPool {
			if rej := w.checkCounterpart(a); rej != nil {
				return rej
			}
		}
		// Sender needs the action cost plus the transferred amount, in one
		// combined check so a cost in the traded resource is not double
		// counted against the same balance.
		need := map[string]float64{}
		for res, amt := range w.cats.Cost(string(a.Type)) {
			need[res] += amt
		}
		need[a.Resource] += a.Amount
		return w.checkCost(agent, a, need)

	case ActionCommunicate:
		if rej := w.checkCounterpart(a); rej != nil {
			return rej
		}
		target := w.agents[a.Counterpart]
		return w.checkCost(agent, a, w.commCost(agent.Region, target.Region))

	case ActionFork:
		region := w.regions[agent.Region]
		// Two children in, one parent retired: net +1 occupant.
		if region.Occupancy+1 > region.Capacity {
			return reject(protocol.ErrRegionFull, a)
		}
		return w.checkCost(agent, a, w.cats.Cost(string(a.Type)))

	case ActionMerge:
		if rej := w.checkCounterpart(a); rej != nil {
			return rej
		}
		return w.checkCost(agent, a, w.cats.Cost(string(a.Type)))
	}

	return reject(protocol.ErrInvalidTarget, a)
}

func (w *World) checkCounterpart(a Action) *Reject {
	if a.Counterpart == "" || a.Counterpart == a.AgentID {
		return reject(protocol.ErrInvalidTarget, a)
	}
	other, ok := w.agents[a.Counterpart]
	if !ok {
		return reject(protocol.ErrUnknownAgent, a)
	}
	// Retirement is permanent: actions naming a retired agent are always
	// rejected with the retirement code, not as a bad target.
	if other.Status.Retired() {
		return reject(protocol.ErrAgentRetired, a)
	}
	if other.Status != StatusClaimed {
		return reject(protocol.ErrAgentNotClaimed, a)
	}
	return nil
}

func (w *World) checkCost(agent *Agent, a Action, cost map[string]float64) *Reject {
	if !agent.Pool.CanAfford(cost) {
		return reject(protocol.ErrInsufficientResources, a)
	}
	return nil
}
