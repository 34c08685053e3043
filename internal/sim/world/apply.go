package world

import "fmt"

// eventForAction turns an accepted action into its committed event. All
// derived values the apply step needs (scaled costs, assigned child ids,
// noise factors) are resolved here so the event alone fully determines the
// state transition.
func (w *World) eventForAction(a Action, tick uint64, nowMs int64) Event {
	ev := Event{
		Sequence:    w.nextSequence(),
		Tick:        tick,
		AgentIDs:    []string{a.AgentID},
		TimestampMs: nowMs,
	}
	agent := w.agents[a.AgentID]

	switch a.Type {
	case ActionClaim:
		ev.Type = EvAgentClaimed
		ev.Payload.Owner = a.Owner

	case ActionMove:
		ev.Type = EvAgentMoved
		ev.Payload.FromRegion = agent.Region
		ev.Payload.ToRegion = a.ToRegion
		ev.Payload.Cost = w.moveCost(agent.Region, a.ToRegion)

	case ActionTrade:
		ev.Type = EvTradeExecuted
		ev.Payload.Resource = a.Resource
		ev.Payload.Amount = a.Amount
		ev.Payload.Cost = w.cats.Cost(string(ActionTrade))
		if a.ToRegionPool {
			ev.Payload.ToRegionPool = true
			ev.Payload.Region = agent.Region
		} else {
			ev.Payload.Counterpart = a.Counterpart
			ev.AgentIDs = append(ev.AgentIDs, a.Counterpart)
		}

	case ActionCommunicate:
		target := w.agents[a.Counterpart]
		ev.Type = EvMessageSent
		ev.Payload.Counterpart = a.Counterpart
		ev.Payload.Cost = w.commCost(agent.Region, target.Region)
		ev.Payload.NoiseFactor = w.noiseFactor(agent.Region, target.Region)
		ev.AgentIDs = append(ev.AgentIDs, a.Counterpart)

	case ActionFork:
		ev.Type = EvAgentForked
		ev.Payload.Cost = w.cats.Cost(string(ActionFork))
		ev.Payload.Children = []string{w.newAgentID(), w.newAgentID()}
		ev.AgentIDs = append(ev.AgentIDs, ev.Payload.Children...)

	case ActionMerge:
		ev.Type = EvAgentMerged
		ev.Payload.Counterpart = a.Counterpart
		ev.Payload.Cost = w.cats.Cost(string(ActionMerge))
		ev.AgentIDs = append(ev.AgentIDs, a.Counterpart)

	case ActionDie:
		ev.Type = EvAgentDied
		ev.Payload.Cause = "action"

	case ActionObserve:
		ev.Type = EvAgentObserved
		ev.Payload.Cost = w.cats.Cost(string(ActionObserve))
	}
	return ev
}

// applyEvent performs exactly one committed state transition. It is the
// single mutation path shared by the live engine and the replay engine: an
// event applies identically no matter when it is applied. Derived payload
// fields (released pools) are filled in on first application and recomputed
// to the same values on replay.
func (w *World) applyEvent(ev *Event) error {
	switch ev.Type {
	case EvAgentRegistered:
		id := ev.AgentIDs[0]
		region := w.regions[ev.Payload.Region]
		if region == nil {
			return fmt.Errorf("apply %s: unknown region %q", ev.Type, ev.Payload.Region)
		}
		w.agents[id] = &Agent{
			ID:          id,
			Name:        ev.Payload.Name,
			Status:      StatusPending,
			Region:      region.ID,
			Pool:        w.defaultPool(),
			CreatedTick: ev.Tick,
		}
		region.Occupancy++
		w.noteAgentID(id)
		return nil

	case EvTick:
		// Tick events close a batch; physics for them is run by the step
		// and replay paths, not here.
		return nil
	}

	agent := w.agents[ev.AgentIDs[0]]
	if agent == nil {
		return fmt.Errorf("apply %s: unknown agent %q", ev.Type, ev.AgentIDs[0])
	}
	agent.Pool.Deduct(ev.Payload.Cost)
	agent.LastActionTick = ev.Tick

	switch ev.Type {
	case EvAgentClaimed:
		agent.Status = StatusClaimed
		agent.Owner = ev.Payload.Owner

	case EvAgentMoved:
		src, dst := w.regions[ev.Payload.FromRegion], w.regions[ev.Payload.ToRegion]
		if dst == nil {
			return fmt.Errorf("apply %s: unknown region %q", ev.Type, ev.Payload.ToRegion)
		}
		if src != nil {
			src.Occupancy--
		}
		dst.Occupancy++
		agent.Region = ev.Payload.ToRegion

	case EvTradeExecuted:
		agent.Pool.Deduct(map[string]float64{ev.Payload.Resource: ev.Payload.Amount})
		if ev.Payload.ToRegionPool {
			w.regions[agent.Region].Pool.Credit(ev.Payload.Resource, ev.Payload.Amount)
		} else {
			// Transfers between agents are uncapped so the traded total is
			// conserved exactly; caps bound regeneration, not holdings.
			w.agents[ev.Payload.Counterpart].Pool.Credit(ev.Payload.Resource, ev.Payload.Amount)
		}

	case EvMessageSent:
		// Delivery is the event itself; content and noise live upstream.

	case EvAgentForked:
		for _, childID := range ev.Payload.Children {
			w.noteAgentID(childID)
		}
		frac := w.cats.Resources.Rules.ForkSplitFraction
		region := w.regions[agent.Region]
		for _, childID := range ev.Payload.Children {
			child := &Agent{
				ID:          childID,
				Name:        agent.Name,
				Status:      StatusClaimed,
				Region:      agent.Region,
				Pool:        make(Pool, len(agent.Pool)),
				Owner:       agent.Owner,
				Parent:      agent.ID,
				CreatedTick: ev.Tick,
			}
			for _, res := range w.cats.Resources.Order {
				child.Pool[res] = agent.Pool[res] * frac
			}
			w.agents[childID] = child
			region.Occupancy++
		}
		for _, res := range w.cats.Resources.Order {
			given := agent.Pool[res] * frac * float64(len(ev.Payload.Children))
			v := agent.Pool[res] - given
			if v < 0 {
				v = 0
			}
			agent.Pool[res] = v
		}
		w.retireAgent(agent, StatusForked, ev.Tick)

	case EvAgentMerged:
		absorbed := w.agents[ev.Payload.Counterpart]
		if absorbed == nil {
			return fmt.Errorf("apply %s: unknown agent %q", ev.Type, ev.Payload.Counterpart)
		}
		for _, res := range w.cats.Resources.Order {
			def := w.cats.Resources.Defs[res]
			agent.Pool.CreditCapped(res, absorbed.Pool[res], def.Cap)
			absorbed.Pool[res] = 0
		}
		w.retireAgent(absorbed, StatusMerged, ev.Tick)

	case EvAgentDied:
		ev.Payload.Released = w.retireAgent(agent, StatusDead, ev.Tick)

	case EvAgentObserved:
		// Cost already charged; the view is delivered by the transport.

	default:
		return fmt.Errorf("apply: unhandled event type %q", ev.Type)
	}
	return nil
}
