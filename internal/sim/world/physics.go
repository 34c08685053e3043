package world

import (
	"math"
	"math/rand/v2"
	"sort"
)

// resEnergy is the resource danger drains; depletion is lethal.
const resEnergy = "energy"

// tickRand returns the deterministic generator for one tick. The seed is
// derived from the world seed and the tick number only, never wall-clock
// time or system entropy, so replay reproduces every roll exactly.
func (w *World) tickRand(tick uint64) *rand.Rand {
	return rand.New(rand.NewPCG(uint64(w.cfg.Seed), tick))
}

func regionDistance(a, b *Region) float64 {
	dx, dy := a.X-b.X, a.Y-b.Y
	return math.Sqrt(dx*dx + dy*dy)
}

func scaleCost(base map[string]float64, mult float64) map[string]float64 {
	out := make(map[string]float64, len(base))
	for res, amt := range base {
		out[res] = amt * mult
	}
	return out
}

// moveCost scales the MOVE base cost with region distance: further is more
// expensive.
func (w *World) moveCost(from, to string) map[string]float64 {
	base := w.cats.Cost(string(ActionMove))
	src, dst := w.regions[from], w.regions[to]
	if src == nil || dst == nil {
		return base
	}
	mult := 1 + w.cats.Resources.Rules.MoveDistanceFactor*regionDistance(src, dst)
	return scaleCost(base, mult)
}

// commCost scales the COMMUNICATE base cost with sender/receiver distance.
func (w *World) commCost(from, to string) map[string]float64 {
	base := w.cats.Cost(string(ActionCommunicate))
	src, dst := w.regions[from], w.regions[to]
	if src == nil || dst == nil {
		return base
	}
	mult := 1 + w.cats.Resources.Rules.CommDistanceFactor*regionDistance(src, dst)
	return scaleCost(base, mult)
}

// noiseFactor is recorded on MESSAGE_SENT events for the upstream
// corruption model. The engine never applies it.
func (w *World) noiseFactor(from, to string) float64 {
	src, dst := w.regions[from], w.regions[to]
	if src == nil || dst == nil {
		return 0
	}
	rules := w.cats.Resources.Rules
	n := rules.CommNoiseFactor * regionDistance(src, dst)
	if n > rules.CommNoiseCap {
		n = rules.CommNoiseCap
	}
	return n
}

// tickPhysics applies passive per-tick effects to every live agent, in
// sorted agent-id order so the generator is consumed identically on live
// runs and replays: regeneration scaled by the region multiplier, then a
// danger roll that drains energy, then death on depletion. Returns the ids
// that died this tick, in order.
func (w *World) tickPhysics(tick uint64) []string {
	rng := w.tickRand(tick)
	rules := w.cats.Resources.Rules

	ids := make([]string, 0, len(w.agents))
	for id, a := range w.agents {
		if a.Status.Live() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	var deaths []string
	for _, id := range ids {
		a := w.agents[id]
		region := w.regions[a.Region]

		for _, res := range w.cats.Resources.Order {
			def := w.cats.Resources.Defs[res]
			a.Pool.CreditCapped(res, def.Regen*region.ResourceMultiplier, def.Cap)
		}

		// Exactly one roll per live agent, taken unconditionally, keeps
		// the generator stream aligned between live ticks and replay.
		roll := rng.Float64()
		if region.DangerLevel > 0 && roll < region.DangerLevel {
			drain := region.DangerLevel * rules.DangerDrainRate
			v := a.Pool[resEnergy] - drain
			if v < 0 {
				v = 0
			}
			a.Pool[resEnergy] = v
			if v <= 0 {
				w.retireAgent(a, StatusDead, tick)
				deaths = append(deaths, id)
			}
		}
	}
	return deaths
}

// retireAgent moves an agent into a terminal status, vacates its region
// slot, and for deaths releases the remaining pool into the region pool.
// The record itself is retained forever.
func (w *World) retireAgent(a *Agent, status Status, tick uint64) map[string]float64 {
	region := w.regions[a.Region]
	if a.Status.Live() && region != nil {
		region.Occupancy--
	}
	a.Status = status
	a.RetiredTick = tick

	var released map[string]float64
	if status == StatusDead && region != nil {
		released = map[string]float64{}
		for _, res := range w.cats.Resources.Order {
			if amt := a.Pool[res]; amt > 0 {
				region.Pool.Credit(res, amt)
				released[res] = amt
				a.Pool[res] = 0
			}
		}
	}
	return released
}
