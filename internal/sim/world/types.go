package world

// Status is an agent's lifecycle state. Transitions only move forward:
// PENDING -> CLAIMED -> {DEAD | FORKED | MERGED}. A retired agent (any of
// the three terminal states) is never the subject of a mutating action
// again, but its record is kept forever.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusClaimed Status = "CLAIMED"
	StatusDead    Status = "DEAD"
	StatusForked  Status = "FORKED"
	StatusMerged  Status = "MERGED"
)

func (s Status) Live() bool {
	return s == StatusPending || s == StatusClaimed
}

func (s Status) Retired() bool {
	return s == StatusDead || s == StatusForked || s == StatusMerged
}

// Pool maps resource id -> quantity. Quantities never go negative; every
// deterministic walk over a pool uses the catalog's sorted resource order.
type Pool map[string]float64

func (p Pool) Clone() Pool {
	out := make(Pool, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

func (p Pool) Get(res string) float64 { return p[res] }

func (p Pool) CanAfford(cost map[string]float64) bool {
	for res, amt := range cost {
		if p[res] < amt {
			return false
		}
	}
	return true
}

// Deduct subtracts cost from the pool. The caller must have checked
// affordability; quantities are clamped at zero to preserve the
// non-negativity invariant in the face of float rounding.
func (p Pool) Deduct(cost map[string]float64) {
	for res, amt := range cost {
		v := p[res] - amt
		if v < 0 {
			v = 0
		}
		p[res] = v
	}
}

func (p Pool) Credit(res string, amt float64) {
	if amt <= 0 {
		return
	}
	p[res] += amt
}

// CreditCapped adds amt but never past cap; the overflow is discarded.
func (p Pool) CreditCapped(res string, amt, cap float64) {
	if amt <= 0 {
		return
	}
	v := p[res] + amt
	if v > cap {
		v = cap
	}
	p[res] = v
}

type Agent struct {
	ID     string
	Name   string
	Status Status
	Region string
	Pool   Pool

	// Owner is the external claim reference (set by CLAIM). The engine
	// never verifies it; the gateway authenticated it upstream.
	Owner  string
	Parent string

	CreatedTick    uint64
	LastActionTick uint64
	RetiredTick    uint64 // tick of DEAD/FORKED/MERGED transition, 0 while live
}

type Region struct {
	ID                 string
	Name               string
	X, Y               float64
	DangerLevel        float64
	ResourceMultiplier float64
	Capacity           int
	Occupancy          int
	Pool               Pool
}

// ActionType tags the closed action variant. REGISTER is engine-internal:
// registrations arrive through their own channel, not the action queue.
type ActionType string

const (
	ActionClaim       ActionType = "CLAIM"
	ActionMove        ActionType = "MOVE"
	ActionTrade       ActionType = "TRADE"
	ActionCommunicate ActionType = "COMMUNICATE"
	ActionFork        ActionType = "FORK"
	ActionMerge       ActionType = "MERGE"
	ActionDie         ActionType = "DIE"
	ActionObserve     ActionType = "OBSERVE"
)

// Action is one queued agent intent. SubmittedTick orders nothing by
// itself (all queued actions execute at the next tick boundary); it is
// recorded for diagnostics only.
type Action struct {
	Type          ActionType
	AgentID       string
	SubmittedTick uint64

	Owner        string  // CLAIM
	ToRegion     string  // MOVE
	Counterpart  string  // TRADE, COMMUNICATE, MERGE
	Resource     string  // TRADE
	Amount       float64 // TRADE
	ToRegionPool bool    // TRADE into the agent's region pool
	Content      string  // COMMUNICATE (opaque to the engine)

	// arrival is the queue arrival index, assigned by the queue.
	arrival uint64
}
