package world

// EventType tags committed ledger events. Every state transition the engine
// performs is one of these; replay dispatches exhaustively over them.
type EventType string

const (
	EvAgentRegistered EventType = "AGENT_REGISTERED"
	EvAgentClaimed    EventType = "AGENT_CLAIMED"
	EvAgentMoved      EventType = "AGENT_MOVED"
	EvTradeExecuted   EventType = "TRADE_EXECUTED"
	EvMessageSent     EventType = "MESSAGE_SENT"
	EvAgentForked     EventType = "AGENT_FORKED"
	EvAgentMerged     EventType = "AGENT_MERGED"
	EvAgentDied       EventType = "AGENT_DIED"
	EvAgentObserved   EventType = "AGENT_OBSERVED"

	// EvTick closes every tick batch. Its payload carries the post-tick
	// state digest and the physics outcomes (danger deaths) for the tick;
	// replay re-runs tick physics when it applies this event and checks
	// the recomputed digest against the recorded one.
	EvTick EventType = "TICK"
)

// Event is one committed ledger record. Sequence is strictly increasing
// across the whole ledger with no gaps or duplicates. TimestampMs is wall
// clock and informational only; nothing may order or replay by it.
type Event struct {
	Sequence    uint64       `json:"sequence"`
	Tick        uint64       `json:"tick"`
	Type        EventType    `json:"type"`
	AgentIDs    []string     `json:"agent_ids,omitempty"`
	Payload     EventPayload `json:"payload"`
	TimestampMs int64        `json:"timestamp_ms"`
}

// EventPayload is the variant-specific body. Fields are tagged omitempty so
// each event type serializes only what it uses.
type EventPayload struct {
	// AGENT_REGISTERED
	Name   string `json:"name,omitempty"`
	Region string `json:"region,omitempty"`

	// AGENT_CLAIMED
	Owner string `json:"owner,omitempty"`

	// AGENT_MOVED
	FromRegion string `json:"from_region,omitempty"`
	ToRegion   string `json:"to_region,omitempty"`

	// TRADE_EXECUTED, MESSAGE_SENT, AGENT_MERGED
	Counterpart  string  `json:"counterpart,omitempty"`
	Resource     string  `json:"resource,omitempty"`
	Amount       float64 `json:"amount,omitempty"`
	ToRegionPool bool    `json:"to_region_pool,omitempty"`

	// MESSAGE_SENT: informational noise factor for the upstream corruption
	// model; the engine itself only charges cost and records delivery.
	NoiseFactor float64 `json:"noise_factor,omitempty"`

	// AGENT_FORKED
	Children []string `json:"children,omitempty"`

	// AGENT_DIED (voluntary DIE only; danger deaths ride the TICK payload)
	Cause    string             `json:"cause,omitempty"`
	Released map[string]float64 `json:"released,omitempty"`

	// Cost actually charged for the action (already distance-scaled).
	Cost map[string]float64 `json:"cost,omitempty"`

	// TICK
	Digest           string   `json:"digest,omitempty"`
	Deaths           []string `json:"deaths,omitempty"`
	ActionsProcessed int      `json:"actions_processed,omitempty"`
	ActionsRejected  int      `json:"actions_rejected,omitempty"`
	AgentsLive       int      `json:"agents_live,omitempty"`
}

// AuditEntry is a diagnostic record for a rejected action. Audits go to
// their own stream, never into the committed-event ledger, so ledger
// sequence numbers stay gap-free over state-changing events.
type AuditEntry struct {
	Tick        uint64     `json:"tick"`
	AgentID     string     `json:"agent_id"`
	Action      ActionType `json:"action"`
	Reject      string     `json:"reject_code"`
	TimestampMs int64      `json:"timestamp_ms"`
}
