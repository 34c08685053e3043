package protocol

const Version = "1.0"

// Message type tags.
const (
	TypeHello   = "HELLO"
	TypeWelcome = "WELCOME"
	TypeAct     = "ACT"
	TypeResult  = "RESULT"
	TypeObs     = "OBS"
	TypeError   = "ERROR"
)

// Action type tags. The set is closed; the engine dispatches exhaustively
// over these and rejects anything else at the gateway.
const (
	ActClaim       = "CLAIM"
	ActMove        = "MOVE"
	ActTrade       = "TRADE"
	ActCommunicate = "COMMUNICATE"
	ActFork        = "FORK"
	ActMerge       = "MERGE"
	ActDie         = "DIE"
	ActObserve     = "OBSERVE"
)

// HELLO (client -> server). The gateway trusts the surrounding auth layer:
// by the time a HELLO reaches us, identity and signature freshness have
// already been verified.
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	AgentName       string `json:"agent_name,omitempty"`
	AgentID         string `json:"agent_id,omitempty"`
	Owner           string `json:"owner,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string         `json:"type"`
	ProtocolVersion string         `json:"protocol_version"`
	SessionID       string         `json:"session_id"`
	AgentID         string         `json:"agent_id"`
	SpawnRegion     string         `json:"spawn_region"`
	Tick            uint64         `json:"tick"`
	WorldParams     WorldParams    `json:"world_params"`
	Catalogs        CatalogDigests `json:"catalogs"`
}

type WorldParams struct {
	WorldID        string `json:"world_id"`
	TickIntervalMs int    `json:"tick_interval_ms"`
	Seed           int64  `json:"seed"`
}

type CatalogDigests struct {
	RegionsDigest   string `json:"regions_digest"`
	ResourcesDigest string `json:"resources_digest"`
}

// ACT (client -> server). One queued intent; it executes at the next tick
// boundary regardless of when it arrived within the interval.
type ActMsg struct {
	Type            string  `json:"type"`
	ProtocolVersion string  `json:"protocol_version"`
	Action          string  `json:"action"`
	AgentID         string  `json:"agent_id,omitempty"` // overwritten from session identity
	Owner           string  `json:"owner,omitempty"`    // CLAIM
	ToRegion        string  `json:"to_region,omitempty"`
	Counterpart     string  `json:"counterpart,omitempty"`
	Resource        string  `json:"resource,omitempty"`
	Amount          float64 `json:"amount,omitempty"`
	ToRegionPool    bool    `json:"to_region_pool,omitempty"` // TRADE into the region pool
	Content         string  `json:"content,omitempty"`        // COMMUNICATE (opaque here; noise is applied upstream)
}

// RESULT (server -> client): outcome of one queued action at its tick.
type ResultMsg struct {
	Type     string `json:"type"`
	Tick     uint64 `json:"tick"`
	Action   string `json:"action"`
	Accepted bool   `json:"accepted"`
	Reject   string `json:"reject_code,omitempty"`
	Sequence uint64 `json:"sequence,omitempty"` // committed ledger sequence when accepted
}

// OBS (server -> client): region view delivered for an accepted OBSERVE.
type ObsMsg struct {
	Type    string      `json:"type"`
	Tick    uint64      `json:"tick"`
	Region  RegionView  `json:"region"`
	Self    AgentView   `json:"self"`
	Agents  []AgentView `json:"agents"`
	WorldID string      `json:"world_id,omitempty"`
}

// ERROR (server -> client): transport-level rejection, never a tick outcome.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

// RegionView is the observer-safe projection of a region.
type RegionView struct {
	ID                 string             `json:"id"`
	Name               string             `json:"name"`
	X                  float64            `json:"x"`
	Y                  float64            `json:"y"`
	DangerLevel        float64            `json:"danger_level"`
	ResourceMultiplier float64            `json:"resource_multiplier"`
	Capacity           int                `json:"capacity"`
	Occupancy          int                `json:"occupancy"`
	Pool               map[string]float64 `json:"pool"`
}

// AgentView is the observer-safe projection of an agent (no claim secrets).
type AgentView struct {
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

// StateView is the last fully committed world view published to observers.
type StateView struct {
	WorldID string       `json:"world_id"`
	Tick    uint64       `json:"tick"`
	Digest  string       `json:"digest"`
	Regions []RegionView `json:"regions"`
	Agents  []AgentView  `json:"agents"`
}
