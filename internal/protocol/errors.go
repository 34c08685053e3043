package protocol

// Reject codes returned by action validation. The set is closed: every
// rejection the engine can produce uses one of these codes, and transports
// must treat any other value as a protocol bug.
const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "PROTO_BAD_REQUEST"
	ErrQueueFull       = "QUEUE_FULL"

	// Rule/action layer.
	ErrInsufficientResources = "INSUFFICIENT_RESOURCES"
	ErrRegionFull            = "REGION_FULL"
	ErrAgentNotClaimed       = "AGENT_NOT_CLAIMED"
	ErrAgentRetired          = "AGENT_RETIRED"
	ErrInvalidTarget         = "INVALID_TARGET"
	ErrUnknownAgent          = "UNKNOWN_AGENT"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest:       {},
	ErrQueueFull:             {},
	ErrInsufficientResources: {},
	ErrRegionFull:            {},
	ErrAgentNotClaimed:       {},
	ErrAgentRetired:          {},
	ErrInvalidTarget:         {},
	ErrUnknownAgent:          {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
