package protocol

import "encoding/json"

// BaseMsg carries the fields every client message must have; it is the
// first decoding pass before type-specific unmarshalling.
type BaseMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
}

func DecodeBase(b []byte) (BaseMsg, error) {
	var m BaseMsg
	err := json.Unmarshal(b, &m)
	return m, err
}
