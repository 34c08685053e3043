package protocol

import (
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"
)

// Wire layout is a compatibility contract with deployed agents; golden
// files pin it.
func TestMessageWireLayout(t *testing.T) {
	g := goldie.New(t)

	welcome := WelcomeMsg{
		Type:            TypeWelcome,
		ProtocolVersion: Version,
		SessionID:       "6f1c2b1e-9a64-4f6e-8d3a-2b9c01b7e512",
		AgentID:         "A000007",
		SpawnRegion:     "nexus",
		Tick:            41,
		WorldParams: WorldParams{
			WorldID:        "world_1",
			TickIntervalMs: 5000,
			Seed:           1337,
		},
		Catalogs: CatalogDigests{
			RegionsDigest:   "r-digest",
			ResourcesDigest: "s-digest",
		},
	}
	b, err := json.MarshalIndent(welcome, "", "  ")
	require.NoError(t, err)
	g.Assert(t, "welcome", b)

	accepted := ResultMsg{Type: TypeResult, Tick: 42, Action: "MOVE", Accepted: true, Sequence: 105}
	b, err = json.MarshalIndent(accepted, "", "  ")
	require.NoError(t, err)
	g.Assert(t, "result_accepted", b)

	rejected := ResultMsg{Type: TypeResult, Tick: 42, Action: "MOVE", Reject: ErrRegionFull}
	b, err = json.MarshalIndent(rejected, "", "  ")
	require.NoError(t, err)
	g.Assert(t, "result_rejected", b)
}
