package worldtest

import (
	"testing"

	"observatory.world/internal/protocol"
	"observatory.world/internal/sim/world"
)

func TestLifecycle_ClaimThenDie(t *testing.T) {
	cats := LoadCatalogs(t, "testdata/calm")
	h := NewHarness(t, DefaultConfig(), cats)

	id := h.Register("probe")
	av := h.AgentView(id)
	if av.Status != "PENDING" {
		t.Fatalf("status after register = %s, want PENDING", av.Status)
	}
	if av.Region != "hub" {
		t.Fatalf("spawn region = %s, want hub", av.Region)
	}

	// PENDING agents cannot act beyond CLAIM and OBSERVE.
	h.Step(world.Action{Type: world.ActionMove, AgentID: id, ToRegion: "annex"})
	if res := h.LastResult(id); res.Accepted || res.Reject != protocol.ErrAgentNotClaimed {
		t.Fatalf("move while PENDING: accepted=%v reject=%s", res.Accepted, res.Reject)
	}

	h.Claim(id, "owner@example")
	av = h.AgentView(id)
	if av.Status != "CLAIMED" || av.Owner != "owner@example" {
		t.Fatalf("after claim: status=%s owner=%s", av.Status, av.Owner)
	}

	// Claiming twice targets an agent that is no longer claimable.
	h.Step(world.Action{Type: world.ActionClaim, AgentID: id, Owner: "other@example"})
	if res := h.LastResult(id); res.Accepted || res.Reject != protocol.ErrInvalidTarget {
		t.Fatalf("double claim: accepted=%v reject=%s", res.Accepted, res.Reject)
	}
	if got := h.AgentView(id).Owner; got != "owner@example" {
		t.Fatalf("owner changed by rejected claim: %s", got)
	}

	h.Step(world.Action{Type: world.ActionDie, AgentID: id})
	if res := h.LastResult(id); !res.Accepted {
		t.Fatalf("die rejected: %s", res.Reject)
	}
	av = h.AgentView(id)
	if av.Status != "DEAD" {
		t.Fatalf("status after die = %s, want DEAD", av.Status)
	}
	if av.RetiredTick == 0 {
		t.Fatalf("retired tick not recorded")
	}

	// Retirement is terminal: every further action is rejected, and the
	// record itself stays in the world forever.
	h.Step(world.Action{Type: world.ActionMove, AgentID: id, ToRegion: "annex"})
	if res := h.LastResult(id); res.Accepted || res.Reject != protocol.ErrAgentRetired {
		t.Fatalf("move after death: accepted=%v reject=%s", res.Accepted, res.Reject)
	}
	h.StepN(5)
	if got := h.AgentView(id).Status; got != "DEAD" {
		t.Fatalf("status drifted after death: %s", got)
	}
}

func TestLifecycle_DeathReleasesPoolToRegion(t *testing.T) {
	cats := LoadCatalogs(t, "testdata/calm")
	h := NewHarness(t, DefaultConfig(), cats)

	id := h.Register("donor")
	h.Claim(id, "o")

	before := h.RegionView("hub").Pool
	agentPool := h.AgentView(id).Resources

	h.Step(world.Action{Type: world.ActionDie, AgentID: id})
	after := h.RegionView("hub").Pool

	for res, amt := range agentPool {
		want := before[res] + amt
		if got := after[res]; got != want {
			t.Fatalf("region pool %s = %v, want %v", res, got, want)
		}
	}
	// The released amounts are recorded on the committed event.
	var died *world.Event
	for _, ev := range h.Ledger.AllEvents() {
		if ev.Type == world.EvAgentDied {
			e := ev
			died = &e
		}
	}
	if died == nil {
		t.Fatalf("no AGENT_DIED event committed")
	}
	if len(died.Payload.Released) == 0 {
		t.Fatalf("AGENT_DIED event has no released pool")
	}
}

func TestLifecycle_RetiredCounterpartRejected(t *testing.T) {
	cats := LoadCatalogs(t, "testdata/calm")
	h := NewHarness(t, DefaultConfig(), cats)

	ids := h.RegisterMany([]string{"alice", "bob", "carol"})
	h.Claim(ids[0], "o")
	h.Claim(ids[1], "o")
	// ids[2] stays PENDING.

	h.Step(world.Action{Type: world.ActionDie, AgentID: ids[1]})

	// A retired counterpart stays addressable forever, and everything
	// naming it reports the retirement, not a bad target.
	cases := []world.Action{
		{Type: world.ActionTrade, AgentID: ids[0], Counterpart: ids[1], Resource: "memory", Amount: 1},
		{Type: world.ActionCommunicate, AgentID: ids[0], Counterpart: ids[1], Content: "hello?"},
		{Type: world.ActionMerge, AgentID: ids[0], Counterpart: ids[1]},
	}
	for _, a := range cases {
		h.Step(a)
		if res := h.LastResult(ids[0]); res.Accepted || res.Reject != protocol.ErrAgentRetired {
			t.Fatalf("%s naming dead agent: accepted=%v reject=%s", a.Type, res.Accepted, res.Reject)
		}
	}

	// An unclaimed counterpart rejects with the claim code instead.
	h.Step(world.Action{Type: world.ActionTrade, AgentID: ids[0], Counterpart: ids[2], Resource: "memory", Amount: 1})
	if res := h.LastResult(ids[0]); res.Accepted || res.Reject != protocol.ErrAgentNotClaimed {
		t.Fatalf("trade naming PENDING agent: accepted=%v reject=%s", res.Accepted, res.Reject)
	}
}

func TestLifecycle_UnknownAgentRejected(t *testing.T) {
	cats := LoadCatalogs(t, "testdata/calm")
	h := NewHarness(t, DefaultConfig(), cats)

	id := h.Register("real")
	h.Claim(id, "o")

	if rej := h.W.Validate(world.Action{Type: world.ActionObserve, AgentID: "A999999"}); rej == nil || rej.Code != protocol.ErrUnknownAgent {
		t.Fatalf("validate unknown agent: %+v", rej)
	}
}
