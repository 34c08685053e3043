package worldtest

import (
	"encoding/json"
	"testing"

	"observatory.world/internal/protocol"
	"observatory.world/internal/sim/catalogs"
	"observatory.world/internal/sim/world"
)

// Harness drives a world tick by tick through exported APIs only, so
// tests exercise the same paths the live loop does: StepOnce for ticks,
// per-agent Out channels for RESULT/OBS delivery, and the published view
// for state assertions.
type Harness struct {
	T    *testing.T
	Cats *catalogs.Catalogs
	W    *world.World

	Ledger *MemLedger

	sessions map[string]*session
}

type session struct {
	AgentID string
	Out     chan []byte
}

// MemLedger records committed batches in memory, preserving the atomic
// batch boundaries so tests can assert on exactly what was committed.
type MemLedger struct {
	Batches [][]world.Event
}

func (m *MemLedger) Append(events []world.Event) error {
	cp := make([]world.Event, len(events))
	copy(cp, events)
	m.Batches = append(m.Batches, cp)
	return nil
}

func (m *MemLedger) AllEvents() []world.Event {
	var out []world.Event
	for _, b := range m.Batches {
		out = append(out, b...)
	}
	return out
}

func NewHarness(t *testing.T, cfg world.Config, cats *catalogs.Catalogs) *Harness {
	t.Helper()

	w, err := world.New(cfg, cats)
	if err != nil {
		t.Fatalf("world.New: %v", err)
	}
	led := &MemLedger{}
	w.SetLedger(led)
	return &Harness{T: t, Cats: cats, W: w, Ledger: led, sessions: map[string]*session{}}
}

func LoadCatalogs(t *testing.T, dir string) *catalogs.Catalogs {
	t.Helper()
	cats, err := catalogs.Load(dir)
	if err != nil {
		t.Fatalf("load catalogs %s: %v", dir, err)
	}
	return cats
}

func DefaultConfig() world.Config {
	return world.Config{
		ID:             "test",
		Seed:           42,
		TickIntervalMs: 5000,
		QueueCapacity:  1024,
	}
}

// Register creates one PENDING agent at the spawn region, advancing the
// world one tick.
func (h *Harness) Register(name string) string {
	ids := h.RegisterMany([]string{name})
	return ids[0]
}

// RegisterMany registers several agents within a single tick.
func (h *Harness) RegisterMany(names []string) []string {
	h.T.Helper()

	regs := make([]world.RegisterRequest, 0, len(names))
	resps := make([]chan world.RegisterResponse, 0, len(names))
	for _, name := range names {
		out := make(chan []byte, 64)
		resp := make(chan world.RegisterResponse, 1)
		regs = append(regs, world.RegisterRequest{Name: name, Out: out, Resp: resp})
		resps = append(resps, resp)
	}
	if _, _, err := h.W.StepOnce(regs, nil); err != nil {
		h.T.Fatalf("register step: %v", err)
	}
	ids := make([]string, 0, len(names))
	for i, resp := range resps {
		r := <-resp
		if r.AgentID == "" {
			h.T.Fatalf("register returned empty agent id")
		}
		h.sessions[r.AgentID] = &session{AgentID: r.AgentID, Out: regs[i].Out}
		ids = append(ids, r.AgentID)
	}
	return ids
}

// Claim transitions a PENDING agent to CLAIMED, advancing one tick.
func (h *Harness) Claim(agentID, owner string) {
	h.T.Helper()
	tick, _ := h.Step(world.Action{Type: world.ActionClaim, AgentID: agentID, Owner: owner})
	res := h.LastResult(agentID)
	if !res.Accepted {
		h.T.Fatalf("claim %s rejected at tick %d: %s", agentID, tick, res.Reject)
	}
}

// Step submits the given actions and advances exactly one tick.
func (h *Harness) Step(actions ...world.Action) (uint64, string) {
	h.T.Helper()
	tick, digest, err := h.W.StepOnce(nil, actions)
	if err != nil {
		h.T.Fatalf("step: %v", err)
	}
	return tick, digest
}

// StepN advances n empty ticks (physics only).
func (h *Harness) StepN(n int) {
	h.T.Helper()
	for i := 0; i < n; i++ {
		h.Step()
	}
}

// LastResult drains the agent's channel and returns the newest RESULT.
func (h *Harness) LastResult(agentID string) protocol.ResultMsg {
	h.T.Helper()
	s := h.sessions[agentID]
	if s == nil {
		h.T.Fatalf("unknown agent id: %q", agentID)
	}
	var last protocol.ResultMsg
	found := false
	for {
		select {
		case b := <-s.Out:
			var base protocol.BaseMsg
			if err := json.Unmarshal(b, &base); err != nil || base.Type != protocol.TypeResult {
				continue
			}
			if err := json.Unmarshal(b, &last); err == nil {
				found = true
			}
		default:
			if !found {
				h.T.Fatalf("no RESULT for %s", agentID)
			}
			return last
		}
	}
}

// LastObs drains the agent's channel and returns the newest OBS.
func (h *Harness) LastObs(agentID string) protocol.ObsMsg {
	h.T.Helper()
	s := h.sessions[agentID]
	if s == nil {
		h.T.Fatalf("unknown agent id: %q", agentID)
	}
	var last protocol.ObsMsg
	found := false
	for {
		select {
		case b := <-s.Out:
			var base protocol.BaseMsg
			if err := json.Unmarshal(b, &base); err != nil || base.Type != protocol.TypeObs {
				continue
			}
			if err := json.Unmarshal(b, &last); err == nil {
				found = true
			}
		default:
			if !found {
				h.T.Fatalf("no OBS for %s", agentID)
			}
			return last
		}
	}
}

// AgentView looks the agent up in the published view.
func (h *Harness) AgentView(agentID string) protocol.AgentView {
	h.T.Helper()
	v := h.W.View()
	for _, a := range v.Agents {
		if a.ID == agentID {
			return a
		}
	}
	h.T.Fatalf("agent %s not in view", agentID)
	return protocol.AgentView{}
}

// RegionView looks the region up in the published view.
func (h *Harness) RegionView(regionID string) protocol.RegionView {
	h.T.Helper()
	v := h.W.View()
	for _, r := range v.Regions {
		if r.ID == regionID {
			return r
		}
	}
	h.T.Fatalf("region %s not in view", regionID)
	return protocol.RegionView{}
}
