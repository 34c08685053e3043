package worldtest

import (
	"errors"
	"testing"

	"observatory.world/internal/sim/world"
)

// Every committed batch must be one tick's worth of events, closed by a
// tick event, with globally gap-free sequence numbers.
func TestLedger_BatchShapeAndSequences(t *testing.T) {
	cats := LoadCatalogs(t, "testdata/calm")
	h := NewHarness(t, DefaultConfig(), cats)

	ids := h.RegisterMany([]string{"a", "b", "c"})
	for _, id := range ids {
		h.Claim(id, "o")
	}
	h.Step(
		world.Action{Type: world.ActionTrade, AgentID: ids[0], Counterpart: ids[1], Resource: "memory", Amount: 1},
		world.Action{Type: world.ActionCommunicate, AgentID: ids[1], Counterpart: ids[2], Content: "hi"},
	)
	h.Step(world.Action{Type: world.ActionDie, AgentID: ids[2]})
	h.StepN(2)

	var wantSeq uint64 = 1
	var lastTick uint64
	for _, batch := range h.Ledger.Batches {
		if len(batch) == 0 {
			t.Fatalf("empty batch committed")
		}
		tick := batch[0].Tick
		if tick != lastTick+1 {
			t.Fatalf("batch tick %d follows %d", tick, lastTick)
		}
		lastTick = tick
		for i, ev := range batch {
			if ev.Tick != tick {
				t.Fatalf("event tick %d inside batch for tick %d", ev.Tick, tick)
			}
			if ev.Sequence != wantSeq {
				t.Fatalf("sequence %d, want %d", ev.Sequence, wantSeq)
			}
			wantSeq++
			if ev.Type == world.EvTick && i != len(batch)-1 {
				t.Fatalf("tick event before end of batch")
			}
		}
		if batch[len(batch)-1].Type != world.EvTick {
			t.Fatalf("batch for tick %d not closed by tick event", tick)
		}
	}
}

// failLedger refuses every append, standing in for a full disk.
type failLedger struct{ appends int }

func (f *failLedger) Append(events []world.Event) error {
	f.appends++
	return errors.New("write ledger-0000000000000001.jsonl.zst: no space left on device")
}

// A tick whose batch cannot be made durable never happens: StepOnce
// surfaces the error and neither the tick counter nor the published view
// advances.
func TestLedger_AppendFailureHaltsTick(t *testing.T) {
	cats := LoadCatalogs(t, "testdata/calm")
	h := NewHarness(t, DefaultConfig(), cats)

	id := h.Register("survivor")
	h.Claim(id, "o")

	before := h.W.View()
	fl := &failLedger{}
	h.W.SetLedger(fl)

	tick, _, err := h.W.StepOnce(nil, []world.Action{{Type: world.ActionObserve, AgentID: id}})
	if err == nil {
		t.Fatalf("step with failing ledger did not error")
	}
	if fl.appends != 1 {
		t.Fatalf("ledger appends = %d, want 1", fl.appends)
	}
	if tick != before.Tick {
		t.Fatalf("tick advanced to %d past durability failure (was %d)", tick, before.Tick)
	}
	after := h.W.View()
	if after.Tick != before.Tick || after.Digest != before.Digest {
		t.Fatalf("view advanced past durability failure: tick %d digest %s", after.Tick, after.Digest)
	}
}

// Registrations and actions landing on the same tick commit as one batch,
// with registrations first.
func TestLedger_RegistrationsPrecedeActions(t *testing.T) {
	cats := LoadCatalogs(t, "testdata/calm")
	h := NewHarness(t, DefaultConfig(), cats)

	first := h.Register("veteran")
	h.Claim(first, "o")

	// One tick carrying both a registration and an action.
	out := make(chan []byte, 16)
	resp := make(chan world.RegisterResponse, 1)
	if _, _, err := h.W.StepOnce(
		[]world.RegisterRequest{{Name: "rookie", Out: out, Resp: resp}},
		[]world.Action{{Type: world.ActionObserve, AgentID: first}},
	); err != nil {
		t.Fatalf("step: %v", err)
	}
	<-resp

	batch := h.Ledger.Batches[len(h.Ledger.Batches)-1]
	if len(batch) != 3 {
		t.Fatalf("batch length = %d, want 3 (register, observe, tick)", len(batch))
	}
	if batch[0].Type != world.EvAgentRegistered {
		t.Fatalf("first event = %s, want %s", batch[0].Type, world.EvAgentRegistered)
	}
	if batch[1].Type != world.EvAgentObserved {
		t.Fatalf("second event = %s, want %s", batch[1].Type, world.EvAgentObserved)
	}
}
