package world

import (
	"encoding/json"
	"fmt"
	"time"

	"observatory.world/internal/protocol"
)

// step advances the world by exactly one tick: registrations, then the
// drained action batch (validate, apply), then tick physics, then one
// atomic ledger commit. Nothing inside a tick is cancellable; on a ledger
// failure the whole tick is aborted and the error is fatal to the loop.
func (w *World) step(regs []RegisterRequest) error {
	nowTick := w.tick.Load() + 1
	nowMs := time.Now().UnixMilli()

	var batch []Event
	var pendingRegs []pendingRegister
	var pendingResults []pendingResult

	for _, req := range regs {
		id := w.newAgentID()
		ev := Event{
			Sequence:    w.nextSequence(),
			Tick:        nowTick,
			Type:        EvAgentRegistered,
			AgentIDs:    []string{id},
			TimestampMs: nowMs,
		}
		ev.Payload.Name = req.Name
		ev.Payload.Region = w.cats.Regions.SpawnRegion
		if err := w.applyEvent(&ev); err != nil {
			return fmt.Errorf("tick %d: %w", nowTick, err)
		}
		batch = append(batch, ev)
		if req.Out != nil {
			w.clients[id] = req.Out
		}
		pendingRegs = append(pendingRegs, pendingRegister{req: req, agentID: id})
	}

	actions := w.queue.Swap()
	var rejected int
	for _, a := range actions {
		if rej := w.Validate(a); rej != nil {
			rejected++
			if w.audit != nil {
				_ = w.audit.WriteAudit(AuditEntry{
					Tick:        nowTick,
					AgentID:     a.AgentID,
					Action:      a.Type,
					Reject:      rej.Code,
					TimestampMs: nowMs,
				})
			}
			pendingResults = append(pendingResults, pendingResult{
				agentID: a.AgentID,
				msg:     protocol.ResultMsg{Type: protocol.TypeResult, Tick: nowTick, Action: string(a.Type), Reject: rej.Code},
			})
			continue
		}
		ev := w.eventForAction(a, nowTick, nowMs)
		if err := w.applyEvent(&ev); err != nil {
			return fmt.Errorf("tick %d: %w", nowTick, err)
		}
		batch = append(batch, ev)
		pendingResults = append(pendingResults, pendingResult{
			agentID: a.AgentID,
			msg:     protocol.ResultMsg{Type: protocol.TypeResult, Tick: nowTick, Action: string(a.Type), Accepted: true, Sequence: ev.Sequence},
			observe: a.Type == ActionObserve,
		})
	}

	deaths := w.tickPhysics(nowTick)

	digest := w.stateDigest(nowTick)
	live := 0
	for _, a := range w.agents {
		if a.Status.Live() {
			live++
		}
	}
	tickEv := Event{
		Sequence:    w.nextSequence(),
		Tick:        nowTick,
		Type:        EvTick,
		TimestampMs: nowMs,
	}
	tickEv.Payload.Digest = digest
	tickEv.Payload.Deaths = deaths
	tickEv.Payload.ActionsProcessed = len(actions)
	tickEv.Payload.ActionsRejected = rejected
	tickEv.Payload.AgentsLive = live
	batch = append(batch, tickEv)

	// Durability precedes acknowledgment: the tick has not "happened"
	// until its whole batch is on disk.
	if w.ledger != nil {
		if err := w.ledger.Append(batch); err != nil {
			return fmt.Errorf("tick %d: ledger append: %w", nowTick, err)
		}
	}

	w.tick.Store(nowTick)
	w.publishView(nowTick, digest)

	for _, pr := range pendingRegs {
		if pr.req.Resp != nil {
			pr.req.Resp <- RegisterResponse{
				AgentID: pr.agentID,
				Region:  w.cats.Regions.SpawnRegion,
				Tick:    nowTick,
			}
		}
	}
	w.sendResults(nowTick, pendingResults)

	if w.snapshotSink != nil && w.cfg.SnapshotEveryTicks > 0 && nowTick%uint64(w.cfg.SnapshotEveryTicks) == 0 {
		snap := w.ExportSnapshot(nowTick)
		select {
		case w.snapshotSink <- snap:
		default:
			// Drop if the sink is backed up; the ledger alone can
			// rebuild any tick, so a missed snapshot costs nothing.
		}
	}
	return nil
}

type pendingRegister struct {
	req     RegisterRequest
	agentID string
}

type pendingResult struct {
	agentID string
	msg     protocol.ResultMsg
	observe bool
}

func (w *World) sendResults(tick uint64, results []pendingResult) {
	for _, pr := range results {
		out := w.clients[pr.agentID]
		if out == nil {
			continue
		}
		if b, err := json.Marshal(pr.msg); err == nil {
			sendLatest(out, b)
		}
		if pr.observe && pr.msg.Accepted {
			obs := w.buildObs(pr.agentID, tick)
			if b, err := json.Marshal(obs); err == nil {
				sendLatest(out, b)
			}
		}
	}
}

// sendLatest delivers without ever blocking the tick loop: when the client
// channel is full the oldest message is dropped in favor of the new one.
func sendLatest(ch chan []byte, b []byte) {
	select {
	case ch <- b:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
}

// StepOnce advances the world by a single tick with the same ordering
// semantics as the live loop. Intended for deterministic replays and tests.
func (w *World) StepOnce(regs []RegisterRequest, actions []Action) (tick uint64, digest string, err error) {
	for _, a := range actions {
		if err := w.queue.Submit(a); err != nil {
			return w.tick.Load(), "", err
		}
	}
	if err := w.step(regs); err != nil {
		return w.tick.Load(), "", err
	}
	v := w.View()
	return v.Tick, v.Digest, nil
}
