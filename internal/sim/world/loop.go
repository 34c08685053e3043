package world

import (
	"context"
	"errors"
	"time"
)

// ErrUnknownAttach is returned on an attach for an agent that was never
// registered in this world.
var ErrUnknownAttach = errors.New("attach: unknown agent")

// Run drives the authoritative tick loop at the configured fixed interval.
// It is the only goroutine that mutates world state. A tick that overruns
// the interval delays the next tick; ticks never run concurrently. Run
// returns a non-nil error only on a fatal condition (ledger durability
// failure), at which point tick advancement has halted.
func (w *World) Run(ctx context.Context) error {
	interval := time.Duration(w.cfg.TickIntervalMs) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var pendingRegs []RegisterRequest

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stop:
			return nil
		case req := <-w.register:
			pendingRegs = append(pendingRegs, req)
		case req := <-w.attach:
			w.handleAttach(req)
		case <-ticker.C:
			if err := w.step(pendingRegs); err != nil {
				return err
			}
			pendingRegs = pendingRegs[:0]
		}
	}
}

func (w *World) Stop() { close(w.stop) }

func (w *World) handleAttach(req AttachRequest) {
	var err error
	if _, ok := w.agents[req.AgentID]; !ok {
		err = ErrUnknownAttach
	} else {
		w.clients[req.AgentID] = req.Out
	}
	if req.Resp != nil {
		req.Resp <- err
	}
}
