package world

import (
	"fmt"
	"sync/atomic"

	"observatory.world/internal/protocol"
	"observatory.world/internal/sim/catalogs"
)

type Config struct {
	ID                 string
	Seed               int64
	TickIntervalMs     int
	SnapshotEveryTicks int
	QueueCapacity      int
}

// TickLedger durably records one tick's committed events as an atomic
// batch. Implemented in internal/persistence/ledger. An Append error is
// fatal to the tick: the engine halts rather than proceed with an
// unrecorded mutation.
type TickLedger interface {
	Append(events []Event) error
}

// AuditSink receives diagnostic records for rejected actions (may be nil).
type AuditSink interface {
	WriteAudit(entry AuditEntry) error
}

// RegisterRequest creates a PENDING agent at the spawn region. Registration
// is authenticated upstream; by the time it reaches the engine it is just a
// state-changing input, processed at the next tick boundary.
type RegisterRequest struct {
	Name string
	Out  chan []byte // per-session delivery channel (may be nil)
	Resp chan RegisterResponse
}

type RegisterResponse struct {
	AgentID string
	Region  string
	Tick    uint64
}

// AttachRequest re-binds a session channel to an existing agent.
type AttachRequest struct {
	AgentID string
	Out     chan []byte
	Resp    chan error
}

// World is the single-writer authoritative simulation. All state mutation
// happens on the tick-loop goroutine; everything else interacts through
// the action queue, the register/attach channels, and the published
// immutable state view.
type World struct {
	cfg  Config
	cats *catalogs.Catalogs

	tick atomic.Uint64

	agents  map[string]*Agent
	regions map[string]*Region
	clients map[string]chan []byte

	queue    *ActionQueue
	register chan RegisterRequest
	attach   chan AttachRequest
	stop     chan struct{}

	nextSeq      uint64 // next ledger sequence number to assign
	nextAgentNum uint64

	ledger TickLedger
	audit  AuditSink

	// Snapshot export requests are served off-thread; the sink drops
	// rather than stall the loop when it is backed up.
	snapshotSink chan<- ExportedSnapshot

	view atomic.Pointer[protocol.StateView]
}

func New(cfg Config, cats *catalogs.Catalogs) (*World, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("world: empty id")
	}
	if cats == nil {
		return nil, fmt.Errorf("world: nil catalogs")
	}
	w := &World{
		cfg:      cfg,
		cats:     cats,
		agents:   map[string]*Agent{},
		regions:  map[string]*Region{},
		clients:  map[string]chan []byte{},
		queue:    NewActionQueue(cfg.QueueCapacity),
		register: make(chan RegisterRequest, 64),
		attach:   make(chan AttachRequest, 16),
		stop:     make(chan struct{}),
		nextSeq:  1,
	}
	for _, def := range cats.Regions.Defs {
		w.regions[def.ID] = &Region{
			ID:                 def.ID,
			Name:               def.Name,
			X:                  def.X,
			Y:                  def.Y,
			DangerLevel:        def.DangerLevel,
			ResourceMultiplier: def.ResourceMultiplier,
			Capacity:           def.Capacity,
			Pool:               poolFromMap(def.Pool),
		}
	}
	w.publishView(0, "")
	return w, nil
}

func (w *World) ID() string                   { return w.cfg.ID }
func (w *World) Seed() int64                  { return w.cfg.Seed }
func (w *World) CurrentTick() uint64          { return w.tick.Load() }
func (w *World) Queue() *ActionQueue          { return w.queue }
func (w *World) Config() Config               { return w.cfg }
func (w *World) Catalogs() *catalogs.Catalogs { return w.cats }

// SetLedger wires the durable ledger. Must be called before Run.
func (w *World) SetLedger(l TickLedger) { w.ledger = l }

// SetAuditSink wires the rejected-action diagnostic stream (optional).
func (w *World) SetAuditSink(a AuditSink) { w.audit = a }

// SetSnapshotSink wires the off-thread snapshot writer (optional).
func (w *World) SetSnapshotSink(ch chan<- ExportedSnapshot) { w.snapshotSink = ch }

// Register queues a registration for the next tick boundary.
func (w *World) Register(req RegisterRequest) { w.register <- req }

// Attach re-binds a session delivery channel to an agent.
func (w *World) Attach(req AttachRequest) { w.attach <- req }

// Submit enqueues one agent action for the next tick. Fails immediately
// with ErrQueueFull when the bounded queue is at capacity.
func (w *World) Submit(a Action) error { return w.queue.Submit(a) }

// View returns the last fully committed state view. It is immutable: a new
// value is published only after a tick commits, so readers never observe a
// half-applied tick.
func (w *World) View() *protocol.StateView { return w.view.Load() }

func (w *World) newAgentID() string {
	w.nextAgentNum++
	return fmt.Sprintf("A%06d", w.nextAgentNum)
}

// noteAgentID bumps the agent counter past an externally supplied id
// (snapshot import and replay) so fresh ids never collide.
func (w *World) noteAgentID(id string) {
	var n uint64
	if _, err := fmt.Sscanf(id, "A%06d", &n); err != nil {
		return
	}
	if n > w.nextAgentNum {
		w.nextAgentNum = n
	}
}

func (w *World) nextSequence() uint64 {
	s := w.nextSeq
	w.nextSeq++
	return s
}

func poolFromMap(m map[string]float64) Pool {
	p := make(Pool, len(m))
	for k, v := range m {
		p[k] = v
	}
	return p
}

func (w *World) defaultPool() Pool {
	p := make(Pool, len(w.cats.Resources.Order))
	for _, res := range w.cats.Resources.Order {
		p[res] = w.cats.Resources.Defs[res].Initial
	}
	return p
}
