package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"observatory.world/internal/persistence/indexdb"
	"observatory.world/internal/persistence/ledger"
	"observatory.world/internal/persistence/snapshot"
	"observatory.world/internal/protocol"
	"observatory.world/internal/replay"
	"observatory.world/internal/sim/catalogs"
	"observatory.world/internal/sim/tuning"
	"observatory.world/internal/sim/world"
	"observatory.world/internal/transport/observer"
	"observatory.world/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		worldID    = flag.String("world", "", "world id (default: from world.yaml)")
		seed       = flag.Int64("seed", 0, "world seed override (default: from world.yaml)")
		configDir  = flag.String("configs", "./configs", "config directory")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to world.yaml (default: <configs>/world.yaml)")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite read-model index")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	tp := *tuningPath
	if tp == "" {
		tp = filepath.Join(*configDir, "world.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		logger.Fatalf("load tuning: %v", err)
	}
	if *worldID != "" {
		tune.WorldID = *worldID
	}
	if *seed != 0 {
		tune.Seed = *seed
	}

	cats, err := catalogs.Load(*configDir)
	if err != nil {
		logger.Fatalf("load catalogs: %v", err)
	}

	cfg := world.Config{
		ID:                 tune.WorldID,
		Seed:               tune.Seed,
		TickIntervalMs:     tune.TickIntervalMs,
		SnapshotEveryTicks: tune.SnapshotEveryTicks,
		QueueCapacity:      tune.QueueCapacity,
	}

	worldDir := filepath.Join(*dataDir, "worlds", cfg.ID)
	ledgerDir := filepath.Join(worldDir, "ledger")
	snapDir := filepath.Join(worldDir, "snapshots")
	auditDir := filepath.Join(worldDir, "audit")
	for _, d := range []string{ledgerDir, snapDir, auditDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			logger.Fatalf("mkdir %s: %v", d, err)
		}
	}

	// Recovery: rebuild the newest durable state from snapshot + ledger.
	// An incomplete trailing batch from a crash is discarded by the scan;
	// that tick never committed, so it never happened.
	rep := replay.New(cfg, cats, ledgerDir, snapDir)
	w, err := rep.Latest()
	if err != nil {
		logger.Fatalf("recover world: %v", err)
	}
	lastTick, lastSeq, err := ledger.Tail(ledgerDir)
	if err != nil {
		logger.Fatalf("ledger tail: %v", err)
	}
	if lastTick > 0 {
		logger.Printf("resumed world=%s tick=%d seq=%d digest=%s", cfg.ID, lastTick, lastSeq, w.StateDigest())
	} else {
		logger.Printf("fresh world=%s seed=%d", cfg.ID, cfg.Seed)
	}

	var idx *indexdb.SQLiteIndex
	if !*disableDB {
		idx, err = indexdb.OpenSQLite(filepath.Join(worldDir, "index.db"))
		if err != nil {
			logger.Fatalf("open index: %v", err)
		}
		defer idx.Close()
		if err := idx.UpsertCatalogs(*configDir, cats, tune); err != nil {
			logger.Printf("index: upsert catalogs: %v", err)
		}
	}

	ledgerWriter := ledger.NewWriter(ledgerDir, lastSeq)
	defer ledgerWriter.Close()
	w.SetLedger(multiLedger{durable: ledgerWriter, index: idx})

	auditLog, err := ledger.NewAuditLogger(auditDir)
	if err != nil {
		logger.Fatalf("open audit log: %v", err)
	}
	defer auditLog.Close()
	w.SetAuditSink(multiAudit{a: auditLog, idx: idx})

	ctx, cancel := signalContext()
	defer cancel()

	// Snapshot writer, off the tick loop.
	snapCh := make(chan world.ExportedSnapshot, 2)
	w.SetSnapshotSink(snapCh)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case snap := <-snapCh:
				path := snapshot.Path(snapDir, snap.Header.Tick)
				if err := snapshot.WriteSnapshot(path, snap); err != nil {
					logger.Printf("snapshot write: %v", err)
					continue
				}
				logger.Printf("snapshot tick=%d path=%s", snap.Header.Tick, filepath.Base(path))
				if idx != nil {
					idx.RecordSnapshot(path, snap)
				}
			}
		}
	}()

	go func() {
		if err := w.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("world stopped: %v", err)
			cancel()
		}
	}()

	schemas := protocol.MustLoadSchemas()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

		tick := w.CurrentTick()
		var live int
		if v := w.View(); v != nil {
			for _, a := range v.Agents {
				if a.Status == "CLAIMED" || a.Status == "PENDING" {
					live++
				}
			}
		}

		fmt.Fprintf(rw, "# HELP observatory_world_tick Current world tick.\n")
		fmt.Fprintf(rw, "# TYPE observatory_world_tick gauge\n")
		fmt.Fprintf(rw, "observatory_world_tick{world=%q} %d\n", cfg.ID, tick)

		fmt.Fprintf(rw, "# HELP observatory_world_agents_live Live (non-retired) agents.\n")
		fmt.Fprintf(rw, "# TYPE observatory_world_agents_live gauge\n")
		fmt.Fprintf(rw, "observatory_world_agents_live{world=%q} %d\n", cfg.ID, live)

		fmt.Fprintf(rw, "# HELP observatory_world_queue_depth Pending actions in the queue.\n")
		fmt.Fprintf(rw, "# TYPE observatory_world_queue_depth gauge\n")
		fmt.Fprintf(rw, "observatory_world_queue_depth{world=%q} %d\n", cfg.ID, w.Queue().Len())
	})
	mux.HandleFunc("/v1/ws", ws.NewServer(w, schemas, logger).Handler())
	observer.NewServer(w, idx, rep, logger).Register(mux)

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

// multiLedger fans a committed batch out to the durable writer and the
// read-model index. Only the durable writer's error matters: the index
// is best-effort and rebuildable from the ledger.
type multiLedger struct {
	durable world.TickLedger
	index   *indexdb.SQLiteIndex
}

func (m multiLedger) Append(events []world.Event) error {
	if err := m.durable.Append(events); err != nil {
		return err
	}
	if m.index != nil {
		m.index.WriteBatch(events)
	}
	return nil
}

type multiAudit struct {
	a   world.AuditSink
	idx *indexdb.SQLiteIndex
}

func (m multiAudit) WriteAudit(entry world.AuditEntry) error {
	if m.a != nil {
		_ = m.a.WriteAudit(entry)
	}
	if m.idx != nil {
		m.idx.WriteAudit(entry)
	}
	return nil
}
