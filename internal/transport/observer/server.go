package observer

import (
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"

	"observatory.world/internal/persistence/indexdb"
	"observatory.world/internal/replay"
	"observatory.world/internal/sim/world"
)

// Server is the read-only operator surface: the latest committed state
// view, indexed ledger queries, and on-demand historical replays. It
// never mutates the world and is safe to hit while the sim is running.
type Server struct {
	world  *world.World
	index  *indexdb.SQLiteIndex
	replay *replay.Engine
	log    *log.Logger
}

func NewServer(w *world.World, index *indexdb.SQLiteIndex, rep *replay.Engine, logger *log.Logger) *Server {
	return &Server{world: w, index: index, replay: rep, log: logger}
}

func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/v1/state", s.guard(s.handleState))
	mux.HandleFunc("/v1/ticks", s.guard(s.handleTicks))
	mux.HandleFunc("/v1/events", s.guard(s.handleEvents))
	mux.HandleFunc("/v1/audits", s.guard(s.handleAudits))
	mux.HandleFunc("/v1/replay", s.guard(s.handleReplay))
}

func (s *Server) guard(h http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		h(rw, r)
	}
}

// handleState returns the last fully committed world view. The view is
// published atomically at tick commit, so readers never see a half tick.
func (s *Server) handleState(rw http.ResponseWriter, r *http.Request) {
	view := s.world.View()
	if view == nil {
		http.Error(rw, "no committed state yet", http.StatusServiceUnavailable)
		return
	}
	writeJSON(rw, view)
}

func (s *Server) handleTicks(rw http.ResponseWriter, r *http.Request) {
	if s.index == nil {
		http.Error(rw, "index disabled", http.StatusNotImplemented)
		return
	}
	from := queryUint(r, "from", 0)
	to := queryUint(r, "to", s.world.CurrentTick())
	limit := int(queryUint(r, "limit", 500))
	out, err := s.index.TickSummaries(from, to, limit)
	if err != nil {
		http.Error(rw, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(rw, out)
}

func (s *Server) handleEvents(rw http.ResponseWriter, r *http.Request) {
	if s.index == nil {
		http.Error(rw, "index disabled", http.StatusNotImplemented)
		return
	}
	if agent := r.URL.Query().Get("agent"); agent != "" {
		from := queryUint(r, "from", 0)
		to := queryUint(r, "to", s.world.CurrentTick())
		limit := int(queryUint(r, "limit", 500))
		out, err := s.index.EventsByAgent(agent, from, to, limit)
		if err != nil {
			http.Error(rw, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(rw, out)
		return
	}
	tickStr := r.URL.Query().Get("tick")
	if tickStr == "" {
		http.Error(rw, "need tick= or agent=", http.StatusBadRequest)
		return
	}
	tick, err := strconv.ParseUint(tickStr, 10, 64)
	if err != nil {
		http.Error(rw, "bad tick", http.StatusBadRequest)
		return
	}
	out, err := s.index.EventsByTick(tick)
	if err != nil {
		http.Error(rw, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(rw, out)
}

func (s *Server) handleAudits(rw http.ResponseWriter, r *http.Request) {
	if s.index == nil {
		http.Error(rw, "index disabled", http.StatusNotImplemented)
		return
	}
	agent := r.URL.Query().Get("agent")
	if agent == "" {
		http.Error(rw, "need agent=", http.StatusBadRequest)
		return
	}
	limit := int(queryUint(r, "limit", 200))
	out, err := s.index.AuditsByAgent(agent, limit)
	if err != nil {
		http.Error(rw, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(rw, out)
}

// handleReplay rebuilds the world as of ?tick= in a throwaway replica and
// returns its view. An integrity failure is reported as 409: the ledger
// disagrees with its own digests and nothing auto-corrects that.
func (s *Server) handleReplay(rw http.ResponseWriter, r *http.Request) {
	if s.replay == nil {
		http.Error(rw, "replay disabled", http.StatusNotImplemented)
		return
	}
	tickStr := r.URL.Query().Get("tick")
	if tickStr == "" {
		http.Error(rw, "need tick=", http.StatusBadRequest)
		return
	}
	tick, err := strconv.ParseUint(tickStr, 10, 64)
	if err != nil {
		http.Error(rw, "bad tick", http.StatusBadRequest)
		return
	}
	w, err := s.replay.StateAt(tick)
	if err != nil {
		status := http.StatusInternalServerError
		var ierr *world.IntegrityError
		if errors.As(err, &ierr) {
			status = http.StatusConflict
		}
		http.Error(rw, err.Error(), status)
		return
	}
	writeJSON(rw, w.View())
}

func writeJSON(rw http.ResponseWriter, v any) {
	rw.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(rw).Encode(v)
}

func queryUint(r *http.Request, key string, def uint64) uint64 {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return def
	}
	return v
}

func isLoopbackRemote(remote string) bool {
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		host = remote
	}
	host = strings.Trim(host, "[]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
