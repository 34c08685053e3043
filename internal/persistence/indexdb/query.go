package indexdb

import (
	"database/sql"
	"encoding/json"

	"observatory.world/internal/sim/world"
)

// Query methods run on the same connection as the async writer; writes
// batched in an open transaction are not yet visible. That lag is
// bounded by the writer's commit interval and acceptable for a read
// model.

func (s *SQLiteIndex) EventsByTick(tick uint64) ([]world.Event, error) {
	rows, err := s.db.Query(`SELECT raw_json FROM events WHERE tick = ? ORDER BY seq`, int64(tick))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *SQLiteIndex) EventsByAgent(agentID string, fromTick, toTick uint64, limit int) ([]world.Event, error) {
	if limit <= 0 || limit > 10000 {
		limit = 10000
	}
	rows, err := s.db.Query(
		`SELECT raw_json FROM events
		 WHERE tick BETWEEN ? AND ?
		   AND (','||agent_ids||',') LIKE ('%,'||?||',%')
		 ORDER BY seq LIMIT ?`,
		int64(fromTick), int64(toTick), agentID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

type TickSummary struct {
	Tick             uint64 `json:"tick"`
	Digest           string `json:"digest"`
	ActionsProcessed int    `json:"actions_processed"`
	ActionsRejected  int    `json:"actions_rejected"`
	AgentsLive       int    `json:"agents_live"`
	Deaths           int    `json:"deaths"`
}

func (s *SQLiteIndex) TickSummaries(fromTick, toTick uint64, limit int) ([]TickSummary, error) {
	if limit <= 0 || limit > 10000 {
		limit = 10000
	}
	rows, err := s.db.Query(
		`SELECT tick, digest, actions_processed, actions_rejected, agents_live, deaths
		 FROM ticks WHERE tick BETWEEN ? AND ? ORDER BY tick LIMIT ?`,
		int64(fromTick), int64(toTick), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TickSummary
	for rows.Next() {
		var t TickSummary
		if err := rows.Scan(&t.Tick, &t.Digest, &t.ActionsProcessed, &t.ActionsRejected, &t.AgentsLive, &t.Deaths); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

type AuditRow struct {
	Tick    uint64 `json:"tick"`
	AgentID string `json:"agent_id"`
	Action  string `json:"action"`
	Code    string `json:"code"`
}

func (s *SQLiteIndex) AuditsByAgent(agentID string, limit int) ([]AuditRow, error) {
	if limit <= 0 || limit > 10000 {
		limit = 10000
	}
	rows, err := s.db.Query(
		`SELECT tick, agent_id, action, code FROM audits
		 WHERE agent_id = ? ORDER BY tick DESC, seq DESC LIMIT ?`,
		agentID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AuditRow
	for rows.Next() {
		var a AuditRow
		if err := rows.Scan(&a.Tick, &a.AgentID, &a.Action, &a.Code); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// SnapshotAtOrBefore returns the path of the newest recorded snapshot
// whose tick does not exceed target, or "" when none exists.
func (s *SQLiteIndex) SnapshotAtOrBefore(target uint64) (path string, tick uint64, err error) {
	row := s.db.QueryRow(
		`SELECT path, tick FROM snapshots WHERE tick <= ? ORDER BY tick DESC LIMIT 1`,
		int64(target),
	)
	switch err := row.Scan(&path, &tick); err {
	case nil:
		return path, tick, nil
	case sql.ErrNoRows:
		return "", 0, nil
	default:
		return "", 0, err
	}
}

func scanEvents(rows *sql.Rows) ([]world.Event, error) {
	var out []world.Event
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var ev world.Event
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
