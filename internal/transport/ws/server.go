package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"observatory.world/internal/protocol"
	"observatory.world/internal/sim/world"
)

// Server bridges WebSocket sessions to the world engine. It owns no
// simulation state: inbound ACTs are schema-validated and queued, and
// everything outbound arrives on the per-session channel the engine
// writes to at tick commit.
type Server struct {
	world   *world.World
	schemas *protocol.Schemas
	log     *log.Logger

	upgrader websocket.Upgrader
}

func NewServer(w *world.World, schemas *protocol.Schemas, logger *log.Logger) *Server {
	return &Server{
		world:   w,
		schemas: schemas,
		log:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sessionID := uuid.NewString()
		agentID, out := s.handshake(conn, sessionID)
		if agentID == "" {
			return
		}
		s.log.Printf("ws session=%s agent=%s connected", sessionID, agentID)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b, ok := <-out:
					if !ok {
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				break
			}
			s.handleAct(out, agentID, msg)
		}
		s.log.Printf("ws session=%s agent=%s disconnected", sessionID, agentID)
	}
}

// handleAct validates and queues one inbound ACT. All outbound frames,
// error frames included, go through the session channel so the writer
// goroutine stays the connection's only writer.
func (s *Server) handleAct(out chan []byte, agentID string, msg []byte) {
	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeAct {
		s.sendError(out, protocol.ErrProtoBadRequest, "expected ACT")
		return
	}
	if base.ProtocolVersion != protocol.Version {
		s.sendError(out, protocol.ErrProtoBadRequest, "bad protocol_version")
		return
	}
	if err := s.schemas.ValidateAct(msg); err != nil {
		s.sendError(out, protocol.ErrProtoBadRequest, err.Error())
		return
	}
	var act protocol.ActMsg
	if err := json.Unmarshal(msg, &act); err != nil {
		s.sendError(out, protocol.ErrProtoBadRequest, "malformed ACT")
		return
	}

	a := world.Action{
		Type:          world.ActionType(act.Action),
		AgentID:       agentID, // session identity wins over the payload
		SubmittedTick: s.world.CurrentTick(),
		Owner:         act.Owner,
		ToRegion:      act.ToRegion,
		Counterpart:   act.Counterpart,
		Resource:      act.Resource,
		Amount:        act.Amount,
		ToRegionPool:  act.ToRegionPool,
		Content:       act.Content,
	}
	if err := s.world.Submit(a); err != nil {
		if errors.Is(err, world.ErrQueueFull) {
			s.sendError(out, protocol.ErrQueueFull, "action queue full, retry next tick")
			return
		}
		s.sendError(out, protocol.ErrProtoBadRequest, err.Error())
	}
}

// handshake reads HELLO and either registers a new agent or re-attaches
// to an existing one. A new agent is PENDING until its owner CLAIMs it.
func (s *Server) handshake(conn *websocket.Conn, sessionID string) (agentID string, out chan []byte) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		closePolicy(conn, "expected HELLO")
		return "", nil
	}
	if base.ProtocolVersion != protocol.Version {
		closePolicy(conn, "bad protocol_version")
		return "", nil
	}
	if err := s.schemas.ValidateHello(msg); err != nil {
		closePolicy(conn, "invalid HELLO")
		return "", nil
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return "", nil
	}
	if hello.AgentName == "" {
		hello.AgentName = "agent"
	}

	out = make(chan []byte, 16)

	var welcome protocol.WelcomeMsg
	if hello.AgentID != "" {
		// Reconnect to an existing agent.
		respCh := make(chan error, 1)
		s.world.Attach(world.AttachRequest{AgentID: hello.AgentID, Out: out, Resp: respCh})
		if err := <-respCh; err != nil {
			closePolicy(conn, "unknown agent_id")
			return "", nil
		}
		welcome = s.welcomeFor(hello.AgentID, sessionID)
	} else {
		respCh := make(chan world.RegisterResponse, 1)
		s.world.Register(world.RegisterRequest{Name: hello.AgentName, Out: out, Resp: respCh})
		// Registration commits at the next tick boundary; the response
		// arrives only after that tick's ledger batch is durable.
		resp := <-respCh
		welcome = s.welcomeFor(resp.AgentID, sessionID)
		welcome.SpawnRegion = resp.Region
		welcome.Tick = resp.Tick
	}

	if err := writeJSON(conn, welcome); err != nil {
		return "", nil
	}
	return welcome.AgentID, out
}

func (s *Server) welcomeFor(agentID, sessionID string) protocol.WelcomeMsg {
	cfg := s.world.Config()
	cats := s.world.Catalogs()
	return protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       sessionID,
		AgentID:         agentID,
		SpawnRegion:     cats.Regions.SpawnRegion,
		Tick:            s.world.CurrentTick(),
		WorldParams: protocol.WorldParams{
			WorldID:        cfg.ID,
			TickIntervalMs: cfg.TickIntervalMs,
			Seed:           cfg.Seed,
		},
		Catalogs: protocol.CatalogDigests{
			RegionsDigest:   cats.Regions.Digest,
			ResourcesDigest: cats.Resources.Digest,
		},
	}
}

func (s *Server) sendError(out chan []byte, code, message string) {
	b, err := json.Marshal(protocol.ErrorMsg{Type: protocol.TypeError, Code: code, Message: message})
	if err != nil {
		return
	}
	select {
	case out <- b:
	default:
		// Error frames are advisory; a backed-up session drops them.
	}
}

func closePolicy(conn *websocket.Conn, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason),
		time.Now().Add(time.Second))
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
