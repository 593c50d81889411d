package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"frostanchor.ai/internal/protocol"
	"frostanchor.ai/internal/sim/anchors"
	"frostanchor.ai/internal/sim/voxel"
)

// Engine is what the control socket feeds. Both calls are safe from any goroutine.
type Engine interface {
	Submit(ev anchors.Event) error
	RequestCensus(ctx context.Context) (anchors.Census, error)
}

// Server accepts host events over a websocket: a client says HELLO, then sends ACT
// messages and receives one ACK per ACT. Accepted events are applied at the start of
// the engine's next tick.
type Server struct {
	eng          Engine
	log          *slog.Logger
	tuningDigest string

	upgrader websocket.Upgrader
	nextID   atomic.Uint64
}

func NewServer(eng Engine, tuningDigest string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{
		eng:          eng,
		log:          logger,
		tuningDigest: tuningDigest,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
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

		sid, out := s.handshake(r.Context(), conn)
		if sid == "" {
			return
		}
		s.log.Info("control session opened", "session", sid)
		defer s.log.Info("control session closed", "session", sid)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b := <-out:
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
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				break
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil || base.Type != protocol.TypeAct {
				continue
			}
			ack := s.act(msg)
			b, _ := json.Marshal(ack)
			select {
			case out <- b:
			case <-ctx.Done():
			}
		}
	}
}

// act validates one ACT and submits it.
func (s *Server) act(msg []byte) protocol.AckMsg {
	ack := protocol.AckMsg{Type: protocol.TypeAck, ProtocolVersion: protocol.Version}
	var act protocol.ActMsg
	if err := json.Unmarshal(msg, &act); err != nil {
		ack.Code, ack.Message = protocol.ErrProtoBadRequest, "bad json"
		return ack
	}
	ack.AckFor = act.ID
	if act.ProtocolVersion != protocol.Version {
		ack.Code, ack.Message = protocol.ErrProtoBadRequest, "bad protocol_version"
		return ack
	}
	if err := protocol.ValidateAct(msg); err != nil {
		ack.Code, ack.Message = protocol.ErrBadRequest, err.Error()
		return ack
	}
	ev, err := toEvent(act)
	if err != nil {
		ack.Code, ack.Message = protocol.ErrInvalidTarget, err.Error()
		return ack
	}
	if err := s.eng.Submit(ev); err != nil {
		ack.Code = protocol.ErrInternal
		if errors.Is(err, anchors.ErrBacklog) {
			ack.Code = protocol.ErrBusy
		}
		ack.Message = err.Error()
		return ack
	}
	ack.Accepted = true
	return ack
}

func toEvent(act protocol.ActMsg) (anchors.Event, error) {
	ev := anchors.Event{Dim: voxel.Primary, Pos: voxel.FromArray(act.Pos), Apply: true}
	if act.Dim != "" {
		d, err := voxel.ParseDimension(act.Dim)
		if err != nil {
			return ev, err
		}
		ev.Dim = d
	}
	switch act.Kind {
	case "place":
		k, err := voxel.ParseKind(act.Block)
		if err != nil {
			return ev, err
		}
		if k != voxel.Water && act.Depth != 0 {
			return ev, fmt.Errorf("depth only applies to water")
		}
		ev.Kind = anchors.EventPlace
		ev.Block = voxel.Block{Kind: k, Depth: uint8(act.Depth)}
	case "break":
		ev.Kind = anchors.EventBreak
	case "trigger":
		ev.Kind = anchors.EventTrigger
	case "interact":
		ev.Kind = anchors.EventInteract
	default:
		return ev, fmt.Errorf("unknown kind %q", act.Kind)
	}
	return ev, nil
}

func (s *Server) handshake(ctx context.Context, conn *websocket.Conn) (sid string, out chan []byte) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"), time.Now().Add(time.Second))
		return "", nil
	}

	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return "", nil
	}
	if hello.ProtocolVersion != protocol.Version {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"), time.Now().Add(time.Second))
		return "", nil
	}

	maxQ := hello.MaxQueue
	if maxQ <= 0 {
		maxQ = 8
	}
	if maxQ > 64 {
		maxQ = 64
	}
	out = make(chan []byte, maxQ)

	sid = fmt.Sprintf("C%d", s.nextID.Add(1))
	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       sid,
		TuningDigest:    s.tuningDigest,
	}
	cctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if c, err := s.eng.RequestCensus(cctx); err == nil {
		welcome.Tick = c.Tick
	}
	if err := writeJSON(conn, welcome); err != nil {
		return "", nil
	}
	return sid, out
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
