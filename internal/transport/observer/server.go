package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"frostanchor.ai/internal/observerproto"
	"frostanchor.ai/internal/sim/anchors"
	"frostanchor.ai/internal/sim/voxel"
)

// Engine is the slice of the anchor engine the feed needs. All calls are safe from any
// goroutine.
type Engine interface {
	Submit(ev anchors.Event) error
	Leave(id string)
	RequestCensus(ctx context.Context) (anchors.Census, error)
}

// Server streams engine mutations to websocket observers. Every connected observer is
// also an engine observer, so its position drives reconciliation sweeps and stray ice
// decay. Server implements anchors.Sink.
type Server struct {
	eng        Engine
	log        *slog.Logger
	tickRateHz int

	upgrader websocket.Upgrader
	nextID   atomic.Uint64
	dropped  atomic.Uint64

	mu       sync.RWMutex
	sessions map[string]*session
}

type session struct {
	id     string
	out    chan []byte
	dim    voxel.Dimension
	pos    voxel.Vec3i
	radius int
}

func NewServer(eng Engine, tickRateHz int, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{
		eng:        eng,
		log:        logger,
		tickRateHz: tickRateHz,
		sessions:   map[string]*session{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

// Record forwards m to every observer whose area contains it. It never blocks; a slow
// observer loses messages.
func (s *Server) Record(m anchors.Mutation) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.sessions) == 0 {
		return
	}
	pos := voxel.FromArray(m.Pos)
	var b []byte
	for _, ss := range s.sessions {
		if ss.dim != m.Dim || voxel.Chebyshev(ss.pos, pos) > ss.radius {
			continue
		}
		if b == nil {
			b, _ = json.Marshal(observerproto.MutationMsg{
				Type:            "MUTATION",
				ProtocolVersion: observerproto.Version,
				Tick:            m.Tick,
				Dim:             m.DimID,
				Pos:             m.Pos,
				From:            m.From,
				To:              m.To,
				Anchor:          m.Anchor,
				Reason:          m.Reason,
			})
		}
		select {
		case ss.out <- b:
		default:
			s.dropped.Add(1)
		}
	}
}

// Sessions reports how many observers are connected.
func (s *Server) Sessions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Dropped reports how many messages were lost to slow observers.
func (s *Server) Dropped() uint64 { return s.dropped.Load() }

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		c, err := s.eng.RequestCensus(ctx)
		if err != nil {
			http.Error(rw, err.Error(), http.StatusServiceUnavailable)
			return
		}

		resp := observerproto.BootstrapResponse{
			ProtocolVersion: observerproto.Version,
			Tick:            c.Tick,
			TickRateHz:      s.tickRateHz,
			Anchors:         len(c.Anchors),
			PendingProbes:   c.PendingProbes,
		}
		for _, d := range voxel.Dimensions {
			resp.Dimensions = append(resp.Dimensions, d.String())
		}
		for k := voxel.Air; k <= voxel.AnchorFull; k++ {
			resp.BlockKinds = append(resp.BlockKinds, k.String())
		}

		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		dim, pos, radius, err := decodeSubscribe(msg)
		if err != nil {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()), time.Now().Add(time.Second))
			return
		}

		sid := fmt.Sprintf("O%d", s.nextID.Add(1))
		if err := s.eng.Submit(anchors.Event{Kind: anchors.EventObserverJoin, Dim: dim, Pos: pos, Observer: sid}); err != nil {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "server busy"), time.Now().Add(time.Second))
			return
		}
		ss := &session{id: sid, out: make(chan []byte, 1024), dim: dim, pos: pos, radius: radius}
		s.mu.Lock()
		s.sessions[sid] = ss
		s.mu.Unlock()
		s.log.Info("observer joined", "session", sid, "dim", dim, "pos", pos)

		defer func() {
			s.eng.Leave(sid)
			s.mu.Lock()
			delete(s.sessions, sid)
			s.mu.Unlock()
			s.log.Info("observer left", "session", sid)
		}()

		var tick uint64
		cctx, ccancel := context.WithTimeout(r.Context(), time.Second)
		if c, err := s.eng.RequestCensus(cctx); err == nil {
			tick = c.Tick
		}
		ccancel()
		if err := writeJSON(conn, observerproto.WelcomeMsg{
			Type:            "WELCOME",
			ProtocolVersion: observerproto.Version,
			SessionID:       sid,
			Tick:            tick,
			Radius:          radius,
		}); err != nil {
			return
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine.
		writeErr := make(chan error, 1)
		go func() {
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b := <-ss.out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						writeErr <- err
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop: SUBSCRIBE again to move.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			dim, pos, radius, err := decodeSubscribe(msg)
			if err != nil {
				continue
			}
			s.mu.Lock()
			ss.dim, ss.pos, ss.radius = dim, pos, radius
			s.mu.Unlock()
			if err := s.eng.Submit(anchors.Event{Kind: anchors.EventObserverMove, Dim: dim, Pos: pos, Observer: sid}); err != nil {
				// Dropped under load; the client may resend.
				s.log.Debug("observer move dropped", "session", sid, "err", err)
			}
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func decodeSubscribe(msg []byte) (voxel.Dimension, voxel.Vec3i, int, error) {
	var sub observerproto.SubscribeMsg
	if err := json.Unmarshal(msg, &sub); err != nil {
		return 0, voxel.Vec3i{}, 0, fmt.Errorf("bad subscribe")
	}
	if sub.Type != "SUBSCRIBE" || sub.ProtocolVersion != observerproto.Version {
		return 0, voxel.Vec3i{}, 0, fmt.Errorf("expected SUBSCRIBE")
	}
	dim := voxel.Primary
	if sub.Dim != "" {
		d, err := voxel.ParseDimension(sub.Dim)
		if err != nil {
			return 0, voxel.Vec3i{}, 0, fmt.Errorf("bad dim")
		}
		dim = d
	}
	return dim, voxel.FromArray(sub.Pos), normalizeRadius(sub.Radius), nil
}

func normalizeRadius(r int) int {
	if r <= 0 {
		return 16
	}
	if r > 128 {
		return 128
	}
	return r
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
