package ws

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"frostanchor.ai/internal/protocol"
	"frostanchor.ai/internal/sim/anchors"
	"frostanchor.ai/internal/sim/voxel"
)

type fakeEngine struct {
	mu     sync.Mutex
	events []anchors.Event
	full   bool
	err    error
}

func (f *fakeEngine) Submit(ev anchors.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.full {
		return anchors.ErrBacklog
	}
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeEngine) RequestCensus(context.Context) (anchors.Census, error) {
	return anchors.Census{}, errors.New("not running")
}

func dialControl(t *testing.T, eng *fakeEngine) *websocket.Conn {
	t.Helper()
	s := NewServer(eng, "abc123", nil)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	if err := conn.WriteJSON(protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: protocol.Version, ClientName: "test"}); err != nil {
		t.Fatalf("hello: %v", err)
	}
	var welcome protocol.WelcomeMsg
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&welcome); err != nil {
		t.Fatalf("welcome: %v", err)
	}
	if welcome.Type != protocol.TypeWelcome || welcome.SessionID == "" || welcome.TuningDigest != "abc123" {
		t.Fatalf("welcome=%+v", welcome)
	}
	return conn
}

func send(t *testing.T, conn *websocket.Conn, act protocol.ActMsg) protocol.AckMsg {
	t.Helper()
	act.Type = protocol.TypeAct
	if act.ProtocolVersion == "" {
		act.ProtocolVersion = protocol.Version
	}
	if err := conn.WriteJSON(act); err != nil {
		t.Fatalf("write: %v", err)
	}
	var ack protocol.AckMsg
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&ack); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if ack.AckFor != act.ID {
		t.Fatalf("ack_for=%q want %q", ack.AckFor, act.ID)
	}
	return ack
}

func TestControl_ActsBecomeAppliedEvents(t *testing.T) {
	eng := &fakeEngine{}
	conn := dialControl(t, eng)

	if ack := send(t, conn, protocol.ActMsg{ID: "1", Kind: "place", Dim: "scorched", Pos: [3]int{1, 40, 2}, Block: "water"}); !ack.Accepted {
		t.Fatalf("place rejected: %+v", ack)
	}
	if ack := send(t, conn, protocol.ActMsg{ID: "2", Kind: "trigger", Pos: [3]int{0, 64, 0}}); !ack.Accepted {
		t.Fatalf("trigger rejected: %+v", ack)
	}

	eng.mu.Lock()
	defer eng.mu.Unlock()
	if len(eng.events) != 2 {
		t.Fatalf("events=%d", len(eng.events))
	}
	place := eng.events[0]
	if place.Kind != anchors.EventPlace || place.Dim != voxel.Scorched || !place.Apply || place.Block != voxel.SourceWater {
		t.Fatalf("place event=%+v", place)
	}
	if eng.events[1].Dim != voxel.Primary || eng.events[1].Kind != anchors.EventTrigger {
		t.Fatalf("trigger event=%+v", eng.events[1])
	}
}

func TestControl_RejectsInvalidActs(t *testing.T) {
	eng := &fakeEngine{}
	conn := dialControl(t, eng)

	cases := []struct {
		act  protocol.ActMsg
		code string
	}{
		{protocol.ActMsg{ID: "v", ProtocolVersion: "0.1", Kind: "trigger"}, protocol.ErrProtoBadRequest},
		{protocol.ActMsg{ID: "k", Kind: "explode"}, protocol.ErrBadRequest},
		{protocol.ActMsg{ID: "p", Kind: "place"}, protocol.ErrBadRequest},
		{protocol.ActMsg{ID: "b", Kind: "place", Block: "lava"}, protocol.ErrInvalidTarget},
		{protocol.ActMsg{ID: "d", Kind: "place", Block: "stone", Depth: 3}, protocol.ErrInvalidTarget},
	}
	for _, tc := range cases {
		ack := send(t, conn, tc.act)
		if ack.Accepted || ack.Code != tc.code || !protocol.IsKnownCode(ack.Code) {
			t.Fatalf("%s: ack=%+v want code %s", tc.act.ID, ack, tc.code)
		}
	}

	eng.mu.Lock()
	eng.full = true
	eng.mu.Unlock()
	if ack := send(t, conn, protocol.ActMsg{ID: "f", Kind: "interact"}); ack.Accepted || ack.Code != protocol.ErrBusy {
		t.Fatalf("backlog ack=%+v", ack)
	}
	eng.mu.Lock()
	eng.full, eng.err = false, errors.New("engine stopped")
	eng.mu.Unlock()
	if ack := send(t, conn, protocol.ActMsg{ID: "s", Kind: "trigger"}); ack.Accepted || ack.Code != protocol.ErrInternal {
		t.Fatalf("stopped engine ack=%+v", ack)
	}
	eng.mu.Lock()
	defer eng.mu.Unlock()
	if len(eng.events) != 0 {
		t.Fatalf("rejected acts reached the engine: %+v", eng.events)
	}
}

func TestControl_RequiresHello(t *testing.T) {
	s := NewServer(&fakeEngine{}, "", nil)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.WriteJSON(protocol.ActMsg{Type: protocol.TypeAct, ProtocolVersion: protocol.Version, ID: "x", Kind: "trigger"})
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("err=%v want policy violation close", err)
	}
}
