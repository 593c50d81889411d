package voxel

import (
	"errors"
	"testing"
)

func TestStore_LoadSetUnload(t *testing.T) {
	s := NewStore()
	p := Vec3i{X: -1, Y: 70, Z: 17}

	if _, err := s.BlockAt(Primary, p); !errors.Is(err, ErrNotLoaded) {
		t.Fatalf("unloaded read err=%v", err)
	}
	s.LoadBox(Primary, p, p)
	if err := s.SetBlock(Primary, p, IceBlock); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := s.BlockAt(Primary, p)
	if err != nil || got != IceBlock {
		t.Fatalf("got %v err=%v", got, err)
	}
	// The neighbour across the section boundary is a different section.
	if s.Loaded(Primary, Vec3i{X: 0, Y: 70, Z: 17}) {
		t.Fatalf("x=0 should be in an unloaded section")
	}

	s.Unload(Primary, p)
	if _, err := s.BlockAt(Primary, p); !errors.Is(err, ErrNotLoaded) {
		t.Fatalf("parked read err=%v", err)
	}
	s.LoadBox(Primary, p, p)
	if got, _ := s.BlockAt(Primary, p); got != IceBlock {
		t.Fatalf("parked section lost contents: %v", got)
	}
}

func TestStore_OutOfBounds(t *testing.T) {
	s := NewStore()
	cases := []struct {
		dim Dimension
		y   int
	}{
		{Primary, -65},
		{Primary, 320},
		{Scorched, -1},
		{Rift, 256},
	}
	for _, tc := range cases {
		if _, err := s.BlockAt(tc.dim, Vec3i{Y: tc.y}); !errors.Is(err, ErrOutOfBounds) {
			t.Fatalf("%s y=%d err=%v", tc.dim, tc.y, err)
		}
	}
}

func TestStore_DigestTracksResidentContent(t *testing.T) {
	a, b := NewStore(), NewStore()
	min, max := Vec3i{X: -20, Y: 60, Z: -20}, Vec3i{X: 20, Y: 70, Z: 20}
	a.Fill(Primary, min, max, SourceWater)
	b.Fill(Primary, min, max, SourceWater)
	if a.Digest() != b.Digest() {
		t.Fatalf("equal stores hash differently")
	}
	_ = b.SetBlock(Primary, Vec3i{X: 3, Y: 64, Z: 3}, IceBlock)
	if a.Digest() == b.Digest() {
		t.Fatalf("digest did not change after a write")
	}
	_ = b.SetBlock(Primary, Vec3i{X: 3, Y: 64, Z: 3}, SourceWater)
	if a.Digest() != b.Digest() {
		t.Fatalf("digest did not return after reverting the write")
	}
}

func TestBlockPredicates(t *testing.T) {
	if !SourceWater.IsFreezableSource() || FlowingWater.IsFreezableSource() || IceBlock.IsFreezableSource() {
		t.Fatalf("only full-depth water freezes")
	}
	for _, k := range []Kind{Air, Water, Ice, PackedIce, Snow, AnchorEmpty, AnchorAlmostFull} {
		if !k.ColdPermeable() {
			t.Fatalf("%s should let cold through", k)
		}
	}
	for _, k := range []Kind{Stone, Dirt, Wood, AnchorFull} {
		if k.ColdPermeable() {
			t.Fatalf("%s should block cold", k)
		}
	}
	for n := 0; n < MaxStage; n++ {
		got, ok := StageOf(StageKind(n))
		if !ok || got != n {
			t.Fatalf("stage %d round trip: %d %v", n, got, ok)
		}
	}
	if _, ok := StageOf(AnchorFull); ok {
		t.Fatalf("terminal kind is not a live stage")
	}
	if StageKind(9) != AnchorFull || StageKind(-1) != AnchorEmpty {
		t.Fatalf("StageKind must clamp")
	}
	k, err := ParseKind("anchor_half")
	if err != nil || k != AnchorHalf {
		t.Fatalf("ParseKind: %v %v", k, err)
	}
	if _, err := ParseKind("lava"); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}

func TestParseBlock_InvertsString(t *testing.T) {
	for _, b := range []Block{AirBlock, SourceWater, FlowingWater, {Kind: Water, Depth: 7}, IceBlock, {Kind: AnchorQuarter}} {
		got, err := ParseBlock(b.String())
		if err != nil || got != b {
			t.Fatalf("ParseBlock(%q) = %v, %v", b.String(), got, err)
		}
	}
	if got, err := ParseBlock("water"); err != nil || got != SourceWater {
		t.Fatalf("bare water: %v %v", got, err)
	}
	for _, bad := range []string{"water/8", "water/x", "stone/1", "lava"} {
		if _, err := ParseBlock(bad); err == nil {
			t.Fatalf("ParseBlock(%q) should fail", bad)
		}
	}
}

func TestGeometry(t *testing.T) {
	a := Vec3i{X: 1, Y: 2, Z: 3}
	b := Vec3i{X: -2, Y: 6, Z: 3}
	if DistSq(a, b) != 25 || Chebyshev(a, b) != 4 {
		t.Fatalf("DistSq=%d Chebyshev=%d", DistSq(a, b), Chebyshev(a, b))
	}
	if Key(Scorched, a) != "1,2,3@scorched" {
		t.Fatalf("key=%q", Key(Scorched, a))
	}
	if FromArray(a.ToArray()) != a {
		t.Fatalf("array round trip")
	}
}
