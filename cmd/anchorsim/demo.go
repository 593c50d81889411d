package main

import (
	"frostanchor.ai/internal/sim/anchors"
	"frostanchor.ai/internal/sim/voxel"
)

// demoArea is the box kept resident for fresh worlds.
var (
	demoMin = voxel.Vec3i{X: -32, Y: 32, Z: -32}
	demoMax = voxel.Vec3i{X: 31, Y: 95, Z: 31}
)

// seedDemo lays out a stone basin holding a 9x9 source-water pond at y=63 with three
// anchors on its rim, plus a small pool in the scorched dimension. It returns
// the anchor positions; the caller registers them with the engine.
func seedDemo(w *voxel.World) []voxel.Vec3i {
	for _, dim := range voxel.Dimensions {
		w.LoadBox(dim, demoMin, demoMax)
	}
	w.Fill(voxel.Primary, voxel.Vec3i{X: -6, Y: 62, Z: -6}, voxel.Vec3i{X: 6, Y: 62, Z: 6}, voxel.StoneBlock)
	w.Fill(voxel.Primary, voxel.Vec3i{X: -5, Y: 63, Z: -5}, voxel.Vec3i{X: 5, Y: 63, Z: 5}, voxel.StoneBlock)
	w.Fill(voxel.Primary, voxel.Vec3i{X: -4, Y: 63, Z: -4}, voxel.Vec3i{X: 4, Y: 63, Z: 4}, voxel.SourceWater)

	w.Fill(voxel.Scorched, voxel.Vec3i{X: -2, Y: 40, Z: -2}, voxel.Vec3i{X: 2, Y: 40, Z: 2}, voxel.StoneBlock)
	w.Fill(voxel.Scorched, voxel.Vec3i{X: -1, Y: 41, Z: -1}, voxel.Vec3i{X: 1, Y: 41, Z: 1}, voxel.SourceWater)

	rim := []voxel.Vec3i{{X: -5, Y: 64, Z: 0}, {X: 5, Y: 64, Z: 0}, {X: 0, Y: 64, Z: 5}}
	for _, p := range rim {
		_ = w.SetBlock(voxel.Primary, p, voxel.Block{Kind: voxel.AnchorEmpty})
	}
	return rim
}

// demoDriver triggers the demo anchors in turn so a fresh demo world keeps changing. A
// rim cell whose anchor has converted or been removed gets a new empty anchor instead.
// It runs on the simulation goroutine from AfterStep.
type demoDriver struct {
	eng     *anchors.Engine
	world   *voxel.World
	anchors []voxel.Vec3i
	every   uint64
	next    int
}

func (d *demoDriver) afterStep(tick uint64) {
	if d == nil || len(d.anchors) == 0 || d.every == 0 || tick%d.every != 0 {
		return
	}
	p := d.anchors[d.next%len(d.anchors)]
	d.next++
	if b, err := d.world.BlockAt(voxel.Primary, p); err == nil && !b.Kind.IsAnchor() {
		d.eng.Handle(anchors.Event{Kind: anchors.EventPlace, Dim: voxel.Primary, Pos: p, Block: voxel.Block{Kind: voxel.AnchorEmpty}, Apply: true})
		return
	}
	d.eng.HandleTrigger(voxel.Primary, p)
}
