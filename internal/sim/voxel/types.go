package voxel

import (
	"fmt"

	"frostanchor.ai/internal/sim/voxel/mathx"
)

type Vec3i struct {
	X int
	Y int
	Z int
}

func (v Vec3i) ToArray() [3]int { return [3]int{v.X, v.Y, v.Z} }

func (v Vec3i) Add(o Vec3i) Vec3i { return Vec3i{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z} }

func (v Vec3i) String() string { return fmt.Sprintf("%d,%d,%d", v.X, v.Y, v.Z) }

func FromArray(a [3]int) Vec3i { return Vec3i{X: a[0], Y: a[1], Z: a[2]} }

// Axis-aligned neighbour offsets, +X first.
var Neighbors6 = [6]Vec3i{
	{X: 1}, {X: -1},
	{Y: 1}, {Y: -1},
	{Z: 1}, {Z: -1},
}

func DistSq(a, b Vec3i) int {
	dx := a.X - b.X
	dy := a.Y - b.Y
	dz := a.Z - b.Z
	return dx*dx + dy*dy + dz*dz
}

func Chebyshev(a, b Vec3i) int {
	d := mathx.AbsInt(a.X - b.X)
	if v := mathx.AbsInt(a.Y - b.Y); v > d {
		d = v
	}
	if v := mathx.AbsInt(a.Z - b.Z); v > d {
		d = v
	}
	return d
}

// Key is the canonical registry key for a cell: "x,y,z@dim".
func Key(dim Dimension, pos Vec3i) string {
	return pos.String() + "@" + dim.String()
}
