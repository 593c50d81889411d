package voxel

import (
	"fmt"
	"strings"
)

// Climate is the environment classification that gates freeze/melt rates.
type Climate uint8

const (
	ClimateUnknown Climate = iota
	Cold
	Temperate
	Warm
)

func (c Climate) String() string {
	switch c {
	case Cold:
		return "cold"
	case Temperate:
		return "temperate"
	case Warm:
		return "warm"
	default:
		return "unknown"
	}
}

func ParseClimate(s string) (Climate, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cold":
		return Cold, nil
	case "temperate":
		return Temperate, nil
	case "warm":
		return Warm, nil
	}
	return ClimateUnknown, fmt.Errorf("unknown climate %q", s)
}

// Dimension is one of the parallel world-spaces. Each has its own block space and
// anchors never interact across dimensions.
type Dimension uint8

const (
	Primary Dimension = iota
	Scorched
	Rift
)

var Dimensions = []Dimension{Primary, Scorched, Rift}

func (d Dimension) String() string {
	switch d {
	case Primary:
		return "primary"
	case Scorched:
		return "scorched"
	case Rift:
		return "rift"
	default:
		return fmt.Sprintf("dim%d", uint8(d))
	}
}

func ParseDimension(s string) (Dimension, error) {
	for _, d := range Dimensions {
		if d.String() == strings.ToLower(strings.TrimSpace(s)) {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown dimension %q", s)
}

// FixedClimate reports the hardcoded classification of a dimension. The primary
// dimension has none; its climate varies by location and must be probed.
func (d Dimension) FixedClimate() (Climate, bool) {
	switch d {
	case Scorched:
		return Warm, true
	case Rift:
		return Temperate, true
	}
	return ClimateUnknown, false
}

// Range is the buildable height of a dimension, [min, max).
type Range [2]int

func (r Range) Contains(y int) bool { return y >= r[0] && y < r[1] }

func (d Dimension) Range() Range {
	if d == Primary {
		return Range{-64, 320}
	}
	return Range{0, 256}
}

// WaterEvaporates is true where loose water cannot survive without an anchor nearby.
// Anchors there never freeze; they keep water alive instead.
func (d Dimension) WaterEvaporates() bool { return d == Scorched }
