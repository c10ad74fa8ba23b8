package gcode

import "github.com/atsju/ArcWelderLib/internal/geom"

// Segment is one candidate motion move: start/end point, extrusion delta
// and feedrate, plus a reference to the command it came from (SPEC_FULL.md
// §3 "Motion segment"). Invariant: DeltaE >= 0 (extruding) or DeltaE == 0
// (travel) within a single run — enforced by internal/window, not here.
type Segment struct {
	Start, End       geom.Point
	DeltaE           float64
	Feedrate         float64
	FeedrateExplicit bool
	Source           Command
}

// Length returns the 3D chord length of the segment.
func (s Segment) Length() float64 {
	d := s.End.Sub(s.Start)
	return d.Len()
}

// IsTravel reports whether the segment carries no extrusion.
func (s Segment) IsTravel() bool { return s.DeltaE == 0 }

// IsExtruding reports whether the segment extrudes (DeltaE > 0).
func (s Segment) IsExtruding() bool { return s.DeltaE > 0 }

// IsRetracting reports whether the segment retracts (DeltaE < 0).
func (s Segment) IsRetracting() bool { return s.DeltaE < 0 }
