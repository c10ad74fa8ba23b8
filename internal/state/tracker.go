// Package state implements the printer state tracker (SPEC_FULL.md §3,
// §4.2): current absolute position, units, positioning mode, extruder
// mode, sticky feedrate and selected tool, updated on every command.
//
// Generalized from the teacher's project/extras_gcode_move.go (GCodeMove)
// — same bookkeeping fields (absolute_coord, absolute_extrude,
// base_position, last_position, speed, extrude_factor) — from a live
// kinematic object driving a toolhead into a pure state machine over a
// parsed command stream.
package state

import (
	"github.com/atsju/ArcWelderLib/internal/gcode"
	"github.com/atsju/ArcWelderLib/internal/geom"
)

const inchToMM = 25.4

// Tracker holds the printer's modal state.
type Tracker struct {
	X, Y, Z, E float64 // always stored in mm

	AbsoluteXYZ bool
	AbsoluteE   bool
	// G90G91InfluencesExtruder mirrors the config flag of the same name:
	// when true, G90/G91 also switch AbsoluteE in lock-step with AbsoluteXYZ.
	G90G91InfluencesExtruder bool

	UnitScale float64 // 1.0 for mm (G21), 25.4 for inch (G20)
	Tool      int
	Feedrate  float64
}

// New returns a Tracker in the default startup state: absolute
// positioning, absolute extrusion, millimeters, tool 0, zero feedrate.
func New(g90g91InfluencesExtruder bool) *Tracker {
	return &Tracker{
		AbsoluteXYZ:              true,
		AbsoluteE:                true,
		G90G91InfluencesExtruder: g90g91InfluencesExtruder,
		UnitScale:                1.0,
	}
}

// Position returns the tracker's current point (X,Y,Z) in mm.
func (t *Tracker) Position() geom.Point { return geom.Point{X: t.X, Y: t.Y, Z: t.Z} }

// Apply updates the tracker for cmd and, for a motion command, returns the
// resulting Segment. ok is false for non-motion commands (no segment was
// produced), matching §4.2: "after a motion command, the tracker produces
// one motion segment".
func (t *Tracker) Apply(cmd gcode.Command) (seg gcode.Segment, ok bool) {
	switch cmd.Kind {
	case gcode.KindG90:
		t.AbsoluteXYZ = true
		if t.G90G91InfluencesExtruder {
			t.AbsoluteE = true
		}
	case gcode.KindG91:
		t.AbsoluteXYZ = false
		if t.G90G91InfluencesExtruder {
			t.AbsoluteE = false
		}
	case gcode.KindM82:
		t.AbsoluteE = true
	case gcode.KindM83:
		t.AbsoluteE = false
	case gcode.KindG20:
		t.UnitScale = inchToMM
	case gcode.KindG21:
		t.UnitScale = 1.0
	case gcode.KindG92:
		t.applyG92(cmd)
	case gcode.KindTool:
		t.Tool = cmd.ToolIndex
	case gcode.KindG0, gcode.KindG1:
		seg, ok = t.applyMotion(cmd)
	case gcode.KindG2, gcode.KindG3:
		// An arc command is never re-fit (§4.2: fitting only consumes G0/G1
		// segments), but it still moves the toolhead: advance X/Y/Z/E to the
		// arc's declared endpoint so a subsequent G0/G1's start point stays
		// correct. This is what makes re-running the engine over its own
		// already-welded output idempotent (spec.md §8 Testable Property 5).
		t.applyArcEndpoint(cmd)
	}
	return seg, ok
}

func (t *Tracker) applyG92(cmd gcode.Command) {
	if p, present := cmd.Params['X']; present {
		t.X = p.Value * t.UnitScale
	}
	if p, present := cmd.Params['Y']; present {
		t.Y = p.Value * t.UnitScale
	}
	if p, present := cmd.Params['Z']; present {
		t.Z = p.Value * t.UnitScale
	}
	if p, present := cmd.Params['E']; present {
		t.E = p.Value * t.UnitScale
	}
}

// resolveEndpoint applies cmd's X/Y/Z/E/F words against the tracker's
// current modal state and returns the resulting absolute endpoint, the
// extruder delta and whether F was explicit, without mutating t. Shared by
// applyMotion (G0/G1, which also produces a Segment for the fitter) and
// applyArcEndpoint (G2/G3, which only needs to advance position).
func (t *Tracker) resolveEndpoint(cmd gcode.Command) (next geom.Point, deltaE float64, feedrateExplicit bool) {
	next = t.Position()
	if p, present := cmd.Params['X']; present {
		v := p.Value * t.UnitScale
		if t.AbsoluteXYZ {
			next.X = v
		} else {
			next.X = t.X + v
		}
	}
	if p, present := cmd.Params['Y']; present {
		v := p.Value * t.UnitScale
		if t.AbsoluteXYZ {
			next.Y = v
		} else {
			next.Y = t.Y + v
		}
	}
	if p, present := cmd.Params['Z']; present {
		v := p.Value * t.UnitScale
		if t.AbsoluteXYZ {
			next.Z = v
		} else {
			next.Z = t.Z + v
		}
	}

	if p, present := cmd.Params['E']; present {
		v := p.Value * t.UnitScale
		if t.AbsoluteE {
			deltaE = v - t.E
		} else {
			deltaE = v
		}
	}

	if p, present := cmd.Params['F']; present {
		_ = p
		feedrateExplicit = true
	}
	return next, deltaE, feedrateExplicit
}

func (t *Tracker) applyMotion(cmd gcode.Command) (gcode.Segment, bool) {
	start := t.Position()
	next, deltaE, feedrateExplicit := t.resolveEndpoint(cmd)

	t.E += deltaE
	if feedrateExplicit {
		t.Feedrate = cmd.Params['F'].Value * t.UnitScale
	}
	t.X, t.Y, t.Z = next.X, next.Y, next.Z

	seg := gcode.Segment{
		Start:            start,
		End:              t.Position(),
		DeltaE:           deltaE,
		Feedrate:         t.Feedrate,
		FeedrateExplicit: feedrateExplicit,
		Source:           cmd,
	}
	return seg, true
}

// applyArcEndpoint advances X/Y/Z/E/F to a G2/G3 command's declared
// endpoint. The arc's I/J/R geometry is irrelevant here — the tracker
// only needs to know where the toolhead ends up, not the path it took.
func (t *Tracker) applyArcEndpoint(cmd gcode.Command) {
	next, deltaE, feedrateExplicit := t.resolveEndpoint(cmd)
	t.E += deltaE
	if feedrateExplicit {
		t.Feedrate = cmd.Params['F'].Value * t.UnitScale
	}
	t.X, t.Y, t.Z = next.X, next.Y, next.Z
}
