package state

import (
	"testing"

	"github.com/atsju/ArcWelderLib/internal/gcode"
)

func apply(t *testing.T, tr *Tracker, raw string) (gcode.Segment, bool) {
	t.Helper()
	cmd := gcode.Parse(raw, 1, "\n")
	return tr.Apply(cmd)
}

// An arc command must advance the tracked position to its declared
// endpoint even though it produces no fitter segment, or every subsequent
// motion command's start point is wrong for the rest of the file — this is
// what makes re-running the engine over its own already-welded output
// idempotent.
func TestApplyArcAdvancesPosition(t *testing.T) {
	tr := New(false)
	apply(t, tr, "G1 X0 Y0 E0")

	seg, ok := apply(t, tr, "G2 X10 Y0 I5 J0 E2")
	if ok {
		t.Fatalf("expected G2 to produce no fitter segment, got %+v", seg)
	}
	if tr.X != 10 || tr.Y != 0 || tr.E != 2 {
		t.Fatalf("tracker position after G2 = (%v,%v,%v) e=%v, want (10,0,0) e=2", tr.X, tr.Y, tr.Z, tr.E)
	}

	// A following G1 must start from the arc's endpoint, not wherever the
	// tracker was before the arc.
	seg, ok = apply(t, tr, "G1 X20 Y0")
	if !ok {
		t.Fatal("expected G1 to produce a segment")
	}
	if seg.Start.X != 10 || seg.Start.Y != 0 {
		t.Fatalf("segment after arc starts at %+v, want (10,0)", seg.Start)
	}
	if seg.End.X != 20 || seg.End.Y != 0 {
		t.Fatalf("segment after arc ends at %+v, want (20,0)", seg.End)
	}
}

// G3 in relative (G91) mode advances by the declared deltas, same as G1.
func TestApplyArcRelativeMode(t *testing.T) {
	tr := New(false)
	apply(t, tr, "G91")
	apply(t, tr, "G1 X5 Y5")

	_, ok := apply(t, tr, "G3 X2 Y-1 I0 J1 E1")
	if ok {
		t.Fatal("expected G3 to produce no fitter segment")
	}
	if tr.X != 7 || tr.Y != 4 {
		t.Fatalf("tracker position after relative G3 = (%v,%v), want (7,4)", tr.X, tr.Y)
	}
	if tr.E != 1 {
		t.Fatalf("tracker E after relative G3 = %v, want 1", tr.E)
	}
}

// An arc with no E word must leave the extruder position untouched.
func TestApplyArcWithoutExtrusion(t *testing.T) {
	tr := New(false)
	apply(t, tr, "G1 X0 Y0 E5")

	apply(t, tr, "G2 X10 Y0 I5 J0")
	if tr.E != 5 {
		t.Fatalf("tracker E after extrusion-less arc = %v, want unchanged 5", tr.E)
	}
}
