// Package window implements the segment window of SPEC_FULL.md §3/§4.3
// (it has no capacity limit): an ordered run of candidate motion segments sharing endpoint
// continuity, extrusion polarity, tool, feedrate class and (optionally)
// a monotone Z progression.
//
// Per §9's design note, the window is a plain growable slice rather than
// a ring buffer: it is always popped whole on emission, or drained
// front-to-back one segment at a time on flush-as-lines, so no circular
// indexing is needed.
package window

import (
	"math"

	"github.com/atsju/ArcWelderLib/internal/gcode"
	"github.com/atsju/ArcWelderLib/internal/geom"
)

// Polarity classifies the shared extrusion behavior of a window's segments.
type Polarity int

const (
	PolarityUnknown Polarity = iota
	PolarityTravel
	PolarityExtrude
	PolarityRetract
)

func polarityOf(s gcode.Segment) Polarity {
	switch {
	case s.IsExtruding():
		return PolarityExtrude
	case s.IsRetracting():
		return PolarityRetract
	default:
		return PolarityTravel
	}
}

// Window is the current run of candidate segments under one arc hypothesis.
type Window struct {
	Segments []gcode.Segment

	polarity    Polarity
	tool        int
	feedrate    float64
	hasFeedrate bool
}

// New returns an empty window.
func New() *Window { return &Window{} }

// Empty reports whether the window holds no segments.
func (w *Window) Empty() bool { return len(w.Segments) == 0 }

// Len returns the number of segments currently in the window.
func (w *Window) Len() int { return len(w.Segments) }

// Reset clears the window so a new run can be seeded.
func (w *Window) Reset() {
	w.Segments = w.Segments[:0]
	w.polarity = PolarityUnknown
	w.hasFeedrate = false
}

// First and Last return the window's boundary segments. Callers must
// check Empty() first.
func (w *Window) First() gcode.Segment { return w.Segments[0] }
func (w *Window) Last() gcode.Segment  { return w.Segments[len(w.Segments)-1] }

// Start and End return the endpoints of the whole window.
func (w *Window) Start() geom.Point { return w.First().Start }
func (w *Window) End() geom.Point   { return w.Last().End }

// CompatibilityError explains why a segment cannot extend the window — it
// is not a fatal error, it drives a flush per §4.3 step 1.
type CompatibilityError struct{ Reason string }

func (e *CompatibilityError) Error() string { return e.Reason }

const feedrateClassEpsilon = 1e-6

// feedrateClass returns the segment's effective feedrate for classification:
// the segment's own feedrate if explicit, otherwise "inherited" meaning it
// carries whatever the tracker's sticky feedrate already was.
func feedrateClass(s gcode.Segment) float64 { return s.Feedrate }

// CheckCompatible reports whether s may be appended to w without breaking
// window invariants (§3 "Window", §4.3 step 1): endpoint continuity,
// extrusion polarity, tool identity and feedrate class. Plane/Z
// compatibility is checked separately by the fitter, since it interacts
// with the allow_3d_arcs configuration knob.
func (w *Window) CheckCompatible(s gcode.Segment, tool int) *CompatibilityError {
	if w.Empty() {
		return nil
	}
	last := w.Last()
	if last.End != s.Start {
		return &CompatibilityError{Reason: "endpoint discontinuity"}
	}
	if polarityOf(s) != w.polarity {
		return &CompatibilityError{Reason: "extrusion polarity changed"}
	}
	if tool != w.tool {
		return &CompatibilityError{Reason: "tool changed"}
	}
	if w.hasFeedrate && math.Abs(feedrateClass(s)-w.feedrate) > feedrateClassEpsilon*math.Max(1, math.Abs(w.feedrate)) {
		return &CompatibilityError{Reason: "feedrate class changed"}
	}
	return nil
}

// Append adds s to the window, updating its shared invariants. The caller
// must have verified CheckCompatible (or this is the seeding segment).
func (w *Window) Append(s gcode.Segment, tool int) {
	if w.Empty() {
		w.polarity = polarityOf(s)
		w.tool = tool
	}
	w.feedrate = feedrateClass(s)
	w.hasFeedrate = true
	w.Segments = append(w.Segments, s)
}

// PopFront removes and returns the first segment, for flush-as-lines
// (§4.3: "write s1 verbatim, drop it from the front").
func (w *Window) PopFront() gcode.Segment {
	s := w.Segments[0]
	w.Segments = w.Segments[1:]
	return s
}

// Sub returns a new *Window over Segments[lo:hi], carrying the same
// tool/polarity/feedrate metadata as w. Used to split a window that closes
// into a full circle into two half-arc emissions (allow_full_circle_arcs
// default false, §6.1).
func (w *Window) Sub(lo, hi int) *Window {
	return &Window{
		Segments:    w.Segments[lo:hi],
		polarity:    w.polarity,
		tool:        w.tool,
		feedrate:    w.feedrate,
		hasFeedrate: w.hasFeedrate,
	}
}

// ChordLength returns the cumulative original polyline length Σ|si|.
func (w *Window) ChordLength() float64 {
	var total float64
	for _, s := range w.Segments {
		total += s.Length()
	}
	return total
}

// TotalDeltaE returns the sum of extrusion deltas across the window, for
// the emitter's cumulative-E accounting.
func (w *Window) TotalDeltaE() float64 {
	var total float64
	for _, s := range w.Segments {
		total += s.DeltaE
	}
	return total
}

// AnyFeedrateExplicit reports whether any consumed segment carried an
// explicit F word (§4.4: "F if feedrate changed or was explicit on any
// consumed segment").
func (w *Window) AnyFeedrateExplicit() bool {
	for _, s := range w.Segments {
		if s.FeedrateExplicit {
			return true
		}
	}
	return false
}

// InteriorNearestMidpoint returns the index, within the window plus a
// pending new segment's end, of the endpoint nearest the midpoint by
// cumulative polyline length — used by the fitter to pick a robust third
// point for the circle hypothesis (§4.3 step 2).
func InteriorNearestMidpoint(points []geom.Point, cumLen []float64) int {
	if len(points) < 3 {
		return -1
	}
	total := cumLen[len(cumLen)-1]
	half := total / 2
	best := 1
	bestDelta := math.Abs(cumLen[1] - half)
	for i := 2; i < len(points)-1; i++ {
		d := math.Abs(cumLen[i] - half)
		if d < bestDelta {
			bestDelta = d
			best = i
		}
	}
	return best
}
