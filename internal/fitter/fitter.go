// Package fitter implements the incremental acceptance algorithm of
// SPEC_FULL.md §4.3: it grows a window while the fitted arc still
// satisfies every predicate and emits the largest accepted arc — or the
// window's raw lines — when growth fails.
package fitter

import (
	"math"

	"github.com/atsju/ArcWelderLib/internal/arcerr"
	"github.com/atsju/ArcWelderLib/internal/config"
	"github.com/atsju/ArcWelderLib/internal/emit"
	"github.com/atsju/ArcWelderLib/internal/gcode"
	"github.com/atsju/ArcWelderLib/internal/geom"
	"github.com/atsju/ArcWelderLib/internal/window"
)

// EmissionKind distinguishes a formatted arc from a passthrough line.
type EmissionKind int

const (
	KindArc EmissionKind = iota
	KindPassthrough
)

// Emission is one output line the stream driver should write.
type Emission struct {
	Kind           EmissionKind
	Text           string
	Terminator     string
	SourceCommands int
	PointsConsumed int
	// PathLengthMM is the geometric length this emission contributes to the
	// output toolpath: a passthrough line's segment length, or the fitted
	// arc's length. Used for the run's compression statistics.
	PathLengthMM float64
}

// Candidate is an alias of emit.Candidate, so an accepted hypothesis is
// handed to the emitter as is.
type Candidate = emit.Candidate

const directionEpsilonFactor = 1e-9

// Fitter owns the current window and the emitter used to format arcs.
type Fitter struct {
	cfg     *config.Config
	emitter *emit.Emitter
	win     *window.Window
	arcTerm string // terminator used for newly-emitted arc lines

	tool          int
	candidate     Candidate
	haveCandidate bool
	startE        float64 // tracker.E immediately before the window's first segment
	ctx           emit.Context
}

// New returns a Fitter that formats arcs with e, using arcTerminator as
// the line terminator for newly-synthesized arc lines. Passthrough lines
// keep the terminator of their own source line.
func New(cfg *config.Config, e *emit.Emitter, arcTerminator string) *Fitter {
	return &Fitter{cfg: cfg, emitter: e, win: window.New(), arcTerm: arcTerminator}
}

// Len reports how many segments are currently buffered.
func (f *Fitter) Len() int { return f.win.Len() }

// SetTerminator updates the line terminator used for newly-synthesized
// arc lines, for callers that only learn a terminator after the first
// line has been read. The stream driver passes the terminator of the first
// terminated source line; it does not count terminators across the file,
// so a file with mixed terminators gets its first line's style on arcs.
func (f *Fitter) SetTerminator(term string) { f.arcTerm = term }

// Feed offers a new motion segment to the fitter. tool is the currently
// selected tool (§4.2: "arc fitting does not cross tool changes"). ctx
// is the printer-state context in effect when seg was produced (mode,
// units, sticky feedrate); it is retained so an arc spanning several
// Feed calls is formatted consistently. beforeE is the tracker's
// absolute E value immediately before seg was applied (used to seed
// startE when seg opens a new window).
func (f *Fitter) Feed(seg gcode.Segment, tool int, ctx emit.Context, beforeE float64) ([]Emission, error) {
	var out []Emission
	for {
		if f.win.Empty() {
			f.seed(seg, tool, ctx, beforeE)
			return out, nil
		}

		if cerr := f.win.CheckCompatible(seg, tool); cerr != nil {
			ems, err := f.flushWindow()
			if err != nil {
				return out, err
			}
			out = append(out, ems...)
			continue // window is now empty; loop re-seeds with seg
		}

		if cand, ok := f.evaluate(seg); ok {
			f.win.Append(seg, tool)
			f.candidate = cand
			f.haveCandidate = true
			f.ctx = ctx
			return out, nil
		}

		// Extension failed: emit what we have if it qualifies, else
		// drop the oldest segment and retry (§4.3 "Emission on reject").
		if f.win.Len() >= 2 && f.minSegmentsSatisfied(f.candidate) {
			out = append(out, f.emitArc()...)
			f.resetWindow()
			f.seed(seg, tool, ctx, beforeE)
			return out, nil
		}

		out = append(out, f.passthroughFront())
		if f.win.Empty() {
			f.haveCandidate = false
		}
	}
}

// Flush closes out the current window on a non-motion event, end of
// stream, or cancellation (§4.3 "Flush").
func (f *Fitter) Flush() ([]Emission, error) {
	return f.flushWindow()
}

func (f *Fitter) flushWindow() ([]Emission, error) {
	if f.win.Empty() {
		return nil, nil
	}
	if f.win.Len() >= 2 && f.minSegmentsSatisfied(f.candidate) {
		ems := f.emitArc()
		f.resetWindow()
		return ems, nil
	}
	var out []Emission
	for !f.win.Empty() {
		out = append(out, f.passthroughFront())
	}
	f.resetWindow()
	return out, nil
}

func (f *Fitter) seed(seg gcode.Segment, tool int, ctx emit.Context, beforeE float64) {
	f.win.Append(seg, tool)
	f.tool = tool
	f.haveCandidate = false
	f.startE = beforeE
	f.ctx = ctx
}

func (f *Fitter) resetWindow() {
	f.win.Reset()
	f.haveCandidate = false
}

func (f *Fitter) passthroughFront() Emission {
	s := f.win.PopFront()
	f.startE += s.DeltaE // startE now precedes the new first segment
	return Emission{
		Kind:           KindPassthrough,
		Text:           emit.FormatPassthrough(s.Source),
		Terminator:     s.Source.Terminator,
		SourceCommands: 1,
		PointsConsumed: 1,
		PathLengthMM:   s.Length(),
	}
}

// emitArc formats the current window as one or more output lines. A window
// whose end closes back onto its own start is a full circle: by default
// (allow_full_circle_arcs=false, §6.1/§9) it is split into two half-arc
// emissions, since a G2/G3 whose X/Y/I/J describe a zero-length chord is
// ambiguous for many consumers; allow_full_circle_arcs=true emits the
// single full-circle command instead.
func (f *Fitter) emitArc() []Emission {
	ctx := f.ctx
	ctx.StartE = f.startE
	ctx.Allow3D = f.cfg.Allow3DArcs

	if f.win.Len() >= 2 && !f.cfg.AllowFullCircleArcs &&
		closesLoop(f.win.Start(), f.win.End(), f.cfg.ResolutionMM) {
		return f.emitSplitFullCircle(ctx)
	}

	n := f.win.Len()
	text := f.emitter.FormatArc(f.win, f.candidate, ctx)
	return []Emission{{
		Kind:           KindArc,
		Text:           text,
		Terminator:     f.arcTerm,
		SourceCommands: n,
		PointsConsumed: n,
		PathLengthMM:   f.candidate.ArcLength,
	}}
}

// emitSplitFullCircle splits a closed-loop window in two at the segment
// boundary nearest its half-length point (the same nearest-midpoint rule
// the circle fit itself uses, §4.3 step 2) and formats each half as its
// own G2/G3 line sharing the fitted circle.
func (f *Fitter) emitSplitFullCircle(ctx emit.Context) []Emission {
	n := f.win.Len()
	pts := make([]geom.Point, 0, n+1)
	cum := make([]float64, 0, n+1)
	pts = append(pts, f.win.First().Start)
	cum = append(cum, 0)
	var running float64
	for _, s := range f.win.Segments {
		running += s.Length()
		pts = append(pts, s.End)
		cum = append(cum, running)
	}

	// pts always has n+1 >= 3 points here (emitArc only calls this path once
	// f.win.Len() >= 2), so InteriorNearestMidpoint always returns a valid
	// split index in [1, n-1].
	mid := window.InteriorNearestMidpoint(pts, cum)

	first := f.win.Sub(0, mid)
	second := f.win.Sub(mid, n)

	ctx1 := ctx
	ctx1.StartE = f.startE
	len1 := geom.ArcLength(f.candidate.Circle, first.Start(), first.End(), f.candidate.CCW)
	text1 := f.emitter.FormatArc(first, f.candidate, ctx1)

	ctx2 := ctx
	ctx2.StartE = f.startE + first.TotalDeltaE()
	len2 := geom.ArcLength(f.candidate.Circle, second.Start(), second.End(), f.candidate.CCW)
	text2 := f.emitter.FormatArc(second, f.candidate, ctx2)

	return []Emission{
		{Kind: KindArc, Text: text1, Terminator: f.arcTerm, SourceCommands: first.Len(), PointsConsumed: first.Len(), PathLengthMM: len1},
		{Kind: KindArc, Text: text2, Terminator: f.arcTerm, SourceCommands: second.Len(), PointsConsumed: second.Len(), PathLengthMM: len2},
	}
}

// trialPoints builds the point list and cumulative-length prefix sums for
// the window plus a pending new segment, per §4.3 step 2. evaluate is only
// ever called on a non-empty window (Feed seeds and returns before
// evaluating), so the first point is always the window's existing start.
func (f *Fitter) trialPoints(seg gcode.Segment) ([]geom.Point, []float64) {
	n := f.win.Len() + 2
	pts := make([]geom.Point, 0, n)
	cum := make([]float64, 0, n)

	pts = append(pts, f.win.First().Start)
	cum = append(cum, 0)

	var running float64
	for _, s := range f.win.Segments {
		running += s.Length()
		pts = append(pts, s.End)
		cum = append(cum, running)
	}
	running += seg.Length()
	pts = append(pts, seg.End)
	cum = append(cum, running)

	return pts, cum
}

// closesLoop reports whether a and b coincide within the configured
// on-circle tolerance — i.e. a window whose trial endpoint lands back on
// its own start, closing a full loop.
func closesLoop(a, b geom.Point, eps float64) bool {
	return geom.Hypot2D(a, b) <= eps && math.Abs(a.Z-b.Z) <= eps
}

func (f *Fitter) evaluate(seg gcode.Segment) (Candidate, bool) {
	pts, cum := f.trialPoints(seg)
	n := len(pts)
	if n < 3 {
		return Candidate{}, false
	}

	var circle geom.Circle
	if f.haveCandidate && closesLoop(pts[0], pts[n-1], f.cfg.ResolutionMM) {
		// The trial endpoint lands back on the window's own start, closing
		// a full loop. pts[0] and pts[n-1] coinciding makes the usual
		// three-point re-fit degenerate (CircleFromThree sees two of its
		// three points as the same point and reports them colinear), but
		// closure doesn't change the circle's identity, so keep the last
		// accepted hypothesis instead of re-deriving it.
		circle = f.candidate.Circle
	} else {
		interior := window.InteriorNearestMidpoint(pts, cum)
		if interior < 0 {
			return Candidate{}, false
		}
		c, ok := geom.CircleFromThree(pts[0], pts[interior], pts[n-1])
		if !ok {
			return Candidate{}, false
		}
		circle = c
	}
	if circle.Radius > f.cfg.MaxRadiusMM {
		return Candidate{}, false
	}
	for _, p := range pts {
		if !geom.PointOnCircle(circle, p, f.cfg.ResolutionMM) {
			return Candidate{}, false
		}
	}

	ccw, stable := direction(pts)
	if !stable {
		return Candidate{}, false
	}

	chordSum := cum[len(cum)-1]
	arcLen := geom.ArcLength(circle, pts[0], pts[n-1], ccw)
	if chordSum > 0 {
		if math.Abs(arcLen-chordSum)/chordSum > f.cfg.PathTolerancePercent/100 {
			return Candidate{}, false
		}
	}

	if !f.planeOK(pts) {
		return Candidate{}, false
	}

	return Candidate{Circle: circle, CCW: ccw, ArcLength: arcLen}, true
}

// direction infers the sweep direction from the sign of consecutive chord
// cross products and verifies that sign never flips (§4.3 "Direction
// stability"). A momentarily-collinear pair (cross ≈ 0) does not count as
// an inflection.
func direction(pts []geom.Point) (ccw bool, stable bool) {
	var sign float64
	for i := 1; i < len(pts)-1; i++ {
		u := geom.ChordXY(pts[i-1], pts[i])
		v := geom.ChordXY(pts[i], pts[i+1])
		cross := geom.CrossSignZ(u, v)
		eps := directionEpsilonFactor * math.Max(u.Len()*v.Len(), 1)
		if math.Abs(cross) <= eps {
			continue
		}
		if sign == 0 {
			sign = cross
			continue
		}
		if (sign > 0) != (cross > 0) {
			return false, false
		}
	}
	if sign == 0 {
		return true, true // no measurable curvature yet; default CCW
	}
	return sign > 0, true
}

// planeOK enforces the 3D rule (§4.3): flat windows always pass; a
// helical window requires allow_3d_arcs and a monotone, linearly
// consistent Z progression.
func (f *Fitter) planeOK(pts []geom.Point) bool {
	flat := true
	for i := 1; i < len(pts); i++ {
		if pts[i].Z != pts[i-1].Z {
			flat = false
			break
		}
	}
	if flat {
		return true
	}
	if !f.cfg.Allow3DArcs {
		return false
	}

	var sign float64
	var ratio float64
	haveRatio := false
	for i := 1; i < len(pts); i++ {
		dz := pts[i].Z - pts[i-1].Z
		chord := geom.Hypot2D(pts[i-1], pts[i])
		if dz == 0 {
			continue
		}
		s := 1.0
		if dz < 0 {
			s = -1.0
		}
		if sign == 0 {
			sign = s
		} else if sign != s {
			return false // not monotone
		}
		if chord == 0 {
			continue
		}
		r := dz / chord
		if !haveRatio {
			ratio = r
			haveRatio = true
			continue
		}
		if math.Abs(r-ratio) > f.cfg.ResolutionMM*math.Max(1, math.Abs(ratio)) {
			return false
		}
	}
	return true
}

func (f *Fitter) minSegmentsSatisfied(c Candidate) bool {
	if f.cfg.MinArcSegments <= 0 {
		return true
	}
	if f.cfg.MMPerArcSegment <= 0 {
		return true
	}
	implied := math.Ceil(c.ArcLength / f.cfg.MMPerArcSegment)
	return implied >= float64(f.cfg.MinArcSegments)
}

// InvariantViolation reports an internal assertion failure (§7): treated
// as a bug, logged at CRITICAL by the caller before a fatal exit.
func InvariantViolation(line int, reason string) error {
	return arcerr.AtLine(arcerr.CodeInternalInvariant, reason, line)
}
