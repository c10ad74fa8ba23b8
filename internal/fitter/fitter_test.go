package fitter

import (
	"math"
	"testing"

	"github.com/atsju/ArcWelderLib/internal/config"
	"github.com/atsju/ArcWelderLib/internal/emit"
	"github.com/atsju/ArcWelderLib/internal/gcode"
	"github.com/atsju/ArcWelderLib/internal/state"
)

func feedLine(t *testing.T, f *Fitter, tr *state.Tracker, raw string) []Emission {
	t.Helper()
	cmd := gcode.Parse(raw, 1, "\n")
	beforeE := tr.E
	seg, ok := tr.Apply(cmd)
	if !ok {
		t.Fatalf("expected motion segment for %q", raw)
	}
	ctx := emit.Context{
		AbsoluteXYZ:  tr.AbsoluteXYZ,
		AbsoluteE:    tr.AbsoluteE,
		UnitScale:    tr.UnitScale,
		PrevFeedrate: tr.Feedrate,
		Allow3D:      false,
	}
	ems, err := f.Feed(seg, tr.Tool, ctx, beforeE)
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	return ems
}

func newTestFitter(cfg *config.Config) (*Fitter, *state.Tracker) {
	e := emit.New(cfg)
	return New(cfg, e, "\n"), state.New(false)
}

// S1: four colinear points never form a circle, so every line must pass
// through byte-identical and no arc is emitted.
func TestStraightLinePassesThrough(t *testing.T) {
	cfg := config.Default()
	f, tr := newTestFitter(&cfg)

	lines := []string{
		"G1 X0 Y0",
		"G1 X1 Y0",
		"G1 X2 Y0",
		"G1 X3 Y0",
	}

	var got []Emission
	for _, l := range lines {
		got = append(got, feedLine(t, f, tr, l)...)
	}
	final, err := f.Flush()
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	got = append(got, final...)

	if len(got) != len(lines) {
		t.Fatalf("got %d emissions, want %d: %+v", len(got), len(lines), got)
	}
	for i, em := range got {
		if em.Kind != KindPassthrough {
			t.Errorf("emission %d: got kind %v, want passthrough", i, em.Kind)
		}
		if em.Text != lines[i] {
			t.Errorf("emission %d: got %q, want %q", i, em.Text, lines[i])
		}
	}
}

// A quarter circle built from enough short segments should fit a single
// arc within the default resolution.
func TestQuarterCircleFitsArc(t *testing.T) {
	cfg := config.Default()
	cfg.ResolutionMM = 0.05
	cfg.PathTolerancePercent = 5
	f, tr := newTestFitter(&cfg)

	const steps = 16
	const radius = 10.0
	var got []Emission
	for i := 1; i <= steps; i++ {
		theta := (math.Pi / 2) * float64(i) / float64(steps)
		x := radius * math.Cos(theta)
		y := radius * math.Sin(theta)
		line := "G1 X" + ftoa(x) + " Y" + ftoa(y)
		got = append(got, feedLine(t, f, tr, line)...)
	}
	final, err := f.Flush()
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	got = append(got, final...)

	var arcs, lines int
	for _, em := range got {
		if em.Kind == KindArc {
			arcs++
		} else {
			lines++
		}
	}
	if arcs == 0 {
		t.Fatalf("expected at least one arc emission, got none: %+v", got)
	}
}

// S4: a non-motion command (M104) after two short extruding segments
// flushes the pending window as plain lines; the window never silently
// absorbs a non-motion command.
func TestMixedMotionFlushesOnIncompatibility(t *testing.T) {
	cfg := config.Default()
	f, tr := newTestFitter(&cfg)

	got := feedLine(t, f, tr, "G1 X10 Y0 E1")
	got = append(got, feedLine(t, f, tr, "G1 X10 Y10 E2")...)

	// A non-motion command (M104) never reaches Feed; the driver calls
	// Flush directly. Simulate that here.
	flushed, err := f.Flush()
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	got = append(got, flushed...)

	if len(got) != 2 {
		t.Fatalf("got %d emissions, want 2: %+v", len(got), got)
	}
	for _, em := range got {
		if em.Kind != KindPassthrough {
			t.Errorf("expected passthrough, got %+v", em)
		}
	}
}

// A closed loop (start and end coincide) is split into two half-arcs by
// default, since a single G2/G3 whose X/Y/I/J describe a zero-length chord
// is ambiguous for many consumers.
func TestClosedLoopSplitsIntoTwoArcsByDefault(t *testing.T) {
	cfg := config.Default()
	cfg.ResolutionMM = 0.05
	cfg.PathTolerancePercent = 5
	f, tr := newTestFitter(&cfg)

	const steps = 64
	const radius = 10.0
	var got []Emission
	got = append(got, feedLine(t, f, tr, "G1 X"+ftoa(radius)+" Y0.000000")...)
	for i := 1; i <= steps; i++ {
		theta := 2 * math.Pi * float64(i) / float64(steps)
		x := radius * math.Cos(theta)
		y := radius * math.Sin(theta)
		line := "G1 X" + ftoa(x) + " Y" + ftoa(y)
		got = append(got, feedLine(t, f, tr, line)...)
	}
	final, err := f.Flush()
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	got = append(got, final...)

	var arcs int
	var totalArcLen float64
	for _, em := range got {
		if em.Kind == KindArc {
			arcs++
			totalArcLen += em.PathLengthMM
		}
	}
	if arcs != 2 {
		t.Fatalf("expected the closed loop to split into 2 arcs, got %d: %+v", arcs, got)
	}
	wantCircumference := 2 * math.Pi * radius
	if math.Abs(totalArcLen-wantCircumference) > 0.5 {
		t.Fatalf("total arc length %v, want ~%v (circumference)", totalArcLen, wantCircumference)
	}
}

// allow_full_circle_arcs=true emits the closed loop as a single G2/G3.
func TestClosedLoopSingleArcWhenAllowed(t *testing.T) {
	cfg := config.Default()
	cfg.ResolutionMM = 0.05
	cfg.PathTolerancePercent = 5
	cfg.AllowFullCircleArcs = true
	f, tr := newTestFitter(&cfg)

	const steps = 64
	const radius = 10.0
	var got []Emission
	got = append(got, feedLine(t, f, tr, "G1 X"+ftoa(radius)+" Y0.000000")...)
	for i := 1; i <= steps; i++ {
		theta := 2 * math.Pi * float64(i) / float64(steps)
		x := radius * math.Cos(theta)
		y := radius * math.Sin(theta)
		line := "G1 X" + ftoa(x) + " Y" + ftoa(y)
		got = append(got, feedLine(t, f, tr, line)...)
	}
	final, err := f.Flush()
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	got = append(got, final...)

	var arcs int
	for _, em := range got {
		if em.Kind == KindArc {
			arcs++
		}
	}
	if arcs != 1 {
		t.Fatalf("expected the closed loop to emit as a single arc, got %d: %+v", arcs, got)
	}
}

func ftoa(v float64) string {
	// Minimal float formatter sufficient for test fixture coordinates.
	buf := make([]byte, 0, 16)
	neg := v < 0
	if neg {
		v = -v
	}
	whole := int64(v)
	frac := v - float64(whole)
	buf = appendInt(buf, whole)
	buf = append(buf, '.')
	for i := 0; i < 6; i++ {
		frac *= 10
		d := int64(frac)
		buf = append(buf, byte('0'+d))
		frac -= float64(d)
	}
	if neg {
		return "-" + string(buf)
	}
	return string(buf)
}

func appendInt(buf []byte, v int64) []byte {
	if v == 0 {
		return append(buf, '0')
	}
	start := len(buf)
	for v > 0 {
		buf = append(buf, byte('0'+v%10))
		v /= 10
	}
	// reverse the digits just appended
	for i, j := start, len(buf)-1; i < j; i, j = i+1, j-1 {
		buf[i], buf[j] = buf[j], buf[i]
	}
	return buf
}
