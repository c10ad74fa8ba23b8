// Package emit formats G2/G3 arc lines and passthrough lines (SPEC_FULL.md
// §4.4). The fitter decides *when* to emit (internal/fitter); this package
// decides *how* — the two are kept as sibling collaborators rather than a
// back-pointer graph, per §9's design note.
package emit

import (
	"strconv"
	"strings"

	"github.com/atsju/ArcWelderLib/internal/config"
	"github.com/atsju/ArcWelderLib/internal/gcode"
	"github.com/atsju/ArcWelderLib/internal/geom"
	"github.com/atsju/ArcWelderLib/internal/window"
)

// Candidate is the accepted arc hypothesis the fitter hands to the emitter.
type Candidate struct {
	Circle    geom.Circle
	CCW       bool
	ArcLength float64
}

// Context carries the printer-state facts the emitter needs to format an
// arc consistently with the surrounding program (coordinate mode, units).
type Context struct {
	AbsoluteXYZ  bool
	AbsoluteE    bool
	UnitScale    float64
	PrevFeedrate float64
	Allow3D      bool
	// StartE is the tracker's absolute internal E value (mm) immediately
	// before the window's first segment, needed to reconstruct an
	// absolute E word when AbsoluteE is true.
	StartE float64
}

// Emitter formats output lines.
type Emitter struct {
	cfg *config.Config
}

// New returns an Emitter bound to cfg's precision/formatting knobs.
func New(cfg *config.Config) *Emitter { return &Emitter{cfg: cfg} }

// FormatArc renders the G2/G3 replacement for w under candidate c.
func (e *Emitter) FormatArc(w *window.Window, c Candidate, ctx Context) string {
	start := w.Start()
	end := w.End()

	xyzPrec := e.precisionFor(w, "XYZ", e.cfg.DefaultXYZPrecision)
	ePrec := e.precisionFor(w, "E", e.cfg.DefaultEPrecision)

	word := "G2"
	if c.CCW {
		word = "G3"
	}

	var b strings.Builder
	b.WriteString(word)

	if ctx.AbsoluteXYZ {
		b.WriteString(" X" + fmtF((end.X)/ctx.UnitScale, xyzPrec))
		b.WriteString(" Y" + fmtF((end.Y)/ctx.UnitScale, xyzPrec))
	} else {
		b.WriteString(" X" + fmtF((end.X-start.X)/ctx.UnitScale, xyzPrec))
		b.WriteString(" Y" + fmtF((end.Y-start.Y)/ctx.UnitScale, xyzPrec))
	}

	i := (c.Circle.Center.X - start.X) / ctx.UnitScale
	j := (c.Circle.Center.Y - start.Y) / ctx.UnitScale
	b.WriteString(" I" + fmtF(i, xyzPrec))
	b.WriteString(" J" + fmtF(j, xyzPrec))

	if ctx.Allow3D && end.Z != start.Z {
		if ctx.AbsoluteXYZ {
			b.WriteString(" Z" + fmtF(end.Z/ctx.UnitScale, xyzPrec))
		} else {
			b.WriteString(" Z" + fmtF((end.Z-start.Z)/ctx.UnitScale, xyzPrec))
		}
	}

	totalE := w.TotalDeltaE()
	if totalE != 0 {
		eVal := totalE / ctx.UnitScale
		if ctx.AbsoluteE {
			eVal = (ctx.StartE + totalE) / ctx.UnitScale
		}
		b.WriteString(" E" + fmtF(eVal, ePrec))
	}

	feedrateChanged := w.AnyFeedrateExplicit() || w.Last().Feedrate != ctx.PrevFeedrate
	if feedrateChanged && w.Last().Feedrate > 0 {
		b.WriteString(" F" + strconv.FormatFloat(w.Last().Feedrate/ctx.UnitScale, 'f', -1, 64))
	}

	if last := w.Last(); last.Source.HasComment && last.Source.Comment != "" {
		b.WriteString(" ; " + last.Source.Comment)
	}

	return b.String()
}

func fmtF(v float64, prec int) string {
	return strconv.FormatFloat(v, 'f', prec, 64)
}

func (e *Emitter) precisionFor(w *window.Window, axisClass string, fallback int) int {
	if !e.cfg.AllowDynamicPrecision {
		return clamp(fallback, config.MinPrecision, config.MaxPrecision)
	}
	best := -1
	letters := []byte{'X', 'Y', 'Z', 'I', 'J'}
	if axisClass == "E" {
		letters = []byte{'E'}
	}
	for _, s := range w.Segments {
		for _, letter := range letters {
			if p, ok := s.Source.Params[letter]; ok {
				if d := decimalsOf(p.Raw); d > best {
					best = d
				}
			}
		}
	}
	if best < 0 {
		return clamp(fallback, config.MinPrecision, config.MaxPrecision)
	}
	return clamp(best, config.MinPrecision, config.MaxPrecision)
}

func decimalsOf(raw string) int {
	idx := strings.IndexByte(raw, '.')
	if idx < 0 {
		return 0
	}
	frac := raw[idx+1:]
	// Scientific-notation mantissas aren't expected on G-code axis words;
	// if present, only count digits up to the exponent marker.
	if e := strings.IndexAny(frac, "eE"); e >= 0 {
		frac = frac[:e]
	}
	return len(frac)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// FormatPassthrough returns cmd's original text unchanged (§4.4:
// "Passthrough commands are written byte-identical").
func FormatPassthrough(cmd gcode.Command) string { return cmd.Raw }
