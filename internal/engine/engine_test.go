package engine

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/atsju/ArcWelderLib/internal/config"
	"github.com/atsju/ArcWelderLib/internal/logging"
)

func writeTempSource(t *testing.T, contents string) (srcPath, targetPath string) {
	t.Helper()
	dir := t.TempDir()
	srcPath = filepath.Join(dir, "in.gcode")
	targetPath = filepath.Join(dir, "out.gcode")
	if err := os.WriteFile(srcPath, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return srcPath, targetPath
}

// S1: a straight line of colinear moves comes out byte-identical.
func TestConvertStraightLinePassthrough(t *testing.T) {
	const src = "G1 X0 Y0\nG1 X1 Y0\nG1 X2 Y0\nG1 X3 Y0\n"
	srcPath, targetPath := writeTempSource(t, src)

	cfg := config.Default()
	cfg.SourcePath = srcPath
	cfg.TargetPath = targetPath
	cfg.Normalize()

	res, err := Convert(context.Background(), &cfg, logging.Discard{}, nil)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if !res.Success || res.Cancelled {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Final.ArcsEmitted != 0 {
		t.Fatalf("expected no arcs, got %d", res.Final.ArcsEmitted)
	}

	out, err := os.ReadFile(targetPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(out) != src {
		t.Fatalf("got %q, want %q", string(out), src)
	}
}

// S4: a non-motion command flushes the in-progress window before being
// written through verbatim.
func TestConvertMixedMotionFlushesOnNonMotion(t *testing.T) {
	const src = "G1 X10 Y0 E1\nG1 X10 Y10 E2\nM104 S200\nG1 X0 Y10 E3\n"
	srcPath, targetPath := writeTempSource(t, src)

	cfg := config.Default()
	cfg.SourcePath = srcPath
	cfg.TargetPath = targetPath
	cfg.Normalize()

	res, err := Convert(context.Background(), &cfg, logging.Discard{}, nil)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if !res.Success {
		t.Fatalf("unexpected result: %+v", res)
	}

	out, err := os.ReadFile(targetPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(out), "M104 S200") {
		t.Fatalf("expected M104 passthrough in output, got %q", string(out))
	}
}

// S6: a progress callback that requests cancellation stops the conversion
// and reports cancelled=true without error.
func TestConvertCancellation(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 200; i++ {
		b.WriteString("G1 X1 Y0\n")
	}
	srcPath, targetPath := writeTempSource(t, b.String())

	cfg := config.Default()
	cfg.SourcePath = srcPath
	cfg.TargetPath = targetPath
	cfg.ProgressByteStride = 32
	cfg.Normalize()

	calls := 0
	res, err := Convert(context.Background(), &cfg, logging.Discard{}, func(p Progress) bool {
		calls++
		return calls < 3
	})
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if !res.Cancelled {
		t.Fatalf("expected cancellation, got %+v", res)
	}
	if res.Final.BytesRead >= int64(len(b.String())) {
		t.Fatalf("expected cancellation before full read, got %d bytes", res.Final.BytesRead)
	}
}

func TestConvertMissingSourceReturnsError(t *testing.T) {
	cfg := config.Default()
	cfg.SourcePath = "/nonexistent/path/does-not-exist.gcode"
	cfg.TargetPath = filepath.Join(t.TempDir(), "out.gcode")
	cfg.Normalize()

	_, err := Convert(context.Background(), &cfg, logging.Discard{}, nil)
	if err == nil {
		t.Fatal("expected error for missing source file")
	}
}

// Testable Property 5 (idempotence): a file that already contains an arc
// must still track the toolhead correctly afterward, so a second pass over
// this engine's own welded output doesn't corrupt every later segment's
// start point. G2/G3 here is never re-fit, only passed through, but its
// endpoint must still move the tracker.
func TestConvertTracksPositionAcrossExistingArc(t *testing.T) {
	const src = "G1 X10 Y0 E1\n" +
		"G2 X20 Y0 I5 J0 E2\n" +
		"G1 X20.1 Y0 E2.01\n" +
		"G1 X20.2 Y0 E2.02\n" +
		"G1 X20.3 Y0 E2.03\n"
	srcPath, targetPath := writeTempSource(t, src)

	cfg := config.Default()
	cfg.SourcePath = srcPath
	cfg.TargetPath = targetPath
	cfg.Normalize()

	res, err := Convert(context.Background(), &cfg, logging.Discard{}, nil)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if !res.Success {
		t.Fatalf("unexpected result: %+v", res)
	}

	out, err := os.ReadFile(targetPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(out), "G2 X20 Y0 I5 J0 E2") {
		t.Fatalf("expected the G2 line to pass through verbatim, got %q", string(out))
	}
	if res.Final.ArcsEmitted != 0 {
		t.Fatalf("the three short post-arc moves are colinear and should not be re-fit, got %d arcs", res.Final.ArcsEmitted)
	}

	// 10mm (first move) + 0.1 + 0.1 + 0.1mm (the three post-arc moves,
	// measured from the arc's real endpoint at X20). If the tracker's
	// position were left frozen at the pre-arc X10 instead of advancing to
	// the arc's declared endpoint, the first post-arc segment would measure
	// 10.1mm instead of 0.1mm and this total would read ~20.3mm.
	const wantSourceLenMM = 10.3
	if math.Abs(res.SourceLengthMM-wantSourceLenMM) > 0.01 {
		t.Fatalf("SourceLengthMM = %v, want ~%v (tracker position must advance across the G2 line)",
			res.SourceLengthMM, wantSourceLenMM)
	}
}
