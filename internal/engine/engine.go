// Package engine is the stream driver (SPEC_FULL.md §4.5): it reads the
// source program line by line, drives the state tracker, feeds motion
// segments to the fitter, and writes whatever the fitter/emitter decide
// to emit. It generalizes the teacher's line-oriented read/dispatch loop
// (project/gcode.go's per-line Process_commands shape, and
// kennylevinsen-gocnc's read-each-line-then-act vm loop) into a single
// Convert entry point over a pure parse/state/fit/emit pipeline.
package engine

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	uuid "github.com/satori/go.uuid"
	"golang.org/x/sys/unix"

	"github.com/atsju/ArcWelderLib/internal/arcerr"
	"github.com/atsju/ArcWelderLib/internal/config"
	"github.com/atsju/ArcWelderLib/internal/emit"
	"github.com/atsju/ArcWelderLib/internal/fitter"
	"github.com/atsju/ArcWelderLib/internal/gcode"
	"github.com/atsju/ArcWelderLib/internal/logging"
	"github.com/atsju/ArcWelderLib/internal/state"
)

// Progress is the callback argument reported during a conversion
// (SPEC_FULL.md §6.2).
type Progress struct {
	RunID                 string
	BytesRead             int64
	TotalBytes            int64
	LinesRead             int64
	ArcsEmitted           int64
	PointsConsumed        int64
	SourceCommandsRead    int64
	TargetCommandsWritten int64
	PercentComplete       float64
	ElapsedSeconds        float64
}

// OnProgress is invoked periodically; returning false cancels the
// conversion (§6.1 "on_progress_received").
type OnProgress func(Progress) bool

// Result is the outcome of a single Convert call (§6.3).
type Result struct {
	Success   bool
	Cancelled bool
	Message   string
	Final     Progress

	// SourceLengthMM / TargetLengthMM / CompressionPercent are compression
	// statistics carried over from the original implementation's summary
	// output (SPEC_FULL.md §9 supplement).
	SourceLengthMM     float64
	TargetLengthMM     float64
	CompressionPercent float64
}

func detectTerminator(line []byte) (body []byte, term string) {
	n := len(line)
	if n >= 2 && line[n-2] == '\r' && line[n-1] == '\n' {
		return line[:n-2], "\r\n"
	}
	if n >= 1 && line[n-1] == '\n' {
		return line[:n-1], "\n"
	}
	if n >= 1 && line[n-1] == '\r' {
		return line[:n-1], "\r"
	}
	return line, ""
}

// Convert runs the end-to-end transform described by cfg, reporting
// progress through onProgress and logging through logger. ctx carries
// the same cancellation signal as onProgress's boolean return. Either
// source stops reading and flushes the pending window the same way as at
// end of stream: it is emitted as an arc when it qualifies, otherwise as
// its original lines. A cancelled run can therefore end with an arc.
func Convert(ctx context.Context, cfg *config.Config, logger logging.Logger, onProgress OnProgress) (Result, error) {
	runID := uuid.NewV4().String()
	start := time.Now()

	if logger == nil {
		logger = logging.Discard{}
	}

	src, err := os.Open(cfg.SourcePath)
	if err != nil {
		e := arcerr.New(arcerr.CodeSourceUnreadable, err.Error())
		logger.Log(logging.ERROR, runID, "%s", e.Error())
		return Result{Success: false, Message: e.Error()}, e
	}
	defer src.Close()

	var totalBytes int64
	if info, statErr := src.Stat(); statErr == nil {
		totalBytes = info.Size()
	}

	dst, err := os.Create(cfg.TargetPath)
	if err != nil {
		e := arcerr.New(arcerr.CodeTargetUnwritable, err.Error())
		logger.Log(logging.ERROR, runID, "%s", e.Error())
		return Result{Success: false, Message: e.Error()}, e
	}
	defer dst.Close()

	if cfg.LockOutput {
		if lockErr := unix.Flock(int(dst.Fd()), unix.LOCK_EX|unix.LOCK_NB); lockErr != nil {
			logger.Log(logging.WARNING, runID, "advisory lock on %s unavailable: %v", cfg.TargetPath, lockErr)
		} else {
			defer unix.Flock(int(dst.Fd()), unix.LOCK_UN)
		}
	}

	w := bufio.NewWriter(dst)
	defer w.Flush()

	tr := state.New(cfg.G90G91InfluencesExtruder)
	emitter := emit.New(cfg)
	arcTerm := "\n" // overwritten once the first line's terminator is observed
	fit := fitter.New(cfg, emitter, arcTerm)
	terminatorLocked := false

	reader := bufio.NewReader(src)

	var prog Progress
	prog.RunID = runID
	prog.TotalBytes = totalBytes

	var sourceLenMM, targetLenMM float64
	var lastStride int64

	flushEmissions := func(ems []fitter.Emission) error {
		for _, em := range ems {
			if _, werr := io.WriteString(w, em.Text+em.Terminator); werr != nil {
				return arcerr.New(arcerr.CodeTargetWriteFailed, werr.Error())
			}
			prog.TargetCommandsWritten++
			prog.PointsConsumed += int64(em.PointsConsumed)
			if em.Kind == fitter.KindArc {
				prog.ArcsEmitted++
			}
		}
		return nil
	}

	writeLine := func(raw, term string) error {
		if _, werr := io.WriteString(w, raw+term); werr != nil {
			return arcerr.New(arcerr.CodeTargetWriteFailed, werr.Error())
		}
		prog.TargetCommandsWritten++
		return nil
	}

	report := func() bool {
		prog.ElapsedSeconds = time.Since(start).Seconds()
		if prog.TotalBytes > 0 {
			prog.PercentComplete = 100 * float64(prog.BytesRead) / float64(prog.TotalBytes)
		}
		if onProgress == nil {
			return true
		}
		return onProgress(prog)
	}

	cancelled := false

	for {
		select {
		case <-ctx.Done():
			cancelled = true
		default:
		}
		if cancelled {
			break
		}

		raw, rerr := reader.ReadBytes('\n')
		if len(raw) == 0 && rerr != nil {
			break
		}

		prog.BytesRead += int64(len(raw))
		prog.LinesRead++

		body, term := detectTerminator(raw)
		if term == "" && rerr == nil {
			term = "\n"
		}
		if !terminatorLocked && term != "" {
			arcTerm = term
			fit.SetTerminator(arcTerm)
			terminatorLocked = true
		}

		cmd := gcode.Parse(string(body), int(prog.LinesRead), term)
		prog.SourceCommandsRead++

		if cmd.Warning != nil {
			logger.Log(logging.WARNING, runID, "%v", cmd.Warning)
		}

		if cmd.Kind.IsMotion() {
			beforeE := tr.E
			seg, ok := tr.Apply(cmd)
			if ok {
				sourceLenMM += seg.Length()
				ectx := emit.Context{
					AbsoluteXYZ:  tr.AbsoluteXYZ,
					AbsoluteE:    tr.AbsoluteE,
					UnitScale:    tr.UnitScale,
					PrevFeedrate: tr.Feedrate,
					Allow3D:      cfg.Allow3DArcs,
				}
				ems, ferr := fit.Feed(seg, tr.Tool, ectx, beforeE)
				if ferr != nil {
					logger.Log(logging.CRITICAL, runID, "%v", ferr)
					return Result{Success: false, Message: ferr.Error()}, ferr
				}
				for _, em := range ems {
					targetLenMM += em.PathLengthMM
				}
				if werr := flushEmissions(ems); werr != nil {
					logger.Log(logging.ERROR, runID, "%v", werr)
					return Result{Success: false, Message: werr.Error()}, werr
				}
			}
		} else {
			ems, ferr := fit.Flush()
			if ferr != nil {
				logger.Log(logging.CRITICAL, runID, "%v", ferr)
				return Result{Success: false, Message: ferr.Error()}, ferr
			}
			for _, em := range ems {
				targetLenMM += em.PathLengthMM
			}
			if werr := flushEmissions(ems); werr != nil {
				logger.Log(logging.ERROR, runID, "%v", werr)
				return Result{Success: false, Message: werr.Error()}, werr
			}
			_, _ = tr.Apply(cmd)
			if werr := writeLine(cmd.Raw, term); werr != nil {
				logger.Log(logging.ERROR, runID, "%v", werr)
				return Result{Success: false, Message: werr.Error()}, werr
			}
		}

		if prog.BytesRead-lastStride >= int64(cfg.ProgressByteStride) {
			lastStride = prog.BytesRead
			if !report() {
				cancelled = true
			}
		}

		if rerr != nil {
			break
		}
	}

	// Final flush: §5 "cancellation ... performs a clean flush"; this is
	// also the normal end-of-stream drain.
	ems, ferr := fit.Flush()
	if ferr != nil {
		logger.Log(logging.CRITICAL, runID, "%v", ferr)
		return Result{Success: false, Message: ferr.Error()}, ferr
	}
	for _, em := range ems {
		targetLenMM += em.PathLengthMM
	}
	if werr := flushEmissions(ems); werr != nil {
		logger.Log(logging.ERROR, runID, "%v", werr)
		return Result{Success: false, Message: werr.Error()}, werr
	}

	if ferr := w.Flush(); ferr != nil {
		e := arcerr.New(arcerr.CodeTargetWriteFailed, ferr.Error())
		logger.Log(logging.ERROR, runID, "%s", e.Error())
		return Result{Success: false, Message: e.Error()}, e
	}

	report()

	var compressionPct float64
	if sourceLenMM > 0 {
		compressionPct = 100 * (1 - targetLenMM/sourceLenMM)
	}

	res := Result{
		Success:            !cancelled,
		Cancelled:          cancelled,
		Final:              prog,
		SourceLengthMM:     sourceLenMM,
		TargetLengthMM:     targetLenMM,
		CompressionPercent: compressionPct,
	}
	if cancelled {
		res.Message = fmt.Sprintf("conversion cancelled at byte %d", prog.BytesRead)
		logger.Log(logging.INFO, runID, "%s", res.Message)
	} else {
		res.Message = "conversion complete"
		logger.Log(logging.INFO, runID, "conversion complete: %d arcs emitted, %.1f%% length reduction",
			prog.ArcsEmitted, compressionPct)
	}
	return res, nil
}
