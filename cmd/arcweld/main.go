// arcweld converts G0/G1 linear-move runs in a G-code program into G2/G3
// arcs within a configurable tolerance envelope.
//
// Usage:
//
//	arcweld -source in.gcode -target out.gcode [options]
//
// Options:
//
//	-config string         Optional INI config file (section [arcweld])
//	-source string         Path to input G-code (overrides config file)
//	-target string         Path to output G-code (overrides config file)
//	-resolution float       Max point-to-circle deviation in mm (default 0.05)
//	-tolerance-percent float Max |arc-chord|/chord percent (default 5)
//	-allow-3d               Permit monotone-Z helical arcs
//	-log-level string       NOSET|VERBOSE|DEBUG|INFO|WARNING|ERROR|CRITICAL
//	-progress-addr string   If set, serve live progress over a websocket at this address
//
// Examples:
//
//	arcweld -source part.gcode -target part.arcs.gcode
//	arcweld -config arcweld.ini -allow-3d
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/atsju/ArcWelderLib/internal/arcerr"
	"github.com/atsju/ArcWelderLib/internal/config"
	"github.com/atsju/ArcWelderLib/internal/engine"
	"github.com/atsju/ArcWelderLib/internal/logging"
	"github.com/atsju/ArcWelderLib/internal/progresshub"
	"github.com/atsju/ArcWelderLib/internal/report"
)

func main() {
	configFile := flag.String("config", "", "Optional INI config file (section [arcweld])")
	sourcePath := flag.String("source", "", "Path to input G-code (overrides config file)")
	targetPath := flag.String("target", "", "Path to output G-code (overrides config file)")
	resolution := flag.Float64("resolution", 0, "Max point-to-circle deviation in mm (default 0.05)")
	tolerancePercent := flag.Float64("tolerance-percent", -1, "Max |arc-chord|/chord percent (default 5)")
	allow3D := flag.Bool("allow-3d", false, "Permit monotone-Z helical arcs")
	logLevel := flag.String("log-level", "", "NOSET|VERBOSE|DEBUG|INFO|WARNING|ERROR|CRITICAL")
	progressAddr := flag.String("progress-addr", "", "If set, serve live progress over a websocket at this address")

	flag.Parse()

	var cfg config.Config
	var loadWarnings []*arcerr.Error

	if *configFile != "" {
		loaded, warns, err := config.Load(*configFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "arcweld: %v\n", err)
			os.Exit(1)
		}
		cfg = *loaded
		loadWarnings = warns
	} else {
		cfg = config.Default()
	}

	if *sourcePath != "" {
		cfg.SourcePath = *sourcePath
	}
	if *targetPath != "" {
		cfg.TargetPath = *targetPath
	}
	if *resolution > 0 {
		cfg.ResolutionMM = *resolution
	}
	if *tolerancePercent >= 0 {
		cfg.PathTolerancePercent = *tolerancePercent
	}
	if *allow3D {
		cfg.Allow3DArcs = true
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	if cfg.SourcePath == "" || cfg.TargetPath == "" {
		fmt.Fprintln(os.Stderr, "arcweld: -source and -target are required (or set source_path/target_path in -config)")
		flag.Usage()
		os.Exit(1)
	}

	clampWarnings := cfg.Normalize()

	logger := logging.New(os.Stderr, logging.ParseLevel(cfg.LogLevel))
	for _, w := range loadWarnings {
		logger.Log(logging.WARNING, "", "%s", w.Error())
	}
	for _, w := range clampWarnings {
		logger.Log(logging.WARNING, "", "%s", w.Error())
	}

	var hub *progresshub.Hub
	if *progressAddr != "" {
		hub = progresshub.New()
		mux := http.NewServeMux()
		mux.Handle("/progress", hub)
		go func() {
			if err := http.ListenAndServe(*progressAddr, mux); err != nil {
				logger.Log(logging.ERROR, "", "progress server: %v", err)
			}
		}()
		logger.Log(logging.INFO, "", "live progress available at ws://%s/progress", *progressAddr)
	}

	onProgress := func(p engine.Progress) bool {
		if hub != nil {
			hub.Broadcast(p)
			if hub.CancelRequested() {
				return false
			}
		}
		return true
	}

	res, err := engine.Convert(context.Background(), &cfg, logger, onProgress)
	if err != nil {
		fmt.Fprintf(os.Stderr, "arcweld: %v\n", err)
		os.Exit(1)
	}

	renderer, err := report.New("")
	if err == nil {
		if summary, rerr := renderer.Render(cfg.SourcePath, cfg.TargetPath, res); rerr == nil {
			fmt.Println(summary)
		}
	}

	if !res.Success {
		os.Exit(1)
	}
}
