// Package config implements the configuration record of SPEC_FULL.md §6.1
// and its loader. Loading follows the teacher's ConfigWrapper.Getfloat
// pattern (project/Configfile.go): a default, an optional min/max, and a
// clamp-with-warning rather than a hard failure when a value is out of
// range — generalized from a live printer.cfg section reader to this
// engine's single [arcweld] section.
package config

import (
	"fmt"

	"github.com/atsju/ArcWelderLib/internal/arcerr"
	"github.com/atsju/ArcWelderLib/internal/config/ini"
)

// Repository-defined defaults and ceilings (§6.1).
const (
	DefaultResolutionMM           = 0.05
	DefaultPathTolerancePercent   = 5.0
	DefaultMaxRadiusMM            = 1_000_000.0 // hard ceiling; see MaxRadiusCeilingMM
	MaxRadiusCeilingMM            = 1_000_000.0
	DefaultMinArcSegments         = 0
	DefaultMMPerArcSegment        = 1.0 // matches the teacher's ArcSupport resolution default
	DefaultXYZPrecision           = 3
	DefaultEPrecision             = 5
	MinPrecision                  = 3
	MaxPrecision                  = 6
	DefaultProgressByteStride     = 65536
	DefaultLogLevel               = "INFO"
)

// Config is the engine's configuration record (SPEC_FULL.md §6.1).
type Config struct {
	SourcePath string
	TargetPath string

	ResolutionMM             float64
	PathTolerancePercent     float64
	MaxRadiusMM              float64
	MinArcSegments           int
	MMPerArcSegment          float64
	G90G91InfluencesExtruder bool
	Allow3DArcs              bool
	AllowDynamicPrecision    bool
	DefaultXYZPrecision      int
	DefaultEPrecision        int
	LogLevel                 string

	// AllowFullCircleArcs resolves the §9 Open Question on 360° arcs:
	// false (default) splits a full circle into two half-arcs.
	AllowFullCircleArcs bool

	// ProgressByteStride and LockOutput are ambient knobs (SPEC_FULL.md §6.1 ADD).
	ProgressByteStride uint64
	LockOutput         bool
}

// Default returns a Config with every field at its specified default.
func Default() Config {
	return Config{
		ResolutionMM:             DefaultResolutionMM,
		PathTolerancePercent:     DefaultPathTolerancePercent,
		MaxRadiusMM:              DefaultMaxRadiusMM,
		MinArcSegments:           DefaultMinArcSegments,
		MMPerArcSegment:          DefaultMMPerArcSegment,
		G90G91InfluencesExtruder: false,
		Allow3DArcs:              false,
		AllowDynamicPrecision:    false,
		DefaultXYZPrecision:      DefaultXYZPrecision,
		DefaultEPrecision:        DefaultEPrecision,
		LogLevel:                 DefaultLogLevel,
		AllowFullCircleArcs:      false,
		ProgressByteStride:       DefaultProgressByteStride,
		LockOutput:               true,
	}
}

// Normalize clamps out-of-range fields in place and returns one
// ConfigWarning per clamped field (§7: "logged at WARNING, never fatal").
func (c *Config) Normalize() []*arcerr.Error {
	var warns []*arcerr.Error

	if c.ResolutionMM <= 0 {
		warns = append(warns, arcerr.New(arcerr.CodeClampedTolerance,
			fmt.Sprintf("resolution_mm %.6g <= 0, clamped to %.6g", c.ResolutionMM, DefaultResolutionMM)))
		c.ResolutionMM = DefaultResolutionMM
	}
	if c.PathTolerancePercent < 0 {
		warns = append(warns, arcerr.New(arcerr.CodeClampedTolerance,
			fmt.Sprintf("path_tolerance_percent %.6g < 0, clamped to 0", c.PathTolerancePercent)))
		c.PathTolerancePercent = 0
	}
	if c.MaxRadiusMM <= 0 || c.MaxRadiusMM > MaxRadiusCeilingMM {
		warns = append(warns, arcerr.New(arcerr.CodeClampedRadius,
			fmt.Sprintf("max_radius_mm %.6g out of (0,%.6g], clamped to %.6g", c.MaxRadiusMM, MaxRadiusCeilingMM, MaxRadiusCeilingMM)))
		c.MaxRadiusMM = MaxRadiusCeilingMM
	}
	if c.MinArcSegments < 0 {
		warns = append(warns, arcerr.New(arcerr.CodeClampedTolerance, "min_arc_segments < 0, clamped to 0"))
		c.MinArcSegments = 0
	}
	if c.MMPerArcSegment < 0 {
		warns = append(warns, arcerr.New(arcerr.CodeClampedTolerance, "mm_per_arc_segment < 0, clamped to 0"))
		c.MMPerArcSegment = 0
	}
	if c.DefaultXYZPrecision < MinPrecision || c.DefaultXYZPrecision > MaxPrecision {
		warns = append(warns, arcerr.New(arcerr.CodeClampedPrecision,
			fmt.Sprintf("default_xyz_precision %d out of [%d,%d], clamped", c.DefaultXYZPrecision, MinPrecision, MaxPrecision)))
		c.DefaultXYZPrecision = clampInt(c.DefaultXYZPrecision, MinPrecision, MaxPrecision)
	}
	if c.DefaultEPrecision < MinPrecision || c.DefaultEPrecision > MaxPrecision {
		warns = append(warns, arcerr.New(arcerr.CodeClampedPrecision,
			fmt.Sprintf("default_e_precision %d out of [%d,%d], clamped", c.DefaultEPrecision, MinPrecision, MaxPrecision)))
		c.DefaultEPrecision = clampInt(c.DefaultEPrecision, MinPrecision, MaxPrecision)
	}
	if c.ProgressByteStride == 0 {
		c.ProgressByteStride = DefaultProgressByteStride
	}
	return warns
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Load reads an INI file with a single [arcweld] section into a Config
// seeded with defaults, then Normalizes it.
func Load(path string) (*Config, []*arcerr.Error, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, nil, arcerr.New(arcerr.CodeSourceUnreadable, err.Error())
	}
	sec, err := f.GetSection("arcweld")
	if err != nil {
		sec, _ = f.GetSection(ini.DEFAULT_SECTION)
	}

	cfg := Default()
	if sec == nil {
		warns := cfg.Normalize()
		return &cfg, warns, nil
	}

	if k, e := sec.GetKey("source_path"); e == nil {
		cfg.SourcePath = k.String()
	}
	if k, e := sec.GetKey("target_path"); e == nil {
		cfg.TargetPath = k.String()
	}
	if v, ok := getFloat(sec, "resolution_mm"); ok {
		cfg.ResolutionMM = v
	}
	if v, ok := getFloat(sec, "path_tolerance_percent"); ok {
		cfg.PathTolerancePercent = v
	}
	if v, ok := getFloat(sec, "max_radius_mm"); ok {
		cfg.MaxRadiusMM = v
	}
	if v, ok := getInt(sec, "min_arc_segments"); ok {
		cfg.MinArcSegments = v
	}
	if v, ok := getFloat(sec, "mm_per_arc_segment"); ok {
		cfg.MMPerArcSegment = v
	}
	if v, ok := getBool(sec, "g90_g91_influences_extruder"); ok {
		cfg.G90G91InfluencesExtruder = v
	}
	if v, ok := getBool(sec, "allow_3d_arcs"); ok {
		cfg.Allow3DArcs = v
	}
	if v, ok := getBool(sec, "allow_dynamic_precision"); ok {
		cfg.AllowDynamicPrecision = v
	}
	if v, ok := getInt(sec, "default_xyz_precision"); ok {
		cfg.DefaultXYZPrecision = v
	}
	if v, ok := getInt(sec, "default_e_precision"); ok {
		cfg.DefaultEPrecision = v
	}
	if k, e := sec.GetKey("log_level"); e == nil {
		cfg.LogLevel = k.String()
	}
	if v, ok := getBool(sec, "allow_full_circle_arcs"); ok {
		cfg.AllowFullCircleArcs = v
	}
	if v, ok := getInt(sec, "progress_byte_stride"); ok {
		cfg.ProgressByteStride = uint64(v)
	}
	if v, ok := getBool(sec, "lock_output"); ok {
		cfg.LockOutput = v
	}

	warns := cfg.Normalize()
	return &cfg, warns, nil
}

func getFloat(sec *ini.Section, name string) (float64, bool) {
	k, err := sec.GetKey(name)
	if err != nil {
		return 0, false
	}
	v, err := k.Float64()
	return v, err == nil
}

func getInt(sec *ini.Section, name string) (int, bool) {
	k, err := sec.GetKey(name)
	if err != nil {
		return 0, false
	}
	v, err := k.Int()
	return v, err == nil
}

func getBool(sec *ini.Section, name string) (bool, bool) {
	k, err := sec.GetKey(name)
	if err != nil {
		return 0 != 0, false
	}
	v, err := k.Bool()
	return v, err == nil
}
