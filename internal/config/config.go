// Package config loads the tracer's tunable knobs, layering CLI flags over
// environment variables over an optional YAML file over compiled-in
// defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every knob enumerated by the public API surface: store
// location, correlation cadence, similarity weights and thresholds, and
// test-gating toggles.
type Config struct {
	// DBPath is the SQLite database file, conventionally under Logs/.
	DBPath string `yaml:"db_path"`

	// CorrelationCadence is how often the correlation engine rescans an
	// active monitor session.
	CorrelationCadence time.Duration `yaml:"-"`
	CorrelationCadenceMS int64       `yaml:"correlation_cadence_ms"`

	// CorrelationEnabled gates whether the correlation task runs at all.
	CorrelationEnabled bool `yaml:"correlation_enabled"`

	// HistogramWeight, StructuralWeight and OrderedWeight combine into a
	// single similarity score; they must sum to 1.
	HistogramWeight  float64 `yaml:"histogram_weight"`
	StructuralWeight float64 `yaml:"structural_weight"`
	OrderedWeight    float64 `yaml:"ordered_weight"`

	// MediumConfidenceThreshold and HighConfidenceThreshold bound the
	// confidence tiers attached to each match.
	MediumConfidenceThreshold float64 `yaml:"medium_confidence_threshold"`
	HighConfidenceThreshold   float64 `yaml:"high_confidence_threshold"`

	// RunPerformanceTests gates heavy benchmark-style test scenarios.
	RunPerformanceTests bool `yaml:"-"`
}

// Default returns the compiled-in defaults from the design.
func Default() Config {
	return Config{
		DBPath:                    "Logs/tracer.db",
		CorrelationCadence:        500 * time.Millisecond,
		CorrelationCadenceMS:      500,
		CorrelationEnabled:        true,
		HistogramWeight:           0.4,
		StructuralWeight:          0.3,
		OrderedWeight:             0.3,
		MediumConfidenceThreshold: 0.5,
		HighConfidenceThreshold:   0.75,
		RunPerformanceTests:       false,
	}
}

// Load builds a Config by layering, from lowest to highest precedence:
// compiled-in defaults, an optional YAML file at filePath (ignored if
// empty or missing), environment variables, and finally the overrides
// supplied by the caller (typically parsed CLI flags).
func Load(filePath string, overrides Config, overridden OverrideSet) (Config, error) {
	cfg := Default()

	if filePath != "" {
		if data, err := os.ReadFile(filePath); err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config file %s: %w", filePath, err)
			}
		} else if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("read config file %s: %w", filePath, err)
		}
	}

	applyEnv(&cfg)
	applyOverrides(&cfg, overrides, overridden)

	cfg.CorrelationCadence = time.Duration(cfg.CorrelationCadenceMS) * time.Millisecond
	cfg.RunPerformanceTests = os.Getenv("RUN_PERFORMANCE_TESTS") == "1"

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// OverrideSet marks which fields the caller explicitly set via flags, so
// Load can distinguish "flag left at its zero value" from "flag not
// passed at all" when layering overrides on top of file/env config.
type OverrideSet struct {
	DBPath                    bool
	CorrelationCadenceMS      bool
	CorrelationEnabled        bool
	HistogramWeight           bool
	StructuralWeight          bool
	OrderedWeight             bool
	MediumConfidenceThreshold bool
	HighConfidenceThreshold   bool
}

func applyOverrides(cfg *Config, o Config, set OverrideSet) {
	if set.DBPath {
		cfg.DBPath = o.DBPath
	}
	if set.CorrelationCadenceMS {
		cfg.CorrelationCadenceMS = o.CorrelationCadenceMS
	}
	if set.CorrelationEnabled {
		cfg.CorrelationEnabled = o.CorrelationEnabled
	}
	if set.HistogramWeight {
		cfg.HistogramWeight = o.HistogramWeight
	}
	if set.StructuralWeight {
		cfg.StructuralWeight = o.StructuralWeight
	}
	if set.OrderedWeight {
		cfg.OrderedWeight = o.OrderedWeight
	}
	if set.MediumConfidenceThreshold {
		cfg.MediumConfidenceThreshold = o.MediumConfidenceThreshold
	}
	if set.HighConfidenceThreshold {
		cfg.HighConfidenceThreshold = o.HighConfidenceThreshold
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("TRACER_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("TRACER_CORRELATION_CADENCE_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.CorrelationCadenceMS = n
		}
	}
	if v := os.Getenv("TRACER_HISTOGRAM_WEIGHT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.HistogramWeight = f
		}
	}
	if v := os.Getenv("TRACER_STRUCTURAL_WEIGHT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.StructuralWeight = f
		}
	}
	if v := os.Getenv("TRACER_ORDERED_WEIGHT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.OrderedWeight = f
		}
	}
	if v := os.Getenv("TRACER_MEDIUM_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.MediumConfidenceThreshold = f
		}
	}
	if v := os.Getenv("TRACER_HIGH_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.HighConfidenceThreshold = f
		}
	}
}

// Validate checks the invariants the correlation engine depends on: the
// three component weights must be non-negative and sum to 1 (within
// floating-point tolerance), and thresholds must be ordered and in [0,1].
func (c Config) Validate() error {
	const epsilon = 1e-9
	sum := c.HistogramWeight + c.StructuralWeight + c.OrderedWeight
	if sum < 1-epsilon || sum > 1+epsilon {
		return fmt.Errorf("similarity weights must sum to 1, got %f", sum)
	}
	if c.HistogramWeight < 0 || c.StructuralWeight < 0 || c.OrderedWeight < 0 {
		return fmt.Errorf("similarity weights must be non-negative")
	}
	if c.MediumConfidenceThreshold < 0 || c.MediumConfidenceThreshold > 1 {
		return fmt.Errorf("medium confidence threshold must be in [0,1]")
	}
	if c.HighConfidenceThreshold < 0 || c.HighConfidenceThreshold > 1 {
		return fmt.Errorf("high confidence threshold must be in [0,1]")
	}
	if c.HighConfidenceThreshold < c.MediumConfidenceThreshold {
		return fmt.Errorf("high confidence threshold must be >= medium confidence threshold")
	}
	return nil
}
