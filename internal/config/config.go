// Package config holds the run-wide settings shared by every worker. Rank 0
// loads and validates them; the other ranks receive an identical copy.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"slices"

	"github.com/cwbudde/ravenroost/internal/dataset"
	"github.com/cwbudde/ravenroost/internal/objective"
	"gopkg.in/yaml.v3"
)

// Target policies.
const (
	TargetFixed   = "fixed"
	TargetPerStep = "per-step"
)

// Flight headings.
const (
	HeadingRandom = "random"
	HeadingTarget = "target"
)

// Convergence recorders.
const (
	RecorderNone   = "none"
	RecorderJSONL  = "jsonl"
	RecorderSQLite = "sqlite"
)

// Config is immutable once broadcast.
type Config struct {
	Population   int     `mapstructure:"population" json:"population" yaml:"population"`
	Features     int     `mapstructure:"features" json:"features" yaml:"features"`
	Iterations   int     `mapstructure:"iterations" json:"iterations" yaml:"iterations"`
	FlightSteps  int     `mapstructure:"flight_steps" json:"flight_steps" yaml:"flight_steps"`
	LookoutSteps int     `mapstructure:"lookout_steps" json:"lookout_steps" yaml:"lookout_steps"`
	Threads      int     `mapstructure:"threads" json:"threads" yaml:"threads"`
	Lower        float64 `mapstructure:"lower" json:"lower" yaml:"lower"`
	Upper        float64 `mapstructure:"upper" json:"upper" yaml:"upper"`
	Radius       float64 `mapstructure:"radius" json:"radius" yaml:"radius"`

	// MeasureSpeedup disables the random early stop so timings and results
	// are deterministic.
	MeasureSpeedup bool `mapstructure:"measure_speedup" json:"measure_speedup" yaml:"measure_speedup"`
	// Convergence enables the per-iteration convergence records.
	Convergence bool   `mapstructure:"convergence" json:"convergence" yaml:"convergence"`
	Recorder    string `mapstructure:"recorder" json:"recorder" yaml:"recorder"`

	Seed      uint64 `mapstructure:"seed" json:"seed" yaml:"seed"`
	Dataset   string `mapstructure:"dataset" json:"dataset" yaml:"dataset"`
	OutputDir string `mapstructure:"output_dir" json:"output_dir" yaml:"output_dir"`
	Objective string `mapstructure:"objective" json:"objective" yaml:"objective"`

	TargetPolicy         string  `mapstructure:"target_policy" json:"target_policy" yaml:"target_policy"`
	Heading              string  `mapstructure:"heading" json:"heading" yaml:"heading"`
	EarlyStopProbability float64 `mapstructure:"early_stop_probability" json:"early_stop_probability" yaml:"early_stop_probability"`

	// Patience > 0 stops the run after that many iterations without a
	// relative leader improvement of at least Threshold.
	Patience  int     `mapstructure:"patience" json:"patience" yaml:"patience"`
	Threshold float64 `mapstructure:"threshold" json:"threshold" yaml:"threshold"`
}

// Default returns the settings used when nothing else is configured.
func Default() Config {
	return Config{
		Population:           64,
		Features:             10,
		Iterations:           100,
		FlightSteps:          10,
		LookoutSteps:         5,
		Threads:              1,
		Lower:                -600,
		Upper:                600,
		Radius:               100,
		Recorder:             RecorderJSONL,
		OutputDir:            "./output",
		Objective:            objective.DefaultName,
		TargetPolicy:         TargetFixed,
		Heading:              HeadingRandom,
		EarlyStopProbability: 0.1,
		Threshold:            0.001,
	}
}

// ValidationError reports an invalid setting.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ValidateWorkers checks that every one of workers ranks owns at least one
// raven.
func (c Config) ValidateWorkers(workers int) error {
	if workers <= 0 {
		return &ValidationError{Field: "workers", Reason: fmt.Sprintf("must be positive, got %d", workers)}
	}
	if workers > c.Population {
		return &ValidationError{
			Field:  "workers",
			Reason: fmt.Sprintf("%d workers exceed the population of %d", workers, c.Population),
		}
	}
	return nil
}

// ApplyDatasetDims infers population and features from the dataset name.
func (c *Config) ApplyDatasetDims() error {
	if c.Dataset == "" {
		return nil
	}
	rows, features, err := dataset.ParseDims(c.Dataset)
	if err != nil {
		return &ValidationError{Field: "dataset", Reason: err.Error()}
	}
	c.Population, c.Features = rows, features
	return nil
}

// Normalize swaps inverted bounds and then validates.
func (c *Config) Normalize() error {
	if c.Lower >= c.Upper {
		slog.Warn("Lower bound is not below upper bound, swapping",
			"lower", c.Lower,
			"upper", c.Upper,
		)
		c.Lower, c.Upper = c.Upper, c.Lower
	}
	return c.Validate()
}

// Validate checks every setting and returns the first *ValidationError.
func (c Config) Validate() error {
	positive := []struct {
		field string
		v     int
	}{
		{"population", c.Population},
		{"features", c.Features},
		{"flight_steps", c.FlightSteps},
		{"lookout_steps", c.LookoutSteps},
		{"threads", c.Threads},
	}
	for _, p := range positive {
		if p.v <= 0 {
			return &ValidationError{Field: p.field, Reason: fmt.Sprintf("must be positive, got %d", p.v)}
		}
	}
	if c.Iterations < 0 {
		return &ValidationError{Field: "iterations", Reason: fmt.Sprintf("must not be negative, got %d", c.Iterations)}
	}

	if !finite(c.Lower) || !finite(c.Upper) {
		return &ValidationError{Field: "bounds", Reason: "must be finite"}
	}
	if c.Lower > c.Upper {
		return &ValidationError{Field: "bounds", Reason: fmt.Sprintf("lower %g above upper %g", c.Lower, c.Upper)}
	}
	if !finite(c.Radius) || c.Radius <= 0 {
		return &ValidationError{Field: "radius", Reason: fmt.Sprintf("must be positive, got %g", c.Radius)}
	}

	if c.EarlyStopProbability < 0 || c.EarlyStopProbability > 1 {
		return &ValidationError{Field: "early_stop_probability", Reason: "must be in [0, 1]"}
	}
	if c.Patience < 0 {
		return &ValidationError{Field: "patience", Reason: "must not be negative"}
	}
	if c.Threshold < 0 {
		return &ValidationError{Field: "threshold", Reason: "must not be negative"}
	}

	if !slices.Contains([]string{TargetFixed, TargetPerStep}, c.TargetPolicy) {
		return &ValidationError{Field: "target_policy", Reason: fmt.Sprintf("unknown policy %q", c.TargetPolicy)}
	}
	if !slices.Contains([]string{HeadingRandom, HeadingTarget}, c.Heading) {
		return &ValidationError{Field: "heading", Reason: fmt.Sprintf("unknown heading %q", c.Heading)}
	}
	if !slices.Contains([]string{RecorderNone, RecorderJSONL, RecorderSQLite}, c.Recorder) {
		return &ValidationError{Field: "recorder", Reason: fmt.Sprintf("unknown recorder %q", c.Recorder)}
	}
	if _, err := objective.ByName(c.Objective, 1); err != nil {
		return &ValidationError{Field: "objective", Reason: err.Error()}
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Marshal encodes the config for broadcast.
func (c Config) Marshal() ([]byte, error) {
	return json.Marshal(c)
}

// Unmarshal decodes a broadcast config.
func Unmarshal(data []byte) (Config, error) {
	var c Config
	if err := json.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	return c, nil
}

// YAML renders the config as a YAML document.
func (c Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}
