package config

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cwbudde/ravenroost/internal/comm"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. RAVENROOST_ITERATIONS.
const EnvPrefix = "RAVENROOST"

// legacyEnv maps keys to the environment variables older deployments use.
var legacyEnv = map[string]string{
	"seed":            "PRRO_SEED",
	"measure_speedup": "MEASURE_SPEEDOUT",
	"output_dir":      "OUTPUT_DIR",
}

// flagNames maps config keys to command-line flags.
var flagNames = map[string]string{
	"population":             "population",
	"features":               "features",
	"iterations":             "iterations",
	"flight_steps":           "flight-steps",
	"lookout_steps":          "lookout-steps",
	"threads":                "threads",
	"lower":                  "lower",
	"upper":                  "upper",
	"radius":                 "radius",
	"measure_speedup":        "measure-speedup",
	"convergence":            "convergence",
	"recorder":               "recorder",
	"seed":                   "seed",
	"dataset":                "dataset",
	"output_dir":             "output-dir",
	"objective":              "objective",
	"target_policy":          "target-policy",
	"heading":                "heading",
	"early_stop_probability": "early-stop",
	"patience":               "patience",
	"threshold":              "threshold",
}

// RegisterFlags defines one flag per setting on fs.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.Int("population", d.Population, "Number of ravens (inferred from --dataset when set)")
	fs.Int("features", d.Features, "Dimensionality of the search space (inferred from --dataset when set)")
	fs.Int("iterations", d.Iterations, "Number of iterations")
	fs.Int("flight-steps", d.FlightSteps, "Flight steps per raven and iteration")
	fs.Int("lookout-steps", d.LookoutSteps, "Lookout probes per flight step")
	fs.Int("threads", d.Threads, "Threads per worker")
	fs.Float64("lower", d.Lower, "Lower search bound")
	fs.Float64("upper", d.Upper, "Upper search bound")
	fs.Float64("radius", d.Radius, "Base look radius")
	fs.Bool("measure-speedup", d.MeasureSpeedup, "Disable the random early stop for deterministic timing runs")
	fs.Bool("convergence", d.Convergence, "Record per-iteration convergence samples")
	fs.String("recorder", d.Recorder, "Convergence recorder (jsonl, sqlite, none)")
	fs.Uint64("seed", d.Seed, "Random seed (0 derives one from the clock)")
	fs.String("dataset", d.Dataset, "Initial population file named random-<rows>-<features>.csv")
	fs.String("output-dir", d.OutputDir, "Directory for results, timings and convergence data")
	fs.String("objective", d.Objective, "Objective function")
	fs.String("target-policy", d.TargetPolicy, "Follower target policy (fixed, per-step)")
	fs.String("heading", d.Heading, "Flight heading (random, target)")
	fs.Float64("early-stop", d.EarlyStopProbability, "Probability of ending a flight after an improvement")
	fs.Int("patience", d.Patience, "Stop after this many iterations without improvement (0 disables)")
	fs.Float64("threshold", d.Threshold, "Minimum relative improvement counted by --patience")
}

// NewViper returns a viper instance with defaults, environment overrides and,
// when file is not empty, the YAML config file.
func NewViper(file string) (*viper.Viper, error) {
	v := viper.New()

	d := Default()
	v.SetDefault("population", d.Population)
	v.SetDefault("features", d.Features)
	v.SetDefault("iterations", d.Iterations)
	v.SetDefault("flight_steps", d.FlightSteps)
	v.SetDefault("lookout_steps", d.LookoutSteps)
	v.SetDefault("threads", d.Threads)
	v.SetDefault("lower", d.Lower)
	v.SetDefault("upper", d.Upper)
	v.SetDefault("radius", d.Radius)
	v.SetDefault("measure_speedup", d.MeasureSpeedup)
	v.SetDefault("convergence", d.Convergence)
	v.SetDefault("recorder", d.Recorder)
	v.SetDefault("seed", d.Seed)
	v.SetDefault("dataset", d.Dataset)
	v.SetDefault("output_dir", d.OutputDir)
	v.SetDefault("objective", d.Objective)
	v.SetDefault("target_policy", d.TargetPolicy)
	v.SetDefault("heading", d.Heading)
	v.SetDefault("early_stop_probability", d.EarlyStopProbability)
	v.SetDefault("patience", d.Patience)
	v.SetDefault("threshold", d.Threshold)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	for key, env := range legacyEnv {
		if err := v.BindEnv(key, EnvPrefix+"_"+strings.ToUpper(key), env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	if file != "" {
		v.SetConfigFile(file)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return v, nil
}

// BindFlags makes flags set on fs override every other source.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for key, name := range flagNames {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("failed to bind flag --%s: %w", name, err)
		}
	}
	return nil
}

// Load builds a validated config from v. Dimensions come from the dataset
// name when one is configured.
func Load(v *viper.Viper) (Config, error) {
	cfg := Default()
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.ApplyDatasetDims(); err != nil {
		return Config{}, err
	}
	if err := cfg.Normalize(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Broadcast distributes root's config to every rank. Root validates before
// sending; an invalid config aborts the world before any computation.
func Broadcast(ctx context.Context, c *comm.Comm, cfg Config) (Config, error) {
	var data []byte
	if c.Rank() == comm.Root {
		if err := cfg.Validate(); err != nil {
			return Config{}, err
		}
		if err := cfg.ValidateWorkers(c.Size()); err != nil {
			return Config{}, err
		}
		var err error
		data, err = cfg.Marshal()
		if err != nil {
			return Config{}, fmt.Errorf("failed to encode config: %w", err)
		}
	}

	data, err := c.BroadcastBytes(ctx, comm.Root, data)
	if err != nil {
		return Config{}, fmt.Errorf("config broadcast: %w", err)
	}
	out, err := Unmarshal(data)
	if err != nil {
		return Config{}, err
	}
	if c.Rank() != comm.Root {
		if err := out.Validate(); err != nil {
			return Config{}, errors.Join(errors.New("received invalid config"), err)
		}
	}
	return out, nil
}
