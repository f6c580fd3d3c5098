package store

import (
	"fmt"
	"math"
	"time"

	"github.com/cwbudde/ravenroost/internal/config"
)

// RunResult is the persisted outcome of one optimization run.
type RunResult struct {
	// RunID is the unique identifier of the run
	RunID string `json:"runId"`

	// Optimizer names the algorithm that produced the result
	Optimizer string `json:"optimizer"`

	// Workers is the number of ranks the population was split across
	Workers int `json:"workers"`

	// BestFitness is the leader fitness after the last iteration
	BestFitness float64 `json:"bestFitness"`

	// InitialFitness is the leader fitness of the unmodified population
	InitialFitness float64 `json:"initialFitness"`

	// BestPosition is the leader position after the last iteration
	BestPosition []float64 `json:"bestPosition"`

	// LeaderIndex is the global population row of the leader
	LeaderIndex int `json:"leaderIndex"`

	// Iterations is the number of iterations actually run
	Iterations int `json:"iterations"`

	// Converged is set when stagnation detection ended the run early
	Converged bool `json:"converged,omitempty"`

	// TotalSeconds and ComputeSeconds are the slowest rank's timings
	TotalSeconds   float64 `json:"totalSeconds"`
	ComputeSeconds float64 `json:"computeSeconds"`

	// History holds the leader fitness before the first iteration and after
	// every iteration
	History []float64 `json:"history,omitempty"`

	// Timestamp records when the run finished
	Timestamp time.Time `json:"timestamp"`

	// Config is the configuration every rank ran with
	Config config.Config `json:"config"`
}

// RunInfo is the metadata of a stored run without positions or history.
type RunInfo struct {
	RunID       string    `json:"runId"`
	Optimizer   string    `json:"optimizer"`
	Workers     int       `json:"workers"`
	BestFitness float64   `json:"bestFitness"`
	Iterations  int       `json:"iterations"`
	Population  int       `json:"population"`
	Features    int       `json:"features"`
	Timestamp   time.Time `json:"timestamp"`
}

// ToInfo converts a full RunResult to RunInfo.
func (r *RunResult) ToInfo() RunInfo {
	return RunInfo{
		RunID:       r.RunID,
		Optimizer:   r.Optimizer,
		Workers:     r.Workers,
		BestFitness: r.BestFitness,
		Iterations:  r.Iterations,
		Population:  r.Config.Population,
		Features:    r.Config.Features,
		Timestamp:   r.Timestamp,
	}
}

// Improvement returns InitialFitness - BestFitness.
func (r *RunResult) Improvement() float64 {
	return r.InitialFitness - r.BestFitness
}

// Validate checks if the result has valid data.
func (r *RunResult) Validate() error {
	if r.RunID == "" {
		return &ValidationError{Field: "RunID", Reason: "cannot be empty"}
	}
	if r.Optimizer == "" {
		return &ValidationError{Field: "Optimizer", Reason: "cannot be empty"}
	}
	if r.Workers <= 0 {
		return &ValidationError{Field: "Workers", Reason: "must be positive"}
	}
	if len(r.BestPosition) == 0 {
		return &ValidationError{Field: "BestPosition", Reason: "cannot be empty"}
	}
	if len(r.BestPosition) != r.Config.Features {
		return &ValidationError{
			Field:  "BestPosition",
			Reason: fmt.Sprintf("length mismatch: expected %d features", r.Config.Features),
		}
	}
	if math.IsNaN(r.BestFitness) {
		return &ValidationError{Field: "BestFitness", Reason: "cannot be NaN"}
	}
	if r.Iterations < 0 {
		return &ValidationError{Field: "Iterations", Reason: "cannot be negative"}
	}
	if r.Timestamp.IsZero() {
		return &ValidationError{Field: "Timestamp", Reason: "cannot be zero"}
	}
	return nil
}

// ValidationError represents a result validation error.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Field + " " + e.Reason
}

// ConvergenceRecord is one per-iteration sample of the leader, emitted by
// every rank.
type ConvergenceRecord struct {
	RunID        string        `json:"runId,omitempty"`
	Iteration    int           `json:"iteration"`
	Rank         int           `json:"rank"`
	Fitness      float64       `json:"fitness"`
	Elapsed      time.Duration `json:"elapsed"`
	LeaderIndex  int           `json:"leaderIndex"`
	Improvement  float64       `json:"improvement"`
	PreviousBest float64       `json:"previousBest"`
}
