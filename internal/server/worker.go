package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cwbudde/ravenroost/internal/comm"
	"github.com/cwbudde/ravenroost/internal/engine"
	"github.com/cwbudde/ravenroost/internal/store"
)

// runJob executes a job on an in-process world. Progress is published from
// the root rank's convergence records; if resultStore is not nil the final
// result is saved under the job ID.
func runJob(ctx context.Context, jm *JobManager, resultStore store.Store, jobID string) error {
	job, exists := jm.GetJob(jobID)
	if !exists {
		return fmt.Errorf("job not found: %s", jobID)
	}
	defer jm.broadcaster.CleanupJob(jobID)

	if err := ctx.Err(); err != nil {
		markJobCancelled(jm, jobID)
		return err
	}

	err := jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateRunning
	})
	if err != nil {
		return err
	}
	jm.broadcaster.Broadcast(ProgressEvent{JobID: jobID, State: StateRunning, Timestamp: time.Now()})

	slog.Info("Starting job", "job_id", jobID, "workers", job.Workers,
		"population", job.Config.Population, "features", job.Config.Features, "iterations", job.Config.Iterations)

	cfg := job.Config
	cfg.Convergence = true

	progress := engine.RecorderFunc(func(rec store.ConvergenceRecord) error {
		if rec.Rank != comm.Root {
			return nil
		}
		jm.UpdateJob(jobID, func(j *Job) {
			j.Iterations = rec.Iteration + 1
			j.BestFitness = rec.Fitness
			j.LeaderIndex = rec.LeaderIndex
		})
		jm.broadcaster.Broadcast(ProgressEvent{
			JobID:       jobID,
			State:       StateRunning,
			Iteration:   rec.Iteration,
			Fitness:     rec.Fitness,
			LeaderIndex: rec.LeaderIndex,
			Improvement: rec.Improvement,
			Timestamp:   time.Now(),
		})
		return nil
	})

	var result engine.Result
	err = comm.RunLocal(ctx, job.Workers, func(ctx context.Context, c *comm.Comm) error {
		res, err := engine.Launch(ctx, cfg, c,
			engine.WithRecorder(progress),
			engine.WithRunID(jobID),
			engine.WithLogger(slog.Default().With("job_id", jobID, "rank", c.Rank())),
		)
		if err != nil {
			return err
		}
		if c.Rank() == comm.Root {
			result = res
		}
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			markJobCancelled(jm, jobID)
			return ctx.Err()
		}
		markJobFailed(jm, jobID, err)
		return err
	}

	endTime := time.Now()
	err = jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateCompleted
		j.BestPosition = result.Leader.Position
		j.BestFitness = result.Leader.Fitness
		j.InitialFitness = result.Initial.Fitness
		j.LeaderIndex = result.Leader.GlobalIndex
		j.Iterations = result.Iterations
		j.EndTime = &endTime
	})
	if err != nil {
		return err
	}

	slog.Info("Job completed",
		"job_id", jobID,
		"elapsed", result.MaxTotal,
		"initial_fitness", result.Initial.Fitness,
		"best_fitness", result.Leader.Fitness,
		"iterations", result.Iterations,
	)

	if resultStore != nil {
		if err := resultStore.SaveResult(jobID, result.RunResult(jobID, job.Config)); err != nil {
			slog.Error("Failed to save job result", "job_id", jobID, "error", err)
		}
	}

	jm.broadcaster.Broadcast(ProgressEvent{
		JobID:       jobID,
		State:       StateCompleted,
		Iteration:   result.Iterations,
		Fitness:     result.Leader.Fitness,
		LeaderIndex: result.Leader.GlobalIndex,
		Timestamp:   time.Now(),
	})
	return nil
}

// markJobFailed marks a job as failed with an error message
func markJobFailed(jm *JobManager, jobID string, err error) {
	endTime := time.Now()
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateFailed
		j.Error = err.Error()
		j.EndTime = &endTime
	})
	jm.broadcaster.Broadcast(ProgressEvent{JobID: jobID, State: StateFailed, Timestamp: endTime})
	slog.Error("Job failed", "job_id", jobID, "error", err)
}

// markJobCancelled marks a job as cancelled
func markJobCancelled(jm *JobManager, jobID string) {
	endTime := time.Now()
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateCancelled
		j.EndTime = &endTime
	})
	jm.broadcaster.Broadcast(ProgressEvent{JobID: jobID, State: StateCancelled, Timestamp: endTime})
	slog.Info("Job cancelled", "job_id", jobID)
}
