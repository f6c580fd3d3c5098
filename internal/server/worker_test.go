package server

import (
	"context"
	"testing"

	"github.com/cwbudde/ravenroost/internal/store"
)

func TestRunJob_Success(t *testing.T) {
	jm := NewJobManager()
	st, err := store.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	job := jm.CreateJob(3, testJobConfig(), nil)
	events := jm.broadcaster.Subscribe(job.ID)

	if err := runJob(context.Background(), jm, st, job.ID); err != nil {
		t.Fatalf("runJob should succeed: %v", err)
	}

	updated, _ := jm.GetJob(job.ID)
	if updated.State != StateCompleted {
		t.Fatalf("Job should be completed, got %s (%s)", updated.State, updated.Error)
	}
	if len(updated.BestPosition) != 3 {
		t.Errorf("Expected 3 features, got %d", len(updated.BestPosition))
	}
	if updated.Iterations != 5 {
		t.Errorf("Expected 5 iterations, got %d", updated.Iterations)
	}
	if updated.BestFitness > updated.InitialFitness {
		t.Errorf("best fitness %v worse than initial %v", updated.BestFitness, updated.InitialFitness)
	}
	if updated.EndTime == nil {
		t.Error("EndTime should be set")
	}

	// running, one per iteration, completed; then the channel is closed
	var got []ProgressEvent
	for ev := range events {
		got = append(got, ev)
	}
	if len(got) != 7 {
		t.Fatalf("got %d events, want 7", len(got))
	}
	if got[0].State != StateRunning || got[6].State != StateCompleted {
		t.Errorf("unexpected event states: first %s, last %s", got[0].State, got[6].State)
	}
	for i, ev := range got[1:6] {
		if ev.Iteration != i {
			t.Errorf("event %d reports iteration %d", i, ev.Iteration)
		}
	}

	saved, err := st.LoadResult(job.ID)
	if err != nil {
		t.Fatalf("result not saved: %v", err)
	}
	if saved.BestFitness != updated.BestFitness || saved.Workers != 3 {
		t.Errorf("saved result differs from job: %+v", saved)
	}
}

func TestRunJob_TooManyWorkers(t *testing.T) {
	jm := NewJobManager()
	job := jm.CreateJob(20, testJobConfig(), nil)

	if err := runJob(context.Background(), jm, nil, job.ID); err == nil {
		t.Error("runJob should fail when workers exceed the population")
	}

	updated, _ := jm.GetJob(job.ID)
	if updated.State != StateFailed || updated.Error == "" {
		t.Errorf("Job should be failed with an error, got %s", updated.State)
	}
}

func TestRunJob_Cancelled(t *testing.T) {
	jm := NewJobManager()
	job := jm.CreateJob(2, testJobConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := runJob(ctx, jm, nil, job.ID); err == nil {
		t.Error("runJob should report cancellation")
	}
	updated, _ := jm.GetJob(job.ID)
	if updated.State != StateCancelled {
		t.Errorf("Job should be cancelled, got %s", updated.State)
	}
}

func TestRunJob_NotFound(t *testing.T) {
	if err := runJob(context.Background(), NewJobManager(), nil, "nonexistent"); err == nil {
		t.Error("runJob should fail for unknown job")
	}
}
