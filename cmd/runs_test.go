package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cwbudde/ravenroost/internal/config"
	"github.com/cwbudde/ravenroost/internal/store"
	"github.com/google/go-cmp/cmp"
	"github.com/spf13/cobra"
)

func runIDs(infos []store.RunInfo) []string {
	ids := make([]string, len(infos))
	for i, info := range infos {
		ids[i] = info.RunID
	}
	return ids
}

func TestSelectRunsForDeletion(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	infos := []store.RunInfo{
		{RunID: "run1", Timestamp: now.AddDate(0, 0, -10)},
		{RunID: "run2", Timestamp: now.AddDate(0, 0, -5)},
		{RunID: "run3", Timestamp: now.AddDate(0, 0, -1)},
		{RunID: "run4", Timestamp: now.AddDate(0, 0, -30)},
		{RunID: "run5", Timestamp: now.AddDate(0, 0, -2)},
	}

	tests := []struct {
		name          string
		keepLast      int
		olderThanDays int
		want          []string
	}{
		{"by age", 0, 7, []string{"run1", "run4"}},
		{"by count", 2, 0, []string{"run2", "run1", "run4"}},
		{"combined", 3, 7, []string{"run1", "run4"}},
		{"combined count wins", 1, 7, []string{"run1", "run4", "run5", "run2"}},
		{"nothing matches", 10, 60, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := runIDs(selectRunsForDeletion(infos, tt.keepLast, tt.olderThanDays, now))
			if len(tt.want) == 0 && len(got) == 0 {
				return
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("selected runs mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestGetDirSize(t *testing.T) {
	tmpDir := t.TempDir()
	content := []byte("Hello, World!")
	if err := os.WriteFile(filepath.Join(tmpDir, "test.txt"), content, 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	size, err := getDirSize(tmpDir)
	if err != nil {
		t.Fatalf("getDirSize failed: %v", err)
	}
	if size < int64(len(content)) {
		t.Errorf("Expected size >= %d, got %d", len(content), size)
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		bytes    int64
		expected string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1023, "1023 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{1048576, "1.0 MB"},
		{1073741824, "1.0 GB"},
	}

	for _, tt := range tests {
		if result := formatBytes(tt.bytes); result != tt.expected {
			t.Errorf("formatBytes(%d) = %s, expected %s", tt.bytes, result, tt.expected)
		}
	}
}

func saveTestRun(t *testing.T, st *store.FSStore, id string, ts time.Time) {
	t.Helper()
	cfg := config.Default()
	cfg.Features = 2
	err := st.SaveResult(id, &store.RunResult{
		RunID:        id,
		Optimizer:    "ravenroost",
		Workers:      1,
		BestFitness:  0.5,
		BestPosition: []float64{1, 2},
		Timestamp:    ts,
		Config:       cfg,
	})
	if err != nil {
		t.Fatalf("Failed to save run: %v", err)
	}
}

func testCommand(in string) (*cobra.Command, *bytes.Buffer) {
	cmd := &cobra.Command{}
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetIn(strings.NewReader(in))
	return cmd, out
}

func withRunsFlags(t *testing.T, dir string, keep, older int, force bool) {
	t.Helper()
	prevDir, prevKeep, prevOlder, prevForce := runsDataDir, keepLast, olderThanDays, forceClean
	runsDataDir, keepLast, olderThanDays, forceClean = dir, keep, older, force
	t.Cleanup(func() {
		runsDataDir, keepLast, olderThanDays, forceClean = prevDir, prevKeep, prevOlder, prevForce
	})
}

func TestRunsList(t *testing.T) {
	tmpDir := t.TempDir()
	withRunsFlags(t, tmpDir, 0, 0, false)

	cmd, out := testCommand("")
	if err := runListRuns(cmd, nil); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !strings.Contains(out.String(), "No runs found") {
		t.Errorf("unexpected output for empty store: %q", out.String())
	}

	st, err := store.NewFSStore(tmpDir)
	if err != nil {
		t.Fatal(err)
	}
	saveTestRun(t, st, "test-run-id", time.Now())

	cmd, out = testCommand("")
	if err := runListRuns(cmd, nil); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !strings.Contains(out.String(), "test-run-id") || !strings.Contains(out.String(), "Total runs: 1") {
		t.Errorf("run missing from listing:\n%s", out.String())
	}
}

func TestRunsClean_NoFlags(t *testing.T) {
	withRunsFlags(t, t.TempDir(), 0, 0, false)
	cmd, _ := testCommand("")
	if err := runCleanRuns(cmd, nil); err == nil {
		t.Error("Expected error when no flags specified")
	}
}

func TestRunsClean(t *testing.T) {
	tmpDir := t.TempDir()
	st, err := store.NewFSStore(tmpDir)
	if err != nil {
		t.Fatal(err)
	}
	saveTestRun(t, st, "old-run", time.Now().AddDate(0, 0, -30))
	saveTestRun(t, st, "new-run", time.Now())

	rec, err := store.OpenSQLite(convergenceDB(tmpDir), "old-run")
	if err != nil {
		t.Fatal(err)
	}
	if err := rec.Record(store.ConvergenceRecord{Iteration: 0, Fitness: 1}); err != nil {
		t.Fatal(err)
	}
	rec.Close()

	// Declining the prompt keeps everything
	withRunsFlags(t, tmpDir, 0, 7, false)
	cmd, out := testCommand("n\n")
	if err := runCleanRuns(cmd, nil); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "Aborted") {
		t.Errorf("expected abort, got %q", out.String())
	}
	if _, err := st.LoadResult("old-run"); err != nil {
		t.Fatalf("run deleted without confirmation: %v", err)
	}

	withRunsFlags(t, tmpDir, 0, 7, true)
	cmd, _ = testCommand("")
	if err := runCleanRuns(cmd, nil); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if _, err := st.LoadResult("old-run"); err == nil {
		t.Error("Expected old run to be deleted")
	}
	if _, err := st.LoadResult("new-run"); err != nil {
		t.Errorf("new run should be kept: %v", err)
	}

	rec, err = store.OpenSQLite(convergenceDB(tmpDir), "")
	if err != nil {
		t.Fatal(err)
	}
	defer rec.Close()
	recs, err := rec.Records("old-run", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 0 {
		t.Errorf("%d convergence records of the deleted run remain", len(recs))
	}
}
