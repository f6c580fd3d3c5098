package store

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Timings is the wall-clock report of a run: the slowest rank's total time
// and its time since the start barrier.
type Timings struct {
	Placement  string // optional process placement tag, e.g. "pack"
	Workers    int
	Iterations int
	Population int
	Features   int
	Total      time.Duration
	Compute    time.Duration
}

// FileName returns exec_timings[_<placement>]_np<W>_iter<I>_pop<P>_feat<F>.log.
func (t Timings) FileName() string {
	placement := ""
	if t.Placement != "" {
		placement = "_" + t.Placement
	}
	return fmt.Sprintf("exec_timings%s_np%d_iter%d_pop%d_feat%d.log",
		placement, t.Workers, t.Iterations, t.Population, t.Features)
}

// WriteTimings writes the report into dir and returns its path.
func WriteTimings(dir string, t Timings) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	path := filepath.Join(dir, t.FileName())
	content := fmt.Sprintf("total_time: %.10f\ncomputation_time: %.10f\n",
		t.Total.Seconds(), t.Compute.Seconds())
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return "", fmt.Errorf("failed to write timings: %w", err)
	}
	return path, nil
}

var timingsName = regexp.MustCompile(`^exec_timings(?:_([a-z]+))?_np(\d+)_iter(\d+)_pop(\d+)_feat(\d+)\.log$`)

// ReadTimings parses a report written by WriteTimings.
func ReadTimings(path string) (Timings, error) {
	m := timingsName.FindStringSubmatch(filepath.Base(path))
	if m == nil {
		return Timings{}, fmt.Errorf("not a timings file: %s", path)
	}

	t := Timings{Placement: m[1]}
	t.Workers, _ = strconv.Atoi(m[2])
	t.Iterations, _ = strconv.Atoi(m[3])
	t.Population, _ = strconv.Atoi(m[4])
	t.Features, _ = strconv.Atoi(m[5])

	f, err := os.Open(path)
	if err != nil {
		return Timings{}, fmt.Errorf("failed to open timings: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		key, value, ok := strings.Cut(sc.Text(), ":")
		if !ok {
			continue
		}
		secs, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return Timings{}, fmt.Errorf("invalid %s in %s: %w", key, path, err)
		}
		d := time.Duration(secs * float64(time.Second))
		switch strings.TrimSpace(key) {
		case "total_time":
			t.Total = d
		case "computation_time":
			t.Compute = d
		}
	}
	if err := sc.Err(); err != nil {
		return Timings{}, fmt.Errorf("failed to read timings: %w", err)
	}
	return t, nil
}

// Speedup is the timing of one worker count relative to a single worker.
type Speedup struct {
	Workers    int
	Compute    time.Duration
	Speedup    float64
	Efficiency float64
}

// ComputeSpeedups groups reports by placement and problem size and returns
// the speedup of every worker count against the single-worker run of the
// same group. Groups without a single-worker run are skipped.
func ComputeSpeedups(reports []Timings) map[string][]Speedup {
	groups := make(map[string][]Timings)
	for _, t := range reports {
		key := fmt.Sprintf("%s/iter%d/pop%d/feat%d", t.Placement, t.Iterations, t.Population, t.Features)
		groups[key] = append(groups[key], t)
	}

	out := make(map[string][]Speedup)
	for key, ts := range groups {
		var base time.Duration
		for _, t := range ts {
			if t.Workers == 1 {
				base = t.Compute
			}
		}
		if base == 0 {
			continue
		}

		sort.Slice(ts, func(i, j int) bool { return ts[i].Workers < ts[j].Workers })
		for _, t := range ts {
			if t.Compute <= 0 {
				continue
			}
			s := float64(base) / float64(t.Compute)
			out[key] = append(out[key], Speedup{
				Workers:    t.Workers,
				Compute:    t.Compute,
				Speedup:    s,
				Efficiency: s / float64(t.Workers),
			})
		}
	}
	return out
}
