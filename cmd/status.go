package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cwbudde/ravenroost/internal/server"
	"github.com/spf13/cobra"
)

var serverURL string

var statusCmd = &cobra.Command{
	Use:   "status [job-id]",
	Short: "Query server status or specific job",
	Long: `Queries the server for job status information.
If no job-id is provided, lists all jobs.
If job-id is provided, shows detailed status for that job.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "Server URL")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	client := &http.Client{Timeout: 10 * time.Second}
	if len(args) == 0 {
		return listJobs(cmd.OutOrStdout(), client, serverURL+"/api/v1/jobs")
	}
	jobID := args[0]
	return getJobStatus(cmd.OutOrStdout(), client, fmt.Sprintf("%s/api/v1/jobs/%s/status", serverURL, jobID), jobID)
}

func getJSON(client *http.Client, url string, v any) (int, error) {
	resp, err := client.Get(url)
	if err != nil {
		return 0, fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, fmt.Errorf("server returned %s: %s", resp.Status, body)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
	}
	return resp.StatusCode, nil
}

func listJobs(out io.Writer, client *http.Client, url string) error {
	var jobs []server.Job
	if _, err := getJSON(client, url, &jobs); err != nil {
		return err
	}

	if len(jobs) == 0 {
		fmt.Fprintln(out, "No jobs found")
		return nil
	}

	fmt.Fprintf(out, "Found %d job(s):\n\n", len(jobs))
	for _, job := range jobs {
		fmt.Fprintf(out, "Job ID: %s\n", job.ID)
		fmt.Fprintf(out, "  State: %s\n", job.State)
		fmt.Fprintf(out, "  Workers: %d, population %d, features %d\n", job.Workers, job.Config.Population, job.Config.Features)
		if job.Iterations > 0 {
			fmt.Fprintf(out, "  Iterations: %d/%d, fitness %.6g\n", job.Iterations, job.Config.Iterations, job.BestFitness)
		}
		fmt.Fprintln(out)
	}
	return nil
}

// jobStatus mirrors the status response of the server.
type jobStatus struct {
	ID             string    `json:"id"`
	State          string    `json:"state"`
	Workers        int       `json:"workers"`
	BestFitness    float64   `json:"bestFitness"`
	InitialFitness float64   `json:"initialFitness"`
	LeaderIndex    int       `json:"leaderIndex"`
	Iterations     int       `json:"iterations"`
	Elapsed        float64   `json:"elapsed"`
	FlightsPerSec  float64   `json:"flightsPerSec"`
	BestPosition   []float64 `json:"bestPosition"`
	Error          string    `json:"error"`
	Config         struct {
		Population int    `json:"population"`
		Features   int    `json:"features"`
		Iterations int    `json:"iterations"`
		Objective  string `json:"objective"`
		Seed       uint64 `json:"seed"`
	} `json:"config"`
}

func getJobStatus(out io.Writer, client *http.Client, url, jobID string) error {
	var status jobStatus
	code, err := getJSON(client, url, &status)
	if code == http.StatusNotFound {
		return fmt.Errorf("job not found: %s", jobID)
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Job: %s\n", status.ID)
	fmt.Fprintf(out, "State: %s\n\n", status.State)

	fmt.Fprintln(out, "Configuration:")
	fmt.Fprintf(out, "  Objective: %s\n", status.Config.Objective)
	fmt.Fprintf(out, "  Workers: %d\n", status.Workers)
	fmt.Fprintf(out, "  Population: %d\n", status.Config.Population)
	fmt.Fprintf(out, "  Features: %d\n", status.Config.Features)
	fmt.Fprintf(out, "  Iterations: %d\n", status.Config.Iterations)
	fmt.Fprintf(out, "  Seed: %d\n\n", status.Config.Seed)

	fmt.Fprintln(out, "Progress:")
	fmt.Fprintf(out, "  Iterations done: %d\n", status.Iterations)
	if status.Iterations > 0 {
		fmt.Fprintf(out, "  Leader: #%d, fitness %.10g\n", status.LeaderIndex, status.BestFitness)
	}
	if status.InitialFitness != 0 {
		fmt.Fprintf(out, "  Initial fitness: %.10g\n", status.InitialFitness)
		fmt.Fprintf(out, "  Improvement: %.10g\n", status.InitialFitness-status.BestFitness)
	}
	elapsed := time.Duration(status.Elapsed * float64(time.Second))
	fmt.Fprintf(out, "  Elapsed: %s\n", elapsed.Round(time.Millisecond))
	if status.FlightsPerSec > 0 {
		fmt.Fprintf(out, "  Throughput: %.0f flights/sec\n", status.FlightsPerSec)
	}

	if status.Error != "" {
		fmt.Fprintf(out, "\nError: %s\n", status.Error)
	}
	return nil
}
