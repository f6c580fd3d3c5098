package server

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/cwbudde/ravenroost/internal/config"
)

// maxRequestBytes bounds the body of a job request.
const maxRequestBytes = 1 << 20

// writeJSON encodes v with the given status code
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// decodeJobRequest reads a job request, filling omitted config fields with
// defaults, and validates it.
func decodeJobRequest(r io.Reader) (JobRequest, error) {
	req := JobRequest{Workers: 1, Config: config.Default()}
	dec := json.NewDecoder(io.LimitReader(r, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return JobRequest{}, fmt.Errorf("invalid JSON: %w", err)
	}

	if err := req.Config.ApplyDatasetDims(); err != nil {
		return JobRequest{}, err
	}
	if err := req.Config.Normalize(); err != nil {
		return JobRequest{}, err
	}
	if err := req.Config.ValidateWorkers(req.Workers); err != nil {
		return JobRequest{}, err
	}
	return req, nil
}
