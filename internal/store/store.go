package store

// Store defines the interface for run result persistence.
// Implementations must be safe for concurrent use.
//
// Error handling conventions:
//   - Return ErrNotFound if a run doesn't exist (for Load/Delete)
//   - Wrap underlying errors with context using fmt.Errorf("context: %w", err)
type Store interface {
	// SaveResult atomically saves the result of a run, replacing any
	// previous result with the same run ID.
	SaveResult(runID string, result *RunResult) error

	// LoadResult retrieves the result of a run.
	LoadResult(runID string) (*RunResult, error)

	// ListResults returns metadata for every stored run.
	ListResults() ([]RunInfo, error)

	// DeleteResult removes a run with all of its artifacts (result.json and
	// the convergence traces of every rank).
	DeleteResult(runID string) error
}

// ErrNotFound is returned when a requested run does not exist.
// Use errors.Is(err, ErrNotFound) to check for this error.
var ErrNotFound = &NotFoundError{}

// NotFoundError represents a missing run.
type NotFoundError struct {
	RunID string
}

func (e *NotFoundError) Error() string {
	if e.RunID != "" {
		return "run not found: " + e.RunID
	}
	return "run not found"
}

func (e *NotFoundError) Is(target error) bool {
	_, ok := target.(*NotFoundError)
	return ok
}
