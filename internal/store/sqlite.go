package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteRecorder stores convergence records of many runs in one database.
type SQLiteRecorder struct {
	db    *sql.DB
	runID string
}

// OpenSQLite opens (or creates) the database at path and records under
// runID.
func OpenSQLite(path, runID string) (*SQLiteRecorder, error) {
	// busy_timeout lets worker processes sharing the file wait for the lock.
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open convergence database: %w", err)
	}
	// Ranks of an in-process world share the handle; one connection
	// serialises their writes.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS convergence(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			iteration INTEGER NOT NULL,
			rank INTEGER NOT NULL,
			fitness REAL NOT NULL,
			elapsed_ns INTEGER NOT NULL,
			leader_index INTEGER NOT NULL,
			improvement REAL NOT NULL,
			previous_best REAL NOT NULL
		)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create convergence table: %w", err)
	}
	return &SQLiteRecorder{db: db, runID: runID}, nil
}

// Record inserts one record.
func (r *SQLiteRecorder) Record(rec ConvergenceRecord) error {
	_, err := r.db.Exec(`INSERT INTO convergence(run_id, iteration, rank, fitness, elapsed_ns, leader_index, improvement, previous_best)
		VALUES(?,?,?,?,?,?,?,?)`,
		r.runID, rec.Iteration, rec.Rank, rec.Fitness, int64(rec.Elapsed), rec.LeaderIndex, rec.Improvement, rec.PreviousBest)
	if err != nil {
		return fmt.Errorf("failed to insert convergence record: %w", err)
	}
	return nil
}

// Records returns the records of runID on rank, ordered by iteration.
func (r *SQLiteRecorder) Records(runID string, rank int) ([]ConvergenceRecord, error) {
	rows, err := r.db.Query(`SELECT iteration, rank, fitness, elapsed_ns, leader_index, improvement, previous_best
		FROM convergence WHERE run_id = ? AND rank = ? ORDER BY iteration`, runID, rank)
	if err != nil {
		return nil, fmt.Errorf("failed to query convergence records: %w", err)
	}
	defer rows.Close()

	var recs []ConvergenceRecord
	for rows.Next() {
		rec := ConvergenceRecord{RunID: runID}
		var elapsed int64
		if err := rows.Scan(&rec.Iteration, &rec.Rank, &rec.Fitness, &elapsed, &rec.LeaderIndex, &rec.Improvement, &rec.PreviousBest); err != nil {
			return nil, fmt.Errorf("failed to scan convergence record: %w", err)
		}
		rec.Elapsed = time.Duration(elapsed)
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// DeleteRun removes every record of runID.
func (r *SQLiteRecorder) DeleteRun(runID string) error {
	if _, err := r.db.Exec(`DELETE FROM convergence WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("failed to delete convergence records: %w", err)
	}
	return nil
}

// Close closes the database.
func (r *SQLiteRecorder) Close() error {
	return r.db.Close()
}
