package scheduler

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/001_async_jobs.sql
var asyncJobsMigration string

// AsyncJobManager is the named job table backing async-mode batches
// (§4.E "async mode"): every dispatched task becomes a row here instead
// of blocking the caller, and a batch-level completed/failed tally is
// kept so the final progress update reflects the whole batch's
// outcome.
type AsyncJobManager struct {
	db *sql.DB

	mu      sync.Mutex
	tallies map[string]*batchTally // batchID -> running tally
}

type batchTally struct {
	completed int
	failed    int
	total     int
}

// NewAsyncJobManager opens (and migrates) the sqlite-backed job table at
// dbPath. dbPath may be ":memory:" for a process-local manager that
// doesn't need to survive a restart.
func NewAsyncJobManager(dbPath string) (*AsyncJobManager, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening async job store: %w", err)
	}
	if _, err := db.Exec(asyncJobsMigration); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating async job store: %w", err)
	}
	return &AsyncJobManager{db: db, tallies: make(map[string]*batchTally)}, nil
}

// Close releases the underlying database handle.
func (m *AsyncJobManager) Close() error {
	return m.db.Close()
}

// Register records a task as a started background job and seeds the
// batch's running tally.
func (m *AsyncJobManager) Register(ctx context.Context, jobID, batchID, taskID, agent string) error {
	now := time.Now().UTC()
	_, err := m.db.ExecContext(ctx,
		`INSERT INTO async_jobs (job_id, batch_id, task_id, agent, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		jobID, batchID, taskID, agent, string(asyncStatusRunning), now, now)
	if err != nil {
		return fmt.Errorf("registering async job %s: %w", jobID, err)
	}

	m.mu.Lock()
	t, ok := m.tallies[batchID]
	if !ok {
		t = &batchTally{}
		m.tallies[batchID] = t
	}
	t.total++
	m.mu.Unlock()

	return nil
}

type asyncStatus string

const (
	asyncStatusRunning   asyncStatus = "running"
	asyncStatusCompleted asyncStatus = "completed"
	asyncStatusFailed    asyncStatus = "failed"
)

// Settle records a job's terminal status and updates its batch tally.
// succeeded distinguishes a completed result from a failed/aborted one.
func (m *AsyncJobManager) Settle(ctx context.Context, jobID, batchID string, succeeded bool, errMsg string) error {
	status := asyncStatusCompleted
	if !succeeded {
		status = asyncStatusFailed
	}
	_, err := m.db.ExecContext(ctx,
		`UPDATE async_jobs SET status = ?, error = ?, updated_at = ? WHERE job_id = ?`,
		string(status), errMsg, time.Now().UTC(), jobID)
	if err != nil {
		return fmt.Errorf("settling async job %s: %w", jobID, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tallies[batchID]
	if !ok {
		return nil
	}
	if succeeded {
		t.completed++
	} else {
		t.failed++
	}
	return nil
}

// Tally returns the batch's current completed/failed/total counts, for
// folding into the "Started N background tasks" progress envelope.
func (m *AsyncJobManager) Tally(batchID string) (completed, failed, total int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tallies[batchID]
	if !ok {
		return 0, 0, 0
	}
	return t.completed, t.failed, t.total
}
