package store

import (
	"time"
)

// JobStatus represents the lifecycle state of a background job.
type JobStatus string

const (
	JobStatusQueued   JobStatus = "queued"
	JobStatusRunning  JobStatus = "running"
	JobStatusDone     JobStatus = "done"
	JobStatusFailed   JobStatus = "failed"
	JobStatusCanceled JobStatus = "canceled"
)

// Job kinds used by the session maintenance worker.
const (
	// JobKindMergeAudio concatenates a finished session's per-turn audio
	// fragments into one recording file.
	JobKindMergeAudio = "merge_session_audio"
	// JobKindSweepAbandoned marks long-idle in-progress sessions as abandoned.
	JobKindSweepAbandoned = "sweep_abandoned_sessions"
)

// Job is a durable unit of deferred work such as audio merging. Jobs survive
// process restarts, unlike in-memory timers.
type Job struct {
	ID          string     `json:"id"`
	Kind        string     `json:"kind"`
	RunAt       time.Time  `json:"run_at"`
	PayloadJSON string     `json:"payload_json"`
	Status      JobStatus  `json:"status"`
	Attempt     int        `json:"attempt"`
	MaxAttempts int        `json:"max_attempts"`
	LastError   string     `json:"last_error"`
	LockedAt    *time.Time `json:"locked_at"`
	DedupeKey   string     `json:"dedupe_key"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// JobRepo defines the durable job persistence operations.
type JobRepo interface {
	// EnqueueJob inserts a new job. If dedupeKey is non-empty and a non-terminal
	// job with that key already exists, the existing job ID is returned without
	// inserting a duplicate.
	EnqueueJob(kind string, runAt time.Time, payloadJSON string, dedupeKey string) (string, error)

	// ClaimDueJobs marks up to limit queued jobs with run_at <= now as running
	// and returns them.
	ClaimDueJobs(now time.Time, limit int) ([]Job, error)

	// CompleteJob marks a job as done.
	CompleteJob(id string) error

	// FailJob records the error and requeues the job for nextRunAt while
	// attempts remain; otherwise it is marked permanently failed.
	FailJob(id string, errMsg string, nextRunAt time.Time) error

	// RequeueStaleRunningJobs resets jobs stuck in running since before
	// staleBefore back to queued. Called once at startup for crash recovery.
	RequeueStaleRunningJobs(staleBefore time.Time) (int, error)

	// GetJob retrieves a single job by ID, or nil if absent.
	GetJob(id string) (*Job, error)
}
