package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hireloop/hireloop/internal/models"
	"github.com/hireloop/hireloop/internal/store"
)

// DefaultAbandonAfter is how long a session may sit idle before the
// sweep marks it abandoned.
const DefaultAbandonAfter = 24 * time.Hour

// ScheduleSweep enqueues a sweep run at the given time. Runs are deduped
// per hour so restarts and overlapping schedules collapse onto one job.
func ScheduleSweep(st store.JobRepo, at time.Time) error {
	dedupe := "sweep:" + at.UTC().Format("2006010215")
	if _, err := st.EnqueueJob(store.JobKindSweepAbandoned, at, "{}", dedupe); err != nil {
		return fmt.Errorf("failed to schedule sweep: %w", err)
	}
	return nil
}

// NewSweepHandler returns a job handler that marks stale pending and
// in-progress sessions as abandoned. A session is stale once it has sat
// in a non-terminal status longer than abandonAfter. Interviews
// interrupted mid-connection stay resumable until the sweep catches them.
func NewSweepHandler(st store.Store, abandonAfter time.Duration) store.JobHandler {
	return func(ctx context.Context, payload string) error {
		cutoff := time.Now().Add(-abandonAfter)
		for _, status := range []models.SessionStatus{models.SessionStatusPending, models.SessionStatusInProgress} {
			stale, err := st.ListStaleSessions(status, cutoff)
			if err != nil {
				return fmt.Errorf("failed to list stale sessions: %w", err)
			}
			for _, sess := range stale {
				if err := st.UpdateSessionStatus(sess.ID, models.SessionStatusAbandoned); err != nil {
					slog.Error("SweepHandler: failed to abandon session", "error", err, "sessionID", sess.ID)
					continue
				}
				slog.Info("SweepHandler: abandoned stale session", "sessionID", sess.ID, "previousStatus", status)
			}
		}
		return nil
	}
}
