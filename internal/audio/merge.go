package audio

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/hireloop/hireloop/internal/store"
)

// MergePayload is the job payload for merging a completed session's audio.
type MergePayload struct {
	SessionID uuid.UUID `json:"session_id"`
}

// Merger combines a session's audio chunks into a single recording.
type Merger struct {
	store   store.Store
	storage *Storage
}

// NewMerger creates a merger over the given store and audio storage.
func NewMerger(st store.Store, storage *Storage) *Merger {
	return &Merger{store: st, storage: storage}
}

// MergeSession concatenates all transcript audio chunks for a session in
// dialog order into {session_id}_complete.mp3 and records the path on the
// session. MP3 frames are self-delimiting, so plain concatenation yields a
// playable stream. Missing chunk files are skipped.
func (m *Merger) MergeSession(ctx context.Context, sessionID uuid.UUID) (string, error) {
	entries, err := m.store.ListTranscript(sessionID)
	if err != nil {
		return "", fmt.Errorf("failed to list transcript for merge: %w", err)
	}

	var merged []byte
	var chunks int
	for _, e := range entries {
		if e.AudioURL == "" {
			continue
		}
		data, err := m.storage.ReadChunk(e.AudioURL)
		if err != nil {
			slog.Debug("Merger.MergeSession: skipping unreadable chunk",
				"sessionID", sessionID, "chunk", e.AudioURL, "error", err)
			continue
		}
		merged = append(merged, data...)
		chunks++
	}
	if chunks == 0 {
		return "", fmt.Errorf("no audio chunks found for session %s", sessionID)
	}

	rel := m.storage.MergedPath(sessionID)
	out := filepath.Join(m.storage.basePath, rel)
	if err := os.WriteFile(out, merged, 0644); err != nil {
		return "", fmt.Errorf("failed to write merged recording: %w", err)
	}
	if err := m.store.SetSessionAudioPath(sessionID, rel); err != nil {
		return "", fmt.Errorf("failed to record merged audio path: %w", err)
	}
	slog.Info("Merger.MergeSession: session audio merged",
		"sessionID", sessionID, "chunks", chunks, "bytes", len(merged), "path", rel)
	return rel, nil
}

// MergeHandler returns the job handler for merge_session_audio jobs. The
// merge is best effort: failures are logged and the job completes so a
// session without audio does not wedge the queue.
func (m *Merger) MergeHandler() store.JobHandler {
	return func(ctx context.Context, payload string) error {
		var p MergePayload
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			return fmt.Errorf("invalid merge payload: %w", err)
		}
		if _, err := m.MergeSession(ctx, p.SessionID); err != nil {
			slog.Error("Merger.MergeHandler: merge failed", "sessionID", p.SessionID, "error", err)
		}
		return nil
	}
}
