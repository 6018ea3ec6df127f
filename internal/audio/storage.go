// Package audio stores per-session audio chunks on disk and merges them
// into a single recording after a session completes.
package audio

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

const (
	// DefaultMaxChunkBytes caps a single uploaded audio chunk at 10 MB.
	DefaultMaxChunkBytes = 10 << 20

	mergedSuffix = "_complete.mp3"
)

// ErrChunkTooLarge indicates an audio chunk exceeds the configured size cap.
var ErrChunkTooLarge = fmt.Errorf("audio chunk exceeds maximum size")

// Opts holds configuration for audio storage.
type Opts struct {
	BasePath      string
	MaxChunkBytes int64
}

// Option configures Opts.
type Option func(*Opts)

// WithBasePath sets the root directory for session audio files.
func WithBasePath(path string) Option {
	return func(o *Opts) {
		o.BasePath = path
	}
}

// WithMaxChunkBytes overrides the per-chunk size cap.
func WithMaxChunkBytes(n int64) Option {
	return func(o *Opts) {
		o.MaxChunkBytes = n
	}
}

// Storage writes and reads session audio under a base directory, one
// subdirectory per session.
type Storage struct {
	basePath      string
	maxChunkBytes int64
}

// NewStorage creates audio storage rooted at the configured base path.
func NewStorage(options ...Option) (*Storage, error) {
	opts := Opts{
		BasePath:      "audio_storage",
		MaxChunkBytes: DefaultMaxChunkBytes,
	}
	for _, opt := range options {
		opt(&opts)
	}
	if err := os.MkdirAll(opts.BasePath, 0755); err != nil {
		slog.Error("Storage.New: failed to create base directory", "error", err, "path", opts.BasePath)
		return nil, fmt.Errorf("failed to create audio storage directory: %w", err)
	}
	slog.Debug("Storage.New: audio storage ready", "path", opts.BasePath, "maxChunkBytes", opts.MaxChunkBytes)
	return &Storage{basePath: opts.BasePath, maxChunkBytes: opts.MaxChunkBytes}, nil
}

// SaveChunk persists one audio chunk for a session and returns the path
// relative to the storage root. Chunks are named by transcript entry so a
// session directory holds one file per utterance.
func (s *Storage) SaveChunk(sessionID, entryID uuid.UUID, data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("audio chunk is empty")
	}
	if int64(len(data)) > s.maxChunkBytes {
		slog.Error("Storage.SaveChunk: chunk too large", "sessionID", sessionID,
			"size", len(data), "max", s.maxChunkBytes)
		return "", fmt.Errorf("%w: %d bytes", ErrChunkTooLarge, len(data))
	}
	dir := filepath.Join(s.basePath, sessionID.String())
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create session audio directory: %w", err)
	}
	rel := filepath.Join(sessionID.String(), entryID.String()+".mp3")
	if err := os.WriteFile(filepath.Join(s.basePath, rel), data, 0644); err != nil {
		slog.Error("Storage.SaveChunk: write failed", "error", err, "sessionID", sessionID)
		return "", fmt.Errorf("failed to write audio chunk: %w", err)
	}
	slog.Debug("Storage.SaveChunk: chunk saved", "sessionID", sessionID, "path", rel, "bytes", len(data))
	return rel, nil
}

// ReadChunk returns the bytes of a previously saved chunk by its relative path.
func (s *Storage) ReadChunk(rel string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.basePath, rel))
	if err != nil {
		return nil, fmt.Errorf("failed to read audio chunk: %w", err)
	}
	return data, nil
}

// DeleteSessionAudio removes all stored audio for a session, including the
// merged recording if present.
func (s *Storage) DeleteSessionAudio(sessionID uuid.UUID) error {
	if err := os.RemoveAll(filepath.Join(s.basePath, sessionID.String())); err != nil {
		return fmt.Errorf("failed to delete session audio directory: %w", err)
	}
	merged := filepath.Join(s.basePath, sessionID.String()+mergedSuffix)
	if err := os.Remove(merged); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete merged recording: %w", err)
	}
	slog.Debug("Storage.DeleteSessionAudio: audio removed", "sessionID", sessionID)
	return nil
}

// MergedPath returns the relative path the merged recording for a session
// is written to.
func (s *Storage) MergedPath(sessionID uuid.UUID) string {
	return sessionID.String() + mergedSuffix
}
