package audio

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"github.com/hireloop/hireloop/internal/models"
	"github.com/hireloop/hireloop/internal/store"
)

func newTestStorage(t *testing.T, options ...Option) *Storage {
	t.Helper()
	options = append([]Option{WithBasePath(t.TempDir())}, options...)
	s, err := NewStorage(options...)
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}
	return s
}

func TestSaveAndReadChunk(t *testing.T) {
	s := newTestStorage(t)
	sessionID := uuid.New()
	entryID := uuid.New()

	rel, err := s.SaveChunk(sessionID, entryID, []byte("chunk-data"))
	if err != nil {
		t.Fatalf("SaveChunk: %v", err)
	}
	want := filepath.Join(sessionID.String(), entryID.String()+".mp3")
	if rel != want {
		t.Errorf("relative path = %q, want %q", rel, want)
	}

	data, err := s.ReadChunk(rel)
	if err != nil {
		t.Fatalf("ReadChunk: %v", err)
	}
	if string(data) != "chunk-data" {
		t.Errorf("unexpected chunk data: %q", data)
	}
}

func TestSaveChunkRejectsOversize(t *testing.T) {
	s := newTestStorage(t, WithMaxChunkBytes(4))
	if _, err := s.SaveChunk(uuid.New(), uuid.New(), []byte("too big")); !errors.Is(err, ErrChunkTooLarge) {
		t.Errorf("expected ErrChunkTooLarge, got %v", err)
	}
}

func TestSaveChunkRejectsEmpty(t *testing.T) {
	s := newTestStorage(t)
	if _, err := s.SaveChunk(uuid.New(), uuid.New(), nil); err == nil {
		t.Error("expected error for empty chunk")
	}
}

func TestDeleteSessionAudio(t *testing.T) {
	s := newTestStorage(t)
	sessionID := uuid.New()
	rel, err := s.SaveChunk(sessionID, uuid.New(), []byte("x"))
	if err != nil {
		t.Fatalf("SaveChunk: %v", err)
	}
	if err := s.DeleteSessionAudio(sessionID); err != nil {
		t.Fatalf("DeleteSessionAudio: %v", err)
	}
	if _, err := s.ReadChunk(rel); err == nil {
		t.Error("chunk still readable after delete")
	}
}

func seedSessionWithChunks(t *testing.T, st store.Store, s *Storage, chunks []string) uuid.UUID {
	t.Helper()
	sessionID := uuid.New()
	if err := st.CreateSession(models.Session{ID: sessionID, Status: models.SessionStatusCompleted}); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	role := models.RoleAssistant
	for _, c := range chunks {
		entry := models.TranscriptEntry{SessionID: sessionID, Role: role, Text: "turn"}
		if c != "" {
			rel, err := s.SaveChunk(sessionID, uuid.New(), []byte(c))
			if err != nil {
				t.Fatalf("SaveChunk: %v", err)
			}
			entry.AudioURL = rel
		}
		if err := st.AppendTranscriptEntry(&entry); err != nil {
			t.Fatalf("AppendTranscriptEntry: %v", err)
		}
		if role == models.RoleAssistant {
			role = models.RoleCandidate
		} else {
			role = models.RoleAssistant
		}
	}
	return sessionID
}

func TestMergeSessionConcatenatesInOrder(t *testing.T) {
	st := store.NewInMemoryStore()
	s := newTestStorage(t)
	m := NewMerger(st, s)

	sessionID := seedSessionWithChunks(t, st, s, []string{"aaa", "", "bbb", "ccc"})

	rel, err := m.MergeSession(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("MergeSession: %v", err)
	}
	if rel != sessionID.String()+"_complete.mp3" {
		t.Errorf("merged path = %q", rel)
	}
	data, err := os.ReadFile(filepath.Join(s.basePath, rel))
	if err != nil {
		t.Fatalf("read merged file: %v", err)
	}
	if string(data) != "aaabbbccc" {
		t.Errorf("merged content = %q, want %q", data, "aaabbbccc")
	}

	sess, err := st.GetSession(sessionID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if sess.AudioFilePath != rel {
		t.Errorf("session audio path = %q, want %q", sess.AudioFilePath, rel)
	}
}

func TestMergeSessionNoChunks(t *testing.T) {
	st := store.NewInMemoryStore()
	s := newTestStorage(t)
	m := NewMerger(st, s)

	sessionID := seedSessionWithChunks(t, st, s, []string{"", ""})
	if _, err := m.MergeSession(context.Background(), sessionID); err == nil {
		t.Error("expected error when session has no audio chunks")
	}
}

func TestMergeHandlerBestEffort(t *testing.T) {
	st := store.NewInMemoryStore()
	s := newTestStorage(t)
	handler := NewMerger(st, s).MergeHandler()

	// Session without audio: the merge fails internally but the job completes.
	if err := handler(context.Background(), `{"session_id":"`+uuid.New().String()+`"}`); err != nil {
		t.Errorf("handler returned error for chunkless session: %v", err)
	}
	// Malformed payload is a real job failure.
	if err := handler(context.Background(), "not-json"); err == nil {
		t.Error("expected error for malformed payload")
	}
}
