package stt

import (
	"context"
	"sync"
)

// MockTranscriber records transcription calls and returns canned results.
type MockTranscriber struct {
	mu     sync.Mutex
	Result Result
	Err    error
	Blobs  [][]byte
}

var _ Transcriber = (*MockTranscriber)(nil)

func (m *MockTranscriber) Transcribe(ctx context.Context, audio []byte) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Blobs = append(m.Blobs, audio)
	if m.Err != nil {
		return Result{}, m.Err
	}
	return m.Result, nil
}

func (m *MockTranscriber) Close() error { return nil }
