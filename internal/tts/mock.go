package tts

import (
	"context"
	"sync"
)

// MockSynthesizer records synthesis calls and returns canned audio.
type MockSynthesizer struct {
	mu    sync.Mutex
	Audio []byte
	Err   error
	Texts []string
}

var _ Synthesizer = (*MockSynthesizer)(nil)

func (m *MockSynthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Texts = append(m.Texts, text)
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Audio, nil
}

func (m *MockSynthesizer) Close() error { return nil }
