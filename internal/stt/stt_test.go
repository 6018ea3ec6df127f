package stt

import (
	"context"
	"errors"
	"testing"
)

func TestMockTranscriberReturnsResult(t *testing.T) {
	m := &MockTranscriber{Result: Result{Text: "Да, готов", Confidence: 0.94}}
	res, err := m.Transcribe(context.Background(), []byte("opus-bytes"))
	if err != nil {
		t.Fatalf("Transcribe returned error: %v", err)
	}
	if res.Text != "Да, готов" {
		t.Errorf("unexpected text: %q", res.Text)
	}
	if res.Confidence != 0.94 {
		t.Errorf("unexpected confidence: %v", res.Confidence)
	}
	if len(m.Blobs) != 1 || string(m.Blobs[0]) != "opus-bytes" {
		t.Errorf("call not recorded: %v", m.Blobs)
	}
}

func TestMockTranscriberError(t *testing.T) {
	wantErr := errors.New("recognizer unavailable")
	m := &MockTranscriber{Err: wantErr}
	if _, err := m.Transcribe(context.Background(), []byte("x")); !errors.Is(err, wantErr) {
		t.Errorf("expected %v, got %v", wantErr, err)
	}
}
