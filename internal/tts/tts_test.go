package tts

import (
	"context"
	"errors"
	"testing"
)

func TestDisabledReturnsNoAudio(t *testing.T) {
	var d Disabled
	audio, err := d.Synthesize(context.Background(), "Здравствуйте")
	if err != nil {
		t.Fatalf("Synthesize returned error: %v", err)
	}
	if audio != nil {
		t.Errorf("expected nil audio from disabled synthesizer, got %d bytes", len(audio))
	}
	if err := d.Close(); err != nil {
		t.Errorf("Close returned error: %v", err)
	}
}

func TestMockSynthesizerRecordsCalls(t *testing.T) {
	m := &MockSynthesizer{Audio: []byte("mp3-bytes")}
	audio, err := m.Synthesize(context.Background(), "Расскажите о себе")
	if err != nil {
		t.Fatalf("Synthesize returned error: %v", err)
	}
	if string(audio) != "mp3-bytes" {
		t.Errorf("unexpected audio: %q", audio)
	}
	if len(m.Texts) != 1 || m.Texts[0] != "Расскажите о себе" {
		t.Errorf("call not recorded: %v", m.Texts)
	}
}

func TestMockSynthesizerError(t *testing.T) {
	wantErr := errors.New("synthesis unavailable")
	m := &MockSynthesizer{Err: wantErr}
	if _, err := m.Synthesize(context.Background(), "текст"); !errors.Is(err, wantErr) {
		t.Errorf("expected %v, got %v", wantErr, err)
	}
}
