// Package stt transcribes candidate audio into text for the interview dialog.
package stt

import "context"

// Result is a single transcription of a candidate utterance.
type Result struct {
	Text       string
	Confidence float64
}

// Transcriber converts a complete audio blob into text. Audio arrives as
// a full utterance per message, so recognition is non-streaming.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (Result, error)
	Close() error
}
