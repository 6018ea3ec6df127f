// Package tts synthesizes assistant speech for the interview dialog.
package tts

import "context"

// Synthesizer converts assistant text into spoken audio.
type Synthesizer interface {
	// Synthesize returns MP3 audio for the given text.
	Synthesize(ctx context.Context, text string) ([]byte, error)
	Close() error
}

// Disabled is a no-op synthesizer used when speech output is turned off.
// Synthesize returns nil audio, which downstream code treats as text-only.
type Disabled struct{}

func (Disabled) Synthesize(ctx context.Context, text string) ([]byte, error) { return nil, nil }
func (Disabled) Close() error                                                { return nil }
