package tts

import (
	"context"
	"fmt"
	"log/slog"

	texttospeech "cloud.google.com/go/texttospeech/apiv1"
	"cloud.google.com/go/texttospeech/apiv1/texttospeechpb"
	"google.golang.org/api/option"
)

const (
	// DefaultVoice is the Russian WaveNet voice used for interview sessions.
	DefaultVoice        = "ru-RU-Wavenet-A"
	DefaultLanguageCode = "ru-RU"
	defaultSpeakingRate = 1.0
	defaultPitch        = 0.0
)

// ErrEmptyAudio indicates the speech API returned no audio content.
var ErrEmptyAudio = fmt.Errorf("speech synthesis returned empty audio")

// Opts holds configuration for the Google synthesizer.
type Opts struct {
	Voice           string
	LanguageCode    string
	SpeakingRate    float64
	Pitch           float64
	CredentialsFile string
}

// Option configures Opts.
type Option func(*Opts)

// WithVoice overrides the synthesis voice name.
func WithVoice(name string) Option {
	return func(o *Opts) {
		o.Voice = name
	}
}

// WithLanguageCode overrides the synthesis language.
func WithLanguageCode(code string) Option {
	return func(o *Opts) {
		o.LanguageCode = code
	}
}

// WithSpeakingRate overrides the synthesis speaking rate.
func WithSpeakingRate(rate float64) Option {
	return func(o *Opts) {
		o.SpeakingRate = rate
	}
}

// WithCredentialsFile points the client at a service account key file.
// When unset the client uses application default credentials.
func WithCredentialsFile(path string) Option {
	return func(o *Opts) {
		o.CredentialsFile = path
	}
}

// GoogleSynthesizer produces MP3 audio via the Google Cloud Text-to-Speech API.
type GoogleSynthesizer struct {
	client       *texttospeech.Client
	voice        string
	languageCode string
	speakingRate float64
	pitch        float64
}

var _ Synthesizer = (*GoogleSynthesizer)(nil)

// NewGoogleSynthesizer creates a synthesizer backed by the Google Cloud TTS API.
func NewGoogleSynthesizer(ctx context.Context, options ...Option) (*GoogleSynthesizer, error) {
	opts := Opts{
		Voice:        DefaultVoice,
		LanguageCode: DefaultLanguageCode,
		SpeakingRate: defaultSpeakingRate,
		Pitch:        defaultPitch,
	}
	for _, opt := range options {
		opt(&opts)
	}

	var clientOpts []option.ClientOption
	if opts.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(opts.CredentialsFile))
	}
	client, err := texttospeech.NewClient(ctx, clientOpts...)
	if err != nil {
		slog.Error("GoogleSynthesizer.New: failed to create client", "error", err)
		return nil, fmt.Errorf("failed to create text-to-speech client: %w", err)
	}
	slog.Debug("GoogleSynthesizer.New: client created", "voice", opts.Voice, "language", opts.LanguageCode)
	return &GoogleSynthesizer{
		client:       client,
		voice:        opts.Voice,
		languageCode: opts.LanguageCode,
		speakingRate: opts.SpeakingRate,
		pitch:        opts.Pitch,
	}, nil
}

// Synthesize converts text to MP3 audio.
func (g *GoogleSynthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if text == "" {
		return nil, fmt.Errorf("text to synthesize is empty")
	}
	resp, err := g.client.SynthesizeSpeech(ctx, &texttospeechpb.SynthesizeSpeechRequest{
		Input: &texttospeechpb.SynthesisInput{
			InputSource: &texttospeechpb.SynthesisInput_Text{Text: text},
		},
		Voice: &texttospeechpb.VoiceSelectionParams{
			LanguageCode: g.languageCode,
			Name:         g.voice,
		},
		AudioConfig: &texttospeechpb.AudioConfig{
			AudioEncoding: texttospeechpb.AudioEncoding_MP3,
			SpeakingRate:  g.speakingRate,
			Pitch:         g.pitch,
		},
	})
	if err != nil {
		slog.Error("GoogleSynthesizer.Synthesize: request failed", "error", err, "textLen", len(text))
		return nil, fmt.Errorf("failed to synthesize speech: %w", err)
	}
	if len(resp.AudioContent) == 0 {
		slog.Error("GoogleSynthesizer.Synthesize: empty audio content", "textLen", len(text))
		return nil, ErrEmptyAudio
	}
	slog.Debug("GoogleSynthesizer.Synthesize: audio generated", "textLen", len(text), "audioBytes", len(resp.AudioContent))
	return resp.AudioContent, nil
}

// Close releases the underlying API client.
func (g *GoogleSynthesizer) Close() error {
	return g.client.Close()
}
