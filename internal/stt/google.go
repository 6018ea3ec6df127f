package stt

import (
	"context"
	"fmt"
	"log/slog"

	speech "cloud.google.com/go/speech/apiv1"
	"google.golang.org/api/option"
	speechpb "google.golang.org/genproto/googleapis/cloud/speech/v1"
)

const (
	// DefaultLanguageCode matches the language the interview is conducted in.
	DefaultLanguageCode  = "ru-RU"
	defaultSampleRateHz  = 48000
	defaultAudioEncoding = speechpb.RecognitionConfig_WEBM_OPUS
)

// ErrNoSpeechRecognized indicates the recognizer found no speech in the audio.
var ErrNoSpeechRecognized = fmt.Errorf("no speech recognized in audio")

// Opts holds configuration for the Google transcriber.
type Opts struct {
	LanguageCode    string
	SampleRateHz    int32
	Encoding        speechpb.RecognitionConfig_AudioEncoding
	CredentialsFile string
}

// Option configures Opts.
type Option func(*Opts)

// WithLanguageCode overrides the recognition language.
func WithLanguageCode(code string) Option {
	return func(o *Opts) {
		o.LanguageCode = code
	}
}

// WithSampleRate overrides the expected audio sample rate.
func WithSampleRate(hz int32) Option {
	return func(o *Opts) {
		o.SampleRateHz = hz
	}
}

// WithEncoding overrides the expected audio encoding.
func WithEncoding(enc speechpb.RecognitionConfig_AudioEncoding) Option {
	return func(o *Opts) {
		o.Encoding = enc
	}
}

// WithCredentialsFile points the client at a service account key file.
// When unset the client uses application default credentials.
func WithCredentialsFile(path string) Option {
	return func(o *Opts) {
		o.CredentialsFile = path
	}
}

// GoogleTranscriber recognizes speech via the Google Cloud Speech-to-Text API.
type GoogleTranscriber struct {
	client       *speech.Client
	languageCode string
	sampleRateHz int32
	encoding     speechpb.RecognitionConfig_AudioEncoding
}

var _ Transcriber = (*GoogleTranscriber)(nil)

// NewGoogleTranscriber creates a transcriber backed by the Google Cloud Speech API.
func NewGoogleTranscriber(ctx context.Context, options ...Option) (*GoogleTranscriber, error) {
	opts := Opts{
		LanguageCode: DefaultLanguageCode,
		SampleRateHz: defaultSampleRateHz,
		Encoding:     defaultAudioEncoding,
	}
	for _, opt := range options {
		opt(&opts)
	}

	var clientOpts []option.ClientOption
	if opts.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(opts.CredentialsFile))
	}
	client, err := speech.NewClient(ctx, clientOpts...)
	if err != nil {
		slog.Error("GoogleTranscriber.New: failed to create client", "error", err)
		return nil, fmt.Errorf("failed to create speech client: %w", err)
	}
	slog.Debug("GoogleTranscriber.New: client created", "language", opts.LanguageCode)
	return &GoogleTranscriber{
		client:       client,
		languageCode: opts.LanguageCode,
		sampleRateHz: opts.SampleRateHz,
		encoding:     opts.Encoding,
	}, nil
}

// Transcribe recognizes a complete audio utterance and returns the top alternative.
func (g *GoogleTranscriber) Transcribe(ctx context.Context, audio []byte) (Result, error) {
	if len(audio) == 0 {
		return Result{}, fmt.Errorf("audio to transcribe is empty")
	}
	resp, err := g.client.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:        g.encoding,
			SampleRateHertz: g.sampleRateHz,
			LanguageCode:    g.languageCode,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: audio},
		},
	})
	if err != nil {
		slog.Error("GoogleTranscriber.Transcribe: request failed", "error", err, "audioBytes", len(audio))
		return Result{}, fmt.Errorf("failed to recognize speech: %w", err)
	}
	for _, result := range resp.Results {
		if len(result.Alternatives) == 0 {
			continue
		}
		alt := result.Alternatives[0]
		slog.Debug("GoogleTranscriber.Transcribe: speech recognized",
			"textLen", len(alt.Transcript), "confidence", alt.Confidence)
		return Result{Text: alt.Transcript, Confidence: float64(alt.Confidence)}, nil
	}
	slog.Debug("GoogleTranscriber.Transcribe: no speech recognized", "audioBytes", len(audio))
	return Result{}, ErrNoSpeechRecognized
}

// Close releases the underlying API client.
func (g *GoogleTranscriber) Close() error {
	return g.client.Close()
}
