package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/hireloop/hireloop/internal/audio"
	"github.com/hireloop/hireloop/internal/genai"
	"github.com/hireloop/hireloop/internal/lockfile"
	"github.com/hireloop/hireloop/internal/scheduler"
	"github.com/hireloop/hireloop/internal/server"
	"github.com/hireloop/hireloop/internal/session"
	"github.com/hireloop/hireloop/internal/store"
	"github.com/hireloop/hireloop/internal/stt"
	"github.com/hireloop/hireloop/internal/tts"
	"github.com/hireloop/hireloop/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for Hireloop state data
	DefaultStateDir = "/var/lib/hireloop"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "hireloop.db"
	// DefaultAudioDirName is the default directory under the state dir for
	// per-session audio chunks and merged recordings
	DefaultAudioDirName = "audio"
)

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	// Ensure required directories exist
	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	slog.Info("Bootstrapping Hireloop with configured modules")
	slog.Debug("Final configuration",
		"state_dir", *flags.stateDir,
		"dsn_set", *flags.dbDSN != "",
		"api_addr", *flags.apiAddr,
		"audio_dir", *flags.audioDir,
		"tts_enabled", *flags.ttsEnabled,
		"stt_enabled", *flags.sttEnabled)
	if err := run(flags); err != nil {
		slog.Error("Hireloop failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("Hireloop exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseURL     string
	StateDir        string
	DeepSeekKey     string
	APIAddr         string
	AudioDir        string
	TTSEnabled      bool
	STTEnabled      bool
	GoogleCredsFile string
	LanguageCode    string
}

// Flags holds command line flag values
type Flags struct {
	stateDir        *string
	dbDSN           *string
	deepseekKey     *string
	apiAddr         *string
	audioDir        *string
	ttsEnabled      *bool
	sttEnabled      *bool
	googleCredsFile *string
	languageCode    *string
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		StateDir:        os.Getenv("HIRELOOP_STATE_DIR"),
		DeepSeekKey:     os.Getenv("DEEPSEEK_API_KEY"),
		APIAddr:         os.Getenv("API_ADDR"),
		AudioDir:        os.Getenv("AUDIO_STORAGE_PATH"),
		TTSEnabled:      util.ParseBoolEnv("TTS_ENABLED", false),
		STTEnabled:      util.ParseBoolEnv("STT_ENABLED", false),
		GoogleCredsFile: os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"),
		LanguageCode:    os.Getenv("SPEECH_LANGUAGE_CODE"),
	}

	// Set default state directory if not specified
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No HIRELOOP_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	} else {
		slog.Debug("HIRELOOP_STATE_DIR found in environment", "state_dir", config.StateDir)
	}

	// If no database URL is provided, default to SQLite in the state directory
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	// Audio chunks default to a subdirectory of the state directory
	if config.AudioDir == "" {
		config.AudioDir = filepath.Join(config.StateDir, DefaultAudioDirName)
		slog.Debug("No AUDIO_STORAGE_PATH set, using default", "audio_dir", config.AudioDir)
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"HIRELOOP_STATE_DIR", config.StateDir,
		"DEEPSEEK_API_KEY_SET", config.DeepSeekKey != "",
		"API_ADDR", config.APIAddr,
		"AUDIO_STORAGE_PATH", config.AudioDir,
		"TTS_ENABLED", config.TTSEnabled,
		"STT_ENABLED", config.STTEnabled,
		"GOOGLE_APPLICATION_CREDENTIALS_SET", config.GoogleCredsFile != "",
		"SPEECH_LANGUAGE_CODE", config.LanguageCode)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:        flag.String("state-dir", config.StateDir, "state directory for Hireloop data (overrides $HIRELOOP_STATE_DIR)"),
		dbDSN:           flag.String("db-dsn", config.DatabaseURL, "database DSN for the session store (overrides $DATABASE_URL)"),
		deepseekKey:     flag.String("deepseek-api-key", config.DeepSeekKey, "DeepSeek API key (overrides $DEEPSEEK_API_KEY)"),
		apiAddr:         flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		audioDir:        flag.String("audio-dir", config.AudioDir, "directory for session audio files (overrides $AUDIO_STORAGE_PATH)"),
		ttsEnabled:      flag.Bool("tts", config.TTSEnabled, "enable Google Cloud text-to-speech (overrides $TTS_ENABLED)"),
		sttEnabled:      flag.Bool("stt", config.STTEnabled, "enable Google Cloud speech-to-text (overrides $STT_ENABLED)"),
		googleCredsFile: flag.String("google-credentials", config.GoogleCredsFile, "Google Cloud credentials file (overrides $GOOGLE_APPLICATION_CREDENTIALS)"),
		languageCode:    flag.String("language-code", config.LanguageCode, "BCP-47 language code for speech services (overrides $SPEECH_LANGUAGE_CODE)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"deepseekKeySet", *flags.deepseekKey != "",
		"apiAddr", *flags.apiAddr,
		"audioDir", *flags.audioDir,
		"tts", *flags.ttsEnabled,
		"stt", *flags.sttEnabled)

	// Update database DSN and audio dir if not explicitly set but the state
	// directory flag diverged from the environment value
	if *flags.stateDir != config.StateDir {
		if *flags.dbDSN == filepath.Join(config.StateDir, DefaultDBFileName) {
			*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
			slog.Debug("Updated dbDSN based on state directory", "new_state_dir", *flags.stateDir)
		}
		if *flags.audioDir == filepath.Join(config.StateDir, DefaultAudioDirName) {
			*flags.audioDir = filepath.Join(*flags.stateDir, DefaultAudioDirName)
			slog.Debug("Updated audio dir based on state directory", "new_state_dir", *flags.stateDir)
		}
	}

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	// Ensure state directory exists if we're using a file-based DSN
	if !strings.Contains(*flags.dbDSN, "postgres://") && !strings.Contains(*flags.dbDSN, "host=") {
		stateDir := filepath.Dir(*flags.dbDSN)
		slog.Debug("Creating state directory for file-based database", "state_dir", stateDir)
		if err := os.MkdirAll(stateDir, 0755); err != nil {
			slog.Error("Failed to create state directory", "error", err, "state_dir", stateDir)
			return err
		}
	}
	if err := os.MkdirAll(*flags.audioDir, 0755); err != nil {
		slog.Error("Failed to create audio directory", "error", err, "audio_dir", *flags.audioDir)
		return err
	}
	return nil
}

// buildGenAIOptions constructs question generator configuration options
func buildGenAIOptions(flags Flags) []genai.Option {
	var genaiOpts []genai.Option
	if *flags.deepseekKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(*flags.deepseekKey))
	}
	return genaiOpts
}

// buildServerOptions constructs API server configuration options
func buildServerOptions(flags Flags) []server.Option {
	var srvOpts []server.Option
	if *flags.apiAddr != "" {
		srvOpts = append(srvOpts, server.WithAddr(*flags.apiAddr))
	}
	return srvOpts
}

// run wires the modules together and blocks until shutdown.
func run(flags Flags) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	st, err := store.NewFromDSN(*flags.dbDSN)
	if err != nil {
		return err
	}
	defer st.Close()

	genaiClient, err := genai.NewClient(buildGenAIOptions(flags)...)
	if err != nil {
		return err
	}

	audioStore, err := audio.NewStorage(audio.WithBasePath(*flags.audioDir))
	if err != nil {
		return err
	}
	merger := audio.NewMerger(st, audioStore)

	sessOpts := []session.Option{session.WithAudioStorage(audioStore)}
	if *flags.ttsEnabled {
		var ttsOpts []tts.Option
		if *flags.googleCredsFile != "" {
			ttsOpts = append(ttsOpts, tts.WithCredentialsFile(*flags.googleCredsFile))
		}
		if *flags.languageCode != "" {
			ttsOpts = append(ttsOpts, tts.WithLanguageCode(*flags.languageCode))
		}
		synth, err := tts.NewGoogleSynthesizer(ctx, ttsOpts...)
		if err != nil {
			return err
		}
		defer synth.Close()
		sessOpts = append(sessOpts, session.WithSynthesizer(synth))
	}
	if *flags.sttEnabled {
		var sttOpts []stt.Option
		if *flags.googleCredsFile != "" {
			sttOpts = append(sttOpts, stt.WithCredentialsFile(*flags.googleCredsFile))
		}
		if *flags.languageCode != "" {
			sttOpts = append(sttOpts, stt.WithLanguageCode(*flags.languageCode))
		}
		transcriber, err := stt.NewGoogleTranscriber(ctx, sttOpts...)
		if err != nil {
			return err
		}
		defer transcriber.Close()
		sessOpts = append(sessOpts, session.WithTranscriber(transcriber))
	}

	orch := session.NewOrchestrator(st, genaiClient, sessOpts...)

	runner := store.NewJobRunner(st, 10*time.Second)
	runner.RegisterHandler(store.JobKindMergeAudio, merger.MergeHandler())
	runner.RegisterHandler(store.JobKindSweepAbandoned, session.NewSweepHandler(st, session.DefaultAbandonAfter))
	if err := runner.RecoverStaleJobs(); err != nil {
		slog.Error("Failed to recover stale jobs", "error", err)
	}
	go runner.Run(ctx)

	sched := scheduler.NewScheduler()
	defer sched.Stop()
	if err := session.ScheduleSweep(st, time.Now()); err != nil {
		slog.Error("Failed to schedule initial sweep", "error", err)
	}
	if err := sched.AddJob("0 * * * *", func() {
		if err := session.ScheduleSweep(st, time.Now()); err != nil {
			slog.Error("Failed to schedule sweep", "error", err)
		}
	}); err != nil {
		return err
	}

	srv := server.NewServer(st, orch, buildServerOptions(flags)...)
	return srv.Run(ctx)
}
