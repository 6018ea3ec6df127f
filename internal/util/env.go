package util

import (
	"log/slog"
	"os"
	"strings"
)

// ParseBoolEnv reads a boolean toggle from the environment, used for the
// speech feature switches (TTS_ENABLED, STT_ENABLED). Unset keys return
// defaultValue; recognized spellings are true/1/yes/on and false/0/no/off,
// case-insensitive. Anything else is logged and falls back to the default
// rather than silently disabling a feature.
func ParseBoolEnv(key string, defaultValue bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	}
	slog.Warn("ParseBoolEnv: invalid boolean value, using default",
		"key", key, "value", raw, "default", defaultValue)
	return defaultValue
}
