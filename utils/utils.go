package utils

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// GetEnv returns the environment value for key, or fallback when unset or blank.
func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

// GetEnvInt parses an integer environment value, falling back on absence or parse errors.
func GetEnvInt(key string, fallback int) int {
	value, err := strconv.Atoi(strings.TrimSpace(GetEnv(key, "")))
	if err != nil {
		return fallback
	}
	return value
}

// GetEnvFloat parses a float environment value, falling back on absence or parse errors.
func GetEnvFloat(key string, fallback float64) float64 {
	value, err := strconv.ParseFloat(strings.TrimSpace(GetEnv(key, "")), 64)
	if err != nil {
		return fallback
	}
	return value
}

// GetEnvDuration parses values such as "30s" or "1m".
func GetEnvDuration(key string, fallback time.Duration) time.Duration {
	value, err := time.ParseDuration(strings.TrimSpace(GetEnv(key, "")))
	if err != nil {
		return fallback
	}
	return value
}

func GetEnvBool(key string, fallback bool) bool {
	value, err := strconv.ParseBool(strings.TrimSpace(GetEnv(key, "")))
	if err != nil {
		return fallback
	}
	return value
}

// CreateFolder creates the directory (and parents) if it does not already exist.
func CreateFolder(folderPath string) error {
	return os.MkdirAll(folderPath, 0o755)
}

// NewRequestID returns a random identifier for correlating logs with a response.
func NewRequestID() string {
	return uuid.NewString()
}
