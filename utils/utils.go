package utils

import (
	"os"

	"github.com/google/uuid"
)

// GetEnv returns the environment value for key, or fallback when it is unset or empty.
func GetEnv(key string, fallback ...string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	if len(fallback) > 0 {
		return fallback[0]
	}
	return ""
}

func CreateFolder(folderPath string) error {
	return os.MkdirAll(folderPath, 0o755)
}

// GenerateUniqueID returns a random identifier for stored entities.
func GenerateUniqueID() string {
	return uuid.NewString()
}
