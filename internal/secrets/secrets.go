// Package secrets resolves credentials from the environment or from mounted files.
package secrets

import (
	"fmt"
	"os"
	"strings"
)

// GetSecret returns the value for envKey. When envKey_FILE is set the value is
// read from that path (Docker and Kubernetes secret mounts), otherwise envKey
// itself is used, then defaultValue.
func GetSecret(envKey string, defaultValue string) (string, error) {
	if filePath := os.Getenv(envKey + "_FILE"); filePath != "" {
		data, err := os.ReadFile(filePath)
		if err != nil {
			return "", fmt.Errorf("read secret file %s: %w", filePath, err)
		}
		return strings.TrimSpace(string(data)), nil
	}

	if value := os.Getenv(envKey); value != "" {
		return value, nil
	}

	return defaultValue, nil
}

// GetOptionalSecret is GetSecret that falls back to defaultValue when the
// secret file cannot be read
func GetOptionalSecret(envKey string, defaultValue string) string {
	value, err := GetSecret(envKey, defaultValue)
	if err != nil {
		return defaultValue
	}
	return value
}
