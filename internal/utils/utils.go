// Package utils provides small helpers shared across the engine packages.
package utils

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
)

// GenerateRunID returns a unique identifier for a single workflow execution.
func GenerateRunID() string {
	return "run_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// GenerateSessionTitle returns a unique title for a remote agent session.
func GenerateSessionTitle(workflowID, stepID string) string {
	return fmt.Sprintf("weft/%s/%s/%s", workflowID, stepID, uuid.NewString()[:8])
}

// SafeBool coerces an arbitrary value to a boolean without panicking.
// Strings follow the usual truthy rules ("true", "1", "yes"); numbers are
// true when non-zero; nil is false.
func SafeBool(v interface{}) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		lower := strings.ToLower(strings.TrimSpace(val))
		return lower == "true" || lower == "1" || lower == "yes"
	case int:
		return val != 0
	case int64:
		return val != 0
	case float64:
		return val != 0
	default:
		return true
	}
}

// SafeString renders an arbitrary value as a string without panicking.
func SafeString(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprintf("%v", val)
	}
}

// SafeInt coerces an arbitrary value to an int, returning fallback when the
// value has no sensible integer form.
func SafeInt(v interface{}, fallback int) int {
	switch val := v.(type) {
	case int:
		return val
	case int64:
		return int(val)
	case float64:
		return int(val)
	case string:
		var n int
		if _, err := fmt.Sscanf(strings.TrimSpace(val), "%d", &n); err == nil {
			return n
		}
	}
	return fallback
}

// WeftDir returns the per-user weft directory, creating it if needed.
func WeftDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}

	dir := home + string(os.PathSeparator) + ".weft"
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating weft directory: %w", err)
	}

	return dir, nil
}
