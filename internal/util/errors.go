package util

import (
	"fmt"
	"strings"
)

// maxErrorLineLength caps messages lifted from process stderr.
const maxErrorLineLength = 200

// stderrNoise are trailer lines FFmpeg prints after the real cause.
var stderrNoise = []string{
	"Conversion failed!",
	"Exiting normally",
	"received signal",
}

// WrapError wraps err with the operation that failed. A nil err stays nil.
func WrapError(operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("failed to %s: %w", operation, err)
}

// ExtractLastError returns the last meaningful line of process stderr,
// skipping FFmpeg's generic trailer lines.
func ExtractLastError(stderr string) string {
	lines := strings.Split(stderr, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" || isStderrNoise(line) {
			continue
		}
		if len(line) > maxErrorLineLength {
			return line[:maxErrorLineLength] + "..."
		}
		return line
	}
	return ""
}

func isStderrNoise(line string) bool {
	for _, n := range stderrNoise {
		if strings.Contains(line, n) {
			return true
		}
	}
	return false
}
