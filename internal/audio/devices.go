package audio

import (
	"context"
	"log/slog"
	"os/exec"
	"regexp"
	"strings"
)

// deviceScanner lists inputs by running a command and matching its output.
type deviceScanner struct {
	command []string
	// begin and end delimit the audio section; empty begin scans everything.
	begin, end string
	pattern    *regexp.Regexp
	device     func(m []string) (Device, bool)
	fallback   []Device
}

func (s deviceScanner) scan(ctx context.Context) []Device {
	if len(s.command) == 0 {
		return s.fallback
	}
	// Listing commands commonly exit non-zero after printing the list.
	output, err := exec.CommandContext(ctx, s.command[0], s.command[1:]...).CombinedOutput()
	if err != nil && len(output) == 0 {
		slog.Error("failed to list audio devices", "command", s.command[0], "error", err)
		return s.fallback
	}
	return s.parse(string(output))
}

func (s deviceScanner) parse(output string) []Device {
	var devices []Device
	seen := make(map[string]bool)
	inSection := s.begin == ""

	for line := range strings.SplitSeq(output, "\n") {
		switch {
		case s.begin != "" && strings.Contains(line, s.begin):
			inSection = true
			continue
		case s.end != "" && strings.Contains(line, s.end):
			inSection = false
			continue
		case !inSection, strings.Contains(line, "Alternative name"):
			continue
		}

		m := s.pattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if dev, ok := s.device(m); ok && !seen[dev.ID] {
			seen[dev.ID] = true
			devices = append(devices, dev)
		}
	}

	if len(devices) == 0 {
		return s.fallback
	}
	return devices
}
