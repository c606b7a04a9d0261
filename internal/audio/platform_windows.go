//go:build windows

package audio

import (
	"regexp"
	"strings"
)

// Windows has no safe default input, so the first DirectShow device is used.
var platform = backend{
	command:    "ffmpeg",
	usesFFmpeg: true,
	args:       ffmpegSourceArgs("dshow"),
	devices: deviceScanner{
		command: []string{"ffmpeg", "-hide_banner", "-f", "dshow", "-list_devices", "true", "-i", "dummy"},
		// Section headers differ between FFmpeg versions; "(audio)" does not.
		pattern: regexp.MustCompile(`\[dshow[^\]]*\]\s*"([^"]+)"\s*\(audio\)`),
		device: func(m []string) (Device, bool) {
			name := strings.TrimSpace(m[1])
			return Device{ID: "audio=" + name, Name: name}, name != ""
		},
	},
}
