//go:build linux

package audio

import (
	"regexp"
	"strconv"
)

var platform = backend{
	command:       "arecord",
	defaultDevice: "default",
	args: func(device string, f Format) []string {
		return []string{
			"-D", device,
			"-f", "S16_LE",
			"-r", strconv.Itoa(f.SampleRate),
			"-c", strconv.Itoa(f.Channels),
			"-t", "raw",
			"-q",
			"-",
		}
	},
	devices: arecordScanner,
}

// arecordScanner reads cards from `arecord -l`; every device of a card
// shares one entry.
var arecordScanner = deviceScanner{
	command: []string{"arecord", "-l"},
	pattern: regexp.MustCompile(`card\s+(\d+):\s+(\w+)\s+\[([^\]]+)\]`),
	device: func(m []string) (Device, bool) {
		return Device{ID: "default:CARD=" + m[2], Name: m[3]}, true
	},
	fallback: []Device{{ID: "default", Name: "System default"}},
}
