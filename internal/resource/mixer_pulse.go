package resource

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// pulseSink addresses whatever sink the audio server currently plays through.
const pulseSink = "@DEFAULT_SINK@"

var pulseVolumePattern = regexp.MustCompile(`(\d+)%`)

// pulseMixer controls PulseAudio or PipeWire through pactl (15 or newer).
type pulseMixer struct {
	run runFunc
}

func (m pulseMixer) name() string { return "pactl" }

func (m pulseMixer) available(ctx context.Context) bool {
	_, err := m.run(ctx, "pactl", "info")
	return err == nil
}

func (m pulseMixer) volume(ctx context.Context) (int, error) {
	out, err := m.run(ctx, "pactl", "get-sink-mute", pulseSink)
	if err != nil {
		return 0, err
	}
	if strings.Contains(out, "yes") {
		return MuteLevel, nil
	}
	out, err = m.run(ctx, "pactl", "get-sink-volume", pulseSink)
	if err != nil {
		return 0, err
	}
	return parsePulseVolume(out)
}

// parsePulseVolume reads the first channel percentage of get-sink-volume output.
func parsePulseVolume(out string) (int, error) {
	m := pulseVolumePattern.FindStringSubmatch(out)
	if m == nil {
		return 0, fmt.Errorf("unexpected pactl volume output %q", strings.TrimSpace(out))
	}
	level, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, err
	}
	return min(level, MaxVolume), nil
}

func (m pulseMixer) setVolume(ctx context.Context, level int) error {
	if level == MuteLevel {
		_, err := m.run(ctx, "pactl", "set-sink-mute", pulseSink, "1")
		return err
	}
	if _, err := m.run(ctx, "pactl", "set-sink-volume", pulseSink, strconv.Itoa(level)+"%"); err != nil {
		return err
	}
	_, err := m.run(ctx, "pactl", "set-sink-mute", pulseSink, "0")
	return err
}

// outputs parses `pactl list short sinks`: index, name, driver, spec, state.
func (m pulseMixer) outputs(ctx context.Context) ([]OutputDevice, error) {
	out, err := m.run(ctx, "pactl", "list", "short", "sinks")
	if err != nil {
		return nil, err
	}
	var devices []OutputDevice
	for line := range strings.SplitSeq(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		id, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		devices = append(devices, OutputDevice{ID: id, Type: classifyOutput(fields[1]), Name: fields[1]})
	}
	return devices, nil
}

func (m pulseMixer) defaultOutput(ctx context.Context) (string, error) {
	out, err := m.run(ctx, "pactl", "get-default-sink")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (m pulseMixer) setDefaultOutput(ctx context.Context, name string) error {
	_, err := m.run(ctx, "pactl", "set-default-sink", name)
	return err
}
