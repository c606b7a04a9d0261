package resource

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	osaVolumePattern = regexp.MustCompile(`output volume:(\d+)`)
	osaMutedPattern  = regexp.MustCompile(`output muted:(true|false)`)
)

// osascriptMixer controls the macOS system output through AppleScript.
// Output switching needs third-party tools, so routing stays legacy.
type osascriptMixer struct {
	run runFunc
}

func (m osascriptMixer) name() string { return "osascript" }

func (m osascriptMixer) available(ctx context.Context) bool {
	out, err := m.run(ctx, "osascript", "-e", "get volume settings")
	return err == nil && osaVolumePattern.MatchString(out)
}

func (m osascriptMixer) volume(ctx context.Context) (int, error) {
	out, err := m.run(ctx, "osascript", "-e", "get volume settings")
	if err != nil {
		return 0, err
	}
	return parseVolumeSettings(out)
}

// parseVolumeSettings reads "output volume:50, input volume:75, alert volume:100, output muted:false".
func parseVolumeSettings(out string) (int, error) {
	if m := osaMutedPattern.FindStringSubmatch(out); m != nil && m[1] == "true" {
		return MuteLevel, nil
	}
	m := osaVolumePattern.FindStringSubmatch(out)
	if m == nil {
		// "missing value" when no output device is present.
		return 0, fmt.Errorf("unexpected volume settings %q", strings.TrimSpace(out))
	}
	return strconv.Atoi(m[1])
}

func (m osascriptMixer) setVolume(ctx context.Context, level int) error {
	script := "set volume with output muted"
	if level != MuteLevel {
		script = fmt.Sprintf("set volume output volume %d without output muted", level)
	}
	_, err := m.run(ctx, "osascript", "-e", script)
	return err
}

func (m osascriptMixer) outputs(context.Context) ([]OutputDevice, error) {
	return nil, errors.ErrUnsupported
}

func (m osascriptMixer) defaultOutput(context.Context) (string, error) {
	return "", errors.ErrUnsupported
}

func (m osascriptMixer) setDefaultOutput(context.Context, string) error {
	return errors.ErrUnsupported
}
