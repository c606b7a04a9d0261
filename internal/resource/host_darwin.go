//go:build darwin

package resource

func platformMixer(run runFunc) mixer {
	return osascriptMixer{run: run}
}
