//go:build linux

package resource

func platformMixer(run runFunc) mixer {
	return pulseMixer{run: run}
}
