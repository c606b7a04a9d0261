//go:build windows

package resource

// Windows ships no command-line mixer; sessions use the virtual manager.
func platformMixer(runFunc) mixer {
	return nil
}
