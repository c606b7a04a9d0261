//go:build !windows

package engine

import (
	"io"
	"os"
	"syscall"
)

// interruptSource asks a capture source to finish: stdin reaches EOF and
// the process gets SIGINT, which arecord and FFmpeg both treat as a clean stop.
func interruptSource(p *os.Process, stdin io.WriteCloser) error {
	if stdin != nil {
		_ = stdin.Close() //nolint:errcheck // Process is stopping
	}
	if p == nil {
		return os.ErrProcessDone
	}
	return p.Signal(syscall.SIGINT)
}
