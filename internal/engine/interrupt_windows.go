//go:build windows

package engine

import (
	"io"
	"os"
)

// interruptSource sends FFmpeg's quit key. Windows cannot deliver SIGINT
// to a child process.
func interruptSource(_ *os.Process, stdin io.WriteCloser) error {
	if stdin == nil {
		return nil
	}
	if _, err := io.WriteString(stdin, "q"); err != nil {
		_ = stdin.Close() //nolint:errcheck // Already failing
		return err
	}
	return stdin.Close()
}
