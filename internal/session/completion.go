package session

import (
	"context"
	"sync"
)

// Completion is the one-shot result of Stop. It resolves exactly once,
// with the output path, or with an empty path after cancel, failure,
// dispose or in stream-only mode.
type Completion struct {
	once sync.Once
	done chan struct{}
	path string
}

func newCompletion() *Completion {
	return &Completion{done: make(chan struct{})}
}

// resolve sets the result. Later calls are ignored.
func (c *Completion) resolve(path string) bool {
	resolved := false
	c.once.Do(func() {
		c.path = path
		close(c.done)
		resolved = true
	})
	return resolved
}

// Done is closed when the completion resolves.
func (c *Completion) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the completion resolves or ctx is done.
func (c *Completion) Wait(ctx context.Context) (string, error) {
	select {
	case <-c.done:
		return c.path, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
