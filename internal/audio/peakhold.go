package audio

import (
	"sync"

	"github.com/oszuidwest/zwfm-capture/internal/types"
)

// SessionPeak tracks the highest amplitude observed since the last Reset.
// The held value never decreases between resets. It is safe for concurrent use.
type SessionPeak struct {
	mu   sync.Mutex
	peak float64
}

// NewSessionPeak creates a tracker initialized to the silence floor.
func NewSessionPeak() *SessionPeak {
	return &SessionPeak{peak: types.SilenceFloorDB}
}

// Update records a new amplitude and returns the held peak.
func (p *SessionPeak) Update(level float64) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if level > p.peak {
		p.peak = level
	}
	return p.peak
}

// Peak returns the held peak without updating it.
func (p *SessionPeak) Peak() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.peak
}

// Reset clears the held peak to the silence floor.
func (p *SessionPeak) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.peak = types.SilenceFloorDB
}
