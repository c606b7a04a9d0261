// Package audio provides capture command construction and amplitude metering.
package audio

import (
	"encoding/binary"
	"math"

	"github.com/oszuidwest/zwfm-capture/internal/types"
)

const (
	// MaxSampleValue is the maximum absolute value for 16-bit signed audio.
	MaxSampleValue = 32768.0
	// ClipThreshold is slightly below max to catch near-clips.
	ClipThreshold int16 = 32760
)

// levelData accumulates samples for one buffer.
type levelData struct {
	sumSquares float64
	peak       float64
	clips      int
	samples    int
}

// accumulate adds S16LE PCM samples across all channels.
func (d *levelData) accumulate(buf []byte) {
	for i := 0; i+1 < len(buf); i += 2 {
		sample := int16(binary.LittleEndian.Uint16(buf[i:]))
		value := float64(sample)

		d.sumSquares += value * value
		if abs := math.Abs(value); abs > d.peak {
			d.peak = abs
		}
		if sample >= ClipThreshold || sample <= -ClipThreshold {
			d.clips++
		}
		d.samples++
	}
}

// levels are the dBFS readings of one buffer.
type levels struct {
	rms   float64
	peak  float64
	clips int
}

func (d *levelData) levels() levels {
	if d.samples == 0 {
		return levels{rms: types.SilenceFloorDB, peak: types.SilenceFloorDB}
	}
	rms := math.Sqrt(d.sumSquares / float64(d.samples))
	return levels{rms: ToDBFS(rms), peak: ToDBFS(d.peak), clips: d.clips}
}

// ToDBFS converts an absolute 16-bit amplitude to dBFS, clamped to the silence floor.
func ToDBFS(amplitude float64) float64 {
	if amplitude <= 0 {
		return types.SilenceFloorDB
	}
	return max(20*math.Log10(amplitude/MaxSampleValue), types.SilenceFloorDB)
}

// BufferAmplitude returns the peak level of a PCM buffer in dBFS.
func BufferAmplitude(buf []byte) float64 {
	var data levelData
	data.accumulate(buf)
	return data.levels().peak
}
