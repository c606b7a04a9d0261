package util

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oszuidwest/zwfm-capture/internal/types"
)

type validatedRequest struct {
	Name  string `json:"name" validate:"required"`
	Inner struct {
		Rate int `json:"rate" validate:"gte=8000"`
	} `json:"inner"`
}

func TestValidateStructUsesJSONPaths(t *testing.T) {
	var req validatedRequest
	req.Inner.Rate = 10

	err := ValidateStruct(&req)
	var verr *types.ValidationError
	require.ErrorAs(t, err, &verr)

	byField := map[string]string{}
	for _, e := range verr.Errors {
		byField[e.Field] = e.Message
	}
	assert.Equal(t, "is required", byField["name"])
	assert.Equal(t, "must be greater than or equal to 8000", byField["inner.rate"])
}

func TestValidateStructValid(t *testing.T) {
	req := validatedRequest{Name: "x"}
	req.Inner.Rate = 44100
	assert.NoError(t, ValidateStruct(&req))
}

func TestToValidationErrorFallback(t *testing.T) {
	verr := ToValidationError(errors.New("boom"))
	require.Len(t, verr.Errors, 1)
	assert.Equal(t, "boom", verr.Errors[0].Message)
}

func TestValidatePath(t *testing.T) {
	assert.NoError(t, ValidatePath("dir", "/var/lib/capture"))
	assert.Error(t, ValidatePath("dir", ""))
	assert.Error(t, ValidatePath("dir", "/var/../etc"))
}

func TestCheckPathWritable(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "out")
	require.NoError(t, CheckPathWritable(dir))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "probe file is removed")
}

func TestExtractLastError(t *testing.T) {
	stderr := "ffmpeg version 6\n  built with gcc\nhw:9: No such device\n\n"
	assert.Equal(t, "hw:9: No such device", ExtractLastError(stderr))

	withTrailer := "out.m4a.part: No space left on device\nConversion failed!\n"
	assert.Equal(t, "out.m4a.part: No space left on device", ExtractLastError(withTrailer))
	assert.Empty(t, ExtractLastError("  \n"))

	long := strings.Repeat("x", maxErrorLineLength+10)
	assert.Len(t, ExtractLastError(long), maxErrorLineLength+3)
}

func TestWrapError(t *testing.T) {
	assert.NoError(t, WrapError("open", nil))
	base := errors.New("denied")
	err := WrapError("open device", base)
	assert.ErrorIs(t, err, base)
	assert.Equal(t, "failed to open device: denied", err.Error())
}

func TestBackoff(t *testing.T) {
	b := NewBackoff(time.Second, 5*time.Second)
	assert.Equal(t, time.Second, b.Next())
	assert.Equal(t, 2*time.Second, b.Next())
	assert.Equal(t, 4*time.Second, b.Next())
	assert.Equal(t, 5*time.Second, b.Next())
	assert.Equal(t, 5*time.Second, b.Current())
	assert.Equal(t, 4, b.Attempts())
	b.Reset()
	assert.Equal(t, time.Second, b.Current())
	assert.Zero(t, b.Attempts())
}

func TestBackoffWaitHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b := NewBackoff(time.Hour, time.Hour)
	assert.ErrorIs(t, b.Wait(ctx), context.Canceled)

	b = NewBackoff(time.Millisecond, time.Millisecond)
	assert.NoError(t, b.Wait(context.Background()))
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "45s", FormatDuration(45*time.Second+300*time.Millisecond))
	assert.Equal(t, "2m 34s", FormatDuration(154*time.Second))
	assert.Equal(t, "1h 23m", FormatDuration(83*time.Minute+10*time.Second))
}

func TestFilenameTime(t *testing.T) {
	stamp, ok := FilenameTime("capture-2025-06-01-08-15-30.m4a")
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, 6, 1, 8, 15, 30, 0, time.UTC), stamp)

	stamp, ok = FilenameTime("interview-2025-06-01.mp3")
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), stamp)

	_, ok = FilenameTime("take.m4a")
	assert.False(t, ok)
}

func TestIsConfigured(t *testing.T) {
	assert.True(t, IsConfigured("a", "b"))
	assert.False(t, IsConfigured("a", ""))
}

func TestFormatHumanTime(t *testing.T) {
	assert.Equal(t, "unknown", FormatHumanTime(""))
	assert.Equal(t, "unknown", FormatHumanTime("unknown"))
	assert.Equal(t, "not-a-time", FormatHumanTime("not-a-time"))
}
