package archive

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ListObjectsV2 lists stored keys two per page.
func (f *fakeBucket) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	keys := make([]string, 0, len(f.objects))
	for k := range f.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	start := 0
	if in.ContinuationToken != nil {
		for i, k := range keys {
			if k == aws.ToString(in.ContinuationToken) {
				start = i
			}
		}
	}
	end := min(start+2, len(keys))

	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(end < len(keys))}
	for _, k := range keys[start:end] {
		out.Contents = append(out.Contents, s3types.Object{Key: aws.String(k)})
	}
	if end < len(keys) {
		out.NextContinuationToken = aws.String(keys[end])
	}
	return out, nil
}

func TestCleanerLocalRetention(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"capture-2025-01-01-10-00-00.m4a",      // expired
		"capture-2025-01-02-10-00-00.m4a.part", // expired leftover
		"capture-2025-01-03-10-00-00.m4a",      // expired but recording
		"capture-2025-03-08-10-00-00.m4a",      // recent
		"interview.m4a",                        // no date
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}

	active := filepath.Join(dir, "capture-2025-01-03-10-00-00.m4a")
	c := newCleaner(dir, 7, Config{}, nil, func() string { return active })
	c.now = func() time.Time { return time.Date(2025, 3, 9, 12, 0, 0, 0, time.UTC) }
	require.True(t, c.Enabled())

	local, remote := c.Run(context.Background())
	assert.Equal(t, 2, local)
	assert.Zero(t, remote)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{
		"capture-2025-01-03-10-00-00.m4a",
		"capture-2025-03-08-10-00-00.m4a",
		"interview.m4a",
	}, names)
}

func TestCleanerBucketRetention(t *testing.T) {
	bucket := newFakeBucket(0)
	for _, key := range []string{
		"recordings/2025/01/01/interview.m4a",
		"recordings/2025/01/05/capture-2025-01-05-10-00-00.m4a",
		"recordings/2025/03/08/take.m4a",
		"recordings/stray.txt",
	} {
		bucket.objects[key] = []byte("x")
	}

	cfg := Config{Bucket: "b", AccessKeyID: "k", SecretAccessKey: "s", RetentionDays: 30}
	c := newCleaner(t.TempDir(), 0, cfg, bucket, nil)
	c.now = func() time.Time { return time.Date(2025, 3, 9, 12, 0, 0, 0, time.UTC) }

	_, remote := c.Run(context.Background())
	assert.Equal(t, 2, remote)
	assert.ElementsMatch(t, []string{
		"recordings/2025/01/01/interview.m4a",
		"recordings/2025/01/05/capture-2025-01-05-10-00-00.m4a",
	}, bucket.deleted)
}

func TestCleanerDisabled(t *testing.T) {
	c := NewCleaner(t.TempDir(), 0, Config{}, nil)
	assert.False(t, c.Enabled())
	c.Stop()
	c.Stop()
}

func TestKeyDate(t *testing.T) {
	date, ok := keyDate("shows/2025/02/14/a.mp3")
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, 2, 14, 0, 0, 0, 0, time.UTC), date)

	_, ok = keyDate("a.mp3")
	assert.False(t, ok)
}
