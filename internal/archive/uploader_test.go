package archive

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBucket struct {
	mu       sync.Mutex
	failures int // PutObject calls that fail before succeeding
	objects  map[string][]byte
	types    map[string]string
	calls    int
	deleted  []string
}

func newFakeBucket(failures int) *fakeBucket {
	return &fakeBucket{failures: failures, objects: map[string][]byte{}, types: map[string]string{}}
}

func (f *fakeBucket) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("service unavailable")
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Key)] = data
	f.types[aws.ToString(in.Key)] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeBucket) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeBucket) object(key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[key]
	return data, ok
}

func newTestUploader(cfg Config, bucket *fakeBucket) *Uploader {
	u := newUploader(cfg, bucket, nil)
	u.retryInitial = time.Millisecond
	u.retryMax = 5 * time.Millisecond
	u.now = func() time.Time { return time.Date(2025, 3, 9, 12, 0, 0, 0, time.UTC) }
	return u
}

func writeRecording(t *testing.T, name string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte("audio"), 0o644))
	return p
}

func TestGenerateKey(t *testing.T) {
	now := time.Date(2025, 3, 9, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, "recordings/2025/03/09/take.m4a", generateKey("", "take.m4a", now))
	assert.Equal(t, "studio/2024/12/31/take-2024-12-31.mp3", generateKey("/studio/", "take-2024-12-31.mp3", now))
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "audio/mp4", contentType("/tmp/a.m4a"))
	assert.Equal(t, "audio/flac", contentType("/tmp/a.flac"))
	assert.Equal(t, "application/octet-stream", contentType("/tmp/a.bin"))
}

func TestUploadDeletesLocalFile(t *testing.T) {
	bucket := newFakeBucket(0)
	u := newTestUploader(Config{Bucket: "b"}, bucket)
	u.Start()

	local := writeRecording(t, "a.m4a")
	require.NoError(t, u.Enqueue("s1", local))
	require.NoError(t, u.Stop(context.Background()))

	data, ok := bucket.object("recordings/2025/03/09/a.m4a")
	require.True(t, ok)
	assert.Equal(t, "audio", string(data))
	assert.Equal(t, "audio/mp4", bucket.types["recordings/2025/03/09/a.m4a"])
	assert.NoFileExists(t, local)
}

func TestUploadRetriesAndKeepsLocal(t *testing.T) {
	bucket := newFakeBucket(2)
	u := newTestUploader(Config{Bucket: "b", KeepLocal: true}, bucket)
	u.Start()

	local := writeRecording(t, "b.wav")
	require.NoError(t, u.Enqueue("s2", local))
	require.NoError(t, u.Stop(context.Background()))

	_, ok := bucket.object("recordings/2025/03/09/b.wav")
	assert.True(t, ok)
	assert.Equal(t, 3, bucket.calls)
	assert.FileExists(t, local)
}

func TestUploadAbandonedAfterMaxAttempts(t *testing.T) {
	bucket := newFakeBucket(MaxAttempts + 1)
	u := newTestUploader(Config{Bucket: "b"}, bucket)

	var abandoned []AbandonedUpload
	u.OnAbandoned(func(a AbandonedUpload) { abandoned = append(abandoned, a) })

	local := writeRecording(t, "c.mp3")
	require.NoError(t, u.Enqueue("s3", local))
	req := <-u.queue
	u.process(req)

	assert.Equal(t, MaxAttempts, bucket.calls)
	assert.FileExists(t, local)
	require.Len(t, abandoned, 1)
	assert.Equal(t, "s3", abandoned[0].SessionID)
	assert.Equal(t, "c.mp3", abandoned[0].Filename)
	assert.Equal(t, MaxAttempts, abandoned[0].Attempts)
	assert.Equal(t, "service unavailable", abandoned[0].LastError)
}

func TestEnqueueMissingFile(t *testing.T) {
	u := newTestUploader(Config{Bucket: "b"}, newFakeBucket(0))
	assert.Error(t, u.Enqueue("s", filepath.Join(t.TempDir(), "missing.m4a")))
}

func TestTestConnection(t *testing.T) {
	bucket := newFakeBucket(0)
	require.NoError(t, testConnection(context.Background(), bucket, "b"))
	assert.Len(t, bucket.deleted, 1)

	cfg := Config{}
	assert.Error(t, TestConnection(context.Background(), &cfg))
}
