package archive

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/oszuidwest/zwfm-capture/internal/util"
)

const (
	// cleanupHour is the local hour of the daily retention pass.
	cleanupHour = 3
	// cleanupTimeout bounds one bucket retention pass.
	cleanupTimeout = 5 * time.Minute
	// recordingPrefix marks files produced with the default naming scheme.
	recordingPrefix = "capture-"
)

// objectLister is the subset of the S3 client used for retention.
type objectLister interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Cleaner removes recordings older than their retention period from the
// output directory and the bucket. Local files are dated by their name and
// objects by their key; the file of an active session is never removed.
type Cleaner struct {
	localDir  string
	localDays int
	bucket    Config
	client    objectLister // nil when the bucket has no retention
	active    func() string

	stopCh chan struct{}
	once   sync.Once
	now    func() time.Time
}

// NewCleaner creates a cleaner. localDays and bucket.RetentionDays of zero
// disable the respective pass. active returns the output path of the running
// session, or "".
func NewCleaner(localDir string, localDays int, bucket Config, active func() string) *Cleaner {
	var client objectLister
	if bucket.IsConfigured() && bucket.RetentionDays > 0 {
		client = newS3Client(&bucket)
	}
	return newCleaner(localDir, localDays, bucket, client, active)
}

func newCleaner(localDir string, localDays int, bucket Config, client objectLister, active func() string) *Cleaner {
	if active == nil {
		active = func() string { return "" }
	}
	return &Cleaner{
		localDir:  localDir,
		localDays: localDays,
		bucket:    bucket,
		client:    client,
		active:    active,
		stopCh:    make(chan struct{}),
		now:       time.Now,
	}
}

// Enabled reports whether any retention pass is configured.
func (c *Cleaner) Enabled() bool {
	return c.localDays > 0 || c.client != nil
}

// Start runs the retention pass daily at 03:00 local time until Stop.
func (c *Cleaner) Start() {
	go func() {
		for {
			now := c.now()
			next := time.Date(now.Year(), now.Month(), now.Day(), cleanupHour, 0, 0, 0, now.Location())
			if now.After(next) {
				next = next.Add(24 * time.Hour)
			}
			slog.Info("cleanup scheduler: next run scheduled", "at", next.Format(time.DateTime))

			select {
			case <-time.After(next.Sub(now)):
				c.Run(context.Background())
			case <-c.stopCh:
				slog.Info("cleanup scheduler stopped")
				return
			}
		}
	}()
}

// Stop ends the scheduler. Safe to call twice.
func (c *Cleaner) Stop() {
	c.once.Do(func() { close(c.stopCh) })
}

// Run performs one retention pass and returns the number of removed local files and objects.
func (c *Cleaner) Run(ctx context.Context) (local, remote int) {
	if c.localDays > 0 {
		local = c.cleanLocal()
	}
	if c.client != nil {
		remote = c.cleanBucket(ctx)
	}
	if local > 0 || remote > 0 {
		slog.Info("cleanup: removed expired recordings", "local", local, "remote", remote)
	}
	return local, remote
}

// expired reports whether date lies before the retention cutoff.
func (c *Cleaner) expired(date time.Time, days int) bool {
	return date.Before(c.now().AddDate(0, 0, -days))
}

func (c *Cleaner) cleanLocal() int {
	entries, err := os.ReadDir(c.localDir)
	if err != nil {
		slog.Warn("cleanup: failed to read output directory", "path", c.localDir, "error", err)
		return 0
	}

	active := filepath.Base(c.active())
	var deleted int
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, recordingPrefix) {
			continue
		}
		if name == active || strings.TrimSuffix(name, ".part") == active {
			continue
		}
		if date, ok := util.FilenameTime(name); !ok || !c.expired(date, c.localDays) {
			continue
		}

		path := filepath.Join(c.localDir, name)
		if err := os.Remove(path); err != nil {
			slog.Warn("cleanup: failed to delete local file", "path", path, "error", err)
			continue
		}
		deleted++
		slog.Debug("cleanup: deleted local file", "file", name)
	}
	return deleted
}

func (c *Cleaner) cleanBucket(ctx context.Context) int {
	ctx, cancel := context.WithTimeoutCause(ctx, cleanupTimeout, errors.New("s3 cleanup timeout"))
	defer cancel()

	var deleted int
	var continuationToken *string
	for {
		output, err := c.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(c.bucket.Bucket),
			Prefix:            aws.String(keyPrefix(c.bucket.Prefix) + "/"),
			ContinuationToken: continuationToken,
		})
		if err != nil {
			slog.Warn("cleanup: failed to list S3 objects", "bucket", c.bucket.Bucket, "error", err)
			return deleted
		}

		for _, obj := range output.Contents {
			key := aws.ToString(obj.Key)
			if date, ok := keyDate(key); !ok || !c.expired(date, c.bucket.RetentionDays) {
				continue
			}
			if _, err := c.client.DeleteObject(ctx, &s3.DeleteObjectInput{
				Bucket: aws.String(c.bucket.Bucket),
				Key:    obj.Key,
			}); err != nil {
				slog.Warn("cleanup: failed to delete S3 object", "key", key, "error", err)
				continue
			}
			deleted++
			slog.Debug("cleanup: deleted S3 object", "key", key)
		}

		if !aws.ToBool(output.IsTruncated) {
			return deleted
		}
		continuationToken = output.NextContinuationToken
	}
}
