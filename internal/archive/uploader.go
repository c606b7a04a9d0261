package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/oszuidwest/zwfm-capture/internal/eventlog"
	"github.com/oszuidwest/zwfm-capture/internal/types"
	"github.com/oszuidwest/zwfm-capture/internal/util"
)

const (
	// uploadTimeout bounds a single PutObject call.
	uploadTimeout = 5 * time.Minute
	// MaxAttempts is how often an upload is tried before it is abandoned.
	MaxAttempts = 5
	// queueSize is the number of recordings that can wait for upload.
	queueSize = 100
)

// ErrQueueFull is returned when the upload queue cannot accept more recordings.
var ErrQueueFull = errors.New("upload queue full")

// uploadRequest represents a finished recording waiting for upload.
type uploadRequest struct {
	sessionID string
	localPath string
	s3Key     string
	fileSize  int64
}

// AbandonedUpload describes a recording that could not be archived.
type AbandonedUpload struct {
	SessionID string
	Filename  string
	S3Key     string
	Attempts  int
	LastError string
}

// Uploader archives finished recordings on a background worker, retrying
// failed uploads with exponential backoff.
type Uploader struct {
	cfg    Config
	client objectPutter
	events *eventlog.Logger // may be nil

	queue  chan uploadRequest
	stopCh chan struct{}
	wg     sync.WaitGroup

	onAbandoned func(AbandonedUpload)

	retryInitial time.Duration
	retryMax     time.Duration
	now          func() time.Time
}

// NewUploader creates an uploader for cfg. events may be nil.
func NewUploader(cfg Config, events *eventlog.Logger) *Uploader {
	return newUploader(cfg, newS3Client(&cfg), events)
}

func newUploader(cfg Config, client objectPutter, events *eventlog.Logger) *Uploader {
	return &Uploader{
		cfg:          cfg,
		client:       client,
		events:       events,
		queue:        make(chan uploadRequest, queueSize),
		stopCh:       make(chan struct{}),
		retryInitial: 2 * time.Second,
		retryMax:     time.Minute,
		now:          time.Now,
	}
}

// OnAbandoned registers fn to be called when an upload is given up.
// It must be called before Start.
func (u *Uploader) OnAbandoned(fn func(AbandonedUpload)) {
	u.onAbandoned = fn
}

// Start launches the upload worker.
func (u *Uploader) Start() {
	u.wg.Add(1)
	go u.worker()
}

// Stop drains the queue and waits for the worker, or until ctx is done.
// Retries still waiting on backoff are abandoned.
func (u *Uploader) Stop(ctx context.Context) error {
	close(u.stopCh)

	done := make(chan struct{})
	go func() {
		u.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("archive worker: %w", ctx.Err())
	}
}

// Enqueue schedules a finished recording for upload.
func (u *Uploader) Enqueue(sessionID, localPath string) error {
	info, err := os.Stat(localPath)
	if err != nil {
		return util.WrapError("stat recording", err)
	}

	req := uploadRequest{
		sessionID: sessionID,
		localPath: localPath,
		s3Key:     generateKey(u.cfg.Prefix, filepath.Base(localPath), u.now()),
		fileSize:  info.Size(),
	}

	select {
	case u.queue <- req:
		slog.Info("queued file for upload", "session_id", sessionID, "file", filepath.Base(localPath))
		u.logEvent(eventlog.UploadQueued, req, "", 0)
		return nil
	default:
		slog.Warn("upload queue full", "session_id", sessionID)
		return ErrQueueFull
	}
}

// worker processes the upload queue, draining remaining items on shutdown.
func (u *Uploader) worker() {
	defer u.wg.Done()

	for {
		select {
		case <-u.stopCh:
			for {
				select {
				case req := <-u.queue:
					u.process(req)
				default:
					return
				}
			}
		case req := <-u.queue:
			u.process(req)
		}
	}
}

// process uploads req, retrying with backoff until MaxAttempts or shutdown.
func (u *Uploader) process(req uploadRequest) {
	backoff := util.NewBackoff(u.retryInitial, u.retryMax)

	for attempt := 1; ; attempt++ {
		err := u.upload(req)
		if err == nil {
			slog.Info("upload completed", "session_id", req.sessionID, "s3_key", req.s3Key)
			u.logEvent(eventlog.UploadCompleted, req, "", attempt-1)
			u.removeLocal(req)
			return
		}
		if errors.Is(err, os.ErrNotExist) {
			slog.Warn("recording no longer exists, skipping upload", "path", req.localPath)
			return
		}

		slog.Error("upload failed", "session_id", req.sessionID, "s3_key", req.s3Key, "attempt", attempt, "error", err)
		u.logEvent(eventlog.UploadFailed, req, err.Error(), attempt-1)

		if attempt >= MaxAttempts {
			slog.Warn("upload abandoned", "session_id", req.sessionID, "file", filepath.Base(req.localPath), "attempts", attempt)
			if u.onAbandoned != nil {
				u.onAbandoned(AbandonedUpload{
					SessionID: req.sessionID,
					Filename:  filepath.Base(req.localPath),
					S3Key:     req.s3Key,
					Attempts:  attempt,
					LastError: err.Error(),
				})
			}
			return
		}

		select {
		case <-time.After(backoff.Next()):
		case <-u.stopCh:
			slog.Warn("upload retry abandoned on shutdown", "session_id", req.sessionID, "file", filepath.Base(req.localPath))
			return
		}
	}
}

// upload performs a single PutObject for req.
func (u *Uploader) upload(req uploadRequest) error {
	ctx, cancel := context.WithTimeoutCause(
		context.Background(),
		uploadTimeout,
		errors.New("s3 upload timeout"),
	)
	defer cancel()

	file, err := os.Open(req.localPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := file.Close(); err != nil {
			slog.Warn("failed to close file after upload", "path", req.localPath, "error", err)
		}
	}()

	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.cfg.Bucket),
		Key:           aws.String(req.s3Key),
		Body:          file,
		ContentLength: aws.Int64(req.fileSize),
		ContentType:   aws.String(contentType(req.localPath)),
	})
	return err
}

// removeLocal deletes the uploaded file unless configured to keep it.
func (u *Uploader) removeLocal(req uploadRequest) {
	if u.cfg.KeepLocal {
		return
	}
	if err := os.Remove(req.localPath); err != nil {
		slog.Warn("failed to delete local file after upload", "path", req.localPath, "error", err)
		return
	}
	slog.Debug("deleted local file after upload", "path", req.localPath)
}

func (u *Uploader) logEvent(eventType eventlog.EventType, req uploadRequest, errMsg string, retry int) {
	if u.events == nil {
		return
	}
	if err := u.events.LogUpload(eventType, req.sessionID, filepath.Base(req.localPath), req.s3Key, errMsg, retry); err != nil {
		slog.Warn("failed to log upload event", "error", err)
	}
}

// generateKey creates the object key: prefix/YYYY/MM/DD/filename.
// The date comes from the filename when it carries one.
func generateKey(prefix, filename string, now time.Time) string {
	date, ok := util.FilenameTime(filename)
	if !ok {
		date = now
	}
	return path.Join(keyPrefix(prefix), date.Format(keyDateLayout), filename)
}

// keyDateLayout is the date part of an object key.
const keyDateLayout = "2006/01/02"

// keyPrefix returns the configured key prefix without slashes, defaulting to "recordings".
func keyPrefix(prefix string) string {
	if prefix = strings.Trim(prefix, "/"); prefix == "" {
		return "recordings"
	}
	return prefix
}

// keyDate extracts the upload date from a key built by generateKey.
func keyDate(key string) (time.Time, bool) {
	parts := strings.Split(path.Dir(key), "/")
	if len(parts) < 3 {
		return time.Time{}, false
	}
	date, err := time.Parse(keyDateLayout, strings.Join(parts[len(parts)-3:], "/"))
	if err != nil {
		return time.Time{}, false
	}
	return date, true
}

// contentType returns the MIME type for a recording based on its extension.
func contentType(localPath string) string {
	ext := strings.TrimPrefix(filepath.Ext(localPath), ".")
	for _, preset := range types.CodecPresets {
		if preset.Extension == ext {
			return preset.ContentType
		}
	}
	return "application/octet-stream"
}
