package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-capture/internal/types"
	"github.com/oszuidwest/zwfm-capture/internal/util"
	"golang.org/x/mod/semver"
)

const (
	githubRepo           = "oszuidwest/zwfm-capture"
	releaseURL           = "https://api.github.com/repos/" + githubRepo + "/releases/latest"
	versionCheckInterval = 24 * time.Hour
	versionCheckDelay    = 30 * time.Second // Keeps the first check off the startup path
	versionCheckTimeout  = 30 * time.Second
	versionMaxRetries    = 3
	versionRetryDelay    = 1 * time.Minute
)

// retryableError marks a failed check worth repeating in the same cycle.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

func retryable(format string, args ...any) error {
	return &retryableError{err: fmt.Errorf(format, args...)}
}

// VersionChecker polls GitHub for the latest release. It is safe for concurrent use.
type VersionChecker struct {
	apiURL string
	client *http.Client

	mu     sync.RWMutex
	latest string
	etag   string // For conditional requests (304 Not Modified)

	cancel context.CancelFunc
	done   chan struct{}
}

// NewVersionChecker starts a background checker against the GitHub releases API.
func NewVersionChecker() *VersionChecker {
	vc := newVersionChecker(releaseURL)
	ctx, cancel := context.WithCancel(context.Background())
	vc.cancel = cancel
	vc.done = make(chan struct{})
	go vc.run(ctx)
	return vc
}

func newVersionChecker(apiURL string) *VersionChecker {
	return &VersionChecker{
		apiURL: apiURL,
		client: &http.Client{Timeout: versionCheckTimeout},
	}
}

// Stop ends background checking and waits for the loop to exit. It is safe to call more than once.
func (vc *VersionChecker) Stop() {
	if vc.cancel == nil {
		return
	}
	vc.cancel()
	<-vc.done
}

func (vc *VersionChecker) run(ctx context.Context) {
	defer close(vc.done)
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in version checker", "panic", r)
		}
	}()

	delay := versionCheckDelay
	for {
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return
		}
		vc.checkWithRetry(ctx)
		delay = versionCheckInterval
	}
}

// checkWithRetry repeats retryable failures up to versionMaxRetries times.
func (vc *VersionChecker) checkWithRetry(ctx context.Context) {
	backoff := util.NewBackoff(versionRetryDelay, 4*versionRetryDelay)
	for {
		err := vc.check(ctx)
		if err == nil {
			return
		}
		var retry *retryableError
		if !errors.As(err, &retry) || backoff.Attempts() >= versionMaxRetries-1 {
			slog.Debug("version check failed", "error", err)
			return
		}
		if backoff.Wait(ctx) != nil {
			return
		}
	}
}

// githubRelease is the subset of the release payload the checker reads.
type githubRelease struct {
	TagName    string `json:"tag_name"`
	Draft      bool   `json:"draft"`
	Prerelease bool   `json:"prerelease"`
}

// check fetches the latest release once. Unchanged, missing and
// unpublished releases are not errors.
func (vc *VersionChecker) check(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, vc.apiURL, http.NoBody)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("User-Agent", "zwfm-capture/"+Version)

	vc.mu.RLock()
	etag := vc.etag
	vc.mu.RUnlock()
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	resp, err := vc.client.Do(req)
	if err != nil {
		return retryable("request release: %w", err)
	}
	defer func() {
		_ = resp.Body.Close() //nolint:errcheck // Best-effort cleanup
	}()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotModified, resp.StatusCode == http.StatusNotFound:
		return nil
	case resp.StatusCode == http.StatusForbidden, resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		return retryable("github returned %d", resp.StatusCode)
	default:
		return fmt.Errorf("github returned %d", resp.StatusCode)
	}

	var release githubRelease
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return retryable("decode release: %w", err)
	}
	if release.Draft || release.Prerelease {
		return nil
	}
	if release.TagName == "" {
		return retryable("release has no tag")
	}

	latest := normalizeVersion(release.TagName)
	vc.mu.Lock()
	changed := vc.latest != latest
	vc.latest = latest
	if newEtag := resp.Header.Get("ETag"); newEtag != "" {
		vc.etag = newEtag
	}
	vc.mu.Unlock()

	if changed && isNewerVersion(latest, normalizeVersion(Version)) {
		slog.Info("new version available", "current", Version, "latest", latest)
	}
	return nil
}

// Info returns the running and latest known versions.
func (vc *VersionChecker) Info() types.VersionInfo {
	vc.mu.RLock()
	defer vc.mu.RUnlock()

	current := normalizeVersion(Version)
	info := types.VersionInfo{
		Current:   current,
		Latest:    vc.latest,
		Commit:    Commit,
		BuildTime: util.FormatHumanTime(BuildTime),
	}
	if vc.latest != "" && semver.IsValid(canonicalVersion(current)) {
		info.UpdateAvail = isNewerVersion(vc.latest, current)
	}
	return info
}

func normalizeVersion(v string) string {
	return strings.TrimPrefix(strings.TrimSpace(v), "v")
}

func canonicalVersion(v string) string {
	return "v" + normalizeVersion(v)
}

// isNewerVersion reports whether latest is a higher semver than current.
func isNewerVersion(latest, current string) bool {
	return semver.Compare(canonicalVersion(latest), canonicalVersion(current)) > 0
}
