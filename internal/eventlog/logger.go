// Package eventlog records capture session lifecycle and archive events
// in a JSON lines file.
package eventlog

import (
	"bufio"
	"bytes"
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-capture/internal/types"
)

// EventType represents the type of event.
type EventType string

// Session event types.
const (
	SessionStarted EventType = "session_started"
	SessionPaused  EventType = "session_paused"
	SessionResumed EventType = "session_resumed"
	SessionStopped EventType = "session_stopped"
	SessionFailed  EventType = "session_failed"
)

// Archive event types.
const (
	UploadQueued    EventType = "upload_queued"
	UploadCompleted EventType = "upload_completed"
	UploadFailed    EventType = "upload_failed"
)

// Event represents a single log entry with type-specific details.
type Event struct {
	Timestamp time.Time `json:"ts"`
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id,omitempty"`
	Message   string    `json:"msg,omitempty"`
	Details   any       `json:"details,omitempty"`
}

// SessionDetails contains session-specific event details.
type SessionDetails struct {
	Path  string `json:"path,omitempty"`
	Error string `json:"error,omitempty"`
}

// UploadDetails contains archive-specific event details.
type UploadDetails struct {
	Filename   string `json:"filename,omitempty"`
	S3Key      string `json:"s3_key,omitempty"`
	Error      string `json:"error,omitempty"`
	RetryCount int    `json:"retry,omitempty"`
}

// DefaultMaxSize is the log size at which the file is rotated.
const DefaultMaxSize int64 = 10 << 20

// Logger appends events to a JSON lines file. When the file would grow past
// its size limit it is moved to <path>.1, replacing any earlier backup.
type Logger struct {
	mu       sync.Mutex
	filePath string
	file     *os.File
	size     int64
	maxSize  int64
}

// DefaultLogPath returns the platform-specific log file path.
func DefaultLogPath(port int) string {
	name := filepath.Join("capture", strconv.Itoa(port), "capture.jsonl")
	if runtime.GOOS == "windows" {
		programData := cmp.Or(os.Getenv("PROGRAMDATA"), `C:\ProgramData`)
		return filepath.Join(programData, "logs", name)
	}
	return filepath.Join("/var/log", name)
}

// NewLogger opens (or creates) the event log at filePath.
func NewLogger(filePath string) (*Logger, error) {
	l := &Logger{filePath: filePath, maxSize: DefaultMaxSize}
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	if err := l.open(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Logger) open() error {
	file, err := os.OpenFile(l.filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return fmt.Errorf("stat log file: %w", err)
	}
	l.file = file
	l.size = info.Size()
	return nil
}

// rotate moves the current file to the backup slot. Caller must hold l.mu.
func (l *Logger) rotate() error {
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("close log file: %w", err)
	}
	l.file = nil
	if err := os.Rename(l.filePath, backupPath(l.filePath)); err != nil {
		return fmt.Errorf("rotate log file: %w", err)
	}
	return l.open()
}

func backupPath(filePath string) string {
	return filePath + ".1"
}

// Log appends event, stamping it with the current time when unset.
func (l *Logger) Log(event *Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return os.ErrClosed
	}
	if l.size > 0 && l.size+int64(len(line)) > l.maxSize {
		if err := l.rotate(); err != nil {
			return err
		}
	}
	n, err := l.file.Write(line)
	l.size += int64(n)
	return err
}

// LogState logs a session state transition. The event type follows from the previous state.
func (l *Logger) LogState(ev types.StateEvent, previous types.SessionState) error {
	var eventType EventType
	switch ev.State {
	case types.StateRecording:
		eventType = SessionStarted
		if previous == types.StatePaused {
			eventType = SessionResumed
		}
	case types.StatePaused:
		eventType = SessionPaused
	case types.StateStopped:
		eventType = SessionStopped
	case types.StateFailed:
		eventType = SessionFailed
	default:
		return fmt.Errorf("no event type for state %q", ev.State)
	}

	return l.Log(&Event{
		Timestamp: ev.Timestamp,
		Type:      eventType,
		SessionID: ev.SessionID,
		Details: &SessionDetails{
			Path:  ev.Path,
			Error: ev.Error,
		},
	})
}

// LogUpload logs an archive event.
func (l *Logger) LogUpload(eventType EventType, sessionID, filename, s3Key, errMsg string, retryCount int) error {
	return l.Log(&Event{
		Timestamp: time.Now(),
		Type:      eventType,
		SessionID: sessionID,
		Details: &UploadDetails{
			Filename:   filename,
			S3Key:      s3Key,
			Error:      errMsg,
			RetryCount: retryCount,
		},
	})
}

// Close closes the log file. Later writes fail with os.ErrClosed.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// Path returns the path to the log file.
func (l *Logger) Path() string {
	return l.filePath
}

// TypeFilter specifies which event types to include when reading.
type TypeFilter string

// Filter constants for ReadLast.
const (
	FilterAll     TypeFilter = ""
	FilterSession TypeFilter = "session"
	FilterArchive TypeFilter = "archive"
)

// MaxReadLimit is the maximum number of events that can be read at once.
const MaxReadLimit = 500

// ReadLast returns up to n events matching filter, newest first, after
// skipping offset matches, and whether more matches exist. The rotated
// backup is read after the current file. n is capped at MaxReadLimit.
func ReadLast(filePath string, n, offset int, filter TypeFilter) ([]Event, bool, error) {
	n = min(n, MaxReadLimit)
	if n <= 0 {
		return []Event{}, false, nil
	}

	events := make([]Event, 0, n)
	skipped := 0
	for _, path := range []string{filePath, backupPath(filePath)} {
		lines, err := readLines(path)
		if err != nil {
			return nil, false, err
		}
		for i := len(lines) - 1; i >= 0; i-- {
			var event Event
			if err := json.Unmarshal(lines[i], &event); err != nil {
				continue // Skip malformed lines
			}
			if !filter.matches(event.Type) {
				continue
			}
			if skipped < offset {
				skipped++
				continue
			}
			if len(events) == n {
				return events, true, nil
			}
			events = append(events, event)
		}
	}
	return events, false, nil
}

// readLines returns the lines of path, or none when it does not exist.
func readLines(path string) ([][]byte, error) {
	file, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer file.Close() //nolint:errcheck // Read-only

	var lines [][]byte
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, bytes.Clone(scanner.Bytes()))
	}
	return lines, scanner.Err()
}

func (f TypeFilter) matches(t EventType) bool {
	switch f {
	case FilterSession:
		return IsSessionEvent(t)
	case FilterArchive:
		return IsArchiveEvent(t)
	default:
		return true
	}
}

// IsSessionEvent returns true if the event type is a session event.
func IsSessionEvent(t EventType) bool {
	return t == SessionStarted || t == SessionPaused || t == SessionResumed ||
		t == SessionStopped || t == SessionFailed
}

// IsArchiveEvent returns true if the event type is an archive event.
func IsArchiveEvent(t EventType) bool {
	return t == UploadQueued || t == UploadCompleted || t == UploadFailed
}
