package audit

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/tenantguard/pkg/async"
	"github.com/platinummonkey/tenantguard/pkg/observability"
)

// replayConcurrency bounds concurrent sink writes during replay
const replayConcurrency = 4

// DeadLetterLog is the durable fallback for entries that could not be written.
// Each line is a logrus JSON record carrying the entry, the cause and the
// number of attempts made.
type DeadLetterLog struct {
	path string

	mu     sync.Mutex
	file   *os.File
	logger *logrus.Logger
}

// DeadLetter is a single record read back from the log
type DeadLetter struct {
	Entry    Entry     `json:"entry"`
	Cause    string    `json:"cause"`
	Attempts int       `json:"attempts"`
	Time     time.Time `json:"time"`
}

// ReplayResult summarizes a replay run
type ReplayResult struct {
	Replayed int `json:"replayed"`
	Failed   int `json:"failed"`
}

// OpenDeadLetterLog opens or creates the log at path
func OpenDeadLetterLog(path string) (*DeadLetterLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create dead letter directory: %w", err)
	}

	d := &DeadLetterLog{path: path}
	if err := d.open(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *DeadLetterLog) open() error {
	f, err := os.OpenFile(d.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open dead letter log: %w", err)
	}
	d.use(f)
	return nil
}

// use makes f the file that new records are appended to
func (d *DeadLetterLog) use(f *os.File) {
	d.file = f
	d.logger = newLetterLogger(f)
}

func newLetterLogger(w io.Writer) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(w)
	logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

// Append writes an entry with the failure that caused it to be dead-lettered
func (d *DeadLetterLog) Append(entry Entry, cause error, attempts int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.appendLocked(entry, cause, attempts)
}

func (d *DeadLetterLog) appendLocked(entry Entry, cause error, attempts int) error {
	if d.file == nil {
		return errors.New("dead letter log is closed")
	}
	causeText := ""
	if cause != nil {
		causeText = cause.Error()
	}
	writeLetter(d.logger, entry, causeText, attempts)
	return d.file.Sync()
}

func writeLetter(logger *logrus.Logger, entry Entry, cause string, attempts int) {
	logger.WithFields(logrus.Fields{
		"entry":    entry,
		"cause":    cause,
		"attempts": attempts,
	}).Error("audit entry dead-lettered")
}

// ReadAll returns every record currently in the log
func (d *DeadLetterLog) ReadAll() ([]DeadLetter, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return readDeadLetters(d.path)
}

// Pending returns the number of records in the log
func (d *DeadLetterLog) Pending() (int, error) {
	letters, err := d.ReadAll()
	return len(letters), err
}

// Replay writes every dead letter to sink, a few at a time. Records that fail
// again stay in the log with their attempt count increased, and records not
// attempted before ctx ended stay unchanged. The log is replaced atomically,
// so a failed rewrite leaves every record in place.
func (d *DeadLetterLog) Replay(ctx context.Context, sink Sink) (ReplayResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var result ReplayResult
	if d.file == nil {
		return result, errors.New("dead letter log is closed")
	}

	letters, err := readDeadLetters(d.path)
	if err != nil {
		return result, err
	}
	if len(letters) == 0 {
		return result, nil
	}

	var (
		mu       sync.Mutex
		replayed = make([]bool, len(letters))
		indexes  = make([]int, len(letters))
	)
	for i := range indexes {
		indexes[i] = i
	}
	async.Batch(ctx, observability.GetLogger(ctx), indexes, replayConcurrency, "dead letter replay", 0,
		func(ctx context.Context, i int) error {
			mu.Lock()
			entry := letters[i].Entry
			mu.Unlock()

			err := sink.Write(ctx, entry)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				letters[i].Cause = err.Error()
				letters[i].Attempts++
				return err
			}
			replayed[i] = true
			return nil
		})

	mu.Lock()
	var failed []DeadLetter
	for i, l := range letters {
		if replayed[i] {
			result.Replayed++
			continue
		}
		failed = append(failed, l)
	}
	mu.Unlock()
	result.Failed = len(failed)

	if err := d.rewriteLocked(failed); err != nil {
		return result, err
	}
	return result, ctx.Err()
}

// rewriteLocked replaces the log with letters. The new content is written and
// synced to a sibling file which is then renamed over the log; on any error
// the existing log is left untouched and stays open for appends.
func (d *DeadLetterLog) rewriteLocked(letters []DeadLetter) error {
	tmp := d.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create dead letter rewrite: %w", err)
	}

	var buf bytes.Buffer
	logger := newLetterLogger(&buf)
	for _, l := range letters {
		writeLetter(logger, l.Entry, l.Cause, l.Attempts)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to write dead letter rewrite: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to sync dead letter rewrite: %w", err)
	}
	if err := os.Rename(tmp, d.path); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to replace dead letter log: %w", err)
	}

	old := d.file
	d.use(f)
	if err := old.Close(); err != nil {
		observability.GetLogger(context.Background()).WithError(err).Warn("failed to close replaced dead letter log")
	}
	return nil
}

// Close closes the underlying file
func (d *DeadLetterLog) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file == nil {
		return nil
	}
	err := d.file.Close()
	d.file = nil
	return err
}

func readDeadLetters(path string) ([]DeadLetter, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open dead letter log: %w", err)
	}
	defer f.Close()

	return decodeDeadLetters(f)
}

func decodeDeadLetters(r io.Reader) ([]DeadLetter, error) {
	var letters []DeadLetter
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var l DeadLetter
		if err := json.Unmarshal(line, &l); err != nil {
			return nil, fmt.Errorf("failed to decode dead letter: %w", err)
		}
		letters = append(letters, l)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read dead letter log: %w", err)
	}
	return letters, nil
}
