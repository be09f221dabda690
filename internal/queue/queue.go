// Package queue implements the durable handoff between the conversational
// path and the background worker: a newline-delimited JSON log guarded by
// an advisory lock file, consumed through a checkpoint file so readers
// never rewrite history.
package queue

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/praxis-labs/agent-memory-go/internal/apptype"
)

// ErrLockTimeout is returned when the queue lock cannot be acquired in time.
var ErrLockTimeout = errors.New("queue lock timeout")

const (
	writeLockTimeout = 10 * time.Second
	sizeLockTimeout  = 5 * time.Second
	lockPollInterval = 50 * time.Millisecond
)

// Queue is the append-only segment queue at a fixed path per agent.
// A single writer at a time is enforced via the lock file; multiple
// concurrent readers against the same queue are not supported. The lock
// file coordinates processes, not goroutines: readOffset is shared by
// Next, Size, and Clear and is guarded by mu.
type Queue struct {
	path        string
	lockPath    string
	ckptPath    string
	logger      zerolog.Logger
	writeLockTO time.Duration
	sizeLockTO  time.Duration

	mu         sync.Mutex
	readOffset int64
}

// New opens the queue at path, creating parent directories as needed and
// restoring the reader checkpoint if one exists.
func New(path string, logger zerolog.Logger) (*Queue, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create queue directory: %w", err)
	}
	q := &Queue{
		path:        path,
		lockPath:    path + ".lock",
		ckptPath:    path + ".checkpoint",
		logger:      logger.With().Str("component", "queue").Logger(),
		writeLockTO: writeLockTimeout,
		sizeLockTO:  sizeLockTimeout,
	}
	if data, err := os.ReadFile(q.ckptPath); err == nil {
		if off, perr := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64); perr == nil && off >= 0 {
			q.readOffset = off
		}
	}
	return q, nil
}

// DefaultPath returns the queue file path under a storage directory.
func DefaultPath(storageDir string) string {
	return filepath.Join(storageDir, "conversation_queue.jsonl")
}

// Write appends one record to the queue under the write lock. On lock
// timeout the record is not written and ErrLockTimeout is returned; the
// conversation entry itself remains the source of truth for replay.
func (q *Queue) Write(rec apptype.QueueRecord) error {
	unlock, err := q.acquireLock(q.writeLockTO)
	if err != nil {
		return err
	}
	defer unlock()

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode queue record: %w", err)
	}
	f, err := os.OpenFile(q.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open queue file: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to append queue record: %w", err)
	}
	return nil
}

// Next consumes one record, advancing the checkpoint. Returns (nil, nil)
// when the queue is drained. Corrupt or partial trailing lines are skipped
// with a warning.
func (q *Queue) Next() (*apptype.QueueRecord, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	f, err := os.Open(q.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open queue file: %w", err)
	}
	defer f.Close()

	if _, err := f.Seek(q.readOffset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to seek queue file: %w", err)
	}
	reader := bufio.NewReader(f)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil && err != io.EOF {
			return nil, fmt.Errorf("failed to read queue file: %w", err)
		}
		if len(line) == 0 && err == io.EOF {
			return nil, nil
		}
		consumed := int64(len(line))
		complete := len(line) > 0 && line[len(line)-1] == '\n'
		trimmed := strings.TrimSpace(string(line))

		if trimmed == "" {
			q.advance(consumed)
			if err == io.EOF {
				return nil, nil
			}
			continue
		}

		var rec apptype.QueueRecord
		if uerr := json.Unmarshal([]byte(trimmed), &rec); uerr != nil {
			if !complete {
				// Partial trailing line: leave the checkpoint alone so a
				// finished write can be picked up later.
				q.logger.Warn().Msg("queue has a partial trailing line, waiting for writer")
				return nil, nil
			}
			q.logger.Warn().Err(uerr).Msg("skipping corrupt queue record")
			q.advance(consumed)
			if err == io.EOF {
				return nil, nil
			}
			continue
		}
		q.advance(consumed)
		return &rec, nil
	}
}

// Size returns the number of unconsumed records. It takes the lock with a
// short timeout so a stuck writer degrades the size check, not the caller.
// An unterminated trailing line is not counted: Next will not consume it
// until the writer finishes it.
func (q *Queue) Size() (int, error) {
	unlock, err := q.acquireLock(q.sizeLockTO)
	if err != nil {
		return 0, err
	}
	defer unlock()

	q.mu.Lock()
	off := q.readOffset
	q.mu.Unlock()

	f, err := os.Open(q.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to open queue file: %w", err)
	}
	defer f.Close()
	if _, err := f.Seek(off, io.SeekStart); err != nil {
		return 0, fmt.Errorf("failed to seek queue file: %w", err)
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return 0, fmt.Errorf("failed to read queue file: %w", err)
	}
	lines := strings.Split(string(data), "\n")
	count := 0
	// The element after the final newline is an in-flight partial write.
	for _, line := range lines[:len(lines)-1] {
		if strings.TrimSpace(line) != "" {
			count++
		}
	}
	return count, nil
}

// Clear truncates the queue and resets the checkpoint. Test-only.
func (q *Queue) Clear() error {
	unlock, err := q.acquireLock(q.writeLockTO)
	if err != nil {
		return err
	}
	defer unlock()

	if err := os.Truncate(q.path, 0); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to truncate queue file: %w", err)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.readOffset = 0
	return q.saveCheckpoint()
}

// advance moves the checkpoint forward. Callers must hold q.mu.
func (q *Queue) advance(n int64) {
	q.readOffset += n
	if err := q.saveCheckpoint(); err != nil {
		q.logger.Warn().Err(err).Msg("failed to save queue checkpoint")
	}
}

func (q *Queue) saveCheckpoint() error {
	return os.WriteFile(q.ckptPath, []byte(strconv.FormatInt(q.readOffset, 10)), 0o644)
}

// acquireLock takes the advisory lock file, polling until timeout. The
// lock is create-exclusive; a crashed holder's lock older than one minute
// is considered stale and broken.
func (q *Queue) acquireLock(timeout time.Duration) (func(), error) {
	deadline := time.Now().Add(timeout)
	for {
		f, err := os.OpenFile(q.lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			fmt.Fprintf(f, "%d\n", os.Getpid())
			f.Close()
			return func() { _ = os.Remove(q.lockPath) }, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("failed to create queue lock: %w", err)
		}
		if info, serr := os.Stat(q.lockPath); serr == nil && time.Since(info.ModTime()) > time.Minute {
			q.logger.Warn().Msg("breaking stale queue lock")
			_ = os.Remove(q.lockPath)
			continue
		}
		if time.Now().After(deadline) {
			return nil, ErrLockTimeout
		}
		time.Sleep(lockPollInterval)
	}
}
