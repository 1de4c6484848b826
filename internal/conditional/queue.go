package conditional

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tradewire/relay/internal/locker"
)

// Repository is the pending-order queue. Callers never touch the raw
// file; every mutation happens under the queue's named lock inside a
// critical section, so an alternative backend can replace the file
// without changing the state machine.
type Repository interface {
	// Read returns a snapshot of all pending records.
	Read() ([]PendingOrder, error)

	// AppendOne adds a record to the queue.
	AppendOne(rec *PendingOrder) error

	// RewriteWithout rewrites the queue dropping the resolved keys,
	// returning how many records remain.
	RewriteWithout(resolved map[string]bool) (int, error)
}

type guard interface {
	Critical(bool)
}

// FileQueue keeps the queue as newline-delimited JSON in
// <dataDir>/<name>.Receiver, append-only from producers and fully
// rewritten minus resolved records by the consumer.
type FileQueue struct {
	path   string
	lock   *locker.Locker
	guard  guard
	logger zerolog.Logger
}

// Option tunes a FileQueue.
type Option func(*FileQueue)

// WithGuard wraps locked mutations in a signal-deferring critical
// section.
func WithGuard(g guard) Option {
	return func(q *FileQueue) { q.guard = g }
}

// NewFileQueue opens the queue file for the named queue.
func NewFileQueue(dataDir, name string, lockOpts locker.Options, opts ...Option) *FileQueue {
	path := filepath.Join(dataDir, name+".Receiver")
	q := &FileQueue{
		path:   path,
		lock:   locker.New(path, lockOpts),
		logger: log.With().Str("component", "queue").Str("queue", name).Logger(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Path returns the queue file location.
func (q *FileQueue) Path() string { return q.path }

func (q *FileQueue) enter() error {
	if q.guard != nil {
		q.guard.Critical(true)
	}
	if err := q.lock.Lock(int(q.lock.TimeoutSeconds())); err != nil {
		if q.guard != nil {
			q.guard.Critical(false)
		}
		return err
	}
	return nil
}

func (q *FileQueue) leave() {
	if err := q.lock.Unlock(); err != nil {
		q.logger.Error().Err(err).Msg("unlock failed")
	}
	if q.guard != nil {
		q.guard.Critical(false)
	}
}

// Read snapshots the queue under lock. Unparsable lines are logged and
// skipped rather than failing the pass; they heal on the next rewrite.
func (q *FileQueue) Read() ([]PendingOrder, error) {
	if err := q.enter(); err != nil {
		return nil, err
	}
	defer q.leave()
	return q.readLocked()
}

func (q *FileQueue) readLocked() ([]PendingOrder, error) {
	f, err := os.Open(q.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var records []PendingOrder
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec PendingOrder
		if err := json.Unmarshal(line, &rec); err != nil {
			q.logger.Warn().Err(err).Msg("skipping malformed queue record")
			continue
		}
		records = append(records, rec)
	}
	return records, scanner.Err()
}

// AppendOne appends a record as one JSON line.
func (q *FileQueue) AppendOne(rec *PendingOrder) error {
	if rec.Key == "" {
		return fmt.Errorf("queue record has no key")
	}
	buf, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	if err := q.enter(); err != nil {
		return err
	}
	defer q.leave()

	f, err := os.OpenFile(q.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(append(buf, '\n'))
	return err
}

// RewriteWithout drops resolved records. The queue is re-read under the
// lock so records appended since the caller's snapshot survive.
func (q *FileQueue) RewriteWithout(resolved map[string]bool) (int, error) {
	if len(resolved) == 0 {
		records, err := q.Read()
		return len(records), err
	}

	if err := q.enter(); err != nil {
		return 0, err
	}
	defer q.leave()

	records, err := q.readLocked()
	if err != nil {
		return 0, err
	}

	kept := records[:0]
	for _, rec := range records {
		if !resolved[rec.Key] {
			kept = append(kept, rec)
		}
	}

	tmp := q.path + ".rewrite"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, err
	}
	w := bufio.NewWriter(f)
	for i := range kept {
		buf, err := json.Marshal(&kept[i])
		if err != nil {
			f.Close()
			return 0, err
		}
		w.Write(buf)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return 0, err
	}
	if err := f.Close(); err != nil {
		return 0, err
	}
	return len(kept), os.Rename(tmp, q.path)
}
