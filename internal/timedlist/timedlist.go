// Package timedlist is a lock-guarded, file-backed table of expiring
// key/value entries. The relay uses it to deduplicate repeated webhook
// signals and to rate-limit per-asset activity; it is advisory, not a
// source of truth.
package timedlist

import (
	"encoding/json"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tradewire/relay/internal/locker"
)

// Status values reported by Upsert.
const (
	StatusFound      = "Found"
	StatusExpired    = "Expired"
	StatusReplaced   = "Replaced"
	StatusAdded      = "Added"
	StatusErrorLimit = "ErrorLimit"
)

// Entry is one stored item. Expire is unix seconds; an entry whose
// expiry has passed is logically absent from every read even though it
// may hold its slot until the next purge.
type Entry struct {
	Expire  float64 `json:"Expire"`
	Payload string  `json:"Payload"`
}

// Result is the outcome of an Upsert.
type Result struct {
	Status  string
	Payload Entry
}

// guard is the critical-section hook; nil-safe via option.
type guard interface {
	Critical(bool)
}

// TimedList is the store. All mutating operations hold the named lock
// for the full read-modify-write cycle; Search does not lock and may
// race with a concurrent Purge, which is acceptable for deduplication.
type TimedList struct {
	title   string
	path    string
	maxSize int
	lock    *locker.Locker
	guard   guard
	now     func() time.Time
	logger  zerolog.Logger
}

// Option tunes a TimedList.
type Option func(*TimedList)

// WithGuard wraps every locked mutation in a signal-deferring critical
// section.
func WithGuard(g guard) Option {
	return func(t *TimedList) { t.guard = g }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(t *TimedList) { t.now = now }
}

// New creates a TimedList stored at path. maxSize bounds the count of
// unexpired entries; zero means unbounded.
func New(title, path string, maxSize int, lockOpts locker.Options, opts ...Option) *TimedList {
	t := &TimedList{
		title:   title,
		path:    path,
		maxSize: maxSize,
		lock:    locker.New(path, lockOpts),
		now:     time.Now,
		logger:  log.With().Str("component", "timedlist").Str("table", title).Logger(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// load reads the raw table. Values are individually JSON-encoded
// entries inside the outer object, matching the existing file format.
func (t *TimedList) load() map[string]string {
	table := make(map[string]string)
	raw, err := os.ReadFile(t.path)
	if err != nil || len(raw) == 0 {
		return table
	}
	if err := json.Unmarshal(raw, &table); err != nil {
		t.logger.Warn().Err(err).Msg("corrupt table, starting empty")
		return make(map[string]string)
	}
	return table
}

func (t *TimedList) save(table map[string]string) error {
	raw, err := json.Marshal(table)
	if err != nil {
		return err
	}
	return os.WriteFile(t.path, raw, 0o644)
}

func (t *TimedList) liveCount(table map[string]string) int {
	count := 0
	cutoff := float64(t.now().Unix())
	for _, raw := range table {
		var e Entry
		if json.Unmarshal([]byte(raw), &e) != nil {
			continue
		}
		if e.Expire > cutoff {
			count++
		}
	}
	return count
}

func (t *TimedList) hasRoom(table map[string]string) bool {
	return t.maxSize == 0 || t.liveCount(table) < t.maxSize
}

// Upsert inserts or refreshes key under the size bound. A live entry is
// returned as Found without modification, unless ttlSeconds is zero,
// which forces its immediate expiry.
func (t *TimedList) Upsert(key, payload string, ttlSeconds int64) (Result, error) {
	if t.guard != nil {
		t.guard.Critical(true)
		defer t.guard.Critical(false)
	}
	if err := t.lock.Lock(int(t.lock.TimeoutSeconds())); err != nil {
		return Result{}, err
	}
	defer func() {
		if err := t.lock.Unlock(); err != nil {
			t.logger.Error().Err(err).Msg("unlock failed")
		}
	}()

	table := t.load()
	now := float64(t.now().Unix())

	if raw, ok := table[key]; ok {
		var item Entry
		if err := json.Unmarshal([]byte(raw), &item); err == nil && item.Expire > now {
			if ttlSeconds == 0 {
				item.Expire = 0
				enc, _ := json.Marshal(item)
				table[key] = string(enc)
				if err := t.save(table); err != nil {
					return Result{}, err
				}
				return Result{Status: StatusExpired, Payload: item}, nil
			}
			return Result{Status: StatusFound, Payload: item}, nil
		}
		// Expired slot; replace if the live count leaves room.
		if !t.hasRoom(table) {
			return Result{Status: StatusErrorLimit}, nil
		}
		item = Entry{Expire: now + float64(ttlSeconds), Payload: payload}
		enc, _ := json.Marshal(item)
		table[key] = string(enc)
		if err := t.save(table); err != nil {
			return Result{}, err
		}
		return Result{Status: StatusReplaced, Payload: item}, nil
	}

	if !t.hasRoom(table) {
		return Result{Status: StatusErrorLimit}, nil
	}
	item := Entry{Expire: now + float64(ttlSeconds), Payload: payload}
	enc, _ := json.Marshal(item)
	table[key] = string(enc)
	if err := t.save(table); err != nil {
		return Result{}, err
	}
	return Result{Status: StatusAdded, Payload: item}, nil
}

// Search returns the payload for key if present and unexpired. It takes
// no lock; a stale answer only means one duplicate signal slips through.
func (t *TimedList) Search(key string) (string, bool) {
	table := t.load()
	raw, ok := table[key]
	if !ok {
		return "", false
	}
	var item Entry
	if err := json.Unmarshal([]byte(raw), &item); err != nil {
		return "", false
	}
	if item.Expire <= float64(t.now().Unix()) {
		return "", false
	}
	return item.Payload, true
}

// Purge rewrites the table keeping only unexpired entries.
func (t *TimedList) Purge() error {
	if t.guard != nil {
		t.guard.Critical(true)
		defer t.guard.Critical(false)
	}
	if err := t.lock.Lock(int(t.lock.TimeoutSeconds())); err != nil {
		return err
	}
	defer func() {
		if err := t.lock.Unlock(); err != nil {
			t.logger.Error().Err(err).Msg("unlock failed")
		}
	}()

	table := t.load()
	kept := make(map[string]string)
	cutoff := float64(t.now().Unix())
	for key, raw := range table {
		var item Entry
		if json.Unmarshal([]byte(raw), &item) != nil {
			continue
		}
		if item.Expire > cutoff {
			kept[key] = raw
		}
	}
	return t.save(kept)
}
