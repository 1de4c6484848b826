// Package ledger is the append-only, per-account/asset trade journal.
// Entries are written once under lock and never modified; lookups scan
// forward without locking, which tolerates a concurrent append because
// complete lines are all a reader can observe.
package ledger

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tradewire/relay/internal/exchange"
	"github.com/tradewire/relay/internal/locker"
	"github.com/tradewire/relay/internal/metrics"
	"github.com/tradewire/relay/internal/types"
)

// Entry is one resolved trade.
type Entry struct {
	DateTime string             `json:"DateTime"`
	ID       string             `json:"ID"`
	Order    *types.Order       `json:"Order"`
	Response *types.OrderDetail `json:"Response,omitempty"`
	Detail   *types.OrderDetail `json:"Detail"`
}

type guard interface {
	Critical(bool)
}

// Writer appends resolved trades to their journal files.
type Writer struct {
	client   exchange.Client
	dir      string
	lockOpts locker.Options
	guard    guard
	logger   zerolog.Logger
}

// Option tunes a Writer.
type Option func(*Writer)

// WithGuard wraps the locked append in a critical section.
func WithGuard(g guard) Option {
	return func(w *Writer) { w.guard = g }
}

// NewWriter creates a ledger writer rooted at dir. The exchange client
// is needed to re-fetch fill detail: venues may not retain it past a
// short window, so it is captured at write time.
func NewWriter(client exchange.Client, dir string, lockOpts locker.Options, opts ...Option) *Writer {
	w := &Writer{
		client:   client,
		dir:      dir,
		lockOpts: lockOpts,
		logger:   log.With().Str("component", "ledger").Logger(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// FileName derives the journal file for a trade's scope. Separators
// are stripped from the symbol component only, so one asset always
// maps to one file regardless of how the venue spells it while account
// and exchange names pass through untouched.
func FileName(dir string, order *types.Order) string {
	name := order.Exchange + "." + order.Market + "." + order.Account + "." + stripSeparators(order.Asset)
	return filepath.Join(dir, name+".ledger")
}

func stripSeparators(s string) string {
	r := strings.NewReplacer("/", "", "-", "", ":", "", " ", "")
	return r.Replace(s)
}

// Append records one resolved trade. The authoritative order ID comes
// from the response when present, else from the order itself.
func (w *Writer) Append(order *types.Order, response *types.OrderDetail) error {
	id := order.ID
	if response != nil {
		id = response.ID
	}
	if id == "" {
		return fmt.Errorf("ledger append without an order id")
	}

	detail, err := w.client.GetOrderDetails(id, order.Asset)
	if err != nil {
		return fmt.Errorf("fetch order detail for ledger: %w", err)
	}

	entry := Entry{
		DateTime: time.Now().UTC().Format(types.FillTimeLayout),
		ID:       id,
		Order:    order,
		Response: response,
		Detail:   detail,
	}
	buf, err := json.Marshal(&entry)
	if err != nil {
		return err
	}

	path := FileName(w.dir, order)
	lock := locker.New(path, w.lockOpts)

	if w.guard != nil {
		w.guard.Critical(true)
		defer w.guard.Critical(false)
	}
	if err := lock.Lock(int(lock.TimeoutSeconds())); err != nil {
		return err
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			w.logger.Error().Err(err).Str("file", path).Msg("unlock failed")
		}
	}()

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(append(buf, '\n')); err != nil {
		return err
	}

	metrics.LedgerAppended()
	w.logger.Info().
		Str("exchange", order.Exchange).
		Str("account", order.Account).
		Str("id", id).
		Msg("ledgered")
	return nil
}

// FindByID scans the journal for the trade's scope and returns the
// detail of the first entry with a matching ID. The read takes no
// lock: the file is append-only and a historical read tolerates a
// concurrent append.
func FindByID(dir string, order *types.Order, id string) (*types.OrderDetail, error) {
	path := FileName(dir, order)
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var entry Entry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue
		}
		if entry.ID == id {
			return entry.Detail, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("ledger entry %s not found in %s", id, path)
}
