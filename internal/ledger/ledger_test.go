package ledger

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tradewire/relay/internal/exchange"
	"github.com/tradewire/relay/internal/locker"
	"github.com/tradewire/relay/internal/types"
)

func startLockServer(t *testing.T) locker.Options {
	t.Helper()
	store, err := locker.OpenStore(filepath.Join(t.TempDir(), "locker.db"))
	if err != nil {
		t.Fatalf("OpenStore err=%v", err)
	}
	srv := locker.NewServer(store)
	if err := srv.Listen("127.0.0.1", 0); err != nil {
		t.Fatalf("Listen err=%v", err)
	}
	go srv.Serve()
	t.Cleanup(func() { srv.Close() })

	return locker.Options{
		Host:    "127.0.0.1",
		Port:    srv.Addr().(*net.TCPAddr).Port,
		Retry:   1,
		Timeout: 5 * time.Second,
	}
}

func TestFileName_StripsSymbolSeparatorsOnly(t *testing.T) {
	order := &types.Order{
		Exchange: "mimic",
		Market:   "spot",
		Account:  "acct-1",
		Asset:    "EUR/USD",
	}
	got := FileName("/ledgers", order)
	// The symbol loses its separators; the account keeps its dash.
	want := filepath.Join("/ledgers", "mimic.spot.acct-1.EURUSD.ledger")
	if got != want {
		t.Fatalf("FileName=%q, want %q", got, want)
	}

	spaced := &types.Order{
		Exchange: "mimic",
		Market:   "spot",
		Account:  "main",
		Asset:    "XAU USD:H1",
	}
	got = FileName("/ledgers", spaced)
	want = filepath.Join("/ledgers", "mimic.spot.main.XAUUSDH1.ledger")
	if got != want {
		t.Fatalf("FileName=%q, want %q", got, want)
	}
}

func TestAppendAndFindByID(t *testing.T) {
	opts := startLockServer(t)
	venue := exchange.NewMock("mimic")
	dir := t.TempDir()
	w := NewWriter(venue, dir, opts)

	id, err := venue.PlaceOrder("EUR/USD", "market", "sell", 2, 103)
	if err != nil {
		t.Fatalf("PlaceOrder err=%v", err)
	}

	order := &types.Order{
		Exchange: "mimic",
		Market:   "spot",
		Account:  "main",
		Asset:    "EUR/USD",
		Action:   "sell",
	}
	response := &types.OrderDetail{ID: id, Price: "103", Amount: "2"}

	if err := w.Append(order, response); err != nil {
		t.Fatalf("Append err=%v", err)
	}

	detail, err := FindByID(dir, order, id)
	if err != nil {
		t.Fatalf("FindByID err=%v", err)
	}
	if detail == nil || detail.Price != "103" {
		t.Fatalf("FindByID detail=%+v, want price 103", detail)
	}

	if _, err := FindByID(dir, order, "no-such-id"); err == nil {
		t.Fatalf("FindByID for unknown id succeeded, want error")
	}
}

func TestAppend_MultipleEntriesAccumulate(t *testing.T) {
	opts := startLockServer(t)
	venue := exchange.NewMock("mimic")
	dir := t.TempDir()
	w := NewWriter(venue, dir, opts)

	order := &types.Order{
		Exchange: "mimic",
		Market:   "spot",
		Account:  "main",
		Asset:    "EUR/USD",
		Action:   "sell",
	}

	var ids []string
	for i := 0; i < 3; i++ {
		id, err := venue.PlaceOrder("EUR/USD", "market", "sell", 1, 100+float64(i))
		if err != nil {
			t.Fatalf("PlaceOrder err=%v", err)
		}
		if err := w.Append(order, &types.OrderDetail{ID: id}); err != nil {
			t.Fatalf("Append err=%v", err)
		}
		ids = append(ids, id)
	}

	// Every entry remains findable; the journal is append-only.
	for _, id := range ids {
		if _, err := FindByID(dir, order, id); err != nil {
			t.Fatalf("FindByID(%s) err=%v", id, err)
		}
	}
}

func TestAppend_NoIDFails(t *testing.T) {
	opts := startLockServer(t)
	venue := exchange.NewMock("mimic")
	w := NewWriter(venue, t.TempDir(), opts)

	order := &types.Order{Exchange: "mimic", Market: "spot", Account: "main", Asset: "EUR/USD"}
	if err := w.Append(order, nil); err == nil {
		t.Fatalf("Append without an id succeeded, want error")
	}
}

func TestAppend_UnknownOrderFails(t *testing.T) {
	opts := startLockServer(t)
	venue := exchange.NewMock("mimic")
	dir := t.TempDir()
	w := NewWriter(venue, dir, opts)

	order := &types.Order{Exchange: "mimic", Market: "spot", Account: "main", Asset: "EUR/USD"}
	if err := w.Append(order, &types.OrderDetail{ID: "ghost"}); err == nil {
		t.Fatalf("Append for unknown venue order succeeded, want error")
	}
	if _, err := os.Stat(FileName(dir, order)); !os.IsNotExist(err) {
		t.Fatalf("failed append left a journal file behind")
	}
}
