package conditional

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

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

func testRecord(key, id string) *PendingOrder {
	return &PendingOrder{
		Key:      key,
		Status:   StatusOpen,
		Class:    ClassConditional,
		ID:       id,
		DateTime: time.Now().UTC().Format(types.FillTimeLayout),
		Order: types.Order{
			Exchange:   "mimic",
			Account:    "main",
			Market:     "spot",
			Asset:      "EUR/USD",
			Direction:  types.DirectionLong,
			TakeProfit: "2%",
		},
		Response: &types.OrderDetail{
			ID:       id,
			Price:    "100",
			Amount:   "1",
			DateTime: time.Now().UTC().Format(types.FillTimeLayout),
		},
	}
}

func TestFileQueue_AppendAndRead(t *testing.T) {
	opts := startLockServer(t)
	q := NewFileQueue(t.TempDir(), "TestQueue", opts)

	if err := q.AppendOne(testRecord("k1", "o1")); err != nil {
		t.Fatalf("AppendOne err=%v", err)
	}
	if err := q.AppendOne(testRecord("k2", "o2")); err != nil {
		t.Fatalf("AppendOne err=%v", err)
	}

	records, err := q.Read()
	if err != nil {
		t.Fatalf("Read err=%v", err)
	}
	if len(records) != 2 {
		t.Fatalf("Read returned %d records, want 2", len(records))
	}
	if records[0].Key != "k1" || records[1].Key != "k2" {
		t.Fatalf("records out of order: %q, %q", records[0].Key, records[1].Key)
	}
	if records[0].Response == nil || records[0].Response.ID != "o1" {
		t.Fatalf("fill response not round-tripped: %+v", records[0].Response)
	}
}

func TestFileQueue_ReadMissingFile(t *testing.T) {
	opts := startLockServer(t)
	q := NewFileQueue(t.TempDir(), "Empty", opts)

	records, err := q.Read()
	if err != nil {
		t.Fatalf("Read err=%v", err)
	}
	if len(records) != 0 {
		t.Fatalf("Read of missing file returned %d records", len(records))
	}
}

func TestFileQueue_AppendRequiresKey(t *testing.T) {
	opts := startLockServer(t)
	q := NewFileQueue(t.TempDir(), "Keyed", opts)

	rec := testRecord("", "o1")
	if err := q.AppendOne(rec); err == nil {
		t.Fatalf("AppendOne with empty key succeeded, want error")
	}
}

func TestFileQueue_RewriteWithout(t *testing.T) {
	opts := startLockServer(t)
	q := NewFileQueue(t.TempDir(), "Rewrite", opts)

	for _, key := range []string{"k1", "k2", "k3"} {
		if err := q.AppendOne(testRecord(key, "o-"+key)); err != nil {
			t.Fatalf("AppendOne err=%v", err)
		}
	}

	remaining, err := q.RewriteWithout(map[string]bool{"k2": true})
	if err != nil {
		t.Fatalf("RewriteWithout err=%v", err)
	}
	if remaining != 2 {
		t.Fatalf("remaining=%d, want 2", remaining)
	}

	records, err := q.Read()
	if err != nil {
		t.Fatalf("Read err=%v", err)
	}
	if len(records) != 2 {
		t.Fatalf("Read returned %d records, want 2", len(records))
	}
	for _, rec := range records {
		if rec.Key == "k2" {
			t.Fatalf("resolved record k2 survived the rewrite")
		}
	}
}

func TestFileQueue_RewriteWithoutEmptySetCounts(t *testing.T) {
	opts := startLockServer(t)
	q := NewFileQueue(t.TempDir(), "Count", opts)

	if err := q.AppendOne(testRecord("k1", "o1")); err != nil {
		t.Fatalf("AppendOne err=%v", err)
	}
	remaining, err := q.RewriteWithout(nil)
	if err != nil {
		t.Fatalf("RewriteWithout err=%v", err)
	}
	if remaining != 1 {
		t.Fatalf("remaining=%d, want 1", remaining)
	}
}

func TestFileQueue_SkipsMalformedLines(t *testing.T) {
	opts := startLockServer(t)
	dir := t.TempDir()
	q := NewFileQueue(dir, "Damaged", opts)

	if err := q.AppendOne(testRecord("k1", "o1")); err != nil {
		t.Fatalf("AppendOne err=%v", err)
	}
	// A torn line in the middle of the file must not poison the queue.
	f, err := os.OpenFile(q.Path(), os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatalf("OpenFile err=%v", err)
	}
	if _, err := f.WriteString("{torn json li\n"); err != nil {
		t.Fatalf("WriteString err=%v", err)
	}
	f.Close()
	if err := q.AppendOne(testRecord("k2", "o2")); err != nil {
		t.Fatalf("AppendOne err=%v", err)
	}

	records, err := q.Read()
	if err != nil {
		t.Fatalf("Read err=%v", err)
	}
	if len(records) != 2 {
		t.Fatalf("Read returned %d records, want 2 with the torn line skipped", len(records))
	}
}
