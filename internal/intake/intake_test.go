package intake

import (
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/tradewire/relay/internal/conditional"
	"github.com/tradewire/relay/internal/locker"
	"github.com/tradewire/relay/internal/timedlist"
	"github.com/tradewire/relay/internal/types"
)

func TestStripHTMLTags(t *testing.T) {
	tests := []struct {
		name string
		in   string
		full bool
		want string
	}{
		{"plain tags", "<b>hello</b>", true, "hello"},
		{"tag with content", "alert<script>x</script>done", true, "alertxdone"},
		{"quoted bracket kept", `say "<" ok`, true, `say "<" ok`},
		{"escaped bracket kept", `say \< ok`, true, `say \< ok`},
		{"no markup", `{"Exchange":"mimic"}`, true, `{"Exchange":"mimic"}`},
		{"first line only", "line1\nline2", false, "line1"},
		{"trimmed", "  padded  ", true, "padded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripHTMLTags(tt.in, tt.full); got != tt.want {
				t.Fatalf("StripHTMLTags(%q)=%q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestFilterLine(t *testing.T) {
	tests := []struct {
		name        string
		in          string
		filterSpace bool
		want        string
	}{
		{"escaped endings", `a\nb\tc\rd`, false, "abcd"},
		{"literal endings", "a\tb\r\nc", false, "abc"},
		{"spaces kept", "a b c", false, "a b c"},
		{"spaces dropped", "a b c", true, "abc"},
		{"hard space always dropped", "a b", false, "ab"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FilterLine(tt.in, tt.filterSpace); got != tt.want {
				t.Fatalf("FilterLine(%q,%v)=%q, want %q", tt.in, tt.filterSpace, got, tt.want)
			}
		})
	}
}

// stubQueue records appended orders in memory.
type stubQueue struct {
	records []conditional.PendingOrder
}

func (s *stubQueue) Read() ([]conditional.PendingOrder, error) { return s.records, nil }

func (s *stubQueue) AppendOne(rec *conditional.PendingOrder) error {
	s.records = append(s.records, *rec)
	return nil
}

func (s *stubQueue) RewriteWithout(resolved map[string]bool) (int, error) {
	kept := s.records[:0]
	for _, rec := range s.records {
		if !resolved[rec.Key] {
			kept = append(kept, rec)
		}
	}
	s.records = kept
	return len(kept), nil
}

func conditionalOrder() *types.Order {
	return &types.Order{
		Exchange:   "mimic",
		Account:    "main",
		Market:     "spot",
		Asset:      "EUR/USD",
		Action:     "buy",
		SellAction: "sell",
		Direction:  types.DirectionLong,
		TakeProfit: "2%",
	}
}

func TestSubmit_ConditionalWithFill(t *testing.T) {
	queue := &stubQueue{}
	svc := NewService(queue, nil)

	fill := &types.OrderDetail{ID: "fill-1", Price: "100", Amount: "2"}
	rec, err := svc.Submit(conditionalOrder(), fill, "tester")
	if err != nil {
		t.Fatalf("Submit err=%v", err)
	}
	if rec.Key == "" {
		t.Fatalf("record has no key")
	}
	if rec.Class != conditional.ClassConditional {
		t.Fatalf("class=%q, want %q", rec.Class, conditional.ClassConditional)
	}
	if rec.ID != "fill-1" {
		t.Fatalf("id=%q, want the fill's id", rec.ID)
	}
	if len(queue.records) != 1 {
		t.Fatalf("queue has %d records, want 1", len(queue.records))
	}
}

func TestSubmit_OrphanWithoutFill(t *testing.T) {
	queue := &stubQueue{}
	svc := NewService(queue, nil)

	order := conditionalOrder()
	order.ID = "order-1"
	rec, err := svc.Submit(order, nil, "tester")
	if err != nil {
		t.Fatalf("Submit err=%v", err)
	}
	if rec.Class != conditional.ClassOrphan {
		t.Fatalf("class=%q, want %q", rec.Class, conditional.ClassOrphan)
	}
	if rec.ID != "order-1" {
		t.Fatalf("id=%q, want the order's id", rec.ID)
	}
}

func TestSubmit_RejectsIncompleteScope(t *testing.T) {
	svc := NewService(&stubQueue{}, nil)

	order := conditionalOrder()
	order.Account = ""
	if _, err := svc.Submit(order, nil, "tester"); err == nil {
		t.Fatalf("Submit without account succeeded, want error")
	}
}

func TestSubmit_RejectsUnconditional(t *testing.T) {
	svc := NewService(&stubQueue{}, nil)

	order := conditionalOrder()
	order.TakeProfit = ""
	order.StopLoss = ""
	if _, err := svc.Submit(order, nil, "tester"); err != ErrNotConditional {
		t.Fatalf("Submit err=%v, want ErrNotConditional", err)
	}
}

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

func TestSubmit_DeduplicatesBursts(t *testing.T) {
	opts := startLockServer(t)
	dedupe := timedlist.New("Intake", filepath.Join(t.TempDir(), "dedupe.json"), 0, opts)
	queue := &stubQueue{}
	svc := NewService(queue, dedupe)

	if _, err := svc.Submit(conditionalOrder(), nil, "tester"); err != nil {
		t.Fatalf("first Submit err=%v", err)
	}
	if _, err := svc.Submit(conditionalOrder(), nil, "tester"); err != ErrDuplicateSignal {
		t.Fatalf("second Submit err=%v, want ErrDuplicateSignal", err)
	}
	// A different identity is not a duplicate of the first.
	if _, err := svc.Submit(conditionalOrder(), nil, "other"); err != nil {
		t.Fatalf("other identity Submit err=%v", err)
	}
	if len(queue.records) != 2 {
		t.Fatalf("queue has %d records, want 2", len(queue.records))
	}
}
