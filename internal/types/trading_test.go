package types

import (
	"testing"
	"time"
)

func TestParseFillTime(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want time.Time
	}{
		{"microseconds", "2026-03-01 12:30:45.123456", time.Date(2026, 3, 1, 12, 30, 45, 123456000, time.UTC)},
		{"nanoseconds truncated", "2026-03-01 12:30:45.123456789", time.Date(2026, 3, 1, 12, 30, 45, 123456000, time.UTC)},
		{"short fraction padded", "2026-03-01 12:30:45.12", time.Date(2026, 3, 1, 12, 30, 45, 120000000, time.UTC)},
		{"no fraction", "2026-03-01 12:30:45", time.Date(2026, 3, 1, 12, 30, 45, 0, time.UTC)},
		{"trailing zulu", "2026-03-01 12:30:45.123456Z", time.Date(2026, 3, 1, 12, 30, 45, 123456000, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFillTime(tt.in)
			if err != nil {
				t.Fatalf("ParseFillTime(%q) err=%v", tt.in, err)
			}
			if !got.Equal(tt.want) {
				t.Fatalf("ParseFillTime(%q)=%v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseFillTime_Invalid(t *testing.T) {
	if _, err := ParseFillTime("yesterday-ish"); err == nil {
		t.Fatalf("ParseFillTime of garbage succeeded, want error")
	}
}

func TestOrderDetail_Floats(t *testing.T) {
	d := &OrderDetail{Price: "1.2345", Amount: "-3"}

	price, err := d.PriceFloat()
	if err != nil || price != 1.2345 {
		t.Fatalf("PriceFloat=(%v,%v), want 1.2345", price, err)
	}
	amount, err := d.AmountFloat()
	if err != nil || amount != -3 {
		t.Fatalf("AmountFloat=(%v,%v), want -3", amount, err)
	}

	bad := &OrderDetail{Price: "n/a", Amount: ""}
	if _, err := bad.PriceFloat(); err == nil {
		t.Fatalf("PriceFloat of garbage succeeded, want error")
	}
	if _, err := bad.AmountFloat(); err == nil {
		t.Fatalf("AmountFloat of empty succeeded, want error")
	}
}

func TestSubmitResult(t *testing.T) {
	ok := SubmitResult{"ID": []byte(`"abc-123"`)}
	if got := ok.OrderID(); got != "abc-123" {
		t.Fatalf("OrderID=%q, want abc-123", got)
	}

	failed := SubmitResult{"Error": []byte(`"insufficient funds"`)}
	if got := failed.OrderID(); got != "" {
		t.Fatalf("OrderID of failure=%q, want empty", got)
	}
	if got := failed.FailedReason(); got != "insufficient funds" {
		t.Fatalf("FailedReason=%q", got)
	}
	if got := (SubmitResult{}).FailedReason(); got != "unknown failure" {
		t.Fatalf("FailedReason of empty result=%q", got)
	}
}
