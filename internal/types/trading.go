package types

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Trade directions as carried on relay order payloads.
const (
	DirectionLong  = "long"
	DirectionShort = "short"
)

// Order is a relay order description. Field names match the JSON keys
// used on the wire and in the queue/ledger files, so records written by
// older intake processes remain readable.
type Order struct {
	ID         string `json:"ID,omitempty"`
	Exchange   string `json:"Exchange"`
	Account    string `json:"Account"`
	Market     string `json:"Market"`
	Asset      string `json:"Asset"`
	Action     string `json:"Action,omitempty"`
	SellAction string `json:"SellAction,omitempty"`
	Direction  string `json:"Direction,omitempty"`
	TakeProfit string `json:"TakeProfit,omitempty"`
	StopLoss   string `json:"StopLoss,omitempty"`
	OrderType  string `json:"OrderType,omitempty"`
	Price      string `json:"Price,omitempty"`
	Base       string `json:"Base,omitempty"`
	Identity   string `json:"Identity,omitempty"`
}

// OrderDetail is the fill detail of a placed order as reported by the
// exchange connectivity layer.
type OrderDetail struct {
	ID       string `json:"ID"`
	Price    string `json:"Price"`
	Amount   string `json:"Amount"`
	DateTime string `json:"DateTime"`
}

// Ticker is a point-in-time bid/ask quote.
type Ticker struct {
	Bid    float64   `json:"Bid"`
	Ask    float64   `json:"Ask"`
	Spread float64   `json:"Spread"`
	Time   time.Time `json:"Time"`
}

// FillTimeLayout is the timestamp format used in order details and
// ledger entries.
const FillTimeLayout = "2006-01-02 15:04:05.000000"

// ParseFillTime parses an order detail timestamp, tolerating fractional
// seconds longer than microseconds.
func ParseFillTime(s string) (time.Time, error) {
	whole, frac, ok := strings.Cut(s, ".")
	if !ok {
		frac = "000000"
	}
	frac = strings.TrimSuffix(frac, "Z")
	if len(frac) > 6 {
		frac = frac[:6]
	}
	for len(frac) < 6 {
		frac += "0"
	}
	return time.Parse(FillTimeLayout, whole+"."+frac)
}

// PriceFloat parses the detail's fill price.
func (d *OrderDetail) PriceFloat() (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(d.Price), 64)
	if err != nil {
		return 0, fmt.Errorf("order detail price %q: %w", d.Price, err)
	}
	return v, nil
}

// AmountFloat parses the detail's fill amount. Short positions carry
// negative amounts.
func (d *OrderDetail) AmountFloat() (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(d.Amount), 64)
	if err != nil {
		return 0, fmt.Errorf("order detail amount %q: %w", d.Amount, err)
	}
	return v, nil
}

// FillTime parses the detail's fill timestamp.
func (d *OrderDetail) FillTime() (time.Time, error) {
	t, err := ParseFillTime(d.DateTime)
	if err != nil {
		return time.Time{}, fmt.Errorf("order detail timestamp %q: %w", d.DateTime, err)
	}
	return t, nil
}
