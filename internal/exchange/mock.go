package exchange

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/tradewire/relay/internal/minimum"
	"github.com/tradewire/relay/internal/types"
)

// Mock is a simulated venue used by the simulation binary and the
// engine tests. Latency and failure characteristics are configurable;
// quotes and balances are set by the harness.
type Mock struct {
	Name        string
	MinLatency  int // milliseconds
	MaxLatency  int
	SuccessRate float64 // 0-1, probability of successful execution

	// DataDir, when set, enables the per-pair minimum-order-size
	// override file for this venue.
	DataDir string

	mu       sync.Mutex
	tickers  map[string]types.Ticker
	balances map[string]float64
	orders   map[string]types.OrderDetail
}

// NewMock creates a venue that always succeeds instantly. Tests tune
// the failure characteristics directly.
func NewMock(name string) *Mock {
	return &Mock{
		Name:        name,
		SuccessRate: 1.0,
		tickers:     make(map[string]types.Ticker),
		balances:    make(map[string]float64),
		orders:      make(map[string]types.OrderDetail),
	}
}

// SetTicker installs the quote returned for symbol.
func (m *Mock) SetTicker(symbol string, bid, ask float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tickers[symbol] = types.Ticker{Bid: bid, Ask: ask, Spread: ask - bid, Time: time.Now()}
}

// SetBalance installs the available balance for a base asset.
func (m *Mock) SetBalance(base string, amount float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[strings.ToUpper(base)] = amount
}

func (m *Mock) GetTicker(symbol string) (*types.Ticker, error) {
	m.simulateLatency()
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickers[symbol]
	if !ok {
		return nil, fmt.Errorf("no market data for %s on %s", symbol, m.Name)
	}
	return &t, nil
}

func (m *Mock) GetBalance(base string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[strings.ToUpper(base)], nil
}

// BaseAsset treats "BASE/QUOTE" symbols as the tradable universe.
func (m *Mock) BaseAsset(symbol string) (string, error) {
	base, _, ok := strings.Cut(symbol, "/")
	if !ok {
		return "", fmt.Errorf("%s is not a tradable instrument on %s", symbol, m.Name)
	}
	return strings.ToUpper(base), nil
}

func (m *Mock) PlaceOrder(pair, orderType, side string, amount, price float64) (string, error) {
	m.simulateLatency()
	if rand.Float64() > m.SuccessRate {
		log.Warn().
			Str("exchange", m.Name).
			Str("pair", pair).
			Float64("success_rate", m.SuccessRate).
			Msg("order execution failed due to success rate threshold")
		return "", fmt.Errorf("execution failed on exchange %s", m.Name)
	}

	id := uuid.New().String()
	detail := types.OrderDetail{
		ID:       id,
		Price:    strconv.FormatFloat(price, 'f', -1, 64),
		Amount:   strconv.FormatFloat(amount, 'f', -1, 64),
		DateTime: time.Now().UTC().Format(types.FillTimeLayout),
	}

	m.mu.Lock()
	m.orders[id] = detail
	m.mu.Unlock()

	log.Info().
		Str("exchange", m.Name).
		Str("order_id", id).
		Str("pair", pair).
		Str("side", side).
		Float64("amount", amount).
		Float64("price", price).
		Msg("order executed")

	return id, nil
}

func (m *Mock) GetOrderDetails(id, symbol string) (*types.OrderDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	detail, ok := m.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s not found on %s", id, m.Name)
	}
	return &detail, nil
}

// SendWebhook runs the order through PlaceOrder the way the relay's
// intake pipeline would, reporting either the new order's ID or the
// rejection reason.
func (m *Mock) SendWebhook(order *types.Order) (types.SubmitResult, error) {
	price, err := strconv.ParseFloat(order.Price, 64)
	if err != nil {
		return submitFailure(fmt.Sprintf("bad price %q", order.Price)), nil
	}
	amount, err := strconv.ParseFloat(order.Base, 64)
	if err != nil {
		return submitFailure(fmt.Sprintf("bad amount %q", order.Base)), nil
	}

	if m.DataDir != "" {
		min, err := minimum.Load(m.DataDir, m.Name, order.Asset)
		if err != nil {
			return submitFailure(err.Error()), nil
		}
		if min > 0 && math.Abs(amount) < min {
			return submitFailure(fmt.Sprintf("amount %s below minimum %s for %s",
				strconv.FormatFloat(math.Abs(amount), 'f', -1, 64),
				strconv.FormatFloat(min, 'f', -1, 64),
				order.Asset)), nil
		}
	}

	orderType := order.OrderType
	if orderType == "" {
		orderType = "market"
	}

	id, err := m.PlaceOrder(order.Asset, orderType, order.Action, amount, price)
	if err != nil {
		return submitFailure(err.Error()), nil
	}
	raw, _ := json.Marshal(id)
	return types.SubmitResult{"ID": raw}, nil
}

func submitFailure(reason string) types.SubmitResult {
	raw, _ := json.Marshal(reason)
	return types.SubmitResult{"Error": raw}
}

func (m *Mock) simulateLatency() {
	if m.MaxLatency <= m.MinLatency {
		return
	}
	latency := rand.Intn(m.MaxLatency-m.MinLatency+1) + m.MinLatency
	time.Sleep(time.Duration(latency) * time.Millisecond)
}
