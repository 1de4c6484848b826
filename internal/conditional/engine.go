package conditional

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tradewire/relay/internal/exchange"
	"github.com/tradewire/relay/internal/ledger"
	"github.com/tradewire/relay/internal/metrics"
	"github.com/tradewire/relay/internal/types"
)

// Engine evaluates pending records against live quotes and drives the
// exit of triggered positions. It holds no state of its own; the queue
// owns the records and an external scheduler owns the polling.
type Engine struct {
	client exchange.Client
	ledger *ledger.Writer
	logger zerolog.Logger
}

// NewEngine wires the engine to its collaborators.
func NewEngine(client exchange.Client, ledgerW *ledger.Writer) *Engine {
	return &Engine{
		client: client,
		ledger: ledgerW,
		logger: log.With().Str("component", "conditional").Logger(),
	}
}

// Process runs one evaluation step for a record. Unexpected failures
// are isolated here: they are logged with the record's key and the
// record stays Waiting, so one malformed or failing record can never
// block the rest of the queue. Only the engine's deliberate outcomes
// resolve a record.
func (e *Engine) Process(rec *PendingOrder) Outcome {
	outcome, err := e.evaluate(rec)
	if err != nil {
		e.logger.Error().Err(err).Str("key", rec.Key).Str("id", rec.ID).Msg("evaluation failed, record kept for retry")
		return Waiting
	}
	return outcome
}

func (e *Engine) evaluate(rec *PendingOrder) (Outcome, error) {
	// A record without its entry fill has no trigger to evaluate yet.
	// It stays queued quietly until a fill is attached; flagging it on
	// every poll would bury real failures in noise.
	if rec.Class == ClassOrphan || rec.Response == nil {
		e.logger.Debug().Str("key", rec.Key).Str("id", rec.ID).Msg("record has no fill yet, skipping")
		return Waiting, nil
	}

	entry, err := rec.Response.PriceFloat()
	if err != nil {
		return Waiting, err
	}
	amount, err := rec.Response.AmountFloat()
	if err != nil {
		return Waiting, err
	}
	entryTime, err := rec.Response.FillTime()
	if err != nil {
		return Waiting, err
	}

	direction := strings.ToLower(rec.Order.Direction)
	if direction != types.DirectionLong && direction != types.DirectionShort {
		return Waiting, fmt.Errorf("record %s has direction %q", rec.ID, rec.Order.Direction)
	}

	ticker, err := e.client.GetTicker(rec.Order.Asset)
	if err != nil {
		return Waiting, err
	}

	spec, err := DeriveTriggerSpec(&rec.Order, entry)
	if err != nil {
		return Waiting, err
	}

	// Either threshold independently triggers; attribution below
	// decides which one the realized P/L is booked against.
	var tpHit, slHit bool
	var strike float64
	if direction == types.DirectionLong {
		tpHit = ticker.Bid > spec.TakeProfit
		slHit = spec.HasStop && ticker.Bid < spec.StopLoss
		strike = ticker.Bid
	} else {
		tpHit = ticker.Ask < spec.TakeProfit
		slHit = spec.HasStop && ticker.Ask > spec.StopLoss
		strike = ticker.Ask
	}

	e.logger.Debug().
		Str("id", rec.ID).
		Str("direction", direction).
		Float64("entry", entry).
		Float64("bid", ticker.Bid).
		Float64("ask", ticker.Ask).
		Float64("take_profit", spec.TakeProfit).
		Float64("stop_loss", spec.StopLoss).
		Msg("trigger check")

	if !tpHit && !slHit {
		return Waiting, nil
	}
	// Same attribution rule as the P/L booking below: when both
	// thresholds fired in one gap, the stop-loss owns the event.
	if slHit {
		metrics.TriggerFired("stop_loss")
	} else {
		metrics.TriggerFired("take_profit")
	}

	base, err := e.client.BaseAsset(rec.Order.Asset)
	if err != nil {
		return Waiting, err
	}
	balance, err := e.client.GetBalance(base)
	if err != nil {
		return Waiting, err
	}

	// Insufficient funds to close: the position is abandoned from this
	// engine's perspective, operator intervention implied.
	if math.Abs(amount) > math.Abs(balance) {
		e.logger.Warn().
			Str("id", rec.ID).
			Float64("amount", roundTo(amount, 8)).
			Float64("balance", roundTo(balance, 8)).
			Str("base", base).
			Msg("amount exceeds balance, purging record")
		return Delete, nil
	}

	exit := types.Order{
		Exchange:  rec.Order.Exchange,
		Account:   rec.Order.Account,
		Market:    rec.Order.Market,
		Asset:     rec.Order.Asset,
		Action:    rec.Order.SellAction,
		Price:     strconv.FormatFloat(strike, 'f', -1, 64),
		Base:      strconv.FormatFloat(amount, 'f', -1, 64),
		OrderType: rec.Order.OrderType,
		Identity:  rec.Order.Identity,
	}
	if exit.OrderType == "" {
		exit.OrderType = "market"
	}

	result, err := e.client.SendWebhook(&exit)
	if err != nil {
		return Waiting, err
	}
	oid := result.OrderID()
	if oid == "" {
		// The record is abandoned rather than retried; the failure
		// reason is the operator's cue to close the position by hand.
		e.logger.Error().
			Str("id", rec.ID).
			Str("reason", result.FailedReason()).
			Msg("exit order failed")
		return Delete, nil
	}
	exit.ID = oid

	detail, err := e.client.GetOrderDetails(oid, rec.Order.Asset)
	if err != nil {
		return Waiting, err
	}
	exitPrice, err := detail.PriceFloat()
	if err != nil {
		return Waiting, err
	}
	exitTime, err := detail.FillTime()
	if err != nil {
		return Waiting, err
	}

	// P/L is booked against whichever threshold fired; when both have,
	// the stop-loss attribution wins.
	size := math.Abs(amount)
	var rpl float64
	if direction == types.DirectionLong {
		if tpHit {
			rpl = roundTo(size*exitPrice-size*entry, 8)
		}
		if slHit {
			rpl = roundTo(size*entry-size*exitPrice, 8)
		}
	} else {
		if tpHit {
			rpl = roundTo(size*entry-size*exitPrice, 8)
		}
		if slHit {
			rpl = roundTo(size*exitPrice-size*entry, 8)
		}
	}

	verdict := "Prft"
	if rpl < 0 {
		verdict = "Loss"
	}
	e.logger.Info().
		Str("exit_id", oid).
		Str("entry_id", rec.ID).
		Str("verdict", verdict).
		Str("direction", direction).
		Float64("amount", roundTo(amount, 8)).
		Float64("entry", roundTo(entry, 8)).
		Float64("exit", roundTo(exitPrice, 8)).
		Float64("rpl", rpl).
		Dur("held", exitTime.Sub(entryTime)).
		Msg("position closed")

	if err := e.ledger.Append(&exit, detail); err != nil {
		return Waiting, err
	}
	return Delete, nil
}
