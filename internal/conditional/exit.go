package conditional

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/tradewire/relay/internal/types"
)

// Threshold names as they appear on order payloads.
const (
	ThresholdTakeProfit = "TakeProfit"
	ThresholdStopLoss   = "StopLoss"
)

// pipSize is the standard pip, a ten-thousandth of quote price.
const pipSize = 0.0001

// defaultTakeProfit closes a position missing its take-profit at a 2%
// target rather than leaving it unresolvable in the queue.
const defaultTakeProfit = "2%"

// TriggerSpec is the pair of exit prices derived from a record. It is
// never persisted; every poll re-derives it from the order and entry
// price.
type TriggerSpec struct {
	TakeProfit float64
	StopLoss   float64
	HasStop    bool
}

// CalculatePriceExit resolves one threshold value. Three encodings are
// accepted: a percentage of entry price ("2%"), a pip offset ("15p"),
// or an absolute price. Take-profit moves with the trade, stop-loss
// against it; both invert for shorts.
func CalculatePriceExit(spec, which, direction string, entry float64) (float64, error) {
	s := strings.TrimSpace(spec)
	if s == "" {
		return 0, fmt.Errorf("empty %s specification", which)
	}

	// Sign of the offset relative to entry: +1 moves above, -1 below.
	sign := 1.0
	if which == ThresholdStopLoss {
		sign = -1
	}
	if direction == types.DirectionShort {
		sign = -sign
	}

	switch {
	case strings.Contains(s, "%"):
		pct, err := strconv.ParseFloat(strings.TrimSpace(strings.ReplaceAll(s, "%", "")), 64)
		if err != nil {
			return 0, fmt.Errorf("%s percentage %q: %w", which, spec, err)
		}
		return entry + sign*(pct/100)*entry, nil
	case strings.Contains(strings.ToLower(s), "p"):
		pips, err := strconv.ParseFloat(strings.TrimSpace(strings.ReplaceAll(strings.ToLower(s), "p", "")), 64)
		if err != nil {
			return 0, fmt.Errorf("%s pips %q: %w", which, spec, err)
		}
		return entry + sign*pips*pipSize, nil
	default:
		val, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("%s price %q: %w", which, spec, err)
		}
		return val, nil
	}
}

// DeriveTriggerSpec computes the exit prices for a record's order. A
// missing take-profit falls back to the default target; the stop-loss
// is optional.
func DeriveTriggerSpec(order *types.Order, entry float64) (TriggerSpec, error) {
	direction := strings.ToLower(order.Direction)

	tpSpec := order.TakeProfit
	if tpSpec == "" {
		tpSpec = defaultTakeProfit
	}
	tp, err := CalculatePriceExit(tpSpec, ThresholdTakeProfit, direction, entry)
	if err != nil {
		return TriggerSpec{}, err
	}

	out := TriggerSpec{TakeProfit: roundTo(tp, 5)}
	if order.StopLoss != "" {
		sl, err := CalculatePriceExit(order.StopLoss, ThresholdStopLoss, direction, entry)
		if err != nil {
			return TriggerSpec{}, err
		}
		out.StopLoss = roundTo(sl, 5)
		out.HasStop = true
	}
	return out, nil
}

// roundTo rounds half away from zero to the given number of fractional
// digits. Trigger prices use 5, amounts and P/L use 8.
func roundTo(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}
