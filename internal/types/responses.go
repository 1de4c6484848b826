package types

import "encoding/json"

// SubmitResult is the raw result of handing an order to the relay's
// webhook endpoint. The connectivity layer owns its shape; this core
// only extracts the order ID and, on failure, the reason.
type SubmitResult map[string]json.RawMessage

// OrderID returns the exchange-assigned identifier of the submitted
// order, or "" when the submission did not produce one.
func (r SubmitResult) OrderID() string {
	raw, ok := r["ID"]
	if !ok {
		return ""
	}
	var id string
	if err := json.Unmarshal(raw, &id); err != nil {
		return ""
	}
	return id
}

// FailedReason returns the venue's rejection message, if any.
func (r SubmitResult) FailedReason() string {
	raw, ok := r["Error"]
	if !ok {
		return "unknown failure"
	}
	var reason string
	if err := json.Unmarshal(raw, &reason); err != nil {
		return "unknown failure"
	}
	return reason
}
