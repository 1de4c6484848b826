package conditional

import (
	"github.com/tradewire/relay/internal/types"
)

// Record classes. An Orphan has no fill response attached yet; a
// Conditional carries the fill of the order that created the pending
// take-profit/stop-loss obligation.
const (
	ClassOrphan      = "Orphan"
	ClassConditional = "Conditional"
)

// StatusOpen is the only queue status in use; the field is reserved
// for future lifecycle values.
const StatusOpen = "Open"

// Outcome of one evaluation step.
type Outcome string

const (
	// Waiting means the trigger has not fired; the record stays queued
	// and is retried on the next poll.
	Waiting Outcome = "Waiting"

	// Delete means the record is resolved: triggered and filled,
	// triggered but rejected, or unfundable. It must be removed from
	// the queue.
	Delete Outcome = "Delete"
)

// PendingOrder is one conditional order awaiting resolution. Records
// are never mutated in place: deletion and re-insertion model any
// update, so a half-written record can only ever be a torn line, never
// a torn field.
type PendingOrder struct {
	Key      string             `json:"Key"`
	Status   string             `json:"Status"`
	Class    string             `json:"Class"`
	ID       string             `json:"ID"`
	DateTime string             `json:"DateTime"`
	Order    types.Order        `json:"Order"`
	Response *types.OrderDetail `json:"Response,omitempty"`
}
