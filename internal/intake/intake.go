// Package intake accepts order signals from upstream sources, filters
// the payload, deduplicates bursts and enqueues conditional orders for
// the monitor to resolve.
package intake

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tradewire/relay/internal/conditional"
	"github.com/tradewire/relay/internal/timedlist"
	"github.com/tradewire/relay/internal/types"
	"github.com/tradewire/relay/pkg/response"
)

var (
	ErrDuplicateSignal = errors.New("duplicate signal")
	ErrNotConditional  = errors.New("order carries neither take-profit nor stop-loss")
)

// dedupeTTL is how long an identical signal is suppressed. Webhook
// sources routinely double-fire within seconds.
const dedupeTTL = 10

// Service validates and enqueues incoming orders.
type Service struct {
	queue  conditional.Repository
	dedupe *timedlist.TimedList
	logger zerolog.Logger
}

// NewService wires the intake pipeline.
func NewService(queue conditional.Repository, dedupe *timedlist.TimedList) *Service {
	return &Service{
		queue:  queue,
		dedupe: dedupe,
		logger: log.With().Str("component", "intake").Logger(),
	}
}

// Submit validates an order signal and appends it to the pending
// queue. The record's class depends on whether a fill response is
// attached: none makes it an Orphan, one makes it a Conditional.
func (s *Service) Submit(order *types.Order, resp *types.OrderDetail, identity string) (*conditional.PendingOrder, error) {
	if order.Exchange == "" || order.Account == "" || order.Asset == "" {
		return nil, fmt.Errorf("order missing exchange, account or asset")
	}
	if order.TakeProfit == "" && order.StopLoss == "" {
		return nil, ErrNotConditional
	}

	if s.dedupe != nil {
		key := identity + order.Exchange + order.Account + order.Asset + order.Action
		res, err := s.dedupe.Upsert(key, order.Asset, dedupeTTL)
		if err != nil {
			// Deduplication is advisory; a broken table must not drop
			// live signals.
			s.logger.Warn().Err(err).Msg("dedupe table unavailable")
		} else if res.Status == timedlist.StatusFound {
			return nil, ErrDuplicateSignal
		}
	}

	class := conditional.ClassOrphan
	id := order.ID
	if resp != nil {
		class = conditional.ClassConditional
		id = resp.ID
	}

	rec := &conditional.PendingOrder{
		Key:      uuid.New().String(),
		Status:   conditional.StatusOpen,
		Class:    class,
		ID:       id,
		DateTime: time.Now().UTC().Format(types.FillTimeLayout),
		Order:    *order,
		Response: resp,
	}
	if err := s.queue.AppendOne(rec); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("key", rec.Key).
		Str("class", class).
		Str("exchange", order.Exchange).
		Str("asset", order.Asset).
		Msg("order queued")
	return rec, nil
}

// submission is the intake request body.
type submission struct {
	Order    types.Order        `json:"Order"`
	Response *types.OrderDetail `json:"Response,omitempty"`
}

// GinHandlers contains the HTTP handlers for the intake endpoints.
type GinHandlers struct {
	service *Service
}

// NewGinHandlers wraps the service for gin.
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

// SubmitOrderHandler handles POST requests carrying an order signal.
// The raw body is scrubbed of HTML and control whitespace before it is
// parsed; exchange webhook payloads are not to be trusted.
func (h *GinHandlers) SubmitOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity := c.GetString("identity")

		raw, err := c.GetRawData()
		if err != nil {
			response.BadRequest(c, "unreadable body")
			return
		}

		clean := FilterLine(StripHTMLTags(string(raw), true), false)
		var sub submission
		if err := json.Unmarshal([]byte(clean), &sub); err != nil {
			response.BadRequest(c, "invalid order payload")
			return
		}

		rec, err := h.service.Submit(&sub.Order, sub.Response, identity)
		switch {
		case errors.Is(err, ErrDuplicateSignal):
			response.Conflict(c, err.Error())
		case errors.Is(err, ErrNotConditional):
			response.BadRequest(c, err.Error())
		default:
			response.Handle(c, rec, err)
		}
	}
}

// StripHTMLTags drops HTML tags from a payload. Quoted or escaped
// angle brackets are kept; they belong to the JSON, not markup. With
// full false only the first line of the cleaned text is returned.
func StripHTMLTags(text string, full bool) string {
	var b strings.Builder
	inTag := false

	for i := 0; i < len(text); i++ {
		ch := text[i]
		switch ch {
		case '<':
			if i == 0 || (text[i-1] != '\\' && text[i-1] != '\'' && text[i-1] != '"') {
				inTag = true
				continue
			}
		case '>':
			if i == len(text)-1 || (text[i+1] != '\\' && text[i+1] != '\'' && text[i+1] != '"') {
				inTag = false
				continue
			}
		}
		if !inTag {
			b.WriteByte(ch)
		}
	}

	clean := strings.TrimSpace(b.String())
	if full {
		return clean
	}
	if idx := strings.IndexByte(clean, '\n'); idx >= 0 {
		return clean[:idx]
	}
	return clean
}

// FilterLine removes escaped and literal line endings and hard spaces.
// With filterSpace set, ordinary spaces go too.
func FilterLine(s string, filterSpace bool) string {
	d := strings.NewReplacer("\\n", "", "\\t", "", "\\r", "").Replace(s)

	filter := "\t\r\n\u00a0"
	if filterSpace {
		filter = "\t\r\n \u00a0"
	}
	for _, ch := range filter {
		d = strings.ReplaceAll(d, string(ch), "")
	}
	return d
}
