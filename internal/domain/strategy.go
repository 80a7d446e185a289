package domain

import (
	"fmt"
	"time"
)

// StrategyType identifies which exit strategy is attached to an entry order.
// It is immutable once the strategy record is created.
type StrategyType string

const (
	StrategyBracket          StrategyType = "bracket"
	StrategyProfitTarget     StrategyType = "profit_target"
	StrategyConfirmationStop StrategyType = "confirmation_stop"
	StrategyTrailingStop     StrategyType = "trailing_stop"
)

// RequiresTrigger reports whether the strategy needs price confirmation
// after the fill before an exit order is submitted.
func (t StrategyType) RequiresTrigger() bool {
	return t == StrategyConfirmationStop || t == StrategyTrailingStop
}

// StrategyStatus represents the lifecycle state of a strategy record.
type StrategyStatus string

const (
	StatusWaitingFill    StrategyStatus = "waiting_fill"
	StatusWaitingTrigger StrategyStatus = "waiting_trigger"
	StatusComplete       StrategyStatus = "complete"
	StatusTimeout        StrategyStatus = "timeout"
	StatusError          StrategyStatus = "error"
)

// IsTerminal reports whether no further transition is allowed out of the status.
func (s StrategyStatus) IsTerminal() bool {
	switch s {
	case StatusComplete, StatusTimeout, StatusError:
		return true
	}
	return false
}

// CanTransitionTo reports whether moving from s to next follows the state
// machine: waiting_fill -> {waiting_trigger, complete, timeout, error},
// waiting_trigger -> {complete, timeout, error}.
func (s StrategyStatus) CanTransitionTo(next StrategyStatus) bool {
	switch s {
	case StatusWaitingFill:
		return next == StatusWaitingTrigger || next.IsTerminal()
	case StatusWaitingTrigger:
		return next.IsTerminal()
	default:
		return false
	}
}

// OffsetType selects how an offset value is applied to a reference price.
type OffsetType string

const (
	OffsetDollar  OffsetType = "dollar"
	OffsetPercent OffsetType = "percent"
)

func (o OffsetType) valid() bool {
	return o == OffsetDollar || o == OffsetPercent
}

// Default timeouts, in seconds, applied when the caller leaves them unset.
const (
	DefaultFillTimeout    = 15 * time.Second
	DefaultTriggerTimeout = 300 * time.Second
)

// StrategyConfig holds the strategy-specific offsets and timeouts supplied
// when the entry order is placed. Which fields are consulted depends on the
// strategy type:
//   - profit_target: ProfitOffsetType/ProfitOffset
//   - bracket: TakeProfitType/TakeProfitOffset and StopLossType/StopLossOffset
//   - confirmation_stop: TriggerType/TriggerOffset and StopType/StopOffset
//   - trailing_stop: TriggerType/TriggerOffset and TrailType/TrailAmount
type StrategyConfig struct {
	ProfitOffsetType OffsetType `json:"profit_offset_type,omitempty"`
	ProfitOffset     float64    `json:"profit_offset,omitempty"`

	TakeProfitType   OffsetType `json:"tp_type,omitempty"`
	TakeProfitOffset float64    `json:"tp_offset,omitempty"`
	StopLossType     OffsetType `json:"sl_type,omitempty"`
	StopLossOffset   float64    `json:"sl_offset,omitempty"`

	TriggerType   OffsetType `json:"trigger_type,omitempty"`
	TriggerOffset float64    `json:"trigger_offset,omitempty"`
	StopType      OffsetType `json:"stop_type,omitempty"`
	StopOffset    float64    `json:"stop_offset,omitempty"`

	TrailType   OffsetType `json:"trail_type,omitempty"`
	TrailAmount float64    `json:"trail_amount,omitempty"`

	FillTimeout    time.Duration `json:"fill_timeout"`
	TriggerTimeout time.Duration `json:"trigger_timeout"`
}

// Validate checks the offsets and timeouts required by the given strategy
// type and applies defaults for unset timeouts. It must be called before a
// record is created; a failure here means no monitor is ever spawned.
func (c *StrategyConfig) Validate(st StrategyType) error {
	check := func(name string, typ OffsetType, value float64) error {
		if !typ.valid() {
			return fmt.Errorf("%s offset type must be %q or %q, got %q", name, OffsetDollar, OffsetPercent, typ)
		}
		if value <= 0 {
			return fmt.Errorf("%s offset must be positive, got %v", name, value)
		}
		return nil
	}

	switch st {
	case StrategyProfitTarget:
		if err := check("profit", c.ProfitOffsetType, c.ProfitOffset); err != nil {
			return err
		}
	case StrategyBracket:
		if err := check("take-profit", c.TakeProfitType, c.TakeProfitOffset); err != nil {
			return err
		}
		if err := check("stop-loss", c.StopLossType, c.StopLossOffset); err != nil {
			return err
		}
	case StrategyConfirmationStop:
		if err := check("trigger", c.TriggerType, c.TriggerOffset); err != nil {
			return err
		}
		if err := check("stop", c.StopType, c.StopOffset); err != nil {
			return err
		}
	case StrategyTrailingStop:
		if err := check("trigger", c.TriggerType, c.TriggerOffset); err != nil {
			return err
		}
		if err := check("trail", c.TrailType, c.TrailAmount); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown strategy type %q", st)
	}

	if c.FillTimeout < 0 {
		return fmt.Errorf("fill timeout cannot be negative, got %v", c.FillTimeout)
	}
	if c.TriggerTimeout < 0 {
		return fmt.Errorf("trigger timeout cannot be negative, got %v", c.TriggerTimeout)
	}
	if c.FillTimeout == 0 {
		c.FillTimeout = DefaultFillTimeout
	}
	if c.TriggerTimeout == 0 {
		c.TriggerTimeout = DefaultTriggerTimeout
	}
	return nil
}

// StrategyRecord is the durable entity tracking one entry order and its
// attached exit strategy. It is keyed by the brokerage-assigned entry order
// ID and mutated only by the engine's monitors.
type StrategyRecord struct {
	OrderID      string         `json:"order_id"`
	Symbol       string         `json:"symbol"`
	Side         OrderSide      `json:"side"`
	Quantity     float64        `json:"quantity"`
	StrategyType StrategyType   `json:"strategy_type"`
	Config       StrategyConfig `json:"config"`
	Status       StrategyStatus `json:"status"`

	// FillPrice is the brokerage-reported average fill price, set at most
	// once, on the first observed fill.
	FillPrice *float64 `json:"fill_price,omitempty"`
	// TriggerPrice is derived from FillPrice and the config at fill time
	// and immutable afterwards.
	TriggerPrice *float64 `json:"trigger_price,omitempty"`
	// Triggered records that the trigger condition was observed, even when
	// the exit submission that followed it failed.
	Triggered bool `json:"triggered,omitempty"`
	// ExitOrderIDs lists the brokerage IDs of exit orders placed for this
	// record, in submission order.
	ExitOrderIDs []string `json:"exit_order_ids,omitempty"`
	// LastError holds the last-seen error detail for diagnostics.
	LastError string `json:"last_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewStrategyRecord builds a waiting_fill record for a freshly submitted
// entry order. The config must already be validated.
func NewStrategyRecord(orderID, symbol string, side OrderSide, qty float64, st StrategyType, cfg StrategyConfig) *StrategyRecord {
	now := time.Now().UTC()
	return &StrategyRecord{
		OrderID:      orderID,
		Symbol:       symbol,
		Side:         side,
		Quantity:     qty,
		StrategyType: st,
		Config:       cfg,
		Status:       StatusWaitingFill,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Clone returns a deep copy of the record. Monitors mutate a clone and
// commit it through the store so a lost write never corrupts their view.
func (r *StrategyRecord) Clone() *StrategyRecord {
	out := *r
	if r.FillPrice != nil {
		p := *r.FillPrice
		out.FillPrice = &p
	}
	if r.TriggerPrice != nil {
		p := *r.TriggerPrice
		out.TriggerPrice = &p
	}
	if r.ExitOrderIDs != nil {
		out.ExitOrderIDs = append([]string(nil), r.ExitOrderIDs...)
	}
	return &out
}

// Touch bumps the updated-at timestamp. Call it on every field mutation.
func (r *StrategyRecord) Touch() {
	r.UpdatedAt = time.Now().UTC()
}

// SetFillPrice records the fill price if it has not been set yet.
func (r *StrategyRecord) SetFillPrice(price float64) {
	if r.FillPrice != nil {
		return
	}
	p := price
	r.FillPrice = &p
	r.Touch()
}

// SetTriggerPrice records the trigger price if it has not been set yet.
func (r *StrategyRecord) SetTriggerPrice(price float64) {
	if r.TriggerPrice != nil {
		return
	}
	p := price
	r.TriggerPrice = &p
	r.Touch()
}
