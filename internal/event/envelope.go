// Package event defines the commands the engine consumes and the envelope
// written to the event log for each of them.
package event

import (
	"github.com/google/uuid"
)

// EventType discriminator for command payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeCreateMarket
	EventTypeApplyMarketConfig
	EventTypeExternalDeposit
	EventTypeExternalWithdrawal
	EventTypeDeposit
	EventTypeWithdraw
	EventTypeCreateOrder
	EventTypeUpdateOrder
	EventTypeCancelOrder
	EventTypeExecuteOrder
	EventTypeFreezeOrder
	EventTypeLiquidate
	EventTypeUpdateAdlState
	EventTypeExecuteAdl
	EventTypeClaimFunding
	EventTypeClaimCollateral
	EventTypeClaimAffiliate
	EventTypeClaimFees
)

var eventTypeNames = map[EventType]string{
	EventTypeCreateMarket:       "CreateMarket",
	EventTypeApplyMarketConfig:  "ApplyMarketConfig",
	EventTypeExternalDeposit:    "ExternalDeposit",
	EventTypeExternalWithdrawal: "ExternalWithdrawal",
	EventTypeDeposit:            "Deposit",
	EventTypeWithdraw:           "Withdraw",
	EventTypeCreateOrder:        "CreateOrder",
	EventTypeUpdateOrder:        "UpdateOrder",
	EventTypeCancelOrder:        "CancelOrder",
	EventTypeExecuteOrder:       "ExecuteOrder",
	EventTypeFreezeOrder:        "FreezeOrder",
	EventTypeLiquidate:          "Liquidate",
	EventTypeUpdateAdlState:     "UpdateAdlState",
	EventTypeExecuteAdl:         "ExecuteAdl",
	EventTypeClaimFunding:       "ClaimFunding",
	EventTypeClaimCollateral:    "ClaimCollateral",
	EventTypeClaimAffiliate:     "ClaimAffiliate",
	EventTypeClaimFees:          "ClaimFees",
}

func (et EventType) String() string {
	if n, ok := eventTypeNames[et]; ok {
		return n
	}
	return "Unknown"
}

// ParseEventType maps a wire name such as "ExecuteOrder" to its EventType.
func ParseEventType(s string) (EventType, bool) {
	for t, n := range eventTypeNames {
		if n == s {
			return t, true
		}
	}
	return EventTypeUnknown, false
}

// Status records whether a command changed state.
type Status int32

const (
	StatusApplied Status = iota
	// StatusRejected commands are logged with their error and leave state
	// untouched.
	StatusRejected
)

func (s Status) String() string {
	if s == StatusRejected {
		return "rejected"
	}
	return "applied"
}

// EventEnvelope wraps every command in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	IdempotencyKey string
	EventType      EventType

	// Market context (nil for global commands)
	MarketID *string

	Source         string
	SourceSequence int64
	Caller         string
	Block          uint64
	Timestamp      uint64

	Status Status
	Error  string

	// JSON-encoded command
	Payload []byte
	// JSON-encoded result of an applied command
	Result []byte

	// SHA-256 chain hash AFTER applying this command
	StateHash [32]byte
	PrevHash  [32]byte
}

// Header is carried by every command. Source and Sequence order commands per
// upstream producer; Block and Timestamp are the chain context the command
// executes in.
type Header struct {
	CommandID uuid.UUID `json:"command_id"`
	Source    string    `json:"source"`
	Sequence  int64     `json:"sequence"`
	Block     uint64    `json:"block"`
	Timestamp uint64    `json:"timestamp"`
	Caller    string    `json:"caller"`
}

func (h Header) IdempotencyKey() string { return h.CommandID.String() }
func (h Header) SourceSequence() int64  { return h.Sequence }
func (h Header) Meta() Header           { return h }

// Event is the interface all commands implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	EventType() EventType

	// MarketID returns the market context (nil for global commands)
	MarketID() *string

	// SourceSequence returns upstream ordering key
	SourceSequence() int64

	Meta() Header
}

func marketRef(m string) *string {
	if m == "" {
		return nil
	}
	return &m
}

// Outcome is a notification published alongside an envelope: order fates,
// liquidations and ADL transitions that downstream consumers react to.
type Outcome struct {
	Kind   string `json:"kind"`
	Key    string `json:"key,omitempty"`
	Market string `json:"market,omitempty"`
	Reason string `json:"reason,omitempty"`
}

const (
	OutcomeOrderCreated       = "order_created"
	OutcomeOrderUpdated       = "order_updated"
	OutcomeOrderExecuted      = "order_executed"
	OutcomeOrderCancelled     = "order_cancelled"
	OutcomeOrderFrozen        = "order_frozen"
	OutcomePositionLiquidated = "position_liquidated"
	OutcomeAdlEnabled         = "adl_enabled"
	OutcomeAdlDisabled        = "adl_disabled"
	OutcomeAdlExecuted        = "adl_executed"
)
