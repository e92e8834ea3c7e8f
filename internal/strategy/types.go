package strategy

import (
	"github.com/PiotrGNN/kraken/internal/indicators"
	"github.com/PiotrGNN/kraken/pkg/exchanges/common"
)

// Action is what a signal asks the router to do.
type Action string

const (
	ActionOpen       Action = "open"
	ActionClose      Action = "close"
	ActionUpdateStop Action = "update_stop"
	ActionWait       Action = "wait"
	ActionHold       Action = "hold"
)

// Signal reasons.
const (
	ReasonInsufficientData = "insufficient_data"
	ReasonNoEntrySignal    = "no_entry_signal"
	ReasonNoExitSignal     = "no_exit_signal"
	ReasonTrendReversal    = "trend_reversal"
	ReasonTrailingStop     = "trailing_stop_update"
	ReasonZeroSize         = "zero_position_size"
	ReasonTrendEntry       = "trend_entry"
)

// Signal is a decision emitted by a strategy. Which fields are meaningful
// depends on Action: Open uses Side, Size, EntryPrice, StopLoss and
// TakeProfit; UpdateStop uses StopLoss; the rest carry only a Reason.
type Signal struct {
	Action     Action              `json:"action"`
	Side       common.PositionSide `json:"side,omitempty"`
	Size       float64             `json:"size,omitempty"`
	EntryPrice float64             `json:"entry_price,omitempty"`
	StopLoss   float64             `json:"stop_loss,omitempty"`
	TakeProfit float64             `json:"take_profit,omitempty"`
	Reason     string              `json:"reason,omitempty"`
}

// Wait is a flat no-op signal.
func Wait(reason string) Signal { return Signal{Action: ActionWait, Reason: reason} }

// Hold is an in-position no-op signal.
func Hold(reason string) Signal { return Signal{Action: ActionHold, Reason: reason} }

// Position is the strategy's view of an open position.
type Position struct {
	Side       common.PositionSide
	Size       float64
	EntryPrice float64
	StopLoss   float64
}

// Strategy defines the interface the router drives.
type Strategy interface {
	// Name returns the human-readable name
	Name() string
	// UpdateData replaces the candle window for symbol
	UpdateData(symbol string, s indicators.Series)
	// UpdateEquity sets the account equity used for sizing
	UpdateEquity(equity float64)
	// SetPosition syncs position state; nil means flat
	SetPosition(symbol string, pos *Position)
	// GenerateSignal evaluates the latest data for symbol
	GenerateSignal(symbol string) Signal
}
