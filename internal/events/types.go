package events

import "time"

// Event enumerates high-level topics inside the trading core.
type Event string

const (
	EventOrder     Event = "order"
	EventPosition  Event = "position"
	EventEnvSwitch Event = "env_switch"
	EventFailover  Event = "failover"
	EventSignal    Event = "signal"
)

// All lists every topic.
var All = []Event{EventOrder, EventPosition, EventEnvSwitch, EventFailover, EventSignal}

// Envelope is what subscribers receive.
type Envelope struct {
	Type    Event     `json:"type"`
	Time    time.Time `json:"time"`
	Payload any       `json:"payload"`
}

// PositionChange is published when a symbol opens, changes its stop or closes.
type PositionChange struct {
	Symbol   string  `json:"symbol"`
	Action   string  `json:"action"` // opened, stop_moved, closed
	Side     string  `json:"side,omitempty"`
	Size     float64 `json:"size,omitempty"`
	Price    float64 `json:"price,omitempty"`
	StopLoss float64 `json:"stop_loss,omitempty"`
	Exchange string  `json:"exchange"`
}

// EnvSwitch is published after an environment change.
type EnvSwitch struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Drained bool   `json:"drained"`
}

// Failover is published when the active exchange changes.
type Failover struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Reason string `json:"reason"`
}

// SignalResult is published per symbol per trading tick.
type SignalResult struct {
	Symbol  string `json:"symbol"`
	Status  string `json:"status"`
	Action  string `json:"action,omitempty"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
}
