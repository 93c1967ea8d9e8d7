package events

// Event enumerates topics published by the vault core.
type Event string

const (
	EventPinState       Event = "pin.state"
	EventSessionStarted Event = "session.started"
	EventSessionEnded   Event = "session.ended"
	EventAccountAdded   Event = "account.added"
	EventAccountRemoved Event = "account.removed"
	EventTradeSubmitted Event = "trade.submitted"
	EventOrderPlaced    Event = "order.placed"
	EventOrderFailed    Event = "order.failed"
	EventVaultReset     Event = "vault.reset"
)

// PinStatePayload accompanies EventPinState.
type PinStatePayload struct {
	State string `json:"state"`
}

// AccountPayload accompanies account events. No secrets.
type AccountPayload struct {
	AccountID  string `json:"accountId"`
	ExchangeID string `json:"exchangeId"`
	Name       string `json:"name,omitempty"`
}

// OrderPayload accompanies order events.
type OrderPayload struct {
	TradeID    string `json:"tradeId"`
	AccountID  string `json:"accountId"`
	ExchangeID string `json:"exchangeId"`
	Symbol     string `json:"symbol"`
	Role       string `json:"role"`
	OrderID    string `json:"orderId,omitempty"`
	Error      string `json:"error,omitempty"`
}

// TradePayload accompanies EventTradeSubmitted.
type TradePayload struct {
	TradeID    string `json:"tradeId"`
	AccountID  string `json:"accountId"`
	ExchangeID string `json:"exchangeId"`
	Symbol     string `json:"symbol"`
	Direction  string `json:"direction"`
	Placed     int    `json:"placed"`
	Failed     int    `json:"failed"`
}
