package channel

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// ==============================
// Subscriptions
// ==============================

// Kind names a server-side channel.
type Kind string

const (
	KindOrderUpdates Kind = "order_updates"
	KindPoolState    Kind = "pool_state"
	KindOraclePrices Kind = "oracle_prices"
	KindStats        Kind = "stats"
)

// Subscription is a (channel kind, optional scope id) pair.
type Subscription struct {
	Channel  Kind   `json:"channel"`
	OrderID  string `json:"order_id,omitempty"`
	FaucetID string `json:"faucet_id,omitempty"`
	OracleID string `json:"oracle_id,omitempty"`
}

func OrderUpdates(orderID string) Subscription {
	return Subscription{Channel: KindOrderUpdates, OrderID: orderID}
}

func PoolState(faucetID string) Subscription {
	return Subscription{Channel: KindPoolState, FaucetID: faucetID}
}

func OraclePrices(oracleID string) Subscription {
	return Subscription{Channel: KindOraclePrices, OracleID: oracleID}
}

func Stats() Subscription { return Subscription{Channel: KindStats} }

// Scope returns the id that scopes this kind of channel; empty means "all".
func (s Subscription) Scope() string {
	switch s.Channel {
	case KindOrderUpdates:
		return s.OrderID
	case KindPoolState:
		return s.FaucetID
	case KindOraclePrices:
		return s.OracleID
	}
	return ""
}

// Canonical drops scope fields that do not belong to the channel kind.
func (s Subscription) Canonical() Subscription {
	out := Subscription{Channel: s.Channel}
	switch s.Channel {
	case KindOrderUpdates:
		out.OrderID = s.OrderID
	case KindPoolState:
		out.FaucetID = s.FaucetID
	case KindOraclePrices:
		out.OracleID = s.OracleID
	}
	return out
}

// Key is the identity used to deduplicate subscriptions.
func (s Subscription) Key() string {
	return string(s.Channel) + "|" + s.Scope()
}

// ==============================
// Client -> Server
// ==============================

type ClientMessageType string

const (
	ClientSubscribe   ClientMessageType = "Subscribe"
	ClientUnsubscribe ClientMessageType = "Unsubscribe"
	ClientPing        ClientMessageType = "Ping"
)

type ClientMessage struct {
	Type     ClientMessageType `json:"type"`
	Channels []Subscription    `json:"channels,omitempty"`
}

// ==============================
// Server -> Client
// ==============================

type MessageType string

const (
	TypeSubscribed        MessageType = "Subscribed"
	TypeUnsubscribed      MessageType = "Unsubscribed"
	TypeOrderUpdate       MessageType = "OrderUpdate"
	TypePoolStateUpdate   MessageType = "PoolStateUpdate"
	TypeOraclePriceUpdate MessageType = "OraclePriceUpdate"
	TypeStatsUpdate       MessageType = "StatsUpdate"
	TypePong              MessageType = "Pong"
	TypeError             MessageType = "Error"
)

// Message is any decoded server event.
type Message interface {
	MessageType() MessageType
}

// OrderStatus is the lifecycle state of an order, keyed by note id.
type OrderStatus string

const (
	StatusCreated  OrderStatus = "created"
	StatusPending  OrderStatus = "pending"
	StatusMatching OrderStatus = "matching"
	StatusExecuted OrderStatus = "executed"
	StatusFailed   OrderStatus = "failed"
	StatusExpired  OrderStatus = "expired"
)

// Rank orders statuses along created -> pending -> matching -> terminal.
func (s OrderStatus) Rank() int {
	switch s {
	case StatusCreated:
		return 0
	case StatusPending:
		return 1
	case StatusMatching:
		return 2
	case StatusExecuted, StatusFailed, StatusExpired:
		return 3
	}
	return -1
}

func (s OrderStatus) Terminal() bool { return s.Rank() == 3 }

func (s OrderStatus) Valid() bool { return s.Rank() >= 0 }

type SubscribedMessage struct {
	Type    MessageType  `json:"type"`
	Channel Subscription `json:"channel"`
}

type OrderDetails struct {
	AmountIn       uint64  `json:"amount_in"`
	AmountOut      *uint64 `json:"amount_out,omitempty"`
	AssetInFaucet  string  `json:"asset_in_faucet"`
	AssetOutFaucet string  `json:"asset_out_faucet"`
	Reason         string  `json:"reason,omitempty"`
}

type OrderUpdate struct {
	Type      MessageType  `json:"type"`
	OrderID   string       `json:"order_id"`
	NoteID    string       `json:"note_id"`
	Status    OrderStatus  `json:"status"`
	Timestamp int64        `json:"timestamp"`
	Details   OrderDetails `json:"details"`
}

type PoolBalances struct {
	Reserve             decimal.Decimal `json:"reserve"`
	ReserveWithSlippage decimal.Decimal `json:"reserve_with_slippage"`
	TotalLiabilities    decimal.Decimal `json:"total_liabilities"`
}

type PoolStateUpdate struct {
	Type      MessageType  `json:"type"`
	FaucetID  string       `json:"faucet_id"`
	Balances  PoolBalances `json:"balances"`
	Timestamp int64        `json:"timestamp"`
}

type OraclePriceUpdate struct {
	Type      MessageType     `json:"type"`
	OracleID  string          `json:"oracle_id"`
	FaucetID  string          `json:"faucet_id"`
	Price     decimal.Decimal `json:"price"`
	Timestamp int64           `json:"timestamp"`
}

type StatsUpdate struct {
	Type         MessageType `json:"type"`
	OpenOrders   uint64      `json:"open_orders"`
	ClosedOrders uint64      `json:"closed_orders"`
	Timestamp    int64       `json:"timestamp"`
}

type PongMessage struct {
	Type MessageType `json:"type"`
}

type ErrorMessage struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}

func (m *SubscribedMessage) MessageType() MessageType { return m.Type }
func (m *OrderUpdate) MessageType() MessageType       { return TypeOrderUpdate }
func (m *PoolStateUpdate) MessageType() MessageType   { return TypePoolStateUpdate }
func (m *OraclePriceUpdate) MessageType() MessageType { return TypeOraclePriceUpdate }
func (m *StatsUpdate) MessageType() MessageType       { return TypeStatsUpdate }
func (m *PongMessage) MessageType() MessageType       { return TypePong }
func (m *ErrorMessage) MessageType() MessageType      { return TypeError }

// Decode parses one server frame. Unknown types and malformed payloads are errors.
func Decode(data []byte) (Message, error) {
	var envelope struct {
		Type MessageType `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	var msg Message
	switch envelope.Type {
	case TypeSubscribed, TypeUnsubscribed:
		msg = &SubscribedMessage{}
	case TypeOrderUpdate:
		msg = &OrderUpdate{}
	case TypePoolStateUpdate:
		msg = &PoolStateUpdate{}
	case TypeOraclePriceUpdate:
		msg = &OraclePriceUpdate{}
	case TypeStatsUpdate:
		msg = &StatsUpdate{}
	case TypePong:
		return &PongMessage{Type: TypePong}, nil
	case TypeError:
		msg = &ErrorMessage{}
	default:
		return nil, fmt.Errorf("unknown message type %q", envelope.Type)
	}

	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", envelope.Type, err)
	}
	if u, ok := msg.(*OrderUpdate); ok {
		if u.NoteID == "" || !u.Status.Valid() {
			return nil, fmt.Errorf("decode %s: missing note id or invalid status %q", envelope.Type, u.Status)
		}
	}
	return msg, nil
}
