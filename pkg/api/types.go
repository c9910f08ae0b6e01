package api

import (
	"github.com/uhyunpark/noteswap/pkg/ledger"
)

// API types for the local REST endpoints and the WebSocket relay.

// ==============================
// REST Types
// ==============================

// SubmitResponse is returned by swap, deposit and withdraw.
type SubmitResponse struct {
	TxID   string        `json:"tx_id"`
	NoteID ledger.NoteID `json:"note_id"`
	// RelayError is set when the transaction landed but the private note could not be handed over.
	RelayError string `json:"relay_error,omitempty"`
}

type MintRequest struct {
	Token string `json:"token"` // symbol or faucet id
}

// ErrorResponse represents an API error
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// ==============================
// WebSocket Types
// ==============================

// WSSubscribeRequest is a client request to (un)subscribe from hub channels.
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // e.g. "orders", "prices:eth", "pool:0x..."
}

// WSEvent wraps every frame pushed to local clients.
type WSEvent struct {
	Channel string `json:"channel"`
	Type    string `json:"type"`
	Data    any    `json:"data"`
}

// Hub channel names.
const (
	ChannelOrders  = "orders"  // every tracked order change
	ChannelSession = "session" // waiting-for-notes flips
	ChannelStats   = "stats"
)

func OrderChannel(noteID string) string   { return "orders:" + noteID }
func PriceChannel(oracleID string) string { return "prices:" + oracleID }
func PoolChannel(faucetID string) string  { return "pool:" + faucetID }
