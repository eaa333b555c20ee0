package api

import (
	"github.com/uhyunpark/tpsl/pkg/app/core/escrow"
	"github.com/uhyunpark/tpsl/pkg/app/tpsl"
)

// API response types for REST endpoints and WebSocket messages

// ==============================
// REST Response Types
// ==============================

// EscrowsResponse lists open escrows
type EscrowsResponse struct {
	Escrows []escrow.Escrow `json:"escrows"`
}

// BalancesResponse lists an owner's token accounts
type BalancesResponse struct {
	Address  string         `json:"address"`
	Balances []tpsl.Balance `json:"balances"`
}

// PriceInfo is the latest stored oracle update for a feed
type PriceInfo struct {
	FeedID      string `json:"feedId"`
	Price       int64  `json:"price"`
	Conf        uint64 `json:"conf"`
	Expo        int32  `json:"expo"`
	PublishTime int64  `json:"publishTime"`
	Age         int64  `json:"age"`   // seconds, against the last block time
	Stale       bool   `json:"stale"` // older than the escrow program accepts
}

// ChainStatus represents the last finalized block
type ChainStatus struct {
	Height      int64  `json:"height"`
	Time        int64  `json:"time"` // block time, unix seconds
	AppHash     string `json:"appHash"`
	MempoolSize int    `json:"mempoolSize"` // Pending transactions
	FeedID      string `json:"feedId"`
	MaxPriceAge uint64 `json:"maxPriceAge"`
	WSClients   int    `json:"wsClients"`
}

// SubmitTxResponse is the response from transaction submission
type SubmitTxResponse struct {
	Status string `json:"status"` // "accepted"
	TxHash string `json:"txHash"`
}

// ErrorResponse is returned for all errors
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSMessage carries one ledger event to subscribers of Channel
type WSMessage struct {
	Channel string            `json:"channel"` // "escrows", "escrows:0x...", "prices"
	Type    string            `json:"type"`    // "escrow_opened", "escrow_settled", "price_updated"
	Height  int64             `json:"height"`
	TxHash  string            `json:"txHash"`
	Data    map[string]string `json:"data"`
}

// WSSubscribeRequest is sent by client to subscribe to channels
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // e.g., ["escrows", "escrows:0x...", "prices"]
}
