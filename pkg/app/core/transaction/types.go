package transaction

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	ethCrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/uhyunpark/tpsl/pkg/crypto"
	"github.com/uhyunpark/tpsl/pkg/oracle"
)

// TxType represents the type of transaction
type TxType string

const (
	TxTypeOpen        TxType = "open"         // Open escrow (signed by owner)
	TxTypeSettle      TxType = "settle"       // Settle escrow (signed by any caller)
	TxTypePriceUpdate TxType = "price_update" // Oracle update (guardian signatures)
)

// SignedTransaction is the wire format accepted by the node
type SignedTransaction struct {
	Type        TxType              `json:"type"`
	Open        *OpenPayload        `json:"open,omitempty"`
	Settle      *SettlePayload      `json:"settle,omitempty"`
	PriceUpdate *PriceUpdatePayload `json:"price_update,omitempty"`
	Signature   string              `json:"signature,omitempty"` // Hex-encoded EIP-712 signature (0x...)
}

// OpenPayload contains escrow opening data for EIP-712 signing.
// 64-bit integers travel as decimal strings.
type OpenPayload struct {
	Owner        string `json:"owner"`         // Ethereum address (0x...)
	OrderID      string `json:"order_id"`      // uint64
	InputMint    string `json:"input_mint"`    // Mint address
	OutputMint   string `json:"output_mint"`   // Mint address
	Amount       string `json:"amount"`        // uint64, input mint base units
	TriggerPrice string `json:"trigger_price"` // int64, fixed-point
	OrderType    uint8  `json:"order_type"`    // 0=TakeProfit, 1=StopLoss
}

// SettlePayload identifies the escrow to settle.
type SettlePayload struct {
	Caller  string `json:"caller"`
	Owner   string `json:"owner"`
	OrderID string `json:"order_id"`
	MinOut  string `json:"min_out,omitempty"` // uint64, defaults to 0
}

// PriceUpdatePayload carries an attested price. It needs no account signature.
type PriceUpdatePayload struct {
	Update     oracle.PriceUpdate         `json:"update"`
	Signatures []oracle.GuardianSignature `json:"signatures"`
}

// ToEIP712 converts OpenPayload to crypto.OpenOrderEIP712 for signing/verification
func (o *OpenPayload) ToEIP712() (*crypto.OpenOrderEIP712, error) {
	for name, addr := range map[string]string{"owner": o.Owner, "input_mint": o.InputMint, "output_mint": o.OutputMint} {
		if !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("invalid %s: %q", name, addr)
		}
	}
	orderID, err := strconv.ParseUint(o.OrderID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid order_id: %s", o.OrderID)
	}
	amount, err := strconv.ParseUint(o.Amount, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid amount: %s", o.Amount)
	}
	trigger, err := strconv.ParseInt(o.TriggerPrice, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid trigger_price: %s", o.TriggerPrice)
	}
	return &crypto.OpenOrderEIP712{
		Owner:        common.HexToAddress(o.Owner),
		OrderID:      orderID,
		InputMint:    common.HexToAddress(o.InputMint),
		OutputMint:   common.HexToAddress(o.OutputMint),
		Amount:       amount,
		TriggerPrice: trigger,
		OrderType:    o.OrderType,
	}, nil
}

// FromEIP712Open converts crypto.OpenOrderEIP712 to OpenPayload
func FromEIP712Open(o *crypto.OpenOrderEIP712) *OpenPayload {
	return &OpenPayload{
		Owner:        o.Owner.Hex(),
		OrderID:      strconv.FormatUint(o.OrderID, 10),
		InputMint:    o.InputMint.Hex(),
		OutputMint:   o.OutputMint.Hex(),
		Amount:       strconv.FormatUint(o.Amount, 10),
		TriggerPrice: strconv.FormatInt(o.TriggerPrice, 10),
		OrderType:    o.OrderType,
	}
}

func (s *SettlePayload) ToEIP712() (*crypto.SettleOrderEIP712, error) {
	for name, addr := range map[string]string{"caller": s.Caller, "owner": s.Owner} {
		if !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("invalid %s: %q", name, addr)
		}
	}
	orderID, err := strconv.ParseUint(s.OrderID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid order_id: %s", s.OrderID)
	}
	var minOut uint64
	if s.MinOut != "" {
		if minOut, err = strconv.ParseUint(s.MinOut, 10, 64); err != nil {
			return nil, fmt.Errorf("invalid min_out: %s", s.MinOut)
		}
	}
	return &crypto.SettleOrderEIP712{
		Caller:  common.HexToAddress(s.Caller),
		Owner:   common.HexToAddress(s.Owner),
		OrderID: orderID,
		MinOut:  minOut,
	}, nil
}

func FromEIP712Settle(s *crypto.SettleOrderEIP712) *SettlePayload {
	return &SettlePayload{
		Caller:  s.Caller.Hex(),
		Owner:   s.Owner.Hex(),
		OrderID: strconv.FormatUint(s.OrderID, 10),
		MinOut:  strconv.FormatUint(s.MinOut, 10),
	}
}

// Serialize converts SignedTransaction to JSON bytes
func (tx *SignedTransaction) Serialize() ([]byte, error) {
	return json.Marshal(tx)
}

// Deserialize parses JSON bytes into SignedTransaction
func Deserialize(data []byte) (*SignedTransaction, error) {
	var tx SignedTransaction
	if err := json.Unmarshal(data, &tx); err != nil {
		return nil, fmt.Errorf("failed to unmarshal transaction: %w", err)
	}
	return &tx, nil
}

// Validate performs basic validation on transaction structure
func (tx *SignedTransaction) Validate() error {
	switch tx.Type {
	case TxTypeOpen:
		if tx.Open == nil {
			return fmt.Errorf("open type requires open payload")
		}
		if tx.Signature == "" {
			return fmt.Errorf("missing signature")
		}
	case TxTypeSettle:
		if tx.Settle == nil {
			return fmt.Errorf("settle type requires settle payload")
		}
		if tx.Signature == "" {
			return fmt.Errorf("missing signature")
		}
	case TxTypePriceUpdate:
		if tx.PriceUpdate == nil {
			return fmt.Errorf("price_update type requires price_update payload")
		}
		if len(tx.PriceUpdate.Signatures) == 0 {
			return fmt.Errorf("missing guardian signatures")
		}
	case "":
		return fmt.Errorf("missing transaction type")
	default:
		return fmt.Errorf("unknown transaction type: %s", tx.Type)
	}
	return nil
}

// ParseTransaction decodes and structurally validates raw transaction bytes
func ParseTransaction(data []byte) (*SignedTransaction, error) {
	tx, err := Deserialize(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse transaction: %w", err)
	}
	if err := tx.Validate(); err != nil {
		return nil, fmt.Errorf("invalid transaction: %w", err)
	}
	return tx, nil
}

// Hash identifies raw transaction bytes in receipts and logs
func Hash(raw []byte) common.Hash {
	return ethCrypto.Keccak256Hash(raw)
}

// Example:
//   {
//     "type": "open",
//     "open": {
//       "owner": "0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb0",
//       "order_id": "1",
//       "input_mint": "0x...",
//       "output_mint": "0x...",
//       "amount": "1000",
//       "trigger_price": "15000",
//       "order_type": 0
//     },
//     "signature": "0x1234567890abcdef..."
//   }
