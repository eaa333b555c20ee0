package crypto

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// EIP712Domain represents the domain separator for EIP-712 typed data
// This prevents replay attacks across different chains/contracts
type EIP712Domain struct {
	Name              string         // Protocol name (e.g., "TPSL")
	Version           string         // Protocol version (e.g., "1")
	ChainID           *big.Int       // Chain ID (1337 for local)
	VerifyingContract common.Address // Escrow program ID
}

// OpenOrderEIP712 is the typed request a user signs to open an escrow.
type OpenOrderEIP712 struct {
	Owner        common.Address
	OrderID      uint64
	InputMint    common.Address
	OutputMint   common.Address
	Amount       uint64
	TriggerPrice int64 // fixed-point, same exponent as the feed
	OrderType    uint8 // 0 = TakeProfit, 1 = StopLoss
}

// SettleOrderEIP712 is the typed request a caller signs to settle an escrow.
// Caller is anyone; Owner and OrderID identify the escrow.
type SettleOrderEIP712 struct {
	Caller  common.Address
	Owner   common.Address
	OrderID uint64
	MinOut  uint64 // lower bound on swap output
}

// EIP712Signer handles EIP-712 typed data signing for escrow requests
type EIP712Signer struct {
	domain EIP712Domain
}

// NewEIP712Signer creates a new EIP-712 signer with given domain
func NewEIP712Signer(domain EIP712Domain) *EIP712Signer {
	return &EIP712Signer{domain: domain}
}

// DefaultDomain returns the default EIP-712 domain for TPSL
func DefaultDomain() EIP712Domain {
	return EIP712Domain{
		Name:              "TPSL",
		Version:           "1",
		ChainID:           big.NewInt(1337), // Local dev chain
		VerifyingContract: common.Address{},
	}
}

var domainType = []apitypes.Type{
	{Name: "name", Type: "string"},
	{Name: "version", Type: "string"},
	{Name: "chainId", Type: "uint256"},
	{Name: "verifyingContract", Type: "address"},
}

var openOrderType = []apitypes.Type{
	{Name: "owner", Type: "address"},
	{Name: "orderId", Type: "uint64"},
	{Name: "inputMint", Type: "address"},
	{Name: "outputMint", Type: "address"},
	{Name: "amount", Type: "uint64"},
	{Name: "triggerPrice", Type: "int64"},
	{Name: "orderType", Type: "uint8"},
}

var settleOrderType = []apitypes.Type{
	{Name: "caller", Type: "address"},
	{Name: "owner", Type: "address"},
	{Name: "orderId", Type: "uint64"},
	{Name: "minOut", Type: "uint64"},
}

func openOrderMessage(o *OpenOrderEIP712) apitypes.TypedDataMessage {
	return apitypes.TypedDataMessage{
		"owner":        o.Owner.Hex(),
		"orderId":      new(big.Int).SetUint64(o.OrderID),
		"inputMint":    o.InputMint.Hex(),
		"outputMint":   o.OutputMint.Hex(),
		"amount":       new(big.Int).SetUint64(o.Amount),
		"triggerPrice": big.NewInt(o.TriggerPrice),
		"orderType":    fmt.Sprintf("%d", o.OrderType),
	}
}

func settleOrderMessage(s *SettleOrderEIP712) apitypes.TypedDataMessage {
	return apitypes.TypedDataMessage{
		"caller":  s.Caller.Hex(),
		"owner":   s.Owner.Hex(),
		"orderId": new(big.Int).SetUint64(s.OrderID),
		"minOut":  new(big.Int).SetUint64(s.MinOut),
	}
}

func (e *EIP712Signer) typedData(primary string, fields []apitypes.Type, msg apitypes.TypedDataMessage) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": domainType,
			primary:        fields,
		},
		PrimaryType: primary,
		Domain: apitypes.TypedDataDomain{
			Name:              e.domain.Name,
			Version:           e.domain.Version,
			ChainId:           (*math.HexOrDecimal256)(e.domain.ChainID),
			VerifyingContract: e.domain.VerifyingContract.Hex(),
		},
		Message: msg,
	}
}

func (e *EIP712Signer) hash(typedData apitypes.TypedData) ([]byte, error) {
	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}

	typedDataHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash message: %w", err)
	}

	// Final digest: keccak256("\x19\x01" || domainSeparator || typedDataHash)
	rawData := []byte(fmt.Sprintf("\x19\x01%s%s", string(domainSeparator), string(typedDataHash)))
	return crypto.Keccak256Hash(rawData).Bytes(), nil
}

// HashOpenOrder returns the digest a user signs to open an escrow.
func (e *EIP712Signer) HashOpenOrder(o *OpenOrderEIP712) ([]byte, error) {
	return e.hash(e.typedData("OpenOrder", openOrderType, openOrderMessage(o)))
}

// HashSettleOrder returns the digest a caller signs to settle an escrow.
func (e *EIP712Signer) HashSettleOrder(s *SettleOrderEIP712) ([]byte, error) {
	return e.hash(e.typedData("SettleOrder", settleOrderType, settleOrderMessage(s)))
}

func (e *EIP712Signer) SignOpenOrder(signer *Signer, o *OpenOrderEIP712) ([]byte, error) {
	hash, err := e.HashOpenOrder(o)
	if err != nil {
		return nil, fmt.Errorf("failed to hash open order: %w", err)
	}
	return signer.Sign(hash)
}

func (e *EIP712Signer) SignSettleOrder(signer *Signer, s *SettleOrderEIP712) ([]byte, error) {
	hash, err := e.HashSettleOrder(s)
	if err != nil {
		return nil, fmt.Errorf("failed to hash settle order: %w", err)
	}
	return signer.Sign(hash)
}

// VerifyOpenOrder reports whether signature was produced by o.Owner.
func (e *EIP712Signer) VerifyOpenOrder(o *OpenOrderEIP712, signature []byte) (bool, error) {
	hash, err := e.HashOpenOrder(o)
	if err != nil {
		return false, fmt.Errorf("failed to hash open order: %w", err)
	}
	recovered, err := RecoverAddress(hash, signature)
	if err != nil {
		return false, fmt.Errorf("failed to recover address: %w", err)
	}
	return recovered == o.Owner, nil
}

// VerifySettleOrder reports whether signature was produced by s.Caller.
func (e *EIP712Signer) VerifySettleOrder(s *SettleOrderEIP712, signature []byte) (bool, error) {
	hash, err := e.HashSettleOrder(s)
	if err != nil {
		return false, fmt.Errorf("failed to hash settle order: %w", err)
	}
	recovered, err := RecoverAddress(hash, signature)
	if err != nil {
		return false, fmt.Errorf("failed to recover address: %w", err)
	}
	return recovered == s.Caller, nil
}

// OpenOrderToJSON renders the typed data in the eth_signTypedData_v4 format
// wallets expect.
func (e *EIP712Signer) OpenOrderToJSON(o *OpenOrderEIP712) (string, error) {
	typedData := map[string]interface{}{
		"types": map[string]interface{}{
			"EIP712Domain": domainType,
			"OpenOrder":    openOrderType,
		},
		"primaryType": "OpenOrder",
		"domain": map[string]interface{}{
			"name":              e.domain.Name,
			"version":           e.domain.Version,
			"chainId":           e.domain.ChainID.String(),
			"verifyingContract": e.domain.VerifyingContract.Hex(),
		},
		"message": map[string]interface{}{
			"owner":        o.Owner.Hex(),
			"orderId":      fmt.Sprintf("%d", o.OrderID),
			"inputMint":    o.InputMint.Hex(),
			"outputMint":   o.OutputMint.Hex(),
			"amount":       fmt.Sprintf("%d", o.Amount),
			"triggerPrice": fmt.Sprintf("%d", o.TriggerPrice),
			"orderType":    o.OrderType,
		},
	}

	jsonBytes, err := json.MarshalIndent(typedData, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return string(jsonBytes), nil
}
