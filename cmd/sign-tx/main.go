package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/tpsl/pkg/app/core/escrow"
	"github.com/uhyunpark/tpsl/pkg/app/core/transaction"
	"github.com/uhyunpark/tpsl/pkg/crypto"
	"github.com/uhyunpark/tpsl/pkg/ledger"
)

func main() {
	kind := flag.String("kind", "open", "transaction kind: open or settle")
	keyHex := flag.String("key", "", "signer private key (hex); empty generates one")
	owner := flag.String("owner", "", "escrow owner for settle (defaults to signer)")
	orderID := flag.Uint64("id", 1, "order id")
	input := flag.String("input", "SOL", "input mint symbol or address")
	output := flag.String("output", "USDC", "output mint symbol or address")
	amount := flag.Uint64("amount", 0, "input amount in base units")
	trigger := flag.Int64("trigger", 0, "trigger price in feed fixed point")
	orderType := flag.String("type", "take_profit", "take_profit or stop_loss")
	minOut := flag.Uint64("min-out", 0, "minimum output accepted at settlement")
	flag.Parse()

	signer, err := loadSigner(*keyHex)
	if err != nil {
		fail("key: %v", err)
	}
	fmt.Fprintf(os.Stderr, "Signer: %s\n", signer.Address().Hex())

	eip712Signer := crypto.NewEIP712Signer(crypto.DefaultDomain())
	verifier := transaction.NewVerifier(crypto.DefaultDomain())

	var signedTx *transaction.SignedTransaction
	switch *kind {
	case "open":
		typ, err := escrow.ParseOrderType(*orderType)
		if err != nil {
			fail("%v", err)
		}
		order := &crypto.OpenOrderEIP712{
			Owner:        signer.Address(),
			OrderID:      *orderID,
			InputMint:    mintAddress(*input),
			OutputMint:   mintAddress(*output),
			Amount:       *amount,
			TriggerPrice: *trigger,
			OrderType:    uint8(typ),
		}
		sig, err := eip712Signer.SignOpenOrder(signer, order)
		if err != nil {
			fail("sign: %v", err)
		}
		signedTx = &transaction.SignedTransaction{
			Type:      transaction.TxTypeOpen,
			Open:      transaction.FromEIP712Open(order),
			Signature: fmt.Sprintf("0x%x", sig),
		}
		if _, _, err := verifier.VerifyOpenTransaction(signedTx); err != nil {
			fail("verify: %v", err)
		}

	case "settle":
		escrowOwner := signer.Address()
		if *owner != "" {
			if !common.IsHexAddress(*owner) {
				fail("invalid owner %q", *owner)
			}
			escrowOwner = common.HexToAddress(*owner)
		}
		req := &crypto.SettleOrderEIP712{
			Caller:  signer.Address(),
			Owner:   escrowOwner,
			OrderID: *orderID,
			MinOut:  *minOut,
		}
		sig, err := eip712Signer.SignSettleOrder(signer, req)
		if err != nil {
			fail("sign: %v", err)
		}
		signedTx = &transaction.SignedTransaction{
			Type:      transaction.TxTypeSettle,
			Settle:    transaction.FromEIP712Settle(req),
			Signature: fmt.Sprintf("0x%x", sig),
		}
		if _, _, err := verifier.VerifySettleTransaction(signedTx); err != nil {
			fail("verify: %v", err)
		}

	default:
		fail("unknown kind %q", *kind)
	}

	txJSON, err := json.MarshalIndent(signedTx, "", "  ")
	if err != nil {
		fail("marshal: %v", err)
	}
	fmt.Fprintln(os.Stderr, "Submit with: POST http://localhost:8080/api/v1/tx")
	fmt.Println(string(txJSON))
}

func loadSigner(keyHex string) (*crypto.Signer, error) {
	if keyHex == "" {
		s, err := crypto.GenerateKey()
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(os.Stderr, "Private Key: %s (KEEP SECRET!)\n", s.PrivateKeyHex())
		return s, nil
	}
	return crypto.FromPrivateKeyHex(keyHex)
}

// mintAddress accepts a hex address or a genesis mint symbol.
func mintAddress(s string) common.Address {
	if common.IsHexAddress(s) {
		return common.HexToAddress(s)
	}
	return ledger.MintAddress(s)
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
